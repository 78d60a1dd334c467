// Package storagerediscluster implements the storage engine on a redis cluster
package storagerediscluster

import (
	"time"

	"github.com/chasex/redis-go-cluster"
	"github.com/pkg/errors"
	"github.com/xiaonanln/otworld/engine/gwioutil"
	"github.com/xiaonanln/otworld/engine/storage/types"
)

const (
	keyPrefix = "_KV_"
)

type redisClusterEngine struct {
	c redis.Cluster
}

// OpenRedisCluster opens redis cluster as storage engine
func OpenRedisCluster(startNodes []string) (storagetypes.Engine, error) {
	c, err := redis.NewCluster(&redis.Options{
		StartNodes:   startNodes,
		ConnTimeout:  10 * time.Second, // Connection timeout
		ReadTimeout:  60 * time.Second, // Read timeout
		WriteTimeout: 60 * time.Second, // Write timeout
		KeepAlive:    16,               // Maximum keep alive connecion in each node
		AliveTime:    10 * time.Minute, // Keep alive timeout
	})
	if err != nil {
		return nil, errors.Wrap(err, "redis cluster dail failed")
	}

	e := &redisClusterEngine{
		c: c,
	}
	if err := e.Ping(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *redisClusterEngine) Ping() error {
	// PING has no key to route, so GET a key which is never written
	_, err := e.c.Do("EXISTS", keyPrefix+"__ping__")
	return errors.Wrap(err, "redis cluster ping failed")
}

func (e *redisClusterEngine) Get(key string) (val string, err error) {
	r, err := e.c.Do("GET", keyPrefix+key)
	if err != nil {
		return "", err
	}
	if r == nil {
		return "", nil
	}
	return redis.String(r, nil)
}

func (e *redisClusterEngine) Put(key string, val string) error {
	_, err := e.c.Do("SET", keyPrefix+key, val)
	return err
}

func (e *redisClusterEngine) Find(beginKey string, endKey string) (storagetypes.Iterator, error) {
	return nil, errors.Errorf("operation not supported on redis cluster")
}

// Close does nothing, the cluster client has no way to release its connections
func (e *redisClusterEngine) Close() {
}

func (e *redisClusterEngine) IsConnectionError(err error) bool {
	return gwioutil.IsConnectionError(err)
}
