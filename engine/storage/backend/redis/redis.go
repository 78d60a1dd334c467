// Package storageredis implements the storage engine on a single redis server
package storageredis

import (
	"io"
	"sort"
	"time"

	"github.com/garyburd/redigo/redis"
	"github.com/pkg/errors"
	"github.com/xiaonanln/otworld/engine/gwioutil"
	"github.com/xiaonanln/otworld/engine/storage/types"
)

const (
	keyPrefix = "_KV_"
)

type redisEngine struct {
	pool *redis.Pool
}

// OpenRedis opens redis as storage engine
func OpenRedis(host string, dbindex int) (storagetypes.Engine, error) {
	pool := &redis.Pool{
		MaxIdle:     4,
		IdleTimeout: 5 * time.Minute,
		Dial: func() (redis.Conn, error) {
			c, err := redis.Dial("tcp", host, redis.DialDatabase(dbindex), redis.DialConnectTimeout(10*time.Second))
			if err != nil {
				return nil, errors.Wrap(err, "redis dail failed")
			}
			return c, nil
		},
	}

	e := &redisEngine{
		pool: pool,
	}
	if err := e.Ping(); err != nil {
		pool.Close()
		return nil, err
	}
	return e, nil
}

func (e *redisEngine) do(cmd string, args ...interface{}) (interface{}, error) {
	c := e.pool.Get()
	defer c.Close()
	return c.Do(cmd, args...)
}

func (e *redisEngine) Ping() error {
	_, err := e.do("PING")
	return errors.Wrap(err, "redis ping failed")
}

func (e *redisEngine) Get(key string) (val string, err error) {
	r, err := e.do("GET", keyPrefix+key)
	if err != nil {
		return "", err
	}
	if r == nil {
		return "", nil
	}
	return redis.String(r, nil)
}

func (e *redisEngine) Put(key string, val string) error {
	_, err := e.do("SET", keyPrefix+key, val)
	return err
}

type redisIterator struct {
	e        *redisEngine
	leftKeys []string
}

func (it *redisIterator) Next() (storagetypes.Item, error) {
	if len(it.leftKeys) == 0 {
		return storagetypes.Item{}, io.EOF
	}

	key := it.leftKeys[0]
	it.leftKeys = it.leftKeys[1:]
	val, err := it.e.Get(key)
	if err != nil {
		return storagetypes.Item{}, err
	}

	return storagetypes.Item{Key: key, Val: val}, nil
}

func (it *redisIterator) Close() {
	it.leftKeys = nil
}

// Find scans all storage keys, filters the range and sorts them
func (e *redisEngine) Find(beginKey string, endKey string) (storagetypes.Iterator, error) {
	c := e.pool.Get()
	defer c.Close()

	keyMatch := keyPrefix + "*"
	var keys []string
	cursor := interface{}("0")
	for {
		r, err := redis.Values(c.Do("SCAN", cursor, "MATCH", keyMatch, "COUNT", 10000))
		if err != nil {
			return nil, err
		}
		scanned, err := redis.Strings(r[1], nil)
		if err != nil {
			return nil, err
		}
		for _, key := range scanned {
			key = key[len(keyPrefix):]
			if key >= beginKey && key < endKey {
				keys = append(keys, key)
			}
		}

		cursor = r[0]
		if isZeroCursor(cursor) {
			break
		}
	}

	sort.Strings(keys)
	return &redisIterator{
		e:        e,
		leftKeys: keys,
	}, nil
}

func isZeroCursor(c interface{}) bool {
	return string(c.([]byte)) == "0"
}

func (e *redisEngine) Close() {
	e.pool.Close()
}

func (e *redisEngine) IsConnectionError(err error) bool {
	return gwioutil.IsConnectionError(err) || errors.Cause(err) == redis.ErrPoolExhausted
}
