// Package storage opens the configured key-value storage engine.
//
// Engines are blocking and are only used by database jobs running on dbtasks workers.
package storage

import (
	"io"
	"strconv"

	"github.com/pkg/errors"
	"github.com/xiaonanln/otworld/engine/config"
	"github.com/xiaonanln/otworld/engine/gwlog"
	"github.com/xiaonanln/otworld/engine/gwutils"
	"github.com/xiaonanln/otworld/engine/storage/backend/mongodb"
	"github.com/xiaonanln/otworld/engine/storage/backend/redis"
	"github.com/xiaonanln/otworld/engine/storage/backend/rediscluster"
	"github.com/xiaonanln/otworld/engine/storage/backend/sqlite"
	"github.com/xiaonanln/otworld/engine/storage/types"
)

// Engine is the storage engine interface
type Engine = storagetypes.Engine

// Iterator iterates over the result of Engine.Find
type Iterator = storagetypes.Iterator

// Item is a key-value pair returned by Find
type Item = storagetypes.Item

// Open opens the storage engine of config, sqlite paths are resolved against baseDir
func Open(cfg *config.StorageConfig, baseDir func(string) string) (Engine, error) {
	gwlog.Infof("Storage opening, config:\n%s", config.DumpPretty(cfg))
	var e Engine
	var err error
	switch cfg.Type {
	case "sqlite":
		path := cfg.Url
		if baseDir != nil {
			path = baseDir(path)
		}
		e, err = storagesqlite.OpenSQLite(path)
	case "redis":
		var dbindex int
		dbindex, err = strconv.Atoi(cfg.DB)
		if err == nil {
			e, err = storageredis.OpenRedis(cfg.Url, dbindex)
		}
	case "redis_cluster":
		e, err = storagerediscluster.OpenRedisCluster(cfg.StartNodes)
	case "mongodb":
		e, err = storagemongodb.OpenMongoDB(cfg.Url, cfg.DB, cfg.Collection)
	default:
		err = errors.Errorf("storage type %s is not implemented", cfg.Type)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "open %s storage", cfg.Type)
	}
	return e, nil
}

// GetRange reads all items in [beginKey, endKey)
func GetRange(e Engine, beginKey string, endKey string) ([]Item, error) {
	it, err := e.Find(beginKey, endKey)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var items []Item
	for {
		item, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return items, err
		}
		items = append(items, item)
	}
	return items, nil
}

// GetPrefix reads all items whose keys start with prefix
func GetPrefix(e Engine, prefix string) ([]Item, error) {
	return GetRange(e, prefix, prefixEnd(prefix))
}

// prefixEnd returns the smallest key larger than all keys starting with prefix
func prefixEnd(prefix string) string {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1])
		}
	}
	// prefix is all 0xff, continue after the largest such key
	return gwutils.NextLargerKey(prefix + "\xff\xff\xff\xff")
}
