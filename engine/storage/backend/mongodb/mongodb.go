// Package storagemongodb implements the storage engine on a mongodb collection
package storagemongodb

import (
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/xiaonanln/otworld/engine/gwioutil"
	"github.com/xiaonanln/otworld/engine/gwlog"
	"github.com/xiaonanln/otworld/engine/storage/types"
	"gopkg.in/mgo.v2"
	"gopkg.in/mgo.v2/bson"
)

const (
	_DEFAULT_DB_NAME = "otworld"
	_VAL_KEY         = "_"
)

type mongoEngine struct {
	s *mgo.Session
	c *mgo.Collection
}

// OpenMongoDB opens mongodb as storage engine
func OpenMongoDB(url string, dbname string, collectionName string) (storagetypes.Engine, error) {
	gwlog.Debugf("Connecting MongoDB ...")
	session, err := mgo.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "mongodb dial failed")
	}

	session.SetMode(mgo.Monotonic, true)
	if dbname == "" {
		// if db is not specified, use default
		dbname = _DEFAULT_DB_NAME
	}
	return &mongoEngine{
		s: session,
		c: session.DB(dbname).C(collectionName),
	}, nil
}

func (e *mongoEngine) Ping() error {
	return errors.Wrap(e.s.Ping(), "mongodb ping failed")
}

func (e *mongoEngine) Put(key string, val string) error {
	_, err := e.c.UpsertId(key, bson.M{
		_VAL_KEY: val,
	})
	return err
}

func (e *mongoEngine) Get(key string) (val string, err error) {
	var doc map[string]string
	err = e.c.FindId(key).One(&doc)
	if err != nil {
		if err == mgo.ErrNotFound {
			err = nil
		}
		return
	}
	val = doc[_VAL_KEY]
	return
}

type mongoIterator struct {
	it *mgo.Iter
}

func (it *mongoIterator) Next() (storagetypes.Item, error) {
	var doc map[string]string
	if it.it.Next(&doc) {
		return storagetypes.Item{
			Key: doc["_id"],
			Val: doc[_VAL_KEY],
		}, nil
	}

	if err := it.it.Close(); err != nil {
		return storagetypes.Item{}, err
	}
	return storagetypes.Item{}, io.EOF
}

func (it *mongoIterator) Close() {
	it.it.Close()
}

func (e *mongoEngine) Find(beginKey string, endKey string) (storagetypes.Iterator, error) {
	q := e.c.Find(bson.M{"_id": bson.M{"$gte": beginKey, "$lt": endKey}}).Sort("_id")
	return &mongoIterator{
		it: q.Iter(),
	}, nil
}

func (e *mongoEngine) Close() {
	e.s.Close()
}

func (e *mongoEngine) IsConnectionError(err error) bool {
	if gwioutil.IsConnectionError(err) {
		e.s.Refresh() // reconnect on next operation
		return true
	}
	return err != nil && strings.Contains(err.Error(), "no reachable servers")
}
