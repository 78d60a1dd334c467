package storage

import (
	"path/filepath"
	"strconv"
	"testing"

	"github.com/bmizerany/assert"
	"github.com/pkg/errors"
	"github.com/xiaonanln/otworld/engine/config"
)

func openTestSQLite(t *testing.T) Engine {
	cfg := &config.StorageConfig{
		Type: "sqlite",
		Url:  filepath.Join(t.TempDir(), "test.db"),
	}
	e, err := Open(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(e.Close)
	return e
}

func TestSQLiteGetPut(t *testing.T) {
	e := openTestSQLite(t)
	val, err := e.Get("__key_not_exists__")
	assert.Equal(t, nil, err)
	assert.Equal(t, "", val)

	for i := 0; i < 100; i++ {
		key := strconv.Itoa(i % 37)
		val := strconv.Itoa(i)
		if err := e.Put(key, val); err != nil {
			t.Fatal(err)
		}
		verifyVal, err := e.Get(key)
		if err != nil {
			t.Fatal(err)
		}
		assert.Equal(t, val, verifyVal)
	}
	assert.Equal(t, nil, e.Ping())
}

func TestSQLiteFind(t *testing.T) {
	e := openTestSQLite(t)
	for _, key := range []string{"account$bob", "account$alice", "account$carol", "player$alice", "acc"} {
		if err := e.Put(key, "v-"+key); err != nil {
			t.Fatal(err)
		}
	}

	items, err := GetRange(e, "account$b", "account$d")
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, []Item{{"account$bob", "v-account$bob"}, {"account$carol", "v-account$carol"}}, items)

	items, err = GetPrefix(e, "account$")
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, 3, len(items))
	assert.Equal(t, "account$alice", items[0].Key)
}

func TestPrefixEnd(t *testing.T) {
	assert.Equal(t, "account%", prefixEnd("account$"))
	assert.Equal(t, "b", prefixEnd("a\xff"))
	assert.T(t, prefixEnd("\xff") > "\xff\xff")
}

func TestOpenUnknownType(t *testing.T) {
	_, err := Open(&config.StorageConfig{Type: "cassandra"}, nil)
	assert.NotEqual(t, nil, err)
}

func TestOpenResolvesPath(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(&config.StorageConfig{Type: "sqlite", Url: "rel.db"}, func(p string) string {
		return filepath.Join(dir, p)
	})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()
	assert.Equal(t, nil, e.Put("k", "v"))
}

type failingIterator struct {
	items  []Item
	closed bool
}

func (it *failingIterator) Next() (Item, error) {
	if len(it.items) == 0 {
		return Item{}, errors.New("scan failed")
	}
	item := it.items[0]
	it.items = it.items[1:]
	return item, nil
}

func (it *failingIterator) Close() {
	it.closed = true
}

type failingFindEngine struct {
	Engine
	it *failingIterator
}

func (e failingFindEngine) Find(beginKey string, endKey string) (Iterator, error) {
	return e.it, nil
}

func TestGetRangeClosesIteratorOnError(t *testing.T) {
	it := &failingIterator{items: []Item{{Key: "a", Val: "1"}}}
	items, err := GetRange(failingFindEngine{it: it}, "a", "b")
	assert.NotEqual(t, nil, err)
	assert.Equal(t, 1, len(items))
	assert.T(t, it.closed)
}
