// Package storagesqlite implements the storage engine on an embedded sqlite database
package storagesqlite

import (
	"database/sql"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/xiaonanln/otworld/engine/gwioutil"
	"github.com/xiaonanln/otworld/engine/gwlog"
	"github.com/xiaonanln/otworld/engine/storage/types"
	_ "modernc.org/sqlite"
)

type sqliteEngine struct {
	path string
	db   *sql.DB
}

// OpenSQLite opens the sqlite database file as storage engine
func OpenSQLite(path string) (storagetypes.Engine, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite open failed")
	}
	// sqlite allows one writer, more connections only wait for the lock
	db.SetMaxOpenConns(1)

	e := &sqliteEngine{
		path: path,
		db:   db,
	}
	if err := e.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return e, nil
}

func (e *sqliteEngine) String() string {
	return fmt.Sprintf("sqlite<%s>", e.path)
}

func (e *sqliteEngine) Ping() error {
	if err := e.db.Ping(); err != nil {
		return errors.Wrap(err, "sqlite ping failed")
	}
	// try to create the __kv__ table if not exists
	_, err := e.db.Exec("CREATE TABLE IF NOT EXISTS `__kv__`(`key` VARCHAR(128) NOT NULL PRIMARY KEY, `val` BLOB NOT NULL)")
	return errors.Wrap(err, "sqlite create table failed")
}

func (e *sqliteEngine) Get(key string) (val string, err error) {
	row := e.db.QueryRow("SELECT `val` FROM `__kv__` WHERE `key` = ?", key)
	err = row.Scan(&val)
	if err == sql.ErrNoRows {
		err = nil // not found, use default val ""
	}
	return
}

func (e *sqliteEngine) Put(key string, val string) (err error) {
	_, err = e.db.Exec("INSERT INTO `__kv__`(`key`, `val`) VALUES(?, ?) ON CONFLICT(`key`) DO UPDATE SET `val`=excluded.`val`", key, val)
	return
}

type sqliteIterator struct {
	rows *sql.Rows
}

func (it *sqliteIterator) Next() (storagetypes.Item, error) {
	if it.rows.Next() {
		var item storagetypes.Item
		err := it.rows.Scan(&item.Key, &item.Val)
		return item, err
	}

	err := it.rows.Err()
	it.rows.Close()
	if err != nil {
		return storagetypes.Item{}, err
	}
	return storagetypes.Item{}, io.EOF
}

func (it *sqliteIterator) Close() {
	it.rows.Close()
}

func (e *sqliteEngine) Find(beginKey string, endKey string) (storagetypes.Iterator, error) {
	rows, err := e.db.Query("SELECT `key`, `val` FROM `__kv__` WHERE `key` >= ? AND `key` < ? ORDER BY `key`", beginKey, endKey)
	if err != nil {
		return nil, err
	}

	return &sqliteIterator{
		rows: rows,
	}, nil
}

func (e *sqliteEngine) Close() {
	if err := e.db.Close(); err != nil {
		gwlog.Errorf("%s: close error: %s", e.String(), err)
	}
}

func (e *sqliteEngine) IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Cause(err) == sql.ErrConnDone || gwioutil.IsConnectionError(err) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
