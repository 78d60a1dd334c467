package storagetypes

// Engine defines the interface of a key-value storage backend
//
// Engines are shared by all database workers and must be goroutine-safe.
type Engine interface {
	// Get returns "" without error when key does not exist
	Get(key string) (val string, err error)
	Put(key string, val string) error
	// Find iterates over keys in [beginKey, endKey) in ascending order
	Find(beginKey string, endKey string) (Iterator, error)
	// Ping checks the connection and creates the schema if needed
	Ping() error
	Close()
	// IsConnectionError returns true if err is transient and the operation may be retried
	IsConnectionError(err error) bool
}

// Iterator is the interface for iterators of Engine.Find
//
// Next returns the next item with error=nil whenever has next item
// otherwise returns Item{}, io.EOF
// When failed, returns Item{}, error
// Close releases the iterator and may be called at any time, more than once
type Iterator interface {
	Next() (Item, error)
	Close()
}

// Item is the type of storage item
type Item struct {
	Key string
	Val string
}
