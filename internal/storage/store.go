// Package storage provides the disk-backed persistence layer shared by the
// indexes: per-element JSON shards with a consolidated fallback, an LRU
// cache with eviction writeback, a batched asynchronous writer, and a
// memory-mapped fixed-stride vector region.
package storage

// Store is the generic persistence capability the indexes build on.
// Implementations must be safe for concurrent use.
type Store[T any] interface {
	// Get returns the value for id. The second result is false when the
	// id is not present.
	Get(id string) (T, bool, error)

	// Put stores the value for id, replacing any previous value.
	Put(id string, value T) error

	// Remove deletes the value for id. Removing an absent id is a no-op.
	Remove(id string) error

	// Keys returns all stored ids.
	Keys() ([]string, error)

	// Commit flushes pending state to disk.
	Commit() error

	// Close flushes and releases resources.
	Close() error
}
