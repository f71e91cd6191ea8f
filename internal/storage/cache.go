package storage

import (
	"fmt"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// DefaultCacheCapacity bounds the number of in-memory entries.
	DefaultCacheCapacity = 1000

	// DefaultFlushThreshold is the dirty-entry count that triggers an
	// asynchronous flush to the backing store.
	DefaultFlushThreshold = 100

	// failureChannelCapacity bounds the observable failure channel. When
	// nobody is draining it, older failures are dropped (they remain in
	// the dirty set for retry).
	failureChannelCapacity = 64
)

// FlushFailure reports one element that failed to persist during an
// asynchronous flush. The element stays dirty and is retried on the next
// flush or Commit.
type FlushFailure struct {
	ID  string
	Err error
}

// CachedStore layers an LRU cache over a backing Store. Writes land in the
// cache and are marked dirty; eviction of a dirty entry writes it through
// to the backing store synchronously before the eviction completes.
// Accumulated dirty entries are flushed off the caller's thread once they
// reach the flush threshold, with failures observable via Failures.
type CachedStore[T any] struct {
	mu      sync.Mutex
	backing Store[T]
	cache   *lru.Cache[string, T]
	dirty   map[string]T
	deleted map[string]struct{}

	// gen counts writes and deletes per key. Flush snapshots carry the
	// generation they saw; a backing write is skipped when the key has
	// moved on, so overlapping flushes never clobber a newer value.
	gen map[string]uint64

	failures chan FlushFailure
	flushing sync.WaitGroup
	logger   *slog.Logger
	closed   bool

	capacity       int
	flushThreshold int
}

// CacheOptions configures a CachedStore.
type CacheOptions struct {
	Capacity       int
	FlushThreshold int
	Logger         *slog.Logger
}

// NewCachedStore wraps backing with an LRU cache.
func NewCachedStore[T any](backing Store[T], opts CacheOptions) (*CachedStore[T], error) {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCacheCapacity
	}
	if opts.FlushThreshold <= 0 {
		opts.FlushThreshold = DefaultFlushThreshold
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	c := &CachedStore[T]{
		backing:        backing,
		dirty:          make(map[string]T),
		deleted:        make(map[string]struct{}),
		gen:            make(map[string]uint64),
		failures:       make(chan FlushFailure, failureChannelCapacity),
		logger:         opts.Logger,
		capacity:       opts.Capacity,
		flushThreshold: opts.FlushThreshold,
	}

	cache, err := lru.NewWithEvict(opts.Capacity, c.onEvict)
	if err != nil {
		return nil, fmt.Errorf("create lru cache: %w", err)
	}
	c.cache = cache
	return c, nil
}

// onEvict runs synchronously on the thread that triggered the eviction.
// A dirty entry must reach disk before the eviction completes; a clean
// entry is simply dropped.
func (c *CachedStore[T]) onEvict(id string, value T) {
	if _, isDirty := c.dirty[id]; !isDirty {
		return
	}
	if err := c.backing.Put(id, value); err != nil {
		// Keep it dirty so Commit retries; the value itself survives in
		// the dirty map.
		c.logger.Error("eviction writeback failed",
			slog.String("id", id),
			slog.String("error", err.Error()))
		return
	}
	delete(c.dirty, id)
}

// Get returns the cached value, falling back to the backing store and
// promoting hits into the cache.
func (c *CachedStore[T]) Get(id string) (T, bool, error) {
	var zero T
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return zero, false, fmt.Errorf("cached store is closed")
	}
	if _, gone := c.deleted[id]; gone {
		return zero, false, nil
	}
	if value, ok := c.cache.Get(id); ok {
		return value, true, nil
	}
	if value, dirtyHit := c.dirty[id]; dirtyHit {
		return value, true, nil
	}

	value, ok, err := c.backing.Get(id)
	if err != nil || !ok {
		return zero, false, err
	}
	c.cache.Add(id, value)
	return value, true, nil
}

// Put stores the value in the cache and marks it dirty. Crossing the flush
// threshold schedules an asynchronous flush.
func (c *CachedStore[T]) Put(id string, value T) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("cached store is closed")
	}
	delete(c.deleted, id)
	c.gen[id]++
	c.dirty[id] = value
	c.cache.Add(id, value)

	if len(c.dirty) >= c.flushThreshold {
		c.flushAsyncLocked()
	}
	return nil
}

// Remove deletes the value from cache, dirty set, and backing store.
func (c *CachedStore[T]) Remove(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("cached store is closed")
	}
	c.gen[id]++
	delete(c.dirty, id)
	c.deleted[id] = struct{}{}
	c.cache.Remove(id)
	return c.backing.Remove(id)
}

// Keys returns the union of backing-store and dirty keys.
func (c *CachedStore[T]) Keys() ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("cached store is closed")
	}

	backingKeys, err := c.backing.Keys()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(backingKeys)+len(c.dirty))
	keys := make([]string, 0, len(backingKeys)+len(c.dirty))
	for _, id := range backingKeys {
		if _, gone := c.deleted[id]; gone {
			continue
		}
		seen[id] = struct{}{}
		keys = append(keys, id)
	}
	for id := range c.dirty {
		if _, dup := seen[id]; !dup {
			keys = append(keys, id)
		}
	}
	return keys, nil
}

// flushAsyncLocked snapshots the dirty set and persists it off the
// caller's thread. Each backing write happens under the store lock and
// only while the key's generation still matches the snapshot, so a write
// or delete that lands after the snapshot wins. Failed entries return to
// the dirty set and are reported on the failure channel.
func (c *CachedStore[T]) flushAsyncLocked() {
	type entry struct {
		id    string
		value T
		gen   uint64
	}
	snapshot := make([]entry, 0, len(c.dirty))
	for id, value := range c.dirty {
		snapshot = append(snapshot, entry{id: id, value: value, gen: c.gen[id]})
	}
	c.dirty = make(map[string]T)

	c.flushing.Add(1)
	go func() {
		defer c.flushing.Done()
		for _, e := range snapshot {
			c.mu.Lock()
			if c.gen[e.id] != e.gen {
				c.mu.Unlock()
				continue
			}
			err := c.backing.Put(e.id, e.value)
			if err != nil {
				if _, rewritten := c.dirty[e.id]; !rewritten {
					c.dirty[e.id] = e.value
				}
			}
			c.mu.Unlock()

			if err != nil {
				c.logger.Error("async flush failed",
					slog.String("id", e.id),
					slog.String("error", err.Error()))
				select {
				case c.failures <- FlushFailure{ID: e.id, Err: err}:
				default:
				}
			}
		}
	}()
}

// Failures exposes asynchronous flush failures. Entries reported here
// remain dirty and are retried by the next flush or Commit.
func (c *CachedStore[T]) Failures() <-chan FlushFailure {
	return c.failures
}

// Flush waits out in-flight async flushes and synchronously persists all
// dirty entries. Entries that fail stay dirty.
func (c *CachedStore[T]) Flush() error {
	c.flushing.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for id, value := range c.dirty {
		if err := c.backing.Put(id, value); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("flush %s: %w", id, err)
			}
			continue
		}
		delete(c.dirty, id)
	}
	return firstErr
}

// Commit flushes dirty entries and commits the backing store.
func (c *CachedStore[T]) Commit() error {
	if err := c.Flush(); err != nil {
		return err
	}
	return c.backing.Commit()
}

// Close flushes, waits for in-flight async work, and closes the backing
// store.
func (c *CachedStore[T]) Close() error {
	if err := c.Flush(); err != nil {
		return err
	}
	c.flushing.Wait()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.failures)
	return c.backing.Close()
}

// Len returns the number of entries currently cached in memory.
func (c *CachedStore[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Len()
}

var _ Store[int] = (*CachedStore[int])(nil)
