package storage

import (
	"sort"
	"sync"
)

// MemStore is an in-memory Store. It backs the non-persistent index
// variants and keeps tests off the filesystem.
type MemStore[T any] struct {
	mu   sync.RWMutex
	data map[string]T
}

// NewMemStore creates an empty in-memory store.
func NewMemStore[T any]() *MemStore[T] {
	return &MemStore[T]{data: make(map[string]T)}
}

func (m *MemStore[T]) Get(id string) (T, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[id]
	return v, ok, nil
}

func (m *MemStore[T]) Put(id string, value T) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[id] = value
	return nil
}

func (m *MemStore[T]) Remove(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, id)
	return nil
}

func (m *MemStore[T]) Keys() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data))
	for id := range m.data {
		keys = append(keys, id)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemStore[T]) Commit() error { return nil }
func (m *MemStore[T]) Close() error  { return nil }

var _ Store[int] = (*MemStore[int])(nil)
