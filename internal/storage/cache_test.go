package storage

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCachedStore(t *testing.T, capacity int) *CachedStore[testElement] {
	t.Helper()
	backing, err := OpenShardStore[testElement](t.TempDir(), nil)
	require.NoError(t, err)
	cached, err := NewCachedStore[testElement](backing, CacheOptions{Capacity: capacity})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cached.Close() })
	return cached
}

func TestCachedStore_NeverExceedsCapacity(t *testing.T) {
	cached := newTestCachedStore(t, 10)

	for i := 0; i < 50; i++ {
		require.NoError(t, cached.Put(fmt.Sprintf("pkg.Type#method%d", i), testElement{Score: i}))
		assert.LessOrEqual(t, cached.Len(), 10)
	}
}

func TestCachedStore_EvictedEntryRemainsRetrievable(t *testing.T) {
	cached := newTestCachedStore(t, 4)

	for i := 0; i < 20; i++ {
		require.NoError(t, cached.Put(fmt.Sprintf("pkg.Type#m%d", i), testElement{Name: fmt.Sprintf("m%d", i), Score: i}))
	}

	// Entry 0 was evicted long ago; the eviction writeback must have
	// persisted it with identical content.
	got, ok, err := cached.Get("pkg.Type#m0")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, testElement{Name: "m0", Score: 0}, got)
}

func TestCachedStore_RemoveDeletesEverywhere(t *testing.T) {
	cached := newTestCachedStore(t, 4)

	require.NoError(t, cached.Put("a.B#c", testElement{Name: "c"}))
	require.NoError(t, cached.Commit())
	require.NoError(t, cached.Remove("a.B#c"))

	_, ok, err := cached.Get("a.B#c")
	require.NoError(t, err)
	assert.False(t, ok)

	keys, err := cached.Keys()
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestCachedStore_CommitPersistsDirtyEntries(t *testing.T) {
	dir := t.TempDir()
	backing, err := OpenShardStore[testElement](dir, nil)
	require.NoError(t, err)
	cached, err := NewCachedStore[testElement](backing, CacheOptions{Capacity: 100})
	require.NoError(t, err)

	require.NoError(t, cached.Put("a.B#c", testElement{Score: 3}))
	require.NoError(t, cached.Close())

	reopened, err := OpenShardStore[testElement](dir, nil)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	got, ok, err := reopened.Get("a.B#c")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, got.Score)
}

func TestCachedStore_ThresholdTriggersAsyncFlush(t *testing.T) {
	backing, err := OpenShardStore[testElement](t.TempDir(), nil)
	require.NoError(t, err)
	cached, err := NewCachedStore[testElement](backing, CacheOptions{
		Capacity:       500,
		FlushThreshold: 10,
	})
	require.NoError(t, err)
	defer func() { _ = cached.Close() }()

	for i := 0; i < 10; i++ {
		require.NoError(t, cached.Put(fmt.Sprintf("a.B#m%d", i), testElement{Score: i}))
	}

	// The threshold flush runs off the caller's thread; wait for the
	// backing store to see the entries.
	assert.Eventually(t, func() bool {
		keys, err := backing.Keys()
		return err == nil && len(keys) == 10
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCachedStore_FlushFailuresAreObservableAndRetried(t *testing.T) {
	backing := &flakyStore{}
	cached, err := NewCachedStore[testElement](backing, CacheOptions{
		Capacity:       500,
		FlushThreshold: 2,
	})
	require.NoError(t, err)

	backing.fail(true)
	require.NoError(t, cached.Put("a.B#one", testElement{Score: 1}))
	require.NoError(t, cached.Put("a.B#two", testElement{Score: 2}))

	var failed []string
	for i := 0; i < 2; i++ {
		select {
		case f := <-cached.Failures():
			require.Error(t, f.Err)
			failed = append(failed, f.ID)
		case <-time.After(2 * time.Second):
			t.Fatal("expected flush failure on the failures channel")
		}
	}
	assert.Len(t, failed, 2)

	// The failed entries stayed dirty; a later Flush retries them.
	backing.fail(false)
	require.NoError(t, cached.Flush())
	assert.ElementsMatch(t, []string{"a.B#one", "a.B#two"}, backing.ids())
	require.NoError(t, cached.Close())
}

func TestCachedStore_OverlappingFlushKeepsLatestValue(t *testing.T) {
	backing := newGatedStore()
	cached, err := NewCachedStore[testElement](backing, CacheOptions{
		Capacity:       500,
		FlushThreshold: 1,
	})
	require.NoError(t, err)

	// The first put crosses the threshold and starts an async flush whose
	// backing write stalls at the gate.
	require.NoError(t, cached.Put("a.B#k", testElement{Score: 1}))
	<-backing.entered

	// Replace the value while that flush is still in flight.
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := cached.Put("a.B#k", testElement{Score: 2}); err != nil {
			t.Error(err)
		}
	}()

	time.Sleep(50 * time.Millisecond)
	close(backing.gate)
	<-done

	// The stalled flush must not clobber the replacement.
	require.NoError(t, cached.Flush())
	got, ok, err := backing.Get("a.B#k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, got.Score)
	require.NoError(t, cached.Close())
}

func TestCachedStore_ConcurrentPutGet(t *testing.T) {
	cached := newTestCachedStore(t, 32)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				id := fmt.Sprintf("pkg.T%d#m%d", w, i)
				if err := cached.Put(id, testElement{Score: i}); err != nil {
					t.Error(err)
					return
				}
				if _, _, err := cached.Get(id); err != nil {
					t.Error(err)
					return
				}
			}
		}(w)
	}
	wg.Wait()
}

// gatedStore is an in-memory Store whose first Put blocks on a gate,
// signalling entry, so tests can hold a flush mid-write.
type gatedStore struct {
	mu      sync.Mutex
	data    map[string]testElement
	gate    chan struct{}
	entered chan struct{}
	blocked bool
}

func newGatedStore() *gatedStore {
	return &gatedStore{
		data:    make(map[string]testElement),
		gate:    make(chan struct{}),
		entered: make(chan struct{}),
	}
}

func (g *gatedStore) Put(id string, value testElement) error {
	g.mu.Lock()
	stall := !g.blocked
	g.blocked = true
	g.mu.Unlock()
	if stall {
		close(g.entered)
		<-g.gate
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.data[id] = value
	return nil
}

func (g *gatedStore) Get(id string) (testElement, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	v, ok := g.data[id]
	return v, ok, nil
}

func (g *gatedStore) Remove(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.data, id)
	return nil
}

func (g *gatedStore) Keys() ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := make([]string, 0, len(g.data))
	for id := range g.data {
		ids = append(ids, id)
	}
	return ids, nil
}

func (g *gatedStore) Commit() error { return nil }
func (g *gatedStore) Close() error  { return nil }

// flakyStore is an in-memory Store whose Put can be made to fail.
type flakyStore struct {
	mu      sync.Mutex
	data    map[string]testElement
	failing bool
}

func (f *flakyStore) fail(on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing = on
}

func (f *flakyStore) ids() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.data))
	for id := range f.data {
		ids = append(ids, id)
	}
	return ids
}

func (f *flakyStore) Get(id string) (testElement, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[id]
	return v, ok, nil
}

func (f *flakyStore) Put(id string, value testElement) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return errors.New("disk full")
	}
	if f.data == nil {
		f.data = make(map[string]testElement)
	}
	f.data[id] = value
	return nil
}

func (f *flakyStore) Remove(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, id)
	return nil
}

func (f *flakyStore) Keys() ([]string, error) {
	return f.ids(), nil
}

func (f *flakyStore) Commit() error { return nil }
func (f *flakyStore) Close() error  { return nil }
