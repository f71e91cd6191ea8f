package storage

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

const (
	elementsDirName      = "elements"
	consolidatedFileName = "consolidated.json"
	shardFilePerm        = 0o644
	shardDirPerm         = 0o755
)

// ShardStore persists one JSON file per element, bucketed by the first two
// hex nibbles of the id's FNV-64a hash to bound directory fan-out. A
// consolidated snapshot file serves bulk loads and acts as a fallback when
// individual shards are missing or corrupt.
type ShardStore[T any] struct {
	mu     sync.RWMutex
	dir    string
	keys   map[string]struct{}
	logger *slog.Logger
	closed bool
}

// shardEnvelope wraps a value with its id so keys survive in the shard
// files themselves (filenames are hashes, not ids).
type shardEnvelope[T any] struct {
	ID    string `json:"id"`
	Value T      `json:"value"`
}

// OpenShardStore opens (or creates) a shard store rooted at dir. Existing
// shards and the consolidated snapshot are scanned to rebuild the key set;
// corrupt files are logged and skipped.
func OpenShardStore[T any](dir string, logger *slog.Logger) (*ShardStore[T], error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Join(dir, elementsDirName), shardDirPerm); err != nil {
		return nil, fmt.Errorf("create shard directory: %w", err)
	}

	s := &ShardStore[T]{
		dir:    dir,
		keys:   make(map[string]struct{}),
		logger: logger,
	}
	if err := s.loadKeys(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ShardStore[T]) loadKeys() error {
	// Consolidated snapshot first, then individual shards on top. Shards
	// are the fresher source; the snapshot only contributes ids the shard
	// scan misses.
	if data, err := os.ReadFile(filepath.Join(s.dir, consolidatedFileName)); err == nil {
		var consolidated map[string]T
		if err := json.Unmarshal(data, &consolidated); err != nil {
			s.logger.Warn("corrupt consolidated snapshot, ignoring",
				slog.String("dir", s.dir),
				slog.String("error", err.Error()))
		} else {
			for id := range consolidated {
				s.keys[id] = struct{}{}
			}
		}
	}

	elementsDir := filepath.Join(s.dir, elementsDirName)
	buckets, err := os.ReadDir(elementsDir)
	if err != nil {
		return fmt.Errorf("scan shard buckets: %w", err)
	}
	for _, bucket := range buckets {
		if !bucket.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(elementsDir, bucket.Name()))
		if err != nil {
			return fmt.Errorf("scan bucket %s: %w", bucket.Name(), err)
		}
		for _, file := range files {
			if file.IsDir() || filepath.Ext(file.Name()) != ".json" {
				continue
			}
			path := filepath.Join(elementsDir, bucket.Name(), file.Name())
			env, ok := s.readEnvelope(path)
			if !ok {
				continue
			}
			s.keys[env.ID] = struct{}{}
		}
	}
	return nil
}

func (s *ShardStore[T]) readEnvelope(path string) (shardEnvelope[T], bool) {
	var env shardEnvelope[T]
	data, err := os.ReadFile(path)
	if err != nil {
		return env, false
	}
	if err := json.Unmarshal(data, &env); err != nil || env.ID == "" {
		s.logger.Warn("corrupt shard file, treating as absent",
			slog.String("path", path))
		return env, false
	}
	return env, true
}

// Bucket returns the two-hex-nibble bucket for an id.
func Bucket(id string) string {
	return fmt.Sprintf("%02x", hashID(id)>>56)
}

func hashID(id string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	return h.Sum64()
}

func (s *ShardStore[T]) shardPath(id string) string {
	hash := hashID(id)
	return filepath.Join(s.dir, elementsDirName,
		fmt.Sprintf("%02x", hash>>56),
		fmt.Sprintf("%016x.json", hash))
}

// Get loads the value for id. Falls back to the consolidated snapshot when
// the shard file is missing or corrupt.
func (s *ShardStore[T]) Get(id string) (T, bool, error) {
	var zero T
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return zero, false, fmt.Errorf("shard store is closed")
	}
	if _, known := s.keys[id]; !known {
		return zero, false, nil
	}

	if env, ok := s.readEnvelope(s.shardPath(id)); ok && env.ID == id {
		return env.Value, true, nil
	}

	// Shard missing or corrupt: try the consolidated snapshot.
	data, err := os.ReadFile(filepath.Join(s.dir, consolidatedFileName))
	if err != nil {
		return zero, false, nil
	}
	var consolidated map[string]T
	if err := json.Unmarshal(data, &consolidated); err != nil {
		s.logger.Warn("corrupt consolidated snapshot during fallback read",
			slog.String("id", id))
		return zero, false, nil
	}
	value, ok := consolidated[id]
	return value, ok, nil
}

// Put writes the value for id as a shard file via temp-then-rename.
func (s *ShardStore[T]) Put(id string, value T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("shard store is closed")
	}

	path := s.shardPath(id)
	if err := os.MkdirAll(filepath.Dir(path), shardDirPerm); err != nil {
		return fmt.Errorf("create bucket directory: %w", err)
	}
	data, err := json.Marshal(shardEnvelope[T]{ID: id, Value: value})
	if err != nil {
		return fmt.Errorf("marshal shard %s: %w", id, err)
	}
	if err := AtomicWriteFile(path, data); err != nil {
		return fmt.Errorf("write shard %s: %w", id, err)
	}
	s.keys[id] = struct{}{}
	return nil
}

// Remove deletes the shard file for id.
func (s *ShardStore[T]) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("shard store is closed")
	}
	if err := os.Remove(s.shardPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove shard %s: %w", id, err)
	}
	delete(s.keys, id)
	return nil
}

// Keys returns all stored ids in sorted order.
func (s *ShardStore[T]) Keys() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("shard store is closed")
	}
	keys := make([]string, 0, len(s.keys))
	for id := range s.keys {
		keys = append(keys, id)
	}
	sort.Strings(keys)
	return keys, nil
}

// LoadAll reads every stored value. Intended for bulk index rebuilds.
func (s *ShardStore[T]) LoadAll() (map[string]T, error) {
	keys, err := s.Keys()
	if err != nil {
		return nil, err
	}
	all := make(map[string]T, len(keys))
	for _, id := range keys {
		value, ok, err := s.Get(id)
		if err != nil {
			return nil, err
		}
		if ok {
			all[id] = value
		}
	}
	return all, nil
}

// Commit rewrites the consolidated snapshot from the current shard state.
func (s *ShardStore[T]) Commit() error {
	all, err := s.LoadAll()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("shard store is closed")
	}
	data, err := json.Marshal(all)
	if err != nil {
		return fmt.Errorf("marshal consolidated snapshot: %w", err)
	}
	if err := AtomicWriteFile(filepath.Join(s.dir, consolidatedFileName), data); err != nil {
		return fmt.Errorf("write consolidated snapshot: %w", err)
	}
	return nil
}

// Close commits and marks the store closed.
func (s *ShardStore[T]) Close() error {
	if err := s.Commit(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// AtomicWriteFile writes data to path through a temp file and rename so
// readers never observe a partial file.
func AtomicWriteFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

var _ Store[int] = (*ShardStore[int])(nil)
