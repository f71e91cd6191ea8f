// Package semantic implements vector-similarity search over code element
// content. Vectors live in a fixed-stride memory-mapped region keyed by a
// per-element position; an HNSW graph accelerates unfiltered searches,
// with exact cosine rescoring on the candidates it returns.
package semantic

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/coder/hnsw"

	"github.com/symdex/symdex/internal/embed"
	"github.com/symdex/symdex/internal/storage"
	"github.com/symdex/symdex/internal/symbol"
	"github.com/symdex/symdex/internal/tokenize"
)

const (
	// SimilarityThreshold is the minimum cosine similarity a hit must
	// reach in pure vector search.
	SimilarityThreshold = 0.5

	// annCandidateMultiplier and annMinCandidates size the HNSW candidate
	// pool before exact rescoring.
	annCandidateMultiplier = 4
	annMinCandidates       = 50
)

// Result is one scored semantic hit.
type Result struct {
	ID       string
	Score    float64
	Metadata map[string]string
}

// Index is the semantic vector index.
type Index struct {
	mu       sync.RWMutex
	embedder embed.Embedder
	records  storage.Store[symbol.EmbeddingRecord]

	// vectors mirrors the persisted region in memory; brute-force scoring
	// and rescoring read from here.
	vectors      map[string][]float32
	vectorFile   *storage.VectorFile
	nextPosition int

	// contents holds the indexed text per element for keyword overlap in
	// hybrid search. Persisted to segmentsPath on commit when set.
	contents     map[string]string
	segmentsPath string

	// ANN graph with lazy deletion: removed ids are dropped from the
	// mappings, their nodes stay in the graph and are skipped on read.
	graph   *hnsw.Graph[uint64]
	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64

	logger *slog.Logger
	closed bool
}

// New builds a semantic index over the given record store and optional
// vector file. Existing records are loaded and the ANN graph rebuilt.
func New(embedder embed.Embedder, records storage.Store[symbol.EmbeddingRecord], vectorFile *storage.VectorFile, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}

	ix := &Index{
		embedder:   embedder,
		records:    records,
		vectors:    make(map[string][]float32),
		vectorFile: vectorFile,
		contents:   make(map[string]string),
		graph:      newGraph(),
		idMap:      make(map[string]uint64),
		keyMap:     make(map[uint64]string),
		logger:     logger,
	}

	keys, err := records.Keys()
	if err != nil {
		return nil, fmt.Errorf("list embedding records: %w", err)
	}
	for _, id := range keys {
		rec, ok, err := records.Get(id)
		if err != nil {
			return nil, fmt.Errorf("load embedding record %s: %w", id, err)
		}
		if !ok {
			continue
		}
		if rec.Position >= ix.nextPosition {
			ix.nextPosition = rec.Position + 1
		}

		vec := make([]float32, embedder.Dimensions())
		if vectorFile != nil {
			loaded, err := vectorFile.ReadAt(rec.Position)
			if err != nil {
				logger.Warn("unreadable vector slot, treating as zero",
					slog.String("id", id),
					slog.Int("position", rec.Position))
			} else {
				vec = loaded
			}
		}
		ix.vectors[id] = vec
		ix.addToGraph(id, vec)
	}

	if len(keys) > 0 {
		logger.Info("semantic index loaded", slog.Int("elements", len(keys)))
	}
	return ix, nil
}

// NewInMemory builds a non-persistent semantic index.
func NewInMemory(embedder embed.Embedder, logger *slog.Logger) *Index {
	ix, _ := New(embedder, storage.NewMemStore[symbol.EmbeddingRecord](), nil, logger)
	return ix
}

// Open builds a disk-backed semantic index under dir: cached JSON shards
// for embedding records plus one memory-mapped vector region.
func Open(dir string, embedder embed.Embedder, cacheCapacity int, logger *slog.Logger) (*Index, error) {
	shards, err := storage.OpenShardStore[symbol.EmbeddingRecord](dir, logger)
	if err != nil {
		return nil, err
	}
	cached, err := storage.NewCachedStore[symbol.EmbeddingRecord](shards, storage.CacheOptions{
		Capacity: cacheCapacity,
		Logger:   logger,
	})
	if err != nil {
		_ = shards.Close()
		return nil, err
	}
	vectorFile, err := storage.OpenVectorFile(dir+"/vectors.bin", embedder.Dimensions())
	if err != nil {
		_ = cached.Close()
		return nil, err
	}
	ix, err := New(embedder, cached, vectorFile, logger)
	if err != nil {
		_ = cached.Close()
		_ = vectorFile.Close()
		return nil, err
	}
	ix.segmentsPath = filepath.Join(dir, segmentsFileName)
	ix.loadSegments()
	return ix, nil
}

const segmentsFileName = "segments.json"

// loadSegments restores the indexed text per element. A missing or
// malformed file is logged and treated as empty.
func (ix *Index) loadSegments() {
	data, err := os.ReadFile(ix.segmentsPath)
	if err != nil {
		if !os.IsNotExist(err) {
			ix.logger.Warn("unreadable segments file", slog.String("path", ix.segmentsPath))
		}
		return
	}
	contents := make(map[string]string)
	if err := json.Unmarshal(data, &contents); err != nil {
		ix.logger.Warn("malformed segments file, ignoring",
			slog.String("path", ix.segmentsPath))
		return
	}
	ix.contents = contents
}

// saveSegmentsLocked persists the contents map. Caller holds ix.mu.
func (ix *Index) saveSegmentsLocked() error {
	if ix.segmentsPath == "" {
		return nil
	}
	data, err := json.Marshal(ix.contents)
	if err != nil {
		return fmt.Errorf("encode segments: %w", err)
	}
	if err := storage.AtomicWriteFile(ix.segmentsPath, data); err != nil {
		return fmt.Errorf("write segments: %w", err)
	}
	return nil
}

func newGraph() *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = 16
	g.EfSearch = 20
	g.Ml = 0.25
	return g
}

// IndexElement embeds content and stores the vector, replacing any prior
// vector for id. Content shorter than three characters stores a zero
// vector without calling the embedder. The element keeps its region
// position across re-indexing.
func (ix *Index) IndexElement(ctx context.Context, id, content string, metadata map[string]string) error {
	if id == "" {
		return fmt.Errorf("element id must not be empty")
	}

	var vec []float32
	trimmed := strings.TrimSpace(content)
	if len(trimmed) < embed.MinContentLength {
		vec = make([]float32, ix.embedder.Dimensions())
	} else {
		var err error
		vec, err = ix.embedder.Embed(ctx, trimmed)
		if err != nil {
			return fmt.Errorf("embed content for %s: %w", id, err)
		}
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.closed {
		return fmt.Errorf("semantic index is closed")
	}

	position := ix.nextPosition
	if prior, ok, err := ix.records.Get(id); err != nil {
		return fmt.Errorf("load prior record %s: %w", id, err)
	} else if ok {
		position = prior.Position
	} else {
		ix.nextPosition++
	}

	rec := symbol.EmbeddingRecord{
		ID:            id,
		Position:      position,
		ContentLength: len(trimmed),
		Metadata:      metadata,
		IndexedAt:     time.Now(),
	}
	if err := ix.records.Put(id, rec); err != nil {
		return fmt.Errorf("store embedding record %s: %w", id, err)
	}
	if ix.vectorFile != nil {
		if err := ix.vectorFile.WriteAt(position, vec); err != nil {
			return fmt.Errorf("write vector for %s: %w", id, err)
		}
	}
	ix.vectors[id] = vec
	ix.contents[id] = trimmed
	ix.removeFromGraph(id)
	ix.addToGraph(id, vec)
	return nil
}

// Search embeds the query and returns elements whose cosine similarity
// meets the threshold, best first. Filters are equality checks against
// record metadata; a filtered search scans vectors directly, an unfiltered
// one goes through the ANN graph with exact rescoring.
func (ix *Index) Search(ctx context.Context, query string, maxResults int, filters map[string]string) ([]Result, error) {
	queryVec, err := ix.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if embed.IsZero(queryVec) {
		return nil, nil
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if ix.closed {
		return nil, fmt.Errorf("semantic index is closed")
	}

	var candidates []string
	if len(filters) == 0 && ix.graph.Len() > 0 {
		candidates = ix.annCandidates(queryVec, maxResults)
	} else {
		for id := range ix.vectors {
			candidates = append(candidates, id)
		}
	}

	results := make([]Result, 0, len(candidates))
	for _, id := range candidates {
		rec, ok, err := ix.records.Get(id)
		if err != nil {
			return nil, fmt.Errorf("load record %s: %w", id, err)
		}
		if !ok || !matchesFilters(rec.Metadata, filters) {
			continue
		}
		score := embed.Cosine(queryVec, ix.vectors[id])
		if score < SimilarityThreshold {
			continue
		}
		results = append(results, Result{ID: id, Score: score, Metadata: rec.Metadata})
	}

	sortResults(results)
	if maxResults > 0 && len(results) > maxResults {
		results = results[:maxResults]
	}
	return results, nil
}

// HybridSearch blends vector similarity with keyword overlap between the
// query and the element's indexed content, id, and metadata. vectorWeight
// in [0,1] controls the blend; 1 is pure vector search.
func (ix *Index) HybridSearch(ctx context.Context, query string, maxResults int, vectorWeight float64) ([]Result, error) {
	if vectorWeight < 0 || vectorWeight > 1 {
		return nil, fmt.Errorf("vector weight %v outside [0,1]", vectorWeight)
	}

	queryVec, err := ix.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	queryTokens := tokenize.Query(query)

	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if ix.closed {
		return nil, fmt.Errorf("semantic index is closed")
	}

	results := make([]Result, 0)
	for id, vec := range ix.vectors {
		rec, ok, err := ix.records.Get(id)
		if err != nil {
			return nil, fmt.Errorf("load record %s: %w", id, err)
		}
		if !ok {
			continue
		}

		vectorScore := embed.Cosine(queryVec, vec)
		keywordScore := keywordOverlap(queryTokens, id, ix.contents[id], rec.Metadata)
		combined := vectorWeight*vectorScore + (1-vectorWeight)*keywordScore
		if combined <= 0 {
			continue
		}
		results = append(results, Result{ID: id, Score: combined, Metadata: rec.Metadata})
	}

	sortResults(results)
	if maxResults > 0 && len(results) > maxResults {
		results = results[:maxResults]
	}
	return results, nil
}

// FindSimilar reuses id's stored vector as the query, excluding id itself.
func (ix *Index) FindSimilar(id string, maxResults int) ([]Result, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if ix.closed {
		return nil, fmt.Errorf("semantic index is closed")
	}

	queryVec, ok := ix.vectors[id]
	if !ok {
		return nil, nil
	}
	if embed.IsZero(queryVec) {
		return nil, nil
	}

	results := make([]Result, 0)
	for otherID, vec := range ix.vectors {
		if otherID == id {
			continue
		}
		score := embed.Cosine(queryVec, vec)
		if score < SimilarityThreshold {
			continue
		}
		rec, recOK, err := ix.records.Get(otherID)
		if err != nil {
			return nil, fmt.Errorf("load record %s: %w", otherID, err)
		}
		var metadata map[string]string
		if recOK {
			metadata = rec.Metadata
		}
		results = append(results, Result{ID: otherID, Score: score, Metadata: metadata})
	}

	sortResults(results)
	if maxResults > 0 && len(results) > maxResults {
		results = results[:maxResults]
	}
	return results, nil
}

// Remove deletes the element's record and vector. The region position is
// orphaned, not reused.
func (ix *Index) Remove(id string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.closed {
		return fmt.Errorf("semantic index is closed")
	}

	delete(ix.vectors, id)
	delete(ix.contents, id)
	ix.removeFromGraph(id)
	return ix.records.Remove(id)
}

// Contains reports whether id has a stored vector.
func (ix *Index) Contains(id string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.vectors[id]
	return ok
}

// Size returns the number of indexed elements.
func (ix *Index) Size() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.vectors)
}

// Commit flushes records and the vector region.
func (ix *Index) Commit() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.closed {
		return fmt.Errorf("semantic index is closed")
	}
	if err := ix.records.Commit(); err != nil {
		return err
	}
	if err := ix.saveSegmentsLocked(); err != nil {
		return err
	}
	if ix.vectorFile != nil {
		return ix.vectorFile.Flush()
	}
	return nil
}

// Close commits and releases the record store and vector region.
func (ix *Index) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.closed {
		return nil
	}
	ix.closed = true

	segErr := ix.saveSegmentsLocked()
	if err := ix.records.Close(); err != nil {
		if ix.vectorFile != nil {
			_ = ix.vectorFile.Close()
		}
		return err
	}
	if ix.vectorFile != nil {
		if err := ix.vectorFile.Close(); err != nil {
			return err
		}
	}
	return segErr
}

// annCandidates queries the HNSW graph for a candidate pool sized well
// past maxResults, leaving the exact rescoring pass room to reorder.
func (ix *Index) annCandidates(queryVec []float32, maxResults int) []string {
	k := maxResults * annCandidateMultiplier
	if k < annMinCandidates {
		k = annMinCandidates
	}

	normalized := make([]float32, len(queryVec))
	copy(normalized, queryVec)
	normalized = embed.Normalize(normalized)

	nodes := ix.graph.Search(normalized, k)
	candidates := make([]string, 0, len(nodes))
	for _, node := range nodes {
		if id, ok := ix.keyMap[node.Key]; ok {
			candidates = append(candidates, id)
		}
	}
	return candidates
}

func (ix *Index) addToGraph(id string, vec []float32) {
	// Zero vectors carry no direction; keep them out of the graph.
	if embed.IsZero(vec) {
		return
	}

	key := ix.nextKey
	ix.nextKey++

	normalized := make([]float32, len(vec))
	copy(normalized, vec)
	normalized = embed.Normalize(normalized)

	ix.graph.Add(hnsw.MakeNode(key, normalized))
	ix.idMap[id] = key
	ix.keyMap[key] = id
}

func (ix *Index) removeFromGraph(id string) {
	if key, ok := ix.idMap[id]; ok {
		delete(ix.keyMap, key)
		delete(ix.idMap, id)
	}
}

func matchesFilters(metadata, filters map[string]string) bool {
	for k, want := range filters {
		if metadata[k] != want {
			return false
		}
	}
	return true
}

// keywordOverlap is the fraction of query tokens appearing in the
// element's indexed content, id, or metadata values.
func keywordOverlap(queryTokens []string, id, content string, metadata map[string]string) float64 {
	if len(queryTokens) == 0 {
		return 0
	}

	var sb strings.Builder
	sb.WriteString(strings.ToLower(content))
	sb.WriteByte(' ')
	sb.WriteString(strings.ToLower(id))
	for _, v := range metadata {
		sb.WriteByte(' ')
		sb.WriteString(strings.ToLower(v))
	}
	text := sb.String()

	matched := 0
	for _, token := range queryTokens {
		if strings.Contains(text, token) {
			matched++
		}
	}
	return float64(matched) / float64(len(queryTokens))
}

func sortResults(results []Result) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
}
