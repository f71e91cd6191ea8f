// Package engine assembles the hybrid index: lexical, semantic, and
// structural indexes over a shared persistence layout, plus batch
// indexing, incremental file tracking, and merged search.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/symdex/symdex/internal/batch"
	"github.com/symdex/symdex/internal/config"
	"github.com/symdex/symdex/internal/embed"
	symerrors "github.com/symdex/symdex/internal/errors"
	"github.com/symdex/symdex/internal/gitignore"
	"github.com/symdex/symdex/internal/lexical"
	"github.com/symdex/symdex/internal/meta"
	"github.com/symdex/symdex/internal/semantic"
	"github.com/symdex/symdex/internal/storage"
	"github.com/symdex/symdex/internal/structural"
	"github.com/symdex/symdex/internal/symbol"
)

// Merged-search weights: lexical scores are normalized to [0,1] within a
// result set before blending with cosine similarity.
const (
	lexicalWeight  = 0.6
	semanticWeight = 0.4
)

// LexicalBackend is the surface both lexical implementations share.
type LexicalBackend interface {
	IndexElement(el symbol.Element) error
	Search(query string, maxResults int) ([]lexical.Result, error)
	Remove(id string) error
	Size() int
	Commit() error
	Close() error
}

// ElementInput is one extracted element ready for indexing, the unit the
// structure extractor hands to the engine.
type ElementInput struct {
	ID        string            `json:"id"`
	Signature string            `json:"signature"`
	Kind      symbol.Kind       `json:"kind"`
	FilePath  string            `json:"file_path"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`

	SuperClass     string   `json:"super_class,omitempty"`
	Implements     []string `json:"implements,omitempty"`
	Calls          []string `json:"calls,omitempty"`
	Overrides      []string `json:"overrides,omitempty"`
	AccessesFields []string `json:"accesses_fields,omitempty"`
}

// SearchResult is one merged search hit.
type SearchResult struct {
	ID        string
	Score     float64
	Signature string
	Kind      symbol.Kind
	FilePath  string
	Metadata  map[string]string
}

// Stats summarizes engine state.
type Stats struct {
	LexicalElements    int
	SemanticElements   int
	StructuralElements int
	IndexedFiles       int
}

// Extractor produces the elements of one source file. Implementations run
// concurrently across batch workers.
type Extractor func(ctx context.Context, path string) ([]ElementInput, error)

// Engine is the hybrid search engine facade.
type Engine struct {
	cfg    config.Config
	logger *slog.Logger

	lock       *storage.DirLock
	embedder   embed.Embedder
	lexical    LexicalBackend
	semantic   *semantic.Index
	structural *structural.Index
	meta       *meta.Store
}

// Open builds an engine from configuration: locks the data directory,
// keeps it gitignored, and opens all three indexes plus the metadata
// store.
func Open(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dataDir := cfg.ResolvedDataDir()

	lock, err := storage.AcquireDirLock(dataDir)
	if err != nil {
		return nil, err
	}
	if err := gitignore.Ensure(cfg.ProjectRoot, dataDir); err != nil {
		lockRelease(lock)
		return nil, fmt.Errorf("maintain gitignore: %w", err)
	}

	embedder := embed.NewCachedEmbedder(
		embed.NewStaticEmbedderWithDimensions(cfg.Index.EmbeddingDimensions),
		cfg.Index.EmbeddingCacheSize)

	var lex LexicalBackend
	switch cfg.Index.LexicalBackend {
	case "bleve":
		lex, err = lexical.NewBleveIndex(filepath.Join(dataDir, "lexical-bleve"), logger)
	default:
		lex, err = lexical.Open(filepath.Join(dataDir, "lexical"), cfg.Index.CacheCapacity, logger)
	}
	if err != nil {
		lockRelease(lock)
		return nil, fmt.Errorf("open lexical index: %w", err)
	}

	sem, err := semantic.Open(filepath.Join(dataDir, "semantic"), embedder, cfg.Index.CacheCapacity, logger)
	if err != nil {
		_ = lex.Close()
		lockRelease(lock)
		return nil, fmt.Errorf("open semantic index: %w", err)
	}

	str, err := structural.Open(filepath.Join(dataDir, "structural"), cfg.Index.CacheCapacity, logger)
	if err != nil {
		_ = sem.Close()
		_ = lex.Close()
		lockRelease(lock)
		return nil, fmt.Errorf("open structural index: %w", err)
	}

	metaStore, err := meta.Open(filepath.Join(dataDir, "metadata.db"))
	if err != nil {
		_ = str.Close()
		_ = sem.Close()
		_ = lex.Close()
		lockRelease(lock)
		return nil, fmt.Errorf("open metadata store: %w", err)
	}

	return &Engine{
		cfg:        cfg,
		logger:     logger,
		lock:       lock,
		embedder:   embedder,
		lexical:    lex,
		semantic:   sem,
		structural: str,
		meta:       metaStore,
	}, nil
}

func lockRelease(lock *storage.DirLock) {
	if lock != nil {
		_ = lock.Release()
	}
}

// IndexElement indexes one element into all three indexes.
func (e *Engine) IndexElement(ctx context.Context, in ElementInput) error {
	if in.ID == "" {
		return symerrors.New(symerrors.CodeInvalidInput, "element id must not be empty", nil)
	}

	el := symbol.Element{
		ID:        in.ID,
		Signature: in.Signature,
		Kind:      in.Kind,
		FilePath:  in.FilePath,
		Extra:     in.Metadata,
	}
	if err := e.lexical.IndexElement(el); err != nil {
		return fmt.Errorf("lexical index %s: %w", in.ID, err)
	}

	content := in.Content
	if content == "" {
		content = in.Signature
	}
	metadata := mergeMetadata(in.Metadata, map[string]string{
		"kind":      string(in.Kind),
		"file_path": in.FilePath,
	})
	if err := e.semantic.IndexElement(ctx, in.ID, content, metadata); err != nil {
		return fmt.Errorf("semantic index %s: %w", in.ID, err)
	}

	st := symbol.NewStructure(in.ID, in.Kind)
	st.SuperClass = in.SuperClass
	addAll(st.Implements, in.Implements)
	addAll(st.Calls, in.Calls)
	addAll(st.Overrides, in.Overrides)
	addAll(st.AccessesFields, in.AccessesFields)
	if err := e.structural.IndexElement(st); err != nil {
		return fmt.Errorf("structural index %s: %w", in.ID, err)
	}
	return nil
}

// IndexElements indexes a slice of elements. Per-element failures are
// logged and skipped; the count of successfully indexed elements is
// returned.
func (e *Engine) IndexElements(ctx context.Context, elements []ElementInput) (int, error) {
	indexed := 0
	for _, in := range elements {
		if err := e.IndexElement(ctx, in); err != nil {
			e.logger.Warn("element skipped",
				slog.String("id", in.ID),
				slog.String("error", err.Error()))
			continue
		}
		indexed++
	}
	return indexed, nil
}

// IndexFiles batch-indexes the given files through the extractor,
// skipping files unchanged since their last indexing.
func (e *Engine) IndexFiles(ctx context.Context, files []string, extract Extractor) (*batch.Result, error) {
	coordinator := batch.NewCoordinator(e.cfg.Batch.BatchSize, e.cfg.Batch.Workers, e.logger)
	strategy := &engineStrategy{engine: e, extract: extract}

	result, err := coordinator.Run(ctx, files, strategy)
	if err != nil {
		return result, err
	}
	if err := e.Commit(); err != nil {
		return result, fmt.Errorf("commit after batch: %w", err)
	}
	return result, nil
}

// engineStrategy adapts the engine to the batch coordinator.
type engineStrategy struct {
	engine  *Engine
	extract Extractor
}

func (s *engineStrategy) ShouldIndex(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		// Let IndexFile surface the per-file failure.
		return true, nil
	}
	return s.engine.meta.ShouldIndex(path, info.ModTime())
}

func (s *engineStrategy) IndexFile(ctx context.Context, path string) (int, error) {
	elements, err := s.extract(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("extract %s: %w", path, err)
	}

	indexed, err := s.engine.IndexElements(ctx, elements)
	if err != nil {
		return indexed, err
	}

	modTime := time.Now()
	if info, statErr := os.Stat(path); statErr == nil {
		modTime = info.ModTime()
	}
	if err := s.engine.meta.RecordIndexed(path, modTime); err != nil {
		return indexed, err
	}
	return indexed, nil
}

// Search merges lexical and semantic hits. Lexical scores are normalized
// against the best lexical hit; semantic scores are cosine similarities.
func (e *Engine) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	if maxResults <= 0 {
		maxResults = 10
	}

	lexResults, err := e.lexical.Search(query, maxResults*2)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	semResults, err := e.semantic.Search(ctx, query, maxResults*2, nil)
	if err != nil {
		return nil, fmt.Errorf("semantic search: %w", err)
	}

	merged := make(map[string]*SearchResult)
	var maxLex float64
	for _, r := range lexResults {
		if r.Score > maxLex {
			maxLex = r.Score
		}
	}
	for _, r := range lexResults {
		merged[r.Element.ID] = &SearchResult{
			ID:        r.Element.ID,
			Score:     lexicalWeight * (r.Score / maxLex),
			Signature: r.Element.Signature,
			Kind:      r.Element.Kind,
			FilePath:  r.Element.FilePath,
			Metadata:  r.Element.Extra,
		}
	}
	for _, r := range semResults {
		if existing, ok := merged[r.ID]; ok {
			existing.Score += semanticWeight * r.Score
			continue
		}
		sr := &SearchResult{ID: r.ID, Score: semanticWeight * r.Score, Metadata: r.Metadata}
		e.fillElement(sr)
		merged[r.ID] = sr
	}

	results := make([]SearchResult, 0, len(merged))
	for _, r := range merged {
		results = append(results, *r)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > maxResults {
		results = results[:maxResults]
	}
	return results, nil
}

// fillElement copies the lexical record's display fields into a hit that
// only the semantic index produced.
func (e *Engine) fillElement(sr *SearchResult) {
	type getter interface {
		Get(id string) (symbol.Element, bool, error)
	}
	g, ok := e.lexical.(getter)
	if !ok {
		return
	}
	if el, found, err := g.Get(sr.ID); err == nil && found {
		sr.Signature = el.Signature
		sr.Kind = el.Kind
		sr.FilePath = el.FilePath
	}
}

// FindSimilar returns elements semantically similar to id.
func (e *Engine) FindSimilar(id string, maxResults int) ([]semantic.Result, error) {
	return e.semantic.FindSimilar(id, maxResults)
}

// FindStructurallySimilar returns elements structurally similar to id.
func (e *Engine) FindStructurallySimilar(id string, maxResults int) ([]structural.SimilarResult, error) {
	return e.structural.FindStructurallySimilar(id, maxResults)
}

// FindAllRelated returns id's relationships grouped by kind.
func (e *Engine) FindAllRelated(id string) (map[symbol.Relation][]string, error) {
	return e.structural.FindAllRelated(id)
}

// RemoveElement deletes id from all three indexes.
func (e *Engine) RemoveElement(id string) error {
	if err := e.lexical.Remove(id); err != nil {
		return fmt.Errorf("lexical remove %s: %w", id, err)
	}
	if err := e.semantic.Remove(id); err != nil {
		return fmt.Errorf("semantic remove %s: %w", id, err)
	}
	if err := e.structural.Remove(id); err != nil {
		return fmt.Errorf("structural remove %s: %w", id, err)
	}
	return nil
}

// Stats reports element counts per index.
func (e *Engine) Stats() Stats {
	indexedFiles := 0
	if paths, err := e.meta.IndexedPaths(); err == nil {
		indexedFiles = len(paths)
	}
	return Stats{
		LexicalElements:    e.lexical.Size(),
		SemanticElements:   e.semantic.Size(),
		StructuralElements: e.structural.Size(),
		IndexedFiles:       indexedFiles,
	}
}

// Commit flushes all indexes.
func (e *Engine) Commit() error {
	if err := e.lexical.Commit(); err != nil {
		return fmt.Errorf("lexical commit: %w", err)
	}
	if err := e.semantic.Commit(); err != nil {
		return fmt.Errorf("semantic commit: %w", err)
	}
	if err := e.structural.Commit(); err != nil {
		return fmt.Errorf("structural commit: %w", err)
	}
	return nil
}

// Close commits and releases all resources, including the directory lock.
func (e *Engine) Close() error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	record(e.lexical.Close())
	record(e.semantic.Close())
	record(e.structural.Close())
	record(e.meta.Close())
	record(e.embedder.Close())
	record(e.lock.Release())
	return firstErr
}

func mergeMetadata(base, extra map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func addAll(set map[string]struct{}, ids []string) {
	for _, id := range ids {
		if id != "" {
			set[id] = struct{}{}
		}
	}
}
