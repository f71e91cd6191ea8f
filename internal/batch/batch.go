// Package batch drives bulk indexing: files are split into fixed-size
// batches and fanned out over a bounded worker pool, with per-file stats
// aggregated into a single result.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultBatchSize is the number of files one worker processes
	// sequentially per batch.
	DefaultBatchSize = 50

	// DefaultWorkers bounds concurrent batches.
	DefaultWorkers = 4
)

// Strategy supplies the per-file indexing behavior. Implementations must
// be safe for concurrent use across workers.
type Strategy interface {
	// ShouldIndex reports whether the file needs indexing at all.
	// Unchanged files are skipped without counting as processed work.
	ShouldIndex(path string) (bool, error)

	// IndexFile extracts and indexes the file's elements, returning how
	// many were indexed.
	IndexFile(ctx context.Context, path string) (int, error)
}

// FileResult is the outcome for one file.
type FileResult struct {
	Path    string
	Indexed int
	Skipped bool
	Err     error
}

// Result aggregates a whole run.
type Result struct {
	FilesProcessed    int
	FilesSkipped      int
	SignaturesIndexed int
	FailedFiles       int
	Batches           int
	Cancelled         bool
	Duration          time.Duration
	FileResults       []FileResult
}

// Coordinator splits file lists into batches and runs them over a worker
// pool.
type Coordinator struct {
	batchSize int
	workers   int
	logger    *slog.Logger

	cancelled atomic.Bool
}

// NewCoordinator creates a coordinator with the given batch size and
// worker count; non-positive values fall back to defaults.
func NewCoordinator(batchSize, workers int, logger *slog.Logger) *Coordinator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{batchSize: batchSize, workers: workers, logger: logger}
}

// Cancel requests cooperative cancellation. Workers poll the flag once per
// file; the file in flight always completes.
func (c *Coordinator) Cancel() {
	c.cancelled.Store(true)
}

// Run indexes all files through the strategy and aggregates the results.
// Per-file failures are recorded and counted, never fatal; the first
// infrastructure error (not a file error) aborts remaining batches.
func (c *Coordinator) Run(ctx context.Context, files []string, strategy Strategy) (*Result, error) {
	if strategy == nil {
		return nil, fmt.Errorf("strategy must not be nil")
	}
	c.cancelled.Store(false)
	start := time.Now()

	batches := splitBatches(files, c.batchSize)
	result := &Result{
		Batches:     len(batches),
		FileResults: make([]FileResult, 0, len(files)),
	}

	var (
		mu        sync.Mutex
		processed atomic.Int64
		indexed   atomic.Int64
		failed    atomic.Int64
		skipped   atomic.Int64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)

	for i, files := range batches {
		batchNum, batchFiles := i, files
		g.Go(func() error {
			for _, path := range batchFiles {
				if c.cancelled.Load() || gctx.Err() != nil {
					return nil
				}

				fr := c.indexOne(gctx, path, strategy)
				switch {
				case fr.Skipped:
					skipped.Add(1)
				case fr.Err != nil:
					failed.Add(1)
					processed.Add(1)
					c.logger.Warn("file indexing failed",
						slog.String("path", path),
						slog.Int("batch", batchNum),
						slog.String("error", fr.Err.Error()))
				default:
					processed.Add(1)
					indexed.Add(int64(fr.Indexed))
				}

				mu.Lock()
				result.FileResults = append(result.FileResults, fr)
				mu.Unlock()
			}
			return nil
		})
	}

	err := g.Wait()

	result.FilesProcessed = int(processed.Load())
	result.FilesSkipped = int(skipped.Load())
	result.SignaturesIndexed = int(indexed.Load())
	result.FailedFiles = int(failed.Load())
	result.Cancelled = c.cancelled.Load() || ctx.Err() != nil
	result.Duration = time.Since(start)

	c.logger.Info("batch indexing finished",
		slog.Int("files_processed", result.FilesProcessed),
		slog.Int("signatures_indexed", result.SignaturesIndexed),
		slog.Int("failed_files", result.FailedFiles),
		slog.Int("batches", result.Batches),
		slog.Bool("cancelled", result.Cancelled),
		slog.Duration("duration", result.Duration))

	if err != nil {
		return result, err
	}
	return result, nil
}

// indexOne handles a single file. Strategy errors become per-file
// failures, not run failures.
func (c *Coordinator) indexOne(ctx context.Context, path string, strategy Strategy) FileResult {
	should, err := strategy.ShouldIndex(path)
	if err != nil {
		return FileResult{Path: path, Err: fmt.Errorf("should-index check: %w", err)}
	}
	if !should {
		return FileResult{Path: path, Skipped: true}
	}

	count, err := strategy.IndexFile(ctx, path)
	if err != nil {
		return FileResult{Path: path, Err: err}
	}
	return FileResult{Path: path, Indexed: count}
}

func splitBatches(files []string, size int) [][]string {
	if len(files) == 0 {
		return nil
	}
	batches := make([][]string, 0, (len(files)+size-1)/size)
	for start := 0; start < len(files); start += size {
		end := start + size
		if end > len(files) {
			end = len(files)
		}
		batches = append(batches, files[start:end])
	}
	return batches
}
