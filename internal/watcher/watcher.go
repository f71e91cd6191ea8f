// Package watcher observes a source tree and feeds changed files to the
// indexing pipeline. Raw fsnotify events are debounced so editor save
// bursts collapse into one re-index per file.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Operation classifies a file event.
type Operation int

const (
	OpCreate Operation = iota
	OpModify
	OpDelete
)

func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// FileEvent is one debounced file change.
type FileEvent struct {
	Path      string
	Operation Operation
	Timestamp time.Time
}

// Options configures the watcher.
type Options struct {
	// DebounceWindow is how long to coalesce events per path.
	DebounceWindow time.Duration
	// Extensions limits events to files with these suffixes. Empty means
	// all files.
	Extensions []string
	// IgnoreDirs are directory names skipped while walking and watching.
	IgnoreDirs []string
}

// DefaultOptions returns the default watcher configuration.
func DefaultOptions() Options {
	return Options{
		DebounceWindow: 200 * time.Millisecond,
		IgnoreDirs:     []string{".git", ".symdex", "node_modules", "target", "build"},
	}
}

// Watcher watches a directory tree recursively.
type Watcher struct {
	mu       sync.Mutex
	fsw      *fsnotify.Watcher
	debounce *Debouncer
	opts     Options
	logger   *slog.Logger
	errs     chan error
	stopped  bool
}

// New creates a watcher. Call Start to begin observing.
func New(opts Options, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.DebounceWindow <= 0 {
		opts.DebounceWindow = DefaultOptions().DebounceWindow
	}
	if opts.IgnoreDirs == nil {
		opts.IgnoreDirs = DefaultOptions().IgnoreDirs
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	return &Watcher{
		fsw:      fsw,
		debounce: NewDebouncer(opts.DebounceWindow),
		opts:     opts,
		logger:   logger,
		errs:     make(chan error, 16),
	}, nil
}

// Start watches root and all its subdirectories until ctx is cancelled or
// Stop is called. New directories are added to the watch as they appear.
func (w *Watcher) Start(ctx context.Context, root string) error {
	if err := w.addRecursive(root); err != nil {
		return err
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				_ = w.Stop()
				return
			case event, ok := <-w.fsw.Events:
				if !ok {
					return
				}
				w.handle(event)
			case err, ok := <-w.fsw.Errors:
				if !ok {
					return
				}
				select {
				case w.errs <- err:
				default:
				}
			}
		}
	}()
	return nil
}

func (w *Watcher) handle(event fsnotify.Event) {
	// Track new directories so the whole tree stays covered.
	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if !w.ignored(filepath.Base(event.Name)) {
				_ = w.addRecursive(event.Name)
			}
			return
		}
	}

	if !w.wantsFile(event.Name) {
		return
	}

	var op Operation
	switch {
	case event.Op.Has(fsnotify.Create):
		op = OpCreate
	case event.Op.Has(fsnotify.Write):
		op = OpModify
	case event.Op.Has(fsnotify.Remove), event.Op.Has(fsnotify.Rename):
		op = OpDelete
	default:
		return
	}

	w.debounce.Add(FileEvent{Path: event.Name, Operation: op, Timestamp: time.Now()})
}

func (w *Watcher) wantsFile(path string) bool {
	if len(w.opts.Extensions) == 0 {
		return true
	}
	for _, ext := range w.opts.Extensions {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}

func (w *Watcher) ignored(dirName string) bool {
	for _, ig := range w.opts.IgnoreDirs {
		if dirName == ig {
			return true
		}
	}
	return false
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.ignored(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

// Events returns batches of debounced file events.
func (w *Watcher) Events() <-chan []FileEvent {
	return w.debounce.Output()
}

// Errors surfaces non-fatal watch errors.
func (w *Watcher) Errors() <-chan error {
	return w.errs
}

// Stop stops watching. Safe to call more than once.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return nil
	}
	w.stopped = true
	w.debounce.Stop()
	return w.fsw.Close()
}
