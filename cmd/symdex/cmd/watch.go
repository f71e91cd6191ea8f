package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/symdex/symdex/internal/engine"
	"github.com/symdex/symdex/internal/ui"
	"github.com/symdex/symdex/internal/watcher"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <extraction-dir>",
		Short: "Continuously ingest extraction output",
		Long: `Watch a directory for element JSONL files written by a structure
extractor and keep the index in sync: new or changed files are
re-indexed, deleted files have their elements removed. Runs until
interrupted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), args[0])
		},
	}
}

func runWatch(ctx context.Context, dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return os.ErrInvalid
	}

	eng, cfg, err := openEngine()
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	opts := watcher.Options{
		DebounceWindow: time.Duration(cfg.Watcher.DebounceMillis) * time.Millisecond,
		Extensions:     []string{".jsonl"},
		IgnoreDirs:     cfg.Watcher.IgnoreDirs,
	}
	w, err := watcher.New(opts, slog.Default())
	if err != nil {
		return err
	}
	defer func() { _ = w.Stop() }()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := w.Start(ctx, dir); err != nil {
		return err
	}

	p := ui.NewPrinter(os.Stdout)
	p.Line("watching %s", dir)

	// IDs indexed per file in this session, so deletes can be retracted.
	indexed := make(map[string][]string)

	for {
		select {
		case <-ctx.Done():
			p.Line("stopping")
			return nil
		case err, ok := <-w.Errors():
			if !ok {
				return nil
			}
			p.Error("watch: %v", err)
		case events, ok := <-w.Events():
			if !ok {
				return nil
			}
			for _, ev := range events {
				if err := applyEvent(ctx, eng, p, indexed, ev); err != nil {
					p.Error("%s: %v", ev.Path, err)
				}
			}
			if err := eng.Commit(); err != nil {
				p.Error("commit: %v", err)
			}
		}
	}
}

func applyEvent(ctx context.Context, eng *engine.Engine, p *ui.Printer, indexed map[string][]string, ev watcher.FileEvent) error {
	if ev.Operation == watcher.OpDelete {
		for _, id := range indexed[ev.Path] {
			if err := eng.RemoveElement(id); err != nil {
				return err
			}
		}
		n := len(indexed[ev.Path])
		delete(indexed, ev.Path)
		p.Line("removed %d elements from %s", n, ev.Path)
		return nil
	}

	elements, err := readElements(ev.Path)
	if err != nil {
		return err
	}

	// Retract elements that disappeared from the file since last ingest.
	current := make(map[string]struct{}, len(elements))
	for _, el := range elements {
		current[el.ID] = struct{}{}
	}
	for _, id := range indexed[ev.Path] {
		if _, ok := current[id]; !ok {
			if err := eng.RemoveElement(id); err != nil {
				return err
			}
		}
	}

	n, err := eng.IndexElements(ctx, elements)
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(elements))
	for _, el := range elements {
		ids = append(ids, el.ID)
	}
	indexed[ev.Path] = ids

	p.Line("indexed %d elements from %s", n, ev.Path)
	return nil
}
