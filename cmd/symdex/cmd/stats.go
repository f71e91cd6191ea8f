package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/symdex/symdex/internal/ui"
)

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show index statistics",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runStats()
		},
	}
}

func runStats() error {
	eng, cfg, err := openEngine()
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	stats := eng.Stats()

	p := ui.NewPrinter(os.Stdout)
	p.Title("Index statistics")
	p.KeyValue("data directory", cfg.ResolvedDataDir())
	p.KeyValue("lexical elements", fmt.Sprint(stats.LexicalElements))
	p.KeyValue("semantic elements", fmt.Sprint(stats.SemanticElements))
	p.KeyValue("structural elements", fmt.Sprint(stats.StructuralElements))
	p.KeyValue("indexed files", fmt.Sprint(stats.IndexedFiles))
	return nil
}
