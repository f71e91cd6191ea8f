package cmd

import (
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/symdex/symdex/internal/symbol"
	"github.com/symdex/symdex/internal/ui"
)

func newRelatedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "related <element-id>",
		Short: "Show an element's relationships",
		Long: `Show all relationships of an element, grouped by kind: forward
edges (calls, extends, implements, overrides, accesses_field) and the
derived reverse edges (called_by, extended_by, and so on).`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runRelated(args[0])
		},
	}
}

func runRelated(id string) error {
	eng, _, err := openEngine()
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	related, err := eng.FindAllRelated(id)
	if err != nil {
		return err
	}

	p := ui.NewPrinter(os.Stdout)
	if len(related) == 0 {
		p.Line("no relationships recorded for %s", id)
		return nil
	}

	kinds := make([]string, 0, len(related))
	for kind := range related {
		kinds = append(kinds, string(kind))
	}
	sort.Strings(kinds)

	p.Title(id)
	for _, kind := range kinds {
		p.KeyValue(kind, "")
		for _, target := range related[symbol.Relation(kind)] {
			p.Line("  %s", target)
		}
	}
	return nil
}
