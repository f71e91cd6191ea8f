package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/symdex/symdex/internal/ui"
)

type similarOptions struct {
	limit      int
	structural bool
}

func newSimilarCmd() *cobra.Command {
	var opts similarOptions

	cmd := &cobra.Command{
		Use:   "similar <element-id>",
		Short: "Find elements similar to a given element",
		Long: `Find elements similar to the given element. By default similarity is
semantic (vector cosine over indexed content); with --structural it is
computed from shared package, type hierarchy, call targets, and field
accesses instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runSimilar(args[0], opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().BoolVar(&opts.structural, "structural", false, "Use structural similarity instead of semantic")
	return cmd
}

func runSimilar(id string, opts similarOptions) error {
	eng, _, err := openEngine()
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	p := ui.NewPrinter(os.Stdout)

	if opts.structural {
		results, err := eng.FindStructurallySimilar(id, opts.limit)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			p.Line("no structurally similar elements for %s", id)
			return nil
		}
		p.Title("Structurally similar to " + id)
		for i, r := range results {
			p.Result(i+1, r.ID, r.Score, "")
		}
		return nil
	}

	results, err := eng.FindSimilar(id, opts.limit)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		p.Line("no similar elements for %s", id)
		return nil
	}
	p.Title("Similar to " + id)
	for i, r := range results {
		p.Result(i+1, r.ID, r.Score, "")
	}
	return nil
}
