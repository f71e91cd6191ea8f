package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/symdex/symdex/internal/ui"
)

type searchOptions struct {
	limit  int
	format string
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the index",
		Long: `Search the index with merged lexical and semantic scoring.

Examples:
  symdex search calculateTotalScore
  symdex search "payment processing" --limit 5
  symdex search handleRequest --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	return cmd
}

func runSearch(ctx context.Context, query string, opts searchOptions) error {
	eng, _, err := openEngine()
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	results, err := eng.Search(ctx, query, opts.limit)
	if err != nil {
		return err
	}

	if opts.format == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	p := ui.NewPrinter(os.Stdout)
	if len(results) == 0 {
		p.Line("no results for %q", query)
		return nil
	}
	p.Title(fmt.Sprintf("Results for %q", query))
	for i, r := range results {
		detail := r.Signature
		if r.FilePath != "" {
			detail = fmt.Sprintf("%s  [%s]", detail, r.FilePath)
		}
		p.Result(i+1, r.ID, r.Score, detail)
	}
	return nil
}
