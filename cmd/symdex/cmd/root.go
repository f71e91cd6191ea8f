// Package cmd provides the CLI commands for symdex.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/symdex/symdex/internal/config"
	"github.com/symdex/symdex/internal/engine"
	"github.com/symdex/symdex/internal/logging"
)

var (
	flagRoot       string
	flagLogLevel   string
	loggingCleanup func()
)

// NewRootCmd creates the symdex root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "symdex",
		Short: "Hybrid code-search index",
		Long: `Symdex maintains a hybrid search index over a codebase's symbols:
lexical name matching, semantic vector similarity, and structural
relationship graphs, persisted under the project's .symdex directory.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&flagRoot, "root", "r", ".", "Project root directory")
	cmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level (debug, info, warn, error)")

	cmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		cfg := logging.DefaultConfig()
		if flagLogLevel != "" {
			cfg.Level = flagLogLevel
		}
		cleanup, err := logging.SetupDefault(cfg)
		if err != nil {
			return fmt.Errorf("setup logging: %w", err)
		}
		loggingCleanup = cleanup
		return nil
	}
	cmd.PersistentPostRun = func(_ *cobra.Command, _ []string) {
		if loggingCleanup != nil {
			loggingCleanup()
		}
	}

	cmd.AddCommand(
		newIndexCmd(),
		newSearchCmd(),
		newRelatedCmd(),
		newSimilarCmd(),
		newStatsCmd(),
		newWatchCmd(),
	)
	return cmd
}

// Execute runs the CLI.
func Execute() error {
	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return err
	}
	return nil
}

// openEngine loads configuration for the --root flag and opens the engine.
func openEngine() (*engine.Engine, config.Config, error) {
	cfg, err := config.Load(flagRoot)
	if err != nil {
		return nil, cfg, err
	}
	if flagLogLevel != "" {
		cfg.Logging.Level = flagLogLevel
	}
	eng, err := engine.Open(cfg, slog.Default())
	if err != nil {
		return nil, cfg, err
	}
	return eng, cfg, nil
}
