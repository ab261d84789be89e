// Package cmd provides the CLI commands for tearagsd.
package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tearags/tearagsd/internal/logging"
	"github.com/tearags/tearagsd/pkg/version"
)

var (
	debugMode     bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the tearagsd CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "tearagsd",
		Short:   "Index and reindex codebases for hybrid semantic search",
		Version: version.Version,
		Long: `tearagsd scans a codebase, chunks its files, embeds the chunks, and
stores them in a vector collection for hybrid (dense + sparse) search.

It runs entirely against a Qdrant collection and an Ollama (or static,
offline) embedding provider, both configured via .tearagsd.yaml or the
TEARAGSD_* environment variables.`,
	}
	cmd.SetVersionTemplate("tearagsd version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "enable debug logging to ~/.tearagsd/logs/")
	cmd.PersistentPreRunE = startLogging
	cmd.PersistentPostRunE = stopLogging

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newReindexCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newClearCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func startLogging(_ *cobra.Command, _ []string) error {
	cfg := logging.DefaultConfig()
	if debugMode {
		cfg = logging.DebugConfig()
	}
	logger, cleanup, err := logging.Setup(cfg)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	return nil
}

func stopLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().ExecuteContext(context.Background())
}
