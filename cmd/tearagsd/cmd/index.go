package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tearags/tearagsd/internal/orchestrator"
)

func newIndexCmd() *cobra.Command {
	var (
		force   bool
		hybrid  bool
		offline bool
	)

	cmd := &cobra.Command{
		Use:   "index [path]",
		Short: "Build a fresh vector collection for a codebase",
		Long: `Scans path (default: current directory), chunks its files, embeds the
chunks, and upserts them into a new vector collection.

Refuses to run over an already-indexed collection unless --force is given,
in which case the existing collection is dropped and rebuilt from scratch.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			path := "."
			if len(args) > 0 {
				path = args[0]
			}

			o, root, _, err := newOrchestrator(ctx, path, offline)
			if err != nil {
				return err
			}
			defer o.Close()

			stats, err := o.Index(ctx, root, orchestrator.IndexOptions{ForceReindex: force, Hybrid: hybrid})
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "indexed %s: %d files scanned, %d indexed, %d chunks created, %d errors (%dms)\n",
				root, stats.FilesScanned, stats.FilesIndexed, stats.ChunksCreated, len(stats.Errors), stats.DurationMs)
			for _, e := range stats.Errors {
				fmt.Fprintf(cmd.ErrOrStderr(), "  error: %s\n", e)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "drop and rebuild an existing collection")
	cmd.Flags().BoolVar(&hybrid, "hybrid", false, "enable sparse-vector generation for hybrid search")
	cmd.Flags().BoolVar(&offline, "offline", false, "use static embeddings instead of the configured provider")

	return cmd
}
