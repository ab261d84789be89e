package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newReindexCmd() *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:   "reindex [path]",
		Short: "Apply only the add/modify/delete delta since the last index",
		Long: `Diffs path against its last recorded file snapshot and applies just the
changed files: stale chunks are deleted before a modified file's new
chunks are upserted. Requires path to already be indexed.`,
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

			stats, err := o.Reindex(ctx, root)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "reindexed %s: %d added, %d modified, %d deleted, %d chunks created, %d errors (%dms)\n",
				root, stats.FilesAdded, stats.FilesModified, stats.FilesDeleted, stats.ChunksCreated, len(stats.Errors), stats.DurationMs)
			for _, e := range stats.Errors {
				fmt.Fprintf(cmd.ErrOrStderr(), "  error: %s\n", e)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "use static embeddings instead of the configured provider")

	return cmd
}
