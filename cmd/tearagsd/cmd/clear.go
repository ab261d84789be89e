package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newClearCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear [path]",
		Short: "Delete a codebase's collection, checkpoint, and file snapshot",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			path := "."
			if len(args) > 0 {
				path = args[0]
			}

			o, root, _, err := newOrchestrator(ctx, path, true)
			if err != nil {
				return err
			}
			defer o.Close()

			if err := o.Clear(ctx, root); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", root)
			return nil
		},
	}

	return cmd
}
