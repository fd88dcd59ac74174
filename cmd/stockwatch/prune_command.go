package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newPruneCommand(ctx *commandContext) *cobra.Command {
	var olderThan string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete change rows and finished runs older than a cutoff",
		Long: `Delete change history and finished run rows older than --older-than.
Items are never deleted; only the audit trail is trimmed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer ctx.close()
			if olderThan == "" {
				return errors.New("--older-than is required (e.g. 90d)")
			}
			age, err := parseAge(olderThan)
			if err != nil {
				return fmt.Errorf("--older-than: %w", err)
			}
			cutoff := time.Now().Add(-age)
			out := cmd.OutOrStdout()
			if dryRun {
				fmt.Fprintf(out, "Would prune changes and runs before %s\n", cutoff.Format(time.RFC3339))
				return nil
			}

			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			changes, err := store.PruneChanges(cmd.Context(), cutoff)
			if err != nil {
				return err
			}
			runs, err := store.PruneRuns(cmd.Context(), cutoff)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Pruned %d changes and %d runs before %s\n", changes, runs, cutoff.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&olderThan, "older-than", "", "Age cutoff such as 720h or 90d")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the cutoff without deleting")
	return cmd
}
