package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"stockwatch/internal/preflight"
	"stockwatch/internal/statestore"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the state directory, store and notification targets",
		RunE: func(cmd *cobra.Command, args []string) error {
			defer ctx.close()
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			var pinger preflight.Pinger
			store, storeErr := ctx.openStore()
			if storeErr == nil {
				pinger = store
			}

			fmt.Fprintln(out, paint("== stockwatch doctor ==", ansiBlue, colorize))
			driver, _ := cfg.StoreTarget()
			fmt.Fprintln(out, renderStatusLine("Store driver", statusInfo, driver, colorize))
			if storeErr != nil {
				fmt.Fprintln(out, renderStatusLine("Store open", statusError, storeErr.Error(), colorize))
			}

			results := preflight.RunAll(cmd.Context(), cfg, pinger)
			for _, r := range results {
				kind := statusOK
				if !r.Passed {
					kind = statusError
				}
				fmt.Fprintln(out, renderStatusLine(r.Name, kind, r.Detail, colorize))
			}
			if store != nil {
				printLatestRun(cmd, store, colorize)
			}
			if !preflight.AllPassed(results) {
				return errors.New("one or more checks failed")
			}
			return nil
		},
	}
}

func printLatestRun(cmd *cobra.Command, store *statestore.Store, colorize bool) {
	out := cmd.OutOrStdout()
	run, err := store.LatestRun(cmd.Context())
	switch {
	case err != nil:
		fmt.Fprintln(out, renderStatusLine("Latest run", statusError, err.Error(), colorize))
	case run == nil:
		fmt.Fprintln(out, renderStatusLine("Latest run", statusInfo, "none yet", colorize))
	default:
		detail := fmt.Sprintf("#%d %s at %s", run.ID, run.Status, run.FetchedAt.Local().Format(historyTimeFormat))
		fmt.Fprintln(out, renderStatusLine("Latest run", runStatusKind(run.Status), detail, colorize))
	}
}
