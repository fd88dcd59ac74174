package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"stockwatch/internal/catalog"
	"stockwatch/internal/cycle"
	"stockwatch/internal/snapshot"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var input string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one reconciliation cycle against a catalogue snapshot",
		Long: `Run one reconciliation cycle. The snapshot is a JSON document
produced by the fetcher; pass "-" to read it from stdin.

Exit status is 1 when the configuration is invalid or another cycle holds
the lock, and 2 when the cycle finished as failure.

When metrics.pushgateway_url (or PROM_PUSHGATEWAY_URL) is set, the cycle's
metrics are pushed to that Prometheus Pushgateway before exiting.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer ctx.close()
			obs, err := snapshot.Load(input, cmd.InOrStdin(), time.Now())
			if err != nil {
				return err
			}
			orch, err := ctx.orchestrator()
			if err != nil {
				return err
			}
			result, err := orch.RunOnce(cmd.Context(), obs)
			if err != nil {
				if errors.Is(err, cycle.ErrCycleInProgress) {
					return fmt.Errorf("%w (lock %s)", err, orch.LockPath())
				}
				return err
			}
			if !result.Skipped {
				ctx.pushMetrics(cmd.Context())
			}
			if asJSON {
				if err := writeJSON(cmd, cycleView(result)); err != nil {
					return err
				}
			} else {
				printCycleResult(cmd.OutOrStdout(), result)
			}
			if result.Status == catalog.RunFailure {
				return &exitError{code: exitCycleFailed, err: fmt.Errorf("cycle failed: %w", result.Err())}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "-", `Snapshot file, or "-" for stdin`)
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the cycle result as JSON")
	return cmd
}

type cycleResultView struct {
	RunID         int64          `json:"runId"`
	CorrelationID string         `json:"correlationId,omitempty"`
	Status        string         `json:"status"`
	Skipped       bool           `json:"skipped,omitempty"`
	FailedStage   string         `json:"failedStage,omitempty"`
	ChangesCount  int            `json:"changesCount"`
	Changes       map[string]int `json:"changes,omitempty"`
	Delivered     int            `json:"delivered"`
	Undelivered   int            `json:"undelivered"`
	Errors        []string       `json:"errors,omitempty"`
	DurationMS    int64          `json:"durationMillis"`
}

func cycleView(result cycle.CycleResult) cycleResultView {
	view := cycleResultView{
		RunID:         result.RunID,
		CorrelationID: result.CorrelationID,
		Status:        string(result.Status),
		Skipped:       result.Skipped,
		FailedStage:   string(result.FailedStage),
		ChangesCount:  result.ChangesCount,
		Delivered:     result.Delivery.Delivered,
		Undelivered:   result.Delivery.Failed,
		DurationMS:    result.Duration.Milliseconds(),
	}
	if view.Skipped {
		view.Status = "skipped"
	}
	for _, change := range result.Changes {
		if view.Changes == nil {
			view.Changes = make(map[string]int)
		}
		view.Changes[string(change.Type)]++
	}
	for _, err := range result.Errors {
		view.Errors = append(view.Errors, err.Error())
	}
	return view
}

func printCycleResult(out io.Writer, result cycle.CycleResult) {
	if result.Skipped {
		fmt.Fprintln(out, "Cycle skipped: outside the configured watch window")
		return
	}
	view := cycleView(result)
	fmt.Fprintf(out, "Run %d: %s (%d changes, %s)\n", view.RunID, view.Status, view.ChangesCount, result.Duration.Round(time.Millisecond))
	for _, kind := range catalog.ChangeTypes() {
		if n := view.Changes[string(kind)]; n > 0 {
			fmt.Fprintf(out, "  %-13s %d\n", kind, n)
		}
	}
	if view.Delivered > 0 || view.Undelivered > 0 {
		fmt.Fprintf(out, "Notifications: %d delivered, %d undelivered\n", view.Delivered, view.Undelivered)
	}
	if view.FailedStage != "" {
		fmt.Fprintf(out, "Failed stage: %s\n", view.FailedStage)
	}
	for _, msg := range view.Errors {
		fmt.Fprintf(out, "Error: %s\n", strings.TrimSpace(msg))
	}
}
