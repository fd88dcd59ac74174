package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"stockwatch/internal/catalog"
	"stockwatch/internal/statestore"
	"stockwatch/internal/statusapi"
)

const historyTimeFormat = "2006-01-02 15:04:05"

func newRunsCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent reconciliation runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			defer ctx.close()
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			runs, err := store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if asJSON {
				resp := statusapi.RunListResponse{Runs: make([]statusapi.RunView, 0, len(runs))}
				for _, run := range runs {
					resp.Runs = append(resp.Runs, statusapi.FromRun(run))
				}
				return writeJSON(cmd, resp)
			}
			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded")
				return nil
			}
			colorize := shouldColorize(out)
			rows := make([][]string, 0, len(runs))
			for _, run := range runs {
				view := statusapi.FromRun(run)
				failed := ""
				if view.Summary != nil {
					failed = view.Summary.FailedStage
				}
				duration := "-"
				if run.FinishedAt != nil {
					duration = run.Duration().Round(time.Millisecond).String()
				}
				rows = append(rows, []string{
					strconv.FormatInt(run.ID, 10),
					paint(string(run.Status), statusKindColor(runStatusKind(run.Status)), colorize),
					run.FetchedAt.Local().Format(historyTimeFormat),
					duration,
					strconv.Itoa(run.ChangesCount),
					failed,
					run.Snapshot,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Status", "Fetched", "Duration", "Changes", "Failed stage", "Snapshot"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight},
			))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print runs as JSON")
	return cmd
}

func newChangesCommand(ctx *commandContext) *cobra.Command {
	var (
		limit  int
		code   string
		kind   string
		since  string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "changes",
		Short: "List recorded catalogue changes, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			defer ctx.close()
			filter := statestore.ChangeFilter{Code: strings.TrimSpace(code), Limit: limit}
			if kind != "" {
				parsed, err := catalog.ParseChangeType(kind)
				if err != nil {
					return err
				}
				filter.Type = parsed
			}
			if since != "" {
				cutoff, err := parseCutoff(since, time.Now())
				if err != nil {
					return fmt.Errorf("--since: %w", err)
				}
				filter.Since = cutoff
			}
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			changes, err := store.ListChanges(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if asJSON {
				resp := statusapi.ChangeListResponse{Changes: make([]statusapi.ChangeView, 0, len(changes))}
				for _, change := range changes {
					resp.Changes = append(resp.Changes, statusapi.FromChange(change))
				}
				return writeJSON(cmd, resp)
			}
			out := cmd.OutOrStdout()
			if len(changes) == 0 {
				fmt.Fprintln(out, "No changes recorded")
				return nil
			}
			rows := make([][]string, 0, len(changes))
			for _, change := range changes {
				p := change.Payload
				rows = append(rows, []string{
					strconv.FormatInt(change.ID, 10),
					change.OccurredAt.Local().Format(historyTimeFormat),
					string(change.Type),
					change.Code,
					p.Title,
					strconv.FormatInt(p.Price, 10),
					yesNo(p.InStock),
					changeDetail(p),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Occurred", "Type", "Code", "Title", "Price", "In stock", "Detail"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
			))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Number of changes to show")
	cmd.Flags().StringVar(&code, "code", "", "Only changes for this item code")
	cmd.Flags().StringVar(&kind, "type", "", "Only this change type (NEW, RESTOCK, SOLDOUT, TITLE_UPDATE, PRICE_UPDATE)")
	cmd.Flags().StringVar(&since, "since", "", "Only changes after this age (e.g. 24h, 7d) or RFC3339 time")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print changes as JSON")
	return cmd
}

func changeDetail(p catalog.Payload) string {
	var parts []string
	if p.TitleChanged() {
		parts = append(parts, fmt.Sprintf("title was %q", *p.PreviousTitle))
	}
	if p.PriceChanged() {
		parts = append(parts, fmt.Sprintf("price was %d", *p.PreviousPrice))
	}
	return strings.Join(parts, "; ")
}

// parseCutoff accepts an RFC3339 time or an age such as "36h" or "30d".
func parseCutoff(value string, now time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	age, err := parseAge(value)
	if err != nil {
		return time.Time{}, err
	}
	return now.Add(-age), nil
}

func parseAge(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if days, ok := strings.CutSuffix(value, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid age %q", value)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid age %q (use e.g. 36h or 30d)", value)
	}
	return d, nil
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
