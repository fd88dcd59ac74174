package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"stockwatch/internal/cycle"
	"stockwatch/internal/logging"
	"stockwatch/internal/snapshot"
	"stockwatch/internal/statusapi"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var input string
	var schedule string
	var serve bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run cycles on a cron schedule against a snapshot file",
		Long: `Run a reconciliation cycle on every tick of a cron schedule. The
snapshot file is re-read on each tick, so the fetcher only needs to keep it
current. A tick that finds a cycle still running is skipped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer ctx.close()
			if strings.TrimSpace(input) == "" || input == "-" {
				return errors.New("watch needs --input pointing at a snapshot file")
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if strings.TrimSpace(schedule) == "" {
				schedule = cfg.Cycle.Schedule
			}
			orch, err := ctx.orchestrator()
			if err != nil {
				return err
			}
			logger := logging.NewComponentLogger(ctx.log(), "watch")

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			tick := func() {
				obs, err := snapshot.Load(input, nil, time.Now())
				if err != nil {
					logging.WarnWithContext(logger, "snapshot unreadable; tick skipped", "snapshot_unreadable",
						logging.String("input", input),
						logging.Error(err),
						logging.String(logging.FieldErrorHint, "check the fetcher writes the snapshot file"),
						logging.String(logging.FieldImpact, "no cycle ran for this tick"),
					)
					return
				}
				result, err := orch.RunOnce(runCtx, obs)
				switch {
				case errors.Is(err, cycle.ErrCycleInProgress):
					logger.Info("tick skipped; cycle in progress", logging.String(logging.FieldEventType, "tick_skipped"))
				case err != nil:
					logger.Error("cycle could not start", logging.Error(err))
				case result.Skipped:
				default:
					logger.Info("tick complete",
						logging.Int64(logging.FieldRunID, result.RunID),
						logging.String("status", string(result.Status)),
						logging.Int("changes", result.ChangesCount),
					)
				}
			}

			scheduler := cron.New(cron.WithChain(cron.Recover(cronLogger{logger})))
			if _, err := scheduler.AddFunc(schedule, tick); err != nil {
				return fmt.Errorf("invalid schedule %q: %w", schedule, err)
			}

			group, gctx := errgroup.WithContext(runCtx)
			if serve {
				store, err := ctx.openStore()
				if err != nil {
					return err
				}
				server := statusapi.New(cfg, store, ctx.emitter(), ctx.log())
				group.Go(func() error { return server.Serve(gctx) })
			}
			group.Go(func() error {
				scheduler.Start()
				logger.Info("watching",
					logging.String("schedule", schedule),
					logging.String("input", input),
				)
				<-gctx.Done()
				<-scheduler.Stop().Done()
				return nil
			})
			err = group.Wait()
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "Snapshot file re-read on each tick")
	cmd.Flags().StringVar(&schedule, "schedule", "", "Cron expression (defaults to cycle.schedule)")
	cmd.Flags().BoolVar(&serve, "serve", false, "Also serve the status API on metrics.addr")
	return cmd
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append([]any{logging.Error(err)}, keysAndValues...)...)
}
