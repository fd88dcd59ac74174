package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"stockwatch/internal/statusapi"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve health, run history and metrics over HTTP",
		Long: `Serve health, run history and metrics over HTTP.

Cycle metrics live in the process that ran the cycle, so /metrics on a
standalone 'serve' only reports process metrics. Use 'watch --serve' to
scrape cycle metrics, or push them from 'run' with metrics.pushgateway_url.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer ctx.close()
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Metrics.Addr = addr
			}
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return statusapi.New(cfg, store, ctx.emitter(), ctx.log()).Serve(runCtx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (defaults to metrics.addr)")
	return cmd
}
