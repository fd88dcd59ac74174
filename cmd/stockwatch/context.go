package main

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"stockwatch/internal/config"
	"stockwatch/internal/cycle"
	"stockwatch/internal/logging"
	"stockwatch/internal/metrics"
	"stockwatch/internal/notify"
	"stockwatch/internal/statestore"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger

	store      *statestore.Store
	dispatcher *notify.Dispatcher
	metrics    *metrics.Emitter
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

// log returns the process logger. A logger that cannot open its file output
// falls back to console-only output.
func (c *commandContext) log() *slog.Logger {
	c.loggerOnce.Do(func() {
		logger, err := logging.NewFromConfig(c.configValue())
		if err != nil {
			logger, _ = logging.New(logging.Options{Level: "info", Format: "console"})
			logger.Warn("file logging unavailable", logging.Error(err))
		}
		c.logger = logger
	})
	return c.logger
}

func (c *commandContext) openStore() (*statestore.Store, error) {
	if c.store != nil {
		return c.store, nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	store, err := statestore.Open(cfg)
	if err != nil {
		return nil, err
	}
	c.store = store
	return store, nil
}

func (c *commandContext) emitter() *metrics.Emitter {
	if c.metrics == nil {
		namespace := ""
		if cfg := c.configValue(); cfg != nil {
			namespace = cfg.Metrics.Namespace
		}
		c.metrics = metrics.New(namespace)
	}
	return c.metrics
}

// pushMetrics sends the cycle metrics to the configured Pushgateway. A push
// failure is logged and never changes the command outcome.
func (c *commandContext) pushMetrics(ctx context.Context) {
	cfg := c.configValue()
	if cfg == nil || cfg.Metrics.PushgatewayURL == "" || c.metrics == nil {
		return
	}
	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := c.metrics.Push(pushCtx, cfg.Metrics.PushgatewayURL, cfg.Metrics.PushJob); err != nil {
		logging.WarnWithContext(c.log(), "metrics push failed", "metrics_push_failed",
			logging.String("gateway", cfg.Metrics.PushgatewayURL),
			logging.String(logging.FieldErrorHint, "check metrics.pushgateway_url and that the Pushgateway is reachable"),
			logging.String(logging.FieldImpact, "metrics for this run are not scraped"),
			logging.Error(err),
		)
		return
	}
	c.log().Debug("metrics pushed", logging.String("gateway", cfg.Metrics.PushgatewayURL), logging.String("job", cfg.Metrics.PushJob))
}

func (c *commandContext) openDispatcher() (*notify.Dispatcher, error) {
	if c.dispatcher != nil {
		return c.dispatcher, nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	dispatcher, err := notify.NewFromConfig(cfg,
		notify.WithLogger(c.log()),
		notify.WithMetrics(c.emitter()),
	)
	if err != nil {
		return nil, err
	}
	c.dispatcher = dispatcher
	return dispatcher, nil
}

// orchestrator wires the store, dispatcher and metrics into a cycle runner.
func (c *commandContext) orchestrator() (*cycle.Orchestrator, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	store, err := c.openStore()
	if err != nil {
		return nil, err
	}
	dispatcher, err := c.openDispatcher()
	if err != nil {
		return nil, err
	}
	return cycle.New(cfg, store, dispatcher, c.log(), cycle.WithMetrics(c.emitter())), nil
}

func (c *commandContext) close() error {
	var errs []error
	if c.dispatcher != nil {
		errs = append(errs, c.dispatcher.Close())
		c.dispatcher = nil
	}
	if c.store != nil {
		errs = append(errs, c.store.Close())
		c.store = nil
	}
	return errors.Join(errs...)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
