package testsupport

import (
	"path/filepath"
	"testing"

	"stockwatch/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Store.Driver = config.DriverSQLite
	cfgVal.Store.Path = filepath.Join(base, "state", "stockwatch.db")
	cfgVal.Cycle.TimeoutSeconds = 10
	cfgVal.Metrics.Addr = "127.0.0.1:0"
	cfgVal.Notifications.BaseBackoffMillis = 1
	cfgVal.Notifications.MaxBackoffMillis = 5
	cfgVal.Notifications.RequestTimeout = 2
	cfgVal.Notifications.EventTimeout = 5

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithDiscordWebhook points the Discord channel at url.
func WithDiscordWebhook(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Notifications.Discord.WebhookURL = url
	}
}

// WithNtfyTopic points the ntfy channel at url.
func WithNtfyTopic(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Notifications.Ntfy.Topic = url
	}
}

// WithAlertWebhook sets the dedicated alert channel.
func WithAlertWebhook(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Notifications.AlertWebhookURL = url
	}
}

// WithWindow restricts cycles to the HH:MM window.
func WithWindow(start, end string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Window.Start = start
		b.cfg.Window.End = end
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
