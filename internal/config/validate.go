package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"

	"stockwatch/internal/faults"
)

// Validate ensures the configuration is usable. Failures are tagged with
// faults.ErrConfig.
func (c *Config) Validate() error {
	checks := []func() error{
		c.validateStore,
		c.validateCycle,
		c.validateWindow,
		c.validateNotifications,
		c.validateMetrics,
		c.validateLogging,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return faults.Wrap(faults.ErrConfig, "config", "validate", "", err)
		}
	}
	return nil
}

func (c *Config) validateStore() error {
	switch c.Store.Driver {
	case DriverSQLite:
		if strings.TrimSpace(c.Store.Path) == "" {
			return errors.New("store.path must be set for the sqlite driver")
		}
	case DriverPostgres:
		if c.Store.DSN == "" {
			return errors.New("store.dsn must be set for the postgres driver (or set DATABASE_URL)")
		}
	default:
		return fmt.Errorf("store.driver: unsupported value %q", c.Store.Driver)
	}
	return nil
}

func (c *Config) validateCycle() error {
	if c.Cycle.TimeoutSeconds <= 0 {
		return errors.New("cycle.timeout_seconds must be positive")
	}
	if _, err := cron.ParseStandard(c.Cycle.Schedule); err != nil {
		return fmt.Errorf("cycle.schedule: %w", err)
	}
	return nil
}

func (c *Config) validateWindow() error {
	if (c.Window.Start == "") != (c.Window.End == "") {
		return errors.New("window.start and window.end must be set together")
	}
	if _, err := c.Window.parse(); err != nil {
		return err
	}
	return nil
}

const maxNotificationAttempts = 10

func (c *Config) validateNotifications() error {
	n := c.Notifications
	if err := ensurePositiveMap(map[string]int{
		"notifications.request_timeout":          n.RequestTimeout,
		"notifications.event_timeout":            n.EventTimeout,
		"notifications.max_attempts":             n.MaxAttempts,
		"notifications.base_backoff_ms":          n.BaseBackoffMillis,
		"notifications.max_backoff_ms":           n.MaxBackoffMillis,
		"notifications.breaker_threshold":        n.BreakerThreshold,
		"notifications.breaker_window_seconds":   n.BreakerWindowSeconds,
		"notifications.breaker_cooldown_seconds": n.BreakerCooldownSeconds,
		"notifications.parallelism":              n.Parallelism,
	}); err != nil {
		return err
	}
	if n.MaxAttempts > maxNotificationAttempts {
		return fmt.Errorf("notifications.max_attempts must be <= %d", maxNotificationAttempts)
	}
	if n.MaxBackoffMillis < n.BaseBackoffMillis {
		return errors.New("notifications.max_backoff_ms must be >= notifications.base_backoff_ms")
	}
	for key, value := range map[string]string{
		"notifications.discord.webhook_url": n.Discord.WebhookURL,
		"notifications.ntfy.topic":          n.Ntfy.Topic,
		"notifications.alert_webhook_url":   n.AlertWebhookURL,
	} {
		if err := validateHTTPURL(key, value); err != nil {
			return err
		}
	}
	if n.Redis.URL != "" {
		parsed, err := url.Parse(n.Redis.URL)
		if err != nil || (parsed.Scheme != "redis" && parsed.Scheme != "rediss") {
			return errors.New("notifications.redis.url must be a redis:// or rediss:// URL")
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
}

func (c *Config) validateMetrics() error {
	return validateHTTPURL("metrics.pushgateway_url", c.Metrics.PushgatewayURL)
}

func validateHTTPURL(key, value string) error {
	if value == "" {
		return nil
	}
	parsed, err := url.Parse(value)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return fmt.Errorf("%s must be an http(s) URL", key)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
