package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeStore(); err != nil {
		return err
	}
	if err := c.normalizeNotifications(); err != nil {
		return err
	}
	if err := c.normalizeWindow(); err != nil {
		return err
	}
	if err := c.normalizeMetrics(); err != nil {
		return err
	}
	c.normalizeCycle()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeStore() error {
	url, err := lookupEnv("STOCKWATCH_DATABASE_URL")
	if err != nil {
		return err
	}
	if url == "" {
		if url, err = lookupEnv("DATABASE_URL"); err != nil {
			return err
		}
	}
	if url != "" {
		switch {
		case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
			c.Store.Driver = DriverPostgres
			c.Store.DSN = url
		default:
			c.Store.Driver = DriverSQLite
			c.Store.Path = strings.TrimPrefix(strings.TrimPrefix(url, "sqlite://"), "file:")
		}
	}

	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	switch c.Store.Driver {
	case "", "sqlite3":
		c.Store.Driver = DriverSQLite
	case "postgresql", "pq":
		c.Store.Driver = DriverPostgres
	}
	c.Store.DSN = strings.TrimSpace(c.Store.DSN)
	if c.Store.Driver == DriverSQLite {
		if strings.TrimSpace(c.Store.Path) == "" {
			c.Store.Path = filepath.Join(c.Paths.StateDir, defaultStoreFile)
		}
		if c.Store.Path, err = expandPath(c.Store.Path); err != nil {
			return fmt.Errorf("store.path: %w", err)
		}
	}
	return nil
}

func (c *Config) normalizeNotifications() error {
	n := &c.Notifications
	overrides := []struct {
		env    string
		target *string
	}{
		{env: "DISCORD_WEBHOOK_URL", target: &n.Discord.WebhookURL},
		{env: "ALERT_WEBHOOK_URL", target: &n.AlertWebhookURL},
		{env: "NTFY_TOPIC", target: &n.Ntfy.Topic},
		{env: "REDIS_URL", target: &n.Redis.URL},
	}
	for _, o := range overrides {
		value, err := lookupEnv(o.env)
		if err != nil {
			return err
		}
		if value != "" {
			*o.target = value
		}
		*o.target = strings.TrimSpace(*o.target)
	}

	n.Discord.Username = strings.TrimSpace(n.Discord.Username)
	if n.Discord.Username == "" {
		n.Discord.Username = defaultDiscordUsername
	}
	n.Redis.Channel = strings.TrimSpace(n.Redis.Channel)
	if n.Redis.Channel == "" {
		n.Redis.Channel = defaultRedisChannel
	}
	if n.Parallelism <= 0 {
		n.Parallelism = defaultParallelism
	}
	return nil
}

func (c *Config) normalizeWindow() error {
	start, err := lookupEnv("START_TIME")
	if err != nil {
		return err
	}
	end, err := lookupEnv("END_TIME")
	if err != nil {
		return err
	}
	if start != "" {
		c.Window.Start = start
	}
	if end != "" {
		c.Window.End = end
	}
	c.Window.Start = strings.TrimSpace(c.Window.Start)
	c.Window.End = strings.TrimSpace(c.Window.End)
	return nil
}

func (c *Config) normalizeMetrics() error {
	addr, err := lookupEnv("METRICS_ADDR")
	if err != nil {
		return err
	}
	if addr != "" {
		c.Metrics.Addr = addr
	}
	token, err := lookupEnv("API_TOKEN")
	if err != nil {
		return err
	}
	if token != "" {
		c.Metrics.Token = token
	}
	pushURL, err := lookupEnv("PROM_PUSHGATEWAY_URL")
	if err != nil {
		return err
	}
	if pushURL != "" {
		c.Metrics.PushgatewayURL = pushURL
	}
	c.Metrics.PushgatewayURL = strings.TrimRight(strings.TrimSpace(c.Metrics.PushgatewayURL), "/")
	c.Metrics.PushJob = strings.TrimSpace(c.Metrics.PushJob)
	if c.Metrics.PushJob == "" {
		c.Metrics.PushJob = defaultPushJob
	}
	c.Metrics.Addr = strings.TrimSpace(c.Metrics.Addr)
	c.Metrics.Token = strings.TrimSpace(c.Metrics.Token)
	c.Metrics.Namespace = strings.TrimSpace(c.Metrics.Namespace)
	return nil
}

func (c *Config) normalizeCycle() {
	c.Cycle.Schedule = strings.TrimSpace(c.Cycle.Schedule)
	if c.Cycle.Schedule == "" {
		c.Cycle.Schedule = defaultCycleSchedule
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

// lookupEnv reads name, falling back to the file named by name_FILE so
// secrets can be mounted instead of exported.
func lookupEnv(name string) (string, error) {
	if value, ok := os.LookupEnv(name); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value), nil
	}
	path, ok := os.LookupEnv(name + "_FILE")
	if !ok || strings.TrimSpace(path) == "" {
		return "", nil
	}
	data, err := os.ReadFile(strings.TrimSpace(path))
	if err != nil {
		return "", fmt.Errorf("%s_FILE: %w", name, err)
	}
	return strings.TrimSpace(string(data)), nil
}
