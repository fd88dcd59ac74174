package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"stockwatch/internal/faults"
	"stockwatch/internal/fileutil"
)

//go:embed sample_config.toml
var sampleConfig string

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Paths contains directory configuration.
type Paths struct {
	StateDir string `toml:"state_dir"`
	LogDir   string `toml:"log_dir"`
}

// Store selects the state database. Path is used by the sqlite driver and
// defaults to stockwatch.db inside the state directory; DSN is used by the
// postgres driver.
type Store struct {
	Driver string `toml:"driver"`
	Path   string `toml:"path"`
	DSN    string `toml:"dsn"`
}

// Cycle contains reconciliation cycle limits.
type Cycle struct {
	TimeoutSeconds int    `toml:"timeout_seconds"`
	Schedule       string `toml:"schedule"`
}

// Window restricts cycles to a daily local-time window in HH:MM form. An
// empty window means cycles always run. The window may wrap midnight.
type Window struct {
	Start string `toml:"start"`
	End   string `toml:"end"`
}

// Discord contains the webhook used for change notifications.
type Discord struct {
	WebhookURL string `toml:"webhook_url"`
	Username   string `toml:"username"`
}

// Ntfy contains the ntfy topic URL used for change notifications.
type Ntfy struct {
	Topic string `toml:"topic"`
}

// Redis contains the pub/sub target used for change notifications.
type Redis struct {
	URL     string `toml:"url"`
	Channel string `toml:"channel"`
}

// Notifications contains channel targets plus retry and breaker knobs.
type Notifications struct {
	Discord                Discord `toml:"discord"`
	Ntfy                   Ntfy    `toml:"ntfy"`
	Redis                  Redis   `toml:"redis"`
	AlertWebhookURL        string  `toml:"alert_webhook_url"`
	RequestTimeout         int     `toml:"request_timeout"`
	EventTimeout           int     `toml:"event_timeout"`
	MaxAttempts            int     `toml:"max_attempts"`
	BaseBackoffMillis      int     `toml:"base_backoff_ms"`
	MaxBackoffMillis       int     `toml:"max_backoff_ms"`
	BreakerThreshold       int     `toml:"breaker_threshold"`
	BreakerWindowSeconds   int     `toml:"breaker_window_seconds"`
	BreakerCooldownSeconds int     `toml:"breaker_cooldown_seconds"`
	Parallelism            int     `toml:"parallelism"`
}

// Metrics contains the status API listener and Prometheus exposition
// settings. An empty Token leaves the API unauthenticated. PushgatewayURL,
// when set, receives the metrics of every one-shot 'run' under PushJob.
type Metrics struct {
	Addr           string `toml:"addr"`
	Namespace      string `toml:"namespace"`
	Token          string `toml:"token"`
	PushgatewayURL string `toml:"pushgateway_url"`
	PushJob        string `toml:"push_job"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for stockwatch.
//
// Configuration sections by subsystem:
//   - Paths: state and log directories
//   - Store: sqlite file or postgres DSN
//   - Cycle: deadline and watch schedule
//   - Window: daily active hours
//   - Notifications: channels, retry policy and circuit breaker
//   - Metrics: Prometheus listener
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Store         Store         `toml:"store"`
	Cycle         Cycle         `toml:"cycle"`
	Window        Window        `toml:"window"`
	Notifications Notifications `toml:"notifications"`
	Metrics       Metrics       `toml:"metrics"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/stockwatch/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, faults.Wrap(faults.ErrConfig, "config", "parse", resolvedPath, err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, faults.Wrap(faults.ErrConfig, "config", "normalize", "", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("stockwatch.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the state and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if c.Store.Driver == DriverSQLite {
		if err := os.MkdirAll(filepath.Dir(c.Store.Path), 0o755); err != nil {
			return fmt.Errorf("create store directory: %w", err)
		}
	}
	return nil
}

// LockPath returns the advisory lock file guarding the single active cycle.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, defaultLockFile)
}

// StoreTarget returns the driver name and data source for the state store.
func (c *Config) StoreTarget() (driver, source string) {
	if c.Store.Driver == DriverPostgres {
		return DriverPostgres, c.Store.DSN
	}
	return DriverSQLite, c.Store.Path
}

// CycleTimeout returns the wall-clock deadline for one cycle.
func (c *Config) CycleTimeout() time.Duration {
	return time.Duration(c.Cycle.TimeoutSeconds) * time.Second
}

// HasChannels reports whether at least one change notification channel is configured.
func (c *Config) HasChannels() bool {
	n := c.Notifications
	return n.Discord.WebhookURL != "" || n.Ntfy.Topic != "" || n.Redis.URL != ""
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if err := fileutil.WriteFileAtomic(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
