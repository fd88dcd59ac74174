package config

const (
	defaultStateDir               = "~/.local/share/stockwatch"
	defaultLogDir                 = "~/.local/share/stockwatch/logs"
	defaultStoreDriver            = DriverSQLite
	defaultStoreFile              = "stockwatch.db"
	defaultLockFile               = "stockwatch.lock"
	defaultCycleTimeoutSeconds    = 120
	defaultCycleSchedule          = "*/10 * * * *"
	defaultRequestTimeout         = 10
	defaultEventTimeout           = 30
	defaultMaxAttempts            = 3
	defaultBaseBackoffMillis      = 500
	defaultMaxBackoffMillis       = 10000
	defaultBreakerThreshold       = 5
	defaultBreakerWindowSeconds   = 300
	defaultBreakerCooldownSeconds = 120
	defaultParallelism            = 4
	defaultDiscordUsername        = "stockwatch"
	defaultRedisChannel           = "stockwatch:events"
	defaultMetricsAddr            = "127.0.0.1:9108"
	defaultMetricsNamespace       = "stockwatch"
	defaultPushJob                = "stockwatch"
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
		},
		Store: Store{
			Driver: defaultStoreDriver,
		},
		Cycle: Cycle{
			TimeoutSeconds: defaultCycleTimeoutSeconds,
			Schedule:       defaultCycleSchedule,
		},
		Notifications: Notifications{
			RequestTimeout:         defaultRequestTimeout,
			EventTimeout:           defaultEventTimeout,
			MaxAttempts:            defaultMaxAttempts,
			BaseBackoffMillis:      defaultBaseBackoffMillis,
			MaxBackoffMillis:       defaultMaxBackoffMillis,
			BreakerThreshold:       defaultBreakerThreshold,
			BreakerWindowSeconds:   defaultBreakerWindowSeconds,
			BreakerCooldownSeconds: defaultBreakerCooldownSeconds,
			Parallelism:            defaultParallelism,
			Discord: Discord{
				Username: defaultDiscordUsername,
			},
			Redis: Redis{
				Channel: defaultRedisChannel,
			},
		},
		Metrics: Metrics{
			Addr:      defaultMetricsAddr,
			Namespace: defaultMetricsNamespace,
			PushJob:   defaultPushJob,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
