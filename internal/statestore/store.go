package statestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"stockwatch/internal/config"
	"stockwatch/internal/faults"
)

// Store manages catalogue state, change history and run audit persistence.
type Store struct {
	db      *sql.DB
	dialect dialect
	source  string
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// retry runs op, retrying SQLite busy errors with exponential backoff.
// PostgreSQL operations run exactly once.
func (s *Store) retry(ctx context.Context, op func() error) error {
	if !s.dialect.retryBusy {
		return op()
	}
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx = ensureContext(ctx)
	var (
		res     sql.Result
		execErr error
	)
	query = s.dialect.rebind(query)
	if err := s.retry(ctx, func() error {
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

// Open initializes or connects to the state database selected by cfg.
func Open(cfg *config.Config) (*Store, error) {
	if cfg == nil {
		return nil, faults.Wrap(faults.ErrConfig, "statestore", "open", "config is required", nil)
	}
	driver, source := cfg.StoreTarget()
	if driver == config.DriverSQLite {
		if err := cfg.EnsureDirectories(); err != nil {
			return nil, fmt.Errorf("ensure directories: %w", err)
		}
	}
	return OpenDriver(context.Background(), driver, source)
}

// OpenDriver connects to a state database with an explicit driver and data
// source. The sqlite source is a file path; the postgres source is a DSN.
func OpenDriver(ctx context.Context, driver, source string) (*Store, error) {
	ctx = ensureContext(ctx)
	var d dialect
	switch driver {
	case config.DriverSQLite:
		d = sqliteDialect
	case config.DriverPostgres:
		d = postgresDialect
	default:
		return nil, faults.Wrap(faults.ErrConfig, "statestore", "open", fmt.Sprintf("unsupported driver %q", driver), nil)
	}

	db, err := sql.Open(d.driverName, source)
	if err != nil {
		return nil, faults.Wrap(faults.ErrDatabase, "statestore", "open", d.name, err)
	}

	if d.name == config.DriverSQLite {
		pragmas := []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA foreign_keys = ON",
			"PRAGMA busy_timeout = 5000",
		}
		for _, pragma := range pragmas {
			if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
				_ = db.Close()
				return nil, faults.Wrap(faults.ErrDatabase, "statestore", "open", fmt.Sprintf("apply pragma %q", pragma), execErr)
			}
		}
	} else if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, faults.Wrap(faults.ErrDatabase, "statestore", "open", "ping postgres", err)
	}

	store := &Store{db: db, dialect: d, source: source}
	if err := store.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, faults.Wrap(faults.ErrDatabase, "statestore", "init schema", "", err)
	}
	return store, nil
}

// Driver reports the active dialect name.
func (s *Store) Driver() string {
	return s.dialect.name
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ensureContext(ctx)); err != nil {
		return faults.Wrap(faults.ErrDatabase, "statestore", "ping", "", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func dbError(operation string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return faults.Wrap(faults.ErrTimeout, "statestore", operation, "", err)
	}
	return faults.Wrap(faults.ErrDatabase, "statestore", operation, "", err)
}
