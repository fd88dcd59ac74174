package statestore

import (
	_ "embed"
	"strconv"
	"strings"
	"time"

	"stockwatch/internal/config"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

//go:embed schema_postgres.sql
var postgresSchema string

// sqliteTimeLayout keeps nanosecond precision at a fixed width so stored
// values order lexically.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

type dialect struct {
	name        string
	driverName  string
	schema      string
	tableExists string
	retryBusy   bool
}

var (
	sqliteDialect = dialect{
		name:        config.DriverSQLite,
		driverName:  "sqlite",
		schema:      sqliteSchema,
		tableExists: "SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
		retryBusy:   true,
	}
	postgresDialect = dialect{
		name:        config.DriverPostgres,
		driverName:  "postgres",
		schema:      postgresSchema,
		tableExists: "SELECT COUNT(1) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = 'schema_version'",
	}
)

// rebind rewrites '?' placeholders into the dialect's positional form.
func (d dialect) rebind(query string) string {
	if d.name != config.DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// timeArg converts t into the dialect's stored timestamp representation.
func (d dialect) timeArg(t time.Time) any {
	if d.name == config.DriverPostgres {
		return t.UTC()
	}
	return t.UTC().Format(sqliteTimeLayout)
}
