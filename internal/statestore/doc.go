// Package statestore persists the last known catalogue state, the append-only
// change history and the run audit log.
//
// Two dialects share one query set: SQLite (the default, a single file in the
// state directory) and PostgreSQL via lib/pq. Queries are written with '?'
// placeholders and rebound for PostgreSQL. Timestamps are stored as
// fixed-width UTC text in SQLite so they compare lexically.
//
// Persist is the write path used by the cycle: item upserts and change rows
// land in one transaction, so a failed cycle never leaves changes without the
// state that produced them. Schema changes bump schemaVersion in schema.go;
// users clear the database to adopt the new schema.
package statestore
