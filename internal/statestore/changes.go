package statestore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"stockwatch/internal/catalog"
)

const changeColumns = "id, code, type, payload, occurred_at"

// ChangeFilter narrows ListChanges. Zero values mean no restriction; Limit
// defaults to 50.
type ChangeFilter struct {
	Code  string
	Type  catalog.ChangeType
	Since time.Time
	Limit int
}

// AppendChanges inserts change rows in one transaction and returns them with
// their assigned ids.
func (s *Store) AppendChanges(ctx context.Context, changes []catalog.Change) ([]catalog.Change, error) {
	return s.Persist(ctx, nil, changes)
}

func (s *Store) appendChanges(ctx context.Context, q queryer, changes []catalog.Change) ([]catalog.Change, error) {
	query := s.dialect.rebind("INSERT INTO changes (code, type, payload, occurred_at) VALUES (?, ?, ?, ?) RETURNING id")
	out := make([]catalog.Change, 0, len(changes))
	for _, change := range changes {
		payload, err := json.Marshal(change.Payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload for %s: %w", change.Code, err)
		}
		if err := q.QueryRowContext(ctx, query,
			change.Code,
			string(change.Type),
			string(payload),
			s.dialect.timeArg(change.OccurredAt),
		).Scan(&change.ID); err != nil {
			return nil, err
		}
		out = append(out, change)
	}
	return out, nil
}

// ListChanges returns change rows newest first.
func (s *Store) ListChanges(ctx context.Context, filter ChangeFilter) ([]catalog.Change, error) {
	ctx = ensureContext(ctx)
	var (
		where []string
		args  []any
	)
	if code := strings.TrimSpace(filter.Code); code != "" {
		where = append(where, "code = ?")
		args = append(args, code)
	}
	if filter.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(filter.Type))
	}
	if !filter.Since.IsZero() {
		where = append(where, "occurred_at >= ?")
		args = append(args, s.dialect.timeArg(filter.Since))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	query := "SELECT " + changeColumns + " FROM changes"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, dbError("list changes", err)
	}
	defer rows.Close()

	var changes []catalog.Change
	for rows.Next() {
		var (
			change     catalog.Change
			kind       string
			payload    string
			occurredAt dbTime
		)
		if err := rows.Scan(&change.ID, &change.Code, &kind, &payload, &occurredAt); err != nil {
			return nil, dbError("scan change", err)
		}
		change.Type = catalog.ChangeType(kind)
		change.OccurredAt = occurredAt.Time
		if err := json.Unmarshal([]byte(payload), &change.Payload); err != nil {
			return nil, dbError("decode change payload", err)
		}
		changes = append(changes, change)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("list changes", err)
	}
	return changes, nil
}

// PruneChanges deletes change rows older than cutoff. Items are never
// deleted.
func (s *Store) PruneChanges(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.exec(ctx, "DELETE FROM changes WHERE occurred_at < ?", s.dialect.timeArg(cutoff))
	if err != nil {
		return 0, dbError("prune changes", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, dbError("prune changes", err)
	}
	return n, nil
}
