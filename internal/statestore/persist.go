package statestore

import (
	"context"
	"fmt"

	"stockwatch/internal/catalog"
)

// Persist upserts items and appends changes atomically. On failure nothing
// is written. The returned changes carry their assigned ids.
func (s *Store) Persist(ctx context.Context, items []catalog.Item, changes []catalog.Change) ([]catalog.Change, error) {
	ctx = ensureContext(ctx)
	if len(items) == 0 && len(changes) == 0 {
		return nil, nil
	}
	var stored []catalog.Change
	err := s.retry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if err := s.upsertItems(ctx, tx, items); err != nil {
			return fmt.Errorf("upsert items: %w", err)
		}
		appended, err := s.appendChanges(ctx, tx, changes)
		if err != nil {
			return fmt.Errorf("append changes: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		stored = appended
		return nil
	})
	if err != nil {
		return nil, dbError("persist", err)
	}
	return stored, nil
}
