package statestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"stockwatch/internal/catalog"
)

const runColumns = "id, fetched_at, status, snapshot, correlation_id, finished_at, changes_count, summary"

// ErrRunClosed is returned when finishing a run that is unknown or already
// finished.
var ErrRunClosed = errors.New("run not open")

// RunOutcome closes a run audit row.
type RunOutcome struct {
	Status       catalog.RunStatus
	FinishedAt   time.Time
	ChangesCount int
	Summary      string
}

// RecordRun inserts a run audit row and returns its id. The status defaults
// to running.
func (s *Store) RecordRun(ctx context.Context, run catalog.Run) (int64, error) {
	ctx = ensureContext(ctx)
	status := run.Status
	if status == "" {
		status = catalog.RunRunning
	}
	query := s.dialect.rebind("INSERT INTO runs (fetched_at, status, snapshot, correlation_id) VALUES (?, ?, ?, ?) RETURNING id")
	var id int64
	err := s.retry(ctx, func() error {
		return s.db.QueryRowContext(ctx, query,
			s.dialect.timeArg(run.FetchedAt),
			string(status),
			nullableString(run.Snapshot),
			run.CorrelationID,
		).Scan(&id)
	})
	if err != nil {
		return 0, dbError("record run", err)
	}
	return id, nil
}

// UpdateRunStatus sets the status of an existing run.
func (s *Store) UpdateRunStatus(ctx context.Context, id int64, status catalog.RunStatus) error {
	res, err := s.exec(ctx, "UPDATE runs SET status = ? WHERE id = ?", string(status), id)
	if err != nil {
		return dbError("update run status", err)
	}
	return expectOneRow(res, id)
}

// FinishRun writes the terminal status and audit fields of a run. A run can
// be finished once.
func (s *Store) FinishRun(ctx context.Context, id int64, outcome RunOutcome) error {
	if !outcome.Status.Terminal() {
		return dbError("finish run", fmt.Errorf("status %q is not terminal", outcome.Status))
	}
	res, err := s.exec(ctx,
		"UPDATE runs SET status = ?, finished_at = ?, changes_count = ?, summary = ? WHERE id = ? AND finished_at IS NULL",
		string(outcome.Status),
		s.dialect.timeArg(outcome.FinishedAt),
		outcome.ChangesCount,
		outcome.Summary,
		id,
	)
	if err != nil {
		return dbError("finish run", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return dbError("finish run", err)
	}
	if n == 0 {
		return dbError("finish run", fmt.Errorf("%w: %d", ErrRunClosed, id))
	}
	return nil
}

// AbandonRunning closes runs left in the running state by a process that
// died mid-cycle. It must only be called while holding the cycle lock.
func (s *Store) AbandonRunning(ctx context.Context, finishedAt time.Time, summary string) (int64, error) {
	res, err := s.exec(ctx,
		"UPDATE runs SET status = ?, finished_at = ?, summary = ? WHERE status = ?",
		string(catalog.RunFailure),
		s.dialect.timeArg(finishedAt),
		summary,
		string(catalog.RunRunning),
	)
	if err != nil {
		return 0, dbError("abandon running runs", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, dbError("abandon running runs", err)
	}
	return n, nil
}

// GetRun returns the run with id, or nil when it does not exist.
func (s *Store) GetRun(ctx context.Context, id int64) (*catalog.Run, error) {
	query := s.dialect.rebind("SELECT " + runColumns + " FROM runs WHERE id = ?")
	run, err := scanRun(s.db.QueryRowContext(ensureContext(ctx), query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dbError("get run", err)
	}
	return &run, nil
}

// LatestRun returns the most recent run, or nil when none exist.
func (s *Store) LatestRun(ctx context.Context) (*catalog.Run, error) {
	runs, err := s.ListRuns(ctx, 1)
	if err != nil || len(runs) == 0 {
		return nil, err
	}
	return &runs[0], nil
}

// ListRuns returns runs newest first. Limit defaults to 20.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]catalog.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	query := s.dialect.rebind("SELECT " + runColumns + " FROM runs ORDER BY id DESC LIMIT ?")
	rows, err := s.db.QueryContext(ensureContext(ctx), query, limit)
	if err != nil {
		return nil, dbError("list runs", err)
	}
	defer rows.Close()

	var runs []catalog.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, dbError("scan run", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("list runs", err)
	}
	return runs, nil
}

// PruneRuns deletes finished runs fetched before cutoff.
func (s *Store) PruneRuns(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.exec(ctx, "DELETE FROM runs WHERE fetched_at < ? AND status <> ?", s.dialect.timeArg(cutoff), string(catalog.RunRunning))
	if err != nil {
		return 0, dbError("prune runs", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, dbError("prune runs", err)
	}
	return n, nil
}

func scanRun(scanner rowScanner) (catalog.Run, error) {
	var (
		run        catalog.Run
		fetchedAt  dbTime
		finishedAt dbTime
		status     string
		snapshot   sql.NullString
	)
	if err := scanner.Scan(&run.ID, &fetchedAt, &status, &snapshot, &run.CorrelationID, &finishedAt, &run.ChangesCount, &run.Summary); err != nil {
		return catalog.Run{}, err
	}
	run.FetchedAt = fetchedAt.Time
	run.FinishedAt = finishedAt.ptr()
	run.Status = catalog.RunStatus(status)
	run.Snapshot = snapshot.String
	return run, nil
}

func expectOneRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return dbError("rows affected", err)
	}
	if n == 0 {
		return dbError("update run", fmt.Errorf("run %d not found", id))
	}
	return nil
}
