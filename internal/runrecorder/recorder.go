package runrecorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"stockwatch/internal/catalog"
	"stockwatch/internal/faults"
	"stockwatch/internal/logging"
	"stockwatch/internal/statestore"
)

// ErrAlreadyFinished is returned by a second Finish for the same run.
var ErrAlreadyFinished = errors.New("run already finished")

// RunStore is the subset of the state store the recorder needs.
type RunStore interface {
	RecordRun(ctx context.Context, run catalog.Run) (int64, error)
	FinishRun(ctx context.Context, id int64, outcome statestore.RunOutcome) error
	AbandonRunning(ctx context.Context, finishedAt time.Time, summary string) (int64, error)
}

// Recorder writes run audit rows.
type Recorder struct {
	store  RunStore
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	started map[int64]time.Time
	// lastFinished short-circuits a repeated Finish for the most recent
	// run; older ids fall through to the store guard.
	lastFinished int64
}

// Option customizes a Recorder.
type Option func(*Recorder)

// WithLogger sets the recorder logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		if now != nil {
			r.now = now
		}
	}
}

// New builds a recorder on store.
func New(store RunStore, opts ...Option) *Recorder {
	r := &Recorder{
		store:   store,
		logger:  logging.NewNop(),
		now:     time.Now,
		started: make(map[int64]time.Time),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.NewComponentLogger(r.logger, "runrecorder")
	return r
}

// Start opens a running audit row for obs and returns its id.
func (r *Recorder) Start(ctx context.Context, obs catalog.Observation, correlationID string) (int64, error) {
	fetchedAt := obs.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = r.now()
	}
	id, err := r.store.RecordRun(ctx, catalog.Run{
		FetchedAt:     fetchedAt.UTC(),
		Status:        catalog.RunRunning,
		Snapshot:      obs.Snapshot,
		CorrelationID: correlationID,
	})
	if err != nil {
		return 0, err
	}
	r.mu.Lock()
	r.started[id] = r.now()
	r.mu.Unlock()
	r.logger.Debug("run started",
		logging.Int64(logging.FieldRunID, id),
		logging.String(logging.FieldCorrelationID, correlationID),
	)
	return id, nil
}

// Finish closes a run. It succeeds at most once per run id; a failed store
// write leaves the run open so the call can be repeated.
func (r *Recorder) Finish(ctx context.Context, runID int64, status catalog.RunStatus, summary Summary) error {
	if !status.Terminal() {
		return faults.Wrap(faults.ErrInternal, "recorded", "finish run", fmt.Sprintf("status %q is not terminal", status), nil)
	}
	r.mu.Lock()
	if runID == r.lastFinished {
		r.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrAlreadyFinished, runID)
	}
	startedAt, ok := r.started[runID]
	r.mu.Unlock()

	finishedAt := r.now()
	if ok && summary.DurationMillis == 0 {
		summary.DurationMillis = finishedAt.Sub(startedAt).Milliseconds()
	}
	err := r.store.FinishRun(ctx, runID, statestore.RunOutcome{
		Status:       status,
		FinishedAt:   finishedAt.UTC(),
		ChangesCount: summary.ChangesCount,
		Summary:      summary.Encode(),
	})
	if errors.Is(err, statestore.ErrRunClosed) {
		r.markFinished(runID)
		return fmt.Errorf("%w: %d", ErrAlreadyFinished, runID)
	}
	if err != nil {
		return err
	}
	r.markFinished(runID)
	r.logger.Info("run finished",
		logging.Int64(logging.FieldRunID, runID),
		logging.String("status", string(status)),
		logging.Int("changes", summary.ChangesCount),
		logging.Int64("duration_ms", summary.DurationMillis),
	)
	return nil
}

func (r *Recorder) markFinished(runID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.started, runID)
	r.lastFinished = runID
}

// AbandonStale closes every run still marked running as a failure. Call it
// only while holding the cycle lock.
func (r *Recorder) AbandonStale(ctx context.Context) (int64, error) {
	summary := Summary{
		ErrorKind: string(faults.KindInternal),
		Error:     "abandoned: process exited before the run finished",
	}
	n, err := r.store.AbandonRunning(ctx, r.now().UTC(), summary.Encode())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logging.WarnWithContext(r.logger, "closed abandoned runs", "runs_abandoned",
			logging.Int64("count", n),
			logging.String(logging.FieldErrorHint, "a previous cycle was interrupted; check for crashes or kills"),
			logging.String(logging.FieldImpact, "those runs are recorded as failures"),
		)
	}
	return n, nil
}
