package cycle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"stockwatch/internal/catalog"
	"stockwatch/internal/config"
	"stockwatch/internal/logging"
	"stockwatch/internal/metrics"
	"stockwatch/internal/notify"
	"stockwatch/internal/runrecorder"
)

// ErrCycleInProgress is returned when another cycle holds the lock.
var ErrCycleInProgress = errors.New("cycle already in progress")

// Stage names a step of the cycle state machine.
type Stage string

const (
	StageFetched   Stage = "fetched"
	StageDiffed    Stage = "diffed"
	StagePersisted Stage = "persisted"
	StageNotified  Stage = "notified"
	StageRecorded  Stage = "recorded"
	StageDone      Stage = "done"
)

// Store is the state the orchestrator reads and writes.
type Store interface {
	GetAll(ctx context.Context) (map[string]catalog.Item, error)
	Persist(ctx context.Context, items []catalog.Item, changes []catalog.Change) ([]catalog.Change, error)
	runrecorder.RunStore
}

// Notifier delivers events. *notify.Dispatcher satisfies it.
type Notifier interface {
	Deliver(ctx context.Context, event notify.Event) notify.Result
	DeliverBatch(ctx context.Context, events []notify.Event) notify.Report
}

// CycleResult is what RunOnce reports to its caller.
type CycleResult struct {
	RunID         int64
	CorrelationID string
	Status        catalog.RunStatus
	Stage         Stage
	FailedStage   Stage
	ChangesCount  int
	Changes       []catalog.Change
	Errors        []error
	Delivery      notify.Report
	Alert         *notify.Result
	Skipped       bool
	Duration      time.Duration
}

// Err joins every error the cycle recorded.
func (r CycleResult) Err() error {
	return errors.Join(r.Errors...)
}

// Orchestrator runs reconciliation cycles.
type Orchestrator struct {
	store    Store
	notifier Notifier
	recorder *runrecorder.Recorder
	metrics  *metrics.Emitter
	logger   *slog.Logger
	tracer   trace.Tracer
	lock     *FileLock
	window   config.Window

	timeout       time.Duration
	finishTimeout time.Duration
	alertTimeout  time.Duration
	now           func() time.Time
	newID         func() string

	guard sync.Mutex
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithMetrics records cycle metrics on m.
func WithMetrics(m *metrics.Emitter) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithTracer replaces the global tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *Orchestrator) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithClock overrides the wall clock used for window checks and durations.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithIDGenerator overrides correlation id generation.
func WithIDGenerator(newID func() string) Option {
	return func(o *Orchestrator) {
		if newID != nil {
			o.newID = newID
		}
	}
}

// WithTimeout overrides the configured cycle deadline.
func WithTimeout(timeout time.Duration) Option {
	return func(o *Orchestrator) {
		if timeout > 0 {
			o.timeout = timeout
		}
	}
}

// New builds an orchestrator from cfg. notifier may be nil when no channel
// is configured.
func New(cfg *config.Config, store Store, notifier Notifier, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = logging.NewNop()
	}
	if notifier == nil {
		notifier = notify.New(nil)
	}
	o := &Orchestrator{
		store:         store,
		notifier:      notifier,
		logger:        logging.NewComponentLogger(logger, "cycle"),
		tracer:        otel.Tracer("stockwatch/internal/cycle"),
		lock:          NewFileLock(cfg.LockPath()),
		window:        cfg.Window,
		timeout:       cfg.CycleTimeout(),
		finishTimeout: 10 * time.Second,
		alertTimeout:  time.Duration(cfg.Notifications.EventTimeout) * time.Second,
		now:           time.Now,
		newID:         uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.timeout <= 0 {
		o.timeout = 120 * time.Second
	}
	if o.alertTimeout <= 0 {
		o.alertTimeout = 30 * time.Second
	}
	o.recorder = runrecorder.New(store, runrecorder.WithLogger(logger), runrecorder.WithClock(o.now))
	return o
}

// LockPath returns the cycle lock file.
func (o *Orchestrator) LockPath() string {
	return o.lock.Path()
}

// RunOnce executes one cycle for obs. The only error it returns is
// ErrCycleInProgress (or a failure to take the lock); every stage failure
// is reported through CycleResult.
func (o *Orchestrator) RunOnce(ctx context.Context, obs catalog.Observation) (CycleResult, error) {
	startedAt := o.now()
	if !o.window.Contains(startedAt) {
		o.logger.Info("cycle skipped outside watch window",
			logging.String(logging.FieldEventType, "cycle_skipped"),
			logging.String("window_start", o.window.Start),
			logging.String("window_end", o.window.End),
		)
		return CycleResult{Skipped: true}, nil
	}

	if !o.guard.TryLock() {
		return CycleResult{}, ErrCycleInProgress
	}
	defer o.guard.Unlock()

	locked, err := o.lock.TryLock()
	if err != nil {
		return CycleResult{}, err
	}
	if !locked {
		return CycleResult{}, ErrCycleInProgress
	}
	defer func() {
		if err := o.lock.Unlock(); err != nil {
			o.logger.Warn("failed to release cycle lock", logging.Error(err))
		}
	}()

	cid := o.newID()
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	ctx, span := o.tracer.Start(ctx, "stockwatch.cycle", trace.WithAttributes(
		attribute.String("correlation_id", cid),
		attribute.Int("observed", len(obs.Items)),
	))
	defer span.End()

	c := newRun(o, obs, cid, startedAt)
	c.execute(ctx)
	span.SetAttributes(
		attribute.String("status", string(c.result.Status)),
		attribute.Int("changes", c.result.ChangesCount),
	)
	return c.result, nil
}
