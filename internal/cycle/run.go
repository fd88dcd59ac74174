package cycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/codes"

	"stockwatch/internal/catalog"
	"stockwatch/internal/differ"
	"stockwatch/internal/faults"
	"stockwatch/internal/logging"
	"stockwatch/internal/notify"
	"stockwatch/internal/runrecorder"
)

// run is the state of one cycle between lock acquisition and release.
type run struct {
	o         *Orchestrator
	obs       catalog.Observation
	startedAt time.Time
	logger    *slog.Logger
	result    CycleResult
	summary   runrecorder.Summary
	diff      differ.Result
}

func newRun(o *Orchestrator, obs catalog.Observation, correlationID string, startedAt time.Time) *run {
	return &run{
		o:         o,
		obs:       obs,
		startedAt: startedAt,
		logger:    o.logger,
		result: CycleResult{
			CorrelationID: correlationID,
			Status:        catalog.RunSuccess,
			Stage:         StageFetched,
		},
		summary: runrecorder.Summary{
			Source:     obs.Source,
			Digest:     obs.Digest,
			Observed:   len(obs.Items),
			Incomplete: obs.Incomplete,
		},
	}
}

func (r *run) execute(ctx context.Context) {
	ctx = faults.WithCorrelationID(ctx, r.result.CorrelationID)
	r.logger = logging.WithContext(ctx, r.o.logger)

	if _, err := r.o.recorder.AbandonStale(ctx); err != nil {
		r.logger.Warn("could not close abandoned runs", logging.Error(err))
	}
	runID, err := r.o.recorder.Start(ctx, r.obs, r.result.CorrelationID)
	if err != nil {
		// Without a run row there is nothing to finish; report and stop.
		r.fail(ctx, StageFetched, err, catalog.RunFailure)
		r.finish(ctx, false)
		return
	}
	r.result.RunID = runID
	ctx = faults.WithRunID(ctx, runID)
	r.logger = logging.WithContext(ctx, r.o.logger)

	if r.fetched(ctx) && r.diffed(ctx) && r.persisted(ctx) {
		r.notified(ctx)
	}
	r.finish(ctx, true)
}

func (r *run) fetched(ctx context.Context) bool {
	r.result.Stage = StageFetched
	if err := r.obs.FetchErr; err != nil {
		if kind := faults.KindOf(err); kind != faults.KindNetwork && kind != faults.KindLayout {
			err = faults.Wrap(faults.ErrNetwork, string(StageFetched), "fetch catalogue", "", err)
		}
		r.fail(ctx, StageDiffed, err, catalog.RunPartialFailure)
		return false
	}
	return true
}

func (r *run) diffed(ctx context.Context) bool {
	err := r.step(ctx, StageDiffed, func(ctx context.Context) error {
		previous, err := r.o.store.GetAll(ctx)
		if err != nil {
			return err
		}
		r.diff = differ.Diff(previous, r.obs)
		return nil
	})
	if err != nil {
		r.fail(ctx, StageDiffed, err, catalog.RunFailure)
		return false
	}
	r.result.Stage = StageDiffed
	r.o.metrics.ItemsProcessed(len(r.obs.Items))
	r.summary.Unchanged = r.diff.Unchanged
	r.summary.Missing = len(r.diff.Missing)
	r.summary.Duplicates = len(r.diff.Duplicates)
	r.summary.SuppressedSoldOut = len(r.diff.SuppressedSoldOut)

	if r.obs.Incomplete {
		r.degrade(catalog.RunPartialFailure)
		logging.WarnWithContext(r.logger, "observation flagged incomplete", "observation_incomplete",
			logging.Int("suppressed_soldout", len(r.diff.SuppressedSoldOut)),
			logging.String(logging.FieldErrorHint, "check the fetcher; sold-out detection is paused for this cycle"),
			logging.String(logging.FieldImpact, "stock flags of unlisted items were left unchanged"),
		)
	}
	if len(r.diff.Duplicates) > 0 {
		r.logger.Warn("duplicate codes in observation; first occurrence kept",
			logging.String(logging.FieldEventType, "observation_duplicates"),
			logging.Any("codes", r.diff.Duplicates),
		)
	}
	return true
}

func (r *run) persisted(ctx context.Context) bool {
	var persisted []catalog.Change
	err := r.step(ctx, StagePersisted, func(ctx context.Context) error {
		var err error
		persisted, err = r.o.store.Persist(ctx, r.diff.Upserts, r.diff.Changes)
		return err
	})
	if err != nil {
		r.fail(ctx, StagePersisted, err, catalog.RunFailure)
		return false
	}
	r.result.Stage = StagePersisted
	r.result.Changes = persisted
	r.result.ChangesCount = len(persisted)
	r.summary.CountChanges(persisted)
	r.o.metrics.ChangesDetected(persisted)
	for _, change := range persisted {
		r.logger.Info("change recorded",
			logging.String(logging.FieldEventType, "change_recorded"),
			logging.String(logging.FieldItemCode, change.Code),
			logging.String(logging.FieldChangeType, string(change.Type)),
		)
	}
	return true
}

func (r *run) notified(ctx context.Context) {
	events := make([]notify.Event, 0, len(r.result.Changes))
	for _, change := range r.result.Changes {
		events = append(events, notify.ChangeEvent(change, r.result.RunID, r.result.CorrelationID))
	}
	err := r.step(ctx, StageNotified, func(ctx context.Context) error {
		if len(events) == 0 {
			return nil
		}
		r.result.Delivery = r.o.notifier.DeliverBatch(ctx, events)
		return nil
	})
	report := r.result.Delivery
	r.summary.Notifications = &runrecorder.Deliveries{
		Delivered:      report.Delivered,
		Failed:         report.Failed,
		DegradedAlerts: report.DegradedAlerts,
	}
	if err != nil {
		r.fail(ctx, StageNotified, err, catalog.RunFailure)
		return
	}
	r.result.Stage = StageNotified
	if report.Failed > 0 {
		logging.WarnWithContext(r.logger, "some notifications were not delivered", "notifications_undelivered",
			logging.Int("delivered", report.Delivered),
			logging.Int("failed", report.Failed),
			logging.String(logging.FieldErrorHint, faults.Hint(faults.KindNotification)),
			logging.String(logging.FieldImpact, "changes are recorded but subscribers were not told"),
		)
	}
}

// finish closes the run row (when one was opened) and emits run metrics.
// It uses a context detached from the cycle deadline so an expired cycle
// is still recorded.
func (r *run) finish(ctx context.Context, recorded bool) {
	status := r.result.Status
	r.summary.Stage = string(r.result.Stage)
	if recorded {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.o.finishTimeout)
		err := r.o.recorder.Finish(fctx, r.result.RunID, status, r.summary)
		cancel()
		if err != nil {
			r.result.Errors = append(r.result.Errors, err)
			logging.ErrorWithContext(r.logger, "failed to record run outcome", "run_record_failed",
				logging.String(logging.FieldErrorHint, faults.Hint(faults.KindDatabase)),
				logging.Error(err),
			)
		} else {
			r.result.Stage = StageRecorded
		}
	}

	finishedAt := r.o.now()
	r.result.Duration = finishedAt.Sub(r.startedAt)
	r.o.metrics.CycleFinished(status, r.failureKind(), finishedAt, r.result.Duration)
	r.result.Stage = StageDone

	r.logger.Info("cycle finished",
		logging.String(logging.FieldEventType, "cycle_finished"),
		logging.String("status", string(status)),
		logging.String("failed_stage", string(r.result.FailedStage)),
		logging.Int("changes", r.result.ChangesCount),
		logging.Duration("duration", r.result.Duration),
	)
}

func (r *run) failureKind() string {
	if r.result.Status == catalog.RunSuccess {
		return ""
	}
	if len(r.result.Errors) > 0 {
		return string(faults.KindOf(r.result.Errors[0]))
	}
	if r.obs.Incomplete {
		return "incomplete"
	}
	return string(faults.KindInternal)
}

// degrade moves the status towards failure, never back.
func (r *run) degrade(status catalog.RunStatus) {
	if statusRank(status) > statusRank(r.result.Status) {
		r.result.Status = status
	}
}

func statusRank(status catalog.RunStatus) int {
	switch status {
	case catalog.RunFailure:
		return 2
	case catalog.RunPartialFailure:
		return 1
	default:
		return 0
	}
}

// fail records a stage failure, logs it at its severity and attempts one
// alert.
func (r *run) fail(ctx context.Context, stage Stage, err error, status catalog.RunStatus) {
	r.degrade(status)
	r.result.Errors = append(r.result.Errors, err)
	detail := faults.Details(err)
	if r.result.FailedStage == "" {
		r.result.FailedStage = stage
		r.summary.FailedStage = string(stage)
		r.summary.ErrorKind = string(detail.Kind)
		r.summary.Error = detail.Message
	}

	attrs := append([]logging.Attr{
		logging.String(logging.FieldStage, string(stage)),
		logging.String("resolved_status", string(r.result.Status)),
		logging.Alert("stage_failure"),
	}, logging.Fault(err)...)
	if detail.Severity == faults.SeverityCritical {
		logging.ErrorWithContext(r.logger, "stage failed", "stage_failure", attrs...)
	} else {
		attrs = append(attrs, logging.String(logging.FieldImpact, "state left unchanged for this cycle"))
		logging.WarnWithContext(r.logger, "stage failed", "stage_failure", attrs...)
	}

	event := notify.AlertEvent(notify.Alert{
		Severity: detail.Severity,
		Kind:     detail.Kind,
		Stage:    string(stage),
		Message:  detail.Message,
		Hint:     detail.Hint,
	}, r.result.RunID, r.result.CorrelationID, r.o.now())
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.o.alertTimeout)
	defer cancel()
	res := r.o.notifier.Deliver(actx, event)
	r.result.Alert = &res
}

// step runs fn as one stage: deadline check, span, logs and panic recovery.
func (r *run) step(ctx context.Context, stage Stage, fn func(context.Context) error) (err error) {
	if cerr := ctx.Err(); cerr != nil {
		return abortError(stage, cerr)
	}
	stageCtx := faults.WithStage(ctx, string(stage))
	stageCtx, span := r.o.tracer.Start(stageCtx, "stockwatch."+string(stage))
	defer span.End()
	logger := logging.WithContext(stageCtx, r.o.logger)
	logger.Debug("stage started", logging.String(logging.FieldEventType, "stage_start"))
	started := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			err = faults.Wrap(faults.ErrInternal, string(stage), "recover", fmt.Sprintf("panic: %v", rec), nil)
			logger.Error("stage panicked",
				logging.String(logging.FieldEventType, "stage_panic"),
				logging.String(logging.FieldErrorHint, "this is a bug; report it with the stack trace"),
				logging.String("stack", string(debug.Stack())),
			)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return
		}
		logger.Debug("stage completed",
			logging.String(logging.FieldEventType, "stage_complete"),
			logging.Duration("elapsed", time.Since(started)),
		)
	}()

	err = fn(stageCtx)
	switch {
	case err == nil:
		if cerr := ctx.Err(); cerr != nil {
			err = abortError(stage, cerr)
		}
	case errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, faults.ErrTimeout):
		err = abortError(stage, err)
	}
	return err
}

func abortError(stage Stage, cause error) error {
	if errors.Is(cause, context.DeadlineExceeded) {
		return faults.Wrap(faults.ErrTimeout, string(stage), "cycle deadline", "deadline exceeded", cause)
	}
	return faults.Wrap(faults.ErrInternal, string(stage), "cycle cancelled", "", cause)
}
