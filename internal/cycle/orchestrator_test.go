package cycle_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/trace/noop"

	"stockwatch/internal/catalog"
	"stockwatch/internal/config"
	"stockwatch/internal/cycle"
	"stockwatch/internal/faults"
	"stockwatch/internal/metrics"
	"stockwatch/internal/notify"
	"stockwatch/internal/runrecorder"
	"stockwatch/internal/statestore"
	"stockwatch/internal/testsupport"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func noSleep(context.Context, time.Duration) error { return nil }

type harness struct {
	cfg     *config.Config
	store   *statestore.Store
	metrics *metrics.Emitter
	changes *testsupport.FakeChannel
	alerts  *testsupport.FakeChannel
	orch    *cycle.Orchestrator
}

type harnessOption struct {
	wrap       func(*statestore.Store) cycle.Store
	channels   []notify.Channel
	cycleOpts  []cycle.Option
	configOpts []testsupport.ConfigOption
}

func newHarness(t *testing.T, opt harnessOption) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, opt.configOpts...)
	h := &harness{
		cfg:     cfg,
		store:   testsupport.MustOpenStore(t, cfg),
		metrics: metrics.New(""),
		changes: testsupport.NewFakeChannel("changes"),
		alerts:  testsupport.NewFakeChannel(notify.AlertChannelName),
	}
	channels := opt.channels
	if channels == nil {
		channels = []notify.Channel{h.changes}
	}
	dispatcher := notify.New(channels,
		notify.WithAlertChannel(h.alerts),
		notify.WithSleep(noSleep),
		notify.WithMetrics(h.metrics),
	)
	var store cycle.Store = h.store
	if opt.wrap != nil {
		store = opt.wrap(h.store)
	}
	opts := append([]cycle.Option{
		cycle.WithMetrics(h.metrics),
		cycle.WithTracer(noop.NewTracerProvider().Tracer("test")),
	}, opt.cycleOpts...)
	h.orch = cycle.New(cfg, store, dispatcher, nil, opts...)
	return h
}

func observe(at time.Time, items ...catalog.ObservedItem) catalog.Observation {
	return testsupport.Observe(at, items...)
}

var (
	itemA = catalog.ObservedItem{Code: "A", Title: "Alpha", Price: 1000, InStock: true, URL: "https://shop.example/a"}
	itemB = catalog.ObservedItem{Code: "B", Title: "Bravo", Price: 2000, InStock: true, URL: "https://shop.example/b"}
)

func mustRun(t *testing.T, h *harness, obs catalog.Observation) cycle.CycleResult {
	t.Helper()
	res, err := h.orch.RunOnce(context.Background(), obs)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	return res
}

func TestFirstCycleRecordsNewItems(t *testing.T) {
	h := newHarness(t, harnessOption{})

	res := mustRun(t, h, observe(t0, itemA, itemB))
	if res.Status != catalog.RunSuccess || res.ChangesCount != 2 || res.Stage != cycle.StageDone {
		t.Fatalf("unexpected result %+v", res)
	}
	for i, code := range []string{"A", "B"} {
		if res.Changes[i].Type != catalog.ChangeNew || res.Changes[i].Code != code {
			t.Fatalf("change %d = %+v", i, res.Changes[i])
		}
	}
	if len(h.changes.Sent()) != 2 {
		t.Fatalf("notifications = %d, want 2", len(h.changes.Sent()))
	}
	if got := gatheredValue(t, h, "items_processed_total"); got != 2 {
		t.Fatalf("items_processed_total = %v", got)
	}

	run, err := h.store.LatestRun(context.Background())
	if err != nil || run == nil {
		t.Fatalf("LatestRun: %v %v", run, err)
	}
	if run.ID != res.RunID || run.Status != catalog.RunSuccess || run.ChangesCount != 2 || run.FinishedAt == nil {
		t.Fatalf("unexpected run row %+v", run)
	}
	summary, err := runrecorder.DecodeSummary(run.Summary)
	if err != nil || summary.Notifications == nil || summary.Notifications.Delivered != 2 {
		t.Fatalf("unexpected summary %+v (%v)", summary, err)
	}
}

func TestRepeatedObservationIsIdempotent(t *testing.T) {
	h := newHarness(t, harnessOption{})
	mustRun(t, h, observe(t0, itemA, itemB))

	res := mustRun(t, h, observe(t0.Add(10*time.Minute), itemA, itemB))
	if res.Status != catalog.RunSuccess || res.ChangesCount != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(h.changes.Sent()) != 2 {
		t.Fatalf("second cycle sent notifications: total %d", len(h.changes.Sent()))
	}
	expected := `
# HELP changes_detected_total Persisted changes by type.
# TYPE changes_detected_total counter
changes_detected_total{type="NEW"} 2
`
	if err := testutil.GatherAndCompare(h.metrics.Registry(), strings.NewReader(expected), "changes_detected_total"); err != nil {
		t.Fatal(err)
	}

	item, err := h.store.Get(context.Background(), "A")
	if err != nil || item == nil {
		t.Fatalf("Get: %v %v", item, err)
	}
	if !item.LastSeen.Equal(t0.Add(10*time.Minute)) || !item.FirstSeen.Equal(t0) {
		t.Fatalf("unexpected timestamps %+v", item)
	}
}

func TestRestockIsNotified(t *testing.T) {
	h := newHarness(t, harnessOption{})
	soldOut := itemB
	soldOut.InStock = false
	testsupport.SeedItems(t, h.store, t0.Add(-time.Hour), soldOut)

	res := mustRun(t, h, observe(t0, itemB))
	if res.ChangesCount != 1 || res.Changes[0].Type != catalog.ChangeRestock {
		t.Fatalf("unexpected changes %+v", res.Changes)
	}
	sent := h.changes.Sent()
	if len(sent) != 1 {
		t.Fatalf("notifications = %d, want 1", len(sent))
	}
	msg := sent[0]
	if !strings.Contains(msg.Title, "Bravo") || msg.URL != itemB.URL {
		t.Fatalf("unexpected message %+v", msg)
	}
	found := false
	for _, field := range msg.Fields {
		if field.Name == "Price" && field.Value == "2,000" {
			found = true
		}
	}
	if !found {
		t.Fatalf("price missing from %+v", msg.Fields)
	}
}

func TestDeliveryFailureDoesNotFailCycle(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	discord := notify.NewDiscord("x", server.URL, "", time.Second)
	h := newHarness(t, harnessOption{channels: []notify.Channel{discord}})

	res := mustRun(t, h, observe(t0, itemA))
	if res.Status != catalog.RunSuccess || res.Stage != cycle.StageDone {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Delivery.Failed != 1 || res.Delivery.Results[0].Delivered {
		t.Fatalf("delivery should be marked failed: %+v", res.Delivery)
	}
	if hits.Load() != 3 {
		t.Fatalf("webhook hits = %d, want 3", hits.Load())
	}
	expected := `
# HELP notification_failures_total Failed notification delivery attempts by channel.
# TYPE notification_failures_total counter
notification_failures_total{channel="x"} 3
`
	if err := testutil.GatherAndCompare(h.metrics.Registry(), strings.NewReader(expected), "notification_failures_total"); err != nil {
		t.Fatal(err)
	}
	run, _ := h.store.LatestRun(context.Background())
	if run.Status != catalog.RunSuccess {
		t.Fatalf("run status = %s", run.Status)
	}
}

type failingPersist struct {
	*statestore.Store
}

func (f failingPersist) Persist(context.Context, []catalog.Item, []catalog.Change) ([]catalog.Change, error) {
	return nil, faults.Wrap(faults.ErrDatabase, "statestore", "persist", "", errors.New("disk I/O error"))
}

func TestStoreFailureFailsRunAndAlerts(t *testing.T) {
	h := newHarness(t, harnessOption{wrap: func(s *statestore.Store) cycle.Store { return failingPersist{s} }})

	res := mustRun(t, h, observe(t0, itemA, itemB))
	if res.Status != catalog.RunFailure || res.FailedStage != cycle.StagePersisted {
		t.Fatalf("unexpected result %+v", res)
	}
	if !errors.Is(res.Err(), faults.ErrDatabase) {
		t.Fatalf("expected database error, got %v", res.Err())
	}
	if len(res.Changes) != 0 || len(h.changes.Sent()) != 0 {
		t.Fatal("change set should be discarded")
	}
	changes, err := h.store.ListChanges(context.Background(), statestore.ChangeFilter{})
	if err != nil || len(changes) != 0 {
		t.Fatalf("persisted changes = %d (%v)", len(changes), err)
	}
	alerts := h.alerts.Sent()
	if len(alerts) != 1 || alerts[0].Event.Alert.Severity != faults.SeverityCritical {
		t.Fatalf("expected one critical alert, got %+v", alerts)
	}
	run, _ := h.store.LatestRun(context.Background())
	if run.Status != catalog.RunFailure {
		t.Fatalf("run status = %s", run.Status)
	}
	if got := gatheredValue(t, h, "last_run_status"); got != 0 {
		t.Fatalf("last_run_status = %v", got)
	}
}

func TestFetchFailureSkipsDiffing(t *testing.T) {
	h := newHarness(t, harnessOption{})
	obs := observe(t0, itemA)
	obs.Incomplete = true
	obs.FetchErr = faults.Wrap(faults.ErrLayoutChange, "fetched", "parse listing", "selector not found", nil)

	res := mustRun(t, h, obs)
	if res.Status != catalog.RunPartialFailure || res.FailedStage != cycle.StageDiffed {
		t.Fatalf("unexpected result %+v", res)
	}
	count, err := h.store.CountItems(context.Background())
	if err != nil || count != 0 {
		t.Fatalf("store touched: %d items (%v)", count, err)
	}
	alerts := h.alerts.Sent()
	if len(alerts) != 1 || alerts[0].Event.Alert.Severity != faults.SeverityWarning {
		t.Fatalf("expected one warning alert, got %+v", alerts)
	}
	if n, err := testutil.GatherAndCount(h.metrics.Registry(), "notification_failures_total"); err != nil || n != 0 {
		t.Fatalf("notification failures recorded: %d series (%v)", n, err)
	}
	run, _ := h.store.LatestRun(context.Background())
	if run.Status != catalog.RunPartialFailure {
		t.Fatalf("run status = %s", run.Status)
	}
}

func TestIncompleteObservationSuppressesSoldOut(t *testing.T) {
	h := newHarness(t, harnessOption{})
	testsupport.SeedItems(t, h.store, t0.Add(-time.Hour), itemA)
	gone := itemA
	gone.InStock = false
	obs := observe(t0, gone, itemB)
	obs.Incomplete = true

	res := mustRun(t, h, obs)
	if res.Status != catalog.RunPartialFailure {
		t.Fatalf("status = %s", res.Status)
	}
	for _, change := range res.Changes {
		if change.Type == catalog.ChangeSoldOut {
			t.Fatalf("SOLDOUT emitted for incomplete observation: %+v", change)
		}
	}
	item, _ := h.store.Get(context.Background(), "A")
	if !item.InStock {
		t.Fatal("stored stock flag should be untouched")
	}
	if len(h.alerts.Sent()) != 0 {
		t.Fatal("incomplete observation alone should not alert")
	}
}

type blockingStore struct {
	*statestore.Store
	entered chan struct{}
	release chan struct{}
}

func (b *blockingStore) GetAll(ctx context.Context) (map[string]catalog.Item, error) {
	select {
	case b.entered <- struct{}{}:
	default:
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.release:
		return b.Store.GetAll(ctx)
	}
}

func TestDeadlineFailsRunAndReleasesLock(t *testing.T) {
	blocker := &blockingStore{entered: make(chan struct{}, 1), release: make(chan struct{})}
	h := newHarness(t, harnessOption{
		wrap: func(s *statestore.Store) cycle.Store {
			blocker.Store = s
			return blocker
		},
		cycleOpts: []cycle.Option{cycle.WithTimeout(50 * time.Millisecond)},
	})

	res := mustRun(t, h, observe(t0, itemA))
	if res.Status != catalog.RunFailure || res.FailedStage != cycle.StageDiffed {
		t.Fatalf("unexpected result %+v", res)
	}
	if !errors.Is(res.Err(), faults.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", res.Err())
	}
	run, _ := h.store.LatestRun(context.Background())
	if run.Status != catalog.RunFailure || run.FinishedAt == nil {
		t.Fatalf("run not finalized: %+v", run)
	}
	if len(h.alerts.Sent()) != 1 {
		t.Fatal("expected a critical alert after the deadline")
	}

	close(blocker.release)
	if res := mustRun(t, h, observe(t0.Add(time.Minute), itemA)); res.Status != catalog.RunSuccess {
		t.Fatalf("lock not released: %+v", res)
	}
}

func TestConcurrentCycleIsRejected(t *testing.T) {
	blocker := &blockingStore{entered: make(chan struct{}, 1), release: make(chan struct{})}
	h := newHarness(t, harnessOption{wrap: func(s *statestore.Store) cycle.Store {
		blocker.Store = s
		return blocker
	}})

	done := make(chan cycle.CycleResult, 1)
	go func() {
		res, _ := h.orch.RunOnce(context.Background(), observe(t0, itemA))
		done <- res
	}()
	<-blocker.entered

	if _, err := h.orch.RunOnce(context.Background(), observe(t0, itemA)); !errors.Is(err, cycle.ErrCycleInProgress) {
		t.Fatalf("expected ErrCycleInProgress, got %v", err)
	}
	close(blocker.release)
	if res := <-done; res.Status != catalog.RunSuccess {
		t.Fatalf("first cycle result %+v", res)
	}
}

func TestFileLockHeldElsewhereIsRejected(t *testing.T) {
	h := newHarness(t, harnessOption{})
	other := flock.New(h.orch.LockPath())
	ok, err := other.TryLock()
	if err != nil || !ok {
		t.Fatalf("TryLock: %v %v", ok, err)
	}
	defer other.Unlock()

	if _, err := h.orch.RunOnce(context.Background(), observe(t0, itemA)); !errors.Is(err, cycle.ErrCycleInProgress) {
		t.Fatalf("expected ErrCycleInProgress, got %v", err)
	}
	runs, _ := h.store.ListRuns(context.Background(), 0)
	if len(runs) != 0 {
		t.Fatalf("rejected cycle opened a run: %+v", runs)
	}
}

type panickingPersist struct {
	*statestore.Store
}

func (p panickingPersist) Persist(context.Context, []catalog.Item, []catalog.Change) ([]catalog.Change, error) {
	panic("boom")
}

func TestPanicInStageIsRecovered(t *testing.T) {
	h := newHarness(t, harnessOption{wrap: func(s *statestore.Store) cycle.Store { return panickingPersist{s} }})

	res := mustRun(t, h, observe(t0, itemA))
	if res.Status != catalog.RunFailure || res.FailedStage != cycle.StagePersisted {
		t.Fatalf("unexpected result %+v", res)
	}
	if faults.KindOf(res.Err()) != faults.KindInternal {
		t.Fatalf("kind = %s", faults.KindOf(res.Err()))
	}
	run, _ := h.store.LatestRun(context.Background())
	if run.Status != catalog.RunFailure {
		t.Fatalf("run status = %s", run.Status)
	}
}

func TestCycleOutsideWindowIsSkipped(t *testing.T) {
	noon := time.Date(2026, 3, 1, 12, 0, 0, 0, time.Local)
	h := newHarness(t, harnessOption{
		configOpts: []testsupport.ConfigOption{testsupport.WithWindow("08:00", "10:00")},
		cycleOpts:  []cycle.Option{cycle.WithClock(func() time.Time { return noon })},
	})

	res := mustRun(t, h, observe(t0, itemA))
	if !res.Skipped {
		t.Fatalf("expected skip, got %+v", res)
	}
	runs, _ := h.store.ListRuns(context.Background(), 0)
	if len(runs) != 0 {
		t.Fatal("skipped cycle must not open a run")
	}
}

func TestStaleRunsAreAbandonedOnNextCycle(t *testing.T) {
	h := newHarness(t, harnessOption{})
	staleID, err := h.store.RecordRun(context.Background(), catalog.Run{FetchedAt: t0.Add(-time.Hour)})
	if err != nil {
		t.Fatalf("RecordRun: %v", err)
	}
	mustRun(t, h, observe(t0, itemA))

	stale, _ := h.store.GetRun(context.Background(), staleID)
	if stale.Status != catalog.RunFailure || stale.FinishedAt == nil {
		t.Fatalf("stale run not closed: %+v", stale)
	}
}
