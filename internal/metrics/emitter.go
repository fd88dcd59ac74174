package metrics

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"

	"stockwatch/internal/catalog"
)

// Emitter records cycle and delivery metrics.
type Emitter struct {
	namespace string

	mu  sync.RWMutex
	set *instruments
}

type instruments struct {
	registry             *prometheus.Registry
	itemsProcessed       prometheus.Counter
	changesDetected      *prometheus.CounterVec
	notificationFailures *prometheus.CounterVec
	notificationsSent    *prometheus.CounterVec
	cycleFailures        *prometheus.CounterVec
	lastRunStatus        prometheus.Gauge
	lastRunTimestamp     prometheus.Gauge
	runDuration          prometheus.Histogram
	breakerOpen          *prometheus.GaugeVec
}

// New builds an Emitter with a fresh registry. namespace prefixes every
// metric name; an empty namespace leaves names bare.
func New(namespace string) *Emitter {
	e := &Emitter{namespace: namespace}
	e.set = newInstruments(namespace)
	return e
}

func newInstruments(ns string) *instruments {
	set := &instruments{
		registry: prometheus.NewRegistry(),
		itemsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "items_processed_total",
			Help:      "Observed items compared against stored state.",
		}),
		changesDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "changes_detected_total",
			Help:      "Persisted changes by type.",
		}, []string{"type"}),
		notificationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "notification_failures_total",
			Help:      "Failed notification delivery attempts by channel.",
		}, []string{"channel"}),
		notificationsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "notifications_sent_total",
			Help:      "Delivered notifications by channel.",
		}, []string{"channel"}),
		cycleFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "cycle_failures_total",
			Help:      "Cycles that did not finish as success, by failure kind.",
		}, []string{"kind"}),
		lastRunStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "last_run_status",
			Help:      "1 when the last cycle succeeded, 0 otherwise.",
		}),
		lastRunTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last cycle finished.",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of a cycle.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		breakerOpen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "circuit_breaker_open",
			Help:      "1 while a channel's circuit breaker is open.",
		}, []string{"channel"}),
	}
	set.registry.MustRegister(
		set.itemsProcessed,
		set.changesDetected,
		set.notificationFailures,
		set.notificationsSent,
		set.cycleFailures,
		set.lastRunStatus,
		set.lastRunTimestamp,
		set.runDuration,
		set.breakerOpen,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return set
}

func (e *Emitter) current() *instruments {
	if e == nil {
		return nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.set
}

// Reset discards every recorded value.
func (e *Emitter) Reset() {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.set = newInstruments(e.namespace)
}

// Registry returns the registry backing the current instruments.
func (e *Emitter) Registry() *prometheus.Registry {
	if set := e.current(); set != nil {
		return set.registry
	}
	return prometheus.NewRegistry()
}

// Handler serves the exposition format for the current registry.
func (e *Emitter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reg := e.Registry()
		promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}).ServeHTTP(w, r)
	})
}

// Push replaces the metrics held by a Prometheus Pushgateway for job with
// the current values. One-shot processes call it after their cycle.
func (e *Emitter) Push(ctx context.Context, gatewayURL, job string) error {
	return push.New(gatewayURL, job).Gatherer(e.Registry()).PushContext(ctx)
}

// ItemsProcessed adds n observed items.
func (e *Emitter) ItemsProcessed(n int) {
	if set := e.current(); set != nil && n > 0 {
		set.itemsProcessed.Add(float64(n))
	}
}

// ChangesDetected counts persisted changes by type.
func (e *Emitter) ChangesDetected(changes []catalog.Change) {
	set := e.current()
	if set == nil {
		return
	}
	for _, change := range changes {
		set.changesDetected.WithLabelValues(string(change.Type)).Inc()
	}
}

// NotificationFailed counts one failed delivery attempt.
func (e *Emitter) NotificationFailed(channel string) {
	if set := e.current(); set != nil {
		set.notificationFailures.WithLabelValues(channel).Inc()
	}
}

// NotificationSent counts one delivered notification.
func (e *Emitter) NotificationSent(channel string) {
	if set := e.current(); set != nil {
		set.notificationsSent.WithLabelValues(channel).Inc()
	}
}

// BreakerState records whether a channel's breaker is open.
func (e *Emitter) BreakerState(channel string, open bool) {
	set := e.current()
	if set == nil {
		return
	}
	value := 0.0
	if open {
		value = 1
	}
	set.breakerOpen.WithLabelValues(channel).Set(value)
}

// CycleFinished records the terminal status, finish time and duration of a
// cycle. kind labels cycle_failures_total when the status is not success.
func (e *Emitter) CycleFinished(status catalog.RunStatus, kind string, finishedAt time.Time, duration time.Duration) {
	set := e.current()
	if set == nil {
		return
	}
	if status == catalog.RunSuccess {
		set.lastRunStatus.Set(1)
	} else {
		set.lastRunStatus.Set(0)
		if kind == "" {
			kind = "unknown"
		}
		set.cycleFailures.WithLabelValues(kind).Inc()
	}
	set.lastRunTimestamp.Set(float64(finishedAt.Unix()))
	set.runDuration.Observe(duration.Seconds())
}
