package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"stockwatch/internal/config"
	"stockwatch/internal/faults"
	"stockwatch/internal/logging"
	"stockwatch/internal/metrics"
)

// AlertChannelName is the channel name of the dedicated alert webhook.
const AlertChannelName = "alert"

// ChannelResult is the outcome of one event on one channel.
type ChannelResult struct {
	Channel        string
	Delivered      bool
	Attempts       int
	ShortCircuited bool
	Err            error
}

// Result is the outcome of one event across every channel it was routed to.
type Result struct {
	Event     Event
	Delivered bool
	Attempts  int
	LastError error
	Channels  []ChannelResult
}

// Report summarizes a batch.
type Report struct {
	Results        []Result
	Delivered      int
	Failed         int
	DegradedAlerts int
}

// Dispatcher delivers events with retries and per-channel circuit breakers.
type Dispatcher struct {
	channels     []Channel
	alerts       Channel
	breakers     map[string]*Breaker
	policy       RetryPolicy
	breakerCfg   BreakerSettings
	eventTimeout time.Duration
	parallelism  int
	logger       *slog.Logger
	metrics      *metrics.Emitter
	now          func() time.Time
	sleep        func(context.Context, time.Duration) error
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithMetrics records attempts and breaker state on m.
func WithMetrics(m *metrics.Emitter) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithAlertChannel routes alerts to ch instead of the change channels.
func WithAlertChannel(ch Channel) Option {
	return func(d *Dispatcher) { d.alerts = ch }
}

// WithRetryPolicy replaces the default retry policy.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(d *Dispatcher) { d.policy = policy }
}

// WithBreakerSettings configures every channel breaker.
func WithBreakerSettings(settings BreakerSettings) Option {
	return func(d *Dispatcher) { d.breakerCfg = settings }
}

// WithEventTimeout bounds the delivery of one event on one channel,
// retries included.
func WithEventTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.eventTimeout = timeout
		}
	}
}

// WithParallelism bounds how many channels deliver at once.
func WithParallelism(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.parallelism = n
		}
	}
}

// WithClock overrides the breaker clock.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// WithSleep overrides the backoff wait.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(d *Dispatcher) {
		if sleep != nil {
			d.sleep = sleep
		}
	}
}

// New builds a dispatcher over the given change channels.
func New(channels []Channel, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		channels:     channels,
		policy:       DefaultRetryPolicy(),
		eventTimeout: 30 * time.Second,
		parallelism:  4,
		logger:       logging.NewNop(),
		now:          time.Now,
		sleep:        sleepContext,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = logging.NewComponentLogger(d.logger, "notify")
	d.breakers = make(map[string]*Breaker, len(d.channels)+1)
	for _, ch := range d.all() {
		d.breakers[ch.Name()] = NewBreaker(d.breakerCfg)
	}
	return d
}

// NewFromConfig builds the channels configured in cfg. Options are applied
// after the configured knobs.
func NewFromConfig(cfg *config.Config, opts ...Option) (*Dispatcher, error) {
	n := cfg.Notifications
	timeout := time.Duration(n.RequestTimeout) * time.Second

	var channels []Channel
	if n.Discord.WebhookURL != "" {
		channels = append(channels, NewDiscord("discord", n.Discord.WebhookURL, n.Discord.Username, timeout))
	}
	if n.Ntfy.Topic != "" {
		channels = append(channels, NewNtfy(n.Ntfy.Topic, timeout))
	}
	if n.Redis.URL != "" {
		ch, err := NewRedis(n.Redis.URL, n.Redis.Channel)
		if err != nil {
			return nil, faults.Wrap(faults.ErrConfig, "notify", "build redis channel", "", err)
		}
		channels = append(channels, ch)
	}

	base := []Option{
		WithRetryPolicy(RetryPolicy{
			MaxAttempts: n.MaxAttempts,
			BaseDelay:   time.Duration(n.BaseBackoffMillis) * time.Millisecond,
			MaxDelay:    time.Duration(n.MaxBackoffMillis) * time.Millisecond,
		}),
		WithBreakerSettings(BreakerSettings{
			Threshold: n.BreakerThreshold,
			Window:    time.Duration(n.BreakerWindowSeconds) * time.Second,
			Cooldown:  time.Duration(n.BreakerCooldownSeconds) * time.Second,
		}),
		WithEventTimeout(time.Duration(n.EventTimeout) * time.Second),
		WithParallelism(n.Parallelism),
	}
	if n.AlertWebhookURL != "" {
		base = append(base, WithAlertChannel(NewDiscord(AlertChannelName, n.AlertWebhookURL, n.Discord.Username, timeout)))
	}
	return New(channels, append(base, opts...)...), nil
}

func (d *Dispatcher) all() []Channel {
	out := make([]Channel, 0, len(d.channels)+1)
	out = append(out, d.channels...)
	if d.alerts != nil {
		out = append(out, d.alerts)
	}
	return out
}

// Channels returns the names of every configured channel.
func (d *Dispatcher) Channels() []string {
	names := make([]string, 0, len(d.channels)+1)
	for _, ch := range d.all() {
		names = append(names, ch.Name())
	}
	return names
}

// BreakerState reports the breaker position of a channel.
func (d *Dispatcher) BreakerState(channel string) BreakerState {
	if b, ok := d.breakers[channel]; ok {
		return b.State()
	}
	return BreakerClosed
}

// Close releases channel resources.
func (d *Dispatcher) Close() error {
	var errs []error
	for _, ch := range d.all() {
		if closer, ok := ch.(io.Closer); ok {
			errs = append(errs, closer.Close())
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) route(event Event) []Channel {
	switch event.Kind {
	case EventAlert:
		if d.alerts != nil {
			return []Channel{d.alerts}
		}
		return d.channels
	case EventTest:
		return d.all()
	default:
		return d.channels
	}
}

// Deliver sends one event to every channel it routes to.
func (d *Dispatcher) Deliver(ctx context.Context, event Event) Result {
	return d.DeliverBatch(ctx, []Event{event}).Results[0]
}

type batchState struct {
	degraded atomic.Int32
}

// DeliverBatch delivers events in order on each channel. Channels run
// concurrently, bounded by the configured parallelism. An event with no
// routed channel counts as delivered.
func (d *Dispatcher) DeliverBatch(ctx context.Context, events []Event) Report {
	report := Report{Results: make([]Result, len(events))}
	for i, event := range events {
		report.Results[i].Event = event
	}

	var order []Channel
	plan := make(map[string][]int)
	for i, event := range events {
		for _, ch := range d.route(event) {
			if _, ok := plan[ch.Name()]; !ok {
				order = append(order, ch)
			}
			plan[ch.Name()] = append(plan[ch.Name()], i)
		}
	}

	state := &batchState{}
	perChannel := make([][]ChannelResult, len(order))
	var g errgroup.Group
	g.SetLimit(d.parallelism)
	for ci, ch := range order {
		g.Go(func() error {
			indexes := plan[ch.Name()]
			out := make([]ChannelResult, len(indexes))
			for j, idx := range indexes {
				out[j] = d.deliverOn(ctx, ch, events[idx], state)
			}
			perChannel[ci] = out
			return nil
		})
	}
	_ = g.Wait()
	report.DegradedAlerts = int(state.degraded.Load())

	for ci, ch := range order {
		for j, idx := range plan[ch.Name()] {
			report.Results[idx].Channels = append(report.Results[idx].Channels, perChannel[ci][j])
		}
	}
	for i := range report.Results {
		res := &report.Results[i]
		res.Delivered = true
		for _, cr := range res.Channels {
			res.Attempts += cr.Attempts
			if !cr.Delivered {
				res.Delivered = false
				res.LastError = cr.Err
			}
		}
		if res.Delivered {
			report.Delivered++
		} else {
			report.Failed++
		}
	}
	return report
}

func (d *Dispatcher) deliverOn(parent context.Context, ch Channel, event Event, state *batchState) ChannelResult {
	name := ch.Name()
	res := ChannelResult{Channel: name}
	logger := logging.WithContext(faults.WithChannel(parent, name), d.logger)
	breaker := d.breakers[name]
	msg := Render(event)

	ctx, cancel := context.WithTimeout(parent, d.eventTimeout)
	defer cancel()

	maxAttempts := d.policy.attempts()
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			res.Err = transportError(name, err)
			break
		}
		if !breaker.Allow(d.now()) {
			res.ShortCircuited = true
			res.Err = &DeliveryError{Channel: name, Err: ErrCircuitOpen}
			break
		}
		res.Attempts++
		err := ch.Send(ctx, msg)
		if err == nil {
			wasOpen := breaker.State() != BreakerClosed
			breaker.Success()
			if wasOpen {
				d.metrics.BreakerState(name, false)
				logger.Info("circuit breaker closed", logging.String(logging.FieldEventType, "circuit_breaker_closed"))
			}
			d.metrics.NotificationSent(name)
			res.Delivered = true
			res.Err = nil
			return res
		}

		res.Err = err
		d.metrics.NotificationFailed(name)
		transient := IsTransient(err)
		logger.Debug("notification attempt failed",
			logging.String("event", event.Label()),
			logging.Int("attempt", attempt),
			logging.Bool("transient", transient),
			logging.Error(err),
		)
		if !transient {
			d.settle(breaker, name, err)
			break
		}
		if breaker.Failure(d.now()) {
			d.metrics.BreakerState(name, true)
			logging.WarnWithContext(logger, "circuit breaker opened", "circuit_breaker_opened",
				logging.String(logging.FieldErrorHint, "check the channel endpoint; deliveries are skipped until the cool-down elapses"),
				logging.String(logging.FieldImpact, "notifications on this channel are dropped"),
				logging.Error(err),
			)
			d.sendDegraded(parent, name, err, event, state)
			break
		}
		if breaker.State() == BreakerOpen {
			// failed half-open probe
			break
		}
		if attempt < maxAttempts {
			if err := d.sleep(ctx, d.policy.Delay(attempt, retryAfterOf(err))); err != nil {
				break
			}
		}
	}

	logging.WarnWithContext(logger, "notification delivery failed", "notification_exhausted",
		logging.String("event", event.Label()),
		logging.Int("attempts", res.Attempts),
		logging.Bool("short_circuited", res.ShortCircuited),
		logging.String(logging.FieldErrorHint, faults.Hint(faults.KindNotification)),
		logging.String(logging.FieldImpact, "subscribers miss this event"),
		logging.Error(res.Err),
	)
	return res
}

// settle applies a permanent failure to the breaker. A reply from the
// destination proves the channel healthy; anything else releases a pending
// probe and leaves the state alone.
func (d *Dispatcher) settle(breaker *Breaker, name string, err error) {
	if !answered(err) {
		breaker.Release()
		return
	}
	wasOpen := breaker.State() != BreakerClosed
	breaker.Success()
	if wasOpen {
		d.metrics.BreakerState(name, false)
	}
}

// sendDegraded attempts the degraded alert once on each alert route other
// than the failing channel. When the failing channel is the only route, the
// alert is sent there once without consulting its breaker. It never retries,
// and a breaker it opens raises no further alert.
func (d *Dispatcher) sendDegraded(parent context.Context, failing string, cause error, trigger Event, state *batchState) {
	alert := AlertEvent(Alert{
		Severity: faults.SeverityCritical,
		Kind:     faults.KindNotification,
		Stage:    "notify",
		Message:  fmt.Sprintf("delivery system degraded: channel %s circuit opened after repeated failures (%v)", failing, cause),
	}, trigger.RunID, trigger.CorrelationID, d.now())
	msg := Render(alert)

	var targets []Channel
	var self Channel
	for _, ch := range d.route(alert) {
		if ch.Name() == failing {
			self = ch
			continue
		}
		targets = append(targets, ch)
	}
	bypass := len(targets) == 0 && self != nil
	if bypass {
		targets = []Channel{self}
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), d.eventTimeout)
	defer cancel()
	attempted := false
	for _, ch := range targets {
		name := ch.Name()
		breaker := d.breakers[name]
		if !bypass && !breaker.Allow(d.now()) {
			continue
		}
		attempted = true
		err := ch.Send(ctx, msg)
		if err != nil {
			d.metrics.NotificationFailed(name)
			if !bypass {
				if IsTransient(err) {
					if breaker.Failure(d.now()) {
						d.metrics.BreakerState(name, true)
					}
				} else {
					d.settle(breaker, name, err)
				}
			}
			d.logger.Warn("degraded alert not delivered", logging.String(logging.FieldChannel, name), logging.Error(err))
			continue
		}
		if !bypass {
			breaker.Success()
		}
		d.metrics.NotificationSent(name)
	}
	if attempted {
		state.degraded.Add(1)
	}
}
