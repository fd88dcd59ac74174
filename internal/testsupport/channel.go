package testsupport

import (
	"context"
	"errors"
	"sync"

	"stockwatch/internal/notify"
)

// FakeChannel records every message and fails according to a script.
type FakeChannel struct {
	name string

	mu       sync.Mutex
	script   []error
	fallback error
	sent     []notify.Message
	calls    int
}

// NewFakeChannel builds a channel that succeeds unless scripted otherwise.
func NewFakeChannel(name string) *FakeChannel {
	return &FakeChannel{name: name}
}

// FailNext queues errors returned by the next calls, in order.
func (f *FakeChannel) FailNext(errs ...error) *FakeChannel {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script = append(f.script, errs...)
	return f
}

// FailAlways makes every unscripted call return err.
func (f *FakeChannel) FailAlways(err error) *FakeChannel {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fallback = err
	return f
}

// Recover clears the fallback failure.
func (f *FakeChannel) Recover() {
	f.FailAlways(nil)
}

func (f *FakeChannel) Name() string { return f.name }

func (f *FakeChannel) Send(ctx context.Context, msg notify.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := ctx.Err(); err != nil {
		return &notify.DeliveryError{Channel: f.name, Transient: true, Err: err}
	}
	var err error
	if len(f.script) > 0 {
		err, f.script = f.script[0], f.script[1:]
	} else {
		err = f.fallback
	}
	if err != nil {
		return err
	}
	f.sent = append(f.sent, msg)
	return nil
}

// Calls returns the number of Send invocations.
func (f *FakeChannel) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Sent returns the delivered messages in order.
func (f *FakeChannel) Sent() []notify.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]notify.Message, len(f.sent))
	copy(out, f.sent)
	return out
}

// Transient builds a retryable delivery error for channel.
func Transient(channel string) error {
	return &notify.DeliveryError{Channel: channel, Transient: true, StatusCode: 503, Err: errors.New("service unavailable")}
}

// Permanent builds a non-retryable delivery error for channel.
func Permanent(channel string) error {
	return &notify.DeliveryError{Channel: channel, StatusCode: 400, Err: errors.New("bad request")}
}
