package notify

import (
	"sync"
	"time"
)

// BreakerState is the position of a circuit breaker.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// BreakerSettings configures a Breaker.
type BreakerSettings struct {
	Threshold int
	Window    time.Duration
	Cooldown  time.Duration
}

// Breaker opens after Threshold consecutive transient failures that all fall
// inside Window. While open it rejects calls; after Cooldown it lets exactly
// one probe through. A successful probe closes it, a failed probe reopens it.
type Breaker struct {
	settings BreakerSettings

	mu       sync.Mutex
	state    BreakerState
	streak   []time.Time
	openedAt time.Time
	probing  bool
}

// NewBreaker builds a closed breaker. Non-positive settings fall back to
// 5 failures, a 5 minute window and a 2 minute cool-down.
func NewBreaker(settings BreakerSettings) *Breaker {
	if settings.Threshold <= 0 {
		settings.Threshold = 5
	}
	if settings.Window <= 0 {
		settings.Window = 5 * time.Minute
	}
	if settings.Cooldown <= 0 {
		settings.Cooldown = 2 * time.Minute
	}
	return &Breaker{settings: settings, state: BreakerClosed}
}

// State returns the current state without advancing it.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether a call may proceed at now. An open breaker whose
// cool-down has elapsed moves to half-open and admits a single probe.
func (b *Breaker) Allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if now.Sub(b.openedAt) < b.settings.Cooldown {
			return false
		}
		b.state = BreakerHalfOpen
		b.probing = true
		return true
	default:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
}

// Success records a call that reached the destination and closes the
// breaker.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.streak = b.streak[:0]
	b.probing = false
}

// Release gives back a half-open probe whose outcome says nothing about the
// destination, such as a cancelled request. The breaker returns to open and
// the next Allow admits another probe.
func (b *Breaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerHalfOpen {
		b.state = BreakerOpen
		b.probing = false
	}
}

// Failure records a transient failure at now. It returns true only when the
// breaker moved from closed to open.
func (b *Breaker) Failure(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case BreakerHalfOpen:
		b.state = BreakerOpen
		b.openedAt = now
		b.probing = false
		return false
	case BreakerOpen:
		return false
	}

	cutoff := now.Add(-b.settings.Window)
	kept := b.streak[:0]
	for _, at := range b.streak {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	b.streak = append(kept, now)
	if len(b.streak) < b.settings.Threshold {
		return false
	}
	b.state = BreakerOpen
	b.openedAt = now
	b.streak = b.streak[:0]
	return true
}
