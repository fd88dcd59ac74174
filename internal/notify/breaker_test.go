package notify_test

import (
	"testing"
	"time"

	"stockwatch/internal/notify"
)

func TestBreakerOpensAfterConsecutiveFailuresInWindow(t *testing.T) {
	b := notify.NewBreaker(notify.BreakerSettings{Threshold: 3, Window: time.Minute, Cooldown: 30 * time.Second})
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	if b.Failure(start) || b.Failure(start.Add(time.Second)) {
		t.Fatal("breaker opened before threshold")
	}
	if !b.Failure(start.Add(2 * time.Second)) {
		t.Fatal("expected third failure to open the breaker")
	}
	if b.State() != notify.BreakerOpen {
		t.Fatalf("state = %s, want open", b.State())
	}
	if b.Allow(start.Add(10 * time.Second)) {
		t.Fatal("open breaker admitted a call before cool-down")
	}
}

func TestBreakerIgnoresFailuresOutsideWindow(t *testing.T) {
	b := notify.NewBreaker(notify.BreakerSettings{Threshold: 3, Window: time.Minute, Cooldown: time.Minute})
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	b.Failure(start)
	b.Failure(start.Add(10 * time.Second))
	if b.Failure(start.Add(2 * time.Minute)) {
		t.Fatal("stale failures should have aged out of the window")
	}
	if b.State() != notify.BreakerClosed {
		t.Fatalf("state = %s, want closed", b.State())
	}
}

func TestBreakerSuccessResetsStreak(t *testing.T) {
	b := notify.NewBreaker(notify.BreakerSettings{Threshold: 2, Window: time.Minute, Cooldown: time.Minute})
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	b.Failure(now)
	b.Success()
	if b.Failure(now.Add(time.Second)) {
		t.Fatal("streak should restart after success")
	}
}

func TestBreakerHalfOpenAdmitsSingleProbe(t *testing.T) {
	b := notify.NewBreaker(notify.BreakerSettings{Threshold: 1, Window: time.Minute, Cooldown: time.Minute})
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	if !b.Failure(now) {
		t.Fatal("expected breaker to open")
	}
	later := now.Add(2 * time.Minute)
	if !b.Allow(later) {
		t.Fatal("expected probe after cool-down")
	}
	if b.State() != notify.BreakerHalfOpen {
		t.Fatalf("state = %s, want half_open", b.State())
	}
	if b.Allow(later) {
		t.Fatal("second call admitted while probe in flight")
	}

	if b.Failure(later) {
		t.Fatal("failed probe must not count as a closed->open transition")
	}
	if b.State() != notify.BreakerOpen {
		t.Fatalf("state = %s, want open after failed probe", b.State())
	}

	again := later.Add(2 * time.Minute)
	if !b.Allow(again) {
		t.Fatal("expected another probe after second cool-down")
	}
	b.Success()
	if b.State() != notify.BreakerClosed || !b.Allow(again) {
		t.Fatal("successful probe should close the breaker")
	}
}

func TestBreakerReleaseReopensWithoutClosing(t *testing.T) {
	b := notify.NewBreaker(notify.BreakerSettings{Threshold: 1, Window: time.Minute, Cooldown: time.Minute})
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	b.Failure(start)
	if !b.Allow(start.Add(2 * time.Minute)) {
		t.Fatal("expected a half-open attempt after cool-down")
	}
	b.Release()
	if b.State() != notify.BreakerOpen {
		t.Fatalf("state = %s, want open", b.State())
	}
	if !b.Allow(start.Add(2 * time.Minute)) {
		t.Fatal("a released attempt should be admitted again")
	}

	closed := notify.NewBreaker(notify.BreakerSettings{})
	closed.Release()
	if closed.State() != notify.BreakerClosed {
		t.Fatalf("release on a closed breaker changed state to %s", closed.State())
	}
}
