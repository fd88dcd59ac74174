package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"stockwatch/internal/faults"
)

// ErrCircuitOpen is returned without a network call while a channel's
// breaker is open.
var ErrCircuitOpen = errors.New("circuit open")

// DeliveryError is a classified delivery failure for one channel.
type DeliveryError struct {
	Channel    string
	StatusCode int
	Transient  bool
	RetryAfter time.Duration
	Err        error
}

func (e *DeliveryError) Error() string {
	var b strings.Builder
	b.WriteString(e.Channel)
	b.WriteString(" delivery failed")
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *DeliveryError) Unwrap() []error {
	return []error{faults.ErrNotification, e.Err}
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Transient
	}
	return false
}

// answered reports whether err carries a reply from the destination, as
// opposed to a local or cancelled request.
func answered(err error) bool {
	var de *DeliveryError
	if errors.As(err, &de) && de.StatusCode > 0 {
		return true
	}
	var replyErr goredis.Error
	return errors.As(err, &replyErr)
}

func retryAfterOf(err error) time.Duration {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.RetryAfter
	}
	return 0
}

func permanent(channel string, err error) *DeliveryError {
	return &DeliveryError{Channel: channel, Err: err}
}

// transportError classifies an error returned before any response arrived.
// Timeouts, resets and refused connections are transient; cancellation of
// the caller's context is not.
func transportError(channel string, err error) *DeliveryError {
	transient := !errors.Is(err, context.Canceled)
	return &DeliveryError{Channel: channel, Transient: transient, Err: err}
}

// responseError classifies a non-2xx HTTP response. It returns nil for 2xx.
func responseError(channel string, resp *http.Response) *DeliveryError {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	de := &DeliveryError{
		Channel:    channel,
		StatusCode: resp.StatusCode,
		Err:        fmt.Errorf("%s returned %d: %s", channel, resp.StatusCode, strings.TrimSpace(string(body))),
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		de.Transient = true
		de.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	case resp.StatusCode >= 500:
		de.Transient = true
	}
	return de
}

// parseRetryAfter accepts delta seconds (fractional values as sent by
// Discord) or an HTTP date.
func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
