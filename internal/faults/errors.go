package faults

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNetwork      = errors.New("network error")
	ErrLayoutChange = errors.New("layout change")
	ErrDatabase     = errors.New("database error")
	ErrNotification = errors.New("notification error")
	ErrConfig       = errors.New("configuration error")
	ErrTimeout      = errors.New("timeout")
	ErrInternal     = errors.New("internal error")
)

// Kind is the coarse classification of a failure used in logs, metrics labels
// and alerts.
type Kind string

const (
	KindNone         Kind = ""
	KindNetwork      Kind = "network"
	KindLayout       Kind = "layout"
	KindDatabase     Kind = "database"
	KindNotification Kind = "notification"
	KindConfig       Kind = "config"
	KindTimeout      Kind = "timeout"
	KindInternal     Kind = "internal"
)

// Severity grades how loudly a failure is reported.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of
// the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrInternal
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// KindOf classifies err. Context deadline errors count as timeouts even when
// they were not wrapped explicitly.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrLayoutChange):
		return KindLayout
	case errors.Is(err, ErrNetwork):
		return KindNetwork
	case errors.Is(err, ErrDatabase):
		return KindDatabase
	case errors.Is(err, ErrNotification):
		return KindNotification
	case errors.Is(err, ErrConfig):
		return KindConfig
	default:
		return KindInternal
	}
}

// SeverityOf maps a failure kind to its alert severity. Fetch-side failures
// are warnings; everything that loses or blocks state is critical.
func SeverityOf(kind Kind) Severity {
	switch kind {
	case KindNetwork, KindLayout, KindNotification:
		return SeverityWarning
	default:
		return SeverityCritical
	}
}

// Hint returns a short operator-facing next step for a failure kind.
func Hint(kind Kind) string {
	switch kind {
	case KindNetwork:
		return "check connectivity to the catalogue source; the next cycle retries automatically"
	case KindLayout:
		return "the catalogue page structure changed; update the fetcher before state drifts"
	case KindDatabase:
		return "check the state store is reachable and writable; no changes were recorded"
	case KindNotification:
		return "check webhook URLs and channel credentials"
	case KindConfig:
		return "run 'stockwatch config validate' and fix the reported keys"
	case KindTimeout:
		return "the cycle exceeded its deadline; raise cycle.timeout_seconds or investigate slow stages"
	case KindInternal:
		return "unexpected failure; inspect the logged error"
	default:
		return ""
	}
}

// Detail is the structured view of a classified error.
type Detail struct {
	Kind     Kind
	Severity Severity
	Message  string
	Hint     string
}

// Details extracts kind, severity and hint for structured logs and alerts.
func Details(err error) Detail {
	if err == nil {
		return Detail{}
	}
	kind := KindOf(err)
	return Detail{
		Kind:     kind,
		Severity: SeverityOf(kind),
		Message:  strings.TrimSpace(err.Error()),
		Hint:     Hint(kind),
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "cycle failure"
	}
	return strings.Join(parts, ": ")
}
