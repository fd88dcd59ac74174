package notify

import (
	"time"

	"stockwatch/internal/catalog"
	"stockwatch/internal/faults"
)

// EventKind distinguishes what an Event carries.
type EventKind string

const (
	EventChange EventKind = "change"
	EventAlert  EventKind = "alert"
	EventTest   EventKind = "test"
)

// Alert describes a cycle-level failure or a degraded delivery system.
type Alert struct {
	Severity faults.Severity
	Kind     faults.Kind
	Stage    string
	Message  string
	Hint     string
}

// Event is one unit of delivery.
type Event struct {
	Kind          EventKind
	Change        *catalog.Change
	Alert         *Alert
	RunID         int64
	CorrelationID string
	At            time.Time
}

// ChangeEvent wraps a persisted change for delivery.
func ChangeEvent(change catalog.Change, runID int64, correlationID string) Event {
	c := change
	return Event{
		Kind:          EventChange,
		Change:        &c,
		RunID:         runID,
		CorrelationID: correlationID,
		At:            change.OccurredAt,
	}
}

// AlertEvent wraps an alert for delivery.
func AlertEvent(alert Alert, runID int64, correlationID string, at time.Time) Event {
	a := alert
	if a.Severity == "" {
		a.Severity = faults.SeverityOf(a.Kind)
	}
	if a.Hint == "" {
		a.Hint = faults.Hint(a.Kind)
	}
	return Event{
		Kind:          EventAlert,
		Alert:         &a,
		RunID:         runID,
		CorrelationID: correlationID,
		At:            at,
	}
}

// TestEvent builds the message sent by `stockwatch test-notify`.
func TestEvent(at time.Time) Event {
	return Event{Kind: EventTest, At: at}
}

// Label names the event in logs.
func (e Event) Label() string {
	switch e.Kind {
	case EventChange:
		if e.Change != nil {
			return string(e.Change.Type) + ":" + e.Change.Code
		}
	case EventAlert:
		if e.Alert != nil {
			return "alert:" + string(e.Alert.Severity)
		}
	}
	return string(e.Kind)
}
