package catalog

import (
	"fmt"
	"strings"
	"time"
)

// ChangeType classifies a detected difference for a single item.
type ChangeType string

const (
	ChangeNew         ChangeType = "NEW"
	ChangeRestock     ChangeType = "RESTOCK"
	ChangeSoldOut     ChangeType = "SOLDOUT"
	ChangeTitleUpdate ChangeType = "TITLE_UPDATE"
	ChangePriceUpdate ChangeType = "PRICE_UPDATE"
)

var allChangeTypes = []ChangeType{
	ChangeNew,
	ChangeRestock,
	ChangeSoldOut,
	ChangeTitleUpdate,
	ChangePriceUpdate,
}

// ChangeTypes returns every change type in emission order.
func ChangeTypes() []ChangeType {
	out := make([]ChangeType, len(allChangeTypes))
	copy(out, allChangeTypes)
	return out
}

// ParseChangeType converts a stored or user-supplied value into a ChangeType.
func ParseChangeType(value string) (ChangeType, error) {
	candidate := ChangeType(strings.ToUpper(strings.TrimSpace(value)))
	for _, known := range allChangeTypes {
		if candidate == known {
			return known, nil
		}
	}
	return "", fmt.Errorf("unknown change type %q", value)
}

// Rank orders change types for output: NEW, then stock transitions, then
// title updates, then price updates.
func (t ChangeType) Rank() int {
	switch t {
	case ChangeNew:
		return 0
	case ChangeRestock, ChangeSoldOut:
		return 1
	case ChangeTitleUpdate:
		return 2
	case ChangePriceUpdate:
		return 3
	default:
		return 4
	}
}

// Item is the persisted state of a single catalogue entry.
type Item struct {
	Code      string
	Title     string
	Price     int64
	InStock   bool
	URL       string
	FirstSeen time.Time
	LastSeen  time.Time
}

// ObservedItem is one entry of a freshly fetched catalogue.
type ObservedItem struct {
	Code    string `json:"code"`
	Title   string `json:"title"`
	Price   int64  `json:"price"`
	InStock bool   `json:"in_stock"`
	URL     string `json:"url,omitempty"`
}

// Observation is the input of one reconciliation cycle.
//
// FetchErr carries a fetch-level failure (network or layout). When it is set
// Items is ignored. Incomplete marks a parse that may have dropped entries.
type Observation struct {
	FetchedAt  time.Time
	Source     string
	Snapshot   string
	Digest     string
	Items      []ObservedItem
	Incomplete bool
	FetchErr   error
}

// Payload is the structured snapshot stored with a change row.
type Payload struct {
	Title           string  `json:"title"`
	Price           int64   `json:"price"`
	InStock         bool    `json:"in_stock"`
	URL             string  `json:"url,omitempty"`
	PreviousTitle   *string `json:"previous_title,omitempty"`
	PreviousPrice   *int64  `json:"previous_price,omitempty"`
	PreviousInStock *bool   `json:"previous_in_stock,omitempty"`
}

// TitleChanged reports whether the payload carries a title delta.
func (p Payload) TitleChanged() bool {
	return p.PreviousTitle != nil && *p.PreviousTitle != p.Title
}

// PriceChanged reports whether the payload carries a price delta.
func (p Payload) PriceChanged() bool {
	return p.PreviousPrice != nil && *p.PreviousPrice != p.Price
}

// Change is an append-only record of one classified difference.
type Change struct {
	ID         int64
	Code       string
	Type       ChangeType
	Payload    Payload
	OccurredAt time.Time
}

// RunStatus is the terminal (or running) state of a cycle audit row.
type RunStatus string

const (
	RunRunning        RunStatus = "running"
	RunSuccess        RunStatus = "success"
	RunPartialFailure RunStatus = "partial_failure"
	RunFailure        RunStatus = "failure"
)

// Terminal reports whether the status closes a run.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunSuccess, RunPartialFailure, RunFailure:
		return true
	default:
		return false
	}
}

// ParseRunStatus converts a stored value into a RunStatus.
func ParseRunStatus(value string) (RunStatus, error) {
	switch status := RunStatus(strings.ToLower(strings.TrimSpace(value))); status {
	case RunRunning, RunSuccess, RunPartialFailure, RunFailure:
		return status, nil
	default:
		return "", fmt.Errorf("unknown run status %q", value)
	}
}

// Run is the audit record of one cycle.
type Run struct {
	ID            int64
	FetchedAt     time.Time
	Status        RunStatus
	Snapshot      string
	CorrelationID string
	FinishedAt    *time.Time
	ChangesCount  int
	Summary       string
}

// Duration returns the wall-clock time between fetch and finish, or zero
// while the run is still open.
func (r Run) Duration() time.Duration {
	if r.FinishedAt == nil || r.FetchedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.FetchedAt)
}
