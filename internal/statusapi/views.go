package statusapi

import (
	"time"

	"stockwatch/internal/catalog"
	"stockwatch/internal/runrecorder"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// RunView describes a run audit row in a transport-friendly format.
type RunView struct {
	ID             int64                `json:"id"`
	Status         string               `json:"status"`
	FetchedAt      string               `json:"fetchedAt"`
	FinishedAt     string               `json:"finishedAt,omitempty"`
	DurationMillis int64                `json:"durationMillis,omitempty"`
	Snapshot       string               `json:"snapshot,omitempty"`
	CorrelationID  string               `json:"correlationId"`
	ChangesCount   int                  `json:"changesCount"`
	Summary        *runrecorder.Summary `json:"summary,omitempty"`
}

// ChangeView describes one change row.
type ChangeView struct {
	ID         int64           `json:"id"`
	Code       string          `json:"code"`
	Type       string          `json:"type"`
	OccurredAt string          `json:"occurredAt"`
	Payload    catalog.Payload `json:"payload"`
}

// ItemView describes one tracked item.
type ItemView struct {
	Code      string `json:"code"`
	Title     string `json:"title"`
	Price     int64  `json:"price"`
	InStock   bool   `json:"inStock"`
	URL       string `json:"url,omitempty"`
	FirstSeen string `json:"firstSeen"`
	LastSeen  string `json:"lastSeen"`
}

// HealthView is the /healthz body.
type HealthView struct {
	Status    string   `json:"status"`
	Store     string   `json:"store"`
	Items     int      `json:"items"`
	LatestRun *RunView `json:"latestRun,omitempty"`
}

// RunListResponse wraps /api/runs.
type RunListResponse struct {
	Runs []RunView `json:"runs"`
}

// ChangeListResponse wraps /api/changes.
type ChangeListResponse struct {
	Changes []ChangeView `json:"changes"`
}

// ItemListResponse wraps /api/items. Total counts every item matching the
// filter, not just this page.
type ItemListResponse struct {
	Items  []ItemView `json:"items"`
	Total  int        `json:"total"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
}

// FromItem converts an item row.
func FromItem(item catalog.Item) ItemView {
	return ItemView{
		Code:      item.Code,
		Title:     item.Title,
		Price:     item.Price,
		InStock:   item.InStock,
		URL:       item.URL,
		FirstSeen: formatTime(item.FirstSeen),
		LastSeen:  formatTime(item.LastSeen),
	}
}

// FromRun converts a run row. A summary that fails to decode is omitted.
func FromRun(run catalog.Run) RunView {
	view := RunView{
		ID:            run.ID,
		Status:        string(run.Status),
		FetchedAt:     formatTime(run.FetchedAt),
		Snapshot:      run.Snapshot,
		CorrelationID: run.CorrelationID,
		ChangesCount:  run.ChangesCount,
	}
	if run.FinishedAt != nil {
		view.FinishedAt = formatTime(*run.FinishedAt)
		view.DurationMillis = run.Duration().Milliseconds()
	}
	if run.Summary != "" {
		if summary, err := runrecorder.DecodeSummary(run.Summary); err == nil {
			view.Summary = &summary
		}
	}
	return view
}

// FromChange converts a change row.
func FromChange(change catalog.Change) ChangeView {
	return ChangeView{
		ID:         change.ID,
		Code:       change.Code,
		Type:       string(change.Type),
		OccurredAt: formatTime(change.OccurredAt),
		Payload:    change.Payload,
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
