package runrecorder

import (
	"encoding/json"

	"stockwatch/internal/catalog"
)

// Summary is the JSON document stored on a finished run.
type Summary struct {
	Stage             string         `json:"stage,omitempty"`
	FailedStage       string         `json:"failed_stage,omitempty"`
	ErrorKind         string         `json:"error_kind,omitempty"`
	Error             string         `json:"error,omitempty"`
	Source            string         `json:"source,omitempty"`
	Digest            string         `json:"digest,omitempty"`
	Observed          int            `json:"observed"`
	Incomplete        bool           `json:"incomplete,omitempty"`
	ChangesCount      int            `json:"changes_count"`
	Changes           map[string]int `json:"changes,omitempty"`
	Unchanged         int            `json:"unchanged"`
	Missing           int            `json:"missing"`
	Duplicates        int            `json:"duplicates,omitempty"`
	SuppressedSoldOut int            `json:"suppressed_soldout,omitempty"`
	Notifications     *Deliveries    `json:"notifications,omitempty"`
	DurationMillis    int64          `json:"duration_ms"`
}

// Deliveries summarizes the notification stage.
type Deliveries struct {
	Delivered      int `json:"delivered"`
	Failed         int `json:"failed"`
	DegradedAlerts int `json:"degraded_alerts,omitempty"`
}

// CountChanges fills Changes and ChangesCount from a persisted change set.
func (s *Summary) CountChanges(changes []catalog.Change) {
	if len(changes) == 0 {
		s.Changes = nil
		s.ChangesCount = 0
		return
	}
	s.Changes = make(map[string]int, len(catalog.ChangeTypes()))
	for _, change := range changes {
		s.Changes[string(change.Type)]++
	}
	s.ChangesCount = len(changes)
}

// Encode renders the summary as stored JSON.
func (s Summary) Encode() string {
	data, err := json.Marshal(s)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// DecodeSummary parses a stored summary. Empty input yields a zero Summary.
func DecodeSummary(raw string) (Summary, error) {
	var s Summary
	if raw == "" {
		return s, nil
	}
	err := json.Unmarshal([]byte(raw), &s)
	return s, err
}
