package config

import (
	"fmt"
	"time"
)

type clockRange struct {
	start, end int
	set        bool
}

func (w Window) parse() (clockRange, error) {
	if w.Start == "" && w.End == "" {
		return clockRange{}, nil
	}
	start, err := parseClock(w.Start)
	if err != nil {
		return clockRange{}, fmt.Errorf("window.start: %w", err)
	}
	end, err := parseClock(w.End)
	if err != nil {
		return clockRange{}, fmt.Errorf("window.end: %w", err)
	}
	return clockRange{start: start, end: end, set: true}, nil
}

// Contains reports whether t falls inside the window. The start minute is
// inclusive and the end minute exclusive; equal bounds cover the whole day.
func (w Window) Contains(t time.Time) bool {
	r, err := w.parse()
	if err != nil || !r.set || r.start == r.end {
		return true
	}
	minute := t.Hour()*60 + t.Minute()
	if r.start < r.end {
		return minute >= r.start && minute < r.end
	}
	return minute >= r.start || minute < r.end
}

func parseClock(value string) (int, error) {
	parsed, err := time.Parse("15:04", value)
	if err != nil {
		return 0, fmt.Errorf("expected HH:MM, got %q", value)
	}
	return parsed.Hour()*60 + parsed.Minute(), nil
}
