package snapshot_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"stockwatch/internal/catalog"
	"stockwatch/internal/faults"
	"stockwatch/internal/snapshot"
)

var now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestDecodeNormalizesItems(t *testing.T) {
	doc := `{
  "fetched_at": "2026-02-28T23:00:00+09:00",
  "source": " https://shop.example/list ",
  "items": [
    {"code": " A1 ", "title": "  ＢＬＵＥ　Widget ", "price": 1200, "in_stock": true, "url": "https://shop.example/a1"},
    {"code": "B2", "title": "Gadget", "price": 800, "in_stock": false}
  ]
}`
	obs := snapshot.Decode([]byte(doc), now)
	if obs.FetchErr != nil {
		t.Fatalf("unexpected fetch error: %v", obs.FetchErr)
	}
	want := []catalog.ObservedItem{
		{Code: "A1", Title: "BLUE Widget", Price: 1200, InStock: true, URL: "https://shop.example/a1"},
		{Code: "B2", Title: "Gadget", Price: 800, InStock: false},
	}
	if diff := cmp.Diff(want, obs.Items); diff != "" {
		t.Fatalf("items mismatch (-want +got):\n%s", diff)
	}
	if !obs.FetchedAt.Equal(time.Date(2026, 2, 28, 14, 0, 0, 0, time.UTC)) {
		t.Fatalf("fetched_at = %s", obs.FetchedAt)
	}
	if obs.Source != "https://shop.example/list" || obs.Incomplete {
		t.Fatalf("unexpected observation header %+v", obs)
	}
}

func TestDecodeDropsUnreadableEntriesAndMarksIncomplete(t *testing.T) {
	doc := `{"items": [
  {"code": "", "title": "no code", "price": 1, "in_stock": true},
  {"code": "A1", "title": "no price", "in_stock": true},
  {"code": "A2", "title": "negative", "price": -5, "in_stock": true},
  {"code": "A3", "title": "no stock flag", "price": 5},
  {"code": "A4", "title": "ok", "price": 5, "in_stock": true}
]}`
	obs := snapshot.Decode([]byte(doc), now)
	if !obs.Incomplete {
		t.Fatal("expected incomplete observation")
	}
	if len(obs.Items) != 1 || obs.Items[0].Code != "A4" {
		t.Fatalf("items = %+v", obs.Items)
	}
	if !obs.FetchedAt.Equal(now) {
		t.Fatalf("fetched_at should default to now, got %s", obs.FetchedAt)
	}
}

func TestDecodeFetchErrors(t *testing.T) {
	tests := []struct {
		name   string
		doc    string
		marker error
	}{
		{name: "network", doc: `{"error": {"kind": "network", "message": "connection reset"}}`, marker: faults.ErrNetwork},
		{name: "layout", doc: `{"error": {"kind": "layout", "message": "selector missing"}}`, marker: faults.ErrLayoutChange},
		{name: "unknown kind", doc: `{"error": {"kind": "mystery"}}`, marker: faults.ErrNetwork},
		{name: "malformed", doc: `{"items": [`, marker: faults.ErrLayoutChange},
		{name: "missing items", doc: `{"source": "x"}`, marker: faults.ErrLayoutChange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs := snapshot.Decode([]byte(tt.doc), now)
			if !errors.Is(obs.FetchErr, tt.marker) {
				t.Fatalf("FetchErr = %v, want %v", obs.FetchErr, tt.marker)
			}
		})
	}
}

func TestDecodeEmptyItemsIsValid(t *testing.T) {
	obs := snapshot.Decode([]byte(`{"items": []}`), now)
	if obs.FetchErr != nil || len(obs.Items) != 0 {
		t.Fatalf("unexpected observation %+v", obs)
	}
}

func TestLoadFromFileAndStdin(t *testing.T) {
	doc := `{"items": [{"code": "A1", "title": "Widget", "price": 1, "in_stock": true}]}`
	path := filepath.Join(t.TempDir(), "snap.json")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	fromFile, err := snapshot.Load(path, nil, now)
	if err != nil {
		t.Fatalf("Load file: %v", err)
	}
	if fromFile.Snapshot != path || len(fromFile.Digest) != 64 {
		t.Fatalf("unexpected reference %q digest %q", fromFile.Snapshot, fromFile.Digest)
	}

	fromStdin, err := snapshot.Load("-", strings.NewReader(doc), now)
	if err != nil {
		t.Fatalf("Load stdin: %v", err)
	}
	if fromStdin.Snapshot != snapshot.StdinRef || fromStdin.Digest != fromFile.Digest {
		t.Fatalf("stdin reference %q digest %q", fromStdin.Snapshot, fromStdin.Digest)
	}

	if _, err := snapshot.Load(filepath.Join(t.TempDir(), "missing.json"), nil, now); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	obs := catalog.Observation{
		FetchedAt: now,
		Source:    "unit",
		Items: []catalog.ObservedItem{
			{Code: "A1", Title: "Widget", Price: 10, InStock: true},
			{Code: "B2", Title: "Gadget", Price: 0, InStock: false},
		},
	}
	data, err := snapshot.Encode(obs)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got := snapshot.Decode(data, time.Time{})
	if diff := cmp.Diff(obs.Items, got.Items); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
	if !got.FetchedAt.Equal(now) {
		t.Fatalf("fetched_at = %s", got.FetchedAt)
	}
}
