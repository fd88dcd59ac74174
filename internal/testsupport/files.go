package testsupport

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"stockwatch/internal/catalog"
	"stockwatch/internal/snapshot"
)

// WriteSnapshot encodes an observation of items into dir and returns the
// file path.
func WriteSnapshot(t testing.TB, dir string, fetchedAt time.Time, items ...catalog.ObservedItem) string {
	t.Helper()

	data, err := snapshot.Encode(catalog.Observation{FetchedAt: fetchedAt, Source: "test", Items: items})
	if err != nil {
		t.Fatalf("encode snapshot: %v", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	path := filepath.Join(dir, "snapshot-"+fetchedAt.UTC().Format("20060102T150405")+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// Observe builds an in-memory observation of items.
func Observe(fetchedAt time.Time, items ...catalog.ObservedItem) catalog.Observation {
	return catalog.Observation{FetchedAt: fetchedAt, Source: "test", Snapshot: "memory", Items: items}
}
