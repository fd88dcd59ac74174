package testsupport

import (
	"context"
	"testing"
	"time"

	"stockwatch/internal/catalog"
	"stockwatch/internal/config"
	"stockwatch/internal/statestore"
)

// MustOpenStore opens a statestore.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *statestore.Store {
	t.Helper()

	store, err := statestore.Open(cfg)
	if err != nil {
		t.Fatalf("statestore.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// SeedItems writes items directly into the store as known state.
func SeedItems(t testing.TB, store *statestore.Store, seenAt time.Time, items ...catalog.ObservedItem) {
	t.Helper()

	rows := make([]catalog.Item, 0, len(items))
	for _, item := range items {
		rows = append(rows, catalog.Item{
			Code:      item.Code,
			Title:     item.Title,
			Price:     item.Price,
			InStock:   item.InStock,
			URL:       item.URL,
			FirstSeen: seenAt,
			LastSeen:  seenAt,
		})
	}
	if err := store.Upsert(context.Background(), rows); err != nil {
		t.Fatalf("store.Upsert: %v", err)
	}
}
