package statestore_test

import (
	"context"
	"os"
	"testing"
	"time"

	"stockwatch/internal/catalog"
	"stockwatch/internal/config"
	"stockwatch/internal/statestore"
)

func TestPostgresRoundTrip(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	store, err := statestore.OpenDriver(ctx, config.DriverPostgres, dsn)
	if err != nil {
		t.Fatalf("OpenDriver: %v", err)
	}
	defer store.Close()

	code := "pg-" + time.Now().UTC().Format("150405.000000000")
	now := time.Now().UTC().Truncate(time.Microsecond)
	stored, err := store.Persist(ctx,
		[]catalog.Item{{Code: code, Title: "Postgres", Price: 10, InStock: true, FirstSeen: now, LastSeen: now}},
		[]catalog.Change{{Code: code, Type: catalog.ChangeNew, Payload: catalog.Payload{Title: "Postgres", Price: 10, InStock: true}, OccurredAt: now}},
	)
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if len(stored) != 1 || stored[0].ID == 0 {
		t.Fatalf("expected assigned id, got %+v", stored)
	}

	item, err := store.Get(ctx, code)
	if err != nil || item == nil {
		t.Fatalf("Get: %v %v", item, err)
	}
	if !item.InStock || !item.LastSeen.Equal(now) {
		t.Fatalf("unexpected item %+v", item)
	}

	inStock := true
	if _, total, err := store.ListItems(ctx, statestore.ItemFilter{InStock: &inStock, Limit: 1}); err != nil || total == 0 {
		t.Fatalf("ListItems: total=%d err=%v", total, err)
	}

	runID, err := store.RecordRun(ctx, catalog.Run{FetchedAt: now, CorrelationID: code})
	if err != nil {
		t.Fatalf("RecordRun: %v", err)
	}
	if err := store.FinishRun(ctx, runID, statestore.RunOutcome{Status: catalog.RunSuccess, FinishedAt: now.Add(time.Second), ChangesCount: 1}); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}
	changes, err := store.ListChanges(ctx, statestore.ChangeFilter{Code: code})
	if err != nil || len(changes) != 1 || changes[0].Payload.Title != "Postgres" {
		t.Fatalf("ListChanges: %+v %v", changes, err)
	}
}
