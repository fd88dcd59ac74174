package statestore_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"stockwatch/internal/catalog"
	"stockwatch/internal/config"
	"stockwatch/internal/faults"
	"stockwatch/internal/statestore"
	"stockwatch/internal/testsupport"
)

var t0 = time.Date(2024, 5, 1, 9, 30, 0, 123456789, time.UTC)

func TestOpenCreatesSchemaAndReopens(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	if store.Driver() != config.DriverSQLite {
		t.Fatalf("unexpected driver %q", store.Driver())
	}
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened := testsupport.MustOpenStore(t, cfg)
	items, err := reopened.GetAll(context.Background())
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected empty store, got %d items", len(items))
	}
}

func TestOpenRejectsSchemaMismatch(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	store.Close()

	db, err := sql.Open("sqlite", cfg.Store.Path)
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	if _, err := db.Exec("UPDATE schema_version SET version = 99"); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	db.Close()

	_, err = statestore.Open(cfg)
	if !errors.Is(err, statestore.ErrSchemaMismatch) {
		t.Fatalf("expected schema mismatch, got %v", err)
	}
	if !errors.Is(err, faults.ErrDatabase) {
		t.Fatalf("expected database marker, got %v", err)
	}
}

func TestOpenDriverRejectsUnknownDriver(t *testing.T) {
	_, err := statestore.OpenDriver(context.Background(), "mysql", "whatever")
	if !errors.Is(err, faults.ErrConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestPersistWritesItemsAndChanges(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	items := []catalog.Item{
		{Code: "A1", Title: "Alpha", Price: 1200, InStock: true, URL: "https://shop.example/a1", FirstSeen: t0, LastSeen: t0},
		{Code: "B2", Title: "Beta", Price: 800, InStock: false, FirstSeen: t0, LastSeen: t0},
	}
	changes := []catalog.Change{
		{Code: "A1", Type: catalog.ChangeNew, Payload: catalog.Payload{Title: "Alpha", Price: 1200, InStock: true}, OccurredAt: t0},
		{Code: "B2", Type: catalog.ChangeNew, Payload: catalog.Payload{Title: "Beta", Price: 800}, OccurredAt: t0},
	}

	stored, err := store.Persist(ctx, items, changes)
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if len(stored) != 2 || stored[0].ID == 0 || stored[1].ID <= stored[0].ID {
		t.Fatalf("expected ascending ids, got %+v", stored)
	}

	got, err := store.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	want := map[string]catalog.Item{"A1": items[0], "B2": items[1]}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("stored items mismatch (-want +got):\n%s", diff)
	}

	listed, err := store.ListChanges(ctx, statestore.ChangeFilter{})
	if err != nil {
		t.Fatalf("ListChanges: %v", err)
	}
	if len(listed) != 2 || listed[0].Code != "B2" {
		t.Fatalf("expected newest first, got %+v", listed)
	}
	if listed[1].Payload.Title != "Alpha" || !listed[1].Payload.InStock {
		t.Fatalf("payload did not round-trip: %+v", listed[1].Payload)
	}
	if !listed[1].OccurredAt.Equal(t0) {
		t.Fatalf("occurred_at lost precision: %s", listed[1].OccurredAt)
	}
}

func TestUpsertKeepsFirstSeenAndMonotonicLastSeen(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	later := t0.Add(time.Hour)
	if err := store.Upsert(ctx, []catalog.Item{{Code: "A1", Title: "Alpha", FirstSeen: later, LastSeen: later}}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	// A stale observation must not move last_seen backwards or reset first_seen.
	if err := store.Upsert(ctx, []catalog.Item{{Code: "A1", Title: "Alpha v2", Price: 5, FirstSeen: t0, LastSeen: t0}}); err != nil {
		t.Fatalf("Upsert stale: %v", err)
	}

	item, err := store.Get(ctx, "A1")
	if err != nil || item == nil {
		t.Fatalf("Get: %v %v", item, err)
	}
	if !item.FirstSeen.Equal(later) {
		t.Fatalf("first_seen changed: %s", item.FirstSeen)
	}
	if !item.LastSeen.Equal(later) {
		t.Fatalf("last_seen moved backwards: %s", item.LastSeen)
	}
	if item.Title != "Alpha v2" || item.Price != 5 {
		t.Fatalf("attributes not updated: %+v", item)
	}

	newest := later.Add(time.Minute)
	if err := store.Upsert(ctx, []catalog.Item{{Code: "A1", Title: "Alpha v2", Price: 5, FirstSeen: newest, LastSeen: newest}}); err != nil {
		t.Fatalf("Upsert newer: %v", err)
	}
	item, _ = store.Get(ctx, "A1")
	if !item.LastSeen.Equal(newest) {
		t.Fatalf("expected last_seen to advance to %s, got %s", newest, item.LastSeen)
	}

	missing, err := store.Get(ctx, "ZZ")
	if err != nil || missing != nil {
		t.Fatalf("expected nil for unknown code, got %+v %v", missing, err)
	}
}

func TestPersistIsAtomic(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	items := []catalog.Item{{Code: "A1", Title: "Alpha", FirstSeen: t0, LastSeen: t0}}
	changes := []catalog.Change{
		{Code: "A1", Type: catalog.ChangeNew, OccurredAt: t0},
		{Code: "A1", Type: catalog.ChangeType("BOGUS"), OccurredAt: t0},
	}
	_, err := store.Persist(ctx, items, changes)
	if !errors.Is(err, faults.ErrDatabase) {
		t.Fatalf("expected database error, got %v", err)
	}

	got, err := store.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected rollback of item upserts, got %+v", got)
	}
	listed, _ := store.ListChanges(ctx, statestore.ChangeFilter{})
	if len(listed) != 0 {
		t.Fatalf("expected rollback of change rows, got %+v", listed)
	}
}

func TestListChangesFilterAndPrune(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	old := t0.Add(-48 * time.Hour)
	_, err := store.AppendChanges(ctx, []catalog.Change{
		{Code: "A1", Type: catalog.ChangeNew, OccurredAt: old},
		{Code: "A1", Type: catalog.ChangePriceUpdate, OccurredAt: t0},
		{Code: "B2", Type: catalog.ChangeRestock, OccurredAt: t0},
	})
	if err != nil {
		t.Fatalf("AppendChanges: %v", err)
	}

	byCode, err := store.ListChanges(ctx, statestore.ChangeFilter{Code: "A1"})
	if err != nil || len(byCode) != 2 {
		t.Fatalf("expected 2 changes for A1, got %d (%v)", len(byCode), err)
	}
	byType, err := store.ListChanges(ctx, statestore.ChangeFilter{Type: catalog.ChangeRestock})
	if err != nil || len(byType) != 1 || byType[0].Code != "B2" {
		t.Fatalf("unexpected type filter result %+v (%v)", byType, err)
	}
	recent, err := store.ListChanges(ctx, statestore.ChangeFilter{Since: t0.Add(-time.Hour), Limit: 1})
	if err != nil || len(recent) != 1 {
		t.Fatalf("unexpected since/limit result %+v (%v)", recent, err)
	}

	pruned, err := store.PruneChanges(ctx, t0.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PruneChanges: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("expected 1 pruned change, got %d", pruned)
	}
}

func TestListItemsPagesAndFiltersByStock(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	testsupport.SeedItems(t, store, t0,
		catalog.ObservedItem{Code: "C3", Title: "Charlie", Price: 300, InStock: true},
		catalog.ObservedItem{Code: "A1", Title: "Alpha", Price: 100, InStock: true},
		catalog.ObservedItem{Code: "B2", Title: "Bravo", Price: 200, InStock: false},
	)

	codes := func(items []catalog.Item) []string {
		out := make([]string, 0, len(items))
		for _, item := range items {
			out = append(out, item.Code)
		}
		return out
	}
	inStock, soldOut := true, false

	tests := []struct {
		name      string
		filter    statestore.ItemFilter
		wantCodes []string
		wantTotal int
	}{
		{name: "all", filter: statestore.ItemFilter{}, wantCodes: []string{"A1", "B2", "C3"}, wantTotal: 3},
		{name: "first page", filter: statestore.ItemFilter{Limit: 2}, wantCodes: []string{"A1", "B2"}, wantTotal: 3},
		{name: "second page", filter: statestore.ItemFilter{Limit: 2, Offset: 2}, wantCodes: []string{"C3"}, wantTotal: 3},
		{name: "in stock", filter: statestore.ItemFilter{InStock: &inStock}, wantCodes: []string{"A1", "C3"}, wantTotal: 2},
		{name: "sold out", filter: statestore.ItemFilter{InStock: &soldOut}, wantCodes: []string{"B2"}, wantTotal: 1},
		{name: "past the end", filter: statestore.ItemFilter{Offset: 10}, wantCodes: []string{}, wantTotal: 3},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			items, total, err := store.ListItems(ctx, tc.filter)
			if err != nil {
				t.Fatalf("ListItems: %v", err)
			}
			if total != tc.wantTotal {
				t.Errorf("total = %d, want %d", total, tc.wantTotal)
			}
			if diff := cmp.Diff(tc.wantCodes, codes(items)); diff != "" {
				t.Errorf("codes mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRunLifecycle(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	id, err := store.RecordRun(ctx, catalog.Run{FetchedAt: t0, Snapshot: "snapshot.json", CorrelationID: "cid-1"})
	if err != nil {
		t.Fatalf("RecordRun: %v", err)
	}
	run, err := store.GetRun(ctx, id)
	if err != nil || run == nil {
		t.Fatalf("GetRun: %v %v", run, err)
	}
	if run.Status != catalog.RunRunning || run.FinishedAt != nil || run.Snapshot != "snapshot.json" {
		t.Fatalf("unexpected open run %+v", run)
	}

	if err := store.UpdateRunStatus(ctx, id, catalog.RunPartialFailure); err != nil {
		t.Fatalf("UpdateRunStatus: %v", err)
	}
	finished := t0.Add(2 * time.Second)
	if err := store.FinishRun(ctx, id, statestore.RunOutcome{Status: catalog.RunSuccess, FinishedAt: finished, ChangesCount: 3, Summary: `{"changes":3}`}); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}
	latest, err := store.LatestRun(ctx)
	if err != nil || latest == nil {
		t.Fatalf("LatestRun: %v %v", latest, err)
	}
	if latest.Status != catalog.RunSuccess || latest.ChangesCount != 3 || latest.Duration() != 2*time.Second {
		t.Fatalf("unexpected finished run %+v", latest)
	}

	if err := store.FinishRun(ctx, id, statestore.RunOutcome{Status: catalog.RunRunning}); err == nil {
		t.Fatal("expected error for non-terminal finish")
	}
	if err := store.FinishRun(ctx, id, statestore.RunOutcome{Status: catalog.RunFailure, FinishedAt: finished}); !errors.Is(err, statestore.ErrRunClosed) {
		t.Fatalf("expected ErrRunClosed on second finish, got %v", err)
	}
	if err := store.UpdateRunStatus(ctx, 9999, catalog.RunFailure); !errors.Is(err, faults.ErrDatabase) {
		t.Fatalf("expected database error for unknown run, got %v", err)
	}
}

func TestAbandonRunningAndPruneRuns(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	old := t0.Add(-72 * time.Hour)
	oldID, err := store.RecordRun(ctx, catalog.Run{FetchedAt: old})
	if err != nil {
		t.Fatalf("RecordRun: %v", err)
	}
	if _, err := store.RecordRun(ctx, catalog.Run{FetchedAt: t0}); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}

	// Running rows are never pruned.
	if n, err := store.PruneRuns(ctx, t0.Add(-time.Hour)); err != nil || n != 0 {
		t.Fatalf("expected no pruned runs, got %d (%v)", n, err)
	}

	abandoned, err := store.AbandonRunning(ctx, t0, "abandoned")
	if err != nil {
		t.Fatalf("AbandonRunning: %v", err)
	}
	if abandoned != 2 {
		t.Fatalf("expected 2 abandoned runs, got %d", abandoned)
	}
	run, _ := store.GetRun(ctx, oldID)
	if run.Status != catalog.RunFailure || run.Summary != "abandoned" {
		t.Fatalf("unexpected abandoned run %+v", run)
	}

	if n, err := store.PruneRuns(ctx, t0.Add(-time.Hour)); err != nil || n != 1 {
		t.Fatalf("expected 1 pruned run, got %d (%v)", n, err)
	}
	runs, err := store.ListRuns(ctx, 10)
	if err != nil || len(runs) != 1 {
		t.Fatalf("expected one remaining run, got %d (%v)", len(runs), err)
	}
}
