package differ_test

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"stockwatch/internal/catalog"
	"stockwatch/internal/differ"
)

var (
	earlier = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	now     = earlier.Add(10 * time.Minute)
)

func known(items ...catalog.Item) map[string]catalog.Item {
	out := make(map[string]catalog.Item, len(items))
	for _, item := range items {
		if item.FirstSeen.IsZero() {
			item.FirstSeen = earlier
			item.LastSeen = earlier
		}
		out[item.Code] = item
	}
	return out
}

func observe(items ...catalog.ObservedItem) catalog.Observation {
	return catalog.Observation{FetchedAt: now, Items: items}
}

func ptr[T any](v T) *T { return &v }

func apply(state map[string]catalog.Item, upserts []catalog.Item) map[string]catalog.Item {
	next := make(map[string]catalog.Item, len(state)+len(upserts))
	for code, item := range state {
		next[code] = item
	}
	for _, item := range upserts {
		next[item.Code] = item
	}
	return next
}

func TestFirstObservationIsAllNew(t *testing.T) {
	obs := observe(
		catalog.ObservedItem{Code: "C", Title: "Gamma", Price: 300, InStock: true},
		catalog.ObservedItem{Code: "A", Title: "Alpha", Price: 100, InStock: true},
		catalog.ObservedItem{Code: "B", Title: "Beta", Price: 200, InStock: false},
	)
	result := differ.Diff(nil, obs)

	want := []catalog.Change{
		{Code: "A", Type: catalog.ChangeNew, Payload: catalog.Payload{Title: "Alpha", Price: 100, InStock: true}, OccurredAt: now},
		{Code: "B", Type: catalog.ChangeNew, Payload: catalog.Payload{Title: "Beta", Price: 200, InStock: false}, OccurredAt: now},
		{Code: "C", Type: catalog.ChangeNew, Payload: catalog.Payload{Title: "Gamma", Price: 300, InStock: true}, OccurredAt: now},
	}
	if diff := cmp.Diff(want, result.Changes); diff != "" {
		t.Fatalf("changes mismatch (-want +got):\n%s", diff)
	}
	if len(result.Upserts) != 3 {
		t.Fatalf("expected 3 upserts, got %d", len(result.Upserts))
	}
	for _, item := range result.Upserts {
		if !item.FirstSeen.Equal(now) || !item.LastSeen.Equal(now) {
			t.Fatalf("new item timestamps not set: %+v", item)
		}
	}
}

func TestIdenticalObservationProducesNoChanges(t *testing.T) {
	state := known(
		catalog.Item{Code: "A", Title: "Alpha", Price: 100, InStock: true},
		catalog.Item{Code: "B", Title: "Beta", Price: 200},
	)
	result := differ.Diff(state, observe(
		catalog.ObservedItem{Code: "A", Title: "Alpha", Price: 100, InStock: true},
		catalog.ObservedItem{Code: "B", Title: "Beta", Price: 200},
	))
	if len(result.Changes) != 0 {
		t.Fatalf("expected no changes, got %+v", result.Changes)
	}
	if result.Unchanged != 2 {
		t.Fatalf("expected 2 unchanged, got %d", result.Unchanged)
	}
	for _, item := range result.Upserts {
		if !item.FirstSeen.Equal(earlier) {
			t.Fatalf("first_seen must be preserved: %+v", item)
		}
		if !item.LastSeen.Equal(now) {
			t.Fatalf("last_seen should advance to the observation time: %+v", item)
		}
	}
}

func TestDiffIsIdempotentOnceApplied(t *testing.T) {
	state := known(catalog.Item{Code: "A", Title: "Alpha", Price: 100})
	obs := observe(
		catalog.ObservedItem{Code: "A", Title: "Alpha II", Price: 150, InStock: true},
		catalog.ObservedItem{Code: "B", Title: "Beta", Price: 200, InStock: true},
	)
	first := differ.Diff(state, obs)
	if len(first.Changes) != 2 {
		t.Fatalf("expected 2 changes, got %+v", first.Changes)
	}
	second := differ.Diff(apply(state, first.Upserts), obs)
	if len(second.Changes) != 0 {
		t.Fatalf("expected no changes on replay, got %+v", second.Changes)
	}
}

func TestRestockFoldsPriceDelta(t *testing.T) {
	state := known(catalog.Item{Code: "X", Title: "Widget", Price: 1000, InStock: false})
	result := differ.Diff(state, observe(catalog.ObservedItem{Code: "X", Title: "Widget", Price: 900, InStock: true}))

	want := []catalog.Change{{
		Code: "X",
		Type: catalog.ChangeRestock,
		Payload: catalog.Payload{
			Title:           "Widget",
			Price:           900,
			InStock:         true,
			PreviousPrice:   ptr(int64(1000)),
			PreviousInStock: ptr(false),
		},
		OccurredAt: now,
	}}
	if diff := cmp.Diff(want, result.Changes); diff != "" {
		t.Fatalf("changes mismatch (-want +got):\n%s", diff)
	}
}

func TestSoldOutTakesPrecedenceOverTitle(t *testing.T) {
	state := known(catalog.Item{Code: "X", Title: "Widget", Price: 1000, InStock: true})
	result := differ.Diff(state, observe(catalog.ObservedItem{Code: "X", Title: "Widget Pro", Price: 1000}))
	if len(result.Changes) != 1 {
		t.Fatalf("expected exactly one change, got %+v", result.Changes)
	}
	change := result.Changes[0]
	if change.Type != catalog.ChangeSoldOut {
		t.Fatalf("expected SOLDOUT, got %s", change.Type)
	}
	if !change.Payload.TitleChanged() || *change.Payload.PreviousTitle != "Widget" {
		t.Fatalf("title delta should be folded into payload: %+v", change.Payload)
	}
}

func TestTitleAndPriceChangeEmitsSingleTitleUpdate(t *testing.T) {
	state := known(catalog.Item{Code: "X", Title: "Widget", Price: 1000, InStock: true})
	result := differ.Diff(state, observe(catalog.ObservedItem{Code: "X", Title: "Widget v2", Price: 1100, InStock: true}))
	if len(result.Changes) != 1 || result.Changes[0].Type != catalog.ChangeTitleUpdate {
		t.Fatalf("expected one TITLE_UPDATE, got %+v", result.Changes)
	}
	if !result.Changes[0].Payload.PriceChanged() {
		t.Fatalf("price delta should be folded into title update: %+v", result.Changes[0].Payload)
	}
}

func TestPriceOnlyChange(t *testing.T) {
	state := known(catalog.Item{Code: "X", Title: "Widget", Price: 1000, InStock: true, URL: "https://shop.example/x"})
	result := differ.Diff(state, observe(catalog.ObservedItem{Code: "X", Title: "Widget", Price: 950, InStock: true}))
	if len(result.Changes) != 1 || result.Changes[0].Type != catalog.ChangePriceUpdate {
		t.Fatalf("expected one PRICE_UPDATE, got %+v", result.Changes)
	}
	if result.Changes[0].Payload.URL != "https://shop.example/x" {
		t.Fatalf("stored url should fill a missing observed url: %+v", result.Changes[0].Payload)
	}
	if result.Upserts[0].URL != "https://shop.example/x" {
		t.Fatalf("upsert should keep stored url: %+v", result.Upserts[0])
	}
}

func TestMissingCodesAreNeverSoldOut(t *testing.T) {
	state := known(
		catalog.Item{Code: "A", Title: "Alpha", Price: 100, InStock: true},
		catalog.Item{Code: "B", Title: "Beta", Price: 200, InStock: true},
	)
	result := differ.Diff(state, observe(catalog.ObservedItem{Code: "A", Title: "Alpha", Price: 100, InStock: true}))
	if len(result.Changes) != 0 {
		t.Fatalf("missing code must not produce changes, got %+v", result.Changes)
	}
	if diff := cmp.Diff([]string{"B"}, result.Missing); diff != "" {
		t.Fatalf("missing mismatch (-want +got):\n%s", diff)
	}
	for _, item := range result.Upserts {
		if item.Code == "B" {
			t.Fatal("missing code must not be upserted")
		}
	}
}

func TestIncompleteObservationSuppressesSoldOut(t *testing.T) {
	state := known(
		catalog.Item{Code: "A", Title: "Alpha", Price: 100, InStock: true},
		catalog.Item{Code: "B", Title: "Beta", Price: 200, InStock: true},
	)
	obs := observe(
		catalog.ObservedItem{Code: "A", Title: "Alpha", Price: 100, InStock: false},
		catalog.ObservedItem{Code: "B", Title: "Beta", Price: 180, InStock: false},
		catalog.ObservedItem{Code: "C", Title: "Gamma", Price: 50, InStock: true},
	)
	obs.Incomplete = true
	result := differ.Diff(state, obs)

	for _, change := range result.Changes {
		if change.Type == catalog.ChangeSoldOut {
			t.Fatalf("SOLDOUT must be suppressed, got %+v", change)
		}
	}
	if len(result.Changes) != 2 {
		t.Fatalf("expected NEW for C and PRICE_UPDATE for B, got %+v", result.Changes)
	}
	if result.Changes[0].Type != catalog.ChangeNew || result.Changes[1].Type != catalog.ChangePriceUpdate {
		t.Fatalf("unexpected change order %+v", result.Changes)
	}
	if !result.Changes[1].Payload.InStock {
		t.Fatal("suppressed item payload should report the stored in-stock flag")
	}
	if diff := cmp.Diff([]string{"A", "B"}, result.SuppressedSoldOut); diff != "" {
		t.Fatalf("suppressed mismatch (-want +got):\n%s", diff)
	}
	for _, item := range result.Upserts {
		if (item.Code == "A" || item.Code == "B") && !item.InStock {
			t.Fatalf("stored in-stock flag must stay untouched: %+v", item)
		}
	}
}

func TestChangeOrdering(t *testing.T) {
	state := known(
		catalog.Item{Code: "P1", Title: "Price", Price: 1},
		catalog.Item{Code: "T1", Title: "Title", Price: 1},
		catalog.Item{Code: "S2", Title: "Stock", Price: 1, InStock: true},
		catalog.Item{Code: "S1", Title: "Stock", Price: 1},
	)
	result := differ.Diff(state, observe(
		catalog.ObservedItem{Code: "P1", Title: "Price", Price: 2},
		catalog.ObservedItem{Code: "T1", Title: "Title!", Price: 1},
		catalog.ObservedItem{Code: "S2", Title: "Stock", Price: 1},
		catalog.ObservedItem{Code: "S1", Title: "Stock", Price: 1, InStock: true},
		catalog.ObservedItem{Code: "N9", Title: "New", Price: 1},
		catalog.ObservedItem{Code: "N1", Title: "New", Price: 1},
	))

	var got []string
	for _, change := range result.Changes {
		got = append(got, change.Code+":"+string(change.Type))
	}
	want := []string{"N1:NEW", "N9:NEW", "S1:RESTOCK", "S2:SOLDOUT", "T1:TITLE_UPDATE", "P1:PRICE_UPDATE"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestDuplicateCodesKeepFirstOccurrence(t *testing.T) {
	result := differ.Diff(nil, observe(
		catalog.ObservedItem{Code: "A", Title: "First", Price: 1},
		catalog.ObservedItem{Code: "A", Title: "Second", Price: 2},
		catalog.ObservedItem{Code: "", Title: "No code"},
	))
	if len(result.Changes) != 1 || result.Changes[0].Payload.Title != "First" {
		t.Fatalf("expected first occurrence to win, got %+v", result.Changes)
	}
	if diff := cmp.Diff([]string{"A"}, result.Duplicates); diff != "" {
		t.Fatalf("duplicates mismatch (-want +got):\n%s", diff)
	}
}

func TestStaleObservationNeverMovesLastSeenBack(t *testing.T) {
	state := known(catalog.Item{Code: "A", Title: "Alpha", Price: 1, FirstSeen: earlier, LastSeen: now})
	stale := catalog.Observation{FetchedAt: earlier, Items: []catalog.ObservedItem{{Code: "A", Title: "Alpha", Price: 1}}}
	result := differ.Diff(state, stale)
	if !result.Upserts[0].LastSeen.Equal(now) {
		t.Fatalf("last_seen moved backwards: %s", result.Upserts[0].LastSeen)
	}
}

func TestCounts(t *testing.T) {
	result := differ.Diff(nil, observe(
		catalog.ObservedItem{Code: "A", Title: "Alpha"},
		catalog.ObservedItem{Code: "B", Title: "Beta"},
	))
	if got := result.Counts()[catalog.ChangeNew]; got != 2 {
		t.Fatalf("expected 2 NEW, got %d", got)
	}
}
