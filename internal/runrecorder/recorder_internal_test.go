package runrecorder

import (
	"context"
	"testing"
	"time"

	"stockwatch/internal/catalog"
	"stockwatch/internal/testsupport"
)

func TestRecorderStateStaysBoundedAcrossCycles(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	rec := New(store)
	ctx := context.Background()

	var last int64
	for i := 0; i < 50; i++ {
		id, err := rec.Start(ctx, catalog.Observation{FetchedAt: time.Now()}, "")
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
		if err := rec.Finish(ctx, id, catalog.RunSuccess, Summary{}); err != nil {
			t.Fatalf("Finish: %v", err)
		}
		last = id
	}
	if len(rec.started) != 0 {
		t.Fatalf("started holds %d runs after every run finished", len(rec.started))
	}
	if rec.lastFinished != last {
		t.Fatalf("lastFinished = %d, want %d", rec.lastFinished, last)
	}
}
