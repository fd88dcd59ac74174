package faults_test

import (
	"context"
	"testing"

	"stockwatch/internal/faults"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = faults.WithRunID(ctx, 42)
	ctx = faults.WithStage(ctx, "diffed")
	ctx = faults.WithCorrelationID(ctx, "abc-123")
	ctx = faults.WithChannel(ctx, "discord")

	if id, ok := faults.RunIDFromContext(ctx); !ok || id != 42 {
		t.Fatalf("unexpected run id: %v %v", id, ok)
	}
	if stage, ok := faults.StageFromContext(ctx); !ok || stage != "diffed" {
		t.Fatalf("unexpected stage: %v %v", stage, ok)
	}
	if cid, ok := faults.CorrelationIDFromContext(ctx); !ok || cid != "abc-123" {
		t.Fatalf("unexpected correlation id: %v %v", cid, ok)
	}
	if ch, ok := faults.ChannelFromContext(ctx); !ok || ch != "discord" {
		t.Fatalf("unexpected channel: %v %v", ch, ok)
	}
}

func TestBlankValuesPreserveContext(t *testing.T) {
	ctx := context.Background()
	ctx = faults.WithStage(ctx, "")
	ctx = faults.WithRunID(ctx, 0)
	if _, ok := faults.StageFromContext(ctx); ok {
		t.Fatal("expected no stage value")
	}
	if _, ok := faults.RunIDFromContext(ctx); ok {
		t.Fatal("expected no run id")
	}
}
