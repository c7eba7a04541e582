package instrumentation

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNewDisabled(t *testing.T) {
	inst, err := New(Config{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if inst.Metrics() == nil {
		t.Fatal("metrics must be available even when disabled")
	}
	if inst.Meter("server") == nil || inst.Tracer("server") == nil {
		t.Error("noop providers must yield usable meters and tracers")
	}

	// Recording against noop instruments must be a no-op, not a panic.
	ctx := context.Background()
	m := inst.Metrics()
	m.RecordOutcome(ctx, m.CodesIssued, OutcomeSuccess)
	m.RecordOutcome(ctx, m.TokensRefreshed, OutcomeInvalidGrant)
	m.RecordStorageOperation(ctx, "insert_access_token", nil, time.Now())
	m.RecordStorageOperation(ctx, "insert_access_token", errors.New("boom"), time.Now())
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.RecordOutcome(context.Background(), nil, OutcomeSuccess)
	m.RecordStorageOperation(context.Background(), "op", nil, time.Now())
}

func TestShutdownIdempotent(t *testing.T) {
	inst, err := New(Config{ServiceName: "test"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	called := 0
	inst.OnShutdown(func(ctx context.Context) error {
		called++
		return nil
	})

	ctx := context.Background()
	if err := inst.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if err := inst.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown failed: %v", err)
	}
	if called != 1 {
		t.Errorf("shutdown hooks must run exactly once, ran %d times", called)
	}
}
