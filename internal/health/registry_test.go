package health

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCheckAll(t *testing.T) {
	r := NewRegistry(time.Second)
	r.Register("db", CheckerFunc(func(ctx context.Context) error { return nil }))
	r.Register("redis", CheckerFunc(func(ctx context.Context) error { return errors.New("connection refused") }))

	results := r.CheckAll(context.Background())
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results["db"] != nil || results["redis"] == nil {
		t.Errorf("unexpected results: %v", results)
	}
	if Healthy(results) {
		t.Error("expected unhealthy")
	}

	r.Unregister("redis")
	if names := r.Names(); len(names) != 1 || names[0] != "db" {
		t.Errorf("unexpected names: %v", names)
	}
	if !Healthy(r.CheckAll(context.Background())) {
		t.Error("expected healthy after removing redis")
	}
}

func TestCheckTimeout(t *testing.T) {
	r := NewRegistry(20 * time.Millisecond)
	r.Register("slow", CheckerFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	results := r.CheckAll(context.Background())
	if !errors.Is(results["slow"], context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", results["slow"])
	}
}
