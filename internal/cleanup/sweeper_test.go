package cleanup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingAbandoner struct {
	mu      sync.Mutex
	cutoffs []time.Time
	n       int
	err     error
}

func (r *recordingAbandoner) AbandonStale(ctx context.Context, startedBefore time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cutoffs = append(r.cutoffs, startedBefore)
	return r.n, r.err
}

func (r *recordingAbandoner) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cutoffs)
}

func TestSweepCutoff(t *testing.T) {
	ab := &recordingAbandoner{n: 3}
	s := NewSweeper(ab, time.Minute, 2*time.Hour)
	now := time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	if n := s.Sweep(context.Background()); n != 3 {
		t.Errorf("expected 3 abandoned, got %d", n)
	}
	if want := now.Add(-2 * time.Hour); !ab.cutoffs[0].Equal(want) {
		t.Errorf("expected cutoff %v, got %v", want, ab.cutoffs[0])
	}
}

func TestSweepErrorIsLogged(t *testing.T) {
	ab := &recordingAbandoner{n: 1, err: errors.New("db down")}
	s := NewSweeper(ab, time.Minute, time.Hour)

	if n := s.Sweep(context.Background()); n != 1 {
		t.Errorf("expected partial count 1, got %d", n)
	}
}

func TestSweepSkipsCancelledContext(t *testing.T) {
	ab := &recordingAbandoner{}
	s := NewSweeper(ab, time.Minute, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Sweep(ctx)
	if ab.calls() != 0 {
		t.Error("expected no sweep after cancellation")
	}
}

func TestStartRunsImmediately(t *testing.T) {
	ab := &recordingAbandoner{}
	s := NewSweeper(ab, time.Hour, time.Hour)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for ab.calls() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if ab.calls() == 0 {
		t.Error("expected an immediate sweep on start")
	}
}
