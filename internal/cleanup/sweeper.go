package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"
)

// Abandoner abandons IN_PROGRESS sessions started before a cutoff
type Abandoner interface {
	AbandonStale(ctx context.Context, startedBefore time.Time) (int, error)
}

// Sweeper periodically abandons sessions that were left open
type Sweeper struct {
	abandoner Abandoner
	interval  time.Duration
	maxAge    time.Duration
	scheduler *gocron.Scheduler
	now       func() time.Time
}

// NewSweeper creates a sweeper that runs every interval and abandons sessions
// older than maxAge
func NewSweeper(abandoner Abandoner, interval, maxAge time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}

	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()

	return &Sweeper{
		abandoner: abandoner,
		interval:  interval,
		maxAge:    maxAge,
		scheduler: s,
		now:       time.Now,
	}
}

// Start schedules the sweep and runs it once immediately
func (s *Sweeper) Start(ctx context.Context) error {
	if _, err := s.scheduler.Every(s.interval).StartImmediately().Do(s.Sweep, ctx); err != nil {
		return err
	}
	s.scheduler.StartAsync()

	slog.Info("session sweeper started", "interval", s.interval, "max_age", s.maxAge)
	return nil
}

// Stop terminates the schedule
func (s *Sweeper) Stop() {
	s.scheduler.Stop()
	slog.Info("session sweeper stopped")
}

// Sweep runs one cleanup cycle and returns how many sessions were abandoned
func (s *Sweeper) Sweep(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}

	cutoff := s.now().UTC().Add(-s.maxAge)
	slog.Debug("running session sweep", "cutoff", cutoff)

	n, err := s.abandoner.AbandonStale(ctx, cutoff)
	if err != nil {
		slog.Error("session sweep failed", "error", err, "abandoned", n)
		return n
	}
	if n > 0 {
		slog.Info("abandoned stale sessions", "count", n)
	}
	return n
}
