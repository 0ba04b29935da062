package rewards

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/culturebridge/learning-engine/internal/apperr"
	"github.com/culturebridge/learning-engine/internal/catalog"
	"github.com/culturebridge/learning-engine/internal/events"
	"github.com/culturebridge/learning-engine/internal/models"
	"github.com/culturebridge/learning-engine/internal/storage"
)

var testNow = time.Date(2026, 3, 11, 18, 30, 0, 0, time.UTC)

func newTestEngine(t *testing.T, dailyCap models.Amount, opts ...Option) (*Engine, *storage.MemoryRepository) {
	t.Helper()
	cat := catalog.Default()
	if dailyCap > 0 {
		cat.DailyUserCap = dailyCap
	}
	repo := storage.NewMemoryRepository()
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	return NewEngine(cat, repo, opts...), repo
}

func TestGrantCatalogAmount(t *testing.T) {
	engine, repo := newTestEngine(t, 0)

	res, err := engine.Grant(context.Background(), GrantRequest{UserID: "u1", Kind: models.TriggerDailyLogin})
	if err != nil {
		t.Fatalf("Grant failed: %v", err)
	}
	if !res.Granted || res.Reason != ReasonGranted || res.Amount != models.Tokens(5) {
		t.Errorf("unexpected result: %+v", res)
	}

	tx, _ := repo.GetTransaction(context.Background(), res.TransactionID)
	if tx == nil || tx.Kind != models.TriggerDailyLogin || tx.Description != "daily login" {
		t.Errorf("transaction not recorded as expected: %+v", tx)
	}
}

func TestGrantClampsToDailyCap(t *testing.T) {
	ctx := context.Background()
	engine, repo := newTestEngine(t, models.Tokens(50))

	prior := &models.Transaction{ID: "prior", UserID: "u1", Amount: models.Tokens(48), Kind: models.TriggerReferral, CreatedAt: testNow.Add(-time.Hour)}
	if err := repo.Credit(ctx, prior); err != nil {
		t.Fatal(err)
	}

	res, err := engine.Grant(ctx, GrantRequest{UserID: "u1", Kind: models.TriggerDailyLogin})
	if err != nil {
		t.Fatalf("Grant failed: %v", err)
	}
	if !res.Granted || res.Amount != models.Tokens(2) || res.Reason != ReasonClamped {
		t.Errorf("expected clamped grant of 2, got %+v", res)
	}

	res, err = engine.Grant(ctx, GrantRequest{UserID: "u1", Kind: models.TriggerComment})
	if err != nil {
		t.Fatalf("Grant at cap returned error: %v", err)
	}
	if res.Granted || res.Amount != 0 || res.Reason != ReasonDailyCapReached {
		t.Errorf("expected daily_cap_reached, got %+v", res)
	}

	total, _ := repo.DailyTotal(ctx, "u1", DayStart(testNow))
	if total != models.Tokens(50) {
		t.Errorf("expected total 50, got %s", total)
	}
}

func TestGrantCapWindowStartsAtUTCMidnight(t *testing.T) {
	ctx := context.Background()
	engine, repo := newTestEngine(t, models.Tokens(10))

	yesterday := &models.Transaction{ID: "y", UserID: "u1", Amount: models.Tokens(10), Kind: models.TriggerShare, CreatedAt: DayStart(testNow).Add(-time.Second)}
	if err := repo.Credit(ctx, yesterday); err != nil {
		t.Fatal(err)
	}

	res, err := engine.Grant(ctx, GrantRequest{UserID: "u1", Kind: models.TriggerDailyLogin})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Granted || res.Amount != models.Tokens(5) {
		t.Errorf("yesterday's credits must not count, got %+v", res)
	}
}

func TestGrantExplicitAmount(t *testing.T) {
	engine, _ := newTestEngine(t, 0)

	res, err := engine.Grant(context.Background(), GrantRequest{
		UserID:      "u1",
		Kind:        models.TriggerLearningReward,
		Amount:      models.AmountFromFloat(4.5),
		Description: "vocabulary session",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Amount != models.AmountFromFloat(4.5) {
		t.Errorf("expected explicit amount 4.5, got %s", res.Amount)
	}
}

func TestGrantUnknownKind(t *testing.T) {
	engine, repo := newTestEngine(t, 0)

	_, err := engine.Grant(context.Background(), GrantRequest{UserID: "u1", Kind: "MOON_LANDING"})
	if !errors.Is(err, apperr.ErrUnknownRewardKind) {
		t.Fatalf("expected ErrUnknownRewardKind, got %v", err)
	}
	if txs, _ := repo.ListTransactions(context.Background(), "u1", 0, 0); len(txs) != 0 {
		t.Errorf("unknown kind must not credit")
	}
}

func TestGrantValidation(t *testing.T) {
	engine, _ := newTestEngine(t, 0)

	if _, err := engine.Grant(context.Background(), GrantRequest{Kind: models.TriggerShare}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error for missing user, got %v", err)
	}
	if _, err := engine.Grant(context.Background(), GrantRequest{UserID: "u1", Kind: models.TriggerShare, Amount: -1}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error for negative amount, got %v", err)
	}
}

// stuckLedger never answers until its context is done
type stuckLedger struct{}

func (stuckLedger) Credit(ctx context.Context, tx *models.Transaction) error {
	<-ctx.Done()
	return ctx.Err()
}

func (stuckLedger) DailyTotal(ctx context.Context, userID string, since time.Time) (models.Amount, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

func (stuckLedger) Balance(ctx context.Context, userID string) (models.Amount, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

func TestGrantLedgerTimeout(t *testing.T) {
	engine := NewEngine(catalog.Default(), stuckLedger{}, WithLedgerTimeout(20*time.Millisecond))

	start := time.Now()
	_, err := engine.Grant(context.Background(), GrantRequest{UserID: "u1", Kind: models.TriggerDailyLogin})
	if !errors.Is(err, apperr.ErrLedgerUnavailable) {
		t.Fatalf("expected ErrLedgerUnavailable, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("ledger timeout not applied")
	}
}

func TestGrantInsufficientCapacity(t *testing.T) {
	ctx := context.Background()
	engine, repo := newTestEngine(t, 0)
	if err := repo.EnsureRewardPool(ctx, models.Tokens(1)); err != nil {
		t.Fatal(err)
	}

	_, err := engine.Grant(ctx, GrantRequest{UserID: "u1", Kind: models.TriggerDailyLogin})
	if !errors.Is(err, apperr.ErrInsufficientCapacity) {
		t.Errorf("expected ErrInsufficientCapacity, got %v", err)
	}
}

func TestGrantConcurrentNeverExceedsCap(t *testing.T) {
	ctx := context.Background()
	engine, repo := newTestEngine(t, models.Tokens(100))

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := engine.Grant(ctx, GrantRequest{UserID: "u1", Kind: models.TriggerDailyLogin})
			if err != nil {
				t.Errorf("Grant failed: %v", err)
				return
			}
			if res.Granted {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	total, _ := repo.DailyTotal(ctx, "u1", DayStart(testNow))
	if total != models.Tokens(100) {
		t.Errorf("expected total exactly 100, got %s", total)
	}
	if granted != 20 {
		t.Errorf("expected 20 grants of 5, got %d", granted)
	}
}

type recordingMirror struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (m *recordingMirror) Enqueue(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids = append(m.ids, id)
	return m.err
}

func TestGrantMirrorsAndPublishes(t *testing.T) {
	mirror := &recordingMirror{err: errors.New("queue down")}
	hub := events.NewHub(4)
	sub := hub.Subscribe("u1")
	defer sub.Close()

	engine, _ := newTestEngine(t, 0, WithMirror(mirror), WithPublisher(hub))

	res, err := engine.Grant(context.Background(), GrantRequest{UserID: "u1", Kind: models.TriggerShare})
	if err != nil {
		t.Fatalf("mirror failure must not fail the grant: %v", err)
	}

	if len(mirror.ids) != 1 || mirror.ids[0] != res.TransactionID {
		t.Errorf("expected mirror enqueue of %s, got %v", res.TransactionID, mirror.ids)
	}

	select {
	case ev := <-sub.C:
		if ev.Type != events.RewardGranted {
			t.Errorf("expected reward.granted, got %s", ev.Type)
		}
	default:
		t.Errorf("no event published")
	}
}

func TestBalance(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t, 0)

	if _, err := engine.Grant(ctx, GrantRequest{UserID: "u1", Kind: models.TriggerDailyLogin}); err != nil {
		t.Fatal(err)
	}

	b, err := engine.Balance(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if b.Balance != models.Tokens(5) || b.GrantedDay != models.Tokens(5) || b.DailyCap != models.Tokens(100) {
		t.Errorf("unexpected balance: %+v", b)
	}
}
