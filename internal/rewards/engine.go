// Package rewards grants token rewards against the ledger while enforcing the
// per-user daily cap.
package rewards

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/culturebridge/learning-engine/internal/apperr"
	"github.com/culturebridge/learning-engine/internal/catalog"
	"github.com/culturebridge/learning-engine/internal/events"
	"github.com/culturebridge/learning-engine/internal/models"
)

// Grant outcomes reported in Result.Reason
const (
	ReasonGranted         = "granted"
	ReasonClamped         = "clamped_to_daily_cap"
	ReasonDailyCapReached = "daily_cap_reached"
)

// DefaultLedgerTimeout bounds each ledger call when none is configured
const DefaultLedgerTimeout = 5 * time.Second

// Ledger is the balance store rewards are credited to
type Ledger interface {
	Credit(ctx context.Context, tx *models.Transaction) error
	DailyTotal(ctx context.Context, userID string, since time.Time) (models.Amount, error)
	Balance(ctx context.Context, userID string) (models.Amount, error)
}

// Mirror hands a committed credit to the chain mirror
type Mirror interface {
	Enqueue(ctx context.Context, transactionID string) error
}

// GrantRequest asks for one reward. A positive Amount overrides the catalog price.
type GrantRequest struct {
	UserID      string
	Kind        models.TriggerKind
	Amount      models.Amount
	Description string
}

// Result describes what a grant did
type Result struct {
	Granted       bool               `json:"granted"`
	Amount        models.Amount      `json:"amount"`
	Reason        string             `json:"reason"`
	Kind          models.TriggerKind `json:"kind"`
	TransactionID string             `json:"transaction_id,omitempty"`
}

// Engine grants rewards
type Engine struct {
	catalog *catalog.Catalog
	ledger  Ledger
	locker  Locker
	mirror  Mirror
	events  events.Publisher
	timeout time.Duration
	now     func() time.Time
}

// Option configures an Engine
type Option func(*Engine)

// WithLocker sets the per-user lock
func WithLocker(l Locker) Option {
	return func(e *Engine) { e.locker = l }
}

// WithMirror enables the chain mirror
func WithMirror(m Mirror) Option {
	return func(e *Engine) { e.mirror = m }
}

// WithPublisher publishes reward events
func WithPublisher(p events.Publisher) Option {
	return func(e *Engine) { e.events = p }
}

// WithLedgerTimeout bounds each ledger call
func WithLedgerTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a reward engine over ledger
func NewEngine(cat *catalog.Catalog, ledger Ledger, opts ...Option) *Engine {
	e := &Engine{
		catalog: cat,
		ledger:  ledger,
		locker:  NewLocalLocker(),
		timeout: DefaultLedgerTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Catalog returns the catalog the engine prices rewards with
func (e *Engine) Catalog() *catalog.Catalog {
	return e.catalog
}

// DayStart is the UTC midnight starting the daily cap window containing t
func DayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Grant credits the reward for req, clamped to what is left of the user's daily cap.
// Hitting the cap is not an error: the result reports Granted false.
func (e *Engine) Grant(ctx context.Context, req GrantRequest) (*Result, error) {
	if req.UserID == "" {
		return nil, apperr.Validation("user_id is required")
	}
	if req.Amount < 0 {
		return nil, apperr.Validation("amount must not be negative")
	}

	reward, ok := e.catalog.Lookup(req.Kind)
	if !ok {
		slog.Error("reward kind missing from catalog", "kind", req.Kind, "user_id", req.UserID)
		return nil, fmt.Errorf("%w: %s", apperr.ErrUnknownRewardKind, req.Kind)
	}

	amount := reward.Tokens
	if req.Amount > 0 {
		amount = req.Amount
	}
	description := req.Description
	if description == "" {
		description = reward.Description
	}

	unlock, err := e.locker.Lock(ctx, "reward:"+req.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrLedgerUnavailable, err)
	}
	defer unlock()

	now := e.now().UTC()

	total, err := e.dailyTotal(ctx, req.UserID, now)
	if err != nil {
		return nil, err
	}

	remaining := e.catalog.DailyUserCap - total
	if remaining <= 0 {
		slog.Info("daily reward cap reached",
			"user_id", req.UserID,
			"kind", req.Kind,
			"granted_today", total.String(),
		)
		return &Result{Granted: false, Amount: 0, Reason: ReasonDailyCapReached, Kind: req.Kind}, nil
	}

	result := &Result{Granted: true, Amount: amount, Reason: ReasonGranted, Kind: req.Kind}
	if amount > remaining {
		result.Amount = remaining
		result.Reason = ReasonClamped
	}

	tx := &models.Transaction{
		ID:          uuid.NewString(),
		UserID:      req.UserID,
		Amount:      result.Amount,
		Kind:        req.Kind,
		Description: description,
		CreatedAt:   now,
	}
	if err := e.credit(ctx, tx); err != nil {
		return nil, err
	}
	result.TransactionID = tx.ID

	slog.Info("reward granted",
		"user_id", req.UserID,
		"kind", req.Kind,
		"amount", result.Amount.String(),
		"reason", result.Reason,
		"transaction_id", tx.ID,
	)

	e.afterCredit(ctx, tx, result)
	return result, nil
}

func (e *Engine) dailyTotal(ctx context.Context, userID string, now time.Time) (models.Amount, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	total, err := e.ledger.DailyTotal(ctx, userID, DayStart(now))
	if err != nil {
		return 0, ledgerError("daily total", err)
	}
	return total, nil
}

func (e *Engine) credit(ctx context.Context, tx *models.Transaction) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if err := e.ledger.Credit(ctx, tx); err != nil {
		return ledgerError("credit", err)
	}
	return nil
}

// ledgerError keeps domain failures and turns everything else into ErrLedgerUnavailable
func ledgerError(op string, err error) error {
	if errors.Is(err, apperr.ErrInsufficientCapacity) || errors.Is(err, apperr.ErrValidation) {
		return err
	}
	slog.Warn("ledger call failed", "op", op, "error", err)
	return fmt.Errorf("%w: %s: %v", apperr.ErrLedgerUnavailable, op, err)
}

func (e *Engine) afterCredit(ctx context.Context, tx *models.Transaction, result *Result) {
	if e.mirror != nil {
		if err := e.mirror.Enqueue(ctx, tx.ID); err != nil {
			slog.Warn("failed to enqueue ledger mirror", "transaction_id", tx.ID, "error", err)
		}
	}
	if e.events != nil {
		e.events.Publish(events.Event{
			Type:   events.RewardGranted,
			UserID: tx.UserID,
			Data:   result,
			At:     tx.CreatedAt,
		})
	}
}

// Balance reports the user's balance and what was granted in the current window
func (e *Engine) Balance(ctx context.Context, userID string) (*models.BalanceResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	balance, err := e.ledger.Balance(ctx, userID)
	if err != nil {
		return nil, ledgerError("balance", err)
	}
	today, err := e.ledger.DailyTotal(ctx, userID, DayStart(e.now()))
	if err != nil {
		return nil, ledgerError("daily total", err)
	}

	return &models.BalanceResponse{
		UserID:     userID,
		Balance:    balance,
		GrantedDay: today,
		DailyCap:   e.catalog.DailyUserCap,
	}, nil
}
