package storage

import (
	"context"
	"time"

	"github.com/culturebridge/learning-engine/internal/models"
)

// SessionFilters narrows ListSessions
type SessionFilters struct {
	UserID string
	Status models.SessionStatus
	Limit  int
	Offset int
}

// Repository defines the interface for engine persistence.
// Getters return nil, nil when the record does not exist.
type Repository interface {
	// Learning sessions
	CreateSession(ctx context.Context, s *models.LearningSession) error
	GetSession(ctx context.Context, id string) (*models.LearningSession, error)
	UpdateSession(ctx context.Context, s *models.LearningSession) error
	ListSessions(ctx context.Context, filters SessionFilters) ([]*models.LearningSession, error)
	ListStaleSessions(ctx context.Context, startedBefore time.Time) ([]*models.LearningSession, error)

	// Progress
	GetProgress(ctx context.Context, userID string) (*models.UserLearningProgress, error)
	SaveProgress(ctx context.Context, p *models.UserLearningProgress) error
	// CompleteLearningSession stores a session that just left IN_PROGRESS together with
	// the progress it produced. It fails with ErrSessionAlreadyTerminal when the stored
	// session is no longer IN_PROGRESS.
	CompleteLearningSession(ctx context.Context, s *models.LearningSession, p *models.UserLearningProgress) error
	// GrantAchievement inserts the achievement if absent and reports whether it did
	GrantAchievement(ctx context.Context, userID, achievementID string, at time.Time) (bool, error)

	// Ledger
	Credit(ctx context.Context, tx *models.Transaction) error
	DailyTotal(ctx context.Context, userID string, since time.Time) (models.Amount, error)
	Balance(ctx context.Context, userID string) (models.Amount, error)
	ListTransactions(ctx context.Context, userID string, limit, offset int) ([]*models.Transaction, error)
	GetTransaction(ctx context.Context, id string) (*models.Transaction, error)
	MarkMirrored(ctx context.Context, id, ref string, at time.Time) error
	// EnsureRewardPool seeds the reward pool once; an existing pool is left untouched
	EnsureRewardPool(ctx context.Context, size models.Amount) error
	RewardPoolRemaining(ctx context.Context) (models.Amount, bool, error)

	// API Clients
	GetClientByApiKey(ctx context.Context, apiKey string) (*models.ApiClient, error)
	UpdateClientLastUsed(ctx context.Context, apiKey string) error

	// Health
	Ping(ctx context.Context) error
	Close() error
}
