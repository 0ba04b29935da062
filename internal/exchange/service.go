package exchange

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/culturebridge/learning-engine/internal/achievements"
	"github.com/culturebridge/learning-engine/internal/apperr"
	"github.com/culturebridge/learning-engine/internal/events"
	"github.com/culturebridge/learning-engine/internal/models"
	"github.com/culturebridge/learning-engine/internal/rewards"
)

// Granter pays exchange rewards
type Granter interface {
	Grant(ctx context.Context, req rewards.GrantRequest) (*rewards.Result, error)
}

// AchievementEvaluator grants achievements whose conditions now hold
type AchievementEvaluator interface {
	Evaluate(ctx context.Context, ec achievements.EvalContext) achievements.Outcome
}

// ProgressStore loads the learning progress achievements are checked against
type ProgressStore interface {
	GetProgress(ctx context.Context, userID string) (*models.UserLearningProgress, error)
}

// CreateRequest is the body for hosting an exchange
type CreateRequest struct {
	Title       string `json:"title"`
	Language    string `json:"language"`
	Description string `json:"description,omitempty"`
}

// Outcome is an exchange action with the reward it earned. A failed reward
// never fails the action; it shows up in Warnings.
type Outcome struct {
	Exchange     *Exchange               `json:"exchange"`
	Joined       bool                    `json:"joined"`
	Reward       *rewards.Result         `json:"reward,omitempty"`
	Achievements []achievements.Unlocked `json:"achievements,omitempty"`
	Warnings     []string                `json:"warnings,omitempty"`
}

// Service hosts and joins exchanges and rewards both
type Service struct {
	store     *Store
	granter   Granter
	evaluator AchievementEvaluator
	progress  ProgressStore
	events    events.Publisher
	now       func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithAchievements checks achievements after every first-time participation
func WithAchievements(evaluator AchievementEvaluator, progress ProgressStore) Option {
	return func(s *Service) {
		s.evaluator = evaluator
		s.progress = progress
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates an exchange service
func NewService(store *Store, granter Granter, publisher events.Publisher, opts ...Option) *Service {
	s := &Service{store: store, granter: granter, events: publisher, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create hosts a new exchange for userID
func (s *Service) Create(ctx context.Context, userID string, req CreateRequest) (*Outcome, error) {
	if strings.TrimSpace(req.Title) == "" {
		return nil, apperr.Validation("title is required")
	}
	if strings.TrimSpace(req.Language) == "" {
		return nil, apperr.Validation("language is required")
	}

	ex := &Exchange{
		ID:          uuid.NewString(),
		HostUserID:  userID,
		Title:       req.Title,
		Language:    req.Language,
		Description: req.Description,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.Create(ctx, ex); err != nil {
		return nil, err
	}

	slog.Info("cultural exchange created", "exchange_id", ex.ID, "user_id", userID)

	out := &Outcome{Exchange: ex, Joined: true}
	s.reward(ctx, out, userID, models.TriggerCulturalExchange, "hosted "+ex.Title)
	s.checkAchievements(ctx, out, userID)
	return out, nil
}

// Join enrolls userID in an exchange. Joining twice is a no-op without a reward.
func (s *Service) Join(ctx context.Context, exchangeID, userID string) (*Outcome, error) {
	ex, err := s.store.Get(ctx, exchangeID)
	if err != nil {
		return nil, err
	}
	if ex == nil {
		return nil, apperr.NotFound("exchange", exchangeID)
	}

	joined, err := s.store.Join(ctx, exchangeID, userID, s.now().UTC())
	if err != nil {
		return nil, err
	}

	out := &Outcome{Exchange: ex, Joined: joined}
	if joined {
		slog.Info("cultural exchange joined", "exchange_id", ex.ID, "user_id", userID)
		s.reward(ctx, out, userID, models.TriggerExchangeParticipation, "joined "+ex.Title)
		s.checkAchievements(ctx, out, userID)
	}
	return out, nil
}

// Detail is an exchange with its members
type Detail struct {
	Exchange     *Exchange     `json:"exchange"`
	Participants []Participant `json:"participants"`
}

// Get returns an exchange userID takes part in. Exchanges the user is not a
// member of are reported as not found.
func (s *Service) Get(ctx context.Context, exchangeID, userID string) (*Detail, error) {
	ex, err := s.store.Get(ctx, exchangeID)
	if err != nil {
		return nil, err
	}
	if ex == nil {
		return nil, apperr.NotFound("exchange", exchangeID)
	}

	participants, err := s.store.Participants(ctx, exchangeID)
	if err != nil {
		return nil, err
	}
	for _, p := range participants {
		if p.UserID == userID {
			return &Detail{Exchange: ex, Participants: participants}, nil
		}
	}
	return nil, apperr.NotFound("exchange", exchangeID)
}

// ListForUser returns the exchanges userID takes part in
func (s *Service) ListForUser(ctx context.Context, userID string, limit int) ([]Exchange, error) {
	return s.store.ListForUser(ctx, userID, limit)
}

// ParticipationCount returns the number of exchanges userID takes part in
func (s *Service) ParticipationCount(ctx context.Context, userID string) (int, error) {
	return s.store.ParticipationCount(ctx, userID)
}

// checkAchievements runs the evaluator without a session, so only progress and
// participation conditions can fire
func (s *Service) checkAchievements(ctx context.Context, out *Outcome, userID string) {
	if s.evaluator == nil || s.progress == nil {
		return
	}

	p, err := s.progress.GetProgress(ctx, userID)
	if err != nil {
		slog.Warn("failed to load progress for achievements", "user_id", userID, "error", err)
		out.Warnings = append(out.Warnings, "achievement check failed: "+err.Error())
		return
	}
	if p == nil {
		p = models.NewUserLearningProgress(userID, s.now().UTC())
	}

	outcome := s.evaluator.Evaluate(ctx, achievements.EvalContext{Progress: p})
	out.Achievements = outcome.Unlocked
	for _, f := range outcome.Failures {
		out.Warnings = append(out.Warnings, "achievement "+f.ID+" "+f.Stage+" failed: "+f.Error)
		if s.events != nil {
			s.events.Publish(events.Event{
				Type:   events.RewardFailed,
				UserID: userID,
				Data:   map[string]string{"step": "achievement " + f.ID, "error": f.Error},
			})
		}
	}
}

func (s *Service) reward(ctx context.Context, out *Outcome, userID string, kind models.TriggerKind, description string) {
	if s.granter == nil {
		return
	}

	result, err := s.granter.Grant(ctx, rewards.GrantRequest{UserID: userID, Kind: kind, Description: description})
	if err != nil {
		slog.Warn("exchange reward failed", "user_id", userID, "kind", kind, "error", err)
		out.Warnings = append(out.Warnings, "reward failed: "+err.Error())
		if s.events != nil {
			s.events.Publish(events.Event{
				Type:   events.RewardFailed,
				UserID: userID,
				Data:   map[string]string{"kind": string(kind), "error": err.Error()},
			})
		}
		return
	}
	out.Reward = result
}
