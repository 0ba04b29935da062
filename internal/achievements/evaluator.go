// Package achievements evaluates the one-time achievements and pays their rewards.
package achievements

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/culturebridge/learning-engine/internal/events"
	"github.com/culturebridge/learning-engine/internal/models"
	"github.com/culturebridge/learning-engine/internal/rewards"
)

// ConditionKind selects what a condition measures
type ConditionKind string

const (
	CondTotalLessons    ConditionKind = "total_lessons"
	CondStreakDays      ConditionKind = "streak_days"
	CondSessionAccuracy ConditionKind = "session_accuracy"
	CondLanguageWords   ConditionKind = "language_words"
	CondParticipations  ConditionKind = "exchange_participations"
)

// Condition is satisfied when the measured value reaches Threshold
type Condition struct {
	Kind      ConditionKind `json:"kind"`
	Threshold float64       `json:"threshold"`
}

// Achievement is one grantable achievement
type Achievement struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Condition   Condition     `json:"condition"`
	Reward      models.Amount `json:"reward"`
}

// Definitions is the fixed achievement set in evaluation order
var Definitions = []Achievement{
	{"FIRST_LESSON", "First Lesson", "Complete your first lesson", Condition{CondTotalLessons, 1}, models.Tokens(5)},
	{"WEEK_STREAK", "Week Streak", "Study seven days in a row", Condition{CondStreakDays, 7}, models.Tokens(10)},
	{"MONTH_STREAK", "Month Streak", "Study thirty days in a row", Condition{CondStreakDays, 30}, models.Tokens(50)},
	{"PERFECT_SCORE", "Perfect Score", "Finish a session with every answer correct", Condition{CondSessionAccuracy, 100}, models.Tokens(15)},
	{"VOCABULARY_MASTER", "Vocabulary Master", "Learn 500 words in one language", Condition{CondLanguageWords, 500}, models.Tokens(100)},
	{"CULTURAL_EXPLORER", "Cultural Explorer", "Take part in ten cultural exchanges", Condition{CondParticipations, 10}, models.Tokens(30)},
}

// ParticipationCounter reports how many cultural exchanges a user took part in
type ParticipationCounter interface {
	ParticipationCount(ctx context.Context, userID string) (int, error)
}

// Store records granted achievements
type Store interface {
	GrantAchievement(ctx context.Context, userID, achievementID string, at time.Time) (bool, error)
}

// Granter pays achievement rewards
type Granter interface {
	Grant(ctx context.Context, req rewards.GrantRequest) (*rewards.Result, error)
}

// EvalContext carries everything any condition may look at
type EvalContext struct {
	Progress        *models.UserLearningProgress
	Language        string
	SessionAccuracy float64
	HasSession      bool

	participations func(ctx context.Context) (int, error)
}

// Satisfied reports whether the condition holds for ec
func (c Condition) Satisfied(ctx context.Context, ec *EvalContext) (bool, error) {
	p := ec.Progress
	switch c.Kind {
	case CondTotalLessons:
		return float64(p.TotalLessons) >= c.Threshold, nil
	case CondStreakDays:
		return float64(p.Streak.Current) >= c.Threshold, nil
	case CondSessionAccuracy:
		return ec.HasSession && ec.SessionAccuracy >= c.Threshold, nil
	case CondLanguageWords:
		lp := p.Language(ec.Language)
		return lp != nil && float64(lp.WordsLearned) >= c.Threshold, nil
	case CondParticipations:
		if ec.participations == nil {
			return false, nil
		}
		n, err := ec.participations(ctx)
		if err != nil {
			return false, err
		}
		return float64(n) >= c.Threshold, nil
	default:
		return false, fmt.Errorf("unknown condition kind %q", c.Kind)
	}
}

// Unlocked is an achievement granted by one evaluation
type Unlocked struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Reward   models.Amount   `json:"reward"`
	Result   *rewards.Result `json:"result,omitempty"`
	Unlocked time.Time       `json:"unlocked_at"`
}

// Failure is an achievement whose check, record or reward failed
type Failure struct {
	ID    string `json:"id"`
	Stage string `json:"stage"`
	Error string `json:"error"`
}

// Outcome is the result of one evaluation
type Outcome struct {
	Unlocked []Unlocked `json:"unlocked"`
	Failures []Failure  `json:"failures,omitempty"`
}

// Evaluator checks the achievement set after each completed session
type Evaluator struct {
	store          Store
	granter        Granter
	participations ParticipationCounter
	events         events.Publisher
	definitions    []Achievement
	now            func() time.Time
}

// Option configures an Evaluator
type Option func(*Evaluator)

// WithParticipations sets the cultural exchange source
func WithParticipations(c ParticipationCounter) Option {
	return func(e *Evaluator) { e.participations = c }
}

// WithPublisher publishes achievement.unlocked events
func WithPublisher(p events.Publisher) Option {
	return func(e *Evaluator) { e.events = p }
}

// WithRewards overrides achievement rewards by id
func WithRewards(amounts map[string]models.Amount) Option {
	return func(e *Evaluator) {
		for i, a := range e.definitions {
			if amount, ok := amounts[a.ID]; ok && amount > 0 {
				e.definitions[i].Reward = amount
			}
		}
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) { e.now = now }
}

// NewEvaluator creates an evaluator over the fixed definitions
func NewEvaluator(store Store, granter Granter, opts ...Option) *Evaluator {
	e := &Evaluator{
		store:       store,
		granter:     granter,
		definitions: append([]Achievement(nil), Definitions...),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Achievements returns the definitions with their effective rewards
func (e *Evaluator) Achievements() []Achievement {
	return append([]Achievement(nil), e.definitions...)
}

// Evaluate grants every satisfied achievement the user does not hold yet.
// ec.Progress gains the newly granted ids. A failure of one achievement is
// recorded in the outcome and does not stop the others.
func (e *Evaluator) Evaluate(ctx context.Context, ec EvalContext) Outcome {
	var out Outcome
	if ec.Progress == nil {
		return out
	}
	p := ec.Progress
	if p.Achievements == nil {
		p.Achievements = make(map[string]time.Time)
	}
	ec.participations = e.lazyParticipations(p.UserID)

	for _, a := range e.definitions {
		if p.HasAchievement(a.ID) {
			continue
		}

		ok, err := a.Condition.Satisfied(ctx, &ec)
		if err != nil {
			slog.Warn("achievement check failed", "user_id", p.UserID, "achievement", a.ID, "error", err)
			out.Failures = append(out.Failures, Failure{ID: a.ID, Stage: "condition", Error: err.Error()})
			continue
		}
		if !ok {
			continue
		}

		now := e.now().UTC()
		inserted, err := e.store.GrantAchievement(ctx, p.UserID, a.ID, now)
		if err != nil {
			slog.Warn("failed to record achievement", "user_id", p.UserID, "achievement", a.ID, "error", err)
			out.Failures = append(out.Failures, Failure{ID: a.ID, Stage: "record", Error: err.Error()})
			continue
		}
		p.Achievements[a.ID] = now
		if !inserted {
			// granted concurrently; the other evaluation pays the reward
			continue
		}

		unlocked := Unlocked{ID: a.ID, Name: a.Name, Reward: a.Reward, Unlocked: now}

		result, err := e.granter.Grant(ctx, rewards.GrantRequest{
			UserID:      p.UserID,
			Kind:        models.TriggerLearningReward,
			Amount:      a.Reward,
			Description: "achievement: " + a.Name,
		})
		if err != nil {
			slog.Warn("achievement reward failed", "user_id", p.UserID, "achievement", a.ID, "error", err)
			out.Failures = append(out.Failures, Failure{ID: a.ID, Stage: "reward", Error: err.Error()})
		} else {
			unlocked.Result = result
		}

		slog.Info("achievement unlocked", "user_id", p.UserID, "achievement", a.ID)
		out.Unlocked = append(out.Unlocked, unlocked)

		if e.events != nil {
			e.events.Publish(events.Event{
				Type:   events.AchievementUnlocked,
				UserID: p.UserID,
				Data:   unlocked,
				At:     now,
			})
		}
	}

	return out
}

// lazyParticipations fetches the count at most once, on first use
func (e *Evaluator) lazyParticipations(userID string) func(ctx context.Context) (int, error) {
	if e.participations == nil {
		return nil
	}
	var (
		once  sync.Once
		count int
		err   error
	)
	return func(ctx context.Context) (int, error) {
		once.Do(func() {
			count, err = e.participations.ParticipationCount(ctx, userID)
		})
		return count, err
	}
}
