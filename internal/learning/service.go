package learning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/culturebridge/learning-engine/internal/achievements"
	"github.com/culturebridge/learning-engine/internal/apperr"
	"github.com/culturebridge/learning-engine/internal/catalog"
	"github.com/culturebridge/learning-engine/internal/content"
	"github.com/culturebridge/learning-engine/internal/events"
	"github.com/culturebridge/learning-engine/internal/models"
	"github.com/culturebridge/learning-engine/internal/progress"
	"github.com/culturebridge/learning-engine/internal/rewards"
	"github.com/culturebridge/learning-engine/internal/storage"
)

const (
	defaultExercisePoints  = 10
	recommendedSkills      = 2
	recommendationsPerType = 3
)

// ExerciseResult is returned after each answer
type ExerciseResult struct {
	SessionID string                    `json:"session_id"`
	Exercise  *models.CompletedExercise `json:"exercise"`
	Score     float64                   `json:"score"`
	Answered  int                       `json:"answered"`
	Total     int                       `json:"total"`
}

// CompletionResult is everything a completed session produced. Reward failures are
// reported in Warnings; the completion itself has already been stored.
type CompletionResult struct {
	Session       *models.LearningSession  `json:"session"`
	Progress      *models.LanguageProgress `json:"progress"`
	Streak        models.Streak            `json:"streak"`
	SessionReward *rewards.Result          `json:"session_reward,omitempty"`
	Achievements  []achievements.Unlocked  `json:"achievements"`
	Warnings      []string                 `json:"warnings,omitempty"`
}

// AchievementStatus is one achievement as seen by a user
type AchievementStatus struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Reward      models.Amount `json:"reward"`
	Unlocked    bool          `json:"unlocked"`
	UnlockedAt  *time.Time    `json:"unlocked_at,omitempty"`
}

// UserStats is the learning dashboard of one user
type UserStats struct {
	UserID                 string                              `json:"user_id"`
	TotalLessons           int                                 `json:"total_lessons"`
	TotalStudyMinutes      int                                 `json:"total_study_minutes"`
	Streak                 models.Streak                       `json:"streak"`
	ActiveStreak           int                                 `json:"active_streak"`
	Languages              map[string]*models.LanguageProgress `json:"languages"`
	Achievements           []AchievementStatus                 `json:"achievements"`
	Balance                *models.BalanceResponse             `json:"balance"`
	ExchangeParticipations *int                                `json:"exchange_participations,omitempty"`
	Warnings               []string                            `json:"warnings,omitempty"`
}

// RewardService is the part of the reward engine sessions use
type RewardService interface {
	Grant(ctx context.Context, req rewards.GrantRequest) (*rewards.Result, error)
	Balance(ctx context.Context, userID string) (*models.BalanceResponse, error)
}

// Service runs learning sessions end to end: it owns the session state machine,
// folds completions into progress and triggers achievements and rewards.
type Service struct {
	repo           storage.Repository
	rewards        RewardService
	rules          func() catalog.LearningRules
	evaluator      *achievements.Evaluator
	library        *content.Library
	tracker        *progress.Tracker
	locker         rewards.Locker
	participations achievements.ParticipationCounter
	events         events.Publisher
	now            func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithTracker replaces the default progress tracker
func WithTracker(t *progress.Tracker) Option {
	return func(s *Service) { s.tracker = t }
}

// WithLocker sets the per-user lock guarding session and progress writes
func WithLocker(l rewards.Locker) Option {
	return func(s *Service) { s.locker = l }
}

// WithParticipations sets the cultural exchange source used by stats
func WithParticipations(c achievements.ParticipationCounter) Option {
	return func(s *Service) { s.participations = c }
}

// WithPublisher publishes session events
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.events = p }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a learning service
func NewService(repo storage.Repository, engine *rewards.Engine, evaluator *achievements.Evaluator, library *content.Library, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		rewards:   engine,
		rules:     func() catalog.LearningRules { return engine.Catalog().Learning },
		evaluator: evaluator,
		library:   library,
		tracker:   progress.NewTracker(progress.DefaultWeeklyTargets),
		locker:    rewards.NewLocalLocker(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.library == nil {
		s.library = content.NewLibrary()
	}
	return s
}

func (s *Service) lockUser(ctx context.Context, userID string) (func(), error) {
	unlock, err := s.locker.Lock(ctx, "learning:"+userID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock learner %s: %w", userID, err)
	}
	return unlock, nil
}

// CreateSession starts a session. Exercises come from the request, from the content
// item named by ContentID, or from the closest library match.
func (s *Service) CreateSession(ctx context.Context, userID string, req *models.CreateSessionRequest) (*models.LearningSession, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, apperr.Validation("user_id is required")
	}
	if !req.Type.Valid() {
		return nil, apperr.Validation("unknown session type %q", req.Type)
	}
	if req.TargetLanguage == "" || req.NativeLanguage == "" {
		return nil, apperr.Validation("target_language and native_language are required")
	}
	if strings.EqualFold(req.TargetLanguage, req.NativeLanguage) {
		return nil, apperr.Validation("target_language must differ from native_language")
	}
	level := req.Level
	if level == "" {
		level = models.LevelBeginner
	}
	if !level.Valid() {
		return nil, apperr.Validation("unknown level %q", level)
	}

	exercises, contentID, err := s.pickExercises(req, level)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	session := &models.LearningSession{
		ID:             uuid.NewString(),
		UserID:         userID,
		Type:           req.Type,
		TargetLanguage: req.TargetLanguage,
		NativeLanguage: req.NativeLanguage,
		Level:          level,
		ContentID:      contentID,
		Exercises:      exercises,
		Progress: models.SessionProgress{
			StartedAt:          now,
			CompletedExercises: []models.CompletedExercise{},
		},
		Status:    models.SessionInProgress,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}

	slog.Info("learning session started",
		"session_id", session.ID,
		"user_id", userID,
		"type", session.Type,
		"language", session.TargetLanguage,
		"exercises", len(session.Exercises),
	)
	return session, nil
}

func (s *Service) pickExercises(req *models.CreateSessionRequest, level models.ProficiencyLevel) ([]models.Exercise, string, error) {
	if len(req.Exercises) > 0 {
		exercises := make([]models.Exercise, len(req.Exercises))
		for i, ex := range req.Exercises {
			if strings.TrimSpace(ex.Prompt) == "" || strings.TrimSpace(ex.CorrectAnswer) == "" {
				return nil, "", apperr.Validation("exercise %d needs a prompt and a correct_answer", i)
			}
			if ex.Type == "" {
				ex.Type = models.ExerciseTranslation
			}
			if !ex.Type.Valid() {
				return nil, "", apperr.Validation("exercise %d has unknown type %q", i, ex.Type)
			}
			if ex.Points <= 0 {
				ex.Points = defaultExercisePoints
			}
			ex.Options = append([]string(nil), ex.Options...)
			exercises[i] = ex
		}
		return exercises, req.ContentID, nil
	}

	if req.ContentID != "" {
		item := s.library.Get(req.ContentID)
		if item == nil {
			return nil, "", apperr.NotFound("content", req.ContentID)
		}
		if item.Language != req.TargetLanguage {
			return nil, "", apperr.Validation("content %s is in %s, not %s", item.ID, item.Language, req.TargetLanguage)
		}
		return copyExercises(item.Exercises), item.ID, nil
	}

	items := s.library.Nearest(req.TargetLanguage, req.Type, level)
	if len(items) == 0 {
		return nil, "", apperr.Validation("no %s content available for %s", req.Type, req.TargetLanguage)
	}
	return copyExercises(items[0].Exercises), items[0].ID, nil
}

func copyExercises(in []models.Exercise) []models.Exercise {
	out := make([]models.Exercise, len(in))
	for i, ex := range in {
		ex.Options = append([]string(nil), ex.Options...)
		out[i] = ex
	}
	return out
}

// GetSession returns a session owned by userID
func (s *Service) GetSession(ctx context.Context, userID, sessionID string) (*models.LearningSession, error) {
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if session == nil || session.UserID != userID {
		return nil, apperr.NotFound("session", sessionID)
	}
	return session, nil
}

// ListSessions returns userID's sessions, newest first
func (s *Service) ListSessions(ctx context.Context, userID string, status models.SessionStatus, limit, offset int) ([]*models.LearningSession, error) {
	return s.repo.ListSessions(ctx, storage.SessionFilters{
		UserID: userID,
		Status: status,
		Limit:  limit,
		Offset: offset,
	})
}

// CompleteExercise records an answer for the exercise at index
func (s *Service) CompleteExercise(ctx context.Context, userID, sessionID string, index int, req *models.CompleteExerciseRequest) (*ExerciseResult, error) {
	unlock, err := s.lockUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	session, err := s.GetSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	record, err := CompleteExercise(session, index, req.Answer, req.TimeSpentSeconds, s.now().UTC())
	if err != nil {
		return nil, err
	}

	if err := s.repo.UpdateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}

	slog.Debug("exercise answered",
		"session_id", sessionID,
		"index", index,
		"correct", record.Correct,
		"attempts", record.Attempts,
	)

	return &ExerciseResult{
		SessionID: session.ID,
		Exercise:  record,
		Score:     session.Progress.Score,
		Answered:  len(session.Progress.CompletedExercises),
		Total:     len(session.Exercises),
	}, nil
}

// CompleteSession finishes a session. The session and the progress it produced are
// stored together first; achievements and the session reward follow and can only
// add warnings.
func (s *Service) CompleteSession(ctx context.Context, userID, sessionID string) (*CompletionResult, error) {
	unlock, err := s.lockUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	session, err := s.GetSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	reward, err := Complete(session, now, s.rules())
	if err != nil {
		return nil, err
	}

	p, err := s.repo.GetProgress(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load progress: %w", err)
	}
	if p == nil {
		p = models.NewUserLearningProgress(userID, now)
	}

	lp, err := s.tracker.RecordSessionCompletion(p, session.TargetLanguage, progress.SummaryFromSession(session), now)
	if err != nil {
		return nil, err
	}

	if err := s.repo.CompleteLearningSession(ctx, session, p); err != nil {
		return nil, err
	}

	slog.Info("learning session completed",
		"session_id", session.ID,
		"user_id", userID,
		"score", session.Progress.Score,
		"duration_seconds", session.Progress.DurationSeconds,
		"reward", reward.String(),
		"streak", p.Streak.Current,
	)

	result := &CompletionResult{
		Session:      session,
		Progress:     lp,
		Streak:       p.Streak,
		Achievements: []achievements.Unlocked{},
	}

	// achievements are paid before the session reward and take cap headroom first
	if s.evaluator != nil {
		outcome := s.evaluator.Evaluate(ctx, achievements.EvalContext{
			Progress:        p,
			Language:        session.TargetLanguage,
			SessionAccuracy: session.Progress.Score,
			HasSession:      true,
		})
		result.Achievements = append(result.Achievements, outcome.Unlocked...)
		for _, f := range outcome.Failures {
			s.rewardFailed(result, userID, "achievement "+f.ID+" "+f.Stage, errors.New(f.Error))
		}
	}

	if reward > 0 {
		granted, err := s.rewards.Grant(ctx, rewards.GrantRequest{
			UserID:      userID,
			Kind:        models.TriggerLearningReward,
			Amount:      reward,
			Description: fmt.Sprintf("%s session %s", session.Type, session.ID),
		})
		if err != nil {
			s.rewardFailed(result, userID, "session reward", err)
		} else {
			result.SessionReward = granted
		}
	}

	if s.events != nil {
		s.events.Publish(events.Event{
			Type:   events.SessionCompleted,
			UserID: userID,
			Data: map[string]interface{}{
				"session_id": session.ID,
				"score":      session.Progress.Score,
				"reward":     reward,
				"streak":     p.Streak.Current,
			},
			At: now,
		})
	}

	return result, nil
}

func (s *Service) rewardFailed(result *CompletionResult, userID, what string, err error) {
	slog.Warn("reward step failed after session completion", "user_id", userID, "step", what, "error", err)
	result.Warnings = append(result.Warnings, what+" failed: "+err.Error())

	if s.events != nil {
		s.events.Publish(events.Event{
			Type:   events.RewardFailed,
			UserID: userID,
			Data:   map[string]string{"step": what, "error": err.Error()},
		})
	}
}

// AbandonSession moves an in-progress session to ABANDONED
func (s *Service) AbandonSession(ctx context.Context, userID, sessionID string) (*models.LearningSession, error) {
	unlock, err := s.lockUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	session, err := s.GetSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if err := Abandon(session, s.now().UTC()); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}

	slog.Info("learning session abandoned", "session_id", session.ID, "user_id", userID)
	return session, nil
}

// AbandonStale abandons every IN_PROGRESS session started before cutoff and returns
// how many it moved
func (s *Service) AbandonStale(ctx context.Context, cutoff time.Time) (int, error) {
	stale, err := s.repo.ListStaleSessions(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale sessions: %w", err)
	}

	var (
		n    int
		errs []error
	)
	for _, candidate := range stale {
		ok, err := s.abandonIfStale(ctx, candidate, cutoff)
		if err != nil {
			slog.Error("failed to abandon stale session", "session_id", candidate.ID, "error", err)
			errs = append(errs, err)
			continue
		}
		if ok {
			n++
		}
	}
	return n, errors.Join(errs...)
}

func (s *Service) abandonIfStale(ctx context.Context, candidate *models.LearningSession, cutoff time.Time) (bool, error) {
	unlock, err := s.lockUser(ctx, candidate.UserID)
	if err != nil {
		return false, err
	}
	defer unlock()

	// reload under the lock; the user may have finished it meanwhile
	session, err := s.repo.GetSession(ctx, candidate.ID)
	if err != nil {
		return false, err
	}
	if session == nil || session.IsTerminal() || !session.Progress.StartedAt.Before(cutoff) {
		return false, nil
	}

	if err := Abandon(session, s.now().UTC()); err != nil {
		return false, err
	}
	if err := s.repo.UpdateSession(ctx, session); err != nil {
		return false, err
	}
	return true, nil
}

// Achievements lists the achievement definitions with their effective rewards
func (s *Service) Achievements() []achievements.Achievement {
	return s.evaluator.Achievements()
}

// GetUserLearningStats gathers progress, balance and exchange participation
// concurrently. A failed participation lookup only adds a warning.
func (s *Service) GetUserLearningStats(ctx context.Context, userID string) (*UserStats, error) {
	var (
		p              *models.UserLearningProgress
		balance        *models.BalanceResponse
		participations *int
		warning        string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		p, err = s.repo.GetProgress(gctx, userID)
		if err != nil {
			return fmt.Errorf("failed to load progress: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		balance, err = s.rewards.Balance(gctx, userID)
		return err
	})
	if s.participations != nil {
		g.Go(func() error {
			n, err := s.participations.ParticipationCount(gctx, userID)
			if err != nil {
				slog.Warn("participation count unavailable", "user_id", userID, "error", err)
				warning = "exchange participation unavailable: " + err.Error()
				return nil
			}
			participations = &n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if p == nil {
		return nil, apperr.NotFound("progress", userID)
	}

	now := s.now().UTC()
	stats := &UserStats{
		UserID:                 userID,
		TotalLessons:           p.TotalLessons,
		TotalStudyMinutes:      p.TotalStudySeconds / 60,
		Streak:                 p.Streak,
		ActiveStreak:           progress.ActiveStreak(p.Streak, now),
		Languages:              make(map[string]*models.LanguageProgress, len(p.Languages)),
		Balance:                balance,
		ExchangeParticipations: participations,
	}
	for lang, lp := range p.Languages {
		view := *lp
		view.WeeklyGoal = s.tracker.CurrentWeek(lp, now)
		stats.Languages[lang] = &view
	}
	if s.evaluator != nil {
		for _, a := range s.evaluator.Achievements() {
			st := AchievementStatus{ID: a.ID, Name: a.Name, Description: a.Description, Reward: a.Reward}
			if at, ok := p.Achievements[a.ID]; ok {
				at := at
				st.Unlocked = true
				st.UnlockedAt = &at
			}
			stats.Achievements = append(stats.Achievements, st)
		}
	}
	if warning != "" {
		stats.Warnings = append(stats.Warnings, warning)
	}
	return stats, nil
}

// GetRecommendedContent suggests content for the user's two weakest skills in
// language, at the user's tier or the closest tier that has content
func (s *Service) GetRecommendedContent(ctx context.Context, userID, language string) ([]models.Recommendation, error) {
	if language == "" {
		return nil, apperr.Validation("language is required")
	}

	p, err := s.repo.GetProgress(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load progress: %w", err)
	}

	level := models.LevelBeginner
	levels := make(map[models.SkillType]float64, len(models.SkillTypes))
	if lp := p.Language(language); lp != nil {
		if lp.Proficiency.Valid() {
			level = lp.Proficiency
		}
		for skill, sp := range lp.Skills {
			levels[skill] = sp.Level
		}
	}

	skills := append([]models.SkillType(nil), models.SkillTypes...)
	sort.SliceStable(skills, func(i, j int) bool { return levels[skills[i]] < levels[skills[j]] })

	recs := make([]models.Recommendation, 0, recommendedSkills)
	for i, skill := range skills[:recommendedSkills] {
		typ, ok := progress.SessionTypeFor(skill)
		if !ok {
			continue
		}

		rec := models.Recommendation{
			SessionType: typ,
			Skill:       skill,
			SkillLevel:  levels[skill],
			Level:       level,
			Reason:      "lowest skill level",
			Content:     []models.ContentSummary{},
		}
		if i > 0 {
			rec.Reason = "second lowest skill level"
		}
		for _, item := range s.library.Nearest(language, typ, level) {
			if len(rec.Content) == recommendationsPerType {
				break
			}
			rec.Content = append(rec.Content, item.Summary())
		}
		recs = append(recs, rec)
	}
	return recs, nil
}
