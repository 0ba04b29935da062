package learning

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/culturebridge/learning-engine/internal/achievements"
	"github.com/culturebridge/learning-engine/internal/apperr"
	"github.com/culturebridge/learning-engine/internal/catalog"
	"github.com/culturebridge/learning-engine/internal/content"
	"github.com/culturebridge/learning-engine/internal/events"
	"github.com/culturebridge/learning-engine/internal/models"
	"github.com/culturebridge/learning-engine/internal/rewards"
	"github.com/culturebridge/learning-engine/internal/storage"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

type fixture struct {
	svc   *Service
	repo  *storage.MemoryRepository
	hub   *events.Hub
	clock *fakeClock
}

func newFixture(t *testing.T, ledger rewards.Ledger, opts ...Option) *fixture {
	t.Helper()

	repo := storage.NewMemoryRepository()
	if ledger == nil {
		ledger = repo
	}
	clock := &fakeClock{t: testStart}
	hub := events.NewHub(16)

	engine := rewards.NewEngine(catalog.Default(), ledger, rewards.WithClock(clock.now))
	evaluator := achievements.NewEvaluator(repo, engine, achievements.WithClock(clock.now))

	lib := content.NewLibrary()
	for _, item := range []*models.ContentItem{
		{ID: "es-vocab-1", Title: "Market", Language: "es", Type: models.SessionVocabulary, Level: models.LevelBeginner,
			Exercises: []models.Exercise{{Prompt: "apple", CorrectAnswer: "manzana"}, {Prompt: "bread", CorrectAnswer: "pan"}}},
		{ID: "es-grammar-2", Title: "Ser y estar", Language: "es", Type: models.SessionGrammar, Level: models.LevelElementary,
			Exercises: []models.Exercise{{Prompt: "yo ___ cansado", CorrectAnswer: "estoy"}}},
	} {
		if err := lib.Add(item); err != nil {
			t.Fatal(err)
		}
	}

	opts = append([]Option{WithClock(clock.now), WithPublisher(hub)}, opts...)
	return &fixture{
		svc:   NewService(repo, engine, evaluator, lib, opts...),
		repo:  repo,
		hub:   hub,
		clock: clock,
	}
}

func fiveExercises() []models.Exercise {
	exercises := make([]models.Exercise, 5)
	for i := range exercises {
		exercises[i] = models.Exercise{Prompt: "word", CorrectAnswer: "ok"}
	}
	return exercises
}

func vocabRequest() *models.CreateSessionRequest {
	return &models.CreateSessionRequest{
		Type:           models.SessionVocabulary,
		TargetLanguage: "es",
		NativeLanguage: "en",
		Exercises:      fiveExercises(),
	}
}

func TestWeekStreakScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	p := models.NewUserLearningProgress("u1", testStart)
	p.Streak = models.Streak{Current: 6, Longest: 6, LastSessionDate: "2026-03-09"}
	p.TotalLessons = 6
	if err := f.repo.SaveProgress(ctx, p); err != nil {
		t.Fatal(err)
	}
	if _, err := f.repo.GrantAchievement(ctx, "u1", "FIRST_LESSON", testStart.AddDate(0, 0, -6)); err != nil {
		t.Fatal(err)
	}

	session, err := f.svc.CreateSession(ctx, "u1", vocabRequest())
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := f.svc.CompleteExercise(ctx, "u1", session.ID, i, &models.CompleteExerciseRequest{Answer: "ok", TimeSpentSeconds: 40}); err != nil {
			t.Fatalf("CompleteExercise(%d) failed: %v", i, err)
		}
	}
	f.clock.advance(200 * time.Second)

	result, err := f.svc.CompleteSession(ctx, "u1", session.ID)
	if err != nil {
		t.Fatalf("CompleteSession failed: %v", err)
	}

	if result.Streak.Current != 7 {
		t.Errorf("expected streak 7, got %d", result.Streak.Current)
	}
	if result.SessionReward == nil || result.SessionReward.Amount != models.AmountFromFloat(4.5) {
		t.Errorf("expected session reward 4.5, got %+v", result.SessionReward)
	}

	got := map[string]models.Amount{}
	for _, u := range result.Achievements {
		if u.Result == nil || !u.Result.Granted {
			t.Errorf("achievement %s reward not granted: %+v", u.ID, u.Result)
			continue
		}
		got[u.ID] = u.Result.Amount
	}
	if len(got) != 2 || got["WEEK_STREAK"] != models.Tokens(10) || got["PERFECT_SCORE"] != models.Tokens(15) {
		t.Errorf("expected WEEK_STREAK +10 and PERFECT_SCORE +15, got %v", got)
	}
	if len(result.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", result.Warnings)
	}

	balance, err := f.repo.Balance(ctx, "u1")
	if err != nil || balance != models.AmountFromFloat(29.5) {
		t.Errorf("expected balance 29.5, got %s %v", balance, err)
	}

	stored, _ := f.repo.GetSession(ctx, session.ID)
	if stored.Status != models.SessionCompleted || stored.Progress.DurationSeconds != 200 {
		t.Errorf("unexpected stored session: status=%s duration=%d", stored.Status, stored.Progress.DurationSeconds)
	}
	progress, _ := f.repo.GetProgress(ctx, "u1")
	if progress.TotalLessons != 7 || !progress.HasAchievement("WEEK_STREAK") {
		t.Errorf("unexpected stored progress: lessons=%d achievements=%v", progress.TotalLessons, progress.Achievements)
	}
}

func TestCompleteSessionTwice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	session, err := f.svc.CreateSession(ctx, "u1", vocabRequest())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.CompleteSession(ctx, "u1", session.ID); err != nil {
		t.Fatal(err)
	}
	before, _ := f.repo.Balance(ctx, "u1")

	if _, err := f.svc.CompleteSession(ctx, "u1", session.ID); !errors.Is(err, apperr.ErrSessionAlreadyTerminal) {
		t.Fatalf("expected ErrSessionAlreadyTerminal, got %v", err)
	}
	after, _ := f.repo.Balance(ctx, "u1")
	if before != after {
		t.Errorf("second completion changed the balance: %s -> %s", before, after)
	}
	p, _ := f.repo.GetProgress(ctx, "u1")
	if p.TotalLessons != 1 {
		t.Errorf("second completion changed progress: %d lessons", p.TotalLessons)
	}
}

func TestAchievementsTakeCapHeadroomFirst(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	if err := f.repo.Credit(ctx, &models.Transaction{
		ID:        "tx-earlier",
		UserID:    "u1",
		Amount:    models.Tokens(97),
		Kind:      models.TriggerReferral,
		CreatedAt: testStart.Add(-time.Hour),
	}); err != nil {
		t.Fatal(err)
	}

	session, err := f.svc.CreateSession(ctx, "u1", vocabRequest())
	if err != nil {
		t.Fatal(err)
	}
	result, err := f.svc.CompleteSession(ctx, "u1", session.ID)
	if err != nil {
		t.Fatalf("CompleteSession failed: %v", err)
	}

	if len(result.Achievements) != 1 || result.Achievements[0].ID != "FIRST_LESSON" {
		t.Fatalf("expected FIRST_LESSON only, got %+v", result.Achievements)
	}
	first := result.Achievements[0].Result
	if first == nil || !first.Granted || first.Amount != models.Tokens(3) || first.Reason != rewards.ReasonClamped {
		t.Errorf("expected FIRST_LESSON clamped to the remaining 3, got %+v", first)
	}
	if result.SessionReward == nil || result.SessionReward.Granted || result.SessionReward.Reason != rewards.ReasonDailyCapReached {
		t.Errorf("expected the session reward to hit the cap, got %+v", result.SessionReward)
	}
}

type downLedger struct{}

func (downLedger) Credit(ctx context.Context, tx *models.Transaction) error {
	return errors.New("connection refused")
}

func (downLedger) DailyTotal(ctx context.Context, userID string, since time.Time) (models.Amount, error) {
	return 0, nil
}

func (downLedger) Balance(ctx context.Context, userID string) (models.Amount, error) {
	return 0, errors.New("connection refused")
}

func TestCompleteSessionSurvivesLedgerOutage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, downLedger{})
	sub := f.hub.Subscribe("u1")
	defer sub.Close()

	session, err := f.svc.CreateSession(ctx, "u1", vocabRequest())
	if err != nil {
		t.Fatal(err)
	}

	result, err := f.svc.CompleteSession(ctx, "u1", session.ID)
	if err != nil {
		t.Fatalf("completion must succeed without the ledger: %v", err)
	}
	if result.SessionReward != nil {
		t.Errorf("expected no session reward, got %+v", result.SessionReward)
	}
	// session reward plus the FIRST_LESSON reward
	if len(result.Warnings) != 2 {
		t.Errorf("expected 2 warnings, got %v", result.Warnings)
	}

	stored, _ := f.repo.GetSession(ctx, session.ID)
	if stored.Status != models.SessionCompleted {
		t.Errorf("expected completed session to be stored, got %s", stored.Status)
	}

	seen := map[events.Type]int{}
	for len(sub.C) > 0 {
		ev := <-sub.C
		seen[ev.Type]++
	}
	if seen[events.RewardFailed] != 2 || seen[events.SessionCompleted] != 1 {
		t.Errorf("unexpected events: %v", seen)
	}
}

func TestCreateSessionValidation(t *testing.T) {
	f := newFixture(t, nil)

	cases := []struct {
		name string
		req  *models.CreateSessionRequest
	}{
		{"unknown type", &models.CreateSessionRequest{Type: "dance", TargetLanguage: "es", NativeLanguage: "en"}},
		{"same languages", &models.CreateSessionRequest{Type: models.SessionVocabulary, TargetLanguage: "es", NativeLanguage: "ES"}},
		{"missing language", &models.CreateSessionRequest{Type: models.SessionVocabulary, NativeLanguage: "en"}},
		{"bad level", &models.CreateSessionRequest{Type: models.SessionVocabulary, TargetLanguage: "es", NativeLanguage: "en", Level: "guru"}},
		{"exercise without answer", &models.CreateSessionRequest{Type: models.SessionVocabulary, TargetLanguage: "es", NativeLanguage: "en",
			Exercises: []models.Exercise{{Prompt: "hola"}}}},
		{"no content", &models.CreateSessionRequest{Type: models.SessionWriting, TargetLanguage: "es", NativeLanguage: "en"}},
	}
	for _, c := range cases {
		if _, err := f.svc.CreateSession(context.Background(), "u1", c.req); !errors.Is(err, apperr.ErrValidation) {
			t.Errorf("%s: expected validation error, got %v", c.name, err)
		}
	}
}

func TestCreateSessionFromLibrary(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	byID, err := f.svc.CreateSession(ctx, "u1", &models.CreateSessionRequest{
		Type: models.SessionVocabulary, TargetLanguage: "es", NativeLanguage: "en", ContentID: "es-vocab-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if byID.ContentID != "es-vocab-1" || len(byID.Exercises) != 2 {
		t.Errorf("expected exercises copied from content, got %+v", byID)
	}

	// no beginner grammar exists, the elementary item is the nearest
	nearest, err := f.svc.CreateSession(ctx, "u1", &models.CreateSessionRequest{
		Type: models.SessionGrammar, TargetLanguage: "es", NativeLanguage: "en",
	})
	if err != nil {
		t.Fatal(err)
	}
	if nearest.ContentID != "es-grammar-2" || nearest.Level != models.LevelBeginner {
		t.Errorf("unexpected nearest pick: content=%s level=%s", nearest.ContentID, nearest.Level)
	}

	if _, err := f.svc.CreateSession(ctx, "u1", &models.CreateSessionRequest{
		Type: models.SessionVocabulary, TargetLanguage: "es", NativeLanguage: "en", ContentID: "missing",
	}); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found for unknown content, got %v", err)
	}
}

func TestSessionOwnership(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	session, err := f.svc.CreateSession(ctx, "u1", vocabRequest())
	if err != nil {
		t.Fatal(err)
	}

	if _, err := f.svc.GetSession(ctx, "u2", session.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found for another user, got %v", err)
	}
	if _, err := f.svc.CompleteExercise(ctx, "u2", session.ID, 0, &models.CompleteExerciseRequest{Answer: "ok"}); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found for another user's answer, got %v", err)
	}
	if _, err := f.svc.CompleteExercise(ctx, "u1", session.ID, 9, &models.CompleteExerciseRequest{Answer: "ok"}); !errors.Is(err, apperr.ErrExerciseIndexOutOfRange) {
		t.Errorf("expected index out of range, got %v", err)
	}
}

func TestAbandonStale(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	old, err := f.svc.CreateSession(ctx, "u1", vocabRequest())
	if err != nil {
		t.Fatal(err)
	}
	f.clock.advance(3 * time.Hour)
	fresh, err := f.svc.CreateSession(ctx, "u2", vocabRequest())
	if err != nil {
		t.Fatal(err)
	}

	n, err := f.svc.AbandonStale(ctx, f.clock.now().Add(-time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("expected 1 abandoned, got %d %v", n, err)
	}

	if s, _ := f.repo.GetSession(ctx, old.ID); s.Status != models.SessionAbandoned {
		t.Errorf("expected old session abandoned, got %s", s.Status)
	}
	if s, _ := f.repo.GetSession(ctx, fresh.ID); s.Status != models.SessionInProgress {
		t.Errorf("expected fresh session untouched, got %s", s.Status)
	}
	if _, err := f.svc.AbandonSession(ctx, "u1", old.ID); !errors.Is(err, apperr.ErrSessionAlreadyTerminal) {
		t.Errorf("expected terminal error, got %v", err)
	}
}

type countingParticipations struct {
	n   int
	err error
}

func (c countingParticipations) ParticipationCount(ctx context.Context, userID string) (int, error) {
	return c.n, c.err
}

func TestGetUserLearningStats(t *testing.T) {
	ctx := context.Background()

	t.Run("no progress", func(t *testing.T) {
		f := newFixture(t, nil)
		if _, err := f.svc.GetUserLearningStats(ctx, "nobody"); !errors.Is(err, apperr.ErrNotFound) {
			t.Errorf("expected not found, got %v", err)
		}
	})

	t.Run("after a session", func(t *testing.T) {
		f := newFixture(t, nil, WithParticipations(countingParticipations{n: 3}))
		session, _ := f.svc.CreateSession(ctx, "u1", vocabRequest())
		f.clock.advance(10 * time.Minute)
		if _, err := f.svc.CompleteSession(ctx, "u1", session.ID); err != nil {
			t.Fatal(err)
		}

		stats, err := f.svc.GetUserLearningStats(ctx, "u1")
		if err != nil {
			t.Fatalf("GetUserLearningStats failed: %v", err)
		}
		if stats.TotalLessons != 1 || stats.TotalStudyMinutes != 10 || stats.ActiveStreak != 1 {
			t.Errorf("unexpected totals: %+v", stats)
		}
		if stats.ExchangeParticipations == nil || *stats.ExchangeParticipations != 3 {
			t.Errorf("expected 3 participations, got %v", stats.ExchangeParticipations)
		}
		if stats.Balance == nil || stats.Balance.Balance <= 0 {
			t.Errorf("expected a positive balance, got %+v", stats.Balance)
		}
		es := stats.Languages["es"]
		if es == nil || es.WeeklyGoal.StudyMinutes() != 10 {
			t.Errorf("unexpected language stats: %+v", es)
		}
		unlocked := 0
		for _, a := range stats.Achievements {
			if a.Unlocked {
				unlocked++
			}
		}
		if len(stats.Achievements) != len(achievements.Definitions) || unlocked != 1 {
			t.Errorf("expected FIRST_LESSON only, got %+v", stats.Achievements)
		}
	})

	t.Run("participation outage is a warning", func(t *testing.T) {
		f := newFixture(t, nil, WithParticipations(countingParticipations{err: errors.New("exchange down")}))
		session, _ := f.svc.CreateSession(ctx, "u1", vocabRequest())
		if _, err := f.svc.CompleteSession(ctx, "u1", session.ID); err != nil {
			t.Fatal(err)
		}

		stats, err := f.svc.GetUserLearningStats(ctx, "u1")
		if err != nil {
			t.Fatalf("expected stats despite outage, got %v", err)
		}
		if len(stats.Warnings) != 1 || stats.ExchangeParticipations != nil {
			t.Errorf("expected one warning and no count, got %+v", stats)
		}
	})
}

func TestGetRecommendedContent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	p := models.NewUserLearningProgress("u1", testStart)
	p.Languages["es"] = &models.LanguageProgress{
		Language:    "es",
		Proficiency: models.LevelBeginner,
		Skills: map[models.SkillType]models.SkillProgress{
			models.SkillVocabulary: {Level: 1},
			models.SkillGrammar:    {Level: 0.5},
			models.SkillListening:  {Level: 9},
			models.SkillSpeaking:   {Level: 9},
			models.SkillReading:    {Level: 9},
			models.SkillWriting:    {Level: 9},
		},
	}
	if err := f.repo.SaveProgress(ctx, p); err != nil {
		t.Fatal(err)
	}

	recs, err := f.svc.GetRecommendedContent(ctx, "u1", "es")
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 recommendations, got %d", len(recs))
	}
	if recs[0].Skill != models.SkillGrammar || recs[1].Skill != models.SkillVocabulary {
		t.Errorf("expected grammar then vocabulary, got %s, %s", recs[0].Skill, recs[1].Skill)
	}
	if len(recs[0].Content) != 1 || recs[0].Content[0].ID != "es-grammar-2" {
		t.Errorf("expected the elementary grammar item, got %+v", recs[0].Content)
	}

	fresh, err := f.svc.GetRecommendedContent(ctx, "new-user", "es")
	if err != nil || len(fresh) != 2 || fresh[0].Skill != models.SkillVocabulary {
		t.Errorf("unexpected recommendations for a new user: %+v %v", fresh, err)
	}

	if _, err := f.svc.GetRecommendedContent(ctx, "u1", ""); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}
