package progress

import (
	"errors"
	"testing"
	"time"

	"github.com/culturebridge/learning-engine/internal/apperr"
	"github.com/culturebridge/learning-engine/internal/models"
)

var day = time.Date(2026, 3, 11, 15, 0, 0, 0, time.UTC) // a Wednesday

func TestRecordSessionCompletionVocabulary(t *testing.T) {
	tr := NewTracker(WeeklyTargets{})
	p := models.NewUserLearningProgress("u1", day)

	lp, err := tr.RecordSessionCompletion(p, "es", SessionSummary{
		Type:            models.SessionVocabulary,
		DurationSeconds: 600,
		Accuracy:        80,
		ExerciseCount:   10,
		CorrectCount:    8,
	}, day)
	if err != nil {
		t.Fatalf("RecordSessionCompletion failed: %v", err)
	}

	if lp.WordsLearned != 10 {
		t.Errorf("expected 10 words, got %d", lp.WordsLearned)
	}
	vocab := lp.Skills[models.SkillVocabulary]
	if vocab.Level != 1.6 {
		t.Errorf("expected vocabulary level 1.6, got %v", vocab.Level)
	}
	if vocab.ItemsLearned != 8 || vocab.PracticeSeconds != 600 {
		t.Errorf("unexpected skill counters: %+v", vocab)
	}
	if len(lp.Skills) != len(models.SkillTypes) {
		t.Errorf("expected all %d skills present, got %d", len(models.SkillTypes), len(lp.Skills))
	}
	if lp.WeeklyGoal.Week != "2026-W11" {
		t.Errorf("expected week 2026-W11, got %s", lp.WeeklyGoal.Week)
	}
	if lp.WeeklyGoal.StudyMinutes() != 10 || lp.WeeklyGoal.VocabularyWords != 10 {
		t.Errorf("unexpected weekly counters: %+v", lp.WeeklyGoal)
	}
	if lp.WeeklyGoal.TargetStudyMinutes != 150 {
		t.Errorf("expected default target 150, got %d", lp.WeeklyGoal.TargetStudyMinutes)
	}
	if p.Streak.Current != 1 || p.TotalLessons != 1 || p.TotalStudySeconds != 600 {
		t.Errorf("unexpected user totals: streak=%d lessons=%d secs=%d", p.Streak.Current, p.TotalLessons, p.TotalStudySeconds)
	}
	if lp.Proficiency != models.LevelBeginner {
		t.Errorf("expected beginner, got %s", lp.Proficiency)
	}
}

func TestSessionTypeCounters(t *testing.T) {
	tests := []struct {
		typ   models.SessionType
		skill models.SkillType
		check func(lp *models.LanguageProgress) bool
	}{
		{models.SessionGrammar, models.SkillGrammar, func(lp *models.LanguageProgress) bool { return lp.GrammarRules == 4 }},
		{models.SessionConversation, models.SkillSpeaking, func(lp *models.LanguageProgress) bool {
			return lp.ConversationSeconds == 300 && lp.WeeklyGoal.ConversationMinutes() == 5
		}},
		{models.SessionPronunciation, models.SkillSpeaking, func(lp *models.LanguageProgress) bool { return lp.PronunciationDrills == 4 }},
		{models.SessionListening, models.SkillListening, func(lp *models.LanguageProgress) bool { return lp.ListeningSeconds == 300 }},
		{models.SessionReading, models.SkillReading, func(lp *models.LanguageProgress) bool { return lp.TextsRead == 1 }},
		{models.SessionWriting, models.SkillWriting, func(lp *models.LanguageProgress) bool { return lp.TextsWritten == 1 }},
		{models.SessionCulturalContext, models.SkillReading, func(lp *models.LanguageProgress) bool { return lp.CulturalLessons == 1 }},
	}

	tr := NewTracker(DefaultWeeklyTargets)
	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			p := models.NewUserLearningProgress("u1", day)
			lp, err := tr.RecordSessionCompletion(p, "fr", SessionSummary{
				Type:            tt.typ,
				DurationSeconds: 300,
				Accuracy:        100,
				ExerciseCount:   4,
				CorrectCount:    4,
			}, day)
			if err != nil {
				t.Fatal(err)
			}
			if !tt.check(lp) {
				t.Errorf("counter not advanced for %s: %+v", tt.typ, lp)
			}
			if lp.Skills[tt.skill].Level <= 0 {
				t.Errorf("skill %s not advanced", tt.skill)
			}
			if skill, _ := SkillFor(tt.typ); skill != tt.skill {
				t.Errorf("SkillFor(%s) = %s, want %s", tt.typ, skill, tt.skill)
			}
		})
	}
}

func TestRecordSessionCompletionValidation(t *testing.T) {
	tr := NewTracker(DefaultWeeklyTargets)
	p := models.NewUserLearningProgress("u1", day)

	cases := []struct {
		name string
		lang string
		sum  SessionSummary
	}{
		{"missing language", "", SessionSummary{Type: models.SessionGrammar, Accuracy: 50}},
		{"unknown type", "es", SessionSummary{Type: "dancing", Accuracy: 50}},
		{"accuracy too high", "es", SessionSummary{Type: models.SessionGrammar, Accuracy: 101}},
		{"accuracy negative", "es", SessionSummary{Type: models.SessionGrammar, Accuracy: -1}},
	}
	for _, c := range cases {
		if _, err := tr.RecordSessionCompletion(p, c.lang, c.sum, day); !errors.Is(err, apperr.ErrValidation) {
			t.Errorf("%s: expected validation error, got %v", c.name, err)
		}
	}
	if p.TotalLessons != 0 || len(p.Languages) != 0 {
		t.Errorf("rejected summaries must not modify the record")
	}
}

func TestSkillLevelCapped(t *testing.T) {
	tr := NewTracker(DefaultWeeklyTargets)
	p := models.NewUserLearningProgress("u1", day)
	p.Languages["es"] = &models.LanguageProgress{
		Language: "es",
		Skills: map[models.SkillType]models.SkillProgress{
			models.SkillGrammar: {Level: 99.5},
		},
	}

	lp, err := tr.RecordSessionCompletion(p, "es", SessionSummary{Type: models.SessionGrammar, Accuracy: 100, ExerciseCount: 1}, day)
	if err != nil {
		t.Fatal(err)
	}
	if lp.Skills[models.SkillGrammar].Level != 100 {
		t.Errorf("expected level capped at 100, got %v", lp.Skills[models.SkillGrammar].Level)
	}
}

func TestUpdateStreak(t *testing.T) {
	tests := []struct {
		name    string
		before  models.Streak
		current int
		longest int
	}{
		{"first session", models.Streak{}, 1, 1},
		{"same day", models.Streak{Current: 3, Longest: 5, LastSessionDate: "2026-03-11"}, 3, 5},
		{"consecutive day", models.Streak{Current: 6, Longest: 6, LastSessionDate: "2026-03-10"}, 7, 7},
		{"gap resets", models.Streak{Current: 9, Longest: 9, LastSessionDate: "2026-03-08"}, 1, 9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tt.before
			UpdateStreak(&s, day)
			if s.Current != tt.current || s.Longest != tt.longest {
				t.Errorf("got current=%d longest=%d, want %d %d", s.Current, s.Longest, tt.current, tt.longest)
			}
			if s.LastSessionDate != "2026-03-11" {
				t.Errorf("expected last date 2026-03-11, got %s", s.LastSessionDate)
			}
		})
	}
}

func TestStreakUsesUTCDay(t *testing.T) {
	// 00:30 in UTC+3 on the 12th is still the 11th in UTC
	loc := time.FixedZone("UTC+3", 3*60*60)
	local := time.Date(2026, 3, 12, 0, 30, 0, 0, loc)

	s := models.Streak{Current: 2, Longest: 2, LastSessionDate: "2026-03-11"}
	UpdateStreak(&s, local)
	if s.Current != 2 {
		t.Errorf("expected same-day streak 2, got %d", s.Current)
	}
}

func TestActiveStreak(t *testing.T) {
	s := models.Streak{Current: 4, Longest: 4, LastSessionDate: "2026-03-10"}
	if got := ActiveStreak(s, day); got != 4 {
		t.Errorf("expected active streak 4, got %d", got)
	}
	if got := ActiveStreak(s, day.AddDate(0, 0, 2)); got != 0 {
		t.Errorf("expected lapsed streak 0, got %d", got)
	}
}

func TestWeeklyGoalReset(t *testing.T) {
	tr := NewTracker(DefaultWeeklyTargets)
	p := models.NewUserLearningProgress("u1", day)
	sum := SessionSummary{Type: models.SessionVocabulary, DurationSeconds: 120, Accuracy: 100, ExerciseCount: 5, CorrectCount: 5}

	if _, err := tr.RecordSessionCompletion(p, "es", sum, day); err != nil {
		t.Fatal(err)
	}
	if _, err := tr.RecordSessionCompletion(p, "es", sum, day.Add(24*time.Hour)); err != nil {
		t.Fatal(err)
	}
	lp := p.Language("es")
	if lp.WeeklyGoal.VocabularyWords != 10 {
		t.Errorf("expected 10 words within the week, got %d", lp.WeeklyGoal.VocabularyWords)
	}

	nextWeek := day.AddDate(0, 0, 7)
	if goal := tr.CurrentWeek(lp, nextWeek); goal.VocabularyWords != 0 || goal.Week != "2026-W12" {
		t.Errorf("expected a fresh week view, got %+v", goal)
	}
	if _, err := tr.RecordSessionCompletion(p, "es", sum, nextWeek); err != nil {
		t.Fatal(err)
	}
	if lp.WeeklyGoal.Week != "2026-W12" || lp.WeeklyGoal.VocabularyWords != 5 {
		t.Errorf("expected counters reset for new week, got %+v", lp.WeeklyGoal)
	}
	if lp.WordsLearned != 15 {
		t.Errorf("lifetime words must not reset, got %d", lp.WordsLearned)
	}
}

func TestProficiency(t *testing.T) {
	tests := []struct {
		level float64
		want  models.ProficiencyLevel
	}{
		{0, models.LevelBeginner},
		{14.9, models.LevelBeginner},
		{15, models.LevelElementary},
		{30, models.LevelIntermediate},
		{50, models.LevelUpperIntermediate},
		{70, models.LevelAdvanced},
		{90, models.LevelNative},
		{100, models.LevelNative},
	}

	for _, tt := range tests {
		lp := &models.LanguageProgress{Skills: map[models.SkillType]models.SkillProgress{}}
		for _, s := range models.SkillTypes {
			lp.Skills[s] = models.SkillProgress{Level: tt.level}
		}
		if got := Proficiency(lp); got != tt.want {
			t.Errorf("Proficiency(%v) = %s, want %s", tt.level, got, tt.want)
		}
	}
}

func TestSessionTypeFor(t *testing.T) {
	tests := map[models.SkillType]models.SessionType{
		models.SkillVocabulary: models.SessionVocabulary,
		models.SkillGrammar:    models.SessionGrammar,
		models.SkillListening:  models.SessionListening,
		models.SkillSpeaking:   models.SessionConversation,
		models.SkillReading:    models.SessionReading,
		models.SkillWriting:    models.SessionWriting,
	}
	for skill, want := range tests {
		if got, ok := SessionTypeFor(skill); !ok || got != want {
			t.Errorf("SessionTypeFor(%s) = %s, want %s", skill, got, want)
		}
	}
	if _, ok := SessionTypeFor("juggling"); ok {
		t.Error("expected no session type for unknown skill")
	}
}
