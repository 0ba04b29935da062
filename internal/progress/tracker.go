// Package progress maintains per-user, per-language learning state: skill levels,
// proficiency tier, day streaks and weekly goal counters.
package progress

import (
	"fmt"
	"math"
	"time"

	"github.com/culturebridge/learning-engine/internal/apperr"
	"github.com/culturebridge/learning-engine/internal/models"
)

const dateLayout = "2006-01-02"

// SessionSummary is what the tracker needs to know about a completed session
type SessionSummary struct {
	Type            models.SessionType
	DurationSeconds int
	Accuracy        float64 // 0-100
	ExerciseCount   int
	CorrectCount    int
}

// SummaryFromSession builds the summary of a completed session
func SummaryFromSession(s *models.LearningSession) SessionSummary {
	return SessionSummary{
		Type:            s.Type,
		DurationSeconds: s.Progress.DurationSeconds,
		Accuracy:        s.Progress.Score,
		ExerciseCount:   len(s.Exercises),
		CorrectCount:    s.CorrectCount(),
	}
}

// skillRule says which skill a session type trains, how strongly, and which
// counter it advances.
type skillRule struct {
	skill  models.SkillType
	weight float64
	count  func(lp *models.LanguageProgress, sum SessionSummary)
}

var sessionSkills = map[models.SessionType]skillRule{
	models.SessionVocabulary: {models.SkillVocabulary, 2.0, func(lp *models.LanguageProgress, sum SessionSummary) {
		lp.WordsLearned += sum.ExerciseCount
	}},
	models.SessionGrammar: {models.SkillGrammar, 2.0, func(lp *models.LanguageProgress, sum SessionSummary) {
		lp.GrammarRules += sum.ExerciseCount
	}},
	models.SessionConversation: {models.SkillSpeaking, 1.5, func(lp *models.LanguageProgress, sum SessionSummary) {
		lp.ConversationSeconds += sum.DurationSeconds
	}},
	models.SessionPronunciation: {models.SkillSpeaking, 1.5, func(lp *models.LanguageProgress, sum SessionSummary) {
		lp.PronunciationDrills += sum.ExerciseCount
	}},
	models.SessionListening: {models.SkillListening, 1.0, func(lp *models.LanguageProgress, sum SessionSummary) {
		lp.ListeningSeconds += sum.DurationSeconds
	}},
	models.SessionReading: {models.SkillReading, 1.5, func(lp *models.LanguageProgress, sum SessionSummary) {
		lp.TextsRead++
	}},
	models.SessionWriting: {models.SkillWriting, 2.0, func(lp *models.LanguageProgress, sum SessionSummary) {
		lp.TextsWritten++
	}},
	models.SessionCulturalContext: {models.SkillReading, 1.0, func(lp *models.LanguageProgress, sum SessionSummary) {
		lp.CulturalLessons++
	}},
}

// SkillFor returns the skill a session type trains
func SkillFor(t models.SessionType) (models.SkillType, bool) {
	rule, ok := sessionSkills[t]
	return rule.skill, ok
}

// SessionTypeFor returns the first session type, in models.SessionTypes order,
// that trains skill
func SessionTypeFor(skill models.SkillType) (models.SessionType, bool) {
	for _, t := range models.SessionTypes {
		if sessionSkills[t].skill == skill {
			return t, true
		}
	}
	return "", false
}

// WeeklyTargets are the goal targets assigned when a new week starts
type WeeklyTargets struct {
	StudyMinutes        int
	VocabularyWords     int
	ConversationMinutes int
}

// DefaultWeeklyTargets are used when no targets are configured
var DefaultWeeklyTargets = WeeklyTargets{
	StudyMinutes:        150,
	VocabularyWords:     50,
	ConversationMinutes: 60,
}

// Tracker applies completed sessions to progress records
type Tracker struct {
	targets WeeklyTargets
}

// NewTracker creates a tracker with the given weekly targets
func NewTracker(targets WeeklyTargets) *Tracker {
	if targets == (WeeklyTargets{}) {
		targets = DefaultWeeklyTargets
	}
	return &Tracker{targets: targets}
}

// RecordSessionCompletion folds one completed session into p and returns the
// updated language record. p is modified in place.
func (t *Tracker) RecordSessionCompletion(p *models.UserLearningProgress, language string, sum SessionSummary, now time.Time) (*models.LanguageProgress, error) {
	if p == nil {
		return nil, apperr.Validation("progress record is required")
	}
	if language == "" {
		return nil, apperr.Validation("language is required")
	}
	rule, ok := sessionSkills[sum.Type]
	if !ok {
		return nil, apperr.Validation("unknown session type %q", sum.Type)
	}
	if sum.Accuracy < 0 || sum.Accuracy > 100 || math.IsNaN(sum.Accuracy) {
		return nil, apperr.Validation("accuracy must be within 0-100, got %v", sum.Accuracy)
	}
	if sum.DurationSeconds < 0 {
		return nil, apperr.Validation("duration must not be negative")
	}

	now = now.UTC()
	lp := t.language(p, language)

	skill := lp.Skills[rule.skill]
	skill.Level = math.Min(100, skill.Level+sum.Accuracy/100*rule.weight)
	skill.ItemsLearned += sum.CorrectCount
	skill.PracticeSeconds += sum.DurationSeconds
	lp.Skills[rule.skill] = skill
	rule.count(lp, sum)

	t.rollWeek(lp, now)
	lp.WeeklyGoal.StudySeconds += sum.DurationSeconds
	switch sum.Type {
	case models.SessionVocabulary:
		lp.WeeklyGoal.VocabularyWords += sum.ExerciseCount
	case models.SessionConversation:
		lp.WeeklyGoal.ConversationSeconds += sum.DurationSeconds
	}

	lp.SessionsCompleted++
	lp.LastStudiedAt = &now
	lp.Proficiency = Proficiency(lp)

	UpdateStreak(&p.Streak, now)
	p.TotalLessons++
	p.TotalStudySeconds += sum.DurationSeconds
	p.UpdatedAt = now

	return lp, nil
}

// language returns the record for lang, creating it on first use
func (t *Tracker) language(p *models.UserLearningProgress, lang string) *models.LanguageProgress {
	if p.Languages == nil {
		p.Languages = make(map[string]*models.LanguageProgress)
	}
	lp, ok := p.Languages[lang]
	if !ok {
		lp = &models.LanguageProgress{
			Language:    lang,
			Proficiency: models.LevelBeginner,
		}
		p.Languages[lang] = lp
	}
	if lp.Skills == nil {
		lp.Skills = make(map[models.SkillType]models.SkillProgress, len(models.SkillTypes))
	}
	for _, s := range models.SkillTypes {
		if _, ok := lp.Skills[s]; !ok {
			lp.Skills[s] = models.SkillProgress{}
		}
	}
	return lp
}

// rollWeek resets the weekly counters when now falls in a later ISO week
func (t *Tracker) rollWeek(lp *models.LanguageProgress, now time.Time) {
	week := WeekKey(now)
	if lp.WeeklyGoal.Week == week {
		return
	}
	lp.WeeklyGoal = models.WeeklyGoal{
		Week:                      week,
		TargetStudyMinutes:        t.targets.StudyMinutes,
		TargetVocabularyWords:     t.targets.VocabularyWords,
		TargetConversationMinutes: t.targets.ConversationMinutes,
	}
}

// CurrentWeek returns lp's weekly goal as of now, zeroed if the stored week is stale.
// It does not modify lp.
func (t *Tracker) CurrentWeek(lp *models.LanguageProgress, now time.Time) models.WeeklyGoal {
	goal := lp.WeeklyGoal
	if goal.Week != WeekKey(now.UTC()) {
		goal = models.WeeklyGoal{
			Week:                      WeekKey(now.UTC()),
			TargetStudyMinutes:        t.targets.StudyMinutes,
			TargetVocabularyWords:     t.targets.VocabularyWords,
			TargetConversationMinutes: t.targets.ConversationMinutes,
		}
	}
	return goal
}

// WeekKey formats the ISO week of t as "2006-W01"
func WeekKey(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

// UpdateStreak applies a session completed at now to the streak.
// Same day: unchanged. Day after the last session: +1. Otherwise: reset to 1.
func UpdateStreak(s *models.Streak, now time.Time) {
	now = now.UTC()
	today := now.Format(dateLayout)
	yesterday := now.AddDate(0, 0, -1).Format(dateLayout)

	switch s.LastSessionDate {
	case today:
		if s.Current == 0 {
			s.Current = 1
		}
	case yesterday:
		s.Current++
	default:
		s.Current = 1
	}

	s.LastSessionDate = today
	if s.Current > s.Longest {
		s.Longest = s.Current
	}
}

// ActiveStreak is the streak as seen at now: zero when the last session is
// older than yesterday.
func ActiveStreak(s models.Streak, now time.Time) int {
	now = now.UTC()
	switch s.LastSessionDate {
	case now.Format(dateLayout), now.AddDate(0, 0, -1).Format(dateLayout):
		return s.Current
	}
	return 0
}

// Proficiency maps the mean skill level to a tier
func Proficiency(lp *models.LanguageProgress) models.ProficiencyLevel {
	var total float64
	for _, s := range models.SkillTypes {
		total += lp.Skills[s].Level
	}
	mean := total / float64(len(models.SkillTypes))

	switch {
	case mean < 15:
		return models.LevelBeginner
	case mean < 30:
		return models.LevelElementary
	case mean < 50:
		return models.LevelIntermediate
	case mean < 70:
		return models.LevelUpperIntermediate
	case mean < 90:
		return models.LevelAdvanced
	default:
		return models.LevelNative
	}
}
