package models

import "time"

// SkillType is one of the tracked language skills
type SkillType string

const (
	SkillVocabulary SkillType = "vocabulary"
	SkillGrammar    SkillType = "grammar"
	SkillListening  SkillType = "listening"
	SkillSpeaking   SkillType = "speaking"
	SkillReading    SkillType = "reading"
	SkillWriting    SkillType = "writing"
)

// SkillTypes lists every tracked skill in display order
var SkillTypes = []SkillType{
	SkillVocabulary,
	SkillGrammar,
	SkillListening,
	SkillSpeaking,
	SkillReading,
	SkillWriting,
}

// SkillProgress is the accumulated state of one skill
type SkillProgress struct {
	Level           float64 `json:"level"`
	ItemsLearned    int     `json:"items_learned"`
	PracticeSeconds int     `json:"practice_seconds"`
}

// WeeklyGoal holds counters for one ISO week; Week is "2006-W01" formatted
type WeeklyGoal struct {
	Week                      string `json:"week"`
	StudySeconds              int    `json:"study_seconds"`
	VocabularyWords           int    `json:"vocabulary_words"`
	ConversationSeconds       int    `json:"conversation_seconds"`
	TargetStudyMinutes        int    `json:"target_study_minutes"`
	TargetVocabularyWords     int    `json:"target_vocabulary_words"`
	TargetConversationMinutes int    `json:"target_conversation_minutes"`
}

// StudyMinutes returns whole minutes studied this week
func (g WeeklyGoal) StudyMinutes() int { return g.StudySeconds / 60 }

// ConversationMinutes returns whole minutes of conversation this week
func (g WeeklyGoal) ConversationMinutes() int { return g.ConversationSeconds / 60 }

// LanguageProgress is a user's state for one target language
type LanguageProgress struct {
	Language            string                      `json:"language"`
	Proficiency         ProficiencyLevel            `json:"proficiency"`
	Skills              map[SkillType]SkillProgress `json:"skills"`
	WordsLearned        int                         `json:"words_learned"`
	GrammarRules        int                         `json:"grammar_rules"`
	ConversationSeconds int                         `json:"conversation_seconds"`
	ListeningSeconds    int                         `json:"listening_seconds"`
	TextsRead           int                         `json:"texts_read"`
	TextsWritten        int                         `json:"texts_written"`
	PronunciationDrills int                         `json:"pronunciation_drills"`
	CulturalLessons     int                         `json:"cultural_lessons"`
	SessionsCompleted   int                         `json:"sessions_completed"`
	WeeklyGoal          WeeklyGoal                  `json:"weekly_goal"`
	LastStudiedAt       *time.Time                  `json:"last_studied_at,omitempty"`
}

// Streak counts consecutive UTC calendar days with a completed session
type Streak struct {
	Current         int    `json:"current"`
	Longest         int    `json:"longest"`
	LastSessionDate string `json:"last_session_date,omitempty"` // 2006-01-02
}

// UserLearningProgress is the single progress record of a user
type UserLearningProgress struct {
	UserID            string                       `json:"user_id"`
	Languages         map[string]*LanguageProgress `json:"languages"`
	Streak            Streak                       `json:"streak"`
	TotalLessons      int                          `json:"total_lessons"`
	TotalStudySeconds int                          `json:"total_study_seconds"`
	Achievements      map[string]time.Time         `json:"achievements"`
	CreatedAt         time.Time                    `json:"created_at"`
	UpdatedAt         time.Time                    `json:"updated_at"`
}

// NewUserLearningProgress returns an empty record for userID
func NewUserLearningProgress(userID string, now time.Time) *UserLearningProgress {
	return &UserLearningProgress{
		UserID:       userID,
		Languages:    make(map[string]*LanguageProgress),
		Achievements: make(map[string]time.Time),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// HasAchievement reports whether id is in the granted set
func (p *UserLearningProgress) HasAchievement(id string) bool {
	if p == nil || p.Achievements == nil {
		return false
	}
	_, ok := p.Achievements[id]
	return ok
}

// Language returns the record for lang, or nil
func (p *UserLearningProgress) Language(lang string) *LanguageProgress {
	if p == nil || p.Languages == nil {
		return nil
	}
	return p.Languages[lang]
}
