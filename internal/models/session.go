package models

import (
	"time"
)

// SessionType is the kind of learning activity a session practices
type SessionType string

const (
	SessionVocabulary      SessionType = "vocabulary"
	SessionGrammar         SessionType = "grammar"
	SessionConversation    SessionType = "conversation"
	SessionPronunciation   SessionType = "pronunciation"
	SessionListening       SessionType = "listening"
	SessionReading         SessionType = "reading"
	SessionWriting         SessionType = "writing"
	SessionCulturalContext SessionType = "cultural_context"
)

// SessionTypes lists every supported session type
var SessionTypes = []SessionType{
	SessionVocabulary,
	SessionGrammar,
	SessionConversation,
	SessionPronunciation,
	SessionListening,
	SessionReading,
	SessionWriting,
	SessionCulturalContext,
}

// Valid reports whether t is a known session type
func (t SessionType) Valid() bool {
	for _, known := range SessionTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ProficiencyLevel is a learner tier, ordered from beginner to native
type ProficiencyLevel string

const (
	LevelBeginner          ProficiencyLevel = "beginner"
	LevelElementary        ProficiencyLevel = "elementary"
	LevelIntermediate      ProficiencyLevel = "intermediate"
	LevelUpperIntermediate ProficiencyLevel = "upper_intermediate"
	LevelAdvanced          ProficiencyLevel = "advanced"
	LevelNative            ProficiencyLevel = "native"
)

// ProficiencyLevels is ordered lowest first
var ProficiencyLevels = []ProficiencyLevel{
	LevelBeginner,
	LevelElementary,
	LevelIntermediate,
	LevelUpperIntermediate,
	LevelAdvanced,
	LevelNative,
}

// Rank returns the position of the level in ProficiencyLevels, or -1 if unknown
func (l ProficiencyLevel) Rank() int {
	for i, known := range ProficiencyLevels {
		if l == known {
			return i
		}
	}
	return -1
}

// Valid reports whether l is a known level
func (l ProficiencyLevel) Valid() bool {
	return l.Rank() >= 0
}

// ExerciseType is the interaction style of a single exercise
type ExerciseType string

const (
	ExerciseMultipleChoice ExerciseType = "multiple_choice"
	ExerciseFillBlank      ExerciseType = "fill_blank"
	ExerciseTranslation    ExerciseType = "translation"
	ExerciseListening      ExerciseType = "listening"
	ExerciseSpeaking       ExerciseType = "speaking"
	ExerciseMatching       ExerciseType = "matching"
)

// Valid reports whether t is a known exercise type
func (t ExerciseType) Valid() bool {
	switch t {
	case ExerciseMultipleChoice, ExerciseFillBlank, ExerciseTranslation,
		ExerciseListening, ExerciseSpeaking, ExerciseMatching:
		return true
	}
	return false
}

// SessionStatus represents the current state of a learning session
type SessionStatus string

const (
	SessionInProgress SessionStatus = "IN_PROGRESS"
	SessionCompleted  SessionStatus = "COMPLETED"
	SessionAbandoned  SessionStatus = "ABANDONED"
)

// IsTerminal returns true if the status is a final state
func (s SessionStatus) IsTerminal() bool {
	return s == SessionCompleted || s == SessionAbandoned
}

// Exercise is one item of a session
type Exercise struct {
	Type          ExerciseType `json:"type" yaml:"type"`
	Prompt        string       `json:"prompt" yaml:"prompt"`
	Options       []string     `json:"options,omitempty" yaml:"options"`
	CorrectAnswer string       `json:"correct_answer" yaml:"answer"`
	Points        int          `json:"points" yaml:"points"`
}

// CompletedExercise records the answers given for one exercise index.
// There is at most one record per index.
type CompletedExercise struct {
	Index            int       `json:"index"`
	Answer           string    `json:"answer"`
	Correct          bool      `json:"correct"`
	Attempts         int       `json:"attempts"`
	TimeSpentSeconds int       `json:"time_spent_seconds"`
	CompletedAt      time.Time `json:"completed_at"`
}

// SessionProgress tracks timing and scoring of a session
type SessionProgress struct {
	StartedAt          time.Time           `json:"started_at"`
	EndedAt            *time.Time          `json:"ended_at,omitempty"`
	DurationSeconds    int                 `json:"duration_seconds"`
	CompletedExercises []CompletedExercise `json:"completed_exercises"`
	Score              float64             `json:"score"`
}

// LearningSession is a single practice session owned by one user
type LearningSession struct {
	ID             string           `json:"id"`
	UserID         string           `json:"user_id"`
	Type           SessionType      `json:"type"`
	TargetLanguage string           `json:"target_language"`
	NativeLanguage string           `json:"native_language"`
	Level          ProficiencyLevel `json:"level"`
	ContentID      string           `json:"content_id,omitempty"`
	Exercises      []Exercise       `json:"exercises"`
	Progress       SessionProgress  `json:"progress"`
	Status         SessionStatus    `json:"status"`
	Reward         Amount           `json:"reward"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// IsTerminal returns true if the session can no longer change
func (s *LearningSession) IsTerminal() bool {
	return s.Status.IsTerminal()
}

// CorrectCount counts exercise indexes answered correctly at least once
func (s *LearningSession) CorrectCount() int {
	n := 0
	for _, ce := range s.Progress.CompletedExercises {
		if ce.Correct {
			n++
		}
	}
	return n
}

// Accuracy is the session score as a 0-1 ratio
func (s *LearningSession) Accuracy() float64 {
	return s.Progress.Score / 100
}

// CreateSessionRequest represents a request to start a learning session
type CreateSessionRequest struct {
	Type           SessionType      `json:"type"`
	TargetLanguage string           `json:"target_language"`
	NativeLanguage string           `json:"native_language"`
	Level          ProficiencyLevel `json:"level"`
	ContentID      string           `json:"content_id,omitempty"`
	Exercises      []Exercise       `json:"exercises,omitempty"`
}

// CompleteExerciseRequest carries one answer
type CompleteExerciseRequest struct {
	Answer           string `json:"answer"`
	TimeSpentSeconds int    `json:"time_spent_seconds"`
}
