package learning

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/culturebridge/learning-engine/internal/apperr"
	"github.com/culturebridge/learning-engine/internal/catalog"
	"github.com/culturebridge/learning-engine/internal/models"
)

// CompleteExercise records an answer for the exercise at index and rescores the session.
// Re-answering an index updates its record in place. A correct record is never
// downgraded; an incorrect one is upgraded the first time a correct answer arrives.
func CompleteExercise(s *models.LearningSession, index int, answer string, timeSpent int, now time.Time) (*models.CompletedExercise, error) {
	if s.IsTerminal() {
		return nil, fmt.Errorf("session %s is %s: %w", s.ID, s.Status, apperr.ErrSessionAlreadyTerminal)
	}
	if strings.TrimSpace(answer) == "" {
		return nil, apperr.Validation("answer is required")
	}
	if timeSpent < 0 {
		return nil, apperr.Validation("time_spent_seconds must not be negative")
	}
	if index < 0 || index >= len(s.Exercises) {
		return nil, fmt.Errorf("exercise %d of %d: %w", index, len(s.Exercises), apperr.ErrExerciseIndexOutOfRange)
	}

	correct := answer == s.Exercises[index].CorrectAnswer

	if record := completedRecord(s, index); record != nil {
		record.Attempts++
		record.TimeSpentSeconds += timeSpent
		if !record.Correct {
			record.Answer = answer
			record.CompletedAt = now
			record.Correct = correct
		}
	} else {
		s.Progress.CompletedExercises = append(s.Progress.CompletedExercises, models.CompletedExercise{
			Index:            index,
			Answer:           answer,
			Correct:          correct,
			Attempts:         1,
			TimeSpentSeconds: timeSpent,
			CompletedAt:      now,
		})
		sort.Slice(s.Progress.CompletedExercises, func(i, j int) bool {
			return s.Progress.CompletedExercises[i].Index < s.Progress.CompletedExercises[j].Index
		})
	}

	s.Progress.Score = Score(s)
	s.UpdatedAt = now

	ce := *completedRecord(s, index)
	return &ce, nil
}

func completedRecord(s *models.LearningSession, index int) *models.CompletedExercise {
	for i := range s.Progress.CompletedExercises {
		if s.Progress.CompletedExercises[i].Index == index {
			return &s.Progress.CompletedExercises[i]
		}
	}
	return nil
}

// Score recomputes 100 * correct / total from the completed-exercise list
func Score(s *models.LearningSession) float64 {
	total := len(s.Exercises)
	if total == 0 {
		return 0
	}
	return 100 * float64(s.CorrectCount()) / float64(total)
}

// Complete moves an IN_PROGRESS session to COMPLETED and returns the reward it earned.
// The reward is only computed here; crediting it is the reward engine's job.
func Complete(s *models.LearningSession, now time.Time, rules catalog.LearningRules) (models.Amount, error) {
	if s.IsTerminal() {
		return 0, fmt.Errorf("session %s is %s: %w", s.ID, s.Status, apperr.ErrSessionAlreadyTerminal)
	}

	ended := now
	duration := int(ended.Sub(s.Progress.StartedAt).Seconds())
	if duration < 0 {
		duration = 0
	}

	s.Progress.EndedAt = &ended
	s.Progress.DurationSeconds = duration
	s.Progress.Score = Score(s)
	s.Status = models.SessionCompleted
	s.Reward = SessionReward(rules, s.Progress.Score, duration)
	s.UpdatedAt = now

	return s.Reward, nil
}

// Abandon moves an IN_PROGRESS session to ABANDONED
func Abandon(s *models.LearningSession, now time.Time) error {
	if s.IsTerminal() {
		return fmt.Errorf("session %s is %s: %w", s.ID, s.Status, apperr.ErrSessionAlreadyTerminal)
	}

	ended := now
	duration := int(ended.Sub(s.Progress.StartedAt).Seconds())
	if duration < 0 {
		duration = 0
	}

	s.Progress.EndedAt = &ended
	s.Progress.DurationSeconds = duration
	s.Status = models.SessionAbandoned
	s.UpdatedAt = now
	return nil
}

// SessionReward is base * (1 + score/100), plus the speed bonus for short sessions,
// rounded to hundredths of a token.
func SessionReward(rules catalog.LearningRules, score float64, durationSeconds int) models.Amount {
	reward := rules.SessionBaseReward.Float64() * (1 + score/100)
	if durationSeconds < rules.SpeedBonusUnderSeconds {
		reward += rules.SpeedBonus.Float64()
	}
	return models.AmountFromFloat(reward)
}
