// Package apperr defines the error taxonomy shared by the engine's packages.
// Callers wrap these sentinels with fmt.Errorf("...: %w") and match with errors.Is.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrValidation              = errors.New("validation error")
	ErrNotFound                = errors.New("not found")
	ErrSessionAlreadyTerminal  = errors.New("session already terminal")
	ErrExerciseIndexOutOfRange = errors.New("exercise index out of range")
	ErrUnknownRewardKind       = errors.New("unknown reward kind")
	ErrLedgerUnavailable       = errors.New("ledger unavailable")
	ErrInsufficientCapacity    = errors.New("insufficient reward capacity")
)

// Validation returns an error wrapping ErrValidation
func Validation(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFound returns an error wrapping ErrNotFound
func NotFound(what, id string) error {
	return fmt.Errorf("%w: %s %s", ErrNotFound, what, id)
}

// Classify maps an error to an HTTP status and an envelope code
func Classify(err error) (int, string) {
	switch {
	case err == nil:
		return http.StatusOK, ""
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, ErrExerciseIndexOutOfRange):
		return http.StatusNotFound, "exercise_not_found"
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ErrSessionAlreadyTerminal):
		return http.StatusConflict, "session_terminal"
	case errors.Is(err, ErrUnknownRewardKind):
		return http.StatusBadRequest, "unknown_reward_kind"
	case errors.Is(err, ErrInsufficientCapacity):
		return http.StatusConflict, "insufficient_capacity"
	case errors.Is(err, ErrLedgerUnavailable):
		return http.StatusServiceUnavailable, "ledger_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
