package agent

import (
	"fmt"
	"net/http"

	"github.com/freema/desktop-assist/internal/apperror"
)

// State is the lifecycle position of a run.
type State string

const (
	StateIdle       State = "idle"
	StateSpawning   State = "spawning"
	StateStreaming  State = "streaming"
	StateCancelled  State = "cancelled"
	StateFinalizing State = "finalizing"
	StateDone       State = "done"
)

// validTransitions defines valid state machine transitions. Every path to
// Done goes through Finalizing.
var validTransitions = map[State][]State{
	StateIdle:       {StateSpawning, StateFinalizing},
	StateSpawning:   {StateStreaming, StateFinalizing},
	StateStreaming:  {StateFinalizing, StateCancelled},
	StateCancelled:  {StateFinalizing},
	StateFinalizing: {StateDone},
	StateDone:       {},
}

// ValidateTransition checks if the transition from current to next state is valid.
func ValidateTransition(current, next State) error {
	allowed, ok := validTransitions[current]
	if !ok {
		return &apperror.AppError{
			Err:     apperror.ErrInvalidTransition,
			Message: fmt.Sprintf("unknown state: %s", current),
			Status:  http.StatusConflict,
		}
	}

	for _, s := range allowed {
		if s == next {
			return nil
		}
	}

	return &apperror.AppError{
		Err:     apperror.ErrInvalidTransition,
		Message: fmt.Sprintf("invalid transition: %s → %s", current, next),
		Status:  http.StatusConflict,
	}
}

// IsTerminal returns true once a run can no longer change.
func IsTerminal(s State) bool {
	return s == StateDone
}
