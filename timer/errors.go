// Copyright (c) 2026 Timekeep Organization
// SPDX-License-Identifier: Apache-2.0

package timer

import (
	"errors"
	"fmt"
)

// ErrTimerNotFound indicates a handle that resolves to no known timer.
var ErrTimerNotFound = errors.New("timer not found")

// StateError is returned when an operation requires an active view of a
// timer that has already reached a terminal state.
type StateError struct {
	TimerID string
	State   State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("timer %s is in state %s and can no longer be accessed", e.TimerID, e.State)
}

// IsStateError reports whether err is a terminal-state access error.
func IsStateError(err error) bool {
	var se *StateError
	return errors.As(err, &se)
}

// TransitionError is returned on an illegal state transition attempt.
type TransitionError struct {
	TimerID string
	From    State
	To      State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("timer %s: illegal state transition %s -> %s", e.TimerID, e.From, e.To)
}
