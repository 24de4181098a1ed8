// Copyright (c) 2026 Timekeep Organization
// SPDX-License-Identifier: Apache-2.0

package timer

import "fmt"

// State is the lifecycle state of a timer.
//
// Legal transitions:
//
//	CREATED -> ACTIVE                      (immediately, or on tx commit)
//	CREATED -> CANCELED                    (tx rollback, explicit cancel)
//	ACTIVE  -> IN_TIMEOUT                  (callback fired)
//	ACTIVE  -> EXPIRED                     (no further computed expiration)
//	IN_TIMEOUT -> ACTIVE | EXPIRED         (callback succeeded)
//	any non-terminal -> RETRY_TIMEOUT      (callback raised an error)
//	RETRY_TIMEOUT -> ACTIVE | EXPIRED      (after the single retry attempt)
//	any non-terminal -> CANCELED           (explicit cancel)
//
// CANCELED and EXPIRED are terminal.
type State int

const (
	StateCreated State = iota
	StateActive
	StateInTimeout
	StateRetryTimeout
	StateCanceled
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateActive:
		return "ACTIVE"
	case StateInTimeout:
		return "IN_TIMEOUT"
	case StateRetryTimeout:
		return "RETRY_TIMEOUT"
	case StateCanceled:
		return "CANCELED"
	case StateExpired:
		return "EXPIRED"
	}
	return "UNKNOWN"
}

// ParseState maps the stored textual form back to a State.
func ParseState(s string) (State, error) {
	switch s {
	case "CREATED":
		return StateCreated, nil
	case "ACTIVE":
		return StateActive, nil
	case "IN_TIMEOUT":
		return StateInTimeout, nil
	case "RETRY_TIMEOUT":
		return StateRetryTimeout, nil
	case "CANCELED":
		return StateCanceled, nil
	case "EXPIRED":
		return StateExpired, nil
	}
	return StateCreated, fmt.Errorf("unknown timer state %q", s)
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCanceled || s == StateExpired
}

// canTransition is the transition table. Same-state transitions are allowed
// and treated as no-ops by the caller.
func canTransition(from, to State) bool {
	if from == to {
		return true
	}
	if from.Terminal() {
		return false
	}
	switch to {
	case StateCanceled, StateRetryTimeout:
		return true
	case StateActive:
		return from == StateCreated || from == StateInTimeout || from == StateRetryTimeout
	case StateInTimeout:
		return from == StateActive
	case StateExpired:
		return from == StateActive || from == StateInTimeout || from == StateRetryTimeout
	case StateCreated:
		return false
	}
	return false
}
