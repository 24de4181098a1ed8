// Copyright (c) 2026 Timekeep Organization
// SPDX-License-Identifier: Apache-2.0

package service

import "github.com/timekeep-io/timekeep/tx"

// CallContext describes the caller of a timer service operation. The zero
// value is a plain non-transactional business-method call.
type CallContext struct {
	// Tx defers creations and cancellations to the transaction outcome.
	// Nil applies them immediately.
	Tx *tx.Transaction

	// InLifecycleCallback marks calls out of a component lifecycle callback.
	// Only singleton components may touch their timers from there.
	InLifecycleCallback bool

	// Singleton marks the calling component as a singleton.
	Singleton bool

	// PrimaryKey is attached to created timers when the caller is an
	// entity-style component.
	PrimaryKey any
}

// TimerConfig carries the caller-supplied payload and the persistence flag
// of a new timer. Timers are persistent unless opted out.
type TimerConfig struct {
	Info       any
	Persistent bool
}

func NewTimerConfig(info any) TimerConfig {
	return TimerConfig{Info: info, Persistent: true}
}
