// Copyright (c) 2026 Timekeep Organization
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"time"
)

type (
	// Store is the persistence contract for persistent timers. Implementations
	// must be safe for concurrent use.
	Store interface {
		// AddTimer inserts a new timer record. It fails if the id already
		// exists for the timed object.
		AddTimer(ctx context.Context, rec Record) error

		// PersistTimer writes the current scheduling state of a timer. When
		// the record's state is terminal the row is removed instead.
		PersistTimer(ctx context.Context, rec Record) error

		// RemoveTimer deletes a timer record. Removing a missing row is not
		// an error.
		RemoveTimer(ctx context.Context, timedObjectID, id string) error

		// GetTimer loads one timer record, or timer.ErrTimerNotFound.
		GetTimer(ctx context.Context, timedObjectID, id string) (Record, error)

		// LoadTimers returns all records owned by a timed object.
		LoadTimers(ctx context.Context, timedObjectID string) ([]Record, error)

		// ShouldRun atomically claims a scheduled fire of a timer. It returns
		// true when this node won the claim: the row still carried the
		// expected next expiration and was not already in timeout. A false
		// return means another node fired this timeout first.
		ShouldRun(ctx context.Context, timedObjectID, id string, scheduledFor time.Time) (bool, error)

		// RegisterChangeListener subscribes to add/sync/remove events for one
		// timed object. Unregister with the returned func.
		RegisterChangeListener(timedObjectID string, l ChangeListener) (unregister func())

		Close() error
	}

	// ChangeListener observes timer record changes for a timed object.
	ChangeListener interface {
		TimerAdded(rec Record)
		// TimerSynced reports a non-terminal scheduling-state update.
		TimerSynced(rec Record)
		TimerRemoved(id string)
	}
)
