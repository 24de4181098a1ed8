// Copyright (c) 2026 Timekeep Organization
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"github.com/timekeep-io/timekeep/common/log/tag"
	"github.com/timekeep-io/timekeep/store"
	"github.com/timekeep-io/timekeep/timer"
)

// storeListener feeds store change events back into the owning service, so a
// timer added to a shared store by another node starts firing here too (the
// ShouldRun claim arbitrates which node actually runs it), and a removed one
// stops.
type storeListener struct {
	s *TimerService
}

func (l storeListener) TimerAdded(rec store.Record) { l.s.timerAddedExternally(rec) }
func (l storeListener) TimerRemoved(id string)      { l.s.timerRemovedExternally(id) }

// A sync for a timer we already track is the routine post-fire write, ours or
// another node's; the local fire path owns the schedule then. Only an ACTIVE
// sync for an unknown timer needs scheduling, same as an add.
func (l storeListener) TimerSynced(rec store.Record) { l.s.timerAddedExternally(rec) }

// timerAddedExternally schedules a record another writer put in the store.
// This instance's own writes are filtered out through the ownWrites set, and
// only ACTIVE rows are picked up; a CREATED row belongs to a transaction
// still in flight on the writing node.
func (s *TimerService) timerAddedExternally(rec store.Record) {
	s.mu.Lock()
	_, local := s.ownWrites[rec.ID]
	closed := s.closed
	s.mu.Unlock()
	if local || closed || rec.State != timer.StateActive {
		return
	}
	if _, ok := s.engine.GetTimer(rec.ID); ok {
		return
	}

	tm, err := rec.Restore()
	if err != nil {
		s.logger.Error("failed to restore externally added timer",
			tag.TimerID(rec.ID), tag.Error(err))
		return
	}
	if err := s.engine.StartTimer(tm); err != nil {
		s.logger.Error("failed to schedule externally added timer",
			tag.TimerID(rec.ID), tag.Error(err))
		return
	}
	s.logger.Info("scheduled externally added timer", tag.TimerID(rec.ID))
}

// timerRemovedExternally drops the local schedule of a timer whose row is
// gone. Locally canceled timers are unregistered before their row is
// removed; the ownWrites set covers the transactional cancel, whose eager
// removal runs while the timer is still registered.
func (s *TimerService) timerRemovedExternally(id string) {
	s.mu.Lock()
	_, local := s.ownWrites[id]
	s.mu.Unlock()
	if local {
		return
	}
	tm, ok := s.engine.GetTimer(id)
	if !ok {
		return
	}
	if err := s.engine.CancelTimer(tm); err != nil {
		s.logger.Error("failed to cancel externally removed timer",
			tag.TimerID(id), tag.Error(err))
		return
	}
	s.logger.Info("canceled externally removed timer", tag.TimerID(id))
}
