// Copyright (c) 2026 Timekeep Organization
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/timekeep-io/timekeep/common/log/tag"
	"github.com/timekeep-io/timekeep/common/uuid"
	"github.com/timekeep-io/timekeep/schedule"
	"github.com/timekeep-io/timekeep/store"
	"github.com/timekeep-io/timekeep/timer"
)

// AutoTimerDecl is a declared auto timer of the timed object: a calendar
// schedule bound to a timeout method, created by the container rather than
// by application code.
type AutoTimerDecl struct {
	Schedule   schedule.Expression
	Method     timer.MethodRef
	Info       any
	Persistent bool
}

// Start restores the persistent timers of the timed object and reconciles
// them with the currently declared auto timers:
//
//   - a stored auto timer matching a declaration (same method, textually
//     identical schedule, same info) resumes under its old identity
//   - a stored auto timer with no matching declaration is stale, from a
//     previous version of the timed object, and is removed
//   - a declaration with no stored counterpart gets a fresh timer
//
// Programmatic timers resume unconditionally; ones interrupted mid-timeout
// return to ACTIVE and fire again at their next expiration.
func (s *TimerService) Start(ctx context.Context, declared []AutoTimerDecl) error {
	recs, err := s.store.LoadTimers(ctx, s.invoker.TimedObjectID())
	if err != nil {
		return err
	}

	matched := make([]bool, len(declared))
	restored := 0
	for _, rec := range recs {
		if rec.State.Terminal() {
			// leftover row of a finished timer
			if err := s.store.RemoveTimer(ctx, rec.TimedObjectID, rec.ID); err != nil {
				s.logger.Warn("failed to remove finished timer row", tag.TimerID(rec.ID), tag.Error(err))
			}
			continue
		}
		tm, err := rec.Restore()
		if err != nil {
			s.logger.Error("skipping unrestorable timer", tag.TimerID(rec.ID), tag.Error(err))
			continue
		}

		if tm.AutoTimer() {
			idx, ok := s.matchDeclaration(rec, declared, matched)
			if !ok {
				s.discardStaleAutoTimer(ctx, tm)
				continue
			}
			matched[idx] = true
		}

		if err := s.engine.StartTimer(tm); err != nil {
			s.logger.Error("failed to restore timer", tag.TimerID(tm.ID()), tag.Error(err))
			continue
		}
		if rec.State != timer.StateActive {
			// e.g. interrupted mid-timeout; the row must not keep claiming
			// the old state
			s.engine.Persister().PersistDeferred(tm)
		}
		restored++
	}

	for i, decl := range declared {
		if matched[i] {
			continue
		}
		if err := s.createAutoTimer(ctx, decl); err != nil {
			return err
		}
	}

	s.logger.Info("timer service started", tag.Count(restored))
	return nil
}

// matchDeclaration finds the declared auto timer a stored one belongs to.
// Schedules compare textually: a rewritten but equivalent expression counts
// as a different timer.
func (s *TimerService) matchDeclaration(rec store.Record, declared []AutoTimerDecl, matched []bool) (int, bool) {
	for i, decl := range declared {
		if matched[i] || !decl.Persistent {
			continue
		}
		if rec.TimeoutMethod == nil || !rec.TimeoutMethod.Equal(decl.Method) {
			continue
		}
		if rec.Schedule == nil || !rec.Schedule.Equal(decl.Schedule) {
			continue
		}
		if !infoMatches(decl.Info, rec.Info) {
			continue
		}
		return i, true
	}
	return 0, false
}

func (s *TimerService) discardStaleAutoTimer(ctx context.Context, tm *timer.Timer) {
	s.logger.Info("removing auto timer with no matching declaration",
		tag.TimerID(tm.ID()), tag.Method(tm.TimeoutMethod().Name))
	_ = tm.SetState(timer.StateCanceled)
	if err := s.store.RemoveTimer(ctx, tm.TimedObjectID(), tm.ID()); err != nil {
		s.logger.Error("failed to remove stale auto timer", tag.TimerID(tm.ID()), tag.Error(err))
	}
}

func (s *TimerService) createAutoTimer(ctx context.Context, decl AutoTimerDecl) error {
	cal, err := schedule.NewCalendar(decl.Schedule)
	if err != nil {
		return invalidArgf("bad auto timer schedule for %s: %v", decl.Method.Name, err)
	}

	method := decl.Method
	b := timer.Builder{
		ID:            uuid.MustNewUUID().String(),
		TimedObjectID: s.invoker.TimedObjectID(),
		Info:          decl.Info,
		Persistent:    decl.Persistent,
		Calendar:      cal,
		AutoTimer:     true,
		TimeoutMethod: &method,
	}
	if first, ok := cal.FirstTimeout(s.timeSource.Now()); ok {
		b.NextExpiration = &first
	}
	tm, err := b.Build()
	if err != nil {
		return invalidArgf("%v", err)
	}
	if err := tm.SetState(timer.StateActive); err != nil {
		return err
	}

	// the change listener must not react to our own insert
	s.markOwnWrite(tm.ID())
	defer s.clearOwnWrite(tm.ID())

	if tm.Persistent() {
		rec, err := store.RecordOf(tm)
		if err == nil {
			err = s.store.AddTimer(ctx, rec)
		}
		if err != nil {
			return err
		}
	}
	if err := s.engine.StartTimer(tm); err != nil {
		return err
	}
	s.logger.Info("auto timer created",
		tag.TimerID(tm.ID()), tag.Method(decl.Method.Name), tag.Schedule(decl.Schedule.String()))
	return nil
}

func infoMatches(declared any, stored []byte) bool {
	if declared == nil {
		return len(stored) == 0
	}
	data, err := json.Marshal(declared)
	if err != nil {
		return false
	}
	return bytes.Equal(data, stored)
}
