// Copyright (c) 2026 Timekeep Organization
// SPDX-License-Identifier: Apache-2.0

// Package service is the managed timer service facade: validated timer
// creation, transaction-coordinated lifecycle, handle resolution and
// restoration of persistent timers, one service per timed object.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/timekeep-io/timekeep/common/clock"
	"github.com/timekeep-io/timekeep/common/log"
	"github.com/timekeep-io/timekeep/common/log/tag"
	"github.com/timekeep-io/timekeep/common/uuid"
	"github.com/timekeep-io/timekeep/config"
	"github.com/timekeep-io/timekeep/engine"
	"github.com/timekeep-io/timekeep/schedule"
	"github.com/timekeep-io/timekeep/store"
	"github.com/timekeep-io/timekeep/timer"
)

// TimerService manages the timers of a single timed object.
type TimerService struct {
	logger     log.Logger
	timeSource clock.TimeSource
	store      store.Store
	invoker    engine.TimedObjectInvoker
	engine     *engine.Engine

	unsubscribe func()

	mu        sync.Mutex
	pending   map[string]map[string]*timer.Timer // txID -> timerID -> uncommitted creation
	ownWrites map[string]struct{}                // timer ids this instance is writing right now
	closed    bool
}

func NewTimerService(
	cfg config.TimersConfig,
	st store.Store,
	invoker engine.TimedObjectInvoker,
	logger log.Logger,
	timeSource clock.TimeSource,
) *TimerService {
	logger = logger.WithTags(tag.Service("timer-service"), tag.TimedObjectID(invoker.TimedObjectID()))
	s := &TimerService{
		logger:     logger,
		timeSource: timeSource,
		store:      st,
		invoker:    invoker,
		engine:     engine.NewEngine(cfg, st, invoker, logger, timeSource),
		pending:    map[string]map[string]*timer.Timer{},
		ownWrites:  map[string]struct{}{},
	}
	s.unsubscribe = st.RegisterChangeListener(invoker.TimedObjectID(), storeListener{s: s})
	return s
}

func (s *TimerService) TimedObjectID() string {
	return s.invoker.TimedObjectID()
}

// CreateSingleActionTimer creates a timer that fires once at expiration.
func (s *TimerService) CreateSingleActionTimer(
	ctx context.Context, cc CallContext, expiration time.Time, tc TimerConfig,
) (*timer.Timer, error) {
	if err := s.checkInvocation(cc); err != nil {
		return nil, err
	}
	if err := validExpiration(expiration); err != nil {
		return nil, err
	}
	return s.createTimer(ctx, cc, timer.Builder{InitialExpiration: expiration}, tc)
}

// CreateSingleActionTimerAfter creates a timer that fires once after delay.
func (s *TimerService) CreateSingleActionTimerAfter(
	ctx context.Context, cc CallContext, delay time.Duration, tc TimerConfig,
) (*timer.Timer, error) {
	if err := s.checkInvocation(cc); err != nil {
		return nil, err
	}
	if delay < 0 {
		return nil, invalidArgf("delay %v is negative", delay)
	}
	return s.createTimer(ctx, cc, timer.Builder{InitialExpiration: s.timeSource.Now().Add(delay)}, tc)
}

// CreateIntervalTimer creates a timer that first fires at first and then
// every interval.
func (s *TimerService) CreateIntervalTimer(
	ctx context.Context, cc CallContext, first time.Time, interval time.Duration, tc TimerConfig,
) (*timer.Timer, error) {
	if err := s.checkInvocation(cc); err != nil {
		return nil, err
	}
	if err := validExpiration(first); err != nil {
		return nil, err
	}
	if interval < 0 {
		return nil, invalidArgf("interval %v is negative", interval)
	}
	return s.createTimer(ctx, cc, timer.Builder{InitialExpiration: first, Interval: interval}, tc)
}

// CreateIntervalTimerAfter creates an interval timer whose first fire is
// delay from now.
func (s *TimerService) CreateIntervalTimerAfter(
	ctx context.Context, cc CallContext, delay, interval time.Duration, tc TimerConfig,
) (*timer.Timer, error) {
	if err := s.checkInvocation(cc); err != nil {
		return nil, err
	}
	if delay < 0 {
		return nil, invalidArgf("delay %v is negative", delay)
	}
	if interval < 0 {
		return nil, invalidArgf("interval %v is negative", interval)
	}
	return s.createTimer(ctx, cc, timer.Builder{
		InitialExpiration: s.timeSource.Now().Add(delay),
		Interval:          interval,
	}, tc)
}

// CreateCalendarTimer creates a timer firing on a calendar expression.
func (s *TimerService) CreateCalendarTimer(
	ctx context.Context, cc CallContext, expr schedule.Expression, tc TimerConfig,
) (*timer.Timer, error) {
	if err := s.checkInvocation(cc); err != nil {
		return nil, err
	}
	cal, err := schedule.NewCalendar(expr)
	if err != nil {
		return nil, invalidArgf("bad schedule expression: %v", err)
	}
	b := timer.Builder{Calendar: cal}
	if first, ok := cal.FirstTimeout(s.timeSource.Now()); ok {
		b.NextExpiration = &first
	}
	return s.createTimer(ctx, cc, b, tc)
}

// GetTimers returns the non-terminal timers of the timed object, including
// ones created but not yet committed in the caller's transaction.
func (s *TimerService) GetTimers(cc CallContext) ([]*timer.Timer, error) {
	if err := s.checkInvocation(cc); err != nil {
		return nil, err
	}
	out := s.engine.Timers()
	if cc.Tx != nil {
		s.mu.Lock()
		for _, tm := range s.pending[cc.Tx.ID()] {
			if !tm.State().Terminal() {
				out = append(out, tm)
			}
		}
		s.mu.Unlock()
	}
	return out, nil
}

// GetTimerByHandle resolves a handle to its timer. Timers not held in memory
// are looked up in the store, so a handle survives a restart.
func (s *TimerService) GetTimerByHandle(ctx context.Context, cc CallContext, h timer.Handle) (*timer.Timer, error) {
	if err := s.checkInvocation(cc); err != nil {
		return nil, err
	}
	if h.TimedObjectID != s.invoker.TimedObjectID() {
		return nil, invalidArgf("handle belongs to %s", h.TimedObjectID)
	}
	if tm, ok := s.engine.GetTimer(h.ID); ok {
		return tm, nil
	}
	if cc.Tx != nil {
		s.mu.Lock()
		tm, ok := s.pending[cc.Tx.ID()][h.ID]
		s.mu.Unlock()
		if ok {
			return tm, nil
		}
	}
	rec, err := s.store.GetTimer(ctx, h.TimedObjectID, h.ID)
	if err != nil {
		return nil, err
	}
	return rec.Restore()
}

// CancelTimer cancels a timer. Inside a transaction the timer stops firing
// right away, but the cancellation only sticks on commit; a rollback re-arms
// it.
func (s *TimerService) CancelTimer(cc CallContext, tm *timer.Timer) error {
	if err := s.checkInvocation(cc); err != nil {
		return err
	}
	if _, err := tm.Handle(); err != nil {
		// already canceled or expired
		return err
	}

	if cc.Tx != nil && s.isPending(cc.Tx.ID(), tm.ID()) {
		// created in this very transaction; the creation synchronization
		// cleans up at completion
		return tm.SetState(timer.StateCanceled)
	}
	if cc.Tx == nil {
		return s.engine.CancelTimer(tm)
	}

	s.engine.Deschedule(tm.ID())

	if tm.Persistent() {
		// the removal is a critical write and happens now; a rollback puts
		// the row back
		s.markOwnWrite(tm.ID())
		rec, err := store.RecordOf(tm)
		if err == nil {
			rec.State = timer.StateCanceled
			err = s.store.PersistTimer(context.Background(), rec)
		}
		s.clearOwnWrite(tm.ID())
		if err != nil {
			cc.Tx.SetRollbackOnly()
			s.engine.Reschedule(tm.ID())
			return fmt.Errorf("remove canceled timer: %w", err)
		}
	}

	txID := cc.Tx.ID()
	return cc.Tx.RegisterSynchronization(func(committed bool) {
		if committed {
			if err := s.engine.CancelTimer(tm); err != nil {
				s.logger.Error("failed to cancel timer on commit",
					tag.TimerID(tm.ID()), tag.TransactionID(txID), tag.Error(err))
			}
			return
		}
		if tm.Persistent() {
			if rec, err := store.RecordOf(tm); err == nil {
				if err := s.store.AddTimer(context.Background(), rec); err != nil {
					s.logger.Error("failed to restore timer row after rollback",
						tag.TimerID(tm.ID()), tag.TransactionID(txID), tag.Error(err))
				}
			}
		}
		s.engine.Reschedule(tm.ID())
	})
}

// Suspend drops scheduled expirations without changing timer state, e.g.
// while the timed object is being undeployed.
func (s *TimerService) Suspend() {
	s.engine.Suspend()
}

// Close shuts the service down. Running callbacks finish first.
func (s *TimerService) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.unsubscribe()
	s.engine.Close()
}

func (s *TimerService) checkInvocation(cc CallContext) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrServiceClosed
	}
	if cc.InLifecycleCallback && !cc.Singleton {
		return &IllegalCallError{Msg: "timer service is not available in this lifecycle callback"}
	}
	return nil
}

func (s *TimerService) createTimer(
	ctx context.Context, cc CallContext, b timer.Builder, tc TimerConfig,
) (*timer.Timer, error) {
	b.ID = uuid.MustNewUUID().String()
	b.TimedObjectID = s.invoker.TimedObjectID()
	b.Info = tc.Info
	b.Persistent = tc.Persistent
	b.PrimaryKey = cc.PrimaryKey

	tm, err := b.Build()
	if err != nil {
		return nil, invalidArgf("%v", err)
	}

	// the change listener must not react to our own insert
	s.markOwnWrite(tm.ID())
	defer s.clearOwnWrite(tm.ID())

	// immediate creates are stored already active; transactional ones stay
	// CREATED until the commit synchronization activates them
	if cc.Tx == nil {
		if err := tm.SetState(timer.StateActive); err != nil {
			return nil, err
		}
	}

	if tm.Persistent() {
		rec, err := store.RecordOf(tm)
		if err == nil {
			err = s.store.AddTimer(ctx, rec)
		}
		if err != nil {
			// the caller's transaction must not commit with the timer unsaved
			if cc.Tx != nil {
				cc.Tx.SetRollbackOnly()
			}
			return nil, fmt.Errorf("persist new timer: %w", err)
		}
	}

	if cc.Tx == nil {
		if err := s.engine.StartTimer(tm); err != nil {
			return nil, err
		}
		s.logTimerCreated(tm)
		return tm, nil
	}

	txID := cc.Tx.ID()
	s.mu.Lock()
	if s.pending[txID] == nil {
		s.pending[txID] = map[string]*timer.Timer{}
	}
	s.pending[txID][tm.ID()] = tm
	s.mu.Unlock()

	err = cc.Tx.RegisterSynchronization(func(committed bool) {
		s.completeCreation(txID, tm, committed)
	})
	if err != nil {
		s.completeCreation(txID, tm, false)
		return nil, err
	}
	s.logTimerCreated(tm)
	return tm, nil
}

// completeCreation is the after-completion half of a transactional create:
// activate on commit, discard on rollback (or when the timer was canceled
// within the same transaction).
func (s *TimerService) completeCreation(txID string, tm *timer.Timer, committed bool) {
	s.mu.Lock()
	delete(s.pending[txID], tm.ID())
	if len(s.pending[txID]) == 0 {
		delete(s.pending, txID)
	}
	s.mu.Unlock()

	if committed && !tm.State().Terminal() {
		if err := s.engine.StartTimer(tm); err != nil {
			s.logger.Error("failed to activate committed timer",
				tag.TimerID(tm.ID()), tag.TransactionID(txID), tag.Error(err))
			return
		}
		// the stored row still says CREATED
		s.engine.Persister().PersistDeferred(tm)
		return
	}

	_ = tm.SetState(timer.StateCanceled)
	if tm.Persistent() {
		if err := s.store.RemoveTimer(context.Background(), tm.TimedObjectID(), tm.ID()); err != nil {
			s.logger.Error("failed to remove rolled back timer",
				tag.TimerID(tm.ID()), tag.TransactionID(txID), tag.Error(err))
		}
	}
}

func (s *TimerService) isPending(txID, timerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[txID][timerID]
	return ok
}

func (s *TimerService) markOwnWrite(id string) {
	s.mu.Lock()
	s.ownWrites[id] = struct{}{}
	s.mu.Unlock()
}

func (s *TimerService) clearOwnWrite(id string) {
	s.mu.Lock()
	delete(s.ownWrites, id)
	s.mu.Unlock()
}

func (s *TimerService) logTimerCreated(tm *timer.Timer) {
	fields := []tag.Tag{tag.TimerID(tm.ID()), tag.Persistent(tm.Persistent())}
	if next, ok := tm.NextExpiration(); ok {
		fields = append(fields, tag.NextExpiration(next))
	}
	if tm.Interval() > 0 {
		fields = append(fields, tag.Interval(tm.Interval()))
	}
	if cal := tm.Calendar(); cal != nil {
		fields = append(fields, tag.Schedule(cal.Expression().String()))
	}
	s.logger.Info("timer created", fields...)
}

func validExpiration(at time.Time) error {
	if at.IsZero() || at.Unix() < 0 {
		return invalidArgf("expiration %v is not a valid point in time", at)
	}
	return nil
}
