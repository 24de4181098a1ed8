// Copyright (c) 2026 Timekeep Organization
// SPDX-License-Identifier: Apache-2.0

// Package engine schedules timer expirations and drives timeout callbacks
// through their state transitions. One engine serves one timed object.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/timekeep-io/timekeep/common/clock"
	"github.com/timekeep-io/timekeep/common/log"
	"github.com/timekeep-io/timekeep/common/log/tag"
	"github.com/timekeep-io/timekeep/config"
	"github.com/timekeep-io/timekeep/schedule"
	"github.com/timekeep-io/timekeep/store"
	"github.com/timekeep-io/timekeep/timer"
)

// overdueCatchupDelay is the grace before firing a bumped overdue timer, so
// restoration finishes before the first callback runs.
const overdueCatchupDelay = 100 * time.Millisecond

type (
	// TimedObjectInvoker runs the timeout callback of the component owning
	// the timers. Invoke is called outside any engine lock and may block.
	TimedObjectInvoker interface {
		TimedObjectID() string
		Invoke(ctx context.Context, tm *timer.Timer) error
	}

	// Engine owns the in-memory timers of one timed object: it schedules
	// their expirations, claims and runs timeouts, and keeps the store in
	// sync along the way.
	Engine struct {
		logger     log.Logger
		timeSource clock.TimeSource
		cfg        config.TimersConfig
		store      store.Store
		invoker    TimedObjectInvoker

		scheduler *Scheduler
		executor  *Executor
		persister *Persister

		rootCtx    context.Context
		cancelRoot context.CancelFunc

		mu        sync.Mutex
		timers    map[string]*timer.Timer
		tasks     map[string]*Task
		fireLocks map[string]*sync.Mutex
		closed    bool
	}
)

func NewEngine(
	cfg config.TimersConfig,
	st store.Store,
	invoker TimedObjectInvoker,
	logger log.Logger,
	timeSource clock.TimeSource,
) *Engine {
	logger = logger.WithTags(tag.Service("timer-engine"), tag.TimedObjectID(invoker.TimedObjectID()))
	scheduler := NewScheduler(logger, timeSource)
	executor := NewExecutor(cfg.WorkerConcurrency, cfg.TaskBufferSize, logger)
	rootCtx, cancelRoot := context.WithCancel(context.Background())
	return &Engine{
		logger:     logger,
		timeSource: timeSource,
		cfg:        cfg,
		store:      st,
		invoker:    invoker,
		scheduler:  scheduler,
		executor:   executor,
		persister:  NewPersister(st, scheduler, executor, cfg.MaxPersistenceRetries, logger, timeSource),
		rootCtx:    rootCtx,
		cancelRoot: cancelRoot,
		timers:     map[string]*timer.Timer{},
		tasks:      map[string]*Task{},
		fireLocks:  map[string]*sync.Mutex{},
	}
}

// Persister exposes the engine's persister for callers that write timer
// state inside their own transaction handling.
func (e *Engine) Persister() *Persister {
	return e.persister
}

// StartTimer activates a timer and schedules its next expiration. It is the
// commit half of timer creation, and also the restoration entry point for
// timers that are already active.
func (e *Engine) StartTimer(tm *timer.Timer) error {
	if err := tm.SetState(timer.StateActive); err != nil {
		return err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.timers[tm.ID()] = tm
	e.mu.Unlock()

	e.scheduleTimeout(tm)
	return nil
}

// GetTimer returns a registered timer by id.
func (e *Engine) GetTimer(id string) (*timer.Timer, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	tm, ok := e.timers[id]
	return tm, ok
}

// Timers returns all registered non-terminal timers.
func (e *Engine) Timers() []*timer.Timer {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*timer.Timer, 0, len(e.timers))
	for _, tm := range e.timers {
		if !tm.State().Terminal() {
			out = append(out, tm)
		}
	}
	return out
}

// Deschedule cancels the pending expiration task of a timer without touching
// its state. Used while a cancellation waits for its transaction outcome.
func (e *Engine) Deschedule(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if task, ok := e.tasks[id]; ok {
		task.Cancel()
		delete(e.tasks, id)
	}
}

// Reschedule re-arms the expiration task of a registered timer, the undo of
// Deschedule after a rolled back cancellation.
func (e *Engine) Reschedule(id string) {
	tm, ok := e.GetTimer(id)
	if !ok || tm.State().Terminal() {
		return
	}
	e.scheduleTimeout(tm)
}

// CancelTimer moves a timer to CANCELED, drops its scheduled task and
// removes it from the store. The store write is the critical half of the
// cancellation: it happens synchronously, and on failure the timer stays
// armed and the error surfaces to the caller.
func (e *Engine) CancelTimer(tm *timer.Timer) error {
	id := tm.ID()
	lock := e.fireLock(id)
	lock.Lock()
	defer lock.Unlock()

	if s := tm.State(); s.Terminal() {
		if s == timer.StateCanceled {
			return nil
		}
		return &timer.TransitionError{TimerID: id, From: s, To: timer.StateCanceled}
	}

	// drop the schedule before the store write so the removal notification
	// cannot observe a still-registered timer
	e.unregister(id)

	if tm.Persistent() {
		rec, err := store.RecordOf(tm)
		if err == nil {
			rec.State = timer.StateCanceled
			err = e.store.PersistTimer(e.rootCtx, rec)
		}
		if err != nil {
			// the cancellation did not happen; put the timer back
			e.mu.Lock()
			closed := e.closed
			if !closed {
				e.timers[id] = tm
			}
			e.mu.Unlock()
			if !closed {
				e.scheduleTimeout(tm)
			}
			return fmt.Errorf("remove canceled timer %s: %w", id, err)
		}
	}

	if err := tm.SetState(timer.StateCanceled); err != nil {
		return err
	}
	e.logger.Info("timer canceled", tag.TimerID(id))
	return nil
}

// Suspend drops all scheduled expiration tasks and stops admitting new
// callback work. Timer states are untouched; a restart restores them.
func (e *Engine) Suspend() {
	e.executor.Suspend()
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, task := range e.tasks {
		task.Cancel()
		delete(e.tasks, id)
	}
}

// Close suspends the engine and stops its goroutines. In-flight callbacks
// finish; their post-processing no longer reschedules.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	e.Suspend()
	e.cancelRoot()
	e.scheduler.Stop()
	e.executor.Stop()
}

// scheduleTimeout arms the expiration task for the timer's next expiration.
// A single-action timer that is overdue past the configured threshold gets
// bumped to fire shortly after now instead of immediately at full speed.
func (e *Engine) scheduleTimeout(tm *timer.Timer) {
	next, ok := tm.NextExpiration()
	if !ok {
		// no further timeouts; close the timer out
		e.expire(tm)
		return
	}

	now := e.timeSource.Now()
	if e.isSingleAction(tm) && now.Sub(next) > e.cfg.OverdueThreshold {
		bumped := now.Add(overdueCatchupDelay)
		e.logger.Info("timer expiration is overdue, bumping",
			tag.TimerID(tm.ID()), tag.NextExpiration(next), tag.Delay(now.Sub(next)))
		tm.SetNextExpiration(&bumped)
		e.persister.PersistDeferred(tm)
		next = bumped
	}

	id := tm.ID()
	scheduledFor := next
	task := e.scheduler.Schedule(next, func() {
		submitted := e.executor.Submit(func() {
			e.fire(id, scheduledFor)
		})
		if !submitted {
			e.logger.Warn("dropping timer fire, executor unavailable", tag.TimerID(id))
		}
	})

	e.mu.Lock()
	if _, registered := e.timers[id]; !registered || e.closed {
		// canceled while the task was being built
		e.mu.Unlock()
		task.Cancel()
		return
	}
	if old, ok := e.tasks[id]; ok {
		old.Cancel()
	}
	e.tasks[id] = task
	e.mu.Unlock()
}

// fire runs one scheduled expiration of a timer. It collapses overlapping
// fires, hands cross-node coordination to the store, and performs the
// IN_TIMEOUT round trip around the callback.
func (e *Engine) fire(id string, scheduledFor time.Time) {
	lock := e.fireLock(id)
	lock.Lock()

	tm, ok := e.GetTimer(id)
	if !ok {
		// canceled between scheduling and firing; drop any leftovers
		e.unregister(id)
		lock.Unlock()
		return
	}
	state := tm.State()
	if state.Terminal() {
		e.unregister(id)
		lock.Unlock()
		return
	}
	if state == timer.StateInTimeout || state == timer.StateRetryTimeout {
		// the previous run is still going; it reschedules on completion
		e.logger.Info("skipping overlapping timeout", tag.TimerID(id), tag.TimerState(state.String()))
		lock.Unlock()
		return
	}

	if tm.Persistent() {
		shouldRun, err := e.store.ShouldRun(e.rootCtx, tm.TimedObjectID(), id, scheduledFor)
		if err != nil {
			e.logger.Error("should-run check failed, skipping this timeout",
				tag.TimerID(id), tag.Error(err))
			e.advanceWithoutRunning(tm, scheduledFor)
			lock.Unlock()
			return
		}
		if !shouldRun {
			e.logger.Info("timeout already claimed elsewhere", tag.TimerID(id),
				tag.NextExpiration(scheduledFor))
			e.advanceWithoutRunning(tm, scheduledFor)
			lock.Unlock()
			return
		}
	}

	tm.SetPreviousRun(e.timeSource.Now())
	next := e.computeNext(tm, scheduledFor)
	tm.SetNextExpiration(next)
	if err := tm.SetState(timer.StateInTimeout); err != nil {
		e.logger.Error("cannot enter timeout", tag.TimerID(id), tag.Error(err))
		lock.Unlock()
		return
	}
	e.persister.PersistDeferred(tm)
	lock.Unlock()

	// the callback runs without the fire lock; overlap is prevented by the
	// IN_TIMEOUT state check above
	err := e.invoke(tm)
	if err != nil {
		e.logger.Warn("timeout callback failed, retrying once",
			tag.TimerID(id), tag.Error(err))
		err = e.retryTimeout(tm)
	}

	e.postTimeoutProcessing(tm, err)
}

// retryTimeout performs the single synchronous retry after a failed callback.
func (e *Engine) retryTimeout(tm *timer.Timer) error {
	lock := e.fireLock(tm.ID())
	lock.Lock()
	if tm.State() != timer.StateInTimeout {
		// canceled or otherwise moved on while the callback ran
		lock.Unlock()
		return nil
	}
	if err := tm.SetState(timer.StateRetryTimeout); err != nil {
		lock.Unlock()
		return err
	}
	e.persister.PersistDeferred(tm)
	lock.Unlock()

	err := e.invoke(tm)
	if err != nil {
		e.logger.Error("timeout callback failed on retry", tag.TimerID(tm.ID()), tag.Error(err))
	}
	return err
}

// postTimeoutProcessing settles the timer after the callback (and its retry)
// completed: back to ACTIVE with the next task armed, or EXPIRED when there
// is nothing left to fire. A failed retry does not stop a repeating timer.
func (e *Engine) postTimeoutProcessing(tm *timer.Timer, callbackErr error) {
	lock := e.fireLock(tm.ID())
	lock.Lock()
	defer lock.Unlock()

	state := tm.State()
	if state.Terminal() {
		// canceled during the callback
		e.unregister(tm.ID())
		return
	}
	if state != timer.StateInTimeout && state != timer.StateRetryTimeout {
		return
	}

	if _, ok := tm.NextExpiration(); !ok {
		e.expire(tm)
		return
	}
	if err := tm.SetState(timer.StateActive); err != nil {
		e.logger.Error("cannot reactivate timer", tag.TimerID(tm.ID()), tag.Error(err))
		return
	}
	e.persister.PersistDeferred(tm)
	e.scheduleTimeout(tm)

	if callbackErr != nil {
		e.logger.Warn("timer continues despite failed timeout", tag.TimerID(tm.ID()))
	}
}

// advanceWithoutRunning moves a timer past a timeout that ran elsewhere.
// Single-action timers are done at that point.
func (e *Engine) advanceWithoutRunning(tm *timer.Timer, scheduledFor time.Time) {
	next := e.computeNext(tm, scheduledFor)
	tm.SetNextExpiration(next)
	if next == nil {
		e.expire(tm)
		return
	}
	e.scheduleTimeout(tm)
}

// computeNext yields the expiration after one scheduled at scheduledFor,
// nil when there is none. Missed repetitions are skipped, never replayed.
func (e *Engine) computeNext(tm *timer.Timer, scheduledFor time.Time) *time.Time {
	now := e.timeSource.Now()
	if cal := tm.Calendar(); cal != nil {
		ref := scheduledFor
		if now.After(ref) {
			ref = now
		}
		next, ok := cal.NextAfter(ref)
		if !ok {
			return nil
		}
		return &next
	}
	if tm.Interval() <= 0 {
		return nil
	}
	next := schedule.NextIntervalExpiration(scheduledFor, tm.Interval(), now)
	return &next
}

func (e *Engine) invoke(tm *timer.Timer) error {
	tm.SetExecuting(e.invoker.TimedObjectID())
	defer tm.SetExecuting("")
	return e.invoker.Invoke(e.rootCtx, tm)
}

func (e *Engine) expire(tm *timer.Timer) {
	if err := tm.SetState(timer.StateExpired); err != nil {
		e.logger.Error("cannot expire timer", tag.TimerID(tm.ID()), tag.Error(err))
		return
	}
	e.unregister(tm.ID())
	e.persister.PersistDeferred(tm)
	e.logger.Info("timer expired", tag.TimerID(tm.ID()))
}

func (e *Engine) isSingleAction(tm *timer.Timer) bool {
	return tm.Calendar() == nil && tm.Interval() <= 0
}

func (e *Engine) fireLock(id string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.fireLocks[id]
	if !ok {
		lock = &sync.Mutex{}
		e.fireLocks[id] = lock
	}
	return lock
}

// unregister drops a timer and its bookkeeping. Callers hold the fire lock.
func (e *Engine) unregister(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.timers, id)
	if task, ok := e.tasks[id]; ok {
		task.Cancel()
		delete(e.tasks, id)
	}
	delete(e.fireLocks, id)
}
