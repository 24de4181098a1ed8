// Copyright (c) 2026 Timekeep Organization
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"time"

	"github.com/timekeep-io/timekeep/common/clock"
	"github.com/timekeep-io/timekeep/common/log"
	"github.com/timekeep-io/timekeep/common/log/tag"
	"github.com/timekeep-io/timekeep/store"
	"github.com/timekeep-io/timekeep/timer"
)

// fallbackRetryDelay spaces persistence retries of timers that have no
// further expiration to derive a retry window from; it also sizes the
// synthesized window for them.
const fallbackRetryDelay = 5 * time.Second

// Persister writes timer state to the store. Persist is the synchronous path
// for operations inside a caller's transaction; PersistDeferred is the fire
// path variant that retries in the background instead of failing the timeout.
type Persister struct {
	logger     log.Logger
	timeSource clock.TimeSource
	store      store.Store
	scheduler  *Scheduler
	executor   *Executor
	maxRetries int
}

func NewPersister(
	st store.Store,
	scheduler *Scheduler,
	executor *Executor,
	maxRetries int,
	logger log.Logger,
	timeSource clock.TimeSource,
) *Persister {
	return &Persister{
		logger:     logger,
		timeSource: timeSource,
		store:      st,
		scheduler:  scheduler,
		executor:   executor,
		maxRetries: maxRetries,
	}
}

// Persist writes the timer's current state once, synchronously.
// Non-persistent timers are a no-op.
func (p *Persister) Persist(ctx context.Context, tm *timer.Timer) error {
	if !tm.Persistent() {
		return nil
	}
	rec, err := store.RecordOf(tm)
	if err != nil {
		return err
	}
	return p.store.PersistTimer(ctx, rec)
}

// PersistDeferred writes the timer's state, retrying in the background on
// failure. The retry delay is a fixed fraction of the time left until the
// next expiration: once that expiration passes, the stored state is stale
// anyway and retrying stops. The deadline is the only bound; maxRetries
// sizes the delay, it does not cap the attempts.
func (p *Persister) PersistDeferred(tm *timer.Timer) {
	if !tm.Persistent() {
		return
	}
	err := p.Persist(context.Background(), tm)
	if err == nil {
		return
	}
	p.logger.Warn("failed to persist timer, retrying in background",
		tag.TimerID(tm.ID()), tag.Error(err))

	now := p.timeSource.Now()
	delay := fallbackRetryDelay
	deadline := now.Add(fallbackRetryDelay * time.Duration(1+p.maxRetries))
	if next, ok := tm.NextExpiration(); ok {
		remaining := next.Sub(now)
		if remaining <= 0 {
			p.logger.Warn("giving up persisting timer, next expiration already passed",
				tag.TimerID(tm.ID()), tag.NextExpiration(next))
			return
		}
		delay = remaining / time.Duration(1+p.maxRetries)
		deadline = next
	}
	p.scheduleRetry(tm, 1, delay, deadline)
}

func (p *Persister) scheduleRetry(tm *timer.Timer, attempt int, delay time.Duration, deadline time.Time) {
	fireAt := p.timeSource.Now().Add(delay)
	p.scheduler.Schedule(fireAt, func() {
		submitted := p.executor.Submit(func() {
			p.retry(tm, attempt, delay, deadline)
		})
		if !submitted {
			p.logger.Warn("dropping timer persistence retry, executor unavailable",
				tag.TimerID(tm.ID()))
		}
	})
}

func (p *Persister) retry(tm *timer.Timer, attempt int, delay time.Duration, deadline time.Time) {
	if !p.timeSource.Now().Before(deadline) {
		p.logger.Warn("giving up persisting timer, retry budget exhausted",
			tag.TimerID(tm.ID()), tag.Attempt(attempt))
		return
	}
	err := p.Persist(context.Background(), tm)
	if err == nil {
		return
	}
	p.logger.Warn("failed to persist timer",
		tag.TimerID(tm.ID()), tag.Attempt(attempt), tag.Error(err))
	p.scheduleRetry(tm, attempt+1, delay, deadline)
}
