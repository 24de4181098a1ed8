// Copyright (c) 2026 Timekeep Organization
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"time"

	"github.com/timekeep-io/timekeep/common/clock"
	"github.com/timekeep-io/timekeep/common/log"
)

type (
	// TimerGate wraps a single timer behind a channel. After receiving a
	// signal, the caller re-arms it with Update for the next wakeup.
	TimerGate interface {
		// FireChan returns the signal channel of fired wakeups.
		FireChan() <-chan struct{}
		// FireAfter checks whether the current wakeup is after the given time.
		FireAfter(checkTime time.Time) bool
		// Update re-arms the gate. It returns true when the gate took the new
		// time, false when an earlier wakeup is already pending.
		Update(nextTime time.Time) bool
		// Close shuts the gate down.
		Close()
	}

	localTimerGate struct {
		// proxies the fired timer to the consumer
		fireChan  chan struct{}
		closeChan chan struct{}

		timeSource clock.TimeSource

		timer          *time.Timer
		nextWakeupTime time.Time
		logger         log.Logger
	}
)

// NewLocalTimerGate creates a gate over a golang timer.
func NewLocalTimerGate(logger log.Logger, timeSource clock.TimeSource) TimerGate {
	tg := &localTimerGate{
		timer:          time.NewTimer(0),
		nextWakeupTime: time.Time{},
		fireChan:       make(chan struct{}, 1),
		closeChan:      make(chan struct{}),
		timeSource:     timeSource,
		logger:         logger,
	}

	if !tg.timer.Stop() {
		// the timer should start stopped; drain it in case it is not
		<-tg.timer.C
	}

	go func() {
		defer close(tg.fireChan)
		defer tg.timer.Stop()
	loop:
		for {
			select {
			case <-tg.timer.C:
				select {
				case tg.fireChan <- struct{}{}:
				default:
					// the previous signal has not been consumed yet
					logger.Warn("timer gate fire channel is full when sending signal")
				}

			case <-tg.closeChan:
				break loop
			}
		}
	}()

	return tg
}

func (tg *localTimerGate) FireChan() <-chan struct{} {
	return tg.fireChan
}

func (tg *localTimerGate) FireAfter(checkTime time.Time) bool {
	return tg.nextWakeupTime.After(checkTime)
}

func (tg *localTimerGate) Update(nextTime time.Time) bool {
	// NOTE: a negative duration makes the timer fire immediately
	now := tg.timeSource.Now()

	if tg.timer.Stop() && tg.nextWakeupTime.Before(nextTime) {
		// the pending wakeup is sooner; keep it
		tg.timer.Reset(tg.nextWakeupTime.Sub(now))
		return false
	}

	tg.nextWakeupTime = nextTime
	tg.timer.Reset(nextTime.Sub(now))
	return true
}

func (tg *localTimerGate) Close() {
	close(tg.closeChan)
}
