// Copyright (c) 2026 Timekeep Organization
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"sync"
	"sync/atomic"

	"github.com/timekeep-io/timekeep/common/log"
	"github.com/timekeep-io/timekeep/common/log/tag"
)

// Executor is a bounded worker pool for timeout callbacks. Submissions are
// rejected while suspended or after Stop; queued work still drains on Stop.
type Executor struct {
	logger log.Logger

	taskCh    chan func()
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	suspended atomic.Bool
}

func NewExecutor(concurrency, bufferSize int, logger log.Logger) *Executor {
	e := &Executor{
		logger: logger,
		taskCh: make(chan func(), bufferSize),
		stopCh: make(chan struct{}),
	}
	for i := 0; i < concurrency; i++ {
		e.wg.Add(1)
		go e.workerLoop()
	}
	return e
}

// Submit hands work to the pool. It reports false when the executor is
// suspended, stopped, or the buffer is full.
func (e *Executor) Submit(f func()) bool {
	if e.suspended.Load() {
		return false
	}
	select {
	case <-e.stopCh:
		return false
	default:
	}
	select {
	case e.taskCh <- f:
		return true
	default:
		e.logger.Warn("executor buffer is full, rejecting task")
		return false
	}
}

// Suspend closes the admission gate; running callbacks finish normally.
func (e *Executor) Suspend() {
	e.suspended.Store(true)
}

func (e *Executor) Resume() {
	e.suspended.Store(false)
}

func (e *Executor) Stop() {
	e.stopOnce.Do(func() {
		e.suspended.Store(true)
		close(e.stopCh)
	})
	e.wg.Wait()
}

func (e *Executor) workerLoop() {
	defer e.wg.Done()
	for {
		select {
		case f := <-e.taskCh:
			e.safeRun(f)
		case <-e.stopCh:
			// drain what was admitted before the stop
			for {
				select {
				case f := <-e.taskCh:
					e.safeRun(f)
				default:
					return
				}
			}
		}
	}
}

func (e *Executor) safeRun(f func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("timeout task panicked", tag.Value(r))
		}
	}()
	f()
}
