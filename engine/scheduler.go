// Copyright (c) 2026 Timekeep Organization
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"container/heap"
	"sync"
	"time"

	"github.com/timekeep-io/timekeep/common/clock"
	"github.com/timekeep-io/timekeep/common/log"
	"github.com/timekeep-io/timekeep/common/log/tag"
)

// Scheduler runs due tasks off a single dispatch goroutine. The heap holds
// pending tasks and the timer gate wakes the loop for the earliest one.
// Task funcs must be quick; anything slow belongs on the Executor.
type Scheduler struct {
	logger     log.Logger
	timeSource clock.TimeSource
	gate       TimerGate

	newTaskCh chan *Task
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup

	// owned by the dispatch goroutine
	queue taskQueue
}

func NewScheduler(logger log.Logger, timeSource clock.TimeSource) *Scheduler {
	s := &Scheduler{
		logger:     logger,
		timeSource: timeSource,
		gate:       NewLocalTimerGate(logger, timeSource),
		newTaskCh:  make(chan *Task, 128),
		stopCh:     make(chan struct{}),
		queue:      newTaskQueue(),
	}
	s.wg.Add(1)
	go s.dispatchLoop()
	return s
}

// Schedule enqueues run to execute at fireAt. Scheduling on a stopped
// scheduler returns an already canceled task.
func (s *Scheduler) Schedule(fireAt time.Time, run func()) *Task {
	task := &Task{fireAt: fireAt, run: run}
	select {
	case <-s.stopCh:
		task.Cancel()
		return task
	default:
	}
	select {
	case s.newTaskCh <- task:
	case <-s.stopCh:
		task.Cancel()
	}
	return task
}

func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
}

func (s *Scheduler) dispatchLoop() {
	defer s.wg.Done()
	defer s.gate.Close()

	for {
		select {
		case task := <-s.newTaskCh:
			heap.Push(&s.queue, task)
			s.gate.Update(task.fireAt)

		case <-s.gate.FireChan():
			s.runDueTasks()

		case <-s.stopCh:
			return
		}
	}
}

func (s *Scheduler) runDueTasks() {
	now := s.timeSource.Now()
	for s.queue.Len() > 0 {
		task := s.queue[0]
		if task.Canceled() {
			heap.Pop(&s.queue)
			continue
		}
		if task.fireAt.After(now) {
			break
		}
		heap.Pop(&s.queue)
		s.safeRun(task)
	}
	if s.queue.Len() > 0 {
		s.gate.Update(s.queue[0].fireAt)
	}
}

func (s *Scheduler) safeRun(task *Task) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled task panicked", tag.Value(r))
		}
	}()
	task.run()
}
