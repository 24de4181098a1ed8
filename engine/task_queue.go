// Copyright (c) 2026 Timekeep Organization
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"container/heap"
	"sync/atomic"
	"time"
)

// Task is a scheduled unit of work. Cancel only marks it; the dispatch loop
// drops canceled tasks when they surface.
type Task struct {
	fireAt   time.Time
	run      func()
	canceled atomic.Bool
}

func (t *Task) Cancel() {
	t.canceled.Store(true)
}

func (t *Task) Canceled() bool {
	return t.canceled.Load()
}

func newTaskQueue() taskQueue {
	q := make(taskQueue, 0)
	heap.Init(&q)
	return q
}

// A taskQueue implements heap.Interface ordered by fire time.
// This is the standard way of using heap in Golang,
// see https://pkg.go.dev/container/heap for details.
type taskQueue []*Task

func (q *taskQueue) Len() int { return len(*q) }

func (q *taskQueue) Less(i, j int) bool {
	return (*q)[i].fireAt.Before((*q)[j].fireAt)
}

func (q *taskQueue) Swap(i, j int) {
	(*q)[i], (*q)[j] = (*q)[j], (*q)[i]
}

func (q *taskQueue) Push(x any) {
	item, ok := x.(*Task)
	if !ok {
		panic("pushed item is not a Task")
	}
	*q = append(*q, item)
}

func (q *taskQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // avoid memory leak
	*q = old[0 : n-1]
	return item
}
