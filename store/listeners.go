// Copyright (c) 2026 Timekeep Organization
// SPDX-License-Identifier: Apache-2.0

package store

import "sync"

// ListenerHub fans out change events to per-timed-object subscribers. Store
// implementations embed one; events reflect local mutations only.
type ListenerHub struct {
	mu        sync.RWMutex
	nextToken int
	listeners map[string]map[int]ChangeListener
}

func NewListenerHub() *ListenerHub {
	return &ListenerHub{listeners: map[string]map[int]ChangeListener{}}
}

// Register subscribes a listener and returns its unregister func.
func (r *ListenerHub) Register(timedObjectID string, l ChangeListener) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	token := r.nextToken
	r.nextToken++
	if r.listeners[timedObjectID] == nil {
		r.listeners[timedObjectID] = map[int]ChangeListener{}
	}
	r.listeners[timedObjectID][token] = l
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.listeners[timedObjectID], token)
	}
}

func (r *ListenerHub) NotifyAdded(rec Record) {
	for _, l := range r.snapshot(rec.TimedObjectID) {
		l.TimerAdded(rec)
	}
}

func (r *ListenerHub) NotifySynced(rec Record) {
	for _, l := range r.snapshot(rec.TimedObjectID) {
		l.TimerSynced(rec)
	}
}

func (r *ListenerHub) NotifyRemoved(timedObjectID, id string) {
	for _, l := range r.snapshot(timedObjectID) {
		l.TimerRemoved(id)
	}
}

// snapshot copies the subscriber set so listeners run without the hub lock
// and may mutate the store from within the callback.
func (r *ListenerHub) snapshot(timedObjectID string) []ChangeListener {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ChangeListener, 0, len(r.listeners[timedObjectID]))
	for _, l := range r.listeners[timedObjectID] {
		out = append(out, l)
	}
	return out
}
