// Copyright (c) 2026 Timekeep Organization
// SPDX-License-Identifier: Apache-2.0

// Package memorystore keeps timer records in process memory. It backs
// non-persistent deployments and tests; records do not survive a restart.
package memorystore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/timekeep-io/timekeep/store"
	"github.com/timekeep-io/timekeep/timer"
)

type memoryStore struct {
	mu      sync.RWMutex
	records map[string]map[string]store.Record // timedObjectID -> id -> record

	listeners *store.ListenerHub
}

// NewStore returns an empty in-memory store.
func NewStore() store.Store {
	return &memoryStore{
		records:   map[string]map[string]store.Record{},
		listeners: store.NewListenerHub(),
	}
}

func (s *memoryStore) AddTimer(_ context.Context, rec store.Record) error {
	s.mu.Lock()
	if s.records[rec.TimedObjectID] == nil {
		s.records[rec.TimedObjectID] = map[string]store.Record{}
	}
	if _, ok := s.records[rec.TimedObjectID][rec.ID]; ok {
		s.mu.Unlock()
		return fmt.Errorf("timer %s already exists for %s", rec.ID, rec.TimedObjectID)
	}
	s.records[rec.TimedObjectID][rec.ID] = rec
	s.mu.Unlock()

	s.listeners.NotifyAdded(rec)
	return nil
}

func (s *memoryStore) PersistTimer(ctx context.Context, rec store.Record) error {
	if rec.State.Terminal() {
		return s.RemoveTimer(ctx, rec.TimedObjectID, rec.ID)
	}

	s.mu.Lock()
	if s.records[rec.TimedObjectID] == nil {
		s.records[rec.TimedObjectID] = map[string]store.Record{}
	}
	s.records[rec.TimedObjectID][rec.ID] = rec
	s.mu.Unlock()

	s.listeners.NotifySynced(rec)
	return nil
}

func (s *memoryStore) RemoveTimer(_ context.Context, timedObjectID, id string) error {
	s.mu.Lock()
	_, existed := s.records[timedObjectID][id]
	delete(s.records[timedObjectID], id)
	s.mu.Unlock()

	if existed {
		s.listeners.NotifyRemoved(timedObjectID, id)
	}
	return nil
}

func (s *memoryStore) GetTimer(_ context.Context, timedObjectID, id string) (store.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[timedObjectID][id]
	if !ok {
		return store.Record{}, timer.ErrTimerNotFound
	}
	return rec, nil
}

func (s *memoryStore) LoadTimers(_ context.Context, timedObjectID string) ([]store.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := make([]store.Record, 0, len(s.records[timedObjectID]))
	for _, rec := range s.records[timedObjectID] {
		recs = append(recs, rec)
	}
	return recs, nil
}

func (s *memoryStore) ShouldRun(_ context.Context, timedObjectID, id string, scheduledFor time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[timedObjectID][id]
	if !ok {
		return false, nil
	}
	if rec.State == timer.StateInTimeout {
		return false, nil
	}
	if rec.NextExpiration == nil || !rec.NextExpiration.Equal(scheduledFor) {
		return false, nil
	}
	rec.State = timer.StateInTimeout
	s.records[timedObjectID][id] = rec
	return true, nil
}

func (s *memoryStore) RegisterChangeListener(timedObjectID string, l store.ChangeListener) func() {
	return s.listeners.Register(timedObjectID, l)
}

func (s *memoryStore) Close() error {
	return nil
}
