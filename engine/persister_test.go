// Copyright (c) 2026 Timekeep Organization
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timekeep-io/timekeep/common/clock"
	"github.com/timekeep-io/timekeep/common/log"
	"github.com/timekeep-io/timekeep/common/ptr"
	"github.com/timekeep-io/timekeep/store"
	"github.com/timekeep-io/timekeep/store/memorystore"
	"github.com/timekeep-io/timekeep/timer"
)

// flakyStore fails the first n PersistTimer calls, then delegates.
type flakyStore struct {
	store.Store

	mu       sync.Mutex
	failures int
	attempts int
}

func (s *flakyStore) PersistTimer(ctx context.Context, rec store.Record) error {
	s.mu.Lock()
	s.attempts++
	fail := s.failures > 0
	if fail {
		s.failures--
	}
	s.mu.Unlock()
	if fail {
		return errors.New("database unavailable")
	}
	return s.Store.PersistTimer(ctx, rec)
}

func (s *flakyStore) attemptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func newTestPersister(t *testing.T, st store.Store, maxRetries int) *Persister {
	t.Helper()
	logger := log.NewDevelopmentLogger()
	timeSource := clock.NewRealTimeSource()
	scheduler := NewScheduler(logger, timeSource)
	executor := NewExecutor(2, 10, logger)
	t.Cleanup(func() {
		scheduler.Stop()
		executor.Stop()
	})
	return NewPersister(st, scheduler, executor, maxRetries, logger, timeSource)
}

func persistedTimer(t *testing.T, st store.Store, next time.Time) *timer.Timer {
	t.Helper()
	tm, err := timer.Builder{
		ID:                "t-1",
		TimedObjectID:     "app/OrderBean",
		InitialExpiration: time.Now(),
		Interval:          time.Minute,
		Persistent:        true,
		NextExpiration:    ptr.Any(next),
	}.Build()
	require.NoError(t, err)

	rec, err := store.RecordOf(tm)
	require.NoError(t, err)
	require.NoError(t, st.AddTimer(context.Background(), rec))
	return tm
}

func TestPersistSkipsNonPersistentTimer(t *testing.T) {
	st := &flakyStore{Store: memorystore.NewStore(), failures: 100}
	p := newTestPersister(t, st, 3)

	tm, err := timer.Builder{
		ID:                "t-np",
		TimedObjectID:     "app/OrderBean",
		InitialExpiration: time.Now(),
	}.Build()
	require.NoError(t, err)

	require.NoError(t, p.Persist(context.Background(), tm))
	p.PersistDeferred(tm)
	assert.Zero(t, st.attemptCount())
}

func TestPersistDeferredRetriesUntilSuccess(t *testing.T) {
	st := &flakyStore{Store: memorystore.NewStore(), failures: 2}
	p := newTestPersister(t, st, 4)

	tm := persistedTimer(t, st, time.Now().Add(2*time.Second))
	require.NoError(t, tm.SetState(timer.StateActive))

	p.PersistDeferred(tm)

	require.Eventually(t, func() bool {
		rec, err := st.GetTimer(context.Background(), tm.TimedObjectID(), tm.ID())
		return err == nil && rec.State == timer.StateActive
	}, 5*time.Second, 20*time.Millisecond)
	assert.GreaterOrEqual(t, st.attemptCount(), 3)
}

func TestRetryingContinuesPastConfiguredCount(t *testing.T) {
	st := &flakyStore{Store: memorystore.NewStore(), failures: 4}
	p := newTestPersister(t, st, 1)

	tm := persistedTimer(t, st, time.Now().Add(10*time.Second))
	require.NoError(t, tm.SetState(timer.StateActive))

	// the attempt count is already past maxRetries; only the deadline may
	// end the retrying
	p.scheduleRetry(tm, 5, 20*time.Millisecond, time.Now().Add(5*time.Second))

	require.Eventually(t, func() bool {
		rec, err := st.GetTimer(context.Background(), tm.TimedObjectID(), tm.ID())
		return err == nil && rec.State == timer.StateActive
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 5, st.attemptCount())
}

func TestPersistDeferredGivesUpAfterExpiration(t *testing.T) {
	st := &flakyStore{Store: memorystore.NewStore(), failures: 100}
	p := newTestPersister(t, st, 3)

	tm := persistedTimer(t, st, time.Now().Add(-time.Second))
	require.NoError(t, tm.SetState(timer.StateActive))

	p.PersistDeferred(tm)
	time.Sleep(200 * time.Millisecond)

	// only the initial attempt: the expiration already passed
	assert.Equal(t, 1, st.attemptCount())
}
