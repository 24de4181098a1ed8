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
	"github.com/timekeep-io/timekeep/config"
	"github.com/timekeep-io/timekeep/store"
	"github.com/timekeep-io/timekeep/store/memorystore"
	"github.com/timekeep-io/timekeep/timer"
)

const waitFor = 5 * time.Second

type fakeInvoker struct {
	id    string
	block time.Duration

	mu         sync.Mutex
	calls      int
	failures   int // fail the first n invocations
	running    int
	maxOverlap int
}

func (f *fakeInvoker) TimedObjectID() string { return f.id }

func (f *fakeInvoker) Invoke(_ context.Context, _ *timer.Timer) error {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.running++
	if f.running > f.maxOverlap {
		f.maxOverlap = f.running
	}
	fail := call <= f.failures
	f.mu.Unlock()

	if f.block > 0 {
		time.Sleep(f.block)
	}

	f.mu.Lock()
	f.running--
	f.mu.Unlock()

	if fail {
		return errors.New("callback failed")
	}
	return nil
}

func (f *fakeInvoker) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestEngine(t *testing.T, inv *fakeInvoker, st store.Store) *Engine {
	t.Helper()
	if st == nil {
		st = memorystore.NewStore()
	}
	cfg := config.TimersConfig{
		WorkerConcurrency:     4,
		TaskBufferSize:        100,
		MaxPersistenceRetries: 3,
		OverdueThreshold:      5 * time.Minute,
	}
	e := NewEngine(cfg, st, inv, log.NewDevelopmentLogger(), clock.NewRealTimeSource())
	t.Cleanup(e.Close)
	return e
}

func buildTimer(t *testing.T, id string, initial time.Time, interval time.Duration, persistent bool) *timer.Timer {
	t.Helper()
	tm, err := timer.Builder{
		ID:                id,
		TimedObjectID:     "app/OrderBean",
		InitialExpiration: initial,
		Interval:          interval,
		Persistent:        persistent,
	}.Build()
	require.NoError(t, err)
	return tm
}

func TestSingleActionTimerFiresOnceAndExpires(t *testing.T) {
	inv := &fakeInvoker{id: "app/OrderBean"}
	e := newTestEngine(t, inv, nil)

	tm := buildTimer(t, "t-1", time.Now().Add(30*time.Millisecond), 0, false)
	require.NoError(t, e.StartTimer(tm))
	assert.Equal(t, timer.StateActive, tm.State())

	require.Eventually(t, func() bool {
		return tm.State() == timer.StateExpired
	}, waitFor, 10*time.Millisecond)

	assert.Equal(t, 1, inv.callCount())
	assert.Empty(t, e.Timers())
	_, ok := tm.NextExpiration()
	assert.False(t, ok)
}

func TestIntervalTimerRepeats(t *testing.T) {
	inv := &fakeInvoker{id: "app/OrderBean"}
	e := newTestEngine(t, inv, nil)

	tm := buildTimer(t, "t-1", time.Now().Add(20*time.Millisecond), 25*time.Millisecond, false)
	require.NoError(t, e.StartTimer(tm))

	require.Eventually(t, func() bool {
		return inv.callCount() >= 3
	}, waitFor, 5*time.Millisecond)

	require.NoError(t, e.CancelTimer(tm))
	assert.Equal(t, timer.StateCanceled, tm.State())
	assert.Empty(t, e.Timers())

	// no further fires after cancellation
	settled := inv.callCount()
	time.Sleep(100 * time.Millisecond)
	assert.LessOrEqual(t, inv.callCount(), settled+1)
}

func TestFailedCallbackIsRetriedOnce(t *testing.T) {
	inv := &fakeInvoker{id: "app/OrderBean", failures: 1}
	e := newTestEngine(t, inv, nil)

	tm := buildTimer(t, "t-1", time.Now().Add(20*time.Millisecond), 0, false)
	require.NoError(t, e.StartTimer(tm))

	require.Eventually(t, func() bool {
		return tm.State() == timer.StateExpired
	}, waitFor, 10*time.Millisecond)

	// the failed attempt plus its synchronous retry
	assert.Equal(t, 2, inv.callCount())
}

func TestFailedRetryDoesNotStopRepeatingTimer(t *testing.T) {
	inv := &fakeInvoker{id: "app/OrderBean", failures: 2}
	e := newTestEngine(t, inv, nil)

	tm := buildTimer(t, "t-1", time.Now().Add(20*time.Millisecond), 30*time.Millisecond, false)
	require.NoError(t, e.StartTimer(tm))

	// first fire fails twice, later fires still happen
	require.Eventually(t, func() bool {
		return inv.callCount() >= 4
	}, waitFor, 5*time.Millisecond)

	require.NoError(t, e.CancelTimer(tm))
}

func TestOverlappingFiresCollapse(t *testing.T) {
	inv := &fakeInvoker{id: "app/OrderBean", block: 80 * time.Millisecond}
	e := newTestEngine(t, inv, nil)

	tm := buildTimer(t, "t-1", time.Now().Add(10*time.Millisecond), 10*time.Millisecond, false)
	require.NoError(t, e.StartTimer(tm))

	require.Eventually(t, func() bool {
		return inv.callCount() >= 2
	}, waitFor, 5*time.Millisecond)
	require.NoError(t, e.CancelTimer(tm))

	inv.mu.Lock()
	defer inv.mu.Unlock()
	assert.Equal(t, 1, inv.maxOverlap, "fires of one timer must never overlap")
}

func TestPersistentTimerRunsWhenClaimWon(t *testing.T) {
	st := memorystore.NewStore()
	inv := &fakeInvoker{id: "app/OrderBean"}
	e := newTestEngine(t, inv, st)

	tm := buildTimer(t, "t-1", time.Now().Add(30*time.Millisecond), 0, true)
	rec, err := store.RecordOf(tm)
	require.NoError(t, err)
	require.NoError(t, st.AddTimer(context.Background(), rec))

	require.NoError(t, e.StartTimer(tm))
	require.Eventually(t, func() bool {
		return tm.State() == timer.StateExpired
	}, waitFor, 10*time.Millisecond)
	assert.Equal(t, 1, inv.callCount())

	// expiration removes the stored record
	_, err = st.GetTimer(context.Background(), tm.TimedObjectID(), tm.ID())
	assert.ErrorIs(t, err, timer.ErrTimerNotFound)
}

func TestPersistentTimerSkipsWhenClaimLost(t *testing.T) {
	st := memorystore.NewStore()
	inv := &fakeInvoker{id: "app/OrderBean"}
	e := newTestEngine(t, inv, st)

	tm := buildTimer(t, "t-1", time.Now().Add(30*time.Millisecond), 0, true)
	rec, err := store.RecordOf(tm)
	require.NoError(t, err)
	// the stored row carries a different expiration, as if another node
	// already fired and advanced this timer
	other := time.Now().Add(time.Hour)
	rec.NextExpiration = &other
	require.NoError(t, st.AddTimer(context.Background(), rec))

	require.NoError(t, e.StartTimer(tm))
	require.Eventually(t, func() bool {
		return tm.State() == timer.StateExpired
	}, waitFor, 10*time.Millisecond)

	assert.Equal(t, 0, inv.callCount(), "lost claim must not invoke the callback")
}

func TestCancelDuringCallback(t *testing.T) {
	inv := &fakeInvoker{id: "app/OrderBean", block: 100 * time.Millisecond}
	e := newTestEngine(t, inv, nil)

	tm := buildTimer(t, "t-1", time.Now().Add(10*time.Millisecond), 20*time.Millisecond, false)
	require.NoError(t, e.StartTimer(tm))

	require.Eventually(t, func() bool {
		return inv.callCount() >= 1
	}, waitFor, 5*time.Millisecond)

	// cancel while the callback sleeps
	require.NoError(t, e.CancelTimer(tm))
	assert.Equal(t, timer.StateCanceled, tm.State())

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, inv.callCount(), "canceled timer must not fire again")
}

// brokenStore rejects every scheduling-state write.
type brokenStore struct {
	store.Store
}

func (s *brokenStore) PersistTimer(context.Context, store.Record) error {
	return errors.New("database unavailable")
}

func TestCancelSurfacesPersistenceFailure(t *testing.T) {
	st := &brokenStore{Store: memorystore.NewStore()}
	inv := &fakeInvoker{id: "app/OrderBean"}
	e := newTestEngine(t, inv, st)

	tm := buildTimer(t, "t-1", time.Now().Add(time.Hour), 0, true)
	rec, err := store.RecordOf(tm)
	require.NoError(t, err)
	require.NoError(t, st.AddTimer(context.Background(), rec))
	require.NoError(t, e.StartTimer(tm))

	require.Error(t, e.CancelTimer(tm))

	// the cancellation did not happen: row intact, timer still active and armed
	_, err = st.GetTimer(context.Background(), tm.TimedObjectID(), tm.ID())
	require.NoError(t, err)
	assert.Equal(t, timer.StateActive, tm.State())
	_, ok := e.GetTimer(tm.ID())
	assert.True(t, ok)
}

func TestCancelRemovesStoredRowSynchronously(t *testing.T) {
	st := memorystore.NewStore()
	inv := &fakeInvoker{id: "app/OrderBean"}
	e := newTestEngine(t, inv, st)

	tm := buildTimer(t, "t-1", time.Now().Add(time.Hour), 0, true)
	rec, err := store.RecordOf(tm)
	require.NoError(t, err)
	require.NoError(t, st.AddTimer(context.Background(), rec))
	require.NoError(t, e.StartTimer(tm))

	require.NoError(t, e.CancelTimer(tm))

	// the row is gone by the time CancelTimer returns
	_, err = st.GetTimer(context.Background(), tm.TimedObjectID(), tm.ID())
	assert.ErrorIs(t, err, timer.ErrTimerNotFound)
	assert.Equal(t, timer.StateCanceled, tm.State())
}

func TestPreviousRunRecordsActualFireTime(t *testing.T) {
	inv := &fakeInvoker{id: "app/OrderBean"}
	e := newTestEngine(t, inv, nil)

	scheduled := time.Now().Add(20 * time.Millisecond)
	tm := buildTimer(t, "t-1", scheduled, 0, false)
	require.NoError(t, e.StartTimer(tm))

	require.Eventually(t, func() bool {
		return tm.State() == timer.StateExpired
	}, waitFor, 10*time.Millisecond)

	prev, ok := tm.PreviousRun()
	require.True(t, ok)
	assert.True(t, prev.After(scheduled), "previous run is the wall-clock fire time, not the nominal one")
}

func TestScheduleTimeoutIgnoresUnregisteredTimer(t *testing.T) {
	inv := &fakeInvoker{id: "app/OrderBean"}
	e := newTestEngine(t, inv, nil)

	tm := buildTimer(t, "t-1", time.Now().Add(time.Hour), 0, false)
	require.NoError(t, e.StartTimer(tm))
	require.NoError(t, e.CancelTimer(tm))

	// a reschedule racing the cancellation must not leave a task behind
	e.scheduleTimeout(tm)

	e.mu.Lock()
	_, hasTask := e.tasks[tm.ID()]
	e.mu.Unlock()
	assert.False(t, hasTask)
}

func TestOverdueSingleActionTimerIsBumped(t *testing.T) {
	inv := &fakeInvoker{id: "app/OrderBean"}
	e := newTestEngine(t, inv, nil)

	// expired long past the overdue threshold, as after a long outage
	tm := buildTimer(t, "t-1", time.Now().Add(-time.Hour), 0, false)
	start := time.Now()
	require.NoError(t, e.StartTimer(tm))

	next, ok := tm.NextExpiration()
	require.True(t, ok)
	assert.True(t, next.After(start.Add(-time.Second)), "expiration must be bumped near now")

	require.Eventually(t, func() bool {
		return tm.State() == timer.StateExpired
	}, waitFor, 10*time.Millisecond)
	assert.Equal(t, 1, inv.callCount())
}

func TestSuspendStopsFiring(t *testing.T) {
	inv := &fakeInvoker{id: "app/OrderBean"}
	e := newTestEngine(t, inv, nil)

	tm := buildTimer(t, "t-1", time.Now().Add(20*time.Millisecond), 20*time.Millisecond, false)
	require.NoError(t, e.StartTimer(tm))

	require.Eventually(t, func() bool {
		return inv.callCount() >= 1
	}, waitFor, 5*time.Millisecond)

	e.Suspend()
	settled := inv.callCount()
	time.Sleep(150 * time.Millisecond)
	assert.LessOrEqual(t, inv.callCount(), settled+1)
	// the timer itself is untouched, only the task is gone
	assert.NotEqual(t, timer.StateCanceled, tm.State())
}

func TestDescheduleAndReschedule(t *testing.T) {
	inv := &fakeInvoker{id: "app/OrderBean"}
	e := newTestEngine(t, inv, nil)

	tm := buildTimer(t, "t-1", time.Now().Add(40*time.Millisecond), 0, false)
	require.NoError(t, e.StartTimer(tm))
	e.Deschedule(tm.ID())

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, inv.callCount())

	e.Reschedule(tm.ID())
	require.Eventually(t, func() bool {
		return tm.State() == timer.StateExpired
	}, waitFor, 10*time.Millisecond)
	assert.Equal(t, 1, inv.callCount())
}
