// Copyright (c) 2026 Timekeep Organization
// SPDX-License-Identifier: Apache-2.0

package sqlstore

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/timekeep-io/timekeep/common/log"
	"github.com/timekeep-io/timekeep/common/ptr"
	"github.com/timekeep-io/timekeep/schedule"
	"github.com/timekeep-io/timekeep/store"
	"github.com/timekeep-io/timekeep/timer"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	db, err := sqlx.Connect("sqlite", ":memory:")
	require.NoError(t, err)
	// the in-memory database lives per connection
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	s := NewStoreWithDB(db, log.NewDevelopmentLogger())
	require.NoError(t, s.SetupSchema(context.Background()))
	return s
}

func intervalRecord(id string) store.Record {
	next := time.Date(2026, time.March, 10, 10, 1, 0, 0, time.UTC)
	return store.Record{
		ID:                id,
		TimedObjectID:     "app/OrderBean",
		State:             timer.StateActive,
		InitialExpiration: time.Date(2026, time.March, 10, 10, 0, 0, 0, time.UTC),
		Interval:          time.Minute,
		NextExpiration:    &next,
		Info:              []byte(`{"order":42}`),
	}
}

func calendarRecord(id string) store.Record {
	next := time.Date(2026, time.March, 11, 0, 0, 0, 0, time.UTC)
	expr := schedule.NewExpression()
	expr.Timezone = "UTC"
	expr.End = ptr.Any(time.Date(2027, time.January, 1, 0, 0, 0, 0, time.UTC))
	return store.Record{
		ID:             id,
		TimedObjectID:  "app/ReportBean",
		State:          timer.StateActive,
		NextExpiration: &next,
		Schedule:       &expr,
		AutoTimer:      true,
		TimeoutMethod:  &timer.MethodRef{Name: "generateReport", Params: []string{"Timer"}},
	}
}

func TestAddAndGetTimer(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := intervalRecord("t-1")
	require.NoError(t, s.AddTimer(ctx, rec))

	got, err := s.GetTimer(ctx, rec.TimedObjectID, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.State, got.State)
	assert.Equal(t, rec.Interval, got.Interval)
	assert.True(t, rec.InitialExpiration.Equal(got.InitialExpiration))
	require.NotNil(t, got.NextExpiration)
	assert.True(t, rec.NextExpiration.Equal(*got.NextExpiration))
	assert.Nil(t, got.PreviousRun)
	assert.JSONEq(t, `{"order":42}`, string(got.Info))
	assert.Nil(t, got.Schedule)

	// duplicate ids are rejected by the primary key
	assert.Error(t, s.AddTimer(ctx, rec))
}

func TestGetTimerNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetTimer(context.Background(), "app/OrderBean", "nope")
	assert.ErrorIs(t, err, timer.ErrTimerNotFound)
}

func TestCalendarRecordRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := calendarRecord("t-cal")
	require.NoError(t, s.AddTimer(ctx, rec))

	got, err := s.GetTimer(ctx, rec.TimedObjectID, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Schedule)
	assert.True(t, rec.Schedule.Equal(*got.Schedule))
	assert.True(t, got.AutoTimer)
	require.NotNil(t, got.TimeoutMethod)
	assert.True(t, got.TimeoutMethod.Equal(*rec.TimeoutMethod))

	// and the record restores into a runnable calendar timer
	tm, err := got.Restore()
	require.NoError(t, err)
	assert.Equal(t, timer.KindCalendar, tm.Kind())
	assert.True(t, tm.AutoTimer())
}

func TestPersistTimerUpdatesSchedulingState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := intervalRecord("t-1")
	require.NoError(t, s.AddTimer(ctx, rec))

	prev := *rec.NextExpiration
	next := prev.Add(time.Minute)
	rec.State = timer.StateInTimeout
	rec.NextExpiration = &next
	rec.PreviousRun = &prev
	require.NoError(t, s.PersistTimer(ctx, rec))

	got, err := s.GetTimer(ctx, rec.TimedObjectID, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, timer.StateInTimeout, got.State)
	assert.True(t, next.Equal(*got.NextExpiration))
	assert.True(t, prev.Equal(*got.PreviousRun))
}

func TestPersistTerminalStateDeletesRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := intervalRecord("t-1")
	require.NoError(t, s.AddTimer(ctx, rec))

	rec.State = timer.StateCanceled
	require.NoError(t, s.PersistTimer(ctx, rec))

	_, err := s.GetTimer(ctx, rec.TimedObjectID, rec.ID)
	assert.ErrorIs(t, err, timer.ErrTimerNotFound)
}

func TestLoadTimersScopedByTimedObject(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddTimer(ctx, intervalRecord("t-1")))
	require.NoError(t, s.AddTimer(ctx, intervalRecord("t-2")))
	require.NoError(t, s.AddTimer(ctx, calendarRecord("t-3")))

	recs, err := s.LoadTimers(ctx, "app/OrderBean")
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	recs, err = s.LoadTimers(ctx, "app/ReportBean")
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	recs, err = s.LoadTimers(ctx, "app/Unknown")
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestShouldRunClaimsOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := intervalRecord("t-1")
	require.NoError(t, s.AddTimer(ctx, rec))

	ok, err := s.ShouldRun(ctx, rec.TimedObjectID, rec.ID, *rec.NextExpiration)
	require.NoError(t, err)
	assert.True(t, ok)

	// a second claim for the same timeout loses
	ok, err = s.ShouldRun(ctx, rec.TimedObjectID, rec.ID, *rec.NextExpiration)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestShouldRunRejectsStaleExpiration(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := intervalRecord("t-1")
	require.NoError(t, s.AddTimer(ctx, rec))

	ok, err := s.ShouldRun(ctx, rec.TimedObjectID, rec.ID, rec.NextExpiration.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.ShouldRun(ctx, rec.TimedObjectID, "missing", *rec.NextExpiration)
	require.NoError(t, err)
	assert.False(t, ok)
}

type recordingListener struct {
	added   []store.Record
	synced  []store.Record
	removed []string
}

func (l *recordingListener) TimerAdded(rec store.Record)  { l.added = append(l.added, rec) }
func (l *recordingListener) TimerSynced(rec store.Record) { l.synced = append(l.synced, rec) }
func (l *recordingListener) TimerRemoved(id string)       { l.removed = append(l.removed, id) }

func TestChangeListeners(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var l recordingListener
	unregister := s.RegisterChangeListener("app/OrderBean", &l)

	require.NoError(t, s.AddTimer(ctx, intervalRecord("t-1")))
	require.NoError(t, s.AddTimer(ctx, calendarRecord("other-scope")))
	require.NoError(t, s.PersistTimer(ctx, intervalRecord("t-1")))
	require.NoError(t, s.RemoveTimer(ctx, "app/OrderBean", "t-1"))
	// removing a missing row stays silent
	require.NoError(t, s.RemoveTimer(ctx, "app/OrderBean", "t-1"))

	require.Len(t, l.added, 1)
	assert.Equal(t, "t-1", l.added[0].ID)
	require.Len(t, l.synced, 1)
	assert.Equal(t, "t-1", l.synced[0].ID)
	assert.Equal(t, []string{"t-1"}, l.removed)

	unregister()
	require.NoError(t, s.AddTimer(ctx, intervalRecord("t-2")))
	assert.Len(t, l.added, 1)
}
