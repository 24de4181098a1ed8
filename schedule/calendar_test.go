// Copyright (c) 2026 Timekeep Organization
// SPDX-License-Identifier: Apache-2.0

package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timekeep-io/timekeep/common/ptr"
)

func utcExpression() Expression {
	expr := NewExpression()
	expr.Timezone = "UTC"
	return expr
}

func mustCalendar(t *testing.T, expr Expression) *Calendar {
	t.Helper()
	cal, err := NewCalendar(expr)
	require.NoError(t, err)
	return cal
}

func TestNextAfterDefaultsFiresAtMidnight(t *testing.T) {
	cal := mustCalendar(t, utcExpression())

	ref := time.Date(2026, time.March, 10, 15, 30, 45, 0, time.UTC)
	next, ok := cal.NextAfter(ref)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, time.March, 11, 0, 0, 0, 0, time.UTC), next)
}

func TestNextAfterIsStrictlyAfter(t *testing.T) {
	cal := mustCalendar(t, utcExpression())

	ref := time.Date(2026, time.March, 11, 0, 0, 0, 0, time.UTC)
	next, ok := cal.NextAfter(ref)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, time.March, 12, 0, 0, 0, 0, time.UTC), next)
}

func TestNextAfterSecondIncrements(t *testing.T) {
	expr := utcExpression()
	expr.Second = "0/15"
	expr.Minute = "*"
	expr.Hour = "*"
	cal := mustCalendar(t, expr)

	ref := time.Date(2026, time.March, 10, 10, 0, 7, 0, time.UTC)
	next, ok := cal.NextAfter(ref)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, time.March, 10, 10, 0, 15, 0, time.UTC), next)

	// sub-second reference truncates up
	ref = time.Date(2026, time.March, 10, 10, 0, 14, 500e6, time.UTC)
	next, ok = cal.NextAfter(ref)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, time.March, 10, 10, 0, 15, 0, time.UTC), next)
}

func TestNextAfterWeekdaysOnly(t *testing.T) {
	expr := utcExpression()
	expr.Hour = "10"
	expr.DayOfWeek = "mon-fri"
	cal := mustCalendar(t, expr)

	// 2026-03-14 is a Saturday
	ref := time.Date(2026, time.March, 14, 12, 0, 0, 0, time.UTC)
	next, ok := cal.NextAfter(ref)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, time.March, 16, 10, 0, 0, 0, time.UTC), next)
	assert.Equal(t, time.Monday, next.Weekday())
}

func TestNextAfterDayUnionRule(t *testing.T) {
	// both day-of-month and day-of-week restricted: either matching fires
	expr := utcExpression()
	expr.DayOfMonth = "15"
	expr.DayOfWeek = "fri"
	cal := mustCalendar(t, expr)

	// 2026-03-10 is a Tuesday; next friday is the 13th, before the 15th
	ref := time.Date(2026, time.March, 10, 1, 0, 0, 0, time.UTC)
	next, ok := cal.NextAfter(ref)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, time.March, 13, 0, 0, 0, 0, time.UTC), next)

	// and from the 14th, the 15th comes before the next friday
	ref = time.Date(2026, time.March, 14, 1, 0, 0, 0, time.UTC)
	next, ok = cal.NextAfter(ref)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, time.March, 15, 0, 0, 0, 0, time.UTC), next)
}

func TestNextAfterMonthAndDay(t *testing.T) {
	expr := utcExpression()
	expr.Month = "feb"
	expr.DayOfMonth = "29"
	cal := mustCalendar(t, expr)

	// next Feb 29 after 2026 is in 2028
	ref := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	next, ok := cal.NextAfter(ref)
	require.True(t, ok)
	assert.Equal(t, time.Date(2028, time.February, 29, 0, 0, 0, 0, time.UTC), next)
}

func TestNextAfterImpossibleDate(t *testing.T) {
	expr := utcExpression()
	expr.Month = "2"
	expr.DayOfMonth = "30"
	cal := mustCalendar(t, expr)

	_, ok := cal.NextAfter(time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC))
	assert.False(t, ok)
}

func TestNextAfterSpecificYearExhausts(t *testing.T) {
	expr := utcExpression()
	expr.Year = "2026"
	cal := mustCalendar(t, expr)

	next, ok := cal.NextAfter(time.Date(2026, time.December, 30, 1, 0, 0, 0, time.UTC))
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, time.December, 31, 0, 0, 0, 0, time.UTC), next)

	_, ok = cal.NextAfter(time.Date(2026, time.December, 31, 1, 0, 0, 0, time.UTC))
	assert.False(t, ok)
}

func TestNextAfterEndBound(t *testing.T) {
	expr := utcExpression()
	expr.End = ptr.Any(time.Date(2026, time.March, 12, 0, 0, 0, 0, time.UTC))
	cal := mustCalendar(t, expr)

	next, ok := cal.NextAfter(time.Date(2026, time.March, 11, 1, 0, 0, 0, time.UTC))
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, time.March, 12, 0, 0, 0, 0, time.UTC), next)

	_, ok = cal.NextAfter(time.Date(2026, time.March, 12, 1, 0, 0, 0, time.UTC))
	assert.False(t, ok)
}

func TestNextAfterStartBound(t *testing.T) {
	expr := utcExpression()
	expr.Start = ptr.Any(time.Date(2026, time.June, 1, 0, 0, 0, 0, time.UTC))
	cal := mustCalendar(t, expr)

	// before the start bound, the first timeout is the first valid instant
	// at or after start
	next, ok := cal.NextAfter(time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC))
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, time.June, 1, 0, 0, 0, 0, time.UTC), next)
}

func TestFirstTimeout(t *testing.T) {
	expr := utcExpression()
	expr.Start = ptr.Any(time.Date(2026, time.June, 1, 12, 30, 0, 0, time.UTC))
	cal := mustCalendar(t, expr)

	first, ok := cal.FirstTimeout(time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC))
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, time.June, 2, 0, 0, 0, 0, time.UTC), first)
}

func TestNewCalendarRejectsBadInput(t *testing.T) {
	expr := utcExpression()
	expr.Second = "61"
	_, err := NewCalendar(expr)
	assert.Error(t, err)

	expr = utcExpression()
	expr.Timezone = "Mars/Olympus_Mons"
	_, err = NewCalendar(expr)
	assert.Error(t, err)
}

func TestNextAfterTimezone(t *testing.T) {
	expr := utcExpression()
	expr.Timezone = "America/New_York"
	cal := mustCalendar(t, expr)

	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	ref := time.Date(2026, time.March, 10, 15, 0, 0, 0, time.UTC)
	next, ok := cal.NextAfter(ref)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, time.March, 11, 0, 0, 0, 0, loc), next)
}

func TestExpressionEquality(t *testing.T) {
	a := utcExpression()
	b := utcExpression()

	// reflexive and symmetric
	assert.True(t, a.Equal(a))
	assert.True(t, a.Equal(b))
	assert.True(t, b.Equal(a))

	// transitive
	c := utcExpression()
	assert.True(t, b.Equal(c))
	assert.True(t, a.Equal(c))

	// strictly textual: no normalization of equivalent spellings
	b.DayOfWeek = "MON"
	c = b
	c.DayOfWeek = "mon"
	assert.False(t, b.Equal(c))

	b = utcExpression()
	b.End = ptr.Any(time.Date(2026, time.March, 12, 0, 0, 0, 0, time.UTC))
	assert.False(t, a.Equal(b))
}

func TestNextIntervalExpiration(t *testing.T) {
	base := time.Date(2026, time.March, 10, 10, 0, 0, 0, time.UTC)
	interval := time.Second

	// not yet overdue: simple advance
	next := NextIntervalExpiration(base, interval, base.Add(500*time.Millisecond))
	assert.Equal(t, base.Add(interval), next)

	// overdue: skip forward by whole multiples, staying on the grid
	now := base.Add(3500 * time.Millisecond)
	next = NextIntervalExpiration(base, interval, now)
	assert.Equal(t, base.Add(4*time.Second), next)
	assert.False(t, next.Before(now))
	assert.Zero(t, next.Sub(base)%interval)
}

func TestNextIntervalExpirationNeverBehindNow(t *testing.T) {
	base := time.Date(2026, time.March, 10, 10, 0, 0, 0, time.UTC)
	for _, lateness := range []time.Duration{
		0, time.Millisecond, 999 * time.Millisecond, 5 * time.Second, time.Hour,
	} {
		now := base.Add(lateness)
		next := NextIntervalExpiration(base, 250*time.Millisecond, now)
		assert.False(t, next.Before(now), "lateness %v", lateness)
		assert.Zero(t, next.Sub(base)%(250*time.Millisecond))
	}
}
