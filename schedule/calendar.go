// Copyright (c) 2026 Timekeep Organization
// SPDX-License-Identifier: Apache-2.0

package schedule

import (
	"fmt"
	"time"
)

type (
	// Calendar is the parsed, executable form of an Expression. It computes
	// the next valid instant of the schedule strictly after a reference
	// time, honoring the timezone and the start/end bounds.
	//
	// Computation steps field by field from the largest unit to the
	// smallest, the way cron implementations do: whenever a field does not
	// match, the candidate is advanced to the next possible value of that
	// field with all smaller fields reset, and matching restarts. Instants
	// that do not exist in the target zone (DST forward gaps) follow the
	// time.Date normalization of the zone.
	Calendar struct {
		expr Expression
		loc  *time.Location

		second     *field
		minute     *field
		hour       *field
		dayOfMonth *field
		dayOfWeek  *field
		month      *field
		year       *field
	}
)

// NewCalendar parses the expression. All seven fields must be present and
// well formed; an unknown timezone name is an error.
func NewCalendar(expr Expression) (*Calendar, error) {
	c := &Calendar{expr: expr}

	var err error
	if c.second, err = parseField(expr.Second, fieldSecond); err != nil {
		return nil, err
	}
	if c.minute, err = parseField(expr.Minute, fieldMinute); err != nil {
		return nil, err
	}
	if c.hour, err = parseField(expr.Hour, fieldHour); err != nil {
		return nil, err
	}
	if c.dayOfMonth, err = parseField(expr.DayOfMonth, fieldDayOfMonth); err != nil {
		return nil, err
	}
	if c.dayOfWeek, err = parseField(expr.DayOfWeek, fieldDayOfWeek); err != nil {
		return nil, err
	}
	if c.month, err = parseField(expr.Month, fieldMonth); err != nil {
		return nil, err
	}
	if c.year, err = parseField(expr.Year, fieldYear); err != nil {
		return nil, err
	}

	if expr.Timezone != "" {
		loc, err := time.LoadLocation(expr.Timezone)
		if err != nil {
			return nil, fmt.Errorf("unknown timezone %q: %w", expr.Timezone, err)
		}
		c.loc = loc
	} else {
		c.loc = time.Local
	}
	return c, nil
}

// Expression returns the expression this calendar was parsed from.
func (c *Calendar) Expression() Expression {
	return c.expr
}

// Location returns the zone the schedule evaluates in.
func (c *Calendar) Location() *time.Location {
	return c.loc
}

// FirstTimeout returns the first valid instant of the schedule: the first
// timeout at or after the start bound when one is set, otherwise the next
// timeout after now. ok is false when the schedule has no valid instant.
func (c *Calendar) FirstTimeout(now time.Time) (time.Time, bool) {
	if c.expr.Start != nil {
		return c.nextFrom(c.expr.Start.In(c.loc), true)
	}
	return c.NextAfter(now)
}

// NextAfter returns the next valid instant strictly after ref,
// or ok=false when the schedule has no further timeouts.
func (c *Calendar) NextAfter(ref time.Time) (time.Time, bool) {
	if c.expr.Start != nil && ref.Before(*c.expr.Start) {
		return c.nextFrom(c.expr.Start.In(c.loc), true)
	}
	return c.nextFrom(ref.In(c.loc), false)
}

func (c *Calendar) nextFrom(ref time.Time, inclusive bool) (time.Time, bool) {
	t := ref.Truncate(time.Second)
	if !inclusive || t.Before(ref) {
		t = t.Add(time.Second)
	}
	t = t.In(c.loc)

	// with a wildcard year, give up after a bounded horizon so an impossible
	// date expression (e.g. Feb 30) terminates
	yearLimit := maxYear
	if c.year.wildcard {
		yearLimit = ref.Year() + 100
	}

	for {
		if t.Year() > yearLimit {
			return time.Time{}, false
		}
		if c.expr.End != nil && t.After(*c.expr.End) {
			return time.Time{}, false
		}

		if !c.year.matches(t.Year()) {
			next, ok := c.year.next(t.Year() + 1)
			if !ok {
				return time.Time{}, false
			}
			t = time.Date(next, time.January, 1, 0, 0, 0, 0, c.loc)
			continue
		}
		if !c.month.matches(int(t.Month())) {
			t = time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, c.loc)
			continue
		}
		if !c.dayMatches(t) {
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, c.loc)
			continue
		}
		if !c.hour.matches(t.Hour()) {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, c.loc)
			continue
		}
		if !c.minute.matches(t.Minute()) {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute()+1, 0, 0, c.loc)
			continue
		}
		if !c.second.matches(t.Second()) {
			t = t.Add(time.Second)
			continue
		}
		return t, true
	}
}

// dayMatches applies the day-of-month/day-of-week union rule: when both
// fields are restricted, a day matching either fires; when only one is
// restricted, it alone decides.
func (c *Calendar) dayMatches(t time.Time) bool {
	domRestricted := !c.dayOfMonth.wildcard
	dowRestricted := !c.dayOfWeek.wildcard

	domOk := c.dayOfMonth.matches(t.Day())
	dowOk := c.dayOfWeek.matches(int(t.Weekday()))

	switch {
	case domRestricted && dowRestricted:
		return domOk || dowOk
	case domRestricted:
		return domOk
	case dowRestricted:
		return dowOk
	default:
		return true
	}
}
