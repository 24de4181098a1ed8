// Copyright (c) 2026 Timekeep Organization
// SPDX-License-Identifier: Apache-2.0

package schedule

import (
	"fmt"
	"time"
)

type (
	// Expression is a calendar schedule in textual form: seven field
	// expressions plus an optional timezone and start/end bounds.
	// Each field supports wildcards ("*"), single values, names where the
	// field has them (months, weekdays), lists ("1,15,20"), ranges
	// ("mon-fri", wrap-around allowed) and increments ("0/15", "*/6").
	//
	// The zero-ish defaults produced by NewExpression fire at midnight
	// every day: second/minute/hour "0", everything else "*".
	Expression struct {
		Second     string `json:"second"`
		Minute     string `json:"minute"`
		Hour       string `json:"hour"`
		DayOfMonth string `json:"dayOfMonth"`
		DayOfWeek  string `json:"dayOfWeek"`
		Month      string `json:"month"`
		Year       string `json:"year"`

		// Timezone is an IANA zone name, e.g. "Europe/Lisbon".
		// Empty means the process-local zone.
		Timezone string `json:"timezone,omitempty"`

		// Start and End bound the validity window of the schedule.
		Start *time.Time `json:"start,omitempty"`
		End   *time.Time `json:"end,omitempty"`
	}
)

// NewExpression returns an expression with the default field values.
func NewExpression() Expression {
	return Expression{
		Second:     "0",
		Minute:     "0",
		Hour:       "0",
		DayOfMonth: "*",
		DayOfWeek:  "*",
		Month:      "*",
		Year:       "*",
	}
}

// Equal reports whether the two expressions match textually on all seven
// fields, the timezone and the start/end bounds. No normalization is done
// before comparing: "MON" and "mon" are different expressions. This is the
// equality used to match restored auto-timers against declared schedules.
func (e Expression) Equal(o Expression) bool {
	if e.Second != o.Second ||
		e.Minute != o.Minute ||
		e.Hour != o.Hour ||
		e.DayOfMonth != o.DayOfMonth ||
		e.DayOfWeek != o.DayOfWeek ||
		e.Month != o.Month ||
		e.Year != o.Year ||
		e.Timezone != o.Timezone {
		return false
	}
	return sameTime(e.Start, o.Start) && sameTime(e.End, o.End)
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func (e Expression) String() string {
	return fmt.Sprintf("second=%s minute=%s hour=%s dayOfMonth=%s dayOfWeek=%s month=%s year=%s timezone=%s",
		e.Second, e.Minute, e.Hour, e.DayOfMonth, e.DayOfWeek, e.Month, e.Year, e.Timezone)
}
