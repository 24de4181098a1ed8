// Copyright (c) 2026 Timekeep Organization
// SPDX-License-Identifier: Apache-2.0

package schedule

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// fieldKind identifies one of the seven calendar attributes. Each kind spans
// its natural range and may have textual aliases (month and weekday names).
type fieldKind int

const (
	fieldSecond fieldKind = iota
	fieldMinute
	fieldHour
	fieldDayOfMonth
	fieldDayOfWeek
	fieldMonth
	fieldYear
)

const maxYear = 9999

func (k fieldKind) String() string {
	switch k {
	case fieldSecond:
		return "second"
	case fieldMinute:
		return "minute"
	case fieldHour:
		return "hour"
	case fieldDayOfMonth:
		return "dayOfMonth"
	case fieldDayOfWeek:
		return "dayOfWeek"
	case fieldMonth:
		return "month"
	case fieldYear:
		return "year"
	}
	return "unknown"
}

func (k fieldKind) bounds() (int, int) {
	switch k {
	case fieldSecond, fieldMinute:
		return 0, 59
	case fieldHour:
		return 0, 23
	case fieldDayOfMonth:
		return 1, 31
	case fieldDayOfWeek:
		// 7 is accepted as an alias for sunday and normalized to 0
		return 0, 6
	case fieldMonth:
		return 1, 12
	case fieldYear:
		return 1970, maxYear
	}
	return 0, 0
}

var weekdayNames = map[string]int{
	"sun": 0, "mon": 1, "tue": 2, "wed": 3, "thu": 4, "fri": 5, "sat": 6,
}

var monthNames = map[string]int{
	"jan": 1, "feb": 2, "mar": 3, "apr": 4, "may": 5, "jun": 6,
	"jul": 7, "aug": 8, "sep": 9, "oct": 10, "nov": 11, "dec": 12,
}

// field is the parsed value set of a single attribute expression.
type field struct {
	kind     fieldKind
	expr     string
	wildcard bool
	// values is sorted ascending and deduplicated; empty iff wildcard
	values []int
}

// parseField parses a single attribute expression into its value set.
func parseField(expr string, kind fieldKind) (*field, error) {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return nil, fmt.Errorf("empty %v expression", kind)
	}
	f := &field{kind: kind, expr: expr}
	if trimmed == "*" {
		f.wildcard = true
		return f, nil
	}

	set := map[int]struct{}{}
	for _, part := range strings.Split(trimmed, ",") {
		part = strings.TrimSpace(part)
		if err := f.parsePart(part, set); err != nil {
			return nil, err
		}
	}
	for v := range set {
		f.values = append(f.values, v)
	}
	sort.Ints(f.values)
	return f, nil
}

func (f *field) parsePart(part string, set map[int]struct{}) error {
	lo, hi := f.kind.bounds()
	switch {
	case strings.Contains(part, "/"):
		// increment: "start/step", start may be "*" meaning the range minimum
		pieces := strings.SplitN(part, "/", 2)
		start := lo
		if pieces[0] != "*" {
			v, err := f.parseValue(pieces[0])
			if err != nil {
				return err
			}
			start = v
		}
		step, err := strconv.Atoi(strings.TrimSpace(pieces[1]))
		if err != nil || step <= 0 {
			return fmt.Errorf("invalid %v increment %q", f.kind, part)
		}
		for v := start; v <= hi; v += step {
			set[v] = struct{}{}
		}
		return nil
	case strings.Contains(part, "-") && !isNumber(part):
		// range, possibly wrapping ("fri-mon", "50-10")
		pieces := strings.SplitN(part, "-", 2)
		from, err := f.parseValue(pieces[0])
		if err != nil {
			return err
		}
		to, err := f.parseValue(pieces[1])
		if err != nil {
			return err
		}
		if from <= to {
			for v := from; v <= to; v++ {
				set[v] = struct{}{}
			}
		} else {
			for v := from; v <= hi; v++ {
				set[v] = struct{}{}
			}
			for v := lo; v <= to; v++ {
				set[v] = struct{}{}
			}
		}
		return nil
	default:
		v, err := f.parseValue(part)
		if err != nil {
			return err
		}
		set[v] = struct{}{}
		return nil
	}
}

func (f *field) parseValue(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	lowered := strings.ToLower(raw)
	switch f.kind {
	case fieldDayOfWeek:
		if v, ok := weekdayNames[lowered]; ok {
			return v, nil
		}
	case fieldMonth:
		if v, ok := monthNames[lowered]; ok {
			return v, nil
		}
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %v value %q", f.kind, raw)
	}
	if f.kind == fieldDayOfWeek && v == 7 {
		v = 0
	}
	lo, hi := f.kind.bounds()
	if v < lo || v > hi {
		return 0, fmt.Errorf("%v value %d out of range [%d, %d]", f.kind, v, lo, hi)
	}
	return v, nil
}

func isNumber(s string) bool {
	_, err := strconv.Atoi(s)
	return err == nil
}

// matches reports whether v is in the value set.
func (f *field) matches(v int) bool {
	if f.wildcard {
		return true
	}
	i := sort.SearchInts(f.values, v)
	return i < len(f.values) && f.values[i] == v
}

// first returns the smallest value in the set
// (the range minimum for wildcards).
func (f *field) first() int {
	if f.wildcard {
		lo, _ := f.kind.bounds()
		return lo
	}
	return f.values[0]
}

// next returns the smallest set value >= v; ok is false when the set has no
// such value and the caller must wrap to the next larger unit.
func (f *field) next(v int) (int, bool) {
	if f.wildcard {
		lo, hi := f.kind.bounds()
		if v < lo {
			return lo, true
		}
		if v > hi {
			return 0, false
		}
		return v, true
	}
	i := sort.SearchInts(f.values, v)
	if i == len(f.values) {
		return 0, false
	}
	return f.values[i], true
}
