// Copyright (c) 2026 Timekeep Organization
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/timekeep-io/timekeep/schedule"
	"github.com/timekeep-io/timekeep/timer"
)

// Record is the storage shape of one persistent timer. The info payload and
// primary key travel as JSON, so they round-trip as generic JSON values.
// Calendar timers additionally carry the textual schedule expression; interval
// timers leave Schedule nil.
type Record struct {
	ID            string
	TimedObjectID string
	State         timer.State

	InitialExpiration time.Time
	Interval          time.Duration
	NextExpiration    *time.Time
	PreviousRun       *time.Time

	Info       []byte
	PrimaryKey []byte

	Schedule      *schedule.Expression
	AutoTimer     bool
	TimeoutMethod *timer.MethodRef
}

// RecordOf captures the current state of a timer as a Record.
func RecordOf(t *timer.Timer) (Record, error) {
	rec := Record{
		ID:                t.ID(),
		TimedObjectID:     t.TimedObjectID(),
		State:             t.State(),
		InitialExpiration: t.InitialExpiration(),
		Interval:          t.Interval(),
		AutoTimer:         t.AutoTimer(),
		TimeoutMethod:     t.TimeoutMethod(),
	}
	if next, ok := t.NextExpiration(); ok {
		rec.NextExpiration = &next
	}
	if prev, ok := t.PreviousRun(); ok {
		rec.PreviousRun = &prev
	}
	if info := t.Payload(); info != nil {
		data, err := json.Marshal(info)
		if err != nil {
			return Record{}, fmt.Errorf("encode timer info: %w", err)
		}
		rec.Info = data
	}
	if pk := t.PrimaryKey(); pk != nil {
		data, err := json.Marshal(pk)
		if err != nil {
			return Record{}, fmt.Errorf("encode timer primary key: %w", err)
		}
		rec.PrimaryKey = data
	}
	if cal := t.Calendar(); cal != nil {
		expr := cal.Expression()
		rec.Schedule = &expr
	}
	return rec, nil
}

// Restore rebuilds an in-memory timer from a stored record. Restored timers
// are always persistent; the caller decides which state to continue in.
func (r Record) Restore() (*timer.Timer, error) {
	b := timer.Builder{
		ID:                r.ID,
		TimedObjectID:     r.TimedObjectID,
		InitialExpiration: r.InitialExpiration,
		Interval:          r.Interval,
		Persistent:        true,
		State:             r.State,
		NextExpiration:    r.NextExpiration,
		PreviousRun:       r.PreviousRun,
		AutoTimer:         r.AutoTimer,
		TimeoutMethod:     r.TimeoutMethod,
	}
	if r.Schedule != nil {
		cal, err := schedule.NewCalendar(*r.Schedule)
		if err != nil {
			return nil, fmt.Errorf("restore timer %s: %w", r.ID, err)
		}
		b.Calendar = cal
	}
	if len(r.Info) > 0 {
		var info any
		if err := json.Unmarshal(r.Info, &info); err != nil {
			return nil, fmt.Errorf("restore timer %s: decode info: %w", r.ID, err)
		}
		b.Info = info
	}
	if len(r.PrimaryKey) > 0 {
		var pk any
		if err := json.Unmarshal(r.PrimaryKey, &pk); err != nil {
			return nil, fmt.Errorf("restore timer %s: decode primary key: %w", r.ID, err)
		}
		b.PrimaryKey = pk
	}
	return b.Build()
}
