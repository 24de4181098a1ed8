// Copyright (c) 2026 Timekeep Organization
// SPDX-License-Identifier: Apache-2.0

package timer

import (
	"fmt"
	"sync"
	"time"

	"github.com/timekeep-io/timekeep/schedule"
)

type (
	// Kind tags the timer variant.
	Kind int

	// MethodRef identifies the timeout callback method of an auto timer, by
	// name and parameter type names. It is what restoration matches against
	// the currently declared auto timers.
	MethodRef struct {
		Name   string   `json:"name"`
		Params []string `json:"params,omitempty"`
	}

	// Handle is the serializable identity of a timer: the timer id plus the
	// owning timed object. A handle can outlive the in-memory timer and be
	// resolved against the store later.
	Handle struct {
		ID            string `json:"id"`
		TimedObjectID string `json:"timedObjectId"`
	}

	// Timer is a single managed timer instance. Identity, payload and the
	// variant are immutable after construction; the scheduling state
	// (state, nextExpiration, previousRun) mutates on every fire.
	//
	// The embedded mutex only makes individual field accesses consistent.
	// Compound read-modify-write of state+nextExpiration+previousRun is
	// serialized by the engine's per-timer lock, not here.
	Timer struct {
		id            string
		timedObjectID string

		initialExpiration time.Time
		interval          time.Duration
		info              any
		persistent        bool
		primaryKey        any

		kind          Kind
		calendar      *schedule.Calendar
		autoTimer     bool
		timeoutMethod *MethodRef

		mu             sync.Mutex
		state          State
		nextExpiration *time.Time
		previousRun    *time.Time
		executing      string
	}

	// Builder assembles a Timer, either brand new (state CREATED) or
	// reconstructed from a persisted record (state carried over).
	Builder struct {
		ID                string
		TimedObjectID     string
		InitialExpiration time.Time
		Interval          time.Duration
		Info              any
		Persistent        bool
		PrimaryKey        any

		State          State
		NextExpiration *time.Time
		PreviousRun    *time.Time

		Calendar      *schedule.Calendar
		AutoTimer     bool
		TimeoutMethod *MethodRef
	}
)

const (
	KindInterval Kind = iota
	KindCalendar
)

func (m MethodRef) Equal(o MethodRef) bool {
	if m.Name != o.Name || len(m.Params) != len(o.Params) {
		return false
	}
	for i := range m.Params {
		if m.Params[i] != o.Params[i] {
			return false
		}
	}
	return true
}

func (m MethodRef) String() string {
	return fmt.Sprintf("%s(%v)", m.Name, m.Params)
}

// Build validates the builder and returns the timer.
func (b Builder) Build() (*Timer, error) {
	if b.ID == "" {
		return nil, fmt.Errorf("timer id is required")
	}
	if b.TimedObjectID == "" {
		return nil, fmt.Errorf("timed object id is required")
	}
	if b.Interval < 0 {
		return nil, fmt.Errorf("interval duration must not be negative")
	}

	kind := KindInterval
	if b.Calendar != nil {
		kind = KindCalendar
	} else {
		if b.InitialExpiration.IsZero() || b.InitialExpiration.Unix() < 0 {
			return nil, fmt.Errorf("invalid initial expiration %v", b.InitialExpiration)
		}
	}
	if b.AutoTimer {
		if kind != KindCalendar {
			return nil, fmt.Errorf("auto timers must be calendar timers")
		}
		if b.TimeoutMethod == nil {
			return nil, fmt.Errorf("auto timers require a timeout method")
		}
	}

	next := b.NextExpiration
	if next == nil && b.State == StateCreated && kind == KindInterval {
		initial := b.InitialExpiration
		next = &initial
	}

	return &Timer{
		id:                b.ID,
		timedObjectID:     b.TimedObjectID,
		initialExpiration: b.InitialExpiration,
		interval:          b.Interval,
		info:              b.Info,
		persistent:        b.Persistent,
		primaryKey:        b.PrimaryKey,
		kind:              kind,
		calendar:          b.Calendar,
		autoTimer:         b.AutoTimer,
		timeoutMethod:     b.TimeoutMethod,
		state:             b.State,
		nextExpiration:    next,
		previousRun:       b.PreviousRun,
	}, nil
}

// --- immutable identity and variant ---

func (t *Timer) ID() string                   { return t.id }
func (t *Timer) TimedObjectID() string        { return t.timedObjectID }
func (t *Timer) Kind() Kind                   { return t.kind }
func (t *Timer) Interval() time.Duration      { return t.interval }
func (t *Timer) InitialExpiration() time.Time { return t.initialExpiration }
func (t *Timer) Persistent() bool             { return t.persistent }
func (t *Timer) PrimaryKey() any              { return t.primaryKey }
func (t *Timer) Calendar() *schedule.Calendar { return t.calendar }
func (t *Timer) AutoTimer() bool              { return t.autoTimer }
func (t *Timer) TimeoutMethod() *MethodRef    { return t.timeoutMethod }

// Payload returns the caller-supplied info without a liveness check.
// Persistence and auto-timer matching use this; API callers go through Info.
func (t *Timer) Payload() any { return t.info }

// --- mutable scheduling state ---

func (t *Timer) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// SetState performs a checked state transition. A same-state set is a no-op.
func (t *Timer) SetState(to State) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == to {
		return nil
	}
	if !canTransition(t.state, to) {
		return &TransitionError{TimerID: t.id, From: t.state, To: to}
	}
	t.state = to
	return nil
}

// NextExpiration returns the next scheduled fire time; ok is false when the
// timer has no further timeouts.
func (t *Timer) NextExpiration() (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.nextExpiration == nil {
		return time.Time{}, false
	}
	return *t.nextExpiration, true
}

// SetNextExpiration records the next fire time; nil means no further timeouts.
func (t *Timer) SetNextExpiration(next *time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if next == nil {
		t.nextExpiration = nil
		return
	}
	v := *next
	t.nextExpiration = &v
}

// PreviousRun returns the time of the last fire, if any.
func (t *Timer) PreviousRun() (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.previousRun == nil {
		return time.Time{}, false
	}
	return *t.previousRun, true
}

func (t *Timer) SetPreviousRun(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.previousRun = &at
}

// Executing returns the diagnostic label of the worker currently running the
// timeout callback, empty when idle.
func (t *Timer) Executing() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.executing
}

func (t *Timer) SetExecuting(label string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.executing = label
}

// --- asserted API accessors (spec: reject terminal timers) ---

func (t *Timer) assertActive() error {
	if s := t.State(); s.Terminal() {
		return &StateError{TimerID: t.id, State: s}
	}
	return nil
}

// Handle returns the timer's handle, or a StateError for a terminal timer.
func (t *Timer) Handle() (Handle, error) {
	if err := t.assertActive(); err != nil {
		return Handle{}, err
	}
	return Handle{ID: t.id, TimedObjectID: t.timedObjectID}, nil
}

// Info returns the caller-supplied payload,
// or a StateError for a terminal timer.
func (t *Timer) Info() (any, error) {
	if err := t.assertActive(); err != nil {
		return nil, err
	}
	return t.info, nil
}

// NextTimeout returns the next fire time,
// or a StateError for a terminal timer.
func (t *Timer) NextTimeout() (time.Time, error) {
	if err := t.assertActive(); err != nil {
		return time.Time{}, err
	}
	next, ok := t.NextExpiration()
	if !ok {
		return time.Time{}, &StateError{TimerID: t.id, State: t.State()}
	}
	return next, nil
}

// Schedule returns the calendar expression of a calendar timer,
// or a StateError for a terminal timer.
func (t *Timer) Schedule() (schedule.Expression, error) {
	if err := t.assertActive(); err != nil {
		return schedule.Expression{}, err
	}
	if t.kind != KindCalendar {
		return schedule.Expression{}, fmt.Errorf("timer %s is not a calendar timer", t.id)
	}
	return t.calendar.Expression(), nil
}

// IsPersistent reports the persistence flag,
// or a StateError for a terminal timer.
func (t *Timer) IsPersistent() (bool, error) {
	if err := t.assertActive(); err != nil {
		return false, err
	}
	return t.persistent, nil
}

// IsCalendarTimer reports whether this is a calendar timer,
// or a StateError for a terminal timer.
func (t *Timer) IsCalendarTimer() (bool, error) {
	if err := t.assertActive(); err != nil {
		return false, err
	}
	return t.kind == KindCalendar, nil
}

func (t *Timer) String() string {
	return fmt.Sprintf("timer[id=%s timedObjectId=%s state=%s persistent=%v]",
		t.id, t.timedObjectID, t.State(), t.persistent)
}
