// Copyright (c) 2026 Timekeep Organization
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sync"
	"time"
)

type (
	// TimeSource is the seam between the engine and the wall clock.
	// The scheduler, the fire path and the persistence coordinator all take
	// their notion of "now" from here so that tests can drive time manually.
	TimeSource interface {
		Now() time.Time
	}

	// RealTimeSource delegates to time.Now
	RealTimeSource struct{}

	// ManualTimeSource is a TimeSource for unit tests, advanced explicitly.
	ManualTimeSource struct {
		sync.RWMutex
		now time.Time
	}
)

func NewRealTimeSource() *RealTimeSource {
	return &RealTimeSource{}
}

func (ts *RealTimeSource) Now() time.Time {
	return time.Now()
}

func NewManualTimeSource(now time.Time) *ManualTimeSource {
	return &ManualTimeSource{now: now}
}

func (ts *ManualTimeSource) Now() time.Time {
	ts.RLock()
	defer ts.RUnlock()
	return ts.now
}

func (ts *ManualTimeSource) Advance(d time.Duration) {
	ts.Lock()
	defer ts.Unlock()
	ts.now = ts.now.Add(d)
}

func (ts *ManualTimeSource) Set(now time.Time) {
	ts.Lock()
	defer ts.Unlock()
	ts.now = now
}
