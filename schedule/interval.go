// Copyright (c) 2026 Timekeep Organization
// SPDX-License-Identifier: Apache-2.0

package schedule

import "time"

// NextIntervalExpiration computes the expiration following prev for a
// plain-interval timer. When prev+interval is already in the past the result
// skips forward by whole multiples of the interval:
//
//	next = prev + interval * (floor((now-prev)/interval) + 1)
//
// so the returned instant stays on the original grid and is never behind now.
func NextIntervalExpiration(prev time.Time, interval time.Duration, now time.Time) time.Time {
	next := prev.Add(interval)
	if !next.Before(now) {
		return next
	}
	skips := now.Sub(prev)/interval + 1
	return prev.Add(time.Duration(skips) * interval)
}
