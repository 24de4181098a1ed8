// Copyright (c) 2026 Timekeep Organization
// SPDX-License-Identifier: Apache-2.0

package tag

import (
	"time"

	"go.uber.org/zap"
)

const LoggingCallAtKey = "logging-call-at"

// Tag is the interface for the logging system
type Tag struct {
	// keep this field private
	field zap.Field
}

// Field returns a zap field
func (t *Tag) Field() zap.Field {
	return t.field
}

func newStringTag(key string, value string) Tag {
	return Tag{
		field: zap.String(key, value),
	}
}

func newIntTag(key string, value int) Tag {
	return Tag{
		field: zap.Int(key, value),
	}
}

func newBoolTag(key string, value bool) Tag {
	return Tag{
		field: zap.Bool(key, value),
	}
}

func newTimeTag(key string, value time.Time) Tag {
	return Tag{
		field: zap.Time(key, value),
	}
}

func newDurationTag(key string, value time.Duration) Tag {
	return Tag{
		field: zap.Duration(key, value),
	}
}

// TAGS

func Error(err error) Tag {
	// NOTE zap already chose "error" as key
	return Tag{
		field: zap.Error(err),
	}
}

func Service(sv string) Tag {
	return newStringTag("service", sv)
}

func TimerID(id string) Tag {
	return newStringTag("timerId", id)
}

func TimedObjectID(id string) Tag {
	return newStringTag("timedObjectId", id)
}

func TimerState(state string) Tag {
	return newStringTag("timerState", state)
}

func NextExpiration(t time.Time) Tag {
	return newTimeTag("nextExpiration", t)
}

func PreviousRun(t time.Time) Tag {
	return newTimeTag("previousRun", t)
}

func Delay(d time.Duration) Tag {
	return newDurationTag("delay", d)
}

func Interval(d time.Duration) Tag {
	return newDurationTag("interval", d)
}

func Attempt(n int) Tag {
	return newIntTag("attempt", n)
}

func Count(n int) Tag {
	return newIntTag("count", n)
}

func TransactionID(id string) Tag {
	return newStringTag("transactionId", id)
}

func Method(name string) Tag {
	return newStringTag("method", name)
}

func Schedule(expr string) Tag {
	return newStringTag("schedule", expr)
}

func Value(v any) Tag {
	return Tag{
		field: zap.Any("value", v),
	}
}

func Persistent(p bool) Tag {
	return newBoolTag("persistent", p)
}
