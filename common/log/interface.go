// Copyright (c) 2026 Timekeep Organization
// SPDX-License-Identifier: Apache-2.0

package log

import (
	"github.com/timekeep-io/timekeep/common/log/tag"
)

// Logger is our abstraction for logging.
// Usage examples:
//
//	 1) logger = logger.WithTags(
//	         tag.TimedObjectID("orders.InvoiceBean"),
//	         tag.TimerID("0190f1a2-..."))
//	    logger.Info("timer scheduled")
//	 2) logger.Info("timer scheduled",
//	         tag.TimerID("0190f1a2-..."),
//	         tag.NextExpiration(t))
//
// Note: msg should be static, it is not recommended to use fmt.Sprintf() for msg.
// Anything dynamic should be tagged.
type Logger interface {
	Debug(msg string, tags ...tag.Tag)
	Info(msg string, tags ...tag.Tag)
	Warn(msg string, tags ...tag.Tag)
	Error(msg string, tags ...tag.Tag)
	Fatal(msg string, tags ...tag.Tag)
	WithTags(tags ...tag.Tag) Logger
}
