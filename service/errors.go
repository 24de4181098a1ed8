// Copyright (c) 2026 Timekeep Organization
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"errors"
	"fmt"
)

// ErrServiceClosed is returned by operations on a closed timer service.
var ErrServiceClosed = errors.New("timer service is closed")

// InvalidArgError rejects malformed creation arguments: zero or negative
// expirations, negative durations, unparsable schedule expressions.
type InvalidArgError struct {
	Msg string
}

func (e *InvalidArgError) Error() string {
	return fmt.Sprintf("invalid argument: %s", e.Msg)
}

func invalidArgf(format string, args ...any) error {
	return &InvalidArgError{Msg: fmt.Sprintf(format, args...)}
}

// IllegalCallError rejects timer operations from a caller context that must
// not use them, such as a lifecycle callback of a non-singleton component.
type IllegalCallError struct {
	Msg string
}

func (e *IllegalCallError) Error() string {
	return fmt.Sprintf("illegal timer service call: %s", e.Msg)
}
