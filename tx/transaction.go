// Copyright (c) 2026 Timekeep Organization
// SPDX-License-Identifier: Apache-2.0

// Package tx provides a minimal in-process transaction on which timer
// creation and cancellation can be deferred: side effects registered as
// synchronizations run only once the transaction's outcome is known.
package tx

import (
	"errors"
	"fmt"
	"sync"

	"github.com/timekeep-io/timekeep/common/uuid"
)

type Status int

const (
	StatusActive Status = iota
	StatusCommitted
	StatusRolledBack
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "ACTIVE"
	case StatusCommitted:
		return "COMMITTED"
	case StatusRolledBack:
		return "ROLLED_BACK"
	}
	return "UNKNOWN"
}

// ErrRollbackOnly is returned by Commit when the transaction was marked
// rollback-only; the transaction rolls back instead.
var ErrRollbackOnly = errors.New("transaction marked rollback-only")

// ErrCompleted is returned when operating on a finished transaction.
var ErrCompleted = errors.New("transaction already completed")

// Transaction tracks an outcome and a list of after-completion hooks.
// Completion runs each hook exactly once, in registration order.
type Transaction struct {
	id string

	mu           sync.Mutex
	status       Status
	rollbackOnly bool
	syncs        []func(committed bool)
}

func Begin() *Transaction {
	return &Transaction{id: uuid.MustNewUUID().String()}
}

func (t *Transaction) ID() string { return t.id }

func (t *Transaction) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// RegisterSynchronization adds an after-completion hook. The hook receives
// whether the transaction committed.
func (t *Transaction) RegisterSynchronization(fn func(committed bool)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != StatusActive {
		return fmt.Errorf("%w: %s", ErrCompleted, t.id)
	}
	t.syncs = append(t.syncs, fn)
	return nil
}

// SetRollbackOnly dooms the transaction: a later Commit will roll back.
func (t *Transaction) SetRollbackOnly() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollbackOnly = true
}

func (t *Transaction) RollbackOnly() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rollbackOnly
}

// Commit completes the transaction. When marked rollback-only it rolls back
// and returns ErrRollbackOnly.
func (t *Transaction) Commit() error {
	t.mu.Lock()
	if t.status != StatusActive {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrCompleted, t.id)
	}
	committed := !t.rollbackOnly
	if committed {
		t.status = StatusCommitted
	} else {
		t.status = StatusRolledBack
	}
	syncs := t.syncs
	t.syncs = nil
	t.mu.Unlock()

	for _, fn := range syncs {
		fn(committed)
	}
	if !committed {
		return ErrRollbackOnly
	}
	return nil
}

// Rollback completes the transaction without applying its effects.
func (t *Transaction) Rollback() error {
	t.mu.Lock()
	if t.status != StatusActive {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrCompleted, t.id)
	}
	t.status = StatusRolledBack
	syncs := t.syncs
	t.syncs = nil
	t.mu.Unlock()

	for _, fn := range syncs {
		fn(false)
	}
	return nil
}
