// Copyright (c) 2026 Timekeep Organization
// SPDX-License-Identifier: Apache-2.0

package uuid

import (
	"database/sql/driver"
	"fmt"

	"github.com/gofrs/uuid"
)

// UUID is a 16-byte universally unique identifier.
// The type is a byte slice instead of [16]byte so that it is compatible
// with db drivers, and db serialization converts to bytes rather than string.
type UUID []byte

// MustNewUUID returns a new time-ordered (V7) UUID.
// Timer ids are generated with this so that id ordering roughly follows
// creation ordering in the store.
func MustNewUUID() UUID {
	newUuid, err := uuid.NewV7()
	if err != nil {
		panic(err)
	}

	return newUuid[:]
}

// ParseUUID decodes s into a UUID or returns an error.
func ParseUUID(s string) (UUID, error) {
	parsed := uuid.FromStringOrNil(s)
	if parsed == uuid.Nil {
		return nil, fmt.Errorf("invalid UUID string: %s", s)
	}

	return parsed[:], nil
}

// MustParseUUID returns a UUID parsed from the given string representation.
// It panics if the given input is malformed.
func MustParseUUID(s string) UUID {
	parsed, err := ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return parsed
}

// String returns the 36 byte hexstring representation of this uuid,
// or empty string if this uuid is nil.
func (u UUID) String() string {
	if u == nil {
		return ""
	}

	parsed := uuid.FromBytesOrNil(u)
	if parsed == uuid.Nil {
		return ""
	}

	return parsed.String()
}

// Scan implements sql.Scanner so that this type can be
// read transparently by database drivers.
func (u *UUID) Scan(src interface{}) error {
	if src == nil {
		return nil
	}
	guuid := &uuid.UUID{}
	if err := guuid.Scan(src); err != nil {
		return err
	}
	*u = (*guuid)[:]
	return nil
}

// Value implements sql.Valuer so that UUIDs can be written to databases
// transparently, as a byte slice.
func (u UUID) Value() (driver.Value, error) {
	return []byte(u), nil
}
