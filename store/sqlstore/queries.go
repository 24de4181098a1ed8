// Copyright (c) 2026 Timekeep Organization
// SPDX-License-Identifier: Apache-2.0

package sqlstore

// Queries are written with ? bindvars and rebound per driver, so the same
// statements serve postgres and sqlite.
const (
	createTableQuery = `CREATE TABLE IF NOT EXISTS timekeep_timers (
	timed_object_id    TEXT NOT NULL,
	id                 TEXT NOT NULL,
	state              TEXT NOT NULL,
	initial_expiration BIGINT NOT NULL,
	interval_nanos     BIGINT NOT NULL,
	next_expiration    BIGINT,
	previous_run       BIGINT,
	info               TEXT,
	primary_key        TEXT,
	schedule_second    TEXT,
	schedule_minute    TEXT,
	schedule_hour      TEXT,
	schedule_day_of_month TEXT,
	schedule_day_of_week  TEXT,
	schedule_month     TEXT,
	schedule_year      TEXT,
	schedule_timezone  TEXT,
	schedule_start     BIGINT,
	schedule_end       BIGINT,
	auto_timer         BOOLEAN NOT NULL DEFAULT FALSE,
	method_name        TEXT,
	method_params      TEXT,
	PRIMARY KEY (timed_object_id, id)
)`

	insertTimerQuery = `INSERT INTO timekeep_timers
	(timed_object_id, id, state, initial_expiration, interval_nanos,
	 next_expiration, previous_run, info, primary_key,
	 schedule_second, schedule_minute, schedule_hour, schedule_day_of_month,
	 schedule_day_of_week, schedule_month, schedule_year, schedule_timezone,
	 schedule_start, schedule_end, auto_timer, method_name, method_params)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	updateTimerQuery = `UPDATE timekeep_timers
	SET state = ?, next_expiration = ?, previous_run = ?
	WHERE timed_object_id = ? AND id = ?`

	deleteTimerQuery = `DELETE FROM timekeep_timers
	WHERE timed_object_id = ? AND id = ?`

	selectTimerQuery = `SELECT * FROM timekeep_timers
	WHERE timed_object_id = ? AND id = ?`

	selectTimersQuery = `SELECT * FROM timekeep_timers
	WHERE timed_object_id = ?`

	// claimTimeoutQuery implements the should-run check: the claim succeeds
	// only while the row still carries the expected expiration and no other
	// node has moved it into timeout.
	claimTimeoutQuery = `UPDATE timekeep_timers
	SET state = ?
	WHERE timed_object_id = ? AND id = ? AND state <> ? AND next_expiration = ?`
)
