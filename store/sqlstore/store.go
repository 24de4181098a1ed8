// Copyright (c) 2026 Timekeep Organization
// SPDX-License-Identifier: Apache-2.0

// Package sqlstore persists timer records in a SQL database. It speaks both
// postgres (lib/pq) and the embedded sqlite driver through sqlx bindvar
// rebinding, and implements the cross-node should-run claim as an optimistic
// conditional update.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/timekeep-io/timekeep/common/log"
	"github.com/timekeep-io/timekeep/common/log/tag"
	"github.com/timekeep-io/timekeep/config"
	"github.com/timekeep-io/timekeep/schedule"
	"github.com/timekeep-io/timekeep/store"
	"github.com/timekeep-io/timekeep/timer"
)

// SQLStore implements store.Store on a relational database.
type SQLStore struct {
	db        *sqlx.DB
	logger    log.Logger
	listeners *store.ListenerHub
}

type timerRow struct {
	TimedObjectID     string         `db:"timed_object_id"`
	ID                string         `db:"id"`
	State             string         `db:"state"`
	InitialExpiration int64          `db:"initial_expiration"`
	IntervalNanos     int64          `db:"interval_nanos"`
	NextExpiration    sql.NullInt64  `db:"next_expiration"`
	PreviousRun       sql.NullInt64  `db:"previous_run"`
	Info              sql.NullString `db:"info"`
	PrimaryKey        sql.NullString `db:"primary_key"`

	ScheduleSecond     sql.NullString `db:"schedule_second"`
	ScheduleMinute     sql.NullString `db:"schedule_minute"`
	ScheduleHour       sql.NullString `db:"schedule_hour"`
	ScheduleDayOfMonth sql.NullString `db:"schedule_day_of_month"`
	ScheduleDayOfWeek  sql.NullString `db:"schedule_day_of_week"`
	ScheduleMonth      sql.NullString `db:"schedule_month"`
	ScheduleYear       sql.NullString `db:"schedule_year"`
	ScheduleTimezone   sql.NullString `db:"schedule_timezone"`
	ScheduleStart      sql.NullInt64  `db:"schedule_start"`
	ScheduleEnd        sql.NullInt64  `db:"schedule_end"`

	AutoTimer    bool           `db:"auto_timer"`
	MethodName   sql.NullString `db:"method_name"`
	MethodParams sql.NullString `db:"method_params"`
}

// NewStore connects to the configured database and ensures the schema exists.
func NewStore(cfg config.SQL, logger log.Logger) (*SQLStore, error) {
	db, err := sqlx.Connect(cfg.DriverName, dataSourceName(cfg))
	if err != nil {
		return nil, fmt.Errorf("connect timer database: %w", err)
	}
	s := NewStoreWithDB(db, logger)
	if err := s.SetupSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewStoreWithDB wraps an already open database handle.
func NewStoreWithDB(db *sqlx.DB, logger log.Logger) *SQLStore {
	return &SQLStore{
		db:        db,
		logger:    logger,
		listeners: store.NewListenerHub(),
	}
}

func dataSourceName(cfg config.SQL) string {
	if cfg.DriverName == "sqlite" {
		return cfg.DBName
	}
	return fmt.Sprintf("postgres://%v:%v@%v/%v?sslmode=disable",
		cfg.User, cfg.Password, cfg.ConnectAddr, cfg.DBName)
}

// SetupSchema creates the timer table when missing.
func (s *SQLStore) SetupSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createTableQuery); err != nil {
		return fmt.Errorf("create timer table: %w", err)
	}
	return nil
}

func (s *SQLStore) AddTimer(ctx context.Context, rec store.Record) error {
	row, err := rowOf(rec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.db.Rebind(insertTimerQuery),
		row.TimedObjectID, row.ID, row.State, row.InitialExpiration, row.IntervalNanos,
		row.NextExpiration, row.PreviousRun, row.Info, row.PrimaryKey,
		row.ScheduleSecond, row.ScheduleMinute, row.ScheduleHour, row.ScheduleDayOfMonth,
		row.ScheduleDayOfWeek, row.ScheduleMonth, row.ScheduleYear, row.ScheduleTimezone,
		row.ScheduleStart, row.ScheduleEnd, row.AutoTimer, row.MethodName, row.MethodParams)
	if err != nil {
		return fmt.Errorf("insert timer %s: %w", rec.ID, err)
	}

	s.listeners.NotifyAdded(rec)
	return nil
}

func (s *SQLStore) PersistTimer(ctx context.Context, rec store.Record) error {
	if rec.State.Terminal() {
		return s.RemoveTimer(ctx, rec.TimedObjectID, rec.ID)
	}

	var next, prev sql.NullInt64
	if rec.NextExpiration != nil {
		next = sql.NullInt64{Int64: rec.NextExpiration.UnixNano(), Valid: true}
	}
	if rec.PreviousRun != nil {
		prev = sql.NullInt64{Int64: rec.PreviousRun.UnixNano(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(updateTimerQuery),
		rec.State.String(), next, prev, rec.TimedObjectID, rec.ID)
	if err != nil {
		return fmt.Errorf("persist timer %s: %w", rec.ID, err)
	}

	s.listeners.NotifySynced(rec)
	return nil
}

func (s *SQLStore) RemoveTimer(ctx context.Context, timedObjectID, id string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(deleteTimerQuery), timedObjectID, id)
	if err != nil {
		return fmt.Errorf("remove timer %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		s.listeners.NotifyRemoved(timedObjectID, id)
	}
	return nil
}

func (s *SQLStore) GetTimer(ctx context.Context, timedObjectID, id string) (store.Record, error) {
	var row timerRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(selectTimerQuery), timedObjectID, id)
	if err == sql.ErrNoRows {
		return store.Record{}, timer.ErrTimerNotFound
	}
	if err != nil {
		return store.Record{}, fmt.Errorf("load timer %s: %w", id, err)
	}
	return recordOf(row)
}

func (s *SQLStore) LoadTimers(ctx context.Context, timedObjectID string) ([]store.Record, error) {
	var rows []timerRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(selectTimersQuery), timedObjectID)
	if err != nil {
		return nil, fmt.Errorf("load timers of %s: %w", timedObjectID, err)
	}
	recs := make([]store.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := recordOf(row)
		if err != nil {
			// a corrupt row must not block restoring the rest
			s.logger.Error("skipping unreadable timer record",
				tag.TimerID(row.ID), tag.TimedObjectID(timedObjectID), tag.Error(err))
			continue
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func (s *SQLStore) ShouldRun(ctx context.Context, timedObjectID, id string, scheduledFor time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(claimTimeoutQuery),
		timer.StateInTimeout.String(), timedObjectID, id,
		timer.StateInTimeout.String(), scheduledFor.UnixNano())
	if err != nil {
		return false, fmt.Errorf("claim timeout of timer %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLStore) RegisterChangeListener(timedObjectID string, l store.ChangeListener) func() {
	return s.listeners.Register(timedObjectID, l)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func rowOf(rec store.Record) (timerRow, error) {
	row := timerRow{
		TimedObjectID: rec.TimedObjectID,
		ID:            rec.ID,
		State:         rec.State.String(),
		IntervalNanos: int64(rec.Interval),
		AutoTimer:     rec.AutoTimer,
	}
	// calendar timers have no initial expiration; 0 marks the zero time
	if !rec.InitialExpiration.IsZero() {
		row.InitialExpiration = rec.InitialExpiration.UnixNano()
	}
	if rec.NextExpiration != nil {
		row.NextExpiration = sql.NullInt64{Int64: rec.NextExpiration.UnixNano(), Valid: true}
	}
	if rec.PreviousRun != nil {
		row.PreviousRun = sql.NullInt64{Int64: rec.PreviousRun.UnixNano(), Valid: true}
	}
	if len(rec.Info) > 0 {
		row.Info = sql.NullString{String: string(rec.Info), Valid: true}
	}
	if len(rec.PrimaryKey) > 0 {
		row.PrimaryKey = sql.NullString{String: string(rec.PrimaryKey), Valid: true}
	}
	if expr := rec.Schedule; expr != nil {
		row.ScheduleSecond = sql.NullString{String: expr.Second, Valid: true}
		row.ScheduleMinute = sql.NullString{String: expr.Minute, Valid: true}
		row.ScheduleHour = sql.NullString{String: expr.Hour, Valid: true}
		row.ScheduleDayOfMonth = sql.NullString{String: expr.DayOfMonth, Valid: true}
		row.ScheduleDayOfWeek = sql.NullString{String: expr.DayOfWeek, Valid: true}
		row.ScheduleMonth = sql.NullString{String: expr.Month, Valid: true}
		row.ScheduleYear = sql.NullString{String: expr.Year, Valid: true}
		row.ScheduleTimezone = sql.NullString{String: expr.Timezone, Valid: true}
		if expr.Start != nil {
			row.ScheduleStart = sql.NullInt64{Int64: expr.Start.UnixNano(), Valid: true}
		}
		if expr.End != nil {
			row.ScheduleEnd = sql.NullInt64{Int64: expr.End.UnixNano(), Valid: true}
		}
	}
	if rec.TimeoutMethod != nil {
		row.MethodName = sql.NullString{String: rec.TimeoutMethod.Name, Valid: true}
		if len(rec.TimeoutMethod.Params) > 0 {
			params, err := json.Marshal(rec.TimeoutMethod.Params)
			if err != nil {
				return timerRow{}, fmt.Errorf("encode method params of timer %s: %w", rec.ID, err)
			}
			row.MethodParams = sql.NullString{String: string(params), Valid: true}
		}
	}
	return row, nil
}

func recordOf(row timerRow) (store.Record, error) {
	state, err := timer.ParseState(row.State)
	if err != nil {
		return store.Record{}, fmt.Errorf("timer %s: %w", row.ID, err)
	}
	rec := store.Record{
		ID:            row.ID,
		TimedObjectID: row.TimedObjectID,
		State:         state,
		Interval:      time.Duration(row.IntervalNanos),
		AutoTimer:     row.AutoTimer,
	}
	if row.InitialExpiration != 0 {
		rec.InitialExpiration = time.Unix(0, row.InitialExpiration).UTC()
	}
	if row.NextExpiration.Valid {
		next := time.Unix(0, row.NextExpiration.Int64).UTC()
		rec.NextExpiration = &next
	}
	if row.PreviousRun.Valid {
		prev := time.Unix(0, row.PreviousRun.Int64).UTC()
		rec.PreviousRun = &prev
	}
	if row.Info.Valid {
		rec.Info = []byte(row.Info.String)
	}
	if row.PrimaryKey.Valid {
		rec.PrimaryKey = []byte(row.PrimaryKey.String)
	}
	if row.ScheduleSecond.Valid {
		expr := schedule.Expression{
			Second:     row.ScheduleSecond.String,
			Minute:     row.ScheduleMinute.String,
			Hour:       row.ScheduleHour.String,
			DayOfMonth: row.ScheduleDayOfMonth.String,
			DayOfWeek:  row.ScheduleDayOfWeek.String,
			Month:      row.ScheduleMonth.String,
			Year:       row.ScheduleYear.String,
			Timezone:   row.ScheduleTimezone.String,
		}
		if row.ScheduleStart.Valid {
			start := time.Unix(0, row.ScheduleStart.Int64).UTC()
			expr.Start = &start
		}
		if row.ScheduleEnd.Valid {
			end := time.Unix(0, row.ScheduleEnd.Int64).UTC()
			expr.End = &end
		}
		rec.Schedule = &expr
	}
	if row.MethodName.Valid {
		method := &timer.MethodRef{Name: row.MethodName.String}
		if row.MethodParams.Valid {
			if err := json.Unmarshal([]byte(row.MethodParams.String), &method.Params); err != nil {
				return store.Record{}, fmt.Errorf("timer %s: decode method params: %w", row.ID, err)
			}
		}
		rec.TimeoutMethod = method
	}
	return rec, nil
}
