package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/famcal/internal/calerr"
	"github.com/dukerupert/famcal/internal/model"
)

type EventStore struct {
	db *sql.DB
}

func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{db: db}
}

const eventCols = `id, calendar_id, family_id, title, description, location, start_time, end_time, all_day, status,
	created_by, user_id, external_id, recurrence_freq, recurrence_interval, recurrence_count, recurrence_until, recurrence_exdates,
	created_at, updated_at`

func scanEvent(scanner interface{ Scan(...any) error }) (*model.Event, error) {
	var e model.Event
	var allDay int
	var externalID, freq sql.NullString
	var interval, count int
	var until sql.NullTime
	var exdates string

	err := scanner.Scan(
		&e.ID, &e.CalendarID, &e.FamilyID, &e.Title, &e.Description, &e.Location, &e.StartTime, &e.EndTime, &allDay, &e.Status,
		&e.CreatedBy, &e.UserID, &externalID, &freq, &interval, &count, &until, &exdates,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.AllDay = allDay != 0
	e.ExternalID = externalID.String
	if freq.Valid {
		rule := &model.RecurrenceRule{
			Frequency: model.Frequency(freq.String),
			Interval:  interval,
			Count:     count,
			Until:     timePtr(until),
		}
		if exdates != "" {
			if err := json.Unmarshal([]byte(exdates), &rule.ExceptionDates); err != nil {
				return nil, fmt.Errorf("decode exception dates: %w", err)
			}
		}
		e.Recurrence = rule
	}
	return &e, nil
}

// recurrenceArgs flattens a rule into its column values.
func recurrenceArgs(rule *model.RecurrenceRule) (sql.NullString, int, int, sql.NullTime, string, error) {
	if rule == nil {
		return sql.NullString{}, 1, 0, sql.NullTime{}, "", nil
	}
	var exdates string
	if len(rule.ExceptionDates) > 0 {
		utc := make([]time.Time, len(rule.ExceptionDates))
		for i, t := range rule.ExceptionDates {
			utc[i] = t.UTC()
		}
		b, err := json.Marshal(utc)
		if err != nil {
			return sql.NullString{}, 0, 0, sql.NullTime{}, "", fmt.Errorf("encode exception dates: %w", err)
		}
		exdates = string(b)
	}
	return nullString(string(rule.Frequency)), rule.Interval, rule.Count, nullTime(rule.Until), exdates, nil
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertEvent(ctx context.Context, x execer, e *model.Event) (string, error) {
	freq, interval, count, until, exdates, err := recurrenceArgs(e.Recurrence)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	_, err = x.ExecContext(ctx,
		`INSERT INTO events (id, calendar_id, family_id, title, description, location, start_time, end_time, all_day, status,
		   created_by, user_id, external_id, recurrence_freq, recurrence_interval, recurrence_count, recurrence_until, recurrence_exdates)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, e.CalendarID, e.FamilyID, e.Title, e.Description, e.Location, e.StartTime.UTC(), e.EndTime.UTC(), boolInt(e.AllDay), string(e.Status),
		e.CreatedBy, e.UserID, nullString(e.ExternalID), freq, interval, count, until, exdates,
	)
	if isUniqueViolation(err) {
		return "", calerr.Conflict(fmt.Sprintf("calendar %s already has an event with external id %s", e.CalendarID, e.ExternalID), err)
	}
	if err != nil {
		return "", fmt.Errorf("insert event: %w", err)
	}
	return id, nil
}

func updateEvent(ctx context.Context, x execer, e *model.Event) error {
	freq, interval, count, until, exdates, err := recurrenceArgs(e.Recurrence)
	if err != nil {
		return err
	}

	_, err = x.ExecContext(ctx,
		`UPDATE events SET title = ?, description = ?, location = ?, start_time = ?, end_time = ?, all_day = ?, status = ?,
		   user_id = ?, external_id = ?, recurrence_freq = ?, recurrence_interval = ?, recurrence_count = ?, recurrence_until = ?,
		   recurrence_exdates = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		e.Title, e.Description, e.Location, e.StartTime.UTC(), e.EndTime.UTC(), boolInt(e.AllDay), string(e.Status),
		e.UserID, nullString(e.ExternalID), freq, interval, count, until,
		exdates, e.ID,
	)
	if err != nil {
		return fmt.Errorf("update event: %w", err)
	}
	return nil
}

// Create inserts the event. A duplicate external id within the calendar
// fails with a Conflict error.
func (s *EventStore) Create(ctx context.Context, e *model.Event) (*model.Event, error) {
	id, err := insertEvent(ctx, s.db, e)
	if err != nil {
		return nil, err
	}
	return s.GetByID(ctx, id)
}

func (s *EventStore) GetByID(ctx context.Context, id string) (*model.Event, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventCols+` FROM events WHERE id = ?`, id)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	return e, nil
}

func (s *EventStore) GetByExternalID(ctx context.Context, calendarID, externalID string) (*model.Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+eventCols+` FROM events WHERE calendar_id = ? AND external_id = ?`,
		calendarID, externalID,
	)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get event by external id: %w", err)
	}
	return e, nil
}

// ListByCalendars returns stored events of the given calendars. With a
// range, non-recurring events must overlap it and recurring templates must
// start no later than its end; expansion is left to the caller.
func (s *EventStore) ListByCalendars(ctx context.Context, calendarIDs []string, rng *model.DateRange) ([]model.Event, error) {
	if len(calendarIDs) == 0 {
		return nil, nil
	}

	var b strings.Builder
	args := make([]any, 0, len(calendarIDs)+3)
	b.WriteString(`SELECT ` + eventCols + ` FROM events WHERE calendar_id IN (` + placeholders(len(calendarIDs)) + `)`)
	for _, id := range calendarIDs {
		args = append(args, id)
	}
	if rng != nil {
		b.WriteString(` AND ((recurrence_freq IS NULL AND start_time <= ? AND end_time >= ?) OR (recurrence_freq IS NOT NULL AND start_time <= ?))`)
		args = append(args, rng.End.UTC(), rng.Start.UTC(), rng.End.UTC())
	}
	b.WriteString(` ORDER BY start_time ASC, id ASC`)

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

func (s *EventStore) ListByCalendar(ctx context.Context, calendarID string) ([]model.Event, error) {
	return s.ListByCalendars(ctx, []string{calendarID}, nil)
}

// Update overwrites every mutable column of the event.
func (s *EventStore) Update(ctx context.Context, e *model.Event) (*model.Event, error) {
	if err := updateEvent(ctx, s.db, e); err != nil {
		return nil, err
	}
	return s.GetByID(ctx, e.ID)
}

// ApplyBatch writes every change of b in one transaction; on error nothing
// is written. It returns the stored created and updated events in input
// order.
func (s *EventStore) ApplyBatch(ctx context.Context, b model.EventBatch) ([]model.Event, []model.Event, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	createdIDs := make([]string, 0, len(b.Create))
	for i := range b.Create {
		id, err := insertEvent(ctx, tx, &b.Create[i])
		if err != nil {
			return nil, nil, err
		}
		createdIDs = append(createdIDs, id)
	}
	for i := range b.Update {
		if err := updateEvent(ctx, tx, &b.Update[i]); err != nil {
			return nil, nil, err
		}
	}
	for _, id := range b.Delete {
		if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id); err != nil {
			return nil, nil, fmt.Errorf("delete event: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit: %w", err)
	}

	created, err := s.getMany(ctx, createdIDs)
	if err != nil {
		return nil, nil, err
	}
	updatedIDs := make([]string, len(b.Update))
	for i, e := range b.Update {
		updatedIDs[i] = e.ID
	}
	updated, err := s.getMany(ctx, updatedIDs)
	if err != nil {
		return nil, nil, err
	}
	return created, updated, nil
}

func (s *EventStore) getMany(ctx context.Context, ids []string) ([]model.Event, error) {
	out := make([]model.Event, 0, len(ids))
	for _, id := range ids {
		e, err := s.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if e != nil {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (s *EventStore) SetExternalID(ctx context.Context, id, externalID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE events SET external_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		nullString(externalID), id,
	)
	if err != nil {
		return fmt.Errorf("set external id: %w", err)
	}
	return nil
}

func (s *EventStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	return nil
}

func (s *EventStore) CountByCalendar(ctx context.Context, calendarID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE calendar_id = ?`, calendarID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count calendar events: %w", err)
	}
	return n, nil
}

func (s *EventStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

// CountUpcoming counts non-cancelled events starting at or after now.
func (s *EventStore) CountUpcoming(ctx context.Context, now time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE start_time >= ? AND status != ?`,
		now.UTC(), string(model.StatusCancelled),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count upcoming events: %w", err)
	}
	return n, nil
}
