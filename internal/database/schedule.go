package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fleet_ledger/internal/faults"
	"fleet_ledger/internal/models"
)

type ScheduleRepository interface {
	Insert(ctx context.Context, s *models.Schedule) error
	Get(ctx context.Context, id string) (*models.Schedule, error)
	// Find returns the schedule for (aircraft, trigger, component), or nil.
	Find(ctx context.Context, aircraftID, triggerID, componentID string) (*models.Schedule, error)
	ListForAircraft(ctx context.Context, aircraftID string) ([]*models.Schedule, error)
	ListForComponent(ctx context.Context, aircraftID, componentID string) ([]*models.Schedule, error)
	// Update writes s only if the stored status still equals expected.
	Update(ctx context.Context, s *models.Schedule, expected models.ScheduleStatus) error
	AppendEvent(ctx context.Context, e *models.ScheduleEvent) error
	Events(ctx context.Context, scheduleID string) ([]models.ScheduleEvent, error)
	// AircraftWithActiveSchedules lists aircraft ids the periodic sweep must visit.
	AircraftWithActiveSchedules(ctx context.Context) ([]string, error)
}

type scheduleRepository struct {
	q Querier
}

func NewScheduleRepository(q Querier) ScheduleRepository {
	return &scheduleRepository{q: q}
}

const scheduleColumns = `id, aircraft_id, trigger_id, component_id, status, active, anchor_at, due_date, due_value,
	last_completed_at, last_completed_value, last_completed_due_date, assignee, work_order_id, skip_reason,
	created_at, updated_at`

func (r *scheduleRepository) Insert(ctx context.Context, s *models.Schedule) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = s.CreatedAt
	}
	_, err := r.q.ExecContext(ctx, `INSERT INTO maintenance_schedules (`+scheduleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.AircraftID, s.TriggerID, s.ComponentID, string(s.Status), boolInt(s.Active),
		toNanos(s.AnchorAt), nullTime(s.Due.Date), nullInt(s.Due.Value),
		nullTime(s.LastCompletedAt), nullInt(s.LastCompletedValue), nullTime(s.LastCompletedDueDate),
		s.Assignee, s.WorkOrderID, s.SkipReason, toNanos(s.CreatedAt), toNanos(s.UpdatedAt),
	)
	if err != nil {
		return entityError(err, "schedule", s.ID, "insert")
	}
	return nil
}

func (r *scheduleRepository) Get(ctx context.Context, id string) (*models.Schedule, error) {
	s, err := scanSchedule(r.q.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM maintenance_schedules WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, faults.NotFound("schedule", id, "schedule does not exist")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule %s: %w", id, err)
	}
	return s, nil
}

func (r *scheduleRepository) Find(ctx context.Context, aircraftID, triggerID, componentID string) (*models.Schedule, error) {
	s, err := scanSchedule(r.q.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM maintenance_schedules
		WHERE aircraft_id = ? AND trigger_id = ? AND component_id = ?`, aircraftID, triggerID, componentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find schedule: %w", err)
	}
	return s, nil
}

func (r *scheduleRepository) ListForAircraft(ctx context.Context, aircraftID string) ([]*models.Schedule, error) {
	return r.list(ctx, `SELECT `+scheduleColumns+` FROM maintenance_schedules
		WHERE aircraft_id = ? ORDER BY created_at, id`, aircraftID)
}

func (r *scheduleRepository) ListForComponent(ctx context.Context, aircraftID, componentID string) ([]*models.Schedule, error) {
	return r.list(ctx, `SELECT `+scheduleColumns+` FROM maintenance_schedules
		WHERE aircraft_id = ? AND component_id = ? ORDER BY created_at, id`, aircraftID, componentID)
}

func (r *scheduleRepository) Update(ctx context.Context, s *models.Schedule, expected models.ScheduleStatus) error {
	res, err := r.q.ExecContext(ctx, `UPDATE maintenance_schedules
		SET status = ?, active = ?, anchor_at = ?, due_date = ?, due_value = ?,
			last_completed_at = ?, last_completed_value = ?, last_completed_due_date = ?,
			assignee = ?, work_order_id = ?, skip_reason = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(s.Status), boolInt(s.Active), toNanos(s.AnchorAt), nullTime(s.Due.Date), nullInt(s.Due.Value),
		nullTime(s.LastCompletedAt), nullInt(s.LastCompletedValue), nullTime(s.LastCompletedDueDate),
		s.Assignee, s.WorkOrderID, s.SkipReason, toNanos(s.UpdatedAt),
		s.ID, string(expected),
	)
	if err != nil {
		return entityError(err, "schedule", s.ID, "update")
	}
	return expectOne(res, "schedule", s.ID, "schedule not found or not in state %s", expected)
}

func (r *scheduleRepository) AppendEvent(ctx context.Context, e *models.ScheduleEvent) error {
	res, err := r.q.ExecContext(ctx, `INSERT INTO schedule_events (schedule_id, from_status, to_status, at, actor, note)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ScheduleID, string(e.From), string(e.To), toNanos(e.At), e.Actor, e.Note)
	if err != nil {
		return entityError(err, "schedule event", e.ScheduleID, "insert")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read schedule event id: %w", err)
	}
	e.ID = id
	return nil
}

func (r *scheduleRepository) Events(ctx context.Context, scheduleID string) ([]models.ScheduleEvent, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT id, schedule_id, from_status, to_status, at, actor, note
		FROM schedule_events WHERE schedule_id = ? ORDER BY id`, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query schedule events: %w", err)
	}
	defer rows.Close()

	var out []models.ScheduleEvent
	for rows.Next() {
		var e models.ScheduleEvent
		var from, to string
		var at int64
		if err := rows.Scan(&e.ID, &e.ScheduleID, &from, &to, &at, &e.Actor, &e.Note); err != nil {
			return nil, fmt.Errorf("failed to scan schedule event: %w", err)
		}
		e.From = models.ScheduleStatus(from)
		e.To = models.ScheduleStatus(to)
		e.At = fromNanos(at)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *scheduleRepository) AircraftWithActiveSchedules(ctx context.Context) ([]string, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT DISTINCT aircraft_id FROM maintenance_schedules
		WHERE active = 1 ORDER BY aircraft_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduled aircraft: %w", err)
	}
	ids, err := collectStrings(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduled aircraft: %w", err)
	}
	return ids, nil
}

func (r *scheduleRepository) list(ctx context.Context, query string, args ...any) ([]*models.Schedule, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query schedules: %w", err)
	}
	defer rows.Close()

	var out []*models.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanSchedule(rs rowScanner) (*models.Schedule, error) {
	var s models.Schedule
	var status string
	var active int
	var anchor, created, updated int64
	var dueDate, dueValue, lastAt, lastValue, lastDue sql.NullInt64
	if err := rs.Scan(&s.ID, &s.AircraftID, &s.TriggerID, &s.ComponentID, &status, &active, &anchor,
		&dueDate, &dueValue, &lastAt, &lastValue, &lastDue, &s.Assignee, &s.WorkOrderID, &s.SkipReason,
		&created, &updated); err != nil {
		return nil, err
	}
	s.Status = models.ScheduleStatus(status)
	s.Active = active != 0
	s.AnchorAt = fromNanos(anchor)
	s.Due = models.DuePoint{Date: timePtr(dueDate), Value: intPtr(dueValue)}
	s.LastCompletedAt = timePtr(lastAt)
	s.LastCompletedValue = intPtr(lastValue)
	s.LastCompletedDueDate = timePtr(lastDue)
	s.CreatedAt = fromNanos(created)
	s.UpdatedAt = fromNanos(updated)
	return &s, nil
}
