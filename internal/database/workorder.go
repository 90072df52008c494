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

type WorkOrderRepository interface {
	// Insert fails with a ConflictError when the schedule already has an
	// open work order.
	Insert(ctx context.Context, wo *models.WorkOrder) error
	Get(ctx context.Context, id string) (*models.WorkOrder, error)
	// OpenForSchedule returns the schedule's open work order, or nil.
	OpenForSchedule(ctx context.Context, scheduleID string) (*models.WorkOrder, error)
	// Close moves an OPEN work order to status, recording the sign-off.
	Close(ctx context.Context, id string, status models.WorkOrderStatus, at time.Time, performerID, inspectorID string) error
}

type workOrderRepository struct {
	q Querier
}

func NewWorkOrderRepository(q Querier) WorkOrderRepository {
	return &workOrderRepository{q: q}
}

const workOrderColumns = `id, schedule_id, aircraft_id, status, opened_by, assignee, opened_at, closed_at,
	performer_id, inspector_id, notes`

func (r *workOrderRepository) Insert(ctx context.Context, wo *models.WorkOrder) error {
	if wo.Status == "" {
		wo.Status = models.WorkOrderOpen
	}
	_, err := r.q.ExecContext(ctx, `INSERT INTO work_orders (`+workOrderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		wo.ID, wo.ScheduleID, wo.AircraftID, string(wo.Status), wo.OpenedBy, wo.Assignee,
		toNanos(wo.OpenedAt), nullTime(wo.ClosedAt), wo.PerformerID, wo.InspectorID, wo.Notes,
	)
	if err != nil {
		if isConflict(err) {
			return faults.Conflict("schedule", wo.ScheduleID, "schedule already has an open work order")
		}
		return entityError(err, "work order", wo.ID, "insert")
	}
	return nil
}

func (r *workOrderRepository) Get(ctx context.Context, id string) (*models.WorkOrder, error) {
	wo, err := scanWorkOrder(r.q.QueryRowContext(ctx, `SELECT `+workOrderColumns+` FROM work_orders WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, faults.NotFound("work order", id, "work order does not exist")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get work order %s: %w", id, err)
	}
	return wo, nil
}

func (r *workOrderRepository) OpenForSchedule(ctx context.Context, scheduleID string) (*models.WorkOrder, error) {
	wo, err := scanWorkOrder(r.q.QueryRowContext(ctx, `SELECT `+workOrderColumns+` FROM work_orders
		WHERE schedule_id = ? AND status = ?`, scheduleID, string(models.WorkOrderOpen)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get open work order for %s: %w", scheduleID, err)
	}
	return wo, nil
}

func (r *workOrderRepository) Close(ctx context.Context, id string, status models.WorkOrderStatus, at time.Time, performerID, inspectorID string) error {
	res, err := r.q.ExecContext(ctx, `UPDATE work_orders
		SET status = ?, closed_at = ?, performer_id = ?, inspector_id = ?
		WHERE id = ? AND status = ?`,
		string(status), toNanos(at), performerID, inspectorID, id, string(models.WorkOrderOpen))
	if err != nil {
		return entityError(err, "work order", id, "close")
	}
	return expectOne(res, "work order", id, "work order is not open")
}

func scanWorkOrder(rs rowScanner) (*models.WorkOrder, error) {
	var wo models.WorkOrder
	var status string
	var opened int64
	var closed sql.NullInt64
	if err := rs.Scan(&wo.ID, &wo.ScheduleID, &wo.AircraftID, &status, &wo.OpenedBy, &wo.Assignee,
		&opened, &closed, &wo.PerformerID, &wo.InspectorID, &wo.Notes); err != nil {
		return nil, err
	}
	wo.Status = models.WorkOrderStatus(status)
	wo.OpenedAt = fromNanos(opened)
	wo.ClosedAt = timePtr(closed)
	return &wo, nil
}

type MaintenanceRecordRepository interface {
	Insert(ctx context.Context, rec *models.MaintenanceRecord) error
	// LatestFor returns the most recent record for a trigger on a component
	// (or on the aircraft when componentID is empty), or nil.
	LatestFor(ctx context.Context, aircraftID, triggerID, componentID string) (*models.MaintenanceRecord, error)
	ListForSchedule(ctx context.Context, scheduleID string) ([]*models.MaintenanceRecord, error)
}

type maintenanceRecordRepository struct {
	q Querier
}

func NewMaintenanceRecordRepository(q Querier) MaintenanceRecordRepository {
	return &maintenanceRecordRepository{q: q}
}

const recordColumns = `id, schedule_id, trigger_id, aircraft_id, component_id, work_order_id, completed_at,
	value, due_date, performer_id, inspector_id`

func (r *maintenanceRecordRepository) Insert(ctx context.Context, rec *models.MaintenanceRecord) error {
	_, err := r.q.ExecContext(ctx, `INSERT INTO maintenance_records (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ScheduleID, rec.TriggerID, rec.AircraftID, rec.ComponentID, rec.WorkOrderID,
		toNanos(rec.CompletedAt), nullInt(rec.Value), nullTime(rec.DueDate), rec.PerformerID, rec.InspectorID,
	)
	if err != nil {
		return entityError(err, "maintenance record", rec.ID, "insert")
	}
	return nil
}

func (r *maintenanceRecordRepository) LatestFor(ctx context.Context, aircraftID, triggerID, componentID string) (*models.MaintenanceRecord, error) {
	// Component history follows the component across aircraft; aircraft-level
	// history stays with the aircraft.
	query := `SELECT ` + recordColumns + ` FROM maintenance_records
		WHERE trigger_id = ? AND component_id = ? AND aircraft_id = ?
		ORDER BY completed_at DESC, rowid DESC LIMIT 1`
	args := []any{triggerID, componentID, aircraftID}
	if componentID != "" {
		query = `SELECT ` + recordColumns + ` FROM maintenance_records
			WHERE trigger_id = ? AND component_id = ?
			ORDER BY completed_at DESC, rowid DESC LIMIT 1`
		args = args[:2]
	}

	rec, err := scanRecord(r.q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest maintenance record: %w", err)
	}
	return rec, nil
}

func (r *maintenanceRecordRepository) ListForSchedule(ctx context.Context, scheduleID string) ([]*models.MaintenanceRecord, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+recordColumns+` FROM maintenance_records
		WHERE schedule_id = ? ORDER BY completed_at, rowid`, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query maintenance records: %w", err)
	}
	defer rows.Close()

	var out []*models.MaintenanceRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan maintenance record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanRecord(rs rowScanner) (*models.MaintenanceRecord, error) {
	var rec models.MaintenanceRecord
	var completed int64
	var value, due sql.NullInt64
	if err := rs.Scan(&rec.ID, &rec.ScheduleID, &rec.TriggerID, &rec.AircraftID, &rec.ComponentID,
		&rec.WorkOrderID, &completed, &value, &due, &rec.PerformerID, &rec.InspectorID); err != nil {
		return nil, err
	}
	rec.CompletedAt = fromNanos(completed)
	rec.Value = intPtr(value)
	rec.DueDate = timePtr(due)
	return &rec, nil
}
