package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fleet_ledger/internal/faults"
	"fleet_ledger/internal/models"

	"github.com/google/uuid"
)

type ProgramRepository interface {
	// Upsert stores a program keyed by name. Triggers are matched by name
	// within the program; triggers missing from p are left in place because
	// schedules may still reference them.
	Upsert(ctx context.Context, p *models.MaintenanceProgram) error
	Get(ctx context.Context, id string) (*models.MaintenanceProgram, error)
	GetByName(ctx context.Context, name string) (*models.MaintenanceProgram, error)
	List(ctx context.Context) ([]*models.MaintenanceProgram, error)
	Trigger(ctx context.Context, id string) (*models.Trigger, error)
	Attach(ctx context.Context, aircraftID, programID string, at time.Time) error
	Detach(ctx context.Context, aircraftID, programID string, at time.Time) error
	// Attached returns the programs currently attached to an aircraft.
	Attached(ctx context.Context, aircraftID string) ([]*models.MaintenanceProgram, error)
}

type programRepository struct {
	q Querier
}

func NewProgramRepository(q Querier) ProgramRepository {
	return &programRepository{q: q}
}

const triggerColumns = `id, program_id, name, type, interval_value, fixed_date, component_type, location,
	priority, performer_role, rii, description`

func (r *programRepository) Upsert(ctx context.Context, p *models.MaintenanceProgram) error {
	if err := p.Validate(); err != nil {
		return faults.Validation("maintenance program", p.Name, "", "%v", err)
	}

	existing, err := r.GetByName(ctx, p.Name)
	if err != nil && !errors.Is(err, faults.ErrNotFound) {
		return err
	}

	if existing == nil {
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		if p.CreatedAt.IsZero() {
			p.CreatedAt = time.Now().UTC()
		}
		if _, err := r.q.ExecContext(ctx, `INSERT INTO maintenance_programs (id, name, aircraft_model, description, created_at)
			VALUES (?, ?, ?, ?, ?)`, p.ID, p.Name, p.AircraftModel, p.Description, toNanos(p.CreatedAt)); err != nil {
			return entityError(err, "maintenance program", p.Name, "insert")
		}
	} else {
		p.ID = existing.ID
		p.CreatedAt = existing.CreatedAt
		if _, err := r.q.ExecContext(ctx, `UPDATE maintenance_programs SET aircraft_model = ?, description = ? WHERE id = ?`,
			p.AircraftModel, p.Description, p.ID); err != nil {
			return entityError(err, "maintenance program", p.Name, "update")
		}
	}

	byName := make(map[string]string)
	if existing != nil {
		for _, t := range existing.Triggers {
			byName[t.Name] = t.ID
		}
	}

	for i := range p.Triggers {
		t := &p.Triggers[i]
		t.ProgramID = p.ID
		if id, ok := byName[t.Name]; ok {
			t.ID = id
			if _, err := r.q.ExecContext(ctx, `UPDATE maintenance_triggers
				SET type = ?, interval_value = ?, fixed_date = ?, component_type = ?, location = ?,
					priority = ?, performer_role = ?, rii = ?, description = ?
				WHERE id = ?`,
				string(t.Type), t.Interval, nullTime(t.FixedDate), string(t.Scope.ComponentType), t.Scope.Location,
				string(t.Priority), t.PerformerRole, boolInt(t.RII), t.Description, t.ID); err != nil {
				return entityError(err, "trigger", t.ID, "update")
			}
			continue
		}
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		if _, err := r.q.ExecContext(ctx, `INSERT INTO maintenance_triggers (`+triggerColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.ProgramID, t.Name, string(t.Type), t.Interval, nullTime(t.FixedDate),
			string(t.Scope.ComponentType), t.Scope.Location, string(t.Priority), t.PerformerRole,
			boolInt(t.RII), t.Description); err != nil {
			return entityError(err, "trigger", t.ID, "insert")
		}
	}
	return nil
}

func (r *programRepository) Get(ctx context.Context, id string) (*models.MaintenanceProgram, error) {
	return r.getWhere(ctx, "id = ?", id)
}

func (r *programRepository) GetByName(ctx context.Context, name string) (*models.MaintenanceProgram, error) {
	return r.getWhere(ctx, "name = ?", name)
}

func (r *programRepository) getWhere(ctx context.Context, where, arg string) (*models.MaintenanceProgram, error) {
	var p models.MaintenanceProgram
	var created int64
	err := r.q.QueryRowContext(ctx, `SELECT id, name, aircraft_model, description, created_at
		FROM maintenance_programs WHERE `+where, arg).Scan(&p.ID, &p.Name, &p.AircraftModel, &p.Description, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, faults.NotFound("maintenance program", arg, "program does not exist")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get program %s: %w", arg, err)
	}
	p.CreatedAt = fromNanos(created)

	triggers, err := r.triggers(ctx, `program_id = ?`, p.ID)
	if err != nil {
		return nil, err
	}
	p.Triggers = triggers
	return &p, nil
}

func (r *programRepository) List(ctx context.Context) ([]*models.MaintenanceProgram, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT id FROM maintenance_programs ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list programs: %w", err)
	}
	ids, err := collectStrings(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list programs: %w", err)
	}

	out := make([]*models.MaintenanceProgram, 0, len(ids))
	for _, id := range ids {
		p, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (r *programRepository) Trigger(ctx context.Context, id string) (*models.Trigger, error) {
	ts, err := r.triggers(ctx, `id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(ts) == 0 {
		return nil, faults.NotFound("trigger", id, "trigger does not exist")
	}
	return &ts[0], nil
}

func (r *programRepository) triggers(ctx context.Context, where string, args ...any) ([]models.Trigger, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+triggerColumns+` FROM maintenance_triggers WHERE `+where+` ORDER BY name`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query triggers: %w", err)
	}
	defer rows.Close()

	var out []models.Trigger
	for rows.Next() {
		var t models.Trigger
		var ttype, ctype, priority string
		var fixed sql.NullInt64
		var rii int
		if err := rows.Scan(&t.ID, &t.ProgramID, &t.Name, &ttype, &t.Interval, &fixed, &ctype, &t.Scope.Location,
			&priority, &t.PerformerRole, &rii, &t.Description); err != nil {
			return nil, fmt.Errorf("failed to scan trigger: %w", err)
		}
		t.Type = models.TriggerType(ttype)
		t.FixedDate = timePtr(fixed)
		t.Scope.ComponentType = models.ComponentType(ctype)
		t.Priority = models.Priority(priority)
		t.RII = rii != 0
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *programRepository) Attach(ctx context.Context, aircraftID, programID string, at time.Time) error {
	res, err := r.q.ExecContext(ctx, `INSERT INTO program_attachments (aircraft_id, program_id, attached_at)
		VALUES (?, ?, ?)
		ON CONFLICT (aircraft_id, program_id) DO UPDATE
		SET attached_at = excluded.attached_at, detached_at = NULL
		WHERE program_attachments.detached_at IS NOT NULL`,
		aircraftID, programID, toNanos(at))
	if err != nil {
		return entityError(err, "program attachment", aircraftID, "insert")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return faults.Conflict("aircraft", aircraftID, "program %s is already attached", programID)
	}
	return nil
}

func (r *programRepository) Detach(ctx context.Context, aircraftID, programID string, at time.Time) error {
	res, err := r.q.ExecContext(ctx, `UPDATE program_attachments SET detached_at = ?
		WHERE aircraft_id = ? AND program_id = ? AND detached_at IS NULL`,
		toNanos(at), aircraftID, programID)
	if err != nil {
		return entityError(err, "program attachment", aircraftID, "detach")
	}
	return expectOne(res, "program attachment", aircraftID, "program %s is not attached", programID)
}

func (r *programRepository) Attached(ctx context.Context, aircraftID string) ([]*models.MaintenanceProgram, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT program_id FROM program_attachments
		WHERE aircraft_id = ? AND detached_at IS NULL ORDER BY attached_at`, aircraftID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attached programs: %w", err)
	}
	ids, err := collectStrings(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list attached programs: %w", err)
	}

	out := make([]*models.MaintenanceProgram, 0, len(ids))
	for _, id := range ids {
		p, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// collectStrings drains a single-column result set and closes it.
func collectStrings(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
