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

type ComponentRepository interface {
	Insert(ctx context.Context, c *models.Component) error
	Get(ctx context.Context, id string) (*models.Component, error)
	GetBySerial(ctx context.Context, serial string) (*models.Component, error)
	AddUsage(ctx context.Context, id string, delta models.Usage, at time.Time) error
	SetStatus(ctx context.Context, id string, status models.ComponentStatus, at time.Time) error
	SetAirworthy(ctx context.Context, id string, airworthy bool, at time.Time) error
}

type componentRepository struct {
	q Querier
}

func NewComponentRepository(q Querier) ComponentRepository {
	return &componentRepository{q: q}
}

const componentColumns = `id, serial_number, part_number, type, status, airworthy, is_life_limited,
	max_hours, max_cycles, total_hours, total_cycles, total_battery_cycles, created_at, updated_at`

func (r *componentRepository) Insert(ctx context.Context, c *models.Component) error {
	if !c.Type.Valid() {
		return faults.Validation("component", c.ID, "type", "unknown component type %q", c.Type)
	}
	if c.Status == "" {
		c.Status = models.ComponentNew
	}
	if !c.Status.Valid() {
		return faults.Validation("component", c.ID, "status", "unknown component status %q", c.Status)
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	c.UpdatedAt = c.CreatedAt

	var maxHours sql.NullInt64
	if c.MaxFlightHours != nil {
		maxHours = sql.NullInt64{Int64: int64(*c.MaxFlightHours), Valid: true}
	}

	_, err := r.q.ExecContext(ctx, `INSERT INTO components (`+componentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.SerialNumber, c.PartNumber, string(c.Type), string(c.Status),
		boolInt(c.Airworthy), boolInt(c.IsLifeLimited), maxHours, nullInt(c.MaxCycles),
		int64(c.Totals.Hours), c.Totals.Cycles, c.Totals.BatteryCycles,
		toNanos(c.CreatedAt), toNanos(c.UpdatedAt),
	)
	if err != nil {
		return entityError(err, "component", c.ID, "insert")
	}
	return nil
}

func (r *componentRepository) Get(ctx context.Context, id string) (*models.Component, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+componentColumns+` FROM components WHERE id = ?`, id)
	c, err := scanComponent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, faults.NotFound("component", id, "component does not exist")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get component %s: %w", id, err)
	}
	return c, nil
}

func (r *componentRepository) GetBySerial(ctx context.Context, serial string) (*models.Component, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+componentColumns+` FROM components WHERE serial_number = ?`, serial)
	c, err := scanComponent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, faults.NotFound("component", serial, "no component with this serial number")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get component by serial %s: %w", serial, err)
	}
	return c, nil
}

func (r *componentRepository) AddUsage(ctx context.Context, id string, delta models.Usage, at time.Time) error {
	res, err := r.q.ExecContext(ctx, `UPDATE components
		SET total_hours = total_hours + ?, total_cycles = total_cycles + ?,
			total_battery_cycles = total_battery_cycles + ?, updated_at = ?
		WHERE id = ?`,
		int64(delta.Hours), delta.Cycles, delta.BatteryCycles, toNanos(at), id)
	if err != nil {
		return entityError(err, "component", id, "update usage of")
	}
	return expectOne(res, "component", id, "component does not exist")
}

func (r *componentRepository) SetStatus(ctx context.Context, id string, status models.ComponentStatus, at time.Time) error {
	res, err := r.q.ExecContext(ctx, `UPDATE components SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), toNanos(at), id)
	if err != nil {
		return entityError(err, "component", id, "update status of")
	}
	return expectOne(res, "component", id, "component does not exist")
}

func (r *componentRepository) SetAirworthy(ctx context.Context, id string, airworthy bool, at time.Time) error {
	res, err := r.q.ExecContext(ctx, `UPDATE components SET airworthy = ?, updated_at = ? WHERE id = ?`,
		boolInt(airworthy), toNanos(at), id)
	if err != nil {
		return entityError(err, "component", id, "update airworthiness of")
	}
	return expectOne(res, "component", id, "component does not exist")
}

func scanComponent(s rowScanner) (*models.Component, error) {
	var c models.Component
	var ctype, status string
	var airworthy, lifeLimited int
	var maxHours, maxCycles sql.NullInt64
	var hours int64
	var created, updated int64
	if err := s.Scan(&c.ID, &c.SerialNumber, &c.PartNumber, &ctype, &status, &airworthy, &lifeLimited,
		&maxHours, &maxCycles, &hours, &c.Totals.Cycles, &c.Totals.BatteryCycles, &created, &updated); err != nil {
		return nil, err
	}
	c.Type = models.ComponentType(ctype)
	c.Status = models.ComponentStatus(status)
	c.Airworthy = airworthy != 0
	c.IsLifeLimited = lifeLimited != 0
	if maxHours.Valid {
		h := models.Hours(maxHours.Int64)
		c.MaxFlightHours = &h
	}
	c.MaxCycles = intPtr(maxCycles)
	c.Totals.Hours = models.Hours(hours)
	c.CreatedAt = fromNanos(created)
	c.UpdatedAt = fromNanos(updated)
	return &c, nil
}
