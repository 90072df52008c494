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

type SegmentRepository interface {
	Insert(ctx context.Context, s *models.InstallationSegment) error
	Get(ctx context.Context, id string) (*models.InstallationSegment, error)
	// OpenForComponent returns the open segment of a component, or nil.
	OpenForComponent(ctx context.Context, componentID string) (*models.InstallationSegment, error)
	// OpenAtLocation returns the open segment at (aircraft, location), or nil.
	OpenAtLocation(ctx context.Context, aircraftID, location string) (*models.InstallationSegment, error)
	OpenForAircraft(ctx context.Context, aircraftID string) ([]*models.InstallationSegment, error)
	// History returns a component's segments, oldest first.
	History(ctx context.Context, componentID string) ([]*models.InstallationSegment, error)
	Close(ctx context.Context, id string, at time.Time, removedBy string) error
	AddUsage(ctx context.Context, id string, delta models.Usage) error
	Annotate(ctx context.Context, id, notes string) error
}

type segmentRepository struct {
	q Querier
}

func NewSegmentRepository(q Querier) SegmentRepository {
	return &segmentRepository{q: q}
}

const segmentColumns = `id, component_id, aircraft_id, location, installed_at, installed_by, removed_at, removed_by,
	inherited_hours, inherited_cycles, inherited_battery_cycles,
	accumulated_hours, accumulated_cycles, accumulated_battery_cycles, notes`

func (r *segmentRepository) Insert(ctx context.Context, s *models.InstallationSegment) error {
	_, err := r.q.ExecContext(ctx, `INSERT INTO installation_segments (`+segmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.ComponentID, s.AircraftID, s.Location, toNanos(s.InstalledAt), s.InstalledBy,
		nullTime(s.RemovedAt), s.RemovedBy,
		int64(s.Inherited.Hours), s.Inherited.Cycles, s.Inherited.BatteryCycles,
		int64(s.Accumulated.Hours), s.Accumulated.Cycles, s.Accumulated.BatteryCycles, s.Notes,
	)
	if err != nil {
		return entityError(err, "installation segment", s.ID, "insert")
	}
	return nil
}

func (r *segmentRepository) Get(ctx context.Context, id string) (*models.InstallationSegment, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+segmentColumns+` FROM installation_segments WHERE id = ?`, id)
	s, err := scanSegment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, faults.NotFound("installation segment", id, "segment does not exist")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get segment %s: %w", id, err)
	}
	return s, nil
}

func (r *segmentRepository) OpenForComponent(ctx context.Context, componentID string) (*models.InstallationSegment, error) {
	return r.optional(ctx, `SELECT `+segmentColumns+` FROM installation_segments
		WHERE component_id = ? AND removed_at IS NULL`, componentID)
}

func (r *segmentRepository) OpenAtLocation(ctx context.Context, aircraftID, location string) (*models.InstallationSegment, error) {
	return r.optional(ctx, `SELECT `+segmentColumns+` FROM installation_segments
		WHERE aircraft_id = ? AND location = ? AND removed_at IS NULL`, aircraftID, location)
}

func (r *segmentRepository) OpenForAircraft(ctx context.Context, aircraftID string) ([]*models.InstallationSegment, error) {
	return r.list(ctx, `SELECT `+segmentColumns+` FROM installation_segments
		WHERE aircraft_id = ? AND removed_at IS NULL ORDER BY location`, aircraftID)
}

func (r *segmentRepository) History(ctx context.Context, componentID string) ([]*models.InstallationSegment, error) {
	return r.list(ctx, `SELECT `+segmentColumns+` FROM installation_segments
		WHERE component_id = ? ORDER BY installed_at, rowid`, componentID)
}

func (r *segmentRepository) Close(ctx context.Context, id string, at time.Time, removedBy string) error {
	res, err := r.q.ExecContext(ctx, `UPDATE installation_segments SET removed_at = ?, removed_by = ?
		WHERE id = ? AND removed_at IS NULL`, toNanos(at), removedBy, id)
	if err != nil {
		return entityError(err, "installation segment", id, "close")
	}
	return expectOne(res, "installation segment", id, "segment is not open")
}

func (r *segmentRepository) AddUsage(ctx context.Context, id string, delta models.Usage) error {
	res, err := r.q.ExecContext(ctx, `UPDATE installation_segments
		SET accumulated_hours = accumulated_hours + ?, accumulated_cycles = accumulated_cycles + ?,
			accumulated_battery_cycles = accumulated_battery_cycles + ?
		WHERE id = ? AND removed_at IS NULL`,
		int64(delta.Hours), delta.Cycles, delta.BatteryCycles, id)
	if err != nil {
		return entityError(err, "installation segment", id, "update usage of")
	}
	return expectOne(res, "installation segment", id, "segment is not open")
}

func (r *segmentRepository) Annotate(ctx context.Context, id, notes string) error {
	res, err := r.q.ExecContext(ctx, `UPDATE installation_segments SET notes = ? WHERE id = ?`, notes, id)
	if err != nil {
		return entityError(err, "installation segment", id, "annotate")
	}
	return expectOne(res, "installation segment", id, "segment does not exist")
}

func (r *segmentRepository) optional(ctx context.Context, query string, args ...any) (*models.InstallationSegment, error) {
	s, err := scanSegment(r.q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query segment: %w", err)
	}
	return s, nil
}

func (r *segmentRepository) list(ctx context.Context, query string, args ...any) ([]*models.InstallationSegment, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query segments: %w", err)
	}
	defer rows.Close()

	var out []*models.InstallationSegment
	for rows.Next() {
		s, err := scanSegment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan segment: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanSegment(rs rowScanner) (*models.InstallationSegment, error) {
	var s models.InstallationSegment
	var installed int64
	var removed sql.NullInt64
	var inhHours, accHours int64
	if err := rs.Scan(&s.ID, &s.ComponentID, &s.AircraftID, &s.Location, &installed, &s.InstalledBy,
		&removed, &s.RemovedBy,
		&inhHours, &s.Inherited.Cycles, &s.Inherited.BatteryCycles,
		&accHours, &s.Accumulated.Cycles, &s.Accumulated.BatteryCycles, &s.Notes); err != nil {
		return nil, err
	}
	s.InstalledAt = fromNanos(installed)
	s.RemovedAt = timePtr(removed)
	s.Inherited.Hours = models.Hours(inhHours)
	s.Accumulated.Hours = models.Hours(accHours)
	return &s, nil
}
