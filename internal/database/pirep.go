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

type PilotReportRepository interface {
	Insert(ctx context.Context, p *models.PilotReport) error
	Get(ctx context.Context, id string) (*models.PilotReport, error)
	Resolve(ctx context.Context, id string, at time.Time) error
	OpenForAircraft(ctx context.Context, aircraftID string) ([]*models.PilotReport, error)
}

type pilotReportRepository struct {
	q Querier
}

func NewPilotReportRepository(q Querier) PilotReportRepository {
	return &pilotReportRepository{q: q}
}

func (r *pilotReportRepository) Insert(ctx context.Context, p *models.PilotReport) error {
	if p.Status == "" {
		p.Status = models.PirepOpen
	}
	_, err := r.q.ExecContext(ctx, `INSERT INTO pilot_reports
		(id, aircraft_id, severity, status, description, reported_by, reported_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.AircraftID, string(p.Severity), string(p.Status), p.Description, p.ReportedBy,
		toNanos(p.ReportedAt), nullTime(p.ResolvedAt))
	if err != nil {
		return entityError(err, "pilot report", p.ID, "insert")
	}
	return nil
}

const pirepColumns = `id, aircraft_id, severity, status, description, reported_by, reported_at, resolved_at`

func (r *pilotReportRepository) Get(ctx context.Context, id string) (*models.PilotReport, error) {
	p, err := scanPirep(r.q.QueryRowContext(ctx, `SELECT `+pirepColumns+` FROM pilot_reports WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, faults.NotFound("pilot report", id, "pilot report does not exist")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pilot report %s: %w", id, err)
	}
	return p, nil
}

func (r *pilotReportRepository) Resolve(ctx context.Context, id string, at time.Time) error {
	res, err := r.q.ExecContext(ctx, `UPDATE pilot_reports SET status = ?, resolved_at = ?
		WHERE id = ? AND status = ?`,
		string(models.PirepResolved), toNanos(at), id, string(models.PirepOpen))
	if err != nil {
		return entityError(err, "pilot report", id, "resolve")
	}
	return expectOne(res, "pilot report", id, "pilot report is not open")
}

func (r *pilotReportRepository) OpenForAircraft(ctx context.Context, aircraftID string) ([]*models.PilotReport, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+pirepColumns+`
		FROM pilot_reports WHERE aircraft_id = ? AND status = ? ORDER BY reported_at`,
		aircraftID, string(models.PirepOpen))
	if err != nil {
		return nil, fmt.Errorf("failed to query pilot reports: %w", err)
	}
	defer rows.Close()

	var out []*models.PilotReport
	for rows.Next() {
		p, err := scanPirep(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pilot report: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPirep(rs rowScanner) (*models.PilotReport, error) {
	var p models.PilotReport
	var severity, status string
	var reported int64
	var resolved sql.NullInt64
	if err := rs.Scan(&p.ID, &p.AircraftID, &severity, &status, &p.Description, &p.ReportedBy,
		&reported, &resolved); err != nil {
		return nil, err
	}
	p.Severity = models.Severity(severity)
	p.Status = models.PirepStatus(status)
	p.ReportedAt = fromNanos(reported)
	p.ResolvedAt = timePtr(resolved)
	return &p, nil
}
