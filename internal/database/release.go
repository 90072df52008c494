package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fleet_ledger/internal/models"
)

type ReleaseRepository interface {
	Insert(ctx context.Context, rec *models.ReleaseRecord) error
	// ActiveFor returns the unsuperseded release for (aircraft, scope), or nil.
	ActiveFor(ctx context.Context, aircraftID, scope string) (*models.ReleaseRecord, error)
	// Supersede marks an active release as replaced by newID.
	Supersede(ctx context.Context, id, newID string, at time.Time) error
	ListForAircraft(ctx context.Context, aircraftID string) ([]*models.ReleaseRecord, error)
}

type releaseRepository struct {
	q Querier
}

func NewReleaseRepository(q Querier) ReleaseRepository {
	return &releaseRepository{q: q}
}

const releaseColumns = `id, aircraft_id, scope, kind, issued_by, issued_at, conditions, notes, superseded_by, superseded_at`

func (r *releaseRepository) Insert(ctx context.Context, rec *models.ReleaseRecord) error {
	conditions := rec.Conditions
	if conditions == nil {
		conditions = []string{}
	}
	encoded, err := json.Marshal(conditions)
	if err != nil {
		return fmt.Errorf("failed to encode release conditions: %w", err)
	}

	_, err = r.q.ExecContext(ctx, `INSERT INTO release_records (`+releaseColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.AircraftID, rec.Scope, string(rec.Kind), rec.IssuedBy, toNanos(rec.IssuedAt),
		string(encoded), rec.Notes, rec.SupersededBy, nullTime(rec.SupersededAt))
	if err != nil {
		return entityError(err, "release record", rec.ID, "insert")
	}
	return nil
}

func (r *releaseRepository) ActiveFor(ctx context.Context, aircraftID, scope string) (*models.ReleaseRecord, error) {
	rec, err := scanRelease(r.q.QueryRowContext(ctx, `SELECT `+releaseColumns+` FROM release_records
		WHERE aircraft_id = ? AND scope = ? AND superseded_by = ''`, aircraftID, scope))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active release for %s: %w", aircraftID, err)
	}
	return rec, nil
}

func (r *releaseRepository) Supersede(ctx context.Context, id, newID string, at time.Time) error {
	res, err := r.q.ExecContext(ctx, `UPDATE release_records SET superseded_by = ?, superseded_at = ?
		WHERE id = ? AND superseded_by = ''`, newID, toNanos(at), id)
	if err != nil {
		return entityError(err, "release record", id, "supersede")
	}
	return expectOne(res, "release record", id, "release record is not active")
}

func (r *releaseRepository) ListForAircraft(ctx context.Context, aircraftID string) ([]*models.ReleaseRecord, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+releaseColumns+` FROM release_records
		WHERE aircraft_id = ? ORDER BY issued_at, rowid`, aircraftID)
	if err != nil {
		return nil, fmt.Errorf("failed to query release records: %w", err)
	}
	defer rows.Close()

	var out []*models.ReleaseRecord
	for rows.Next() {
		rec, err := scanRelease(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan release record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanRelease(rs rowScanner) (*models.ReleaseRecord, error) {
	var rec models.ReleaseRecord
	var kind, conditions string
	var issued int64
	var superseded sql.NullInt64
	if err := rs.Scan(&rec.ID, &rec.AircraftID, &rec.Scope, &kind, &rec.IssuedBy, &issued,
		&conditions, &rec.Notes, &rec.SupersededBy, &superseded); err != nil {
		return nil, err
	}
	rec.Kind = models.ReleaseKind(kind)
	rec.IssuedAt = fromNanos(issued)
	rec.SupersededAt = timePtr(superseded)
	if err := json.Unmarshal([]byte(conditions), &rec.Conditions); err != nil {
		return nil, fmt.Errorf("failed to decode release conditions: %w", err)
	}
	return &rec, nil
}
