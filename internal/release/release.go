// Package release issues return-to-service records and takes pilot reports,
// the two places where people sign off on whether an aircraft may fly.
package release

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"fleet_ledger/internal/airworthiness"
	"fleet_ledger/internal/clock"
	"fleet_ledger/internal/database"
	"fleet_ledger/internal/faults"
	"fleet_ledger/internal/locks"
	"fleet_ledger/internal/models"

	"github.com/google/uuid"
)

// Assessor judges an aircraft's airworthiness and is told when pilot
// reports change it.
type Assessor interface {
	Evaluate(ctx context.Context, aircraftID string, at time.Time) (*airworthiness.Report, error)
	Invalidate(aircraftIDs ...string)
}

type Service struct {
	db       *database.DB
	locks    *locks.Manager
	clock    clock.Clock
	assessor Assessor
}

func NewService(db *database.DB, lm *locks.Manager, clk clock.Clock, assessor Assessor) *Service {
	return &Service{db: db, locks: lm, clock: clk, assessor: assessor}
}

// Issue signs an aircraft back into service. Scope is empty for the whole
// aircraft or the id of a completed work order on it. A grounded aircraft is
// refused; one with outstanding MEDIUM or HIGH items gets a CONDITIONAL
// release listing them. The previous active release for the same scope is
// superseded. A zero at means now.
func (s *Service) Issue(ctx context.Context, aircraftID, scope, issuedBy string, at time.Time, notes string) (*models.ReleaseRecord, error) {
	if strings.TrimSpace(issuedBy) == "" {
		return nil, faults.Validation("aircraft", aircraftID, "issued_by", "a release must name who issued it")
	}
	if at.IsZero() {
		at = s.clock.Now()
	}

	release, err := s.locks.Acquire(locks.AircraftKey(aircraftID))
	if err != nil {
		return nil, err
	}
	defer release()

	// Writers that could change the verdict all take the aircraft lock.
	report, err := s.assessor.Evaluate(ctx, aircraftID, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if report.Status == airworthiness.Grounded {
		reasons := make([]string, 0, len(report.Grounds))
		for _, g := range report.Grounds {
			reasons = append(reasons, g.Message)
		}
		return nil, faults.Conflict("aircraft", aircraftID, "aircraft is grounded: %s", strings.Join(reasons, "; "))
	}

	rec := &models.ReleaseRecord{
		ID:         uuid.NewString(),
		AircraftID: aircraftID,
		Scope:      scope,
		Kind:       models.ReleaseFull,
		IssuedBy:   issuedBy,
		IssuedAt:   at.UTC(),
		Notes:      notes,
	}
	if report.Status == airworthiness.Conditional {
		rec.Kind = models.ReleaseConditional
		for _, c := range report.Conditions {
			rec.Conditions = append(rec.Conditions, c.Message)
		}
	}

	err = s.db.InTx(ctx, func(tx *database.Session) error {
		if scope != "" {
			wo, err := tx.WorkOrders.Get(ctx, scope)
			if err != nil {
				return err
			}
			if wo.AircraftID != aircraftID {
				return faults.Validation("aircraft", aircraftID, "scope", "work order %s belongs to %s", wo.ID, wo.AircraftID)
			}
			if wo.Status != models.WorkOrderCompleted {
				return faults.Validation("aircraft", aircraftID, "scope", "work order %s is %s, not COMPLETED", wo.ID, wo.Status)
			}
		}

		active, err := tx.Releases.ActiveFor(ctx, aircraftID, scope)
		if err != nil {
			return err
		}
		if active != nil {
			if at.Before(active.IssuedAt) {
				return faults.Temporal("aircraft", aircraftID, "issued_at",
					"release at %s precedes the active release issued at %s", at.Format(time.RFC3339), active.IssuedAt.Format(time.RFC3339))
			}
			if err := tx.Releases.Supersede(ctx, active.ID, rec.ID, at); err != nil {
				return err
			}
		}
		return tx.Releases.Insert(ctx, rec)
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Release issued",
		"aircraft_id", aircraftID,
		"release_id", rec.ID,
		"scope", scope,
		"kind", rec.Kind,
		"conditions", len(rec.Conditions))
	return rec, nil
}

// Current returns the active release for (aircraft, scope), or nil.
func (s *Service) Current(ctx context.Context, aircraftID, scope string) (*models.ReleaseRecord, error) {
	sess := s.db.Session()
	if _, err := sess.Aircraft.Get(ctx, aircraftID); err != nil {
		return nil, err
	}
	return sess.Releases.ActiveFor(ctx, aircraftID, scope)
}

// History returns every release of an aircraft, superseded ones included.
func (s *Service) History(ctx context.Context, aircraftID string) ([]*models.ReleaseRecord, error) {
	sess := s.db.Session()
	if _, err := sess.Aircraft.Get(ctx, aircraftID); err != nil {
		return nil, err
	}
	return sess.Releases.ListForAircraft(ctx, aircraftID)
}

// ReportPirep files a pilot report. A CRITICAL report grounds the aircraft
// until it is resolved.
func (s *Service) ReportPirep(ctx context.Context, p *models.PilotReport) error {
	if !p.Severity.Valid() {
		return faults.Validation("pilot report", p.ID, "severity", "unknown severity %q", p.Severity)
	}
	if strings.TrimSpace(p.Description) == "" {
		return faults.Validation("pilot report", p.ID, "description", "description is required")
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.ReportedAt.IsZero() {
		p.ReportedAt = s.clock.Now()
	}
	p.Status = models.PirepOpen
	p.ResolvedAt = nil

	release, err := s.locks.Acquire(locks.AircraftKey(p.AircraftID))
	if err != nil {
		return err
	}
	defer release()

	err = s.db.InTx(ctx, func(tx *database.Session) error {
		if _, err := tx.Aircraft.Get(ctx, p.AircraftID); err != nil {
			return err
		}
		return tx.Pireps.Insert(ctx, p)
	})
	if err != nil {
		return err
	}

	slog.Info("Pilot report filed", "aircraft_id", p.AircraftID, "pirep_id", p.ID, "severity", p.Severity)
	s.assessor.Invalidate(p.AircraftID)
	return nil
}

// ResolvePirep closes an open pilot report. A zero at means now.
func (s *Service) ResolvePirep(ctx context.Context, id string, at time.Time) error {
	p, err := s.db.Session().Pireps.Get(ctx, id)
	if err != nil {
		return err
	}
	if at.IsZero() {
		at = s.clock.Now()
	}
	if at.Before(p.ReportedAt) {
		return faults.Temporal("pilot report", id, "resolved_at",
			"resolution at %s precedes the report at %s", at.Format(time.RFC3339), p.ReportedAt.Format(time.RFC3339))
	}

	release, err := s.locks.Acquire(locks.AircraftKey(p.AircraftID))
	if err != nil {
		return err
	}
	defer release()

	if err := s.db.InTx(ctx, func(tx *database.Session) error {
		return tx.Pireps.Resolve(ctx, id, at)
	}); err != nil {
		return err
	}

	slog.Info("Pilot report resolved", "aircraft_id", p.AircraftID, "pirep_id", id)
	s.assessor.Invalidate(p.AircraftID)
	return nil
}
