// Package installation records where components are mounted. Segments are
// append-only: installing opens one, removing closes it, and a component's
// lifetime usage is always its first segment's inherited usage plus what
// every segment accumulated.
package installation

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"fleet_ledger/internal/clock"
	"fleet_ledger/internal/database"
	"fleet_ledger/internal/faults"
	"fleet_ledger/internal/locks"
	"fleet_ledger/internal/models"
	"fleet_ledger/internal/schedule"

	"github.com/google/uuid"
)

type Ledger struct {
	db     *database.DB
	locks  *locks.Manager
	clock  clock.Clock
	engine *schedule.Engine
}

func NewLedger(db *database.DB, lm *locks.Manager, clk clock.Clock, engine *schedule.Engine) *Ledger {
	return &Ledger{db: db, locks: lm, clock: clk, engine: engine}
}

// Register adds a component to inventory.
func (l *Ledger) Register(ctx context.Context, c *models.Component) error {
	if strings.TrimSpace(c.SerialNumber) == "" {
		return faults.Validation("component", c.ID, "serial_number", "serial number is required")
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = l.clock.Now()
	}
	if err := l.db.Session().Components.Insert(ctx, c); err != nil {
		return err
	}
	slog.Info("Component registered", "component_id", c.ID, "serial", c.SerialNumber, "type", c.Type)
	return nil
}

// Install mounts a component at (aircraft, location) and opens a segment
// that inherits the component's lifetime totals.
func (l *Ledger) Install(ctx context.Context, componentID, aircraftID, location string, at time.Time, installedBy string) (*models.InstallationSegment, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, faults.Validation("component", componentID, "location", "location is required")
	}
	if at.IsZero() {
		return nil, faults.Validation("component", componentID, "installed_at", "install time is required")
	}

	release, err := l.locks.Acquire(locks.AircraftKey(aircraftID), locks.ComponentKey(componentID))
	if err != nil {
		return nil, err
	}
	defer release()

	var seg *models.InstallationSegment
	err = l.db.InTx(ctx, func(s *database.Session) error {
		c, err := s.Components.Get(ctx, componentID)
		if err != nil {
			return err
		}
		if c.Status.Terminal() {
			return faults.NotFound("component", componentID, "component is %s and cannot be installed", c.Status)
		}
		if _, err := s.Aircraft.Get(ctx, aircraftID); err != nil {
			return err
		}

		open, err := s.Segments.OpenForComponent(ctx, componentID)
		if err != nil {
			return err
		}
		if open != nil {
			return faults.Conflict("component", componentID,
				"already installed on %s at %s", open.AircraftID, open.Location)
		}
		occupied, err := s.Segments.OpenAtLocation(ctx, aircraftID, location)
		if err != nil {
			return err
		}
		if occupied != nil {
			return faults.Conflict("aircraft", aircraftID,
				"location %s is occupied by component %s", location, occupied.ComponentID)
		}

		history, err := s.Segments.History(ctx, componentID)
		if err != nil {
			return err
		}
		if n := len(history); n > 0 {
			if last := history[n-1]; last.RemovedAt != nil && at.Before(*last.RemovedAt) {
				return faults.Temporal("component", componentID, "installed_at",
					"install at %s precedes removal from %s at %s", at.Format(time.RFC3339), last.AircraftID, last.RemovedAt.Format(time.RFC3339))
			}
		}

		seg = &models.InstallationSegment{
			ID:          uuid.NewString(),
			ComponentID: componentID,
			AircraftID:  aircraftID,
			Location:    location,
			InstalledAt: at.UTC(),
			InstalledBy: installedBy,
			Inherited:   c.Totals,
		}
		if err := s.Segments.Insert(ctx, seg); err != nil {
			return err
		}
		if err := s.Components.SetStatus(ctx, componentID, models.ComponentInUse, at); err != nil {
			return err
		}

		_, err = l.engine.SyncAircraft(ctx, s, aircraftID, installedBy)
		return err
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Component installed",
		"component_id", componentID,
		"aircraft_id", aircraftID,
		"location", location,
		"segment_id", seg.ID)
	l.engine.Invalidate(aircraftID)
	return seg, nil
}

// Remove closes the component's open segment. Component status is left as
// it is.
func (l *Ledger) Remove(ctx context.Context, componentID string, at time.Time, removedBy string) (*models.InstallationSegment, error) {
	current, err := l.db.Session().Segments.OpenForComponent(ctx, componentID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, faults.NotFound("component", componentID, "component is not installed")
	}

	release, err := l.locks.Acquire(locks.AircraftKey(current.AircraftID), locks.ComponentKey(componentID))
	if err != nil {
		return nil, err
	}
	defer release()

	var seg *models.InstallationSegment
	err = l.db.InTx(ctx, func(s *database.Session) error {
		open, err := s.Segments.OpenForComponent(ctx, componentID)
		if err != nil {
			return err
		}
		if open == nil {
			return faults.NotFound("component", componentID, "component is not installed")
		}
		if open.ID != current.ID {
			return faults.Conflict("component", componentID, "installation changed while waiting for lock")
		}
		if at.Before(open.InstalledAt) {
			return faults.Temporal("component", componentID, "removed_at",
				"removal at %s precedes install at %s", at.Format(time.RFC3339), open.InstalledAt.Format(time.RFC3339))
		}

		if err := s.Segments.Close(ctx, open.ID, at, removedBy); err != nil {
			return err
		}
		seg, err = s.Segments.Get(ctx, open.ID)
		if err != nil {
			return err
		}

		_, err = l.engine.SyncAircraft(ctx, s, open.AircraftID, removedBy)
		return err
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Component removed",
		"component_id", componentID,
		"aircraft_id", seg.AircraftID,
		"segment_id", seg.ID)
	l.engine.Invalidate(seg.AircraftID)
	return seg, nil
}

// CurrentInstallation returns the open segment of a component, or nil.
func (l *Ledger) CurrentInstallation(ctx context.Context, componentID string) (*models.InstallationSegment, error) {
	s := l.db.Session()
	if _, err := s.Components.Get(ctx, componentID); err != nil {
		return nil, err
	}
	return s.Segments.OpenForComponent(ctx, componentID)
}

// History returns every segment of a component, oldest first.
func (l *Ledger) History(ctx context.Context, componentID string) ([]*models.InstallationSegment, error) {
	s := l.db.Session()
	if _, err := s.Components.Get(ctx, componentID); err != nil {
		return nil, err
	}
	return s.Segments.History(ctx, componentID)
}

func (l *Ledger) AnnotateSegment(ctx context.Context, segmentID, notes string) error {
	return l.db.Session().Segments.Annotate(ctx, segmentID, notes)
}

// SetStatus changes a component's status. SCRAPPED and LOST are final and
// only reachable once the component is removed; IN_USE is set by Install.
func (l *Ledger) SetStatus(ctx context.Context, componentID string, status models.ComponentStatus) error {
	if !status.Valid() {
		return faults.Validation("component", componentID, "status", "unknown component status %q", status)
	}
	if status == models.ComponentInUse {
		return faults.Validation("component", componentID, "status", "IN_USE is set by installing the component")
	}

	return l.withComponent(ctx, componentID, func(s *database.Session, c *models.Component, open *models.InstallationSegment) error {
		if c.Status.Terminal() && c.Status != status {
			return faults.Validation("component", componentID, "status", "component is %s, which is final", c.Status)
		}
		if status.Terminal() && open != nil {
			return faults.Conflict("component", componentID,
				"remove the component from %s before marking it %s", open.AircraftID, status)
		}
		return s.Components.SetStatus(ctx, componentID, status, l.clock.Now())
	})
}

// SetAirworthy records an inspection verdict on a component.
func (l *Ledger) SetAirworthy(ctx context.Context, componentID string, airworthy bool) error {
	return l.withComponent(ctx, componentID, func(s *database.Session, c *models.Component, open *models.InstallationSegment) error {
		return s.Components.SetAirworthy(ctx, componentID, airworthy, l.clock.Now())
	})
}

// withComponent locks a component (and the aircraft it is mounted on) and
// runs fn in one transaction.
func (l *Ledger) withComponent(ctx context.Context, componentID string, fn func(s *database.Session, c *models.Component, open *models.InstallationSegment) error) error {
	current, err := l.db.Session().Segments.OpenForComponent(ctx, componentID)
	if err != nil {
		return err
	}

	keys := []string{locks.ComponentKey(componentID)}
	aircraftID := ""
	if current != nil {
		aircraftID = current.AircraftID
		keys = append(keys, locks.AircraftKey(aircraftID))
	}
	release, err := l.locks.Acquire(keys...)
	if err != nil {
		return err
	}
	defer release()

	err = l.db.InTx(ctx, func(s *database.Session) error {
		c, err := s.Components.Get(ctx, componentID)
		if err != nil {
			return err
		}
		open, err := s.Segments.OpenForComponent(ctx, componentID)
		if err != nil {
			return err
		}
		if (open == nil) != (current == nil) || (open != nil && open.ID != current.ID) {
			return faults.Conflict("component", componentID, "installation changed while waiting for lock")
		}
		return fn(s, c, open)
	})
	if err != nil {
		return err
	}

	if aircraftID != "" {
		l.engine.Invalidate(aircraftID)
	}
	return nil
}
