// Package usage applies flight-log deltas to aircraft, their open
// installation segments and the mounted components' lifetime totals.
package usage

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"time"

	"fleet_ledger/internal/clock"
	"fleet_ledger/internal/database"
	"fleet_ledger/internal/faults"
	"fleet_ledger/internal/locks"
	"fleet_ledger/internal/models"
	"fleet_ledger/internal/schedule"
)

type Accumulator struct {
	db     *database.DB
	locks  *locks.Manager
	clock  clock.Clock
	engine *schedule.Engine
}

func NewAccumulator(db *database.DB, lm *locks.Manager, clk clock.Clock, engine *schedule.Engine) *Accumulator {
	return &Accumulator{db: db, locks: lm, clock: clk, engine: engine}
}

var maxDeltaHours = float64(models.MaxCounter) / float64(models.HoursPerUnit)

func validate(aircraftID string, delta models.UsageDelta, at time.Time) error {
	if math.IsNaN(delta.Hours) || math.IsInf(delta.Hours, 0) || delta.Hours < 0 {
		return faults.Validation("aircraft", aircraftID, "hours", "hours must be a non-negative number, got %v", delta.Hours)
	}
	if delta.Hours > maxDeltaHours {
		return faults.Validation("aircraft", aircraftID, "hours", "hours %v exceeds the counter limit", delta.Hours)
	}
	if delta.Cycles < 0 {
		return faults.Validation("aircraft", aircraftID, "cycles", "cycles must be non-negative, got %d", delta.Cycles)
	}
	if delta.Cycles > models.MaxCounter {
		return faults.Validation("aircraft", aircraftID, "cycles", "cycles %d exceeds the counter limit", delta.Cycles)
	}
	for loc, n := range delta.BatteryCycles {
		if strings.TrimSpace(loc) == "" {
			return faults.Validation("aircraft", aircraftID, "battery_cycles", "battery location is empty")
		}
		if n < 0 || n > models.MaxCounter {
			return faults.Validation("aircraft", aircraftID, "battery_cycles",
				"battery cycles at %s out of range, got %d", loc, n)
		}
	}
	if at.IsZero() {
		return faults.Validation("aircraft", aircraftID, "at", "usage time is required")
	}
	return nil
}

// ApplyUsage adds one flight-log delta to the aircraft, every open segment
// on it and each mounted component, then re-evaluates the aircraft's
// schedules. Everything commits together or not at all.
func (a *Accumulator) ApplyUsage(ctx context.Context, aircraftID string, delta models.UsageDelta, at time.Time) (*models.UsageEvent, error) {
	if err := validate(aircraftID, delta, at); err != nil {
		return nil, err
	}

	releaseAircraft, err := a.locks.Acquire(locks.AircraftKey(aircraftID))
	if err != nil {
		return nil, err
	}
	defer releaseAircraft()

	// Installs and removals on this aircraft need its lock, so the set of
	// open segments cannot change from here on.
	open, err := a.db.Session().Segments.OpenForAircraft(ctx, aircraftID)
	if err != nil {
		return nil, err
	}
	componentKeys := make([]string, 0, len(open))
	for _, seg := range open {
		componentKeys = append(componentKeys, locks.ComponentKey(seg.ComponentID))
	}
	releaseComponents, err := a.locks.Acquire(componentKeys...)
	if err != nil {
		return nil, err
	}
	defer releaseComponents()

	hours := models.HoursFromFloat(delta.Hours)
	event := &models.UsageEvent{
		AircraftID:    aircraftID,
		Hours:         hours,
		Cycles:        delta.Cycles,
		BatteryCycles: delta.BatteryCycles,
		At:            at.UTC(),
	}

	var changed int
	err = a.db.InTx(ctx, func(s *database.Session) error {
		ac, err := s.Aircraft.Get(ctx, aircraftID)
		if err != nil {
			return err
		}
		if field := ac.Totals.Add(models.Usage{Hours: hours, Cycles: delta.Cycles}).Overflow(); field != "" {
			return faults.Validation("aircraft", aircraftID, field, "aircraft %s total would exceed the counter limit", field)
		}
		segments, err := s.Segments.OpenForAircraft(ctx, aircraftID)
		if err != nil {
			return err
		}

		byLocation := make(map[string]*models.Component, len(segments))
		components := make(map[string]*models.Component, len(segments))
		for _, seg := range segments {
			if at.Before(seg.InstalledAt) {
				return faults.Temporal("aircraft", aircraftID, "at",
					"usage at %s precedes install of %s at %s", at.Format(time.RFC3339), seg.ComponentID, seg.InstalledAt.Format(time.RFC3339))
			}
			c, err := s.Components.Get(ctx, seg.ComponentID)
			if err != nil {
				return err
			}
			d := models.Usage{Hours: hours, Cycles: delta.Cycles}
			if c.Type == models.ComponentBattery {
				d.BatteryCycles = delta.BatteryCycles[seg.Location]
			}
			if field := c.Totals.Add(d).Overflow(); field != "" {
				return faults.Validation("aircraft", aircraftID, field,
					"component %s %s total would exceed the counter limit", c.ID, field)
			}
			byLocation[seg.Location] = c
			components[c.ID] = c
		}

		for loc := range delta.BatteryCycles {
			c, ok := byLocation[loc]
			if !ok {
				return faults.Validation("aircraft", aircraftID, "battery_cycles", "no component installed at %s", loc)
			}
			if c.Type != models.ComponentBattery {
				return faults.Validation("aircraft", aircraftID, "battery_cycles",
					"component %s at %s is a %s, not a BATTERY", c.ID, loc, c.Type)
			}
		}

		if err := s.Aircraft.AddUsage(ctx, aircraftID, models.Usage{Hours: hours, Cycles: delta.Cycles}, at); err != nil {
			return err
		}

		for _, seg := range segments {
			d := models.Usage{Hours: hours, Cycles: delta.Cycles}
			if components[seg.ComponentID].Type == models.ComponentBattery {
				d.BatteryCycles = delta.BatteryCycles[seg.Location]
			}
			if err := s.Segments.AddUsage(ctx, seg.ID, d); err != nil {
				return err
			}
			if err := s.Components.AddUsage(ctx, seg.ComponentID, d, at); err != nil {
				return err
			}
		}

		if err := s.Usage.Insert(ctx, event); err != nil {
			return err
		}

		changed, err = a.engine.SyncAircraft(ctx, s, aircraftID, schedule.SystemActor)
		return err
	})
	if err != nil {
		return nil, err
	}

	slog.Debug("Usage applied",
		"aircraft_id", aircraftID,
		"hours", hours,
		"cycles", delta.Cycles,
		"segments", len(open),
		"schedules_changed", changed)
	a.engine.Invalidate(aircraftID)
	return event, nil
}

// Events returns the usage deltas applied to an aircraft, oldest first.
func (a *Accumulator) Events(ctx context.Context, aircraftID string) ([]*models.UsageEvent, error) {
	s := a.db.Session()
	if _, err := s.Aircraft.Get(ctx, aircraftID); err != nil {
		return nil, err
	}
	return s.Usage.ListForAircraft(ctx, aircraftID)
}
