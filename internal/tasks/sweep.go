package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

// AircraftSource lists the aircraft that have schedules to evaluate.
type AircraftSource interface {
	AircraftWithActiveSchedules(ctx context.Context) ([]string, error)
}

// Reevaluator brings one aircraft's schedules up to date.
type Reevaluator interface {
	ReevaluateAircraft(ctx context.Context, aircraftID string) (int, error)
}

// ScheduleSweep re-evaluates every aircraft with active schedules so
// calendar triggers advance even when no usage is logged.
type ScheduleSweep struct {
	source   AircraftSource
	engine   Reevaluator
	interval time.Duration
}

func NewScheduleSweep(source AircraftSource, engine Reevaluator, interval time.Duration) *ScheduleSweep {
	return &ScheduleSweep{source: source, engine: engine, interval: interval}
}

func (s *ScheduleSweep) Name() string            { return "schedule_sweep" }
func (s *ScheduleSweep) Interval() time.Duration { return s.interval }

// Run re-evaluates each aircraft once. A failure on one aircraft (a lock
// timeout, typically) is logged and the sweep moves on; the failures are
// returned together.
func (s *ScheduleSweep) Run(ctx context.Context) error {
	ids, err := s.source.AircraftWithActiveSchedules(ctx)
	if err != nil {
		return fmt.Errorf("failed to list aircraft for sweep: %w", err)
	}

	seen := mapset.NewThreadUnsafeSet[string]()
	var errs []error
	changed := 0
	for _, id := range ids {
		if !seen.Add(id) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := s.engine.ReevaluateAircraft(ctx, id)
		if err != nil {
			slog.Error("Sweep failed to re-evaluate aircraft", "aircraft_id", id, "error", err)
			errs = append(errs, fmt.Errorf("aircraft %s: %w", id, err))
			continue
		}
		changed += n
	}

	slog.Info("Schedule sweep finished",
		"aircraft", seen.Cardinality(),
		"schedules_changed", changed,
		"failures", len(errs))
	return errors.Join(errs...)
}
