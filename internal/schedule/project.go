package schedule

import (
	"context"
	"sort"
	"time"

	"fleet_ledger/internal/database"
	"fleet_ledger/internal/evaluator"
	"fleet_ledger/internal/models"
)

// Projection is a schedule as it stands at a given time, computed without
// writing anything.
type Projection struct {
	Schedule       *models.Schedule      `json:"schedule"`
	Trigger        *models.Trigger       `json:"trigger"`
	Status         models.ScheduleStatus `json:"status"`
	Due            models.DuePoint       `json:"due"`
	RemainingUnits *int64                `json:"remaining_units,omitempty"`
	RemainingTime  *time.Duration        `json:"remaining_time,omitempty"`
}

// mounted is a component currently installed on an aircraft.
type mounted struct {
	segment   *models.InstallationSegment
	component *models.Component
}

// fleetView is the usage state of one aircraft read in a single pass.
type fleetView struct {
	aircraft  *models.Aircraft
	installed map[string]mounted // by component id
	order     []string           // component ids, by location
	triggers  map[string]*models.Trigger
}

func loadView(ctx context.Context, s *database.Session, aircraftID string) (*fleetView, error) {
	ac, err := s.Aircraft.Get(ctx, aircraftID)
	if err != nil {
		return nil, err
	}
	segments, err := s.Segments.OpenForAircraft(ctx, aircraftID)
	if err != nil {
		return nil, err
	}

	v := &fleetView{
		aircraft:  ac,
		installed: make(map[string]mounted, len(segments)),
		triggers:  make(map[string]*models.Trigger),
	}
	for _, seg := range segments {
		c, err := s.Components.Get(ctx, seg.ComponentID)
		if err != nil {
			return nil, err
		}
		v.installed[c.ID] = mounted{segment: seg, component: c}
		v.order = append(v.order, c.ID)
	}
	return v, nil
}

func (v *fleetView) trigger(ctx context.Context, s *database.Session, id string) (*models.Trigger, error) {
	if t, ok := v.triggers[id]; ok {
		return t, nil
	}
	t, err := s.Programs.Trigger(ctx, id)
	if err != nil {
		return nil, err
	}
	v.triggers[id] = t
	return t, nil
}

// snapshot returns the usage source of a schedule. ok is false when the
// scoped component is not installed on the aircraft, or no longer sits
// where the trigger's scope points.
func (v *fleetView) snapshot(sch *models.Schedule, t *models.Trigger, at time.Time) (evaluator.Snapshot, bool) {
	if sch.ComponentID == "" {
		return evaluator.Snapshot{At: at, Usage: v.aircraft.Totals}, true
	}
	m, ok := v.installed[sch.ComponentID]
	if !ok || !t.Scope.Matches(m.component.Type, m.segment.Location) {
		return evaluator.Snapshot{At: at}, false
	}
	return evaluator.Snapshot{At: at, Usage: m.component.Totals}, true
}

func completionOf(sch *models.Schedule) evaluator.Completion {
	if sch.LastCompletedAt == nil {
		return evaluator.Completion{}
	}
	c := evaluator.Completion{At: *sch.LastCompletedAt, DueDate: sch.LastCompletedDueDate}
	if sch.LastCompletedValue != nil {
		c.Value = *sch.LastCompletedValue
	}
	return c
}

// project evaluates sch at time at. IN_PROGRESS schedules keep their status;
// a schedule whose usage source is absent is SUSPENDED.
func project(sch *models.Schedule, t *models.Trigger, v *fleetView, at time.Time) Projection {
	p := Projection{Schedule: sch, Trigger: t}

	snap, ok := v.snapshot(sch, t, at)
	switch {
	case sch.Status == models.ScheduleInProgress:
		p.Status, p.Due = sch.Status, sch.Due
	case !ok:
		p.Status = models.ScheduleSuspended
		return p
	default:
		res := evaluator.Evaluate(*t, snap, completionOf(sch), sch.AnchorAt)
		p.Status, p.Due = res.Status, res.Due
	}
	if ok {
		p.RemainingUnits, p.RemainingTime = evaluator.Remaining(*t, p.Due, snap)
	}
	return p
}

// ProjectAircraft evaluates every active schedule of an aircraft at time at.
// It reads through s and writes nothing.
func ProjectAircraft(ctx context.Context, s *database.Session, aircraftID string, at time.Time) ([]Projection, error) {
	v, err := loadView(ctx, s, aircraftID)
	if err != nil {
		return nil, err
	}
	schedules, err := s.Schedules.ListForAircraft(ctx, aircraftID)
	if err != nil {
		return nil, err
	}

	out := make([]Projection, 0, len(schedules))
	for _, sch := range schedules {
		if !sch.Active {
			continue
		}
		t, err := v.trigger(ctx, s, sch.TriggerID)
		if err != nil {
			return nil, err
		}
		out = append(out, project(sch, t, v, at))
	}
	return out, nil
}

// sortByUrgency orders projections by status severity, then priority.
func sortByUrgency(ps []Projection) {
	sort.SliceStable(ps, func(i, j int) bool {
		si, sj := ps[i].Status.Severity(), ps[j].Status.Severity()
		if si != sj {
			return si > sj
		}
		return ps[i].Trigger.Priority.Rank() > ps[j].Trigger.Priority.Rank()
	})
}
