// Package schedule owns maintenance schedules: their creation from attached
// programs, status transitions driven by re-evaluation, and the work-order
// lifecycle that closes a due cycle.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"fleet_ledger/internal/clock"
	"fleet_ledger/internal/database"
	"fleet_ledger/internal/evaluator"
	"fleet_ledger/internal/faults"
	"fleet_ledger/internal/locks"
	"fleet_ledger/internal/models"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
)

// SystemActor is recorded on transitions caused by re-evaluation.
const SystemActor = "system"

// Invalidator is told which aircraft changed after a commit.
type Invalidator interface {
	Invalidate(aircraftIDs ...string)
}

type nopInvalidator struct{}

func (nopInvalidator) Invalidate(...string) {}

type Engine struct {
	db      *database.DB
	locks   *locks.Manager
	clock   clock.Clock
	policy  Policy
	machine *Machine
	inv     Invalidator
}

func NewEngine(db *database.DB, lm *locks.Manager, clk clock.Clock, policy Policy, inv Invalidator) *Engine {
	if inv == nil {
		inv = nopInvalidator{}
	}
	return &Engine{
		db:      db,
		locks:   lm,
		clock:   clk,
		policy:  policy,
		machine: NewMachine(),
		inv:     inv,
	}
}

// Invalidate forwards committed changes to the configured Invalidator.
func (e *Engine) Invalidate(aircraftIDs ...string) {
	e.inv.Invalidate(aircraftIDs...)
}

// SyncAircraft creates the schedules the aircraft's attached programs call
// for and re-evaluates every active one. It runs inside the caller's
// transaction; the caller holds the aircraft lock. Returns how many
// schedules changed.
func (e *Engine) SyncAircraft(ctx context.Context, s *database.Session, aircraftID, actor string) (int, error) {
	now := e.clock.Now()

	v, err := loadView(ctx, s, aircraftID)
	if err != nil {
		return 0, err
	}
	programs, err := s.Programs.Attached(ctx, aircraftID)
	if err != nil {
		return 0, err
	}

	for _, p := range programs {
		for i := range p.Triggers {
			t := &p.Triggers[i]
			v.triggers[t.ID] = t
			if t.Scope.IsAircraft() {
				if err := e.ensure(ctx, s, aircraftID, t, "", now, now, actor); err != nil {
					return 0, err
				}
				continue
			}
			for _, cid := range v.order {
				m := v.installed[cid]
				if !t.Scope.Matches(m.component.Type, m.segment.Location) {
					continue
				}
				if err := e.ensure(ctx, s, aircraftID, t, cid, m.segment.InstalledAt, now, actor); err != nil {
					return 0, err
				}
			}
		}
	}

	schedules, err := s.Schedules.ListForAircraft(ctx, aircraftID)
	if err != nil {
		return 0, err
	}

	changed := 0
	for _, sch := range schedules {
		if !sch.Active {
			continue
		}
		t, err := v.trigger(ctx, s, sch.TriggerID)
		if err != nil {
			return 0, err
		}
		ok, err := e.apply(ctx, s, sch, t, v, now, actor)
		if err != nil {
			return 0, err
		}
		if ok {
			changed++
		}
	}
	return changed, nil
}

// ensure creates the schedule for (aircraft, trigger, component) if missing.
// A new component-scoped schedule picks up the component's last completion
// of the trigger, wherever it was performed.
func (e *Engine) ensure(ctx context.Context, s *database.Session, aircraftID string, t *models.Trigger, componentID string, anchor, now time.Time, actor string) error {
	existing, err := s.Schedules.Find(ctx, aircraftID, t.ID, componentID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	sch := &models.Schedule{
		ID:          uuid.NewString(),
		AircraftID:  aircraftID,
		TriggerID:   t.ID,
		ComponentID: componentID,
		Status:      models.ScheduleScheduled,
		Active:      true,
		AnchorAt:    anchor,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	rec, err := s.Records.LatestFor(ctx, aircraftID, t.ID, componentID)
	if err != nil {
		return err
	}
	if rec != nil {
		completed := rec.CompletedAt
		sch.LastCompletedAt = &completed
		sch.LastCompletedValue = rec.Value
		sch.LastCompletedDueDate = rec.DueDate
	}

	if err := s.Schedules.Insert(ctx, sch); err != nil {
		return err
	}
	if err := s.Schedules.AppendEvent(ctx, &models.ScheduleEvent{
		ScheduleID: sch.ID,
		To:         models.ScheduleScheduled,
		At:         now,
		Actor:      actor,
		Note:       "created",
	}); err != nil {
		return err
	}

	slog.Info("Schedule created",
		"schedule_id", sch.ID,
		"aircraft_id", aircraftID,
		"trigger", t.Name,
		"component_id", componentID)
	return nil
}

// apply writes the evaluated status and due point of sch. Re-running it with
// unchanged inputs writes nothing.
func (e *Engine) apply(ctx context.Context, s *database.Session, sch *models.Schedule, t *models.Trigger, v *fleetView, now time.Time, actor string) (bool, error) {
	if sch.Status == models.ScheduleInProgress {
		return false, nil
	}

	p := project(sch, t, v, now)
	if p.Status == sch.Status && p.Due.Equal(sch.Due) {
		slog.Debug("Schedule unchanged", "schedule_id", sch.ID, "status", sch.Status)
		return false, nil
	}
	if !e.machine.Evaluable(sch.Status, p.Status) {
		return false, fmt.Errorf("failed to re-evaluate schedule %s: %w", sch.ID,
			&TransitionError{From: sch.Status, To: p.Status})
	}

	due := p.Due
	err := e.transition(ctx, s, sch, p.Status, now, actor, "", func(sch *models.Schedule) {
		sch.Due = due
	})
	return err == nil, err
}

// transition persists sch moving to status to, guarded on its stored status,
// and appends the audit event.
func (e *Engine) transition(ctx context.Context, s *database.Session, sch *models.Schedule, to models.ScheduleStatus, at time.Time, actor, note string, mutate func(*models.Schedule)) error {
	from := sch.Status
	if err := e.machine.ValidateTransition(from, to); err != nil {
		return faults.NotFound("schedule", sch.ID, "schedule not in expected state: %v", err)
	}

	if mutate != nil {
		mutate(sch)
	}
	sch.Status = to
	sch.UpdatedAt = at
	if err := s.Schedules.Update(ctx, sch, from); err != nil {
		return err
	}
	if from == to {
		return nil
	}

	if err := s.Schedules.AppendEvent(ctx, &models.ScheduleEvent{
		ScheduleID: sch.ID,
		From:       from,
		To:         to,
		At:         at,
		Actor:      actor,
		Note:       note,
	}); err != nil {
		return err
	}

	slog.Info("Schedule transitioned",
		"schedule_id", sch.ID,
		"aircraft_id", sch.AircraftID,
		"from", from,
		"to", to)
	return nil
}

func (e *Engine) setActive(ctx context.Context, s *database.Session, sch *models.Schedule, active bool, actor string) error {
	if sch.Active == active {
		return nil
	}
	if !active && sch.Status == models.ScheduleInProgress {
		return faults.Conflict("schedule", sch.ID, "work order %s is in progress", sch.WorkOrderID)
	}

	now := e.clock.Now()
	sch.Active = active
	sch.UpdatedAt = now
	if err := s.Schedules.Update(ctx, sch, sch.Status); err != nil {
		return err
	}

	note := "deactivated"
	if active {
		note = "activated"
	}
	return s.Schedules.AppendEvent(ctx, &models.ScheduleEvent{
		ScheduleID: sch.ID,
		From:       sch.Status,
		To:         sch.Status,
		At:         now,
		Actor:      actor,
		Note:       note,
	})
}

// withSchedule locks the schedule's aircraft (and component, when scoped)
// and runs fn in one transaction against a fresh copy of the schedule.
func (e *Engine) withSchedule(ctx context.Context, scheduleID string, fn func(s *database.Session, sch *models.Schedule) error) error {
	sch, err := e.db.Session().Schedules.Get(ctx, scheduleID)
	if err != nil {
		return err
	}

	keys := []string{locks.AircraftKey(sch.AircraftID)}
	if sch.ComponentID != "" {
		keys = append(keys, locks.ComponentKey(sch.ComponentID))
	}
	release, err := e.locks.Acquire(keys...)
	if err != nil {
		return err
	}
	defer release()

	err = e.db.InTx(ctx, func(s *database.Session) error {
		cur, err := s.Schedules.Get(ctx, scheduleID)
		if err != nil {
			return err
		}
		return fn(s, cur)
	})
	if err != nil {
		return err
	}

	e.inv.Invalidate(sch.AircraftID)
	return nil
}

// AttachProgram binds a program to an aircraft of the matching model and
// creates its schedules.
func (e *Engine) AttachProgram(ctx context.Context, programID, aircraftID, actor string) ([]*models.Schedule, error) {
	release, err := e.locks.Acquire(locks.AircraftKey(aircraftID))
	if err != nil {
		return nil, err
	}
	defer release()

	var out []*models.Schedule
	err = e.db.InTx(ctx, func(s *database.Session) error {
		ac, err := s.Aircraft.Get(ctx, aircraftID)
		if err != nil {
			return err
		}
		p, err := s.Programs.Get(ctx, programID)
		if err != nil {
			return err
		}
		if !strings.EqualFold(p.AircraftModel, ac.Model) {
			return faults.Validation("aircraft", aircraftID, "model",
				"program %s targets model %s, aircraft is %s", p.Name, p.AircraftModel, ac.Model)
		}

		if err := s.Programs.Attach(ctx, aircraftID, p.ID, e.clock.Now()); err != nil {
			return err
		}

		triggerIDs := programTriggers(p)
		existing, err := s.Schedules.ListForAircraft(ctx, aircraftID)
		if err != nil {
			return err
		}
		for _, sch := range existing {
			if triggerIDs.Contains(sch.TriggerID) {
				if err := e.setActive(ctx, s, sch, true, actor); err != nil {
					return err
				}
			}
		}

		if _, err := e.SyncAircraft(ctx, s, aircraftID, actor); err != nil {
			return err
		}

		all, err := s.Schedules.ListForAircraft(ctx, aircraftID)
		if err != nil {
			return err
		}
		for _, sch := range all {
			if triggerIDs.Contains(sch.TriggerID) {
				out = append(out, sch)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Program attached", "program_id", programID, "aircraft_id", aircraftID, "schedules", len(out))
	e.inv.Invalidate(aircraftID)
	return out, nil
}

// DetachProgram unbinds a program and deactivates its schedules. It fails
// with a ConflictError while any of them has work in progress.
func (e *Engine) DetachProgram(ctx context.Context, programID, aircraftID, actor string) error {
	release, err := e.locks.Acquire(locks.AircraftKey(aircraftID))
	if err != nil {
		return err
	}
	defer release()

	err = e.db.InTx(ctx, func(s *database.Session) error {
		p, err := s.Programs.Get(ctx, programID)
		if err != nil {
			return err
		}
		if err := s.Programs.Detach(ctx, aircraftID, p.ID, e.clock.Now()); err != nil {
			return err
		}

		triggerIDs := programTriggers(p)
		schedules, err := s.Schedules.ListForAircraft(ctx, aircraftID)
		if err != nil {
			return err
		}
		for _, sch := range schedules {
			if triggerIDs.Contains(sch.TriggerID) {
				if err := e.setActive(ctx, s, sch, false, actor); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	slog.Info("Program detached", "program_id", programID, "aircraft_id", aircraftID)
	e.inv.Invalidate(aircraftID)
	return nil
}

// ReevaluateAircraft brings every active schedule of an aircraft up to date
// with the clock and its usage. Returns how many schedules changed.
func (e *Engine) ReevaluateAircraft(ctx context.Context, aircraftID string) (int, error) {
	release, err := e.locks.Acquire(locks.AircraftKey(aircraftID))
	if err != nil {
		return 0, err
	}
	defer release()

	var changed int
	err = e.db.InTx(ctx, func(s *database.Session) error {
		var err error
		changed, err = e.SyncAircraft(ctx, s, aircraftID, SystemActor)
		return err
	})
	if err != nil {
		return 0, err
	}

	if changed > 0 {
		e.inv.Invalidate(aircraftID)
	}
	return changed, nil
}

// Reevaluate re-evaluates the aircraft owning scheduleID and returns the
// schedule's current state.
func (e *Engine) Reevaluate(ctx context.Context, scheduleID string) (*models.Schedule, error) {
	sch, err := e.db.Session().Schedules.Get(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	if _, err := e.ReevaluateAircraft(ctx, sch.AircraftID); err != nil {
		return nil, err
	}
	return e.db.Session().Schedules.Get(ctx, scheduleID)
}

// StartWork opens a work order against a DUE or OVERDUE schedule and moves it
// to IN_PROGRESS. A schedule holds at most one open work order.
func (e *Engine) StartWork(ctx context.Context, scheduleID, openedBy, assignee string) (*models.WorkOrder, error) {
	var wo *models.WorkOrder
	err := e.withSchedule(ctx, scheduleID, func(s *database.Session, sch *models.Schedule) error {
		if !sch.Active {
			return faults.Conflict("schedule", sch.ID, "schedule is deactivated")
		}
		open, err := s.WorkOrders.OpenForSchedule(ctx, sch.ID)
		if err != nil {
			return err
		}
		if open != nil {
			return faults.Conflict("schedule", sch.ID, "work order %s is already open", open.ID)
		}

		// Bring the status up to date before judging it.
		v, err := loadView(ctx, s, sch.AircraftID)
		if err != nil {
			return err
		}
		t, err := v.trigger(ctx, s, sch.TriggerID)
		if err != nil {
			return err
		}
		now := e.clock.Now()
		if _, err := e.apply(ctx, s, sch, t, v, now, SystemActor); err != nil {
			return err
		}
		if sch.Status != models.ScheduleDue && sch.Status != models.ScheduleOverdue {
			return faults.NotFound("schedule", sch.ID, "schedule is %s, not DUE or OVERDUE", sch.Status)
		}

		wo = &models.WorkOrder{
			ID:         uuid.NewString(),
			ScheduleID: sch.ID,
			AircraftID: sch.AircraftID,
			Status:     models.WorkOrderOpen,
			OpenedBy:   openedBy,
			Assignee:   assignee,
			OpenedAt:   now,
		}
		if err := s.WorkOrders.Insert(ctx, wo); err != nil {
			return err
		}

		return e.transition(ctx, s, sch, models.ScheduleInProgress, now, openedBy, "work order "+wo.ID,
			func(sch *models.Schedule) {
				sch.WorkOrderID = wo.ID
				sch.Assignee = assignee
				sch.SkipReason = ""
			})
	})
	if err != nil {
		return nil, err
	}
	return wo, nil
}

// Complete closes the open work order of an IN_PROGRESS schedule, records
// the completion and returns the schedule to evaluation with a fresh due
// point. RII triggers need an inspector distinct from the performer.
func (e *Engine) Complete(ctx context.Context, scheduleID string, performer models.SignOff, inspector *models.SignOff) (*models.MaintenanceRecord, error) {
	var rec *models.MaintenanceRecord
	err := e.withSchedule(ctx, scheduleID, func(s *database.Session, sch *models.Schedule) error {
		if sch.Status != models.ScheduleInProgress {
			return faults.NotFound("schedule", sch.ID, "schedule is %s, not IN_PROGRESS", sch.Status)
		}

		v, err := loadView(ctx, s, sch.AircraftID)
		if err != nil {
			return err
		}
		t, err := v.trigger(ctx, s, sch.TriggerID)
		if err != nil {
			return err
		}
		if err := e.policy.CheckSignOff(sch.ID, t, performer, inspector); err != nil {
			return err
		}

		wo, err := s.WorkOrders.OpenForSchedule(ctx, sch.ID)
		if err != nil {
			return err
		}
		if wo == nil {
			return faults.NotFound("schedule", sch.ID, "schedule has no open work order")
		}

		now := e.clock.Now()
		rec = &models.MaintenanceRecord{
			ID:          uuid.NewString(),
			ScheduleID:  sch.ID,
			TriggerID:   sch.TriggerID,
			AircraftID:  sch.AircraftID,
			ComponentID: sch.ComponentID,
			WorkOrderID: wo.ID,
			CompletedAt: now,
			DueDate:     sch.Due.Date,
			PerformerID: performer.UserID,
		}
		if inspector != nil {
			rec.InspectorID = inspector.UserID
		}
		if t.Type.UsageBased() {
			usage, err := sourceUsage(ctx, s, sch, v)
			if err != nil {
				return err
			}
			value := evaluator.UsageValue(t.Type, usage)
			rec.Value = &value
		}

		if err := s.Records.Insert(ctx, rec); err != nil {
			return err
		}
		if err := s.WorkOrders.Close(ctx, wo.ID, models.WorkOrderCompleted, now, rec.PerformerID, rec.InspectorID); err != nil {
			return err
		}

		err = e.transition(ctx, s, sch, models.ScheduleCompleted, now, performer.UserID, "work order "+wo.ID,
			func(sch *models.Schedule) {
				sch.LastCompletedAt = &now
				sch.LastCompletedValue = rec.Value
				sch.LastCompletedDueDate = rec.DueDate
				sch.WorkOrderID = ""
			})
		if err != nil {
			return err
		}

		_, err = e.apply(ctx, s, sch, t, v, now, performer.UserID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// sourceUsage returns the counters a schedule is measured against. A scoped
// schedule reads its component even when it has since been removed.
func sourceUsage(ctx context.Context, s *database.Session, sch *models.Schedule, v *fleetView) (models.Usage, error) {
	if sch.ComponentID == "" {
		return v.aircraft.Totals, nil
	}
	if m, ok := v.installed[sch.ComponentID]; ok {
		return m.component.Totals, nil
	}
	c, err := s.Components.Get(ctx, sch.ComponentID)
	if err != nil {
		return models.Usage{}, err
	}
	return c.Totals, nil
}

// Skip abandons the current cycle of an IN_PROGRESS schedule. The reason is
// mandatory; the next evaluation starts again from the last completion.
func (e *Engine) Skip(ctx context.Context, scheduleID, actor, reason string) error {
	if strings.TrimSpace(reason) == "" {
		return faults.Validation("schedule", scheduleID, "reason", "a reason is required to skip")
	}

	return e.withSchedule(ctx, scheduleID, func(s *database.Session, sch *models.Schedule) error {
		if sch.Status != models.ScheduleInProgress {
			return faults.NotFound("schedule", sch.ID, "schedule is %s, not IN_PROGRESS", sch.Status)
		}

		now := e.clock.Now()
		wo, err := s.WorkOrders.OpenForSchedule(ctx, sch.ID)
		if err != nil {
			return err
		}
		if wo != nil {
			if err := s.WorkOrders.Close(ctx, wo.ID, models.WorkOrderCancelled, now, "", ""); err != nil {
				return err
			}
		}

		return e.transition(ctx, s, sch, models.ScheduleSkipped, now, actor, reason, func(sch *models.Schedule) {
			sch.SkipReason = reason
			sch.WorkOrderID = ""
		})
	})
}

// Deactivate freezes a schedule: it is no longer evaluated or reported.
func (e *Engine) Deactivate(ctx context.Context, scheduleID, actor string) error {
	return e.withSchedule(ctx, scheduleID, func(s *database.Session, sch *models.Schedule) error {
		return e.setActive(ctx, s, sch, false, actor)
	})
}

// DueSchedules returns the outstanding schedules of an aircraft as they
// stand at asOf, most urgent first. It takes no locks and writes nothing.
func (e *Engine) DueSchedules(ctx context.Context, aircraftID string, asOf time.Time) ([]Projection, error) {
	if asOf.IsZero() {
		asOf = e.clock.Now()
	}
	all, err := ProjectAircraft(ctx, e.db.Session(), aircraftID, asOf)
	if err != nil {
		return nil, err
	}

	var out []Projection
	for _, p := range all {
		if p.Status.Outstanding() {
			out = append(out, p)
		}
	}
	sortByUrgency(out)
	return out, nil
}

// Events returns a schedule's audit trail, oldest first.
func (e *Engine) Events(ctx context.Context, scheduleID string) ([]models.ScheduleEvent, error) {
	s := e.db.Session()
	if _, err := s.Schedules.Get(ctx, scheduleID); err != nil {
		return nil, err
	}
	return s.Schedules.Events(ctx, scheduleID)
}

func programTriggers(p *models.MaintenanceProgram) mapset.Set[string] {
	ids := mapset.NewThreadUnsafeSet[string]()
	for _, t := range p.Triggers {
		ids.Add(t.ID)
	}
	return ids
}
