package schedule

import (
	"context"
	"testing"
	"time"

	"fleet_ledger/internal/clock"
	"fleet_ledger/internal/database"
	"fleet_ledger/internal/faults"
	"fleet_ledger/internal/locks"
	"fleet_ledger/internal/models"
	"fleet_ledger/internal/testutil"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	db       *database.DB
	clk      *clock.Fake
	eng      *Engine
	program  *models.MaintenanceProgram
	triggers map[string]string // name -> id
}

func newFixture(t *testing.T, triggers ...models.Trigger) *fixture {
	t.Helper()

	db := testutil.NewDB(t)
	clk := clock.NewFake(testutil.Epoch)
	eng := NewEngine(db, locks.NewManager(time.Second), clk,
		Policy{RequireInspectorRole: true, InspectorRole: "inspector"}, nil)

	testutil.SeedAircraft(t, db, "ac1")

	p := &models.MaintenanceProgram{Name: "x8-program", AircraftModel: "X8", Triggers: triggers}
	require.NoError(t, db.Session().Programs.Upsert(context.Background(), p))

	f := &fixture{db: db, clk: clk, eng: eng, program: p, triggers: make(map[string]string)}
	for _, tr := range p.Triggers {
		f.triggers[tr.Name] = tr.ID
	}
	return f
}

func (f *fixture) attach(t *testing.T, aircraftID string) {
	t.Helper()
	_, err := f.eng.AttachProgram(context.Background(), f.program.ID, aircraftID, "planner")
	require.NoError(t, err)
}

// fly applies usage the way the accumulator does, then re-evaluates.
func (f *fixture) fly(t *testing.T, aircraftID string, hours float64) {
	t.Helper()
	ctx := context.Background()
	delta := models.Usage{Hours: models.HoursFromFloat(hours), Cycles: 1}
	require.NoError(t, f.db.InTx(ctx, func(s *database.Session) error {
		if err := s.Aircraft.AddUsage(ctx, aircraftID, delta, f.clk.Now()); err != nil {
			return err
		}
		open, err := s.Segments.OpenForAircraft(ctx, aircraftID)
		if err != nil {
			return err
		}
		for _, seg := range open {
			if err := s.Segments.AddUsage(ctx, seg.ID, delta); err != nil {
				return err
			}
			if err := s.Components.AddUsage(ctx, seg.ComponentID, delta, f.clk.Now()); err != nil {
				return err
			}
		}
		_, err = f.eng.SyncAircraft(ctx, s, aircraftID, "test")
		return err
	}))
}

func (f *fixture) mount(t *testing.T, aircraftID, componentID, location string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.db.InTx(ctx, func(s *database.Session) error {
		c, err := s.Components.Get(ctx, componentID)
		if err != nil {
			return err
		}
		if err := s.Segments.Insert(ctx, &models.InstallationSegment{
			ID: uuid.NewString(), ComponentID: componentID, AircraftID: aircraftID, Location: location,
			InstalledAt: f.clk.Now(), Inherited: c.Totals,
		}); err != nil {
			return err
		}
		_, err = f.eng.SyncAircraft(ctx, s, aircraftID, "test")
		return err
	}))
}

func (f *fixture) unmount(t *testing.T, aircraftID, componentID string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.db.InTx(ctx, func(s *database.Session) error {
		seg, err := s.Segments.OpenForComponent(ctx, componentID)
		if err != nil {
			return err
		}
		if err := s.Segments.Close(ctx, seg.ID, f.clk.Now(), "test"); err != nil {
			return err
		}
		_, err = f.eng.SyncAircraft(ctx, s, aircraftID, "test")
		return err
	}))
}

func (f *fixture) schedule(t *testing.T, aircraftID, trigger, componentID string) *models.Schedule {
	t.Helper()
	sch, err := f.db.Session().Schedules.Find(context.Background(), aircraftID, f.triggers[trigger], componentID)
	require.NoError(t, err)
	require.NotNil(t, sch, "schedule for %s/%s/%s", aircraftID, trigger, componentID)
	return sch
}

func (f *fixture) events(t *testing.T, scheduleID string) []models.ScheduleEvent {
	t.Helper()
	events, err := f.eng.Events(context.Background(), scheduleID)
	require.NoError(t, err)
	return events
}

var (
	hours50 = models.Trigger{Name: "50h inspection", Type: models.TriggerFlightHours, Interval: 50, Priority: models.PriorityHigh}
	motor   = models.Trigger{Name: "motor overhaul", Type: models.TriggerFlightHours, Interval: 100, Priority: models.PriorityMedium,
		Scope: models.Scope{ComponentType: models.ComponentMotor}}
	monthly = models.Trigger{Name: "monthly check", Type: models.TriggerCalendarDays, Interval: 30, Priority: models.PriorityLow}
)

func TestAttachProgram(t *testing.T) {
	f := newFixture(t, hours50, motor)
	testutil.SeedComponent(t, f.db, "m1", models.ComponentMotor)
	f.mount(t, "ac1", "m1", "M1")

	schedules, err := f.eng.AttachProgram(context.Background(), f.program.ID, "ac1", "planner")
	require.NoError(t, err)
	require.Len(t, schedules, 2)
	for _, sch := range schedules {
		assert.Equal(t, models.ScheduleScheduled, sch.Status)
		assert.True(t, sch.Active)
		require.NotNil(t, sch.Due.Value)
	}

	scoped := f.schedule(t, "ac1", "motor overhaul", "m1")
	assert.Equal(t, int64(100*models.HoursPerUnit), *scoped.Due.Value)

	_, err = f.eng.AttachProgram(context.Background(), f.program.ID, "ac1", "planner")
	assert.ErrorIs(t, err, faults.ErrConflict)
}

func TestAttachProgram_ModelMismatch(t *testing.T) {
	f := newFixture(t, hours50)
	require.NoError(t, f.db.Session().Aircraft.Insert(context.Background(),
		&models.Aircraft{ID: "ac9", Registration: "N9", Model: "QUAD-4"}))

	_, err := f.eng.AttachProgram(context.Background(), f.program.ID, "ac9", "planner")
	assert.ErrorIs(t, err, faults.ErrValidation)

	var fe *faults.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "model", fe.Field)
}

func TestReevaluation_SingleStepLandsInOverdue(t *testing.T) {
	f := newFixture(t, hours50)
	f.attach(t, "ac1")

	f.fly(t, "ac1", 49)
	sch := f.schedule(t, "ac1", "50h inspection", "")
	assert.Equal(t, models.ScheduleScheduled, sch.Status)

	f.fly(t, "ac1", 2)
	sch = f.schedule(t, "ac1", "50h inspection", "")
	assert.Equal(t, models.ScheduleOverdue, sch.Status)

	events := f.events(t, sch.ID)
	require.Len(t, events, 2)
	assert.Equal(t, "created", events[0].Note)
	assert.Equal(t, models.ScheduleScheduled, events[1].From)
	assert.Equal(t, models.ScheduleOverdue, events[1].To)
}

func TestReevaluation_ExactlyAtDuePointIsDue(t *testing.T) {
	f := newFixture(t, hours50)
	f.attach(t, "ac1")

	f.fly(t, "ac1", 50)
	assert.Equal(t, models.ScheduleDue, f.schedule(t, "ac1", "50h inspection", "").Status)

	f.fly(t, "ac1", 0.001)
	assert.Equal(t, models.ScheduleOverdue, f.schedule(t, "ac1", "50h inspection", "").Status)
}

func TestReevaluation_Idempotent(t *testing.T) {
	f := newFixture(t, hours50, monthly)
	f.attach(t, "ac1")
	f.fly(t, "ac1", 60)

	before := f.schedule(t, "ac1", "50h inspection", "")
	eventsBefore := f.events(t, before.ID)

	changed, err := f.eng.ReevaluateAircraft(context.Background(), "ac1")
	require.NoError(t, err)
	assert.Zero(t, changed)

	changed, err = f.eng.ReevaluateAircraft(context.Background(), "ac1")
	require.NoError(t, err)
	assert.Zero(t, changed)

	after := f.schedule(t, "ac1", "50h inspection", "")
	assert.Equal(t, before.Status, after.Status)
	assert.True(t, before.Due.Equal(after.Due))
	assert.Len(t, f.events(t, after.ID), len(eventsBefore))
}

func TestReevaluation_CalendarAdvancesWithClock(t *testing.T) {
	f := newFixture(t, monthly)
	f.attach(t, "ac1")

	f.clk.Advance(31 * 24 * time.Hour)
	changed, err := f.eng.ReevaluateAircraft(context.Background(), "ac1")
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	sch := f.schedule(t, "ac1", "monthly check", "")
	assert.Equal(t, models.ScheduleOverdue, sch.Status)
	require.NotNil(t, sch.Due.Date)
	assert.True(t, testutil.Epoch.AddDate(0, 0, 30).Equal(*sch.Due.Date))
}

func TestStartWork(t *testing.T) {
	f := newFixture(t, hours50)
	f.attach(t, "ac1")
	sch := f.schedule(t, "ac1", "50h inspection", "")

	_, err := f.eng.StartWork(context.Background(), sch.ID, "lead", "tech")
	assert.ErrorIs(t, err, faults.ErrNotFound, "not due yet")

	f.fly(t, "ac1", 51)
	wo, err := f.eng.StartWork(context.Background(), sch.ID, "lead", "tech")
	require.NoError(t, err)
	assert.Equal(t, models.WorkOrderOpen, wo.Status)

	sch = f.schedule(t, "ac1", "50h inspection", "")
	assert.Equal(t, models.ScheduleInProgress, sch.Status)
	assert.Equal(t, wo.ID, sch.WorkOrderID)
	assert.Equal(t, "tech", sch.Assignee)

	_, err = f.eng.StartWork(context.Background(), sch.ID, "lead", "tech")
	assert.ErrorIs(t, err, faults.ErrConflict)
}

func TestStartWork_UnknownSchedule(t *testing.T) {
	f := newFixture(t, hours50)

	_, err := f.eng.StartWork(context.Background(), "missing", "lead", "tech")
	assert.ErrorIs(t, err, faults.ErrNotFound)
}

func TestComplete_AdvancesDuePoint(t *testing.T) {
	f := newFixture(t, hours50)
	f.attach(t, "ac1")
	f.fly(t, "ac1", 51)

	sch := f.schedule(t, "ac1", "50h inspection", "")
	prevDue := *sch.Due.Value
	wo, err := f.eng.StartWork(context.Background(), sch.ID, "lead", "tech")
	require.NoError(t, err)

	rec, err := f.eng.Complete(context.Background(), sch.ID, models.SignOff{UserID: "tech"}, nil)
	require.NoError(t, err)
	require.NotNil(t, rec.Value)
	assert.Equal(t, int64(51*models.HoursPerUnit), *rec.Value)
	assert.Equal(t, wo.ID, rec.WorkOrderID)

	after := f.schedule(t, "ac1", "50h inspection", "")
	assert.Equal(t, sch.ID, after.ID)
	assert.Equal(t, models.ScheduleScheduled, after.Status)
	require.NotNil(t, after.Due.Value)
	assert.Greater(t, *after.Due.Value, prevDue)
	assert.Equal(t, int64(101*models.HoursPerUnit), *after.Due.Value)
	assert.Empty(t, after.WorkOrderID)

	closed, err := f.db.Session().WorkOrders.Get(context.Background(), wo.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkOrderCompleted, closed.Status)

	var path []models.ScheduleStatus
	for _, e := range f.events(t, sch.ID) {
		path = append(path, e.To)
	}
	assert.Equal(t, []models.ScheduleStatus{
		models.ScheduleScheduled,
		models.ScheduleOverdue,
		models.ScheduleInProgress,
		models.ScheduleCompleted,
		models.ScheduleScheduled,
	}, path)

	_, err = f.eng.Complete(context.Background(), sch.ID, models.SignOff{UserID: "tech"}, nil)
	assert.ErrorIs(t, err, faults.ErrNotFound)
}

func TestComplete_RIIGating(t *testing.T) {
	rii := models.Trigger{Name: "prop balance", Type: models.TriggerFlightCycles, Interval: 10,
		Priority: models.PriorityCritical, RII: true, PerformerRole: "tech"}
	f := newFixture(t, rii)
	f.attach(t, "ac1")
	for i := 0; i < 10; i++ {
		f.fly(t, "ac1", 0.5)
	}

	sch := f.schedule(t, "ac1", "prop balance", "")
	require.Equal(t, models.ScheduleDue, sch.Status)
	_, err := f.eng.StartWork(context.Background(), sch.ID, "lead", "alice")
	require.NoError(t, err)

	alice := models.SignOff{UserID: "alice", Roles: []string{"tech", "inspector"}}
	bob := models.SignOff{UserID: "bob", Roles: []string{"inspector"}}
	carol := models.SignOff{UserID: "carol", Roles: []string{"tech"}}

	tests := []struct {
		name      string
		performer models.SignOff
		inspector *models.SignOff
	}{
		{"no inspector", alice, nil},
		{"performer inspects own work", alice, &alice},
		{"inspector without role", alice, &carol},
		{"performer without role", bob, &alice},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.eng.Complete(context.Background(), sch.ID, tt.performer, tt.inspector)
			assert.ErrorIs(t, err, faults.ErrAuthorization)
			assert.Equal(t, models.ScheduleInProgress, f.schedule(t, "ac1", "prop balance", "").Status)
		})
	}

	rec, err := f.eng.Complete(context.Background(), sch.ID, alice, &bob)
	require.NoError(t, err)
	assert.Equal(t, "bob", rec.InspectorID)
	assert.Equal(t, int64(10), *rec.Value)
}

func TestSkip(t *testing.T) {
	f := newFixture(t, hours50)
	f.attach(t, "ac1")
	f.fly(t, "ac1", 55)
	sch := f.schedule(t, "ac1", "50h inspection", "")

	assert.ErrorIs(t, f.eng.Skip(context.Background(), sch.ID, "lead", "parts"), faults.ErrNotFound)

	wo, err := f.eng.StartWork(context.Background(), sch.ID, "lead", "tech")
	require.NoError(t, err)

	assert.ErrorIs(t, f.eng.Skip(context.Background(), sch.ID, "lead", "  "), faults.ErrValidation)
	require.NoError(t, f.eng.Skip(context.Background(), sch.ID, "lead", "awaiting parts"))

	sch = f.schedule(t, "ac1", "50h inspection", "")
	assert.Equal(t, models.ScheduleSkipped, sch.Status)
	assert.Equal(t, "awaiting parts", sch.SkipReason)

	cancelled, err := f.db.Session().WorkOrders.Get(context.Background(), wo.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkOrderCancelled, cancelled.Status)

	// The last completion did not move, so the cycle is still overdue.
	changed, err := f.eng.ReevaluateAircraft(context.Background(), "ac1")
	require.NoError(t, err)
	assert.Equal(t, 1, changed)
	assert.Equal(t, models.ScheduleOverdue, f.schedule(t, "ac1", "50h inspection", "").Status)
}

func TestDeactivate_FreezesEvaluation(t *testing.T) {
	f := newFixture(t, hours50)
	f.attach(t, "ac1")
	sch := f.schedule(t, "ac1", "50h inspection", "")

	require.NoError(t, f.eng.Deactivate(context.Background(), sch.ID, "planner"))
	f.fly(t, "ac1", 80)

	sch = f.schedule(t, "ac1", "50h inspection", "")
	assert.False(t, sch.Active)
	assert.Equal(t, models.ScheduleScheduled, sch.Status)

	due, err := f.eng.DueSchedules(context.Background(), "ac1", time.Time{})
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestDetachProgram(t *testing.T) {
	f := newFixture(t, hours50)
	f.attach(t, "ac1")
	f.fly(t, "ac1", 60)

	sch := f.schedule(t, "ac1", "50h inspection", "")
	_, err := f.eng.StartWork(context.Background(), sch.ID, "lead", "tech")
	require.NoError(t, err)

	err = f.eng.DetachProgram(context.Background(), f.program.ID, "ac1", "planner")
	assert.ErrorIs(t, err, faults.ErrConflict)

	_, err = f.eng.Complete(context.Background(), sch.ID, models.SignOff{UserID: "tech"}, nil)
	require.NoError(t, err)
	require.NoError(t, f.eng.DetachProgram(context.Background(), f.program.ID, "ac1", "planner"))
	assert.False(t, f.schedule(t, "ac1", "50h inspection", "").Active)

	// Re-attaching resumes the same schedule with its history.
	f.attach(t, "ac1")
	again := f.schedule(t, "ac1", "50h inspection", "")
	assert.Equal(t, sch.ID, again.ID)
	assert.True(t, again.Active)
	require.NotNil(t, again.LastCompletedValue)
	assert.Equal(t, int64(60*models.HoursPerUnit), *again.LastCompletedValue)
}

func TestScopedSchedule_SuspendAndResume(t *testing.T) {
	f := newFixture(t, motor)
	testutil.SeedComponent(t, f.db, "m1", models.ComponentMotor)
	f.attach(t, "ac1")

	f.mount(t, "ac1", "m1", "M1")
	sch := f.schedule(t, "ac1", "motor overhaul", "m1")
	assert.Equal(t, models.ScheduleScheduled, sch.Status)

	f.fly(t, "ac1", 10)
	f.unmount(t, "ac1", "m1")

	sch = f.schedule(t, "ac1", "motor overhaul", "m1")
	assert.Equal(t, models.ScheduleSuspended, sch.Status)
	assert.True(t, sch.Due.IsZero())

	f.mount(t, "ac1", "m1", "M2")
	sch = f.schedule(t, "ac1", "motor overhaul", "m1")
	assert.Equal(t, models.ScheduleScheduled, sch.Status)
	require.NotNil(t, sch.Due.Value)
	assert.Equal(t, int64(100*models.HoursPerUnit), *sch.Due.Value)
}

func TestScopedSchedule_HistoryFollowsComponent(t *testing.T) {
	f := newFixture(t, motor)
	testutil.SeedAircraft(t, f.db, "ac2")
	testutil.SeedComponent(t, f.db, "m1", models.ComponentMotor)
	f.attach(t, "ac1")
	f.attach(t, "ac2")

	f.mount(t, "ac1", "m1", "M1")
	f.fly(t, "ac1", 101)

	sch := f.schedule(t, "ac1", "motor overhaul", "m1")
	require.Equal(t, models.ScheduleOverdue, sch.Status)
	_, err := f.eng.StartWork(context.Background(), sch.ID, "lead", "tech")
	require.NoError(t, err)
	_, err = f.eng.Complete(context.Background(), sch.ID, models.SignOff{UserID: "tech"}, nil)
	require.NoError(t, err)

	f.unmount(t, "ac1", "m1")
	f.mount(t, "ac2", "m1", "M3")

	moved := f.schedule(t, "ac2", "motor overhaul", "m1")
	assert.NotEqual(t, sch.ID, moved.ID)
	assert.Equal(t, models.ScheduleScheduled, moved.Status)
	require.NotNil(t, moved.Due.Value)
	assert.Equal(t, int64(201*models.HoursPerUnit), *moved.Due.Value)
}

func TestDueSchedules_AsOf(t *testing.T) {
	f := newFixture(t, monthly, hours50)
	f.attach(t, "ac1")
	f.fly(t, "ac1", 50)

	due, err := f.eng.DueSchedules(context.Background(), "ac1", testutil.Epoch.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "50h inspection", due[0].Trigger.Name)
	assert.Equal(t, models.ScheduleDue, due[0].Status)

	due, err = f.eng.DueSchedules(context.Background(), "ac1", testutil.Epoch.AddDate(0, 0, 31))
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "monthly check", due[0].Trigger.Name, "overdue sorts first")
	assert.Equal(t, models.ScheduleOverdue, due[0].Status)
	require.NotNil(t, due[0].RemainingTime)
	assert.Negative(t, int64(*due[0].RemainingTime))

	// Projection writes nothing.
	assert.Equal(t, models.ScheduleScheduled, f.schedule(t, "ac1", "monthly check", "").Status)

	_, err = f.eng.DueSchedules(context.Background(), "missing", time.Time{})
	assert.ErrorIs(t, err, faults.ErrNotFound)
}
