package installation

import (
	"context"
	"testing"
	"time"

	"fleet_ledger/internal/clock"
	"fleet_ledger/internal/database"
	"fleet_ledger/internal/faults"
	"fleet_ledger/internal/locks"
	"fleet_ledger/internal/models"
	"fleet_ledger/internal/schedule"
	"fleet_ledger/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = testutil.Epoch

type env struct {
	db     *database.DB
	locks  *locks.Manager
	engine *schedule.Engine
	ledger *Ledger
}

func setup(t *testing.T) *env {
	t.Helper()

	db := testutil.NewDB(t)
	lm := locks.NewManager(100 * time.Millisecond)
	clk := clock.NewFake(t0)
	engine := schedule.NewEngine(db, lm, clk, schedule.Policy{}, nil)

	testutil.SeedAircraft(t, db, "ac1")
	testutil.SeedAircraft(t, db, "ac2")
	testutil.SeedComponent(t, db, "m1", models.ComponentMotor)
	testutil.SeedComponent(t, db, "m2", models.ComponentMotor)

	return &env{db: db, locks: lm, engine: engine, ledger: NewLedger(db, lm, clk, engine)}
}

func TestRegister(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	c := &models.Component{SerialNumber: "BAT-77", Type: models.ComponentBattery, Airworthy: true}
	require.NoError(t, e.ledger.Register(ctx, c))
	assert.NotEmpty(t, c.ID)

	got, err := e.db.Session().Components.GetBySerial(ctx, "BAT-77")
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)
	assert.Equal(t, models.ComponentNew, got.Status)

	err = e.ledger.Register(ctx, &models.Component{Type: models.ComponentGPS})
	assert.ErrorIs(t, err, faults.ErrValidation)

	err = e.ledger.Register(ctx, &models.Component{SerialNumber: "BAT-77", Type: models.ComponentBattery})
	assert.ErrorIs(t, err, faults.ErrConflict)
}

func TestInstall(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	seg, err := e.ledger.Install(ctx, "m1", "ac1", "M1", t0, "tech")
	require.NoError(t, err)
	assert.True(t, seg.Open())
	assert.True(t, seg.Inherited.IsZero())
	assert.Equal(t, "tech", seg.InstalledBy)

	c, err := e.db.Session().Components.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, models.ComponentInUse, c.Status)

	current, err := e.ledger.CurrentInstallation(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, seg.ID, current.ID)

	none, err := e.ledger.CurrentInstallation(ctx, "m2")
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = e.ledger.CurrentInstallation(ctx, "ghost")
	assert.ErrorIs(t, err, faults.ErrNotFound)
}

func TestInstall_Rejections(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	_, err := e.ledger.Install(ctx, "m1", "ac1", "M1", t0, "tech")
	require.NoError(t, err)

	tests := []struct {
		name      string
		component string
		aircraft  string
		location  string
		at        time.Time
		want      error
	}{
		{"component already installed", "m1", "ac2", "M1", t0, faults.ErrConflict},
		{"location occupied", "m2", "ac1", "M1", t0, faults.ErrConflict},
		{"missing location", "m2", "ac1", " ", t0, faults.ErrValidation},
		{"missing time", "m2", "ac1", "M2", time.Time{}, faults.ErrValidation},
		{"unknown component", "ghost", "ac1", "M2", t0, faults.ErrNotFound},
		{"unknown aircraft", "m2", "ghost", "M2", t0, faults.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.ledger.Install(ctx, tt.component, tt.aircraft, tt.location, tt.at, "tech")
			assert.ErrorIs(t, err, tt.want)
		})
	}

	history, err := e.ledger.History(ctx, "m2")
	require.NoError(t, err)
	assert.Empty(t, history, "rejected installs leave no trace")
}

func TestInstall_TerminalComponent(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	require.NoError(t, e.ledger.SetStatus(ctx, "m2", models.ComponentScrapped))

	_, err := e.ledger.Install(ctx, "m2", "ac1", "M1", t0, "tech")
	assert.ErrorIs(t, err, faults.ErrNotFound)
}

func TestRemove(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	_, err := e.ledger.Remove(ctx, "m1", t0, "tech")
	assert.ErrorIs(t, err, faults.ErrNotFound)

	installed, err := e.ledger.Install(ctx, "m1", "ac1", "M1", t0.Add(time.Hour), "tech")
	require.NoError(t, err)

	_, err = e.ledger.Remove(ctx, "m1", t0, "tech")
	assert.ErrorIs(t, err, faults.ErrTemporal)

	removed, err := e.ledger.Remove(ctx, "m1", t0.Add(2*time.Hour), "tech")
	require.NoError(t, err)
	assert.Equal(t, installed.ID, removed.ID)
	require.NotNil(t, removed.RemovedAt)
	assert.True(t, t0.Add(2*time.Hour).Equal(*removed.RemovedAt))
	assert.Equal(t, "tech", removed.RemovedBy)

	c, err := e.db.Session().Components.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, models.ComponentInUse, c.Status, "removal leaves status alone")

	_, err = e.ledger.Install(ctx, "m1", "ac2", "M1", t0.Add(90*time.Minute), "tech")
	assert.ErrorIs(t, err, faults.ErrTemporal, "cannot install before the previous removal")
}

func TestHistory_OldestFirst(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	_, err := e.ledger.Install(ctx, "m1", "ac1", "M1", t0, "tech")
	require.NoError(t, err)
	_, err = e.ledger.Remove(ctx, "m1", t0.Add(time.Hour), "tech")
	require.NoError(t, err)
	_, err = e.ledger.Install(ctx, "m1", "ac2", "M4", t0.Add(2*time.Hour), "tech")
	require.NoError(t, err)

	history, err := e.ledger.History(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "ac1", history[0].AircraftID)
	assert.False(t, history[0].Open())
	assert.Equal(t, "ac2", history[1].AircraftID)
	assert.True(t, history[1].Open())

	// Reading again yields the same sequence.
	again, err := e.ledger.History(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, history, again)

	_, err = e.ledger.History(ctx, "ghost")
	assert.ErrorIs(t, err, faults.ErrNotFound)
}

func TestSetStatus(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	_, err := e.ledger.Install(ctx, "m1", "ac1", "M1", t0, "tech")
	require.NoError(t, err)

	assert.ErrorIs(t, e.ledger.SetStatus(ctx, "m1", models.ComponentLost), faults.ErrConflict)
	assert.ErrorIs(t, e.ledger.SetStatus(ctx, "m1", models.ComponentInUse), faults.ErrValidation)
	assert.ErrorIs(t, e.ledger.SetStatus(ctx, "m1", "BROKEN"), faults.ErrValidation)

	_, err = e.ledger.Remove(ctx, "m1", t0.Add(time.Hour), "tech")
	require.NoError(t, err)
	require.NoError(t, e.ledger.SetStatus(ctx, "m1", models.ComponentLost))

	assert.ErrorIs(t, e.ledger.SetStatus(ctx, "m1", models.ComponentRepair), faults.ErrValidation)
	require.NoError(t, e.ledger.SetStatus(ctx, "m1", models.ComponentLost), "repeating a final status is a no-op")
}

func TestSetAirworthy(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	require.NoError(t, e.ledger.SetAirworthy(ctx, "m1", false))
	c, err := e.db.Session().Components.Get(ctx, "m1")
	require.NoError(t, err)
	assert.False(t, c.Airworthy)

	assert.ErrorIs(t, e.ledger.SetAirworthy(ctx, "ghost", false), faults.ErrNotFound)
}

func TestAnnotateSegment(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	seg, err := e.ledger.Install(ctx, "m1", "ac1", "M1", t0, "tech")
	require.NoError(t, err)
	_, err = e.ledger.Remove(ctx, "m1", t0.Add(time.Hour), "tech")
	require.NoError(t, err)

	require.NoError(t, e.ledger.AnnotateSegment(ctx, seg.ID, "replaced after bird strike"))
	history, err := e.ledger.History(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "replaced after bird strike", history[0].Notes)

	assert.ErrorIs(t, e.ledger.AnnotateSegment(ctx, "ghost", "x"), faults.ErrNotFound)
}

func TestInstall_ReseedsScopedSchedules(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	p := &models.MaintenanceProgram{Name: "x8", AircraftModel: "X8", Triggers: []models.Trigger{{
		Name: "motor bearings", Type: models.TriggerFlightHours, Interval: 100, Priority: models.PriorityHigh,
		Scope: models.Scope{ComponentType: models.ComponentMotor},
	}}}
	require.NoError(t, e.db.Session().Programs.Upsert(ctx, p))
	_, err := e.engine.AttachProgram(ctx, p.ID, "ac1", "planner")
	require.NoError(t, err)

	_, err = e.ledger.Install(ctx, "m1", "ac1", "M1", t0, "tech")
	require.NoError(t, err)

	sch, err := e.db.Session().Schedules.Find(ctx, "ac1", p.Triggers[0].ID, "m1")
	require.NoError(t, err)
	require.NotNil(t, sch)
	assert.Equal(t, models.ScheduleScheduled, sch.Status)
	assert.True(t, t0.Equal(sch.AnchorAt))

	_, err = e.ledger.Remove(ctx, "m1", t0.Add(time.Hour), "tech")
	require.NoError(t, err)

	sch, err = e.db.Session().Schedules.Get(ctx, sch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ScheduleSuspended, sch.Status)
}

func TestInstall_LockTimeout(t *testing.T) {
	e := setup(t)

	release, err := e.locks.Acquire(locks.AircraftKey("ac1"))
	require.NoError(t, err)
	defer release()

	_, err = e.ledger.Install(context.Background(), "m1", "ac1", "M1", t0, "tech")
	assert.ErrorIs(t, err, faults.ErrConflict)

	current, err := e.ledger.CurrentInstallation(context.Background(), "m1")
	require.NoError(t, err)
	assert.Nil(t, current)
}
