package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"fleet_ledger/internal/airworthiness"
	"fleet_ledger/internal/clock"
	"fleet_ledger/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const roster = `id,registration,model,serial_number,operator
ac1,N801FL,X8,X8-0001,Survey Ops
ac2,N802FL,X8,X8-0002,Survey Ops
`

const programYAML = `
name: x8-standard
aircraft_model: X8
triggers:
  - name: annual
    type: calendar_days
    interval: 365
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	csvPath := filepath.Join(dir, "fleet.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte(roster), 0o644))

	programs := filepath.Join(dir, "programs")
	require.NoError(t, os.Mkdir(programs, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(programs, "x8.yaml"), []byte(programYAML), 0o644))

	return &config.Config{
		DBPath:             filepath.Join(dir, "ledger.db"),
		BusyTimeout:        time.Second,
		LockTimeout:        time.Second,
		EvaluationInterval: time.Hour,
		ProgramsDir:        programs,
		FleetCSV:           []string{csvPath},
		Airworthiness:      config.AirworthinessConfig{CacheTTL: time.Minute, CacheSize: 16},
		RII:                config.RIIConfig{RequireInspectorRole: true, InspectorRole: "inspector"},
		Log:                config.LogConfig{Level: "info", Format: "text"},
	}
}

func TestNew_SeedsRosterAndPrograms(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	d, err := New(cfg)
	require.NoError(t, err)

	fleet, err := d.db.Session().Aircraft.List(ctx)
	require.NoError(t, err)
	assert.Len(t, fleet, 2)

	p, err := d.db.Session().Programs.GetByName(ctx, "x8-standard")
	require.NoError(t, err)
	assert.Len(t, p.Triggers, 1)

	report, err := d.Airworthiness.Airworthiness(ctx, "ac1")
	require.NoError(t, err)
	assert.Equal(t, airworthiness.Airworthy, report.Status)

	require.NoError(t, d.Stop())

	// A populated table is not reseeded.
	require.NoError(t, os.WriteFile(cfg.FleetCSV[0], []byte("id,registration,model\nac3,N803FL,X8\n"), 0o644))
	d, err = New(cfg)
	require.NoError(t, err)
	defer d.Stop()

	fleet, err = d.db.Session().Aircraft.List(ctx)
	require.NoError(t, err)
	assert.Len(t, fleet, 2)
}

func TestNew_MissingProgramsDir(t *testing.T) {
	cfg := testConfig(t)
	cfg.ProgramsDir = filepath.Join(t.TempDir(), "absent")

	d, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, d.Stop())
}

func TestNew_BadProgram(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.ProgramsDir, "bad.yaml"), []byte("name: [\n"), 0o644))

	_, err := New(cfg)
	assert.Error(t, err)
}

func TestDaemon_StartStop(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()
	clk := clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	d, err := newWithClock(cfg, clk)
	require.NoError(t, err)

	p, err := d.db.Session().Programs.GetByName(ctx, "x8-standard")
	require.NoError(t, err)
	_, err = d.Engine.AttachProgram(ctx, p.ID, "ac1", "planner")
	require.NoError(t, err)

	require.NoError(t, d.Start())
	require.NoError(t, d.Stop())

	select {
	case <-d.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not report done")
	}
}
