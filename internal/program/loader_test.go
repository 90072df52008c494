package program

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"fleet_ledger/internal/faults"
	"fleet_ledger/internal/models"
	"fleet_ledger/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const x8Program = `
name: x8-standard
aircraft_model: X8
description: Baseline program for the X8 octocopter
triggers:
  - name: airframe inspection
    type: flight_hours
    interval: 50
    priority: high
    rii: true
  - name: motor bearings
    type: FLIGHT_HOURS
    interval: 100
    priority: medium
    performer_role: powerplant
    scope:
      component_type: motor
  - name: battery health
    type: battery-cycles
    interval: 200
    scope:
      component_type: battery
      location: B1
  - name: registration renewal
    type: calendar_date
    fixed_date: 2025-06-30
    priority: critical
`

func TestParse(t *testing.T) {
	p, err := Parse([]byte(x8Program))
	require.NoError(t, err)

	assert.Equal(t, "x8-standard", p.Name)
	assert.Equal(t, "X8", p.AircraftModel)
	require.Len(t, p.Triggers, 4)

	airframe := p.Triggers[0]
	assert.Equal(t, models.TriggerFlightHours, airframe.Type)
	assert.Equal(t, models.PriorityHigh, airframe.Priority)
	assert.True(t, airframe.RII)
	assert.True(t, airframe.Scope.IsAircraft())

	motor := p.Triggers[1]
	assert.Equal(t, models.ComponentMotor, motor.Scope.ComponentType)
	assert.Equal(t, "powerplant", motor.PerformerRole)

	battery := p.Triggers[2]
	assert.Equal(t, models.TriggerBatteryCycles, battery.Type)
	assert.Equal(t, models.PriorityMedium, battery.Priority, "priority defaults to MEDIUM")
	assert.Equal(t, models.Scope{ComponentType: models.ComponentBattery, Location: "B1"}, battery.Scope)

	renewal := p.Triggers[3]
	require.NotNil(t, renewal.FixedDate)
	assert.True(t, time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC).Equal(*renewal.FixedDate))
}

func TestParse_Rejections(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"empty document", ``},
		{"unknown field", "name: a\naircraft_model: X8\nowner: me\n"},
		{"missing model", "name: a\ntriggers: []\n"},
		{"unknown trigger type", "name: a\naircraft_model: X8\ntriggers:\n  - name: t\n    type: lunar\n    interval: 1\n"},
		{"unknown priority", "name: a\naircraft_model: X8\ntriggers:\n  - name: t\n    type: flight_hours\n    interval: 1\n    priority: urgent\n"},
		{"zero interval", "name: a\naircraft_model: X8\ntriggers:\n  - name: t\n    type: flight_cycles\n    interval: 0\n"},
		{"bad fixed date", "name: a\naircraft_model: X8\ntriggers:\n  - name: t\n    type: calendar_date\n    fixed_date: someday\n"},
		{"unscoped battery cycles", "name: a\naircraft_model: X8\ntriggers:\n  - name: t\n    type: battery_cycles\n    interval: 5\n"},
		{"duplicate trigger", "name: a\naircraft_model: X8\ntriggers:\n  - name: t\n    type: flight_cycles\n    interval: 5\n  - name: t\n    type: flight_cycles\n    interval: 6\n"},
		{"unnamed trigger", "name: a\naircraft_model: X8\ntriggers:\n  - type: flight_cycles\n    interval: 5\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			assert.ErrorIs(t, err, faults.ErrValidation)
		})
	}
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadDir(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	dir := t.TempDir()

	writeFile(t, dir, "x8.yaml", x8Program)
	writeFile(t, dir, "quad.yml", "name: quad\naircraft_model: Q4\ntriggers:\n  - name: props\n    type: flight_cycles\n    interval: 300\n")
	writeFile(t, dir, "README.md", "not a program")

	programs, err := LoadDir(ctx, db, dir)
	require.NoError(t, err)
	require.Len(t, programs, 2)
	assert.Equal(t, "quad", programs[0].Name, "files load in name order")

	stored, err := db.Session().Programs.GetByName(ctx, "x8-standard")
	require.NoError(t, err)
	require.Len(t, stored.Triggers, 4)

	ids := make(map[string]string)
	for _, tr := range stored.Triggers {
		ids[tr.Name] = tr.ID
	}

	// Reloading an edited file keeps trigger identities.
	writeFile(t, dir, "x8.yaml", x8Program+"  - name: gimbal\n    type: flight_hours\n    interval: 25\n    priority: low\n")
	_, err = LoadDir(ctx, db, dir)
	require.NoError(t, err)

	stored, err = db.Session().Programs.GetByName(ctx, "x8-standard")
	require.NoError(t, err)
	require.Len(t, stored.Triggers, 5)
	for _, tr := range stored.Triggers {
		if id, ok := ids[tr.Name]; ok {
			assert.Equal(t, id, tr.ID, tr.Name)
		}
	}
}

func TestLoadDir_AllOrNothing(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	dir := t.TempDir()

	writeFile(t, dir, "a.yaml", x8Program)
	writeFile(t, dir, "b.yaml", "name: broken\naircraft_model: X8\ntriggers:\n  - name: t\n    type: nope\n")

	_, err := LoadDir(ctx, db, dir)
	assert.ErrorIs(t, err, faults.ErrValidation)

	_, err = db.Session().Programs.GetByName(ctx, "x8-standard")
	assert.ErrorIs(t, err, faults.ErrNotFound)
}

func TestLoadDir_DuplicateName(t *testing.T) {
	db := testutil.NewDB(t)
	dir := t.TempDir()

	writeFile(t, dir, "a.yaml", x8Program)
	writeFile(t, dir, "b.yaml", x8Program)

	_, err := LoadDir(context.Background(), db, dir)
	assert.ErrorIs(t, err, faults.ErrValidation)
}

func TestLoadDir_MissingDir(t *testing.T) {
	db := testutil.NewDB(t)

	_, err := LoadDir(context.Background(), db, filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}
