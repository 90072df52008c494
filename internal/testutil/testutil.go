// Package testutil provides database fixtures shared by package tests.
package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"fleet_ledger/internal/database"
	"fleet_ledger/internal/models"

	"github.com/stretchr/testify/require"
)

// Epoch is the fixed start time fixtures use.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// NewDB opens a migrated database in a per-test temp directory.
func NewDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "ledger.db"), database.Options{BusyTimeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func SeedAircraft(t *testing.T, db *database.DB, id string) *models.Aircraft {
	t.Helper()

	ac := &models.Aircraft{
		ID:           id,
		Registration: "REG-" + id,
		Model:        "X8",
		CreatedAt:    Epoch,
	}
	require.NoError(t, db.Session().Aircraft.Insert(context.Background(), ac))
	return ac
}

func SeedComponent(t *testing.T, db *database.DB, id string, ctype models.ComponentType) *models.Component {
	t.Helper()

	c := &models.Component{
		ID:           id,
		SerialNumber: "SN-" + id,
		PartNumber:   "PN-1",
		Type:         ctype,
		Status:       models.ComponentNew,
		Airworthy:    true,
		CreatedAt:    Epoch,
	}
	require.NoError(t, db.Session().Components.Insert(context.Background(), c))
	return c
}

// SeedLifeLimited inserts an airworthy life-limited component.
func SeedLifeLimited(t *testing.T, db *database.DB, id string, ctype models.ComponentType, maxHours float64) *models.Component {
	t.Helper()

	h := models.HoursFromFloat(maxHours)
	c := &models.Component{
		ID:             id,
		SerialNumber:   "SN-" + id,
		Type:           ctype,
		Status:         models.ComponentNew,
		Airworthy:      true,
		IsLifeLimited:  true,
		MaxFlightHours: &h,
		CreatedAt:      Epoch,
	}
	require.NoError(t, db.Session().Components.Insert(context.Background(), c))
	return c
}
