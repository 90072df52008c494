package database

import (
	"context"
	"encoding/json"
	"fmt"

	"fleet_ledger/internal/models"
)

type UsageEventRepository interface {
	Insert(ctx context.Context, e *models.UsageEvent) error
	ListForAircraft(ctx context.Context, aircraftID string) ([]*models.UsageEvent, error)
}

type usageEventRepository struct {
	q Querier
}

func NewUsageEventRepository(q Querier) UsageEventRepository {
	return &usageEventRepository{q: q}
}

func (r *usageEventRepository) Insert(ctx context.Context, e *models.UsageEvent) error {
	battery := e.BatteryCycles
	if battery == nil {
		battery = map[string]int64{}
	}
	encoded, err := json.Marshal(battery)
	if err != nil {
		return fmt.Errorf("failed to encode battery cycles: %w", err)
	}

	res, err := r.q.ExecContext(ctx, `INSERT INTO usage_events (aircraft_id, hours, cycles, battery_cycles, at)
		VALUES (?, ?, ?, ?, ?)`,
		e.AircraftID, int64(e.Hours), e.Cycles, string(encoded), toNanos(e.At))
	if err != nil {
		return entityError(err, "usage event", e.AircraftID, "insert")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read usage event id: %w", err)
	}
	e.ID = id
	return nil
}

func (r *usageEventRepository) ListForAircraft(ctx context.Context, aircraftID string) ([]*models.UsageEvent, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT id, aircraft_id, hours, cycles, battery_cycles, at
		FROM usage_events WHERE aircraft_id = ? ORDER BY at, id`, aircraftID)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage events: %w", err)
	}
	defer rows.Close()

	var out []*models.UsageEvent
	for rows.Next() {
		var e models.UsageEvent
		var hours, at int64
		var battery string
		if err := rows.Scan(&e.ID, &e.AircraftID, &hours, &e.Cycles, &battery, &at); err != nil {
			return nil, fmt.Errorf("failed to scan usage event: %w", err)
		}
		e.Hours = models.Hours(hours)
		e.At = fromNanos(at)
		if err := json.Unmarshal([]byte(battery), &e.BatteryCycles); err != nil {
			return nil, fmt.Errorf("failed to decode battery cycles: %w", err)
		}
		if len(e.BatteryCycles) == 0 {
			e.BatteryCycles = nil
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
