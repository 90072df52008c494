package models

import (
	"encoding/json"
	"math"
	"strconv"
	"time"
)

// Hours is flight time in thousandths of an hour. Fixed point keeps the
// segment sums and the lifetime totals exactly equal.
type Hours int64

// HoursPerUnit is the number of Hours units in one flight hour.
const HoursPerUnit Hours = 1000

// HoursFromFloat converts decimal hours, rounding to the nearest unit.
func HoursFromFloat(h float64) Hours {
	return Hours(math.Round(h * float64(HoursPerUnit)))
}

// Float returns the value in decimal hours.
func (h Hours) Float() float64 {
	return float64(h) / float64(HoursPerUnit)
}

func (h Hours) String() string {
	return strconv.FormatFloat(h.Float(), 'f', -1, 64)
}

func (h Hours) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.Float())
}

func (h *Hours) UnmarshalJSON(data []byte) error {
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*h = HoursFromFloat(f)
	return nil
}

// Usage is a set of cumulative counters.
type Usage struct {
	Hours         Hours `json:"flight_hours"`
	Cycles        int64 `json:"flight_cycles"`
	BatteryCycles int64 `json:"battery_cycles"`
}

// Add returns the element-wise sum.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		Hours:         u.Hours + o.Hours,
		Cycles:        u.Cycles + o.Cycles,
		BatteryCycles: u.BatteryCycles + o.BatteryCycles,
	}
}

// MaxCounter bounds every stored counter. Values up to 2^52 stay exact in a
// float64 and the sum of two of them cannot overflow an int64.
const MaxCounter int64 = 1 << 52

// Overflow names the first counter above MaxCounter, or "" when none is.
func (u Usage) Overflow() string {
	switch {
	case int64(u.Hours) > MaxCounter:
		return "hours"
	case u.Cycles > MaxCounter:
		return "cycles"
	case u.BatteryCycles > MaxCounter:
		return "battery_cycles"
	}
	return ""
}

// IsZero reports whether every counter is zero.
func (u Usage) IsZero() bool {
	return u == Usage{}
}

// UsageDelta is one validated flight-log increment for an aircraft.
// BatteryCycles is keyed by installation location.
type UsageDelta struct {
	Hours         float64          `json:"hours"`
	Cycles        int64            `json:"cycles"`
	BatteryCycles map[string]int64 `json:"battery_cycles,omitempty"`
}

// UsageEvent is the audit row written for every applied delta.
type UsageEvent struct {
	ID            int64            `json:"id"`
	AircraftID    string           `json:"aircraft_id"`
	Hours         Hours            `json:"hours"`
	Cycles        int64            `json:"cycles"`
	BatteryCycles map[string]int64 `json:"battery_cycles,omitempty"`
	At            time.Time        `json:"at"`
}
