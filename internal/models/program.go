package models

import (
	"fmt"
	"math"
	"time"
)

// TriggerType is the closed set of maintenance trigger kinds.
type TriggerType string

const (
	TriggerCalendarDays  TriggerType = "CALENDAR_DAYS"
	TriggerFlightHours   TriggerType = "FLIGHT_HOURS"
	TriggerFlightCycles  TriggerType = "FLIGHT_CYCLES"
	TriggerBatteryCycles TriggerType = "BATTERY_CYCLES"
	TriggerCalendarDate  TriggerType = "CALENDAR_DATE"
)

func (t TriggerType) Valid() bool {
	switch t {
	case TriggerCalendarDays, TriggerFlightHours, TriggerFlightCycles, TriggerBatteryCycles, TriggerCalendarDate:
		return true
	}
	return false
}

// UsageBased reports whether due points are usage values rather than dates.
func (t TriggerType) UsageBased() bool {
	switch t {
	case TriggerFlightHours, TriggerFlightCycles, TriggerBatteryCycles:
		return true
	}
	return false
}

func ParseTriggerType(s string) (TriggerType, error) {
	t := TriggerType(normalizeEnum(s))
	if !t.Valid() {
		return "", fmt.Errorf("unknown trigger type %q", s)
	}
	return t, nil
}

// Priority orders maintenance urgency.
type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityMedium   Priority = "MEDIUM"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

// Rank returns 1 (LOW) through 4 (CRITICAL), 0 for unknown values.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityMedium:
		return 2
	case PriorityHigh:
		return 3
	case PriorityCritical:
		return 4
	}
	return 0
}

func (p Priority) Valid() bool { return p.Rank() > 0 }

func ParsePriority(s string) (Priority, error) {
	p := Priority(normalizeEnum(s))
	if !p.Valid() {
		return "", fmt.Errorf("unknown priority %q", s)
	}
	return p, nil
}

// Scope restricts a trigger to installed components. The zero Scope applies
// to the whole aircraft.
type Scope struct {
	ComponentType ComponentType `json:"component_type,omitempty" yaml:"component_type,omitempty"`
	Location      string        `json:"location,omitempty" yaml:"location,omitempty"`
}

// IsAircraft reports whether the scope covers the whole aircraft.
func (s Scope) IsAircraft() bool {
	return s.ComponentType == "" && s.Location == ""
}

// Matches reports whether a component of type t mounted at location falls
// inside the scope.
func (s Scope) Matches(t ComponentType, location string) bool {
	if s.IsAircraft() {
		return false
	}
	if s.ComponentType != "" && s.ComponentType != t {
		return false
	}
	if s.Location != "" && s.Location != location {
		return false
	}
	return true
}

// Trigger is one maintenance obligation inside a program.
type Trigger struct {
	ID            string      `json:"id"`
	ProgramID     string      `json:"program_id"`
	Name          string      `json:"name"`
	Type          TriggerType `json:"type"`
	Interval      float64     `json:"interval"`             // days, hours or cycles by Type
	FixedDate     *time.Time  `json:"fixed_date,omitempty"` // CALENDAR_DATE only
	Scope         Scope       `json:"scope"`
	Priority      Priority    `json:"priority"`
	PerformerRole string      `json:"performer_role,omitempty"`
	RII           bool        `json:"rii"`
	Description   string      `json:"description,omitempty"`
}

// IntervalUnits converts Interval into the unit its due points are kept in:
// milli-hours for FLIGHT_HOURS, whole cycles or days otherwise.
func (t Trigger) IntervalUnits() int64 {
	if t.Type == TriggerFlightHours {
		return int64(HoursFromFloat(t.Interval))
	}
	return int64(math.Round(t.Interval))
}

// Validate checks the trigger definition.
func (t Trigger) Validate() error {
	if !t.Type.Valid() {
		return fmt.Errorf("trigger %q: unknown type %q", t.Name, t.Type)
	}
	if !t.Priority.Valid() {
		return fmt.Errorf("trigger %q: unknown priority %q", t.Name, t.Priority)
	}
	if t.Scope.ComponentType != "" && !t.Scope.ComponentType.Valid() {
		return fmt.Errorf("trigger %q: unknown component type %q", t.Name, t.Scope.ComponentType)
	}
	if t.Type == TriggerCalendarDate {
		if t.FixedDate == nil {
			return fmt.Errorf("trigger %q: CALENDAR_DATE requires a fixed date", t.Name)
		}
		return nil
	}
	if math.IsNaN(t.Interval) || math.IsInf(t.Interval, 0) || t.IntervalUnits() <= 0 {
		return fmt.Errorf("trigger %q: interval must be positive", t.Name)
	}
	if t.Type == TriggerBatteryCycles && t.Scope.ComponentType != ComponentBattery {
		return fmt.Errorf("trigger %q: BATTERY_CYCLES must be scoped to component type BATTERY", t.Name)
	}
	return nil
}

// MaintenanceProgram is a named set of triggers bound to an aircraft model.
type MaintenanceProgram struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	AircraftModel string    `json:"aircraft_model"`
	Description   string    `json:"description,omitempty"`
	Triggers      []Trigger `json:"triggers"`
	CreatedAt     time.Time `json:"created_at"`
}

// Validate checks the program and each of its triggers.
func (p MaintenanceProgram) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("program name is required")
	}
	if p.AircraftModel == "" {
		return fmt.Errorf("program %q: aircraft model is required", p.Name)
	}
	for _, t := range p.Triggers {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("program %q: %w", p.Name, err)
		}
	}
	return nil
}
