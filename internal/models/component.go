package models

import (
	"fmt"
	"strings"
	"time"
)

// ComponentType is the closed set of component kinds.
type ComponentType string

const (
	ComponentMotor            ComponentType = "MOTOR"
	ComponentPropeller        ComponentType = "PROPELLER"
	ComponentBattery          ComponentType = "BATTERY"
	ComponentESC              ComponentType = "ESC"
	ComponentFlightController ComponentType = "FLIGHT_CONTROLLER"
	ComponentGPS              ComponentType = "GPS"
	ComponentCamera           ComponentType = "CAMERA"
	ComponentGimbal           ComponentType = "GIMBAL"
	ComponentLandingGear      ComponentType = "LANDING_GEAR"
	ComponentOther            ComponentType = "OTHER"
)

var componentTypes = []ComponentType{
	ComponentMotor, ComponentPropeller, ComponentBattery, ComponentESC,
	ComponentFlightController, ComponentGPS, ComponentCamera, ComponentGimbal,
	ComponentLandingGear, ComponentOther,
}

func (t ComponentType) Valid() bool {
	for _, v := range componentTypes {
		if t == v {
			return true
		}
	}
	return false
}

// ParseComponentType accepts the canonical names case-insensitively, with
// '-' and '_' interchangeable ("flight-controller").
func ParseComponentType(s string) (ComponentType, error) {
	t := ComponentType(normalizeEnum(s))
	if !t.Valid() {
		return "", fmt.Errorf("unknown component type %q", s)
	}
	return t, nil
}

// ComponentStatus is the lifecycle state of a physical component.
type ComponentStatus string

const (
	ComponentNew      ComponentStatus = "NEW"
	ComponentInUse    ComponentStatus = "IN_USE"
	ComponentRepair   ComponentStatus = "REPAIR"
	ComponentScrapped ComponentStatus = "SCRAPPED"
	ComponentLost     ComponentStatus = "LOST"
)

func (s ComponentStatus) Valid() bool {
	switch s {
	case ComponentNew, ComponentInUse, ComponentRepair, ComponentScrapped, ComponentLost:
		return true
	}
	return false
}

// Terminal reports whether the component can never return to service.
func (s ComponentStatus) Terminal() bool {
	return s == ComponentScrapped || s == ComponentLost
}

func ParseComponentStatus(s string) (ComponentStatus, error) {
	st := ComponentStatus(normalizeEnum(s))
	if !st.Valid() {
		return "", fmt.Errorf("unknown component status %q", s)
	}
	return st, nil
}

// Component is a physical serialized part. Totals is the sum of the first
// segment's inherited usage and every segment's accumulated usage.
type Component struct {
	ID             string          `json:"id"`
	SerialNumber   string          `json:"serial_number"`
	PartNumber     string          `json:"part_number"`
	Type           ComponentType   `json:"type"`
	Status         ComponentStatus `json:"status"`
	Airworthy      bool            `json:"airworthy"`
	IsLifeLimited  bool            `json:"is_life_limited"`
	MaxFlightHours *Hours          `json:"max_flight_hours,omitempty"`
	MaxCycles      *int64          `json:"max_cycles,omitempty"`
	Totals         Usage           `json:"totals"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// LifeExceeded reports whether a life-limited component has gone past one
// of its limits.
func (c Component) LifeExceeded() bool {
	if !c.IsLifeLimited {
		return false
	}
	if c.MaxFlightHours != nil && c.Totals.Hours > *c.MaxFlightHours {
		return true
	}
	if c.MaxCycles != nil && c.Totals.Cycles > *c.MaxCycles {
		return true
	}
	return false
}

// InstallationSegment is one continuous period a component spent mounted at
// one location on one aircraft. Open while RemovedAt is nil.
type InstallationSegment struct {
	ID          string     `json:"id"`
	ComponentID string     `json:"component_id"`
	AircraftID  string     `json:"aircraft_id"`
	Location    string     `json:"location"`
	InstalledAt time.Time  `json:"installed_at"`
	InstalledBy string     `json:"installed_by,omitempty"`
	RemovedAt   *time.Time `json:"removed_at,omitempty"`
	RemovedBy   string     `json:"removed_by,omitempty"`
	Inherited   Usage      `json:"inherited"`
	Accumulated Usage      `json:"accumulated"`
	Notes       string     `json:"notes,omitempty"`
}

func (s InstallationSegment) Open() bool { return s.RemovedAt == nil }

func normalizeEnum(s string) string {
	return strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(s)), "-", "_")
}
