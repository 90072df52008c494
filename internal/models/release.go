package models

import (
	"fmt"
	"time"
)

// Severity of a pilot report. CRITICAL means aircraft on ground (AOG).
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

func ParseSeverity(s string) (Severity, error) {
	sv := Severity(normalizeEnum(s))
	if !sv.Valid() {
		return "", fmt.Errorf("unknown severity %q", s)
	}
	return sv, nil
}

type PirepStatus string

const (
	PirepOpen     PirepStatus = "OPEN"
	PirepResolved PirepStatus = "RESOLVED"
)

// PilotReport is a defect reported against an aircraft.
type PilotReport struct {
	ID          string      `json:"id"`
	AircraftID  string      `json:"aircraft_id"`
	Severity    Severity    `json:"severity"`
	Status      PirepStatus `json:"status"`
	Description string      `json:"description"`
	ReportedBy  string      `json:"reported_by,omitempty"`
	ReportedAt  time.Time   `json:"reported_at"`
	ResolvedAt  *time.Time  `json:"resolved_at,omitempty"`
}

// ReleaseKind distinguishes an unrestricted release from one issued with
// MEDIUM/HIGH items still outstanding.
type ReleaseKind string

const (
	ReleaseFull        ReleaseKind = "FULL"
	ReleaseConditional ReleaseKind = "CONDITIONAL"
)

// ReleaseRecord is a return-to-service sign-off. It is never modified except
// to mark it superseded by a newer record for the same scope.
type ReleaseRecord struct {
	ID           string      `json:"id"`
	AircraftID   string      `json:"aircraft_id"`
	Scope        string      `json:"scope"` // empty for the whole aircraft, otherwise a work order id
	Kind         ReleaseKind `json:"kind"`
	IssuedBy     string      `json:"issued_by"`
	IssuedAt     time.Time   `json:"issued_at"`
	Conditions   []string    `json:"conditions,omitempty"`
	Notes        string      `json:"notes,omitempty"`
	SupersededBy string      `json:"superseded_by,omitempty"`
	SupersededAt *time.Time  `json:"superseded_at,omitempty"`
}

func (r ReleaseRecord) Active() bool { return r.SupersededBy == "" }
