package models

import (
	"fmt"
	"time"
)

// ScheduleStatus is the state of a maintenance schedule.
type ScheduleStatus string

const (
	ScheduleScheduled  ScheduleStatus = "SCHEDULED"
	ScheduleDue        ScheduleStatus = "DUE"
	ScheduleOverdue    ScheduleStatus = "OVERDUE"
	ScheduleInProgress ScheduleStatus = "IN_PROGRESS"
	ScheduleCompleted  ScheduleStatus = "COMPLETED"
	ScheduleSkipped    ScheduleStatus = "SKIPPED"
	// ScheduleSuspended has no due point because its usage source (the
	// scoped component) is not installed on the aircraft.
	ScheduleSuspended ScheduleStatus = "SUSPENDED"
)

func (s ScheduleStatus) Valid() bool {
	switch s {
	case ScheduleScheduled, ScheduleDue, ScheduleOverdue, ScheduleInProgress,
		ScheduleCompleted, ScheduleSkipped, ScheduleSuspended:
		return true
	}
	return false
}

// Outstanding reports whether the schedule represents work not yet done.
func (s ScheduleStatus) Outstanding() bool {
	return s == ScheduleDue || s == ScheduleOverdue || s == ScheduleInProgress
}

// Severity orders statuses by urgency for reporting.
func (s ScheduleStatus) Severity() int {
	switch s {
	case ScheduleOverdue:
		return 3
	case ScheduleDue, ScheduleInProgress:
		return 2
	case ScheduleScheduled, ScheduleSkipped:
		return 1
	}
	return 0
}

func ParseScheduleStatus(s string) (ScheduleStatus, error) {
	st := ScheduleStatus(normalizeEnum(s))
	if !st.Valid() {
		return "", fmt.Errorf("unknown schedule status %q", s)
	}
	return st, nil
}

// DuePoint is when a schedule leaves SCHEDULED: a date, a usage value in the
// trigger's unit, or neither when the schedule is suspended.
type DuePoint struct {
	Date  *time.Time `json:"due_date,omitempty"`
	Value *int64     `json:"due_at_value,omitempty"`
}

func (d DuePoint) IsZero() bool { return d.Date == nil && d.Value == nil }

func (d DuePoint) Equal(o DuePoint) bool {
	return equalTime(d.Date, o.Date) && equalInt(d.Value, o.Value)
}

// Schedule tracks one trigger against one aircraft, or against one scoped
// component while it is installed on that aircraft.
type Schedule struct {
	ID                   string         `json:"id"`
	AircraftID           string         `json:"aircraft_id"`
	TriggerID            string         `json:"trigger_id"`
	ComponentID          string         `json:"component_id,omitempty"` // empty for aircraft-level triggers
	Status               ScheduleStatus `json:"status"`
	Active               bool           `json:"active"`
	AnchorAt             time.Time      `json:"anchor_at"` // attach or install time; calendar base until first completion
	Due                  DuePoint       `json:"due"`
	LastCompletedAt      *time.Time     `json:"last_completed_at,omitempty"`
	LastCompletedValue   *int64         `json:"last_completed_value,omitempty"`
	LastCompletedDueDate *time.Time     `json:"last_completed_due_date,omitempty"`
	Assignee             string         `json:"assignee,omitempty"`
	WorkOrderID          string         `json:"work_order_id,omitempty"`
	SkipReason           string         `json:"skip_reason,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// ScheduleEvent is one status change in a schedule's audit trail.
type ScheduleEvent struct {
	ID         int64          `json:"id"`
	ScheduleID string         `json:"schedule_id"`
	From       ScheduleStatus `json:"from"`
	To         ScheduleStatus `json:"to"`
	At         time.Time      `json:"at"`
	Actor      string         `json:"actor,omitempty"`
	Note       string         `json:"note,omitempty"`
}

// MaintenanceRecord is the permanent record of one completed due cycle.
type MaintenanceRecord struct {
	ID          string     `json:"id"`
	ScheduleID  string     `json:"schedule_id"`
	TriggerID   string     `json:"trigger_id"`
	AircraftID  string     `json:"aircraft_id"`
	ComponentID string     `json:"component_id,omitempty"`
	WorkOrderID string     `json:"work_order_id"`
	CompletedAt time.Time  `json:"completed_at"`
	Value       *int64     `json:"value,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	PerformerID string     `json:"performer_id"`
	InspectorID string     `json:"inspector_id,omitempty"`
}

// WorkOrderStatus is the state of a work order.
type WorkOrderStatus string

const (
	WorkOrderOpen      WorkOrderStatus = "OPEN"
	WorkOrderCompleted WorkOrderStatus = "COMPLETED"
	WorkOrderCancelled WorkOrderStatus = "CANCELLED"
)

// WorkOrder is the execution record a schedule spawns when work starts.
type WorkOrder struct {
	ID          string          `json:"id"`
	ScheduleID  string          `json:"schedule_id"`
	AircraftID  string          `json:"aircraft_id"`
	Status      WorkOrderStatus `json:"status"`
	OpenedBy    string          `json:"opened_by"`
	Assignee    string          `json:"assignee,omitempty"`
	OpenedAt    time.Time       `json:"opened_at"`
	ClosedAt    *time.Time      `json:"closed_at,omitempty"`
	PerformerID string          `json:"performer_id,omitempty"`
	InspectorID string          `json:"inspector_id,omitempty"`
	Notes       string          `json:"notes,omitempty"`
}

// SignOff identifies a user signing a completion and the roles they hold.
type SignOff struct {
	UserID string   `json:"user_id"`
	Roles  []string `json:"roles,omitempty"`
}

func equalTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func equalInt(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
