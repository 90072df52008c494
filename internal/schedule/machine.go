package schedule

import (
	"fmt"

	"fleet_ledger/internal/models"
)

// TransitionRule is one allowed status change. Manual transitions happen
// only through an explicit operator action, never through re-evaluation.
type TransitionRule struct {
	From   models.ScheduleStatus
	To     models.ScheduleStatus
	Manual bool
}

// DefaultTransitions is the schedule lifecycle.
var DefaultTransitions = []TransitionRule{
	{From: models.ScheduleScheduled, To: models.ScheduleDue},
	{From: models.ScheduleScheduled, To: models.ScheduleOverdue},
	{From: models.ScheduleScheduled, To: models.ScheduleSuspended},

	{From: models.ScheduleDue, To: models.ScheduleOverdue},
	{From: models.ScheduleDue, To: models.ScheduleScheduled},
	{From: models.ScheduleDue, To: models.ScheduleSuspended},
	{From: models.ScheduleDue, To: models.ScheduleInProgress, Manual: true},

	{From: models.ScheduleOverdue, To: models.ScheduleDue},
	{From: models.ScheduleOverdue, To: models.ScheduleScheduled},
	{From: models.ScheduleOverdue, To: models.ScheduleSuspended},
	{From: models.ScheduleOverdue, To: models.ScheduleInProgress, Manual: true},

	{From: models.ScheduleInProgress, To: models.ScheduleCompleted, Manual: true},
	{From: models.ScheduleInProgress, To: models.ScheduleSkipped, Manual: true},

	// COMPLETED is left in the same transaction that enters it.
	{From: models.ScheduleCompleted, To: models.ScheduleScheduled},
	{From: models.ScheduleCompleted, To: models.ScheduleDue},
	{From: models.ScheduleCompleted, To: models.ScheduleOverdue},
	{From: models.ScheduleCompleted, To: models.ScheduleSuspended},

	{From: models.ScheduleSkipped, To: models.ScheduleScheduled},
	{From: models.ScheduleSkipped, To: models.ScheduleDue},
	{From: models.ScheduleSkipped, To: models.ScheduleOverdue},
	{From: models.ScheduleSkipped, To: models.ScheduleSuspended},

	{From: models.ScheduleSuspended, To: models.ScheduleScheduled},
	{From: models.ScheduleSuspended, To: models.ScheduleDue},
	{From: models.ScheduleSuspended, To: models.ScheduleOverdue},
}

// Machine validates schedule status transitions.
type Machine struct {
	rules []TransitionRule
}

func NewMachine() *Machine {
	return &Machine{rules: DefaultTransitions}
}

// ValidateTransition checks from->to. Staying in the same status is always
// allowed.
func (m *Machine) ValidateTransition(from, to models.ScheduleStatus) error {
	if from == to {
		return nil
	}
	if _, ok := m.rule(from, to); ok {
		return nil
	}
	return &TransitionError{From: from, To: to}
}

// Evaluable reports whether re-evaluation alone may move from -> to.
func (m *Machine) Evaluable(from, to models.ScheduleStatus) bool {
	if from == to {
		return true
	}
	r, ok := m.rule(from, to)
	return ok && !r.Manual
}

// AllowedTransitions returns every status reachable from from.
func (m *Machine) AllowedTransitions(from models.ScheduleStatus) []models.ScheduleStatus {
	var out []models.ScheduleStatus
	for _, r := range m.rules {
		if r.From == from {
			out = append(out, r.To)
		}
	}
	return out
}

func (m *Machine) rule(from, to models.ScheduleStatus) (TransitionRule, bool) {
	for _, r := range m.rules {
		if r.From == from && r.To == to {
			return r, true
		}
	}
	return TransitionRule{}, false
}

type TransitionError struct {
	From models.ScheduleStatus
	To   models.ScheduleStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("no transition defined from %s to %s", e.From, e.To)
}
