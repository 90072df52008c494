package schedule

import (
	"strings"

	"fleet_ledger/internal/faults"
	"fleet_ledger/internal/models"

	mapset "github.com/deckarep/golang-set/v2"
)

// Policy holds the sign-off rules for completing work.
type Policy struct {
	// RequireInspectorRole makes RII inspectors prove InspectorRole.
	RequireInspectorRole bool
	InspectorRole        string
}

// CheckSignOff verifies that performer (and inspector, for RII triggers) may
// close a cycle of trigger t on schedule scheduleID.
func (p Policy) CheckSignOff(scheduleID string, t *models.Trigger, performer models.SignOff, inspector *models.SignOff) error {
	if strings.TrimSpace(performer.UserID) == "" {
		return faults.Validation("schedule", scheduleID, "performer", "performer is required")
	}

	if t.PerformerRole != "" && !roleSet(performer.Roles).Contains(t.PerformerRole) {
		return faults.Authorization("schedule", scheduleID, "performer",
			"performer %s lacks required role %s", performer.UserID, t.PerformerRole)
	}

	if !t.RII {
		return nil
	}

	if inspector == nil || strings.TrimSpace(inspector.UserID) == "" {
		return faults.Authorization("schedule", scheduleID, "inspector",
			"trigger %s requires an independent inspector sign-off", t.Name)
	}
	if strings.TrimSpace(inspector.UserID) == strings.TrimSpace(performer.UserID) {
		return faults.Authorization("schedule", scheduleID, "inspector",
			"inspector must be a different person than the performer")
	}
	if p.RequireInspectorRole && !roleSet(inspector.Roles).Contains(p.InspectorRole) {
		return faults.Authorization("schedule", scheduleID, "inspector",
			"inspector %s lacks role %s", inspector.UserID, p.InspectorRole)
	}
	return nil
}

func roleSet(roles []string) mapset.Set[string] {
	return mapset.NewThreadUnsafeSet[string](roles...)
}
