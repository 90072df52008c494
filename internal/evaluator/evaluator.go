// Package evaluator computes maintenance due points. Everything here is a
// pure function of its arguments so it can run on read paths without locks.
package evaluator

import (
	"time"

	"fleet_ledger/internal/models"
)

// Snapshot is the usage counters of the trigger's scope (the aircraft, or
// the scoped component) observed at time At.
type Snapshot struct {
	At    time.Time
	Usage models.Usage
}

// Completion is the last completed cycle of a schedule. The zero value means
// the schedule has never been completed.
type Completion struct {
	At      time.Time
	Value   int64      // scope usage at completion, in the trigger's unit
	DueDate *time.Time // due date of the cycle that was completed
}

func (c Completion) Done() bool { return !c.At.IsZero() }

// Result is a due point and the status it implies for the snapshot.
type Result struct {
	Due    models.DuePoint
	Status models.ScheduleStatus
}

// UsageValue returns the counter a trigger type is measured against, in the
// trigger's unit. Calendar triggers have no usage counter.
func UsageValue(t models.TriggerType, u models.Usage) int64 {
	switch t {
	case models.TriggerFlightHours:
		return int64(u.Hours)
	case models.TriggerFlightCycles:
		return u.Cycles
	case models.TriggerBatteryCycles:
		return u.BatteryCycles
	}
	return 0
}

// NextDue returns the next due point for trigger t. anchor is the calendar
// base used until the first completion (program attach or component install
// time). Usage baselines start from zero until the first completion.
func NextDue(t models.Trigger, last Completion, anchor time.Time) models.DuePoint {
	switch t.Type {
	case models.TriggerCalendarDays:
		base := anchor
		if last.Done() {
			base = last.At
		}
		due := base.UTC().AddDate(0, 0, int(t.IntervalUnits()))
		return models.DuePoint{Date: &due}

	case models.TriggerCalendarDate:
		if t.FixedDate == nil {
			return models.DuePoint{}
		}
		due := t.FixedDate.UTC()
		if !last.Done() {
			return models.DuePoint{Date: &due}
		}
		floor := last.At
		if last.DueDate != nil && last.DueDate.After(floor) {
			floor = *last.DueDate
		}
		fixed := due
		for year := fixed.Year() + 1; !due.After(floor); year++ {
			due = anniversary(fixed, year)
		}
		return models.DuePoint{Date: &due}

	case models.TriggerFlightHours, models.TriggerFlightCycles, models.TriggerBatteryCycles:
		var base int64
		if last.Done() {
			base = last.Value
		}
		value := base + t.IntervalUnits()
		return models.DuePoint{Value: &value}
	}
	return models.DuePoint{}
}

// anniversary places fixed's month and day in year. Feb 29 falls on Feb 28
// in common years and returns to Feb 29 in leap years.
func anniversary(fixed time.Time, year int) time.Time {
	day := fixed.Day()
	if fixed.Month() == time.February && day == 29 && !isLeap(year) {
		day = 28
	}
	return time.Date(year, fixed.Month(), day, fixed.Hour(), fixed.Minute(), fixed.Second(), fixed.Nanosecond(), time.UTC)
}

func isLeap(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

// Classify maps a due point and a snapshot to SCHEDULED, DUE or OVERDUE.
// There is no grace: reaching the due point is DUE, passing it is OVERDUE,
// so a single step over the due point lands directly in OVERDUE. A zero due
// point classifies as SUSPENDED.
func Classify(t models.Trigger, due models.DuePoint, snap Snapshot) models.ScheduleStatus {
	switch {
	case due.Value != nil:
		v := UsageValue(t.Type, snap.Usage)
		switch {
		case v > *due.Value:
			return models.ScheduleOverdue
		case v == *due.Value:
			return models.ScheduleDue
		}
		return models.ScheduleScheduled
	case due.Date != nil:
		switch {
		case snap.At.After(*due.Date):
			return models.ScheduleOverdue
		case snap.At.Equal(*due.Date):
			return models.ScheduleDue
		}
		return models.ScheduleScheduled
	}
	return models.ScheduleSuspended
}

// Evaluate combines NextDue and Classify.
func Evaluate(t models.Trigger, snap Snapshot, last Completion, anchor time.Time) Result {
	due := NextDue(t, last, anchor)
	return Result{Due: due, Status: Classify(t, due, snap)}
}

// Remaining reports how far the snapshot is from the due point: usage units
// for usage triggers, time for calendar triggers. Negative means overdue.
func Remaining(t models.Trigger, due models.DuePoint, snap Snapshot) (units *int64, until *time.Duration) {
	if due.Value != nil {
		r := *due.Value - UsageValue(t.Type, snap.Usage)
		return &r, nil
	}
	if due.Date != nil {
		d := due.Date.Sub(snap.At)
		return nil, &d
	}
	return nil, nil
}
