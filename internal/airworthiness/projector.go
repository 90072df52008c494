// Package airworthiness derives whether an aircraft may fly from its
// installed components, its schedules and its open pilot reports. Nothing
// here writes to the store.
package airworthiness

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"fleet_ledger/internal/clock"
	"fleet_ledger/internal/database"
	"fleet_ledger/internal/models"
	"fleet_ledger/internal/schedule"

	mapset "github.com/deckarep/golang-set/v2"
)

type Status string

const (
	Airworthy   Status = "AIRWORTHY"
	Conditional Status = "CONDITIONAL"
	Grounded    Status = "GROUNDED"
)

// Finding codes.
const (
	CodeLifeLimit       = "LIFE_LIMIT_EXCEEDED"
	CodeUnserviceable   = "COMPONENT_UNSERVICEABLE"
	CodeCriticalOverdue = "CRITICAL_OVERDUE"
	CodeRIIOverdue      = "RII_OVERDUE"
	CodeAOG             = "AOG_PIREP"
	CodeOutstanding     = "OUTSTANDING_MAINTENANCE"
	CodeOpenPirep       = "OPEN_PIREP"
)

// Finding is one reason behind a report's status.
type Finding struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	ScheduleID  string `json:"schedule_id,omitempty"`
	ComponentID string `json:"component_id,omitempty"`
	PirepID     string `json:"pirep_id,omitempty"`
}

// Report is the airworthiness of one aircraft at EvaluatedAt. Grounds are
// the findings that ground it; Conditions are outstanding MEDIUM or HIGH
// items that make an otherwise airworthy aircraft CONDITIONAL.
type Report struct {
	AircraftID   string     `json:"aircraft_id"`
	Status       Status     `json:"status"`
	Grounds      []Finding  `json:"grounds,omitempty"`
	Conditions   []Finding  `json:"conditions,omitempty"`
	EvaluatedAt  time.Time  `json:"evaluated_at"`
	NextBoundary *time.Time `json:"next_boundary,omitempty"`
}

// ComponentReport is the airworthiness of one component on its own.
type ComponentReport struct {
	ComponentID  string                      `json:"component_id"`
	Airworthy    bool                        `json:"airworthy"`
	Findings     []Finding                   `json:"findings,omitempty"`
	Installation *models.InstallationSegment `json:"installation,omitempty"`
	EvaluatedAt  time.Time                   `json:"evaluated_at"`
}

type Options struct {
	CacheTTL  time.Duration
	CacheSize int
}

type Projector struct {
	db    *database.DB
	clock clock.Clock
	cache *reportCache
}

func NewProjector(db *database.DB, clk clock.Clock, opts Options) *Projector {
	return &Projector{
		db:    db,
		clock: clk,
		cache: newReportCache(clk, opts.CacheSize, opts.CacheTTL),
	}
}

// Invalidate drops the cached reports of the given aircraft. The schedule
// engine calls it after every committed change.
func (p *Projector) Invalidate(aircraftIDs ...string) {
	ids := mapset.NewThreadUnsafeSet(aircraftIDs...).ToSlice()
	p.cache.invalidate(ids)
	slog.Debug("Airworthiness invalidated", "aircraft_ids", ids)
}

// Airworthiness returns the current report for an aircraft, from cache when
// nothing has changed since it was computed.
func (p *Projector) Airworthiness(ctx context.Context, aircraftID string) (*Report, error) {
	r, generation, ok := p.cache.get(aircraftID)
	if ok {
		return r, nil
	}

	r, err := p.Evaluate(ctx, aircraftID, p.clock.Now())
	if err != nil {
		return nil, err
	}
	p.cache.set(aircraftID, r, generation)
	return r, nil
}

// Evaluate computes a fresh report as of at, bypassing the cache.
func (p *Projector) Evaluate(ctx context.Context, aircraftID string, at time.Time) (*Report, error) {
	s := p.db.Session()

	projections, err := schedule.ProjectAircraft(ctx, s, aircraftID, at)
	if err != nil {
		return nil, err
	}
	segments, err := s.Segments.OpenForAircraft(ctx, aircraftID)
	if err != nil {
		return nil, err
	}
	pireps, err := s.Pireps.OpenForAircraft(ctx, aircraftID)
	if err != nil {
		return nil, err
	}

	r := &Report{AircraftID: aircraftID, EvaluatedAt: at}

	for _, seg := range segments {
		c, err := s.Components.Get(ctx, seg.ComponentID)
		if err != nil {
			return nil, err
		}
		r.Grounds = append(r.Grounds, componentFindings(c, seg.Location)...)
	}

	for _, pr := range projections {
		status := effectiveStatus(pr)
		t := pr.Trigger
		switch {
		case status == models.ScheduleOverdue && t.Priority == models.PriorityCritical:
			r.Grounds = append(r.Grounds, scheduleFinding(CodeCriticalOverdue, pr, status))
		case status == models.ScheduleOverdue && t.RII:
			r.Grounds = append(r.Grounds, scheduleFinding(CodeRIIOverdue, pr, status))
		case status.Outstanding() && t.Priority.Rank() >= models.PriorityMedium.Rank():
			r.Conditions = append(r.Conditions, scheduleFinding(CodeOutstanding, pr, status))
		}

		if d := pr.Due.Date; d != nil && !d.Before(at) && status != models.ScheduleOverdue {
			// The entry at d itself is DUE; one instant later it is OVERDUE.
			boundary := *d
			if boundary.Equal(at) {
				boundary = boundary.Add(time.Nanosecond)
			}
			if r.NextBoundary == nil || boundary.Before(*r.NextBoundary) {
				r.NextBoundary = &boundary
			}
		}
	}

	for _, pirep := range pireps {
		switch pirep.Severity {
		case models.SeverityCritical:
			r.Grounds = append(r.Grounds, Finding{
				Code:    CodeAOG,
				Message: fmt.Sprintf("open AOG pilot report: %s", pirep.Description),
				PirepID: pirep.ID,
			})
		case models.SeverityHigh, models.SeverityMedium:
			r.Conditions = append(r.Conditions, Finding{
				Code:    CodeOpenPirep,
				Message: fmt.Sprintf("open %s pilot report: %s", pirep.Severity, pirep.Description),
				PirepID: pirep.ID,
			})
		}
	}

	switch {
	case len(r.Grounds) > 0:
		r.Status = Grounded
	case len(r.Conditions) > 0:
		r.Status = Conditional
	default:
		r.Status = Airworthy
	}
	return r, nil
}

// ComponentAirworthiness reports whether a component is fit to fly on its
// own: serviceable, within life limits and with no grounding schedule
// overdue against it.
func (p *Projector) ComponentAirworthiness(ctx context.Context, componentID string) (*ComponentReport, error) {
	s := p.db.Session()
	now := p.clock.Now()

	c, err := s.Components.Get(ctx, componentID)
	if err != nil {
		return nil, err
	}
	seg, err := s.Segments.OpenForComponent(ctx, componentID)
	if err != nil {
		return nil, err
	}

	r := &ComponentReport{ComponentID: componentID, Installation: seg, EvaluatedAt: now}
	location := ""
	if seg != nil {
		location = seg.Location
	}
	r.Findings = componentFindings(c, location)
	if c.Status.Terminal() {
		r.Findings = append(r.Findings, Finding{
			Code:        CodeUnserviceable,
			Message:     fmt.Sprintf("component is %s", c.Status),
			ComponentID: c.ID,
		})
	}

	if seg != nil {
		projections, err := schedule.ProjectAircraft(ctx, s, seg.AircraftID, now)
		if err != nil {
			return nil, err
		}
		for _, pr := range projections {
			if pr.Schedule.ComponentID != componentID || effectiveStatus(pr) != models.ScheduleOverdue {
				continue
			}
			switch {
			case pr.Trigger.Priority == models.PriorityCritical:
				r.Findings = append(r.Findings, scheduleFinding(CodeCriticalOverdue, pr, models.ScheduleOverdue))
			case pr.Trigger.RII:
				r.Findings = append(r.Findings, scheduleFinding(CodeRIIOverdue, pr, models.ScheduleOverdue))
			}
		}
	}

	r.Airworthy = len(r.Findings) == 0
	return r, nil
}

func componentFindings(c *models.Component, location string) []Finding {
	var out []Finding
	if c.LifeExceeded() {
		out = append(out, Finding{
			Code:        CodeLifeLimit,
			Message:     fmt.Sprintf("%s %s at %s is past its life limit (%s h, %d cycles)", c.Type, c.SerialNumber, location, c.Totals.Hours, c.Totals.Cycles),
			ComponentID: c.ID,
		})
	}
	if !c.Airworthy || c.Status == models.ComponentRepair {
		out = append(out, Finding{
			Code:        CodeUnserviceable,
			Message:     fmt.Sprintf("%s %s at %s is unserviceable", c.Type, c.SerialNumber, location),
			ComponentID: c.ID,
		})
	}
	return out
}

func scheduleFinding(code string, pr schedule.Projection, status models.ScheduleStatus) Finding {
	return Finding{
		Code:        code,
		Message:     fmt.Sprintf("%s (%s) is %s", pr.Trigger.Name, pr.Trigger.Priority, status),
		ScheduleID:  pr.Schedule.ID,
		ComponentID: pr.Schedule.ComponentID,
	}
}

// effectiveStatus is the worse of the stored and the projected status. Work
// in progress on a due point that has since passed counts as OVERDUE; a
// schedule whose component is gone is SUSPENDED whatever was stored.
func effectiveStatus(pr schedule.Projection) models.ScheduleStatus {
	projected := pr.Status
	if projected == models.ScheduleSuspended {
		return projected
	}
	if projected == models.ScheduleInProgress {
		if pastDue(pr) {
			return models.ScheduleOverdue
		}
		return projected
	}
	if stored := pr.Schedule.Status; stored.Severity() > projected.Severity() {
		return stored
	}
	return projected
}

func pastDue(pr schedule.Projection) bool {
	if pr.RemainingUnits != nil {
		return *pr.RemainingUnits < 0
	}
	if pr.RemainingTime != nil {
		return *pr.RemainingTime < 0
	}
	return false
}
