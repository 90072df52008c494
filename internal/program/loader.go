// Package program loads maintenance-program definitions from YAML files.
package program

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"fleet_ledger/internal/database"
	"fleet_ledger/internal/faults"
	"fleet_ledger/internal/models"

	"gopkg.in/yaml.v3"
)

// programFile is the YAML layout of one program.
type programFile struct {
	Name          string        `yaml:"name"`
	AircraftModel string        `yaml:"aircraft_model"`
	Description   string        `yaml:"description"`
	Triggers      []triggerFile `yaml:"triggers"`
}

type triggerFile struct {
	Name          string        `yaml:"name"`
	Type          string        `yaml:"type"`
	Interval      float64       `yaml:"interval"`
	FixedDate     string        `yaml:"fixed_date"`
	Priority      string        `yaml:"priority"`
	PerformerRole string        `yaml:"performer_role"`
	RII           bool          `yaml:"rii"`
	Description   string        `yaml:"description"`
	Scope         *models.Scope `yaml:"scope"`
}

// Parse decodes one program document. Enumerations are matched
// case-insensitively; fixed dates are YYYY-MM-DD or RFC 3339.
func Parse(data []byte) (*models.MaintenanceProgram, error) {
	var f programFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, faults.Validation("maintenance program", "", "", "failed to parse program: %v", err)
	}

	p := &models.MaintenanceProgram{
		Name:          strings.TrimSpace(f.Name),
		AircraftModel: strings.TrimSpace(f.AircraftModel),
		Description:   f.Description,
	}

	seen := make(map[string]bool, len(f.Triggers))
	for i, tf := range f.Triggers {
		t, err := tf.toTrigger()
		if err != nil {
			return nil, faults.Validation("maintenance program", p.Name, fmt.Sprintf("triggers[%d]", i), "%v", err)
		}
		if seen[t.Name] {
			return nil, faults.Validation("maintenance program", p.Name, fmt.Sprintf("triggers[%d]", i), "duplicate trigger name %q", t.Name)
		}
		seen[t.Name] = true
		p.Triggers = append(p.Triggers, t)
	}

	if err := p.Validate(); err != nil {
		return nil, faults.Validation("maintenance program", p.Name, "", "%v", err)
	}
	return p, nil
}

func (tf triggerFile) toTrigger() (models.Trigger, error) {
	t := models.Trigger{
		Name:          strings.TrimSpace(tf.Name),
		Interval:      tf.Interval,
		PerformerRole: tf.PerformerRole,
		RII:           tf.RII,
		Description:   tf.Description,
	}
	if t.Name == "" {
		return t, fmt.Errorf("trigger name is required")
	}

	var err error
	if t.Type, err = models.ParseTriggerType(tf.Type); err != nil {
		return t, err
	}
	priority := tf.Priority
	if priority == "" {
		priority = string(models.PriorityMedium)
	}
	if t.Priority, err = models.ParsePriority(priority); err != nil {
		return t, err
	}

	if tf.Scope != nil {
		t.Scope.Location = strings.TrimSpace(tf.Scope.Location)
		if tf.Scope.ComponentType != "" {
			if t.Scope.ComponentType, err = models.ParseComponentType(string(tf.Scope.ComponentType)); err != nil {
				return t, err
			}
		}
	}

	if tf.FixedDate != "" {
		d, err := parseDate(tf.FixedDate)
		if err != nil {
			return t, fmt.Errorf("trigger %q: %w", t.Name, err)
		}
		t.FixedDate = &d
	}
	return t, nil
}

func parseDate(s string) (time.Time, error) {
	if d, err := time.Parse("2006-01-02", s); err == nil {
		return d, nil
	}
	d, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid fixed date %q", s)
	}
	return d.UTC(), nil
}

// LoadFile reads and parses one program file.
func LoadFile(path string) (*models.MaintenanceProgram, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// LoadDir parses every .yaml/.yml file in dir, in name order, and upserts
// them by program name in one transaction. Trigger IDs survive reloads, so
// existing schedules stay attached to their triggers.
func LoadDir(ctx context.Context, db *database.DB, dir string) ([]*models.MaintenanceProgram, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read program directory %s: %w", dir, err)
	}

	var paths []string
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)

	programs := make([]*models.MaintenanceProgram, 0, len(paths))
	names := make(map[string]string, len(paths))
	for _, path := range paths {
		p, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		if prev, ok := names[p.Name]; ok {
			return nil, faults.Validation("maintenance program", p.Name, "name", "defined in both %s and %s", prev, path)
		}
		names[p.Name] = path
		programs = append(programs, p)
	}

	err = db.InTx(ctx, func(s *database.Session) error {
		for _, p := range programs {
			if err := s.Programs.Upsert(ctx, p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, p := range programs {
		slog.Info("Maintenance program loaded",
			"program_id", p.ID,
			"name", p.Name,
			"aircraft_model", p.AircraftModel,
			"triggers", len(p.Triggers))
	}
	return programs, nil
}
