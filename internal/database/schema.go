package database

// Usage columns hold fixed-point values: hours in thousandths, cycles as
// integers. Timestamps are UTC Unix nanoseconds.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS aircraft (
		id TEXT PRIMARY KEY,
		registration TEXT NOT NULL UNIQUE,
		model TEXT NOT NULL,
		serial_number TEXT NOT NULL DEFAULT '',
		manufacturer TEXT NOT NULL DEFAULT '',
		operator TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		total_hours INTEGER NOT NULL DEFAULT 0 CHECK (total_hours >= 0),
		total_cycles INTEGER NOT NULL DEFAULT 0 CHECK (total_cycles >= 0),
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS components (
		id TEXT PRIMARY KEY,
		serial_number TEXT NOT NULL UNIQUE,
		part_number TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL,
		status TEXT NOT NULL,
		airworthy INTEGER NOT NULL DEFAULT 1,
		is_life_limited INTEGER NOT NULL DEFAULT 0,
		max_hours INTEGER,
		max_cycles INTEGER,
		total_hours INTEGER NOT NULL DEFAULT 0 CHECK (total_hours >= 0),
		total_cycles INTEGER NOT NULL DEFAULT 0 CHECK (total_cycles >= 0),
		total_battery_cycles INTEGER NOT NULL DEFAULT 0 CHECK (total_battery_cycles >= 0),
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS installation_segments (
		id TEXT PRIMARY KEY,
		component_id TEXT NOT NULL REFERENCES components(id),
		aircraft_id TEXT NOT NULL REFERENCES aircraft(id),
		location TEXT NOT NULL,
		installed_at INTEGER NOT NULL,
		installed_by TEXT NOT NULL DEFAULT '',
		removed_at INTEGER,
		removed_by TEXT NOT NULL DEFAULT '',
		inherited_hours INTEGER NOT NULL,
		inherited_cycles INTEGER NOT NULL,
		inherited_battery_cycles INTEGER NOT NULL,
		accumulated_hours INTEGER NOT NULL DEFAULT 0,
		accumulated_cycles INTEGER NOT NULL DEFAULT 0,
		accumulated_battery_cycles INTEGER NOT NULL DEFAULT 0,
		notes TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE TABLE IF NOT EXISTS maintenance_programs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		aircraft_model TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS maintenance_triggers (
		id TEXT PRIMARY KEY,
		program_id TEXT NOT NULL REFERENCES maintenance_programs(id),
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		interval_value REAL NOT NULL DEFAULT 0,
		fixed_date INTEGER,
		component_type TEXT NOT NULL DEFAULT '',
		location TEXT NOT NULL DEFAULT '',
		priority TEXT NOT NULL,
		performer_role TEXT NOT NULL DEFAULT '',
		rii INTEGER NOT NULL DEFAULT 0,
		description TEXT NOT NULL DEFAULT '',
		UNIQUE(program_id, name)
	)`,

	`CREATE TABLE IF NOT EXISTS program_attachments (
		aircraft_id TEXT NOT NULL REFERENCES aircraft(id),
		program_id TEXT NOT NULL REFERENCES maintenance_programs(id),
		attached_at INTEGER NOT NULL,
		detached_at INTEGER,
		PRIMARY KEY (aircraft_id, program_id)
	)`,

	`CREATE TABLE IF NOT EXISTS maintenance_schedules (
		id TEXT PRIMARY KEY,
		aircraft_id TEXT NOT NULL REFERENCES aircraft(id),
		trigger_id TEXT NOT NULL REFERENCES maintenance_triggers(id),
		component_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		anchor_at INTEGER NOT NULL,
		due_date INTEGER,
		due_value INTEGER,
		last_completed_at INTEGER,
		last_completed_value INTEGER,
		last_completed_due_date INTEGER,
		assignee TEXT NOT NULL DEFAULT '',
		work_order_id TEXT NOT NULL DEFAULT '',
		skip_reason TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		UNIQUE(aircraft_id, trigger_id, component_id)
	)`,

	`CREATE TABLE IF NOT EXISTS schedule_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		schedule_id TEXT NOT NULL REFERENCES maintenance_schedules(id),
		from_status TEXT NOT NULL,
		to_status TEXT NOT NULL,
		at INTEGER NOT NULL,
		actor TEXT NOT NULL DEFAULT '',
		note TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE TABLE IF NOT EXISTS work_orders (
		id TEXT PRIMARY KEY,
		schedule_id TEXT NOT NULL REFERENCES maintenance_schedules(id),
		aircraft_id TEXT NOT NULL REFERENCES aircraft(id),
		status TEXT NOT NULL,
		opened_by TEXT NOT NULL DEFAULT '',
		assignee TEXT NOT NULL DEFAULT '',
		opened_at INTEGER NOT NULL,
		closed_at INTEGER,
		performer_id TEXT NOT NULL DEFAULT '',
		inspector_id TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE TABLE IF NOT EXISTS maintenance_records (
		id TEXT PRIMARY KEY,
		schedule_id TEXT NOT NULL REFERENCES maintenance_schedules(id),
		trigger_id TEXT NOT NULL,
		aircraft_id TEXT NOT NULL,
		component_id TEXT NOT NULL DEFAULT '',
		work_order_id TEXT NOT NULL,
		completed_at INTEGER NOT NULL,
		value INTEGER,
		due_date INTEGER,
		performer_id TEXT NOT NULL,
		inspector_id TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE TABLE IF NOT EXISTS pilot_reports (
		id TEXT PRIMARY KEY,
		aircraft_id TEXT NOT NULL REFERENCES aircraft(id),
		severity TEXT NOT NULL,
		status TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		reported_by TEXT NOT NULL DEFAULT '',
		reported_at INTEGER NOT NULL,
		resolved_at INTEGER
	)`,

	`CREATE TABLE IF NOT EXISTS release_records (
		id TEXT PRIMARY KEY,
		aircraft_id TEXT NOT NULL REFERENCES aircraft(id),
		scope TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL,
		issued_by TEXT NOT NULL,
		issued_at INTEGER NOT NULL,
		conditions TEXT NOT NULL DEFAULT '[]',
		notes TEXT NOT NULL DEFAULT '',
		superseded_by TEXT NOT NULL DEFAULT '',
		superseded_at INTEGER
	)`,

	`CREATE TABLE IF NOT EXISTS usage_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		aircraft_id TEXT NOT NULL REFERENCES aircraft(id),
		hours INTEGER NOT NULL,
		cycles INTEGER NOT NULL,
		battery_cycles TEXT NOT NULL DEFAULT '{}',
		at INTEGER NOT NULL
	)`,

	// At most one open segment per component and per (aircraft, location).
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_segments_open_component
		ON installation_segments(component_id) WHERE removed_at IS NULL`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_segments_open_location
		ON installation_segments(aircraft_id, location) WHERE removed_at IS NULL`,
	`CREATE INDEX IF NOT EXISTS idx_segments_component ON installation_segments(component_id, installed_at)`,
	`CREATE INDEX IF NOT EXISTS idx_segments_aircraft ON installation_segments(aircraft_id, removed_at)`,

	`CREATE INDEX IF NOT EXISTS idx_triggers_program ON maintenance_triggers(program_id)`,
	`CREATE INDEX IF NOT EXISTS idx_schedules_aircraft ON maintenance_schedules(aircraft_id, active)`,
	`CREATE INDEX IF NOT EXISTS idx_schedule_events_schedule ON schedule_events(schedule_id, id)`,

	// One active work order per schedule.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_work_orders_open
		ON work_orders(schedule_id) WHERE status = 'OPEN'`,

	`CREATE INDEX IF NOT EXISTS idx_records_trigger_component
		ON maintenance_records(trigger_id, component_id, completed_at)`,
	`CREATE INDEX IF NOT EXISTS idx_pireps_aircraft ON pilot_reports(aircraft_id, status)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_releases_active
		ON release_records(aircraft_id, scope) WHERE superseded_by = ''`,
	`CREATE INDEX IF NOT EXISTS idx_usage_events_aircraft ON usage_events(aircraft_id, at)`,

	// Closed segments keep only their notes mutable.
	`CREATE TRIGGER IF NOT EXISTS trg_segments_closed_immutable
		BEFORE UPDATE ON installation_segments
		WHEN OLD.removed_at IS NOT NULL AND (
			NEW.component_id IS NOT OLD.component_id OR
			NEW.aircraft_id IS NOT OLD.aircraft_id OR
			NEW.location IS NOT OLD.location OR
			NEW.installed_at IS NOT OLD.installed_at OR
			NEW.removed_at IS NOT OLD.removed_at OR
			NEW.removed_by IS NOT OLD.removed_by OR
			NEW.inherited_hours IS NOT OLD.inherited_hours OR
			NEW.inherited_cycles IS NOT OLD.inherited_cycles OR
			NEW.inherited_battery_cycles IS NOT OLD.inherited_battery_cycles OR
			NEW.accumulated_hours IS NOT OLD.accumulated_hours OR
			NEW.accumulated_cycles IS NOT OLD.accumulated_cycles OR
			NEW.accumulated_battery_cycles IS NOT OLD.accumulated_battery_cycles)
		BEGIN
			SELECT RAISE(ABORT, 'closed installation segment is immutable');
		END`,

	`CREATE TRIGGER IF NOT EXISTS trg_segments_append_only
		BEFORE DELETE ON installation_segments
		BEGIN
			SELECT RAISE(ABORT, 'installation history is append-only');
		END`,

	// Release records change only by being superseded, once.
	`CREATE TRIGGER IF NOT EXISTS trg_releases_immutable
		BEFORE UPDATE ON release_records
		WHEN OLD.superseded_by != '' OR
			NEW.id IS NOT OLD.id OR
			NEW.aircraft_id IS NOT OLD.aircraft_id OR
			NEW.scope IS NOT OLD.scope OR
			NEW.kind IS NOT OLD.kind OR
			NEW.issued_by IS NOT OLD.issued_by OR
			NEW.issued_at IS NOT OLD.issued_at OR
			NEW.conditions IS NOT OLD.conditions OR
			NEW.notes IS NOT OLD.notes
		BEGIN
			SELECT RAISE(ABORT, 'release records are immutable except for supersession');
		END`,

	`CREATE TRIGGER IF NOT EXISTS trg_releases_append_only
		BEFORE DELETE ON release_records
		BEGIN
			SELECT RAISE(ABORT, 'release records are append-only');
		END`,

	`CREATE TRIGGER IF NOT EXISTS trg_records_append_only
		BEFORE DELETE ON maintenance_records
		BEGIN
			SELECT RAISE(ABORT, 'maintenance records are append-only');
		END`,
}
