package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fleet_ledger/internal/faults"

	"github.com/mattn/go-sqlite3"
)

// Querier is satisfied by both *sql.DB and *sql.Tx, so every repository can
// run inside or outside a transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Session bundles the repositories bound to one Querier.
type Session struct {
	Aircraft   AircraftRepository
	Components ComponentRepository
	Segments   SegmentRepository
	Programs   ProgramRepository
	Schedules  ScheduleRepository
	WorkOrders WorkOrderRepository
	Records    MaintenanceRecordRepository
	Pireps     PilotReportRepository
	Releases   ReleaseRepository
	Usage      UsageEventRepository
}

func newSession(q Querier) *Session {
	return &Session{
		Aircraft:   NewAircraftRepository(q),
		Components: NewComponentRepository(q),
		Segments:   NewSegmentRepository(q),
		Programs:   NewProgramRepository(q),
		Schedules:  NewScheduleRepository(q),
		WorkOrders: NewWorkOrderRepository(q),
		Records:    NewMaintenanceRecordRepository(q),
		Pireps:     NewPilotReportRepository(q),
		Releases:   NewReleaseRepository(q),
		Usage:      NewUsageEventRepository(q),
	}
}

// Options tunes the SQLite connection.
type Options struct {
	// BusyTimeout is how long SQLite waits for the write lock before
	// reporting SQLITE_BUSY, which surfaces as a ConflictError.
	BusyTimeout time.Duration
}

// DB is the SQLite-backed ledger store.
type DB struct {
	db *sql.DB
}

// New opens (creating if needed) the database at dbPath and migrates it.
func New(dbPath string, opts Options) (*DB, error) {
	busy := opts.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}

	// _txlock=immediate takes the write lock at BEGIN, so every transaction
	// is serializable against other writers.
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_txlock=immediate&_foreign_keys=on&_journal_mode=WAL&_synchronous=NORMAL",
		dbPath, busy.Milliseconds())

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := optimizeSQLite(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to optimize database: %w", err)
	}

	database := &DB{db: db}

	if err := database.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return database, nil
}

// Wrap uses an already opened handle without touching its schema.
func Wrap(db *sql.DB) *DB {
	return &DB{db: db}
}

// optimizeSQLite applies per-connection tuning that has no DSN parameter.
func optimizeSQLite(db *sql.DB) error {
	// 64MB page cache, in RAM
	if _, err := db.Exec("PRAGMA cache_size=-64000"); err != nil {
		return fmt.Errorf("failed to set cache size: %w", err)
	}

	if _, err := db.Exec("PRAGMA temp_store=MEMORY"); err != nil {
		return fmt.Errorf("failed to set temp_store: %w", err)
	}

	return nil
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.db.Close()
}

// initSchema creates the tables, indexes and guard triggers if missing
func (d *DB) initSchema() error {
	for _, stmt := range schema {
		if _, err := d.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	return nil
}

// Session returns repositories running in autocommit mode. Use it for reads;
// multi-row writes belong in InTx.
func (d *DB) Session() *Session {
	return newSession(d.db)
}

// InTx runs fn in a single transaction. Any error (or panic) from fn rolls
// the whole transaction back; the error is returned unchanged.
func (d *DB) InTx(ctx context.Context, fn func(s *Session) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return storeError(err, "begin transaction")
	}
	defer tx.Rollback()

	if err := fn(newSession(tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return storeError(err, "commit transaction")
	}

	return nil
}

// storeError converts lock contention and uniqueness violations into a
// ConflictError and wraps everything else.
func storeError(err error, op string) error {
	if isConflict(err) {
		return faults.WrapConflict("store", "", err)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func entityError(err error, entity, id, op string) error {
	if isConflict(err) {
		return faults.WrapConflict(entity, id, err)
	}
	return fmt.Errorf("failed to %s %s %s: %w", op, entity, id, err)
}

func isConflict(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code {
	case sqlite3.ErrBusy, sqlite3.ErrLocked:
		return true
	case sqlite3.ErrConstraint:
		return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
			se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func toNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toNanos(*t), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func intPtr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// expectOne turns a zero-row UPDATE into a NotFoundError.
func expectOne(res sql.Result, entity, id, format string, args ...any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return faults.NotFound(entity, id, format, args...)
	}
	return nil
}
