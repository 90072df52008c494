package database

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"fleet_ledger/internal/faults"
	"fleet_ledger/internal/models"
)

type AircraftRepository interface {
	Insert(ctx context.Context, ac *models.Aircraft) error
	InsertBatch(ctx context.Context, aircraft []*models.Aircraft) error
	Get(ctx context.Context, id string) (*models.Aircraft, error)
	List(ctx context.Context) ([]*models.Aircraft, error)
	AddUsage(ctx context.Context, id string, delta models.Usage, at time.Time) error
	IsTablePopulated(ctx context.Context) (bool, error)
}

type aircraftRepository struct {
	q Querier
}

func NewAircraftRepository(q Querier) AircraftRepository {
	return &aircraftRepository{q: q}
}

const aircraftColumns = `id, registration, model, serial_number, manufacturer, operator, notes,
	total_hours, total_cycles, created_at, updated_at`

func (r *aircraftRepository) Insert(ctx context.Context, ac *models.Aircraft) error {
	if ac.CreatedAt.IsZero() {
		ac.CreatedAt = time.Now().UTC()
	}
	ac.UpdatedAt = ac.CreatedAt
	_, err := r.q.ExecContext(ctx, `INSERT INTO aircraft (`+aircraftColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ac.ID, ac.Registration, ac.Model, ac.SerialNumber, ac.Manufacturer, ac.Operator, ac.Notes,
		int64(ac.Totals.Hours), ac.Totals.Cycles, toNanos(ac.CreatedAt), toNanos(ac.UpdatedAt),
	)
	if err != nil {
		return entityError(err, "aircraft", ac.ID, "insert")
	}
	return nil
}

// InsertBatch inserts one or more aircraft, ignoring ids already present.
// Run it inside InTx when the batch must be all-or-nothing.
func (r *aircraftRepository) InsertBatch(ctx context.Context, aircraft []*models.Aircraft) error {
	if len(aircraft) == 0 {
		return nil
	}

	now := time.Now().UTC()
	for _, ac := range aircraft {
		if ac.CreatedAt.IsZero() {
			ac.CreatedAt = now
		}
		ac.UpdatedAt = ac.CreatedAt
		if _, err := r.q.ExecContext(ctx, `INSERT OR IGNORE INTO aircraft (`+aircraftColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ac.ID, ac.Registration, ac.Model, ac.SerialNumber, ac.Manufacturer, ac.Operator, ac.Notes,
			int64(ac.Totals.Hours), ac.Totals.Cycles, toNanos(ac.CreatedAt), toNanos(ac.UpdatedAt),
		); err != nil {
			return entityError(err, "aircraft", ac.ID, "insert")
		}
	}
	return nil
}

func (r *aircraftRepository) Get(ctx context.Context, id string) (*models.Aircraft, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+aircraftColumns+` FROM aircraft WHERE id = ?`, id)
	ac, err := scanAircraft(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, faults.NotFound("aircraft", id, "aircraft does not exist")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get aircraft %s: %w", id, err)
	}
	return ac, nil
}

func (r *aircraftRepository) List(ctx context.Context) ([]*models.Aircraft, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+aircraftColumns+` FROM aircraft ORDER BY registration`)
	if err != nil {
		return nil, fmt.Errorf("failed to list aircraft: %w", err)
	}
	defer rows.Close()

	var out []*models.Aircraft
	for rows.Next() {
		ac, err := scanAircraft(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan aircraft: %w", err)
		}
		out = append(out, ac)
	}
	return out, rows.Err()
}

func (r *aircraftRepository) AddUsage(ctx context.Context, id string, delta models.Usage, at time.Time) error {
	res, err := r.q.ExecContext(ctx, `UPDATE aircraft
		SET total_hours = total_hours + ?, total_cycles = total_cycles + ?, updated_at = ?
		WHERE id = ?`,
		int64(delta.Hours), delta.Cycles, toNanos(at), id)
	if err != nil {
		return entityError(err, "aircraft", id, "update usage of")
	}
	return expectOne(res, "aircraft", id, "aircraft does not exist")
}

func (r *aircraftRepository) IsTablePopulated(ctx context.Context) (bool, error) {
	var ignored int
	err := r.q.QueryRowContext(ctx, "SELECT 1 FROM aircraft LIMIT 1").Scan(&ignored)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check aircraft table: %w", err)
	}
	return true, nil
}

func scanAircraft(s rowScanner) (*models.Aircraft, error) {
	var ac models.Aircraft
	var hours int64
	var created, updated int64
	if err := s.Scan(&ac.ID, &ac.Registration, &ac.Model, &ac.SerialNumber, &ac.Manufacturer,
		&ac.Operator, &ac.Notes, &hours, &ac.Totals.Cycles, &created, &updated); err != nil {
		return nil, err
	}
	ac.Totals.Hours = models.Hours(hours)
	ac.CreatedAt = fromNanos(created)
	ac.UpdatedAt = fromNanos(updated)
	return &ac, nil
}

// LoadFleetCSV seeds the aircraft table from roster CSV files, each read
// through its own header. Rows with a wrong field count or without id,
// registration or model are skipped with a warning. Each batch is committed
// in its own transaction.
func (d *DB) LoadFleetCSV(ctx context.Context, csvPaths []string, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 500
	}

	loaded := 0
	batch := make([]*models.Aircraft, 0, batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := d.InTx(ctx, func(s *Session) error {
			return s.Aircraft.InsertBatch(ctx, batch)
		})
		if err != nil {
			return err
		}
		loaded += len(batch)
		batch = batch[:0]
		return nil
	}

	for _, csvPath := range csvPaths {
		if err := func() error {
			file, err := os.Open(csvPath)
			if err != nil {
				return fmt.Errorf("failed to open CSV file %s: %w", csvPath, err)
			}
			defer file.Close()

			reader := csv.NewReader(file)
			reader.FieldsPerRecord = -1
			reader.TrimLeadingSpace = true

			header, err := reader.Read()
			if err != nil {
				return fmt.Errorf("failed to read CSV header from %s: %w", csvPath, err)
			}

			// Each file is mapped by its own header.
			expectedFields := len(header)
			headerMap := make(map[string]int)
			for i, h := range header {
				headerMap[strings.ToLower(strings.Trim(strings.TrimSpace(h), "'\""))] = i
			}
			for _, required := range []string{"id", "registration", "model"} {
				if _, ok := headerMap[required]; !ok {
					return fmt.Errorf("CSV file %s is missing column %q", csvPath, required)
				}
			}

			skipped := 0
			for {
				record, err := reader.Read()
				if err == io.EOF {
					if skipped > 0 {
						slog.Warn("Skipped fleet roster rows", "csv_path", csvPath, "skipped", skipped)
					}
					return nil
				}
				if err != nil {
					return fmt.Errorf("failed to read CSV record from %s: %w", csvPath, err)
				}

				line, _ := reader.FieldPos(0)
				if len(record) != expectedFields {
					slog.Warn("Skipping fleet roster row with wrong field count",
						"csv_path", csvPath, "line", line, "fields", len(record), "expected", expectedFields)
					skipped++
					continue
				}

				ac := &models.Aircraft{
					ID:           getField(record, headerMap, "id"),
					Registration: getField(record, headerMap, "registration"),
					Model:        getField(record, headerMap, "model"),
					SerialNumber: getField(record, headerMap, "serial_number"),
					Manufacturer: getField(record, headerMap, "manufacturer"),
					Operator:     getField(record, headerMap, "operator"),
					Notes:        getField(record, headerMap, "notes"),
				}

				if ac.ID == "" || ac.Registration == "" || ac.Model == "" {
					slog.Warn("Skipping fleet roster row without id, registration or model",
						"csv_path", csvPath, "line", line, "id", ac.ID)
					skipped++
					continue
				}

				batch = append(batch, ac)
				if len(batch) >= batchSize {
					if err := flush(); err != nil {
						return fmt.Errorf("failed to insert batch: %w", err)
					}
				}
			}
		}(); err != nil {
			return loaded, err
		}
	}

	if err := flush(); err != nil {
		return loaded, fmt.Errorf("failed to insert final batch: %w", err)
	}

	return loaded, nil
}

// getField safely retrieves a field from a CSV record by header name
func getField(record []string, headerMap map[string]int, fieldName string) string {
	if idx, ok := headerMap[fieldName]; ok && idx < len(record) {
		return strings.Trim(strings.TrimSpace(record[idx]), "'\"")
	}
	return ""
}
