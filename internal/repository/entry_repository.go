package repository

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/yourorg/valetgate/internal/domain"
)

// PostgresEntryRepository implements domain.EntryRepository using PostgreSQL.
// Every query filters by tenant_id; there is no unscoped read path.
type PostgresEntryRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresEntryRepository creates a new vehicle entry repository
func NewPostgresEntryRepository(db *sql.DB, logger *slog.Logger) *PostgresEntryRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresEntryRepository{db: db, logger: logger}
}

const entryColumns = `id, tenant_id, plate, model, color, client_name, spot_number, status, entry_time, exit_time, created_at`

func scanEntry(row interface{ Scan(...any) error }) (*domain.VehicleEntry, error) {
	e := &domain.VehicleEntry{}
	var (
		model, color, clientName, spotNumber sql.NullString
		exitTime                             sql.NullTime
	)
	err := row.Scan(&e.ID, &e.TenantID, &e.Plate, &model, &color, &clientName,
		&spotNumber, &e.Status, &e.EntryTime, &exitTime, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	e.Model = model.String
	e.Color = color.String
	e.ClientName = clientName.String
	e.SpotNumber = spotNumber.String
	if exitTime.Valid {
		t := exitTime.Time
		e.ExitTime = &t
	}
	return e, nil
}

// Create inserts a vehicle entry. Used by the seed CLI and tests.
func (r *PostgresEntryRepository) Create(entry *domain.VehicleEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	query := `
		INSERT INTO vehicle_entries (id, tenant_id, plate, model, color, client_name,
			spot_number, status, entry_time, exit_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at
	`
	err := r.db.QueryRow(query,
		entry.ID, entry.TenantID, entry.Plate, entry.Model, entry.Color, entry.ClientName,
		entry.SpotNumber, entry.Status, entry.EntryTime, entry.ExitTime,
	).Scan(&entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create vehicle entry: %w", err)
	}
	return nil
}

func (r *PostgresEntryRepository) countWhere(query string, args ...any) (int, error) {
	var n int
	if err := r.db.QueryRow(query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// CountParked counts currently parked vehicles; a live snapshot, not bounded
// by any date range.
func (r *PostgresEntryRepository) CountParked(tenantID string) (int, error) {
	n, err := r.countWhere(`
		SELECT COUNT(*) FROM vehicle_entries
		WHERE tenant_id = $1 AND status = 'parked'
	`, tenantID)
	if err != nil {
		return 0, fmt.Errorf("failed to count parked: %w", err)
	}
	return n, nil
}

// CountDistinctPlates counts distinct vehicles entering in [from, to)
func (r *PostgresEntryRepository) CountDistinctPlates(tenantID string, from, to time.Time) (int, error) {
	n, err := r.countWhere(`
		SELECT COUNT(DISTINCT plate) FROM vehicle_entries
		WHERE tenant_id = $1 AND entry_time >= $2 AND entry_time < $3
	`, tenantID, from, to)
	if err != nil {
		return 0, fmt.Errorf("failed to count distinct plates: %w", err)
	}
	return n, nil
}

// EntriesBetween lists entries with entry time in [from, to), oldest first
func (r *PostgresEntryRepository) EntriesBetween(tenantID string, from, to time.Time) ([]*domain.VehicleEntry, error) {
	query := `
		SELECT ` + entryColumns + ` FROM vehicle_entries
		WHERE tenant_id = $1 AND entry_time >= $2 AND entry_time < $3
		ORDER BY entry_time
	`
	return r.queryEntries(query, tenantID, from, to)
}

// ExitsBetween lists entries with exit time in [from, to), oldest first
func (r *PostgresEntryRepository) ExitsBetween(tenantID string, from, to time.Time) ([]*domain.VehicleEntry, error) {
	query := `
		SELECT ` + entryColumns + ` FROM vehicle_entries
		WHERE tenant_id = $1 AND exit_time IS NOT NULL AND exit_time >= $2 AND exit_time < $3
		ORDER BY exit_time
	`
	return r.queryEntries(query, tenantID, from, to)
}

// ListParked lists currently parked vehicles, most recent entry first
func (r *PostgresEntryRepository) ListParked(tenantID string) ([]*domain.VehicleEntry, error) {
	query := `
		SELECT ` + entryColumns + ` FROM vehicle_entries
		WHERE tenant_id = $1 AND status = 'parked'
		ORDER BY entry_time DESC
	`
	return r.queryEntries(query, tenantID)
}

// RecentEntries lists up to limit entries in [from, to), newest first
func (r *PostgresEntryRepository) RecentEntries(tenantID string, from, to time.Time, limit int) ([]*domain.VehicleEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT ` + entryColumns + ` FROM vehicle_entries
		WHERE tenant_id = $1 AND entry_time >= $2 AND entry_time < $3
		ORDER BY entry_time DESC
		LIMIT $4
	`
	return r.queryEntries(query, tenantID, from, to, limit)
}

// EntryTimeBounds returns the tenant's first and last entry timestamps, or
// nils when the tenant has no history.
func (r *PostgresEntryRepository) EntryTimeBounds(tenantID string) (*time.Time, *time.Time, error) {
	var first, last sql.NullTime
	err := r.db.QueryRow(`
		SELECT MIN(entry_time), MAX(entry_time) FROM vehicle_entries WHERE tenant_id = $1
	`, tenantID).Scan(&first, &last)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get entry bounds: %w", err)
	}
	if !first.Valid || !last.Valid {
		return nil, nil, nil
	}
	f, l := first.Time, last.Time
	return &f, &l, nil
}

func (r *PostgresEntryRepository) queryEntries(query string, args ...any) ([]*domain.VehicleEntry, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list vehicle entries: %w", err)
	}
	defer rows.Close()

	var out []*domain.VehicleEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan vehicle entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
