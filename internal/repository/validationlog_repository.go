package repository

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/yourorg/valetgate/internal/domain"
)

// PostgresValidationLogRepository implements domain.ValidationLogRepository
// using PostgreSQL. The table is append-only; no update or delete statement
// exists in this package.
type PostgresValidationLogRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresValidationLogRepository creates a new validation log repository
func NewPostgresValidationLogRepository(db *sql.DB, logger *slog.Logger) *PostgresValidationLogRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresValidationLogRepository{db: db, logger: logger}
}

// Append writes one validation attempt
func (r *PostgresValidationLogRepository) Append(entry *domain.ValidationLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	query := `
		INSERT INTO validation_logs (id, access_key_id, device_id, outcome, app_version, os_version)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`
	err := r.db.QueryRow(query,
		entry.ID, entry.AccessKeyID, entry.DeviceID, entry.Outcome, entry.AppVersion, entry.OSVersion,
	).Scan(&entry.CreatedAt)
	if err != nil {
		r.logger.Error("failed to append validation log",
			slog.String("access_key_id", entry.AccessKeyID),
			slog.String("outcome", string(entry.Outcome)),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to append validation log: %w", err)
	}
	return nil
}

// RecentForKey returns the latest entries for a key, newest first
func (r *PostgresValidationLogRepository) RecentForKey(keyID string, limit int) ([]*domain.ValidationLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, access_key_id, device_id, outcome, app_version, os_version, created_at
		FROM validation_logs
		WHERE access_key_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.Query(query, keyID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list validation logs: %w", err)
	}
	defer rows.Close()

	var out []*domain.ValidationLogEntry
	for rows.Next() {
		e := &domain.ValidationLogEntry{}
		var deviceID, appVersion, osVersion sql.NullString
		if err := rows.Scan(&e.ID, &e.AccessKeyID, &deviceID, &e.Outcome,
			&appVersion, &osVersion, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan validation log: %w", err)
		}
		e.DeviceID = deviceID.String
		e.AppVersion = appVersion.String
		e.OSVersion = osVersion.String
		out = append(out, e)
	}
	return out, rows.Err()
}
