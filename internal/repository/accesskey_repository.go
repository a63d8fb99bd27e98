package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/yourorg/valetgate/internal/domain"
)

// ErrNotFound is returned when a referenced row does not exist.
var ErrNotFound = errors.New("not found")

const accessKeyColumns = `id, code, tenant_id, client_name, client_email, client_phone,
	company_name, status, expires_at, revoked_at, revoked_reason,
	last_validated_at, device_id, observations, created_at, updated_at`

// PostgresAccessKeyRepository implements domain.AccessKeyRepository using PostgreSQL
type PostgresAccessKeyRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresAccessKeyRepository creates a new access key repository
func NewPostgresAccessKeyRepository(db *sql.DB, logger *slog.Logger) *PostgresAccessKeyRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresAccessKeyRepository{db: db, logger: logger}
}

func scanAccessKey(row interface{ Scan(...any) error }) (*domain.AccessKey, error) {
	k := &domain.AccessKey{}
	var (
		revokedAt       sql.NullTime
		revokedReason   sql.NullString
		lastValidatedAt sql.NullTime
		deviceID        sql.NullString
		observations    sql.NullString
	)
	err := row.Scan(
		&k.ID, &k.Code, &k.TenantID, &k.ClientName, &k.ClientEmail, &k.ClientPhone,
		&k.CompanyName, &k.Status, &k.ExpiresAt, &revokedAt, &revokedReason,
		&lastValidatedAt, &deviceID, &observations, &k.CreatedAt, &k.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		k.RevokedAt = &t
	}
	k.RevokedReason = revokedReason.String
	if lastValidatedAt.Valid {
		t := lastValidatedAt.Time
		k.LastValidatedAt = &t
	}
	k.DeviceID = deviceID.String
	k.Observations = observations.String
	return k, nil
}

// Create inserts a new access key. A duplicate code violates the unique
// constraint on the code column, which the caller uses for bounded retry.
func (r *PostgresAccessKeyRepository) Create(key *domain.AccessKey) error {
	if key.ID == "" {
		key.ID = uuid.NewString()
	}
	query := `
		INSERT INTO access_keys (id, code, tenant_id, client_name, client_email,
			client_phone, company_name, status, expires_at, observations)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRow(query,
		key.ID, key.Code, key.TenantID, key.ClientName, key.ClientEmail,
		key.ClientPhone, key.CompanyName, key.Status, key.ExpiresAt, key.Observations,
	).Scan(&key.CreatedAt, &key.UpdatedAt)
	if err != nil {
		r.logger.Error("failed to create access key",
			slog.String("tenant_id", key.TenantID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to create access key: %w", err)
	}
	return nil
}

// GetByID retrieves an access key by ID
func (r *PostgresAccessKeyRepository) GetByID(id string) (*domain.AccessKey, error) {
	query := `SELECT ` + accessKeyColumns + ` FROM access_keys WHERE id = $1`
	k, err := scanAccessKey(r.db.QueryRow(query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get access key: %w", err)
	}
	return k, nil
}

// GetByCode retrieves an access key by its unique code
func (r *PostgresAccessKeyRepository) GetByCode(code string) (*domain.AccessKey, error) {
	query := `SELECT ` + accessKeyColumns + ` FROM access_keys WHERE code = $1`
	k, err := scanAccessKey(r.db.QueryRow(query, code))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get access key by code: %w", err)
	}
	return k, nil
}

// List returns all access keys, newest first
func (r *PostgresAccessKeyRepository) List() ([]*domain.AccessKey, error) {
	query := `SELECT ` + accessKeyColumns + ` FROM access_keys ORDER BY created_at DESC`
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list access keys: %w", err)
	}
	defer rows.Close()

	var out []*domain.AccessKey
	for rows.Next() {
		k, err := scanAccessKey(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan access key: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// Update applies a partial update. Only non-nil patch fields are written; the
// owning tenant is never part of the statement.
func (r *PostgresAccessKeyRepository) Update(id string, patch domain.AccessKeyPatch) (*domain.AccessKey, error) {
	sets := []string{}
	args := []any{}
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if patch.ClientName != nil {
		add("client_name", *patch.ClientName)
	}
	if patch.ClientEmail != nil {
		add("client_email", *patch.ClientEmail)
	}
	if patch.ClientPhone != nil {
		add("client_phone", *patch.ClientPhone)
	}
	if patch.CompanyName != nil {
		add("company_name", *patch.CompanyName)
	}
	if patch.ExpiresAt != nil {
		add("expires_at", *patch.ExpiresAt)
	}
	if patch.Status != nil {
		add("status", *patch.Status)
	}
	if patch.Observations != nil {
		add("observations", *patch.Observations)
	}
	if len(sets) == 0 {
		return r.GetByID(id)
	}
	sets = append(sets, "updated_at = now()")
	args = append(args, id)
	query := fmt.Sprintf(
		"UPDATE access_keys SET %s WHERE id = $%d RETURNING "+accessKeyColumns,
		strings.Join(sets, ", "), len(args),
	)
	k, err := scanAccessKey(r.db.QueryRow(query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to update access key: %w", err)
	}
	return k, nil
}

// Delete removes an access key and its user bindings
func (r *PostgresAccessKeyRepository) Delete(id string) error {
	res, err := r.db.Exec(`DELETE FROM access_keys WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete access key: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Revoke marks a key revoked. Revocation is terminal: the WHERE clause
// refuses to touch a key that is already revoked.
func (r *PostgresAccessKeyRepository) Revoke(id, reason string, at time.Time) (*domain.AccessKey, error) {
	query := `
		UPDATE access_keys
		SET status = 'revoked', revoked_at = $1, revoked_reason = $2, updated_at = now()
		WHERE id = $3 AND status <> 'revoked'
		RETURNING ` + accessKeyColumns
	k, err := scanAccessKey(r.db.QueryRow(query, at, reason, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to revoke access key: %w", err)
	}
	return k, nil
}

// SetStatus flips a key between active and inactive. Revoked keys are not
// touched; revoked is terminal.
func (r *PostgresAccessKeyRepository) SetStatus(id string, status domain.KeyStatus) (*domain.AccessKey, error) {
	query := `
		UPDATE access_keys
		SET status = $1, updated_at = now()
		WHERE id = $2 AND status <> 'revoked'
		RETURNING ` + accessKeyColumns
	k, err := scanAccessKey(r.db.QueryRow(query, status, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to set access key status: %w", err)
	}
	return k, nil
}

// SetExpiry extends a key's expiry. Refused for revoked keys.
func (r *PostgresAccessKeyRepository) SetExpiry(id string, expiresAt time.Time) (*domain.AccessKey, error) {
	query := `
		UPDATE access_keys
		SET expires_at = $1, updated_at = now()
		WHERE id = $2 AND status <> 'revoked'
		RETURNING ` + accessKeyColumns
	k, err := scanAccessKey(r.db.QueryRow(query, expiresAt, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to renew access key: %w", err)
	}
	return k, nil
}

// Touch records the last successful validation. Last writer wins under
// concurrent validation of the same key.
func (r *PostgresAccessKeyRepository) Touch(id, deviceID string, at time.Time) error {
	_, err := r.db.Exec(`
		UPDATE access_keys
		SET device_id = $1, last_validated_at = $2, updated_at = now()
		WHERE id = $3
	`, deviceID, at, id)
	if err != nil {
		return fmt.Errorf("failed to touch access key: %w", err)
	}
	return nil
}

// CodeExists reports whether any key already uses the candidate code
func (r *PostgresAccessKeyRepository) CodeExists(code string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM access_keys WHERE code = $1)`, code).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check code: %w", err)
	}
	return exists, nil
}

// CountActiveByTenant counts non-revoked keys owned by a tenant
func (r *PostgresAccessKeyRepository) CountActiveByTenant(tenantID string) (int, error) {
	var n int
	err := r.db.QueryRow(`
		SELECT COUNT(*) FROM access_keys
		WHERE tenant_id = $1 AND status = 'active'
	`, tenantID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count tenant keys: %w", err)
	}
	return n, nil
}

// BindUser links a user to a key
func (r *PostgresAccessKeyRepository) BindUser(keyID, userID string) error {
	_, err := r.db.Exec(`
		INSERT INTO access_key_users (access_key_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, keyID, userID)
	if err != nil {
		return fmt.Errorf("failed to bind user to key: %w", err)
	}
	return nil
}

// UnbindUser removes a user-key link
func (r *PostgresAccessKeyRepository) UnbindUser(keyID, userID string) error {
	_, err := r.db.Exec(`
		DELETE FROM access_key_users WHERE access_key_id = $1 AND user_id = $2
	`, keyID, userID)
	if err != nil {
		return fmt.Errorf("failed to unbind user from key: %w", err)
	}
	return nil
}

// UsersForKey lists the users bound to a key
func (r *PostgresAccessKeyRepository) UsersForKey(keyID string) ([]*domain.User, error) {
	query := `
		SELECT u.id, u.name, u.nickname, u.password_hash, u.phone, u.role,
		       u.is_active, u.created_at, u.updated_at
		FROM users u
		JOIN access_key_users aku ON aku.user_id = u.id
		WHERE aku.access_key_id = $1
		ORDER BY u.created_at
	`
	rows, err := r.db.Query(query, keyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list key users: %w", err)
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		u := &domain.User{}
		if err := rows.Scan(&u.ID, &u.Name, &u.Nickname, &u.PasswordHash, &u.Phone,
			&u.Role, &u.IsActive, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// KeysForUser lists the keys a user is bound to
func (r *PostgresAccessKeyRepository) KeysForUser(userID string) ([]*domain.AccessKey, error) {
	query := `
		SELECT k.id, k.code, k.tenant_id, k.client_name, k.client_email, k.client_phone,
		       k.company_name, k.status, k.expires_at, k.revoked_at, k.revoked_reason,
		       k.last_validated_at, k.device_id, k.observations, k.created_at, k.updated_at
		FROM access_keys k
		JOIN access_key_users aku ON aku.access_key_id = k.id
		WHERE aku.user_id = $1
		ORDER BY k.created_at
	`
	rows, err := r.db.Query(query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user keys: %w", err)
	}
	defer rows.Close()

	var keys []*domain.AccessKey
	for rows.Next() {
		k, err := scanAccessKey(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan access key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
