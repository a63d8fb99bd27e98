package repository

import (
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/yourorg/valetgate/internal/domain"
)

func newMockRepo(t *testing.T) (*PostgresAccessKeyRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewPostgresAccessKeyRepository(db, logger), mock
}

var keyColumns = []string{
	"id", "code", "tenant_id", "client_name", "client_email", "client_phone",
	"company_name", "status", "expires_at", "revoked_at", "revoked_reason",
	"last_validated_at", "device_id", "observations", "created_at", "updated_at",
}

func keyRow(id, code, status string, expiresAt time.Time) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(keyColumns).AddRow(
		id, code, "tenant-1", "Acme Valet", "ops@acme.test", "555-0100",
		"Acme Corp", status, expiresAt, nil, nil,
		nil, nil, nil, now, now,
	)
}

func TestGetByCode(t *testing.T) {
	repo, mock := newMockRepo(t)
	expiresAt := time.Now().Add(24 * time.Hour)

	mock.ExpectQuery(`SELECT (.+) FROM access_keys WHERE code = \$1`).
		WithArgs("VALET-AAAAAAAAAAAA").
		WillReturnRows(keyRow("key-1", "VALET-AAAAAAAAAAAA", "active", expiresAt))

	key, err := repo.GetByCode("VALET-AAAAAAAAAAAA")
	if err != nil {
		t.Fatalf("get by code failed: %v", err)
	}
	if key.ID != "key-1" || key.Status != domain.KeyStatusActive {
		t.Errorf("unexpected key: %+v", key)
	}
	if key.RevokedAt != nil || key.LastValidatedAt != nil {
		t.Errorf("nullable timestamps should be nil, got %+v", key)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestGetByCodeNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`SELECT (.+) FROM access_keys WHERE code = \$1`).
		WithArgs("VALET-FFFFFFFFFFFF").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByCode("VALET-FFFFFFFFFFFF")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateFillsTimestamps(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now()

	mock.ExpectQuery(`INSERT INTO access_keys`).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	key := &domain.AccessKey{
		Code:      "VALET-AAAAAAAAAAAA",
		TenantID:  "tenant-1",
		Status:    domain.KeyStatusActive,
		ExpiresAt: now.AddDate(1, 0, 0),
	}
	if err := repo.Create(key); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if key.ID == "" {
		t.Error("expected generated id")
	}
	if key.CreatedAt.IsZero() || key.UpdatedAt.IsZero() {
		t.Error("expected returned timestamps")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestRevoke(t *testing.T) {
	repo, mock := newMockRepo(t)
	at := time.Now()

	rows := keyRow("key-1", "VALET-AAAAAAAAAAAA", "revoked", at.Add(24*time.Hour))
	mock.ExpectQuery(`UPDATE access_keys\s+SET status = 'revoked'`).
		WithArgs(at, "non-payment", "key-1").
		WillReturnRows(rows)

	key, err := repo.Revoke("key-1", "non-payment", at)
	if err != nil {
		t.Fatalf("revoke failed: %v", err)
	}
	if key.Status != domain.KeyStatusRevoked {
		t.Errorf("expected revoked status, got %s", key.Status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestRevokeAlreadyRevoked(t *testing.T) {
	repo, mock := newMockRepo(t)
	at := time.Now()

	// The guard clause excludes already-revoked rows, so the statement
	// matches nothing.
	mock.ExpectQuery(`UPDATE access_keys\s+SET status = 'revoked'`).
		WithArgs(at, "again", "key-1").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Revoke("key-1", "again", at)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound from the terminal-state guard, got %v", err)
	}
}

func TestSetExpiryRevokedKey(t *testing.T) {
	repo, mock := newMockRepo(t)
	expiresAt := time.Now().AddDate(0, 3, 0)

	mock.ExpectQuery(`UPDATE access_keys\s+SET expires_at = \$1`).
		WithArgs(expiresAt, "key-1").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.SetExpiry("key-1", expiresAt)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for a revoked key, got %v", err)
	}
}

func TestCodeExists(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("VALET-AAAAAAAAAAAA").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("VALET-BBBBBBBBBBBB").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	exists, err := repo.CodeExists("VALET-AAAAAAAAAAAA")
	if err != nil || !exists {
		t.Errorf("expected taken code to exist, got %v %v", exists, err)
	}
	exists, err = repo.CodeExists("VALET-BBBBBBBBBBBB")
	if err != nil || exists {
		t.Errorf("expected free code to not exist, got %v %v", exists, err)
	}
}

func TestDeleteNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(`DELETE FROM access_keys WHERE id = \$1`).
		WithArgs("no-such-key").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Delete("no-such-key")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdatePartialPatch(t *testing.T) {
	repo, mock := newMockRepo(t)
	name := "New Client"

	mock.ExpectQuery(`UPDATE access_keys SET client_name = \$1, updated_at = now\(\) WHERE id = \$2`).
		WithArgs(name, "key-1").
		WillReturnRows(keyRow("key-1", "VALET-AAAAAAAAAAAA", "active", time.Now().Add(24*time.Hour)))

	key, err := repo.Update("key-1", domain.AccessKeyPatch{ClientName: &name})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if key.ID != "key-1" {
		t.Errorf("unexpected key: %+v", key)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestUpdateEmptyPatchReadsCurrentRow(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`SELECT (.+) FROM access_keys WHERE id = \$1`).
		WithArgs("key-1").
		WillReturnRows(keyRow("key-1", "VALET-AAAAAAAAAAAA", "active", time.Now().Add(24*time.Hour)))

	key, err := repo.Update("key-1", domain.AccessKeyPatch{})
	if err != nil {
		t.Fatalf("empty patch should read the current row: %v", err)
	}
	if key.Code != "VALET-AAAAAAAAAAAA" {
		t.Errorf("unexpected key: %+v", key)
	}
}

func TestCountActiveByTenant(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM access_keys`).
		WithArgs("tenant-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	n, err := repo.CountActiveByTenant("tenant-1")
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3, got %d", n)
	}
}
