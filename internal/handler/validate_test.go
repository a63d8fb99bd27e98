package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/yourorg/valetgate/internal/domain"
	"github.com/yourorg/valetgate/internal/repository"
	"github.com/yourorg/valetgate/internal/security/audit"
	"github.com/yourorg/valetgate/internal/service"
)

// stubKeyRepo serves a single fixed key; every other lookup misses.
type stubKeyRepo struct {
	domain.AccessKeyRepository
	key *domain.AccessKey
}

func (r *stubKeyRepo) GetByCode(code string) (*domain.AccessKey, error) {
	if r.key != nil && r.key.Code == code {
		cp := *r.key
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (r *stubKeyRepo) Touch(id, deviceID string, at time.Time) error { return nil }

type stubLogRepo struct{}

func (stubLogRepo) Append(entry *domain.ValidationLogEntry) error { return nil }
func (stubLogRepo) RecentForKey(keyID string, limit int) ([]*domain.ValidationLogEntry, error) {
	return nil, nil
}

func newValidateHandler(key *domain.AccessKey, production bool) *ValidateHandler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	keys := service.NewAccessKeyService(
		&stubKeyRepo{key: key}, nil, nil, stubLogRepo{},
		audit.NewLogger(logger), logger, "VALET", 5, 12,
	)
	return NewValidateHandler(keys, NewResponder(logger, production), logger)
}

func postValidate(h http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/access-keys/validate", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	return body
}

func TestValidateEndpointSuccess(t *testing.T) {
	key := &domain.AccessKey{
		ID:         "key-1",
		Code:       "VALET-AAAAAAAAAAAA",
		TenantID:   "tenant-1",
		ClientName: "Acme Valet",
		Status:     domain.KeyStatusActive,
		ExpiresAt:  time.Now().Add(10 * 24 * time.Hour),
	}
	h := newValidateHandler(key, false)

	rec := postValidate(h, `{"code":"VALET-AAAAAAAAAAAA","device_id":"device-1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["success"] != true {
		t.Errorf("expected success=true, got %v", body["success"])
	}
	data, ok := body["data"].(map[string]any)
	if !ok {
		t.Fatalf("expected data object, got %v", body["data"])
	}
	if data["key_id"] != "key-1" || data["client_name"] != "Acme Valet" {
		t.Errorf("unexpected payload: %v", data)
	}
	if data["days_remaining"] != float64(10) {
		t.Errorf("expected 10 days remaining, got %v", data["days_remaining"])
	}
}

func TestValidateEndpointFailures(t *testing.T) {
	revoked := &domain.AccessKey{
		ID:            "key-2",
		Code:          "VALET-BBBBBBBBBBBB",
		TenantID:      "tenant-1",
		Status:        domain.KeyStatusRevoked,
		ExpiresAt:     time.Now().Add(24 * time.Hour),
		RevokedReason: "non-payment",
	}
	expired := &domain.AccessKey{
		ID:        "key-3",
		Code:      "VALET-CCCCCCCCCCCC",
		TenantID:  "tenant-1",
		Status:    domain.KeyStatusActive,
		ExpiresAt: time.Now().Add(-time.Hour),
	}

	cases := []struct {
		name       string
		key        *domain.AccessKey
		body       string
		wantStatus int
		wantCode   string
	}{
		{"missing code", nil, `{"device_id":"device-1"}`, http.StatusBadRequest, domain.CodeMissingKey},
		{"malformed body", nil, `{not-json`, http.StatusBadRequest, domain.CodeValidation},
		{"unknown code", nil, `{"code":"VALET-FFFFFFFFFFFF"}`, http.StatusUnauthorized, domain.CodeInvalidKey},
		{"revoked key", revoked, `{"code":"VALET-BBBBBBBBBBBB"}`, http.StatusUnauthorized, domain.CodeAccessRevoked},
		{"expired key", expired, `{"code":"VALET-CCCCCCCCCCCC"}`, http.StatusUnauthorized, domain.CodeAccessExpired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newValidateHandler(tc.key, false)
			rec := postValidate(h, tc.body)

			if rec.Code != tc.wantStatus {
				t.Errorf("expected %d, got %d: %s", tc.wantStatus, rec.Code, rec.Body.String())
			}
			body := decodeBody(t, rec)
			if body["success"] != false {
				t.Errorf("expected success=false, got %v", body["success"])
			}
			if body["code"] != tc.wantCode {
				t.Errorf("expected code %s, got %v", tc.wantCode, body["code"])
			}
		})
	}
}

func TestValidateEndpointRevokedReasonSurfaces(t *testing.T) {
	key := &domain.AccessKey{
		ID:            "key-2",
		Code:          "VALET-BBBBBBBBBBBB",
		TenantID:      "tenant-1",
		Status:        domain.KeyStatusRevoked,
		ExpiresAt:     time.Now().Add(24 * time.Hour),
		RevokedReason: "non-payment",
	}
	h := newValidateHandler(key, false)

	rec := postValidate(h, `{"code":"VALET-BBBBBBBBBBBB"}`)
	body := decodeBody(t, rec)
	errMsg, _ := body["error"].(string)
	if !strings.Contains(errMsg, "non-payment") {
		t.Errorf("expected revocation reason in error, got %q", errMsg)
	}
}

func TestResponderHidesDetailInProduction(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cause := &domain.Error{Code: domain.CodeInternal, Message: "internal error", Detail: "pq: connection refused"}

	rec := httptest.NewRecorder()
	NewResponder(logger, true).fail(rec, cause)
	if strings.Contains(rec.Body.String(), "connection refused") {
		t.Error("production responses must not leak internal detail")
	}

	rec = httptest.NewRecorder()
	NewResponder(logger, false).fail(rec, cause)
	if !strings.Contains(rec.Body.String(), "connection refused") {
		t.Error("non-production responses should carry the detail")
	}
}
