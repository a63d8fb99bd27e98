package test

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/yourorg/valetgate/internal/domain"
	"github.com/yourorg/valetgate/internal/handler"
	"github.com/yourorg/valetgate/internal/repository"
	"github.com/yourorg/valetgate/internal/security/audit"
	"github.com/yourorg/valetgate/internal/security/auth"
	"github.com/yourorg/valetgate/internal/security/middleware"
	"github.com/yourorg/valetgate/internal/service"
	"golang.org/x/crypto/bcrypt"
)

// TestServerHelper runs the full HTTP stack (handlers + auth middleware +
// services) over in-memory repositories, without Postgres or Redis.
type TestServerHelper struct {
	Server *httptest.Server
	Tokens *auth.TokenManager

	Keys    *fakeKeyRepo
	Tenants *fakeTenantRepo
	Users   *fakeUserRepo
	Entries *fakeEntryRepo
}

func NewTestServer(t *testing.T) *TestServerHelper {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	users := newFakeUserRepo()
	keys := newFakeKeyRepo(users)
	tenants := newFakeTenantRepo()
	logs := &fakeLogRepo{}
	entries := &fakeEntryRepo{}

	tokens := auth.NewTokenManager("integration-secret", "valetgate-test")
	keyService := service.NewAccessKeyService(keys, tenants, users, logs, audit.NewLogger(log), log, "VALET", 5, 12)
	authService := service.NewAuthService(users, keys, tokens, 7*24*time.Hour, 8*time.Hour, log)
	reportService := service.NewReportService(entries, nil, time.UTC, 0, log)

	rp := handler.NewResponder(log, false)
	validateHandler := handler.NewValidateHandler(keyService, rp, log)
	authHandler := handler.NewAuthHandler(authService, rp, log)
	reportHandler := handler.NewReportHandler(reportService, rp, log)

	authenticate := middleware.Authenticate(tokens, log)
	adminOnly := middleware.RequireRole(log, audit.NewLogger(log), domain.RoleAdmin)
	admin := func(h http.HandlerFunc) http.Handler {
		return authenticate(adminOnly(h))
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/access-keys/validate", validateHandler)
	mux.HandleFunc("POST /api/auth/login", authHandler.Login)
	mux.Handle("GET /api/reports/daily-movement", admin(reportHandler.DailyMovement))
	mux.Handle("GET /api/reports/peak-hours", admin(reportHandler.PeakHours))

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &TestServerHelper{
		Server:  server,
		Tokens:  tokens,
		Keys:    keys,
		Tenants: tenants,
		Users:   users,
		Entries: entries,
	}
}

func (h *TestServerHelper) URL() string {
	return h.Server.URL
}

// SeedKey registers an active access key for a tenant
func (h *TestServerHelper) SeedKey(t *testing.T, code, tenantID string) *domain.AccessKey {
	t.Helper()
	key := &domain.AccessKey{
		Code:       code,
		TenantID:   tenantID,
		ClientName: "Seeded Client",
		Status:     domain.KeyStatusActive,
		ExpiresAt:  time.Now().AddDate(1, 0, 0),
	}
	if err := h.Keys.Create(key); err != nil {
		t.Fatalf("failed to seed key: %v", err)
	}
	return key
}

// SeedUser registers an account with a bcrypt-hashed password
func (h *TestServerHelper) SeedUser(t *testing.T, nickname, password string, role domain.Role) *domain.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}
	user := &domain.User{
		Name:         "Test " + nickname,
		Nickname:     nickname,
		PasswordHash: string(hash),
		Role:         role,
		IsActive:     true,
	}
	if err := h.Users.Create(user); err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
	return user
}

// SeedEntry records a vehicle entry for a tenant
func (h *TestServerHelper) SeedEntry(t *testing.T, tenantID, plate string, entryTime time.Time) {
	t.Helper()
	err := h.Entries.Create(&domain.VehicleEntry{
		TenantID:  tenantID,
		Plate:     plate,
		Status:    domain.EntryStatusParked,
		EntryTime: entryTime,
	})
	if err != nil {
		t.Fatalf("failed to seed entry: %v", err)
	}
}

// MintToken signs a session token directly, bypassing login
func (h *TestServerHelper) MintToken(t *testing.T, role domain.Role, tenantID string) string {
	t.Helper()
	token, err := h.Tokens.Generate("user-direct", "direct", role, tenantID, time.Hour)
	if err != nil {
		t.Fatalf("failed to mint token: %v", err)
	}
	return token
}

func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

// ---- in-memory repositories ----

type fakeKeyRepo struct {
	mu       sync.Mutex
	keys     map[string]*domain.AccessKey
	bindings map[string]map[string]bool
	users    *fakeUserRepo
	nextID   int
}

func newFakeKeyRepo(users *fakeUserRepo) *fakeKeyRepo {
	return &fakeKeyRepo{
		keys:     map[string]*domain.AccessKey{},
		bindings: map[string]map[string]bool{},
		users:    users,
	}
}

func (r *fakeKeyRepo) Create(key *domain.AccessKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if key.ID == "" {
		r.nextID++
		key.ID = fmt.Sprintf("key-%d", r.nextID)
	}
	cp := *key
	r.keys[key.ID] = &cp
	return nil
}

func (r *fakeKeyRepo) GetByID(id string) (*domain.AccessKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.keys[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *key
	return &cp, nil
}

func (r *fakeKeyRepo) GetByCode(code string) (*domain.AccessKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, key := range r.keys {
		if key.Code == code {
			cp := *key
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeKeyRepo) List() ([]*domain.AccessKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.AccessKey, 0, len(r.keys))
	for _, key := range r.keys {
		cp := *key
		out = append(out, &cp)
	}
	return out, nil
}

func (r *fakeKeyRepo) Update(id string, patch domain.AccessKeyPatch) (*domain.AccessKey, error) {
	return r.GetByID(id)
}

func (r *fakeKeyRepo) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.keys[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.keys, id)
	return nil
}

func (r *fakeKeyRepo) Revoke(id, reason string, at time.Time) (*domain.AccessKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.keys[id]
	if !ok || key.Status == domain.KeyStatusRevoked {
		return nil, repository.ErrNotFound
	}
	key.Status = domain.KeyStatusRevoked
	key.RevokedAt = &at
	key.RevokedReason = reason
	cp := *key
	return &cp, nil
}

func (r *fakeKeyRepo) SetStatus(id string, status domain.KeyStatus) (*domain.AccessKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.keys[id]
	if !ok || key.Status == domain.KeyStatusRevoked {
		return nil, repository.ErrNotFound
	}
	key.Status = status
	cp := *key
	return &cp, nil
}

func (r *fakeKeyRepo) SetExpiry(id string, expiresAt time.Time) (*domain.AccessKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.keys[id]
	if !ok || key.Status == domain.KeyStatusRevoked {
		return nil, repository.ErrNotFound
	}
	key.ExpiresAt = expiresAt
	cp := *key
	return &cp, nil
}

func (r *fakeKeyRepo) Touch(id, deviceID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if key, ok := r.keys[id]; ok {
		key.DeviceID = deviceID
		key.LastValidatedAt = &at
	}
	return nil
}

func (r *fakeKeyRepo) CodeExists(code string) (bool, error) {
	_, err := r.GetByCode(code)
	if err == repository.ErrNotFound {
		return false, nil
	}
	return err == nil, err
}

func (r *fakeKeyRepo) CountActiveByTenant(tenantID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, key := range r.keys {
		if key.TenantID == tenantID && key.Status == domain.KeyStatusActive {
			n++
		}
	}
	return n, nil
}

func (r *fakeKeyRepo) BindUser(keyID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bindings[keyID] == nil {
		r.bindings[keyID] = map[string]bool{}
	}
	r.bindings[keyID][userID] = true
	return nil
}

func (r *fakeKeyRepo) UnbindUser(keyID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.bindings[keyID][userID] {
		return repository.ErrNotFound
	}
	delete(r.bindings[keyID], userID)
	return nil
}

func (r *fakeKeyRepo) UsersForKey(keyID string) ([]*domain.User, error) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.bindings[keyID]))
	for id := range r.bindings[keyID] {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	var out []*domain.User
	for _, id := range ids {
		if u, err := r.users.GetByID(id); err == nil {
			out = append(out, u)
		}
	}
	return out, nil
}

func (r *fakeKeyRepo) KeysForUser(userID string) ([]*domain.AccessKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.AccessKey
	for keyID, userSet := range r.bindings {
		if userSet[userID] {
			if key, ok := r.keys[keyID]; ok {
				cp := *key
				out = append(out, &cp)
			}
		}
	}
	return out, nil
}

type fakeTenantRepo struct {
	mu      sync.Mutex
	tenants map[string]*domain.Tenant
	nextID  int
}

func newFakeTenantRepo() *fakeTenantRepo {
	return &fakeTenantRepo{tenants: map[string]*domain.Tenant{}}
}

func (r *fakeTenantRepo) Create(tenant *domain.Tenant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tenant.ID == "" {
		r.nextID++
		tenant.ID = fmt.Sprintf("tenant-%d", r.nextID)
	}
	cp := *tenant
	r.tenants[tenant.ID] = &cp
	return nil
}

func (r *fakeTenantRepo) GetByID(id string) (*domain.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tenant, ok := r.tenants[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *tenant
	return &cp, nil
}

func (r *fakeTenantRepo) List() ([]*domain.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.Tenant, 0, len(r.tenants))
	for _, tenant := range r.tenants {
		cp := *tenant
		out = append(out, &cp)
	}
	return out, nil
}

func (r *fakeTenantRepo) Update(id string, patch domain.TenantPatch) (*domain.Tenant, error) {
	return r.GetByID(id)
}

func (r *fakeTenantRepo) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tenants[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.tenants, id)
	return nil
}

type fakeUserRepo struct {
	mu     sync.Mutex
	users  map[string]*domain.User
	nextID int
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: map[string]*domain.User{}}
}

func (r *fakeUserRepo) Create(user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if user.ID == "" {
		r.nextID++
		user.ID = fmt.Sprintf("user-%d", r.nextID)
	}
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *fakeUserRepo) GetByID(id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *user
	return &cp, nil
}

func (r *fakeUserRepo) GetByNickname(nickname string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.Nickname == nickname {
			cp := *user
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeUserRepo) Update(user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[user.ID]; !ok {
		return repository.ErrNotFound
	}
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *fakeUserRepo) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if user, ok := r.users[id]; ok {
		user.IsActive = false
		return nil
	}
	return repository.ErrNotFound
}

func (r *fakeUserRepo) List() ([]*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.User, 0, len(r.users))
	for _, user := range r.users {
		cp := *user
		out = append(out, &cp)
	}
	return out, nil
}

type fakeLogRepo struct {
	mu      sync.Mutex
	entries []*domain.ValidationLogEntry
}

func (r *fakeLogRepo) Append(entry *domain.ValidationLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *entry
	r.entries = append(r.entries, &cp)
	return nil
}

func (r *fakeLogRepo) RecentForKey(keyID string, limit int) ([]*domain.ValidationLogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.ValidationLogEntry
	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].AccessKeyID == keyID {
			cp := *r.entries[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

type fakeEntryRepo struct {
	mu      sync.Mutex
	entries []*domain.VehicleEntry
	nextID  int
}

func (r *fakeEntryRepo) Create(entry *domain.VehicleEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry.ID == "" {
		r.nextID++
		entry.ID = fmt.Sprintf("entry-%d", r.nextID)
	}
	cp := *entry
	r.entries = append(r.entries, &cp)
	return nil
}

func (r *fakeEntryRepo) snapshot(tenantID string) []*domain.VehicleEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.VehicleEntry
	for _, e := range r.entries {
		if e.TenantID == tenantID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out
}

func between(t, from, to time.Time) bool {
	return !t.Before(from) && t.Before(to)
}

func (r *fakeEntryRepo) CountParked(tenantID string) (int, error) {
	n := 0
	for _, e := range r.snapshot(tenantID) {
		if e.Status == domain.EntryStatusParked {
			n++
		}
	}
	return n, nil
}

func (r *fakeEntryRepo) CountDistinctPlates(tenantID string, from, to time.Time) (int, error) {
	plates := map[string]bool{}
	for _, e := range r.snapshot(tenantID) {
		if between(e.EntryTime, from, to) {
			plates[e.Plate] = true
		}
	}
	return len(plates), nil
}

func (r *fakeEntryRepo) EntriesBetween(tenantID string, from, to time.Time) ([]*domain.VehicleEntry, error) {
	var out []*domain.VehicleEntry
	for _, e := range r.snapshot(tenantID) {
		if between(e.EntryTime, from, to) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *fakeEntryRepo) ExitsBetween(tenantID string, from, to time.Time) ([]*domain.VehicleEntry, error) {
	var out []*domain.VehicleEntry
	for _, e := range r.snapshot(tenantID) {
		if e.ExitTime != nil && between(*e.ExitTime, from, to) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *fakeEntryRepo) ListParked(tenantID string) ([]*domain.VehicleEntry, error) {
	var out []*domain.VehicleEntry
	for _, e := range r.snapshot(tenantID) {
		if e.Status == domain.EntryStatusParked {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *fakeEntryRepo) RecentEntries(tenantID string, from, to time.Time, limit int) ([]*domain.VehicleEntry, error) {
	list, _ := r.EntriesBetween(tenantID, from, to)
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func (r *fakeEntryRepo) EntryTimeBounds(tenantID string) (*time.Time, *time.Time, error) {
	var first, last *time.Time
	for _, e := range r.snapshot(tenantID) {
		t := e.EntryTime
		if first == nil || t.Before(*first) {
			cp := t
			first = &cp
		}
		if last == nil || t.After(*last) {
			cp := t
			last = &cp
		}
	}
	return first, last, nil
}
