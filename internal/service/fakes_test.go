package service

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/yourorg/valetgate/internal/domain"
	"github.com/yourorg/valetgate/internal/repository"
)

// In-memory repository fakes used across the service tests.

type memKeyRepo struct {
	mu       sync.Mutex
	keys     map[string]*domain.AccessKey
	bindings map[string]map[string]bool // keyID -> userID set
	users    *memUserRepo
	nextID   int
}

func newMemKeyRepo(users *memUserRepo) *memKeyRepo {
	return &memKeyRepo{
		keys:     map[string]*domain.AccessKey{},
		bindings: map[string]map[string]bool{},
		users:    users,
	}
}

func (r *memKeyRepo) Create(key *domain.AccessKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if key.ID == "" {
		r.nextID++
		key.ID = fmt.Sprintf("key-%d", r.nextID)
	}
	key.CreatedAt = time.Now()
	key.UpdatedAt = key.CreatedAt
	cp := *key
	r.keys[key.ID] = &cp
	return nil
}

func (r *memKeyRepo) GetByID(id string) (*domain.AccessKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.keys[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *key
	return &cp, nil
}

func (r *memKeyRepo) GetByCode(code string) (*domain.AccessKey, error) {
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

func (r *memKeyRepo) List() ([]*domain.AccessKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.AccessKey, 0, len(r.keys))
	for _, key := range r.keys {
		cp := *key
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memKeyRepo) Update(id string, patch domain.AccessKeyPatch) (*domain.AccessKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.keys[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if patch.ClientName != nil {
		key.ClientName = *patch.ClientName
	}
	if patch.ClientEmail != nil {
		key.ClientEmail = *patch.ClientEmail
	}
	if patch.ClientPhone != nil {
		key.ClientPhone = *patch.ClientPhone
	}
	if patch.CompanyName != nil {
		key.CompanyName = *patch.CompanyName
	}
	if patch.ExpiresAt != nil {
		key.ExpiresAt = *patch.ExpiresAt
	}
	if patch.Status != nil {
		key.Status = *patch.Status
	}
	if patch.Observations != nil {
		key.Observations = *patch.Observations
	}
	key.UpdatedAt = time.Now()
	cp := *key
	return &cp, nil
}

func (r *memKeyRepo) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.keys[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.keys, id)
	return nil
}

func (r *memKeyRepo) Revoke(id, reason string, at time.Time) (*domain.AccessKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.keys[id]
	if !ok || key.Status == domain.KeyStatusRevoked {
		return nil, repository.ErrNotFound
	}
	key.Status = domain.KeyStatusRevoked
	key.RevokedAt = &at
	key.RevokedReason = reason
	key.UpdatedAt = at
	cp := *key
	return &cp, nil
}

func (r *memKeyRepo) SetStatus(id string, status domain.KeyStatus) (*domain.AccessKey, error) {
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

func (r *memKeyRepo) SetExpiry(id string, expiresAt time.Time) (*domain.AccessKey, error) {
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

func (r *memKeyRepo) Touch(id, deviceID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.keys[id]
	if !ok {
		return repository.ErrNotFound
	}
	key.DeviceID = deviceID
	key.LastValidatedAt = &at
	return nil
}

func (r *memKeyRepo) CodeExists(code string) (bool, error) {
	_, err := r.GetByCode(code)
	if err == repository.ErrNotFound {
		return false, nil
	}
	return err == nil, err
}

func (r *memKeyRepo) CountActiveByTenant(tenantID string) (int, error) {
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

func (r *memKeyRepo) BindUser(keyID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bindings[keyID] == nil {
		r.bindings[keyID] = map[string]bool{}
	}
	r.bindings[keyID][userID] = true
	return nil
}

func (r *memKeyRepo) UnbindUser(keyID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.bindings[keyID][userID] {
		return repository.ErrNotFound
	}
	delete(r.bindings[keyID], userID)
	return nil
}

func (r *memKeyRepo) UsersForKey(keyID string) ([]*domain.User, error) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.bindings[keyID]))
	for id := range r.bindings[keyID] {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	sort.Strings(ids)
	out := make([]*domain.User, 0, len(ids))
	for _, id := range ids {
		if u, err := r.users.GetByID(id); err == nil {
			out = append(out, u)
		}
	}
	return out, nil
}

func (r *memKeyRepo) KeysForUser(userID string) ([]*domain.AccessKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var keyIDs []string
	for keyID, userSet := range r.bindings {
		if userSet[userID] {
			keyIDs = append(keyIDs, keyID)
		}
	}
	sort.Strings(keyIDs)
	out := make([]*domain.AccessKey, 0, len(keyIDs))
	for _, id := range keyIDs {
		if key, ok := r.keys[id]; ok {
			cp := *key
			out = append(out, &cp)
		}
	}
	return out, nil
}

type memTenantRepo struct {
	mu      sync.Mutex
	tenants map[string]*domain.Tenant
	nextID  int
}

func newMemTenantRepo() *memTenantRepo {
	return &memTenantRepo{tenants: map[string]*domain.Tenant{}}
}

func (r *memTenantRepo) Create(tenant *domain.Tenant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tenant.ID == "" {
		r.nextID++
		tenant.ID = fmt.Sprintf("tenant-%d", r.nextID)
	}
	tenant.CreatedAt = time.Now()
	tenant.UpdatedAt = tenant.CreatedAt
	cp := *tenant
	r.tenants[tenant.ID] = &cp
	return nil
}

func (r *memTenantRepo) GetByID(id string) (*domain.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tenant, ok := r.tenants[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *tenant
	return &cp, nil
}

func (r *memTenantRepo) List() ([]*domain.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.Tenant, 0, len(r.tenants))
	for _, tenant := range r.tenants {
		cp := *tenant
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memTenantRepo) Update(id string, patch domain.TenantPatch) (*domain.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tenant, ok := r.tenants[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if patch.Name != nil {
		tenant.Name = *patch.Name
	}
	if patch.Email != nil {
		tenant.Email = *patch.Email
	}
	if patch.Phone != nil {
		tenant.Phone = *patch.Phone
	}
	if patch.CompanyName != nil {
		tenant.CompanyName = *patch.CompanyName
	}
	if patch.IsActive != nil {
		tenant.IsActive = *patch.IsActive
	}
	cp := *tenant
	return &cp, nil
}

func (r *memTenantRepo) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tenants[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.tenants, id)
	return nil
}

type memUserRepo struct {
	mu     sync.Mutex
	users  map[string]*domain.User
	nextID int
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: map[string]*domain.User{}}
}

func (r *memUserRepo) Create(user *domain.User) error {
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

func (r *memUserRepo) GetByID(id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *user
	return &cp, nil
}

func (r *memUserRepo) GetByNickname(nickname string) (*domain.User, error) {
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

func (r *memUserRepo) Update(user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[user.ID]; !ok {
		return repository.ErrNotFound
	}
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *memUserRepo) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	user.IsActive = false
	return nil
}

func (r *memUserRepo) List() ([]*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.User, 0, len(r.users))
	for _, user := range r.users {
		cp := *user
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type memLogRepo struct {
	mu      sync.Mutex
	entries []*domain.ValidationLogEntry
	nextID  int
}

func newMemLogRepo() *memLogRepo {
	return &memLogRepo{}
}

func (r *memLogRepo) Append(entry *domain.ValidationLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	entry.ID = fmt.Sprintf("log-%d", r.nextID)
	cp := *entry
	r.entries = append(r.entries, &cp)
	return nil
}

func (r *memLogRepo) RecentForKey(keyID string, limit int) ([]*domain.ValidationLogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	var out []*domain.ValidationLogEntry
	for i := len(r.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if r.entries[i].AccessKeyID == keyID {
			cp := *r.entries[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memLogRepo) all() []*domain.ValidationLogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.ValidationLogEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

type memEntryRepo struct {
	mu      sync.Mutex
	entries []*domain.VehicleEntry
	nextID  int
}

func newMemEntryRepo() *memEntryRepo {
	return &memEntryRepo{}
}

func (r *memEntryRepo) Create(entry *domain.VehicleEntry) error {
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

func (r *memEntryRepo) forTenant(tenantID string) []*domain.VehicleEntry {
	var out []*domain.VehicleEntry
	for _, e := range r.entries {
		if e.TenantID == tenantID {
			out = append(out, e)
		}
	}
	return out
}

func inRange(t, from, to time.Time) bool {
	return !t.Before(from) && t.Before(to)
}

func (r *memEntryRepo) CountParked(tenantID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.forTenant(tenantID) {
		if e.Status == domain.EntryStatusParked {
			n++
		}
	}
	return n, nil
}

func (r *memEntryRepo) CountDistinctPlates(tenantID string, from, to time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	plates := map[string]bool{}
	for _, e := range r.forTenant(tenantID) {
		if inRange(e.EntryTime, from, to) {
			plates[e.Plate] = true
		}
	}
	return len(plates), nil
}

func (r *memEntryRepo) EntriesBetween(tenantID string, from, to time.Time) ([]*domain.VehicleEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.VehicleEntry
	for _, e := range r.forTenant(tenantID) {
		if inRange(e.EntryTime, from, to) {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryTime.Before(out[j].EntryTime) })
	return out, nil
}

func (r *memEntryRepo) ExitsBetween(tenantID string, from, to time.Time) ([]*domain.VehicleEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.VehicleEntry
	for _, e := range r.forTenant(tenantID) {
		if e.ExitTime != nil && inRange(*e.ExitTime, from, to) {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExitTime.Before(*out[j].ExitTime) })
	return out, nil
}

func (r *memEntryRepo) ListParked(tenantID string) ([]*domain.VehicleEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.VehicleEntry
	for _, e := range r.forTenant(tenantID) {
		if e.Status == domain.EntryStatusParked {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryTime.After(out[j].EntryTime) })
	return out, nil
}

func (r *memEntryRepo) RecentEntries(tenantID string, from, to time.Time, limit int) ([]*domain.VehicleEntry, error) {
	list, err := r.EntriesBetween(tenantID, from, to)
	if err != nil {
		return nil, err
	}
	sort.Slice(list, func(i, j int) bool { return list[i].EntryTime.After(list[j].EntryTime) })
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func (r *memEntryRepo) EntryTimeBounds(tenantID string) (*time.Time, *time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var first, last *time.Time
	for _, e := range r.forTenant(tenantID) {
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
