package domain

import "time"

// KeyStatus is the lifecycle state of an access key.
type KeyStatus string

const (
	KeyStatusActive   KeyStatus = "active"
	KeyStatusInactive KeyStatus = "inactive"
	KeyStatusRevoked  KeyStatus = "revoked"
)

// UnknownKeyID is the sentinel recorded in the validation log when a
// presented code does not resolve to any key.
const UnknownKeyID = "unknown"

// AccessKey is a licensing credential owned by exactly one tenant.
// Once revoked a key never leaves the revoked state; expiry may only be
// extended while the key is not revoked.
type AccessKey struct {
	ID              string
	Code            string // VALET-<12 uppercase hex>
	TenantID        string
	ClientName      string // denormalized tenant contact at issue time
	ClientEmail     string
	ClientPhone     string
	CompanyName     string
	Status          KeyStatus
	ExpiresAt       time.Time
	RevokedAt       *time.Time
	RevokedReason   string
	LastValidatedAt *time.Time
	DeviceID        string
	Observations    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// AccessKeyPatch is a partial update for an access key. Nil fields are left
// untouched. The owning tenant is deliberately not patchable.
type AccessKeyPatch struct {
	ClientName   *string
	ClientEmail  *string
	ClientPhone  *string
	CompanyName  *string
	ExpiresAt    *time.Time
	Status       *KeyStatus
	Observations *string
}

// AccessKeyRepository defines data access for access keys
type AccessKeyRepository interface {
	Create(key *AccessKey) error
	GetByID(id string) (*AccessKey, error)
	GetByCode(code string) (*AccessKey, error)
	List() ([]*AccessKey, error)
	Update(id string, patch AccessKeyPatch) (*AccessKey, error)
	Delete(id string) error
	Revoke(id, reason string, at time.Time) (*AccessKey, error)
	SetStatus(id string, status KeyStatus) (*AccessKey, error)
	SetExpiry(id string, expiresAt time.Time) (*AccessKey, error)
	Touch(id, deviceID string, at time.Time) error
	CodeExists(code string) (bool, error)
	CountActiveByTenant(tenantID string) (int, error)
	BindUser(keyID, userID string) error
	UnbindUser(keyID, userID string) error
	UsersForKey(keyID string) ([]*User, error)
	KeysForUser(userID string) ([]*AccessKey, error)
}

// Tenant represents an operator organization (a valet client)
type Tenant struct {
	ID          string
	Name        string
	Email       string
	Phone       string
	CompanyName string
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TenantPatch is a partial update for a tenant
type TenantPatch struct {
	Name        *string
	Email       *string
	Phone       *string
	CompanyName *string
	IsActive    *bool
}

// TenantRepository defines data access for tenants
type TenantRepository interface {
	Create(tenant *Tenant) error
	GetByID(id string) (*Tenant, error)
	List() ([]*Tenant, error)
	Update(id string, patch TenantPatch) (*Tenant, error)
	Delete(id string) error
}

// ValidationOutcome classifies a single validation attempt.
type ValidationOutcome string

const (
	ValidationValid   ValidationOutcome = "valid"
	ValidationInvalid ValidationOutcome = "invalid"
	ValidationExpired ValidationOutcome = "expired"
	ValidationRevoked ValidationOutcome = "revoked"
)

// ValidationLogEntry is an immutable audit row written on every validation
// attempt, successful or not.
type ValidationLogEntry struct {
	ID          string
	AccessKeyID string // UnknownKeyID when the code did not resolve
	DeviceID    string
	Outcome     ValidationOutcome
	AppVersion  string
	OSVersion   string
	CreatedAt   time.Time
}

// ValidationLogRepository is append-only by design: no update or delete is
// exposed to callers.
type ValidationLogRepository interface {
	Append(entry *ValidationLogEntry) error
	RecentForKey(keyID string, limit int) ([]*ValidationLogEntry, error)
}
