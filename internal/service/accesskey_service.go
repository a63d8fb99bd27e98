package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/yourorg/valetgate/internal/domain"
	"github.com/yourorg/valetgate/internal/observability/metrics"
	"github.com/yourorg/valetgate/internal/repository"
	"github.com/yourorg/valetgate/internal/security/audit"
)

// ValidationEvent is pushed to live feed subscribers after each validation
// attempt.
type ValidationEvent struct {
	KeyID     string    `json:"key_id"`
	Code      string    `json:"code"`
	TenantID  string    `json:"tenant_id"`
	DeviceID  string    `json:"device_id"`
	Outcome   string    `json:"outcome"`
	Timestamp time.Time `json:"timestamp"`
}

// ValidationNotifier receives validation events for the live feed. A nil
// notifier disables the feed.
type ValidationNotifier interface {
	NotifyValidation(event ValidationEvent)
}

// ValidateResult is the success payload of a validation
type ValidateResult struct {
	KeyID         string    `json:"key_id"`
	ClientName    string    `json:"client_name"`
	ExpiresAt     time.Time `json:"expires_at"`
	DaysRemaining int       `json:"days_remaining"`
}

// CreateKeyInput carries the fields accepted when issuing a new key. Contact
// fields left empty are denormalized from the owning tenant.
type CreateKeyInput struct {
	TenantID     string    `json:"tenant_id"`
	ClientName   string    `json:"client_name"`
	ClientEmail  string    `json:"client_email"`
	ClientPhone  string    `json:"client_phone"`
	CompanyName  string    `json:"company_name"`
	ExpiresAt    time.Time `json:"expires_at"`
	Observations string    `json:"observations"`
}

// AccessKeyService owns the key lifecycle: validation, issuance, revocation,
// renewal and user bindings.
type AccessKeyService struct {
	keys        domain.AccessKeyRepository
	tenants     domain.TenantRepository
	users       domain.UserRepository
	logs        domain.ValidationLogRepository
	audit       *audit.Logger
	logger      *slog.Logger
	notifier    ValidationNotifier
	prefix      string
	maxAttempts int
	renewMonths int
}

// NewAccessKeyService creates a new access key service
func NewAccessKeyService(
	keys domain.AccessKeyRepository,
	tenants domain.TenantRepository,
	users domain.UserRepository,
	logs domain.ValidationLogRepository,
	auditLogger *audit.Logger,
	logger *slog.Logger,
	prefix string,
	maxAttempts int,
	renewMonths int,
) *AccessKeyService {
	if logger == nil {
		logger = slog.Default()
	}
	if prefix == "" {
		prefix = "VALET"
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if renewMonths <= 0 {
		renewMonths = 12
	}
	return &AccessKeyService{
		keys:        keys,
		tenants:     tenants,
		users:       users,
		logs:        logs,
		audit:       auditLogger,
		logger:      logger,
		prefix:      prefix,
		maxAttempts: maxAttempts,
		renewMonths: renewMonths,
	}
}

// SetNotifier wires the live validation feed. Must be called before the
// service starts handling requests.
func (s *AccessKeyService) SetNotifier(n ValidationNotifier) {
	s.notifier = n
}

// Validate checks a presented code against the key lifecycle. Only revocation
// and expiry gate success; the active/inactive flag is admin bookkeeping.
// Every attempt, successful or not, is written to the validation log; an
// unresolvable code is logged against the sentinel key id.
func (s *AccessKeyService) Validate(code, deviceID, appVersion, osVersion string) (*ValidateResult, error) {
	if code == "" {
		return nil, domain.E(domain.CodeMissingKey, "access key code is required")
	}

	now := time.Now()

	key, err := s.keys.GetByCode(code)
	if errors.Is(err, repository.ErrNotFound) {
		s.logAttempt(domain.UnknownKeyID, code, "", deviceID, appVersion, osVersion, domain.ValidationInvalid, now)
		return nil, domain.E(domain.CodeInvalidKey, "access key not found")
	}
	if err != nil {
		return nil, domain.Internal(err)
	}

	if key.Status == domain.KeyStatusRevoked {
		s.logAttempt(key.ID, code, key.TenantID, deviceID, appVersion, osVersion, domain.ValidationRevoked, now)
		return nil, domain.Ef(domain.CodeAccessRevoked, "access revoked: %s", key.RevokedReason)
	}

	if !key.ExpiresAt.After(now) {
		s.logAttempt(key.ID, code, key.TenantID, deviceID, appVersion, osVersion, domain.ValidationExpired, now)
		return nil, domain.Ef(domain.CodeAccessExpired, "access expired on %s", key.ExpiresAt.Format("2006-01-02"))
	}

	// Lookup, touch and log are independent statements; under concurrent
	// validation of the same key the last writer wins.
	if err := s.keys.Touch(key.ID, deviceID, now); err != nil {
		s.logger.Error("failed to update key metadata",
			slog.String("key_id", key.ID),
			slog.String("error", err.Error()),
		)
	}
	s.logAttempt(key.ID, code, key.TenantID, deviceID, appVersion, osVersion, domain.ValidationValid, now)

	return &ValidateResult{
		KeyID:         key.ID,
		ClientName:    key.ClientName,
		ExpiresAt:     key.ExpiresAt,
		DaysRemaining: daysRemaining(key.ExpiresAt, now),
	}, nil
}

func daysRemaining(expiresAt, now time.Time) int {
	return int(math.Ceil(expiresAt.Sub(now).Hours() / 24))
}

func (s *AccessKeyService) logAttempt(keyID, code, tenantID, deviceID, appVersion, osVersion string, outcome domain.ValidationOutcome, at time.Time) {
	entry := &domain.ValidationLogEntry{
		AccessKeyID: keyID,
		DeviceID:    deviceID,
		Outcome:     outcome,
		AppVersion:  appVersion,
		OSVersion:   osVersion,
		CreatedAt:   at,
	}
	if err := s.logs.Append(entry); err != nil {
		s.logger.Error("failed to append validation log",
			slog.String("key_id", keyID),
			slog.String("outcome", string(outcome)),
			slog.String("error", err.Error()),
		)
	}
	metrics.ObserveValidation(string(outcome))
	if s.notifier != nil {
		s.notifier.NotifyValidation(ValidationEvent{
			KeyID:     keyID,
			Code:      code,
			TenantID:  tenantID,
			DeviceID:  deviceID,
			Outcome:   string(outcome),
			Timestamp: at,
		})
	}
}

// GenerateCode produces a fresh unique key code. Generation retries a bounded
// number of times against the uniqueness check before giving up.
func (s *AccessKeyService) GenerateCode() (string, error) {
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		buf := make([]byte, 6)
		if _, err := rand.Read(buf); err != nil {
			return "", domain.Internal(err)
		}
		code := fmt.Sprintf("%s-%s", s.prefix, strings.ToUpper(hex.EncodeToString(buf)))

		exists, err := s.keys.CodeExists(code)
		if err != nil {
			return "", domain.Internal(err)
		}
		if !exists {
			return code, nil
		}
		s.logger.Warn("generated code collided, retrying", slog.Int("attempt", attempt+1))
	}
	return "", domain.E(domain.CodeCodeGenerationFailed, "could not generate a unique access key code")
}

// Create issues a new key for an existing tenant
func (s *AccessKeyService) Create(ctx context.Context, actorID string, input CreateKeyInput) (*domain.AccessKey, error) {
	if input.TenantID == "" {
		return nil, domain.E(domain.CodeValidation, "tenant_id is required")
	}
	if input.ExpiresAt.IsZero() {
		return nil, domain.E(domain.CodeValidation, "expires_at is required")
	}

	tenant, err := s.tenants.GetByID(input.TenantID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, domain.E(domain.CodeNotFound, "tenant not found")
	}
	if err != nil {
		return nil, domain.Internal(err)
	}

	code, err := s.GenerateCode()
	if err != nil {
		return nil, err
	}

	key := &domain.AccessKey{
		Code:         code,
		TenantID:     tenant.ID,
		ClientName:   firstNonEmpty(input.ClientName, tenant.Name),
		ClientEmail:  firstNonEmpty(input.ClientEmail, tenant.Email),
		ClientPhone:  firstNonEmpty(input.ClientPhone, tenant.Phone),
		CompanyName:  firstNonEmpty(input.CompanyName, tenant.CompanyName),
		Status:       domain.KeyStatusActive,
		ExpiresAt:    input.ExpiresAt,
		Observations: input.Observations,
	}
	if err := s.keys.Create(key); err != nil {
		return nil, domain.Internal(err)
	}

	s.audit.LogKeyIssued(ctx, tenant.ID, actorID, key.ID)
	s.logger.Info("access key issued",
		slog.String("key_id", key.ID),
		slog.String("tenant_id", tenant.ID),
	)
	return key, nil
}

// Get returns a key by id
func (s *AccessKeyService) Get(id string) (*domain.AccessKey, error) {
	key, err := s.keys.GetByID(id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, domain.E(domain.CodeNotFound, "access key not found")
	}
	if err != nil {
		return nil, domain.Internal(err)
	}
	return key, nil
}

// List returns all keys
func (s *AccessKeyService) List() ([]*domain.AccessKey, error) {
	keys, err := s.keys.List()
	if err != nil {
		return nil, domain.Internal(err)
	}
	return keys, nil
}

// Update applies a partial update. The owning tenant is not patchable.
func (s *AccessKeyService) Update(id string, patch domain.AccessKeyPatch) (*domain.AccessKey, error) {
	key, err := s.keys.Update(id, patch)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, domain.E(domain.CodeNotFound, "access key not found")
	}
	if err != nil {
		return nil, domain.Internal(err)
	}
	return key, nil
}

// Delete removes a key
func (s *AccessKeyService) Delete(id string) error {
	err := s.keys.Delete(id)
	if errors.Is(err, repository.ErrNotFound) {
		return domain.E(domain.CodeNotFound, "access key not found")
	}
	if err != nil {
		return domain.Internal(err)
	}
	return nil
}

// Revoke moves a key into the terminal revoked state. Revoking an already
// revoked key is a no-op returning the key unchanged.
func (s *AccessKeyService) Revoke(ctx context.Context, actorID, id, reason string) (*domain.AccessKey, error) {
	key, err := s.keys.Revoke(id, reason, time.Now())
	if errors.Is(err, repository.ErrNotFound) {
		existing, getErr := s.keys.GetByID(id)
		if errors.Is(getErr, repository.ErrNotFound) {
			return nil, domain.E(domain.CodeNotFound, "access key not found")
		}
		if getErr != nil {
			return nil, domain.Internal(getErr)
		}
		return existing, nil
	}
	if err != nil {
		return nil, domain.Internal(err)
	}

	s.audit.LogKeyRevoked(ctx, key.TenantID, actorID, key.ID, reason)
	s.logger.Info("access key revoked",
		slog.String("key_id", key.ID),
		slog.String("reason", reason),
	)
	return key, nil
}

// Renew extends expiry to the same day-of-month a number of months from
// today. Renewal counts from now, never from the key's prior expiry.
func (s *AccessKeyService) Renew(ctx context.Context, actorID, id string, months int) (*domain.AccessKey, error) {
	if months <= 0 {
		months = s.renewMonths
	}

	newExpiry := RenewalExpiry(time.Now(), months)
	key, err := s.keys.SetExpiry(id, newExpiry)
	if errors.Is(err, repository.ErrNotFound) {
		_, getErr := s.keys.GetByID(id)
		if errors.Is(getErr, repository.ErrNotFound) {
			return nil, domain.E(domain.CodeNotFound, "access key not found")
		}
		if getErr != nil {
			return nil, domain.Internal(getErr)
		}
		return nil, domain.E(domain.CodeValidation, "cannot renew a revoked key")
	}
	if err != nil {
		return nil, domain.Internal(err)
	}

	s.audit.LogKeyRenewed(ctx, key.TenantID, actorID, key.ID, newExpiry.Format("2006-01-02"))
	s.logger.Info("access key renewed",
		slog.String("key_id", key.ID),
		slog.Int("months", months),
		slog.Time("expires_at", newExpiry),
	)
	return key, nil
}

// RenewalExpiry computes the renewed expiry: same day-of-month, months months
// after from. Overflowing days normalize forward (Jan 31 + 1 month = Mar 3).
func RenewalExpiry(from time.Time, months int) time.Time {
	return time.Date(from.Year(), from.Month()+time.Month(months), from.Day(),
		from.Hour(), from.Minute(), from.Second(), 0, from.Location())
}

// SetStatus activates or deactivates a key. Revoked keys never change status.
func (s *AccessKeyService) SetStatus(id string, status domain.KeyStatus) (*domain.AccessKey, error) {
	if status != domain.KeyStatusActive && status != domain.KeyStatusInactive {
		return nil, domain.Ef(domain.CodeValidation, "invalid status %q", status)
	}
	key, err := s.keys.SetStatus(id, status)
	if errors.Is(err, repository.ErrNotFound) {
		_, getErr := s.keys.GetByID(id)
		if errors.Is(getErr, repository.ErrNotFound) {
			return nil, domain.E(domain.CodeNotFound, "access key not found")
		}
		if getErr != nil {
			return nil, domain.Internal(getErr)
		}
		return nil, domain.E(domain.CodeValidation, "cannot change status of a revoked key")
	}
	if err != nil {
		return nil, domain.Internal(err)
	}
	return key, nil
}

// BindUser associates an operator with a key. An operator may only hold keys
// of a single tenant; binding across tenants is rejected.
func (s *AccessKeyService) BindUser(keyID, userID string) error {
	key, err := s.keys.GetByID(keyID)
	if errors.Is(err, repository.ErrNotFound) {
		return domain.E(domain.CodeNotFound, "access key not found")
	}
	if err != nil {
		return domain.Internal(err)
	}

	if _, err := s.users.GetByID(userID); errors.Is(err, repository.ErrNotFound) {
		return domain.E(domain.CodeNotFound, "user not found")
	} else if err != nil {
		return domain.Internal(err)
	}

	existing, err := s.keys.KeysForUser(userID)
	if err != nil {
		return domain.Internal(err)
	}
	for _, k := range existing {
		if k.TenantID != key.TenantID {
			return domain.E(domain.CodeValidation, "user is already bound to another tenant")
		}
	}

	if err := s.keys.BindUser(keyID, userID); err != nil {
		return domain.Internal(err)
	}
	s.logger.Info("user bound to access key",
		slog.String("key_id", keyID),
		slog.String("user_id", userID),
	)
	return nil
}

// UnbindUser removes a user-key association
func (s *AccessKeyService) UnbindUser(keyID, userID string) error {
	err := s.keys.UnbindUser(keyID, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return domain.E(domain.CodeNotFound, "binding not found")
	}
	if err != nil {
		return domain.Internal(err)
	}
	return nil
}

// BoundUsers lists the users bound to a key
func (s *AccessKeyService) BoundUsers(keyID string) ([]*domain.User, error) {
	if _, err := s.Get(keyID); err != nil {
		return nil, err
	}
	users, err := s.keys.UsersForKey(keyID)
	if err != nil {
		return nil, domain.Internal(err)
	}
	return users, nil
}

// AvailableUsers lists users eligible for binding to a key: those with no
// bindings yet, or whose bindings all belong to the key's tenant.
func (s *AccessKeyService) AvailableUsers(keyID string) ([]*domain.User, error) {
	key, err := s.Get(keyID)
	if err != nil {
		return nil, err
	}

	bound, err := s.keys.UsersForKey(keyID)
	if err != nil {
		return nil, domain.Internal(err)
	}
	boundIDs := make(map[string]bool, len(bound))
	for _, u := range bound {
		boundIDs[u.ID] = true
	}

	all, err := s.users.List()
	if err != nil {
		return nil, domain.Internal(err)
	}

	var available []*domain.User
	for _, u := range all {
		if !u.IsActive || boundIDs[u.ID] {
			continue
		}
		userKeys, err := s.keys.KeysForUser(u.ID)
		if err != nil {
			return nil, domain.Internal(err)
		}
		eligible := true
		for _, k := range userKeys {
			if k.TenantID != key.TenantID {
				eligible = false
				break
			}
		}
		if eligible {
			available = append(available, u)
		}
	}
	return available, nil
}

// Logs returns the most recent validation attempts for a key, newest first
func (s *AccessKeyService) Logs(keyID string, limit int) ([]*domain.ValidationLogEntry, error) {
	if _, err := s.Get(keyID); err != nil {
		return nil, err
	}
	entries, err := s.logs.RecentForKey(keyID, limit)
	if err != nil {
		return nil, domain.Internal(err)
	}
	return entries, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
