package service

import (
	"errors"
	"log/slog"

	"github.com/yourorg/valetgate/internal/domain"
	"github.com/yourorg/valetgate/internal/repository"
)

// TenantService manages operator organizations
type TenantService struct {
	tenants domain.TenantRepository
	keys    domain.AccessKeyRepository
	logger  *slog.Logger
}

// NewTenantService creates a new tenant service
func NewTenantService(tenants domain.TenantRepository, keys domain.AccessKeyRepository, logger *slog.Logger) *TenantService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TenantService{tenants: tenants, keys: keys, logger: logger}
}

// Create registers a new tenant
func (s *TenantService) Create(name, email, phone, companyName string) (*domain.Tenant, error) {
	if name == "" {
		return nil, domain.E(domain.CodeValidation, "name is required")
	}
	tenant := &domain.Tenant{
		Name:        name,
		Email:       email,
		Phone:       phone,
		CompanyName: companyName,
		IsActive:    true,
	}
	if err := s.tenants.Create(tenant); err != nil {
		return nil, domain.Internal(err)
	}
	s.logger.Info("tenant created", slog.String("tenant_id", tenant.ID))
	return tenant, nil
}

// Get returns a tenant by id
func (s *TenantService) Get(id string) (*domain.Tenant, error) {
	tenant, err := s.tenants.GetByID(id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, domain.E(domain.CodeNotFound, "tenant not found")
	}
	if err != nil {
		return nil, domain.Internal(err)
	}
	return tenant, nil
}

// List returns all tenants
func (s *TenantService) List() ([]*domain.Tenant, error) {
	tenants, err := s.tenants.List()
	if err != nil {
		return nil, domain.Internal(err)
	}
	return tenants, nil
}

// Update applies a partial update
func (s *TenantService) Update(id string, patch domain.TenantPatch) (*domain.Tenant, error) {
	tenant, err := s.tenants.Update(id, patch)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, domain.E(domain.CodeNotFound, "tenant not found")
	}
	if err != nil {
		return nil, domain.Internal(err)
	}
	return tenant, nil
}

// Delete removes a tenant. Deletion is refused while the tenant still owns
// active keys; those must be revoked first.
func (s *TenantService) Delete(id string) error {
	active, err := s.keys.CountActiveByTenant(id)
	if err != nil {
		return domain.Internal(err)
	}
	if active > 0 {
		return domain.Ef(domain.CodeValidation, "tenant owns %d active access keys", active)
	}

	err = s.tenants.Delete(id)
	if errors.Is(err, repository.ErrNotFound) {
		return domain.E(domain.CodeNotFound, "tenant not found")
	}
	if err != nil {
		return domain.Internal(err)
	}
	s.logger.Info("tenant deleted", slog.String("tenant_id", id))
	return nil
}
