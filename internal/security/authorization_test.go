package security

import (
	"io"
	"log/slog"
	"testing"

	"github.com/yourorg/valetgate/internal/domain"
)

func newAuthz() *AuthorizationService {
	return NewAuthorizationService(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRolePermissions(t *testing.T) {
	authz := newAuthz()

	if !authz.HasPermission(domain.RoleAdmin, PermManageTenants) {
		t.Error("admin must manage tenants")
	}
	if !authz.HasPermission(domain.RoleOperator, PermValidateKey) {
		t.Error("operator must validate keys")
	}
	if authz.HasPermission(domain.RoleOperator, PermManageKeys) {
		t.Error("operator must not manage keys")
	}
	if authz.HasPermission(domain.Role("ghost"), PermValidateKey) {
		t.Error("unknown role has no permissions")
	}
}

func TestValidatePermission(t *testing.T) {
	authz := newAuthz()

	if err := authz.ValidatePermission(domain.RoleAdmin, PermViewReports); err != nil {
		t.Errorf("expected admin to view reports: %v", err)
	}
	if err := authz.ValidatePermission(domain.RoleOperator, PermViewAuditLog); err == nil {
		t.Error("expected operator to be denied the audit log")
	}
}

func TestValidateTenantAccess(t *testing.T) {
	authz := newAuthz()

	if err := authz.ValidateTenantAccess("tenant-1", "tenant-1"); err != nil {
		t.Errorf("matching tenants must pass: %v", err)
	}
	if err := authz.ValidateTenantAccess("tenant-1", "tenant-2"); err == nil {
		t.Error("mismatched tenants must fail")
	}
	if err := authz.ValidateTenantAccess("", "tenant-1"); err == nil {
		t.Error("tenant-less session must never pass a tenant-scoped check")
	}
}
