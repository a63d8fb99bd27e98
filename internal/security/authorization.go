package security

import (
	"fmt"
	"log/slog"

	"github.com/yourorg/valetgate/internal/domain"
)

// Permission represents an action permission
type Permission string

const (
	PermValidateKey   Permission = "validate_key"
	PermManageKeys    Permission = "manage_keys"
	PermManageTenants Permission = "manage_tenants"
	PermManageUsers   Permission = "manage_users"
	PermViewReports   Permission = "view_reports"
	PermViewAuditLog  Permission = "view_audit_log"
	PermRegisterMoves Permission = "register_movements"
)

// RolePermissions maps roles to their permissions
var RolePermissions = map[domain.Role][]Permission{
	domain.RoleAdmin: {
		PermValidateKey,
		PermManageKeys,
		PermManageTenants,
		PermManageUsers,
		PermViewReports,
		PermViewAuditLog,
		PermRegisterMoves,
	},
	domain.RoleOperator: {
		PermValidateKey,
		PermRegisterMoves,
	},
}

// AuthorizationService handles authorization checks
type AuthorizationService struct {
	logger *slog.Logger
}

// NewAuthorizationService creates a new authorization service
func NewAuthorizationService(logger *slog.Logger) *AuthorizationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthorizationService{logger: logger}
}

// HasPermission checks if a role has a specific permission
func (as *AuthorizationService) HasPermission(role domain.Role, permission Permission) bool {
	permissions, exists := RolePermissions[role]
	if !exists {
		return false
	}
	for _, p := range permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// ValidatePermission validates that a role has a specific permission
func (as *AuthorizationService) ValidatePermission(role domain.Role, permission Permission) error {
	if !as.HasPermission(role, permission) {
		as.logger.Warn("permission denied",
			slog.String("role", string(role)),
			slog.String("permission", string(permission)),
		)
		return fmt.Errorf("permission denied: %s role cannot %s", role, permission)
	}
	return nil
}

// ValidateTenantAccess checks that the caller's tenant matches the resource's
// tenant. The empty-tenant case is rejected: a session without a tenant can
// never pass a tenant-scoped check.
func (as *AuthorizationService) ValidateTenantAccess(userTenantID, requestedTenantID string) error {
	if userTenantID == "" || userTenantID != requestedTenantID {
		as.logger.Warn("tenant access denied",
			slog.String("user_tenant", userTenantID),
			slog.String("requested_tenant", requestedTenantID),
		)
		return fmt.Errorf("access denied: invalid tenant")
	}
	return nil
}
