package service

import (
	"errors"
	"log/slog"
	"time"

	"github.com/yourorg/valetgate/internal/domain"
	"github.com/yourorg/valetgate/internal/observability/metrics"
	"github.com/yourorg/valetgate/internal/repository"
	"github.com/yourorg/valetgate/internal/security/auth"
	"golang.org/x/crypto/bcrypt"
)

// UserSummary is the user shape returned by auth endpoints. The password
// hash never leaves the service layer.
type UserSummary struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Nickname string      `json:"nickname"`
	Phone    string      `json:"phone,omitempty"`
	Role     domain.Role `json:"role"`
	TenantID string      `json:"tenant_id,omitempty"`
}

// LoginResult represents login response
type LoginResult struct {
	Token     string      `json:"token"`
	TokenType string      `json:"token_type"`
	ExpiresIn int         `json:"expires_in"` // seconds
	User      UserSummary `json:"user"`
}

// AuthService handles authentication operations
type AuthService struct {
	users      domain.UserRepository
	keys       domain.AccessKeyRepository
	tokens     *auth.TokenManager
	loginTTL   time.Duration
	refreshTTL time.Duration
	logger     *slog.Logger
}

// NewAuthService creates a new authentication service
func NewAuthService(
	users domain.UserRepository,
	keys domain.AccessKeyRepository,
	tokens *auth.TokenManager,
	loginTTL, refreshTTL time.Duration,
	logger *slog.Logger,
) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	if loginTTL <= 0 {
		loginTTL = 7 * 24 * time.Hour
	}
	if refreshTTL <= 0 {
		refreshTTL = 8 * time.Hour
	}
	return &AuthService{
		users:      users,
		keys:       keys,
		tokens:     tokens,
		loginTTL:   loginTTL,
		refreshTTL: refreshTTL,
		logger:     logger,
	}
}

// Register creates a new operator account
func (s *AuthService) Register(name, nickname, password, phone string, role domain.Role) (*UserSummary, error) {
	if name == "" || nickname == "" || password == "" {
		return nil, domain.E(domain.CodeValidation, "name, nickname and password are required")
	}
	if len(password) < 8 {
		return nil, domain.E(domain.CodeValidation, "password must be at least 8 characters")
	}
	if role == "" {
		role = domain.RoleOperator
	}
	if role != domain.RoleAdmin && role != domain.RoleOperator {
		return nil, domain.Ef(domain.CodeValidation, "invalid role %q", role)
	}

	if _, err := s.users.GetByNickname(nickname); err == nil {
		return nil, domain.E(domain.CodeValidation, "nickname already taken")
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, domain.Internal(err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		s.logger.Error("failed to hash password", slog.String("error", err.Error()))
		return nil, domain.Internal(err)
	}

	user := &domain.User{
		Name:         name,
		Nickname:     nickname,
		PasswordHash: string(hash),
		Phone:        phone,
		Role:         role,
		IsActive:     true,
	}
	if err := s.users.Create(user); err != nil {
		s.logger.Error("failed to create user", slog.String("error", err.Error()))
		return nil, domain.Internal(err)
	}

	s.logger.Info("user registered",
		slog.String("user_id", user.ID),
		slog.String("nickname", user.Nickname),
		slog.String("role", string(user.Role)),
	)
	return summarize(user, ""), nil
}

// Login authenticates a user and mints a session token. The tenant claim is
// resolved from the user's access key bindings: operators without a binding
// cannot log in, since every downstream query they issue is tenant-scoped.
// Admins may hold a tenant-less session.
func (s *AuthService) Login(nickname, password string) (*LoginResult, error) {
	if nickname == "" || password == "" {
		return nil, domain.E(domain.CodeValidation, "nickname and password are required")
	}

	user, err := s.users.GetByNickname(nickname)
	if errors.Is(err, repository.ErrNotFound) {
		s.logger.Info("login attempt with unknown nickname", slog.String("nickname", nickname))
		return nil, domain.E(domain.CodeInvalidCredentials, "invalid credentials")
	}
	if err != nil {
		return nil, domain.Internal(err)
	}

	// Inactive accounts fail with the same generic error to avoid account
	// enumeration.
	if !user.IsActive {
		s.logger.Info("login attempt on inactive account", slog.String("user_id", user.ID))
		return nil, domain.E(domain.CodeInvalidCredentials, "invalid credentials")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.logger.Info("login failed with wrong password", slog.String("nickname", nickname))
		return nil, domain.E(domain.CodeInvalidCredentials, "invalid credentials")
	}

	tenantID, err := s.resolveTenant(user)
	if err != nil {
		return nil, err
	}

	token, err := s.tokens.Generate(user.ID, user.Nickname, user.Role, tenantID, s.loginTTL)
	if err != nil {
		s.logger.Error("failed to sign token", slog.String("error", err.Error()))
		return nil, domain.Internal(err)
	}
	metrics.ObserveTokenIssued("login")

	s.logger.Info("user logged in",
		slog.String("user_id", user.ID),
		slog.String("tenant_id", tenantID),
		slog.String("role", string(user.Role)),
	)

	return &LoginResult{
		Token:     token,
		TokenType: "Bearer",
		ExpiresIn: int(s.loginTTL.Seconds()),
		User:      *summarize(user, tenantID),
	}, nil
}

func (s *AuthService) resolveTenant(user *domain.User) (string, error) {
	keys, err := s.keys.KeysForUser(user.ID)
	if err != nil {
		return "", domain.Internal(err)
	}
	if len(keys) > 0 {
		// Bindings are same-tenant by construction, so any key resolves it.
		return keys[0].TenantID, nil
	}
	if user.Role == domain.RoleAdmin {
		return "", nil
	}
	s.logger.Warn("operator login without tenant binding", slog.String("user_id", user.ID))
	return "", domain.E(domain.CodeForbidden, "user is not associated with a tenant")
}

// Refresh re-issues a token from an existing one, which may be expired. A
// token with a bad signature is never refreshed.
func (s *AuthService) Refresh(tokenString string) (*LoginResult, error) {
	if tokenString == "" {
		return nil, domain.E(domain.CodeMissingToken, "token is required")
	}

	fresh, claims, err := s.tokens.Refresh(tokenString, s.refreshTTL)
	if err != nil {
		s.logger.Info("token refresh rejected", slog.String("error", err.Error()))
		return nil, domain.E(domain.CodeInvalidToken, "invalid token")
	}
	metrics.ObserveTokenIssued("refresh")

	return &LoginResult{
		Token:     fresh,
		TokenType: "Bearer",
		ExpiresIn: int(s.refreshTTL.Seconds()),
		User: UserSummary{
			ID:       claims.UserID,
			Nickname: claims.Nickname,
			Role:     claims.Role,
			TenantID: claims.TenantID,
		},
	}, nil
}

// Me returns the account behind a session
func (s *AuthService) Me(userID, tenantID string) (*UserSummary, error) {
	user, err := s.users.GetByID(userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, domain.E(domain.CodeNotFound, "user not found")
	}
	if err != nil {
		return nil, domain.Internal(err)
	}
	return summarize(user, tenantID), nil
}

func summarize(user *domain.User, tenantID string) *UserSummary {
	return &UserSummary{
		ID:       user.ID,
		Name:     user.Name,
		Nickname: user.Nickname,
		Phone:    user.Phone,
		Role:     user.Role,
		TenantID: tenantID,
	}
}
