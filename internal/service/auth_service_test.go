package service

import (
	"strings"
	"testing"
	"time"

	"github.com/yourorg/valetgate/internal/domain"
	"github.com/yourorg/valetgate/internal/security/auth"
	"golang.org/x/crypto/bcrypt"
)

func newAuthServiceFixture() (*AuthService, *memUserRepo, *memKeyRepo) {
	users := newMemUserRepo()
	keys := newMemKeyRepo(users)
	tokens := auth.NewTokenManager("test-secret", "valetgate-test")
	svc := NewAuthService(users, keys, tokens, 7*24*time.Hour, 8*time.Hour, discardLogger())
	return svc, users, keys
}

func seedUser(t *testing.T, users *memUserRepo, nickname, password string, role domain.Role, active bool) *domain.User {
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
		IsActive:     active,
	}
	if err := users.Create(user); err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
	return user
}

func bindToTenant(t *testing.T, keys *memKeyRepo, userID, tenantID string) {
	t.Helper()
	key := &domain.AccessKey{
		Code:      "VALET-" + strings.Repeat("A", 12),
		TenantID:  tenantID,
		Status:    domain.KeyStatusActive,
		ExpiresAt: time.Now().AddDate(1, 0, 0),
	}
	if err := keys.Create(key); err != nil {
		t.Fatalf("failed to seed key: %v", err)
	}
	if err := keys.BindUser(key.ID, userID); err != nil {
		t.Fatalf("failed to bind user: %v", err)
	}
}

func TestLoginOperatorWithBinding(t *testing.T) {
	svc, users, keys := newAuthServiceFixture()
	user := seedUser(t, users, "maria", "secret-password", domain.RoleOperator, true)
	bindToTenant(t, keys, user.ID, "tenant-1")

	result, err := svc.Login("maria", "secret-password")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if result.Token == "" {
		t.Fatal("expected a token")
	}
	if result.TokenType != "Bearer" {
		t.Errorf("expected Bearer, got %s", result.TokenType)
	}
	if result.ExpiresIn != int((7 * 24 * time.Hour).Seconds()) {
		t.Errorf("unexpected expires_in %d", result.ExpiresIn)
	}
	if result.User.TenantID != "tenant-1" {
		t.Errorf("expected tenant resolved from binding, got %q", result.User.TenantID)
	}

	claims, err := auth.NewTokenManager("test-secret", "valetgate-test").Validate(result.Token)
	if err != nil {
		t.Fatalf("token did not validate: %v", err)
	}
	if claims.TenantID != "tenant-1" || claims.UserID != user.ID || claims.Role != domain.RoleOperator {
		t.Errorf("unexpected claims: %+v", claims)
	}
}

func TestLoginOperatorWithoutBinding(t *testing.T) {
	svc, users, _ := newAuthServiceFixture()
	seedUser(t, users, "maria", "secret-password", domain.RoleOperator, true)

	_, err := svc.Login("maria", "secret-password")
	assertCode(t, err, domain.CodeForbidden)
}

func TestLoginAdminWithoutBinding(t *testing.T) {
	svc, users, _ := newAuthServiceFixture()
	seedUser(t, users, "boss", "secret-password", domain.RoleAdmin, true)

	result, err := svc.Login("boss", "secret-password")
	if err != nil {
		t.Fatalf("admin login without binding should succeed: %v", err)
	}
	if result.User.TenantID != "" {
		t.Errorf("expected tenant-less admin session, got %q", result.User.TenantID)
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	svc, users, keys := newAuthServiceFixture()
	user := seedUser(t, users, "maria", "secret-password", domain.RoleOperator, true)
	bindToTenant(t, keys, user.ID, "tenant-1")
	seedUser(t, users, "gone", "secret-password", domain.RoleOperator, false)

	cases := []struct {
		name     string
		nickname string
		password string
	}{
		{"unknown nickname", "nobody", "secret-password"},
		{"wrong password", "maria", "wrong"},
		{"inactive account", "gone", "secret-password"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Login(tc.nickname, tc.password)
			assertCode(t, err, domain.CodeInvalidCredentials)
		})
	}
}

func TestRegisterRejectsShortPassword(t *testing.T) {
	svc, _, _ := newAuthServiceFixture()

	_, err := svc.Register("Maria", "maria", "short", "", domain.RoleOperator)
	assertCode(t, err, domain.CodeValidation)
}

func TestRegisterRejectsDuplicateNickname(t *testing.T) {
	svc, users, _ := newAuthServiceFixture()
	seedUser(t, users, "maria", "secret-password", domain.RoleOperator, true)

	_, err := svc.Register("Maria Two", "maria", "another-password", "", domain.RoleOperator)
	assertCode(t, err, domain.CodeValidation)
}

func TestRegisterThenLogin(t *testing.T) {
	svc, _, keys := newAuthServiceFixture()

	created, err := svc.Register("Maria", "maria", "secret-password", "555-0100", domain.RoleOperator)
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	bindToTenant(t, keys, created.ID, "tenant-1")

	if _, err := svc.Login("maria", "secret-password"); err != nil {
		t.Fatalf("login after register failed: %v", err)
	}
}

func TestRefreshExpiredToken(t *testing.T) {
	svc, users, keys := newAuthServiceFixture()
	user := seedUser(t, users, "maria", "secret-password", domain.RoleOperator, true)
	bindToTenant(t, keys, user.ID, "tenant-1")

	tokens := auth.NewTokenManager("test-secret", "valetgate-test")
	expired, err := tokens.Generate(user.ID, user.Nickname, user.Role, "tenant-1", -time.Hour)
	if err != nil {
		t.Fatalf("failed to mint expired token: %v", err)
	}
	if _, err := tokens.Validate(expired); err == nil {
		t.Fatal("sanity: expired token should not validate")
	}

	result, err := svc.Refresh(expired)
	if err != nil {
		t.Fatalf("refresh of an authentic expired token should succeed: %v", err)
	}
	if result.User.ID != user.ID || result.User.TenantID != "tenant-1" {
		t.Errorf("refreshed claims do not match the original session: %+v", result.User)
	}
	if _, err := tokens.Validate(result.Token); err != nil {
		t.Errorf("refreshed token should validate: %v", err)
	}
}

func TestRefreshTamperedToken(t *testing.T) {
	svc, users, _ := newAuthServiceFixture()
	user := seedUser(t, users, "maria", "secret-password", domain.RoleOperator, true)

	other := auth.NewTokenManager("attacker-secret", "valetgate-test")
	forged, err := other.Generate(user.ID, user.Nickname, domain.RoleAdmin, "tenant-1", time.Hour)
	if err != nil {
		t.Fatalf("failed to mint forged token: %v", err)
	}

	_, err = svc.Refresh(forged)
	assertCode(t, err, domain.CodeInvalidToken)
}

func TestRefreshEmptyToken(t *testing.T) {
	svc, _, _ := newAuthServiceFixture()

	_, err := svc.Refresh("")
	assertCode(t, err, domain.CodeMissingToken)
}

func TestMe(t *testing.T) {
	svc, users, _ := newAuthServiceFixture()
	user := seedUser(t, users, "maria", "secret-password", domain.RoleOperator, true)

	me, err := svc.Me(user.ID, "tenant-1")
	if err != nil {
		t.Fatalf("me failed: %v", err)
	}
	if me.Nickname != "maria" || me.TenantID != "tenant-1" {
		t.Errorf("unexpected summary: %+v", me)
	}

	_, err = svc.Me("no-such-user", "")
	assertCode(t, err, domain.CodeNotFound)
}
