package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/yourorg/valetgate/internal/domain"
)

func TestGenerateAndValidate(t *testing.T) {
	tm := NewTokenManager("test-secret", "valetgate-test")

	token, err := tm.Generate("user-1", "maria", domain.RoleOperator, "tenant-1", time.Hour)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	claims, err := tm.Validate(token)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if claims.UserID != "user-1" || claims.Nickname != "maria" {
		t.Errorf("unexpected identity claims: %+v", claims)
	}
	if claims.Role != domain.RoleOperator || claims.TenantID != "tenant-1" {
		t.Errorf("unexpected authorization claims: %+v", claims)
	}
	if claims.Issuer != "valetgate-test" {
		t.Errorf("unexpected issuer %q", claims.Issuer)
	}
}

func TestGenerateRequiresIdentity(t *testing.T) {
	tm := NewTokenManager("test-secret", "")

	if _, err := tm.Generate("", "maria", domain.RoleOperator, "", time.Hour); err == nil {
		t.Error("expected error without user id")
	}
	if _, err := tm.Generate("user-1", "", domain.RoleOperator, "", time.Hour); err == nil {
		t.Error("expected error without nickname")
	}
}

func TestValidateExpiredToken(t *testing.T) {
	tm := NewTokenManager("test-secret", "valetgate-test")

	token, err := tm.Generate("user-1", "maria", domain.RoleOperator, "tenant-1", -time.Minute)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if _, err := tm.Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestValidateWrongSecret(t *testing.T) {
	tm := NewTokenManager("test-secret", "valetgate-test")
	other := NewTokenManager("other-secret", "valetgate-test")

	token, err := other.Generate("user-1", "maria", domain.RoleAdmin, "", time.Hour)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if _, err := tm.Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for foreign signature, got %v", err)
	}
}

func TestRefreshExpiredAuthenticToken(t *testing.T) {
	tm := NewTokenManager("test-secret", "valetgate-test")

	expired, err := tm.Generate("user-1", "maria", domain.RoleOperator, "tenant-1", -time.Hour)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	fresh, claims, err := tm.Refresh(expired, time.Hour)
	if err != nil {
		t.Fatalf("refresh of an expired authentic token must succeed: %v", err)
	}
	if claims.UserID != "user-1" || claims.TenantID != "tenant-1" || claims.Role != domain.RoleOperator {
		t.Errorf("refreshed claims differ from the original session: %+v", claims)
	}
	if _, err := tm.Validate(fresh); err != nil {
		t.Errorf("refreshed token should validate: %v", err)
	}
}

func TestRefreshTamperedToken(t *testing.T) {
	tm := NewTokenManager("test-secret", "valetgate-test")

	token, err := tm.Generate("user-1", "maria", domain.RoleOperator, "tenant-1", time.Hour)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	// Corrupt the signature segment.
	parts := strings.Split(token, ".")
	parts[2] = "x" + parts[2][1:]
	tampered := strings.Join(parts, ".")

	if _, _, err := tm.Refresh(tampered, time.Hour); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for tampered token, got %v", err)
	}
}

func TestRefreshForeignSecret(t *testing.T) {
	tm := NewTokenManager("test-secret", "valetgate-test")
	other := NewTokenManager("attacker-secret", "valetgate-test")

	forged, err := other.Generate("user-1", "maria", domain.RoleAdmin, "tenant-1", time.Hour)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if _, _, err := tm.Refresh(forged, time.Hour); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for foreign signature, got %v", err)
	}
}

func TestExtractToken(t *testing.T) {
	token, err := ExtractToken("Bearer abc.def.ghi")
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if token != "abc.def.ghi" {
		t.Errorf("unexpected token %q", token)
	}

	for _, header := range []string{"", "abc.def.ghi", "Basic abc", "Bearer"} {
		if _, err := ExtractToken(header); err == nil {
			t.Errorf("expected error for header %q", header)
		}
	}
}
