package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/yourorg/valetgate/internal/domain"
)

// ErrInvalidToken indicates the token failed signature or claims validation.
var ErrInvalidToken = errors.New("invalid token")

// Claims is the session payload embedded in every signed token. TenantID is
// empty only for platform admins; tenant-scoped endpoints reject such
// sessions.
type Claims struct {
	UserID   string      `json:"user_id"`
	Nickname string      `json:"nickname"`
	Role     domain.Role `json:"role"`
	TenantID string      `json:"tenant_id,omitempty"`
	jwt.RegisteredClaims
}

// TokenManager signs and verifies session tokens (HS256)
type TokenManager struct {
	secret []byte
	issuer string
}

// NewTokenManager creates a new token manager
func NewTokenManager(secret, issuer string) *TokenManager {
	if secret == "" {
		secret = "change-me-in-production"
	}
	if issuer == "" {
		issuer = "valetgate"
	}
	return &TokenManager{secret: []byte(secret), issuer: issuer}
}

// Generate mints a signed token for the given session claims
func (tm *TokenManager) Generate(userID, nickname string, role domain.Role, tenantID string, expiresIn time.Duration) (string, error) {
	if userID == "" || nickname == "" {
		return "", fmt.Errorf("user_id and nickname required")
	}
	now := time.Now()
	claims := Claims{
		UserID:   userID,
		Nickname: nickname,
		Role:     role,
		TenantID: tenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
			Issuer:    tm.issuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(tm.secret)
}

// Validate verifies signature and expiry and returns the decoded claims
func (tm *TokenManager) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, tm.keyFunc)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidToken, err.Error())
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Refresh re-signs the claims of an existing token with a fresh expiry
// window. The signature is always verified; only the expiry check is
// skipped, so an expired-but-authentic token can be refreshed while a
// tampered one never can.
func (tm *TokenManager) Refresh(tokenString string, expiresIn time.Duration) (string, *Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	token, err := parser.ParseWithClaims(tokenString, &Claims{}, tm.keyFunc)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %s", ErrInvalidToken, err.Error())
	}
	old, ok := token.Claims.(*Claims)
	if !ok {
		return "", nil, ErrInvalidToken
	}
	fresh, err := tm.Generate(old.UserID, old.Nickname, old.Role, old.TenantID, expiresIn)
	if err != nil {
		return "", nil, err
	}
	claims, err := tm.Validate(fresh)
	if err != nil {
		return "", nil, err
	}
	return fresh, claims, nil
}

func (tm *TokenManager) keyFunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return tm.secret, nil
}

// ExtractToken pulls the bearer token out of an Authorization header
func ExtractToken(authHeader string) (string, error) {
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", fmt.Errorf("invalid authorization header")
	}
	return parts[1], nil
}
