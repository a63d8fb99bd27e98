package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/yourorg/valetgate/internal/domain"
	"github.com/yourorg/valetgate/internal/security/audit"
	"github.com/yourorg/valetgate/internal/security/auth"
	"github.com/yourorg/valetgate/internal/security/ratelimit"
)

type ClaimsContextKey struct{}
type TenantContextKey struct{}

// Authenticate verifies the bearer token and attaches the decoded claims and
// tenant id to the request context. It emits a warning (not an error) when
// the tenant claim is absent: downstream tenant-scoped handlers reject such
// sessions themselves.
func Authenticate(tm *auth.TokenManager, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, domain.CodeMissingToken, "missing token")
				return
			}

			tokenString, err := auth.ExtractToken(authHeader)
			if err != nil {
				writeError(w, http.StatusUnauthorized, domain.CodeInvalidToken, "invalid or expired token")
				return
			}

			claims, err := tm.Validate(tokenString)
			if err != nil {
				writeError(w, http.StatusUnauthorized, domain.CodeInvalidToken, "invalid or expired token")
				return
			}

			if claims.TenantID == "" {
				log.Warn("session has no tenant claim",
					slog.String("user_id", claims.UserID),
					slog.String("role", string(claims.Role)),
					slog.String("path", r.URL.Path),
				)
			}

			ctx := context.WithValue(r.Context(), ClaimsContextKey{}, claims)
			ctx = context.WithValue(ctx, TenantContextKey{}, claims.TenantID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects authenticated requests whose role is not in the
// allowed set. Rejections are written to the audit trail. Must run after
// Authenticate.
func RequireRole(log *slog.Logger, auditLog *audit.Logger, allowed ...domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetClaimsFromContext(r.Context())
			if claims == nil {
				writeError(w, http.StatusUnauthorized, domain.CodeNotAuthenticated, "not authenticated")
				return
			}
			for _, role := range allowed {
				if claims.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			log.Warn("role denied",
				slog.String("user_id", claims.UserID),
				slog.String("role", string(claims.Role)),
				slog.String("path", r.URL.Path),
			)
			if auditLog != nil {
				auditLog.LogDenied(r.Context(), claims.TenantID, claims.UserID,
					"role "+string(claims.Role)+" not permitted for "+r.URL.Path)
			}
			writeError(w, http.StatusForbidden, domain.CodeForbidden, "access denied")
		})
	}
}

// RateLimit applies the per-tenant limiter to authenticated traffic.
func RateLimit(limiter *ratelimit.Limiter, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID := ""
			if t := r.Context().Value(TenantContextKey{}); t != nil {
				tenantID = t.(string)
			}
			if !limiter.Allow(tenantID) {
				log.Warn("rate limit exceeded", slog.String("tenant_id", tenantID))
				http.Error(w, `{"success":false,"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetClaimsFromContext returns the session claims, or nil before a gate pass
func GetClaimsFromContext(ctx context.Context) *auth.Claims {
	if c := ctx.Value(ClaimsContextKey{}); c != nil {
		return c.(*auth.Claims)
	}
	return nil
}

// GetTenantFromContext returns the tenant id attached by Authenticate
func GetTenantFromContext(ctx context.Context) string {
	if t := ctx.Value(TenantContextKey{}); t != nil {
		return t.(string)
	}
	return ""
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   message,
		"code":    code,
	})
}
