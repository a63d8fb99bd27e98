package handler

import (
	"log/slog"
	"net/http"

	"github.com/yourorg/valetgate/internal/domain"
	"github.com/yourorg/valetgate/internal/security/auth"
	"github.com/yourorg/valetgate/internal/security/middleware"
	"github.com/yourorg/valetgate/internal/service"
)

// AuthHandler handles login, refresh and account endpoints
type AuthHandler struct {
	auth   *service.AuthService
	rp     *Responder
	logger *slog.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authService *service.AuthService, rp *Responder, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{auth: authService, rp: rp, logger: logger}
}

type userView struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Nickname string `json:"nickname"`
	Phone    string `json:"phone,omitempty"`
	Role     string `json:"role"`
	IsActive bool   `json:"is_active"`
}

func toUserViews(users []*domain.User) []userView {
	views := make([]userView, 0, len(users))
	for _, u := range users {
		views = append(views, userView{
			ID:       u.ID,
			Name:     u.Name,
			Nickname: u.Nickname,
			Phone:    u.Phone,
			Role:     string(u.Role),
			IsActive: u.IsActive,
		})
	}
	return views
}

// Login handles POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Nickname string `json:"nickname"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		h.rp.fail(w, err)
		return
	}

	result, err := h.auth.Login(req.Nickname, req.Password)
	if err != nil {
		h.rp.fail(w, err)
		return
	}
	h.rp.ok(w, http.StatusOK, result)
}

// Refresh handles POST /api/auth/refresh. The presented token may be
// expired; only its signature must verify.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		h.rp.fail(w, domain.E(domain.CodeMissingToken, "missing token"))
		return
	}
	tokenString, err := auth.ExtractToken(authHeader)
	if err != nil {
		h.rp.fail(w, domain.E(domain.CodeInvalidToken, "invalid token"))
		return
	}

	result, err := h.auth.Refresh(tokenString)
	if err != nil {
		h.rp.fail(w, err)
		return
	}
	h.rp.ok(w, http.StatusOK, result)
}

// Register handles POST /api/auth/register (admin only)
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Nickname string `json:"nickname"`
		Password string `json:"password"`
		Phone    string `json:"phone"`
		Role     string `json:"role"`
	}
	if err := decodeJSON(r, &req); err != nil {
		h.rp.fail(w, err)
		return
	}

	user, err := h.auth.Register(req.Name, req.Nickname, req.Password, req.Phone, domain.Role(req.Role))
	if err != nil {
		h.rp.fail(w, err)
		return
	}
	h.rp.ok(w, http.StatusCreated, user)
}

// Me handles GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		h.rp.fail(w, domain.E(domain.CodeNotAuthenticated, "not authenticated"))
		return
	}

	user, err := h.auth.Me(claims.UserID, claims.TenantID)
	if err != nil {
		h.rp.fail(w, err)
		return
	}
	h.rp.ok(w, http.StatusOK, user)
}
