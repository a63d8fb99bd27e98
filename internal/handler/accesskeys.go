package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/yourorg/valetgate/internal/domain"
	"github.com/yourorg/valetgate/internal/security/middleware"
	"github.com/yourorg/valetgate/internal/service"
)

// AccessKeyHandler exposes the admin surface for issuing and managing keys
type AccessKeyHandler struct {
	keys   *service.AccessKeyService
	rp     *Responder
	logger *slog.Logger
}

// NewAccessKeyHandler creates a new access key handler
func NewAccessKeyHandler(keys *service.AccessKeyService, rp *Responder, logger *slog.Logger) *AccessKeyHandler {
	return &AccessKeyHandler{keys: keys, rp: rp, logger: logger}
}

// keyView is the API shape of an access key
type keyView struct {
	ID              string     `json:"id"`
	Code            string     `json:"code"`
	TenantID        string     `json:"tenant_id"`
	ClientName      string     `json:"client_name"`
	ClientEmail     string     `json:"client_email,omitempty"`
	ClientPhone     string     `json:"client_phone,omitempty"`
	CompanyName     string     `json:"company_name,omitempty"`
	Status          string     `json:"status"`
	ExpiresAt       time.Time  `json:"expires_at"`
	RevokedAt       *time.Time `json:"revoked_at,omitempty"`
	RevokedReason   string     `json:"revoked_reason,omitempty"`
	LastValidatedAt *time.Time `json:"last_validated_at,omitempty"`
	DeviceID        string     `json:"device_id,omitempty"`
	Observations    string     `json:"observations,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func toKeyView(k *domain.AccessKey) keyView {
	return keyView{
		ID:              k.ID,
		Code:            k.Code,
		TenantID:        k.TenantID,
		ClientName:      k.ClientName,
		ClientEmail:     k.ClientEmail,
		ClientPhone:     k.ClientPhone,
		CompanyName:     k.CompanyName,
		Status:          string(k.Status),
		ExpiresAt:       k.ExpiresAt,
		RevokedAt:       k.RevokedAt,
		RevokedReason:   k.RevokedReason,
		LastValidatedAt: k.LastValidatedAt,
		DeviceID:        k.DeviceID,
		Observations:    k.Observations,
		CreatedAt:       k.CreatedAt,
		UpdatedAt:       k.UpdatedAt,
	}
}

func toKeyViews(keys []*domain.AccessKey) []keyView {
	views := make([]keyView, 0, len(keys))
	for _, k := range keys {
		views = append(views, toKeyView(k))
	}
	return views
}

func actorID(r *http.Request) string {
	if claims := middleware.GetClaimsFromContext(r.Context()); claims != nil {
		return claims.UserID
	}
	return ""
}

// Generate handles POST /api/access-keys/generate
func (h *AccessKeyHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TenantID     string `json:"tenant_id"`
		ClientName   string `json:"client_name"`
		ClientEmail  string `json:"client_email"`
		ClientPhone  string `json:"client_phone"`
		CompanyName  string `json:"company_name"`
		ExpiresAt    string `json:"expires_at"`
		Observations string `json:"observations"`
	}
	if err := decodeJSON(r, &req); err != nil {
		h.rp.fail(w, err)
		return
	}

	var expiresAt time.Time
	if req.ExpiresAt != "" {
		parsed, err := parseTimestamp(req.ExpiresAt)
		if err != nil {
			h.rp.badRequest(w, "expires_at must be RFC 3339 or YYYY-MM-DD")
			return
		}
		expiresAt = parsed
	}

	key, err := h.keys.Create(r.Context(), actorID(r), service.CreateKeyInput{
		TenantID:     req.TenantID,
		ClientName:   req.ClientName,
		ClientEmail:  req.ClientEmail,
		ClientPhone:  req.ClientPhone,
		CompanyName:  req.CompanyName,
		ExpiresAt:    expiresAt,
		Observations: req.Observations,
	})
	if err != nil {
		h.rp.fail(w, err)
		return
	}
	h.rp.ok(w, http.StatusCreated, toKeyView(key))
}

// List handles GET /api/access-keys
func (h *AccessKeyHandler) List(w http.ResponseWriter, r *http.Request) {
	keys, err := h.keys.List()
	if err != nil {
		h.rp.fail(w, err)
		return
	}
	h.rp.ok(w, http.StatusOK, toKeyViews(keys))
}

// Get handles GET /api/access-keys/{id}
func (h *AccessKeyHandler) Get(w http.ResponseWriter, r *http.Request) {
	key, err := h.keys.Get(r.PathValue("id"))
	if err != nil {
		h.rp.fail(w, err)
		return
	}
	h.rp.ok(w, http.StatusOK, toKeyView(key))
}

// Update handles PATCH /api/access-keys/{id}. Only the provided fields
// change; the owning tenant cannot be reassigned.
func (h *AccessKeyHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClientName   *string `json:"client_name"`
		ClientEmail  *string `json:"client_email"`
		ClientPhone  *string `json:"client_phone"`
		CompanyName  *string `json:"company_name"`
		ExpiresAt    *string `json:"expires_at"`
		Status       *string `json:"status"`
		Observations *string `json:"observations"`
		TenantID     *string `json:"tenant_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		h.rp.fail(w, err)
		return
	}
	if req.TenantID != nil {
		h.rp.badRequest(w, "the owning tenant of a key cannot be changed")
		return
	}

	patch := domain.AccessKeyPatch{
		ClientName:   req.ClientName,
		ClientEmail:  req.ClientEmail,
		ClientPhone:  req.ClientPhone,
		CompanyName:  req.CompanyName,
		Observations: req.Observations,
	}
	if req.ExpiresAt != nil {
		parsed, err := parseTimestamp(*req.ExpiresAt)
		if err != nil {
			h.rp.badRequest(w, "expires_at must be RFC 3339 or YYYY-MM-DD")
			return
		}
		patch.ExpiresAt = &parsed
	}
	if req.Status != nil {
		status := domain.KeyStatus(*req.Status)
		if status != domain.KeyStatusActive && status != domain.KeyStatusInactive {
			h.rp.badRequest(w, "status must be active or inactive")
			return
		}
		patch.Status = &status
	}

	key, err := h.keys.Update(r.PathValue("id"), patch)
	if err != nil {
		h.rp.fail(w, err)
		return
	}
	h.rp.ok(w, http.StatusOK, toKeyView(key))
}

// Delete handles DELETE /api/access-keys/{id}
func (h *AccessKeyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.keys.Delete(r.PathValue("id")); err != nil {
		h.rp.fail(w, err)
		return
	}
	h.rp.ok(w, http.StatusOK, map[string]string{"id": r.PathValue("id")})
}

// Revoke handles PUT /api/access-keys/{id}/revoke
func (h *AccessKeyHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r, &req); err != nil {
		h.rp.fail(w, err)
		return
	}
	if req.Reason == "" {
		h.rp.badRequest(w, "reason is required")
		return
	}

	key, err := h.keys.Revoke(r.Context(), actorID(r), r.PathValue("id"), req.Reason)
	if err != nil {
		h.rp.fail(w, err)
		return
	}
	h.rp.ok(w, http.StatusOK, toKeyView(key))
}

// Renew handles PUT /api/access-keys/{id}/renew
func (h *AccessKeyHandler) Renew(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Months int `json:"months"`
	}
	if err := decodeJSON(r, &req); err != nil {
		h.rp.fail(w, err)
		return
	}

	key, err := h.keys.Renew(r.Context(), actorID(r), r.PathValue("id"), req.Months)
	if err != nil {
		h.rp.fail(w, err)
		return
	}
	h.rp.ok(w, http.StatusOK, toKeyView(key))
}

// SetStatus handles PUT /api/access-keys/{id}/status
func (h *AccessKeyHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if err := decodeJSON(r, &req); err != nil {
		h.rp.fail(w, err)
		return
	}

	key, err := h.keys.SetStatus(r.PathValue("id"), domain.KeyStatus(req.Status))
	if err != nil {
		h.rp.fail(w, err)
		return
	}
	h.rp.ok(w, http.StatusOK, toKeyView(key))
}

// BindUser handles POST /api/access-keys/{id}/bind-user/{userId}
func (h *AccessKeyHandler) BindUser(w http.ResponseWriter, r *http.Request) {
	keyID, userID := r.PathValue("id"), r.PathValue("userId")
	if err := h.keys.BindUser(keyID, userID); err != nil {
		h.rp.fail(w, err)
		return
	}
	h.logger.Info("user bound", slog.String("key_id", keyID), slog.String("user_id", userID))
	h.rp.ok(w, http.StatusOK, map[string]string{"key_id": keyID, "user_id": userID})
}

// UnbindUser handles DELETE /api/access-keys/{id}/unbind-user/{userId}
func (h *AccessKeyHandler) UnbindUser(w http.ResponseWriter, r *http.Request) {
	keyID, userID := r.PathValue("id"), r.PathValue("userId")
	if err := h.keys.UnbindUser(keyID, userID); err != nil {
		h.rp.fail(w, err)
		return
	}
	h.rp.ok(w, http.StatusOK, map[string]string{"key_id": keyID, "user_id": userID})
}

// Users handles GET /api/access-keys/{id}/users
func (h *AccessKeyHandler) Users(w http.ResponseWriter, r *http.Request) {
	users, err := h.keys.BoundUsers(r.PathValue("id"))
	if err != nil {
		h.rp.fail(w, err)
		return
	}
	h.rp.ok(w, http.StatusOK, toUserViews(users))
}

// AvailableUsers handles GET /api/access-keys/{id}/available-users
func (h *AccessKeyHandler) AvailableUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.keys.AvailableUsers(r.PathValue("id"))
	if err != nil {
		h.rp.fail(w, err)
		return
	}
	h.rp.ok(w, http.StatusOK, toUserViews(users))
}

// Logs handles GET /api/access-keys/{id}/logs?limit=50
func (h *AccessKeyHandler) Logs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			h.rp.badRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	entries, err := h.keys.Logs(r.PathValue("id"), limit)
	if err != nil {
		h.rp.fail(w, err)
		return
	}

	type logView struct {
		ID          string    `json:"id"`
		AccessKeyID string    `json:"access_key_id"`
		DeviceID    string    `json:"device_id,omitempty"`
		Outcome     string    `json:"outcome"`
		AppVersion  string    `json:"app_version,omitempty"`
		OSVersion   string    `json:"os_version,omitempty"`
		CreatedAt   time.Time `json:"created_at"`
	}
	views := make([]logView, 0, len(entries))
	for _, e := range entries {
		views = append(views, logView{
			ID:          e.ID,
			AccessKeyID: e.AccessKeyID,
			DeviceID:    e.DeviceID,
			Outcome:     string(e.Outcome),
			AppVersion:  e.AppVersion,
			OSVersion:   e.OSVersion,
			CreatedAt:   e.CreatedAt,
		})
	}
	h.rp.ok(w, http.StatusOK, views)
}

// parseTimestamp accepts RFC 3339 or a plain date
func parseTimestamp(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", value)
}
