package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/yourorg/valetgate/internal/domain"
	"github.com/yourorg/valetgate/internal/service"
)

// TenantHandler exposes tenant administration
type TenantHandler struct {
	tenants *service.TenantService
	rp      *Responder
	logger  *slog.Logger
}

// NewTenantHandler creates a new tenant handler
func NewTenantHandler(tenants *service.TenantService, rp *Responder, logger *slog.Logger) *TenantHandler {
	return &TenantHandler{tenants: tenants, rp: rp, logger: logger}
}

type tenantView struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Email       string    `json:"email,omitempty"`
	Phone       string    `json:"phone,omitempty"`
	CompanyName string    `json:"company_name,omitempty"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toTenantView(t *domain.Tenant) tenantView {
	return tenantView{
		ID:          t.ID,
		Name:        t.Name,
		Email:       t.Email,
		Phone:       t.Phone,
		CompanyName: t.CompanyName,
		IsActive:    t.IsActive,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

// Create handles POST /api/tenants
func (h *TenantHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		Email       string `json:"email"`
		Phone       string `json:"phone"`
		CompanyName string `json:"company_name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		h.rp.fail(w, err)
		return
	}

	tenant, err := h.tenants.Create(req.Name, req.Email, req.Phone, req.CompanyName)
	if err != nil {
		h.rp.fail(w, err)
		return
	}
	h.rp.ok(w, http.StatusCreated, toTenantView(tenant))
}

// List handles GET /api/tenants
func (h *TenantHandler) List(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.tenants.List()
	if err != nil {
		h.rp.fail(w, err)
		return
	}
	views := make([]tenantView, 0, len(tenants))
	for _, t := range tenants {
		views = append(views, toTenantView(t))
	}
	h.rp.ok(w, http.StatusOK, views)
}

// Get handles GET /api/tenants/{id}
func (h *TenantHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenant, err := h.tenants.Get(r.PathValue("id"))
	if err != nil {
		h.rp.fail(w, err)
		return
	}
	h.rp.ok(w, http.StatusOK, toTenantView(tenant))
}

// Update handles PATCH /api/tenants/{id}
func (h *TenantHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        *string `json:"name"`
		Email       *string `json:"email"`
		Phone       *string `json:"phone"`
		CompanyName *string `json:"company_name"`
		IsActive    *bool   `json:"is_active"`
	}
	if err := decodeJSON(r, &req); err != nil {
		h.rp.fail(w, err)
		return
	}

	tenant, err := h.tenants.Update(r.PathValue("id"), domain.TenantPatch{
		Name:        req.Name,
		Email:       req.Email,
		Phone:       req.Phone,
		CompanyName: req.CompanyName,
		IsActive:    req.IsActive,
	})
	if err != nil {
		h.rp.fail(w, err)
		return
	}
	h.rp.ok(w, http.StatusOK, toTenantView(tenant))
}

// Delete handles DELETE /api/tenants/{id}. Refused while the tenant still
// owns active keys.
func (h *TenantHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.tenants.Delete(r.PathValue("id")); err != nil {
		h.rp.fail(w, err)
		return
	}
	h.logger.Info("tenant deleted", slog.String("tenant_id", r.PathValue("id")))
	h.rp.ok(w, http.StatusOK, map[string]string{"id": r.PathValue("id")})
}
