package handler

import (
	"log/slog"
	"net/http"

	"github.com/yourorg/valetgate/internal/service"
)

// ValidateRequest is the activation payload sent by the mobile client
type ValidateRequest struct {
	Code       string `json:"code"`
	DeviceID   string `json:"device_id"`
	AppVersion string `json:"app_version"`
	OSVersion  string `json:"os_version"`
}

// ValidateHandler handles unauthenticated access key validation
type ValidateHandler struct {
	keys   *service.AccessKeyService
	rp     *Responder
	logger *slog.Logger
}

// NewValidateHandler creates a new validate handler
func NewValidateHandler(keys *service.AccessKeyService, rp *Responder, logger *slog.Logger) *ValidateHandler {
	return &ValidateHandler{keys: keys, rp: rp, logger: logger}
}

// ServeHTTP handles POST /api/access-keys/validate
func (h *ValidateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if err := decodeJSON(r, &req); err != nil {
		h.rp.fail(w, err)
		return
	}

	result, err := h.keys.Validate(req.Code, req.DeviceID, req.AppVersion, req.OSVersion)
	if err != nil {
		h.logger.Info("key validation rejected",
			slog.String("device_id", req.DeviceID),
			slog.String("error", err.Error()),
		)
		h.rp.fail(w, err)
		return
	}

	h.rp.ok(w, http.StatusOK, result)
}
