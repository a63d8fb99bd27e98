package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/yourorg/valetgate/internal/domain"
)

// envelope is the common response shape: { success, data?, error?, code? }
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

var statusByCode = map[string]int{
	domain.CodeMissingKey:           http.StatusBadRequest,
	domain.CodeValidation:           http.StatusBadRequest,
	domain.CodeInvalidKey:           http.StatusUnauthorized,
	domain.CodeAccessRevoked:        http.StatusUnauthorized,
	domain.CodeAccessExpired:        http.StatusUnauthorized,
	domain.CodeMissingToken:         http.StatusUnauthorized,
	domain.CodeInvalidToken:         http.StatusUnauthorized,
	domain.CodeInvalidCredentials:   http.StatusUnauthorized,
	domain.CodeNotAuthenticated:     http.StatusUnauthorized,
	domain.CodeForbidden:            http.StatusForbidden,
	domain.CodeNotFound:             http.StatusNotFound,
	domain.CodeCodeGenerationFailed: http.StatusInternalServerError,
	domain.CodeInternal:             http.StatusInternalServerError,
}

// Responder writes the response envelope. In production the internal error
// detail is dropped from the body; it is always logged.
type Responder struct {
	logger     *slog.Logger
	production bool
}

func NewResponder(logger *slog.Logger, production bool) *Responder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Responder{logger: logger, production: production}
}

func (rp *Responder) ok(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Success: true, Data: data}); err != nil {
		rp.logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

func (rp *Responder) fail(w http.ResponseWriter, err error) {
	var de *domain.Error
	if !errors.As(err, &de) {
		de = domain.Internal(err)
	}

	status, known := statusByCode[de.Code]
	if !known {
		status = http.StatusInternalServerError
	}
	if status >= http.StatusInternalServerError {
		rp.logger.Error("request failed",
			slog.String("code", de.Code),
			slog.String("error", de.Message),
			slog.String("detail", de.Detail),
		)
	}

	message := de.Message
	if de.Detail != "" && !rp.production {
		message = message + ": " + de.Detail
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(envelope{Success: false, Error: message, Code: de.Code}); encErr != nil {
		rp.logger.Error("failed to encode error response", slog.String("error", encErr.Error()))
	}
}

func (rp *Responder) badRequest(w http.ResponseWriter, message string) {
	rp.fail(w, domain.E(domain.CodeValidation, message))
}

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return domain.E(domain.CodeValidation, "invalid request body")
	}
	return nil
}
