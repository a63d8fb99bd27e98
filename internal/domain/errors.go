package domain

import "fmt"

// Stable error codes surfaced in the API response envelope.
const (
	CodeMissingKey           = "MISSING_KEY"
	CodeInvalidKey           = "INVALID_KEY"
	CodeAccessRevoked        = "ACCESS_REVOKED"
	CodeAccessExpired        = "ACCESS_EXPIRED"
	CodeMissingToken         = "MISSING_TOKEN"
	CodeInvalidToken         = "INVALID_TOKEN"
	CodeInvalidCredentials   = "INVALID_CREDENTIALS"
	CodeNotAuthenticated     = "NOT_AUTHENTICATED"
	CodeForbidden            = "FORBIDDEN"
	CodeNotFound             = "NOT_FOUND"
	CodeValidation           = "VALIDATION"
	CodeCodeGenerationFailed = "CODE_GENERATION_FAILED"
	CodeInternal             = "INTERNAL_ERROR"
)

// Error is a service-level failure carrying a stable code for the API
// envelope. Detail holds the underlying cause for operator diagnosis and is
// only surfaced outside production.
type Error struct {
	Code    string
	Message string
	Detail  string
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// E builds an Error with the given code and message.
func E(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Ef builds an Error with a formatted message.
func Ef(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Internal wraps an unexpected failure, keeping the cause as detail.
func Internal(err error) *Error {
	return &Error{Code: CodeInternal, Message: "internal error", Detail: err.Error()}
}
