package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/facilityops/inspection-core/internal/auth"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`

	// Details carries the wrapped error chain in development mode only.
	Details string `json:"details,omitempty"`
}

// Stable machine-readable error codes.
const (
	ErrCodeNoToken                = "NO_TOKEN"
	ErrCodeInvalidToken           = "INVALID_TOKEN"
	ErrCodePrincipalNotFound      = "PRINCIPAL_NOT_FOUND"
	ErrCodeRegistrationIncomplete = "REGISTRATION_INCOMPLETE"
	ErrCodePasswordChangeRequired = "PASSWORD_CHANGE_REQUIRED"
	ErrCodeNoPrincipal            = "NO_PRINCIPAL"
	ErrCodeAccessDenied           = "ACCESS_DENIED"
	ErrCodeInternal               = "INTERNAL_ERROR"

	ErrCodeBadRequest         = "BAD_REQUEST"
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
)

// errorMapping binds a sentinel error to its HTTP status and code.
type errorMapping struct {
	target error
	status int
	code   string
}

// errorMappings is checked in order with errors.Is; the first match wins.
var errorMappings = []errorMapping{
	{auth.ErrNoToken, http.StatusUnauthorized, ErrCodeNoToken},
	{auth.ErrTokenInvalid, http.StatusUnauthorized, ErrCodeInvalidToken},
	{auth.ErrPrincipalNotFound, http.StatusNotFound, ErrCodePrincipalNotFound},
	{auth.ErrRegistrationIncomplete, http.StatusForbidden, ErrCodeRegistrationIncomplete},
	{auth.ErrPasswordChangeRequired, http.StatusForbidden, ErrCodePasswordChangeRequired},
	{auth.ErrNoPrincipal, http.StatusForbidden, ErrCodeNoPrincipal},
	{auth.ErrAccessDenied, http.StatusForbidden, ErrCodeAccessDenied},
}

// classifyError returns the status, code and public message for err.
// Unrecognised errors are 500 INTERNAL_ERROR with a generic message.
func classifyError(err error) (status int, code, message string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status, m.code, m.target.Error()
		}
	}
	return http.StatusInternalServerError, ErrCodeInternal, "internal server error"
}

// respondError renders err through the central mapping. The full error
// chain is attached only in development mode.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := classifyError(err)

	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"code", code,
			"error", err,
			"path", r.URL.Path,
			"request_id", requestIDFromContext(r.Context()),
		)
	} else {
		s.logger.Debug("request rejected",
			"code", code,
			"error", err,
			"path", r.URL.Path,
			"request_id", requestIDFromContext(r.Context()),
		)
	}

	body := Error{Status: status, Code: code, Message: message}
	if s.devMode {
		body.Details = err.Error()
	}
	writeJSON(w, status, body)
}

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeValidationError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnprocessableEntity, ErrCodeValidation, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func writeConflict(w http.ResponseWriter, message string) {
	writeError(w, http.StatusConflict, ErrCodeConflict, message)
}

func writeInvalidCredentials(w http.ResponseWriter) {
	writeError(w, http.StatusUnauthorized, ErrCodeInvalidCredentials, "invalid credentials")
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}
