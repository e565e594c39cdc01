// Package httputil implements the common success/error envelope every
// route in spec §6 uses, plus the §7 error-kind-to-status mapping.
package httputil

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/openclaw/wa-gateway/internal/errors"
)

func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// envelope is the common response shape: {status, data|message}.
type envelope struct {
	Status  string `json:"status"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// WriteData writes a success envelope carrying a data payload.
func WriteData(w http.ResponseWriter, status int, data any) {
	WriteJSON(w, status, envelope{Status: "success", Data: data})
}

// WriteMessage writes a success envelope carrying only a message.
func WriteMessage(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, envelope{Status: "success", Message: message})
}

// WriteError writes an AppError as an HTTP response with the status code
// from the §7 mapping. Unknown errors are wrapped as internal errors so a
// caller never leaks an unstructured message.
func WriteError(w http.ResponseWriter, err error) {
	appErr, ok := apperrors.AsAppError(err)
	if !ok {
		appErr = apperrors.Internal("Internal server error")
	}

	WriteJSON(w, statusFromCode(appErr.Code), envelope{
		Status:  "error",
		Message: appErr.Message,
	})
}

// statusFromCode maps an ErrorCode to the HTTP status in spec §7.
func statusFromCode(code apperrors.ErrorCode) int {
	switch code {
	case apperrors.ErrCodeValidation:
		return http.StatusBadRequest
	case apperrors.ErrCodeAuthRejected, apperrors.ErrCodeKeyNotRegistered:
		return http.StatusForbidden
	case apperrors.ErrCodeSessionNotFound, apperrors.ErrCodeApiKeyNotFound:
		return http.StatusNotFound
	case apperrors.ErrCodeSessionLoggedOut:
		return http.StatusConflict
	case apperrors.ErrCodeSessionLocked:
		return http.StatusLocked
	case apperrors.ErrCodeNotConnected:
		return http.StatusServiceUnavailable
	case apperrors.ErrCodeKeyExhaustion, apperrors.ErrCodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
