package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"runtime/debug"

	"github.com/mklimuk/crm-pilot/pkg/gateway"
	"github.com/mklimuk/crm-pilot/pkg/records"
	"github.com/mklimuk/crm-pilot/pkg/reminder"
	"github.com/mklimuk/crm-pilot/pkg/session"
	"github.com/mklimuk/crm-pilot/pkg/settings"
	"github.com/rs/zerolog"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: http.StatusText(status), Code: status, Message: message})
}

// writeFailure maps err to a status and reports its message verbatim.
func writeFailure(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), gateway.Message(err))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, settings.ErrNotSignedIn), errors.Is(err, session.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, settings.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, records.ErrUnknownEntity):
		return http.StatusNotFound
	case errors.Is(err, settings.ErrProfilesUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, settings.ErrPasswordTooShort),
		errors.Is(err, settings.ErrPasswordMismatch),
		errors.Is(err, settings.ErrInvalidRole),
		errors.Is(err, settings.ErrEmailRequired),
		errors.Is(err, settings.ErrConfirmationRequired),
		errors.Is(err, records.ErrConfirmationRequired),
		errors.Is(err, records.ErrMissingID),
		errors.Is(err, reminder.ErrInvalidSnooze):
		return http.StatusBadRequest
	}
	var gwErr *gateway.Error
	if errors.As(err, &gwErr) {
		if gwErr.Status >= 400 && gwErr.Status < 500 {
			return gwErr.Status
		}
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// recovery turns handler panics into 500 responses.
func recovery(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.Error().
						Interface("panic", rec).
						Str("method", r.Method).
						Str("url", r.URL.String()).
						Bytes("stack", debug.Stack()).
						Msg("panic recovered")
					writeError(w, http.StatusInternalServerError, "")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
