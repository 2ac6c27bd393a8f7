package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/hasanmaki/mkit-idv-next/internal/domain"
	"github.com/hasanmaki/mkit-idv-next/internal/observability"
)

// errorEnvelope is the §6 error response shape.
type errorEnvelope struct {
	Success   bool           `json:"success"`
	Error     string         `json:"error"`
	ErrorCode string         `json:"error_code"`
	Message   string         `json:"message"`
	TraceID   string         `json:"trace_id"`
	Datetime  string         `json:"datetime"`
	Context   map[string]any `json:"context,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError classifies err by its domain.AppError kind (or treats it as
// Unexpected when it isn't one) and writes the §6/§7 error envelope.
func writeError(w http.ResponseWriter, r *http.Request, err error, debug bool) {
	traceID := observability.TraceIDFromContext(r.Context())

	var appErr *domain.AppError
	if !errors.As(err, &appErr) {
		appErr = domain.WrapUnexpected(err, traceID)
	}
	if appErr.TraceID == "" {
		appErr.TraceID = traceID
	}

	status, className := classify(appErr)
	env := errorEnvelope{
		Success:   false,
		Error:     className,
		ErrorCode: appErr.Code,
		Message:   appErr.Message,
		TraceID:   appErr.TraceID,
		Datetime:  time.Now().UTC().Format(time.RFC3339),
	}
	if debug {
		env.Context = appErr.Context
	}
	writeJSON(w, status, env)
}

func classify(appErr *domain.AppError) (status int, className string) {
	switch {
	case errors.Is(appErr.Kind, domain.ErrNotFound):
		return http.StatusNotFound, "NotFound"
	case errors.Is(appErr.Kind, domain.ErrValidation):
		return http.StatusBadRequest, "Validation"
	case errors.Is(appErr.Kind, domain.ErrExternalService):
		return http.StatusBadGateway, "ExternalServiceError"
	case errors.Is(appErr.Kind, domain.ErrExternalTimeout):
		return http.StatusGatewayTimeout, "ExternalServiceTimeout"
	case errors.Is(appErr.Kind, domain.ErrDatabaseUnavailable):
		return http.StatusServiceUnavailable, "DatabaseUnavailable"
	case errors.Is(appErr.Kind, domain.ErrDatabaseInternal):
		return http.StatusInternalServerError, "DatabaseInternal"
	default:
		return http.StatusInternalServerError, "Unexpected"
	}
}

type successEnvelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, successEnvelope{Success: true, Data: data})
}
