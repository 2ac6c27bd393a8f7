package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/hasanmaki/mkit-idv-next/internal/domain"
	"github.com/hasanmaki/mkit-idv-next/internal/observability"
)

var validate = validator.New()

// decodeAndValidate JSON-decodes r.Body into dst and runs struct tag
// validation, returning a domain.AppError ready for writeError on failure.
func decodeAndValidate(r *http.Request, dst any) error {
	traceID := observability.TraceIDFromContext(r.Context())
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return domain.NewValidationError("request_body_invalid", fmt.Sprintf("invalid request body: %v", err), traceID)
	}
	if err := validate.Struct(dst); err != nil {
		return domain.NewValidationError("request_body_invalid", humanizeValidationError(err), traceID)
	}
	return nil
}

func humanizeValidationError(err error) string {
	var fieldErrs validator.ValidationErrors
	if !asValidationErrors(err, &fieldErrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		parts = append(parts, fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	ve, ok := err.(validator.ValidationErrors)
	if !ok {
		return false
	}
	*target = ve
	return true
}
