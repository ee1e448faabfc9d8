/*
errors.go - Error to HTTP status mapping

STATUS CODES:
  400  generic.ErrValidation, malformed JSON, failed struct validation
  404  generic.ErrNotFound
  409  generic.ErrConflict
  422  generic.ErrInsufficientBalance
  503  generic.ErrTransient
  500  generic.ErrInvariantViolation and anything unrecognized

BODY:
  {"error": "<message>", "code": "<machine code>", "details": "<cause>"}

SEE ALSO:
  - generic/errors.go: Error taxonomy
*/
package api

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/generic"
)

// Error codes returned in ErrorResponse.Code.
const (
	CodeInvalidInput        = "INVALID_INPUT"
	CodeNotFound            = "NOT_FOUND"
	CodeConflict            = "CONFLICT"
	CodeInsufficientBalance = "INSUFFICIENT_BALANCE"
	CodeUnavailable         = "UNAVAILABLE"
	CodeInternal            = "INTERNAL"
)

// newValidator reports field names as they appear in JSON.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// mapValidationError turns the first failed struct tag into a
// *generic.ValidationError.
func mapValidationError(err error) error {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return &generic.ValidationError{Message: err.Error()}
	}
	e := errs[0]
	switch e.Tag() {
	case "required":
		return &generic.ValidationError{Field: e.Field(), Message: "is required"}
	case "max":
		return &generic.ValidationError{Field: e.Field(), Message: "must be at most " + e.Param() + " characters"}
	default:
		return &generic.ValidationError{Field: e.Field(), Message: fmt.Sprintf("failed %q check", e.Tag())}
	}
}

// statusFor classifies err.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, generic.ErrValidation):
		return http.StatusBadRequest, CodeInvalidInput
	case errors.Is(err, generic.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, generic.ErrConflict):
		return http.StatusConflict, CodeConflict
	case errors.Is(err, generic.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, CodeInsufficientBalance
	case errors.Is(err, generic.ErrTransient):
		return http.StatusServiceUnavailable, CodeUnavailable
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// writeServiceError maps a service error to a response. Server-side
// failures are logged; client errors are not.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, message string, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(message,
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeError(w, status, code, message, err)
}

func writeError(w http.ResponseWriter, status int, code, message string, err error) {
	resp := ErrorResponse{Error: message, Code: code}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
