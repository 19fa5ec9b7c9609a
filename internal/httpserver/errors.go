package httpserver

import (
	"net/http"

	"github.com/nimbusid/core/internal/apierr"
)

// statusForKind maps a business error kind to the HTTP status from spec.md §7.
func statusForKind(k apierr.Kind) int {
	switch k {
	case apierr.KindUnauthenticated:
		return http.StatusUnauthorized
	case apierr.KindAccessDenied:
		return http.StatusForbidden
	case apierr.KindValidation:
		return http.StatusUnprocessableEntity
	case apierr.KindNotFound:
		return http.StatusNotFound
	case apierr.KindConflict:
		return http.StatusConflict
	case apierr.KindRateLimited:
		return http.StatusTooManyRequests
	case apierr.KindPolicyMalformed:
		return http.StatusBadRequest
	case apierr.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteError is the single HTTP-boundary mapping site for business errors
// (spec.md §7 "Propagation policy"). Unrecognised errors collapse to 500
// without leaking internal detail.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	if bizErr, ok := apierr.As(err); ok {
		body := ErrorBody{Error: string(bizErr.Kind), Message: bizErr.Message}
		if r != nil {
			body.RequestID = RequestIDFromContext(r.Context())
		}
		status := statusForKind(bizErr.Kind)
		if bizErr.Kind == apierr.KindValidation && bizErr.Details != nil {
			Respond(w, status, map[string]any{
				"error":      body.Error,
				"details":    bizErr.Details,
				"request_id": body.RequestID,
			})
			return
		}
		Respond(w, status, body)
		return
	}

	RespondError(w, r, http.StatusInternalServerError, "internal_error", "an internal error occurred")
}
