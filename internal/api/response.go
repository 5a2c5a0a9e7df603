package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"feastline/internal/domain"
)

func jsonResponse(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if data == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, code int, kind, msg string) {
	jsonResponse(w, code, map[string]any{"error": kind, "message": msg})
}

// writeDomainError maps the error taxonomy onto HTTP statuses. Conflicts
// include the order's actual current status so the caller can re-decide.
func writeDomainError(w http.ResponseWriter, err error) {
	if ce, ok := domain.AsConflict(err); ok {
		jsonResponse(w, http.StatusConflict, map[string]any{
			"error":          "conflict",
			"message":        ce.Error(),
			"current_status": ce.Current,
		})
		return
	}
	switch {
	case errors.Is(err, domain.ErrValidation):
		jsonError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrRestaurantNotFound),
		errors.Is(err, domain.ErrCustomerNotFound):
		jsonError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrForbidden):
		jsonError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, domain.ErrUnavailable):
		jsonError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
	default:
		jsonError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
