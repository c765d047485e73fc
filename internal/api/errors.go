package api

import (
	"errors"
	"net/http"

	"dfc-rewriter/internal/registry"
	"dfc-rewriter/internal/sqlrewrite"
)

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	var validation *registry.ValidationError
	var parse *sqlrewrite.ParseError
	var internal *sqlrewrite.InternalError

	switch {
	case errors.Is(err, registry.ErrPolicyNotFound):
		return http.StatusNotFound
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &parse):
		return http.StatusBadRequest
	case errors.As(err, &internal):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{
		"code":    status,
		"message": err.Error(),
	})
}
