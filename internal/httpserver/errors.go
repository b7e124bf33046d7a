package httpserver

import (
	"errors"
	"log/slog"
	"net/http"

	"remind/internal/domain"
)

const (
	ErrInvalidJSON  = "invalid json"
	ErrMissingID    = "missing id"
	ErrDependency   = "dependency error"
	ErrBadIndex     = "index must be a positive integer"
	ErrBadLimit     = "limit must be a positive integer"
	ErrInvalidInput = "invalid tunables"
)

// writeError maps domain errors to status codes. Anything unrecognised is a
// dependency failure and is logged with op.
func writeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, domain.ErrMissingFields),
		errors.Is(err, domain.ErrInvalidWindow),
		errors.Is(err, domain.ErrInvalidIndex):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrNotPending),
		errors.Is(err, domain.ErrNoDeletionCandidates):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		slog.Error(op+" failed", "err", err)
		http.Error(w, ErrDependency, http.StatusBadGateway)
	}
}
