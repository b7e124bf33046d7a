package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// DependencyCheck is one named readiness dependency, e.g. "postgres" or "redis".
type DependencyCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type readyResponse struct {
	Status string            `json:"status"`
	Failed map[string]string `json:"failed,omitempty"`
}

func Healthz() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}
}

// Readyz runs every dependency check under one shared timeout and reports
// each failing dependency by name.
func Readyz(timeout time.Duration, deps ...DependencyCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		var failed map[string]string
		for _, dep := range deps {
			if err := dep.Check(ctx); err != nil {
				slog.Warn("readiness check failed", "dependency", dep.Name, "err", err)
				if failed == nil {
					failed = make(map[string]string)
				}
				failed[dep.Name] = err.Error()
			}
		}
		if failed != nil {
			writeJSON(w, http.StatusServiceUnavailable, readyResponse{Status: "not ready", Failed: failed})
			return
		}
		writeJSON(w, http.StatusOK, readyResponse{Status: "ready"})
	}
}
