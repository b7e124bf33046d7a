package httpserver

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"remind/internal/observability"
)

type Server struct {
	Mux *mux.Router
}

// New returns a router with /healthz, request metrics and panic recovery wired.
func New() *Server {
	r := mux.NewRouter()
	r.Use(Recover, Metrics(observability.APIRequests))
	r.HandleFunc("/healthz", Healthz()).Methods(http.MethodGet)
	return &Server{Mux: r}
}

// Handler is the router wrapped in request logging.
func (s *Server) Handler() http.Handler {
	return Logging(s.Mux)
}

// MetricsHandler serves /metrics for the dedicated metrics port.
func MetricsHandler(g prometheus.Gatherer) http.Handler {
	m := http.NewServeMux()
	m.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	return m
}
