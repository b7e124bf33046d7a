package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"

	"remind/internal/config"
	"remind/internal/httpserver"
	"remind/internal/logging"
)

// Outcome tokens accepted in MOCK_OUTCOMES.
const (
	outcomeOK          = "ok"
	outcomeRejected    = "rejected"
	outcomeRateLimit   = "rate_limit"
	outcomeServerError = "server_error"
	outcomeTimeout     = "timeout"
)

type sendResponse struct {
	ID      string `json:"id,omitempty"`
	Status  string `json:"status"`
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

type server struct {
	cfg      config.MockGatewayConfig
	outcomes []string
	delay    time.Duration

	seq   atomic.Uint64
	ids   atomic.Uint64
	rngMu sync.Mutex
	rng   *rand.Rand
}

func main() {
	cfg := config.LoadMockGateway()
	logging.Init("mock-gateway", cfg.LogFormat, "info")

	s := newServer(cfg)
	r := mux.NewRouter()
	s.register(r)
	r.HandleFunc("/healthz", httpserver.Healthz()).Methods(http.MethodGet)

	slog.Info("mock gateway listening", "port", cfg.Port, "mode", cfg.OutcomeMode, "outcomes", s.outcomes)
	if err := http.ListenAndServe(":"+cfg.Port, httpserver.Logging(r)); err != nil {
		slog.Error("mock gateway server failed", "err", err)
		os.Exit(1)
	}
}

func newServer(cfg config.MockGatewayConfig) *server {
	cfg.OutcomeMode = strings.ToLower(strings.TrimSpace(cfg.OutcomeMode))
	outcomes := parseCSV(cfg.OutcomesRaw)
	if len(outcomes) == 0 {
		outcomes = []string{outcomeOK}
	}
	return &server{
		cfg:      cfg,
		outcomes: outcomes,
		delay:    time.Duration(cfg.DelayMs) * time.Millisecond,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *server) register(r *mux.Router) {
	r.HandleFunc("/v1/accounts/{account}/messages", s.handleSend).Methods(http.MethodPost)
}

func (s *server) handleSend(w http.ResponseWriter, r *http.Request) {
	if s.cfg.AuthToken != "" {
		user, pass, ok := r.BasicAuth()
		if !ok || user != s.cfg.AccountSID || pass != s.cfg.AuthToken {
			writeJSON(w, http.StatusUnauthorized, sendResponse{Status: "failed", Code: 401, Message: "authentication error"})
			return
		}
	}
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, sendResponse{Status: "failed", Code: 400, Message: "invalid form data"})
		return
	}
	if r.PostForm.Get("To") == "" || r.PostForm.Get("Body") == "" {
		writeJSON(w, http.StatusBadRequest, sendResponse{Status: "failed", Code: 400, Message: "missing To or Body"})
		return
	}

	if !sleepCtx(r.Context(), s.delay) {
		return
	}

	switch outcome := s.nextOutcome(); outcome {
	case outcomeOK:
		id := fmt.Sprintf("gw_%06d", s.ids.Add(1))
		slog.Info("mock gateway accepted", "id", id, "to", r.PostForm.Get("To"))
		writeJSON(w, http.StatusCreated, sendResponse{ID: id, Status: "queued"})
	case outcomeRejected:
		writeJSON(w, http.StatusBadRequest, sendResponse{Status: "failed", Code: 400, Message: "recipient rejected"})
	case outcomeRateLimit:
		writeJSON(w, http.StatusTooManyRequests, sendResponse{Status: "failed", Code: 429, Message: "rate limited"})
	case outcomeTimeout:
		// hold the request until the caller gives up
		<-r.Context().Done()
	default:
		writeJSON(w, http.StatusInternalServerError, sendResponse{Status: "failed", Code: 500, Message: "mock error: " + outcome})
	}
}

func (s *server) nextOutcome() string {
	switch s.cfg.OutcomeMode {
	case "sequence":
		i := s.seq.Add(1) - 1
		return s.outcomes[int(i%uint64(len(s.outcomes)))]
	case "random":
		s.rngMu.Lock()
		defer s.rngMu.Unlock()
		if s.rng.Float64() < s.cfg.SuccessRate {
			return outcomeOK
		}
		return s.outcomes[s.rng.Intn(len(s.outcomes))]
	default:
		return s.outcomes[0]
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func parseCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
