package httpserver

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"remind/internal/config"
	"remind/internal/jobqueue"
)

// LoopStatus is the view of the dispatch loop exposed on /v1/status.
type LoopStatus interface {
	IsRunning() bool
	Skipped() int64
}

// Admin serves the scheduler's runtime surface: effective tunables and
// loop/queue status.
type Admin struct {
	Runtime     *config.Runtime
	Loop        LoopStatus
	Concurrency func() int
	Queues      []*jobqueue.Queue
}

func (a *Admin) Register(r *mux.Router) {
	r.HandleFunc("/v1/config", a.handleGetConfig).Methods(http.MethodGet)
	r.HandleFunc("/v1/config", a.handlePutConfig).Methods(http.MethodPut)
	r.HandleFunc("/v1/status", a.handleStatus).Methods(http.MethodGet)
}

func (a *Admin) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.Runtime.Get())
}

// handlePutConfig accepts a partial document; omitted keys keep their current value.
func (a *Admin) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	var decodeErr error
	err := a.Runtime.Update(func(t *config.Tunables) error {
		decodeErr = json.NewDecoder(r.Body).Decode(t)
		return decodeErr
	})
	switch {
	case decodeErr != nil:
		http.Error(w, ErrInvalidJSON, http.StatusBadRequest)
		return
	case err != nil:
		http.Error(w, ErrInvalidInput+": "+err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, a.Runtime.Get())
}

type statusResponse struct {
	Running      bool                `json:"running"`
	SkippedTicks int64               `json:"skippedTicks"`
	Concurrency  int                 `json:"concurrency"`
	Queues       []jobqueue.Snapshot `json:"queues"`
}

func (a *Admin) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Queues: make([]jobqueue.Snapshot, 0, len(a.Queues))}
	if a.Loop != nil {
		resp.Running = a.Loop.IsRunning()
		resp.SkippedTicks = a.Loop.Skipped()
	}
	if a.Concurrency != nil {
		resp.Concurrency = a.Concurrency()
	}
	for _, q := range a.Queues {
		resp.Queues = append(resp.Queues, q.Snapshot())
	}
	writeJSON(w, http.StatusOK, resp)
}
