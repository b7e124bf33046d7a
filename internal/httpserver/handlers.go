package httpserver

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"remind/internal/domain"
	"remind/internal/service"
)

type API struct {
	Svc *service.ScheduleService
}

func (a *API) Register(r *mux.Router) {
	r.HandleFunc("/v1/schedules", a.handleCreate).Methods(http.MethodPost)
	r.HandleFunc("/v1/schedules/{id}", a.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/v1/schedules/{id}", a.handleReschedule).Methods(http.MethodPatch)
	r.HandleFunc("/v1/schedules/{id}", a.handleDelete).Methods(http.MethodDelete)
	r.HandleFunc("/v1/schedules/{id}/duplicate", a.handleDuplicate).Methods(http.MethodPost)
	r.HandleFunc("/v1/recipients/{recipient}/schedules", a.handleListUpcoming).Methods(http.MethodGet)
	r.HandleFunc("/v1/recipients/{recipient}/deletion", a.handleListForDeletion).Methods(http.MethodPost)
	r.HandleFunc("/v1/recipients/{recipient}/deletion/{index}", a.handleDeleteByIndex).Methods(http.MethodDelete)
	r.HandleFunc("/v1/stats", a.handleStats).Methods(http.MethodGet)
}

func (a *API) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req domain.NewScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, ErrInvalidJSON, http.StatusBadRequest)
		return
	}
	m, err := a.Svc.InsertSchedule(r.Context(), req)
	if err != nil {
		writeError(w, "insert schedule", err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (a *API) handleGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	m, err := a.Svc.Get(r.Context(), id)
	if err != nil {
		writeError(w, "get schedule", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (a *API) handleReschedule(w http.ResponseWriter, r *http.Request) {
	var req domain.RescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, ErrInvalidJSON, http.StatusBadRequest)
		return
	}
	m, err := a.Svc.Reschedule(r.Context(), mux.Vars(r)["id"], req)
	if err != nil {
		writeError(w, "reschedule", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (a *API) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := a.Svc.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, "delete schedule", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleDuplicate(w http.ResponseWriter, r *http.Request) {
	m, err := a.Svc.Duplicate(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, "duplicate schedule", err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (a *API) handleListUpcoming(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, ErrBadLimit, http.StatusBadRequest)
			return
		}
		limit = n
	}
	list, err := a.Svc.ListUpcoming(r.Context(), mux.Vars(r)["recipient"], limit)
	if err != nil {
		writeError(w, "list upcoming", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"schedules": list})
}

type deletionCandidate struct {
	Index         int       `json:"index"`
	ID            string    `json:"id"`
	Body          string    `json:"body"`
	ScheduledTime time.Time `json:"scheduledTime"`
}

func (a *API) handleListForDeletion(w http.ResponseWriter, r *http.Request) {
	list, err := a.Svc.ListForDeletion(r.Context(), mux.Vars(r)["recipient"])
	if err != nil {
		writeError(w, "list for deletion", err)
		return
	}
	out := make([]deletionCandidate, len(list))
	for i, m := range list {
		out[i] = deletionCandidate{Index: i + 1, ID: m.ID, Body: m.Body, ScheduledTime: m.ScheduledTime}
	}
	writeJSON(w, http.StatusOK, map[string]any{"candidates": out})
}

func (a *API) handleDeleteByIndex(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	index, err := strconv.Atoi(vars["index"])
	if err != nil {
		http.Error(w, ErrBadIndex, http.StatusBadRequest)
		return
	}
	m, err := a.Svc.DeleteByIndex(r.Context(), vars["recipient"], index)
	if err != nil {
		writeError(w, "delete by index", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := a.Svc.Stats(r.Context())
	if err != nil {
		writeError(w, "stats", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
