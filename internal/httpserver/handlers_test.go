package httpserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"remind/internal/cache"
	"remind/internal/domain"
	"remind/internal/service"
	"remind/internal/store/memstore"
)

func newTestAPI(t *testing.T) http.Handler {
	t.Helper()
	svc := &service.ScheduleService{
		Store:         memstore.New(),
		Candidates:    cache.NewMemoryCache(10 * time.Minute),
		DefaultExpiry: 24 * time.Hour,
	}
	srv := New()
	(&API{Svc: svc}).Register(srv.Mux)
	return srv.Handler()
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v (body %q)", err, rec.Body.String())
	}
	return v
}

func TestCreateGetDelete(t *testing.T) {
	h := newTestAPI(t)
	at := time.Now().Add(time.Hour).UTC().Truncate(time.Second)

	rec := do(t, h, http.MethodPost, "/v1/schedules", map[string]any{
		"recipient": "+1 555 010 0000", "body": "stretch", "scheduledTime": at,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status %d: %s", rec.Code, rec.Body.String())
	}
	created := decode[domain.ScheduledMessage](t, rec)
	if created.Recipient != "15550100000" || created.Status != domain.StatusPending {
		t.Fatalf("unexpected %+v", created)
	}

	rec = do(t, h, http.MethodGet, "/v1/schedules/"+created.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status %d", rec.Code)
	}

	rec = do(t, h, http.MethodDelete, "/v1/schedules/"+created.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status %d", rec.Code)
	}
	rec = do(t, h, http.MethodGet, "/v1/schedules/"+created.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete status %d", rec.Code)
	}
}

func TestCreateValidation(t *testing.T) {
	h := newTestAPI(t)

	rec := do(t, h, http.MethodPost, "/v1/schedules", map[string]any{"recipient": "1"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing fields status %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/schedules", bytes.NewBufferString("{"))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad json status %d", rr.Code)
	}
}

func TestDeletionFlow(t *testing.T) {
	h := newTestAPI(t)
	base := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	for i, body := range []string{"first", "second"} {
		rec := do(t, h, http.MethodPost, "/v1/schedules", map[string]any{
			"recipient": "15550100000", "body": body, "scheduledTime": base.Add(time.Duration(i) * time.Minute),
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("seed %d: %d", i, rec.Code)
		}
	}

	rec := do(t, h, http.MethodDelete, "/v1/recipients/15550100000/deletion/1", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("delete before listing: %d", rec.Code)
	}

	rec = do(t, h, http.MethodPost, "/v1/recipients/15550100000/deletion", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list for deletion: %d", rec.Code)
	}
	listed := decode[struct {
		Candidates []deletionCandidate `json:"candidates"`
	}](t, rec)
	if len(listed.Candidates) != 2 || listed.Candidates[1].Index != 2 || listed.Candidates[1].Body != "second" {
		t.Fatalf("unexpected candidates %+v", listed.Candidates)
	}

	rec = do(t, h, http.MethodDelete, "/v1/recipients/15550100000/deletion/9", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("out of range index: %d", rec.Code)
	}
	rec = do(t, h, http.MethodDelete, "/v1/recipients/15550100000/deletion/2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete by index: %d", rec.Code)
	}
	if got := decode[domain.ScheduledMessage](t, rec); got.Body != "second" {
		t.Fatalf("deleted wrong schedule %+v", got)
	}

	rec = do(t, h, http.MethodGet, "/v1/recipients/15550100000/schedules", nil)
	upcoming := decode[struct {
		Schedules []domain.ScheduledMessage `json:"schedules"`
	}](t, rec)
	if len(upcoming.Schedules) != 1 || upcoming.Schedules[0].Body != "first" {
		t.Fatalf("unexpected upcoming %+v", upcoming.Schedules)
	}
}

func TestRescheduleAndStats(t *testing.T) {
	h := newTestAPI(t)
	at := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	created := decode[domain.ScheduledMessage](t, do(t, h, http.MethodPost, "/v1/schedules", map[string]any{
		"recipient": "1", "body": "call mom", "scheduledTime": at,
	}))

	newAt := at.Add(2 * time.Hour)
	rec := do(t, h, http.MethodPatch, "/v1/schedules/"+created.ID, map[string]any{
		"scheduledTime": newAt, "expiryTime": newAt.Add(time.Hour),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("reschedule: %d %s", rec.Code, rec.Body.String())
	}
	if got := decode[domain.ScheduledMessage](t, rec); !got.ScheduledTime.Equal(newAt) {
		t.Fatalf("scheduledTime %v", got.ScheduledTime)
	}

	rec = do(t, h, http.MethodPatch, "/v1/schedules/"+created.ID, map[string]any{
		"scheduledTime": newAt, "expiryTime": newAt.Add(-time.Hour),
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("inverted window: %d", rec.Code)
	}

	rec = do(t, h, http.MethodPost, "/v1/schedules/"+created.ID+"/duplicate", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("duplicate: %d", rec.Code)
	}

	stats := decode[domain.Stats](t, do(t, h, http.MethodGet, "/v1/stats", nil))
	if stats.Total != 2 || stats.Pending != 2 || len(stats.Upcoming) != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}
