package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"remind/internal/cache"
	"remind/internal/domain"
	"remind/internal/store"
	"remind/internal/store/memstore"
)

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newService() (*ScheduleService, *memstore.Store) {
	st := memstore.New()
	return &ScheduleService{
		Store:         st,
		Candidates:    cache.NewMemoryCache(10 * time.Minute),
		DefaultExpiry: 24 * time.Hour,
		Now:           func() time.Time { return base },
	}, st
}

func mustInsert(t *testing.T, s *ScheduleService, recipient, body string, at time.Time) domain.ScheduledMessage {
	t.Helper()
	m, err := s.InsertSchedule(context.Background(), domain.NewScheduleRequest{
		Recipient: recipient, Body: body, ScheduledTime: at,
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	return m
}

func TestInsertSchedule(t *testing.T) {
	s, st := newService()
	m := mustInsert(t, s, "+1 (555) 010-0000", "dentist", base.Add(time.Hour))

	if !strings.HasPrefix(m.ID, "sch_") {
		t.Fatalf("id %q", m.ID)
	}
	if m.Recipient != "15550100000" {
		t.Fatalf("recipient not normalised: %q", m.Recipient)
	}
	if m.Status != domain.StatusPending || m.Attempts != 0 || m.SentAt != nil || m.LastAttemptAt != nil {
		t.Fatalf("unexpected initial state %+v", m)
	}
	if !m.ExpiryTime.Equal(base.Add(25 * time.Hour)) {
		t.Fatalf("default expiry: %v", m.ExpiryTime)
	}
	if _, err := st.Get(context.Background(), m.ID); err != nil {
		t.Fatalf("not persisted: %v", err)
	}
}

func TestInsertScheduleValidation(t *testing.T) {
	s, _ := newService()
	tests := []struct {
		name string
		req  domain.NewScheduleRequest
		want error
	}{
		{"no recipient digits", domain.NewScheduleRequest{Recipient: "abc", Body: "x", ScheduledTime: base}, domain.ErrMissingFields},
		{"no body", domain.NewScheduleRequest{Recipient: "1", Body: " ", ScheduledTime: base}, domain.ErrMissingFields},
		{"no time", domain.NewScheduleRequest{Recipient: "1", Body: "x"}, domain.ErrMissingFields},
		{"expiry before schedule", domain.NewScheduleRequest{Recipient: "1", Body: "x", ScheduledTime: base, ExpiryTime: base.Add(-time.Minute)}, domain.ErrInvalidWindow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.InsertSchedule(context.Background(), tt.req); !errors.Is(err, tt.want) {
				t.Fatalf("got %v want %v", err, tt.want)
			}
		})
	}
}

func TestListUpcomingOnlyPendingSorted(t *testing.T) {
	s, st := newService()
	late := mustInsert(t, s, "1", "late", base.Add(3*time.Hour))
	early := mustInsert(t, s, "1", "early", base.Add(time.Hour))
	done := mustInsert(t, s, "1", "done", base.Add(2*time.Hour))
	mustInsert(t, s, "2", "other", base.Add(time.Hour))

	sent := domain.StatusSent
	now := base
	if err := st.UpdateFields(context.Background(), done.ID, store.Fields{Status: &sent, SentAt: &now}); err != nil {
		t.Fatal(err)
	}

	list, err := s.ListUpcoming(context.Background(), "+1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != early.ID || list[1].ID != late.ID {
		t.Fatalf("unexpected list %+v", list)
	}
}

func TestDeleteByIndex(t *testing.T) {
	s, st := newService()
	first := mustInsert(t, s, "1", "a", base.Add(time.Hour))
	second := mustInsert(t, s, "1", "b", base.Add(2*time.Hour))
	ctx := context.Background()

	if _, err := s.DeleteByIndex(ctx, "1", 1); !errors.Is(err, domain.ErrNoDeletionCandidates) {
		t.Fatalf("expected no candidates, got %v", err)
	}

	if _, err := s.ListForDeletion(ctx, "1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.DeleteByIndex(ctx, "1", 3); !errors.Is(err, domain.ErrInvalidIndex) {
		t.Fatalf("expected invalid index, got %v", err)
	}

	// an invalid number keeps the list so the contact can pick again
	got, err := s.DeleteByIndex(ctx, "1", 2)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got.ID != second.ID {
		t.Fatalf("deleted %s want %s", got.ID, second.ID)
	}
	if _, err := st.Get(ctx, second.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("record survived: %v", err)
	}
	if _, err := st.Get(ctx, first.ID); err != nil {
		t.Fatalf("wrong record removed: %v", err)
	}

	// the candidate list is single use
	if _, err := s.DeleteByIndex(ctx, "1", 1); !errors.Is(err, domain.ErrNoDeletionCandidates) {
		t.Fatalf("expected evicted candidates, got %v", err)
	}
}

func TestDeleteByIndexEvictsOnFailedDelete(t *testing.T) {
	s, st := newService()
	m := mustInsert(t, s, "1", "a", base.Add(time.Hour))
	ctx := context.Background()

	if _, err := s.ListForDeletion(ctx, "1"); err != nil {
		t.Fatal(err)
	}
	_ = st.Delete(ctx, m.ID)

	if _, err := s.DeleteByIndex(ctx, "1", 1); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, ok, _ := s.Candidates.Candidates(ctx, "1"); ok {
		t.Fatal("candidates must be evicted after a failed delete")
	}
}

func TestRescheduleOnlyWhilePending(t *testing.T) {
	s, st := newService()
	m := mustInsert(t, s, "1", "a", base.Add(time.Hour))
	ctx := context.Background()

	req := domain.RescheduleRequest{ScheduledTime: base.Add(5 * time.Hour), ExpiryTime: base.Add(6 * time.Hour)}
	got, err := s.Reschedule(ctx, m.ID, req)
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if !got.ScheduledTime.Equal(req.ScheduledTime) || got.Body != "a" {
		t.Fatalf("unexpected %+v", got)
	}

	failed := domain.StatusFailed
	_ = st.UpdateFields(ctx, m.ID, store.Fields{Status: &failed})
	if _, err := s.Reschedule(ctx, m.ID, req); !errors.Is(err, domain.ErrNotPending) {
		t.Fatalf("expected not pending, got %v", err)
	}
	if _, err := s.Reschedule(ctx, "sch_missing", req); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDuplicate(t *testing.T) {
	s, _ := newService()
	m := mustInsert(t, s, "1", "a", base.Add(time.Hour))

	dup, err := s.Duplicate(context.Background(), m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if dup.ID == m.ID || dup.Body != m.Body || !dup.ScheduledTime.Equal(m.ScheduledTime) || !dup.ExpiryTime.Equal(m.ExpiryTime) {
		t.Fatalf("bad duplicate %+v of %+v", dup, m)
	}
	if dup.Status != domain.StatusPending {
		t.Fatalf("duplicate status %s", dup.Status)
	}
}

func TestStats(t *testing.T) {
	s, st := newService()
	ctx := context.Background()
	for i := 0; i < 7; i++ {
		mustInsert(t, s, "1", "x", base.Add(time.Duration(i+1)*time.Hour))
	}
	m := mustInsert(t, s, "1", "y", base.Add(-time.Hour))
	failed := domain.StatusFailed
	_ = st.UpdateFields(ctx, m.ID, store.Fields{Status: &failed})

	got, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got.Total != 8 || got.Pending != 7 || got.Failed != 1 || got.Sent != 0 {
		t.Fatalf("unexpected counts %+v", got)
	}
	if len(got.Upcoming) != 5 || !got.Upcoming[0].ScheduledTime.Equal(base.Add(time.Hour)) {
		t.Fatalf("unexpected upcoming %+v", got.Upcoming)
	}
}
