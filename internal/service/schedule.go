package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"remind/internal/cache"
	"remind/internal/domain"
	"remind/internal/observability"
	"remind/internal/store"
	"remind/internal/util"
)

const (
	DefaultListLimit = 10
	statsUpcoming    = 5
)

// ScheduleService is the producer/admin surface over the schedule store.
// Delivery state is owned by the dispatch cycle; nothing here touches it.
type ScheduleService struct {
	Store      store.Store
	Candidates cache.CandidateCache
	// DefaultExpiry is added to scheduledTime when a request has no expiry.
	DefaultExpiry time.Duration
	Now           func() time.Time
}

func (s *ScheduleService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return util.NowUTC()
}

func (s *ScheduleService) InsertSchedule(ctx context.Context, req domain.NewScheduleRequest) (domain.ScheduledMessage, error) {
	req.Recipient = util.NormalizeRecipient(req.Recipient)
	if err := req.Validate(); err != nil {
		observability.Inserts.WithLabelValues("invalid").Inc()
		return domain.ScheduledMessage{}, err
	}
	expiry := req.ExpiryTime
	if expiry.IsZero() {
		d := s.DefaultExpiry
		if d <= 0 {
			d = 24 * time.Hour
		}
		expiry = req.ScheduledTime.Add(d)
	}

	m := domain.ScheduledMessage{
		ID:            util.NewScheduleID(),
		Recipient:     req.Recipient,
		Body:          req.Body,
		Status:        domain.StatusPending,
		ScheduledTime: req.ScheduledTime.UTC(),
		ExpiryTime:    expiry.UTC(),
		CreatedAt:     s.now(),
	}
	if err := s.Store.Insert(ctx, m); err != nil {
		observability.Inserts.WithLabelValues("error").Inc()
		return domain.ScheduledMessage{}, fmt.Errorf("insert schedule: %w", err)
	}
	observability.Inserts.WithLabelValues("ok").Inc()
	slog.Info("schedule inserted", "schedule_id", m.ID, "scheduled_time", m.ScheduledTime, "expiry_time", m.ExpiryTime)
	return m, nil
}

// ListUpcoming returns the recipient's pending schedules, soonest first.
func (s *ScheduleService) ListUpcoming(ctx context.Context, recipient string, limit int) ([]domain.ScheduledMessage, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return s.Store.Find(ctx, store.Query{
		Filter: store.Filter{Status: domain.StatusPending, Recipient: util.NormalizeRecipient(recipient)},
		Sort:   store.SortScheduledAsc,
		Limit:  limit,
	})
}

// ListForDeletion lists the contact's upcoming schedules and remembers their
// order so DeleteByIndex can resolve the number the contact picks.
func (s *ScheduleService) ListForDeletion(ctx context.Context, contact string) ([]domain.ScheduledMessage, error) {
	key := util.NormalizeRecipient(contact)
	list, err := s.ListUpcoming(ctx, key, DefaultListLimit)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		_ = s.Candidates.Evict(ctx, key)
		return list, nil
	}
	ids := make([]string, len(list))
	for i, m := range list {
		ids[i] = m.ID
	}
	if err := s.Candidates.PutCandidates(ctx, key, ids); err != nil {
		return nil, fmt.Errorf("cache deletion candidates: %w", err)
	}
	return list, nil
}

// DeleteByIndex deletes the index-th (1-based) schedule from the contact's
// last ListForDeletion. The candidate list is evicted once a delete is tried.
func (s *ScheduleService) DeleteByIndex(ctx context.Context, contact string, index int) (domain.ScheduledMessage, error) {
	key := util.NormalizeRecipient(contact)
	ids, ok, err := s.Candidates.Candidates(ctx, key)
	if err != nil {
		return domain.ScheduledMessage{}, fmt.Errorf("read deletion candidates: %w", err)
	}
	if !ok || len(ids) == 0 {
		return domain.ScheduledMessage{}, domain.ErrNoDeletionCandidates
	}
	if index < 1 || index > len(ids) {
		return domain.ScheduledMessage{}, domain.ErrInvalidIndex
	}

	defer func() {
		if err := s.Candidates.Evict(ctx, key); err != nil {
			slog.Warn("evict deletion candidates failed", "contact", key, "err", err)
		}
	}()

	id := ids[index-1]
	m, err := s.Store.Get(ctx, id)
	if err != nil {
		return domain.ScheduledMessage{}, err
	}
	if err := s.Store.Delete(ctx, id); err != nil {
		return domain.ScheduledMessage{}, err
	}
	slog.Info("schedule deleted by index", "schedule_id", id, "index", index)
	return m, nil
}

func (s *ScheduleService) Get(ctx context.Context, id string) (domain.ScheduledMessage, error) {
	return s.Store.Get(ctx, id)
}

func (s *ScheduleService) Delete(ctx context.Context, id string) error {
	if err := s.Store.Delete(ctx, id); err != nil {
		return err
	}
	slog.Info("schedule deleted", "schedule_id", id)
	return nil
}

// Reschedule moves a pending schedule's window. Sent and failed schedules are final.
func (s *ScheduleService) Reschedule(ctx context.Context, id string, req domain.RescheduleRequest) (domain.ScheduledMessage, error) {
	if err := req.Validate(); err != nil {
		return domain.ScheduledMessage{}, err
	}
	if _, err := s.Store.Get(ctx, id); err != nil {
		return domain.ScheduledMessage{}, err
	}
	scheduled, expiry := req.ScheduledTime.UTC(), req.ExpiryTime.UTC()
	if err := s.Store.UpdateFields(ctx, id, store.Fields{ScheduledTime: &scheduled, ExpiryTime: &expiry}); err != nil {
		return domain.ScheduledMessage{}, err
	}
	return s.Store.Get(ctx, id)
}

// Duplicate creates a fresh pending copy with the same recipient, body and window.
func (s *ScheduleService) Duplicate(ctx context.Context, id string) (domain.ScheduledMessage, error) {
	orig, err := s.Store.Get(ctx, id)
	if err != nil {
		return domain.ScheduledMessage{}, err
	}
	return s.InsertSchedule(ctx, domain.NewScheduleRequest{
		Recipient:     orig.Recipient,
		Body:          orig.Body,
		ScheduledTime: orig.ScheduledTime,
		ExpiryTime:    orig.ExpiryTime,
	})
}

func (s *ScheduleService) Stats(ctx context.Context) (domain.Stats, error) {
	var st domain.Stats
	var err error
	if st.Total, err = s.Store.Count(ctx, store.Filter{}); err != nil {
		return domain.Stats{}, err
	}
	if st.Pending, err = s.Store.Count(ctx, store.Filter{Status: domain.StatusPending}); err != nil {
		return domain.Stats{}, err
	}
	if st.Sent, err = s.Store.Count(ctx, store.Filter{Status: domain.StatusSent}); err != nil {
		return domain.Stats{}, err
	}
	if st.Failed, err = s.Store.Count(ctx, store.Filter{Status: domain.StatusFailed}); err != nil {
		return domain.Stats{}, err
	}
	st.Upcoming, err = s.Store.Find(ctx, store.Query{
		Filter: store.Filter{Status: domain.StatusPending},
		Sort:   store.SortScheduledAsc,
		Limit:  statsUpcoming,
	})
	if err != nil {
		return domain.Stats{}, err
	}
	return st, nil
}
