// Package memstore is an in-process Store used by tests and by the
// scheduler's "memory" store driver for local runs.
package memstore

import (
	"context"
	"sort"
	"sync"

	"remind/internal/domain"
	"remind/internal/store"
)

type Store struct {
	mu   sync.Mutex
	rows map[string]domain.ScheduledMessage
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{rows: make(map[string]domain.ScheduledMessage)}
}

func (s *Store) Find(ctx context.Context, q store.Query) ([]domain.ScheduledMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	out := make([]domain.ScheduledMessage, 0, len(s.rows))
	for _, m := range s.rows {
		if q.Filter.Match(m) {
			out = append(out, clone(m))
		}
	}
	s.mu.Unlock()

	switch q.Sort {
	case store.SortScheduledAsc:
		sort.Slice(out, func(i, j int) bool {
			if out[i].ScheduledTime.Equal(out[j].ScheduledTime) {
				return out[i].ID < out[j].ID
			}
			return out[i].ScheduledTime.Before(out[j].ScheduledTime)
		})
	case store.SortCreatedDesc:
		sort.Slice(out, func(i, j int) bool {
			if out[i].CreatedAt.Equal(out[j].CreatedAt) {
				return out[i].ID > out[j].ID
			}
			return out[i].CreatedAt.After(out[j].CreatedAt)
		})
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *Store) Insert(ctx context.Context, m domain.ScheduledMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[m.ID] = clone(m)
	return nil
}

func (s *Store) UpdateFields(ctx context.Context, id string, f store.Fields) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[id]
	if !ok || m.Status != domain.StatusPending {
		return domain.ErrNotPending
	}
	f.Apply(&m)
	s.rows[id] = m
	return nil
}

func (s *Store) Count(ctx context.Context, f store.Filter) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, m := range s.rows {
		if f.Match(m) {
			n++
		}
	}
	return n, nil
}

func (s *Store) Get(ctx context.Context, id string) (domain.ScheduledMessage, error) {
	if err := ctx.Err(); err != nil {
		return domain.ScheduledMessage{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[id]
	if !ok {
		return domain.ScheduledMessage{}, domain.ErrNotFound
	}
	return clone(m), nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.rows, id)
	return nil
}

// clone detaches the optional timestamps so callers cannot alias stored rows.
func clone(m domain.ScheduledMessage) domain.ScheduledMessage {
	if m.SentAt != nil {
		t := *m.SentAt
		m.SentAt = &t
	}
	if m.LastAttemptAt != nil {
		t := *m.LastAttemptAt
		m.LastAttemptAt = &t
	}
	return m
}
