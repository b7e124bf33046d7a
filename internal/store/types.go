package store

import (
	"context"
	"time"

	"remind/internal/domain"
)

// Store is the durable schedule collection. Only the dispatch cycle mutates
// delivery state; admin paths insert, reschedule and delete.
type Store interface {
	Find(ctx context.Context, q Query) ([]domain.ScheduledMessage, error)
	Insert(ctx context.Context, m domain.ScheduledMessage) error
	// UpdateFields applies f to the record with the given id while it is still
	// pending. It returns domain.ErrNotPending when no pending row matched.
	UpdateFields(ctx context.Context, id string, f Fields) error
	Count(ctx context.Context, f Filter) (int64, error)
	Get(ctx context.Context, id string) (domain.ScheduledMessage, error)
	Delete(ctx context.Context, id string) error
}

// Filter is a conjunction of predicates; zero-valued fields are ignored.
type Filter struct {
	Status    domain.Status
	Recipient string

	// Unsent restricts to records with no sentAt.
	Unsent bool
	// AttemptsBelow restricts to attempts < AttemptsBelow when > 0.
	AttemptsBelow int
	// DueBy restricts to scheduledTime <= DueBy.
	DueBy *time.Time
	// RetryReadyBy restricts to lastAttemptAt IS NULL OR lastAttemptAt <= RetryReadyBy.
	RetryReadyBy *time.Time
}

// EligibleFilter is the eligibility window evaluated by every dispatch cycle.
func EligibleFilter(now time.Time, retryDelay time.Duration, maxAttempts int) Filter {
	due := now
	retryThreshold := now.Add(-retryDelay)
	return Filter{
		Status:        domain.StatusPending,
		Unsent:        true,
		AttemptsBelow: maxAttempts,
		DueBy:         &due,
		RetryReadyBy:  &retryThreshold,
	}
}

// Match evaluates the filter in memory. SQL stores translate the same predicates.
func (f Filter) Match(m domain.ScheduledMessage) bool {
	if f.Status != "" && m.Status != f.Status {
		return false
	}
	if f.Recipient != "" && m.Recipient != f.Recipient {
		return false
	}
	if f.Unsent && m.SentAt != nil {
		return false
	}
	if f.AttemptsBelow > 0 && m.Attempts >= f.AttemptsBelow {
		return false
	}
	if f.DueBy != nil && m.ScheduledTime.After(*f.DueBy) {
		return false
	}
	if f.RetryReadyBy != nil && m.LastAttemptAt != nil && m.LastAttemptAt.After(*f.RetryReadyBy) {
		return false
	}
	return true
}

type SortOrder int

const (
	SortNone SortOrder = iota
	SortScheduledAsc
	SortCreatedDesc
)

type Query struct {
	Filter Filter
	Sort   SortOrder
	Limit  int
}

// Fields is a partial update. Nil pointers are left untouched; IncAttempts is
// applied as an atomic increment rather than a read-modify-write.
type Fields struct {
	Status        *domain.Status
	SentAt        *time.Time
	IncAttempts   int
	LastAttemptAt *time.Time
	Error         *string
	ScheduledTime *time.Time
	ExpiryTime    *time.Time
}

// Apply mutates m in place the way a store applies f.
func (f Fields) Apply(m *domain.ScheduledMessage) {
	if f.Status != nil {
		m.Status = *f.Status
	}
	if f.SentAt != nil {
		t := *f.SentAt
		m.SentAt = &t
	}
	if f.IncAttempts > 0 {
		m.Attempts += f.IncAttempts
	}
	if f.LastAttemptAt != nil {
		t := *f.LastAttemptAt
		m.LastAttemptAt = &t
	}
	if f.Error != nil {
		m.Error = *f.Error
	}
	if f.ScheduledTime != nil {
		m.ScheduledTime = *f.ScheduledTime
	}
	if f.ExpiryTime != nil {
		m.ExpiryTime = *f.ExpiryTime
	}
}

func (f Fields) Empty() bool {
	return f.Status == nil && f.SentAt == nil && f.IncAttempts == 0 && f.LastAttemptAt == nil &&
		f.Error == nil && f.ScheduledTime == nil && f.ExpiryTime == nil
}
