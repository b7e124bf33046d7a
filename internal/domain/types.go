package domain

import (
	"errors"
	"strings"
	"time"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailed
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSent, StatusFailed:
		return true
	}
	return false
}

// ScheduledMessage is the persisted reminder record driven by the dispatch cycle.
type ScheduledMessage struct {
	ID            string     `json:"id"`
	Recipient     string     `json:"recipient"`
	Body          string     `json:"body"`
	Status        Status     `json:"status"`
	ScheduledTime time.Time  `json:"scheduledTime"`
	ExpiryTime    time.Time  `json:"expiryTime"`
	SentAt        *time.Time `json:"sentAt"`
	Attempts      int        `json:"attempts"`
	LastAttemptAt *time.Time `json:"lastAttemptAt"`
	Error         string     `json:"error,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// Expired reports whether the record must terminate as failed on its next failed attempt.
func (m ScheduledMessage) Expired(now time.Time) bool {
	return !m.ExpiryTime.After(now)
}

// NewScheduleRequest is what producers (chat flow, calendar import, admin UI) submit.
type NewScheduleRequest struct {
	Recipient     string    `json:"recipient"`
	Body          string    `json:"body"`
	ScheduledTime time.Time `json:"scheduledTime"`
	ExpiryTime    time.Time `json:"expiryTime"`
}

func (r NewScheduleRequest) Validate() error {
	if strings.TrimSpace(r.Recipient) == "" || strings.TrimSpace(r.Body) == "" || r.ScheduledTime.IsZero() {
		return ErrMissingFields
	}
	if !r.ExpiryTime.IsZero() && r.ExpiryTime.Before(r.ScheduledTime) {
		return ErrInvalidWindow
	}
	return nil
}

type RescheduleRequest struct {
	ScheduledTime time.Time `json:"scheduledTime"`
	ExpiryTime    time.Time `json:"expiryTime"`
}

func (r RescheduleRequest) Validate() error {
	if r.ScheduledTime.IsZero() || r.ExpiryTime.IsZero() {
		return ErrMissingFields
	}
	if r.ExpiryTime.Before(r.ScheduledTime) {
		return ErrInvalidWindow
	}
	return nil
}

type Stats struct {
	Total    int64              `json:"total"`
	Pending  int64              `json:"pending"`
	Sent     int64              `json:"sent"`
	Failed   int64              `json:"failed"`
	Upcoming []ScheduledMessage `json:"upcoming"`
}

var (
	ErrMissingFields        = errors.New("missing required fields")
	ErrInvalidWindow        = errors.New("expiryTime must not be before scheduledTime")
	ErrNotFound             = errors.New("schedule not found")
	ErrNotPending           = errors.New("schedule is no longer pending")
	ErrInvalidIndex         = errors.New("invalid schedule number")
	ErrNoDeletionCandidates = errors.New("no schedules listed for deletion")
)
