package pg

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"remind/internal/domain"
	"remind/internal/store"
)

type Store struct {
	DB *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

const selectColumns = `id, recipient, body, status, scheduled_time, expiry_time, sent_at,
	attempts, last_attempt_at, COALESCE(last_error,''), created_at`

func (s *Store) Find(ctx context.Context, q store.Query) ([]domain.ScheduledMessage, error) {
	where, args := whereClause(q.Filter)
	sql := "SELECT " + selectColumns + " FROM scheduled_messages" + where + orderBy(q.Sort)
	if q.Limit > 0 {
		args = append(args, q.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ScheduledMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) Insert(ctx context.Context, m domain.ScheduledMessage) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO scheduled_messages (id, recipient, body, status, scheduled_time, expiry_time,
			sent_at, attempts, last_attempt_at, last_error, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$11)
	`, m.ID, m.Recipient, m.Body, string(m.Status), m.ScheduledTime, m.ExpiryTime,
		m.SentAt, m.Attempts, m.LastAttemptAt, nullIfEmpty(m.Error), m.CreatedAt)
	return err
}

func (s *Store) UpdateFields(ctx context.Context, id string, f store.Fields) error {
	if f.Empty() {
		return nil
	}
	args := []any{id}
	var sets []string
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s=$%d", col, len(args)))
	}
	if f.Status != nil {
		add("status", string(*f.Status))
	}
	if f.SentAt != nil {
		add("sent_at", *f.SentAt)
	}
	if f.IncAttempts > 0 {
		args = append(args, f.IncAttempts)
		sets = append(sets, fmt.Sprintf("attempts=attempts+$%d", len(args)))
	}
	if f.LastAttemptAt != nil {
		add("last_attempt_at", *f.LastAttemptAt)
	}
	if f.Error != nil {
		add("last_error", nullIfEmpty(*f.Error))
	}
	if f.ScheduledTime != nil {
		add("scheduled_time", *f.ScheduledTime)
	}
	if f.ExpiryTime != nil {
		add("expiry_time", *f.ExpiryTime)
	}
	sets = append(sets, "updated_at=now()")

	// Scoped to pending rows so a record terminated or deleted elsewhere is never resurrected.
	ct, err := s.DB.Exec(ctx, "UPDATE scheduled_messages SET "+strings.Join(sets, ", ")+
		" WHERE id=$1 AND status='pending'", args...)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrNotPending
	}
	return nil
}

func (s *Store) Count(ctx context.Context, f store.Filter) (int64, error) {
	where, args := whereClause(f)
	var n int64
	err := s.DB.QueryRow(ctx, "SELECT count(*) FROM scheduled_messages"+where, args...).Scan(&n)
	return n, err
}

func (s *Store) Get(ctx context.Context, id string) (domain.ScheduledMessage, error) {
	row := s.DB.QueryRow(ctx, "SELECT "+selectColumns+" FROM scheduled_messages WHERE id=$1", id)
	m, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ScheduledMessage{}, domain.ErrNotFound
	}
	return m, err
}

func (s *Store) Delete(ctx context.Context, id string) error {
	ct, err := s.DB.Exec(ctx, `DELETE FROM scheduled_messages WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func whereClause(f store.Filter) (string, []any) {
	var conds []string
	var args []any
	add := func(format string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(format, len(args)))
	}
	if f.Status != "" {
		add("status=$%d", string(f.Status))
	}
	if f.Recipient != "" {
		add("recipient=$%d", f.Recipient)
	}
	if f.Unsent {
		conds = append(conds, "sent_at IS NULL")
	}
	if f.AttemptsBelow > 0 {
		add("attempts<$%d", f.AttemptsBelow)
	}
	if f.DueBy != nil {
		add("scheduled_time<=$%d", *f.DueBy)
	}
	if f.RetryReadyBy != nil {
		add("(last_attempt_at IS NULL OR last_attempt_at<=$%d)", *f.RetryReadyBy)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func orderBy(o store.SortOrder) string {
	switch o {
	case store.SortScheduledAsc:
		return " ORDER BY scheduled_time ASC, id ASC"
	case store.SortCreatedDesc:
		return " ORDER BY created_at DESC, id DESC"
	}
	return ""
}

func scanMessage(row pgx.Row) (domain.ScheduledMessage, error) {
	var m domain.ScheduledMessage
	var status string
	var sentAt, lastAttemptAt *time.Time
	if err := row.Scan(&m.ID, &m.Recipient, &m.Body, &status, &m.ScheduledTime, &m.ExpiryTime,
		&sentAt, &m.Attempts, &lastAttemptAt, &m.Error, &m.CreatedAt); err != nil {
		return domain.ScheduledMessage{}, err
	}
	m.Status = domain.Status(status)
	m.SentAt = sentAt
	m.LastAttemptAt = lastAttemptAt
	return m, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
