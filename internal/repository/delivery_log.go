package repository

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"tasksync/internal/model"
)

// DeliveryLogStore persists delivery attempts. It is written against
// database/sql so it runs on PostgreSQL in production (via the pgx stdlib
// driver) and on in-memory sqlite in tests.
type DeliveryLogStore struct {
	db       *sql.DB
	postgres bool
}

// NewDeliveryLogStore wraps db. driverName selects placeholder style;
// pass "pgx" or "postgres" for $N placeholders, anything else keeps '?'.
func NewDeliveryLogStore(db *sql.DB, driverName string) *DeliveryLogStore {
	pg := driverName == "pgx" || driverName == "postgres"
	return &DeliveryLogStore{db: db, postgres: pg}
}

// rebind converts '?' placeholders to '$N' when talking to postgres.
func (s *DeliveryLogStore) rebind(query string) string {
	if !s.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

// Ensure inserts a pending entry for the intent's dedup key if none
// exists yet. Re-enqueued retries of the same intent reuse the row.
func (s *DeliveryLogStore) Ensure(ctx context.Context, e *model.DeliveryLogEntry) error {
	now := time.Now().UTC()
	query := s.rebind(`
        INSERT INTO delivery_log (task_ref, intent_kind, recipient, dedup_key, status, attempt_count, created_at, updated_at)
        SELECT ?, ?, ?, ?, ?, 0, ?, ?
        WHERE NOT EXISTS (SELECT 1 FROM delivery_log WHERE dedup_key = ?)
    `)
	_, err := s.db.ExecContext(ctx, query,
		e.TaskRef, string(e.IntentKind), e.Recipient, e.DedupKey, string(model.DeliveryPending), now, now,
		e.DedupKey,
	)
	return err
}

// RecordAttempt bumps the attempt counter and stores the latest error.
func (s *DeliveryLogStore) RecordAttempt(ctx context.Context, dedupKey string, attempt int, lastError string) error {
	query := s.rebind(`
        UPDATE delivery_log
        SET attempt_count = ?, last_error = ?, updated_at = ?
        WHERE dedup_key = ?
    `)
	var errVal any
	if lastError != "" {
		errVal = lastError
	}
	_, err := s.db.ExecContext(ctx, query, attempt, errVal, time.Now().UTC(), dedupKey)
	return err
}

// MarkDelivered transitions the entry to its terminal delivered state.
func (s *DeliveryLogStore) MarkDelivered(ctx context.Context, dedupKey string, attempts int, at time.Time) error {
	query := s.rebind(`
        UPDATE delivery_log
        SET status = ?, attempt_count = ?, last_error = NULL, delivered_at = ?, updated_at = ?
        WHERE dedup_key = ?
    `)
	_, err := s.db.ExecContext(ctx, query, string(model.DeliveryDelivered), attempts, at.UTC(), time.Now().UTC(), dedupKey)
	return err
}

// MarkFailed transitions the entry to its terminal failed state.
func (s *DeliveryLogStore) MarkFailed(ctx context.Context, dedupKey string, attempts int, lastError string, at time.Time) error {
	query := s.rebind(`
        UPDATE delivery_log
        SET status = ?, attempt_count = ?, last_error = ?, updated_at = ?
        WHERE dedup_key = ?
    `)
	_, err := s.db.ExecContext(ctx, query, string(model.DeliveryFailed), attempts, lastError, at.UTC(), dedupKey)
	return err
}

// HasDelivered reports whether the dedup key reached the delivered state
// since the given instant.
func (s *DeliveryLogStore) HasDelivered(ctx context.Context, dedupKey string, since time.Time) (bool, error) {
	query := s.rebind(`
        SELECT COUNT(1) FROM delivery_log
        WHERE dedup_key = ? AND status = ? AND delivered_at >= ?
    `)
	var n int
	err := s.db.QueryRowContext(ctx, query, dedupKey, string(model.DeliveryDelivered), since.UTC()).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetByKey returns the entry for a dedup key, or nil when absent.
func (s *DeliveryLogStore) GetByKey(ctx context.Context, dedupKey string) (*model.DeliveryLogEntry, error) {
	query := s.rebind(`
        SELECT id, task_ref, intent_kind, recipient, dedup_key, status, attempt_count, last_error, delivered_at, created_at, updated_at
        FROM delivery_log
        WHERE dedup_key = ?
    `)
	row := s.db.QueryRowContext(ctx, query, dedupKey)
	e, err := scanDeliveryEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

// ListRecent returns the newest entries, most recent first.
func (s *DeliveryLogStore) ListRecent(ctx context.Context, limit int) ([]model.DeliveryLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := s.rebind(`
        SELECT id, task_ref, intent_kind, recipient, dedup_key, status, attempt_count, last_error, delivered_at, created_at, updated_at
        FROM delivery_log
        ORDER BY updated_at DESC, id DESC
        LIMIT ?
    `)
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []model.DeliveryLogEntry{}
	for rows.Next() {
		e, err := scanDeliveryEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeliveryEntry(row rowScanner) (*model.DeliveryLogEntry, error) {
	var (
		e           model.DeliveryLogEntry
		kind        string
		status      string
		lastError   sql.NullString
		deliveredAt sql.NullTime
	)
	err := row.Scan(
		&e.ID, &e.TaskRef, &kind, &e.Recipient, &e.DedupKey, &status,
		&e.AttemptCount, &lastError, &deliveredAt, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.IntentKind = model.IntentKind(kind)
	e.Status = model.DeliveryStatus(status)
	if lastError.Valid {
		v := lastError.String
		e.LastError = &v
	}
	if deliveredAt.Valid {
		t := deliveredAt.Time
		e.DeliveredAt = &t
	}
	return &e, nil
}
