package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Queue identifies one of the two outbox directions.
type Queue string

const (
	// QueueRGS holds normalized webhooks awaiting delivery to the RGS.
	QueueRGS Queue = "rgs"

	// QueueOperator holds wallet actions awaiting delivery to the Operator.
	QueueOperator Queue = "operator"
)

// Queues lists both outbox queues in dispatch order.
var Queues = []Queue{QueueRGS, QueueOperator}

// ParseQueue parses a queue name.
func ParseQueue(s string) (Queue, error) {
	switch Queue(s) {
	case QueueRGS:
		return QueueRGS, nil
	case QueueOperator:
		return QueueOperator, nil
	}
	return "", fmt.Errorf("unknown outbox queue: %q", s)
}

func (q Queue) table() string {
	if q == QueueRGS {
		return "rgs_webhook_outbox"
	}
	return "operator_webhook_outbox"
}

// OutboxStatus represents the delivery state of an outbox record.
type OutboxStatus string

const (
	OutboxStatusPending OutboxStatus = "pending" // Awaiting delivery
	OutboxStatusSent    OutboxStatus = "sent"    // Delivered; terminal except admin replay
	OutboxStatusFailed  OutboxStatus = "failed"  // Last attempt failed; retried once due
)

// OutboxRecord is one pending delivery.
type OutboxRecord struct {
	ID            int64           `json:"id"`
	EventType     string          `json:"eventType"`
	TargetURL     string          `json:"targetUrl"`
	Payload       json.RawMessage `json:"payload"`
	Status        OutboxStatus    `json:"status"`
	AttemptCount  int             `json:"attemptCount"`
	NextAttemptAt int64           `json:"nextAttemptAt"`
	LastError     string          `json:"lastError,omitempty"`
	CreatedAt     int64           `json:"createdAt"`
	Queue         Queue           `json:"queue"`
}

// EnqueueOutbox adds a record to the given queue in its own transaction.
// Rows created alongside ledger writes go through CreateWalletIntent or
// CompleteTransaction instead.
func (s *Storage) EnqueueOutbox(q Queue, rec *OutboxRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertOutbox(tx, q, rec, now); err != nil {
		return err
	}
	return tx.Commit()
}

// insertOutbox inserts a pending record inside an open transaction.
func insertOutbox(tx *sql.Tx, q Queue, rec *OutboxRecord, now int64) error {
	nextAttempt := rec.NextAttemptAt
	if nextAttempt == 0 {
		nextAttempt = now
	}

	res, err := tx.Exec(`
		INSERT INTO `+q.table()+` (
			event_type, target_url, payload, status, attempt_count,
			next_attempt_at, created_at
		) VALUES (?, ?, ?, 'pending', 0, ?, ?)
	`, rec.EventType, rec.TargetURL, rec.Payload, nextAttempt, now)
	if err != nil {
		return fmt.Errorf("failed to enqueue outbox record: %w", err)
	}

	rec.ID, _ = res.LastInsertId()
	rec.Status = OutboxStatusPending
	rec.NextAttemptAt = nextAttempt
	rec.CreatedAt = now
	rec.Queue = q
	return nil
}

// UndeliveredOutbox returns every record not yet sent, in insertion order.
// The dispatcher decides per record whether its next attempt is due.
func (s *Storage) UndeliveredOutbox(q Queue) ([]*OutboxRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, event_type, target_url, payload, status, attempt_count,
		       next_attempt_at, last_error, created_at
		FROM `+q.table()+`
		WHERE status != 'sent'
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query undelivered records: %w", err)
	}
	defer rows.Close()

	return scanOutboxRecords(rows, q)
}

// MarkOutboxSent marks a record delivered. Sent is terminal; only an
// explicit admin replay moves a record out of it.
func (s *Storage) MarkOutboxSent(q Queue, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE `+q.table()+`
		SET status = 'sent', attempt_count = attempt_count + 1, last_error = NULL
		WHERE id = ?
	`, id)
	return err
}

// MarkOutboxFailed records a failed attempt and schedules the next one.
func (s *Storage) MarkOutboxFailed(q Queue, id int64, lastError string, nextAttemptAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE `+q.table()+`
		SET status = 'failed', attempt_count = attempt_count + 1,
		    last_error = ?, next_attempt_at = ?
		WHERE id = ?
	`, lastError, nextAttemptAt, id)
	return err
}

// ListOutbox returns records from one queue, newest first, optionally
// filtered by status.
func (s *Storage) ListOutbox(q Queue, status string, limit int) ([]*OutboxRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, event_type, target_url, payload, status, attempt_count,
		       next_attempt_at, last_error, created_at
		FROM ` + q.table()
	args := []interface{}{}

	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query outbox: %w", err)
	}
	defer rows.Close()

	return scanOutboxRecords(rows, q)
}

// GetOutboxRecord retrieves a single record by id.
func (s *Storage) GetOutboxRecord(q Queue, id int64) (*OutboxRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.getOutboxRecord(q, id)
}

func (s *Storage) getOutboxRecord(q Queue, id int64) (*OutboxRecord, error) {
	var rec OutboxRecord
	var lastError sql.NullString

	err := s.db.QueryRow(`
		SELECT id, event_type, target_url, payload, status, attempt_count,
		       next_attempt_at, last_error, created_at
		FROM `+q.table()+`
		WHERE id = ?
	`, id).Scan(
		&rec.ID, &rec.EventType, &rec.TargetURL, &rec.Payload, &rec.Status,
		&rec.AttemptCount, &rec.NextAttemptAt, &lastError, &rec.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan outbox record: %w", err)
	}

	if lastError.Valid {
		rec.LastError = lastError.String
	}
	rec.Queue = q
	return &rec, nil
}

// ReplayOutbox forces a record back to pending, clearing its error and
// making it immediately due. Returns the updated record.
func (s *Storage) ReplayOutbox(q Queue, id int64) (*OutboxRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()

	res, err := s.db.Exec(`
		UPDATE `+q.table()+`
		SET status = 'pending', last_error = NULL, next_attempt_at = ?
		WHERE id = ?
	`, now, id)
	if err != nil {
		return nil, fmt.Errorf("failed to replay outbox record: %w", err)
	}

	affected, _ := res.RowsAffected()
	if affected == 0 {
		return nil, ErrNotFound
	}

	return s.getOutboxRecord(q, id)
}

func scanOutboxRecords(rows *sql.Rows, q Queue) ([]*OutboxRecord, error) {
	var records []*OutboxRecord

	for rows.Next() {
		var rec OutboxRecord
		var lastError sql.NullString

		err := rows.Scan(
			&rec.ID, &rec.EventType, &rec.TargetURL, &rec.Payload, &rec.Status,
			&rec.AttemptCount, &rec.NextAttemptAt, &lastError, &rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outbox record: %w", err)
		}

		if lastError.Valid {
			rec.LastError = lastError.String
		}
		rec.Queue = q

		records = append(records, &rec)
	}

	return records, rows.Err()
}
