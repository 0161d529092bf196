package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// IdempotencyKey is one stored request replay record.
type IdempotencyKey struct {
	ID           int64  `json:"id"`
	Key          string `json:"key"`
	RequestHash  string `json:"request_hash"`
	ResponseBody []byte `json:"response_body"`
	CreatedAt    int64  `json:"created_at"`
}

// LookupIdempotency returns the stored response for a key. A hit with a
// matching request hash returns the body verbatim; a hit with a different
// hash returns ErrIdempotencyConflict; a miss returns (nil, nil).
func (s *Storage) LookupIdempotency(key, requestHash string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var storedHash string
	var body []byte

	err := s.db.QueryRow(`
		SELECT request_hash, response_body
		FROM idempotency_keys
		WHERE key = ?
	`, key).Scan(&storedHash, &body)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up idempotency key: %w", err)
	}

	if storedHash != requestHash {
		return nil, ErrIdempotencyConflict
	}
	return body, nil
}

// StoreIdempotency records a response for later replay. The key is unique;
// a duplicate insert is an error.
func (s *Storage) StoreIdempotency(key, requestHash string, responseBody []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO idempotency_keys (key, request_hash, response_body, created_at)
		VALUES (?, ?, ?, ?)
	`, key, requestHash, responseBody, time.Now().Unix())
	if err != nil {
		if isConstraintErr(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("failed to store idempotency key: %w", err)
	}
	return nil
}
