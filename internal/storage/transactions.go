package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/playware/integration-hub/internal/wallet"
)

// Transaction is one ledger entry.
type Transaction struct {
	ID            int64  `json:"id"`
	RefID         string `json:"refId"`
	PlayerID      string `json:"playerId"`
	AmountCents   int64  `json:"amountCents"`
	Currency      string `json:"currency"`
	Direction     string `json:"direction"`
	Status        string `json:"status"`
	Reason        string `json:"reason,omitempty"`
	BalanceCents  *int64 `json:"balanceCents,omitempty"`
	CorrelationID string `json:"correlationId"`
	CreatedAt     int64  `json:"created_at"`
}

// CreateWalletIntent inserts the ledger row and its operator outbox row in
// one database transaction. Either both exist afterwards or neither does.
func (s *Storage) CreateWalletIntent(txn *Transaction, rec *OutboxRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		INSERT INTO transactions (
			ref_id, player_id, amount_cents, currency, direction,
			status, reason, balance_cents, correlation_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		txn.RefID, txn.PlayerID, txn.AmountCents, txn.Currency, txn.Direction,
		txn.Status, nullString(txn.Reason), txn.BalanceCents, txn.CorrelationID, now,
	)
	if err != nil {
		if isConstraintErr(err) {
			return ErrDuplicateReference
		}
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	txn.ID, _ = res.LastInsertId()
	txn.CreatedAt = now

	if err := insertOutbox(tx, QueueOperator, rec, now); err != nil {
		return err
	}

	return tx.Commit()
}

// GetTransaction looks up a ledger entry by its (refId, correlationId) pair,
// the join key used by the operator callback.
func (s *Storage) GetTransaction(refID, correlationID string) (*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT id, ref_id, player_id, amount_cents, currency, direction,
		       status, reason, balance_cents, correlation_id, created_at
		FROM transactions
		WHERE ref_id = ? AND correlation_id = ?
	`, refID, correlationID)

	return scanTransaction(row)
}

// CompleteTransaction marks a ledger entry sent and enqueues its RGS outbox
// row in the same database transaction.
func (s *Storage) CompleteTransaction(refID, correlationID string, rec *OutboxRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		UPDATE transactions
		SET status = ?
		WHERE ref_id = ? AND correlation_id = ?
	`, wallet.StatusSent, refID, correlationID)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}

	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}

	if err := insertOutbox(tx, QueueRGS, rec, now); err != nil {
		return err
	}

	return tx.Commit()
}

// ListTransactions returns all ledger entries, newest first.
func (s *Storage) ListTransactions() ([]*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, ref_id, player_id, amount_cents, currency, direction,
		       status, reason, balance_cents, correlation_id, created_at
		FROM transactions
		ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txns []*Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}

// scanner matches *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row scanner) (*Transaction, error) {
	var txn Transaction
	var reason sql.NullString
	var balance sql.NullInt64

	err := row.Scan(
		&txn.ID, &txn.RefID, &txn.PlayerID, &txn.AmountCents, &txn.Currency,
		&txn.Direction, &txn.Status, &reason, &balance, &txn.CorrelationID,
		&txn.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}

	if reason.Valid {
		txn.Reason = reason.String
	}
	if balance.Valid {
		txn.BalanceCents = &balance.Int64
	}

	return &txn, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
