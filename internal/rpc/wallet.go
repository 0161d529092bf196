package rpc

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/playware/integration-hub/internal/security"
	"github.com/playware/integration-hub/internal/storage"
	"github.com/playware/integration-hub/internal/wallet"
)

// handleWalletAction handles POST /wallet/{debit|credit}.
//
// Ingress pipeline: signature check, currency allowlist, idempotency
// lookup, business rules, then one atomic write creating the ledger row and
// its operator outbox row. The response is stored under the idempotency key
// so replays go out byte-for-byte without recomputing anything.
func (s *Server) handleWalletAction(w http.ResponseWriter, r *http.Request) {
	action, err := wallet.ParseAction(r.PathValue("action"))
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "unknown wallet action")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}

	if err := s.checkSignature(r, body); err != nil {
		writeDetail(w, http.StatusUnauthorized, err.Error())
		return
	}

	var req wallet.Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}

	if !s.cfg.Wallet.CurrencySupported(req.Currency) {
		writeDetail(w, http.StatusUnprocessableEntity, "unsupported currency")
		return
	}

	// Idempotency replay point. A known key with the same canonical body
	// returns the stored response; a different body is a conflict.
	idemKey := r.Header.Get("Idempotency-Key")
	var requestHash string
	if idemKey != "" {
		requestHash, err = security.HashRequest(body)
		if err != nil {
			writeDetail(w, http.StatusUnprocessableEntity, "invalid request body")
			return
		}

		stored, err := s.store.LookupIdempotency(idemKey, requestHash)
		if err == storage.ErrIdempotencyConflict {
			writeDetail(w, http.StatusConflict, "idempotency conflict")
			return
		}
		if err != nil {
			s.log.Error("Idempotency lookup failed", "key", idemKey, "error", err)
			writeDetail(w, http.StatusInternalServerError, "internal error")
			return
		}
		if stored != nil {
			s.log.Debug("Idempotent replay", "key", idemKey, "ref_id", req.RefID)
			writeRawJSON(w, http.StatusOK, stored)
			return
		}
	}

	// Business rejection happens before any row is written; a rejected
	// request leaves no ledger, outbox, or idempotency trace.
	if wallet.IsBlocked(req.PlayerID) {
		reason := wallet.BlockedReason
		writeJSON(w, http.StatusOK, &wallet.Response{
			Status: wallet.StatusRejected,
			RefID:  req.RefID,
			Reason: &reason,
		})
		return
	}

	correlationID := uuid.NewString()

	payload, err := json.Marshal(wallet.NewOperatorPayload(&req, correlationID))
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "internal error")
		return
	}

	externalID := wallet.ExternalPlayerID(req.PlayerID, s.cfg.Wallet.ExternalIDSuffix)
	rec := &storage.OutboxRecord{
		EventType: string(action),
		TargetURL: s.operator.ActionURL(externalID, action.OperatorVerb()),
		Payload:   payload,
	}

	// Advisory balance only; the hub is not the source of balance truth.
	balance := s.cfg.Wallet.StartingBalanceCents
	if action == wallet.ActionDebit {
		balance -= req.AmountCents
	} else {
		balance += req.AmountCents
	}

	txn := &storage.Transaction{
		RefID:         req.RefID,
		PlayerID:      req.PlayerID,
		AmountCents:   req.AmountCents,
		Currency:      req.Currency,
		Direction:     string(action),
		Status:        wallet.StatusInitiated,
		BalanceCents:  &balance,
		CorrelationID: correlationID,
	}

	if err := s.store.CreateWalletIntent(txn, rec); err != nil {
		if errors.Is(err, storage.ErrDuplicateReference) {
			writeDetail(w, http.StatusConflict, "duplicate refId for direction")
			return
		}
		s.log.Error("Failed to create wallet intent", "ref_id", req.RefID, "error", err)
		writeDetail(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := &wallet.Response{
		Status:        wallet.StatusInitiated,
		RefID:         req.RefID,
		CorrelationID: correlationID,
		BalanceCents:  &balance,
	}

	respBody, err := json.Marshal(resp)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "internal error")
		return
	}

	if idemKey != "" {
		if err := s.store.StoreIdempotency(idemKey, requestHash, respBody); err != nil {
			s.log.Warn("Failed to store idempotency key", "key", idemKey, "error", err)
		}
	}

	s.log.Info("Wallet transaction initiated",
		"action", action,
		"ref_id", req.RefID,
		"player", req.PlayerID,
		"amount_cents", req.AmountCents,
		"correlation_id", correlationID)

	s.wsHub.Broadcast("transaction_created", txn)

	writeRawJSON(w, http.StatusOK, respBody)
}
