package rpc

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/playware/integration-hub/internal/storage"
	"github.com/playware/integration-hub/internal/wallet"
)

// handleIncomingWebhook handles POST /webhooks/incoming, the Operator's
// asynchronous confirmation callback. It matches the ledger row on
// (refId, correlationId), transitions it to sent, and enqueues the
// normalized RGS webhook in the same database transaction.
func (s *Server) handleIncomingWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}

	if err := s.checkSignature(r, body); err != nil {
		writeDetail(w, http.StatusUnauthorized, err.Error())
		return
	}

	var hook wallet.WebhookPayload
	if err := json.Unmarshal(body, &hook); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}

	rgsPayload, err := wallet.NewRGSPayload(&hook)
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "unknown event")
		return
	}

	if _, err := s.store.GetTransaction(hook.RefID, hook.CorrelationID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeDetail(w, http.StatusNotFound, "unknown reference")
			return
		}
		s.log.Error("Failed to load transaction", "ref_id", hook.RefID, "error", err)
		writeDetail(w, http.StatusInternalServerError, "internal error")
		return
	}

	payload, err := json.Marshal(rgsPayload)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "internal error")
		return
	}

	rec := &storage.OutboxRecord{
		EventType: rgsPayload.Event,
		TargetURL: s.rgs.WebhookURL(),
		Payload:   payload,
	}

	if err := s.store.CompleteTransaction(hook.RefID, hook.CorrelationID, rec); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeDetail(w, http.StatusNotFound, "unknown reference")
			return
		}
		s.log.Error("Failed to complete transaction", "ref_id", hook.RefID, "error", err)
		writeDetail(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.log.Info("Operator callback accepted",
		"ref_id", hook.RefID,
		"correlation_id", hook.CorrelationID,
		"event", hook.Event,
		"status", hook.Status)

	s.wsHub.Broadcast("webhook_received", rgsPayload)

	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}
