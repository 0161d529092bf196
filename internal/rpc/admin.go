package rpc

import (
	"errors"
	"net/http"
	"sort"
	"strconv"

	"github.com/playware/integration-hub/internal/storage"
)

const (
	defaultOutboxLimit = 100
	maxOutboxLimit     = 500
)

// handleOutboxList handles GET /webhooks/outbox. Without a queue parameter
// it merges both queues; records come back newest first.
func (s *Server) handleOutboxList(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")

	limit := defaultOutboxLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxOutboxLimit {
			writeDetail(w, http.StatusUnprocessableEntity, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	queues := storage.Queues
	if raw := r.URL.Query().Get("queue"); raw != "" {
		q, err := storage.ParseQueue(raw)
		if err != nil {
			writeDetail(w, http.StatusUnprocessableEntity, "unknown outbox queue")
			return
		}
		queues = []storage.Queue{q}
	}

	records := []*storage.OutboxRecord{}
	for _, q := range queues {
		recs, err := s.store.ListOutbox(q, status, limit)
		if err != nil {
			s.log.Error("Failed to list outbox", "queue", q, "error", err)
			writeDetail(w, http.StatusInternalServerError, "internal error")
			return
		}
		records = append(records, recs...)
	}

	// Re-sort after merging queues.
	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt != records[j].CreatedAt {
			return records[i].CreatedAt > records[j].CreatedAt
		}
		return records[i].ID > records[j].ID
	})
	if len(records) > limit {
		records = records[:limit]
	}

	writeJSON(w, http.StatusOK, records)
}

// handleReplay handles POST /admin/replay/{queue}/{id}, forcing a record
// back to pending regardless of its current state.
func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	q, err := storage.ParseQueue(r.PathValue("queue"))
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "unknown outbox queue")
		return
	}

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid record id")
		return
	}

	rec, err := s.store.ReplayOutbox(q, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeDetail(w, http.StatusNotFound, "record not found")
			return
		}
		s.log.Error("Failed to replay record", "queue", q, "id", id, "error", err)
		writeDetail(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.log.Info("Outbox record queued for replay", "queue", q, "id", id)

	writeJSON(w, http.StatusOK, rec)
}

// handleClearDB handles POST /admin/clear-db, wiping every table. Meant for
// local test environments only.
func (s *Server) handleClearDB(w http.ResponseWriter, r *http.Request) {
	if err := s.store.ClearAll(); err != nil {
		s.log.Error("Failed to clear database", "error", err)
		writeDetail(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.log.Warn("Database cleared by admin request")

	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}
