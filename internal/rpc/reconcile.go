package rpc

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/playware/integration-hub/internal/client"
)

// handleReconciliation handles GET /reconciliation_data, serving the
// mismatch report as a CSV download.
func (s *Server) handleReconciliation(w http.ResponseWriter, r *http.Request) {
	csv, count, err := s.recon.GenerateCSV(r.Context())
	if err != nil {
		var statusErr *client.StatusError
		switch {
		case errors.Is(err, client.ErrUnavailable):
			writeDetail(w, http.StatusBadGateway, "downstream unavailable")
		case errors.As(err, &statusErr):
			writeDetail(w, statusErr.StatusCode, "downstream rejected request")
		default:
			s.log.Error("Reconciliation failed", "error", err)
			writeDetail(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("X-Mismatch-Count", strconv.Itoa(count))
	w.Header().Set("Content-Disposition", `attachment; filename="reconciliation.csv"`)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(csv))
}
