// Package rpc provides the HTTP API for the integration hub.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/playware/integration-hub/internal/client"
	"github.com/playware/integration-hub/internal/config"
	"github.com/playware/integration-hub/internal/recon"
	"github.com/playware/integration-hub/internal/security"
	"github.com/playware/integration-hub/internal/storage"
	"github.com/playware/integration-hub/pkg/logging"
)

// Server is the hub's HTTP API server.
type Server struct {
	cfg      *config.Config
	store    *storage.Storage
	operator *client.OperatorClient
	rgs      *client.RGSClient
	recon    *recon.Reconciler
	log      *logging.Logger
	wsHub    *WSHub

	server   *http.Server
	listener net.Listener
}

// NewServer creates a new API server.
func NewServer(cfg *config.Config, store *storage.Storage, operator *client.OperatorClient, rgs *client.RGSClient) *Server {
	return &Server{
		cfg:      cfg,
		store:    store,
		operator: operator,
		rgs:      rgs,
		recon:    recon.New(rgs, operator),
		log:      logging.GetDefault().Component("rpc"),
		wsHub:    NewWSHub(),
	}
}

// routes builds the request mux.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /wallet/{action}", s.requireBearer(s.handleWalletAction))
	mux.HandleFunc("POST /webhooks/incoming", s.handleIncomingWebhook)
	mux.HandleFunc("GET /webhooks/outbox", s.requireBearer(s.handleOutboxList))
	mux.HandleFunc("GET /reconciliation_data", s.requireBearer(s.handleReconciliation))
	mux.HandleFunc("POST /admin/replay/{queue}/{id}", s.requireBearer(s.handleReplay))
	mux.HandleFunc("POST /admin/clear-db", s.requireBearer(s.handleClearDB))
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWS)

	return corsMiddleware(mux)
}

// Start starts the API server.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener

	go s.wsHub.Run()

	s.server = &http.Server{
		Handler:      s.routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error("API server error", "error", err)
		}
	}()

	s.log.Info("API server started", "addr", addr, "ws", "ws://"+addr+"/ws")
	return nil
}

// Stop stops the API server.
func (s *Server) Stop() error {
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(ctx)
	}
	return nil
}

// WSHub returns the WebSocket hub.
func (s *Server) WSHub() *WSHub {
	return s.wsHub
}

// requireBearer rejects requests without the configured bearer token.
func (s *Server) requireBearer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := security.CheckBearer(s.cfg.Security.BearerToken, r.Header.Get("Authorization")); err != nil {
			writeDetail(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

// checkSignature validates the HMAC signature when both headers are present.
// Unsigned requests pass through.
func (s *Server) checkSignature(r *http.Request, body []byte) error {
	signature := r.Header.Get("X-Signature")
	timestamp := r.Header.Get("X-Timestamp")
	if signature == "" || timestamp == "" {
		return nil
	}

	return security.ValidateSignature(
		s.cfg.Security.HMACSecret, body, signature, timestamp,
		s.cfg.Security.TimestampSkewSeconds, time.Now())
}

// handleHealth reports liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeDetail writes an error response in the {"detail": ...} shape.
func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// writeRawJSON writes pre-serialized JSON, used for idempotent replays so
// the stored response goes out byte-for-byte.
func writeRawJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

// corsMiddleware adds CORS headers to all responses.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Idempotency-Key, X-Signature, X-Timestamp")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
