package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/playware/integration-hub/internal/client"
	"github.com/playware/integration-hub/internal/config"
	"github.com/playware/integration-hub/internal/storage"
	"github.com/playware/integration-hub/internal/wallet"
)

type testServer struct {
	http  *httptest.Server
	store *storage.Storage
	cfg   *config.Config
	srv   *Server
}

func setupTestServer(t *testing.T, mutate func(*config.Config)) (*testServer, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "hub-rpc-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	store, err := storage.New(&storage.Config{DataDir: tmpDir})
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("failed to create storage: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.Storage.DataDir = tmpDir
	if mutate != nil {
		mutate(cfg)
	}

	c := client.New(client.Config{Timeout: 2 * time.Second})
	operator := client.NewOperatorClient(cfg.Operator.BaseURL, c)
	rgs := client.NewRGSClient(cfg.RGS.WebhookURL, c)

	srv := NewServer(cfg, store, operator, rgs)
	go srv.wsHub.Run()
	ts := httptest.NewServer(srv.routes())

	cleanup := func() {
		ts.Close()
		store.Close()
		os.RemoveAll(tmpDir)
	}
	return &testServer{http: ts, store: store, cfg: cfg, srv: srv}, cleanup
}

func postJSON(t *testing.T, url string, body string, headers map[string]string) (*http.Response, []byte) {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response: %v", err)
	}
	return resp, data
}

func TestWalletDebitHappyPath(t *testing.T) {
	ts, cleanup := setupTestServer(t, nil)
	defer cleanup()

	resp, body := postJSON(t, ts.http.URL+"/wallet/debit",
		`{"playerId":"player-1","amountCents":500,"currency":"USD","refId":"ref-123"}`, nil)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}

	var wr wallet.Response
	if err := json.Unmarshal(body, &wr); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if wr.Status != wallet.StatusInitiated {
		t.Errorf("expected status initiated, got %q", wr.Status)
	}
	if wr.RefID != "ref-123" {
		t.Errorf("expected refId ref-123, got %q", wr.RefID)
	}
	if wr.CorrelationID == "" {
		t.Error("expected a correlationId")
	}
	if wr.BalanceCents == nil || *wr.BalanceCents != ts.cfg.Wallet.StartingBalanceCents-500 {
		t.Errorf("unexpected advisory balance: %v", wr.BalanceCents)
	}

	txns, _ := ts.store.ListTransactions()
	if len(txns) != 1 {
		t.Fatalf("expected 1 ledger row, got %d", len(txns))
	}
	if txns[0].Status != wallet.StatusInitiated {
		t.Errorf("expected ledger status initiated, got %s", txns[0].Status)
	}

	recs, _ := ts.store.UndeliveredOutbox(storage.QueueOperator)
	if len(recs) != 1 {
		t.Fatalf("expected 1 operator outbox row, got %d", len(recs))
	}
	if recs[0].EventType != "debit" {
		t.Errorf("expected event_type debit, got %q", recs[0].EventType)
	}

	var payload wallet.OperatorPayload
	if err := json.Unmarshal(recs[0].Payload, &payload); err != nil {
		t.Fatalf("invalid outbox payload: %v", err)
	}
	if payload.Amount != 5.0 || payload.Reference != "ref-123" {
		t.Errorf("unexpected operator payload: %+v", payload)
	}
}

func TestWebhookCompletesFlow(t *testing.T) {
	ts, cleanup := setupTestServer(t, nil)
	defer cleanup()

	_, body := postJSON(t, ts.http.URL+"/wallet/debit",
		`{"playerId":"player-1","amountCents":500,"currency":"USD","refId":"ref-123"}`, nil)

	var wr wallet.Response
	if err := json.Unmarshal(body, &wr); err != nil {
		t.Fatalf("invalid wallet response: %v", err)
	}

	hook := fmt.Sprintf(`{"event":"withdraw","refId":"ref-123","correlationId":%q,"amount":5.0,"currency":"USD","status":"OK","playerId":"player-1","balance":995.0}`, wr.CorrelationID)
	resp, body := postJSON(t, ts.http.URL+"/webhooks/incoming", hook, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}

	txn, err := ts.store.GetTransaction("ref-123", wr.CorrelationID)
	if err != nil {
		t.Fatalf("GetTransaction() error = %v", err)
	}
	if txn.Status != wallet.StatusSent {
		t.Errorf("expected ledger status sent, got %s", txn.Status)
	}

	recs, _ := ts.store.UndeliveredOutbox(storage.QueueRGS)
	if len(recs) != 1 {
		t.Fatalf("expected 1 RGS outbox row, got %d", len(recs))
	}
	if recs[0].EventType != "debit" {
		t.Errorf("expected event_type debit, got %q", recs[0].EventType)
	}

	var payload wallet.RGSPayload
	if err := json.Unmarshal(recs[0].Payload, &payload); err != nil {
		t.Fatalf("invalid RGS payload: %v", err)
	}
	if payload.AmountCents != 500 {
		t.Errorf("expected amountCents 500, got %d", payload.AmountCents)
	}
	if payload.BalanceCents != 99500 {
		t.Errorf("expected balanceCents 99500, got %d", payload.BalanceCents)
	}
}

func TestWebhookUnknownReference(t *testing.T) {
	ts, cleanup := setupTestServer(t, nil)
	defer cleanup()

	resp, body := postJSON(t, ts.http.URL+"/webhooks/incoming",
		`{"event":"withdraw","refId":"nope","correlationId":"nope","amount":1.0,"currency":"USD","status":"OK","playerId":"p","balance":1.0}`, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d: %s", resp.StatusCode, body)
	}
}

func TestIdempotentReplay(t *testing.T) {
	ts, cleanup := setupTestServer(t, nil)
	defer cleanup()

	reqBody := `{"playerId":"player-1","amountCents":750,"currency":"USD","refId":"ref-789"}`
	headers := map[string]string{"Idempotency-Key": "demo-key"}

	resp1, body1 := postJSON(t, ts.http.URL+"/wallet/credit", reqBody, headers)
	if resp1.StatusCode != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d: %s", resp1.StatusCode, body1)
	}

	resp2, body2 := postJSON(t, ts.http.URL+"/wallet/credit", reqBody, headers)
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("replay: expected 200, got %d: %s", resp2.StatusCode, body2)
	}

	if !bytes.Equal(body1, body2) {
		t.Errorf("replay response differs:\n%s\n%s", body1, body2)
	}

	txns, _ := ts.store.ListTransactions()
	if len(txns) != 1 {
		t.Errorf("expected exactly 1 ledger row, got %d", len(txns))
	}
	recs, _ := ts.store.UndeliveredOutbox(storage.QueueOperator)
	if len(recs) != 1 {
		t.Errorf("expected exactly 1 outbox row, got %d", len(recs))
	}
}

func TestIdempotencyConflict(t *testing.T) {
	ts, cleanup := setupTestServer(t, nil)
	defer cleanup()

	headers := map[string]string{"Idempotency-Key": "demo-key"}

	resp, _ := postJSON(t, ts.http.URL+"/wallet/credit",
		`{"playerId":"player-1","amountCents":750,"currency":"USD","refId":"ref-1"}`, headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	resp, body := postJSON(t, ts.http.URL+"/wallet/credit",
		`{"playerId":"player-1","amountCents":999,"currency":"USD","refId":"ref-2"}`, headers)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409, got %d: %s", resp.StatusCode, body)
	}
}

func TestDuplicateReference(t *testing.T) {
	ts, cleanup := setupTestServer(t, nil)
	defer cleanup()

	reqBody := `{"playerId":"player-1","amountCents":500,"currency":"USD","refId":"ref-dup"}`

	resp, _ := postJSON(t, ts.http.URL+"/wallet/debit", reqBody, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	resp, body := postJSON(t, ts.http.URL+"/wallet/debit", reqBody, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409, got %d: %s", resp.StatusCode, body)
	}
}

func TestUnsupportedCurrency(t *testing.T) {
	ts, cleanup := setupTestServer(t, nil)
	defer cleanup()

	resp, body := postJSON(t, ts.http.URL+"/wallet/debit",
		`{"playerId":"player-1","amountCents":500,"currency":"TRY","refId":"ref-try"}`, nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
	var detail map[string]string
	if err := json.Unmarshal(body, &detail); err != nil {
		t.Fatalf("invalid error body: %v", err)
	}
	if detail["detail"] != "unsupported currency" {
		t.Errorf("unexpected detail: %q", detail["detail"])
	}

	resp, _ = postJSON(t, ts.http.URL+"/wallet/debit",
		`{"playerId":"player-1","amountCents":500,"currency":"EUR","refId":"ref-eur"}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 for EUR, got %d", resp.StatusCode)
	}
}

func TestTamperedSignature(t *testing.T) {
	ts, cleanup := setupTestServer(t, nil)
	defer cleanup()

	resp, body := postJSON(t, ts.http.URL+"/wallet/debit",
		`{"playerId":"player-1","amountCents":500,"currency":"USD","refId":"ref-sig"}`,
		map[string]string{
			"X-Signature": "invalidsignature",
			"X-Timestamp": strconv.FormatInt(time.Now().Unix(), 10),
		})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	var detail map[string]string
	if err := json.Unmarshal(body, &detail); err != nil {
		t.Fatalf("invalid error body: %v", err)
	}
	if detail["detail"] != "invalid signature" {
		t.Errorf("unexpected detail: %q", detail["detail"])
	}
}

func TestBlockedPlayer(t *testing.T) {
	ts, cleanup := setupTestServer(t, nil)
	defer cleanup()

	resp, body := postJSON(t, ts.http.URL+"/wallet/debit",
		`{"playerId":"player_bad","amountCents":500,"currency":"USD","refId":"ref-blocked"}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var wr wallet.Response
	if err := json.Unmarshal(body, &wr); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if wr.Status != wallet.StatusRejected {
		t.Errorf("expected status rejected, got %q", wr.Status)
	}
	if wr.Reason == nil || *wr.Reason != wallet.BlockedReason {
		t.Errorf("unexpected reason: %v", wr.Reason)
	}

	// A rejection writes nothing.
	txns, _ := ts.store.ListTransactions()
	if len(txns) != 0 {
		t.Errorf("expected no ledger rows, got %d", len(txns))
	}
	recs, _ := ts.store.UndeliveredOutbox(storage.QueueOperator)
	if len(recs) != 0 {
		t.Errorf("expected no outbox rows, got %d", len(recs))
	}
}

func TestBearerTokenRequired(t *testing.T) {
	ts, cleanup := setupTestServer(t, func(cfg *config.Config) {
		cfg.Security.BearerToken = "secret-token"
	})
	defer cleanup()

	reqBody := `{"playerId":"player-1","amountCents":500,"currency":"USD","refId":"ref-auth"}`

	resp, _ := postJSON(t, ts.http.URL+"/wallet/debit", reqBody, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", resp.StatusCode)
	}

	resp, _ = postJSON(t, ts.http.URL+"/wallet/debit", reqBody,
		map[string]string{"Authorization": "Bearer wrong"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 with wrong token, got %d", resp.StatusCode)
	}

	resp, _ = postJSON(t, ts.http.URL+"/wallet/debit", reqBody,
		map[string]string{"Authorization": "Bearer secret-token"})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 with token, got %d", resp.StatusCode)
	}

	// Incoming webhooks are not bearer-protected.
	resp, _ = postJSON(t, ts.http.URL+"/webhooks/incoming",
		`{"event":"withdraw","refId":"x","correlationId":"x","amount":1.0,"currency":"USD","status":"OK","playerId":"p","balance":1.0}`, nil)
	if resp.StatusCode == http.StatusUnauthorized {
		t.Error("webhook endpoint should not require a bearer token")
	}
}

func TestOutboxListAndReplay(t *testing.T) {
	ts, cleanup := setupTestServer(t, nil)
	defer cleanup()

	postJSON(t, ts.http.URL+"/wallet/debit",
		`{"playerId":"player-1","amountCents":500,"currency":"USD","refId":"ref-a"}`, nil)
	postJSON(t, ts.http.URL+"/wallet/credit",
		`{"playerId":"player-1","amountCents":600,"currency":"USD","refId":"ref-b"}`, nil)

	resp, err := http.Get(ts.http.URL + "/webhooks/outbox?queue=operator")
	if err != nil {
		t.Fatalf("list request failed: %v", err)
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, data)
	}

	var records []*storage.OutboxRecord
	if err := json.Unmarshal(data, &records); err != nil {
		t.Fatalf("invalid list body: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	for _, rec := range records {
		if rec.Queue != storage.QueueOperator {
			t.Errorf("expected queue field operator, got %q", rec.Queue)
		}
	}

	// Replay the first record.
	url := fmt.Sprintf("%s/admin/replay/operator/%d", ts.http.URL, records[0].ID)
	resp, body := postJSON(t, url, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	var replayed storage.OutboxRecord
	if err := json.Unmarshal(body, &replayed); err != nil {
		t.Fatalf("invalid replay body: %v", err)
	}
	if replayed.Status != storage.OutboxStatusPending {
		t.Errorf("expected pending after replay, got %s", replayed.Status)
	}

	// Unknown record id.
	resp, _ = postJSON(t, ts.http.URL+"/admin/replay/operator/99999", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}

	// Unknown queue name.
	resp, _ = postJSON(t, ts.http.URL+"/admin/replay/bogus/1", "", nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", resp.StatusCode)
	}
}

func TestOutboxListLimitValidation(t *testing.T) {
	ts, cleanup := setupTestServer(t, nil)
	defer cleanup()

	for _, raw := range []string{"0", "501", "abc"} {
		resp, err := http.Get(ts.http.URL + "/webhooks/outbox?limit=" + raw)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnprocessableEntity {
			t.Errorf("limit=%s: expected 422, got %d", raw, resp.StatusCode)
		}
	}
}

func TestReconciliationEndpoint(t *testing.T) {
	rgsStub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[{"refId":"ref-local","correlationId":"corr-1","event":"credit","amountCents":1000}]`)
	}))
	defer rgsStub.Close()

	operatorStub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[{"reference":"ref-remote","correlationId":"corr-2","direction":"deposit","amount":10.0}]`)
	}))
	defer operatorStub.Close()

	ts, cleanup := setupTestServer(t, func(cfg *config.Config) {
		cfg.Operator.BaseURL = operatorStub.URL
		cfg.RGS.WebhookURL = rgsStub.URL
	})
	defer cleanup()

	resp, err := http.Get(ts.http.URL + "/reconciliation_data")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, data)
	}
	if got := resp.Header.Get("X-Mismatch-Count"); got != "2" {
		t.Errorf("expected X-Mismatch-Count 2, got %q", got)
	}
	if got := resp.Header.Get("Content-Type"); got != "text/csv" {
		t.Errorf("expected text/csv, got %q", got)
	}
	if !bytes.Contains(data, []byte("ref-local,corr-1,credit,10.0,True,False")) {
		t.Errorf("missing RGS-only row in:\n%s", data)
	}
	if !bytes.Contains(data, []byte("ref-remote,corr-2,deposit,10.0,False,True")) {
		t.Errorf("missing Operator-only row in:\n%s", data)
	}
}

func TestClearDB(t *testing.T) {
	ts, cleanup := setupTestServer(t, nil)
	defer cleanup()

	postJSON(t, ts.http.URL+"/wallet/debit",
		`{"playerId":"player-1","amountCents":500,"currency":"USD","refId":"ref-wipe"}`, nil)

	resp, _ := postJSON(t, ts.http.URL+"/admin/clear-db", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	txns, _ := ts.store.ListTransactions()
	if len(txns) != 0 {
		t.Errorf("expected empty ledger after clear, got %d rows", len(txns))
	}
}

func TestHealth(t *testing.T) {
	ts, cleanup := setupTestServer(t, nil)
	defer cleanup()

	resp, err := http.Get(ts.http.URL + "/health")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}
