package rpc

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialWS(t *testing.T, ts *testServer) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(ts.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}

	// Registration goes through the hub loop; wait until it lands.
	deadline := time.Now().Add(2 * time.Second)
	for ts.srv.wsHub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("websocket client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) *WSEvent {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read websocket message: %v", err)
	}

	var event WSEvent
	if err := json.Unmarshal(msg, &event); err != nil {
		t.Fatalf("invalid event payload: %v", err)
	}
	return &event
}

func TestWebSocketBroadcastsTransactionCreated(t *testing.T) {
	ts, cleanup := setupTestServer(t, nil)
	defer cleanup()

	conn := dialWS(t, ts)
	defer conn.Close()

	resp, body := postJSON(t, ts.http.URL+"/wallet/debit",
		`{"playerId":"player-ws","amountCents":500,"currency":"USD","refId":"ref-ws-1"}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}

	event := readEvent(t, conn)
	if event.Type != EventTransactionCreated {
		t.Errorf("expected transaction_created, got %q", event.Type)
	}
	data, ok := event.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("unexpected event data: %T", event.Data)
	}
	if data["refId"] != "ref-ws-1" {
		t.Errorf("expected refId ref-ws-1, got %v", data["refId"])
	}
}

func TestWebSocketSubscriptionFilter(t *testing.T) {
	ts, cleanup := setupTestServer(t, nil)
	defer cleanup()

	conn := dialWS(t, ts)
	defer conn.Close()

	sub := `{"action":"subscribe","events":["outbox_failed"]}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(sub)); err != nil {
		t.Fatalf("failed to send subscription: %v", err)
	}
	// The read pump applies the subscription asynchronously.
	time.Sleep(200 * time.Millisecond)

	ts.srv.wsHub.Broadcast("transaction_created", map[string]string{"refId": "unsubscribed"})
	ts.srv.wsHub.Broadcast("outbox_failed", map[string]string{"refId": "subscribed"})

	event := readEvent(t, conn)
	if event.Type != EventOutboxFailed {
		t.Errorf("expected outbox_failed, got %q", event.Type)
	}
	data, _ := event.Data.(map[string]interface{})
	if data["refId"] != "subscribed" {
		t.Errorf("expected the subscribed event's data, got %v", event.Data)
	}
}
