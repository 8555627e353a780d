package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type wsEnvelope struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

func dialWS(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s failed: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendEnvelope(t *testing.T, conn *websocket.Conn, eventType string, data map[string]any) {
	t.Helper()
	if err := conn.WriteJSON(wsEnvelope{Type: eventType, Data: data}); err != nil {
		t.Fatalf("write %s failed: %v", eventType, err)
	}
}

// readUntil reads events until one of the wanted type arrives or the
// deadline passes
func readUntil(t *testing.T, conn *websocket.Conn, eventType string) wsEnvelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var ev wsEnvelope
		_, message, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", eventType, err)
		}
		if err := json.Unmarshal(message, &ev); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if ev.Type == eventType {
			return ev
		}
	}
}

// TestWebSocketSignalRelay tests the end-to-end socket path: register two
// users, join a call, relay an offer
func TestWebSocketSignalRelay(t *testing.T) {
	server := newTestServer(t)
	callID := initiateCall(t, server)

	aliceConn := dialWS(t, server)
	bobConn := dialWS(t, server)

	sendEnvelope(t, aliceConn, "register-user", map[string]any{"userId": "alice"})
	sendEnvelope(t, bobConn, "register-user", map[string]any{"userId": "bob"})

	sendEnvelope(t, aliceConn, "join-call", map[string]any{"callId": callID})
	time.Sleep(50 * time.Millisecond)
	sendEnvelope(t, bobConn, "join-call", map[string]any{"callId": callID})

	// Alice sees bob arrive; that also proves both registrations landed
	joined := readUntil(t, aliceConn, "user-joined")
	if joined.Data["userId"] != "bob" {
		t.Errorf("Expected bob's join, got %v", joined.Data)
	}

	sendEnvelope(t, aliceConn, "webrtc-offer", map[string]any{
		"callId": callID,
		"offer":  map[string]any{"type": "offer", "sdp": "v=0"},
	})

	offer := readUntil(t, bobConn, "webrtc-offer")
	if offer.Data["fromUserId"] != "alice" || offer.Data["callId"] != callID {
		t.Errorf("Unexpected offer payload: %v", offer.Data)
	}
	if offer.Data["offer"] == nil {
		t.Error("Expected the SDP payload to be forwarded")
	}

	// Targeted answer reaches only alice
	sendEnvelope(t, bobConn, "webrtc-answer", map[string]any{
		"callId":       callID,
		"targetUserId": "alice",
		"answer":       map[string]any{"type": "answer", "sdp": "v=0"},
	})

	answer := readUntil(t, aliceConn, "webrtc-answer")
	if answer.Data["fromUserId"] != "bob" {
		t.Errorf("Unexpected answer payload: %v", answer.Data)
	}
}

// TestWebSocketIncomingCallDelivery tests that a registered user is rung
// over their socket when a call starts
func TestWebSocketIncomingCallDelivery(t *testing.T) {
	server := newTestServer(t)

	bobConn := dialWS(t, server)
	sendEnvelope(t, bobConn, "register-user", map[string]any{"userId": "bob"})

	// Give the registration time to land before the ring fans out
	time.Sleep(50 * time.Millisecond)

	callID := initiateCall(t, server)

	invite := readUntil(t, bobConn, "incoming-call")
	if invite.Data["callId"] != callID || invite.Data["callerId"] != "alice" {
		t.Errorf("Unexpected invite: %v", invite.Data)
	}
	if invite.Data["iceServers"] == nil {
		t.Error("Expected ICE servers in the invite")
	}
}

// TestWebSocketEventsBeforeRegisterIgnored tests that a connection cannot
// act before identifying itself
func TestWebSocketEventsBeforeRegisterIgnored(t *testing.T) {
	server := newTestServer(t)
	callID := initiateCall(t, server)

	aliceConn := dialWS(t, server)
	sendEnvelope(t, aliceConn, "register-user", map[string]any{"userId": "alice"})
	sendEnvelope(t, aliceConn, "join-call", map[string]any{"callId": callID})

	// An anonymous connection's join is dropped; alice must not see it
	anonConn := dialWS(t, server)
	sendEnvelope(t, anonConn, "join-call", map[string]any{"callId": callID})

	aliceConn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	for {
		var ev wsEnvelope
		_, message, err := aliceConn.ReadMessage()
		if err != nil {
			// Timed out with no join observed
			break
		}
		if json.Unmarshal(message, &ev) == nil && ev.Type == "user-joined" {
			t.Fatal("Expected the anonymous join to be ignored")
		}
	}
}

// TestWebSocketOriginCheck tests the allowed-origins gate
func TestWebSocketOriginCheck(t *testing.T) {
	server := newTestServer(t)

	// The default test server allows any origin
	header := http.Header{"Origin": []string{"https://evil.example"}}
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("Expected upgrade with no origin restriction, got %v", err)
	}
	conn.Close()
}
