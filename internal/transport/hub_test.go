package transport

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"connection_coordinator/internal/domain"
	apperrors "connection_coordinator/pkg/errors"
	"connection_coordinator/pkg/logger"
)

func newTestLogger() logger.Logger {
	return logger.New("error")
}

// dialTestClient upgrades a real websocket pair: the server side is wrapped
// in a Client and registered with the hub, the caller gets the peer end.
func dialTestClient(t *testing.T, hub *Hub, sessionID string, messagesPerSecond float64, burst int) (*Client, *websocket.Conn) {
	t.Helper()

	upgrader := websocket.Upgrader{}
	registered := make(chan *Client, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		client := NewClient(sessionID, r.RemoteAddr, conn, messagesPerSecond, burst, newTestLogger())
		hub.Register(client)
		registered <- client
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { ws.Close() })

	return <-registered, ws
}

func readEvent(t *testing.T, ws *websocket.Conn) *domain.Event {
	t.Helper()

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}

	event := &domain.Event{}
	if err := json.Unmarshal(raw, event); err != nil {
		t.Fatalf("malformed event %q: %v", raw, err)
	}
	return event
}

func expectSilence(t *testing.T, ws *websocket.Conn) {
	t.Helper()

	ws.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, raw, err := ws.ReadMessage(); err == nil {
		t.Fatalf("unexpected event: %s", raw)
	}
}

func TestHubSendToSession(t *testing.T) {
	hub := NewHub(newTestLogger())
	_, ws := dialTestClient(t, hub, "s-1", 0, 0)

	if err := hub.SendToSession("s-1", "greeting", domain.Payload{"text": "hello"}); err != nil {
		t.Fatalf("SendToSession failed: %v", err)
	}

	event := readEvent(t, ws)
	if event.Name != "greeting" {
		t.Errorf("event name = %q, want greeting", event.Name)
	}
	if event.Data.String("text") != "hello" {
		t.Errorf("event data = %v", event.Data)
	}

	if err := hub.SendToSession("nobody", "greeting", nil); !errors.Is(err, apperrors.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestHubRoomFanOut(t *testing.T) {
	hub := NewHub(newTestLogger())
	_, wsMember := dialTestClient(t, hub, "s-in", 0, 0)
	_, wsOutside := dialTestClient(t, hub, "s-out", 0, 0)

	hub.JoinRoom("s-in", "lobby")
	hub.SendToRoom("lobby", "room_event", domain.Payload{"room_id": "lobby"})

	event := readEvent(t, wsMember)
	if event.Name != "room_event" {
		t.Errorf("member got %q, want room_event", event.Name)
	}
	expectSilence(t, wsOutside)

	// After leaving, the member is silent too.
	hub.LeaveRoom("s-in", "lobby")
	hub.SendToRoom("lobby", "room_event", nil)
	expectSilence(t, wsMember)
}

func TestHubSendToAll(t *testing.T) {
	hub := NewHub(newTestLogger())
	_, ws1 := dialTestClient(t, hub, "s-1", 0, 0)
	_, ws2 := dialTestClient(t, hub, "s-2", 0, 0)

	hub.SendToAll("announce", domain.Payload{"n": 1})

	for _, ws := range []*websocket.Conn{ws1, ws2} {
		if event := readEvent(t, ws); event.Name != "announce" {
			t.Errorf("got %q, want announce", event.Name)
		}
	}
}

func TestHubUnregister(t *testing.T) {
	hub := NewHub(newTestLogger())
	dialTestClient(t, hub, "s-1", 0, 0)
	hub.JoinRoom("s-1", "lobby")

	if hub.Count() != 1 {
		t.Fatalf("Count = %d, want 1", hub.Count())
	}

	hub.Unregister("s-1")

	if hub.Count() != 0 {
		t.Errorf("Count = %d after unregister, want 0", hub.Count())
	}
	if err := hub.SendToSession("s-1", "x", nil); !errors.Is(err, apperrors.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}

	// Idempotent for sessions that never registered.
	hub.Unregister("s-1")
	hub.Unregister("ghost")
}

func TestClientInboundBudget(t *testing.T) {
	hub := NewHub(newTestLogger())
	client, _ := dialTestClient(t, hub, "s-limited", 1, 2)

	if !client.Allow() || !client.Allow() {
		t.Fatal("requests within the burst should be allowed")
	}
	if client.Allow() {
		t.Error("request over the burst should be rejected")
	}
}

func TestClientReadEventMalformedFrame(t *testing.T) {
	hub := NewHub(newTestLogger())
	client, ws := dialTestClient(t, hub, "s-garbage", 0, 0)
	client.ConfigureRead()

	ws.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if err := ws.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	if _, err := client.ReadEvent(); !errors.Is(err, apperrors.ErrMalformedEvent) {
		t.Fatalf("expected ErrMalformedEvent, got %v", err)
	}

	// The connection itself is still readable after the bad frame.
	raw, err := json.Marshal(domain.Event{Name: "ping"})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if err := ws.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	event, err := client.ReadEvent()
	if err != nil {
		t.Fatalf("ReadEvent after bad frame failed: %v", err)
	}
	if event.Name != "ping" {
		t.Errorf("event = %q, want ping", event.Name)
	}
}

func TestClientSendAfterClose(t *testing.T) {
	hub := NewHub(newTestLogger())
	client, _ := dialTestClient(t, hub, "s-closed", 0, 0)

	client.Close()
	client.Close() // safe to call twice

	if err := client.Send("x", nil); err == nil {
		t.Error("Send on a closed client should fail")
	}
}
