package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/manpreetbhatti/easel/internal/protocol"
)

func startServer(t *testing.T, config Config) (*Hub, string) {
	t.Helper()

	hub := NewHub(nil, config)
	go hub.Run()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r)
	}))
	t.Cleanup(func() {
		server.Close()
		hub.Stop()
	})
	return hub, "ws" + strings.TrimPrefix(server.URL, "http")
}

func readEnvelope(t *testing.T, conn *websocket.Conn) *protocol.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read: %v", err)
	}
	env, err := protocol.Decode(data)
	if err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	return env
}

func TestServeWsThrottlesHost(t *testing.T) {
	config := DefaultConfig()
	config.ConnectRate = 0.001
	config.ConnectBurst = 1
	_, url := startServer(t, config)

	first, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("First connection should succeed: %v", err)
	}
	defer first.Close()

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("Second connection should be refused")
	}
	if resp == nil || resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("Expected status 429, got %v", resp)
	}
}

func TestPumpsRelayBetweenConnections(t *testing.T) {
	hub, url := startServer(t, DefaultConfig())

	dial := func(name string) *websocket.Conn {
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			t.Fatalf("Failed to dial: %v", err)
		}
		t.Cleanup(func() { conn.Close() })

		join := protocol.MustEncode(protocol.TypeJoinRoom, protocol.JoinRoom{RoomID: "r1", UserName: name})
		if err := conn.WriteMessage(websocket.TextMessage, join); err != nil {
			t.Fatalf("Failed to join: %v", err)
		}
		if env := readEnvelope(t, conn); env.Type != protocol.TypeWelcome {
			t.Fatalf("Expected welcome, got %s", env.Type)
		}
		if env := readEnvelope(t, conn); env.Type != protocol.TypeSyncHistory {
			t.Fatalf("Expected sync-history, got %s", env.Type)
		}
		return conn
	}

	a := dial("Alice")
	b := dial("Bob")
	if env := readEnvelope(t, a); env.Type != protocol.TypeUserJoined {
		t.Fatalf("Expected user-joined, got %s", env.Type)
	}

	// Garbage is dropped without closing the connection
	a.WriteMessage(websocket.TextMessage, []byte("not json"))
	a.WriteMessage(websocket.TextMessage, protocol.MustEncode(protocol.TypeCursorMove, protocol.CursorMove{X: 1, Y: 2}))

	env := readEnvelope(t, b)
	if env.Type != protocol.TypeCursorUpdate {
		t.Fatalf("Expected cursor-update, got %s", env.Type)
	}
	var cu protocol.CursorUpdate
	if err := env.Payload(&cu); err != nil {
		t.Fatalf("Failed to decode payload: %v", err)
	}
	if cu.UserName != "Alice" || cu.X != 1 || cu.Y != 2 {
		t.Errorf("Unexpected cursor update: %+v", cu)
	}

	a.Close()
	if env := readEnvelope(t, b); env.Type != protocol.TypeUserLeft {
		t.Fatalf("Expected user-left, got %s", env.Type)
	}
	if n := hub.GetClientCount(); n != 1 {
		t.Errorf("Expected 1 client, got %d", n)
	}
}
