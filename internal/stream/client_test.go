package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// mockStreamServer creates a test websocket server.
func mockStreamServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	t.Helper()

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestClient_ConnectAndClose(t *testing.T) {
	server := mockStreamServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	cfg := DefaultConfig()
	cfg.URL = wsURL(server)

	client := NewClient(cfg, nil)

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if !client.IsConnected() {
		t.Error("IsConnected = false after Connect")
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected = true after Close")
	}

	// Connecting a closed client is rejected.
	if err := client.Connect(context.Background()); err != ErrAlreadyClosed {
		t.Errorf("Connect after Close error = %v, want ErrAlreadyClosed", err)
	}
}

func TestClient_ReceivesFrames(t *testing.T) {
	server := mockStreamServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"score_update"}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	cfg := DefaultConfig()
	cfg.URL = wsURL(server)

	client := NewClient(cfg, nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	select {
	case frame := <-client.Frames():
		if string(frame.Data) != `{"event":"score_update"}` {
			t.Errorf("frame = %q, want score_update event", frame.Data)
		}
		if frame.ReceivedAt.IsZero() {
			t.Error("frame missing receive timestamp")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
	}
}

func TestClient_SendRequiresConnection(t *testing.T) {
	client := NewClient(DefaultConfig(), nil)

	if err := client.Send([]byte("hello")); err != ErrNotConnected {
		t.Errorf("Send error = %v, want ErrNotConnected", err)
	}
}

func TestClient_StaleStreamMarksDisconnected(t *testing.T) {
	hold := make(chan struct{})
	server := mockStreamServer(t, func(conn *websocket.Conn) {
		// Hold the socket open without reading, so pings go unanswered
		// and the stream falls silent.
		<-hold
	})
	defer server.Close()
	defer close(hold)

	cfg := DefaultConfig()
	cfg.URL = wsURL(server)
	cfg.HeartbeatTimeout = 60 * time.Millisecond

	client := NewClient(cfg, nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	select {
	case err := <-client.Errors():
		if err != ErrStaleConnection {
			t.Errorf("Errors() = %v, want ErrStaleConnection", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("staleness never surfaced")
	}
	if client.IsConnected() {
		t.Error("IsConnected = true for a stale stream")
	}
}

func TestClient_ServerCloseSurfacesError(t *testing.T) {
	server := mockStreamServer(t, func(conn *websocket.Conn) {
		// Close immediately.
	})
	defer server.Close()

	cfg := DefaultConfig()
	cfg.URL = wsURL(server)

	client := NewClient(cfg, nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	select {
	case err := <-client.Errors():
		if err == nil {
			t.Error("nil error from Errors channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no error surfaced after server close")
	}
}
