package statusfeed

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialFeed(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	return conn
}

func readText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(1 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(msg)
}

func TestFeedGreetingAndBroadcast(t *testing.T) {
	feed := New(func() []byte { return []byte(`{"type":"status_update","speed":0}`) }, nil)
	mux := http.NewServeMux()
	feed.Attach(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c1 := dialFeed(t, srv)
	defer c1.Close()
	if got := readText(t, c1); !strings.Contains(got, "status_update") {
		t.Fatalf("greeting = %q", got)
	}

	c2 := dialFeed(t, srv)
	defer c2.Close()
	_ = readText(t, c2) // greeting

	// Wait for both registrations.
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) && feed.Count() < 2 {
		time.Sleep(2 * time.Millisecond)
	}
	if feed.Count() < 2 {
		t.Fatalf("clients registered: %d", feed.Count())
	}

	feed.Broadcast([]byte(`{"type":"status_update","speed":100}`))
	for i, c := range []*websocket.Conn{c1, c2} {
		if got := readText(t, c); !strings.Contains(got, `"speed":100`) {
			t.Fatalf("client %d got %q", i, got)
		}
	}
}

func TestFeedClientDisconnect(t *testing.T) {
	feed := New(nil, nil)
	mux := http.NewServeMux()
	feed.Attach(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := dialFeed(t, srv)
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) && feed.Count() != 1 {
		time.Sleep(2 * time.Millisecond)
	}
	if feed.Count() != 1 {
		t.Fatalf("expected one client, got %d", feed.Count())
	}
	_ = c.Close()
	deadline = time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) && feed.Count() != 0 {
		time.Sleep(2 * time.Millisecond)
	}
	if feed.Count() != 0 {
		t.Fatalf("client not removed, count=%d", feed.Count())
	}
	// Broadcast to an empty feed must not panic.
	feed.Broadcast([]byte(`{}`))
}
