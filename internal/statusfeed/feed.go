// Package statusfeed pushes simulator state to WebSocket dashboards.
// The feed is one-way: clients receive status_update documents and any
// inbound messages are drained only to keep the connection alive.
package statusfeed

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/kstaniek/go-cansim/internal/logging"
)

const clientBufSize = 16

// Feed owns the /ws endpoint and the connected dashboard clients.
type Feed struct {
	// Greeting returns the payload pushed to a client right after the
	// upgrade so dashboards render without waiting for a change.
	Greeting func() []byte

	logger    *slog.Logger
	upgrader  websocket.Upgrader
	clientsMu sync.RWMutex
	clients   map[*wsClient]struct{}
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// New creates a Feed; greeting may be nil.
func New(greeting func() []byte, logger *slog.Logger) *Feed {
	if logger == nil {
		logger = logging.L()
	}
	return &Feed{
		Greeting: greeting,
		logger:   logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*wsClient]struct{}),
	}
}

// Attach registers the feed endpoint on mux.
func (f *Feed) Attach(mux *http.ServeMux) {
	mux.HandleFunc("/ws", f.handleWS)
}

func (f *Feed) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Warn("ws_upgrade_error", "error", err)
		return
	}

	client := &wsClient{conn: conn, send: make(chan []byte, clientBufSize)}
	f.clientsMu.Lock()
	f.clients[client] = struct{}{}
	total := len(f.clients)
	f.clientsMu.Unlock()
	f.logger.Info("ws_client_connected", "remote", r.RemoteAddr, "total", total)

	if f.Greeting != nil {
		client.send <- f.Greeting()
	}

	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}()

	go func() {
		defer func() {
			f.clientsMu.Lock()
			delete(f.clients, client)
			total := len(f.clients)
			f.clientsMu.Unlock()
			close(client.send)
			f.logger.Info("ws_client_disconnected", "total", total)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Broadcast pushes payload to every client, skipping ones whose send
// buffer is full.
func (f *Feed) Broadcast(payload []byte) {
	f.clientsMu.RLock()
	defer f.clientsMu.RUnlock()
	for client := range f.clients {
		select {
		case client.send <- payload:
		default:
		}
	}
}

// Count returns the number of connected dashboard clients.
func (f *Feed) Count() int {
	f.clientsMu.RLock()
	defer f.clientsMu.RUnlock()
	return len(f.clients)
}
