package command

import (
	"sync"

	"github.com/kstaniek/go-cansim/internal/logging"
	"github.com/kstaniek/go-cansim/internal/metrics"
)

// Client is one command session (TCP connection or the serial port).
// Out carries complete JSON lines without the trailing newline.
type Client struct {
	Out       chan []byte
	Closed    chan struct{}
	closeOnce sync.Once
}

// Close signals the client is closed (idempotent).
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.Closed)
	})
}

// Hub fans status broadcasts out to every connected command client. A
// client whose buffer is full misses the broadcast; the next mutation
// or a get_status resynchronizes it.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]struct{}
	OutBufSize int
}

// NewHub creates a Hub with default settings.
func NewHub() *Hub { return &Hub{clients: make(map[*Client]struct{})} }

// NewClient allocates a client with the configured buffer size.
func (h *Hub) NewClient() *Client {
	buf := h.OutBufSize
	if buf <= 0 {
		buf = 16
	}
	return &Client{Out: make(chan []byte, buf), Closed: make(chan struct{})}
}

// Add registers a client with the hub.
func (h *Hub) Add(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	cur := len(h.clients)
	h.mu.Unlock()
	metrics.SetClients(cur)
	if cur == 1 {
		logging.L().Info("clients_first_connected")
	}
}

// Remove unregisters a client; safe to call multiple times.
func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	_, existed := h.clients[c]
	delete(h.clients, c)
	cur := len(h.clients)
	h.mu.Unlock()
	c.Close()
	metrics.SetClients(cur)
	if existed && cur == 0 {
		logging.L().Info("clients_last_disconnected")
	}
}

// Broadcast queues line on every connected client, dropping on full
// buffers rather than blocking the caller.
func (h *Hub) Broadcast(line []byte) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		select {
		case c.Out <- line:
		default:
			logging.L().Debug("broadcast_drop")
		}
	}
}

// Count returns the number of active clients.
func (h *Hub) Count() int { h.mu.RLock(); n := len(h.clients); h.mu.RUnlock(); return n }
