package command

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kstaniek/go-cansim/internal/logging"
	"github.com/kstaniek/go-cansim/internal/metrics"
)

// Sentinel errors used for wrapping so callers can classify via errors.Is.
var (
	ErrListen   = errors.New("listen")
	ErrAccept   = errors.New("accept")
	ErrConnRead = errors.New("conn_read")
	ErrContext  = errors.New("context_cancelled")
)

const (
	defaultReadDeadline = 5 * time.Minute
	maxLineBytes        = 4096
)

// Server owns the TCP listener for the command protocol and the client
// lifecycle. Each accepted connection gets a reader goroutine (request
// dispatch) and a writer goroutine (responses + broadcasts).
type Server struct {
	mu      sync.RWMutex
	addr    string
	Hub     *Hub
	Handler *Handler

	readDeadline time.Duration
	maxClients   int
	readyOnce    sync.Once
	readyCh      chan struct{}
	listener     net.Listener
	clientsMu    sync.Mutex
	clients      map[*Client]net.Conn
	wg           sync.WaitGroup
	logger       *slog.Logger
	nextConnID   uint64

	totalAccepted     atomic.Uint64
	totalRejected     atomic.Uint64
	totalDisconnected atomic.Uint64
}

type ServerOption func(*Server)

func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		readDeadline: defaultReadDeadline,
		readyCh:      make(chan struct{}),
		clients:      make(map[*Client]net.Conn),
		logger:       logging.L(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.addr == "" {
		s.addr = ":0"
	}
	if s.Hub == nil {
		s.Hub = NewHub()
	}
	return s
}

func WithListenAddr(a string) ServerOption { return func(s *Server) { s.addr = a } }
func WithHub(h *Hub) ServerOption          { return func(s *Server) { s.Hub = h } }
func WithHandler(h *Handler) ServerOption  { return func(s *Server) { s.Handler = h } }
func WithMaxClients(n int) ServerOption    { return func(s *Server) { s.maxClients = n } }

func WithReadDeadline(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.readDeadline = d
		}
	}
}

func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func (s *Server) Addr() string           { s.mu.RLock(); defer s.mu.RUnlock(); return s.addr }
func (s *Server) setAddr(a string)       { s.mu.Lock(); s.addr = a; s.mu.Unlock() }
func (s *Server) Ready() <-chan struct{} { return s.readyCh }

// BroadcastStatus pushes the current status_update to every client.
func (s *Server) BroadcastStatus() {
	if s.Handler != nil {
		s.Hub.Broadcast(s.Handler.Status())
	}
}

// Serve accepts command clients until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrListen, err)
	}
	s.setAddr(ln.Addr().String())
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.readyCh) })
	s.logger.Info("command_listen", "addr", s.Addr())
	go func() { <-ctx.Done(); _ = ln.Close() }()
	for {
		if err := s.acceptOnce(ctx, ln); err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// acceptOnce accepts a single connection, registers the client and
// spawns the IO goroutines. Returns nil on per-connection trouble and a
// wrapped error only on fatal listener errors.
func (s *Server) acceptOnce(ctx context.Context, ln net.Listener) error {
	conn, err := ln.Accept()
	if err != nil {
		select {
		case <-ctx.Done():
			return context.Canceled
		default:
		}
		if errors.Is(err, net.ErrClosed) { // Shutdown closed the listener
			return context.Canceled
		}
		if ne, ok := err.(net.Error); ok && ne.Timeout() { // transient
			time.Sleep(200 * time.Millisecond)
			return nil
		}
		return fmt.Errorf("%w: %v", ErrAccept, err)
	}
	s.totalAccepted.Add(1)
	connID := atomic.AddUint64(&s.nextConnID, 1)
	connLogger := s.logger.With("conn_id", connID, "remote", conn.RemoteAddr().String())
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
		_ = tcp.SetKeepAlive(true)
		_ = tcp.SetKeepAlivePeriod(30 * time.Second)
	}
	if s.maxClients > 0 && s.Hub.Count() >= s.maxClients {
		s.totalRejected.Add(1)
		connLogger.Warn("client_reject_max", "max_clients", s.maxClients)
		_ = conn.Close()
		return nil
	}
	client := s.Hub.NewClient()
	s.Hub.Add(client)
	s.clientsMu.Lock()
	s.clients[client] = conn
	s.clientsMu.Unlock()
	connLogger.Info("client_connected")
	s.startWriter(ctx.Done(), conn, client, connLogger)
	s.startReader(ctx.Done(), conn, client, connLogger)
	// Greet new clients with the current state, like the firmware did.
	if s.Handler != nil {
		select {
		case client.Out <- s.Handler.Status():
		default:
		}
	}
	return nil
}

func (s *Server) startReader(ctxDone <-chan struct{}, conn net.Conn, cl *Client, logger *slog.Logger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { _ = conn.Close() }()
		sc := bufio.NewScanner(conn)
		sc.Buffer(make([]byte, 0, 1024), maxLineBytes)
		for {
			select {
			case <-ctxDone:
				return
			default:
			}
			_ = conn.SetReadDeadline(time.Now().Add(s.readDeadline))
			if !sc.Scan() {
				err := sc.Err()
				if err == nil || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
					return
				}
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					// Scanner does not resume after a timeout error; drop
					// the idle client rather than risk a torn line.
					logger.Info("client_idle_timeout")
					return
				}
				metrics.IncError(metrics.ErrClientRead)
				logger.Warn("client_read_error", "error", fmt.Errorf("%w: %v", ErrConnRead, err))
				return
			}
			line := bytes.TrimSpace(sc.Bytes())
			if len(line) == 0 {
				continue
			}
			resp, mutated := s.Handler.Handle(line)
			select {
			case cl.Out <- resp:
			case <-cl.Closed:
				return
			}
			if mutated {
				s.BroadcastStatus()
			}
		}
	}()
}

func (s *Server) startWriter(ctxDone <-chan struct{}, conn net.Conn, cl *Client, logger *slog.Logger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			_ = conn.Close()
			s.Hub.Remove(cl)
			s.clientsMu.Lock()
			delete(s.clients, cl)
			s.clientsMu.Unlock()
			s.totalDisconnected.Add(1)
			logger.Info("client_disconnected")
		}()
		for {
			select {
			case line := <-cl.Out:
				if _, err := conn.Write(append(line, '\n')); err != nil {
					metrics.IncError(metrics.ErrClientWrite)
					logger.Warn("client_write_error", "error", err)
					return
				}
			case <-cl.Closed:
				return
			case <-ctxDone:
				return
			}
		}
	}()
}

// Shutdown closes the listener and every client, then waits for the IO
// goroutines.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
	s.clientsMu.Lock()
	for cl, conn := range s.clients {
		_ = conn.Close()
		s.Hub.Remove(cl)
		delete(s.clients, cl)
	}
	s.clientsMu.Unlock()
	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: shutdown timeout: %v", ErrContext, ctx.Err())
	case <-done:
		s.logger.Info("command_shutdown", "accepted", s.totalAccepted.Load(), "rejected", s.totalRejected.Load(), "disconnected", s.totalDisconnected.Load())
		return nil
	}
}
