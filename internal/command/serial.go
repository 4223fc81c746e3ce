package command

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/tarm/serial"

	"github.com/kstaniek/go-cansim/internal/logging"
	"github.com/kstaniek/go-cansim/internal/metrics"
)

// Port abstracts tarm/serial for testability.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// openSerialPort is a hook so tests can inject a fake port.
var openSerialPort = func(name string, baud int, readTimeout time.Duration) (Port, error) {
	cfg := &serial.Config{Name: name, Baud: baud, ReadTimeout: readTimeout}
	return serial.OpenPort(cfg)
}

// SerialListener serves the command protocol over a serial console. It
// shares the Handler with the TCP server and joins the Hub so unsolicited
// status updates reach the console as well.
type SerialListener struct {
	Device  string
	Baud    int
	Handler *Handler
	Hub     *Hub

	logger *slog.Logger
}

type SerialOption func(*SerialListener)

func WithSerialLogger(l *slog.Logger) SerialOption {
	return func(s *SerialListener) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewSerialListener(device string, baud int, h *Handler, hub *Hub, opts ...SerialOption) *SerialListener {
	s := &SerialListener{
		Device:  device,
		Baud:    baud,
		Handler: h,
		Hub:     hub,
		logger:  logging.L(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run opens the device and pumps lines until ctx is cancelled or the
// port fails. The read timeout keeps the loop responsive to shutdown.
func (s *SerialListener) Run(ctx context.Context) error {
	port, err := openSerialPort(s.Device, s.Baud, 500*time.Millisecond)
	if err != nil {
		metrics.IncError(metrics.ErrSerialRead)
		return err
	}
	defer func() { _ = port.Close() }()
	s.logger.Info("serial_listen", "device", s.Device, "baud", s.Baud)

	cl := s.Hub.NewClient()
	s.Hub.Add(cl)
	defer s.Hub.Remove(cl)
	// Same greeting a TCP client gets on connect.
	select {
	case cl.Out <- s.Handler.Status():
	default:
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.writeLoop(ctx, port, cl)
	}()
	err = s.readLoop(ctx, port, cl)
	cl.Close()
	wg.Wait()
	return err
}

func (s *SerialListener) readLoop(ctx context.Context, port Port, cl *Client) error {
	sc := bufio.NewScanner(&cancelReader{ctx: ctx, r: port})
	sc.Buffer(make([]byte, 0, 1024), maxLineBytes)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		resp, mutated := s.Handler.Handle(line)
		select {
		case cl.Out <- resp:
		case <-cl.Closed:
			return nil
		}
		if mutated {
			s.Hub.Broadcast(s.Handler.Status())
		}
	}
	err := sc.Err()
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return nil
	}
	metrics.IncError(metrics.ErrSerialRead)
	s.logger.Warn("serial_read_error", "error", err)
	return err
}

func (s *SerialListener) writeLoop(ctx context.Context, port Port, cl *Client) {
	for {
		select {
		case line := <-cl.Out:
			if _, err := port.Write(append(line, '\n')); err != nil {
				metrics.IncError(metrics.ErrSerialWrite)
				s.logger.Warn("serial_write_error", "error", err)
				return
			}
		case <-cl.Closed:
			return
		case <-ctx.Done():
			return
		}
	}
}

// cancelReader makes a blocking port read observe context cancellation
// between reads. tarm/serial returns (0, nil) on read timeout, which
// io.Reader forbids, so it is mapped to a retry here.
type cancelReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *cancelReader) Read(p []byte) (int, error) {
	for {
		if err := c.ctx.Err(); err != nil {
			return 0, context.Canceled
		}
		n, err := c.r.Read(p)
		if n == 0 && err == nil {
			continue
		}
		return n, err
	}
}
