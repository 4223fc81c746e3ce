package bus

import (
	"sync"
	"time"

	"github.com/kstaniek/go-cansim/internal/can"
	"github.com/kstaniek/go-cansim/internal/logging"
)

// Mock is an in-memory Driver for running the simulator without CAN
// hardware. It enforces the full lifecycle state machine, records every
// transmitted frame and keeps the drain loop honest by timing out on
// Receive like a quiet bus would. Error fields, when set, are returned
// by the corresponding operation; tests use them to exercise failure
// paths.
type Mock struct {
	InstallErr   error
	StartErr     error
	StopErr      error
	UninstallErr error
	TransmitErr  error

	mu        sync.Mutex
	installed bool
	running   bool
	closed    chan struct{}
	closeOnce sync.Once
	timing    TimingConfig
	sent      []can.Frame
	installs  int
}

// NewMock returns a mock driver in the uninstalled state.
func NewMock() *Mock {
	return &Mock{closed: make(chan struct{})}
}

func (m *Mock) Install(g GeneralConfig, t TimingConfig, f FilterConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.isClosed() {
		return ErrClosed
	}
	if m.InstallErr != nil {
		return m.InstallErr
	}
	if m.installed {
		return ErrAlreadyUp
	}
	m.installed = true
	m.timing = t
	m.installs++
	logging.L().Debug("mock_bus_installed", "bitrate", t.BitRate())
	return nil
}

func (m *Mock) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.StartErr != nil {
		return m.StartErr
	}
	if !m.installed {
		return ErrNotInstalled
	}
	m.running = true
	return nil
}

func (m *Mock) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.StopErr != nil {
		return m.StopErr
	}
	if !m.running {
		return ErrNotRunning
	}
	m.running = false
	return nil
}

func (m *Mock) Uninstall() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UninstallErr != nil {
		return m.UninstallErr
	}
	if !m.installed {
		return ErrNotInstalled
	}
	m.installed = false
	m.running = false
	return nil
}

func (m *Mock) Transmit(fr can.Frame, timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.isClosed() {
		return ErrClosed
	}
	if m.TransmitErr != nil {
		return m.TransmitErr
	}
	if !m.running {
		return ErrNotRunning
	}
	if err := fr.Validate(); err != nil {
		return err
	}
	m.sent = append(m.sent, fr)
	logging.L().Debug("mock_bus_tx", "frame", fr.String())
	return nil
}

// Receive behaves like a bus with no inbound traffic: it blocks for the
// timeout (or until Close) and reports ErrTimeout.
func (m *Mock) Receive(fr *can.Frame, timeout time.Duration) error {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-m.closed:
		return ErrClosed
	case <-t.C:
		return ErrTimeout
	}
}

func (m *Mock) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}

func (m *Mock) isClosed() bool {
	select {
	case <-m.closed:
		return true
	default:
		return false
	}
}

// Sent returns a copy of all transmitted frames.
func (m *Mock) Sent() []can.Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]can.Frame, len(m.sent))
	copy(out, m.sent)
	return out
}

// Installs reports how many install cycles the driver has seen.
func (m *Mock) Installs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.installs
}

// Timing returns the preset from the most recent Install.
func (m *Mock) Timing() TimingConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timing
}

var _ Driver = (*Mock)(nil)
