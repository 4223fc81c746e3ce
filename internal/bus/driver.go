// Package bus abstracts the CAN transceiver driver behind a small
// lifecycle-plus-transmit interface so the transmission controller can
// run against real hardware (SocketCAN) or a mock.
package bus

import (
	"errors"
	"time"

	"github.com/kstaniek/go-cansim/internal/can"
)

// Sentinel errors; callers classify with errors.Is.
var (
	ErrNotInstalled = errors.New("bus: driver not installed")
	ErrNotRunning   = errors.New("bus: driver not running")
	ErrAlreadyUp    = errors.New("bus: driver already installed")
	ErrTimeout      = errors.New("bus: operation timed out")
	ErrClosed       = errors.New("bus: driver closed")
)

// Mode selects how the controller participates in bus traffic.
type Mode int

const (
	ModeNormal Mode = iota
	ModeListenOnly
)

// GeneralConfig carries the non-timing driver parameters.
type GeneralConfig struct {
	Mode       Mode
	TxQueueLen int
	RxQueueLen int
}

// FilterConfig is the acceptance filter. AcceptAll is the only filter
// the simulator uses; inbound traffic is drained, never interpreted.
type FilterConfig struct {
	AcceptanceCode uint32
	AcceptanceMask uint32
	SingleFilter   bool
}

// AcceptAll passes every frame.
func AcceptAll() FilterConfig {
	return FilterConfig{AcceptanceCode: 0, AcceptanceMask: 0xFFFFFFFF, SingleFilter: true}
}

// DefaultGeneral mirrors the queue depths the firmware used.
func DefaultGeneral() GeneralConfig {
	return GeneralConfig{Mode: ModeNormal, TxQueueLen: 5, RxQueueLen: 5}
}

// Driver is the transceiver lifecycle and frame submission contract.
// Lifecycle order is install -> start -> stop -> uninstall; calls out
// of order fail with a sentinel error. Implementations must be safe for
// concurrent Transmit/Receive from separate goroutines.
type Driver interface {
	Install(g GeneralConfig, t TimingConfig, f FilterConfig) error
	Start() error
	Stop() error
	Uninstall() error

	// Transmit submits one frame, blocking at most timeout if the bus
	// is congested.
	Transmit(fr can.Frame, timeout time.Duration) error

	// Receive fills fr with the next inbound frame, blocking at most
	// timeout; ErrTimeout on a quiet bus.
	Receive(fr *can.Frame, timeout time.Duration) error

	Close() error
}
