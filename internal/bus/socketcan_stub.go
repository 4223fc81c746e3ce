//go:build !linux

package bus

import (
	"errors"
	"time"

	"github.com/kstaniek/go-cansim/internal/can"
)

var errUnsupported = errors.New("bus: socketcan unsupported on this platform")

// SocketCAN placeholder so non-linux builds compile; every operation fails.
type SocketCAN struct{ iface string }

func NewSocketCAN(iface string) *SocketCAN { return &SocketCAN{iface: iface} }

func (d *SocketCAN) Install(GeneralConfig, TimingConfig, FilterConfig) error { return errUnsupported }
func (d *SocketCAN) Start() error                                            { return errUnsupported }
func (d *SocketCAN) Stop() error                                             { return errUnsupported }
func (d *SocketCAN) Uninstall() error                                        { return errUnsupported }
func (d *SocketCAN) Transmit(can.Frame, time.Duration) error                 { return errUnsupported }
func (d *SocketCAN) Receive(*can.Frame, time.Duration) error                 { return errUnsupported }
func (d *SocketCAN) Close() error                                            { return nil }
