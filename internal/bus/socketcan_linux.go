//go:build linux

package bus

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/kstaniek/go-cansim/internal/can"
	"github.com/kstaniek/go-cansim/internal/logging"
)

// SocketCAN is a Driver over a Linux raw CAN socket. Bit timing on
// SocketCAN is owned by the interface (`ip link set canX type can
// bitrate ...`), so Install records the requested preset and verifies
// nothing; the operator must keep the interface rate in sync with the
// selected vehicle.
type SocketCAN struct {
	iface string

	mu      sync.Mutex
	fd      int
	bound   bool
	running bool
	closed  bool
}

// NewSocketCAN prepares a driver for the named interface (e.g. "can0").
// No resources are acquired until Install.
func NewSocketCAN(iface string) *SocketCAN {
	return &SocketCAN{iface: iface, fd: -1}
}

func (d *SocketCAN) Install(g GeneralConfig, t TimingConfig, f FilterConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if d.bound {
		return ErrAlreadyUp
	}
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return fmt.Errorf("socket(AF_CAN): %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FD_FRAMES, 0); err != nil {
		// Older kernels may not know this option; ignore ENOPROTOOPT
		if err != unix.ENOPROTOOPT {
			_ = unix.Close(fd)
			return fmt.Errorf("disable CAN FD: %w", err)
		}
	}
	ifi, err := net.InterfaceByName(d.iface)
	if err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("if %q: %w", d.iface, err)
	}
	sa := &unix.SockaddrCAN{Ifindex: ifi.Index}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("bind(can@%s): %w", d.iface, err)
	}
	d.fd = fd
	d.bound = true
	logging.L().Info("socketcan_installed", "if", d.iface, "preset_bitrate", t.BitRate())
	return nil
}

func (d *SocketCAN) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.bound {
		return ErrNotInstalled
	}
	d.running = true
	return nil
}

func (d *SocketCAN) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return ErrNotRunning
	}
	d.running = false
	return nil
}

func (d *SocketCAN) Uninstall() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.bound {
		return ErrNotInstalled
	}
	err := unix.Close(d.fd)
	d.fd = -1
	d.bound = false
	d.running = false
	return err
}

func (d *SocketCAN) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	if d.bound {
		err := unix.Close(d.fd)
		d.fd = -1
		d.bound = false
		d.running = false
		return err
	}
	return nil
}

func (d *SocketCAN) state() (fd int, running bool, closed bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fd, d.running, d.closed
}

// Transmit writes one classic CAN frame, waiting at most timeout for
// the socket to accept it.
func (d *SocketCAN) Transmit(fr can.Frame, timeout time.Duration) error {
	fd, running, closed := d.state()
	if closed {
		return ErrClosed
	}
	if !running {
		return ErrNotRunning
	}
	if err := fr.Validate(); err != nil {
		return err
	}
	if err := waitFD(fd, unix.POLLOUT, timeout); err != nil {
		return err
	}

	// struct can_frame (linux/can.h):
	//   can_id  u32   [0:4]  (includes EFF/RTR/ERR flags)
	//   can_dlc u8    [4]
	//   pad     3B    [5:8]
	//   data    [8]   [8:16]
	var buf [unix.CAN_MTU]byte
	id := fr.ID
	if fr.Extended {
		id |= unix.CAN_EFF_FLAG
	}
	binary.LittleEndian.PutUint32(buf[0:4], id)
	buf[4] = fr.DLC
	copy(buf[8:], fr.Data[:fr.DLC])
	if _, err := unix.Write(fd, buf[:]); err != nil {
		return fmt.Errorf("socketcan write: %w", err)
	}
	return nil
}

// Receive reads one classic CAN frame, waiting at most timeout.
func (d *SocketCAN) Receive(fr *can.Frame, timeout time.Duration) error {
	fd, running, closed := d.state()
	if closed {
		return ErrClosed
	}
	if !running {
		return ErrNotRunning
	}
	if err := waitFD(fd, unix.POLLIN, timeout); err != nil {
		return err
	}
	var buf [unix.CAN_MTU]byte
	n, err := unix.Read(fd, buf[:])
	if err != nil {
		return fmt.Errorf("socketcan read: %w", err)
	}
	if n != unix.CAN_MTU {
		return fmt.Errorf("socketcan short read: %d", n)
	}
	id := binary.LittleEndian.Uint32(buf[0:4])
	fr.Extended = id&unix.CAN_EFF_FLAG != 0
	if fr.Extended {
		fr.ID = id & unix.CAN_EFF_MASK
	} else {
		fr.ID = id & unix.CAN_SFF_MASK
	}
	dlc := buf[4]
	if dlc > 8 {
		dlc = 8
	}
	fr.DLC = dlc
	fr.Data = [8]byte{}
	copy(fr.Data[:], buf[8:8+dlc])
	return nil
}

// waitFD polls fd for the given event, mapping a poll timeout to
// ErrTimeout.
func waitFD(fd int, events int16, timeout time.Duration) error {
	pfd := []unix.PollFd{{Fd: int32(fd), Events: events}}
	for {
		n, err := unix.Poll(pfd, int(timeout.Milliseconds()))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("socketcan poll: %w", err)
		}
		if n == 0 {
			return ErrTimeout
		}
		return nil
	}
}
