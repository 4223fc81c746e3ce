package can

import (
	"errors"
	"fmt"
)

// Identifier limits for classic CAN.
const (
	MaxStdID = 0x7FF      // 11-bit identifier
	MaxExtID = 0x1FFFFFFF // 29-bit identifier
)

var (
	ErrInvalidID  = errors.New("can: invalid identifier")
	ErrInvalidDLC = errors.New("can: invalid data length code")
)

// Frame is a classic CAN data frame. DLC is the number of meaningful
// payload bytes (0..8); Data beyond DLC is kept zeroed by encoders so a
// frame can be compared byte for byte in tests and logs.
type Frame struct {
	ID       uint32
	Extended bool // 29-bit identifier
	DLC      uint8
	Data     [8]byte
}

// Validate checks DLC and identifier range.
func (f Frame) Validate() error {
	if f.DLC > 8 {
		return fmt.Errorf("%w: %d", ErrInvalidDLC, f.DLC)
	}
	max := uint32(MaxStdID)
	if f.Extended {
		max = MaxExtID
	}
	if f.ID > max {
		return fmt.Errorf("%w: 0x%X", ErrInvalidID, f.ID)
	}
	return nil
}

// Payload returns the meaningful bytes of the frame.
func (f Frame) Payload() []byte { return f.Data[:f.DLC] }

// String renders the frame in the conventional "ID#DATA" form.
func (f Frame) String() string {
	if f.Extended {
		return fmt.Sprintf("%08X#%X", f.ID, f.Payload())
	}
	return fmt.Sprintf("%03X#%X", f.ID, f.Payload())
}
