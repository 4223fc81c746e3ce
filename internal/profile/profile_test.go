package profile

import (
	"testing"

	"github.com/kstaniek/go-cansim/internal/vehicle"
)

// layouts drives the byte-exact wire contract tests below; the values
// come from the in-car captures the encoders were written against.
var layouts = []struct {
	id       vehicle.ID
	speedID  uint32
	gearID   uint32
	baud     int
	speedOff int
	gearOff  int
	gears    [4]byte // P R N D
}{
	{vehicle.VWT7, 0x0FD, 0x3DC, 500000, 4, 5, [4]byte{0x05, 0x04, 0x03, 0x02}},
	{vehicle.VWT5, 0x1FD, 0x3DD, 500000, 4, 5, [4]byte{0x05, 0x04, 0x03, 0x02}},
	{vehicle.VWT6, 0x01A0, 0x0440, 500000, 2, 1, [4]byte{0x80, 0x77, 0x60, 0x50}},
	{vehicle.VWT61, 0x01A0, 0x0440, 500000, 2, 1, [4]byte{0x80, 0x77, 0x60, 0x50}},
}

func TestFrameIDsAndBaud(t *testing.T) {
	for _, tc := range layouts {
		p, ok := NewRegistry().Lookup(tc.id)
		if !ok {
			t.Fatalf("%s: no profile", tc.id)
		}
		gearID, speedID := p.FrameIDs()
		if gearID != tc.gearID || speedID != tc.speedID {
			t.Fatalf("%s: FrameIDs() = 0x%X/0x%X, want 0x%X/0x%X", tc.id, gearID, speedID, tc.gearID, tc.speedID)
		}
		if p.Baud() != tc.baud {
			t.Fatalf("%s: Baud() = %d, want %d", tc.id, p.Baud(), tc.baud)
		}
	}
}

func TestEncodeGearLayout(t *testing.T) {
	gears := []vehicle.Gear{vehicle.Park, vehicle.Reverse, vehicle.Neutral, vehicle.Drive}
	for _, tc := range layouts {
		p, _ := NewRegistry().Lookup(tc.id)
		for gi, g := range gears {
			fr := p.EncodeGear(g)
			if fr.DLC != 8 {
				t.Fatalf("%s/%s: DLC = %d", tc.id, g, fr.DLC)
			}
			if fr.ID != tc.gearID {
				t.Fatalf("%s/%s: ID = 0x%X", tc.id, g, fr.ID)
			}
			for i, b := range fr.Data {
				switch {
				case i == tc.gearOff && b != tc.gears[gi]:
					t.Fatalf("%s/%s: byte[%d] = 0x%02X, want 0x%02X", tc.id, g, i, b, tc.gears[gi])
				case i != tc.gearOff && b != 0:
					t.Fatalf("%s/%s: byte[%d] = 0x%02X, want 0", tc.id, g, i, b)
				}
			}
		}
	}
}

func TestEncodeSpeedRoundTrip(t *testing.T) {
	for _, tc := range layouts {
		p, _ := NewRegistry().Lookup(tc.id)
		for v := 0; v <= 250; v++ {
			fr := p.EncodeSpeed(v)
			if fr.DLC != 8 || fr.ID != tc.speedID {
				t.Fatalf("%s: frame %v", tc.id, fr)
			}
			for i, b := range fr.Data {
				if (i == tc.speedOff || i == tc.speedOff+1) || b == 0 {
					continue
				}
				t.Fatalf("%s: speed %d leaked into byte[%d] = 0x%02X", tc.id, v, i, b)
			}
			got := p.DecodeSpeed(fr)
			if got < v-1 || got > v+1 {
				t.Fatalf("%s: round trip %d -> %d", tc.id, v, got)
			}
		}
	}
}

// The reference VW T7 scenario: Drive at 100 km/h.
func TestVWT7ReferenceFrames(t *testing.T) {
	p, _ := NewRegistry().Lookup(vehicle.VWT7)

	gear := p.EncodeGear(vehicle.Drive)
	wantGear := [8]byte{0, 0, 0, 0, 0, 0x02, 0, 0}
	if gear.ID != 0x3DC || gear.DLC != 8 || gear.Data != wantGear {
		t.Fatalf("gear frame %v", gear)
	}

	speed := p.EncodeSpeed(100)
	// 100 / 0.01 = 10000 = 0x2710, little-endian at bytes 4-5
	wantSpeed := [8]byte{0, 0, 0, 0, 0x10, 0x27, 0, 0}
	if speed.ID != 0x0FD || speed.DLC != 8 || speed.Data != wantSpeed {
		t.Fatalf("speed frame %v", speed)
	}
}

func TestGearTableInjective(t *testing.T) {
	for _, tc := range layouts {
		p, _ := NewRegistry().Lookup(tc.id)
		seen := map[byte]vehicle.Gear{}
		for _, g := range []vehicle.Gear{vehicle.Park, vehicle.Reverse, vehicle.Neutral, vehicle.Drive} {
			b := p.EncodeGear(g).Data[tc.gearOff]
			if prev, dup := seen[b]; dup {
				t.Fatalf("%s: gear byte 0x%02X shared by %s and %s", tc.id, b, prev, g)
			}
			seen[b] = g
		}
	}
}

func TestEncodeGearOutOfRangeDefaultsToPark(t *testing.T) {
	p, _ := NewRegistry().Lookup(vehicle.VWT7)
	if fr := p.EncodeGear(vehicle.Gear(99)); fr.Data[5] != 0x05 {
		t.Fatalf("out-of-range gear byte = 0x%02X, want park", fr.Data[5])
	}
}
