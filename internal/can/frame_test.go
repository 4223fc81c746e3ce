package can

import "testing"

func TestFrameValidate(t *testing.T) {
	tests := []struct {
		name string
		fr   Frame
		ok   bool
	}{
		{"stdOK", Frame{ID: 0x3DC, DLC: 8}, true},
		{"stdMax", Frame{ID: MaxStdID, DLC: 0}, true},
		{"stdTooBig", Frame{ID: MaxStdID + 1, DLC: 0}, false},
		{"extOK", Frame{ID: 0x1ABCDEF, Extended: true, DLC: 8}, true},
		{"extTooBig", Frame{ID: MaxExtID + 1, Extended: true, DLC: 0}, false},
		{"dlcTooBig", Frame{ID: 0x100, DLC: 9}, false},
	}
	for _, tc := range tests {
		if err := tc.fr.Validate(); (err == nil) != tc.ok {
			t.Fatalf("%s: Validate() = %v, want ok=%v", tc.name, err, tc.ok)
		}
	}
}

func TestFrameString(t *testing.T) {
	fr := Frame{ID: 0xFD, DLC: 3}
	fr.Data[0], fr.Data[1], fr.Data[2] = 0x10, 0x27, 0x00
	if got := fr.String(); got != "0FD#102700" {
		t.Fatalf("String() = %q", got)
	}
}
