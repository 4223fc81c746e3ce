package bus

// TimingConfig is a fixed bit-timing configuration matched to a target
// bus bit rate, expressed in controller quanta the way CAN silicon
// expects it.
type TimingConfig struct {
	BRP            uint32 // baud rate prescaler
	TSeg1          uint32
	TSeg2          uint32
	SJW            uint32
	TripleSampling bool
}

// Presets for the bit rates the supported vehicles use. Segment values
// match the reference controller configuration; only the prescaler
// changes with the rate.
var (
	Preset500K = TimingConfig{BRP: 8, TSeg1: 15, TSeg2: 4, SJW: 3}
	Preset250K = TimingConfig{BRP: 16, TSeg1: 15, TSeg2: 4, SJW: 3}
	Preset125K = TimingConfig{BRP: 32, TSeg1: 15, TSeg2: 4, SJW: 3}
)

// PresetFor maps a profile baud rate to its timing preset. The second
// return is false for unrecognized rates; callers fall back to
// Preset500K and log a warning.
func PresetFor(baud int) (TimingConfig, bool) {
	switch baud {
	case 500000:
		return Preset500K, true
	case 250000:
		return Preset250K, true
	case 125000:
		return Preset125K, true
	default:
		return Preset500K, false
	}
}

// BitRate reports the bit rate a preset is configured for, assuming the
// reference 80 MHz controller clock.
func (t TimingConfig) BitRate() int {
	if t.BRP == 0 {
		return 0
	}
	quanta := 1 + t.TSeg1 + t.TSeg2
	return int(80_000_000 / (t.BRP * quanta))
}
