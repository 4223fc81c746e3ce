// Package vehicle defines the selectable vehicle identifiers and the gear
// positions the simulator can report. The label table is the authoritative
// set of identifiers a user may select; whether an identifier also has a
// CAN encoding profile is decided elsewhere.
package vehicle

import (
	"fmt"
	"sort"
)

// ID identifies one vehicle family (one value per selector button).
type ID int

const (
	VWT5 ID = iota + 1
	VWT6
	VWT61
	VWT7
	MBSprinter
	MBSprinter2023
	JeepRenegade
	JeepRenegadeMHEV
	MBViano
)

// labels maps every selectable identifier to its display name. This is a
// superset of the identifiers that resolve to an encoding profile:
// selecting a label-only vehicle is valid and simply transmits nothing.
var labels = map[ID]string{
	VWT5:             "VW T5",
	VWT6:             "VW T6",
	VWT61:            "VW T6.1",
	VWT7:             "VW T7",
	MBSprinter:       "M Sprinter",
	MBSprinter2023:   "Mercedes Sprinter 2023",
	JeepRenegade:     "Jeep Renegade",
	JeepRenegadeMHEV: "Jeep Renegade MHEV",
	MBViano:          "Mercedes Viano",
}

// codes are the wire names used by the JSON command protocol.
var codes = map[ID]string{
	VWT5:             "VWT5",
	VWT6:             "VWT6",
	VWT61:            "VWT61",
	VWT7:             "VWT7",
	MBSprinter:       "MB_SPRINTER",
	MBSprinter2023:   "MB_SPRINTER_2023",
	JeepRenegade:     "JEEP_RENEGADE",
	JeepRenegadeMHEV: "JEEP_RENEGADE_MHEV",
	MBViano:          "MB_VIANO",
}

var codeToID = func() map[string]ID {
	m := make(map[string]ID, len(codes))
	for id, c := range codes {
		m[c] = id
	}
	return m
}()

// Known reports whether id is present in the label table.
func Known(id ID) bool { _, ok := labels[id]; return ok }

// Label returns the display name for id, or "" if unknown.
func Label(id ID) string { return labels[id] }

// String returns the protocol code for id.
func (id ID) String() string {
	if c, ok := codes[id]; ok {
		return c
	}
	return fmt.Sprintf("ID(%d)", int(id))
}

// ParseID resolves a protocol code to an identifier.
func ParseID(code string) (ID, error) {
	if id, ok := codeToID[code]; ok {
		return id, nil
	}
	return 0, fmt.Errorf("unknown vehicle %q", code)
}

// All returns every selectable identifier in stable order.
func All() []ID {
	ids := make([]ID, 0, len(labels))
	for id := range labels {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Gear is a transmission gear position.
type Gear int

const (
	Park Gear = iota
	Reverse
	Neutral
	Drive
)

var gearNames = [...]string{"PARK", "REVERSE", "NEUTRAL", "DRIVE"}

func (g Gear) String() string {
	if g < Park || g > Drive {
		return fmt.Sprintf("Gear(%d)", int(g))
	}
	return gearNames[g]
}

// ParseGear resolves a protocol gear name. Anything outside the four
// positions is an error; there is no lenient fallback.
func ParseGear(name string) (Gear, error) {
	for i, n := range gearNames {
		if n == name {
			return Gear(i), nil
		}
	}
	return Park, fmt.Errorf("invalid gear %q", name)
}
