package flightmode

import (
	"fmt"
	"strings"

	"example.com/uavlog/internal/timeseries"
)

// Firmware selects which mode-code table applies to a decoded log.
type Firmware string

const (
	FirmwareArdu Firmware = "Ardu"
	FirmwarePX4  Firmware = "PX4"
)

// arduModes maps tick-log family mode codes to names. Codes 10/3 and 12/5
// intentionally collide (Auto, Loiter): the firmware renumbered modes across
// eras and logs from both eras are still in circulation.
var arduModes = map[int]string{
	0:  "Stabilize",
	1:  "Acro",
	2:  "AltHold",
	3:  "Auto",
	4:  "Guided",
	5:  "Loiter",
	6:  "RTL",
	7:  "Circle",
	8:  "Position",
	9:  "Land",
	10: "Auto",
	11: "Drift",
	12: "Loiter",
	13: "Sport",
	14: "Flip",
	15: "AutoTune",
	16: "PosHold",
	17: "Brake",
	18: "Throw",
	19: "AvoidADSB",
	20: "GuidedNoGPS",
	21: "SmartRTL",
	22: "FlowHold",
	23: "Follow",
	24: "ZigZag",
	25: "SystemID",
	26: "Autorotate",
	27: "AutoRTL",
	28: "Turtle",
}

// px4Modes maps structured-log nav_state codes to names, with the same
// renumbering collisions at 17/10, 18/11, 19/14 and 20/15.
var px4Modes = map[int]string{
	0:  "Manual",
	1:  "Altctl",
	2:  "Posctl",
	3:  "Mission",
	4:  "Loiter",
	5:  "RTL",
	6:  "Acro",
	7:  "Offboard",
	8:  "Stabilized",
	10: "Takeoff",
	11: "Land",
	12: "Descend",
	14: "Follow",
	15: "Precland",
	17: "Takeoff",
	18: "Land",
	19: "Follow",
	20: "Precland",
}

func table(fw Firmware) map[int]string {
	if fw == FirmwarePX4 {
		return px4Modes
	}
	return arduModes
}

// ResolveCode maps a numeric mode code to its canonical uppercase name. An
// unknown code resolves to a synthesized placeholder instead of failing.
func ResolveCode(fw Firmware, code int) string {
	if name, ok := table(fw)[code]; ok {
		return strings.ToUpper(name)
	}
	return fmt.Sprintf("Mode %d", code)
}

// ResolveName normalizes an already-textual mode value.
func ResolveName(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

// Segment is a maximal contiguous span of one resolved mode name.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Mode  string  `json:"mode"`
}

// Segments resolves the mode column of an aligned table and collapses
// consecutive identical resolved names into spans. The spans partition the
// portion of the timeline where a mode value is known; rows before the first
// mode observation carry no mode and produce no segment.
func Segments(t *timeseries.Table, fw Firmware) []Segment {
	if t == nil || !t.HasColumn("mode") {
		return nil
	}
	var segs []Segment
	for i := 0; i < t.Len(); i++ {
		v := t.At("mode", i)
		if !v.Valid() {
			continue
		}
		var name string
		if v.Kind() == timeseries.KindString {
			name = ResolveName(v.String())
		} else {
			name = ResolveCode(fw, int(v.Float()))
		}
		ts := t.Time(i)
		if n := len(segs); n > 0 && segs[n-1].Mode == name {
			segs[n-1].End = ts
			continue
		}
		if n := len(segs); n > 0 {
			// Segments partition the timeline: the previous mode
			// holds right up to the switch.
			segs[n-1].End = ts
		}
		segs = append(segs, Segment{Start: ts, End: ts, Mode: name})
	}
	return segs
}
