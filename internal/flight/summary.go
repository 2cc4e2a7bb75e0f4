package flight

import (
	"example.com/uavlog/internal/flightmode"
	"example.com/uavlog/internal/timeseries"
)

// Vibration verdict thresholds in m/s², per the ArduPilot measuring-vibration
// guidance: below 15 is healthy, 15 to 30 deserves a look, above 30 risks
// position-estimate divergence.
const (
	VibeWarnLevel   = 15.0
	VibeDangerLevel = 30.0
)

// Vibration verdict labels.
const (
	VibeVerdictNone    = "no-data"
	VibeVerdictNormal  = "normal"
	VibeVerdictWarning = "warning"
	VibeVerdictDanger  = "danger"
)

// Summary condenses one decoded flight for listings, reports and the HTTP
// surface. Capability flags mirror column presence; consumers branch on
// these rather than poking at the table.
type Summary struct {
	Path           string               `json:"path,omitempty"`
	Firmware       flightmode.Firmware  `json:"firmware"`
	Rows           int                  `json:"rows"`
	StartTime      float64              `json:"startTime"`
	EndTime        float64              `json:"endTime"`
	Duration       float64              `json:"duration"`
	MaxRelativeAlt float64              `json:"maxRelativeAlt"`
	MaxVibration   float64              `json:"maxVibration"`
	VibeVerdict    string               `json:"vibeVerdict"`
	ClipCount      float64              `json:"clipCount"`
	HasGPS         bool                 `json:"hasGPS"`
	HasVibration   bool                 `json:"hasVibration"`
	HasRates       bool                 `json:"hasRates"`
	HasFlow        bool                 `json:"hasFlow"`
	Modes          []flightmode.Segment `json:"modes,omitempty"`
}

// Summarize derives the flight summary from a decoded result. An empty
// result produces a zero summary with the firmware tag preserved.
func Summarize(r *Result) Summary {
	s := Summary{Path: r.Path, Firmware: r.Firmware, VibeVerdict: VibeVerdictNone}
	if r.Empty() {
		return s
	}
	t := r.Table
	s.Rows = t.Len()
	s.StartTime = t.Time(0)
	s.EndTime = t.Time(t.Len() - 1)
	s.Duration = s.EndTime - s.StartTime
	s.HasGPS = t.HasColumn("lat") && t.HasColumn("lon")
	s.HasVibration = t.HasColumn("vibe_x")
	s.HasRates = t.HasColumn("rate_roll")
	s.HasFlow = t.HasColumn("flow_quality")
	if v, ok := columnMax(t, "relative_alt"); ok {
		s.MaxRelativeAlt = v
	}
	if s.HasVibration {
		max := 0.0
		for _, col := range []string{"vibe_x", "vibe_y", "vibe_z"} {
			if v, ok := columnMax(t, col); ok && v > max {
				max = v
			}
		}
		s.MaxVibration = max
		switch {
		case max > VibeDangerLevel:
			s.VibeVerdict = VibeVerdictDanger
		case max > VibeWarnLevel:
			s.VibeVerdict = VibeVerdictWarning
		default:
			s.VibeVerdict = VibeVerdictNormal
		}
	}
	// Clipping counters are cumulative; the peak of each axis summed is
	// the total clip count for the flight.
	for _, col := range []string{"clip_0", "clip_1", "clip_2"} {
		if v, ok := columnMax(t, col); ok {
			s.ClipCount += v
		}
	}
	s.Modes = r.Modes()
	return s
}

func columnMax(t *timeseries.Table, column string) (float64, bool) {
	max := 0.0
	found := false
	for i := 0; i < t.Len(); i++ {
		v := t.At(column, i)
		if !v.Valid() {
			continue
		}
		if !found || v.Float() > max {
			max = v.Float()
			found = true
		}
	}
	return max, found
}
