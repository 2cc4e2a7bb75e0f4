package flight

import (
	"path/filepath"
	"strings"

	"example.com/uavlog/internal/common"
	"example.com/uavlog/internal/dataflash"
	"example.com/uavlog/internal/flightmode"
	"example.com/uavlog/internal/timeseries"
	"example.com/uavlog/internal/ulog"
)

// homeWindow is how many leading aligned rows average into the ground
// reference for relative altitude. The vehicle is assumed stationary at log
// start.
const homeWindow = 50

// Result is one decoded, aligned flight. An unreadable or unrecognized file
// decodes to an empty Result rather than an error; callers check Empty()
// before consuming the table.
type Result struct {
	Path     string
	Firmware flightmode.Firmware
	Table    *timeseries.Table
}

func (r *Result) Empty() bool {
	return r == nil || r.Table == nil || r.Table.Len() == 0
}

// Modes resolves the flight-mode timeline of the aligned table.
func (r *Result) Modes() []flightmode.Segment {
	if r.Empty() {
		return nil
	}
	return flightmode.Segments(r.Table, r.Firmware)
}

// Decode sniffs the log family from the file extension, runs the matching
// decoder, aligns the table and derives relative altitude.
func Decode(path string) (*Result, error) {
	return DecodeWithMetrics(path, nil)
}

// DecodeWithMetrics is Decode with an optional throughput recorder attached
// to the underlying reader.
func DecodeWithMetrics(path string, metrics *common.Metrics) (*Result, error) {
	if metrics != nil {
		metrics.Start()
		defer metrics.Stop()
	}
	res := &Result{Path: path, Table: timeseries.New()}
	var (
		table *timeseries.Table
		err   error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".bin":
		res.Firmware = flightmode.FirmwareArdu
		table, err = dataflash.ExtractTable(path, metrics)
	case ".ulg":
		res.Firmware = flightmode.FirmwarePX4
		table, err = ulog.ExtractTable(path, metrics)
	default:
		common.Logf("flight: %s: unrecognized log extension", path)
		return res, nil
	}
	if err != nil {
		// Load failure: no partial data crosses the decode boundary.
		common.Logf("flight: %s: %v", path, err)
		return res, nil
	}
	table.ForwardFill()
	deriveRelativeAlt(table)
	res.Table = table
	return res, nil
}

// deriveRelativeAlt adds the relative_alt column. Preference order:
// barometric/GPS altitude against the mean of the first homeWindow rows,
// else negated local NED z offset, else constant 0.
func deriveRelativeAlt(t *timeseries.Table) {
	if t.Len() == 0 {
		return
	}
	switch {
	case t.HasColumn("alt"):
		ref, ok := meanLeading(t, "alt", homeWindow)
		if !ok {
			return
		}
		for i := 0; i < t.Len(); i++ {
			if v := t.At("alt", i); v.Valid() {
				t.Set("relative_alt", i, timeseries.Float(v.Float()-ref))
			}
		}
	case t.HasColumn("loc_z"):
		ref, ok := meanLeading(t, "loc_z", homeWindow)
		if !ok {
			return
		}
		// NED z grows downward; altitude is the negated offset.
		for i := 0; i < t.Len(); i++ {
			if v := t.At("loc_z", i); v.Valid() {
				t.Set("relative_alt", i, timeseries.Float(-(v.Float() - ref)))
			}
		}
	default:
		for i := 0; i < t.Len(); i++ {
			t.Set("relative_alt", i, timeseries.Float(0))
		}
	}
}

// meanLeading averages the valid cells of a column over the first n rows.
func meanLeading(t *timeseries.Table, column string, n int) (float64, bool) {
	if n > t.Len() {
		n = t.Len()
	}
	sum := 0.0
	count := 0
	for i := 0; i < n; i++ {
		if v := t.At(column, i); v.Valid() {
			sum += v.Float()
			count++
		}
	}
	if count == 0 {
		return 0, false
	}
	return sum / float64(count), true
}
