package dataflash

import (
	"errors"
	"io"
	"sort"

	"example.com/uavlog/internal/common"
	"example.com/uavlog/internal/timeseries"
)

// fieldAlias binds one canonical column to the field spellings that carry it,
// in priority order. Firmware builds renamed several fields over the years;
// keeping the full alias list here makes additions auditable in one place.
type fieldAlias struct {
	column  string
	names   []string
	zeroing bool // absent field records 0 instead of an absent cell
}

var messageFields = map[string][]fieldAlias{
	"ATT": {
		{column: "roll", names: []string{"Roll"}},
		{column: "pitch", names: []string{"Pitch"}},
		{column: "yaw", names: []string{"Yaw"}},
	},
	"GPS": {
		{column: "lat", names: []string{"Lat"}},
		{column: "lon", names: []string{"Lng"}},
		{column: "alt", names: []string{"Alt"}},
	},
	"VIBE": {
		{column: "vibe_x", names: []string{"VibeX"}},
		{column: "vibe_y", names: []string{"VibeY"}},
		{column: "vibe_z", names: []string{"VibeZ"}},
		{column: "clip_0", names: []string{"Clip0", "Clipping0"}, zeroing: true},
		{column: "clip_1", names: []string{"Clip1", "Clipping1"}, zeroing: true},
		{column: "clip_2", names: []string{"Clip2", "Clipping2"}, zeroing: true},
	},
	"RATE": {
		{column: "rate_roll", names: []string{"R", "Roll"}},
		{column: "rate_roll_des", names: []string{"RDes", "DesRoll"}},
		{column: "rate_pitch", names: []string{"P", "Pitch"}},
		{column: "rate_pitch_des", names: []string{"PDes", "DesPitch"}},
		{column: "rate_yaw", names: []string{"Y", "Yaw"}},
		{column: "rate_yaw_des", names: []string{"YDes", "DesYaw"}},
	},
	"MODE": {
		{column: "mode", names: []string{"Mode", "ModeNum"}},
	},
}

// MessageTypes lists the DataFlash message names the extractor consumes.
func MessageTypes() []string {
	names := make([]string, 0, len(messageFields))
	for name := range messageFields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ExtractTable decodes the log at path into one time-sorted table on the
// canonical column vocabulary. The table is not yet forward-filled; alignment
// belongs to the caller.
func ExtractTable(path string, metrics *common.Metrics) (*timeseries.Table, error) {
	r, err := NewReader(path, MessageTypes())
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if metrics != nil {
		r.SetMetrics(metrics)
	}

	table := timeseries.New()
	for {
		msg, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		aliases, ok := messageFields[msg.Name]
		if !ok {
			continue
		}
		values := make(map[string]timeseries.Value, len(aliases))
		for _, a := range aliases {
			if v, found := msg.Float(a.names...); found {
				values[a.column] = timeseries.Float(v)
			} else if a.zeroing {
				values[a.column] = timeseries.Float(0)
			}
		}
		table.AppendRow(msg.Time, values)
	}
	table.SortByTime()
	if metrics != nil {
		metrics.AddRows(int64(table.Len()))
	}
	return table, nil
}
