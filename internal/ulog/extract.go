package ulog

import (
	"encoding/binary"
	"fmt"
	"math"

	"example.com/uavlog/internal/common"
	"example.com/uavlog/internal/timeseries"
)

const (
	topicAttitude   = "vehicle_attitude"
	topicGPS        = "vehicle_gps_position"
	topicLocal      = "vehicle_local_position"
	topicAngularVel = "vehicle_angular_velocity"
	topicRateSP     = "vehicle_rates_setpoint"
	topicStatus     = "vehicle_status"
	topicSensors    = "sensor_combined"
	topicIMUStatus  = "vehicle_imu_status"
	topicFlow       = "vehicle_optical_flow"
	topicFlowLegacy = "optical_flow"

	microsPerSecond = 1e6
	degPerRad       = 180 / math.Pi

	// Vibration is the rolling standard deviation over this many raw
	// accelerometer samples. Sample-count based, not time based, so the
	// effective time window follows the IMU rate.
	vibeWindow = 25
)

// capture binds one scalar slot of a topic's wire format to a canonical
// output column, with an optional unit scale.
type capture struct {
	column string
	slot   fieldSlot
	scale  float64
}

// subscription is the decode plan for one subscribed topic.
type subscription struct {
	topic     string
	timeSlot  fieldSlot
	captures  []capture
	constants map[string]float64
	table     *timeseries.Table
}

// topicPlan resolves the wanted columns of a topic against its declared
// format. A nil result with error means the topic is unusable and must be
// dropped, not that the file is bad.
type topicPlan func(slots map[string]fieldSlot) ([]capture, map[string]float64, error)

// wanted names one required field of a topic and the canonical column it
// feeds. A zero scale means 1.
type wanted struct {
	field  string
	column string
	scale  float64
}

func requireAll(fields ...wanted) topicPlan {
	return func(slots map[string]fieldSlot) ([]capture, map[string]float64, error) {
		caps := make([]capture, 0, len(fields))
		for _, w := range fields {
			slot, ok := slots[w.field]
			if !ok {
				return nil, nil, fmt.Errorf("field %q missing", w.field)
			}
			scale := w.scale
			if scale == 0 {
				scale = 1
			}
			caps = append(caps, capture{column: w.column, slot: slot, scale: scale})
		}
		return caps, nil, nil
	}
}

var topicPlans = map[string]topicPlan{
	topicAttitude: requireAll(
		wanted{field: "q[0]", column: "q0"},
		wanted{field: "q[1]", column: "q1"},
		wanted{field: "q[2]", column: "q2"},
		wanted{field: "q[3]", column: "q3"},
	),
	// Firmware logs lat/lon as 1e7-scaled integers and alt in millimeters.
	topicGPS: requireAll(
		wanted{field: "lat", column: "lat", scale: 1e-7},
		wanted{field: "lon", column: "lon", scale: 1e-7},
		wanted{field: "alt", column: "alt", scale: 1e-3},
	),
	topicLocal: requireAll(
		wanted{field: "x", column: "loc_x"},
		wanted{field: "y", column: "loc_y"},
		wanted{field: "z", column: "loc_z"},
	),
	// Body rates are native rad/s; the tick-log family logs deg/s, so
	// convert here for cross-firmware comparability.
	topicAngularVel: requireAll(
		wanted{field: "xyz[0]", column: "rate_roll", scale: degPerRad},
		wanted{field: "xyz[1]", column: "rate_pitch", scale: degPerRad},
		wanted{field: "xyz[2]", column: "rate_yaw", scale: degPerRad},
	),
	topicRateSP: requireAll(
		wanted{field: "roll", column: "rate_roll_des", scale: degPerRad},
		wanted{field: "pitch", column: "rate_pitch_des", scale: degPerRad},
		wanted{field: "yaw", column: "rate_yaw_des", scale: degPerRad},
	),
	topicStatus: requireAll(
		wanted{field: "nav_state", column: "mode"},
	),
	topicSensors: requireAll(
		wanted{field: "accelerometer_m_s2[0]", column: "acc_x"},
		wanted{field: "accelerometer_m_s2[1]", column: "acc_y"},
		wanted{field: "accelerometer_m_s2[2]", column: "acc_z"},
	),
	topicIMUStatus:  planIMUClipping,
	topicFlow:       planOpticalFlow,
	topicFlowLegacy: planOpticalFlow,
}

// planIMUClipping accepts either the three-axis clipping array or the older
// scalar field. A scalar maps to axis 0 with zeros synthesized for the rest.
func planIMUClipping(slots map[string]fieldSlot) ([]capture, map[string]float64, error) {
	if slot, ok := slots["accel_clipping[0]"]; ok {
		caps := []capture{{column: "clip_0", slot: slot, scale: 1}}
		for i, col := range []string{"clip_1", "clip_2"} {
			s, ok := slots[fmt.Sprintf("accel_clipping[%d]", i+1)]
			if !ok {
				return nil, nil, fmt.Errorf("clipping axis %d missing", i+1)
			}
			caps = append(caps, capture{column: col, slot: s, scale: 1})
		}
		return caps, nil, nil
	}
	if slot, ok := slots["accel_clipping"]; ok {
		caps := []capture{{column: "clip_0", slot: slot, scale: 1}}
		return caps, map[string]float64{"clip_1": 0, "clip_2": 0}, nil
	}
	return nil, nil, fmt.Errorf("no clipping field")
}

// planOpticalFlow probes the three known flow field naming schemes in
// priority order and maps whichever is found to flow_x/flow_y.
func planOpticalFlow(slots map[string]fieldSlot) ([]capture, map[string]float64, error) {
	schemes := [][2]string{
		{"pixel_flow[0]", "pixel_flow[1]"},
		{"pixel_flow_x_integral", "pixel_flow_y_integral"},
		{"integrated_x", "integrated_y"},
	}
	for _, scheme := range schemes {
		sx, okX := slots[scheme[0]]
		sy, okY := slots[scheme[1]]
		if !okX || !okY {
			continue
		}
		caps := []capture{
			{column: "flow_x", slot: sx, scale: 1},
			{column: "flow_y", slot: sy, scale: 1},
		}
		if sq, ok := slots["quality"]; ok {
			caps = append(caps, capture{column: "flow_quality", slot: sq, scale: 1})
		}
		return caps, nil, nil
	}
	return nil, nil, fmt.Errorf("no known flow field scheme")
}

// ExtractTable decodes the ULog at path into the canonical table, built on
// the attitude timeline with every other topic as-of merged onto it. A log
// without attitude data yields an empty table, not an error.
func ExtractTable(path string, metrics *common.Metrics) (*timeseries.Table, error) {
	r, err := NewReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if metrics != nil {
		r.SetMetrics(metrics)
	}

	topics, err := collectTopics(r)
	if err != nil {
		return nil, err
	}
	att, ok := topics[topicAttitude]
	if !ok || att.Len() == 0 {
		return timeseries.New(), nil
	}

	main := attitudeEuler(att)

	if status, ok := topics[topicStatus]; ok {
		main.MergeAsOf(status)
	}
	if gps, ok := topics[topicGPS]; ok {
		main.MergeAsOf(gps)
	}
	if local, ok := topics[topicLocal]; ok {
		main.MergeAsOf(local)
	}
	act, haveAct := topics[topicAngularVel]
	des, haveDes := topics[topicRateSP]
	if haveAct && haveDes {
		main.MergeAsOf(act)
		main.MergeAsOf(des)
	}
	if flow, ok := topics[topicFlow]; ok {
		main.MergeAsOf(flow)
	} else if flow, ok := topics[topicFlowLegacy]; ok {
		main.MergeAsOf(flow)
	}
	if acc, ok := topics[topicSensors]; ok {
		main.MergeAsOf(vibrationFromAccel(acc))
	}
	if clip, ok := topics[topicIMUStatus]; ok {
		main.MergeAsOf(clip)
	}
	if metrics != nil {
		metrics.AddRows(int64(main.Len()))
	}
	return main, nil
}

// collectTopics runs one pass over the container, subscribing to the topics
// of interest and materializing a per-topic table. A topic that fails to
// plan or decode is dropped; partial extraction beats total failure.
func collectTopics(r *Reader) (map[string]*timeseries.Table, error) {
	formats := make(map[string]*formatDef)
	subs := make(map[uint16]*subscription)
	broken := make(map[uint16]bool)

	for {
		rec, err := r.next()
		if err != nil {
			break
		}
		switch rec.typ {
		case msgFormat:
			def, err := parseFormat(rec.body)
			if err != nil {
				common.Logf("ulog: %v", err)
				continue
			}
			formats[def.name] = def
		case msgAddLogged:
			if len(rec.body) < 3 {
				continue
			}
			multiID := rec.body[0]
			msgID := binary.LittleEndian.Uint16(rec.body[1:3])
			name := string(rec.body[3:])
			plan, ok := topicPlans[name]
			if !ok || multiID != 0 {
				continue
			}
			def, ok := formats[name]
			if !ok {
				common.Logf("ulog: subscription to %s before its format", name)
				continue
			}
			sub, err := buildSubscription(name, def, formats, plan)
			if err != nil {
				common.Logf("ulog: dropping topic %s: %v", name, err)
				continue
			}
			subs[msgID] = sub
		case msgData:
			if len(rec.body) < 2 {
				continue
			}
			msgID := binary.LittleEndian.Uint16(rec.body[0:2])
			sub, ok := subs[msgID]
			if !ok || broken[msgID] {
				continue
			}
			if err := sub.appendSample(rec.body[2:]); err != nil {
				common.Logf("ulog: dropping topic %s: %v", sub.topic, err)
				broken[msgID] = true
			}
		}
	}

	topics := make(map[string]*timeseries.Table)
	for msgID, sub := range subs {
		if broken[msgID] || sub.table.Len() == 0 {
			continue
		}
		sub.table.SortByTime()
		topics[sub.topic] = sub.table
	}
	return topics, nil
}

func buildSubscription(name string, def *formatDef, formats map[string]*formatDef, plan topicPlan) (*subscription, error) {
	slots, err := fieldOffsets(def, formats)
	if err != nil {
		return nil, err
	}
	timeSlot, ok := slots["timestamp"]
	if !ok || timeSlot.typeName != "uint64_t" {
		return nil, fmt.Errorf("no uint64 timestamp field")
	}
	captures, constants, err := plan(slots)
	if err != nil {
		return nil, err
	}
	return &subscription{
		topic:     name,
		timeSlot:  timeSlot,
		captures:  captures,
		constants: constants,
		table:     timeseries.New(),
	}, nil
}

func (s *subscription) appendSample(data []byte) error {
	ts, ok := readScalar(data, s.timeSlot)
	if !ok {
		return fmt.Errorf("record too short for timestamp")
	}
	values := make(map[string]timeseries.Value, len(s.captures)+len(s.constants))
	for _, c := range s.captures {
		v, ok := readScalar(data, c.slot)
		if !ok {
			// Trailing padding may be elided from the wire; treat a
			// short read as an absent cell.
			continue
		}
		values[c.column] = timeseries.Float(v * c.scale)
	}
	for col, v := range s.constants {
		values[col] = timeseries.Float(v)
	}
	s.table.AppendRow(ts/microsPerSecond, values)
	return nil
}

func readScalar(data []byte, slot fieldSlot) (float64, bool) {
	size := scalarSizes[slot.typeName]
	if slot.offset+size > len(data) {
		return 0, false
	}
	raw := data[slot.offset : slot.offset+size]
	switch slot.typeName {
	case "int8_t":
		return float64(int8(raw[0])), true
	case "uint8_t", "bool":
		return float64(raw[0]), true
	case "int16_t":
		return float64(int16(binary.LittleEndian.Uint16(raw))), true
	case "uint16_t":
		return float64(binary.LittleEndian.Uint16(raw)), true
	case "int32_t":
		return float64(int32(binary.LittleEndian.Uint32(raw))), true
	case "uint32_t":
		return float64(binary.LittleEndian.Uint32(raw)), true
	case "int64_t":
		return float64(int64(binary.LittleEndian.Uint64(raw))), true
	case "uint64_t":
		return float64(binary.LittleEndian.Uint64(raw)), true
	case "float":
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(raw))), true
	case "double":
		return math.Float64frombits(binary.LittleEndian.Uint64(raw)), true
	}
	return 0, false
}

// attitudeEuler converts the quaternion topic into roll/pitch/yaw degrees.
// The asin argument is clamped to [-1, 1]; floating-point overshoot on
// normalized quaternions otherwise produces NaN pitch.
func attitudeEuler(att *timeseries.Table) *timeseries.Table {
	out := timeseries.New()
	for i := 0; i < att.Len(); i++ {
		w := att.At("q0", i)
		x := att.At("q1", i)
		y := att.At("q2", i)
		z := att.At("q3", i)
		if !w.Valid() || !x.Valid() || !y.Valid() || !z.Valid() {
			continue
		}
		roll, pitch, yaw := quatToEuler(w.Float(), x.Float(), y.Float(), z.Float())
		out.AppendRow(att.Time(i), map[string]timeseries.Value{
			"roll":  timeseries.Float(roll),
			"pitch": timeseries.Float(pitch),
			"yaw":   timeseries.Float(yaw),
		})
	}
	return out
}

func quatToEuler(w, x, y, z float64) (roll, pitch, yaw float64) {
	roll = math.Atan2(2*(w*x+y*z), 1-2*(x*x+y*y)) * degPerRad
	sinp := 2 * (w*y - z*x)
	if sinp > 1 {
		sinp = 1
	} else if sinp < -1 {
		sinp = -1
	}
	pitch = math.Asin(sinp) * degPerRad
	yaw = math.Atan2(2*(w*z+x*y), 1-2*(y*y+z*z)) * degPerRad
	return roll, pitch, yaw
}

// vibrationFromAccel derives vibe_x/y/z as the rolling sample standard
// deviation of each raw accelerometer axis. Rows without a full window are
// filled with 0 rather than left absent.
func vibrationFromAccel(acc *timeseries.Table) *timeseries.Table {
	axes := [][2]string{{"acc_x", "vibe_x"}, {"acc_y", "vibe_y"}, {"acc_z", "vibe_z"}}
	out := timeseries.New()
	series := make(map[string][]float64, len(axes))
	for _, axis := range axes {
		floats, _, err := acc.FloatColumn(axis[0])
		if err != nil {
			return out
		}
		series[axis[1]] = rollingStd(floats, vibeWindow)
	}
	for i := 0; i < acc.Len(); i++ {
		values := make(map[string]timeseries.Value, len(axes))
		for _, axis := range axes {
			values[axis[1]] = timeseries.Float(series[axis[1]][i])
		}
		out.AppendRow(acc.Time(i), values)
	}
	return out
}

// rollingStd computes the sample standard deviation over a trailing window
// of exactly window elements, emitting 0 until the window is full.
func rollingStd(xs []float64, window int) []float64 {
	out := make([]float64, len(xs))
	if window < 2 {
		return out
	}
	var sum, sumSq float64
	for i, x := range xs {
		sum += x
		sumSq += x * x
		if i >= window {
			old := xs[i-window]
			sum -= old
			sumSq -= old * old
		}
		if i >= window-1 {
			n := float64(window)
			variance := (sumSq - sum*sum/n) / (n - 1)
			if variance < 0 {
				variance = 0
			}
			out[i] = math.Sqrt(variance)
		}
	}
	return out
}
