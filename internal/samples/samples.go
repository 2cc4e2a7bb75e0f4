package samples

import (
	"bytes"
	"encoding/binary"
	"math"
)

// Builders for deterministic synthetic flight logs. The encoders here mirror
// what the firmware log writers produce and are intentionally independent of
// the decoders under test.

// DataFlash framing.
const (
	dfHead0  = 0xA3
	dfHead1  = 0x95
	dfFMTID  = 0x80
	dfFMTLen = 89
)

var dfSizes = map[byte]int{
	'b': 1, 'B': 1, 'M': 1,
	'h': 2, 'H': 2, 'c': 2, 'C': 2,
	'i': 4, 'I': 4, 'e': 4, 'E': 4, 'L': 4, 'f': 4, 'n': 4,
	'q': 8, 'Q': 8, 'd': 8,
	'N': 16, 'Z': 64,
}

// DataFlashFMT encodes one FMT record declaring a message layout.
func DataFlashFMT(id uint8, name, types, columns string) []byte {
	length := 3
	for i := 0; i < len(types); i++ {
		length += dfSizes[types[i]]
	}
	buf := make([]byte, dfFMTLen)
	buf[0] = dfHead0
	buf[1] = dfHead1
	buf[2] = dfFMTID
	buf[3] = id
	buf[4] = uint8(length)
	copy(buf[5:9], name)
	copy(buf[9:25], types)
	copy(buf[25:89], columns)
	return buf
}

// DataFlashRecord frames a message payload for the given message id.
func DataFlashRecord(id uint8, payload []byte) []byte {
	out := make([]byte, 0, 3+len(payload))
	out = append(out, dfHead0, dfHead1, id)
	return append(out, payload...)
}

// DFPayload incrementally encodes a DataFlash record payload.
type DFPayload struct {
	buf bytes.Buffer
}

func (p *DFPayload) Q(v uint64) *DFPayload {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	p.buf.Write(b[:])
	return p
}

func (p *DFPayload) F(v float32) *DFPayload {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], math.Float32bits(v))
	p.buf.Write(b[:])
	return p
}

func (p *DFPayload) I32(v int32) *DFPayload {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	p.buf.Write(b[:])
	return p
}

func (p *DFPayload) U16(v uint16) *DFPayload {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	p.buf.Write(b[:])
	return p
}

func (p *DFPayload) U8(v uint8) *DFPayload {
	p.buf.WriteByte(v)
	return p
}

func (p *DFPayload) Bytes() []byte {
	return p.buf.Bytes()
}

// ULog framing.
var ulogMagic = []byte{0x55, 0x4C, 0x6F, 0x67, 0x01, 0x12, 0x35}

// ULogHeader encodes the 16-byte container header.
func ULogHeader(version uint8, startUs uint64) []byte {
	buf := make([]byte, 16)
	copy(buf, ulogMagic)
	buf[7] = version
	binary.LittleEndian.PutUint64(buf[8:16], startUs)
	return buf
}

// ULogRecord frames one container message of the given type.
func ULogRecord(typ byte, body []byte) []byte {
	out := make([]byte, 3+len(body))
	binary.LittleEndian.PutUint16(out[0:2], uint16(len(body)))
	out[2] = typ
	copy(out[3:], body)
	return out
}

// ULogFormat encodes an 'F' format-definition record, e.g.
// "vehicle_attitude:uint64_t timestamp;float[4] q;".
func ULogFormat(definition string) []byte {
	return ULogRecord('F', []byte(definition))
}

// ULogAddLogged encodes an 'A' subscription record.
func ULogAddLogged(multiID uint8, msgID uint16, name string) []byte {
	body := make([]byte, 3+len(name))
	body[0] = multiID
	binary.LittleEndian.PutUint16(body[1:3], msgID)
	copy(body[3:], name)
	return ULogRecord('A', body)
}

// ULogData encodes a 'D' data record for a subscribed message id.
func ULogData(msgID uint16, data []byte) []byte {
	body := make([]byte, 2+len(data))
	binary.LittleEndian.PutUint16(body[0:2], msgID)
	copy(body[2:], data)
	return ULogRecord('D', body)
}

// ULogPayload incrementally encodes a data record body.
type ULogPayload struct {
	buf bytes.Buffer
}

func (p *ULogPayload) U64(v uint64) *ULogPayload {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	p.buf.Write(b[:])
	return p
}

func (p *ULogPayload) U32(v uint32) *ULogPayload {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	p.buf.Write(b[:])
	return p
}

func (p *ULogPayload) I32(v int32) *ULogPayload {
	return p.U32(uint32(v))
}

func (p *ULogPayload) F(v float32) *ULogPayload {
	return p.U32(math.Float32bits(v))
}

func (p *ULogPayload) U8(v uint8) *ULogPayload {
	p.buf.WriteByte(v)
	return p
}

func (p *ULogPayload) Bytes() []byte {
	return p.buf.Bytes()
}

// BuildArduFlight assembles a small deterministic DataFlash log carrying
// ATT, GPS, VIBE, RATE and MODE traffic over two seconds of flight.
func BuildArduFlight() []byte {
	var out bytes.Buffer
	out.Write(DataFlashFMT(10, "ATT", "Qfff", "TimeUS,Roll,Pitch,Yaw"))
	out.Write(DataFlashFMT(11, "GPS", "QLLf", "TimeUS,Lat,Lng,Alt"))
	out.Write(DataFlashFMT(12, "VIBE", "QfffHHH", "TimeUS,VibeX,VibeY,VibeZ,Clip0,Clip1,Clip2"))
	out.Write(DataFlashFMT(13, "RATE", "Qffffff", "TimeUS,R,RDes,P,PDes,Y,YDes"))
	out.Write(DataFlashFMT(14, "MODE", "QB", "TimeUS,Mode"))

	for i := 0; i < 20; i++ {
		us := uint64(i) * 100_000
		att := (&DFPayload{}).Q(us).F(float32(i)).F(float32(-i)).F(90).Bytes()
		out.Write(DataFlashRecord(10, att))
		if i%4 == 0 {
			gps := (&DFPayload{}).Q(us).I32(377_749_000).I32(-1_224_194_000).F(100 + float32(i)).Bytes()
			out.Write(DataFlashRecord(11, gps))
		}
		if i%5 == 0 {
			vibe := (&DFPayload{}).Q(us).F(5).F(6).F(7).U16(0).U16(1).U16(0).Bytes()
			out.Write(DataFlashRecord(12, vibe))
		}
		if i%2 == 0 {
			rate := (&DFPayload{}).Q(us).F(10).F(12).F(-4).F(-5).F(0).F(0).Bytes()
			out.Write(DataFlashRecord(13, rate))
		}
	}
	mode := (&DFPayload{}).Q(0).U8(0).Bytes()
	out.Write(DataFlashRecord(14, mode))
	mode = (&DFPayload{}).Q(1_000_000).U8(4).Bytes()
	out.Write(DataFlashRecord(14, mode))
	return out.Bytes()
}

// BuildPX4Flight assembles a small deterministic ULog carrying attitude,
// GPS, status and raw accelerometer topics.
func BuildPX4Flight() []byte {
	var out bytes.Buffer
	out.Write(ULogHeader(1, 0))
	out.Write(ULogFormat("vehicle_attitude:uint64_t timestamp;float[4] q;"))
	out.Write(ULogFormat("vehicle_gps_position:uint64_t timestamp;int32_t lat;int32_t lon;int32_t alt;"))
	out.Write(ULogFormat("vehicle_status:uint64_t timestamp;uint8_t nav_state;"))
	out.Write(ULogFormat("sensor_combined:uint64_t timestamp;float[3] accelerometer_m_s2;"))
	out.Write(ULogAddLogged(0, 1, "vehicle_attitude"))
	out.Write(ULogAddLogged(0, 2, "vehicle_gps_position"))
	out.Write(ULogAddLogged(0, 3, "vehicle_status"))
	out.Write(ULogAddLogged(0, 4, "sensor_combined"))

	out.Write(ULogData(3, (&ULogPayload{}).U64(0).U8(0).Bytes()))
	for i := 0; i < 60; i++ {
		us := uint64(i) * 20_000
		att := (&ULogPayload{}).U64(us).F(1).F(0).F(0).F(0).Bytes()
		out.Write(ULogData(1, att))
		acc := (&ULogPayload{}).U64(us).F(0.1).F(-0.2).F(9.81).Bytes()
		out.Write(ULogData(4, acc))
		if i%10 == 0 {
			gps := (&ULogPayload{}).U64(us).I32(377_749_000).I32(-1_224_194_000).I32(100_500).Bytes()
			out.Write(ULogData(2, gps))
		}
	}
	out.Write(ULogData(3, (&ULogPayload{}).U64(600_000).U8(5).Bytes()))
	return out.Bytes()
}
