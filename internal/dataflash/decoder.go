package dataflash

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"example.com/uavlog/internal/common"
)

const (
	headByte0 = 0xA3
	headByte1 = 0x95
	headerLen = 3

	fmtMsgID  = 0x80
	fmtMsgLen = 89

	microsPerSecond = 1e6
)

var (
	// ErrUnreadableLog marks a file that cannot be opened or carries no
	// recognizable DataFlash framing at all.
	ErrUnreadableLog = errors.New("unreadable DataFlash log")
)

// format describes one self-registered message layout, taken from an
// in-stream FMT record.
type format struct {
	id      uint8
	length  int
	name    string
	types   []byte
	columns []string
}

// fieldSizes maps a DataFlash format character to its encoded width in bytes.
var fieldSizes = map[byte]int{
	'b': 1, 'B': 1, 'M': 1,
	'h': 2, 'H': 2, 'c': 2, 'C': 2,
	'i': 4, 'I': 4, 'e': 4, 'E': 4, 'L': 4, 'f': 4, 'n': 4,
	'q': 8, 'Q': 8, 'd': 8,
	'N': 16, 'Z': 64,
}

// Message is one decoded, timestamped log record. Time is seconds converted
// from the record's TimeUS tick counter.
type Message struct {
	Name    string
	Time    float64
	floats  map[string]float64
	strings map[string]string
}

// Float looks up the first present field among the given names. It reports
// false when none of the spellings exist on this record.
func (m Message) Float(names ...string) (float64, bool) {
	for _, n := range names {
		if v, ok := m.floats[n]; ok {
			return v, true
		}
	}
	return 0, false
}

// Str looks up a text field by any of its known spellings.
func (m Message) Str(names ...string) (string, bool) {
	for _, n := range names {
		if v, ok := m.strings[n]; ok {
			return v, true
		}
	}
	return "", false
}

// Reader walks a DataFlash binary log sequentially, learning message layouts
// from FMT records and emitting only the message types the caller asked for.
// It is forward-only and not restartable.
type Reader struct {
	file    *os.File
	br      *bufio.Reader
	wanted  map[string]bool
	formats map[uint8]*format
	metrics *common.Metrics
	offset  int64
}

// NewReader opens the log at path and prepares to emit messages whose names
// appear in types (e.g. ATT, GPS, VIBE, RATE, MODE).
func NewReader(path string, types []string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableLog, err)
	}
	wanted := make(map[string]bool, len(types))
	for _, t := range types {
		wanted[strings.ToUpper(strings.TrimSpace(t))] = true
	}
	return &Reader{
		file:    f,
		br:      bufio.NewReaderSize(f, 1<<16),
		wanted:  wanted,
		formats: make(map[uint8]*format),
	}, nil
}

// Close releases the underlying file handle.
func (r *Reader) Close() error {
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

// SetMetrics attaches a metrics recorder to the reader.
func (r *Reader) SetMetrics(m *common.Metrics) {
	r.metrics = m
	if r.metrics != nil && r.file != nil {
		if info, err := r.file.Stat(); err == nil {
			r.metrics.SetTotalBytes(info.Size())
		}
	}
}

// Next returns the next requested message. Messages of other types are
// consumed silently; io.EOF signals a clean end of stream.
func (r *Reader) Next() (Message, error) {
	if r.file == nil {
		return Message{}, io.EOF
	}
	for {
		head, err := r.peekHeader()
		if err != nil {
			return Message{}, err
		}
		if head[0] != headByte0 || head[1] != headByte1 {
			if err := r.resync("bad frame marker"); err != nil {
				return Message{}, err
			}
			continue
		}
		msgID := head[2]
		if msgID == fmtMsgID {
			if err := r.readFormat(); err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
					return Message{}, io.EOF
				}
				return Message{}, err
			}
			continue
		}
		f, ok := r.formats[msgID]
		if !ok {
			if err := r.resync(fmt.Sprintf("unknown message id 0x%02X", msgID)); err != nil {
				return Message{}, err
			}
			continue
		}
		payload := make([]byte, f.length-headerLen)
		if err := r.discard(headerLen); err != nil {
			return Message{}, err
		}
		if _, err := io.ReadFull(r.br, payload); err != nil {
			// Truncated trailing record; treat as end of stream.
			return Message{}, io.EOF
		}
		r.offset += int64(len(payload))
		if r.metrics != nil {
			r.metrics.AddMessage(int64(f.length))
		}
		if !r.wanted[f.name] {
			continue
		}
		msg, err := decodeMessage(f, payload)
		if err != nil {
			common.Logf("dataflash: %s record at offset %d: %v", f.name, r.offset, err)
			continue
		}
		return msg, nil
	}
}

func (r *Reader) peekHeader() ([]byte, error) {
	head, err := r.br.Peek(headerLen)
	if len(head) < headerLen {
		if err == nil || errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, err
	}
	return head, nil
}

func (r *Reader) discard(n int) error {
	m, err := r.br.Discard(n)
	r.offset += int64(m)
	return err
}

// resync drops bytes until the next 0xA3 0x95 marker. DataFlash logs from
// interrupted flights routinely carry torn or half-written records.
func (r *Reader) resync(reason string) error {
	common.Logf("dataflash: resync at offset %d: %s", r.offset, reason)
	if r.metrics != nil {
		r.metrics.IncResync()
	}
	if err := r.discard(1); err != nil {
		return io.EOF
	}
	for {
		head, err := r.br.Peek(2)
		if len(head) < 2 {
			if err == nil || errors.Is(err, io.EOF) {
				return io.EOF
			}
			return err
		}
		if head[0] == headByte0 && head[1] == headByte1 {
			return nil
		}
		if err := r.discard(1); err != nil {
			return io.EOF
		}
	}
}

// readFormat consumes one FMT record and registers the layout it declares.
func (r *Reader) readFormat() error {
	buf := make([]byte, fmtMsgLen)
	if _, err := io.ReadFull(r.br, buf); err != nil {
		return err
	}
	r.offset += fmtMsgLen
	if r.metrics != nil {
		r.metrics.AddMessage(fmtMsgLen)
	}
	f := &format{
		id:     buf[3],
		length: int(buf[4]),
		name:   cString(buf[5:9]),
		types:  []byte(cString(buf[9:25])),
	}
	cols := cString(buf[25:89])
	if cols != "" {
		f.columns = strings.Split(cols, ",")
	}
	if f.length < headerLen || len(f.types) != len(f.columns) {
		common.Logf("dataflash: skipping malformed FMT for %q", f.name)
		return nil
	}
	for _, t := range f.types {
		if _, ok := fieldSizes[t]; !ok {
			common.Logf("dataflash: FMT %q uses unsupported type %q", f.name, string(t))
			return nil
		}
	}
	r.formats[f.id] = f
	return nil
}

func decodeMessage(f *format, payload []byte) (Message, error) {
	msg := Message{
		Name:    f.name,
		floats:  make(map[string]float64, len(f.columns)),
		strings: make(map[string]string),
	}
	off := 0
	for i, t := range f.types {
		size := fieldSizes[t]
		if off+size > len(payload) {
			return Message{}, fmt.Errorf("field %s truncated", f.columns[i])
		}
		raw := payload[off : off+size]
		off += size
		switch t {
		case 'n', 'N', 'Z':
			msg.strings[f.columns[i]] = cString(raw)
		default:
			msg.floats[f.columns[i]] = decodeNumeric(t, raw)
		}
	}
	if us, ok := msg.floats["TimeUS"]; ok {
		msg.Time = us / microsPerSecond
	}
	return msg, nil
}

func decodeNumeric(t byte, raw []byte) float64 {
	switch t {
	case 'b':
		return float64(int8(raw[0]))
	case 'B', 'M':
		return float64(raw[0])
	case 'h':
		return float64(int16(binary.LittleEndian.Uint16(raw)))
	case 'H':
		return float64(binary.LittleEndian.Uint16(raw))
	case 'c':
		return float64(int16(binary.LittleEndian.Uint16(raw))) * 0.01
	case 'C':
		return float64(binary.LittleEndian.Uint16(raw)) * 0.01
	case 'i':
		return float64(int32(binary.LittleEndian.Uint32(raw)))
	case 'I':
		return float64(binary.LittleEndian.Uint32(raw))
	case 'e':
		return float64(int32(binary.LittleEndian.Uint32(raw))) * 0.01
	case 'E':
		return float64(binary.LittleEndian.Uint32(raw)) * 0.01
	case 'L':
		return float64(int32(binary.LittleEndian.Uint32(raw))) * 1e-7
	case 'f':
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(raw)))
	case 'd':
		return math.Float64frombits(binary.LittleEndian.Uint64(raw))
	case 'q':
		return float64(int64(binary.LittleEndian.Uint64(raw)))
	case 'Q':
		return float64(binary.LittleEndian.Uint64(raw))
	}
	return math.NaN()
}

func cString(raw []byte) string {
	if i := strings.IndexByte(string(raw), 0); i >= 0 {
		raw = raw[:i]
	}
	return strings.TrimSpace(string(raw))
}
