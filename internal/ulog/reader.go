package ulog

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"example.com/uavlog/internal/common"
)

const (
	headerLen     = 16
	recordHdrLen  = 3
	maxRecordSize = 1 << 20
)

// Record message types from the ULog container framing.
const (
	msgFlagBits     = 'B'
	msgFormat       = 'F'
	msgInfo         = 'I'
	msgInfoMulti    = 'M'
	msgParam        = 'P'
	msgParamDefault = 'Q'
	msgAddLogged    = 'A'
	msgRemoveLogged = 'R'
	msgData         = 'D'
	msgLoggedString = 'L'
	msgTaggedString = 'C'
	msgSync         = 'S'
	msgDropout      = 'O'
)

var ulogMagic = []byte{0x55, 0x4C, 0x6F, 0x67, 0x01, 0x12, 0x35}

var (
	// ErrUnreadableLog marks a file that cannot be opened or does not start
	// with the ULog magic.
	ErrUnreadableLog = errors.New("unreadable ULog file")
)

// record is one raw container message: a type tag plus its body bytes.
type record struct {
	typ  byte
	body []byte
}

// Reader walks a ULog container sequentially. It performs no topic
// interpretation; that layer lives in the extractor.
type Reader struct {
	file    *os.File
	br      *bufio.Reader
	version uint8
	startUs uint64
	metrics *common.Metrics
}

// NewReader opens and validates the container header.
func NewReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableLog, err)
	}
	br := bufio.NewReaderSize(f, 1<<16)
	header := make([]byte, headerLen)
	if _, err := io.ReadFull(br, header); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: short header", ErrUnreadableLog)
	}
	if !bytes.Equal(header[:len(ulogMagic)], ulogMagic) {
		f.Close()
		return nil, fmt.Errorf("%w: bad magic", ErrUnreadableLog)
	}
	return &Reader{
		file:    f,
		br:      br,
		version: header[7],
		startUs: binary.LittleEndian.Uint64(header[8:16]),
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

// Version reports the container format version byte.
func (r *Reader) Version() uint8 { return r.version }

// StartTimeUs reports the logging start timestamp from the header.
func (r *Reader) StartTimeUs() uint64 { return r.startUs }

// SetMetrics attaches a metrics recorder to the reader.
func (r *Reader) SetMetrics(m *common.Metrics) {
	r.metrics = m
	if r.metrics != nil && r.file != nil {
		if info, err := r.file.Stat(); err == nil {
			r.metrics.SetTotalBytes(info.Size())
		}
	}
}

// next returns the following raw record, or io.EOF at a clean end of stream.
// A record torn mid-write at the tail of the file also ends the stream.
func (r *Reader) next() (record, error) {
	if r.file == nil {
		return record{}, io.EOF
	}
	hdr := make([]byte, recordHdrLen)
	if _, err := io.ReadFull(r.br, hdr); err != nil {
		return record{}, io.EOF
	}
	size := int(binary.LittleEndian.Uint16(hdr[0:2]))
	typ := hdr[2]
	if size > maxRecordSize {
		return record{}, fmt.Errorf("record %q size %d exceeds limit", string(typ), size)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r.br, body); err != nil {
		return record{}, io.EOF
	}
	if r.metrics != nil {
		r.metrics.AddMessage(int64(recordHdrLen + size))
	}
	return record{typ: typ, body: body}, nil
}
