package wire

import (
	"encoding/binary"
	"errors"
)

// Update message flags (spec §4.8), evaluated in fixed order.
const (
	FlagMappings uint8 = 1 << iota
	FlagDespawns
	FlagRemovals
	FlagChanges
)

// ErrMalformed indicates a truncated or otherwise unparseable frame (spec
// §7 MalformedMessage): fatal to the current message.
var ErrMalformed = errors.New("wire: malformed message")

// Reader decodes the framing Buffer produces: a flat byte slice with a
// read cursor, array length prefixes, and entity-data element counts.
type Reader struct {
	data []byte
	pos  int
}

// NewReader wraps payload for sequential decoding.
func NewReader(payload []byte) *Reader {
	return &Reader{data: payload}
}

// Remaining reports how many bytes are left to read.
func (r *Reader) Remaining() int {
	return len(r.data) - r.pos
}

// ReadByte reads a single byte.
func (r *Reader) ReadByte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, ErrMalformed
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

// ReadBytes reads exactly n raw bytes.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.data) {
		return nil, ErrMalformed
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// ReadUvarint reads a LEB128 unsigned varint, failing with ErrMalformed on
// truncation or overflow.
func (r *Reader) ReadUvarint() (uint64, error) {
	v, n := binary.Uvarint(r.data[r.pos:])
	if n <= 0 {
		return 0, ErrMalformed
	}
	r.pos += n
	return v, nil
}

// ReadArrayLen reads a sized array's 2-byte element count (spec §4.7).
func (r *Reader) ReadArrayLen() (uint16, error) {
	if r.pos+2 > len(r.data) {
		return 0, ErrMalformed
	}
	n := binary.LittleEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return n, nil
}

// AtEnd reports whether the reader has consumed the entire payload, used
// to drive dynamic (unsized) arrays that read to end-of-message.
func (r *Reader) AtEnd() bool {
	return r.pos >= len(r.data)
}

// ReadEntityDataCount reads the 1-byte entity-data element count.
func (r *Reader) ReadEntityDataCount() (uint8, error) {
	b, err := r.ReadByte()
	return b, err
}
