// Package wire implements the reusable, cursor-backed Buffer writer used by
// the server message builder to frame arrays and per-entity data (spec
// §4.7).
//
// Grounded on original_source/src/server/replication_buffer.rs: the Rust
// ReplicationBuffer wraps a bincode cursor and tracks the byte range of the
// last write so identical serialized values can be deduplicated within a
// tick (get_or_write). This Buffer generalizes that cursor into explicit
// array and entity-data framing, matching spec §4.7's byte layout, in the
// teacher's style of small, explicit, mutex-free value types meant to be
// reused across ticks via Reset.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrSizeLimit is returned when a framing counter would overflow its fixed
// width (u8 for entity-data element counts, u16 for array element counts).
// The caller must finalize the in-progress message earlier (spec §4.7).
var ErrSizeLimit = errors.New("wire: size limit exceeded")

// arrayFrame tracks one in-progress StartArray/EndArray region.
type arrayFrame struct {
	lengthOffset int
	count        uint16
}

// entityFrame tracks one in-progress StartEntityData/EndEntityData region.
// The entity id bytes are held until the first write so an entity with no
// changes or removals produces a zero-byte entry (spec §4.7).
type entityFrame struct {
	encodedEntity []byte
	countOffset   int
	count         uint8
	emitted       bool
}

// Buffer is a reusable byte buffer supporting the nested array and
// entity-data framing spec §4.7 describes. Zero value is ready to use.
type Buffer struct {
	data   []byte
	arrays []arrayFrame
	entity *entityFrame
}

// Reset clears the buffer for reuse, keeping allocated capacity.
func (b *Buffer) Reset() {
	b.data = b.data[:0]
	b.arrays = b.arrays[:0]
	b.entity = nil
}

// Len returns the number of bytes written so far.
func (b *Buffer) Len() int { return len(b.data) }

// Bytes returns the buffer's current contents. The slice is invalidated by
// the next call to Reset.
func (b *Buffer) Bytes() []byte { return b.data }

// WriteByte appends a single byte.
func (b *Buffer) WriteByte(v byte) {
	b.data = append(b.data, v)
}

// WriteBytes appends raw bytes verbatim.
func (b *Buffer) WriteBytes(p []byte) {
	b.data = append(b.data, p...)
}

// WriteUvarint appends v as a LEB128 unsigned varint.
func (b *Buffer) WriteUvarint(v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	b.data = append(b.data, tmp[:n]...)
}

// StartArray reserves a 2-byte element-count slot and begins a new array
// framing region (spec §4.7). Arrays may nest inside entity-data regions
// and vice versa.
func (b *Buffer) StartArray() {
	offset := len(b.data)
	b.data = append(b.data, 0, 0)
	b.arrays = append(b.arrays, arrayFrame{lengthOffset: offset})
}

// EndArray closes the most recently started array, writing its element
// count into the reserved slot.
func (b *Buffer) EndArray() error {
	if len(b.arrays) == 0 {
		return errors.New("wire: EndArray without matching StartArray")
	}
	frame := b.arrays[len(b.arrays)-1]
	b.arrays = b.arrays[:len(b.arrays)-1]
	binary.LittleEndian.PutUint16(b.data[frame.lengthOffset:], frame.count)
	return nil
}

// addArrayElement increments the innermost array's element count, the
// caller having already written the element's bytes. Returns ErrSizeLimit
// past 65535 elements.
func (b *Buffer) addArrayElement() error {
	if len(b.arrays) == 0 {
		return nil
	}
	top := &b.arrays[len(b.arrays)-1]
	if top.count == 65535 {
		return fmt.Errorf("%w: array element count exceeds u16", ErrSizeLimit)
	}
	top.count++
	return nil
}

// EndArrayElement finalizes one array element written directly via
// WriteByte/WriteBytes/WriteUvarint, for elements that are not
// entity-data regions (e.g. MAPPINGS and DESPAWNS entries).
func (b *Buffer) EndArrayElement() error {
	return b.addArrayElement()
}

// StartEntityData remembers the pre-encoded entity id for a lazily-emitted
// entity-data region (spec §4.7). Nothing is written to the buffer until
// the first WriteChange or WriteRemoval call.
func (b *Buffer) StartEntityData(encodedEntity []byte) {
	b.entity = &entityFrame{encodedEntity: append([]byte(nil), encodedEntity...)}
}

// WriteChange appends one (FnsId, component_bytes) pair to the current
// entity-data region, lazily emitting the entity id and reserving the
// 1-byte count slot on first use.
func (b *Buffer) WriteChange(fnsID uint32, payload []byte) error {
	if err := b.ensureEntityHeader(); err != nil {
		return err
	}
	if b.entity.count == 255 {
		return fmt.Errorf("%w: entity-data element count exceeds u8", ErrSizeLimit)
	}
	b.WriteUvarint(uint64(fnsID))
	b.WriteUvarint(uint64(len(payload)))
	b.WriteBytes(payload)
	b.entity.count++
	return nil
}

// WriteRemoval appends one FnsId to the current entity-data region (used
// for REMOVALS array elements, whose payload is an FnsId list).
func (b *Buffer) WriteRemoval(fnsID uint32) error {
	if err := b.ensureEntityHeader(); err != nil {
		return err
	}
	if b.entity.count == 255 {
		return fmt.Errorf("%w: entity-data element count exceeds u8", ErrSizeLimit)
	}
	b.WriteUvarint(uint64(fnsID))
	b.entity.count++
	return nil
}

func (b *Buffer) ensureEntityHeader() error {
	if b.entity == nil {
		return errors.New("wire: write outside StartEntityData region")
	}
	if !b.entity.emitted {
		b.WriteBytes(b.entity.encodedEntity)
		b.entity.countOffset = len(b.data)
		b.data = append(b.data, 0)
		b.entity.emitted = true
	}
	return nil
}

// EndEntityData finalizes the current entity-data region. If no data was
// ever written, the region is entirely dropped (zero-byte entry, spec
// §4.7); otherwise the reserved count slot is filled in and the region
// counts as one element of the enclosing array.
func (b *Buffer) EndEntityData() error {
	if b.entity == nil {
		return errors.New("wire: EndEntityData without matching StartEntityData")
	}
	frame := b.entity
	b.entity = nil
	if !frame.emitted {
		return nil
	}
	b.data[frame.countOffset] = frame.count
	return b.addArrayElement()
}

// byteRange is a half-open [Begin, End) span into a Buffer's bytes.
type byteRange struct {
	Begin int
	End   int
}

// SharedCache deduplicates repeated serializations of the same component
// instance within a single tick, so identical bytes are written once and
// referenced by range for every client that needs them (spec §4.8's
// shared-buffer-with-ranges optimization). Grounded on
// original_source/src/server/replication_buffer.rs's get_or_write, which
// returns a previously written range instead of re-invoking the write
// closure when one is already cached for the current key.
type SharedCache struct {
	ranges map[any]byteRange
}

// NewSharedCache constructs an empty per-tick dedup cache.
func NewSharedCache() *SharedCache {
	return &SharedCache{ranges: make(map[any]byteRange)}
}

// Reset clears all cached ranges, called once per tick before the message
// builder starts a new sweep over archetypes.
func (c *SharedCache) Reset() {
	for k := range c.ranges {
		delete(c.ranges, k)
	}
}

// GetOrWrite returns the bytes previously written under key within this
// tick, or invokes write to serialize them into b and caches the
// resulting range for subsequent callers with the same key.
func (c *SharedCache) GetOrWrite(b *Buffer, key any, write func(*Buffer) error) ([]byte, error) {
	if r, ok := c.ranges[key]; ok {
		return b.data[r.Begin:r.End], nil
	}
	begin := len(b.data)
	if err := write(b); err != nil {
		return nil, err
	}
	end := len(b.data)
	c.ranges[key] = byteRange{Begin: begin, End: end}
	return b.data[begin:end], nil
}
