package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Encoder appends network byte order scalars to a growing buffer.
// The first failure is kept and reported by Bytes; later writes are ignored.
type Encoder struct {
	buf []byte
	err error
}

// NewEncoder creates an encoder with room for capacity bytes
func NewEncoder(capacity int) *Encoder {
	return &Encoder{buf: make([]byte, 0, capacity)}
}

// PutU8 appends a single byte
func (e *Encoder) PutU8(v uint8) {
	if e.err != nil {
		return
	}
	e.buf = append(e.buf, v)
}

// PutU16 appends a big-endian uint16
func (e *Encoder) PutU16(v uint16) {
	if e.err != nil {
		return
	}
	e.buf = binary.BigEndian.AppendUint16(e.buf, v)
}

// PutU32 appends a big-endian uint32
func (e *Encoder) PutU32(v uint32) {
	if e.err != nil {
		return
	}
	e.buf = binary.BigEndian.AppendUint32(e.buf, v)
}

// PutF32 appends the IEEE-754 bit pattern of v as a big-endian uint32
func (e *Encoder) PutF32(v float32) {
	e.PutU32(math.Float32bits(v))
}

// PutString appends a one byte length followed by the raw bytes of s
func (e *Encoder) PutString(s string) {
	if e.err != nil {
		return
	}
	if len(s) > MaxStringLen {
		e.err = fmt.Errorf("%w: %d bytes", ErrStringTooLong, len(s))
		return
	}
	e.buf = append(e.buf, uint8(len(s)))
	e.buf = append(e.buf, s...)
}

// PutCount appends a collection count
func (e *Encoder) PutCount(n int) {
	if e.err != nil {
		return
	}
	if n < 0 || n > MaxRecords {
		e.err = fmt.Errorf("%w: %d", ErrTooManyRecords, n)
		return
	}
	e.buf = append(e.buf, uint8(n))
}

// Len returns the number of bytes written so far
func (e *Encoder) Len() int {
	return len(e.buf)
}

// Bytes returns the encoded buffer or the first error hit while encoding
func (e *Encoder) Bytes() ([]byte, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.buf, nil
}

// Decoder reads network byte order scalars from a received datagram.
// Every read is bounds checked; the first short read sticks and every later
// read returns the zero value.
type Decoder struct {
	buf []byte
	off int
	err error
}

// NewDecoder creates a decoder positioned at the start of data
func NewDecoder(data []byte) *Decoder {
	return &Decoder{buf: data}
}

func (d *Decoder) need(n int) bool {
	if d.err != nil {
		return false
	}
	if len(d.buf)-d.off < n {
		d.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d",
			ErrShortBuffer, n, d.off, len(d.buf)-d.off)
		return false
	}
	return true
}

// U8 reads a single byte
func (d *Decoder) U8() uint8 {
	if !d.need(1) {
		return 0
	}
	v := d.buf[d.off]
	d.off++
	return v
}

// U16 reads a big-endian uint16
func (d *Decoder) U16() uint16 {
	if !d.need(2) {
		return 0
	}
	v := binary.BigEndian.Uint16(d.buf[d.off:])
	d.off += 2
	return v
}

// U32 reads a big-endian uint32
func (d *Decoder) U32() uint32 {
	if !d.need(4) {
		return 0
	}
	v := binary.BigEndian.Uint32(d.buf[d.off:])
	d.off += 4
	return v
}

// F32 reads a float transmitted as its big-endian bit pattern
func (d *Decoder) F32() float32 {
	return math.Float32frombits(d.U32())
}

// String reads a length-prefixed string
func (d *Decoder) String() string {
	n := int(d.U8())
	if !d.need(n) {
		return ""
	}
	s := string(d.buf[d.off : d.off+n])
	d.off += n
	return s
}

// Count reads a collection count and checks that at least count records of
// minRecordSize bytes remain, so callers never allocate for data that is not there.
func (d *Decoder) Count(minRecordSize int) int {
	n := int(d.U8())
	if !d.need(n * minRecordSize) {
		return 0
	}
	return n
}

// Skip advances past n bytes
func (d *Decoder) Skip(n int) {
	if d.need(n) {
		d.off += n
	}
}

// Offset returns the current read position
func (d *Decoder) Offset() int {
	return d.off
}

// Remaining returns the number of unread bytes
func (d *Decoder) Remaining() int {
	return len(d.buf) - d.off
}

// Err returns the first decode error, if any
func (d *Decoder) Err() error {
	return d.err
}

// clampByte narrows a non-negative counter to the single byte the wire carries
func clampByte(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > math.MaxUint8 {
		return math.MaxUint8
	}
	return uint8(v)
}
