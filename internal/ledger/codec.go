package ledger

import (
	"encoding/binary"
	"unicode/utf8"
)

// Binary layout rules, shared by every account and instruction payload:
//
//	tag      8 bytes, identifies the account kind or operation
//	scalars  fixed-width little-endian
//	strings  u32 LE length prefix + UTF-8 bytes
//	bytes    u32 LE length prefix + raw bytes
//	options  1-byte presence flag, value only when flag == 1
//	enums    single byte
//
// Encoders are allocated at the exact encoded size; Finish reports any
// mismatch between the computed size and the bytes actually written.

// Size helpers for pre-computing encoded lengths.

// StringSize returns the encoded size of a length-prefixed string.
func StringSize(s string) int { return 4 + len(s) }

// BytesSize returns the encoded size of a length-prefixed byte array.
func BytesSize(b []byte) int { return 4 + len(b) }

// OptionSize returns the encoded size of an optional field whose value
// occupies valueSize bytes when present.
func OptionSize(present bool, valueSize int) int {
	if present {
		return 1 + valueSize
	}
	return 1
}

// Encoder writes fields into a fixed, pre-sized buffer.
type Encoder struct {
	buf []byte
	off int
	err error
}

// NewEncoder allocates an encoder for exactly size bytes.
func NewEncoder(size int) *Encoder {
	return &Encoder{buf: make([]byte, size)}
}

func (e *Encoder) room(n int) bool {
	if e.err != nil {
		return false
	}
	if e.off+n > len(e.buf) {
		e.err = NewDecodeError(CodeTruncated, "encoder buffer overrun").
			WithContext("need", e.off+n).
			WithContext("have", len(e.buf))
		return false
	}
	return true
}

// PutTag writes the 8-byte opcode tag.
func (e *Encoder) PutTag(t Tag) {
	if !e.room(TagLen) {
		return
	}
	copy(e.buf[e.off:], t[:])
	e.off += TagLen
}

// PutU8 writes a single byte.
func (e *Encoder) PutU8(v uint8) {
	if !e.room(1) {
		return
	}
	e.buf[e.off] = v
	e.off++
}

// PutBool writes a bool as one byte.
func (e *Encoder) PutBool(v bool) {
	if v {
		e.PutU8(1)
	} else {
		e.PutU8(0)
	}
}

// PutU16 writes a little-endian uint16.
func (e *Encoder) PutU16(v uint16) {
	if !e.room(2) {
		return
	}
	binary.LittleEndian.PutUint16(e.buf[e.off:], v)
	e.off += 2
}

// PutU32 writes a little-endian uint32.
func (e *Encoder) PutU32(v uint32) {
	if !e.room(4) {
		return
	}
	binary.LittleEndian.PutUint32(e.buf[e.off:], v)
	e.off += 4
}

// PutU64 writes a little-endian uint64.
func (e *Encoder) PutU64(v uint64) {
	if !e.room(8) {
		return
	}
	binary.LittleEndian.PutUint64(e.buf[e.off:], v)
	e.off += 8
}

// PutI64 writes a little-endian int64.
func (e *Encoder) PutI64(v int64) {
	e.PutU64(uint64(v))
}

// PutAddress writes a raw 32-byte identity value.
func (e *Encoder) PutAddress(a Address) {
	if !e.room(AddressLen) {
		return
	}
	copy(e.buf[e.off:], a[:])
	e.off += AddressLen
}

// PutString writes a u32 length prefix followed by UTF-8 bytes.
func (e *Encoder) PutString(s string) {
	if !e.room(4 + len(s)) {
		return
	}
	binary.LittleEndian.PutUint32(e.buf[e.off:], uint32(len(s)))
	e.off += 4
	copy(e.buf[e.off:], s)
	e.off += len(s)
}

// PutBytes writes a u32 length prefix followed by raw bytes.
func (e *Encoder) PutBytes(b []byte) {
	if !e.room(4 + len(b)) {
		return
	}
	binary.LittleEndian.PutUint32(e.buf[e.off:], uint32(len(b)))
	e.off += 4
	copy(e.buf[e.off:], b)
	e.off += len(b)
}

// PutFlag writes the presence byte of an optional field.
func (e *Encoder) PutFlag(present bool) {
	e.PutBool(present)
}

// PutOptionAddress writes an optional identity value.
func (e *Encoder) PutOptionAddress(a *Address) {
	if a == nil {
		e.PutFlag(false)
		return
	}
	e.PutFlag(true)
	e.PutAddress(*a)
}

// PutOptionI64 writes an optional little-endian int64.
func (e *Encoder) PutOptionI64(v *int64) {
	if v == nil {
		e.PutFlag(false)
		return
	}
	e.PutFlag(true)
	e.PutI64(*v)
}

// Finish returns the encoded buffer. The buffer must be exactly full: a
// partially-written or overrun buffer is a sizing bug, not a recoverable
// condition for callers.
func (e *Encoder) Finish() ([]byte, error) {
	if e.err != nil {
		return nil, e.err
	}
	if e.off != len(e.buf) {
		return nil, NewDecodeError(CodeTruncated, "encoded size mismatch").
			WithContext("wrote", e.off).
			WithContext("allocated", len(e.buf))
	}
	return e.buf, nil
}

// Decoder reads fields from an encoded buffer. The first failure sticks; all
// subsequent reads return zero values.
type Decoder struct {
	buf []byte
	off int
	err error
}

// NewDecoder wraps data for reading.
func NewDecoder(data []byte) *Decoder {
	return &Decoder{buf: data}
}

func (d *Decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if d.off+n > len(d.buf) {
		d.err = NewDecodeError(CodeTruncated, "buffer truncated").
			WithContext("need", d.off+n).
			WithContext("have", len(d.buf))
		return nil
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b
}

// ExpectTag consumes the leading tag and rejects a mismatch.
func (d *Decoder) ExpectTag(want Tag) error {
	b := d.take(TagLen)
	if d.err != nil {
		return d.err
	}
	var got Tag
	copy(got[:], b)
	if !got.Equal(want) {
		d.err = NewDecodeError(CodeTagMismatch, "opcode tag mismatch").
			WithContext("want", want).
			WithContext("got", got)
		return d.err
	}
	return nil
}

// U8 reads a single byte.
func (d *Decoder) U8() uint8 {
	b := d.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

// Bool reads a one-byte bool, rejecting values other than 0 and 1.
func (d *Decoder) Bool() bool {
	v := d.U8()
	if d.err == nil && v > 1 {
		d.err = NewDecodeError(CodeTruncated, "invalid bool byte").
			WithContext("value", v)
	}
	return v == 1
}

// U16 reads a little-endian uint16.
func (d *Decoder) U16() uint16 {
	b := d.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

// U32 reads a little-endian uint32.
func (d *Decoder) U32() uint32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

// U64 reads a little-endian uint64.
func (d *Decoder) U64() uint64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

// I64 reads a little-endian int64.
func (d *Decoder) I64() int64 {
	return int64(d.U64())
}

// Addr reads a raw 32-byte identity value.
func (d *Decoder) Addr() Address {
	var a Address
	b := d.take(AddressLen)
	if b != nil {
		copy(a[:], b)
	}
	return a
}

// String reads a length-prefixed UTF-8 string.
func (d *Decoder) String() string {
	n := d.U32()
	b := d.take(int(n))
	if b == nil {
		return ""
	}
	if !utf8.Valid(b) {
		d.err = NewDecodeError(CodeTruncated, "string is not valid UTF-8")
		return ""
	}
	return string(b)
}

// Bytes reads a length-prefixed byte array.
func (d *Decoder) Bytes() []byte {
	n := d.U32()
	b := d.take(int(n))
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Flag reads the presence byte of an optional field.
func (d *Decoder) Flag() bool {
	return d.Bool()
}

// OptionAddr reads an optional identity value.
func (d *Decoder) OptionAddr() *Address {
	if !d.Flag() || d.err != nil {
		return nil
	}
	a := d.Addr()
	if d.err != nil {
		return nil
	}
	return &a
}

// OptionI64 reads an optional little-endian int64.
func (d *Decoder) OptionI64() *int64 {
	if !d.Flag() || d.err != nil {
		return nil
	}
	v := d.I64()
	if d.err != nil {
		return nil
	}
	return &v
}

// Err returns the sticky decode error, if any.
func (d *Decoder) Err() error {
	if d.err != nil {
		return d.err
	}
	return nil
}

// Finish rejects buffers with trailing bytes after the last declared field.
func (d *Decoder) Finish() error {
	if d.err != nil {
		return d.err
	}
	if d.off != len(d.buf) {
		return NewDecodeError(CodeTrailing, "trailing bytes after account data").
			WithContext("consumed", d.off).
			WithContext("total", len(d.buf))
	}
	return nil
}
