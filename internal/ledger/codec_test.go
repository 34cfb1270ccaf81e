package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncoderDecoderRoundTrip(t *testing.T) {
	tag := AccountTag("Sample")
	var addr Address
	addr[0] = 9
	opt := int64(-42)

	size := TagLen + 1 + 1 + 2 + 4 + 8 + 8 + AddressLen +
		StringSize("delivery drone") + BytesSize([]byte{1, 2, 3}) +
		OptionSize(true, AddressLen) + OptionSize(true, 8) + OptionSize(false, 8)
	enc := NewEncoder(size)
	enc.PutTag(tag)
	enc.PutU8(7)
	enc.PutBool(true)
	enc.PutU16(512)
	enc.PutU32(1 << 20)
	enc.PutU64(1 << 40)
	enc.PutI64(-5)
	enc.PutAddress(addr)
	enc.PutString("delivery drone")
	enc.PutBytes([]byte{1, 2, 3})
	enc.PutOptionAddress(&addr)
	enc.PutOptionI64(&opt)
	enc.PutOptionI64(nil)
	data, err := enc.Finish()
	require.NoError(t, err)
	require.Len(t, data, size)

	dec := NewDecoder(data)
	require.NoError(t, dec.ExpectTag(tag))
	assert.Equal(t, uint8(7), dec.U8())
	assert.True(t, dec.Bool())
	assert.Equal(t, uint16(512), dec.U16())
	assert.Equal(t, uint32(1<<20), dec.U32())
	assert.Equal(t, uint64(1<<40), dec.U64())
	assert.Equal(t, int64(-5), dec.I64())
	assert.Equal(t, addr, dec.Addr())
	assert.Equal(t, "delivery drone", dec.String())
	assert.Equal(t, []byte{1, 2, 3}, dec.Bytes())
	got := dec.OptionAddr()
	require.NotNil(t, got)
	assert.Equal(t, addr, *got)
	gotOpt := dec.OptionI64()
	require.NotNil(t, gotOpt)
	assert.Equal(t, int64(-42), *gotOpt)
	assert.Nil(t, dec.OptionI64())
	require.NoError(t, dec.Finish())
}

func TestEncoderSizeMismatch(t *testing.T) {
	// Under-filled buffer.
	enc := NewEncoder(16)
	enc.PutU64(1)
	_, err := enc.Finish()
	require.Error(t, err)
	assert.True(t, IsDecode(err))

	// Overrun sticks on the first overflowing write.
	enc = NewEncoder(4)
	enc.PutU64(1)
	_, err = enc.Finish()
	require.Error(t, err)
	assert.True(t, IsDecode(err))
}

func TestDecoderTruncation(t *testing.T) {
	dec := NewDecoder([]byte{1, 2})
	dec.U64()
	err := dec.Err()
	require.Error(t, err)
	assert.True(t, IsDecode(err))

	// The failure sticks; later reads return zero values.
	assert.Equal(t, uint8(0), dec.U8())
	assert.Equal(t, Address{}, dec.Addr())
	assert.Error(t, dec.Finish())
}

func TestDecoderTrailingBytes(t *testing.T) {
	enc := NewEncoder(8)
	enc.PutU64(1)
	data, err := enc.Finish()
	require.NoError(t, err)

	dec := NewDecoder(append(data, 0xFF))
	dec.U64()
	err = dec.Finish()
	require.Error(t, err)
	var lerr *Error
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, CodeTrailing, lerr.Code)
}

func TestDecoderRejectsBadBool(t *testing.T) {
	dec := NewDecoder([]byte{2})
	dec.Bool()
	assert.Error(t, dec.Err())
}

func TestDecoderRejectsInvalidUTF8(t *testing.T) {
	enc := NewEncoder(4 + 2)
	enc.PutBytes([]byte{0xFF, 0xFE})
	data, err := enc.Finish()
	require.NoError(t, err)

	dec := NewDecoder(data)
	assert.Equal(t, "", dec.String())
	assert.Error(t, dec.Err())
}

func TestDecoderStringLengthLies(t *testing.T) {
	// Declared length runs past the end of the buffer.
	enc := NewEncoder(4)
	enc.PutU32(100)
	data, err := enc.Finish()
	require.NoError(t, err)

	dec := NewDecoder(data)
	_ = dec.String()
	assert.True(t, IsDecode(dec.Err()))
}

func TestTagDerivation(t *testing.T) {
	// Tags are pure functions of the name and the namespace.
	assert.Equal(t, AccountTag("Robot"), AccountTag("Robot"))
	assert.NotEqual(t, AccountTag("Robot"), AccountTag("Task"))
	assert.NotEqual(t, AccountTag("tick"), InstructionTag("tick"))
}

func TestExpectTagMismatch(t *testing.T) {
	enc := NewEncoder(TagLen)
	enc.PutTag(AccountTag("Robot"))
	data, err := enc.Finish()
	require.NoError(t, err)

	dec := NewDecoder(data)
	err = dec.ExpectTag(AccountTag("Task"))
	require.Error(t, err)
	var lerr *Error
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, CodeTagMismatch, lerr.Code)
}

func TestPeekTag(t *testing.T) {
	enc := NewEncoder(TagLen + 8)
	enc.PutTag(InstructionTag("tick_stream"))
	enc.PutU64(1)
	data, err := enc.Finish()
	require.NoError(t, err)

	tag, err := PeekTag(data)
	require.NoError(t, err)
	assert.True(t, tag.Equal(InstructionTag("tick_stream")))

	_, err = PeekTag(data[:4])
	assert.True(t, IsDecode(err))
}
