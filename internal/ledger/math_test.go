package ledger

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMulU64(t *testing.T) {
	got, err := MulU64(1<<32, 1<<31)
	require.NoError(t, err)
	assert.Equal(t, uint64(1)<<63, got)

	_, err = MulU64(1<<32, 1<<32)
	require.Error(t, err)
	assert.True(t, IsArithmetic(err))

	got, err = MulU64(math.MaxUint64, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64), got)
}

func TestAddU64(t *testing.T) {
	got, err := AddU64(math.MaxUint64-1, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64), got)

	_, err = AddU64(math.MaxUint64, 1)
	assert.True(t, IsArithmetic(err))
}

func TestSubU64(t *testing.T) {
	got, err := SubU64(10, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), got)

	_, err = SubU64(0, 1)
	require.Error(t, err)
	var lerr *Error
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, CodeUnderflow, lerr.Code)
}

func TestMulDivU64(t *testing.T) {
	// Intermediate product exceeds 64 bits; the quotient does not.
	got, err := MulDivU64(1_000_000_000, 37_843_200_000, 315_360_000_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(120_000_000), got)

	got, err = MulDivU64(7, 3, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), got)

	_, err = MulDivU64(math.MaxUint64, math.MaxUint64, 2)
	assert.True(t, IsArithmetic(err))

	_, err = MulDivU64(1, 1, 0)
	assert.True(t, IsArithmetic(err))
}

func TestMinU64(t *testing.T) {
	assert.Equal(t, uint64(3), MinU64(3, 7))
	assert.Equal(t, uint64(3), MinU64(7, 3))
	assert.Equal(t, uint64(7), MinU64(7, 7))
}

func TestClampI32(t *testing.T) {
	assert.Equal(t, int32(0), ClampI32(-5, 0, 10_000))
	assert.Equal(t, int32(10_000), ClampI32(20_000, 0, 10_000))
	assert.Equal(t, int32(42), ClampI32(42, 0, 10_000))
}

func TestAddressParsing(t *testing.T) {
	var a Address
	a[0] = 1
	a[31] = 255

	parsed, err := AddressFromString(a.String())
	require.NoError(t, err)
	assert.Equal(t, a, parsed)

	_, err = AddressFromString("!!not-base58!!")
	assert.True(t, IsValidation(err))

	_, err = AddressFromBytes([]byte{1, 2, 3})
	assert.True(t, IsValidation(err))

	assert.True(t, ZeroAddress.IsZero())
	assert.False(t, a.IsZero())
	assert.True(t, a.Equal(parsed))
}

func TestManualClock(t *testing.T) {
	c := NewManualClock(100)
	assert.Equal(t, int64(100), c.Now())
	c.Advance(50)
	assert.Equal(t, int64(150), c.Now())
	c.Set(7)
	assert.Equal(t, int64(7), c.Now())
}
