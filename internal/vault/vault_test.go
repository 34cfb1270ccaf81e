package vault

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DroneOsDev/DroneOS/internal/ledger"
)

func addr(b byte) ledger.Address {
	var a ledger.Address
	a[0] = b
	return a
}

func TestMemoryTransfer(t *testing.T) {
	v := NewMemory()
	v.Credit(addr(1), 1000)

	require.NoError(t, v.Transfer(addr(1), addr(2), 400))

	b1, err := v.Balance(addr(1))
	require.NoError(t, err)
	assert.Equal(t, uint64(600), b1)

	b2, err := v.Balance(addr(2))
	require.NoError(t, err)
	assert.Equal(t, uint64(400), b2)
}

func TestMemoryRejectsOverdraw(t *testing.T) {
	v := NewMemory()
	v.Credit(addr(1), 100)

	err := v.Transfer(addr(1), addr(2), 101)
	require.Error(t, err)
	assert.True(t, ledger.IsValidation(err))

	// Nothing moved.
	b1, _ := v.Balance(addr(1))
	b2, _ := v.Balance(addr(2))
	assert.Equal(t, uint64(100), b1)
	assert.Equal(t, uint64(0), b2)
}

func TestMemoryUnknownAccountIsEmpty(t *testing.T) {
	v := NewMemory()
	b, err := v.Balance(addr(9))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), b)
}

// failingVault simulates a token service outage.
type failingVault struct {
	err error
}

func (f *failingVault) Transfer(from, to ledger.Address, amount uint64) error {
	return f.err
}

func (f *failingVault) Balance(addr ledger.Address) (uint64, error) {
	return 0, f.err
}

func TestBreakerPassesThrough(t *testing.T) {
	inner := NewMemory()
	inner.Credit(addr(1), 500)
	b := NewBreaker(inner, nil)

	require.NoError(t, b.Transfer(addr(1), addr(2), 200))
	got, err := b.Balance(addr(2))
	require.NoError(t, err)
	assert.Equal(t, uint64(200), got)
}

func TestBreakerTripsOnOutage(t *testing.T) {
	outage := errors.New("connection refused")
	b := NewBreaker(&failingVault{err: outage}, nil)

	// Five consecutive transport failures open the circuit.
	for i := 0; i < 5; i++ {
		err := b.Transfer(addr(1), addr(2), 1)
		assert.ErrorIs(t, err, outage)
	}

	err := b.Transfer(addr(1), addr(2), 1)
	require.Error(t, err)
	assert.NotErrorIs(t, err, outage)
}

func TestBreakerIgnoresBusinessRejections(t *testing.T) {
	inner := NewMemory()
	b := NewBreaker(inner, nil)

	// Overdraws are healthy responses; they must never open the circuit.
	for i := 0; i < 20; i++ {
		err := b.Transfer(addr(1), addr(2), 1)
		assert.True(t, ledger.IsValidation(err))
	}

	inner.Credit(addr(1), 10)
	require.NoError(t, b.Transfer(addr(1), addr(2), 10))
}
