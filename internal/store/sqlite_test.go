package store

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DroneOsDev/DroneOS/internal/ledger"
)

func newTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "accounts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLitePutGet(t *testing.T) {
	s := newTestSQLite(t)

	require.NoError(t, s.Update(func(tx Tx) error {
		return tx.Put(addr(1), []byte("account-1"))
	}))

	require.NoError(t, s.View(func(tx Tx) error {
		data, err := tx.Get(addr(1))
		require.NoError(t, err)
		assert.Equal(t, []byte("account-1"), data)

		ok, err := tx.Has(addr(1))
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = tx.Has(addr(2))
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = tx.Get(addr(2))
		assert.True(t, ledger.IsNotFound(err))
		return nil
	}))
}

func TestSQLiteUpsert(t *testing.T) {
	s := newTestSQLite(t)

	require.NoError(t, s.Update(func(tx Tx) error {
		return tx.Put(addr(1), []byte("v1"))
	}))
	require.NoError(t, s.Update(func(tx Tx) error {
		return tx.Put(addr(1), []byte("v2"))
	}))

	require.NoError(t, s.View(func(tx Tx) error {
		data, err := tx.Get(addr(1))
		require.NoError(t, err)
		assert.Equal(t, []byte("v2"), data)
		return nil
	}))
}

func TestSQLiteRollbackOnError(t *testing.T) {
	s := newTestSQLite(t)
	boom := errors.New("abort")

	err := s.Update(func(tx Tx) error {
		require.NoError(t, tx.Put(addr(1), []byte("staged")))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	require.NoError(t, s.View(func(tx Tx) error {
		ok, err := tx.Has(addr(1))
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	}))
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.db")

	s, err := NewSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.Update(func(tx Tx) error {
		return tx.Put(addr(7), []byte("durable"))
	}))
	require.NoError(t, s.Close())

	s, err = NewSQLite(path)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.View(func(tx Tx) error {
		data, err := tx.Get(addr(7))
		require.NoError(t, err)
		assert.Equal(t, []byte("durable"), data)
		return nil
	}))
}
