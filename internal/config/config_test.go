package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DroneOsDev/DroneOS/internal/ledger"
	"github.com/mr-tron/base58"
)

func TestDefaultValidates(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.yaml")
	doc := `
listen: "0.0.0.0:9000"
store:
  backend: sqlite
  path: /var/lib/droneos/accounts.db
market:
  auto_reject_siblings: false
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.Listen)
	assert.Equal(t, BackendSQLite, cfg.Store.Backend)
	assert.Equal(t, "/var/lib/droneos/accounts.db", cfg.Store.Path)
	assert.False(t, cfg.Market.AutoRejectSiblings)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Untouched keys keep their defaults.
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidateRejectsBadBackend(t *testing.T) {
	cfg := Default()
	cfg.Store.Backend = "etcd"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Store.Backend = BackendSQLite
	cfg.Store.Path = ""
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Store.Backend = BackendPostgres
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Listen = ""
	assert.Error(t, cfg.Validate())
}

func TestAuthorityAddress(t *testing.T) {
	var want ledger.Address
	want[0] = 7

	cfg := Default()
	cfg.Authority = base58.Encode(want[:])
	require.NoError(t, cfg.Validate())

	got, err := cfg.AuthorityAddress()
	require.NoError(t, err)
	assert.Equal(t, want, got)

	cfg.Authority = "tooshort"
	_, err = cfg.AuthorityAddress()
	assert.Error(t, err)

	cfg.Authority = ""
	_, err = cfg.AuthorityAddress()
	assert.Error(t, err)
}

func TestWriteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.yaml")
	cfg := Default()
	cfg.Listen = "127.0.0.1:9999"
	require.NoError(t, cfg.Write(path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}
