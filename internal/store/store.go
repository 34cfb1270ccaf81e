// Package store persists encoded accounts keyed by their derived address.
// Three backends share one contract: an in-memory store for tests and
// simulation, an embedded SQLite store for single nodes, and a Postgres
// store for indexer deployments.
package store

import "github.com/DroneOsDev/DroneOS/internal/ledger"

// Tx reads and stages writes over raw account bytes. Writes become visible
// only if the enclosing Update commits.
type Tx interface {
	// Get returns the encoded account at addr, or a NotFound error.
	Get(addr ledger.Address) ([]byte, error)

	// Put stages the encoded account at addr.
	Put(addr ledger.Address, data []byte) error

	// Has reports whether an account exists at addr.
	Has(addr ledger.Address) (bool, error)
}

// Store serializes transitions over the account set. Update is
// all-or-nothing: if fn returns an error nothing it staged is applied.
type Store interface {
	View(fn func(Tx) error) error
	Update(fn func(Tx) error) error
	Close() error
}
