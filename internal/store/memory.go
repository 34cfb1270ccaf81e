package store

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/DroneOsDev/DroneOS/internal/ledger"
)

// Memory is the in-process backend. A bloom filter answers the common
// "does this derived address exist yet" probe without touching the map;
// registration paths hit it on every collision check.
type Memory struct {
	mu       sync.RWMutex
	accounts map[ledger.Address][]byte
	filter   *bloom.BloomFilter
}

// bloom sizing: expected account population for a single node, 1% FP rate.
// False positives only cost a map lookup.
const (
	bloomCapacity = 100_000
	bloomFPRate   = 0.01
)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		accounts: make(map[ledger.Address][]byte),
		filter:   bloom.NewWithEstimates(bloomCapacity, bloomFPRate),
	}
}

type memTx struct {
	s       *Memory
	staged  map[ledger.Address][]byte
	writing bool
}

func (t *memTx) Get(addr ledger.Address) ([]byte, error) {
	if t.writing {
		if data, ok := t.staged[addr]; ok {
			return cloneBytes(data), nil
		}
	}
	if !t.s.filter.Test(addr[:]) {
		return nil, ledger.NewNotFoundError(addr)
	}
	data, ok := t.s.accounts[addr]
	if !ok {
		return nil, ledger.NewNotFoundError(addr)
	}
	return cloneBytes(data), nil
}

func (t *memTx) Put(addr ledger.Address, data []byte) error {
	if !t.writing {
		return ledger.NewStateError("READ_ONLY_TX", "put inside a read-only view")
	}
	t.staged[addr] = cloneBytes(data)
	return nil
}

func (t *memTx) Has(addr ledger.Address) (bool, error) {
	if t.writing {
		if _, ok := t.staged[addr]; ok {
			return true, nil
		}
	}
	if !t.s.filter.Test(addr[:]) {
		return false, nil
	}
	_, ok := t.s.accounts[addr]
	return ok, nil
}

// View runs fn over a read snapshot.
func (m *Memory) View(fn func(Tx) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(&memTx{s: m})
}

// Update runs fn with staged writes, committing only on success.
func (m *Memory) Update(fn func(Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{s: m, staged: make(map[ledger.Address][]byte), writing: true}
	if err := fn(tx); err != nil {
		return err
	}
	for addr, data := range tx.staged {
		m.accounts[addr] = data
		m.filter.Add(addr[:])
	}
	return nil
}

// Close is a no-op for the memory backend.
func (m *Memory) Close() error {
	return nil
}

// Len returns the number of stored accounts.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.accounts)
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
