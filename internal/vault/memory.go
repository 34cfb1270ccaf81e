package vault

import (
	"sync"

	"github.com/DroneOsDev/DroneOS/internal/ledger"
)

// Memory is an in-process vault used by tests and local simulation. It
// enforces the same non-negativity the real token service does.
type Memory struct {
	mu       sync.Mutex
	balances map[ledger.Address]uint64
}

// NewMemory creates an empty vault.
func NewMemory() *Memory {
	return &Memory{balances: make(map[ledger.Address]uint64)}
}

// Credit mints amount to addr. Test setup only; the production mint lives in
// the external token service.
func (m *Memory) Credit(addr ledger.Address, amount uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[addr] += amount
}

func (m *Memory) Transfer(from, to ledger.Address, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.balances[from] < amount {
		return ledger.NewValidationError(ledger.CodeInsufficient, "vault balance too low").
			WithContext("from", from.String()).
			WithContext("have", m.balances[from]).
			WithContext("need", amount)
	}
	m.balances[from] -= amount
	m.balances[to] += amount
	return nil
}

func (m *Memory) Balance(addr ledger.Address) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[addr], nil
}
