// Package vault is the boundary to the external token service. The ledger
// core never mints or holds custody itself; it instructs the vault to move
// minor-unit amounts between identities (escrow funding, metered payouts,
// stake deposits, slashes) and treats any vault failure as an abort of the
// enclosing transition.
package vault

import "github.com/DroneOsDev/DroneOS/internal/ledger"

// Vault moves token amounts between ledger identities.
type Vault interface {
	// Transfer moves amount minor units from one identity to another.
	// Implementations must reject transfers that would overdraw the source.
	Transfer(from, to ledger.Address, amount uint64) error

	// Balance reports the spendable amount held by an identity.
	Balance(addr ledger.Address) (uint64, error)
}
