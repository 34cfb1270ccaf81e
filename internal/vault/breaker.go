package vault

import (
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/DroneOsDev/DroneOS/internal/ledger"
)

// Breaker wraps a remote vault with a circuit breaker so a degraded token
// service fails transitions fast instead of stalling every tick.
type Breaker struct {
	inner Vault
	cb    *gobreaker.CircuitBreaker
}

// NewBreaker wraps inner. logger may be nil.
func NewBreaker(inner Vault, logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "vault")

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "token-vault",
		Timeout: 15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// Business rejections (overdraw etc.) are healthy responses.
			return err == nil || ledger.KindOf(err) != ledger.Kind(-1)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("vault breaker state change", "from", from.String(), "to", to.String())
		},
	})
	return &Breaker{inner: inner, cb: cb}
}

func (b *Breaker) Transfer(from, to ledger.Address, amount uint64) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.inner.Transfer(from, to, amount)
	})
	return err
}

func (b *Breaker) Balance(addr ledger.Address) (uint64, error) {
	v, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.Balance(addr)
	})
	if err != nil {
		return 0, err
	}
	return v.(uint64), nil
}
