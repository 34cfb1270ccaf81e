package stream

import (
	"log/slog"

	"github.com/DroneOsDev/DroneOS/internal/derive"
	"github.com/DroneOsDev/DroneOS/internal/events"
	"github.com/DroneOsDev/DroneOS/internal/ledger"
	"github.com/DroneOsDev/DroneOS/internal/store"
	"github.com/DroneOsDev/DroneOS/internal/vault"
)

// Engine executes payment-stream transitions. Escrow balances live in the
// external token vault; the stream account mirrors them so invariants can be
// checked without a vault round trip.
type Engine struct {
	store  store.Store
	vault  vault.Vault
	clock  ledger.Clock
	bus    *events.Bus
	logger *slog.Logger
}

// NewEngine wires a stream engine. bus and logger may be nil.
func NewEngine(st store.Store, v vault.Vault, clock ledger.Clock, bus *events.Bus, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:  st,
		vault:  v,
		clock:  clock,
		bus:    bus,
		logger: logger.With("component", "stream"),
	}
}

// Initialize creates the stream config account with protocol defaults.
func (e *Engine) Initialize(authority ledger.Address) (ledger.Address, error) {
	addr, bump := derive.StreamConfig()

	err := e.store.Update(func(tx store.Tx) error {
		exists, err := tx.Has(addr)
		if err != nil {
			return err
		}
		if exists {
			return ledger.NewStateError(ledger.CodeExists, "stream config already initialized")
		}
		cfg := &Config{
			Authority:         authority,
			FeeBasisPoints:    DefaultFeeBasisPoints,
			MinStreamDuration: DefaultMinDuration,
			MaxStreamDuration: DefaultMaxDuration,
			Bump:              bump,
		}
		data, err := cfg.Encode()
		if err != nil {
			return err
		}
		return tx.Put(addr, data)
	})
	if err != nil {
		return ledger.ZeroAddress, err
	}

	e.logger.Info("stream config initialized", "address", addr, "authority", authority)
	return addr, nil
}

// CreateStreamParams carries the terms of a new stream.
type CreateStreamParams struct {
	Payee         ledger.Address
	RatePerSecond uint64
	MaxDuration   uint64
	GracePeriod   uint64
	AutoTerminate bool
}

// CreateStream opens a Pending stream and moves the full escrow
// (rate * maxDuration) from the payer into the stream's escrow account.
func (e *Engine) CreateStream(payer ledger.Address, p CreateStreamParams) (ledger.Address, error) {
	now := e.clock.Now()

	var streamAddr ledger.Address
	var escrow uint64
	err := e.store.Update(func(tx store.Tx) error {
		var err error
		streamAddr, escrow, err = e.openTx(tx, payer, p, nil, now, false)
		return err
	})
	if err != nil {
		return ledger.ZeroAddress, err
	}

	e.logger.Info("stream created",
		"stream", streamAddr, "payer", payer, "payee", p.Payee,
		"rate", p.RatePerSecond, "escrow", escrow)
	e.bus.Publish(events.TopicStreamCreated, events.StreamCreated{
		Stream:        streamAddr.String(),
		Payer:         payer.String(),
		Payee:         p.Payee.String(),
		RatePerSecond: p.RatePerSecond,
		EscrowAmount:  escrow,
		Timestamp:     now,
	})
	return streamAddr, nil
}

// Start activates a Pending stream and opens the metering window.
func (e *Engine) Start(signer, streamAddr ledger.Address) error {
	now := e.clock.Now()

	err := e.store.Update(func(tx store.Tx) error {
		s, err := e.LoadStreamTx(tx, streamAddr)
		if err != nil {
			return err
		}
		if !s.Payer.Equal(signer) {
			return ledger.NewAuthorizationError("only the payer may start the stream")
		}
		if s.Status != StatusPending {
			return ledger.NewStateError(ledger.CodeNotPending, "stream already started").
				WithContext("status", s.Status.String())
		}
		s.Status = StatusActive
		s.StartedAt = now
		s.LastTickAt = now
		return e.SaveStreamTx(tx, streamAddr, s)
	})
	if err != nil {
		return err
	}

	e.bus.Publish(events.TopicStreamStarted, events.StreamStarted{
		Stream:    streamAddr.String(),
		StartedAt: now,
	})
	return nil
}

// Tick settles the elapsed debt. Anyone may call it; it never fails on an
// inactive stream or a zero elapsed window, it just pays nothing. When the
// escrow runs dry on an auto-terminating stream the final partial payment
// lands and the stream completes.
func (e *Engine) Tick(streamAddr ledger.Address) (uint64, error) {
	now := e.clock.Now()

	var paid uint64
	var snapshot *PaymentStream
	var completedNow bool
	err := e.store.Update(func(tx store.Tx) error {
		s, err := e.LoadStreamTx(tx, streamAddr)
		if err != nil {
			return err
		}
		prior := s.Status
		paid, err = e.settleTx(tx, streamAddr, s, now)
		if err != nil {
			return err
		}
		completedNow = prior != StatusCompleted && s.Status == StatusCompleted
		snapshot = s
		return e.SaveStreamTx(tx, streamAddr, s)
	})
	if err != nil {
		return 0, err
	}

	if paid > 0 {
		e.bus.Publish(events.TopicStreamTick, events.StreamTick{
			Stream:          streamAddr.String(),
			TickNumber:      snapshot.TotalTicks,
			Amount:          paid,
			TotalPaid:       snapshot.TotalPaid,
			EscrowRemaining: snapshot.EscrowBalance,
			Timestamp:       now,
		})
	}
	if completedNow {
		e.bus.Publish(events.TopicStreamTerminated, events.StreamTerminated{
			Stream:    streamAddr.String(),
			Reason:    "escrow depleted",
			TotalPaid: snapshot.TotalPaid,
			Timestamp: now,
		})
	}
	return paid, nil
}

// Pause settles the debt accrued so far, then freezes the stream. Paused
// time never accrues.
func (e *Engine) Pause(signer, streamAddr ledger.Address) error {
	now := e.clock.Now()

	err := e.store.Update(func(tx store.Tx) error {
		s, err := e.LoadStreamTx(tx, streamAddr)
		if err != nil {
			return err
		}
		if !s.Payer.Equal(signer) {
			return ledger.NewAuthorizationError("only the payer may pause the stream")
		}
		if s.Status != StatusActive {
			return ledger.NewStateError(ledger.CodeNotActive, "stream is not active").
				WithContext("status", s.Status.String())
		}
		if _, err := e.settleTx(tx, streamAddr, s, now); err != nil {
			return err
		}
		// Settlement may have auto-completed a depleted stream.
		if s.Status == StatusActive {
			s.Status = StatusPaused
		}
		return e.SaveStreamTx(tx, streamAddr, s)
	})
	if err != nil {
		return err
	}

	e.bus.Publish(events.TopicStreamPaused, events.StreamPaused{
		Stream:    streamAddr.String(),
		Timestamp: now,
	})
	return nil
}

// Resume reopens a paused stream. The metering window restarts at now, so
// the paused span costs nothing.
func (e *Engine) Resume(signer, streamAddr ledger.Address) error {
	now := e.clock.Now()

	err := e.store.Update(func(tx store.Tx) error {
		s, err := e.LoadStreamTx(tx, streamAddr)
		if err != nil {
			return err
		}
		if !s.Payer.Equal(signer) {
			return ledger.NewAuthorizationError("only the payer may resume the stream")
		}
		if s.Status != StatusPaused {
			return ledger.NewStateError(ledger.CodeNotPaused, "stream is not paused").
				WithContext("status", s.Status.String())
		}
		s.Status = StatusActive
		s.LastTickAt = now
		return e.SaveStreamTx(tx, streamAddr, s)
	})
	if err != nil {
		return err
	}

	e.bus.Publish(events.TopicStreamResumed, events.StreamResumed{
		Stream:    streamAddr.String(),
		Timestamp: now,
	})
	return nil
}

// Terminate settles the final debt to the payee, refunds the remaining
// escrow to the payer and completes the stream. Either party may end it.
func (e *Engine) Terminate(signer, streamAddr ledger.Address, reason string) error {
	now := e.clock.Now()

	var totalPaid uint64
	err := e.store.Update(func(tx store.Tx) error {
		s, err := e.LoadStreamTx(tx, streamAddr)
		if err != nil {
			return err
		}
		if !s.Payer.Equal(signer) && !s.Payee.Equal(signer) {
			return ledger.NewAuthorizationError("only a stream party may terminate")
		}
		if s.Status != StatusActive && s.Status != StatusPaused {
			return ledger.NewStateError(ledger.CodeNotActive, "stream cannot be terminated").
				WithContext("status", s.Status.String())
		}
		totalPaid, err = e.closeTx(tx, streamAddr, s, now)
		if err != nil {
			return err
		}
		return e.SaveStreamTx(tx, streamAddr, s)
	})
	if err != nil {
		return err
	}

	e.logger.Info("stream terminated", "stream", streamAddr, "reason", reason, "total_paid", totalPaid)
	e.bus.Publish(events.TopicStreamTerminated, events.StreamTerminated{
		Stream:    streamAddr.String(),
		Reason:    reason,
		TotalPaid: totalPaid,
		Timestamp: now,
	})
	return nil
}

// CancelStream voids a stream that never started, refunding the full escrow.
func (e *Engine) CancelStream(signer, streamAddr ledger.Address) error {
	var refunded uint64
	err := e.store.Update(func(tx store.Tx) error {
		s, err := e.LoadStreamTx(tx, streamAddr)
		if err != nil {
			return err
		}
		if !s.Payer.Equal(signer) {
			return ledger.NewAuthorizationError("only the payer may cancel the stream")
		}
		if s.Status != StatusPending {
			return ledger.NewStateError(ledger.CodeNotPending, "only a pending stream can be cancelled").
				WithContext("status", s.Status.String())
		}
		escrowAddr, _ := derive.Escrow(streamAddr)
		refunded = s.EscrowBalance
		if refunded > 0 {
			if err := e.vault.Transfer(escrowAddr, s.Payer, refunded); err != nil {
				return err
			}
		}
		s.EscrowBalance = 0
		s.Status = StatusCancelled
		return e.SaveStreamTx(tx, streamAddr, s)
	})
	if err != nil {
		return err
	}

	e.bus.Publish(events.TopicStreamCancelled, events.StreamCancelled{
		Stream:   streamAddr.String(),
		Refunded: refunded,
	})
	return nil
}

// TopUpEscrow adds funds to a live stream's escrow.
func (e *Engine) TopUpEscrow(signer, streamAddr ledger.Address, amount uint64) error {
	if amount == 0 {
		return ledger.NewValidationError(ledger.CodeInsufficient, "top-up amount must be positive")
	}

	var newBalance uint64
	err := e.store.Update(func(tx store.Tx) error {
		s, err := e.LoadStreamTx(tx, streamAddr)
		if err != nil {
			return err
		}
		if !s.Payer.Equal(signer) {
			return ledger.NewAuthorizationError("only the payer may top up escrow")
		}
		if s.Status.terminal() {
			return ledger.NewStateError(ledger.CodeTerminated, "stream already ended").
				WithContext("status", s.Status.String())
		}
		escrowAddr, _ := derive.Escrow(streamAddr)
		if err := e.vault.Transfer(s.Payer, escrowAddr, amount); err != nil {
			return err
		}
		newBalance, err = ledger.AddU64(s.EscrowBalance, amount)
		if err != nil {
			return err
		}
		s.EscrowBalance = newBalance
		return e.SaveStreamTx(tx, streamAddr, s)
	})
	if err != nil {
		return err
	}

	e.bus.Publish(events.TopicEscrowToppedUp, events.EscrowToppedUp{
		Stream:     streamAddr.String(),
		Amount:     amount,
		NewBalance: newBalance,
	})
	return nil
}

// LinkToTask binds the stream to a task. The link is one-shot.
func (e *Engine) LinkToTask(signer, streamAddr, task ledger.Address) error {
	return e.store.Update(func(tx store.Tx) error {
		s, err := e.LoadStreamTx(tx, streamAddr)
		if err != nil {
			return err
		}
		if !s.Payer.Equal(signer) {
			return ledger.NewAuthorizationError("only the payer may link the stream")
		}
		if s.TaskID != nil {
			return ledger.NewStateError(ledger.CodeAlreadyLinked, "stream already linked to a task").
				WithContext("task", s.TaskID.String())
		}
		s.TaskID = &task
		return e.SaveStreamTx(tx, streamAddr, s)
	})
}

// GetStream returns the decoded stream account.
func (e *Engine) GetStream(streamAddr ledger.Address) (*PaymentStream, error) {
	var s *PaymentStream
	err := e.store.View(func(tx store.Tx) error {
		var err error
		s, err = e.LoadStreamTx(tx, streamAddr)
		return err
	})
	return s, err
}

// GetConfig returns the decoded config account.
func (e *Engine) GetConfig() (*Config, error) {
	addr, _ := derive.StreamConfig()
	var cfg *Config
	err := e.store.View(func(tx store.Tx) error {
		var err error
		cfg, err = loadConfig(tx, addr)
		return err
	})
	return cfg, err
}

// CurrentDebt reports what a Tick at now would pay, capped at the escrow.
func (e *Engine) CurrentDebt(streamAddr ledger.Address) (uint64, error) {
	now := e.clock.Now()
	var debt uint64
	err := e.store.View(func(tx store.Tx) error {
		s, err := e.LoadStreamTx(tx, streamAddr)
		if err != nil {
			return err
		}
		if s.Status != StatusActive {
			return nil
		}
		elapsed := now - s.LastTickAt
		if elapsed <= 0 {
			return nil
		}
		due, err := ledger.MulU64(s.RatePerSecond, uint64(elapsed))
		if err != nil {
			return err
		}
		debt = ledger.MinU64(due, s.EscrowBalance)
		return nil
	})
	return debt, err
}

// RemainingTime reports how many more seconds the escrow can fund at the
// current rate, net of the unsettled debt.
func (e *Engine) RemainingTime(streamAddr ledger.Address) (uint64, error) {
	debt, err := e.CurrentDebt(streamAddr)
	if err != nil {
		return 0, err
	}
	var remaining uint64
	err = e.store.View(func(tx store.Tx) error {
		s, err := e.LoadStreamTx(tx, streamAddr)
		if err != nil {
			return err
		}
		if s.Status != StatusActive || s.RatePerSecond == 0 {
			return nil
		}
		left, err := ledger.SubU64(s.EscrowBalance, debt)
		if err != nil {
			return err
		}
		remaining = left / s.RatePerSecond
		return nil
	})
	return remaining, err
}

// openTx creates the stream inside tx. When active is set the stream starts
// immediately with the metering window open, which is how task-driven
// streams come to life.
func (e *Engine) openTx(tx store.Tx, payer ledger.Address, p CreateStreamParams, task *ledger.Address, now int64, active bool) (ledger.Address, uint64, error) {
	cfgAddr, _ := derive.StreamConfig()
	cfg, err := loadConfig(tx, cfgAddr)
	if err != nil {
		return ledger.ZeroAddress, 0, err
	}

	if p.RatePerSecond == 0 {
		return ledger.ZeroAddress, 0, ledger.NewValidationError(ledger.CodeBadRate, "rate must be positive")
	}
	if p.MaxDuration < cfg.MinStreamDuration || p.MaxDuration > cfg.MaxStreamDuration {
		return ledger.ZeroAddress, 0, ledger.NewValidationError(ledger.CodeBadDuration, "duration out of bounds").
			WithContext("duration", p.MaxDuration).
			WithContext("min", cfg.MinStreamDuration).
			WithContext("max", cfg.MaxStreamDuration)
	}
	if p.GracePeriod > MaxGracePeriod {
		return ledger.ZeroAddress, 0, ledger.NewValidationError(ledger.CodeBadGrace, "grace period too long").
			WithContext("grace", p.GracePeriod)
	}

	escrow, err := ledger.MulU64(p.RatePerSecond, p.MaxDuration)
	if err != nil {
		return ledger.ZeroAddress, 0, err
	}

	streamAddr, bump := derive.Stream(payer, p.Payee, now)
	exists, err := tx.Has(streamAddr)
	if err != nil {
		return ledger.ZeroAddress, 0, err
	}
	if exists {
		return ledger.ZeroAddress, 0, ledger.NewStateError(ledger.CodeExists, "stream already exists for these parties at this time")
	}
	escrowAddr, escrowBump := derive.Escrow(streamAddr)

	if err := e.vault.Transfer(payer, escrowAddr, escrow); err != nil {
		return ledger.ZeroAddress, 0, err
	}

	s := &PaymentStream{
		Payer:         payer,
		Payee:         p.Payee,
		RatePerSecond: p.RatePerSecond,
		MaxDuration:   p.MaxDuration,
		GracePeriod:   p.GracePeriod,
		AutoTerminate: p.AutoTerminate,
		Status:        StatusPending,
		CreatedAt:     now,
		EscrowBalance: escrow,
		TaskID:        task,
		EscrowBump:    escrowBump,
		Bump:          bump,
	}
	if active {
		s.Status = StatusActive
		s.StartedAt = now
		s.LastTickAt = now
	}
	if err := e.SaveStreamTx(tx, streamAddr, s); err != nil {
		return ledger.ZeroAddress, 0, err
	}

	cfg.TotalStreams++
	if err := saveConfig(tx, cfgAddr, cfg); err != nil {
		return ledger.ZeroAddress, 0, err
	}
	return streamAddr, escrow, nil
}

// settleTx pays the debt accrued since the last tick. It mutates s but does
// not persist it; callers save after any further changes. Inactive streams
// and empty windows settle to zero without error.
func (e *Engine) settleTx(tx store.Tx, streamAddr ledger.Address, s *PaymentStream, now int64) (uint64, error) {
	if s.Status != StatusActive {
		return 0, nil
	}
	elapsed := now - s.LastTickAt
	if elapsed <= 0 {
		return 0, nil
	}

	due, err := ledger.MulU64(s.RatePerSecond, uint64(elapsed))
	if err != nil {
		return 0, err
	}
	pay := ledger.MinU64(due, s.EscrowBalance)
	s.LastTickAt = now

	if pay > 0 {
		cfgAddr, _ := derive.StreamConfig()
		cfg, err := loadConfig(tx, cfgAddr)
		if err != nil {
			return 0, err
		}
		escrowAddr, _ := derive.Escrow(streamAddr)

		fee, err := protocolFee(pay, cfg.FeeBasisPoints)
		if err != nil {
			return 0, err
		}
		if err := e.vault.Transfer(escrowAddr, s.Payee, pay-fee); err != nil {
			return 0, err
		}
		if fee > 0 {
			if err := e.vault.Transfer(escrowAddr, cfg.Authority, fee); err != nil {
				return 0, err
			}
		}

		s.TotalPaid, err = ledger.AddU64(s.TotalPaid, pay)
		if err != nil {
			return 0, err
		}
		s.EscrowBalance, err = ledger.SubU64(s.EscrowBalance, pay)
		if err != nil {
			return 0, err
		}
		s.TotalTicks++

		cfg.TotalVolume, err = ledger.AddU64(cfg.TotalVolume, pay)
		if err != nil {
			return 0, err
		}
		if err := saveConfig(tx, cfgAddr, cfg); err != nil {
			return 0, err
		}
	}

	if s.EscrowBalance == 0 && s.AutoTerminate {
		s.Status = StatusCompleted
	}
	return pay, nil
}

// closeTx settles the final debt and refunds the rest of the escrow to the
// payer. It mutates s but does not persist it.
func (e *Engine) closeTx(tx store.Tx, streamAddr ledger.Address, s *PaymentStream, now int64) (uint64, error) {
	if _, err := e.settleTx(tx, streamAddr, s, now); err != nil {
		return 0, err
	}
	if s.EscrowBalance > 0 {
		escrowAddr, _ := derive.Escrow(streamAddr)
		if err := e.vault.Transfer(escrowAddr, s.Payer, s.EscrowBalance); err != nil {
			return 0, err
		}
		s.EscrowBalance = 0
	}
	s.Status = StatusCompleted
	return s.TotalPaid, nil
}

// protocolFee computes the basis-point cut, truncating toward zero.
func protocolFee(amount uint64, bps uint16) (uint64, error) {
	return ledger.MulDivU64(amount, uint64(bps), bpsDenominator)
}

// OpenForTaskTx creates an already-active stream bound to a task, inside the
// caller's transaction. The task market uses it when work starts so the
// escrow, the stream and the task assignment commit together.
func (e *Engine) OpenForTaskTx(tx store.Tx, payer, payee ledger.Address, rate, maxDuration uint64, task ledger.Address, now int64) (ledger.Address, error) {
	addr, _, err := e.openTx(tx, payer, CreateStreamParams{
		Payee:         payee,
		RatePerSecond: rate,
		MaxDuration:   maxDuration,
		AutoTerminate: true,
	}, &task, now, true)
	return addr, err
}

// PauseForTaskTx settles and pauses a task-bound stream inside the caller's
// transaction. A stream that already completed is left alone.
func (e *Engine) PauseForTaskTx(tx store.Tx, streamAddr ledger.Address, now int64) error {
	s, err := e.LoadStreamTx(tx, streamAddr)
	if err != nil {
		return err
	}
	if s.Status != StatusActive {
		return e.SaveStreamTx(tx, streamAddr, s)
	}
	if _, err := e.settleTx(tx, streamAddr, s, now); err != nil {
		return err
	}
	if s.Status == StatusActive {
		s.Status = StatusPaused
	}
	return e.SaveStreamTx(tx, streamAddr, s)
}

// FinalizeForTaskTx terminates a task-bound stream inside the caller's
// transaction and reports the lifetime amount paid. Already-ended streams
// finalize to their recorded total.
func (e *Engine) FinalizeForTaskTx(tx store.Tx, streamAddr ledger.Address, now int64) (uint64, error) {
	s, err := e.LoadStreamTx(tx, streamAddr)
	if err != nil {
		return 0, err
	}
	if s.Status.terminal() {
		return s.TotalPaid, nil
	}
	totalPaid, err := e.closeTx(tx, streamAddr, s, now)
	if err != nil {
		return 0, err
	}
	if err := e.SaveStreamTx(tx, streamAddr, s); err != nil {
		return 0, err
	}
	return totalPaid, nil
}

// LoadStreamTx reads and decodes the stream at addr inside tx.
func (e *Engine) LoadStreamTx(tx store.Tx, addr ledger.Address) (*PaymentStream, error) {
	data, err := tx.Get(addr)
	if err != nil {
		return nil, err
	}
	return DecodeStream(data)
}

// SaveStreamTx encodes and stages the stream at addr inside tx.
func (e *Engine) SaveStreamTx(tx store.Tx, addr ledger.Address, s *PaymentStream) error {
	data, err := s.Encode()
	if err != nil {
		return err
	}
	return tx.Put(addr, data)
}

func loadConfig(tx store.Tx, addr ledger.Address) (*Config, error) {
	data, err := tx.Get(addr)
	if err != nil {
		return nil, err
	}
	return DecodeConfig(data)
}

func saveConfig(tx store.Tx, addr ledger.Address, cfg *Config) error {
	data, err := cfg.Encode()
	if err != nil {
		return err
	}
	return tx.Put(addr, data)
}
