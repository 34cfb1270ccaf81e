package staking

import (
	"log/slog"

	"github.com/DroneOsDev/DroneOS/internal/derive"
	"github.com/DroneOsDev/DroneOS/internal/events"
	"github.com/DroneOsDev/DroneOS/internal/ledger"
	"github.com/DroneOsDev/DroneOS/internal/store"
	"github.com/DroneOsDev/DroneOS/internal/vault"
)

// Engine executes staking transitions. Staked principal sits in the pool
// account (the config address); rewards are paid from the mint account the
// external token service keeps funded.
type Engine struct {
	store  store.Store
	vault  vault.Vault
	clock  ledger.Clock
	bus    *events.Bus
	logger *slog.Logger
}

// NewEngine wires a staking engine. bus and logger may be nil.
func NewEngine(st store.Store, v vault.Vault, clock ledger.Clock, bus *events.Bus, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:  st,
		vault:  v,
		clock:  clock,
		bus:    bus,
		logger: logger.With("component", "staking"),
	}
}

// poolAddress is where staked principal is held.
func poolAddress() ledger.Address {
	addr, _ := derive.StakingConfig()
	return addr
}

// rewardsAddress is the mint-controlled account rewards are paid from.
func rewardsAddress() ledger.Address {
	addr, _ := derive.Mint()
	return addr
}

// Initialize creates the staking config account.
func (e *Engine) Initialize(authority ledger.Address) (ledger.Address, error) {
	addr, bump := derive.StakingConfig()
	mint, _ := derive.Mint()

	err := e.store.Update(func(tx store.Tx) error {
		exists, err := tx.Has(addr)
		if err != nil {
			return err
		}
		if exists {
			return ledger.NewStateError(ledger.CodeExists, "staking config already initialized")
		}
		cfg := &Config{Authority: authority, Mint: mint, Bump: bump}
		data, err := cfg.Encode()
		if err != nil {
			return err
		}
		return tx.Put(addr, data)
	})
	if err != nil {
		return ledger.ZeroAddress, err
	}

	e.logger.Info("staking config initialized", "address", addr, "authority", authority)
	return addr, nil
}

// StakeTokens locks amount for lockDays. Any term is accepted; terms on the
// multiplier schedule earn boosted rewards, everything else earns the base
// rate. An owner holds one stake at a time; a fully-unstaked account can be
// restaked.
func (e *Engine) StakeTokens(owner ledger.Address, amount uint64, lockDays uint16) (ledger.Address, error) {
	if amount < MinStake {
		return ledger.ZeroAddress, ledger.NewValidationError(ledger.CodeBelowMinStake, "stake below minimum").
			WithContext("amount", amount).
			WithContext("minimum", uint64(MinStake))
	}
	now := e.clock.Now()
	stakeAddr, bump := derive.Stake(owner)
	cfgAddr, _ := derive.StakingConfig()
	multiplier := LockMultiplier(lockDays)
	lockSeconds := uint64(lockDays) * 86400

	err := e.store.Update(func(tx store.Tx) error {
		exists, err := tx.Has(stakeAddr)
		if err != nil {
			return err
		}
		if exists {
			prev, err := loadStake(tx, stakeAddr)
			if err != nil {
				return err
			}
			if prev.Amount > 0 {
				return ledger.NewStateError(ledger.CodeExists, "owner already has an active stake")
			}
		}

		if err := e.vault.Transfer(owner, poolAddress(), amount); err != nil {
			return err
		}

		s := &Stake{
			Owner:        owner,
			Amount:       amount,
			StakedAt:     now,
			LockDuration: lockSeconds,
			LockUntil:    now + int64(lockSeconds),
			Multiplier:   multiplier,
			LastClaimAt:  now,
			Bump:         bump,
		}
		if err := saveStake(tx, stakeAddr, s); err != nil {
			return err
		}

		cfg, err := loadConfig(tx, cfgAddr)
		if err != nil {
			return err
		}
		cfg.TotalStaked, err = ledger.AddU64(cfg.TotalStaked, amount)
		if err != nil {
			return err
		}
		cfg.StakeCount++
		return saveConfig(tx, cfgAddr, cfg)
	})
	if err != nil {
		return ledger.ZeroAddress, err
	}

	e.logger.Info("tokens staked", "owner", owner, "amount", amount, "lock_days", lockDays, "multiplier", multiplier)
	e.bus.Publish(events.TopicTokensStaked, events.TokensStaked{
		User:       owner.String(),
		Amount:     amount,
		LockDays:   lockDays,
		Multiplier: multiplier,
	})
	return stakeAddr, nil
}

// ClaimRewards pays out everything accrued since the last claim.
func (e *Engine) ClaimRewards(owner ledger.Address) (uint64, error) {
	now := e.clock.Now()
	stakeAddr, _ := derive.Stake(owner)
	cfgAddr, _ := derive.StakingConfig()

	var rewards uint64
	err := e.store.Update(func(tx store.Tx) error {
		s, err := loadStake(tx, stakeAddr)
		if err != nil {
			return err
		}
		rewards, err = CalculateRewards(s.Amount, s.Multiplier, now-s.LastClaimAt)
		if err != nil {
			return err
		}
		if rewards == 0 {
			return ledger.NewStateError(ledger.CodeNoRewards, "nothing accrued since last claim")
		}
		return e.payRewardsTx(tx, cfgAddr, s, stakeAddr, rewards, now)
	})
	if err != nil {
		return 0, err
	}

	e.bus.Publish(events.TopicRewardsClaimed, events.RewardsClaimed{
		User:   owner.String(),
		Amount: rewards,
	})
	return rewards, nil
}

// Unstake returns amount of principal after the lock expires. Pending
// rewards are claimed automatically first.
func (e *Engine) Unstake(owner ledger.Address, amount uint64) error {
	now := e.clock.Now()
	stakeAddr, _ := derive.Stake(owner)
	cfgAddr, _ := derive.StakingConfig()

	var claimed uint64
	err := e.store.Update(func(tx store.Tx) error {
		s, err := loadStake(tx, stakeAddr)
		if err != nil {
			return err
		}
		if now < s.LockUntil {
			return ledger.NewStateError(ledger.CodeStakeLocked, "stake is still locked").
				WithContext("unlock_at", s.LockUntil)
		}
		if amount == 0 || amount > s.Amount {
			return ledger.NewValidationError(ledger.CodeInsufficientStake, "unstake amount out of range").
				WithContext("amount", amount).
				WithContext("staked", s.Amount)
		}

		claimed, err = CalculateRewards(s.Amount, s.Multiplier, now-s.LastClaimAt)
		if err != nil {
			return err
		}
		if claimed > 0 {
			if err := e.payRewardsTx(tx, cfgAddr, s, stakeAddr, claimed, now); err != nil {
				return err
			}
		}

		if err := e.vault.Transfer(poolAddress(), owner, amount); err != nil {
			return err
		}
		s.Amount -= amount
		if err := saveStake(tx, stakeAddr, s); err != nil {
			return err
		}

		cfg, err := loadConfig(tx, cfgAddr)
		if err != nil {
			return err
		}
		cfg.TotalStaked, err = ledger.SubU64(cfg.TotalStaked, amount)
		if err != nil {
			return err
		}
		if s.Amount == 0 {
			cfg.StakeCount--
		}
		return saveConfig(tx, cfgAddr, cfg)
	})
	if err != nil {
		return err
	}

	e.logger.Info("tokens unstaked", "owner", owner, "amount", amount, "rewards_claimed", claimed)
	e.bus.Publish(events.TopicTokensUnstaked, events.TokensUnstaked{
		User:           owner.String(),
		Amount:         amount,
		RewardsClaimed: claimed,
	})
	return nil
}

// GetPendingRewards reports what a claim right now would pay.
func (e *Engine) GetPendingRewards(owner ledger.Address) (uint64, error) {
	now := e.clock.Now()
	stakeAddr, _ := derive.Stake(owner)

	var pending uint64
	err := e.store.View(func(tx store.Tx) error {
		s, err := loadStake(tx, stakeAddr)
		if err != nil {
			return err
		}
		pending, err = CalculateRewards(s.Amount, s.Multiplier, now-s.LastClaimAt)
		return err
	})
	return pending, err
}

// GetStake returns the decoded stake account for owner.
func (e *Engine) GetStake(owner ledger.Address) (*Stake, error) {
	stakeAddr, _ := derive.Stake(owner)
	var s *Stake
	err := e.store.View(func(tx store.Tx) error {
		var err error
		s, err = loadStake(tx, stakeAddr)
		return err
	})
	return s, err
}

// GetConfig returns the decoded staking config.
func (e *Engine) GetConfig() (*Config, error) {
	addr, _ := derive.StakingConfig()
	var cfg *Config
	err := e.store.View(func(tx store.Tx) error {
		var err error
		cfg, err = loadConfig(tx, addr)
		return err
	})
	return cfg, err
}

// GetOperatorStake returns the decoded collateral account for operator.
func (e *Engine) GetOperatorStake(operator ledger.Address) (*OperatorStake, error) {
	addr, _ := derive.Operator(operator)
	var o *OperatorStake
	err := e.store.View(func(tx store.Tx) error {
		var err error
		o, err = loadOperatorStake(tx, addr)
		return err
	})
	return o, err
}

// CreateOperatorStake posts slashable collateral. Operators stake ten times
// the reward-stake minimum.
func (e *Engine) CreateOperatorStake(operator ledger.Address, amount uint64) (ledger.Address, error) {
	if amount < MinOperatorStake {
		return ledger.ZeroAddress, ledger.NewValidationError(ledger.CodeBelowMinStake, "operator stake below minimum").
			WithContext("amount", amount).
			WithContext("minimum", uint64(MinOperatorStake))
	}
	now := e.clock.Now()
	opAddr, bump := derive.Operator(operator)
	cfgAddr, _ := derive.StakingConfig()

	err := e.store.Update(func(tx store.Tx) error {
		exists, err := tx.Has(opAddr)
		if err != nil {
			return err
		}
		if exists {
			return ledger.NewStateError(ledger.CodeExists, "operator already has collateral posted")
		}

		if err := e.vault.Transfer(operator, poolAddress(), amount); err != nil {
			return err
		}

		o := &OperatorStake{
			Operator:        operator,
			TotalStaked:     amount,
			SlashableAmount: amount,
			CreatedAt:       now,
			Reputation:      initialOperatorReputation,
			Bump:            bump,
		}
		if err := saveOperatorStake(tx, opAddr, o); err != nil {
			return err
		}

		cfg, err := loadConfig(tx, cfgAddr)
		if err != nil {
			return err
		}
		cfg.TotalStaked, err = ledger.AddU64(cfg.TotalStaked, amount)
		if err != nil {
			return err
		}
		return saveConfig(tx, cfgAddr, cfg)
	})
	if err != nil {
		return ledger.ZeroAddress, err
	}

	e.logger.Info("operator collateral posted", "operator", operator, "amount", amount)
	e.bus.Publish(events.TopicOperatorStaked, events.OperatorStakeCreated{
		Operator: operator.String(),
		Amount:   amount,
	})
	return opAddr, nil
}

// SlashOperator confiscates collateral for misbehavior. A single slash is
// capped at a tenth of the slashable pool; the operator's reputation drops
// in proportion to the fraction taken, saturating at zero.
func (e *Engine) SlashOperator(signer, operator ledger.Address, amount uint64, reason string) (uint64, error) {
	if len(reason) > MaxSlashReason {
		return 0, ledger.NewValidationError(ledger.CodeReasonTooLong, "slash reason too long").
			WithContext("length", len(reason))
	}
	now := e.clock.Now()
	opAddr, _ := derive.Operator(operator)
	cfgAddr, _ := derive.StakingConfig()

	var actual uint64
	var newRep uint16
	err := e.store.Update(func(tx store.Tx) error {
		cfg, err := loadConfig(tx, cfgAddr)
		if err != nil {
			return err
		}
		if !cfg.Authority.Equal(signer) {
			return ledger.NewAuthorizationError("only the staking authority may slash")
		}

		o, err := loadOperatorStake(tx, opAddr)
		if err != nil {
			return err
		}
		actual = ledger.MinU64(amount, o.SlashableAmount/slashDivisor)
		actual = ledger.MinU64(actual, o.SlashableAmount)
		if actual == 0 {
			return ledger.NewStateError(ledger.CodeNothingToSlash, "no slashable collateral").
				WithContext("slashable", o.SlashableAmount)
		}

		if err := e.vault.Transfer(poolAddress(), cfg.Authority, actual); err != nil {
			return err
		}

		o.SlashableAmount -= actual
		o.TotalStaked, err = ledger.SubU64(o.TotalStaked, actual)
		if err != nil {
			return err
		}

		denom := o.TotalStaked
		if denom == 0 {
			denom = 1
		}
		penalty, err := ledger.MulU64(actual, 1000)
		if err != nil {
			return err
		}
		penalty /= denom
		if penalty >= uint64(o.Reputation) {
			o.Reputation = 0
		} else {
			o.Reputation -= uint16(penalty)
		}
		newRep = o.Reputation
		o.LastSlashAt = &now
		if err := saveOperatorStake(tx, opAddr, o); err != nil {
			return err
		}

		cfg.TotalStaked, err = ledger.SubU64(cfg.TotalStaked, actual)
		if err != nil {
			return err
		}
		return saveConfig(tx, cfgAddr, cfg)
	})
	if err != nil {
		return 0, err
	}

	e.logger.Warn("operator slashed", "operator", operator, "amount", actual, "reason", reason, "reputation", newRep)
	e.bus.Publish(events.TopicOperatorSlashed, events.OperatorSlashed{
		Operator:      operator.String(),
		Amount:        actual,
		Reason:        reason,
		NewReputation: newRep,
	})
	return actual, nil
}

// payRewardsTx moves rewards from the mint account and records the claim.
// It persists both the stake and the config.
func (e *Engine) payRewardsTx(tx store.Tx, cfgAddr ledger.Address, s *Stake, stakeAddr ledger.Address, rewards uint64, now int64) error {
	if err := e.vault.Transfer(rewardsAddress(), s.Owner, rewards); err != nil {
		return err
	}
	var err error
	s.AccumulatedRewards, err = ledger.AddU64(s.AccumulatedRewards, rewards)
	if err != nil {
		return err
	}
	s.LastClaimAt = now
	if err := saveStake(tx, stakeAddr, s); err != nil {
		return err
	}

	cfg, err := loadConfig(tx, cfgAddr)
	if err != nil {
		return err
	}
	cfg.TotalRewardsDistributed, err = ledger.AddU64(cfg.TotalRewardsDistributed, rewards)
	if err != nil {
		return err
	}
	return saveConfig(tx, cfgAddr, cfg)
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

func loadStake(tx store.Tx, addr ledger.Address) (*Stake, error) {
	data, err := tx.Get(addr)
	if err != nil {
		return nil, err
	}
	return DecodeStake(data)
}

func saveStake(tx store.Tx, addr ledger.Address, s *Stake) error {
	data, err := s.Encode()
	if err != nil {
		return err
	}
	return tx.Put(addr, data)
}

func loadOperatorStake(tx store.Tx, addr ledger.Address) (*OperatorStake, error) {
	data, err := tx.Get(addr)
	if err != nil {
		return nil, err
	}
	return DecodeOperatorStake(data)
}

func saveOperatorStake(tx store.Tx, addr ledger.Address, o *OperatorStake) error {
	data, err := o.Encode()
	if err != nil {
		return err
	}
	return tx.Put(addr, data)
}
