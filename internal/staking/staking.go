// Package staking manages reward stakes and operator collateral. Reward
// accrual is lazy: interest is computed from the last claim timestamp when
// someone asks, never by a background process.
package staking

import (
	"github.com/DroneOsDev/DroneOS/internal/ledger"
)

var (
	configTag   = ledger.AccountTag("StakeConfig")
	stakeTag    = ledger.AccountTag("StakeAccount")
	operatorTag = ledger.AccountTag("OperatorStake")
)

// Protocol constants. Amounts are in minor units of the six-decimal token.
const (
	Decimals           = 6
	BaseAPYBasisPoints = 1200
	MinStake           = 100 * 1_000_000
	MinOperatorStake   = MinStake * 10
	SecondsPerYear     = 365 * 24 * 60 * 60
	MaxSlashReason     = 128
	bpsDenominator     = 10_000

	// A single slash may take at most a tenth of the slashable pool.
	slashDivisor = 10

	initialOperatorReputation = 5000
)

// LockMultiplier returns the reward multiplier in basis points for a lock
// term. Unlisted terms earn the base rate; the lock still binds.
func LockMultiplier(lockDays uint16) uint16 {
	switch lockDays {
	case 30:
		return 11_000
	case 90:
		return 12_500
	case 180:
		return 15_000
	case 365:
		return 20_000
	default:
		return 10_000
	}
}

// APYBasisPoints reports the effective annual yield for a lock term.
func APYBasisPoints(lockDays uint16) uint64 {
	return uint64(BaseAPYBasisPoints) * uint64(LockMultiplier(lockDays)) / bpsDenominator
}

// CalculateRewards computes the lazy reward accrual for amount held over
// elapsed seconds at multiplier basis points. Intermediate products go
// through 128-bit arithmetic; a year of accrual on a large stake must not
// wrap.
func CalculateRewards(amount uint64, multiplier uint16, elapsed int64) (uint64, error) {
	if elapsed <= 0 || amount == 0 {
		return 0, nil
	}
	rateSeconds, err := ledger.MulU64(BaseAPYBasisPoints, uint64(elapsed))
	if err != nil {
		return 0, err
	}
	base, err := ledger.MulDivU64(amount, rateSeconds, bpsDenominator*SecondsPerYear)
	if err != nil {
		return 0, err
	}
	return ledger.MulDivU64(base, uint64(multiplier), bpsDenominator)
}

// Config is the singleton staking configuration account.
type Config struct {
	Authority               ledger.Address
	Mint                    ledger.Address
	TotalStaked             uint64
	TotalRewardsDistributed uint64
	StakeCount              uint64
	Bump                    uint8
}

func (c *Config) encodedSize() int {
	return ledger.TagLen + ledger.AddressLen*2 + 8 + 8 + 8 + 1
}

// Encode renders the config account in its canonical byte layout.
func (c *Config) Encode() ([]byte, error) {
	enc := ledger.NewEncoder(c.encodedSize())
	enc.PutTag(configTag)
	enc.PutAddress(c.Authority)
	enc.PutAddress(c.Mint)
	enc.PutU64(c.TotalStaked)
	enc.PutU64(c.TotalRewardsDistributed)
	enc.PutU64(c.StakeCount)
	enc.PutU8(c.Bump)
	return enc.Finish()
}

// DecodeConfig parses a staking config account.
func DecodeConfig(data []byte) (*Config, error) {
	dec := ledger.NewDecoder(data)
	if err := dec.ExpectTag(configTag); err != nil {
		return nil, err
	}
	c := &Config{
		Authority:               dec.Addr(),
		Mint:                    dec.Addr(),
		TotalStaked:             dec.U64(),
		TotalRewardsDistributed: dec.U64(),
		StakeCount:              dec.U64(),
		Bump:                    dec.U8(),
	}
	if err := dec.Finish(); err != nil {
		return nil, err
	}
	return c, nil
}

// Stake is one owner's reward stake. An owner holds at most one; its
// address is derived from the owner alone.
type Stake struct {
	Owner              ledger.Address
	Amount             uint64
	StakedAt           int64
	LockDuration       uint64
	LockUntil          int64
	Multiplier         uint16
	AccumulatedRewards uint64
	LastClaimAt        int64
	Bump               uint8
}

func (s *Stake) encodedSize() int {
	return ledger.TagLen + ledger.AddressLen + 8 + 8 + 8 + 8 + 2 + 8 + 8 + 1
}

// Encode renders the stake account in its canonical byte layout.
func (s *Stake) Encode() ([]byte, error) {
	enc := ledger.NewEncoder(s.encodedSize())
	enc.PutTag(stakeTag)
	enc.PutAddress(s.Owner)
	enc.PutU64(s.Amount)
	enc.PutI64(s.StakedAt)
	enc.PutU64(s.LockDuration)
	enc.PutI64(s.LockUntil)
	enc.PutU16(s.Multiplier)
	enc.PutU64(s.AccumulatedRewards)
	enc.PutI64(s.LastClaimAt)
	enc.PutU8(s.Bump)
	return enc.Finish()
}

// DecodeStake parses a stake account.
func DecodeStake(data []byte) (*Stake, error) {
	dec := ledger.NewDecoder(data)
	if err := dec.ExpectTag(stakeTag); err != nil {
		return nil, err
	}
	s := &Stake{
		Owner:              dec.Addr(),
		Amount:             dec.U64(),
		StakedAt:           dec.I64(),
		LockDuration:       dec.U64(),
		LockUntil:          dec.I64(),
		Multiplier:         dec.U16(),
		AccumulatedRewards: dec.U64(),
		LastClaimAt:        dec.I64(),
		Bump:               dec.U8(),
	}
	if err := dec.Finish(); err != nil {
		return nil, err
	}
	return s, nil
}

// OperatorStake is slashable collateral an operator posts to run robots.
type OperatorStake struct {
	Operator        ledger.Address
	TotalStaked     uint64
	SlashableAmount uint64
	CreatedAt       int64
	LastSlashAt     *int64
	Reputation      uint16
	Bump            uint8
}

func (o *OperatorStake) encodedSize() int {
	return ledger.TagLen + ledger.AddressLen + 8 + 8 + 8 +
		ledger.OptionSize(o.LastSlashAt != nil, 8) + 2 + 1
}

// Encode renders the operator stake account in its canonical byte layout.
func (o *OperatorStake) Encode() ([]byte, error) {
	enc := ledger.NewEncoder(o.encodedSize())
	enc.PutTag(operatorTag)
	enc.PutAddress(o.Operator)
	enc.PutU64(o.TotalStaked)
	enc.PutU64(o.SlashableAmount)
	enc.PutI64(o.CreatedAt)
	enc.PutOptionI64(o.LastSlashAt)
	enc.PutU16(o.Reputation)
	enc.PutU8(o.Bump)
	return enc.Finish()
}

// DecodeOperatorStake parses an operator stake account.
func DecodeOperatorStake(data []byte) (*OperatorStake, error) {
	dec := ledger.NewDecoder(data)
	if err := dec.ExpectTag(operatorTag); err != nil {
		return nil, err
	}
	o := &OperatorStake{
		Operator:        dec.Addr(),
		TotalStaked:     dec.U64(),
		SlashableAmount: dec.U64(),
		CreatedAt:       dec.I64(),
		LastSlashAt:     dec.OptionI64(),
		Reputation:      dec.U16(),
		Bump:            dec.U8(),
	}
	if err := dec.Finish(); err != nil {
		return nil, err
	}
	return o, nil
}
