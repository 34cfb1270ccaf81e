package staking

import (
	"github.com/DroneOsDev/DroneOS/internal/ledger"
)

// Instruction tags, derived from the operation names.
var (
	ixInitialize          = ledger.InstructionTag("initialize")
	ixStakeTokens         = ledger.InstructionTag("stake_tokens")
	ixClaimRewards        = ledger.InstructionTag("claim_rewards")
	ixUnstake             = ledger.InstructionTag("unstake")
	ixCreateOperatorStake = ledger.InstructionTag("create_operator_stake")
	ixSlashOperator       = ledger.InstructionTag("slash_operator")
)

// InitializeArgs carries no fields beyond the signer.
type InitializeArgs struct{}

func (a *InitializeArgs) Encode() ([]byte, error) {
	enc := ledger.NewEncoder(ledger.TagLen)
	enc.PutTag(ixInitialize)
	return enc.Finish()
}

// StakeTokensArgs is the wire form of a stake_tokens request.
type StakeTokensArgs struct {
	Amount   uint64
	LockDays uint16
}

func (a *StakeTokensArgs) Encode() ([]byte, error) {
	enc := ledger.NewEncoder(ledger.TagLen + 8 + 2)
	enc.PutTag(ixStakeTokens)
	enc.PutU64(a.Amount)
	enc.PutU16(a.LockDays)
	return enc.Finish()
}

func decodeStakeTokensArgs(dec *ledger.Decoder) (*StakeTokensArgs, error) {
	a := &StakeTokensArgs{
		Amount:   dec.U64(),
		LockDays: dec.U16(),
	}
	if err := dec.Finish(); err != nil {
		return nil, err
	}
	return a, nil
}

// ClaimRewardsArgs carries no fields beyond the signer.
type ClaimRewardsArgs struct{}

func (a *ClaimRewardsArgs) Encode() ([]byte, error) {
	enc := ledger.NewEncoder(ledger.TagLen)
	enc.PutTag(ixClaimRewards)
	return enc.Finish()
}

// UnstakeArgs is the wire form of an unstake request.
type UnstakeArgs struct {
	Amount uint64
}

func (a *UnstakeArgs) Encode() ([]byte, error) {
	enc := ledger.NewEncoder(ledger.TagLen + 8)
	enc.PutTag(ixUnstake)
	enc.PutU64(a.Amount)
	return enc.Finish()
}

// CreateOperatorStakeArgs is the wire form of a create_operator_stake
// request.
type CreateOperatorStakeArgs struct {
	Amount uint64
}

func (a *CreateOperatorStakeArgs) Encode() ([]byte, error) {
	enc := ledger.NewEncoder(ledger.TagLen + 8)
	enc.PutTag(ixCreateOperatorStake)
	enc.PutU64(a.Amount)
	return enc.Finish()
}

// SlashOperatorArgs is the wire form of a slash_operator request.
type SlashOperatorArgs struct {
	Operator ledger.Address
	Amount   uint64
	Reason   string
}

func (a *SlashOperatorArgs) Encode() ([]byte, error) {
	enc := ledger.NewEncoder(ledger.TagLen + ledger.AddressLen + 8 + ledger.StringSize(a.Reason))
	enc.PutTag(ixSlashOperator)
	enc.PutAddress(a.Operator)
	enc.PutU64(a.Amount)
	enc.PutString(a.Reason)
	return enc.Finish()
}

func decodeSlashOperatorArgs(dec *ledger.Decoder) (*SlashOperatorArgs, error) {
	a := &SlashOperatorArgs{
		Operator: dec.Addr(),
		Amount:   dec.U64(),
		Reason:   dec.String(),
	}
	if err := dec.Finish(); err != nil {
		return nil, err
	}
	return a, nil
}

// Execute dispatches an encoded instruction on behalf of signer.
func (e *Engine) Execute(signer ledger.Address, data []byte) error {
	tag, err := ledger.PeekTag(data)
	if err != nil {
		return err
	}
	dec := ledger.NewDecoder(data)
	if err := dec.ExpectTag(tag); err != nil {
		return err
	}

	switch {
	case tag.Equal(ixInitialize):
		if err := dec.Finish(); err != nil {
			return err
		}
		_, err := e.Initialize(signer)
		return err

	case tag.Equal(ixStakeTokens):
		args, err := decodeStakeTokensArgs(dec)
		if err != nil {
			return err
		}
		_, err = e.StakeTokens(signer, args.Amount, args.LockDays)
		return err

	case tag.Equal(ixClaimRewards):
		if err := dec.Finish(); err != nil {
			return err
		}
		_, err := e.ClaimRewards(signer)
		return err

	case tag.Equal(ixUnstake):
		amount := dec.U64()
		if err := dec.Finish(); err != nil {
			return err
		}
		return e.Unstake(signer, amount)

	case tag.Equal(ixCreateOperatorStake):
		amount := dec.U64()
		if err := dec.Finish(); err != nil {
			return err
		}
		_, err = e.CreateOperatorStake(signer, amount)
		return err

	case tag.Equal(ixSlashOperator):
		args, err := decodeSlashOperatorArgs(dec)
		if err != nil {
			return err
		}
		_, err = e.SlashOperator(signer, args.Operator, args.Amount, args.Reason)
		return err

	default:
		return ledger.NewValidationError(ledger.CodeBadOpcode, "unknown instruction tag")
	}
}
