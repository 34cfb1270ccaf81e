package market

import (
	"github.com/DroneOsDev/DroneOS/internal/ledger"
	"github.com/DroneOsDev/DroneOS/internal/registry"
)

// Instruction tags, derived from the operation names.
var (
	ixInitialize     = ledger.InstructionTag("initialize")
	ixCreateTask     = ledger.InstructionTag("create_task")
	ixSubmitBid      = ledger.InstructionTag("submit_bid")
	ixAcceptBid      = ledger.InstructionTag("accept_bid")
	ixRejectBid      = ledger.InstructionTag("reject_bid")
	ixWithdrawBid    = ledger.InstructionTag("withdraw_bid")
	ixStartTask      = ledger.InstructionTag("start_task")
	ixUpdateProgress = ledger.InstructionTag("update_progress")
	ixCompleteTask   = ledger.InstructionTag("complete_task")
	ixVerifyTask     = ledger.InstructionTag("verify_completion")
	ixCancelTask     = ledger.InstructionTag("cancel_task")
	ixAbortTask      = ledger.InstructionTag("abort_task")
)

// InitializeArgs is the wire form of an initialize request.
type InitializeArgs struct {
	AutoRejectSiblings bool
}

func (a *InitializeArgs) Encode() ([]byte, error) {
	enc := ledger.NewEncoder(ledger.TagLen + 1)
	enc.PutTag(ixInitialize)
	enc.PutBool(a.AutoRejectSiblings)
	return enc.Finish()
}

// CreateTaskArgs is the wire form of a create_task request.
type CreateTaskArgs struct {
	Title                string
	Description          string
	Class                registry.RobotClass
	RequiredCapabilities []registry.Capability
	MinReputation        uint16
	Reward               uint64
	RatePerSecond        uint64
	EstimatedDuration    uint32
	Priority             uint8
	ExpiresIn            int64
}

func (a *CreateTaskArgs) Encode() ([]byte, error) {
	size := ledger.TagLen +
		ledger.StringSize(a.Title) +
		ledger.StringSize(a.Description) +
		1 + 4 + len(a.RequiredCapabilities) +
		2 + 8 + 8 + 4 + 1 + 8
	enc := ledger.NewEncoder(size)
	enc.PutTag(ixCreateTask)
	enc.PutString(a.Title)
	enc.PutString(a.Description)
	enc.PutU8(uint8(a.Class))
	enc.PutU32(uint32(len(a.RequiredCapabilities)))
	for _, c := range a.RequiredCapabilities {
		enc.PutU8(uint8(c))
	}
	enc.PutU16(a.MinReputation)
	enc.PutU64(a.Reward)
	enc.PutU64(a.RatePerSecond)
	enc.PutU32(a.EstimatedDuration)
	enc.PutU8(a.Priority)
	enc.PutI64(a.ExpiresIn)
	return enc.Finish()
}

func decodeCreateTaskArgs(dec *ledger.Decoder) (*CreateTaskArgs, error) {
	a := &CreateTaskArgs{
		Title:       dec.String(),
		Description: dec.String(),
		Class:       registry.RobotClass(dec.U8()),
	}
	count := dec.U32()
	if dec.Err() != nil {
		return nil, dec.Err()
	}
	if count > MaxRequiredCaps {
		return nil, ledger.NewDecodeError(ledger.CodeTruncated, "required capability count exceeds limit").
			WithContext("count", count)
	}
	a.RequiredCapabilities = make([]registry.Capability, 0, count)
	for i := uint32(0); i < count; i++ {
		a.RequiredCapabilities = append(a.RequiredCapabilities, registry.Capability(dec.U8()))
	}
	a.MinReputation = dec.U16()
	a.Reward = dec.U64()
	a.RatePerSecond = dec.U64()
	a.EstimatedDuration = dec.U32()
	a.Priority = dec.U8()
	a.ExpiresIn = dec.I64()
	if err := dec.Finish(); err != nil {
		return nil, err
	}
	return a, nil
}

// SubmitBidArgs is the wire form of a submit_bid request.
type SubmitBidArgs struct {
	Task              ledger.Address
	Robot             ledger.Address
	ProposedRate      uint64
	EstimatedDuration uint32
	Message           string
}

func (a *SubmitBidArgs) Encode() ([]byte, error) {
	enc := ledger.NewEncoder(ledger.TagLen + ledger.AddressLen*2 + 8 + 4 + ledger.StringSize(a.Message))
	enc.PutTag(ixSubmitBid)
	enc.PutAddress(a.Task)
	enc.PutAddress(a.Robot)
	enc.PutU64(a.ProposedRate)
	enc.PutU32(a.EstimatedDuration)
	enc.PutString(a.Message)
	return enc.Finish()
}

func decodeSubmitBidArgs(dec *ledger.Decoder) (*SubmitBidArgs, error) {
	a := &SubmitBidArgs{
		Task:              dec.Addr(),
		Robot:             dec.Addr(),
		ProposedRate:      dec.U64(),
		EstimatedDuration: dec.U32(),
		Message:           dec.String(),
	}
	if err := dec.Finish(); err != nil {
		return nil, err
	}
	return a, nil
}

// AcceptBidArgs is the wire form of an accept_bid request. Siblings lists
// the competing bids to reject when the market auto-rejects.
type AcceptBidArgs struct {
	Task     ledger.Address
	Bid      ledger.Address
	Siblings []ledger.Address
}

func (a *AcceptBidArgs) Encode() ([]byte, error) {
	enc := ledger.NewEncoder(ledger.TagLen + ledger.AddressLen*2 + 4 + len(a.Siblings)*ledger.AddressLen)
	enc.PutTag(ixAcceptBid)
	enc.PutAddress(a.Task)
	enc.PutAddress(a.Bid)
	enc.PutU32(uint32(len(a.Siblings)))
	for _, s := range a.Siblings {
		enc.PutAddress(s)
	}
	return enc.Finish()
}

func decodeAcceptBidArgs(dec *ledger.Decoder) (*AcceptBidArgs, error) {
	a := &AcceptBidArgs{
		Task: dec.Addr(),
		Bid:  dec.Addr(),
	}
	count := dec.U32()
	if dec.Err() != nil {
		return nil, dec.Err()
	}
	a.Siblings = make([]ledger.Address, 0, count)
	for i := uint32(0); i < count; i++ {
		a.Siblings = append(a.Siblings, dec.Addr())
	}
	if err := dec.Finish(); err != nil {
		return nil, err
	}
	return a, nil
}

// RejectBidArgs is the wire form of a reject_bid request.
type RejectBidArgs struct {
	Task ledger.Address
	Bid  ledger.Address
}

func (a *RejectBidArgs) Encode() ([]byte, error) {
	enc := ledger.NewEncoder(ledger.TagLen + ledger.AddressLen*2)
	enc.PutTag(ixRejectBid)
	enc.PutAddress(a.Task)
	enc.PutAddress(a.Bid)
	return enc.Finish()
}

func decodeRejectBidArgs(dec *ledger.Decoder) (*RejectBidArgs, error) {
	a := &RejectBidArgs{
		Task: dec.Addr(),
		Bid:  dec.Addr(),
	}
	if err := dec.Finish(); err != nil {
		return nil, err
	}
	return a, nil
}

// WithdrawBidArgs is the wire form of a withdraw_bid request.
type WithdrawBidArgs struct {
	Bid ledger.Address
}

func (a *WithdrawBidArgs) Encode() ([]byte, error) {
	enc := ledger.NewEncoder(ledger.TagLen + ledger.AddressLen)
	enc.PutTag(ixWithdrawBid)
	enc.PutAddress(a.Bid)
	return enc.Finish()
}

// TaskRefArgs addresses a single task. start_task, complete_task and
// cancel_task share this shape under distinct tags.
type TaskRefArgs struct {
	Task ledger.Address
}

func encodeTaskRef(tag ledger.Tag, task ledger.Address) ([]byte, error) {
	enc := ledger.NewEncoder(ledger.TagLen + ledger.AddressLen)
	enc.PutTag(tag)
	enc.PutAddress(task)
	return enc.Finish()
}

func decodeTaskRef(dec *ledger.Decoder) (*TaskRefArgs, error) {
	a := &TaskRefArgs{Task: dec.Addr()}
	if err := dec.Finish(); err != nil {
		return nil, err
	}
	return a, nil
}

// EncodeStartTask renders a start_task request.
func EncodeStartTask(task ledger.Address) ([]byte, error) {
	return encodeTaskRef(ixStartTask, task)
}

// EncodeCompleteTask renders a complete_task request.
func EncodeCompleteTask(task ledger.Address) ([]byte, error) {
	return encodeTaskRef(ixCompleteTask, task)
}

// EncodeCancelTask renders a cancel_task request.
func EncodeCancelTask(task ledger.Address) ([]byte, error) {
	return encodeTaskRef(ixCancelTask, task)
}

// UpdateProgressArgs is the wire form of an update_progress request.
type UpdateProgressArgs struct {
	Task     ledger.Address
	Progress uint8
}

func (a *UpdateProgressArgs) Encode() ([]byte, error) {
	enc := ledger.NewEncoder(ledger.TagLen + ledger.AddressLen + 1)
	enc.PutTag(ixUpdateProgress)
	enc.PutAddress(a.Task)
	enc.PutU8(a.Progress)
	return enc.Finish()
}

func decodeUpdateProgressArgs(dec *ledger.Decoder) (*UpdateProgressArgs, error) {
	a := &UpdateProgressArgs{
		Task:     dec.Addr(),
		Progress: dec.U8(),
	}
	if err := dec.Finish(); err != nil {
		return nil, err
	}
	return a, nil
}

// VerifyCompletionArgs is the wire form of a verify_completion request.
type VerifyCompletionArgs struct {
	Task     ledger.Address
	Approved bool
}

func (a *VerifyCompletionArgs) Encode() ([]byte, error) {
	enc := ledger.NewEncoder(ledger.TagLen + ledger.AddressLen + 1)
	enc.PutTag(ixVerifyTask)
	enc.PutAddress(a.Task)
	enc.PutBool(a.Approved)
	return enc.Finish()
}

func decodeVerifyCompletionArgs(dec *ledger.Decoder) (*VerifyCompletionArgs, error) {
	a := &VerifyCompletionArgs{
		Task:     dec.Addr(),
		Approved: dec.Bool(),
	}
	if err := dec.Finish(); err != nil {
		return nil, err
	}
	return a, nil
}

// AbortTaskArgs is the wire form of an abort_task request.
type AbortTaskArgs struct {
	Task   ledger.Address
	Reason string
}

func (a *AbortTaskArgs) Encode() ([]byte, error) {
	enc := ledger.NewEncoder(ledger.TagLen + ledger.AddressLen + ledger.StringSize(a.Reason))
	enc.PutTag(ixAbortTask)
	enc.PutAddress(a.Task)
	enc.PutString(a.Reason)
	return enc.Finish()
}

func decodeAbortTaskArgs(dec *ledger.Decoder) (*AbortTaskArgs, error) {
	a := &AbortTaskArgs{
		Task:   dec.Addr(),
		Reason: dec.String(),
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
		autoReject := dec.Bool()
		if err := dec.Finish(); err != nil {
			return err
		}
		_, err := e.Initialize(signer, autoReject)
		return err

	case tag.Equal(ixCreateTask):
		args, err := decodeCreateTaskArgs(dec)
		if err != nil {
			return err
		}
		_, err = e.CreateTask(signer, CreateTaskParams{
			Title:                args.Title,
			Description:          args.Description,
			Class:                args.Class,
			RequiredCapabilities: args.RequiredCapabilities,
			MinReputation:        args.MinReputation,
			Reward:               args.Reward,
			RatePerSecond:        args.RatePerSecond,
			EstimatedDuration:    args.EstimatedDuration,
			Priority:             args.Priority,
			ExpiresIn:            args.ExpiresIn,
		})
		return err

	case tag.Equal(ixSubmitBid):
		args, err := decodeSubmitBidArgs(dec)
		if err != nil {
			return err
		}
		_, err = e.SubmitBid(signer, args.Task, args.Robot, args.ProposedRate, args.EstimatedDuration, args.Message)
		return err

	case tag.Equal(ixAcceptBid):
		args, err := decodeAcceptBidArgs(dec)
		if err != nil {
			return err
		}
		return e.AcceptBid(signer, args.Task, args.Bid, args.Siblings)

	case tag.Equal(ixRejectBid):
		args, err := decodeRejectBidArgs(dec)
		if err != nil {
			return err
		}
		return e.RejectBid(signer, args.Task, args.Bid)

	case tag.Equal(ixWithdrawBid):
		bid := dec.Addr()
		if err := dec.Finish(); err != nil {
			return err
		}
		return e.WithdrawBid(signer, bid)

	case tag.Equal(ixStartTask):
		args, err := decodeTaskRef(dec)
		if err != nil {
			return err
		}
		return e.StartTask(signer, args.Task)

	case tag.Equal(ixUpdateProgress):
		args, err := decodeUpdateProgressArgs(dec)
		if err != nil {
			return err
		}
		return e.UpdateProgress(signer, args.Task, args.Progress)

	case tag.Equal(ixCompleteTask):
		args, err := decodeTaskRef(dec)
		if err != nil {
			return err
		}
		return e.CompleteTask(signer, args.Task)

	case tag.Equal(ixVerifyTask):
		args, err := decodeVerifyCompletionArgs(dec)
		if err != nil {
			return err
		}
		return e.VerifyCompletion(signer, args.Task, args.Approved)

	case tag.Equal(ixCancelTask):
		args, err := decodeTaskRef(dec)
		if err != nil {
			return err
		}
		return e.CancelTask(signer, args.Task)

	case tag.Equal(ixAbortTask):
		args, err := decodeAbortTaskArgs(dec)
		if err != nil {
			return err
		}
		return e.AbortTask(signer, args.Task, args.Reason)

	default:
		return ledger.NewValidationError(ledger.CodeBadOpcode, "unknown instruction tag")
	}
}
