package stream

import (
	"github.com/DroneOsDev/DroneOS/internal/ledger"
)

// Instruction tags, derived from the operation names.
var (
	ixInitialize   = ledger.InstructionTag("initialize")
	ixCreateStream = ledger.InstructionTag("create_stream")
	ixStartStream  = ledger.InstructionTag("start_stream")
	ixTickStream   = ledger.InstructionTag("tick_stream")
	ixPauseStream  = ledger.InstructionTag("pause_stream")
	ixResumeStream = ledger.InstructionTag("resume_stream")
	ixTerminate    = ledger.InstructionTag("terminate_stream")
	ixCancelStream = ledger.InstructionTag("cancel_stream")
	ixTopUpEscrow  = ledger.InstructionTag("top_up_escrow")
	ixLinkToTask   = ledger.InstructionTag("link_to_task")
)

// InitializeArgs carries no fields beyond the signer.
type InitializeArgs struct{}

func (a *InitializeArgs) Encode() ([]byte, error) {
	enc := ledger.NewEncoder(ledger.TagLen)
	enc.PutTag(ixInitialize)
	return enc.Finish()
}

// CreateStreamArgs is the wire form of a create_stream request.
type CreateStreamArgs struct {
	Payee         ledger.Address
	RatePerSecond uint64
	MaxDuration   uint64
	GracePeriod   uint64
	AutoTerminate bool
}

func (a *CreateStreamArgs) Encode() ([]byte, error) {
	enc := ledger.NewEncoder(ledger.TagLen + ledger.AddressLen + 8 + 8 + 8 + 1)
	enc.PutTag(ixCreateStream)
	enc.PutAddress(a.Payee)
	enc.PutU64(a.RatePerSecond)
	enc.PutU64(a.MaxDuration)
	enc.PutU64(a.GracePeriod)
	enc.PutBool(a.AutoTerminate)
	return enc.Finish()
}

func decodeCreateStreamArgs(dec *ledger.Decoder) (*CreateStreamArgs, error) {
	a := &CreateStreamArgs{
		Payee:         dec.Addr(),
		RatePerSecond: dec.U64(),
		MaxDuration:   dec.U64(),
		GracePeriod:   dec.U64(),
		AutoTerminate: dec.Bool(),
	}
	if err := dec.Finish(); err != nil {
		return nil, err
	}
	return a, nil
}

// StreamRefArgs addresses a single existing stream. Several operations share
// this shape; each keeps its own instruction tag.
type StreamRefArgs struct {
	Stream ledger.Address
}

func encodeStreamRef(tag ledger.Tag, stream ledger.Address) ([]byte, error) {
	enc := ledger.NewEncoder(ledger.TagLen + ledger.AddressLen)
	enc.PutTag(tag)
	enc.PutAddress(stream)
	return enc.Finish()
}

func decodeStreamRef(dec *ledger.Decoder) (*StreamRefArgs, error) {
	a := &StreamRefArgs{Stream: dec.Addr()}
	if err := dec.Finish(); err != nil {
		return nil, err
	}
	return a, nil
}

// EncodeStart renders a start_stream request for the stream.
func EncodeStart(stream ledger.Address) ([]byte, error) {
	return encodeStreamRef(ixStartStream, stream)
}

// EncodeTick renders a tick_stream request for the stream.
func EncodeTick(stream ledger.Address) ([]byte, error) {
	return encodeStreamRef(ixTickStream, stream)
}

// EncodePause renders a pause_stream request for the stream.
func EncodePause(stream ledger.Address) ([]byte, error) {
	return encodeStreamRef(ixPauseStream, stream)
}

// EncodeResume renders a resume_stream request for the stream.
func EncodeResume(stream ledger.Address) ([]byte, error) {
	return encodeStreamRef(ixResumeStream, stream)
}

// EncodeCancel renders a cancel_stream request for the stream.
func EncodeCancel(stream ledger.Address) ([]byte, error) {
	return encodeStreamRef(ixCancelStream, stream)
}

// TerminateArgs is the wire form of a terminate_stream request.
type TerminateArgs struct {
	Stream ledger.Address
	Reason string
}

func (a *TerminateArgs) Encode() ([]byte, error) {
	enc := ledger.NewEncoder(ledger.TagLen + ledger.AddressLen + ledger.StringSize(a.Reason))
	enc.PutTag(ixTerminate)
	enc.PutAddress(a.Stream)
	enc.PutString(a.Reason)
	return enc.Finish()
}

func decodeTerminateArgs(dec *ledger.Decoder) (*TerminateArgs, error) {
	a := &TerminateArgs{
		Stream: dec.Addr(),
		Reason: dec.String(),
	}
	if err := dec.Finish(); err != nil {
		return nil, err
	}
	return a, nil
}

// TopUpArgs is the wire form of a top_up_escrow request.
type TopUpArgs struct {
	Stream ledger.Address
	Amount uint64
}

func (a *TopUpArgs) Encode() ([]byte, error) {
	enc := ledger.NewEncoder(ledger.TagLen + ledger.AddressLen + 8)
	enc.PutTag(ixTopUpEscrow)
	enc.PutAddress(a.Stream)
	enc.PutU64(a.Amount)
	return enc.Finish()
}

func decodeTopUpArgs(dec *ledger.Decoder) (*TopUpArgs, error) {
	a := &TopUpArgs{
		Stream: dec.Addr(),
		Amount: dec.U64(),
	}
	if err := dec.Finish(); err != nil {
		return nil, err
	}
	return a, nil
}

// LinkToTaskArgs is the wire form of a link_to_task request.
type LinkToTaskArgs struct {
	Stream ledger.Address
	Task   ledger.Address
}

func (a *LinkToTaskArgs) Encode() ([]byte, error) {
	enc := ledger.NewEncoder(ledger.TagLen + ledger.AddressLen*2)
	enc.PutTag(ixLinkToTask)
	enc.PutAddress(a.Stream)
	enc.PutAddress(a.Task)
	return enc.Finish()
}

func decodeLinkToTaskArgs(dec *ledger.Decoder) (*LinkToTaskArgs, error) {
	a := &LinkToTaskArgs{
		Stream: dec.Addr(),
		Task:   dec.Addr(),
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

	case tag.Equal(ixCreateStream):
		args, err := decodeCreateStreamArgs(dec)
		if err != nil {
			return err
		}
		_, err = e.CreateStream(signer, CreateStreamParams{
			Payee:         args.Payee,
			RatePerSecond: args.RatePerSecond,
			MaxDuration:   args.MaxDuration,
			GracePeriod:   args.GracePeriod,
			AutoTerminate: args.AutoTerminate,
		})
		return err

	case tag.Equal(ixStartStream):
		args, err := decodeStreamRef(dec)
		if err != nil {
			return err
		}
		return e.Start(signer, args.Stream)

	case tag.Equal(ixTickStream):
		args, err := decodeStreamRef(dec)
		if err != nil {
			return err
		}
		_, err = e.Tick(args.Stream)
		return err

	case tag.Equal(ixPauseStream):
		args, err := decodeStreamRef(dec)
		if err != nil {
			return err
		}
		return e.Pause(signer, args.Stream)

	case tag.Equal(ixResumeStream):
		args, err := decodeStreamRef(dec)
		if err != nil {
			return err
		}
		return e.Resume(signer, args.Stream)

	case tag.Equal(ixTerminate):
		args, err := decodeTerminateArgs(dec)
		if err != nil {
			return err
		}
		return e.Terminate(signer, args.Stream, args.Reason)

	case tag.Equal(ixCancelStream):
		args, err := decodeStreamRef(dec)
		if err != nil {
			return err
		}
		return e.CancelStream(signer, args.Stream)

	case tag.Equal(ixTopUpEscrow):
		args, err := decodeTopUpArgs(dec)
		if err != nil {
			return err
		}
		return e.TopUpEscrow(signer, args.Stream, args.Amount)

	case tag.Equal(ixLinkToTask):
		args, err := decodeLinkToTaskArgs(dec)
		if err != nil {
			return err
		}
		return e.LinkToTask(signer, args.Stream, args.Task)

	default:
		return ledger.NewValidationError(ledger.CodeBadOpcode, "unknown instruction tag")
	}
}
