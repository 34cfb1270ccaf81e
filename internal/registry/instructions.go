package registry

import (
	"github.com/DroneOsDev/DroneOS/internal/ledger"
)

// Instruction tags, derived from the operation names.
var (
	ixInitialize       = ledger.InstructionTag("initialize")
	ixRegisterRobot    = ledger.InstructionTag("register_robot")
	ixAddCapability    = ledger.InstructionTag("add_capability")
	ixUpdateStatus     = ledger.InstructionTag("update_status")
	ixUpdateReputation = ledger.InstructionTag("update_reputation")
	ixVerifyRobot      = ledger.InstructionTag("verify_robot")
	ixDeactivateRobot  = ledger.InstructionTag("deactivate_robot")
)

// RegisterRobotArgs is the wire form of a register_robot request.
type RegisterRobotArgs struct {
	DeviceID       [32]byte
	ManufacturerID string
	ModelID        string
	FirmwareHash   [32]byte
	Class          RobotClass
}

// Encode renders the request with its instruction tag.
func (a *RegisterRobotArgs) Encode() ([]byte, error) {
	size := ledger.TagLen + 32 +
		ledger.StringSize(a.ManufacturerID) +
		ledger.StringSize(a.ModelID) +
		32 + 1
	enc := ledger.NewEncoder(size)
	enc.PutTag(ixRegisterRobot)
	enc.PutAddress(a.DeviceID)
	enc.PutString(a.ManufacturerID)
	enc.PutString(a.ModelID)
	enc.PutAddress(a.FirmwareHash)
	enc.PutU8(uint8(a.Class))
	return enc.Finish()
}

func decodeRegisterRobotArgs(dec *ledger.Decoder) (*RegisterRobotArgs, error) {
	a := &RegisterRobotArgs{}
	a.DeviceID = dec.Addr()
	a.ManufacturerID = dec.String()
	a.ModelID = dec.String()
	a.FirmwareHash = dec.Addr()
	a.Class = RobotClass(dec.U8())
	if err := dec.Finish(); err != nil {
		return nil, err
	}
	return a, nil
}

// AddCapabilityArgs is the wire form of an add_capability request.
type AddCapabilityArgs struct {
	Robot      ledger.Address
	Capability Capability
	CertLevel  uint8
	ValidDays  uint32
}

func (a *AddCapabilityArgs) Encode() ([]byte, error) {
	enc := ledger.NewEncoder(ledger.TagLen + ledger.AddressLen + 1 + 1 + 4)
	enc.PutTag(ixAddCapability)
	enc.PutAddress(a.Robot)
	enc.PutU8(uint8(a.Capability))
	enc.PutU8(a.CertLevel)
	enc.PutU32(a.ValidDays)
	return enc.Finish()
}

func decodeAddCapabilityArgs(dec *ledger.Decoder) (*AddCapabilityArgs, error) {
	a := &AddCapabilityArgs{
		Robot:      dec.Addr(),
		Capability: Capability(dec.U8()),
		CertLevel:  dec.U8(),
		ValidDays:  dec.U32(),
	}
	if err := dec.Finish(); err != nil {
		return nil, err
	}
	return a, nil
}

// UpdateStatusArgs is the wire form of an update_status request.
type UpdateStatusArgs struct {
	Robot  ledger.Address
	Status RobotStatus
}

func (a *UpdateStatusArgs) Encode() ([]byte, error) {
	enc := ledger.NewEncoder(ledger.TagLen + ledger.AddressLen + 1)
	enc.PutTag(ixUpdateStatus)
	enc.PutAddress(a.Robot)
	enc.PutU8(uint8(a.Status))
	return enc.Finish()
}

func decodeUpdateStatusArgs(dec *ledger.Decoder) (*UpdateStatusArgs, error) {
	a := &UpdateStatusArgs{
		Robot:  dec.Addr(),
		Status: RobotStatus(dec.U8()),
	}
	if err := dec.Finish(); err != nil {
		return nil, err
	}
	return a, nil
}

// UpdateReputationArgs is the wire form of an update_reputation request.
// Delta is a signed change carried as its two's-complement bits.
type UpdateReputationArgs struct {
	Robot         ledger.Address
	Delta         int32
	TaskCompleted bool
	Earnings      uint64
}

func (a *UpdateReputationArgs) Encode() ([]byte, error) {
	enc := ledger.NewEncoder(ledger.TagLen + ledger.AddressLen + 4 + 1 + 8)
	enc.PutTag(ixUpdateReputation)
	enc.PutAddress(a.Robot)
	enc.PutU32(uint32(a.Delta))
	enc.PutBool(a.TaskCompleted)
	enc.PutU64(a.Earnings)
	return enc.Finish()
}

func decodeUpdateReputationArgs(dec *ledger.Decoder) (*UpdateReputationArgs, error) {
	a := &UpdateReputationArgs{
		Robot:         dec.Addr(),
		Delta:         int32(dec.U32()),
		TaskCompleted: dec.Bool(),
		Earnings:      dec.U64(),
	}
	if err := dec.Finish(); err != nil {
		return nil, err
	}
	return a, nil
}

// VerifyRobotArgs is the wire form of a verify_robot request.
type VerifyRobotArgs struct {
	Robot      ledger.Address
	Capability Capability
}

func (a *VerifyRobotArgs) Encode() ([]byte, error) {
	enc := ledger.NewEncoder(ledger.TagLen + ledger.AddressLen + 1)
	enc.PutTag(ixVerifyRobot)
	enc.PutAddress(a.Robot)
	enc.PutU8(uint8(a.Capability))
	return enc.Finish()
}

func decodeVerifyRobotArgs(dec *ledger.Decoder) (*VerifyRobotArgs, error) {
	a := &VerifyRobotArgs{
		Robot:      dec.Addr(),
		Capability: Capability(dec.U8()),
	}
	if err := dec.Finish(); err != nil {
		return nil, err
	}
	return a, nil
}

// DeactivateRobotArgs is the wire form of a deactivate_robot request.
type DeactivateRobotArgs struct {
	Robot ledger.Address
}

func (a *DeactivateRobotArgs) Encode() ([]byte, error) {
	enc := ledger.NewEncoder(ledger.TagLen + ledger.AddressLen)
	enc.PutTag(ixDeactivateRobot)
	enc.PutAddress(a.Robot)
	return enc.Finish()
}

func decodeDeactivateRobotArgs(dec *ledger.Decoder) (*DeactivateRobotArgs, error) {
	a := &DeactivateRobotArgs{Robot: dec.Addr()}
	if err := dec.Finish(); err != nil {
		return nil, err
	}
	return a, nil
}

// InitializeArgs carries no fields beyond the signer.
type InitializeArgs struct{}

func (a *InitializeArgs) Encode() ([]byte, error) {
	enc := ledger.NewEncoder(ledger.TagLen)
	enc.PutTag(ixInitialize)
	return enc.Finish()
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

	case tag.Equal(ixRegisterRobot):
		args, err := decodeRegisterRobotArgs(dec)
		if err != nil {
			return err
		}
		_, err = e.RegisterRobot(signer, RegisterRobotParams{
			DeviceID:       args.DeviceID,
			ManufacturerID: args.ManufacturerID,
			ModelID:        args.ModelID,
			FirmwareHash:   args.FirmwareHash,
			Class:          args.Class,
		})
		return err

	case tag.Equal(ixAddCapability):
		args, err := decodeAddCapabilityArgs(dec)
		if err != nil {
			return err
		}
		return e.AddCapability(signer, args.Robot, args.Capability, args.CertLevel, args.ValidDays)

	case tag.Equal(ixUpdateStatus):
		args, err := decodeUpdateStatusArgs(dec)
		if err != nil {
			return err
		}
		return e.UpdateStatus(signer, args.Robot, args.Status)

	case tag.Equal(ixUpdateReputation):
		args, err := decodeUpdateReputationArgs(dec)
		if err != nil {
			return err
		}
		return e.UpdateReputation(signer, args.Robot, args.Delta, args.TaskCompleted, args.Earnings)

	case tag.Equal(ixVerifyRobot):
		args, err := decodeVerifyRobotArgs(dec)
		if err != nil {
			return err
		}
		return e.VerifyRobot(args.Robot, args.Capability)

	case tag.Equal(ixDeactivateRobot):
		args, err := decodeDeactivateRobotArgs(dec)
		if err != nil {
			return err
		}
		return e.DeactivateRobot(signer, args.Robot)

	default:
		return ledger.NewValidationError(ledger.CodeBadOpcode, "unknown instruction tag")
	}
}
