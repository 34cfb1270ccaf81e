// Package registry owns robot identities and their capability proofs.
package registry

import (
	"fmt"

	"github.com/DroneOsDev/DroneOS/internal/ledger"
)

// Account tags.
var (
	registryTag = ledger.AccountTag("Registry")
	robotTag    = ledger.AccountTag("Robot")
)

// RobotClass is the closed set of chassis families.
type RobotClass uint8

const (
	ClassDrone RobotClass = iota
	ClassGround
	ClassMarine
	ClassIndustrial
	ClassHumanoid
)

func (c RobotClass) Valid() bool {
	return c <= ClassHumanoid
}

func (c RobotClass) String() string {
	switch c {
	case ClassDrone:
		return "drone"
	case ClassGround:
		return "ground"
	case ClassMarine:
		return "marine"
	case ClassIndustrial:
		return "industrial"
	case ClassHumanoid:
		return "humanoid"
	default:
		return fmt.Sprintf("class(%d)", uint8(c))
	}
}

// RobotStatus is the robot's operational state.
type RobotStatus uint8

const (
	StatusIdle RobotStatus = iota
	StatusAvailable
	StatusBusy
	StatusMaintenance
	StatusOffline
	StatusSuspended
)

func (s RobotStatus) Valid() bool {
	return s <= StatusSuspended
}

func (s RobotStatus) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusAvailable:
		return "available"
	case StatusBusy:
		return "busy"
	case StatusMaintenance:
		return "maintenance"
	case StatusOffline:
		return "offline"
	case StatusSuspended:
		return "suspended"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Capability is the closed set of task-skill categories.
type Capability uint8

const (
	CapDelivery Capability = iota
	CapSurveillance
	CapInspection
	CapTransport
	CapManipulation
	CapCleaning
	CapSecurity
	CapAgriculture
	CapConstruction
	CapWarehouse
)

func (c Capability) Valid() bool {
	return c <= CapWarehouse
}

func (c Capability) String() string {
	switch c {
	case CapDelivery:
		return "delivery"
	case CapSurveillance:
		return "surveillance"
	case CapInspection:
		return "inspection"
	case CapTransport:
		return "transport"
	case CapManipulation:
		return "manipulation"
	case CapCleaning:
		return "cleaning"
	case CapSecurity:
		return "security"
	case CapAgriculture:
		return "agriculture"
	case CapConstruction:
		return "construction"
	case CapWarehouse:
		return "warehouse"
	default:
		return fmt.Sprintf("capability(%d)", uint8(c))
	}
}

// Field limits.
const (
	MaxNameLen      = 32
	MaxCapabilities = 10
	MinCertLevel    = 1
	MaxCertLevel    = 5
	secondsPerDay   = 86400
)

// Registry is the singleton registry account.
type Registry struct {
	Authority      ledger.Address
	TotalRobots    uint64
	TotalOperators uint64
	Bump           uint8
}

func (r *Registry) encodedSize() int {
	return ledger.TagLen + ledger.AddressLen + 8 + 8 + 1
}

// Encode renders the registry account in its canonical byte layout.
func (r *Registry) Encode() ([]byte, error) {
	enc := ledger.NewEncoder(r.encodedSize())
	enc.PutTag(registryTag)
	enc.PutAddress(r.Authority)
	enc.PutU64(r.TotalRobots)
	enc.PutU64(r.TotalOperators)
	enc.PutU8(r.Bump)
	return enc.Finish()
}

// DecodeRegistry parses a registry account, rejecting mismatched tags and
// truncated buffers.
func DecodeRegistry(data []byte) (*Registry, error) {
	dec := ledger.NewDecoder(data)
	if err := dec.ExpectTag(registryTag); err != nil {
		return nil, err
	}
	r := &Registry{
		Authority:      dec.Addr(),
		TotalRobots:    dec.U64(),
		TotalOperators: dec.U64(),
		Bump:           dec.U8(),
	}
	if err := dec.Finish(); err != nil {
		return nil, err
	}
	return r, nil
}

// CapabilityProof certifies one skill. Proofs are appended, never removed;
// expired proofs stay on the account and are skipped by validity checks.
type CapabilityProof struct {
	Capability Capability
	CertLevel  uint8
	ValidUntil int64
	Issuer     ledger.Address
}

const proofSize = 1 + 1 + 8 + ledger.AddressLen

// Robot is a registered machine identity. Never deleted, only suspended.
type Robot struct {
	DeviceID       [32]byte
	ManufacturerID string
	ModelID        string
	FirmwareHash   [32]byte
	Class          RobotClass
	Operator       ledger.Address
	RegisteredAt   int64
	LastActiveAt   int64
	Reputation     uint16
	TasksCompleted uint32
	TotalEarnings  uint64
	Status         RobotStatus
	Capabilities   []CapabilityProof
	Bump           uint8
}

func (r *Robot) encodedSize() int {
	return ledger.TagLen +
		32 + // device id
		ledger.StringSize(r.ManufacturerID) +
		ledger.StringSize(r.ModelID) +
		32 + // firmware hash
		1 + // class
		ledger.AddressLen +
		8 + 8 + // registered, last active
		2 + 4 + 8 + // reputation, tasks completed, earnings
		1 + // status
		4 + len(r.Capabilities)*proofSize +
		1 // bump
}

// Encode renders the robot account in its canonical byte layout.
func (r *Robot) Encode() ([]byte, error) {
	enc := ledger.NewEncoder(r.encodedSize())
	enc.PutTag(robotTag)
	var dev ledger.Address = r.DeviceID
	enc.PutAddress(dev)
	enc.PutString(r.ManufacturerID)
	enc.PutString(r.ModelID)
	var fw ledger.Address = r.FirmwareHash
	enc.PutAddress(fw)
	enc.PutU8(uint8(r.Class))
	enc.PutAddress(r.Operator)
	enc.PutI64(r.RegisteredAt)
	enc.PutI64(r.LastActiveAt)
	enc.PutU16(r.Reputation)
	enc.PutU32(r.TasksCompleted)
	enc.PutU64(r.TotalEarnings)
	enc.PutU8(uint8(r.Status))
	enc.PutU32(uint32(len(r.Capabilities)))
	for _, p := range r.Capabilities {
		enc.PutU8(uint8(p.Capability))
		enc.PutU8(p.CertLevel)
		enc.PutI64(p.ValidUntil)
		enc.PutAddress(p.Issuer)
	}
	enc.PutU8(r.Bump)
	return enc.Finish()
}

// DecodeRobot parses a robot account.
func DecodeRobot(data []byte) (*Robot, error) {
	dec := ledger.NewDecoder(data)
	if err := dec.ExpectTag(robotTag); err != nil {
		return nil, err
	}
	r := &Robot{}
	dev := dec.Addr()
	r.DeviceID = dev
	r.ManufacturerID = dec.String()
	r.ModelID = dec.String()
	fw := dec.Addr()
	r.FirmwareHash = fw
	r.Class = RobotClass(dec.U8())
	r.Operator = dec.Addr()
	r.RegisteredAt = dec.I64()
	r.LastActiveAt = dec.I64()
	r.Reputation = dec.U16()
	r.TasksCompleted = dec.U32()
	r.TotalEarnings = dec.U64()
	r.Status = RobotStatus(dec.U8())

	count := dec.U32()
	if dec.Err() != nil {
		return nil, dec.Err()
	}
	if count > MaxCapabilities {
		return nil, ledger.NewDecodeError(ledger.CodeTruncated, "capability count exceeds limit").
			WithContext("count", count)
	}
	r.Capabilities = make([]CapabilityProof, 0, count)
	for i := uint32(0); i < count; i++ {
		p := CapabilityProof{
			Capability: Capability(dec.U8()),
			CertLevel:  dec.U8(),
			ValidUntil: dec.I64(),
			Issuer:     dec.Addr(),
		}
		r.Capabilities = append(r.Capabilities, p)
	}
	r.Bump = dec.U8()
	if err := dec.Finish(); err != nil {
		return nil, err
	}
	if !r.Class.Valid() {
		return nil, ledger.NewDecodeError(ledger.CodeTruncated, "unknown robot class byte").
			WithContext("class", uint8(r.Class))
	}
	if !r.Status.Valid() {
		return nil, ledger.NewDecodeError(ledger.CodeTruncated, "unknown robot status byte").
			WithContext("status", uint8(r.Status))
	}
	for _, p := range r.Capabilities {
		if !p.Capability.Valid() {
			return nil, ledger.NewDecodeError(ledger.CodeTruncated, "unknown capability byte").
				WithContext("capability", uint8(p.Capability))
		}
	}
	return r, nil
}

// HasCapability reports whether any proof for cap is still valid at now.
// Multiple proofs for the same capability may coexist; the most permissive
// one wins.
func (r *Robot) HasCapability(cap Capability, now int64) bool {
	for _, p := range r.Capabilities {
		if p.Capability == cap && p.ValidUntil > now {
			return true
		}
	}
	return false
}

// IsAvailable reports whether the robot is accepting work.
func (r *Robot) IsAvailable() bool {
	return r.Status == StatusAvailable
}
