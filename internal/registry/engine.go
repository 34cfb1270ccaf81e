package registry

import (
	"log/slog"

	"github.com/DroneOsDev/DroneOS/internal/derive"
	"github.com/DroneOsDev/DroneOS/internal/events"
	"github.com/DroneOsDev/DroneOS/internal/ledger"
	"github.com/DroneOsDev/DroneOS/internal/store"
)

// operatorMarkerTag tags the per-operator marker account used to count
// distinct operators.
var operatorMarkerTag = ledger.AccountTag("OperatorMarker")

// markerSeed namespaces operator markers away from staking collateral
// accounts, which share the "operator" label.
var markerSeed = []byte("registry")

// Engine executes identity-registry transitions against a store.
type Engine struct {
	store  store.Store
	clock  ledger.Clock
	bus    *events.Bus
	logger *slog.Logger
}

// NewEngine wires a registry engine. bus and logger may be nil.
func NewEngine(st store.Store, clock ledger.Clock, bus *events.Bus, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:  st,
		clock:  clock,
		bus:    bus,
		logger: logger.With("component", "registry"),
	}
}

// Initialize creates the singleton registry account under authority.
func (e *Engine) Initialize(authority ledger.Address) (ledger.Address, error) {
	addr, bump := derive.Registry()

	err := e.store.Update(func(tx store.Tx) error {
		exists, err := tx.Has(addr)
		if err != nil {
			return err
		}
		if exists {
			return ledger.NewStateError(ledger.CodeExists, "registry already initialized")
		}
		reg := &Registry{Authority: authority, Bump: bump}
		data, err := reg.Encode()
		if err != nil {
			return err
		}
		return tx.Put(addr, data)
	})
	if err != nil {
		return ledger.ZeroAddress, err
	}

	e.logger.Info("registry initialized", "address", addr, "authority", authority)
	return addr, nil
}

// RegisterRobotParams carries the immutable identity of a new robot.
type RegisterRobotParams struct {
	DeviceID       [32]byte
	ManufacturerID string
	ModelID        string
	FirmwareHash   [32]byte
	Class          RobotClass
}

// RegisterRobot creates a robot account for operator. The device id is the
// uniqueness anchor: a second registration for the same device fails.
func (e *Engine) RegisterRobot(operator ledger.Address, p RegisterRobotParams) (ledger.Address, error) {
	if p.DeviceID == [32]byte{} {
		return ledger.ZeroAddress, ledger.NewValidationError(ledger.CodeEmptyDeviceID, "device id must be non-zero")
	}
	if err := checkName("manufacturer_id", p.ManufacturerID); err != nil {
		return ledger.ZeroAddress, err
	}
	if err := checkName("model_id", p.ModelID); err != nil {
		return ledger.ZeroAddress, err
	}
	if !p.Class.Valid() {
		return ledger.ZeroAddress, ledger.NewValidationError(ledger.CodeBadAddress, "unknown robot class").
			WithContext("class", uint8(p.Class))
	}

	robotAddr, bump := derive.Robot(p.DeviceID)
	regAddr, _ := derive.Registry()
	markerAddr, _ := derive.Find(derive.LabelOperator, markerSeed, operator[:])
	now := e.clock.Now()

	err := e.store.Update(func(tx store.Tx) error {
		exists, err := tx.Has(robotAddr)
		if err != nil {
			return err
		}
		if exists {
			return ledger.NewStateError(ledger.CodeExists, "device already registered").
				WithContext("robot", robotAddr.String())
		}

		reg, err := loadRegistry(tx, regAddr)
		if err != nil {
			return err
		}

		robot := &Robot{
			DeviceID:       p.DeviceID,
			ManufacturerID: p.ManufacturerID,
			ModelID:        p.ModelID,
			FirmwareHash:   p.FirmwareHash,
			Class:          p.Class,
			Operator:       operator,
			RegisteredAt:   now,
			LastActiveAt:   now,
			Status:         StatusIdle,
			Bump:           bump,
		}
		data, err := robot.Encode()
		if err != nil {
			return err
		}
		if err := tx.Put(robotAddr, data); err != nil {
			return err
		}

		reg.TotalRobots++
		seen, err := tx.Has(markerAddr)
		if err != nil {
			return err
		}
		if !seen {
			reg.TotalOperators++
			enc := ledger.NewEncoder(ledger.TagLen + ledger.AddressLen + 8)
			enc.PutTag(operatorMarkerTag)
			enc.PutAddress(operator)
			enc.PutI64(now)
			marker, err := enc.Finish()
			if err != nil {
				return err
			}
			if err := tx.Put(markerAddr, marker); err != nil {
				return err
			}
		}
		return saveRegistry(tx, regAddr, reg)
	})
	if err != nil {
		return ledger.ZeroAddress, err
	}

	e.logger.Info("robot registered",
		"robot", robotAddr, "operator", operator, "class", p.Class.String())
	e.bus.Publish(events.TopicRobotRegistered, events.RobotRegistered{
		Robot:     robotAddr.String(),
		DeviceID:  ledger.Address(p.DeviceID).String(),
		Operator:  operator.String(),
		Class:     p.Class.String(),
		Timestamp: now,
	})
	return robotAddr, nil
}

// AddCapability appends a capability proof signed off by the robot's
// operator. Proofs are never deduplicated; re-certification appends a fresh
// proof and validity checks pick the most permissive one.
func (e *Engine) AddCapability(signer, robotAddr ledger.Address, cap Capability, certLevel uint8, validDays uint32) error {
	if !cap.Valid() {
		return ledger.NewValidationError(ledger.CodeProofNotFound, "unknown capability").
			WithContext("capability", uint8(cap))
	}
	if certLevel < MinCertLevel || certLevel > MaxCertLevel {
		return ledger.NewValidationError(ledger.CodeBadCertLevel, "certification level out of range").
			WithContext("level", certLevel)
	}
	now := e.clock.Now()
	span, err := ledger.MulU64(uint64(validDays), secondsPerDay)
	if err != nil {
		return err
	}
	validUntil := now + int64(span)

	err = e.store.Update(func(tx store.Tx) error {
		robot, err := LoadRobotTx(tx, robotAddr)
		if err != nil {
			return err
		}
		if !robot.Operator.Equal(signer) {
			return ledger.NewAuthorizationError("only the operator may certify capabilities")
		}
		if len(robot.Capabilities) >= MaxCapabilities {
			return ledger.NewValidationError(ledger.CodeTooManyProofs, "capability list is full")
		}
		robot.Capabilities = append(robot.Capabilities, CapabilityProof{
			Capability: cap,
			CertLevel:  certLevel,
			ValidUntil: validUntil,
			Issuer:     signer,
		})
		return SaveRobotTx(tx, robotAddr, robot)
	})
	if err != nil {
		return err
	}

	e.logger.Info("capability added", "robot", robotAddr, "capability", cap.String(), "level", certLevel)
	e.bus.Publish(events.TopicCapabilityAdded, events.CapabilityAdded{
		Robot:      robotAddr.String(),
		Capability: cap.String(),
		Level:      certLevel,
		ValidUntil: validUntil,
	})
	return nil
}

// UpdateStatus moves the robot to newStatus. Any transition between the six
// states is allowed; availability checks happen where work is assigned, not
// here.
func (e *Engine) UpdateStatus(signer, robotAddr ledger.Address, newStatus RobotStatus) error {
	if !newStatus.Valid() {
		return ledger.NewValidationError(ledger.CodeBadAddress, "unknown robot status").
			WithContext("status", uint8(newStatus))
	}
	now := e.clock.Now()

	var old RobotStatus
	err := e.store.Update(func(tx store.Tx) error {
		robot, err := LoadRobotTx(tx, robotAddr)
		if err != nil {
			return err
		}
		if !robot.Operator.Equal(signer) {
			return ledger.NewAuthorizationError("only the operator may change status")
		}
		old = robot.Status
		robot.Status = newStatus
		robot.LastActiveAt = now
		return SaveRobotTx(tx, robotAddr, robot)
	})
	if err != nil {
		return err
	}

	e.bus.Publish(events.TopicRobotStatus, events.RobotStatusChanged{
		Robot:     robotAddr.String(),
		OldStatus: old.String(),
		NewStatus: newStatus.String(),
		Timestamp: now,
	})
	return nil
}

// UpdateReputation adjusts a robot's score. Only the registry authority may
// call it directly; the task market applies the same adjustment through
// ApplyReputationTx inside its own transaction.
func (e *Engine) UpdateReputation(signer, robotAddr ledger.Address, delta int32, taskCompleted bool, earnings uint64) error {
	regAddr, _ := derive.Registry()
	now := e.clock.Now()

	var oldScore, newScore uint16
	err := e.store.Update(func(tx store.Tx) error {
		reg, err := loadRegistry(tx, regAddr)
		if err != nil {
			return err
		}
		if !reg.Authority.Equal(signer) {
			return ledger.NewAuthorizationError("only the registry authority may adjust reputation")
		}
		oldScore, newScore, err = ApplyReputationTx(tx, robotAddr, delta, taskCompleted, earnings, now)
		return err
	})
	if err != nil {
		return err
	}

	e.logger.Info("reputation updated", "robot", robotAddr, "old", oldScore, "new", newScore)
	e.bus.Publish(events.TopicReputationUpdated, events.ReputationUpdated{
		Robot:    robotAddr.String(),
		OldScore: oldScore,
		NewScore: newScore,
		Delta:    delta,
	})
	return nil
}

// VerifyRobot checks that the robot is in service and holds a valid proof
// for cap. It mutates nothing.
func (e *Engine) VerifyRobot(robotAddr ledger.Address, cap Capability) error {
	now := e.clock.Now()

	err := e.store.View(func(tx store.Tx) error {
		robot, err := LoadRobotTx(tx, robotAddr)
		if err != nil {
			return err
		}
		return checkRobotFit(robot, cap, now)
	})
	if err != nil {
		return err
	}

	e.bus.Publish(events.TopicRobotVerified, events.RobotVerified{
		Robot:      robotAddr.String(),
		Capability: cap.String(),
		VerifiedAt: now,
	})
	return nil
}

// DeactivateRobot takes the robot offline. A busy robot must finish or abort
// its task first.
func (e *Engine) DeactivateRobot(signer, robotAddr ledger.Address) error {
	now := e.clock.Now()

	err := e.store.Update(func(tx store.Tx) error {
		robot, err := LoadRobotTx(tx, robotAddr)
		if err != nil {
			return err
		}
		if !robot.Operator.Equal(signer) {
			return ledger.NewAuthorizationError("only the operator may deactivate")
		}
		if robot.Status == StatusBusy {
			return ledger.NewStateError(ledger.CodeRobotBusy, "robot has an active task")
		}
		robot.Status = StatusOffline
		robot.LastActiveAt = now
		return SaveRobotTx(tx, robotAddr, robot)
	})
	if err != nil {
		return err
	}

	e.bus.Publish(events.TopicRobotDeactivated, events.RobotDeactivated{Robot: robotAddr.String()})
	return nil
}

// GetRobot returns the decoded robot account.
func (e *Engine) GetRobot(robotAddr ledger.Address) (*Robot, error) {
	var robot *Robot
	err := e.store.View(func(tx store.Tx) error {
		var err error
		robot, err = LoadRobotTx(tx, robotAddr)
		return err
	})
	return robot, err
}

// GetRegistry returns the decoded registry account.
func (e *Engine) GetRegistry() (*Registry, error) {
	addr, _ := derive.Registry()
	var reg *Registry
	err := e.store.View(func(tx store.Tx) error {
		var err error
		reg, err = loadRegistry(tx, addr)
		return err
	})
	return reg, err
}

// checkName enforces the registry's identifier rules.
func checkName(field, value string) error {
	if value == "" {
		return ledger.NewValidationError(ledger.CodeEmptyField, "identifier is required").
			WithContext("field", field)
	}
	if len(value) > MaxNameLen {
		return ledger.NewValidationError(ledger.CodeStringTooLong, "identifier too long").
			WithContext("field", field).
			WithContext("length", len(value))
	}
	return nil
}

// checkRobotFit is the shared verification predicate: in service and
// holding an unexpired proof for cap.
func checkRobotFit(robot *Robot, cap Capability, now int64) error {
	if robot.Status != StatusAvailable && robot.Status != StatusBusy {
		return ledger.NewStateError(ledger.CodeRobotNotActive, "robot is not in service").
			WithContext("status", robot.Status.String())
	}
	if robot.HasCapability(cap, now) {
		return nil
	}
	for _, p := range robot.Capabilities {
		if p.Capability == cap {
			return ledger.NewStateError(ledger.CodeProofExpired, "capability proof expired").
				WithContext("capability", cap.String())
		}
	}
	return ledger.NewStateError(ledger.CodeProofNotFound, "no proof for capability").
		WithContext("capability", cap.String())
}

// LoadRobotTx reads and decodes the robot at addr inside tx.
func LoadRobotTx(tx store.Tx, addr ledger.Address) (*Robot, error) {
	data, err := tx.Get(addr)
	if err != nil {
		return nil, err
	}
	return DecodeRobot(data)
}

// SaveRobotTx encodes and stages the robot at addr inside tx.
func SaveRobotTx(tx store.Tx, addr ledger.Address, robot *Robot) error {
	data, err := robot.Encode()
	if err != nil {
		return err
	}
	return tx.Put(addr, data)
}

// ApplyReputationTx applies a reputation delta inside an existing
// transaction. The score is clamped to [0, 10000] and never wraps. When
// taskCompleted is set the completion counter and lifetime earnings advance
// with it.
func ApplyReputationTx(tx store.Tx, robotAddr ledger.Address, delta int32, taskCompleted bool, earnings uint64, now int64) (oldScore, newScore uint16, err error) {
	robot, err := LoadRobotTx(tx, robotAddr)
	if err != nil {
		return 0, 0, err
	}
	oldScore = robot.Reputation
	robot.Reputation = uint16(ledger.ClampI32(int32(robot.Reputation)+delta, 0, 10000))
	newScore = robot.Reputation

	if taskCompleted {
		robot.TasksCompleted++
		total, err := ledger.AddU64(robot.TotalEarnings, earnings)
		if err != nil {
			return 0, 0, err
		}
		robot.TotalEarnings = total
	}
	robot.LastActiveAt = now

	if err := SaveRobotTx(tx, robotAddr, robot); err != nil {
		return 0, 0, err
	}
	return oldScore, newScore, nil
}

// CheckRobotFitTx verifies in-service status plus a valid proof inside an
// existing transaction. The task market uses it when matching bids.
func CheckRobotFitTx(tx store.Tx, robotAddr ledger.Address, cap Capability, now int64) (*Robot, error) {
	robot, err := LoadRobotTx(tx, robotAddr)
	if err != nil {
		return nil, err
	}
	if err := checkRobotFit(robot, cap, now); err != nil {
		return nil, err
	}
	return robot, nil
}

func loadRegistry(tx store.Tx, addr ledger.Address) (*Registry, error) {
	data, err := tx.Get(addr)
	if err != nil {
		return nil, err
	}
	return DecodeRegistry(data)
}

func saveRegistry(tx store.Tx, addr ledger.Address, reg *Registry) error {
	data, err := reg.Encode()
	if err != nil {
		return err
	}
	return tx.Put(addr, data)
}
