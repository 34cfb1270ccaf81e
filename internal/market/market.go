// Package market runs the task marketplace: creators post work, robots bid,
// and an accepted bid turns into an assignment paid through a metered
// payment stream.
package market

import (
	"fmt"

	"github.com/DroneOsDev/DroneOS/internal/ledger"
	"github.com/DroneOsDev/DroneOS/internal/registry"
)

var (
	marketTag = ledger.AccountTag("Market")
	taskTag   = ledger.AccountTag("Task")
	bidTag    = ledger.AccountTag("Bid")
)

// Protocol constants.
const (
	DefaultFeeBasisPoints = 50
	MaxTitleLen           = 64
	MaxDescriptionLen     = 256
	MaxMessageLen         = 128
	MaxRequiredCaps       = 5
	MinPriority           = 1
	MaxPriority           = 5
	MaxTaskLifetime       = 7 * 86400
	bpsDenominator        = 10_000
)

// Reputation deltas applied when a task is verified.
const (
	repRewardOnComplete = 250
	repPenaltyOnDispute = -500
)

// TaskStatus is the task lifecycle state. Completed is reachable only
// through the full path: open, assigned, in progress, pending verification,
// approved.
type TaskStatus uint8

const (
	TaskOpen TaskStatus = iota
	TaskAssigned
	TaskInProgress
	TaskPendingVerification
	TaskCompleted
	TaskFailed
	TaskCancelled
	TaskDisputed
)

func (s TaskStatus) Valid() bool {
	return s <= TaskDisputed
}

func (s TaskStatus) String() string {
	switch s {
	case TaskOpen:
		return "open"
	case TaskAssigned:
		return "assigned"
	case TaskInProgress:
		return "in_progress"
	case TaskPendingVerification:
		return "pending_verification"
	case TaskCompleted:
		return "completed"
	case TaskFailed:
		return "failed"
	case TaskCancelled:
		return "cancelled"
	case TaskDisputed:
		return "disputed"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// BidStatus is the bid lifecycle state.
type BidStatus uint8

const (
	BidPending BidStatus = iota
	BidAccepted
	BidRejected
	BidWithdrawn
	BidExpired
)

func (s BidStatus) Valid() bool {
	return s <= BidExpired
}

func (s BidStatus) String() string {
	switch s {
	case BidPending:
		return "pending"
	case BidAccepted:
		return "accepted"
	case BidRejected:
		return "rejected"
	case BidWithdrawn:
		return "withdrawn"
	case BidExpired:
		return "expired"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Market is the singleton marketplace account. TotalTasks doubles as the
// next task index, so task addresses are sequential per market, not per
// creator.
type Market struct {
	Authority          ledger.Address
	TotalTasks         uint64
	TotalCompleted     uint64
	TotalVolume        uint64
	FeeBasisPoints     uint16
	AutoRejectSiblings bool
	Bump               uint8
}

func (m *Market) encodedSize() int {
	return ledger.TagLen + ledger.AddressLen + 8 + 8 + 8 + 2 + 1 + 1
}

// Encode renders the market account in its canonical byte layout.
func (m *Market) Encode() ([]byte, error) {
	enc := ledger.NewEncoder(m.encodedSize())
	enc.PutTag(marketTag)
	enc.PutAddress(m.Authority)
	enc.PutU64(m.TotalTasks)
	enc.PutU64(m.TotalCompleted)
	enc.PutU64(m.TotalVolume)
	enc.PutU16(m.FeeBasisPoints)
	enc.PutBool(m.AutoRejectSiblings)
	enc.PutU8(m.Bump)
	return enc.Finish()
}

// DecodeMarket parses a market account.
func DecodeMarket(data []byte) (*Market, error) {
	dec := ledger.NewDecoder(data)
	if err := dec.ExpectTag(marketTag); err != nil {
		return nil, err
	}
	m := &Market{
		Authority:          dec.Addr(),
		TotalTasks:         dec.U64(),
		TotalCompleted:     dec.U64(),
		TotalVolume:        dec.U64(),
		FeeBasisPoints:     dec.U16(),
		AutoRejectSiblings: dec.Bool(),
		Bump:               dec.U8(),
	}
	if err := dec.Finish(); err != nil {
		return nil, err
	}
	return m, nil
}

// Task is one posted job. Expiry is lazy: an Open task past ExpiresAt
// rejects bids and acceptance but its stored status is never flipped by a
// timer.
type Task struct {
	Creator              ledger.Address
	Title                string
	Description          string
	Class                registry.RobotClass
	RequiredCapabilities []registry.Capability
	MinReputation        uint16
	Reward               uint64
	RatePerSecond        uint64
	EstimatedDuration    uint32
	Priority             uint8
	Status               TaskStatus
	CreatedAt            int64
	ExpiresAt            int64
	AssignedRobot        *ledger.Address
	AssignedAt           *int64
	StartedAt            *int64
	CompletedAt          *int64
	StreamID             *ledger.Address
	Progress             uint8
	BidsCount            uint16
	Bump                 uint8
}

func (t *Task) encodedSize() int {
	return ledger.TagLen +
		ledger.AddressLen +
		ledger.StringSize(t.Title) +
		ledger.StringSize(t.Description) +
		1 + // class
		4 + len(t.RequiredCapabilities) + // cap count + one byte each
		2 + 8 + 8 + 4 + 1 + 1 + // min rep, reward, rate, duration, priority, status
		8 + 8 + // created, expires
		ledger.OptionSize(t.AssignedRobot != nil, ledger.AddressLen) +
		ledger.OptionSize(t.AssignedAt != nil, 8) +
		ledger.OptionSize(t.StartedAt != nil, 8) +
		ledger.OptionSize(t.CompletedAt != nil, 8) +
		ledger.OptionSize(t.StreamID != nil, ledger.AddressLen) +
		1 + 2 + 1 // progress, bids count, bump
}

// Encode renders the task account in its canonical byte layout.
func (t *Task) Encode() ([]byte, error) {
	enc := ledger.NewEncoder(t.encodedSize())
	enc.PutTag(taskTag)
	enc.PutAddress(t.Creator)
	enc.PutString(t.Title)
	enc.PutString(t.Description)
	enc.PutU8(uint8(t.Class))
	enc.PutU32(uint32(len(t.RequiredCapabilities)))
	for _, c := range t.RequiredCapabilities {
		enc.PutU8(uint8(c))
	}
	enc.PutU16(t.MinReputation)
	enc.PutU64(t.Reward)
	enc.PutU64(t.RatePerSecond)
	enc.PutU32(t.EstimatedDuration)
	enc.PutU8(t.Priority)
	enc.PutU8(uint8(t.Status))
	enc.PutI64(t.CreatedAt)
	enc.PutI64(t.ExpiresAt)
	enc.PutOptionAddress(t.AssignedRobot)
	enc.PutOptionI64(t.AssignedAt)
	enc.PutOptionI64(t.StartedAt)
	enc.PutOptionI64(t.CompletedAt)
	enc.PutOptionAddress(t.StreamID)
	enc.PutU8(t.Progress)
	enc.PutU16(t.BidsCount)
	enc.PutU8(t.Bump)
	return enc.Finish()
}

// DecodeTask parses a task account.
func DecodeTask(data []byte) (*Task, error) {
	dec := ledger.NewDecoder(data)
	if err := dec.ExpectTag(taskTag); err != nil {
		return nil, err
	}
	t := &Task{
		Creator:     dec.Addr(),
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
	t.RequiredCapabilities = make([]registry.Capability, 0, count)
	for i := uint32(0); i < count; i++ {
		t.RequiredCapabilities = append(t.RequiredCapabilities, registry.Capability(dec.U8()))
	}
	t.MinReputation = dec.U16()
	t.Reward = dec.U64()
	t.RatePerSecond = dec.U64()
	t.EstimatedDuration = dec.U32()
	t.Priority = dec.U8()
	t.Status = TaskStatus(dec.U8())
	t.CreatedAt = dec.I64()
	t.ExpiresAt = dec.I64()
	t.AssignedRobot = dec.OptionAddr()
	t.AssignedAt = dec.OptionI64()
	t.StartedAt = dec.OptionI64()
	t.CompletedAt = dec.OptionI64()
	t.StreamID = dec.OptionAddr()
	t.Progress = dec.U8()
	t.BidsCount = dec.U16()
	t.Bump = dec.U8()
	if err := dec.Finish(); err != nil {
		return nil, err
	}
	if !t.Class.Valid() {
		return nil, ledger.NewDecodeError(ledger.CodeTruncated, "unknown robot class byte").
			WithContext("class", uint8(t.Class))
	}
	if !t.Status.Valid() {
		return nil, ledger.NewDecodeError(ledger.CodeTruncated, "unknown task status byte").
			WithContext("status", uint8(t.Status))
	}
	for _, c := range t.RequiredCapabilities {
		if !c.Valid() {
			return nil, ledger.NewDecodeError(ledger.CodeTruncated, "unknown capability byte").
				WithContext("capability", uint8(c))
		}
	}
	return t, nil
}

// OpenAt reports whether the task accepts bids at now.
func (t *Task) OpenAt(now int64) bool {
	return t.Status == TaskOpen && now < t.ExpiresAt
}

// Bid is one robot's offer on a task. A robot holds at most one bid per
// task; the bid address is derived from the pair.
type Bid struct {
	Task              ledger.Address
	Robot             ledger.Address
	Operator          ledger.Address
	ProposedRate      uint64
	EstimatedDuration uint32
	Message           string
	Status            BidStatus
	SubmittedAt       int64
	Bump              uint8
}

func (b *Bid) encodedSize() int {
	return ledger.TagLen +
		ledger.AddressLen*3 +
		8 + 4 +
		ledger.StringSize(b.Message) +
		1 + 8 + 1
}

// Encode renders the bid account in its canonical byte layout.
func (b *Bid) Encode() ([]byte, error) {
	enc := ledger.NewEncoder(b.encodedSize())
	enc.PutTag(bidTag)
	enc.PutAddress(b.Task)
	enc.PutAddress(b.Robot)
	enc.PutAddress(b.Operator)
	enc.PutU64(b.ProposedRate)
	enc.PutU32(b.EstimatedDuration)
	enc.PutString(b.Message)
	enc.PutU8(uint8(b.Status))
	enc.PutI64(b.SubmittedAt)
	enc.PutU8(b.Bump)
	return enc.Finish()
}

// DecodeBid parses a bid account.
func DecodeBid(data []byte) (*Bid, error) {
	dec := ledger.NewDecoder(data)
	if err := dec.ExpectTag(bidTag); err != nil {
		return nil, err
	}
	b := &Bid{
		Task:              dec.Addr(),
		Robot:             dec.Addr(),
		Operator:          dec.Addr(),
		ProposedRate:      dec.U64(),
		EstimatedDuration: dec.U32(),
		Message:           dec.String(),
		Status:            BidStatus(dec.U8()),
		SubmittedAt:       dec.I64(),
		Bump:              dec.U8(),
	}
	if err := dec.Finish(); err != nil {
		return nil, err
	}
	if !b.Status.Valid() {
		return nil, ledger.NewDecodeError(ledger.CodeTruncated, "unknown bid status byte").
			WithContext("status", uint8(b.Status))
	}
	return b, nil
}
