// Package stream meters continuous payment from a payer to a payee out of a
// prefunded escrow. Time is observed lazily: money moves only when someone
// calls Tick, and a stream with a depleted escrow simply stops paying.
package stream

import (
	"fmt"

	"github.com/DroneOsDev/DroneOS/internal/ledger"
)

var (
	configTag = ledger.AccountTag("StreamConfig")
	streamTag = ledger.AccountTag("PaymentStream")
)

// Protocol constants.
const (
	DefaultFeeBasisPoints = 10
	DefaultMinDuration    = 60
	DefaultMaxDuration    = 30 * 86400
	MaxGracePeriod        = 300
	bpsDenominator        = 10_000
)

// StreamStatus is the stream lifecycle state.
type StreamStatus uint8

const (
	StatusPending StreamStatus = iota
	StatusActive
	StatusPaused
	StatusCompleted
	StatusCancelled
	StatusDisputed
)

func (s StreamStatus) Valid() bool {
	return s <= StatusDisputed
}

func (s StreamStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusActive:
		return "active"
	case StatusPaused:
		return "paused"
	case StatusCompleted:
		return "completed"
	case StatusCancelled:
		return "cancelled"
	case StatusDisputed:
		return "disputed"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// terminal reports whether the stream can never pay again.
func (s StreamStatus) terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Config is the singleton stream-program configuration.
type Config struct {
	Authority         ledger.Address
	FeeBasisPoints    uint16
	MinStreamDuration uint64
	MaxStreamDuration uint64
	TotalStreams      uint64
	TotalVolume       uint64
	Bump              uint8
}

func (c *Config) encodedSize() int {
	return ledger.TagLen + ledger.AddressLen + 2 + 8 + 8 + 8 + 8 + 1
}

// Encode renders the config account in its canonical byte layout.
func (c *Config) Encode() ([]byte, error) {
	enc := ledger.NewEncoder(c.encodedSize())
	enc.PutTag(configTag)
	enc.PutAddress(c.Authority)
	enc.PutU16(c.FeeBasisPoints)
	enc.PutU64(c.MinStreamDuration)
	enc.PutU64(c.MaxStreamDuration)
	enc.PutU64(c.TotalStreams)
	enc.PutU64(c.TotalVolume)
	enc.PutU8(c.Bump)
	return enc.Finish()
}

// DecodeConfig parses a stream config account.
func DecodeConfig(data []byte) (*Config, error) {
	dec := ledger.NewDecoder(data)
	if err := dec.ExpectTag(configTag); err != nil {
		return nil, err
	}
	c := &Config{
		Authority:         dec.Addr(),
		FeeBasisPoints:    dec.U16(),
		MinStreamDuration: dec.U64(),
		MaxStreamDuration: dec.U64(),
		TotalStreams:      dec.U64(),
		TotalVolume:       dec.U64(),
		Bump:              dec.U8(),
	}
	if err := dec.Finish(); err != nil {
		return nil, err
	}
	return c, nil
}

// PaymentStream is one metered payment relationship. The escrow account it
// owns holds the prefunded balance; EscrowBalance mirrors it.
type PaymentStream struct {
	Payer         ledger.Address
	Payee         ledger.Address
	RatePerSecond uint64
	MaxDuration   uint64
	GracePeriod   uint64
	AutoTerminate bool
	Status        StreamStatus
	CreatedAt     int64
	StartedAt     int64
	LastTickAt    int64
	TotalPaid     uint64
	TotalTicks    uint32
	EscrowBalance uint64
	TaskID        *ledger.Address
	EscrowBump    uint8
	Bump          uint8
}

func (s *PaymentStream) encodedSize() int {
	return ledger.TagLen +
		ledger.AddressLen*2 +
		8 + 8 + 8 + // rate, max duration, grace
		1 + 1 + // auto terminate, status
		8 + 8 + 8 + // created, started, last tick
		8 + 4 + 8 + // total paid, total ticks, escrow balance
		ledger.OptionSize(s.TaskID != nil, ledger.AddressLen) +
		1 + 1 // escrow bump, bump
}

// Encode renders the stream account in its canonical byte layout.
func (s *PaymentStream) Encode() ([]byte, error) {
	enc := ledger.NewEncoder(s.encodedSize())
	enc.PutTag(streamTag)
	enc.PutAddress(s.Payer)
	enc.PutAddress(s.Payee)
	enc.PutU64(s.RatePerSecond)
	enc.PutU64(s.MaxDuration)
	enc.PutU64(s.GracePeriod)
	enc.PutBool(s.AutoTerminate)
	enc.PutU8(uint8(s.Status))
	enc.PutI64(s.CreatedAt)
	enc.PutI64(s.StartedAt)
	enc.PutI64(s.LastTickAt)
	enc.PutU64(s.TotalPaid)
	enc.PutU32(s.TotalTicks)
	enc.PutU64(s.EscrowBalance)
	enc.PutOptionAddress(s.TaskID)
	enc.PutU8(s.EscrowBump)
	enc.PutU8(s.Bump)
	return enc.Finish()
}

// DecodeStream parses a payment stream account.
func DecodeStream(data []byte) (*PaymentStream, error) {
	dec := ledger.NewDecoder(data)
	if err := dec.ExpectTag(streamTag); err != nil {
		return nil, err
	}
	s := &PaymentStream{
		Payer:         dec.Addr(),
		Payee:         dec.Addr(),
		RatePerSecond: dec.U64(),
		MaxDuration:   dec.U64(),
		GracePeriod:   dec.U64(),
		AutoTerminate: dec.Bool(),
		Status:        StreamStatus(dec.U8()),
		CreatedAt:     dec.I64(),
		StartedAt:     dec.I64(),
		LastTickAt:    dec.I64(),
		TotalPaid:     dec.U64(),
		TotalTicks:    dec.U32(),
		EscrowBalance: dec.U64(),
		TaskID:        dec.OptionAddr(),
		EscrowBump:    dec.U8(),
		Bump:          dec.U8(),
	}
	if err := dec.Finish(); err != nil {
		return nil, err
	}
	if !s.Status.Valid() {
		return nil, ledger.NewDecodeError(ledger.CodeTruncated, "unknown stream status byte").
			WithContext("status", uint8(s.Status))
	}
	return s, nil
}
