// Package derive maps seed tuples onto canonical account addresses. The
// function is pure: (label, seeds) always re-derives the same address, and
// the returned address is guaranteed not to lie on the ed25519 curve, so no
// private key can ever sign for it.
package derive

import (
	"crypto/sha256"
	"encoding/binary"

	"filippo.io/edwards25519"

	"github.com/DroneOsDev/DroneOS/internal/ledger"
)

// Seed labels are part of the wire contract; the literals must match across
// implementations.
const (
	LabelRegistry = "registry"
	LabelRobot    = "robot"
	LabelTask     = "task"
	LabelBid      = "bid"
	LabelMarket   = "market"
	LabelStream   = "stream"
	LabelEscrow   = "escrow"
	LabelConfig   = "config"
	LabelStake    = "stake"
	LabelOperator = "operator"
	LabelMint     = "mint"
)

// domain separates derived addresses from every other sha256 use.
const domain = "DroneOSDerivedAccount"

// maxBump bounds the validity-nonce search. With 256 candidates the search
// never exhausts for well-formed seeds in practice.
const maxBump = 255

// Find returns the canonical address and bump for a label and seed tuple.
func Find(label string, seeds ...[]byte) (ledger.Address, uint8) {
	for bump := maxBump; bump >= 0; bump-- {
		h := sha256.New()
		h.Write([]byte(label))
		for _, s := range seeds {
			h.Write(s)
		}
		h.Write([]byte{uint8(bump)})
		h.Write([]byte(domain))

		var addr ledger.Address
		copy(addr[:], h.Sum(nil))
		if offCurve(addr) {
			return addr, uint8(bump)
		}
	}
	// Unreachable for sha256 output in practice; the zero address is never
	// stored, so a hit here surfaces as NotFound downstream.
	return ledger.ZeroAddress, 0
}

// offCurve reports whether the candidate cannot be an ed25519 public key.
func offCurve(addr ledger.Address) bool {
	_, err := new(edwards25519.Point).SetBytes(addr[:])
	return err != nil
}

// u64LE renders an index or timestamp the way the codec does.
func u64LE(v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return b[:]
}

// Registry derives the singleton identity-registry account.
func Registry() (ledger.Address, uint8) {
	return Find(LabelRegistry)
}

// Robot derives a robot account from its globally-unique device identifier.
func Robot(deviceID [32]byte) (ledger.Address, uint8) {
	return Find(LabelRobot, deviceID[:])
}

// Market derives the singleton task-market account.
func Market() (ledger.Address, uint8) {
	return Find(LabelMarket)
}

// Task derives a task account from its creator and sequential index.
func Task(creator ledger.Address, index uint64) (ledger.Address, uint8) {
	return Find(LabelTask, creator[:], u64LE(index))
}

// Bid derives the single bid account a robot may hold on a task.
func Bid(task, robot ledger.Address) (ledger.Address, uint8) {
	return Find(LabelBid, task[:], robot[:])
}

// StreamConfig derives the payment-stream program config account.
func StreamConfig() (ledger.Address, uint8) {
	return Find(LabelConfig, []byte(LabelStream))
}

// Stream derives a payment stream from its parties and creation time.
func Stream(payer, payee ledger.Address, createdAt int64) (ledger.Address, uint8) {
	return Find(LabelStream, payer[:], payee[:], u64LE(uint64(createdAt)))
}

// Escrow derives the escrow vault account owned by a stream.
func Escrow(stream ledger.Address) (ledger.Address, uint8) {
	return Find(LabelEscrow, stream[:])
}

// StakingConfig derives the staking-ledger config account.
func StakingConfig() (ledger.Address, uint8) {
	return Find(LabelConfig, []byte(LabelStake))
}

// Stake derives the single reward-stake account an owner may hold.
func Stake(owner ledger.Address) (ledger.Address, uint8) {
	return Find(LabelStake, owner[:])
}

// Operator derives an operator's collateral-stake account.
func Operator(operator ledger.Address) (ledger.Address, uint8) {
	return Find(LabelOperator, operator[:])
}

// Mint derives the token mint address held by the external vault service.
func Mint() (ledger.Address, uint8) {
	return Find(LabelMint)
}
