// Package ledger holds the primitives shared by every account-owning
// component: 32-byte addresses, 8-byte account/instruction tags, the binary
// codec, the error taxonomy, checked arithmetic and the injected clock.
package ledger

import (
	"bytes"
	"crypto/sha256"

	"github.com/mr-tron/base58"
)

// AddressLen is the size of every account address and identity value.
const AddressLen = 32

// TagLen is the size of the opcode tag that prefixes every encoded account
// and instruction payload.
const TagLen = 8

// Address identifies an account or a signing identity on the ledger.
type Address [AddressLen]byte

// ZeroAddress is the all-zero address. It is never a valid account.
var ZeroAddress Address

// AddressFromBytes copies b into an Address. b must be exactly 32 bytes.
func AddressFromBytes(b []byte) (Address, error) {
	var a Address
	if len(b) != AddressLen {
		return a, NewValidationError(CodeBadAddress, "address must be 32 bytes").
			WithContext("got_len", len(b))
	}
	copy(a[:], b)
	return a, nil
}

// AddressFromString parses the Base58 string form produced by String.
func AddressFromString(s string) (Address, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return ZeroAddress, WrapValidationError(CodeBadAddress, "malformed base58 address", err)
	}
	return AddressFromBytes(raw)
}

// String renders the address in Base58.
func (a Address) String() string {
	return base58.Encode(a[:])
}

// IsZero reports whether the address is all zeroes.
func (a Address) IsZero() bool {
	return a == ZeroAddress
}

// Equal reports byte equality with b.
func (a Address) Equal(b Address) bool {
	return a == b
}

// Tag is the 8-byte opcode prefix of an encoded account or instruction.
type Tag [TagLen]byte

// AccountTag derives the tag for an account kind from its name.
func AccountTag(name string) Tag {
	return tagOf("account:" + name)
}

// InstructionTag derives the tag for a state-transition request from its
// operation name.
func InstructionTag(name string) Tag {
	return tagOf("global:" + name)
}

func tagOf(preimage string) Tag {
	var t Tag
	sum := sha256.Sum256([]byte(preimage))
	copy(t[:], sum[:TagLen])
	return t
}

// Equal reports byte equality with u.
func (t Tag) Equal(u Tag) bool {
	return t == u
}

// PeekTag reads the leading tag of an encoded buffer without consuming it.
func PeekTag(data []byte) (Tag, error) {
	var t Tag
	if len(data) < TagLen {
		return t, NewDecodeError(CodeTruncated, "buffer shorter than tag").
			WithContext("got_len", len(data))
	}
	copy(t[:], data[:TagLen])
	return t, nil
}

// SameBytes reports whether two encoded buffers are identical. Used by tests
// asserting round-trip stability.
func SameBytes(a, b []byte) bool {
	return bytes.Equal(a, b)
}
