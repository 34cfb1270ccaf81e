package ledger

import "math/bits"

// Monetary quantities are unsigned integers in minor units. Overflow aborts
// the transition; it never wraps.

// MulU64 multiplies two amounts, failing on overflow.
func MulU64(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, NewArithmeticError(CodeOverflow, "multiplication overflow").
			WithContext("a", a).
			WithContext("b", b)
	}
	return lo, nil
}

// AddU64 adds two amounts, failing on overflow.
func AddU64(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, NewArithmeticError(CodeOverflow, "addition overflow").
			WithContext("a", a).
			WithContext("b", b)
	}
	return sum, nil
}

// MulDivU64 computes a * b / denom with a 128-bit intermediate product,
// failing only when the quotient itself exceeds 64 bits.
func MulDivU64(a, b, denom uint64) (uint64, error) {
	if denom == 0 {
		return 0, NewArithmeticError(CodeOverflow, "division by zero")
	}
	hi, lo := bits.Mul64(a, b)
	if hi >= denom {
		return 0, NewArithmeticError(CodeOverflow, "quotient overflow").
			WithContext("a", a).
			WithContext("b", b).
			WithContext("denom", denom)
	}
	q, _ := bits.Div64(hi, lo, denom)
	return q, nil
}

// SubU64 subtracts b from a, failing on underflow.
func SubU64(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, NewArithmeticError(CodeUnderflow, "subtraction underflow").
			WithContext("a", a).
			WithContext("b", b)
	}
	return diff, nil
}

// MinU64 returns the smaller of a and b.
func MinU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

// ClampI32 clamps v into [lo, hi].
func ClampI32(v, lo, hi int32) int32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
