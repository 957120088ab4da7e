// Package reciprocal implements division of unsigned 64-bit integers by a
// fixed divisor using a precomputed multiplier and two shifts.
//
// The construction is the round-up variant from Granlund and Montgomery,
// "Division by Invariant Integers using Multiplication" (PLDI 1994).
package reciprocal

import (
	"errors"
	"math/bits"
)

// ErrZeroDivisor is returned by New for a zero divisor.
var ErrZeroDivisor = errors.New("reciprocal: zero divisor")

// U64 is a precomputed reciprocal of a 64-bit divisor.
// The zero value is not usable; build one with New.
type U64 struct {
	d   uint64
	m   uint64
	sh1 uint8
	sh2 uint8
}

// New precomputes the reciprocal of d.
func New(d uint64) (U64, error) {
	if d == 0 {
		return U64{}, ErrZeroDivisor
	}

	// l = ceil(log2(d))
	l := uint(64 - bits.LeadingZeros64(d-1))

	// m = floor(2^64 * (2^l - d) / d) + 1. For l == 64 the shift yields 0
	// and the subtraction wraps to 2^64 - d, which is what we want.
	hi := (uint64(1) << l) - d
	q, _ := bits.Div64(hi, 0, d)

	r := U64{d: d, m: q + 1}
	if l > 0 {
		r.sh1 = 1
		r.sh2 = uint8(l - 1)
	}
	return r, nil
}

// Divide returns a / d.
func (r U64) Divide(a uint64) uint64 {
	t, _ := bits.Mul64(a, r.m)
	return (t + ((a - t) >> r.sh1)) >> r.sh2
}

// Divisor returns d.
func (r U64) Divisor() uint64 {
	return r.d
}

// IsZero reports whether r was never initialized.
func (r U64) IsZero() bool {
	return r.d == 0
}
