package domain

import (
	"math"

	dErrors "lifeline/pkg/domain-errors"
)

// Amount is a token quantity in the platform's smallest unit.
//
// All amount math goes through the Checked functions: overflow or
// underflow fails the whole instruction with CodeArithmetic rather than
// wrapping. Escrow counters are never mutated with raw + or -.
type Amount uint64

// CheckedAdd returns a+b, or CodeArithmetic if the sum would overflow.
func (a Amount) CheckedAdd(b Amount) (Amount, error) {
	if uint64(b) > math.MaxUint64-uint64(a) {
		return 0, dErrors.New(dErrors.CodeArithmetic, "amount addition overflows")
	}
	return a + b, nil
}

// CheckedSub returns a-b, or CodeArithmetic if b exceeds a.
func (a Amount) CheckedSub(b Amount) (Amount, error) {
	if b > a {
		return 0, dErrors.New(dErrors.CodeArithmetic, "amount subtraction underflows")
	}
	return a - b, nil
}
