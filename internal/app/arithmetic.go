package app

import (
	"fmt"
	"math/bits"
)

func addU64Checked(a, b uint64, what string) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, fmt.Errorf("%w: %s: %d + %d", ErrOverflow, what, a, b)
	}
	return sum, nil
}

func mulU64Checked(a, b uint64, what string) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, fmt.Errorf("%w: %s: %d * %d", ErrOverflow, what, a, b)
	}
	return lo, nil
}

// mulDivU64 computes a*b/den without intermediate overflow. den must be > 0.
func mulDivU64(a, b, den uint64, what string) (uint64, error) {
	if den == 0 {
		return 0, fmt.Errorf("%w: %s: zero denominator", ErrOverflow, what)
	}
	hi, lo := bits.Mul64(a, b)
	if hi >= den {
		return 0, fmt.Errorf("%w: %s: %d * %d / %d", ErrOverflow, what, a, b, den)
	}
	q, _ := bits.Div64(hi, lo, den)
	return q, nil
}
