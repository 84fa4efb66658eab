package mba

import (
	"math/big"

	"github.com/holiman/uint256"

	"polaris/internal/obfrand"
)

// LinearPoly is f(y) = a1*y + a0 evaluated modulo 2^width.
type LinearPoly struct {
	A0, A1 uint64
}

// UnivariatePair returns (f, g) such that g(f(y)) == y (mod 2^width) for
// every y: f and g are mutual modular inverses under composition, used to
// wrap a linear MBA sum in a bijection that is equal to the original
// expression in the ring but opaque to pattern matching (spec_full.md §4.7).
func UnivariatePair(width int, rng *obfrand.Source) (f, g LinearPoly) {
	mask := uint64(1)<<uint(width) - 1
	if width >= 64 {
		mask = ^uint64(0)
	}

	a0 := rng.Uint64() & mask
	a1 := (rng.Uint64() | 1) & mask // must be odd to be invertible mod 2^width

	b1 := modInverse(a1, width) & mask
	// b0 = -b1*a0 (mod 2^width)
	b0 := (-(b1 * a0)) & mask

	return LinearPoly{A0: a0, A1: a1}, LinearPoly{A0: b0, A1: b1}
}

// modInverse computes the modular inverse of a odd value mod 2^width with
// math/big's ModInverse and narrows the result to uint64 through uint256.
func modInverse(a uint64, width int) uint64 {
	modulus := new(big.Int).Lsh(big.NewInt(1), uint(width))
	aBig := new(big.Int).SetUint64(a)
	inv := new(big.Int).ModInverse(aBig, modulus)
	if inv == nil {
		// a is guaranteed odd by the caller, so this cannot happen for any
		// power-of-two modulus; fall back to identity rather than panic.
		return a
	}

	var u uint256.Int
	u.SetFromBig(inv)
	return u.Uint64()
}
