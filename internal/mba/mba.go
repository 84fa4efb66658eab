// Package mba generates Mixed Boolean-Arithmetic coefficient vectors: linear
// combinations of the 15 two-input Boolean truth tables that evaluate to
// zero for every (x, y) in {0,1}^2, used by the MBA obfuscation pass to hide
// a single arithmetic or bitwise operation inside an opaque sum.
//
// The reference implementation calls out to Z3 for this (spec_full.md
// §4.7); no SMT solver binding exists anywhere in the retrieved Go corpus,
// so this package finds the same kind of solution with exact rational
// Gaussian elimination over the null space of the small 4xN constraint
// matrix instead, bounded and cached exactly as the reference describes.
package mba

import (
	"math/big"

	"polaris/internal/obfrand"
)

// TruthTables holds all 15 two-input Boolean truth tables, each given as
// [f(0,0), f(0,1), f(1,0), f(1,1)].
var TruthTables = [15][4]int{
	{0, 0, 0, 1}, // 0:  x & y
	{0, 0, 1, 0}, // 1:  x & ~y
	{0, 0, 1, 1}, // 2:  x
	{0, 1, 0, 0}, // 3:  ~x & y
	{0, 1, 0, 1}, // 4:  y
	{0, 1, 1, 0}, // 5:  x ^ y
	{0, 1, 1, 1}, // 6:  x | y
	{1, 0, 0, 0}, // 7:  ~(x | y)
	{1, 0, 0, 1}, // 8:  ~(x ^ y)
	{1, 0, 1, 0}, // 9:  ~y
	{1, 0, 1, 1}, // 10: x | ~y
	{1, 1, 0, 0}, // 11: ~x
	{1, 1, 0, 1}, // 12: ~x | y
	{1, 1, 1, 0}, // 13: ~(x & y)
	{1, 1, 1, 1}, // 14: -1 (all ones)
}

const (
	// NegatedAnd is the truth-table index of ~(x & y). Constant operands
	// are absorbed into coefficient 14 (the all-ones table), not this one.
	NegatedAnd = 13
	coeffBound = 10
	cacheSize  = 100
)

// cache is the bounded FIFO the reference describes; it amortizes the
// (comparatively expensive) null-space search across many call sites within
// one single-threaded pipeline run.
var cache [][15]int

// Generate returns a set of 15 coefficients (indexed by truth-table number)
// such that sum(coeffs[i] * TruthTables[i][j]) == 0 for every j in 0..3, and
// at least one coefficient is non-zero. numExprs controls how many truth
// tables are drawn (with replacement, so a table may be drawn more than
// once); tables never drawn are left at zero.
func Generate(numExprs int, rng *obfrand.Source) [15]int {
	if len(cache) >= cacheSize {
		next := cache[0]
		cache = append(cache[1:], next)
		return next
	}

	for {
		exprs := make([]int, numExprs)
		for i := range exprs {
			exprs[i] = rng.Intn(15)
		}

		if sol, ok := solveNullSpace(exprs, rng); ok {
			var coeffs [15]int
			for i, e := range exprs {
				coeffs[e] += sol[i]
			}
			cache = append(cache, coeffs)
			return coeffs
		}
	}
}

// ClearCache empties the coefficient cache; exposed for tests that need to
// observe generation rather than a cached replay.
func ClearCache() { cache = nil }

// solveNullSpace looks for an integer vector x, bounded to
// [-coeffBound, coeffBound] and not identically zero, in the null space of
// the 4xN matrix whose rows are TruthTables[exprs[i]][j] for each j.
func solveNullSpace(exprs []int, rng *obfrand.Source) ([]int, bool) {
	n := len(exprs)
	basis := nullSpaceBasis(exprs)
	if len(basis) == 0 {
		return nil, false
	}

	// Try random integer combinations of the basis vectors, looking for one
	// whose scaled-to-integer form fits the coefficient bound. This mirrors
	// Z3 enumerating models within the same bound, without needing a solver.
	for attempt := 0; attempt < 64; attempt++ {
		combo := make([]*big.Rat, n)
		for i := range combo {
			combo[i] = big.NewRat(0, 1)
		}
		for _, vec := range basis {
			scalar := big.NewRat(int64(rng.Intn(7)-3), 1)
			for i, v := range vec {
				combo[i].Add(combo[i], new(big.Rat).Mul(scalar, v))
			}
		}

		if sol, ok := clearDenominators(combo); ok {
			return sol, true
		}
	}
	return nil, false
}

// nullSpaceBasis computes a basis for the null space of the 4xN 0/1 matrix
// built from TruthTables[exprs[i]] via exact Gaussian elimination over the
// rationals.
func nullSpaceBasis(exprs []int) [][]*big.Rat {
	n := len(exprs)
	rows := 4
	a := make([][]*big.Rat, rows)
	for j := 0; j < rows; j++ {
		a[j] = make([]*big.Rat, n)
		for i, e := range exprs {
			a[j][i] = big.NewRat(int64(TruthTables[e][j]), 1)
		}
	}

	pivotCol := make([]int, 0, rows)
	row := 0
	for col := 0; col < n && row < rows; col++ {
		pivot := -1
		for r := row; r < rows; r++ {
			if a[r][col].Sign() != 0 {
				pivot = r
				break
			}
		}
		if pivot == -1 {
			continue
		}
		a[row], a[pivot] = a[pivot], a[row]
		inv := new(big.Rat).Inv(a[row][col])
		for c := 0; c < n; c++ {
			a[row][c].Mul(a[row][c], inv)
		}
		for r := 0; r < rows; r++ {
			if r == row || a[r][col].Sign() == 0 {
				continue
			}
			factor := new(big.Rat).Set(a[r][col])
			for c := 0; c < n; c++ {
				a[r][c].Sub(a[r][c], new(big.Rat).Mul(factor, a[row][c]))
			}
		}
		pivotCol = append(pivotCol, col)
		row++
	}

	isPivot := make([]bool, n)
	for _, c := range pivotCol {
		isPivot[c] = true
	}

	var basis [][]*big.Rat
	for free := 0; free < n; free++ {
		if isPivot[free] {
			continue
		}
		vec := make([]*big.Rat, n)
		for i := range vec {
			vec[i] = big.NewRat(0, 1)
		}
		vec[free] = big.NewRat(1, 1)
		for r, c := range pivotCol {
			vec[c] = new(big.Rat).Neg(a[r][free])
		}
		basis = append(basis, vec)
	}
	return basis
}

func clearDenominators(combo []*big.Rat) ([]int, bool) {
	lcm := big.NewInt(1)
	for _, r := range combo {
		d := r.Denom()
		g := new(big.Int).GCD(nil, nil, lcm, d)
		lcm.Mul(lcm, new(big.Int).Div(d, g))
	}

	zero := true
	out := make([]int, len(combo))
	for i, r := range combo {
		scaled := new(big.Int).Mul(r.Num(), new(big.Int).Div(lcm, r.Denom()))
		v := scaled.Int64()
		if v > coeffBound || v < -coeffBound {
			return nil, false
		}
		if v != 0 {
			zero = false
		}
		out[i] = int(v)
	}
	if zero {
		return nil, false
	}
	return out, true
}
