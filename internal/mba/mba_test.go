package mba

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polaris/internal/obfrand"
)

func TestGenerateSumsToZero(t *testing.T) {
	ClearCache()
	rng := obfrand.NewSeeded(42)

	for i := 0; i < 20; i++ {
		coeffs := Generate(4, rng)

		var sums [4]int
		nonZero := false
		for idx, c := range coeffs {
			if c != 0 {
				nonZero = true
			}
			for j := 0; j < 4; j++ {
				sums[j] += c * TruthTables[idx][j]
			}
		}
		require.True(t, nonZero, "coefficient vector must not be all zero")
		for j, s := range sums {
			assert.Zerof(t, s, "sum at input combination %d was %d, want 0", j, s)
		}
	}
}

func TestGenerateIsDeterministicForSameSeed(t *testing.T) {
	ClearCache()
	a := Generate(3, obfrand.NewSeeded(7))
	ClearCache()
	b := Generate(3, obfrand.NewSeeded(7))
	assert.Equal(t, a, b)
}

func TestGenerateUsesCacheAfterFilling(t *testing.T) {
	ClearCache()
	rng := obfrand.NewSeeded(99)
	first := Generate(2, rng)
	for i := 1; i < cacheSize; i++ {
		Generate(2, rng)
	}
	// cache is now full; one more call must return a cached vector rather
	// than panicking or looping forever.
	got := Generate(2, rng)
	assert.NotNil(t, got)
	_ = first
}
