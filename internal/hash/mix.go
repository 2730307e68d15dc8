package hash

import (
	"math"

	"github.com/cespare/xxhash/v2"
)

// Golden is the 64-bit golden ratio increment used by splitmix64.
const Golden uint64 = 0x9E3779B97F4A7C15

// Sum64 returns the xxhash of b.
func Sum64(b []byte) uint64 {
	return xxhash.Sum64(b)
}

// Sum64String returns the xxhash of s without copying it.
func Sum64String(s string) uint64 {
	return xxhash.Sum64String(s)
}

// Mix64 applies the splitmix64 finalizer to x.
func Mix64(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xBF58476D1CE4E5B9
	x ^= x >> 27
	x *= 0x94D049BB133111EB
	x ^= x >> 31
	return x
}

// NonNegative folds a 64-bit hash into a non-negative int64.
// The signed value is taken in absolute terms; math.MinInt64 folds to 0.
func NonNegative(h uint64) int64 {
	v := int64(h) //nolint:gosec // reinterpretation is intended
	if v == math.MinInt64 {
		return 0
	}
	if v < 0 {
		return -v
	}
	return v
}

// SplitMix64 is a tiny deterministic generator. The zero value is usable.
type SplitMix64 struct {
	state uint64
}

// NewSplitMix64 returns a generator seeded with seed.
func NewSplitMix64(seed uint64) *SplitMix64 {
	return &SplitMix64{state: seed}
}

// Next returns the next 64-bit value.
func (s *SplitMix64) Next() uint64 {
	s.state += Golden
	return Mix64(s.state)
}

// Float64 returns a value in [0, 1) with 53 bits of precision.
func (s *SplitMix64) Float64() float64 {
	return float64(s.Next()>>11) / (1 << 53)
}
