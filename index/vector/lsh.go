package vector

import (
	"math"

	"github.com/hupe1980/diskindex/distance"
	"github.com/hupe1980/diskindex/internal/hash"
)

// Planes holds the random unit hyperplanes of every table, row-major by
// (table, bit).
type Planes struct {
	tables int
	bits   int
	dim    int
	data   []float32
}

// NewPlanes derives tables*bits hyperplanes of width dim from seed. The
// plane for (table, bit) depends only on seed, table and bit.
func NewPlanes(seed uint64, tables, bits, dim int) *Planes {
	p := &Planes{tables: tables, bits: bits, dim: dim, data: make([]float32, tables*bits*dim)}
	for t := 0; t < tables; t++ {
		for b := 0; b < bits; b++ {
			plane := p.plane(t, b)
			rng := hash.NewSplitMix64(planeSeed(seed, t, b))
			gaussians(rng, plane)
			if !distance.NormalizeL2InPlace(plane) {
				plane[0] = 1
			}
		}
	}
	return p
}

func planeSeed(seed uint64, table, bit int) uint64 {
	return hash.Mix64(seed ^ hash.Mix64(uint64(table)<<32|uint64(bit))) //nolint:gosec // small non-negative indexes
}

// gaussians fills dst with standard normal samples (Box-Muller).
func gaussians(rng *hash.SplitMix64, dst []float32) {
	for i := 0; i < len(dst); i += 2 {
		u1 := rng.Float64()
		for u1 == 0 {
			u1 = rng.Float64()
		}
		u2 := rng.Float64()
		r := math.Sqrt(-2 * math.Log(u1))
		dst[i] = float32(r * math.Cos(2*math.Pi*u2))
		if i+1 < len(dst) {
			dst[i+1] = float32(r * math.Sin(2*math.Pi*u2))
		}
	}
}

func (p *Planes) plane(table, bit int) []float32 {
	off := (table*p.bits + bit) * p.dim
	return p.data[off : off+p.dim]
}

// Tables returns the number of tables.
func (p *Planes) Tables() int { return p.tables }

// Bits returns the signature width.
func (p *Planes) Bits() int { return p.bits }

// Signature returns the LSH signature of vec in table: bit i is set iff
// vec·plane(i) >= 0.
func (p *Planes) Signature(table int, vec []float32) uint64 {
	var sig uint64
	for b := 0; b < p.bits; b++ {
		if distance.Dot(vec, p.plane(table, b)) >= 0 {
			sig |= 1 << b
		}
	}
	return sig
}

// Signatures returns the signature of vec in every table.
func (p *Planes) Signatures(vec []float32) []uint64 {
	sigs := make([]uint64, p.tables)
	for t := range sigs {
		sigs[t] = p.Signature(t, vec)
	}
	return sigs
}

// Probes returns the signatures at Hamming distance 1 from sig, then those
// at distance 2, flipping only the low min(bits, 16) bits.
func Probes(sig uint64, bits int) (hamming1, hamming2 []uint64) {
	n := min(bits, maxProbeBits)
	hamming1 = make([]uint64, 0, n)
	hamming2 = make([]uint64, 0, n*(n-1)/2)
	for i := 0; i < n; i++ {
		hamming1 = append(hamming1, sig^(1<<i))
		for j := i + 1; j < n; j++ {
			hamming2 = append(hamming2, sig^(1<<i)^(1<<j))
		}
	}
	return hamming1, hamming2
}
