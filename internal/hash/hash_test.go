package hash

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCRC32C(t *testing.T) {
	// Known vector for CRC32C("123456789").
	assert.Equal(t, uint32(0xE3069283), CRC32C([]byte("123456789")))
	assert.NotEqual(t, CRC32C([]byte("123456789")), CRC32C([]byte("123456780")))
}

func TestSum64(t *testing.T) {
	assert.Equal(t, Sum64([]byte("hello")), Sum64String("hello"))
	assert.NotEqual(t, Sum64String("hello"), Sum64String("hellp"))
}

func TestMix64(t *testing.T) {
	assert.Equal(t, Mix64(42), Mix64(42))
	assert.NotEqual(t, Mix64(1), Mix64(2))
	assert.Equal(t, uint64(0), Mix64(0))
}

func TestNonNegative(t *testing.T) {
	assert.Equal(t, int64(5), NonNegative(5))
	assert.Equal(t, int64(5), NonNegative(uint64(math.MaxUint64-4))) // -5
	assert.Equal(t, int64(0), NonNegative(1<<63))
	assert.GreaterOrEqual(t, NonNegative(Sum64String("x")), int64(0))
}

func TestSplitMix64(t *testing.T) {
	a := NewSplitMix64(7)
	b := NewSplitMix64(7)
	for i := 0; i < 100; i++ {
		assert.Equal(t, a.Next(), b.Next())
	}

	var z SplitMix64
	for i := 0; i < 1000; i++ {
		f := z.Float64()
		assert.GreaterOrEqual(t, f, 0.0)
		assert.Less(t, f, 1.0)
	}
}
