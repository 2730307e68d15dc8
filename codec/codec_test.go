package codec

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/diskindex/store"
)

func roundTrip[T any](t *testing.T, c Codec[T], v T) T {
	t.Helper()
	b, err := Encode(c, v)
	require.NoError(t, err)
	got, err := c.Decode(b)
	require.NoError(t, err)
	return got
}

func TestKeyCodecs(t *testing.T) {
	assert.Equal(t, int64(-42), roundTrip[int64](t, Int64{}, -42))
	assert.Equal(t, uint64(math.MaxUint64), roundTrip[uint64](t, Uint64{}, math.MaxUint64))
	assert.Equal(t, 3.25, roundTrip[float64](t, Float64{}, 3.25))
	assert.Equal(t, "héllo", roundTrip[string](t, String{}, "héllo"))
	assert.Equal(t, []byte{1, 2, 3}, roundTrip[[]byte](t, Bytes{}, []byte{1, 2, 3}))

	tests := []struct {
		name string
		cmp  int
	}{
		{"int64", Int64{}.Compare(-5, 3)},
		{"uint64", Uint64{}.Compare(5, 3)},
		{"float64", Float64{}.Compare(math.NaN(), -1)},
		{"string", String{}.Compare("b", "ab")},
		{"bytes", Bytes{}.Compare([]byte{1}, []byte{1})},
	}
	want := []int{-1, 1, -1, 1, 0}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, want[i], tt.cmp)
		})
	}
}

func TestDecodeLength(t *testing.T) {
	_, err := Int64{}.Decode([]byte{1, 2})
	assert.ErrorIs(t, err, ErrLength)
	_, err = Position{}.Decode(nil)
	assert.ErrorIs(t, err, ErrLength)
	_, err = UnitCodec{}.Decode([]byte{0})
	assert.ErrorIs(t, err, ErrLength)
}

func TestValueCodecs(t *testing.T) {
	assert.Equal(t, store.Position(77), roundTrip[store.Position](t, Position{}, 77))
	assert.Equal(t, Unit{}, roundTrip[Unit](t, UnitCodec{}, Unit{}))
	assert.Empty(t, MustEncode[Unit](UnitCodec{}, Unit{}))

	vc := Float32Vector{Dim: 3}
	b := MustEncode[[]float32](vc, []float32{1, -0.5, 0.25})
	assert.Len(t, b, 12)
	assert.Equal(t, []byte{0, 0, 0x80, 0x3f}, b[:4], "little-endian float32")
	assert.Equal(t, []float32{1, -0.5, 0.25}, roundTrip[[]float32](t, vc, []float32{1, -0.5, 0.25}))

	_, err := vc.Append(nil, []float32{1})
	assert.ErrorIs(t, err, ErrLength)
}

func TestJSON(t *testing.T) {
	type doc struct {
		Title string   `json:"title"`
		Tags  []string `json:"tags"`
	}

	c := JSON[doc]{}
	got := roundTrip[doc](t, c, doc{Title: "quick brown fox", Tags: []string{"a", "b"}})
	assert.Equal(t, doc{Title: "quick brown fox", Tags: []string{"a", "b"}}, got)
	assert.Equal(t, "go-json", c.Name())

	_, err := c.Decode([]byte("{"))
	assert.Error(t, err)
}

func TestMustEncodePanics(t *testing.T) {
	assert.Panics(t, func() {
		MustEncode[[]float32](Float32Vector{Dim: 2}, []float32{1})
	})
}
