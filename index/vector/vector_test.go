package vector

import (
	"context"
	"fmt"
	"maps"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/diskindex/codec"
	"github.com/hupe1980/diskindex/diskmap"
	"github.com/hupe1980/diskindex/index"
	"github.com/hupe1980/diskindex/store"
)

type doc struct {
	Body string `json:"body"`
}

type records map[index.RecordRef]any

func (r records) Refs(context.Context) ([]index.RecordRef, error) {
	return slices.Collect(maps.Keys(r)), nil
}

func (r records) Record(_ context.Context, ref index.RecordRef) (any, error) {
	rec, ok := r[ref]
	if !ok {
		return nil, index.ErrNotFound
	}
	return rec, nil
}

var corpus = []string{
	"quick brown fox",
	"lorem ipsum dolor",
	"the lazy dog sleeps in the warm afternoon sun",
	"a distributed key value store with skip lists",
	"golang channels and goroutines for concurrency",
	"quick brown foxes jump over lazy dogs every morning",
}

func newStore(t *testing.T) *store.Memory {
	t.Helper()
	s, err := store.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newIndex(t *testing.T, cfg Config, recs index.RecordStore, opts ...Option) *Interactor {
	t.Helper()
	ix, err := New(newStore(t), cfg, recs, opts...)
	require.NoError(t, err)
	return ix
}

func fill(t *testing.T, ix *Interactor) {
	t.Helper()
	for i, text := range corpus {
		require.NoError(t, ix.Save(text, 0, index.RecordRef(i+1)))
	}
}

func TestTokens(t *testing.T) {
	e := NewEmbedder(DefaultConfig())
	assert.Equal(t, []string{"hello", "world", "b42", "über"}, e.Tokens("Hello, world! a b42 -- Über"))
	assert.Empty(t, e.Tokens("  ,, a "))
}

func TestEmbedText(t *testing.T) {
	e := NewEmbedder(DefaultConfig())

	v1, ok, err := e.Embed("quick brown fox")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, v1, DefaultDimension)

	v2, _, err := e.Embed("Quick, BROWN fox!")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)

	long := "the quick brown fox jumps over the lazy dog twice"
	v3, ok, err := e.Embed(long)
	require.NoError(t, err)
	require.True(t, ok)
	var norm float64
	for _, f := range v3 {
		norm += float64(f) * float64(f)
	}
	assert.InDelta(t, 1.0, norm, 1e-5)

	for _, v := range []any{nil, "", " ! ", "a"} {
		_, ok, err := e.Embed(v)
		require.NoError(t, err)
		assert.False(t, ok, "%q", v)
	}

	_, ok, err = e.Embed(42)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEmbedVectors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Dimension = 4
	e := NewEmbedder(cfg)

	v, ok, err := e.Embed([]float32{3, 0, 4, 0})
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDeltaSlice(t, []float32{0.6, 0, 0.8, 0}, v, 1e-6)

	v, ok, err = e.Embed([]byte{0xFF, 0, 0, 0})
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDeltaSlice(t, []float32{-1, 0, 0, 0}, v, 1e-6)

	_, ok, err = e.Embed([]float64{0, 0, 0, 0})
	require.NoError(t, err)
	assert.False(t, ok)

	for _, v := range []any{[]float32{1, 2, 3}, []float64{1, 2, 3, 4, 5}, []byte{1}, []int8{}} {
		_, _, err := e.Embed(v)
		var dme *DimensionMismatchError
		require.ErrorAs(t, err, &dme)
		assert.Equal(t, 4, dme.Expected)
	}
}

func TestPlanesDeterministic(t *testing.T) {
	a := NewPlanes(7, 3, 8, 32)
	b := NewPlanes(7, 3, 8, 32)
	c := NewPlanes(8, 3, 8, 32)
	assert.Equal(t, a.data, b.data)
	assert.NotEqual(t, a.data, c.data)

	rng := rand.New(rand.NewPCG(1, 2))
	vec := make([]float32, 32)
	for i := range vec {
		vec[i] = rng.Float32()*2 - 1
	}
	assert.Equal(t, a.Signatures(vec), b.Signatures(vec))
	for _, sig := range a.Signatures(vec) {
		assert.Less(t, sig, uint64(1)<<8)
	}

	// A plane depends only on its own (table, bit).
	wide := NewPlanes(7, 4, 8, 32)
	assert.Equal(t, a.plane(2, 5), wide.plane(2, 5))
}

func TestProbes(t *testing.T) {
	h1, h2 := Probes(0, 16)
	assert.Len(t, h1, 16)
	assert.Len(t, h2, 120)

	h1, h2 = Probes(0b1010, 4)
	assert.ElementsMatch(t, []uint64{0b1011, 0b1000, 0b1110, 0b0010}, h1)
	assert.Len(t, h2, 6)
	assert.Contains(t, h2, uint64(0b1001))

	// Only the low 16 bits are flipped.
	h1, _ = Probes(0, 20)
	assert.Len(t, h1, 16)
	assert.NotContains(t, h1, uint64(1)<<16)
}

func TestMatchAllScenario(t *testing.T) {
	ix := newIndex(t, DefaultConfig(), nil)
	fill(t, ix)

	matches, err := ix.MatchAll(context.Background(), "quick brown fxo", 10, 0)
	require.NoError(t, err)
	require.NotEmpty(t, matches)

	scores := map[index.RecordRef]float32{}
	for _, m := range matches {
		scores[m.Ref] = m.Score
	}
	assert.Greater(t, scores[1], float32(DefaultMinScore))
	assert.NotContains(t, scores, index.RecordRef(2), "lorem ipsum must not match")
	for i := 1; i < len(matches); i++ {
		assert.GreaterOrEqual(t, matches[i-1].Score, matches[i].Score)
	}
}

func TestMatchAllSelfSimilarity(t *testing.T) {
	ix := newIndex(t, DefaultConfig(), nil)
	fill(t, ix)

	for i, text := range corpus {
		matches, err := ix.MatchAll(context.Background(), text, 3, 0)
		require.NoError(t, err)
		require.NotEmpty(t, matches)
		assert.Equal(t, index.RecordRef(i+1), matches[0].Ref)
		assert.GreaterOrEqual(t, matches[0].Score, float32(0.99))
	}
}

func TestMatchAllDeterministic(t *testing.T) {
	ix := newIndex(t, DefaultConfig(), nil)
	fill(t, ix)

	ctx := context.Background()
	first, err := ix.MatchAll(ctx, "lazy brown dogs", 5, 0)
	require.NoError(t, err)
	second, err := ix.MatchAll(ctx, "lazy brown dogs", 5, 0)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// A second index with the same config ranks identically.
	other := newIndex(t, DefaultConfig(), nil)
	fill(t, other)
	third, err := other.MatchAll(ctx, "lazy brown dogs", 5, 0)
	require.NoError(t, err)
	assert.Equal(t, first, third)
}

func TestMatchAllLimits(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinScore = -1
	cfg.MinQueryTokens = 2
	ix := newIndex(t, cfg, nil)
	fill(t, ix)
	ctx := context.Background()

	matches, err := ix.MatchAll(ctx, "fox", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, matches, "too few query tokens")

	matches, err = ix.MatchAll(ctx, nil, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, matches)

	// Fewer candidates than limit are topped up from every record.
	matches, err = ix.MatchAll(ctx, "unrelated words entirely", 10, 0)
	require.NoError(t, err)
	assert.Len(t, matches, len(corpus))

	matches, err = ix.MatchAll(ctx, "quick brown fox", 2, 0)
	require.NoError(t, err)
	assert.Len(t, matches, 2)
}

func TestMatchAllBelowMinScore(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinScore = 0.999
	ix := newIndex(t, cfg, nil)
	fill(t, ix)

	matches, err := ix.MatchAll(context.Background(), "quick brown fxo", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestDimensionMismatch(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Dimension = 8
	ix := newIndex(t, cfg, nil)

	var dme *DimensionMismatchError
	require.ErrorAs(t, ix.Save([]float32{1, 2, 3}, 0, 1), &dme)
	assert.Equal(t, DimensionMismatchError{Expected: 8, Actual: 3}, *dme)
	assert.EqualValues(t, 0, ix.Size())

	_, err := ix.MatchAll(context.Background(), make([]float32, 9), 1, 0)
	require.ErrorAs(t, err, &dme)
	assert.Equal(t, 9, dme.Actual)
}

func TestVectorValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Dimension = 16
	cfg.Tables = 4
	cfg.Bits = 8
	cfg.MinScore = 0.5
	ix := newIndex(t, cfg, nil)

	rng := rand.New(rand.NewPCG(5, 6))
	vecs := make([][]float32, 50)
	for i := range vecs {
		vecs[i] = make([]float32, cfg.Dimension)
		for j := range vecs[i] {
			vecs[i][j] = rng.Float32()*2 - 1
		}
		require.NoError(t, ix.Save(vecs[i], 0, index.RecordRef(i+1)))
	}

	matches, err := ix.MatchAll(context.Background(), vecs[17], 1, 0)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, index.RecordRef(18), matches[0].Ref)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-5)

	stored, ok, err := ix.Vector(18)
	require.NoError(t, err)
	require.True(t, ok)
	want, _, _ := ix.Embedder().Embed(vecs[17])
	assert.InDeltaSlice(t, want, stored, 1e-6)

	refs, err := ix.FindAll(vecs[17])
	require.NoError(t, err)
	assert.Equal(t, []index.RecordRef{18}, refs)
}

// assertGone checks that ref is absent from every structure of ix.
func assertGone(t *testing.T, ix *Interactor, ref index.RecordRef) {
	t.Helper()
	for ti, tbl := range ix.tables {
		ok, err := tbl.signatures.ContainsKey(ref)
		require.NoError(t, err)
		assert.False(t, ok, "table %d signatures", ti)

		sigs, err := tbl.buckets.Keys()
		require.NoError(t, err)
		for _, sig := range sigs {
			postings, err := ix.postings(ti, sig, false)
			require.NoError(t, err)
			require.NotNil(t, postings)
			assert.NotZero(t, postings.Size(), "empty bucket left behind")
			ok, err := postings.ContainsKey(ref)
			require.NoError(t, err)
			assert.False(t, ok, "table %d bucket %x", ti, sig)
		}
	}
	_, ok, err := ix.Vector(ref)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = ix.all.ContainsKey(ref)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteComplete(t *testing.T) {
	ix := newIndex(t, DefaultConfig(), nil)
	fill(t, ix)

	// Warm the vector cache first.
	_, err := ix.MatchAll(context.Background(), corpus[0], 10, 0)
	require.NoError(t, err)

	require.NoError(t, ix.Delete(1))
	assertGone(t, ix, 1)
	assert.EqualValues(t, len(corpus)-1, ix.Size())

	refs, err := ix.FindAll(corpus[0])
	require.NoError(t, err)
	assert.Empty(t, refs)

	matches, err := ix.MatchAll(context.Background(), corpus[0], 10, 0)
	require.NoError(t, err)
	for _, m := range matches {
		assert.NotEqual(t, index.RecordRef(1), m.Ref)
	}

	require.NoError(t, ix.Delete(1))
	require.NoError(t, ix.Delete(404))
}

func TestSaveReplaces(t *testing.T) {
	ix := newIndex(t, DefaultConfig(), nil)
	fill(t, ix)

	require.NoError(t, ix.Save("golang skip lists", 3, 3))
	refs, err := ix.FindAll(corpus[2])
	require.NoError(t, err)
	assert.Empty(t, refs)

	matches, err := ix.MatchAll(context.Background(), "golang skip lists", 1, 0)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, index.RecordRef(3), matches[0].Ref)

	// A value that cannot be embedded drops the vector but keeps the exact entry.
	require.NoError(t, ix.Save("!", 0, 3))
	assertGone(t, ix, 3)
	refs, err = ix.FindAll("!")
	require.NoError(t, err)
	assert.Equal(t, []index.RecordRef{3}, refs)

	require.NoError(t, ix.Save(nil, 0, 4))
	assertGone(t, ix, 4)
	assert.ErrorIs(t, ix.Save("x y", 0, 0), index.ErrInvalidRef)
}

func TestClearAndRebuild(t *testing.T) {
	fixture := records{}
	for i, text := range corpus {
		fixture[index.RecordRef(i+1)] = doc{Body: text}
	}
	fixture[99] = &doc{}

	ctx := context.Background()
	ix := newIndex(t, DefaultConfig(), fixture, WithField("body"), WithWorkers(3))
	require.NoError(t, ix.Rebuild(ctx))
	assert.EqualValues(t, len(corpus), ix.Size())

	before, err := ix.MatchAll(ctx, "quick lazy fox", 10, 0)
	require.NoError(t, err)
	require.NotEmpty(t, before)

	require.NoError(t, ix.Clear())
	assert.EqualValues(t, 0, ix.Size())
	for ref := range fixture {
		assertGone(t, ix, ref)
	}
	matches, err := ix.MatchAll(ctx, "quick lazy fox", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, matches)

	require.NoError(t, ix.Rebuild(ctx))
	after, err := ix.MatchAll(ctx, "quick lazy fox", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	refs, err := ix.FindAll(corpus[4])
	require.NoError(t, err)
	assert.Equal(t, []index.RecordRef{5}, refs)
}

func TestRebuildErrors(t *testing.T) {
	ctx := context.Background()

	ix := newIndex(t, DefaultConfig(), records{})
	assert.ErrorIs(t, ix.Rebuild(ctx), index.ErrNoField)

	cfg := DefaultConfig()
	cfg.Dimension = 4
	bad := records{1: map[string]any{"v": []float32{1, 2}}}
	ix = newIndex(t, cfg, bad, WithField("v"))
	var dme *DimensionMismatchError
	assert.ErrorAs(t, ix.Rebuild(ctx), &dme)

	ix = newIndex(t, DefaultConfig(), records{1: doc{}}, WithField("missing"))
	var fae *index.FieldAccessError
	assert.ErrorAs(t, ix.Rebuild(ctx), &fae)
}

func TestOpen(t *testing.T) {
	s := newStore(t)
	cfg := DefaultConfig()
	cfg.Tables = 3
	cfg.Maps = diskmap.Config{LoadFactor: 2}

	ix, err := New(s, cfg, nil)
	require.NoError(t, err)
	fill(t, ix)

	want, err := ix.MatchAll(context.Background(), "brown fox", 10, 0)
	require.NoError(t, err)

	reopened, err := Open(s, cfg, nil, ix.Root())
	require.NoError(t, err)
	assert.EqualValues(t, len(corpus), reopened.Size())

	got, err := reopened.MatchAll(context.Background(), "brown fox", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	cfg.Tables = 4
	_, err = Open(s, cfg, nil, ix.Root())
	assert.ErrorIs(t, err, ErrConfigMismatch)

	_, err = Open(s, DefaultConfig(), nil, ix.exact.Root())
	assert.ErrorIs(t, err, store.ErrCorrupt)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"default", func(*Config) {}, true},
		{"zero dimension", func(c *Config) { c.Dimension = 0 }, false},
		{"too many bits", func(c *Config) { c.Bits = MaxBits + 1 }, false},
		{"no tables", func(c *Config) { c.Tables = 0 }, false},
		{"score above one", func(c *Config) { c.MinScore = 1.5 }, false},
		{"ngram bounds", func(c *Config) { c.NGramMin, c.NGramMax = 5, 3 }, false},
		{"ngrams off", func(c *Config) { c.NGramMax = 0 }, true},
		{"bad map config", func(c *Config) { c.Maps.LoadFactor = 40 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestExactKey(t *testing.T) {
	k1, ok := exactKey("abc")
	require.True(t, ok)
	k2, _ := exactKey(fmt.Stringer(stringer("abc")))
	assert.Equal(t, k1, k2)

	_, ok = exactKey(nil)
	assert.False(t, ok)

	k3, _ := exactKey([]float32{1})
	assert.Equal(t, codec.MustEncode[[]float32](codec.Float32Vector{Dim: 1}, []float32{1}), k3)
}

type stringer string

func (s stringer) String() string { return string(s) }
