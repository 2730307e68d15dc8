package index

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/diskindex/codec"
	"github.com/hupe1980/diskindex/diskmap"
	"github.com/hupe1980/diskindex/internal/resource"
	"github.com/hupe1980/diskindex/store"
)

type person struct {
	Name string `json:"name"`
	Age  int    `index:"age"`
	Nick *string
}

type records map[RecordRef]any

func (r records) Refs(context.Context) ([]RecordRef, error) {
	return slices.Collect(maps.Keys(r)), nil
}

func (r records) Record(_ context.Context, ref RecordRef) (any, error) {
	rec, ok := r[ref]
	if !ok {
		return nil, ErrNotFound
	}
	return rec, nil
}

func newStore(t *testing.T) *store.Memory {
	t.Helper()
	s, err := store.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveFindAll(t *testing.T) {
	ix, err := New[string](newStore(t), codec.String{}, nil)
	require.NoError(t, err)

	require.NoError(t, ix.Save("red", 0, 1))
	require.NoError(t, ix.Save("red", 0, 2))
	require.NoError(t, ix.Save("blue", 0, 3))
	require.NoError(t, ix.Save("red", 0, 2)) // already present

	refs, err := ix.FindAll("red")
	require.NoError(t, err)
	assert.Equal(t, []RecordRef{1, 2}, refs)
	assert.EqualValues(t, 3, ix.Size())

	refs, err = ix.FindAll("green")
	require.NoError(t, err)
	assert.Empty(t, refs)

	bm, err := ix.FindAllBitmap("blue")
	require.NoError(t, err)
	assert.True(t, bm.Contains(3))
	assert.EqualValues(t, 1, bm.GetCardinality())

	values, err := ix.FindAllValues()
	require.NoError(t, err)
	assert.Equal(t, []string{"blue", "red"}, values)

	assert.ErrorIs(t, ix.Save("red", 0, 0), ErrInvalidRef)
}

func TestSaveMovesRef(t *testing.T) {
	ix, err := New[string](newStore(t), codec.String{}, nil)
	require.NoError(t, err)

	require.NoError(t, ix.Save("v1", 0, 7))
	require.NoError(t, ix.Save("v2", 7, 7))

	refs, err := ix.FindAll("v1")
	require.NoError(t, err)
	assert.NotContains(t, refs, RecordRef(7))

	refs, err = ix.FindAll("v2")
	require.NoError(t, err)
	assert.Equal(t, []RecordRef{7}, refs)

	// An empty postings set drops its value.
	values, err := ix.FindAllValues()
	require.NoError(t, err)
	assert.Equal(t, []string{"v2"}, values)

	// Without oldRef the previous membership is still replaced.
	require.NoError(t, ix.Save("v3", 0, 7))
	refs, err = ix.FindAll("v2")
	require.NoError(t, err)
	assert.Empty(t, refs)

	value, ok, err := ix.Value(7)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v3", value)
}

func TestDelete(t *testing.T) {
	ix, err := New[int64](newStore(t), codec.Int64{}, nil)
	require.NoError(t, err)

	require.NoError(t, ix.Save(10, 0, 1))
	require.NoError(t, ix.Save(10, 0, 2))
	require.NoError(t, ix.Delete(1))
	require.NoError(t, ix.Delete(99))

	refs, err := ix.FindAll(10)
	require.NoError(t, err)
	assert.Equal(t, []RecordRef{2}, refs)
	assert.EqualValues(t, 1, ix.Size())

	_, ok, err := ix.Value(1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteAll(t *testing.T) {
	ix, err := New[int64](newStore(t), codec.Int64{}, nil)
	require.NoError(t, err)

	require.NoError(t, ix.Save(10, 0, 1))
	require.NoError(t, ix.Save(20, 0, 2))
	require.NoError(t, ix.Save(20, 0, 3))
	require.NoError(t, ix.DeleteAll(0, 1, 2, 42))

	refs, err := ix.FindAll(10)
	require.NoError(t, err)
	assert.Empty(t, refs)
	refs, err = ix.FindAll(20)
	require.NoError(t, err)
	assert.Equal(t, []RecordRef{3}, refs)
	assert.EqualValues(t, 1, ix.Size())
}

func TestRangeQueries(t *testing.T) {
	inverse := []struct {
		name string
		cfg  diskmap.Config
	}{
		{"skiplist", diskmap.Config{}},
		{"hash", diskmap.Config{LoadFactor: 2}},
		{"matrix", diskmap.Config{LoadFactor: 4}},
	}
	for _, inv := range inverse {
		t.Run(inv.name, func(t *testing.T) {
			ix, err := New[int64](newStore(t), codec.Int64{}, nil, WithInverseConfig(inv.cfg))
			require.NoError(t, err)

			rng := rand.New(rand.NewPCG(11, 12))
			values := map[RecordRef]int64{}
			for ref := RecordRef(1); ref <= 200; ref++ {
				v := int64(rng.IntN(50)) - 25
				values[ref] = v
				require.NoError(t, ix.Save(v, 0, ref))
			}

			naive := func(keep func(int64) bool) []RecordRef {
				var out []RecordRef
				for ref, v := range values {
					if keep(v) {
						out = append(out, ref)
					}
				}
				slices.Sort(out)
				return out
			}
			nonNil := func(refs []RecordRef) []RecordRef {
				if len(refs) == 0 {
					return nil
				}
				return refs
			}

			above, err := ix.FindAllAbove(5, false)
			require.NoError(t, err)
			assert.Equal(t, naive(func(v int64) bool { return v > 5 }), nonNil(above))

			above, err = ix.FindAllAbove(5, true)
			require.NoError(t, err)
			assert.Equal(t, naive(func(v int64) bool { return v >= 5 }), nonNil(above))

			below, err := ix.FindAllBelow(-3, true)
			require.NoError(t, err)
			assert.Equal(t, naive(func(v int64) bool { return v <= -3 }), nonNil(below))

			between, err := ix.FindAllBetween(-10, false, 10, true)
			require.NoError(t, err)
			assert.Equal(t, naive(func(v int64) bool { return v > -10 && v <= 10 }), nonNil(between))
		})
	}
}

func TestRebuild(t *testing.T) {
	nick := "bob"
	fixture := records{
		1: person{Name: "alice", Age: 30},
		2: &person{Name: "bob", Age: 41, Nick: &nick},
		3: map[string]any{"name": "carol", "age": 30},
		4: person{Name: "alice", Age: 22},
	}

	ctx := context.Background()
	ix, err := New[string](newStore(t), codec.String{}, fixture, WithField("name"))
	require.NoError(t, err)
	require.NoError(t, ix.Rebuild(ctx))

	snapshot := func() map[string][]RecordRef {
		out := map[string][]RecordRef{}
		values, err := ix.FindAllValues()
		require.NoError(t, err)
		for _, v := range values {
			out[v], err = ix.FindAll(v)
			require.NoError(t, err)
		}
		return out
	}

	want := map[string][]RecordRef{"alice": {1, 4}, "bob": {2}, "carol": {3}}
	assert.Equal(t, want, snapshot())

	require.NoError(t, ix.Clear())
	assert.Empty(t, snapshot())
	assert.EqualValues(t, 0, ix.Size())

	require.NoError(t, ix.Rebuild(ctx))
	assert.Equal(t, want, snapshot())

	t.Run("coerces numeric fields", func(t *testing.T) {
		ages, err := New[int64](newStore(t), codec.Int64{}, fixture, WithField("age"),
			WithController(resource.NewController(resource.Config{OpsPerSec: 1000})))
		require.NoError(t, err)
		require.NoError(t, ages.Rebuild(ctx))

		refs, err := ages.FindAll(30)
		require.NoError(t, err)
		assert.Equal(t, []RecordRef{1, 3}, refs)
	})

	t.Run("nil field is skipped", func(t *testing.T) {
		people := records{1: fixture[1], 2: fixture[2], 4: fixture[4]}
		nicks, err := New[string](newStore(t), codec.String{}, people, WithField("Nick"))
		require.NoError(t, err)
		require.NoError(t, nicks.Rebuild(ctx))
		assert.EqualValues(t, 1, nicks.Size())
	})
}

type brokenRecords struct{ records }

func (b brokenRecords) Refs(ctx context.Context) ([]RecordRef, error) {
	refs, _ := b.records.Refs(ctx)
	return append(refs, 404), nil
}

func TestRebuildErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("missing record", func(t *testing.T) {
		ix, err := New[string](newStore(t), codec.String{}, brokenRecords{records{1: person{Name: "a"}}}, WithField("Name"))
		require.NoError(t, err)
		assert.ErrorIs(t, ix.Rebuild(ctx), ErrNotFound)
	})

	t.Run("missing field", func(t *testing.T) {
		ix, err := New[string](newStore(t), codec.String{}, records{1: person{Name: "a"}}, WithField("Email"))
		require.NoError(t, err)

		var fae *FieldAccessError
		require.ErrorAs(t, ix.Rebuild(ctx), &fae)
		assert.Equal(t, "Email", fae.Field)
	})

	t.Run("unconvertible field", func(t *testing.T) {
		ix, err := New[int64](newStore(t), codec.Int64{}, records{1: person{Name: "a"}}, WithField("Name"))
		require.NoError(t, err)

		var fae *FieldAccessError
		assert.ErrorAs(t, ix.Rebuild(ctx), &fae)
	})

	t.Run("no field", func(t *testing.T) {
		ix, err := New[string](newStore(t), codec.String{}, records{})
		require.NoError(t, err)
		assert.ErrorIs(t, ix.Rebuild(ctx), ErrNoField)
	})

	t.Run("cancelled", func(t *testing.T) {
		ix, err := New[string](newStore(t), codec.String{}, records{1: person{Name: "a"}}, WithField("Name"))
		require.NoError(t, err)

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		assert.True(t, errors.Is(ix.Rebuild(cctx), context.Canceled))
	})
}

func TestOpen(t *testing.T) {
	s := newStore(t)
	ix, err := New[string](s, codec.String{}, nil, WithInverseConfig(diskmap.Config{LoadFactor: 2}))
	require.NoError(t, err)

	for i := 1; i <= 50; i++ {
		require.NoError(t, ix.Save(fmt.Sprintf("v%d", i%5), 0, RecordRef(i)))
	}

	reopened, err := Open[string](s, codec.String{}, nil, ix.Root())
	require.NoError(t, err)
	assert.EqualValues(t, 50, reopened.Size())

	refs, err := reopened.FindAll("v3")
	require.NoError(t, err)
	assert.Len(t, refs, 10)

	require.NoError(t, reopened.Delete(3))
	refs, err = reopened.FindAll("v3")
	require.NoError(t, err)
	assert.Len(t, refs, 9)
}

func TestExtract(t *testing.T) {
	p := person{Name: "n", Age: 3}

	v, err := Extract(p, "Name")
	require.NoError(t, err)
	assert.Equal(t, "n", v)

	v, err = Extract(&p, "age")
	require.NoError(t, err)
	assert.Equal(t, 3, v)

	v, err = Extract((*person)(nil), "Name")
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = Extract(42, "Name")
	var fae *FieldAccessError
	require.ErrorAs(t, err, &fae)
	assert.Equal(t, "int", fae.Type)

	_, err = Extract(map[int]string{}, "x")
	assert.ErrorAs(t, err, &fae)
}

func TestCoerce(t *testing.T) {
	i, err := Coerce[int64](int32(7), "f")
	require.NoError(t, err)
	assert.EqualValues(t, 7, i)

	f, err := Coerce[float64](3, "f")
	require.NoError(t, err)
	assert.InDelta(t, 3.0, f, 0)

	_, err = Coerce[int64]("7", "f")
	var fae *FieldAccessError
	assert.ErrorAs(t, err, &fae)

	_, err = Coerce[string](nil, "f")
	assert.ErrorAs(t, err, &fae)
}
