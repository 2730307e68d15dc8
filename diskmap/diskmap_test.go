package diskmap

import (
	"fmt"
	"maps"
	"math/rand/v2"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/diskindex/codec"
	"github.com/hupe1980/diskindex/store"
)

var variants = []struct {
	name string
	cfg  Config
	kind Kind
}{
	{"skiplist", Config{}, KindSkipList},
	{"hash", Config{LoadFactor: 2}, KindHash},
	{"matrix", Config{LoadFactor: 5}, KindMatrix},
}

func newStore(t *testing.T) *store.Memory {
	t.Helper()
	s, err := store.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newStringMap(t *testing.T, cfg Config, opts ...Option) DiskMap[string, string] {
	t.Helper()
	m, err := New[string, string](newStore(t), codec.String{}, codec.String{}, cfg, opts...)
	require.NoError(t, err)
	return m
}

func TestPutGet(t *testing.T) {
	for _, v := range variants {
		t.Run(v.name, func(t *testing.T) {
			m := newStringMap(t, v.cfg)
			assert.Equal(t, v.kind, m.Kind())

			rng := rand.New(rand.NewPCG(3, 4))
			want := map[string]string{}
			for i := 0; i < 400; i++ {
				k := "key-" + strconv.Itoa(rng.IntN(300))
				switch rng.IntN(4) {
				case 0:
					_, existed, err := m.Remove(k)
					require.NoError(t, err)
					_, had := want[k]
					assert.Equal(t, had, existed)
					delete(want, k)
				default:
					val := fmt.Sprintf("value-%d", i)
					prev, existed, err := m.Put(k, val)
					require.NoError(t, err)
					old, had := want[k]
					assert.Equal(t, had, existed)
					if had {
						assert.Equal(t, old, prev)
					}
					want[k] = val
				}
			}

			assert.Equal(t, int64(len(want)), m.Size())
			for k, val := range want {
				got, ok, err := m.Get(k)
				require.NoError(t, err)
				require.True(t, ok, k)
				assert.Equal(t, val, got)
			}

			for i := 0; i < 300; i++ {
				k := "key-" + strconv.Itoa(i)
				if _, had := want[k]; had {
					continue
				}
				ok, err := m.ContainsKey(k)
				require.NoError(t, err)
				assert.False(t, ok, k)
			}
		})
	}
}

func TestRemove(t *testing.T) {
	for _, v := range variants {
		t.Run(v.name, func(t *testing.T) {
			m := newStringMap(t, v.cfg)

			_, _, err := m.Put("a", "1")
			require.NoError(t, err)
			_, _, err = m.Put("b", "2")
			require.NoError(t, err)

			prev, ok, err := m.Remove("a")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "1", prev)

			_, ok, err = m.Get("a")
			require.NoError(t, err)
			assert.False(t, ok)
			ok, err = m.ContainsKey("a")
			require.NoError(t, err)
			assert.False(t, ok)

			_, ok, err = m.Remove("never")
			require.NoError(t, err)
			assert.False(t, ok)

			got, ok, err := m.Get("b")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "2", got)
			assert.Equal(t, int64(1), m.Size())
		})
	}
}

func collidingKeys(t *testing.T, loadFactor int) (string, string) {
	t.Helper()
	seen := map[int64]string{}
	for i := 0; ; i++ {
		k := "c" + strconv.Itoa(i)
		b := Bucket(codec.MustEncode[string](codec.String{}, k), loadFactor)
		if other, ok := seen[b]; ok {
			return other, k
		}
		seen[b] = k
	}
}

func TestBucketCollisions(t *testing.T) {
	for _, v := range variants[1:] {
		t.Run(v.name, func(t *testing.T) {
			m := newStringMap(t, v.cfg)
			a, b := collidingKeys(t, v.cfg.LoadFactor)
			require.NotEqual(t, a, b)

			_, _, err := m.Put(a, "A")
			require.NoError(t, err)
			_, _, err = m.Put(b, "B")
			require.NoError(t, err)

			got, _, err := m.Get(a)
			require.NoError(t, err)
			assert.Equal(t, "A", got)
			got, _, err = m.Get(b)
			require.NoError(t, err)
			assert.Equal(t, "B", got)

			_, ok, err := m.Remove(a)
			require.NoError(t, err)
			require.True(t, ok)

			got, ok, err = m.Get(b)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "B", got)
		})
	}
}

func TestBucketIsStable(t *testing.T) {
	key := []byte("stable")
	assert.Equal(t, Bucket(key, 3), Bucket(key, 3))
	assert.Equal(t, Bucket(key, 3), Bucket(key, 5)%1000, "buckets use low-order digits")
	for lf := 1; lf <= MaxLoadFactor; lf++ {
		b := Bucket(key, lf)
		assert.GreaterOrEqual(t, b, int64(0))
		assert.Less(t, b, pow10(lf))
	}
}

func newIntMap(t *testing.T, cfg Config) DiskMap[int64, int64] {
	t.Helper()
	m, err := New[int64, int64](newStore(t), codec.Int64{}, codec.Int64{}, cfg)
	require.NoError(t, err)
	return m
}

func values(t *testing.T, m DiskMap[int64, int64], recs []store.Position) []int64 {
	t.Helper()
	out := make([]int64, 0, len(recs))
	for _, r := range recs {
		v, err := m.ReadValue(r)
		require.NoError(t, err)
		out = append(out, v)
	}
	return out
}

func TestRangeQueries(t *testing.T) {
	keys := []int64{-20, -3, 0, 4, 8, 15, 16, 23, 42}

	for _, v := range variants {
		t.Run(v.name, func(t *testing.T) {
			m := newIntMap(t, v.cfg)
			for _, k := range keys {
				_, _, err := m.Put(k, k*2)
				require.NoError(t, err)
			}

			above, err := m.Above(8, true)
			require.NoError(t, err)
			below, err := m.Below(8, false)
			require.NoError(t, err)
			between, err := m.Between(0, false, 23, true)
			require.NoError(t, err)

			if v.kind == KindSkipList {
				assert.Equal(t, []int64{16, 30, 32, 46, 84}, values(t, m, above))
				assert.Equal(t, []int64{-40, -6, 0, 8}, values(t, m, below))
				assert.Equal(t, []int64{8, 16, 30, 32, 46}, values(t, m, between))
				return
			}
			// Hash variants return the union of per-bucket scans in bucket order.
			assert.ElementsMatch(t, []int64{16, 30, 32, 46, 84}, values(t, m, above))
			assert.ElementsMatch(t, []int64{-40, -6, 0, 8}, values(t, m, below))
			assert.ElementsMatch(t, []int64{8, 16, 30, 32, 46}, values(t, m, between))
		})
	}
}

func TestRangeKeysContainsValue(t *testing.T) {
	for _, v := range variants {
		t.Run(v.name, func(t *testing.T) {
			m := newStringMap(t, v.cfg)
			want := map[string]string{"x": "1", "y": "2", "z": "3"}
			require.NoError(t, m.PutAll(maps.All(want)))

			got := map[string]string{}
			require.NoError(t, m.Range(func(k, val string) bool {
				got[k] = val
				return true
			}))
			assert.Equal(t, want, got)

			n := 0
			require.NoError(t, m.Range(func(string, string) bool {
				n++
				return false
			}))
			assert.Equal(t, 1, n)

			keys, err := m.Keys()
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"x", "y", "z"}, keys)
			if v.kind == KindSkipList {
				assert.True(t, slices.IsSorted(keys))
			}

			ok, err := m.ContainsValue("2")
			require.NoError(t, err)
			assert.True(t, ok)
			ok, err = m.ContainsValue("9")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestClear(t *testing.T) {
	for _, v := range variants {
		t.Run(v.name, func(t *testing.T) {
			m := newStringMap(t, v.cfg)
			_, _, err := m.Put("a", "1")
			require.NoError(t, err)
			header := m.Header()

			require.NoError(t, m.Clear())
			assert.Zero(t, m.Size())
			assert.Equal(t, header, m.Header(), "the header stays put")

			_, ok, err := m.Get("a")
			require.NoError(t, err)
			assert.False(t, ok)

			_, _, err = m.Put("b", "2")
			require.NoError(t, err)
			got, ok, err := m.Get("b")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "2", got)
		})
	}
}

func TestHeaderTracksCount(t *testing.T) {
	for _, v := range variants {
		t.Run(v.name, func(t *testing.T) {
			s := newStore(t)
			m, err := New[string, string](s, codec.String{}, codec.String{}, v.cfg)
			require.NoError(t, err)

			for i := 0; i < 50; i++ {
				_, _, err := m.Put(strconv.Itoa(i), "v")
				require.NoError(t, err)
			}
			_, _, err = m.Remove("7")
			require.NoError(t, err)

			h, err := store.ReadHeader(s, m.Header())
			require.NoError(t, err)
			assert.Equal(t, int64(49), h.RecordCount)
			assert.Equal(t, m.Header(), h.Position)
		})
	}
}

func TestReopenAfterRestart(t *testing.T) {
	for _, v := range variants {
		t.Run(v.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "map.db")

			s, err := store.OpenFile(path)
			require.NoError(t, err)
			m, err := New[int64, string](s, codec.Int64{}, codec.String{}, v.cfg,
				WithSkipListOptions())
			require.NoError(t, err)

			// Many keys per bucket force head relocations.
			for i := int64(0); i < 600; i++ {
				_, _, err := m.Put(i, "v"+strconv.FormatInt(i, 10))
				require.NoError(t, err)
			}
			for i := int64(0); i < 600; i += 3 {
				_, _, err := m.Remove(i)
				require.NoError(t, err)
			}
			headerPos := m.Header()
			require.NoError(t, s.Commit())
			require.NoError(t, s.Close())

			s, err = store.OpenFile(path)
			require.NoError(t, err)
			defer s.Close()

			reopened, err := Open[int64, string](s, codec.Int64{}, codec.String{}, headerPos)
			require.NoError(t, err)
			assert.Equal(t, v.kind, reopened.Kind())
			assert.Equal(t, int64(400), reopened.Size())

			for i := int64(0); i < 600; i++ {
				got, ok, err := reopened.Get(i)
				require.NoError(t, err)
				if i%3 == 0 {
					assert.False(t, ok, "key %d", i)
					continue
				}
				require.True(t, ok, "key %d", i)
				assert.Equal(t, "v"+strconv.FormatInt(i, 10), got)
			}
		})
	}
}

func TestOpenUnknownLayout(t *testing.T) {
	s := newStore(t)
	blob, err := store.Append(s, []byte("not a map"), store.EncodeBlob)
	require.NoError(t, err)
	h, err := store.NewHeader(s, blob)
	require.NoError(t, err)

	_, err = Open[string, string](s, codec.String{}, codec.String{}, h.Position)
	assert.ErrorIs(t, err, ErrUnknownLayout)
}

func TestConfig(t *testing.T) {
	tests := []struct {
		cfg  Config
		lf   int
		kind Kind
	}{
		{Config{}, 0, KindSkipList},
		{Config{ExpectedKeys: 1000}, 0, KindSkipList},
		{Config{ExpectedKeys: 50_000}, 3, KindHash},
		{Config{ExpectedKeys: 10_000_000}, 6, KindMatrix},
		{Config{LoadFactor: 1}, 1, KindHash},
		{Config{LoadFactor: 3, ExpectedKeys: 1 << 40}, 3, KindHash},
		{Config{LoadFactor: 4}, 4, KindMatrix},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%+v", tt.cfg), func(t *testing.T) {
			assert.Equal(t, tt.lf, tt.cfg.EffectiveLoadFactor())
			assert.Equal(t, tt.kind, tt.cfg.Kind())
		})
	}
}

func TestInvalidLoadFactor(t *testing.T) {
	s := newStore(t)
	_, err := NewHashMap[string, string](s, codec.String{}, codec.String{}, MaxHashLoadFactor+1)
	assert.ErrorIs(t, err, ErrInvalidLoadFactor)
	_, err = NewMatrixHashMap[string, string](s, codec.String{}, codec.String{}, 0)
	assert.ErrorIs(t, err, ErrInvalidLoadFactor)
	_, err = NewMatrixHashMap[string, string](s, codec.String{}, codec.String{}, MaxLoadFactor+1)
	assert.ErrorIs(t, err, ErrInvalidLoadFactor)
}

func TestMatrixHeadCache(t *testing.T) {
	s := newStore(t)
	m, err := NewMatrixHashMap[int64, int64](s, codec.Int64{}, codec.Int64{}, 1, WithCacheSize(4))
	require.NoError(t, err)

	// 10 buckets and 1000 keys: every bucket head relocates repeatedly.
	for i := int64(0); i < 1000; i++ {
		_, _, err := m.Put(i, -i)
		require.NoError(t, err)
	}
	for i := int64(0); i < 1000; i++ {
		got, ok, err := m.Get(i)
		require.NoError(t, err)
		require.True(t, ok, "key %d", i)
		assert.Equal(t, -i, got)
	}

	hits, misses := m.CacheStats()
	assert.Positive(t, hits)
	assert.Positive(t, misses)

	require.NoError(t, m.Clear())
	_, ok, err := m.Get(1)
	require.NoError(t, err)
	assert.False(t, ok, "cleared maps do not resolve through stale cached heads")
}

// clearRace runs a lookup between allocating the new root and publishing it,
// the window a reader on the optimistic path can hit during Clear.
type clearRace struct {
	*MatrixHashMap[string, string]
	between func()
}

func (r clearRace) reset() (store.Position, error) {
	root, err := r.MatrixHashMap.reset()
	r.between()
	return root, err
}

func TestMatrixClearDropsHeadCachedMidClear(t *testing.T) {
	s := newStore(t)
	m, err := NewMatrixHashMap[string, string](s, codec.String{}, codec.String{}, 3)
	require.NoError(t, err)
	_, _, err = m.Put("k", "old")
	require.NoError(t, err)

	key := codec.MustEncode[string](codec.String{}, "k")
	m.router = clearRace{MatrixHashMap: m, between: func() {
		_, ok, err := m.lookup(key, false)
		require.NoError(t, err)
		require.True(t, ok, "the old root still serves lookups before the swap")
	}}
	require.NoError(t, m.Clear())

	assert.Zero(t, m.Size())
	_, ok, err := m.Get("k")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = m.Put("k", "new")
	require.NoError(t, err)

	reopened, err := OpenMatrixHashMap[string, string](s, codec.String{}, codec.String{}, m.Header())
	require.NoError(t, err)
	got, ok, err := reopened.Get("k")
	require.NoError(t, err)
	require.True(t, ok, "writes after Clear land in the live trie")
	assert.Equal(t, "new", got)
	assert.EqualValues(t, 1, reopened.Size())
}

func TestConcurrentReadersAndWriter(t *testing.T) {
	for _, v := range variants {
		t.Run(v.name, func(t *testing.T) {
			m := newIntMap(t, v.cfg)

			const n = 300
			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := int64(0); i < n; i++ {
					_, _, err := m.Put(i, i*7)
					assert.NoError(t, err)
				}
			}()

			for r := 0; r < 4; r++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := int64(0); i < n; i++ {
						got, ok, err := m.Get(i)
						assert.NoError(t, err)
						if ok {
							assert.Equal(t, i*7, got)
						}
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, int64(n), m.Size())
		})
	}
}
