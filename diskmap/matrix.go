package diskmap

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/hupe1980/diskindex/codec"
	"github.com/hupe1980/diskindex/internal/cache"
	"github.com/hupe1980/diskindex/store"
)

// trieTag marks a MatrixHashMap trie node (ASCII: "HMTX").
const trieTag uint32 = 0x58544D48

const (
	fanOut = 10

	// trieNodeHeader is the size of the trie node prefix.
	//
	// Layout (little-endian):
	//
	//	Offset  Size  Field
	//	0       4     Tag "HMTX"
	//	4       1     LoadFactor
	//	5       1     Depth
	//	6       2     Reserved
	//	8       8*10  Slots: child trie node, or skip-list head at the last depth
	trieNodeHeader = 8
	trieNodeSize   = trieNodeHeader + fanOut*8
)

// MatrixHashMap is a DiskMap addressed like a HashMap but without
// pre-allocating 10^loadFactor buckets: each hash digit selects a slot in a
// trie node, nodes are allocated on first insert, and slots at the last depth
// hold skip-list heads.
//
// Resolved heads are cached in a bounded LRU keyed by bucket. An entry is
// dropped whenever its head relocates and the cache is purged once Clear
// has published the new root.
type MatrixHashMap[K, V any] struct {
	*core[K, V]
	loadFactor int

	cacheMu  sync.Mutex
	cacheGen uint64
	cache    *cache.LRU[int64, slot]
}

// NewMatrixHashMap creates an empty MatrixHashMap.
func NewMatrixHashMap[K, V any](s store.Store, keys codec.Ordered[K], values codec.Codec[V], loadFactor int, optFns ...Option) (*MatrixHashMap[K, V], error) {
	if loadFactor < 1 || loadFactor > MaxLoadFactor {
		return nil, fmt.Errorf("%w: %d (matrix map supports 1..%d)", ErrInvalidLoadFactor, loadFactor, MaxLoadFactor)
	}

	m := newMatrixHashMap(s, keys, values, loadFactor, optFns)
	root, err := m.reset()
	if err != nil {
		return nil, err
	}
	if err := m.create(root); err != nil {
		return nil, err
	}
	return m, nil
}

// OpenMatrixHashMap reopens the MatrixHashMap rooted at headerPos.
func OpenMatrixHashMap[K, V any](s store.Store, keys codec.Ordered[K], values codec.Codec[V], headerPos store.Position, optFns ...Option) (*MatrixHashMap[K, V], error) {
	h, err := store.ReadHeader(s, headerPos)
	if err != nil {
		return nil, err
	}

	prefix := make([]byte, trieNodeHeader)
	if err := s.ReadAt(prefix, h.FirstNode); err != nil {
		return nil, err
	}
	if binary.LittleEndian.Uint32(prefix) != trieTag || prefix[5] != 0 {
		return nil, fmt.Errorf("%w: no trie root at %s", ErrUnknownLayout, h.FirstNode)
	}
	lf := int(prefix[4])
	if lf < 1 || lf > MaxLoadFactor {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLoadFactor, lf)
	}

	m := newMatrixHashMap(s, keys, values, lf, optFns)
	if _, err := m.load(headerPos); err != nil {
		return nil, err
	}
	return m, nil
}

func newMatrixHashMap[K, V any](s store.Store, keys codec.Ordered[K], values codec.Codec[V], loadFactor int, optFns []Option) *MatrixHashMap[K, V] {
	opts := buildOptions(optFns)
	m := &MatrixHashMap[K, V]{
		core:       newCore(s, keys, values, KindMatrix, opts),
		loadFactor: loadFactor,
		cache:      cache.NewLRU[int64, slot](opts.cacheSize),
	}
	m.router = m
	return m
}

// LoadFactor returns the trie depth.
func (m *MatrixHashMap[K, V]) LoadFactor() int { return m.loadFactor }

// CacheStats returns head cache hits and misses.
func (m *MatrixHashMap[K, V]) CacheStats() (hits, misses int64) {
	return m.cache.Stats()
}

func (m *MatrixHashMap[K, V]) newNode(depth int) (store.Position, error) {
	buf := make([]byte, trieNodeSize)
	binary.LittleEndian.PutUint32(buf[0:], trieTag)
	buf[4] = byte(m.loadFactor)
	buf[5] = byte(depth)
	return store.Append(m.store, buf, func(dst, b []byte) []byte { return append(dst, b...) })
}

func slotPosition(node store.Position, digit int) store.Position {
	return node + trieNodeHeader + store.Position(digit*8)
}

func (m *MatrixHashMap[K, V]) lookup(key []byte, create bool) (slot, bool, error) {
	bucket := Bucket(key, m.loadFactor)

	m.cacheMu.Lock()
	gen := m.cacheGen
	m.cacheMu.Unlock()

	if s, ok := m.cache.Get(bucket); ok {
		return s, true, nil
	}

	s, ok, err := m.seek(bucket, create)
	if err != nil || !ok {
		return slot{}, ok, err
	}

	// A relocation since gen may have made s stale.
	m.cacheMu.Lock()
	if m.cacheGen == gen {
		m.cache.Set(bucket, s)
	}
	m.cacheMu.Unlock()
	return s, true, nil
}

// seek walks one trie level per hash digit, least significant first.
func (m *MatrixHashMap[K, V]) seek(bucket int64, create bool) (slot, bool, error) {
	node := m.root()
	rest := bucket
	for depth := 0; depth < m.loadFactor; depth++ {
		digit := int(rest % fanOut)
		rest /= fanOut
		at := slotPosition(node, digit)

		child, err := store.Read(m.store, at, (*store.Reader).ReadPosition)
		if err != nil {
			return slot{}, false, err
		}
		last := depth == m.loadFactor-1

		if !child.Valid() {
			if !create {
				return slot{}, false, nil
			}
			if last {
				child, err = m.list.NewHead()
			} else {
				child, err = m.newNode(depth + 1)
			}
			if err != nil {
				return slot{}, false, err
			}
			if err := store.Write(m.store, at, child, store.AppendPosition); err != nil {
				return slot{}, false, err
			}
		}

		if last {
			return slot{head: child, bucket: bucket, parent: node, index: digit}, true, nil
		}
		node = child
	}
	// Unreachable for loadFactor >= 1.
	return slot{}, false, nil
}

func (m *MatrixHashMap[K, V]) invalidate(mutate func()) {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()
	m.cacheGen++
	mutate()
}

func (m *MatrixHashMap[K, V]) relocate(s slot, head store.Position) error {
	if err := store.Write(m.store, slotPosition(s.parent, s.index), head, store.AppendPosition); err != nil {
		return err
	}
	m.invalidate(func() { m.cache.Invalidate(s.bucket) })
	return nil
}

func (m *MatrixHashMap[K, V]) heads(fn func(head store.Position) error) error {
	return m.visit(m.root(), 0, fn)
}

func (m *MatrixHashMap[K, V]) visit(node store.Position, depth int, fn func(head store.Position) error) error {
	raw := make([]byte, fanOut*8)
	if err := m.store.ReadAt(raw, node+trieNodeHeader); err != nil {
		return err
	}
	for i := 0; i < fanOut; i++ {
		child := store.Position(binary.LittleEndian.Uint64(raw[i*8:])) //nolint:gosec // bit reinterpretation
		if !child.Valid() {
			continue
		}
		var err error
		if depth == m.loadFactor-1 {
			err = fn(child)
		} else {
			err = m.visit(child, depth+1, fn)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (m *MatrixHashMap[K, V]) reset() (store.Position, error) {
	return m.newNode(0)
}

// purge drops every cached head. Lookups that walked the old root before the
// generation bump fail the generation check and are not cached.
func (m *MatrixHashMap[K, V]) purge() {
	m.invalidate(m.cache.Purge)
}
