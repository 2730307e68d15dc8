package diskmap

import (
	"encoding/binary"
	"fmt"

	"github.com/hupe1980/diskindex/codec"
	"github.com/hupe1980/diskindex/internal/conv"
	"github.com/hupe1980/diskindex/store"
)

// bucketTableTag marks a HashMap bucket table (ASCII: "HBKT").
const bucketTableTag uint32 = 0x544B4248

// bucketTableHeader is the size of the table prefix.
//
// Layout (little-endian):
//
//	Offset  Size  Field
//	0       4     Tag "HBKT"
//	4       4     LoadFactor
//	8       8*N   Bucket heads (0 = empty), N = 10^LoadFactor
const bucketTableHeader = 8

// HashMap is a DiskMap whose keys are spread over 10^loadFactor
// pre-allocated buckets, each an independent skip list. Buckets get a head
// on first insert; reads never allocate.
type HashMap[K, V any] struct {
	*core[K, V]
	loadFactor int
	buckets    int64
}

// NewHashMap creates an empty HashMap with 10^loadFactor buckets.
func NewHashMap[K, V any](s store.Store, keys codec.Ordered[K], values codec.Codec[V], loadFactor int, optFns ...Option) (*HashMap[K, V], error) {
	if loadFactor < 1 || loadFactor > MaxHashLoadFactor {
		return nil, fmt.Errorf("%w: %d (hash map supports 1..%d)", ErrInvalidLoadFactor, loadFactor, MaxHashLoadFactor)
	}

	m := newHashMap(s, keys, values, loadFactor, optFns)
	table, err := m.reset()
	if err != nil {
		return nil, err
	}
	if err := m.create(table); err != nil {
		return nil, err
	}
	return m, nil
}

// OpenHashMap reopens the HashMap rooted at headerPos.
func OpenHashMap[K, V any](s store.Store, keys codec.Ordered[K], values codec.Codec[V], headerPos store.Position, optFns ...Option) (*HashMap[K, V], error) {
	h, err := store.ReadHeader(s, headerPos)
	if err != nil {
		return nil, err
	}

	r := store.NewReader(s, h.FirstNode)
	tag, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	lf, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	if tag != bucketTableTag {
		return nil, fmt.Errorf("%w: no bucket table at %s", ErrUnknownLayout, h.FirstNode)
	}
	if lf < 1 || lf > MaxHashLoadFactor {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLoadFactor, lf)
	}

	m := newHashMap(s, keys, values, int(lf), optFns)
	if _, err := m.load(headerPos); err != nil {
		return nil, err
	}
	return m, nil
}

func newHashMap[K, V any](s store.Store, keys codec.Ordered[K], values codec.Codec[V], loadFactor int, optFns []Option) *HashMap[K, V] {
	m := &HashMap[K, V]{
		core:       newCore(s, keys, values, KindHash, buildOptions(optFns)),
		loadFactor: loadFactor,
		buckets:    pow10(loadFactor),
	}
	m.router = m
	return m
}

// LoadFactor returns the number of hash digits addressing buckets.
func (m *HashMap[K, V]) LoadFactor() int { return m.loadFactor }

func (m *HashMap[K, V]) slotPosition(table store.Position, bucket int64) store.Position {
	return table + bucketTableHeader + store.Position(bucket*8)
}

func (m *HashMap[K, V]) lookup(key []byte, create bool) (slot, bool, error) {
	table := m.root()
	bucket := Bucket(key, m.loadFactor)
	at := m.slotPosition(table, bucket)

	head, err := store.Read(m.store, at, (*store.Reader).ReadPosition)
	if err != nil {
		return slot{}, false, err
	}
	s := slot{head: head, bucket: bucket, parent: table, index: int(bucket)}
	if head.Valid() {
		return s, true, nil
	}
	if !create {
		return slot{}, false, nil
	}

	if s.head, err = m.list.NewHead(); err != nil {
		return slot{}, false, err
	}
	if err := store.Write(m.store, at, s.head, store.AppendPosition); err != nil {
		return slot{}, false, err
	}
	return s, true, nil
}

func (m *HashMap[K, V]) relocate(s slot, head store.Position) error {
	return store.Write(m.store, m.slotPosition(s.parent, s.bucket), head, store.AppendPosition)
}

func (m *HashMap[K, V]) heads(fn func(head store.Position) error) error {
	n, err := conv.Int64ToInt(m.buckets)
	if err != nil {
		return err
	}
	raw := make([]byte, n*8)
	if err := m.store.ReadAt(raw, m.root()+bucketTableHeader); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		head := store.Position(binary.LittleEndian.Uint64(raw[i*8:])) //nolint:gosec // bit reinterpretation
		if !head.Valid() {
			continue
		}
		if err := fn(head); err != nil {
			return err
		}
	}
	return nil
}

// reset allocates an empty bucket table.
func (m *HashMap[K, V]) reset() (store.Position, error) {
	buf := make([]byte, bucketTableHeader, bucketTableHeader+m.buckets*8)
	binary.LittleEndian.PutUint32(buf[0:], bucketTableTag)
	binary.LittleEndian.PutUint32(buf[4:], uint32(m.loadFactor)) //nolint:gosec // bounded by MaxHashLoadFactor
	buf = buf[:cap(buf)]
	return store.Append(m.store, buf, func(dst, b []byte) []byte { return append(dst, b...) })
}
