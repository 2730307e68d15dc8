package diskmap

import (
	"github.com/hupe1980/diskindex/codec"
	"github.com/hupe1980/diskindex/store"
)

// SkipListMap is a DiskMap backed by a single skip list. Its header's
// FirstNode is the skip-list head, and range queries are globally ordered.
type SkipListMap[K, V any] struct {
	*core[K, V]
}

// NewSkipListMap creates an empty SkipListMap.
func NewSkipListMap[K, V any](s store.Store, keys codec.Ordered[K], values codec.Codec[V], optFns ...Option) (*SkipListMap[K, V], error) {
	m := &SkipListMap[K, V]{core: newCore(s, keys, values, KindSkipList, buildOptions(optFns))}
	m.router = m

	head, err := m.list.NewHead()
	if err != nil {
		return nil, err
	}
	if err := m.create(head); err != nil {
		return nil, err
	}
	return m, nil
}

// OpenSkipListMap reopens the SkipListMap rooted at headerPos.
func OpenSkipListMap[K, V any](s store.Store, keys codec.Ordered[K], values codec.Codec[V], headerPos store.Position, optFns ...Option) (*SkipListMap[K, V], error) {
	m := &SkipListMap[K, V]{core: newCore(s, keys, values, KindSkipList, buildOptions(optFns))}
	m.router = m

	if _, err := m.load(headerPos); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *SkipListMap[K, V]) lookup([]byte, bool) (slot, bool, error) {
	return slot{head: m.root()}, true, nil
}

func (m *SkipListMap[K, V]) relocate(_ slot, head store.Position) error {
	m.first.Store(int64(head))
	return m.syncHeader()
}

func (m *SkipListMap[K, V]) heads(fn func(head store.Position) error) error {
	return fn(m.root())
}

func (m *SkipListMap[K, V]) reset() (store.Position, error) {
	return m.list.NewHead()
}
