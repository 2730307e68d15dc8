package diskmap

import (
	"bytes"
	"errors"
	"iter"
	"sync/atomic"

	"github.com/hupe1980/diskindex/codec"
	"github.com/hupe1980/diskindex/internal/optlock"
	"github.com/hupe1980/diskindex/skiplist"
	"github.com/hupe1980/diskindex/store"
)

// slot is a resolved skip-list head together with where it is rooted.
type slot struct {
	head   store.Position
	bucket int64
	// parent is the bucket table or trie node holding head at index.
	parent store.Position
	index  int
}

// router maps encoded keys to skip-list heads.
type router interface {
	// lookup resolves the head serving key. With create unset a missing
	// bucket reports false and nothing is allocated.
	lookup(key []byte, create bool) (slot, bool, error)
	// relocate persists a moved head. Called with the write lock held.
	relocate(s slot, head store.Position) error
	// heads visits every materialized head.
	heads(fn func(head store.Position) error) error
	// reset allocates an empty root and returns it. The caller publishes it.
	reset() (store.Position, error)
}

// purger is implemented by routers that cache heads. purge runs after a new
// root is published so nothing resolved against the old root survives.
type purger interface {
	purge()
}

// core implements DiskMap on top of a router.
type core[K, V any] struct {
	store  store.Store
	keys   codec.Ordered[K]
	values codec.Codec[V]
	list   *skiplist.List[K]
	router router
	kind   Kind

	lock      optlock.Lock
	headerPos store.Position
	first     atomic.Int64
	count     atomic.Int64
}

func newCore[K, V any](s store.Store, keys codec.Ordered[K], values codec.Codec[V], kind Kind, opts options) *core[K, V] {
	return &core[K, V]{
		store:  s,
		keys:   keys,
		values: values,
		list:   skiplist.New(s, keys, opts.skiplist...),
		kind:   kind,
	}
}

// create persists a header for a new root.
func (c *core[K, V]) create(first store.Position) error {
	h, err := store.NewHeader(c.store, first)
	if err != nil {
		return err
	}
	c.headerPos = h.Position
	c.first.Store(int64(first))
	return nil
}

// load adopts the header at pos and returns it.
func (c *core[K, V]) load(pos store.Position) (store.Header, error) {
	h, err := store.ReadHeader(c.store, pos)
	if err != nil {
		return store.Header{}, err
	}
	c.headerPos = h.Position
	c.first.Store(int64(h.FirstNode))
	c.count.Store(h.RecordCount)
	return h, nil
}

func (c *core[K, V]) root() store.Position {
	return store.Position(c.first.Load())
}

// syncHeader persists the root and count. Called with the write lock held.
func (c *core[K, V]) syncHeader() error {
	return store.WriteHeader(c.store, store.Header{
		FirstNode:   c.root(),
		Position:    c.headerPos,
		RecordCount: c.count.Load(),
	})
}

func (c *core[K, V]) encodeKey(k K) ([]byte, error) {
	return codec.Encode(c.keys, k)
}

// ReadValue implements DiskMap.
func (c *core[K, V]) ReadValue(pos store.Position) (V, error) {
	b, err := store.Read(c.store, pos, store.DecodeBlob)
	if err != nil {
		var zero V
		return zero, err
	}
	v, err := c.values.Decode(b)
	if err != nil {
		var zero V
		return zero, &store.StorageError{Op: "decode value", Position: pos, Err: err}
	}
	return v, nil
}

// RecordPosition implements DiskMap.
func (c *core[K, V]) RecordPosition(k K) (store.Position, bool, error) {
	key, err := c.encodeKey(k)
	if err != nil {
		return store.Null, false, err
	}

	var (
		rec   store.Position
		found bool
	)
	err = c.lock.Read(func() error {
		rec, found = store.Null, false
		s, ok, err := c.router.lookup(key, false)
		if err != nil || !ok {
			return err
		}
		rec, found, err = c.list.Get(s.head, k)
		return err
	})
	return rec, found, err
}

// Get implements DiskMap.
func (c *core[K, V]) Get(k K) (V, bool, error) {
	var zero V
	rec, ok, err := c.RecordPosition(k)
	if err != nil || !ok {
		return zero, false, err
	}
	v, err := c.ReadValue(rec)
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

// ContainsKey implements DiskMap.
func (c *core[K, V]) ContainsKey(k K) (bool, error) {
	_, ok, err := c.RecordPosition(k)
	return ok, err
}

// Put implements DiskMap.
func (c *core[K, V]) Put(k K, v V) (V, bool, error) {
	var zero V
	key, err := c.encodeKey(k)
	if err != nil {
		return zero, false, err
	}
	val, err := codec.Encode(c.values, v)
	if err != nil {
		return zero, false, err
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	s, _, err := c.router.lookup(key, true)
	if err != nil {
		return zero, false, err
	}
	rec, err := store.Append(c.store, val, store.EncodeBlob)
	if err != nil {
		return zero, false, err
	}

	res, err := c.list.Put(s.head, k, rec)
	if err != nil {
		return zero, false, err
	}
	if res.Relocated(s.head) {
		if err := c.router.relocate(s, res.Head); err != nil {
			return zero, false, err
		}
	}
	if !res.Found {
		c.count.Add(1)
		if err := c.syncHeader(); err != nil {
			return zero, false, err
		}
		return zero, false, nil
	}

	prev, err := c.ReadValue(res.Previous)
	if err != nil {
		return zero, false, err
	}
	return prev, true, nil
}

// Remove implements DiskMap.
func (c *core[K, V]) Remove(k K) (V, bool, error) {
	var zero V
	key, err := c.encodeKey(k)
	if err != nil {
		return zero, false, err
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	s, ok, err := c.router.lookup(key, false)
	if err != nil || !ok {
		return zero, false, err
	}

	res, err := c.list.Remove(s.head, k)
	if err != nil {
		return zero, false, err
	}
	if res.Relocated(s.head) {
		if err := c.router.relocate(s, res.Head); err != nil {
			return zero, false, err
		}
	}
	if !res.Found {
		return zero, false, nil
	}

	c.count.Add(-1)
	if err := c.syncHeader(); err != nil {
		return zero, false, err
	}
	prev, err := c.ReadValue(res.Previous)
	if err != nil {
		return zero, false, err
	}
	return prev, true, nil
}

// collect unions a per-head scan over every head.
func (c *core[K, V]) collect(scan func(head store.Position) ([]store.Position, error)) ([]store.Position, error) {
	var out []store.Position
	err := c.lock.Read(func() error {
		out = out[:0]
		return c.router.heads(func(head store.Position) error {
			recs, err := scan(head)
			out = append(out, recs...)
			return err
		})
	})
	return out, err
}

// Above implements DiskMap.
func (c *core[K, V]) Above(k K, inclusive bool) ([]store.Position, error) {
	return c.collect(func(head store.Position) ([]store.Position, error) {
		return c.list.Above(head, k, inclusive)
	})
}

// Below implements DiskMap.
func (c *core[K, V]) Below(k K, inclusive bool) ([]store.Position, error) {
	return c.collect(func(head store.Position) ([]store.Position, error) {
		return c.list.Below(head, k, inclusive)
	})
}

// Between implements DiskMap.
func (c *core[K, V]) Between(from K, includeFrom bool, to K, includeTo bool) ([]store.Position, error) {
	return c.collect(func(head store.Position) ([]store.Position, error) {
		return c.list.Between(head, from, includeFrom, to, includeTo)
	})
}

// errStop ends a scan early without reporting an error.
type errStop struct{}

func (errStop) Error() string { return "stop" }

// scan visits every entry under the shared lock until fn returns false.
func (c *core[K, V]) scan(fn func(e skiplist.Entry[K]) (bool, error)) error {
	c.lock.RLock()
	defer c.lock.RUnlock()

	err := c.router.heads(func(head store.Position) error {
		for e, err := range c.list.Scan(head) {
			if err != nil {
				return err
			}
			more, err := fn(e)
			if err != nil {
				return err
			}
			if !more {
				return errStop{}
			}
		}
		return nil
	})
	if errors.As(err, &errStop{}) {
		return nil
	}
	return err
}

// Range implements DiskMap.
func (c *core[K, V]) Range(fn func(k K, v V) bool) error {
	return c.scan(func(e skiplist.Entry[K]) (bool, error) {
		v, err := c.ReadValue(e.Record)
		if err != nil {
			return false, err
		}
		return fn(e.Key, v), nil
	})
}

// Keys implements DiskMap.
func (c *core[K, V]) Keys() ([]K, error) {
	keys := make([]K, 0, c.Size())
	err := c.scan(func(e skiplist.Entry[K]) (bool, error) {
		keys = append(keys, e.Key)
		return true, nil
	})
	return keys, err
}

// ContainsValue implements DiskMap. It compares encoded values and scans every entry.
func (c *core[K, V]) ContainsValue(v V) (bool, error) {
	want, err := codec.Encode(c.values, v)
	if err != nil {
		return false, err
	}

	found := false
	err = c.scan(func(e skiplist.Entry[K]) (bool, error) {
		b, err := store.Read(c.store, e.Record, store.DecodeBlob)
		if err != nil {
			return false, err
		}
		found = bytes.Equal(b, want)
		return !found, nil
	})
	return found, err
}

// PutAll implements DiskMap.
func (c *core[K, V]) PutAll(seq iter.Seq2[K, V]) error {
	for k, v := range seq {
		if _, _, err := c.Put(k, v); err != nil {
			return err
		}
	}
	return nil
}

// Clear implements DiskMap.
func (c *core[K, V]) Clear() error {
	c.lock.Lock()
	defer c.lock.Unlock()

	first, err := c.router.reset()
	if err != nil {
		return err
	}
	c.first.Store(int64(first))
	if p, ok := c.router.(purger); ok {
		p.purge()
	}
	c.count.Store(0)
	return c.syncHeader()
}

// Size implements DiskMap.
func (c *core[K, V]) Size() int64 { return c.count.Load() }

// Header implements DiskMap.
func (c *core[K, V]) Header() store.Position { return c.headerPos }

// Kind implements DiskMap.
func (c *core[K, V]) Kind() Kind { return c.kind }

// LockStats returns how many reads completed optimistically and how many fell back to locking.
func (c *core[K, V]) LockStats() (optimistic, fallbacks int64) {
	return c.lock.Stats()
}
