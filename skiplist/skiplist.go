package skiplist

import (
	"encoding/binary"
	"fmt"
	"iter"
	"math/bits"
	"sync/atomic"

	"github.com/hupe1980/diskindex/codec"
	"github.com/hupe1980/diskindex/internal/hash"
	"github.com/hupe1980/diskindex/store"
)

const (
	// DefaultMaxLevel caps tower height. With p = 1/2 it suits lists of up to ~16M keys.
	DefaultMaxLevel = 24
	// MaxLevel is the largest level encodable in a node.
	MaxLevel = 63
)

// Entry is one key and its record position.
type Entry[K any] struct {
	Key    K
	Record store.Position
}

// Result reports the outcome of a mutation.
type Result struct {
	// Head is the list head after the operation.
	Head store.Position
	// Previous is the record position that was replaced or removed.
	Previous store.Position
	// Found reports whether the key existed before the operation.
	Found bool
}

// Relocated reports whether the operation moved the head away from head.
func (r Result) Relocated(head store.Position) bool {
	return r.Head != head
}

// Option configures a List.
type Option func(*options)

type options struct {
	maxLevel int
	seed     uint64
}

// WithMaxLevel caps the tower height.
func WithMaxLevel(level int) Option {
	return func(o *options) {
		o.maxLevel = min(max(level, 0), MaxLevel)
	}
}

// WithSeed seeds the level generator, making tower heights reproducible.
func WithSeed(seed uint64) Option {
	return func(o *options) {
		o.seed = seed
	}
}

// List operates on skip lists of K stored in one store.
type List[K any] struct {
	store    store.Store
	keys     codec.Ordered[K]
	maxLevel int
	rngSeed  atomic.Uint64
}

// New returns a List for keys encoded with keys.
func New[K any](s store.Store, keys codec.Ordered[K], optFns ...Option) *List[K] {
	opts := options{maxLevel: DefaultMaxLevel, seed: 1}
	for _, fn := range optFns {
		fn(&opts)
	}

	l := &List[K]{store: s, keys: keys, maxLevel: opts.maxLevel}
	l.rngSeed.Store(opts.seed)
	return l
}

// Store returns the backing store.
func (l *List[K]) Store() store.Store { return l.store }

// Keys returns the key codec.
func (l *List[K]) Keys() codec.Ordered[K] { return l.keys }

// NewHead allocates an empty list and returns its head.
func (l *List[K]) NewHead() (store.Position, error) {
	return store.Append(l.store, node{head: true}, encodeNode)
}

type ref struct {
	pos store.Position
	n   node
}

func (l *List[K]) load(pos store.Position) (ref, error) {
	n, err := store.Read(l.store, pos, decodeNode)
	if err != nil {
		return ref{}, err
	}
	return ref{pos: pos, n: n}, nil
}

func (l *List[K]) loadHead(pos store.Position) (ref, error) {
	r, err := l.load(pos)
	if err != nil {
		return ref{}, err
	}
	if !r.n.head {
		return ref{}, &store.StorageError{Op: "read head", Position: pos, Err: fmt.Errorf("%w: not a head node", store.ErrCorrupt)}
	}
	return r, nil
}

func (l *List[K]) compare(r ref, k K) (int, error) {
	if r.n.head {
		return 0, &store.StorageError{Op: "read node", Position: r.pos, Err: fmt.Errorf("%w: head linked as successor", store.ErrCorrupt)}
	}
	v, err := l.keys.Decode(r.n.key)
	if err != nil {
		return 0, &store.StorageError{Op: "decode key", Position: r.pos, Err: err}
	}
	return l.keys.Compare(v, k), nil
}

func (l *List[K]) setNext(r ref, next store.Position) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(next)) //nolint:gosec // bit reinterpretation
	return l.store.WriteAt(buf[:], r.pos+r.n.nextOffset())
}

func (l *List[K]) setRecord(r ref, rec store.Position) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(rec)) //nolint:gosec // bit reinterpretation
	return l.store.WriteAt(buf[:], r.pos+r.n.recordOffset())
}

// seek returns, per level, the last node whose key is strictly less than k.
// preds[0] is on level 0; preds[len-1] is on the top level.
func (l *List[K]) seek(head store.Position, k K) ([]ref, error) {
	cur, err := l.loadHead(head)
	if err != nil {
		return nil, err
	}

	preds := make([]ref, int(cur.n.level)+1)
	for level := int(cur.n.level); ; level-- {
		for cur.n.next.Valid() {
			nxt, err := l.load(cur.n.next)
			if err != nil {
				return nil, err
			}
			c, err := l.compare(nxt, k)
			if err != nil {
				return nil, err
			}
			if c >= 0 {
				break
			}
			cur = nxt
		}
		preds[level] = cur
		if level == 0 {
			return preds, nil
		}
		if cur, err = l.load(cur.n.down); err != nil {
			return nil, err
		}
	}
}

// successor returns the level-0 node after pred if its key equals k.
func (l *List[K]) successor(pred ref, k K) (ref, bool, error) {
	if !pred.n.next.Valid() {
		return ref{}, false, nil
	}
	nxt, err := l.load(pred.n.next)
	if err != nil {
		return ref{}, false, err
	}
	c, err := l.compare(nxt, k)
	if err != nil {
		return ref{}, false, err
	}
	return nxt, c == 0, nil
}

// Get returns the record position stored under k.
func (l *List[K]) Get(head store.Position, k K) (store.Position, bool, error) {
	preds, err := l.seek(head, k)
	if err != nil {
		return store.Null, false, err
	}
	nxt, ok, err := l.successor(preds[0], k)
	if err != nil || !ok {
		return store.Null, false, err
	}
	return nxt.n.record, true, nil
}

// Put stores rec under k, replacing an existing record position.
func (l *List[K]) Put(head store.Position, k K, rec store.Position) (Result, error) {
	preds, err := l.seek(head, k)
	if err != nil {
		return Result{Head: head}, err
	}

	existing, ok, err := l.successor(preds[0], k)
	if err != nil {
		return Result{Head: head}, err
	}
	if ok {
		if err := l.setRecord(existing, rec); err != nil {
			return Result{Head: head}, err
		}
		return Result{Head: head, Previous: existing.n.record, Found: true}, nil
	}

	key, err := codec.Encode(l.keys, k)
	if err != nil {
		return Result{Head: head}, err
	}
	if len(key) > maxKeyLen {
		return Result{Head: head}, fmt.Errorf("skiplist: key of %d bytes exceeds limit", len(key))
	}

	// New top levels are built off-list and only become reachable once the
	// caller publishes the returned head.
	newHead := head
	lvl := l.randomLevel()
	for level := len(preds); level <= lvl; level++ {
		h := node{head: true, down: newHead, level: uint8(level)} //nolint:gosec // level <= MaxLevel
		pos, err := store.Append(l.store, h, encodeNode)
		if err != nil {
			return Result{Head: head}, err
		}
		preds = append(preds, ref{pos: pos, n: h})
		newHead = pos
	}

	var down store.Position
	for level := 0; level <= lvl; level++ {
		n := node{key: key, next: preds[level].n.next, down: down, level: uint8(level)} //nolint:gosec // level <= MaxLevel
		if level == 0 {
			n.record = rec
		}
		pos, err := store.Append(l.store, n, encodeNode)
		if err != nil {
			return Result{Head: head}, err
		}
		if err := l.setNext(preds[level], pos); err != nil {
			return Result{Head: head}, err
		}
		down = pos
	}

	return Result{Head: newHead}, nil
}

// Remove unlinks k. Empty top levels are dropped, which moves the head.
func (l *List[K]) Remove(head store.Position, k K) (Result, error) {
	preds, err := l.seek(head, k)
	if err != nil {
		return Result{Head: head}, err
	}

	target, ok, err := l.successor(preds[0], k)
	if err != nil || !ok {
		return Result{Head: head}, err
	}

	// Unlink top-down so the node stays reachable on level 0 until last.
	for level := len(preds) - 1; level >= 0; level-- {
		nxt, ok, err := l.successor(preds[level], k)
		if err != nil {
			return Result{Head: head}, err
		}
		if !ok {
			continue
		}
		if err := l.setNext(preds[level], nxt.n.next); err != nil {
			return Result{Head: head}, err
		}
	}

	top, err := l.loadHead(head)
	if err != nil {
		return Result{Head: head}, err
	}
	for top.n.level > 0 && !top.n.next.Valid() {
		if top, err = l.loadHead(top.n.down); err != nil {
			return Result{Head: head}, err
		}
	}

	return Result{Head: top.pos, Previous: target.n.record, Found: true}, nil
}

// Clear abandons the list rooted at head and returns a fresh empty head.
// Abandoned nodes are not reclaimed.
func (l *List[K]) Clear(store.Position) (Result, error) {
	pos, err := l.NewHead()
	if err != nil {
		return Result{}, err
	}
	return Result{Head: pos}, nil
}

func (l *List[K]) bottom(head store.Position) (ref, error) {
	cur, err := l.loadHead(head)
	if err != nil {
		return ref{}, err
	}
	for cur.n.level > 0 {
		if cur, err = l.loadHead(cur.n.down); err != nil {
			return ref{}, err
		}
	}
	return cur, nil
}

// walk visits level-0 nodes starting at pos until fn returns false.
func (l *List[K]) walk(pos store.Position, fn func(r ref) (bool, error)) error {
	for pos.Valid() {
		r, err := l.load(pos)
		if err != nil {
			return err
		}
		more, err := fn(r)
		if err != nil || !more {
			return err
		}
		pos = r.n.next
	}
	return nil
}

// Above returns the record positions of keys greater than k, or equal to k
// when inclusive is set, in ascending key order.
func (l *List[K]) Above(head store.Position, k K, inclusive bool) ([]store.Position, error) {
	preds, err := l.seek(head, k)
	if err != nil {
		return nil, err
	}

	var out []store.Position
	err = l.walk(preds[0].n.next, func(r ref) (bool, error) {
		c, err := l.compare(r, k)
		if err != nil {
			return false, err
		}
		if c > 0 || inclusive {
			out = append(out, r.n.record)
		}
		return true, nil
	})
	return out, err
}

// Below returns the record positions of keys less than k, or equal to k
// when inclusive is set, in ascending key order.
func (l *List[K]) Below(head store.Position, k K, inclusive bool) ([]store.Position, error) {
	h, err := l.bottom(head)
	if err != nil {
		return nil, err
	}

	var out []store.Position
	err = l.walk(h.n.next, func(r ref) (bool, error) {
		c, err := l.compare(r, k)
		if err != nil {
			return false, err
		}
		if c > 0 || (c == 0 && !inclusive) {
			return false, nil
		}
		out = append(out, r.n.record)
		return true, nil
	})
	return out, err
}

// Between returns the record positions of keys between from and to in
// ascending key order. Each bound is included only if its flag is set.
func (l *List[K]) Between(head store.Position, from K, includeFrom bool, to K, includeTo bool) ([]store.Position, error) {
	if l.keys.Compare(from, to) > 0 {
		return nil, nil
	}

	preds, err := l.seek(head, from)
	if err != nil {
		return nil, err
	}

	var out []store.Position
	err = l.walk(preds[0].n.next, func(r ref) (bool, error) {
		c, err := l.compare(r, to)
		if err != nil {
			return false, err
		}
		if c > 0 || (c == 0 && !includeTo) {
			return false, nil
		}
		if !includeFrom {
			if c, err = l.compare(r, from); err != nil {
				return false, err
			}
			if c == 0 {
				return true, nil
			}
		}
		out = append(out, r.n.record)
		return true, nil
	})
	return out, err
}

// Scan iterates all entries in ascending key order. A read failure is
// yielded once with a zero entry and ends the iteration.
func (l *List[K]) Scan(head store.Position) iter.Seq2[Entry[K], error] {
	return func(yield func(Entry[K], error) bool) {
		h, err := l.bottom(head)
		if err != nil {
			yield(Entry[K]{}, err)
			return
		}

		err = l.walk(h.n.next, func(r ref) (bool, error) {
			k, err := l.keys.Decode(r.n.key)
			if err != nil {
				return false, &store.StorageError{Op: "decode key", Position: r.pos, Err: err}
			}
			return yield(Entry[K]{Key: k, Record: r.n.record}, nil), nil
		})
		if err != nil {
			yield(Entry[K]{}, err)
		}
	}
}

// Count walks level 0 and returns the number of entries.
func (l *List[K]) Count(head store.Position) (int64, error) {
	h, err := l.bottom(head)
	if err != nil {
		return 0, err
	}
	var n int64
	err = l.walk(h.n.next, func(ref) (bool, error) {
		n++
		return true, nil
	})
	return n, err
}

// Height returns the number of levels of the list rooted at head.
func (l *List[K]) Height(head store.Position) (int, error) {
	h, err := l.loadHead(head)
	if err != nil {
		return 0, err
	}
	return int(h.n.level) + 1, nil
}

// randomLevel draws a tower height with P(level >= i) = 2^-i.
func (l *List[K]) randomLevel() int {
	// Lock-free xorshift64* over a golden-ratio counter.
	x := l.rngSeed.Add(hash.Golden)
	x ^= x >> 12
	x ^= x << 25
	x ^= x >> 27
	x *= 0x2545F4914F6CDD1D
	return min(bits.TrailingZeros64(x), l.maxLevel)
}
