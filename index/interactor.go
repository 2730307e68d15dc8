package index

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/diskindex/codec"
	"github.com/hupe1980/diskindex/diskmap"
	"github.com/hupe1980/diskindex/store"
)

// rootSize is the persisted root: references header, indexValues header.
const rootSize = 16

// Interactor is an exact-match and range index from values of type K to
// record references.
type Interactor[K any] struct {
	store   store.Store
	keys    codec.Ordered[K]
	records RecordStore
	opts    options

	mu          sync.RWMutex
	root        store.Position
	references  *diskmap.SkipListMap[K, store.Position]
	indexValues diskmap.DiskMap[RecordRef, K]
}

// New creates an empty Interactor in s. records may be nil if Rebuild is
// never called.
func New[K any](s store.Store, keys codec.Ordered[K], records RecordStore, optFns ...Option) (*Interactor[K], error) {
	ix := &Interactor[K]{store: s, keys: keys, records: records, opts: buildOptions(optFns)}

	refs, err := diskmap.NewSkipListMap(s, keys, codec.Position{}, ix.opts.mapOpts...)
	if err != nil {
		return nil, fmt.Errorf("create references: %w", err)
	}
	values, err := diskmap.New(s, RefCodec(), codec.Codec[K](keys), ix.opts.inverse, ix.opts.mapOpts...)
	if err != nil {
		return nil, fmt.Errorf("create index values: %w", err)
	}
	ix.references, ix.indexValues = refs, values

	root, err := s.Allocate(rootSize)
	if err != nil {
		return nil, err
	}
	ix.root = root
	if err := ix.writeRoot(); err != nil {
		return nil, err
	}
	return ix, nil
}

// Open reopens the Interactor whose root is at root.
func Open[K any](s store.Store, keys codec.Ordered[K], records RecordStore, root store.Position, optFns ...Option) (*Interactor[K], error) {
	ix := &Interactor[K]{store: s, keys: keys, records: records, opts: buildOptions(optFns), root: root}

	heads, err := store.Read(s, root, decodeRoot)
	if err != nil {
		return nil, err
	}
	refs, err := diskmap.OpenSkipListMap(s, keys, codec.Position{}, heads[0], ix.opts.mapOpts...)
	if err != nil {
		return nil, fmt.Errorf("open references: %w", err)
	}
	values, err := diskmap.Open(s, RefCodec(), codec.Codec[K](keys), heads[1], ix.opts.mapOpts...)
	if err != nil {
		return nil, fmt.Errorf("open index values: %w", err)
	}
	ix.references, ix.indexValues = refs, values
	return ix, nil
}

func encodeRoot(dst []byte, heads [2]store.Position) []byte {
	dst = store.AppendPosition(dst, heads[0])
	return store.AppendPosition(dst, heads[1])
}

func decodeRoot(r *store.Reader) ([2]store.Position, error) {
	var heads [2]store.Position
	for i := range heads {
		p, err := r.ReadPosition()
		if err != nil {
			return heads, err
		}
		if !p.Valid() {
			return heads, &store.StorageError{Op: "read index root", Position: r.Position(), Err: store.ErrCorrupt}
		}
		heads[i] = p
	}
	return heads, nil
}

func (ix *Interactor[K]) writeRoot() error {
	return store.Write(ix.store, ix.root, [2]store.Position{ix.references.Header(), ix.indexValues.Header()}, encodeRoot)
}

// Root returns the position to pass to Open.
func (ix *Interactor[K]) Root() store.Position { return ix.root }

// Field returns the record field Rebuild extracts.
func (ix *Interactor[K]) Field() string { return ix.opts.field }

// Size returns the number of indexed records.
func (ix *Interactor[K]) Size() int64 { return ix.indexValues.Size() }

// Save indexes newRef under value. A positive oldRef is deleted first.
// Re-adding a ref that is already indexed under value is a no-op.
func (ix *Interactor[K]) Save(value K, oldRef, newRef RecordRef) error {
	if newRef == 0 {
		return ErrInvalidRef
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if oldRef > 0 {
		if err := ix.deleteLocked(oldRef); err != nil {
			return err
		}
	}
	if err := ix.saveLocked(value, newRef); err != nil {
		return err
	}
	ix.opts.logger.Debug("index save", "field", ix.opts.field, "ref", uint64(newRef), "old", uint64(oldRef))
	return nil
}

func (ix *Interactor[K]) saveLocked(value K, ref RecordRef) error {
	prev, ok, err := ix.indexValues.Get(ref)
	if err != nil {
		return err
	}
	if ok {
		if ix.keys.Compare(prev, value) == 0 {
			return nil
		}
		// A ref lives in exactly one postings set.
		if err := ix.deleteLocked(ref); err != nil {
			return err
		}
	}

	postings, err := ix.postings(value, true)
	if err != nil {
		return err
	}
	if _, _, err := postings.Put(ref, codec.Unit{}); err != nil {
		return err
	}
	_, _, err = ix.indexValues.Put(ref, value)
	return err
}

// postings opens the postings set of value, creating it if create is set.
// A missing set without create yields nil.
func (ix *Interactor[K]) postings(value K, create bool) (*diskmap.SkipListMap[RecordRef, codec.Unit], error) {
	header, ok, err := ix.references.Get(value)
	if err != nil {
		return nil, err
	}
	if ok {
		return diskmap.OpenSkipListMap(ix.store, RefCodec(), codec.UnitCodec{}, header, ix.opts.mapOpts...)
	}
	if !create {
		return nil, nil
	}

	m, err := diskmap.NewSkipListMap(ix.store, RefCodec(), codec.UnitCodec{}, ix.opts.mapOpts...)
	if err != nil {
		return nil, err
	}
	if _, _, err := ix.references.Put(value, m.Header()); err != nil {
		return nil, err
	}
	return m, nil
}

// Delete removes ref from the index. Deleting a never-indexed ref is a no-op.
func (ix *Interactor[K]) Delete(ref RecordRef) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if err := ix.deleteLocked(ref); err != nil {
		return err
	}
	ix.opts.logger.Debug("index delete", "field", ix.opts.field, "ref", uint64(ref))
	return nil
}

// DeleteAll removes every non-zero ref in one critical section.
func (ix *Interactor[K]) DeleteAll(refs ...RecordRef) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	for _, ref := range refs {
		if ref == 0 {
			continue
		}
		if err := ix.deleteLocked(ref); err != nil {
			return err
		}
		ix.opts.logger.Debug("index delete", "field", ix.opts.field, "ref", uint64(ref))
	}
	return nil
}

func (ix *Interactor[K]) deleteLocked(ref RecordRef) error {
	value, ok, err := ix.indexValues.Get(ref)
	if err != nil || !ok {
		return err
	}

	postings, err := ix.postings(value, false)
	if err != nil {
		return err
	}
	if postings != nil {
		if _, _, err := postings.Remove(ref); err != nil {
			return err
		}
		if postings.Size() == 0 {
			if _, _, err := ix.references.Remove(value); err != nil {
				return err
			}
		}
	}
	_, _, err = ix.indexValues.Remove(ref)
	return err
}

// Clear removes every entry.
func (ix *Interactor[K]) Clear() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.clearLocked()
}

func (ix *Interactor[K]) clearLocked() error {
	if err := ix.references.Clear(); err != nil {
		return err
	}
	return ix.indexValues.Clear()
}

// Value returns the value ref is indexed under.
func (ix *Interactor[K]) Value(ref RecordRef) (K, bool, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.indexValues.Get(ref)
}

// FindAll returns the refs indexed under value in ascending order.
func (ix *Interactor[K]) FindAll(value K) ([]RecordRef, error) {
	bm, err := ix.FindAllBitmap(value)
	if err != nil {
		return nil, err
	}
	return toRefs(bm), nil
}

// FindAllBitmap returns the refs indexed under value as a bitmap.
func (ix *Interactor[K]) FindAllBitmap(value K) (*roaring64.Bitmap, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	bm := roaring64.New()
	header, ok, err := ix.references.Get(value)
	if err != nil || !ok {
		return bm, err
	}
	return bm, ix.union(bm, header)
}

// FindAllValues returns every indexed value in key order.
func (ix *Interactor[K]) FindAllValues() ([]K, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.references.Keys()
}

// FindAllAbove returns refs whose value is greater than (or equal to) from.
func (ix *Interactor[K]) FindAllAbove(from K, inclusive bool) ([]RecordRef, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.collect(ix.references.Above(from, inclusive))
}

// FindAllBelow returns refs whose value is less than (or equal to) to.
func (ix *Interactor[K]) FindAllBelow(to K, inclusive bool) ([]RecordRef, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.collect(ix.references.Below(to, inclusive))
}

// FindAllBetween returns refs whose value lies between from and to.
func (ix *Interactor[K]) FindAllBetween(from K, includeFrom bool, to K, includeTo bool) ([]RecordRef, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.collect(ix.references.Between(from, includeFrom, to, includeTo))
}

func (ix *Interactor[K]) collect(records []store.Position, err error) ([]RecordRef, error) {
	if err != nil {
		return nil, err
	}
	bm := roaring64.New()
	for _, rec := range records {
		header, err := ix.references.ReadValue(rec)
		if err != nil {
			return nil, err
		}
		if err := ix.union(bm, header); err != nil {
			return nil, err
		}
	}
	return toRefs(bm), nil
}

// union adds the postings rooted at header to bm.
func (ix *Interactor[K]) union(bm *roaring64.Bitmap, header store.Position) error {
	postings, err := diskmap.OpenSkipListMap(ix.store, RefCodec(), codec.UnitCodec{}, header, ix.opts.mapOpts...)
	if err != nil {
		return err
	}
	refs, err := postings.Keys()
	if err != nil {
		return err
	}
	for _, ref := range refs {
		bm.Add(uint64(ref))
	}
	return nil
}

func toRefs(bm *roaring64.Bitmap) []RecordRef {
	out := make([]RecordRef, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		out = append(out, RecordRef(it.Next()))
	}
	return out
}

// Rebuild clears the index and re-saves every record of the record store.
// A missing record or a failed field extraction aborts the rebuild.
func (ix *Interactor[K]) Rebuild(ctx context.Context) error {
	if ix.opts.field == "" {
		return ErrNoField
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	start := time.Now()
	ix.opts.logger.Info("index rebuild started", "field", ix.opts.field)

	if err := ix.clearLocked(); err != nil {
		return err
	}
	var throttle Throttle
	if ix.opts.controller != nil {
		throttle = ix.opts.controller
	}
	n, err := Walk(ctx, ix.records, ix.opts.field, throttle, func(ref RecordRef, raw any) error {
		if raw == nil {
			return nil
		}
		value, err := Coerce[K](raw, ix.opts.field)
		if err != nil {
			return err
		}
		return ix.saveLocked(value, ref)
	})
	if err != nil {
		ix.opts.logger.Error("index rebuild failed", "field", ix.opts.field, "error", err)
		return err
	}

	ix.opts.logger.Info("index rebuild finished", "field", ix.opts.field, "records", n, "duration", time.Since(start))
	return nil
}

// Throttle is satisfied by resource.Controller.
type Throttle interface {
	AcquireOps(ctx context.Context, n int) error
}

// Walk extracts field from every record of records and calls fn with it, in
// ascending ref order. A nil throttle means unthrottled. It returns the
// number of records visited.
func Walk(ctx context.Context, records RecordStore, field string, throttle Throttle, fn func(ref RecordRef, value any) error) (int, error) {
	if records == nil {
		return 0, errors.New("index: no record store")
	}
	refs, err := records.Refs(ctx)
	if err != nil {
		return 0, err
	}
	slices.Sort(refs)

	for i, ref := range refs {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if throttle != nil {
			if err := throttle.AcquireOps(ctx, 1); err != nil {
				return i, err
			}
		}
		rec, err := records.Record(ctx, ref)
		if err != nil {
			return i, fmt.Errorf("record %d: %w", ref, err)
		}
		if rec == nil {
			return i, fmt.Errorf("record %d: %w", ref, ErrNotFound)
		}
		value, err := Extract(rec, field)
		if err != nil {
			return i, err
		}
		if err := fn(ref, value); err != nil {
			return i, err
		}
	}
	return len(refs), nil
}
