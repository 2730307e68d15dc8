package diskindex

import (
	"context"
	"time"

	"github.com/hupe1980/diskindex/codec"
	"github.com/hupe1980/diskindex/index"
	"github.com/hupe1980/diskindex/index/vector"
	"github.com/hupe1980/diskindex/store"
)

// RecordRef identifies a stored record. 0 means "no record".
type RecordRef = index.RecordRef

// RecordStore is the collaborator that owns the indexed records.
type RecordStore = index.RecordStore

// Match is a scored similarity result.
type Match = vector.Match

// Index is a persistent index over one record field.
//
// Save, Delete, Rebuild and Clear are serialized per index. Operations on the
// same record must be serialized by the caller.
type Index interface {
	// Descriptor returns the defaulted descriptor the index was built from.
	Descriptor() IndexDescriptor
	// Root returns the position to pass to Open.
	Root() store.Position
	// Size returns the number of indexed records.
	Size() int64

	// Save indexes newRef under value, deleting a positive oldRef first.
	Save(ctx context.Context, value any, oldRef, newRef RecordRef) error
	// Delete removes ref. Unknown refs are a no-op.
	Delete(ctx context.Context, ref RecordRef) error
	// Rebuild clears the index and re-indexes every record of the record store.
	Rebuild(ctx context.Context) error
	// Clear removes every entry.
	Clear(ctx context.Context) error

	// FindAll returns the refs whose value equals value, ascending.
	FindAll(ctx context.Context, value any) ([]RecordRef, error)
	// FindAllValues returns every distinct indexed value.
	FindAllValues(ctx context.Context) ([]any, error)
	// FindAllAbove, FindAllBelow and FindAllBetween are range queries on
	// exact indexes. Vector indexes return ErrUnsupported.
	FindAllAbove(ctx context.Context, from any, inclusive bool) ([]RecordRef, error)
	FindAllBelow(ctx context.Context, to any, inclusive bool) ([]RecordRef, error)
	FindAllBetween(ctx context.Context, from any, includeFrom bool, to any, includeTo bool) ([]RecordRef, error)
	// MatchAll ranks records by similarity to value. Exact indexes return
	// ErrUnsupported.
	MatchAll(ctx context.Context, value any, limit, maxCandidates int) ([]Match, error)
}

// backend is an index implementation without instrumentation.
type backend interface {
	root() store.Position
	size() int64
	save(value any, oldRef, newRef RecordRef) error
	delete(ref RecordRef) error
	rebuild(ctx context.Context) error
	clear() error
	findAll(value any) ([]RecordRef, error)
	findAllValues() ([]any, error)
	above(from any, inclusive bool) ([]RecordRef, error)
	below(to any, inclusive bool) ([]RecordRef, error)
	between(from any, includeFrom bool, to any, includeTo bool) ([]RecordRef, error)
	matchAll(ctx context.Context, value any, limit, maxCandidates int) ([]Match, error)
}

// Create builds a new, empty index described by d in s.
func Create(s store.Store, d IndexDescriptor, records RecordStore, optFns ...Option) (Index, error) {
	return build(s, d, records, store.Null, optFns)
}

// Open reopens the index described by d whose root is at root.
func Open(s store.Store, d IndexDescriptor, records RecordStore, root store.Position, optFns ...Option) (Index, error) {
	if !root.Valid() {
		return nil, translateError(&store.StorageError{Op: "open index", Position: root, Err: store.ErrInvalidPosition})
	}
	return build(s, d, records, root, optFns)
}

func build(s store.Store, d IndexDescriptor, records RecordStore, root store.Position, optFns []Option) (Index, error) {
	d = d.WithDefaults()
	if err := d.Validate(); err != nil {
		return nil, err
	}
	o := applyOptions(optFns)
	logger := o.logger.WithIndex(d.Name)

	var (
		b   backend
		err error
	)
	switch d.Kind {
	case KindVector:
		b, err = newVectorBackend(s, d, records, root, o, logger)
	default:
		b, err = newExactBackend(s, d, records, root, o, logger)
	}
	if err != nil {
		return nil, translateError(err)
	}
	return &handle{desc: d, b: b, metrics: o.metricsCollector, logger: logger}, nil
}

// handle instruments a backend with metrics, logging and error translation.
type handle struct {
	desc    IndexDescriptor
	b       backend
	metrics MetricsCollector
	logger  *Logger
}

func (h *handle) Descriptor() IndexDescriptor { return h.desc }
func (h *handle) Root() store.Position        { return h.b.root() }
func (h *handle) Size() int64                 { return h.b.size() }

func (h *handle) Save(ctx context.Context, value any, oldRef, newRef RecordRef) error {
	start := time.Now()
	err := translateError(h.b.save(value, oldRef, newRef))
	h.metrics.RecordSave(time.Since(start), err)
	h.logger.LogSave(ctx, oldRef, newRef, err)
	return err
}

func (h *handle) Delete(ctx context.Context, ref RecordRef) error {
	start := time.Now()
	err := translateError(h.b.delete(ref))
	h.metrics.RecordDelete(time.Since(start), err)
	h.logger.LogDelete(ctx, ref, err)
	return err
}

func (h *handle) Rebuild(ctx context.Context) error {
	start := time.Now()
	err := translateError(h.b.rebuild(ctx))
	duration := time.Since(start)
	h.metrics.RecordRebuild(duration, err)
	h.logger.LogRebuild(ctx, h.b.size(), duration, err)
	return err
}

func (h *handle) Clear(ctx context.Context) error {
	start := time.Now()
	err := translateError(h.b.clear())
	h.metrics.RecordClear(time.Since(start), err)
	h.logger.LogClear(ctx, err)
	return err
}

func (h *handle) query(ctx context.Context, op string, fn func() ([]RecordRef, error)) ([]RecordRef, error) {
	start := time.Now()
	refs, err := fn()
	err = translateError(err)
	h.metrics.RecordQuery(op, len(refs), time.Since(start), err)
	h.logger.LogQuery(ctx, op, len(refs), err)
	return refs, err
}

func (h *handle) FindAll(ctx context.Context, value any) ([]RecordRef, error) {
	return h.query(ctx, "find_all", func() ([]RecordRef, error) { return h.b.findAll(value) })
}

func (h *handle) FindAllValues(ctx context.Context) ([]any, error) {
	start := time.Now()
	values, err := h.b.findAllValues()
	err = translateError(err)
	h.metrics.RecordQuery("find_all_values", len(values), time.Since(start), err)
	h.logger.LogQuery(ctx, "find_all_values", len(values), err)
	return values, err
}

func (h *handle) FindAllAbove(ctx context.Context, from any, inclusive bool) ([]RecordRef, error) {
	return h.query(ctx, "find_all_above", func() ([]RecordRef, error) { return h.b.above(from, inclusive) })
}

func (h *handle) FindAllBelow(ctx context.Context, to any, inclusive bool) ([]RecordRef, error) {
	return h.query(ctx, "find_all_below", func() ([]RecordRef, error) { return h.b.below(to, inclusive) })
}

func (h *handle) FindAllBetween(ctx context.Context, from any, includeFrom bool, to any, includeTo bool) ([]RecordRef, error) {
	return h.query(ctx, "find_all_between", func() ([]RecordRef, error) {
		return h.b.between(from, includeFrom, to, includeTo)
	})
}

func (h *handle) MatchAll(ctx context.Context, value any, limit, maxCandidates int) ([]Match, error) {
	start := time.Now()
	matches, err := h.b.matchAll(ctx, value, limit, maxCandidates)
	err = translateError(err)
	h.metrics.RecordQuery("match_all", len(matches), time.Since(start), err)
	h.logger.LogQuery(ctx, "match_all", len(matches), err)
	return matches, err
}

// exactBackend adapts index.Interactor[K] to untyped values.
type exactBackend[K any] struct {
	ix    *index.Interactor[K]
	field string
}

func newExactBackend(s store.Store, d IndexDescriptor, records RecordStore, root store.Position, o options, logger *Logger) (backend, error) {
	switch d.Type {
	case TypeInt64:
		return openExact(s, codec.Int64{}, d, records, root, o, logger)
	case TypeUint64:
		return openExact(s, codec.Uint64{}, d, records, root, o, logger)
	case TypeFloat64:
		return openExact(s, codec.Float64{}, d, records, root, o, logger)
	case TypeBytes:
		return openExact(s, codec.Bytes{}, d, records, root, o, logger)
	default:
		return openExact(s, codec.String{}, d, records, root, o, logger)
	}
}

func openExact[K any](s store.Store, keys codec.Ordered[K], d IndexDescriptor, records RecordStore, root store.Position, o options, logger *Logger) (backend, error) {
	opts := []index.Option{
		index.WithField(d.Name),
		index.WithLogger(logger.Logger),
		index.WithInverseConfig(d.MapConfig()),
		index.WithMapOptions(o.mapOptions...),
	}
	if c := o.controller(); c != nil {
		opts = append(opts, index.WithController(c))
	}

	var (
		ix  *index.Interactor[K]
		err error
	)
	if root.Valid() {
		ix, err = index.Open(s, keys, records, root, opts...)
	} else {
		ix, err = index.New(s, keys, records, opts...)
	}
	if err != nil {
		return nil, err
	}
	return &exactBackend[K]{ix: ix, field: d.Name}, nil
}

func (b *exactBackend[K]) key(v any) (K, error) { return index.Coerce[K](v, b.field) }

func (b *exactBackend[K]) root() store.Position { return b.ix.Root() }
func (b *exactBackend[K]) size() int64          { return b.ix.Size() }

func (b *exactBackend[K]) save(value any, oldRef, newRef RecordRef) error {
	if value == nil {
		// Nothing to index; the refs just lose their old membership.
		return b.ix.DeleteAll(oldRef, newRef)
	}
	k, err := b.key(value)
	if err != nil {
		return err
	}
	return b.ix.Save(k, oldRef, newRef)
}

func (b *exactBackend[K]) delete(ref RecordRef) error        { return b.ix.Delete(ref) }
func (b *exactBackend[K]) rebuild(ctx context.Context) error { return b.ix.Rebuild(ctx) }
func (b *exactBackend[K]) clear() error                      { return b.ix.Clear() }

func (b *exactBackend[K]) findAll(value any) ([]RecordRef, error) {
	k, err := b.key(value)
	if err != nil {
		return nil, err
	}
	return b.ix.FindAll(k)
}

func (b *exactBackend[K]) findAllValues() ([]any, error) {
	values, err := b.ix.FindAllValues()
	if err != nil {
		return nil, err
	}
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out, nil
}

func (b *exactBackend[K]) above(from any, inclusive bool) ([]RecordRef, error) {
	k, err := b.key(from)
	if err != nil {
		return nil, err
	}
	return b.ix.FindAllAbove(k, inclusive)
}

func (b *exactBackend[K]) below(to any, inclusive bool) ([]RecordRef, error) {
	k, err := b.key(to)
	if err != nil {
		return nil, err
	}
	return b.ix.FindAllBelow(k, inclusive)
}

func (b *exactBackend[K]) between(from any, includeFrom bool, to any, includeTo bool) ([]RecordRef, error) {
	lo, err := b.key(from)
	if err != nil {
		return nil, err
	}
	hi, err := b.key(to)
	if err != nil {
		return nil, err
	}
	return b.ix.FindAllBetween(lo, includeFrom, hi, includeTo)
}

func (b *exactBackend[K]) matchAll(context.Context, any, int, int) ([]Match, error) {
	return nil, ErrUnsupported
}

// vectorBackend adapts vector.Interactor.
type vectorBackend struct {
	ix *vector.Interactor
}

func newVectorBackend(s store.Store, d IndexDescriptor, records RecordStore, root store.Position, o options, logger *Logger) (backend, error) {
	opts := []vector.Option{
		vector.WithField(d.Name),
		vector.WithLogger(logger.Logger),
		vector.WithMapOptions(o.mapOptions...),
	}
	if c := o.controller(); c != nil {
		opts = append(opts, vector.WithController(c))
	}
	if o.workers > 0 {
		opts = append(opts, vector.WithWorkers(o.workers))
	}

	var (
		ix  *vector.Interactor
		err error
	)
	if root.Valid() {
		ix, err = vector.Open(s, d.VectorConfig(), records, root, opts...)
	} else {
		ix, err = vector.New(s, d.VectorConfig(), records, opts...)
	}
	if err != nil {
		return nil, err
	}
	return &vectorBackend{ix: ix}, nil
}

func (b *vectorBackend) root() store.Position { return b.ix.Root() }
func (b *vectorBackend) size() int64          { return b.ix.Exact().Size() }

func (b *vectorBackend) save(value any, oldRef, newRef RecordRef) error {
	return b.ix.Save(value, oldRef, newRef)
}

func (b *vectorBackend) delete(ref RecordRef) error        { return b.ix.Delete(ref) }
func (b *vectorBackend) rebuild(ctx context.Context) error { return b.ix.Rebuild(ctx) }
func (b *vectorBackend) clear() error                      { return b.ix.Clear() }

func (b *vectorBackend) findAll(value any) ([]RecordRef, error) { return b.ix.FindAll(value) }

func (b *vectorBackend) findAllValues() ([]any, error) {
	values, err := b.ix.Exact().FindAllValues()
	if err != nil {
		return nil, err
	}
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out, nil
}

func (b *vectorBackend) above(any, bool) ([]RecordRef, error) { return nil, ErrUnsupported }
func (b *vectorBackend) below(any, bool) ([]RecordRef, error) { return nil, ErrUnsupported }

func (b *vectorBackend) between(any, bool, any, bool) ([]RecordRef, error) {
	return nil, ErrUnsupported
}

func (b *vectorBackend) matchAll(ctx context.Context, value any, limit, maxCandidates int) ([]Match, error) {
	return b.ix.MatchAll(ctx, value, limit, maxCandidates)
}
