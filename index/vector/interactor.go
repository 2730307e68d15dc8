package vector

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/diskindex/codec"
	"github.com/hupe1980/diskindex/diskmap"
	"github.com/hupe1980/diskindex/distance"
	"github.com/hupe1980/diskindex/index"
	"github.com/hupe1980/diskindex/internal/cache"
	"github.com/hupe1980/diskindex/internal/queue"
	"github.com/hupe1980/diskindex/internal/resource"
	"github.com/hupe1980/diskindex/store"
)

// rootMagic tags a persisted vector index root ("VLSH").
const rootMagic uint32 = 0x48534C56

// ErrConfigMismatch is returned by Open when the persisted layout was built
// with a different dimension, table count or signature width.
var ErrConfigMismatch = errors.New("vector: config does not match persisted index")

// Match is a scored query result.
type Match struct {
	Ref   index.RecordRef
	Score float32
}

// table is one LSH table: signature buckets plus the inverse map.
type table struct {
	buckets    *diskmap.SkipListMap[uint64, store.Position]
	signatures diskmap.DiskMap[index.RecordRef, uint64]
}

// Interactor is an approximate semantic index layered on an exact index.
type Interactor struct {
	cfg      Config
	store    store.Store
	records  index.RecordStore
	opts     options
	embedder *Embedder
	planes   *Planes

	mu      sync.RWMutex
	root    store.Position
	exact   *index.Interactor[[]byte]
	vectors diskmap.DiskMap[index.RecordRef, []float32]
	all     *diskmap.SkipListMap[index.RecordRef, codec.Unit]
	tables  []table
	cache   *cache.LRU[index.RecordRef, []float32]
}

// Option configures an Interactor.
type Option func(*options)

type options struct {
	field      string
	logger     *slog.Logger
	controller *resource.Controller
	workers    int
	mapOpts    []diskmap.Option
}

// WithField sets the record field Rebuild extracts values from.
func WithField(name string) Option {
	return func(o *options) { o.field = name }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithController throttles Rebuild through the controller's ops limiter.
func WithController(c *resource.Controller) Option {
	return func(o *options) { o.controller = c }
}

// WithWorkers sets the number of goroutines embedding records during
// Rebuild. The default is GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithMapOptions passes options to every DiskMap the interactor creates.
func WithMapOptions(opts ...diskmap.Option) Option {
	return func(o *options) { o.mapOpts = append(o.mapOpts, opts...) }
}

func (o options) exactOptions(maps diskmap.Config) []index.Option {
	opts := []index.Option{
		index.WithField(o.field),
		index.WithLogger(o.logger),
		index.WithInverseConfig(maps),
		index.WithMapOptions(o.mapOpts...),
	}
	if o.controller != nil {
		opts = append(opts, index.WithController(o.controller))
	}
	return opts
}

func newInteractor(s store.Store, cfg Config, records index.RecordStore, optFns []Option) (*Interactor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{workers: runtime.GOMAXPROCS(0)}
	for _, fn := range optFns {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	if o.workers < 1 {
		o.workers = 1
	}

	ix := &Interactor{
		cfg:      cfg,
		store:    s,
		records:  records,
		opts:     o,
		embedder: NewEmbedder(cfg),
		planes:   NewPlanes(cfg.Seed, cfg.Tables, cfg.Bits, cfg.Dimension),
		tables:   make([]table, cfg.Tables),
	}
	if cfg.VectorCacheSize > 0 {
		ix.cache = cache.NewLRU[index.RecordRef, []float32](cfg.VectorCacheSize)
	}
	return ix, nil
}

// New creates an empty vector index in s.
func New(s store.Store, cfg Config, records index.RecordStore, optFns ...Option) (*Interactor, error) {
	ix, err := newInteractor(s, cfg, records, optFns)
	if err != nil {
		return nil, err
	}

	if ix.exact, err = index.New[[]byte](s, codec.Bytes{}, records, ix.opts.exactOptions(cfg.Maps)...); err != nil {
		return nil, err
	}
	vectors := codec.Float32Vector{Dim: cfg.Dimension}
	if ix.vectors, err = diskmap.New(s, index.RefCodec(), codec.Codec[[]float32](vectors), cfg.Maps, ix.opts.mapOpts...); err != nil {
		return nil, fmt.Errorf("create vectors: %w", err)
	}
	if ix.all, err = diskmap.NewSkipListMap(s, index.RefCodec(), codec.UnitCodec{}, ix.opts.mapOpts...); err != nil {
		return nil, fmt.Errorf("create record ids: %w", err)
	}
	for t := range ix.tables {
		if ix.tables[t].buckets, err = diskmap.NewSkipListMap(s, codec.Uint64{}, codec.Position{}, ix.opts.mapOpts...); err != nil {
			return nil, fmt.Errorf("create table %d: %w", t, err)
		}
		if ix.tables[t].signatures, err = diskmap.New(s, index.RefCodec(), codec.Codec[uint64](codec.Uint64{}), cfg.Maps, ix.opts.mapOpts...); err != nil {
			return nil, fmt.Errorf("create table %d: %w", t, err)
		}
	}

	r := ix.rootRecord()
	if ix.root, err = store.Append(s, r, encodeRoot); err != nil {
		return nil, err
	}
	return ix, nil
}

// Open reopens the vector index whose root is at root. cfg must carry the
// dimension, table count, signature width and seed it was created with.
func Open(s store.Store, cfg Config, records index.RecordStore, root store.Position, optFns ...Option) (*Interactor, error) {
	ix, err := newInteractor(s, cfg, records, optFns)
	if err != nil {
		return nil, err
	}
	r, err := store.Read(s, root, decodeRoot)
	if err != nil {
		return nil, err
	}
	if int(r.dim) != cfg.Dimension || int(r.tables) != cfg.Tables || int(r.bits) != cfg.Bits {
		return nil, fmt.Errorf("%w: persisted dim=%d tables=%d bits=%d", ErrConfigMismatch, r.dim, r.tables, r.bits)
	}
	ix.root = root

	if ix.exact, err = index.Open[[]byte](s, codec.Bytes{}, records, r.heads[0], ix.opts.exactOptions(cfg.Maps)...); err != nil {
		return nil, err
	}
	vectors := codec.Float32Vector{Dim: cfg.Dimension}
	if ix.vectors, err = diskmap.Open(s, index.RefCodec(), codec.Codec[[]float32](vectors), r.heads[1], ix.opts.mapOpts...); err != nil {
		return nil, fmt.Errorf("open vectors: %w", err)
	}
	if ix.all, err = diskmap.OpenSkipListMap(s, index.RefCodec(), codec.UnitCodec{}, r.heads[2], ix.opts.mapOpts...); err != nil {
		return nil, fmt.Errorf("open record ids: %w", err)
	}
	for t := range ix.tables {
		h := r.heads[3+2*t:]
		if ix.tables[t].buckets, err = diskmap.OpenSkipListMap(s, codec.Uint64{}, codec.Position{}, h[0], ix.opts.mapOpts...); err != nil {
			return nil, fmt.Errorf("open table %d: %w", t, err)
		}
		if ix.tables[t].signatures, err = diskmap.Open(s, index.RefCodec(), codec.Codec[uint64](codec.Uint64{}), h[1], ix.opts.mapOpts...); err != nil {
			return nil, fmt.Errorf("open table %d: %w", t, err)
		}
	}
	return ix, nil
}

type rootRecord struct {
	dim, tables, bits uint32
	// heads: exact root, vectors, all, then buckets and signatures per table.
	heads []store.Position
}

func (ix *Interactor) rootRecord() rootRecord {
	heads := []store.Position{ix.exact.Root(), ix.vectors.Header(), ix.all.Header()}
	for _, t := range ix.tables {
		heads = append(heads, t.buckets.Header(), t.signatures.Header())
	}
	return rootRecord{
		dim:    uint32(ix.cfg.Dimension), //nolint:gosec // validated
		tables: uint32(ix.cfg.Tables),    //nolint:gosec // validated
		bits:   uint32(ix.cfg.Bits),      //nolint:gosec // validated
		heads:  heads,
	}
}

func encodeRoot(dst []byte, r rootRecord) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, rootMagic)
	dst = binary.LittleEndian.AppendUint32(dst, r.dim)
	dst = binary.LittleEndian.AppendUint32(dst, r.tables)
	dst = binary.LittleEndian.AppendUint32(dst, r.bits)
	for _, h := range r.heads {
		dst = store.AppendPosition(dst, h)
	}
	return dst
}

func decodeRoot(rd *store.Reader) (rootRecord, error) {
	var r rootRecord
	corrupt := &store.StorageError{Op: "read vector root", Position: rd.Position(), Err: store.ErrCorrupt}

	magic, err := rd.Uint32()
	if err != nil {
		return r, err
	}
	if magic != rootMagic {
		return r, corrupt
	}
	for _, f := range []*uint32{&r.dim, &r.tables, &r.bits} {
		if *f, err = rd.Uint32(); err != nil {
			return r, err
		}
	}
	if r.tables == 0 || r.tables > 64 {
		return r, corrupt
	}
	r.heads = make([]store.Position, 3+2*r.tables)
	for i := range r.heads {
		if r.heads[i], err = rd.ReadPosition(); err != nil {
			return r, err
		}
		if !r.heads[i].Valid() {
			return r, corrupt
		}
	}
	return r, nil
}

// Root returns the position to pass to Open.
func (ix *Interactor) Root() store.Position { return ix.root }

// Config returns the configuration.
func (ix *Interactor) Config() Config { return ix.cfg }

// Embedder returns the embedder.
func (ix *Interactor) Embedder() *Embedder { return ix.embedder }

// Size returns the number of records holding a vector.
func (ix *Interactor) Size() int64 { return ix.all.Size() }

// Save indexes value for newRef. A positive oldRef is deleted first. Values
// that cannot be embedded are only indexed exactly. A vector of the wrong
// width fails with *DimensionMismatchError before anything changes.
func (ix *Interactor) Save(value any, oldRef, newRef index.RecordRef) error {
	if newRef == 0 {
		return index.ErrInvalidRef
	}
	vec, ok, err := ix.embedder.Embed(value)
	if err != nil {
		return err
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if oldRef > 0 {
		if err := ix.deleteLocked(oldRef); err != nil {
			return err
		}
	}
	if err := ix.insertLocked(newRef, value, vec, ok); err != nil {
		return err
	}
	ix.opts.logger.Debug("vector save", "field", ix.opts.field, "ref", uint64(newRef), "embedded", ok)
	return nil
}

func (ix *Interactor) insertLocked(ref index.RecordRef, value any, vec []float32, embedded bool) error {
	if key, ok := exactKey(value); ok {
		if err := ix.exact.Save(key, 0, ref); err != nil {
			return err
		}
	} else if err := ix.exact.Delete(ref); err != nil {
		return err
	}

	if err := ix.removeVectorLocked(ref); err != nil {
		return err
	}
	if !embedded {
		return nil
	}

	if _, _, err := ix.vectors.Put(ref, vec); err != nil {
		return err
	}
	if _, _, err := ix.all.Put(ref, codec.Unit{}); err != nil {
		return err
	}
	for t := range ix.tables {
		sig := ix.planes.Signature(t, vec)
		if _, _, err := ix.tables[t].signatures.Put(ref, sig); err != nil {
			return err
		}
		postings, err := ix.postings(t, sig, true)
		if err != nil {
			return err
		}
		if _, _, err := postings.Put(ref, codec.Unit{}); err != nil {
			return err
		}
	}
	return nil
}

// postings opens the bucket of sig in table t. Without create a missing
// bucket yields nil.
func (ix *Interactor) postings(t int, sig uint64, create bool) (*diskmap.SkipListMap[index.RecordRef, codec.Unit], error) {
	buckets := ix.tables[t].buckets
	header, ok, err := buckets.Get(sig)
	if err != nil {
		return nil, err
	}
	if ok {
		return diskmap.OpenSkipListMap(ix.store, index.RefCodec(), codec.UnitCodec{}, header, ix.opts.mapOpts...)
	}
	if !create {
		return nil, nil
	}
	m, err := diskmap.NewSkipListMap(ix.store, index.RefCodec(), codec.UnitCodec{}, ix.opts.mapOpts...)
	if err != nil {
		return nil, err
	}
	if _, _, err := buckets.Put(sig, m.Header()); err != nil {
		return nil, err
	}
	return m, nil
}

// Delete removes ref from every table, the vector map, the record ids and
// the exact index. Deleting an unknown ref is a no-op.
func (ix *Interactor) Delete(ref index.RecordRef) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if err := ix.deleteLocked(ref); err != nil {
		return err
	}
	ix.opts.logger.Debug("vector delete", "field", ix.opts.field, "ref", uint64(ref))
	return nil
}

func (ix *Interactor) deleteLocked(ref index.RecordRef) error {
	if err := ix.exact.Delete(ref); err != nil {
		return err
	}
	return ix.removeVectorLocked(ref)
}

func (ix *Interactor) removeVectorLocked(ref index.RecordRef) error {
	for t := range ix.tables {
		sig, ok, err := ix.tables[t].signatures.Get(ref)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		postings, err := ix.postings(t, sig, false)
		if err != nil {
			return err
		}
		if postings != nil {
			if _, _, err := postings.Remove(ref); err != nil {
				return err
			}
			if postings.Size() == 0 {
				if _, _, err := ix.tables[t].buckets.Remove(sig); err != nil {
					return err
				}
			}
		}
		if _, _, err := ix.tables[t].signatures.Remove(ref); err != nil {
			return err
		}
	}

	if ix.cache != nil {
		ix.cache.Invalidate(ref)
	}
	if _, _, err := ix.vectors.Remove(ref); err != nil {
		return err
	}
	_, _, err := ix.all.Remove(ref)
	return err
}

// Clear removes every entry.
func (ix *Interactor) Clear() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if err := ix.exact.Clear(); err != nil {
		return err
	}
	return ix.clearVectorsLocked()
}

func (ix *Interactor) clearVectorsLocked() error {
	for _, t := range ix.tables {
		if err := t.buckets.Clear(); err != nil {
			return err
		}
		if err := t.signatures.Clear(); err != nil {
			return err
		}
	}
	if ix.cache != nil {
		ix.cache.Purge()
	}
	if err := ix.vectors.Clear(); err != nil {
		return err
	}
	return ix.all.Clear()
}

// Vector returns the stored unit vector of ref.
func (ix *Interactor) Vector(ref index.RecordRef) ([]float32, bool, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.vector(ref)
}

func (ix *Interactor) vector(ref index.RecordRef) ([]float32, bool, error) {
	if ix.cache != nil {
		if v, ok := ix.cache.Get(ref); ok {
			return v, true, nil
		}
	}
	v, ok, err := ix.vectors.Get(ref)
	if err != nil || !ok {
		return nil, false, err
	}
	if ix.cache != nil {
		ix.cache.Set(ref, v)
	}
	return v, true, nil
}

// FindAll returns the refs whose value equals value exactly.
func (ix *Interactor) FindAll(value any) ([]index.RecordRef, error) {
	key, ok := exactKey(value)
	if !ok {
		return nil, nil
	}
	return ix.exact.FindAll(key)
}

// Exact returns the exact-match index maintained alongside the vectors.
func (ix *Interactor) Exact() *index.Interactor[[]byte] { return ix.exact }

// MatchAll returns up to limit records similar to value, best first. limit
// and maxCandidates fall back to the configured defaults when not positive.
// Text queries with fewer than MinQueryTokens tokens match nothing. If even
// the best score is below MinScore the result is empty.
func (ix *Interactor) MatchAll(ctx context.Context, value any, limit, maxCandidates int) ([]Match, error) {
	if limit <= 0 {
		limit = ix.cfg.DefaultLimit
	}
	if maxCandidates <= 0 {
		maxCandidates = ix.cfg.DefaultMaxCandidates
	}
	maxCandidates = max(maxCandidates, limit)

	if value == nil {
		return nil, nil
	}
	if !isVector(value) && len(ix.embedder.Tokens(Text(value))) < ix.cfg.MinQueryTokens {
		return nil, nil
	}
	query, ok, err := ix.embedder.Embed(value)
	if err != nil || !ok {
		return nil, err
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	start := time.Now()
	candidates, err := ix.gather(ctx, query, limit, maxCandidates)
	if err != nil {
		return nil, err
	}

	top := queue.NewTopK(limit)
	it := candidates.Iterator()
	for it.HasNext() {
		ref := index.RecordRef(it.Next())
		vec, ok, err := ix.vector(ref)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		top.Offer(queue.Item{Ref: uint64(ref), Score: distance.Dot(query, vec)})
	}

	items := top.Drain()
	ix.opts.logger.Debug("vector match", "field", ix.opts.field, "candidates", candidates.GetCardinality(),
		"ranked", len(items), "duration", time.Since(start))
	if len(items) == 0 || items[0].Score < ix.cfg.MinScore {
		return nil, nil
	}

	out := make([]Match, 0, len(items))
	for _, item := range items {
		if item.Score < ix.cfg.MinScore {
			break
		}
		out = append(out, Match{Ref: index.RecordRef(item.Ref), Score: item.Score})
	}
	return out, nil
}

// gather collects up to maxCandidates refs: exact buckets, then Hamming 1,
// then Hamming 2, then the record ids if fewer than limit were found.
func (ix *Interactor) gather(ctx context.Context, query []float32, limit, maxCandidates int) (*roaring64.Bitmap, error) {
	candidates := roaring64.New()
	full := func() bool { return candidates.GetCardinality() >= uint64(maxCandidates) } //nolint:gosec // positive

	sigs := ix.planes.Signatures(query)
	probe := func(t int, sig uint64) error {
		postings, err := ix.postings(t, sig, false)
		if err != nil || postings == nil {
			return err
		}
		refs, err := postings.Keys()
		if err != nil {
			return err
		}
		for _, ref := range refs {
			if full() {
				return nil
			}
			candidates.Add(uint64(ref))
		}
		return nil
	}

	stages := [3]func(t int) []uint64{
		func(t int) []uint64 { return []uint64{sigs[t]} },
		func(t int) []uint64 { h1, _ := Probes(sigs[t], ix.cfg.Bits); return h1 },
		func(t int) []uint64 { _, h2 := Probes(sigs[t], ix.cfg.Bits); return h2 },
	}
	for _, stage := range stages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for t := range ix.tables {
			for _, sig := range stage(t) {
				if full() {
					return candidates, nil
				}
				if err := probe(t, sig); err != nil {
					return nil, err
				}
			}
		}
	}

	if candidates.GetCardinality() < uint64(limit) { //nolint:gosec // positive
		err := ix.all.Range(func(ref index.RecordRef, _ codec.Unit) bool {
			candidates.Add(uint64(ref))
			return !full()
		})
		if err != nil {
			return nil, err
		}
	}
	return candidates, nil
}

// Rebuild clears the index and re-indexes every record of the record store.
// Records are embedded concurrently and inserted in ref order.
func (ix *Interactor) Rebuild(ctx context.Context) error {
	if ix.opts.field == "" {
		return index.ErrNoField
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	start := time.Now()
	ix.opts.logger.Info("vector rebuild started", "field", ix.opts.field)

	if err := ix.exact.Clear(); err != nil {
		return err
	}
	if err := ix.clearVectorsLocked(); err != nil {
		return err
	}

	type job struct {
		ref      index.RecordRef
		value    any
		vec      []float32
		embedded bool
	}
	var jobs []job
	var throttle index.Throttle
	if ix.opts.controller != nil {
		throttle = ix.opts.controller
	}
	_, err := index.Walk(ctx, ix.records, ix.opts.field, throttle, func(ref index.RecordRef, value any) error {
		jobs = append(jobs, job{ref: ref, value: value})
		return nil
	})
	if err != nil {
		ix.opts.logger.Error("vector rebuild failed", "field", ix.opts.field, "error", err)
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.opts.workers)
	for i := range jobs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			vec, ok, err := ix.embedder.Embed(jobs[i].value)
			if err != nil {
				return fmt.Errorf("record %d: %w", jobs[i].ref, err)
			}
			jobs[i].vec, jobs[i].embedded = vec, ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		ix.opts.logger.Error("vector rebuild failed", "field", ix.opts.field, "error", err)
		return err
	}

	for _, j := range jobs {
		if err := ix.insertLocked(j.ref, j.value, j.vec, j.embedded); err != nil {
			return err
		}
	}

	ix.opts.logger.Info("vector rebuild finished", "field", ix.opts.field, "records", len(jobs),
		"vectors", ix.all.Size(), "duration", time.Since(start))
	return nil
}

// exactKey renders value as the key of the exact index.
func exactKey(value any) ([]byte, bool) {
	switch x := value.(type) {
	case nil:
		return nil, false
	case string:
		return []byte(x), true
	case []byte:
		return append([]byte(nil), x...), true
	case []float32:
		b := make([]byte, 0, 4*len(x))
		for _, f := range x {
			b = binary.LittleEndian.AppendUint32(b, math.Float32bits(f))
		}
		return b, true
	case []float64:
		b := make([]byte, 0, 8*len(x))
		for _, f := range x {
			b = binary.LittleEndian.AppendUint64(b, math.Float64bits(f))
		}
		return b, true
	case []int8:
		b := make([]byte, len(x))
		for i, v := range x {
			b[i] = byte(v) //nolint:gosec // bit reinterpretation
		}
		return b, true
	default:
		return []byte(Text(value)), true
	}
}
