package arena

import (
	"context"
	"errors"
	"fmt"
	"math/bits"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/diskindex/internal/conv"
	"github.com/hupe1980/diskindex/internal/mmap"
)

// MemoryAcquirer is an interface for acquiring memory.
type MemoryAcquirer interface {
	AcquireMemory(ctx context.Context, amount int64) error
	ReleaseMemory(amount int64)
}

var (
	// ErrMaxChunksExceeded is returned when the arena exceeds the maximum number of chunks.
	ErrMaxChunksExceeded = errors.New("arena: max chunks exceeded")
	// ErrAllocationTooLarge is returned when a single allocation does not fit into a chunk.
	ErrAllocationTooLarge = errors.New("arena: allocation larger than chunk")
	// ErrOutOfBounds is returned when an access falls outside allocated memory.
	ErrOutOfBounds = errors.New("arena: access out of bounds")
	// ErrFreed is returned when the arena is used after Free.
	ErrFreed = errors.New("arena: freed")
)

const (
	// DefaultChunkSize is the default size of a chunk (1MB).
	DefaultChunkSize = 1024 * 1024
	// DefaultAlignment is the default memory alignment (8 bytes).
	DefaultAlignment = 8
	// MaxChunks limits the number of chunks to prevent excessive memory usage.
	MaxChunks = 65536
)

// Stats tracks arena memory usage metrics.
type Stats struct {
	ChunksAllocated uint64 // Historical: total chunks ever created
	BytesReserved   uint64 // Current: total memory reserved
	BytesUsed       uint64 // Current: actual bytes requested
	BytesWasted     uint64 // Current: alignment padding
	ActiveChunks    uint64 // Current: active chunk count
	TotalAllocs     uint64 // Historical: total allocations
}

type atomicStats struct {
	ChunksAllocated atomic.Uint64
	BytesReserved   atomic.Uint64
	BytesUsed       atomic.Uint64
	BytesWasted     atomic.Uint64
	ActiveChunks    atomic.Uint64
	TotalAllocs     atomic.Uint64
}

type chunk struct {
	data    []byte
	mapping *mmap.Mapping
	offset  int64 // bump pointer, guarded by Arena.mu
	index   uint32
}

// Arena is an offset-addressed memory arena.
//
// Alloc, ReadAt and WriteAt are safe for concurrent use. Writers exclude
// readers on the byte level; callers that need multi-step atomicity must
// serialize on their own.
type Arena struct {
	chunkSize int
	chunkBits int
	chunkMask uint64
	alignment int

	mu     sync.RWMutex
	chunks []*chunk
	freed  bool

	stats    atomicStats
	acquirer MemoryAcquirer
}

// Option is a configuration option for Arena.
type Option func(*Arena)

// WithMemoryAcquirer sets the memory acquirer for the arena.
func WithMemoryAcquirer(acquirer MemoryAcquirer) Option {
	return func(a *Arena) {
		a.acquirer = acquirer
	}
}

// New creates a new Arena with the given chunk size.
// The chunk size is rounded up to the next power of two.
func New(chunkSize int, opts ...Option) (*Arena, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	chunkBits := bits.Len(uint(chunkSize - 1)) //nolint:gosec // chunkSize > 0
	chunkSize = 1 << chunkBits
	chunkMask, err := conv.IntToUint64(chunkSize - 1)
	if err != nil {
		return nil, err
	}

	a := &Arena{
		chunkSize: chunkSize,
		chunkBits: chunkBits,
		chunkMask: chunkMask,
		alignment: DefaultAlignment,
	}

	for _, opt := range opts {
		opt(a)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.allocateChunkLocked(context.Background()); err != nil {
		return nil, err
	}
	// Reserve offset 0 as null.
	a.chunks[0].offset = int64(a.alignment)

	return a, nil
}

// ChunkSize returns the effective (power of two) chunk size.
func (a *Arena) ChunkSize() int {
	return a.chunkSize
}

func (a *Arena) allocateChunkLocked(ctx context.Context) error {
	idx := len(a.chunks)
	if idx >= MaxChunks {
		return ErrMaxChunksExceeded
	}

	if a.acquirer != nil {
		var cancel context.CancelFunc
		if _, ok := ctx.Deadline(); !ok {
			ctx, cancel = context.WithTimeout(ctx, 100*time.Millisecond)
			defer cancel()
		}
		if err := a.acquirer.AcquireMemory(ctx, int64(a.chunkSize)); err != nil {
			return err
		}
	}

	mapping, err := mmap.MapAnon(a.chunkSize)
	if err != nil {
		if a.acquirer != nil {
			a.acquirer.ReleaseMemory(int64(a.chunkSize))
		}
		return fmt.Errorf("failed to map anonymous memory for chunk: %w", err)
	}

	index, err := conv.IntToUint32(idx)
	if err != nil {
		_ = mapping.Close()
		return err
	}

	a.chunks = append(a.chunks, &chunk{
		data:    mapping.Bytes(),
		mapping: mapping,
		index:   index,
	})

	a.stats.ChunksAllocated.Add(1)
	chunkSizeU64, _ := conv.IntToUint64(a.chunkSize)
	a.stats.BytesReserved.Add(chunkSizeU64)
	a.stats.ActiveChunks.Add(1)

	return nil
}

// Alloc reserves size bytes and returns the global offset of the allocation.
// The memory is zeroed. Offsets are never 0.
func (a *Arena) Alloc(size int) (uint64, error) {
	return a.AllocContext(context.Background(), size)
}

// AllocContext reserves size bytes with a context used for memory acquisition.
func (a *Arena) AllocContext(ctx context.Context, size int) (uint64, error) {
	if size <= 0 {
		return 0, fmt.Errorf("arena: invalid allocation size %d", size)
	}

	mask := a.alignment - 1
	alignedSize := (size + mask) & ^mask
	if alignedSize > a.chunkSize {
		return 0, fmt.Errorf("%w: %d > %d", ErrAllocationTooLarge, size, a.chunkSize)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.freed {
		return 0, ErrFreed
	}

	curr := a.chunks[len(a.chunks)-1]
	if curr.offset+int64(alignedSize) > int64(len(curr.data)) {
		if err := a.allocateChunkLocked(ctx); err != nil {
			return 0, err
		}
		curr = a.chunks[len(a.chunks)-1]
	}

	oldOffset := curr.offset
	curr.offset += int64(alignedSize)

	sizeU64, _ := conv.IntToUint64(size)
	a.stats.BytesUsed.Add(sizeU64)
	wastedU64, _ := conv.IntToUint64(alignedSize - size)
	a.stats.BytesWasted.Add(wastedU64)
	a.stats.TotalAllocs.Add(1)

	oldOffsetU64, err := conv.Int64ToUint64(oldOffset)
	if err != nil {
		return 0, err
	}
	return (uint64(curr.index) << a.chunkBits) | oldOffsetU64, nil
}

// locate resolves a global offset and length into a chunk and a local range.
// Caller must hold a.mu.
func (a *Arena) locate(offset uint64, n int) (*chunk, int, error) {
	if a.freed {
		return nil, 0, ErrFreed
	}
	if offset == 0 {
		return nil, 0, fmt.Errorf("%w: null offset", ErrOutOfBounds)
	}

	chunkIdx := offset >> a.chunkBits
	if chunkIdx >= uint64(len(a.chunks)) {
		return nil, 0, fmt.Errorf("%w: offset %d", ErrOutOfBounds, offset)
	}
	c := a.chunks[chunkIdx]

	local := int64(offset & a.chunkMask) //nolint:gosec // masked by chunk size
	if local+int64(n) > c.offset {
		return nil, 0, fmt.Errorf("%w: offset %d len %d", ErrOutOfBounds, offset, n)
	}
	return c, int(local), nil
}

// ReadAt copies len(p) bytes starting at offset into p.
func (a *Arena) ReadAt(p []byte, offset uint64) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	c, local, err := a.locate(offset, len(p))
	if err != nil {
		return err
	}
	copy(p, c.data[local:local+len(p)])
	return nil
}

// WriteAt copies p into the arena starting at offset.
// The range must lie inside previously allocated memory.
func (a *Arena) WriteAt(p []byte, offset uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	c, local, err := a.locate(offset, len(p))
	if err != nil {
		return err
	}
	copy(c.data[local:local+len(p)], p)
	return nil
}

// Dump calls fn for every chunk with its index and used bytes.
// The slice passed to fn is only valid during the call.
func (a *Arena) Dump(fn func(index uint32, used []byte) error) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.freed {
		return ErrFreed
	}
	for _, c := range a.chunks {
		if err := fn(c.index, c.data[:c.offset]); err != nil {
			return err
		}
	}
	return nil
}

// Load restores the used bytes of the chunk at index, allocating chunks up
// to index if necessary. It is the inverse of Dump.
func (a *Arena) Load(index uint32, used []byte) error {
	if len(used) > a.chunkSize {
		return fmt.Errorf("%w: chunk %d holds %d bytes", ErrAllocationTooLarge, index, len(used))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.freed {
		return ErrFreed
	}

	idx, err := conv.Uint32ToInt(index)
	if err != nil {
		return err
	}
	for len(a.chunks) <= idx {
		if err := a.allocateChunkLocked(context.Background()); err != nil {
			return err
		}
	}

	c := a.chunks[idx]
	copy(c.data, used)
	c.offset = int64(len(used))
	if idx == 0 && c.offset < int64(a.alignment) {
		c.offset = int64(a.alignment)
	}

	usedU64, _ := conv.IntToUint64(len(used))
	a.stats.BytesUsed.Add(usedU64)
	return nil
}

// Stats returns the current arena statistics.
func (a *Arena) Stats() Stats {
	return Stats{
		ChunksAllocated: a.stats.ChunksAllocated.Load(),
		BytesReserved:   a.stats.BytesReserved.Load(),
		BytesUsed:       a.stats.BytesUsed.Load(),
		BytesWasted:     a.stats.BytesWasted.Load(),
		ActiveChunks:    a.stats.ActiveChunks.Load(),
		TotalAllocs:     a.stats.TotalAllocs.Load(),
	}
}

// Free unmaps all chunks. The arena cannot be used afterwards.
// Free is idempotent.
func (a *Arena) Free() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.freed {
		return nil
	}
	a.freed = true

	if a.acquirer != nil {
		if reserved := a.stats.BytesReserved.Load(); reserved > 0 {
			a.acquirer.ReleaseMemory(int64(reserved)) //nolint:gosec // bounded by MaxChunks*chunkSize
		}
	}

	var errs []error
	for _, c := range a.chunks {
		if c.mapping != nil {
			errs = append(errs, c.mapping.Close())
		}
	}
	a.chunks = nil

	a.stats.ActiveChunks.Store(0)
	a.stats.BytesReserved.Store(0)
	a.stats.BytesUsed.Store(0)
	a.stats.BytesWasted.Store(0)

	return errors.Join(errs...)
}

// Usage returns the memory usage percentage.
func (a *Arena) Usage() float64 {
	stats := a.Stats()
	if stats.BytesReserved == 0 {
		return 0
	}
	return float64(stats.BytesUsed) / float64(stats.BytesReserved) * 100
}

func (a *Arena) String() string {
	stats := a.Stats()
	return fmt.Sprintf(
		"Arena{chunks: %d, reserved: %.2f MB, used: %.2f MB, wasted: %.2f KB, usage: %.1f%%, allocs: %d}",
		stats.ActiveChunks,
		float64(stats.BytesReserved)/(1024*1024),
		float64(stats.BytesUsed)/(1024*1024),
		float64(stats.BytesWasted)/1024,
		a.Usage(),
		stats.TotalAllocs,
	)
}
