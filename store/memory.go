package store

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/hupe1980/diskindex/internal/arena"
	"github.com/hupe1980/diskindex/internal/resource"
)

// MemoryOption configures a Memory store.
type MemoryOption func(*memoryOptions)

type memoryOptions struct {
	chunkSize  int
	controller *resource.Controller
}

// WithChunkSize sets the arena chunk size. It also bounds the largest single allocation.
func WithChunkSize(size int) MemoryOption {
	return func(o *memoryOptions) {
		o.chunkSize = size
	}
}

// WithMemoryLimit bounds the bytes the store may reserve.
func WithMemoryLimit(bytes int64) MemoryOption {
	return func(o *memoryOptions) {
		o.controller = resource.NewController(resource.Config{MemoryLimitBytes: bytes})
	}
}

// WithController shares a resource controller between stores.
func WithController(c *resource.Controller) MemoryOption {
	return func(o *memoryOptions) {
		o.controller = c
	}
}

// Memory is a Store backed by an off-heap arena.
type Memory struct {
	arena  *arena.Arena
	closed atomic.Bool
}

// NewMemory creates an empty in-memory store.
func NewMemory(optFns ...MemoryOption) (*Memory, error) {
	opts := memoryOptions{chunkSize: arena.DefaultChunkSize}
	for _, fn := range optFns {
		fn(&opts)
	}

	var arenaOpts []arena.Option
	if opts.controller != nil {
		arenaOpts = append(arenaOpts, arena.WithMemoryAcquirer(opts.controller))
	}

	a, err := arena.New(opts.chunkSize, arenaOpts...)
	if err != nil {
		return nil, wrap("open", Null, err)
	}
	return &Memory{arena: a}, nil
}

// Allocate implements Store.
func (m *Memory) Allocate(size int) (Position, error) {
	if m.closed.Load() {
		return Null, wrap("allocate", Null, ErrClosed)
	}
	off, err := m.arena.AllocContext(context.Background(), size)
	if err != nil {
		return Null, wrap("allocate", Null, translateArenaErr(err))
	}
	return Position(off), nil //nolint:gosec // arena offsets fit in 63 bits
}

// ReadAt implements Store.
func (m *Memory) ReadAt(p []byte, pos Position) error {
	if !pos.Valid() {
		return wrap("read", pos, ErrInvalidPosition)
	}
	return wrap("read", pos, translateArenaErr(m.arena.ReadAt(p, uint64(pos))))
}

// WriteAt implements Store.
func (m *Memory) WriteAt(p []byte, pos Position) error {
	if !pos.Valid() {
		return wrap("write", pos, ErrInvalidPosition)
	}
	return wrap("write", pos, translateArenaErr(m.arena.WriteAt(p, uint64(pos))))
}

// Commit implements Store. Memory stores have nothing to flush.
func (m *Memory) Commit() error {
	if m.closed.Load() {
		return wrap("commit", Null, ErrClosed)
	}
	return nil
}

// Close releases the arena.
func (m *Memory) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	return wrap("close", Null, m.arena.Free())
}

// Stats returns the arena statistics.
func (m *Memory) Stats() arena.Stats {
	return m.arena.Stats()
}

func (m *Memory) String() string {
	return m.arena.String()
}

func translateArenaErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, arena.ErrFreed):
		return ErrClosed
	case errors.Is(err, arena.ErrOutOfBounds):
		return fmt.Errorf("%w: %w", ErrInvalidPosition, err)
	case errors.Is(err, arena.ErrAllocationTooLarge), errors.Is(err, arena.ErrMaxChunksExceeded):
		return fmt.Errorf("%w: %w", ErrAllocationTooLarge, err)
	default:
		return err
	}
}
