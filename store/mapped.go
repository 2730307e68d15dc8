package store

import (
	"errors"
	"fmt"
	"io"

	"github.com/hupe1980/diskindex/internal/mmap"
)

// Mapped is a read-only Store over a memory-mapped File image.
// It sees the image as of its last Commit.
type Mapped struct {
	m  *mmap.Mapping
	sb superblock
}

// OpenMapped maps the image at path read-only.
func OpenMapped(path string) (*Mapped, error) {
	m, err := mmap.Open(path)
	if err != nil {
		return nil, wrap("open", Null, err)
	}

	sb, err := decodeSuperblock(m.Bytes())
	if err != nil {
		_ = m.Close()
		return nil, wrap("open", Null, err)
	}
	_ = m.Advise(mmap.AdviseRandom)

	return &Mapped{m: m, sb: sb}, nil
}

// Allocate implements Store; Mapped stores are read-only.
func (s *Mapped) Allocate(int) (Position, error) {
	return Null, wrap("allocate", Null, ErrReadOnly)
}

// ReadAt implements Store.
func (s *Mapped) ReadAt(p []byte, pos Position) error {
	if pos < SuperblockSize || int64(pos)+int64(len(p)) > s.sb.Watermark {
		return wrap("read", pos, fmt.Errorf("%w: %d bytes outside allocated range", ErrInvalidPosition, len(p)))
	}
	n, err := s.m.ReadAt(p, int64(pos))
	switch {
	case errors.Is(err, mmap.ErrClosed):
		return wrap("read", pos, ErrClosed)
	case errors.Is(err, io.EOF):
		clear(p[n:])
		return nil
	default:
		return wrap("read", pos, err)
	}
}

// WriteAt implements Store; Mapped stores are read-only.
func (s *Mapped) WriteAt([]byte, Position) error {
	return wrap("write", Null, ErrReadOnly)
}

// Commit implements Store.
func (s *Mapped) Commit() error { return nil }

// Close unmaps the image.
func (s *Mapped) Close() error {
	return wrap("close", Null, s.m.Close())
}
