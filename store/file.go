package store

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/hupe1980/diskindex/internal/fs"
)

// MaxFileAllocation bounds a single File allocation.
const MaxFileAllocation = 1 << 26

// FileOption configures a File store.
type FileOption func(*fileOptions)

type fileOptions struct {
	fs         fs.FileSystem
	syncCommit bool
}

// WithFileSystem sets the filesystem used to open the image.
func WithFileSystem(fsys fs.FileSystem) FileOption {
	return func(o *fileOptions) {
		o.fs = fsys
	}
}

// WithSyncOnCommit controls whether Commit fsyncs the image. Default true.
func WithSyncOnCommit(sync bool) FileOption {
	return func(o *fileOptions) {
		o.syncCommit = sync
	}
}

// File is a Store backed by a single image file.
//
// Allocations past the last committed watermark are lost if the process
// exits before Commit.
type File struct {
	path string
	opts fileOptions

	mu     sync.RWMutex
	f      fs.File
	sb     superblock
	closed bool
}

// OpenFile opens or creates the image at path.
func OpenFile(path string, optFns ...FileOption) (*File, error) {
	opts := fileOptions{fs: fs.Default, syncCommit: true}
	for _, fn := range optFns {
		fn(&opts)
	}

	f, err := opts.fs.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, wrap("open", Null, err)
	}

	st := &File{path: path, opts: opts, f: f}
	if err := st.init(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return st, nil
}

func (s *File) init() error {
	info, err := s.f.Stat()
	if err != nil {
		return wrap("open", Null, err)
	}

	if info.Size() == 0 {
		s.sb = superblock{Watermark: SuperblockSize}
		if _, err := s.f.WriteAt(s.sb.encode(), 0); err != nil {
			return wrap("open", Null, err)
		}
		return nil
	}

	buf := make([]byte, SuperblockSize)
	if _, err := s.f.ReadAt(buf, 0); err != nil {
		return wrap("open", Null, fmt.Errorf("%w: %w", ErrCorrupt, err))
	}
	sb, err := decodeSuperblock(buf)
	if err != nil {
		return wrap("open", Null, err)
	}
	s.sb = sb
	return nil
}

// Path returns the image path.
func (s *File) Path() string { return s.path }

// Allocate implements Store.
func (s *File) Allocate(size int) (Position, error) {
	if size <= 0 || size > MaxFileAllocation {
		return Null, wrap("allocate", Null, fmt.Errorf("%w: %d bytes", ErrAllocationTooLarge, size))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Null, wrap("allocate", Null, ErrClosed)
	}
	pos := s.sb.Watermark
	s.sb.Watermark = alignUp(pos + int64(size))
	return Position(pos), nil
}

func (s *File) checkRange(pos Position, n int) error {
	if s.closed {
		return ErrClosed
	}
	if pos < SuperblockSize || int64(pos)+int64(n) > s.sb.Watermark {
		return fmt.Errorf("%w: %d bytes outside allocated range", ErrInvalidPosition, n)
	}
	return nil
}

// ReadAt implements Store. Allocated bytes that were never written read as zero.
func (s *File) ReadAt(p []byte, pos Position) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkRange(pos, len(p)); err != nil {
		return wrap("read", pos, err)
	}
	n, err := s.f.ReadAt(p, int64(pos))
	if errors.Is(err, io.EOF) {
		clear(p[n:])
		err = nil
	}
	return wrap("read", pos, err)
}

// WriteAt implements Store.
func (s *File) WriteAt(p []byte, pos Position) error {
	// Exclusive so a concurrent reader never observes a partial write.
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkRange(pos, len(p)); err != nil {
		return wrap("write", pos, err)
	}
	_, err := s.f.WriteAt(p, int64(pos))
	return wrap("write", pos, err)
}

// Commit persists the allocation watermark and syncs the image.
func (s *File) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return wrap("commit", Null, ErrClosed)
	}
	if s.opts.syncCommit {
		if err := s.f.Sync(); err != nil {
			return wrap("commit", Null, err)
		}
	}

	next := s.sb
	next.Commits++
	if _, err := s.f.WriteAt(next.encode(), 0); err != nil {
		return wrap("commit", Null, err)
	}
	if s.opts.syncCommit {
		if err := s.f.Sync(); err != nil {
			return wrap("commit", Null, err)
		}
	}
	s.sb = next
	return nil
}

// Close closes the image without committing.
func (s *File) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return wrap("close", Null, s.f.Close())
}

// Watermark returns the next free position.
func (s *File) Watermark() Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Position(s.sb.Watermark)
}
