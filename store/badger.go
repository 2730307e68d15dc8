package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/hupe1980/diskindex/internal/cache"
)

const (
	// PageSize is the unit in which a Badger store persists bytes.
	PageSize = 4096
	// DefaultPageCache is the default number of clean pages kept in memory.
	DefaultPageCache = 1024
)

var (
	metaKey    = []byte("m")
	pagePrefix = byte('p')
)

// BadgerConfig configures a Badger store.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string
	// InMemory keeps the database in memory only.
	InMemory bool
	// SyncWrites makes every Commit durable before returning.
	SyncWrites bool
	// Logger receives BadgerDB's internal log output. Nil disables it.
	Logger *slog.Logger
	// PageCache is the number of clean pages cached. Defaults to DefaultPageCache.
	PageCache int
}

// DefaultBadgerConfig returns a durable configuration for path.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{Path: path, SyncWrites: true, PageCache: DefaultPageCache}
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Badger is a Store whose address space is split into fixed pages, each
// persisted as one BadgerDB key. Writes stay in a dirty-page set until Commit.
type Badger struct {
	db *badger.DB

	mu        sync.RWMutex
	watermark int64
	dirty     map[uint64][]byte
	clean     *cache.LRU[uint64, []byte]
	closed    bool
}

// OpenBadger opens or creates a Badger store.
func OpenBadger(cfg BadgerConfig) (*Badger, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, wrap("open", Null, errors.New("path is required for persistent database"))
	}
	if cfg.PageCache <= 0 {
		cfg.PageCache = DefaultPageCache
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, wrap("open", Null, fmt.Errorf("create database directory %s: %w", cfg.Path, err))
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, wrap("open", Null, fmt.Errorf("open badger database: %w", err))
	}

	s := &Badger{
		db:        db,
		watermark: SuperblockSize,
		dirty:     make(map[uint64][]byte),
		clean:     cache.NewLRU[uint64, []byte](cfg.PageCache),
	}
	if err := s.loadMeta(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Badger) loadMeta() error {
	return wrap("open", Null, s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			sb, err := decodeSuperblock(val)
			if err != nil {
				return err
			}
			s.watermark = sb.Watermark
			return nil
		})
	}))
}

func pageKey(page uint64) []byte {
	key := make([]byte, 9)
	key[0] = pagePrefix
	binary.BigEndian.PutUint64(key[1:], page)
	return key
}

// page returns the current content of a page. Callers must not modify it.
// Caller must hold s.mu.
func (s *Badger) page(n uint64) ([]byte, error) {
	if p, ok := s.dirty[n]; ok {
		return p, nil
	}
	if p, ok := s.clean.Get(n); ok {
		return p, nil
	}

	p := make([]byte, PageSize)
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(pageKey(n))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		_, err = item.ValueCopy(p[:0])
		return err
	})
	if err != nil {
		return nil, err
	}
	s.clean.Set(n, p)
	return p, nil
}

func (s *Badger) checkRange(pos Position, n int) error {
	if s.closed {
		return ErrClosed
	}
	if pos < SuperblockSize || int64(pos)+int64(n) > s.watermark {
		return fmt.Errorf("%w: %d bytes outside allocated range", ErrInvalidPosition, n)
	}
	return nil
}

// Allocate implements Store.
func (s *Badger) Allocate(size int) (Position, error) {
	if size <= 0 || size > MaxFileAllocation {
		return Null, wrap("allocate", Null, fmt.Errorf("%w: %d bytes", ErrAllocationTooLarge, size))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Null, wrap("allocate", Null, ErrClosed)
	}
	pos := s.watermark
	s.watermark = alignUp(pos + int64(size))
	return Position(pos), nil
}

// ReadAt implements Store.
func (s *Badger) ReadAt(p []byte, pos Position) error {
	// The page cache mutates on read, so reads are exclusive as well.
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkRange(pos, len(p)); err != nil {
		return wrap("read", pos, err)
	}

	off := uint64(pos) //nolint:gosec // validated by checkRange
	for done := 0; done < len(p); {
		n, in := off/PageSize, off%PageSize
		page, err := s.page(n)
		if err != nil {
			return wrap("read", pos, err)
		}
		c := copy(p[done:], page[in:])
		done += c
		off += uint64(c) //nolint:gosec // c >= 0
	}
	return nil
}

// WriteAt implements Store.
func (s *Badger) WriteAt(p []byte, pos Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkRange(pos, len(p)); err != nil {
		return wrap("write", pos, err)
	}

	off := uint64(pos) //nolint:gosec // validated by checkRange
	for done := 0; done < len(p); {
		n, in := off/PageSize, off%PageSize
		page, ok := s.dirty[n]
		if !ok {
			cur, err := s.page(n)
			if err != nil {
				return wrap("write", pos, err)
			}
			page = append([]byte(nil), cur...)
			s.dirty[n] = page
			s.clean.Invalidate(n)
		}
		c := copy(page[in:], p[done:])
		done += c
		off += uint64(c) //nolint:gosec // c >= 0
	}
	return nil
}

// Commit writes every dirty page and the allocation watermark in one batch.
func (s *Badger) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return wrap("commit", Null, ErrClosed)
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for n, page := range s.dirty {
		if err := wb.Set(pageKey(n), page); err != nil {
			return wrap("commit", Null, err)
		}
	}
	if err := wb.Set(metaKey, superblock{Watermark: s.watermark}.encode()); err != nil {
		return wrap("commit", Null, err)
	}
	if err := wb.Flush(); err != nil {
		return wrap("commit", Null, err)
	}

	for n, page := range s.dirty {
		s.clean.Set(n, page)
	}
	clear(s.dirty)
	return nil
}

// Close closes the database without committing.
func (s *Badger) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.dirty = nil
	s.clean.Purge()
	return wrap("close", Null, s.db.Close())
}

// DirtyPages returns the number of pages waiting for Commit.
func (s *Badger) DirtyPages() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.dirty)
}
