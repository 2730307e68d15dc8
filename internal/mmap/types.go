package mmap

import "errors"

// Advice is an access hint for a mapping.
type Advice int

const (
	// AdviseNormal clears earlier hints.
	AdviseNormal Advice = iota
	// AdviseRandom suits pointer chasing, such as skip list traversal.
	AdviseRandom
	// AdviseSequential suits full scans.
	AdviseSequential
)

var (
	// ErrClosed is returned by a Mapping after Close.
	ErrClosed = errors.New("mmap: mapping is closed")
	// ErrInvalidSize is returned for non-positive anonymous sizes and
	// negative file sizes.
	ErrInvalidSize = errors.New("mmap: invalid size")
	// ErrInvalidOffset is returned by ReadAt for negative offsets.
	ErrInvalidOffset = errors.New("mmap: invalid offset")
)
