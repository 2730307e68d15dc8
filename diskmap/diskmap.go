package diskmap

import (
	"encoding/binary"
	"errors"
	"fmt"
	"iter"
	"strconv"

	"github.com/hupe1980/diskindex/codec"
	"github.com/hupe1980/diskindex/internal/hash"
	"github.com/hupe1980/diskindex/skiplist"
	"github.com/hupe1980/diskindex/store"
)

// DiskMap is a persistent map from K to V.
type DiskMap[K, V any] interface {
	// Get returns the value stored under k.
	Get(k K) (V, bool, error)
	// Put stores v under k and returns the replaced value, if any.
	Put(k K, v V) (V, bool, error)
	// Remove deletes k and returns its value, if any.
	Remove(k K) (V, bool, error)
	// ContainsKey reports whether k is present.
	ContainsKey(k K) (bool, error)
	// ContainsValue reports whether any key maps to a value encoding equal to v.
	ContainsValue(v V) (bool, error)
	// RecordPosition returns the position of the value record stored under k.
	RecordPosition(k K) (store.Position, bool, error)
	// ReadValue decodes the value record at pos.
	ReadValue(pos store.Position) (V, error)

	// Above returns the value records of keys greater than k (or equal when inclusive).
	Above(k K, inclusive bool) ([]store.Position, error)
	// Below returns the value records of keys less than k (or equal when inclusive).
	Below(k K, inclusive bool) ([]store.Position, error)
	// Between returns the value records of keys between from and to.
	Between(from K, includeFrom bool, to K, includeTo bool) ([]store.Position, error)

	// Range calls fn for every entry until fn returns false.
	Range(fn func(k K, v V) bool) error
	// Keys returns every key.
	Keys() ([]K, error)
	// PutAll stores every entry of seq with repeated Put. It is not atomic.
	PutAll(seq iter.Seq2[K, V]) error

	// Clear removes every entry.
	Clear() error
	// Size returns the number of entries.
	Size() int64
	// Header returns the position of the map's header, used to reopen it.
	Header() store.Position
	// Kind returns the map variant.
	Kind() Kind
}

// Kind identifies a map variant.
type Kind uint8

const (
	KindSkipList Kind = iota + 1
	KindHash
	KindMatrix
)

func (k Kind) String() string {
	switch k {
	case KindSkipList:
		return "skiplist"
	case KindHash:
		return "hash"
	case KindMatrix:
		return "matrix"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

const (
	// MaxHashLoadFactor is the largest load factor a HashMap pre-allocates.
	MaxHashLoadFactor = 5
	// MaxLoadFactor is the largest load factor; a non-negative int63 has 19 digits.
	MaxLoadFactor = 18
	// DefaultCacheSize is the default number of resolved heads a MatrixHashMap caches.
	DefaultCacheSize = 1024

	// hashThreshold is the largest load factor New maps to a HashMap.
	hashThreshold = 3
	// keysPerBucket is the target bucket occupancy when sizing from ExpectedKeys.
	keysPerBucket = 100
)

var (
	// ErrInvalidLoadFactor is returned for load factors outside the variant's range.
	ErrInvalidLoadFactor = errors.New("diskmap: invalid load factor")
	// ErrUnknownLayout is returned by Open when the header does not root a map.
	ErrUnknownLayout = errors.New("diskmap: unknown map layout")
)

// Bucket returns the bucket of an encoded key: the low-order loadFactor
// decimal digits of its non-negative 63-bit xxhash. These are the trailing
// digits, not the leading ones, so every loadFactor sees uniform buckets
// regardless of the hash's magnitude. The choice is part of the on-disk
// layout: changing it orphans existing hash and matrix maps.
func Bucket(encodedKey []byte, loadFactor int) int64 {
	return hash.NonNegative(hash.Sum64(encodedKey)) % pow10(loadFactor)
}

func pow10(n int) int64 {
	p := int64(1)
	for range n {
		p *= 10
	}
	return p
}

// Config selects a map variant.
type Config struct {
	// LoadFactor is the number of hash digits addressing buckets.
	// 0 selects a SkipListMap, 1..3 a HashMap and larger values a MatrixHashMap.
	LoadFactor int `yaml:"loadFactor" validate:"gte=0,lte=18"`
	// ExpectedKeys sizes the load factor when LoadFactor is 0.
	// Up to 1000 expected keys keep a SkipListMap.
	ExpectedKeys int64 `yaml:"expectedKeys" validate:"gte=0"`
}

// EffectiveLoadFactor returns the load factor New uses for c.
func (c Config) EffectiveLoadFactor() int {
	if c.LoadFactor > 0 || c.ExpectedKeys <= 1000 {
		return c.LoadFactor
	}
	return min(len(strconv.FormatInt(c.ExpectedKeys/keysPerBucket, 10)), MaxLoadFactor)
}

// Kind returns the variant New creates for c.
func (c Config) Kind() Kind {
	switch lf := c.EffectiveLoadFactor(); {
	case lf <= 0:
		return KindSkipList
	case lf <= hashThreshold:
		return KindHash
	default:
		return KindMatrix
	}
}

// New creates an empty map of the variant selected by cfg.
func New[K, V any](s store.Store, keys codec.Ordered[K], values codec.Codec[V], cfg Config, optFns ...Option) (DiskMap[K, V], error) {
	lf := cfg.EffectiveLoadFactor()
	switch cfg.Kind() {
	case KindSkipList:
		return NewSkipListMap(s, keys, values, optFns...)
	case KindHash:
		return NewHashMap(s, keys, values, lf, optFns...)
	default:
		return NewMatrixHashMap(s, keys, values, lf, optFns...)
	}
}

// Open reopens the map whose header is stored at headerPos, detecting its variant.
func Open[K, V any](s store.Store, keys codec.Ordered[K], values codec.Codec[V], headerPos store.Position, optFns ...Option) (DiskMap[K, V], error) {
	h, err := store.ReadHeader(s, headerPos)
	if err != nil {
		return nil, err
	}

	var tag [4]byte
	if err := s.ReadAt(tag[:], h.FirstNode); err != nil {
		return nil, err
	}
	switch binary.LittleEndian.Uint32(tag[:]) {
	case headTag:
		return OpenSkipListMap(s, keys, values, headerPos, optFns...)
	case bucketTableTag:
		return OpenHashMap(s, keys, values, headerPos, optFns...)
	case trieTag:
		return OpenMatrixHashMap(s, keys, values, headerPos, optFns...)
	default:
		return nil, fmt.Errorf("%w at %s", ErrUnknownLayout, h.FirstNode)
	}
}

// headTag is the key-length marker every skip-list head starts with.
const headTag = ^uint32(0)

// Option configures a map.
type Option func(*options)

type options struct {
	skiplist  []skiplist.Option
	cacheSize int
}

func buildOptions(optFns []Option) options {
	opts := options{cacheSize: DefaultCacheSize}
	for _, fn := range optFns {
		fn(&opts)
	}
	return opts
}

// WithSkipListOptions passes options to the underlying skip lists.
func WithSkipListOptions(opts ...skiplist.Option) Option {
	return func(o *options) {
		o.skiplist = append(o.skiplist, opts...)
	}
}

// WithCacheSize bounds the MatrixHashMap head cache.
func WithCacheSize(n int) Option {
	return func(o *options) {
		o.cacheSize = n
	}
}
