// Package codec encodes map keys and values into their persisted form.
//
// Codec selection is a breaking-change boundary: bytes written with one codec
// do not decode with another. Every codec carries a stable name so persisted
// descriptors can record which one they were created with.
package codec

import (
	"errors"
	"fmt"
)

// ErrLength is returned when encoded bytes have the wrong length for a codec.
var ErrLength = errors.New("codec: unexpected encoded length")

// Codec encodes and decodes values of type T.
// Implementations must be safe for concurrent use.
type Codec[T any] interface {
	// Append encodes v and appends it to dst.
	Append(dst []byte, v T) ([]byte, error)
	// Decode decodes a value from b. b is not retained.
	Decode(b []byte) (T, error)
	// Name returns the stable codec name.
	Name() string
}

// Ordered is a Codec whose values have a total order. Map keys use Ordered codecs.
type Ordered[T any] interface {
	Codec[T]
	// Compare returns -1, 0 or +1.
	Compare(a, b T) int
}

// Encode is a helper returning the encoded form of v.
func Encode[T any](c Codec[T], v T) ([]byte, error) {
	return c.Append(nil, v)
}

// MustEncode is a helper for tests.
func MustEncode[T any](c Codec[T], v T) []byte {
	b, err := c.Append(nil, v)
	if err != nil {
		panic(fmt.Errorf("codec %s encode failed: %w", c.Name(), err))
	}
	return b
}

func lengthError(name string, want, got int) error {
	return fmt.Errorf("%w: %s wants %d bytes, got %d", ErrLength, name, want, got)
}
