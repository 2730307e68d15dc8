package store

import (
	"encoding/binary"
	"fmt"
)

// Encoder appends the binary form of v to dst.
type Encoder[T any] func(dst []byte, v T) []byte

// Decoder reads a T from r.
type Decoder[T any] func(r *Reader) (T, error)

// Read decodes a T stored at pos.
func Read[T any](s Store, pos Position, dec Decoder[T]) (T, error) {
	if !pos.Valid() {
		var zero T
		return zero, wrap("read", pos, ErrInvalidPosition)
	}
	return dec(NewReader(s, pos))
}

// Write encodes v and writes it at pos, overwriting an allocation of the same size.
func Write[T any](s Store, pos Position, v T, enc Encoder[T]) error {
	return s.WriteAt(enc(nil, v), pos)
}

// Append allocates room for v, writes it and returns its position.
func Append[T any](s Store, v T, enc Encoder[T]) (Position, error) {
	buf := enc(nil, v)
	pos, err := s.Allocate(len(buf))
	if err != nil {
		return Null, err
	}
	if err := s.WriteAt(buf, pos); err != nil {
		return Null, err
	}
	return pos, nil
}

// Reader decodes little-endian fields sequentially from a Store.
type Reader struct {
	s   Store
	pos Position
	buf [8]byte
}

// NewReader returns a Reader positioned at pos.
func NewReader(s Store, pos Position) *Reader {
	return &Reader{s: s, pos: pos}
}

// Position returns the position of the next unread byte.
func (r *Reader) Position() Position { return r.pos }

// Skip advances the reader by n bytes.
func (r *Reader) Skip(n int) { r.pos += Position(n) }

func (r *Reader) read(p []byte) error {
	if err := r.s.ReadAt(p, r.pos); err != nil {
		return err
	}
	r.pos += Position(len(p))
	return nil
}

// Bytes reads the next n bytes into a new slice.
func (r *Reader) Bytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, wrap("read", r.pos, fmt.Errorf("%w: negative length %d", ErrCorrupt, n))
	}
	p := make([]byte, n)
	if n == 0 {
		return p, nil
	}
	if err := r.read(p); err != nil {
		return nil, err
	}
	return p, nil
}

// Uint8 reads one byte.
func (r *Reader) Uint8() (uint8, error) {
	if err := r.read(r.buf[:1]); err != nil {
		return 0, err
	}
	return r.buf[0], nil
}

// Uint32 reads a little-endian uint32.
func (r *Reader) Uint32() (uint32, error) {
	if err := r.read(r.buf[:4]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(r.buf[:4]), nil
}

// Int64 reads a little-endian int64.
func (r *Reader) Int64() (int64, error) {
	if err := r.read(r.buf[:8]); err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(r.buf[:8])), nil //nolint:gosec // bit reinterpretation
}

// ReadPosition reads a stored position.
func (r *Reader) ReadPosition() (Position, error) {
	v, err := r.Int64()
	return Position(v), err
}

// AppendInt64 appends v in little-endian order.
func AppendInt64(dst []byte, v int64) []byte {
	return binary.LittleEndian.AppendUint64(dst, uint64(v)) //nolint:gosec // bit reinterpretation
}

// AppendPosition appends p in little-endian order.
func AppendPosition(dst []byte, p Position) []byte {
	return AppendInt64(dst, int64(p))
}

// AppendBlob appends a length-prefixed byte string.
func AppendBlob(dst []byte, b []byte) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(b))) //nolint:gosec // bounded by MaxBlobSize
	return append(dst, b...)
}

// MaxBlobSize bounds length-prefixed byte strings.
const MaxBlobSize = 1 << 26

// Blob reads a length-prefixed byte string.
func (r *Reader) Blob() ([]byte, error) {
	n, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	if n > MaxBlobSize {
		return nil, wrap("read", r.pos, fmt.Errorf("%w: blob length %d", ErrCorrupt, n))
	}
	return r.Bytes(int(n))
}

// EncodeBlob is the Encoder for length-prefixed byte strings.
func EncodeBlob(dst []byte, b []byte) []byte { return AppendBlob(dst, b) }

// DecodeBlob is the Decoder for length-prefixed byte strings.
func DecodeBlob(r *Reader) ([]byte, error) { return r.Blob() }
