package store

import "fmt"

// HeaderSize is the encoded size of a Header.
//
// Layout (little-endian):
//
//	Offset  Size  Field
//	0       8     FirstNode
//	8       8     Position (self)
//	16      8     RecordCount
const HeaderSize = 24

// Header is the durable root of one map: the position of its current
// skip-list head and its record count.
type Header struct {
	FirstNode   Position
	Position    Position
	RecordCount int64
}

// EncodeHeader is the Encoder for Header.
func EncodeHeader(dst []byte, h Header) []byte {
	dst = AppendPosition(dst, h.FirstNode)
	dst = AppendPosition(dst, h.Position)
	return AppendInt64(dst, h.RecordCount)
}

// DecodeHeader is the Decoder for Header.
func DecodeHeader(r *Reader) (Header, error) {
	at := r.Position()

	var (
		h   Header
		err error
	)
	if h.FirstNode, err = r.ReadPosition(); err != nil {
		return Header{}, err
	}
	if h.Position, err = r.ReadPosition(); err != nil {
		return Header{}, err
	}
	if h.RecordCount, err = r.Int64(); err != nil {
		return Header{}, err
	}
	if h.Position != at {
		return Header{}, wrap("read header", at, fmt.Errorf("%w: header claims %s", ErrCorrupt, h.Position))
	}
	return h, nil
}

// NewHeader allocates and persists a header pointing at firstNode.
func NewHeader(s Store, firstNode Position) (Header, error) {
	pos, err := s.Allocate(HeaderSize)
	if err != nil {
		return Header{}, err
	}
	h := Header{FirstNode: firstNode, Position: pos}
	if err := WriteHeader(s, h); err != nil {
		return Header{}, err
	}
	return h, nil
}

// ReadHeader loads the header stored at pos.
func ReadHeader(s Store, pos Position) (Header, error) {
	return Read(s, pos, DecodeHeader)
}

// WriteHeader persists h at its own position.
func WriteHeader(s Store, h Header) error {
	if !h.Position.Valid() {
		return wrap("write header", h.Position, ErrInvalidPosition)
	}
	return Write(s, h.Position, h, EncodeHeader)
}
