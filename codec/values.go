package codec

import (
	"encoding/binary"
	"math"

	"github.com/hupe1980/diskindex/store"
)

// Unit is the empty value of set-like maps.
type Unit = struct{}

// UnitCodec encodes Unit as zero bytes.
type UnitCodec struct{}

func (UnitCodec) Append(dst []byte, _ Unit) ([]byte, error) { return dst, nil }

func (UnitCodec) Decode(b []byte) (Unit, error) {
	if len(b) != 0 {
		return Unit{}, lengthError("unit", 0, len(b))
	}
	return Unit{}, nil
}

func (UnitCodec) Name() string { return "unit" }

// Position encodes a store position as 8 little-endian bytes.
type Position struct{}

func (Position) Append(dst []byte, v store.Position) ([]byte, error) {
	return store.AppendPosition(dst, v), nil
}

func (Position) Decode(b []byte) (store.Position, error) {
	if len(b) != 8 {
		return store.Null, lengthError("position", 8, len(b))
	}
	return store.Position(binary.LittleEndian.Uint64(b)), nil //nolint:gosec // bit reinterpretation
}

func (Position) Compare(a, b store.Position) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func (Position) Name() string { return "position" }

// Float32Vector encodes fixed-width vectors as little-endian IEEE-754 float32.
type Float32Vector struct {
	Dim int
}

func (c Float32Vector) Append(dst []byte, v []float32) ([]byte, error) {
	if len(v) != c.Dim {
		return nil, lengthError("float32 vector", c.Dim*4, len(v)*4)
	}
	for _, f := range v {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(f))
	}
	return dst, nil
}

func (c Float32Vector) Decode(b []byte) ([]float32, error) {
	if len(b) != c.Dim*4 {
		return nil, lengthError("float32 vector", c.Dim*4, len(b))
	}
	v := make([]float32, c.Dim)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

func (c Float32Vector) Name() string { return "float32-vector" }
