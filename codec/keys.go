package codec

import (
	"bytes"
	"cmp"
	"encoding/binary"
	"math"
	"strings"
)

// Int64 encodes int64 as 8 little-endian bytes.
type Int64 struct{}

func (Int64) Append(dst []byte, v int64) ([]byte, error) {
	return binary.LittleEndian.AppendUint64(dst, uint64(v)), nil //nolint:gosec // bit reinterpretation
}

func (Int64) Decode(b []byte) (int64, error) {
	if len(b) != 8 {
		return 0, lengthError("int64", 8, len(b))
	}
	return int64(binary.LittleEndian.Uint64(b)), nil //nolint:gosec // bit reinterpretation
}

func (Int64) Compare(a, b int64) int { return cmp.Compare(a, b) }
func (Int64) Name() string           { return "int64" }

// Uint64 encodes uint64 as 8 little-endian bytes.
type Uint64 struct{}

func (Uint64) Append(dst []byte, v uint64) ([]byte, error) {
	return binary.LittleEndian.AppendUint64(dst, v), nil
}

func (Uint64) Decode(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, lengthError("uint64", 8, len(b))
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (Uint64) Compare(a, b uint64) int { return cmp.Compare(a, b) }
func (Uint64) Name() string            { return "uint64" }

// Float64 encodes float64 as its IEEE-754 bits. NaN orders before every number.
type Float64 struct{}

func (Float64) Append(dst []byte, v float64) ([]byte, error) {
	return binary.LittleEndian.AppendUint64(dst, math.Float64bits(v)), nil
}

func (Float64) Decode(b []byte) (float64, error) {
	if len(b) != 8 {
		return 0, lengthError("float64", 8, len(b))
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
}

func (Float64) Compare(a, b float64) int { return cmp.Compare(a, b) }
func (Float64) Name() string             { return "float64" }

// String encodes strings as their raw UTF-8 bytes, ordered bytewise.
type String struct{}

func (String) Append(dst []byte, v string) ([]byte, error) { return append(dst, v...), nil }
func (String) Decode(b []byte) (string, error)             { return string(b), nil }
func (String) Compare(a, b string) int                     { return strings.Compare(a, b) }
func (String) Name() string                                { return "string" }

// Bytes encodes byte slices verbatim, ordered bytewise.
type Bytes struct{}

func (Bytes) Append(dst []byte, v []byte) ([]byte, error) { return append(dst, v...), nil }
func (Bytes) Decode(b []byte) ([]byte, error)             { return bytes.Clone(b), nil }
func (Bytes) Compare(a, b []byte) int                     { return bytes.Compare(a, b) }
func (Bytes) Name() string                                { return "bytes" }
