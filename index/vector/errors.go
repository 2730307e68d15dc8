package vector

import "fmt"

// DimensionMismatchError is returned when a vector's width differs from the
// configured dimension. Vectors are never padded or truncated.
type DimensionMismatchError struct {
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("vector: dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}
