package hnsw

import (
	"errors"
	"fmt"
)

// ErrEmptyVector is returned when Insert is called with a zero-length
// vector.
var ErrEmptyVector = errors.New("hnsw: empty vector")

// ErrSerialization wraps all deserialization failures; use errors.Is
// to detect a malformed blob without matching the dynamic message.
var ErrSerialization = errors.New("hnsw: serialization error")

// DuplicateIDError is returned by Insert when id already exists in
// the index.
type DuplicateIDError struct {
	ID uint32
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("hnsw: duplicate node id %d", e.ID)
}

// DimensionMismatchError is returned by Insert when a vector's length
// doesn't match the dimensionality established by the first insert.
type DimensionMismatchError struct {
	Expected, Got int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("hnsw: dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}

func serializationErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrSerialization, fmt.Sprintf(format, args...))
}
