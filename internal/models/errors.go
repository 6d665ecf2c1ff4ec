package models

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no reading exists for the requested key.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable marks read-path failures of the durable store so callers
	// can tell them apart from ErrNotFound.
	ErrUnavailable = errors.New("service unavailable")

	// ErrInvalidReading is returned for readings that cannot be mapped to
	// their stored form.
	ErrInvalidReading = errors.New("invalid reading")
)

// StorageError wraps a durable store failure with the operation that failed.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// NewStorageError wraps err, returning nil for a nil err.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// IsStorageError reports whether err carries a StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// Unavailable wraps err so that errors.Is(err, ErrUnavailable) holds while
// keeping the original cause in the chain.
func Unavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}
