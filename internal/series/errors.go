package series

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates the user has no durable record yet.
var ErrNotFound = errors.New("record not found")

// StorageIOError indicates the backing medium could not be read or written.
type StorageIOError struct {
	UserID string
	Op     string // "load" or "save"
	Err    error
}

// Error implements the error interface.
func (e *StorageIOError) Error() string {
	return fmt.Sprintf("storage %s failed for %s: %v", e.Op, e.UserID, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageIOError) Unwrap() error {
	return e.Err
}

// StorageFormatError indicates persisted data is not a valid two-column record.
type StorageFormatError struct {
	UserID string
	Line   int
	Err    error
}

// Error implements the error interface.
func (e *StorageFormatError) Error() string {
	return fmt.Sprintf("malformed record for %s at line %d: %v", e.UserID, e.Line, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageFormatError) Unwrap() error {
	return e.Err
}

// IsStorageError reports whether err came from the durable record,
// either as an I/O failure or as corrupt data.
func IsStorageError(err error) bool {
	var ioErr *StorageIOError
	var formatErr *StorageFormatError
	return errors.As(err, &ioErr) || errors.As(err, &formatErr)
}
