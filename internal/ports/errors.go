package ports

import "errors"

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned on a duplicate code or number, or when a
	// record is still referenced by others.
	ErrConflict = errors.New("record conflict")
)
