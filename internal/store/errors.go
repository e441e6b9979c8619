package store

import "errors"

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrCorrupt is returned when a stored artifact fails its integrity
	// check on read.
	ErrCorrupt = errors.New("stored artifact corrupt")
)
