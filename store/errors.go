package store

import "errors"

var (
	// ErrClosed is returned when the store has been closed.
	ErrClosed = errors.New("vector store is closed")

	// ErrInvalidKey is returned for an empty model or content key.
	ErrInvalidKey = errors.New("invalid vector key")

	// ErrCorruptRecord is returned when a stored record cannot be decoded.
	ErrCorruptRecord = errors.New("corrupt vector record")
)
