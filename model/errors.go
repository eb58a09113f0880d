package model

import "errors"

var (
	// ErrHandleClosed is returned when a closed handle is used.
	ErrHandleClosed = errors.New("model handle closed")

	// ErrVectorCount is returned when a model answers with the wrong number of vectors.
	ErrVectorCount = errors.New("model returned wrong number of vectors")
)
