package executor

import "errors"

var (
	// ErrInvalidBatchSize is returned when the maximum batch size is below 1.
	ErrInvalidBatchSize = errors.New("batch size must be at least 1")
)
