package resolver

import "errors"

// ErrClosed is returned by a resolver after Close.
var ErrClosed = errors.New("resolver closed")

// haltError marks a strategy failure that ends the chain without trying later strategies.
type haltError struct {
	err error
}

func (e *haltError) Error() string {
	return e.err.Error()
}

func (e *haltError) Unwrap() error {
	return e.err
}

// Halt wraps err so the resolver returns it as-is and tries no further strategy.
func Halt(err error) error {
	return &haltError{err: err}
}
