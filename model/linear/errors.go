package linear

import "errors"

var (
	// ErrInvalidSafetensors indicates a malformed safetensors file.
	ErrInvalidSafetensors = errors.New("invalid safetensors file")

	// ErrTensorNotFound indicates a missing tensor.
	ErrTensorNotFound = errors.New("tensor not found")

	// ErrUnsupportedDType indicates a tensor element type other than F32.
	ErrUnsupportedDType = errors.New("unsupported tensor dtype")

	// ErrInvalidConfig indicates an unusable config.json.
	ErrInvalidConfig = errors.New("invalid encoder config")
)
