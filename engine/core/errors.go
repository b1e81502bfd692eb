package core

import (
	"errors"
	"fmt"
)

// Error classes. Every native error is mapped to one of these before it
// leaves a backend.
var (
	ErrGeneric      = errors.New("generic error")
	ErrExternal     = errors.New("external failure")
	ErrInvalidArg   = errors.New("invalid argument")
	ErrInvalidUsage = errors.New("invalid usage")
	ErrMemory       = errors.New("out of memory")
	ErrUnsupported  = errors.New("unsupported")
)

// Device conditions. Both belong to the external class.
var (
	ErrSurfaceOutOfDate = fmt.Errorf("surface out of date: %w", ErrExternal)
	ErrDeviceLost       = fmt.Errorf("device lost: %w", ErrExternal)
)

// Status codes returned alongside the error classes.
const (
	StatusSuccess      = 0
	StatusGeneric      = -1
	StatusExternal     = -4
	StatusInvalidArg   = -5
	StatusInvalidUsage = -7
	StatusMemory       = -10
	StatusUnsupported  = -12
)

// Status returns the negative status code for err, 0 for nil.
func Status(err error) int {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, ErrMemory):
		return StatusMemory
	case errors.Is(err, ErrUnsupported):
		return StatusUnsupported
	case errors.Is(err, ErrInvalidUsage):
		return StatusInvalidUsage
	case errors.Is(err, ErrInvalidArg):
		return StatusInvalidArg
	case errors.Is(err, ErrExternal):
		return StatusExternal
	default:
		return StatusGeneric
	}
}
