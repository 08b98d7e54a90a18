// Package check implements the fatal error taxonomy of the engine.
//
// None of these errors is returned as a value from the core: an inference
// pass that continued past a shape or device fault would only produce
// meaningless numbers. Failf panics with a *Error carrying a stack trace, and
// process boundaries (the CLI, the HTTP surface, tests) turn the panic back
// into an error with Catch.
package check

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// Kind classifies a fatal failure.
type Kind int

const (
	// ConfigurationError is an invalid layer parameter, detected at construction.
	ConfigurationError Kind = iota + 1
	// ShapeMismatch is a Forward whose inputs disagree with the last Reshape.
	ShapeMismatch
	// DeviceError is a backend allocate/copy/launch failure or a missing context.
	DeviceError
	// WeightSizeMismatch is a loaded parameter whose element count is wrong.
	WeightSizeMismatch
)

func (k Kind) String() string {
	switch k {
	case ConfigurationError:
		return "configuration error"
	case ShapeMismatch:
		return "shape mismatch"
	case DeviceError:
		return "device error"
	case WeightSizeMismatch:
		return "weight size mismatch"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is the payload of every fatal panic raised by the engine.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	return e.Kind.String() + ": " + e.Msg
}

// Failf aborts the current computation with a fatal error of the given kind.
func Failf(kind Kind, format string, args ...any) {
	panic(errors.WithStack(&Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}))
}

// Config fails with ConfigurationError unless cond holds.
func Config(cond bool, format string, args ...any) {
	if !cond {
		Failf(ConfigurationError, format, args...)
	}
}

// Device fails with DeviceError if err is not nil.
func Device(err error, op string) {
	if err != nil {
		Failf(DeviceError, "%s: %v", op, err)
	}
}

// Catch runs fn and converts a fatal panic into an error. Panics whose value
// is not an error are wrapped; the stack trace attached by Failf is kept.
func Catch(fn func()) error {
	exception := exceptions.Try(fn)
	if exception == nil {
		return nil
	}
	if err, ok := exception.(error); ok {
		return err
	}
	return errors.Errorf("panic: %v", exception)
}

// KindOf reports the Kind of err if it wraps an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
