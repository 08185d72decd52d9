package errors

import (
	"fmt"
	"runtime/debug"
)

// PanicError represents an error recovered from a panic
type PanicError struct {
	Value      interface{} // The panic value
	Stacktrace string      // Full stack trace
}

// Error implements the error interface
func (p *PanicError) Error() string {
	return fmt.Sprintf("panic recovered: %v", p.Value)
}

// NewPanicError builds a PanicError from a recovered value. Callers must
// invoke recover() themselves, directly inside their own deferred func —
// recover only works when called directly by a deferred function, so
// wrapping it in a helper like this one would always return nil.
func NewPanicError(recovered interface{}) *PanicError {
	return &PanicError{
		Value:      recovered,
		Stacktrace: string(debug.Stack()),
	}
}
