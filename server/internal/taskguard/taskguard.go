// Package taskguard runs worker tasks so that a panic raised by externally
// supplied code does not take down the worker goroutine running it.
package taskguard

import (
	"fmt"
	"runtime/debug"

	"github.com/df-mc/chunkflow/server/internal/invariant"
)

// PanicError is returned by Run if the function passed panicked.
type PanicError struct {
	// Value is the value passed to panic.
	Value any
	// Stack is the stack trace of the goroutine at the moment of the panic.
	Stack []byte
}

// Error ...
func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Run calls fn and returns a *PanicError if it panicked. Panics are not
// recovered in builds with invariant checks enabled.
func Run(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if invariant.Enabled {
				panic(r)
			}
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	fn()
	return nil
}

// Value calls fn and returns its result, or a *PanicError if it panicked.
func Value[T any](fn func() T) (value T, err error) {
	err = Run(func() {
		value = fn()
	})
	return
}
