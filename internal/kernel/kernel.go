// Package kernel is the single application point for commands against a model.
//
// The kernel has no concurrency of its own. Exactly one goroutine may call
// Execute or Query at a time; the engine enforces this with its apply lock.
package kernel

import (
	"fmt"
)

// Command mutates a model of type M in place and returns a result.
//
// Commands must be deterministic: given the same model state the same
// command produces the same mutation and the same result, because the model
// is rebuilt purely by replaying commands.
type Command[M any] interface {
	Execute(model M) (any, error)
}

// CommandFunc adapts a function to the Command interface.
// Function commands cannot be serialized and are meant for in-memory journals.
type CommandFunc[M any] func(model M) (any, error)

// Execute calls f(model).
func (f CommandFunc[M]) Execute(model M) (any, error) {
	return f(model)
}

// PanicError reports a panic raised inside a command.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("command panicked: %v", e.Value)
}

// Kernel owns the live model.
type Kernel[M any] struct {
	model M
}

// New creates a kernel around model.
func New[M any](model M) *Kernel[M] {
	return &Kernel[M]{model: model}
}

// Execute applies cmd to the model and returns its result.
//
// Errors from the command are returned unchanged. A panic is recovered and
// returned as *PanicError. In both cases the model keeps whatever partial
// state the command left behind; there is no rollback.
func (k *Kernel[M]) Execute(cmd Command[M]) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = &PanicError{Value: r}
		}
	}()
	return cmd.Execute(k.model)
}

// Query runs a read-only function against the model.
// It goes through the same serialization point as Execute.
func (k *Kernel[M]) Query(fn func(model M) (any, error)) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = &PanicError{Value: r}
		}
	}()
	return fn(k.model)
}
