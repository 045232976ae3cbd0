package engine

import (
	"context"
	"fmt"
	"sync"
)

// Future is the deferred result of a submitted command.
//
// It resolves once the command is durable and applied, or when it fails.
// Futures for one engine resolve in sequence-number order.
type Future struct {
	commandID string
	done      chan struct{}
	once      sync.Once

	// Written once before done is closed.
	seq    int64
	result any
	err    error
}

func newFuture(commandID string) *Future {
	return &Future{
		commandID: commandID,
		done:      make(chan struct{}),
	}
}

func (f *Future) resolve(seq int64, result any, err error) {
	f.once.Do(func() {
		f.seq = seq
		f.result = result
		f.err = err
		close(f.done)
	})
}

// CommandID returns the journal ID assigned to the command.
func (f *Future) CommandID() string {
	return f.commandID
}

// Done returns a channel closed when the future resolves.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future resolves or ctx ends.
//
// Abandoning the wait does not retract the command; once durable it will
// be applied.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SequenceNumber returns the record number the command was applied at.
// It is 0 until the future resolves, and stays 0 for commands that failed
// before being journaled.
func (f *Future) SequenceNumber() int64 {
	select {
	case <-f.done:
		return f.seq
	default:
		return 0
	}
}

// Await waits for f and converts its result to R.
func Await[R any](ctx context.Context, f *Future) (R, error) {
	var zero R
	v, err := f.Wait(ctx)
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	r, ok := v.(R)
	if !ok {
		return zero, fmt.Errorf("await: result is %T, not %T", v, zero)
	}
	return r, nil
}
