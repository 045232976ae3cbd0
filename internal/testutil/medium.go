package testutil

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/roach88/memstate/internal/journal"
)

// ErrInjectedFailure is returned by Medium.Append while failures are on.
var ErrInjectedFailure = errors.New("testutil: injected append failure")

// Medium wraps a journal.Medium for tests.
//
// Appends can be failed on demand, and Close is a no-op, so a second
// journal store can be opened over the same entries after the first one
// closes.
type Medium struct {
	journal.Medium

	fail     atomic.Bool
	appended atomic.Int64
}

// NewMedium wraps inner. A nil inner gets a fresh MemoryMedium.
func NewMedium(inner journal.Medium) *Medium {
	if inner == nil {
		inner = journal.NewMemoryMedium()
	}
	return &Medium{Medium: inner}
}

// FailAppends switches injected append failures on or off.
func (m *Medium) FailAppends(on bool) {
	m.fail.Store(on)
}

// Appended returns how many entries were appended through m.
func (m *Medium) Appended() int64 {
	return m.appended.Load()
}

// Append fails with ErrInjectedFailure while failures are on.
func (m *Medium) Append(ctx context.Context, entries []journal.Entry) error {
	if m.fail.Load() {
		return ErrInjectedFailure
	}
	if err := m.Medium.Append(ctx, entries); err != nil {
		return err
	}
	m.appended.Add(int64(len(entries)))
	return nil
}

// Close leaves the wrapped medium open.
func (m *Medium) Close() error {
	return nil
}
