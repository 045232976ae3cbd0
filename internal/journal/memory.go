package journal

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryMedium is an in-memory Medium. Nothing survives the process; it is
// meant for tests and for engines that only need replication in-process.
type MemoryMedium struct {
	mu      sync.RWMutex
	entries []Entry
	closed  bool
}

// NewMemoryMedium creates an empty in-memory medium.
func NewMemoryMedium() *MemoryMedium {
	return &MemoryMedium{}
}

// Append stores entries. Sequences must increase past the current tail.
func (m *MemoryMedium) Append(ctx context.Context, entries []Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	last := int64(0)
	if n := len(m.entries); n > 0 {
		last = m.entries[n-1].Sequence
	}
	for _, e := range entries {
		if e.Sequence <= last {
			return fmt.Errorf("memory medium: sequence %d not after %d", e.Sequence, last)
		}
		last = e.Sequence
	}

	for _, e := range entries {
		e.Payload = append([]byte(nil), e.Payload...)
		m.entries = append(m.entries, e)
	}
	return nil
}

// ReadFrom calls fn for each entry with Sequence >= from.
// It iterates a snapshot so fn may run while writers append.
func (m *MemoryMedium) ReadFrom(ctx context.Context, from int64, fn func(Entry) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	snapshot := m.entries
	m.mu.RUnlock()

	start := sort.Search(len(snapshot), func(i int) bool {
		return snapshot[i].Sequence >= from
	})
	for _, e := range snapshot[start:] {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

// Last returns the highest stored sequence number, 0 when empty.
func (m *MemoryMedium) Last(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if n := len(m.entries); n > 0 {
		return m.entries[n-1].Sequence, nil
	}
	return 0, nil
}

// Len returns the number of stored entries.
func (m *MemoryMedium) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Close marks the medium closed. Further calls fail with ErrClosed.
func (m *MemoryMedium) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
