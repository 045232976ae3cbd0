// Package kv is a string key/value model for the engine.
//
// It serves as the reference model for the CLI and scenario harness: its
// commands are registered with the codec so they can be journaled to
// SQLite and replayed.
package kv

import (
	"errors"
	"fmt"
	"sort"

	"github.com/roach88/memstate/internal/codec"
	"github.com/roach88/memstate/internal/engine"
	"github.com/roach88/memstate/internal/kernel"
)

var (
	// ErrEmptyKey is returned by commands given an empty key.
	ErrEmptyKey = errors.New("kv: empty key")

	// ErrNotFound is returned by Delete for a missing key.
	ErrNotFound = errors.New("kv: key not found")
)

// Wire names of the commands.
const (
	SetName    = "kv.set"
	DeleteName = "kv.delete"
	ClearName  = "kv.clear"
)

// Model is the key/value state. Version counts successful mutations.
type Model struct {
	Data    map[string]string `json:"data"`
	Version int64             `json:"version"`
}

// New returns an empty model.
func New() *Model {
	return &Model{Data: make(map[string]string)}
}

// Set stores Value under Key. Result: the model version after the write.
type Set struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Execute implements kernel.Command.
func (c Set) Execute(m *Model) (any, error) {
	if c.Key == "" {
		return nil, ErrEmptyKey
	}
	m.Data[c.Key] = c.Value
	m.Version++
	return m.Version, nil
}

// Delete removes Key. Result: the removed value.
type Delete struct {
	Key string `json:"key"`
}

// Execute implements kernel.Command.
func (c Delete) Execute(m *Model) (any, error) {
	if c.Key == "" {
		return nil, ErrEmptyKey
	}
	v, ok := m.Data[c.Key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, c.Key)
	}
	delete(m.Data, c.Key)
	m.Version++
	return v, nil
}

// Clear removes every key. Result: how many keys were removed.
type Clear struct{}

// Execute implements kernel.Command.
func (Clear) Execute(m *Model) (any, error) {
	n := len(m.Data)
	clear(m.Data)
	m.Version++
	return n, nil
}

var (
	_ kernel.Command[*Model] = Set{}
	_ kernel.Command[*Model] = Delete{}
	_ kernel.Command[*Model] = Clear{}
)

// Register binds the command wire names in reg.
func Register(reg *codec.Registry) error {
	return errors.Join(
		reg.Register(SetName, Set{}),
		reg.Register(DeleteName, Delete{}),
		reg.Register(ClearName, Clear{}),
	)
}

// Get reads one key through the engine's apply lock.
func Get(e *engine.Engine[*Model], key string) (string, bool, error) {
	type lookup struct {
		value string
		ok    bool
	}
	res, err := e.Query(func(m *Model) (any, error) {
		v, ok := m.Data[key]
		return lookup{value: v, ok: ok}, nil
	})
	if err != nil {
		return "", false, err
	}
	l := res.(lookup)
	return l.value, l.ok, nil
}

// Keys returns all keys in sorted order.
func Keys(e *engine.Engine[*Model]) ([]string, error) {
	res, err := e.Query(func(m *Model) (any, error) {
		keys := make([]string, 0, len(m.Data))
		for k := range m.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return keys, nil
	})
	if err != nil {
		return nil, err
	}
	return res.([]string), nil
}

// Snapshot returns a copy of the model for inspection and comparison.
func Snapshot(e *engine.Engine[*Model]) (*Model, error) {
	res, err := e.Query(func(m *Model) (any, error) {
		cp := &Model{Data: make(map[string]string, len(m.Data)), Version: m.Version}
		for k, v := range m.Data {
			cp.Data[k] = v
		}
		return cp, nil
	})
	if err != nil {
		return nil, err
	}
	return res.(*Model), nil
}
