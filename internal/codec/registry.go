// Package codec serializes commands for the journal.
//
// Commands are plain data structs. A Registry maps a stable wire name to
// each command type so a journal written by one build can be replayed by
// the next even if Go type names move around.
package codec

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// ErrUnknownType is returned for commands whose type was never registered.
var ErrUnknownType = errors.New("unknown command type")

// Registry maps wire names to command types.
//
// Thread-safety: safe for concurrent use. Registration normally happens
// once at startup.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]reflect.Type
	byType map[reflect.Type]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]reflect.Type),
		byType: make(map[reflect.Type]string),
	}
}

// Register associates name with the dynamic type of prototype.
//
// Registering a value type (Set{}) makes Deserialize return values;
// registering a pointer (&Set{}) makes it return pointers.
func (r *Registry) Register(name string, prototype any) error {
	if name == "" {
		return errors.New("register: empty name")
	}
	if prototype == nil {
		return fmt.Errorf("register %q: nil prototype", name)
	}
	t := reflect.TypeOf(prototype)

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byName[name]; ok && existing != t {
		return fmt.Errorf("register %q: already bound to %s", name, existing)
	}
	if existing, ok := r.byType[t]; ok && existing != name {
		return fmt.Errorf("register %s: already named %q", t, existing)
	}
	r.byName[name] = t
	r.byType[t] = name
	return nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(name string, prototype any) {
	if err := r.Register(name, prototype); err != nil {
		panic(err)
	}
}

// Name returns the wire name of cmd's type.
func (r *Registry) Name(cmd any) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name, ok := r.byType[reflect.TypeOf(cmd)]
	if !ok {
		return "", fmt.Errorf("%w: %T", ErrUnknownType, cmd)
	}
	return name, nil
}

// New returns a pointer to a fresh zero command for name and whether the
// registered type is itself a pointer.
func (r *Registry) New(name string) (ptr any, isPointer bool, err error) {
	r.mu.RLock()
	t, ok := r.byName[name]
	r.mu.RUnlock()

	if !ok {
		return nil, false, fmt.Errorf("%w: %q", ErrUnknownType, name)
	}
	if t.Kind() == reflect.Pointer {
		return reflect.New(t.Elem()).Interface(), true, nil
	}
	return reflect.New(t).Interface(), false, nil
}

// Names returns registered wire names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
