package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
)

// envelope is the wire form of a command.
type envelope struct {
	Type string          `json:"type"`
	Body json.RawMessage `json:"body"`
}

// JSON is a journal.Serializer that writes commands as
// {"type": <registered name>, "body": <command as JSON>}.
type JSON struct {
	registry *Registry
}

// NewJSON creates a JSON serializer over registry.
func NewJSON(registry *Registry) *JSON {
	return &JSON{registry: registry}
}

// Serialize encodes cmd with its registered name.
func (j *JSON) Serialize(cmd any) ([]byte, error) {
	name, err := j.registry.Name(cmd)
	if err != nil {
		return nil, fmt.Errorf("serialize: %w", err)
	}
	body, err := marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("serialize %s: %w", name, err)
	}
	data, err := marshal(envelope{Type: name, Body: body})
	if err != nil {
		return nil, fmt.Errorf("serialize %s: %w", name, err)
	}
	return data, nil
}

// marshal is json.Marshal without HTML escaping, so string payloads are
// journaled byte-for-byte.
func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	// Encoder adds a trailing newline, remove it
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Deserialize decodes data into a command of the registered type.
func (j *JSON) Deserialize(data []byte) (any, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("deserialize envelope: %w", err)
	}
	return j.Decode(env.Type, env.Body)
}

// Decode builds a command of the named type from its JSON body.
// Used for commands given by name on the command line or in scenarios.
func (j *JSON) Decode(name string, body []byte) (any, error) {
	ptr, isPointer, err := j.registry.New(name)
	if err != nil {
		return nil, fmt.Errorf("deserialize: %w", err)
	}
	if len(body) > 0 {
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.DisallowUnknownFields()
		if err := dec.Decode(ptr); err != nil {
			return nil, fmt.Errorf("deserialize %s: %w", name, err)
		}
	}
	if isPointer {
		return ptr, nil
	}
	return reflect.ValueOf(ptr).Elem().Interface(), nil
}
