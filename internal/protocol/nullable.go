package protocol

import (
	"bytes"
	"encoding/json"
)

// Nullable is a partial-update field that distinguishes "absent" (Set is
// false), "explicitly null" (Set and Null) and "set to Value".
type Nullable[T any] struct {
	Set   bool
	Null  bool
	Value T
}

// UnmarshalJSON implements json.Unmarshaler. It is only called when the key
// is present, which is what marks the field as Set.
func (n *Nullable[T]) UnmarshalJSON(data []byte) error {
	n.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		n.Null = true
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(&n.Value)
}

// MarshalJSON implements json.Marshaler. Unset and null both encode as null.
func (n Nullable[T]) MarshalJSON() ([]byte, error) {
	if !n.Set || n.Null {
		return []byte("null"), nil
	}
	return json.Marshal(n.Value)
}

// Of returns a Nullable holding v.
func Of[T any](v T) Nullable[T] { return Nullable[T]{Set: true, Value: v} }

// Null returns an explicitly null Nullable.
func Null[T any]() Nullable[T] { return Nullable[T]{Set: true, Null: true} }
