// Package model defines domain entities for the application.
package model

import (
	"bytes"
	"encoding/json"
)

// Nullable is a value whose absence is explicit. It always serializes,
// either as the value or as JSON null.
type Nullable[T any] struct {
	Value T
	Valid bool
}

// Some returns a present value.
func Some[T any](v T) Nullable[T] {
	return Nullable[T]{Value: v, Valid: true}
}

// Null returns an absent value.
func Null[T any]() Nullable[T] {
	return Nullable[T]{}
}

// Get returns the value and whether it is present.
func (n Nullable[T]) Get() (T, bool) {
	return n.Value, n.Valid
}

// OrZero returns the value, or the zero value when absent.
func (n Nullable[T]) OrZero() T {
	if !n.Valid {
		var zero T
		return zero
	}
	return n.Value
}

// MarshalJSON implements json.Marshaler.
func (n Nullable[T]) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.Value)
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *Nullable[T]) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*n = Nullable[T]{}
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*n = Some(v)
	return nil
}
