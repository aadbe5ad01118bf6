// Package encoding holds the byte-level contract for values that cross a
// process boundary, plus JSON helpers for the common case.
package encoding

import "encoding/json"

// Serializable is implemented by values that own their wire representation.
// The type parameter only labels compile-time assertion sites; the method
// set does not use it, so any type with these two methods satisfies every
// instantiation.
type Serializable[T any] interface {
	Serialize() ([]byte, error)
	Deserialize([]byte) error
}

// MarshalJSON encodes v as JSON.
func MarshalJSON[T any](v T) ([]byte, error) {
	return json.Marshal(v)
}

// UnmarshalJSON decodes data into a fresh T.
func UnmarshalJSON[T any](data []byte) (T, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, err
}
