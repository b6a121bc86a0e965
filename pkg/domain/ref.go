package domain

import (
	"bytes"
	"encoding/json"
)

// Ref is a typed handle to an entity of kind T. It carries only the ID; the
// type parameter keeps refs of different kinds from being mixed up. A Ref
// whose target was deleted is valid data and dereferences to absent.
type Ref[T any] struct {
	ID string
}

// RefTo builds a typed reference from an ID.
func RefTo[T any](id string) Ref[T] { return Ref[T]{ID: id} }

// IsZero reports whether the reference is empty.
func (r Ref[T]) IsZero() bool { return r.ID == "" }

func (r Ref[T]) String() string { return r.ID }

// MarshalJSON encodes the reference as its bare ID.
func (r Ref[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.ID)
}

// UnmarshalJSON accepts a bare ID string or null.
func (r *Ref[T]) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		r.ID = ""
		return nil
	}
	return json.Unmarshal(data, &r.ID)
}
