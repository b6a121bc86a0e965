package domain

import (
	"math"
	"slices"
	"strings"
)

// Distribution is an opaque serialized probability distribution. The store
// only needs equality and structural validity; evaluation lives elsewhere.
type Distribution struct {
	Kind   string    `json:"kind"`
	Params []float64 `json:"params"`
}

// Equal reports whether two distributions are identical.
func (d Distribution) Equal(other Distribution) bool {
	return d.Kind == other.Kind && slices.Equal(d.Params, other.Params)
}

// Clone returns a deep copy.
func (d Distribution) Clone() Distribution {
	return Distribution{Kind: d.Kind, Params: slices.Clone(d.Params)}
}

// Validate checks the payload is well formed.
func (d Distribution) Validate() error {
	if strings.TrimSpace(d.Kind) == "" {
		return BadRequest("distribution kind required")
	}
	if len(d.Params) == 0 {
		return BadRequest("distribution params required")
	}
	for _, p := range d.Params {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return BadRequest("distribution params must be finite")
		}
	}
	return nil
}
