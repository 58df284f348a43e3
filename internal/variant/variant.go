// Package variant assigns a subject to one of a flag's weighted variants.
// Adapted from the reference rollout package's cumulative-weight walk,
// but deliberately walks an explicitly ordered slice rather than a Go map:
// map iteration order is unspecified, and variant stability under
// reweighting requires a stable walk order independent of map internals.
package variant

import (
	"encoding/json"

	"github.com/devrimkaya/flagship/internal/hashing"
)

// Variant is one weighted outcome of a variant-type flag. Position fixes
// the walk order and must be assigned at creation time, independent of
// any later weight edits. Payload is an opaque value returned to the
// caller alongside the decision; the evaluator never inspects it.
type Variant struct {
	Key      string          `json:"key"`
	Name     string          `json:"name,omitempty"`
	Weight   int             `json:"weight"` // non-negative; need not sum to any particular total
	Position int             `json:"position"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// Assign buckets subject into one of variants using salt, walking variants
// in Position order and accumulating each one's share of the total weight
// as a percentage; it returns the key of the first variant whose
// cumulative share exceeds the bucket. If there are no variants, Assign
// returns def. If every weight is zero, the first variant by position is
// returned unconditionally.
func Assign(salt, subject string, variants []Variant, def *string) *string {
	if len(variants) == 0 {
		return def
	}
	ordered := orderedByPosition(variants)
	total := 0
	for _, v := range ordered {
		total += v.Weight
	}
	if total == 0 {
		key := ordered[0].Key
		return &key
	}
	bucket := hashing.Bucket(salt, subject)
	cumulative := 0
	cumulativeWeight := 0
	for _, v := range ordered {
		cumulativeWeight += v.Weight
		cumulative = 100 * cumulativeWeight / total
		if bucket < cumulative {
			key := v.Key
			return &key
		}
	}
	key := ordered[len(ordered)-1].Key
	return &key
}

func orderedByPosition(variants []Variant) []Variant {
	ordered := make([]Variant, len(variants))
	copy(ordered, variants)
	for i := 0; i < len(ordered); i++ {
		for j := i + 1; j < len(ordered); j++ {
			if ordered[j].Position < ordered[i].Position {
				ordered[i], ordered[j] = ordered[j], ordered[i]
			}
		}
	}
	return ordered
}
