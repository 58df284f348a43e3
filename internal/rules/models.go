// Package rules implements the ordered targeting rule walk: a rule is a
// tagged union over three condition kinds (segment membership, a single
// attribute predicate, or an explicit subject id list) paired with a
// serve action. Rules are walked in position order until one matches or
// the list is exhausted. Adapted from the reference Rule/Condition model,
// generalized from a flat operator+value condition into the tagged union
// the specification requires, and re-expressed to return an explicit
// optional match (Rule, bool) instead of a null-or-populated decision —
// turning a matched rule's Serve fields into a Decision depends on the
// owning flag's type, so that step belongs to the evaluator, not here.
package rules

import (
	"github.com/devrimkaya/flagship/internal/attr"
	"github.com/devrimkaya/flagship/internal/operator"
	"github.com/devrimkaya/flagship/internal/segment"
)

// Kind identifies which condition shape a Rule carries.
type Kind string

const (
	KindSegment   Kind = "segment"
	KindAttribute Kind = "attribute"
	KindSubjectID Kind = "subject_id"
)

// Serve describes the action to take when a rule matches: force the flag
// on/off, optionally pin a variant, or fall through to a rule-local
// percentage rollout when Percentage is non-nil.
type Serve struct {
	Enabled    bool    `json:"enabled"`
	Variant    *string `json:"variant,omitempty"`
	Percentage *int    `json:"percentage,omitempty"` // percentage in [0, 100]; nil means unconditional
}

// Rule is a single ordered entry in a flag's targeting rule list.
type Rule struct {
	ID         string      `json:"id"`
	Position   int         `json:"position"`
	Kind       Kind        `json:"kind"`
	SegmentKey string      `json:"segment_key,omitempty"` // KindSegment
	Attribute  string      `json:"attribute,omitempty"`   // KindAttribute
	Operator   operator.Op `json:"operator,omitempty"`    // KindAttribute
	Literal    string      `json:"literal,omitempty"`     // KindAttribute
	SubjectIDs []string    `json:"subject_ids,omitempty"` // KindSubjectID
	Serve      Serve       `json:"serve"`
}

func (r Rule) conditionMatches(ctx attr.Context, subjectID string, segments map[string]segment.Segment) bool {
	switch r.Kind {
	case KindSegment:
		seg, ok := segments[r.SegmentKey]
		if !ok {
			return false
		}
		return segment.Match(seg, ctx)
	case KindAttribute:
		v, present := ctx.Get(r.Attribute)
		return operator.Check(r.Operator, v, present, r.Literal)
	case KindSubjectID:
		for _, id := range r.SubjectIDs {
			if id == subjectID {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// Walk evaluates rules in Position order against ctx/subjectID and
// returns the first rule to match along with true. If no rule matches it
// returns the zero Rule and false — "pass", distinct from a false
// decision — so the caller falls through to the flag's type-default
// behavior.
func Walk(rules []Rule, ctx attr.Context, subjectID string, segments map[string]segment.Segment) (Rule, bool) {
	for _, r := range orderedByPosition(rules) {
		if r.conditionMatches(ctx, subjectID, segments) {
			return r, true
		}
	}
	return Rule{}, false
}

func orderedByPosition(rules []Rule) []Rule {
	ordered := make([]Rule, len(rules))
	copy(ordered, rules)
	for i := 0; i < len(ordered); i++ {
		for j := i + 1; j < len(ordered); j++ {
			if ordered[j].Position < ordered[i].Position {
				ordered[i], ordered[j] = ordered[j], ordered[i]
			}
		}
	}
	return ordered
}
