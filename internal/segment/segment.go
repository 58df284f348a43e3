// Package segment implements reusable subject-matching rules shared
// across flags, re-expressed over the closed operator set (internal/operator)
// rather than the teacher's general JSON-Logic expression evaluator: the
// specification requires a fixed, auditable predicate list instead of an
// open-ended DSL, so segments compile conditions straight to operator.Op.
package segment

import "github.com/devrimkaya/flagship/internal/attr"
import "github.com/devrimkaya/flagship/internal/operator"

// MatchType controls how a segment's conditions combine.
type MatchType string

const (
	MatchAll MatchType = "all"
	MatchAny MatchType = "any"
)

// Condition is a single attribute predicate.
type Condition struct {
	Attribute string      `json:"attribute"`
	Operator  operator.Op `json:"operator"`
	Literal   string      `json:"literal"`
}

// Segment is a named, reusable group of subjects defined by one or more
// conditions combined with MatchType semantics.
type Segment struct {
	Key        string      `json:"key"`
	Name       string      `json:"name,omitempty"`
	MatchType  MatchType   `json:"match_type"`
	Conditions []Condition `json:"conditions"`
}

// Match evaluates the segment against ctx. A segment with no conditions
// never matches: an empty ALL segment is vacuously true in set theory,
// but that reading would make a misconfigured segment match everyone,
// so segments require at least one condition to match anything.
func Match(seg Segment, ctx attr.Context) bool {
	if len(seg.Conditions) == 0 {
		return false
	}
	switch seg.MatchType {
	case MatchAny:
		for _, c := range seg.Conditions {
			if evalCondition(c, ctx) {
				return true
			}
		}
		return false
	default: // MatchAll
		for _, c := range seg.Conditions {
			if !evalCondition(c, ctx) {
				return false
			}
		}
		return true
	}
}

func evalCondition(c Condition, ctx attr.Context) bool {
	v, present := ctx.Get(c.Attribute)
	return operator.Check(c.Operator, v, present, c.Literal)
}
