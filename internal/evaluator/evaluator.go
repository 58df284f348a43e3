// Package evaluator composes the segment matcher, variant assigner, and
// rule engine into the single entry point the wire adapters call:
// Evaluate(flag, ctx, subjectID) -> Decision. Adapted from the reference
// evaluation package's short-circuit step ordering and the engine
// package's context attribute-lookup fallback chain, generalized to the
// flag-type-dispatch model the specification requires.
package evaluator

import (
	"github.com/google/uuid"

	"github.com/devrimkaya/flagship/internal/attr"
	"github.com/devrimkaya/flagship/internal/decision"
	"github.com/devrimkaya/flagship/internal/hashing"
	"github.com/devrimkaya/flagship/internal/rules"
	"github.com/devrimkaya/flagship/internal/snapshot"
	"github.com/devrimkaya/flagship/internal/variant"
)

// PrepareContext normalizes a raw decoded-JSON attribute bag into a
// Context and resolves the subject identifier, in order: context.user_id,
// context.id, context.anonymous_id, or a fresh random value when none of
// those are present. A random subject id loses determinism by design —
// callers that need stickiness must supply a stable one of the three
// recognized fields.
func PrepareContext(raw map[string]any) (attr.Context, string) {
	ctx := attr.FromRaw(raw)
	for _, key := range []string{"user_id", "id", "anonymous_id"} {
		if v, ok := ctx.Get(key); ok {
			return ctx, v.AsString()
		}
	}
	return ctx, uuid.NewString()
}

// Evaluate resolves a single flag's decision for subjectID given ctx.
// flag may be nil, representing "no FlagEnvironment overlay exists for
// this environment".
func Evaluate(flag *snapshot.Flag, ctx attr.Context, subjectID string) decision.Decision {
	if flag == nil {
		return decision.Decision{Reason: decision.ReasonFlagNotFound}
	}
	if !flag.Enabled {
		return decision.Decision{FlagKey: flag.FlagKey, Reason: decision.ReasonFlagDisabled}
	}

	if r, matched := rules.Walk(flag.Rules, ctx, subjectID, flag.Segments); matched {
		return decideFromRule(flag, r, subjectID)
	}

	return decideDefault(flag, subjectID)
}

func decideFromRule(flag *snapshot.Flag, r rules.Rule, subjectID string) decision.Decision {
	ruleID := r.ID

	if flag.Type == snapshot.TypeVariant && r.Serve.Variant != nil {
		return decision.Decision{
			FlagKey:     flag.FlagKey,
			Enabled:     true,
			VariantKey:  r.Serve.Variant,
			Reason:      decision.ReasonRuleMatch,
			MatchedRule: &ruleID,
		}
	}

	if r.Serve.Percentage != nil {
		bucket := hashing.Bucket(flag.FlagKey, subjectID)
		return decision.Decision{
			FlagKey:     flag.FlagKey,
			Enabled:     bucket < *r.Serve.Percentage,
			Reason:      decision.RulePercentageReason(ruleID),
			MatchedRule: &ruleID,
		}
	}

	return decision.Decision{
		FlagKey:     flag.FlagKey,
		Enabled:     r.Serve.Enabled,
		Reason:      decision.ReasonRuleMatch,
		MatchedRule: &ruleID,
	}
}

func decideDefault(flag *snapshot.Flag, subjectID string) decision.Decision {
	switch flag.Type {
	case snapshot.TypePercentage:
		bucket := hashing.Bucket(flag.FlagKey, subjectID)
		return decision.Decision{
			FlagKey: flag.FlagKey,
			Enabled: bucket < flag.Percentage,
			Reason:  decision.ReasonPercentageRollout,
		}
	case snapshot.TypeVariant:
		key := variant.Assign(flag.FlagKey+":variant", subjectID, flag.Variants, flag.DefaultVariant)
		return decision.Decision{
			FlagKey:    flag.FlagKey,
			Enabled:    true,
			VariantKey: key,
			Reason:     decision.ReasonVariantAssignment,
		}
	case snapshot.TypeSegment:
		return decision.Decision{FlagKey: flag.FlagKey, Enabled: false, Reason: decision.ReasonSegmentNoMatch}
	default: // TypeBoolean
		return decision.Decision{FlagKey: flag.FlagKey, Enabled: true, Reason: decision.ReasonDefault}
	}
}
