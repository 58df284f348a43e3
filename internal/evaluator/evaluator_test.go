package evaluator

import (
	"testing"

	"github.com/devrimkaya/flagship/internal/attr"
	"github.com/devrimkaya/flagship/internal/hashing"
	"github.com/devrimkaya/flagship/internal/rules"
	"github.com/devrimkaya/flagship/internal/segment"
	"github.com/devrimkaya/flagship/internal/snapshot"
	"github.com/devrimkaya/flagship/internal/variant"
)

func ctxWith(userID string) attr.Context {
	return attr.FromRaw(map[string]any{"user_id": userID})
}

// S1: disabled short-circuit.
func TestEvaluateDisabledShortCircuit(t *testing.T) {
	f := &snapshot.Flag{
		FlagKey: "checkout",
		Type:    snapshot.TypeBoolean,
		Enabled: false,
		Rules: []rules.Rule{
			{ID: "r0", Kind: rules.KindSubjectID, SubjectIDs: []string{"u1"}, Serve: rules.Serve{Enabled: true}},
		},
	}
	d := Evaluate(f, ctxWith("u1"), "u1")
	if d.Enabled || d.Reason != "flag_disabled" {
		t.Fatalf("got %+v", d)
	}
}

// S2: user-id rule wins over percentage; rules exhausted falls to
// boolean default=on.
func TestEvaluateUserIDRuleWinsOverDefault(t *testing.T) {
	pct := 0
	f := &snapshot.Flag{
		FlagKey:    "checkout",
		Type:       snapshot.TypeBoolean,
		Enabled:    true,
		Percentage: pct,
		Rules: []rules.Rule{
			{ID: "r0", Position: 0, Kind: rules.KindSubjectID, SubjectIDs: []string{"u42"}, Serve: rules.Serve{Enabled: true}},
		},
	}
	d := Evaluate(f, ctxWith("u42"), "u42")
	if !d.Enabled || d.Reason != "rule_match" {
		t.Fatalf("u42: got %+v", d)
	}
	d2 := Evaluate(f, ctxWith("u43"), "u43")
	if !d2.Enabled || d2.Reason != "default" {
		t.Fatalf("u43: expected enabled default (boolean default is ON), got %+v", d2)
	}
}

// S3: percentage determinism.
func TestEvaluatePercentageDeterminism(t *testing.T) {
	f := &snapshot.Flag{FlagKey: "checkout", Type: snapshot.TypePercentage, Enabled: true, Percentage: 50}
	bAlice := hashing.Bucket("checkout", "alice")
	dAlice := Evaluate(f, ctxWith("alice"), "alice")
	if dAlice.Reason != "percentage_rollout" || dAlice.Enabled != (bAlice < 50) {
		t.Fatalf("alice: got %+v bucket=%d", dAlice, bAlice)
	}
}

// S4: variant weighted assignment.
func TestEvaluateVariantAssignment(t *testing.T) {
	f := &snapshot.Flag{
		FlagKey: "checkout",
		Type:    snapshot.TypeVariant,
		Enabled: true,
		Variants: []variant.Variant{
			{Key: "A", Weight: 1, Position: 0},
			{Key: "B", Weight: 3, Position: 1},
		},
	}
	d := Evaluate(f, ctxWith("c"), "c")
	if !d.Enabled || d.Reason != "variant_assignment" || d.VariantKey == nil {
		t.Fatalf("got %+v", d)
	}
}

// S5: segment flag with no match vs match.
func TestEvaluateSegmentFlag(t *testing.T) {
	segments := map[string]segment.Segment{
		"paid": {
			Key:       "paid",
			MatchType: segment.MatchAny,
			Conditions: []segment.Condition{
				{Attribute: "plan", Operator: "in", Literal: "pro,enterprise"},
			},
		},
	}
	f := &snapshot.Flag{
		FlagKey:  "new-dashboard",
		Type:     snapshot.TypeSegment,
		Enabled:  true,
		Segments: segments,
		Rules: []rules.Rule{
			{ID: "r0", Kind: rules.KindSegment, SegmentKey: "paid", Serve: rules.Serve{Enabled: true}},
		},
	}
	free := Evaluate(f, attr.FromRaw(map[string]any{"plan": "free"}), "u1")
	if free.Enabled || free.Reason != "no_segment_match" {
		t.Fatalf("free: got %+v", free)
	}
	pro := Evaluate(f, attr.FromRaw(map[string]any{"plan": "pro"}), "u1")
	if !pro.Enabled || pro.Reason != "rule_match" {
		t.Fatalf("pro: got %+v", pro)
	}
}

func TestEvaluateFlagNotFound(t *testing.T) {
	d := Evaluate(nil, attr.Context{}, "u1")
	if d.Enabled || d.Reason != "flag_not_found" {
		t.Fatalf("got %+v", d)
	}
}

func TestPrepareContextSubjectResolutionOrder(t *testing.T) {
	_, id := PrepareContext(map[string]any{"user_id": "u1", "id": "i1"})
	if id != "u1" {
		t.Fatalf("expected user_id to take precedence, got %s", id)
	}
	_, id = PrepareContext(map[string]any{"id": "i1", "anonymous_id": "a1"})
	if id != "i1" {
		t.Fatalf("expected id to take precedence over anonymous_id, got %s", id)
	}
	_, id = PrepareContext(map[string]any{"anonymous_id": "a1"})
	if id != "a1" {
		t.Fatalf("expected anonymous_id fallback, got %s", id)
	}
	_, id = PrepareContext(map[string]any{})
	if id == "" {
		t.Fatal("expected a random subject id when none supplied")
	}
}

func TestPrepareContextFlattensUser(t *testing.T) {
	ctx, _ := PrepareContext(map[string]any{
		"user_id": "u1",
		"user":    map[string]any{"plan": "pro"},
	})
	v, ok := ctx.Get("plan")
	if !ok || v.AsString() != "pro" {
		t.Fatalf("expected user.plan flattened to top-level plan, got %+v ok=%v", v, ok)
	}
}
