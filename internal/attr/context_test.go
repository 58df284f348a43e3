package attr

import "testing"

func TestFromRaw_FlattensUserObject(t *testing.T) {
	ctx := FromRaw(map[string]any{
		"user": map[string]any{
			"plan":    "enterprise",
			"country": "de",
		},
		"device": "ios",
	})

	if v, ok := ctx.Get("plan"); !ok || v.AsString() != "enterprise" {
		t.Fatalf("expected plan=enterprise flattened from user, got %v ok=%v", v, ok)
	}
	if v, ok := ctx.Get("country"); !ok || v.AsString() != "de" {
		t.Fatalf("expected country=de flattened from user, got %v ok=%v", v, ok)
	}
	if v, ok := ctx.Get("device"); !ok || v.AsString() != "ios" {
		t.Fatalf("expected device=ios untouched, got %v ok=%v", v, ok)
	}
}

func TestFromRaw_RemovesUserKeyAfterFlattening(t *testing.T) {
	ctx := FromRaw(map[string]any{
		"user": map[string]any{"plan": "pro"},
	})

	if _, ok := ctx.Get("user"); ok {
		t.Fatal("expected user key to be absent after flattening")
	}
}

func TestFromRaw_TopLevelKeyWinsOverNestedUserField(t *testing.T) {
	ctx := FromRaw(map[string]any{
		"plan": "top-level",
		"user": map[string]any{"plan": "nested"},
	})

	v, ok := ctx.Get("plan")
	if !ok || v.AsString() != "top-level" {
		t.Fatalf("expected top-level plan to win, got %v ok=%v", v, ok)
	}
}

func TestFromRaw_NonObjectUserKeptAsAttribute(t *testing.T) {
	ctx := FromRaw(map[string]any{
		"user": "u-123",
	})

	v, ok := ctx.Get("user")
	if !ok || v.AsString() != "u-123" {
		t.Fatalf("expected non-object user to remain a top-level attribute, got %v ok=%v", v, ok)
	}
}

func TestFromRaw_NoUserKey(t *testing.T) {
	ctx := FromRaw(map[string]any{"plan": "free"})

	if _, ok := ctx.Get("user"); ok {
		t.Fatal("expected user key to be absent when not present in input")
	}
	if v, ok := ctx.Get("plan"); !ok || v.AsString() != "free" {
		t.Fatalf("expected plan=free, got %v ok=%v", v, ok)
	}
}
