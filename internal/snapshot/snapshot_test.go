package snapshot

import "testing"

func TestComputeETagDeterministic(t *testing.T) {
	flags := map[string]Flag{
		"checkout": {FlagKey: "checkout", Type: TypeBoolean, Enabled: true},
		"beta":     {FlagKey: "beta", Type: TypePercentage, Percentage: 50},
	}
	a := ComputeETag(flags)
	b := ComputeETag(flags)
	if a != b {
		t.Fatalf("expected deterministic etag, got %q != %q", a, b)
	}
}

func TestComputeETagChangesWithContent(t *testing.T) {
	a := ComputeETag(map[string]Flag{"f": {FlagKey: "f", Enabled: true}})
	b := ComputeETag(map[string]Flag{"f": {FlagKey: "f", Enabled: false}})
	if a == b {
		t.Fatal("expected etag to change when flag content changes")
	}
}

func TestComputeETagOrderIndependent(t *testing.T) {
	a := map[string]Flag{"a": {FlagKey: "a"}, "b": {FlagKey: "b"}}
	b := map[string]Flag{"b": {FlagKey: "b"}, "a": {FlagKey: "a"}}
	if ComputeETag(a) != ComputeETag(b) {
		t.Fatal("expected etag to be independent of map iteration order")
	}
}
