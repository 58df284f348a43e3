// Package snapshot defines the self-contained, cache-ready view of a
// flag that the Cache Layer stores and the Evaluator consumes: flag type,
// its environment overlay, variants, and rules with segments already
// resolved by key. Adapted from the reference snapshot package's
// ETag-versioned, atomically-swapped global — the ETag computation and
// "always return a non-nil snapshot" contract are kept; the flag-view
// shape itself is rebuilt around the flag-type/overlay/rule model this
// system persists.
package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/devrimkaya/flagship/internal/rules"
	"github.com/devrimkaya/flagship/internal/segment"
	"github.com/devrimkaya/flagship/internal/variant"
)

// Type is the flag-type discriminator that drives the Evaluator's
// type-default dispatch.
type Type string

const (
	TypeBoolean    Type = "boolean"
	TypePercentage Type = "percentage"
	TypeVariant    Type = "variant"
	TypeSegment    Type = "segment"
)

// Flag is the self-contained, per-(project, flag, env) view the spec
// describes for the "flag:{project}:{flag_key}:{env_key}" cache key:
// flag type, overlay state, variants, and rules with segments already
// resolved by key so the evaluator never needs a second store lookup.
type Flag struct {
	ProjectKey     string                     `json:"project_key"`
	EnvironmentKey string                     `json:"environment_key"`
	FlagKey        string                     `json:"flag_key"`
	Type           Type                       `json:"type"`
	Enabled        bool                       `json:"enabled"`
	Percentage     int                        `json:"percentage"`
	DefaultVariant *string                    `json:"default_variant,omitempty"`
	Variants       []variant.Variant          `json:"variants,omitempty"`
	Rules          []rules.Rule               `json:"rules,omitempty"`
	Segments       map[string]segment.Segment `json:"segments,omitempty"`
	UpdatedAt      time.Time                  `json:"updated_at"`
}

// Bootstrap is the full set of a (project, environment)'s flags, the
// shape the SDK Bootstrap wire adapter returns and the shape Redis stores
// under "flags:{project}:{env_key}".
type Bootstrap struct {
	ETag        string          `json:"etag"`
	Flags       map[string]Flag `json:"flags"`
	GeneratedAt time.Time       `json:"generated_at"`
}

// ComputeETag produces a deterministic weak ETag from a flag set: same
// content, same ETag, regardless of map iteration order, since the flags
// are serialized as a slice ordered by sorted key.
func ComputeETag(flags map[string]Flag) string {
	keys := make([]string, 0, len(flags))
	for k := range flags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ordered := make([]Flag, 0, len(keys))
	for _, k := range keys {
		ordered = append(ordered, flags[k])
	}
	serialized, _ := json.Marshal(ordered)
	sum := sha256.Sum256(serialized)
	return `W/"` + hex.EncodeToString(sum[:]) + `"`
}

// NewBootstrap builds a Bootstrap from a flag set, stamping its ETag.
func NewBootstrap(flags map[string]Flag) Bootstrap {
	return Bootstrap{
		ETag:        ComputeETag(flags),
		Flags:       flags,
		GeneratedAt: time.Now().UTC(),
	}
}
