// Package store is the Config Store: the authoritative, transactional
// persistence layer for every entity in the data model (projects,
// environments, flags, variants, per-environment overlays, rules,
// segments). Audit records are not kept here. Adapted from the
// reference store package's Store interface and its two implementations
// (an in-memory map store and a Postgres-backed store); generalized from
// a single flat Flag row to the full entity graph the specification
// requires, and extended with the explicit outbox every accepted write
// must enqueue (cache invalidation + change-bus event) instead of the
// reference's implicit "caller remembers to call snapshot.Update"
// convention.
package store

import (
	"time"

	"github.com/google/uuid"

	"github.com/devrimkaya/flagship/internal/operator"
	"github.com/devrimkaya/flagship/internal/segment"
	"github.com/devrimkaya/flagship/internal/snapshot"
)

// Project is the tenant boundary: it owns environments, flags, and
// segments, and all lookups are scoped beneath it.
type Project struct {
	ID     uuid.UUID
	Key    string
	Name   string
	SDKKey string
}

// Environment is one deployment target (e.g. "production", "staging")
// within a project.
type Environment struct {
	ID         uuid.UUID
	ProjectID  uuid.UUID
	Key        string
	Name       string
	Production bool
	Position   int
}

// Flag is a named toggle with a type; per-environment behavior lives in
// FlagEnvironment.
type Flag struct {
	ID          uuid.UUID
	ProjectID   uuid.UUID
	Key         string
	Name        string
	Description string
	Type        snapshot.Type
	Tags        []string
	Archived    bool
	Permanent   bool
	OwnerEmail  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// FlagVariant is one weighted outcome of a variant-type flag.
type FlagVariant struct {
	ID       uuid.UUID
	FlagID   uuid.UUID
	Key      string
	Name     string
	Payload  []byte
	Weight   int
	Position int
}

// FlagEnvironment is the per-environment overlay for a flag: whether
// it's on, its rollout percentage, its default variant, and any
// scheduled transition.
type FlagEnvironment struct {
	ID               uuid.UUID
	FlagID           uuid.UUID
	EnvironmentID    uuid.UUID
	Enabled          bool
	Percentage       int
	DefaultVariantID *uuid.UUID
	EnableAt         *time.Time
	DisableAt        *time.Time
	Metadata         map[string]any
	UpdatedAt        time.Time
}

// FlagRuleRow is the wide, nullable-column persistence shape for a
// targeting rule: exactly one of the discriminated field groups is
// populated, matching rules.Rule's Kind discriminator. Converted to
// rules.Rule at snapshot-build time.
type FlagRuleRow struct {
	ID                uuid.UUID
	FlagEnvironmentID uuid.UUID
	RuleType          string // "segment" | "attribute" | "subject_id"
	Position          int
	SegmentID         *uuid.UUID
	Attribute         *string
	Operator          *operator.Op
	Literal           *string
	UserIDs           []string
	ServeEnabled      bool
	ServeVariantID    *uuid.UUID
	ServePercentage   *int
}

// Segment is a named, reusable, project-scoped subject group.
type Segment struct {
	ID        uuid.UUID
	ProjectID uuid.UUID
	Key       string
	Name      string
	MatchType segment.MatchType
}

// SegmentRuleRow is one ordered condition of a Segment.
type SegmentRuleRow struct {
	ID        uuid.UUID
	SegmentID uuid.UUID
	Attribute string
	Operator  operator.Op
	Literal   string
	Position  int
}

// FlagAggregate is the full admin-facing view of a flag: the flag row
// plus its variants and one overlay+rules per environment.
type FlagAggregate struct {
	Flag         Flag
	Variants     []FlagVariant
	Environments map[string]FlagEnvironment // keyed by environment key
	Rules        map[string][]FlagRuleRow   // keyed by environment key
}
