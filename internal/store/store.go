package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/devrimkaya/flagship/internal/rules"
	"github.com/devrimkaya/flagship/internal/segment"
	"github.com/devrimkaya/flagship/internal/snapshot"
)

// ScheduleKind names a wall-clock transition the Scheduler fires.
type ScheduleKind string

const (
	ScheduleEnable  ScheduleKind = "enable"
	ScheduleDisable ScheduleKind = "disable"
)

// UpsertFlagParams creates or updates a flag and its variants. Passing an
// existing (ProjectKey, Key) pair updates that flag; omitting Variants
// leaves existing variants untouched only on update — on create, every
// FlagEnvironment row is materialized disabled at zero percentage per
// the data model's lifecycle rule.
type UpsertFlagParams struct {
	ProjectKey  string
	Key         string
	Name        string
	Description string
	Type        snapshot.Type
	Tags        []string
	Permanent   bool
	OwnerEmail  string
	Variants    []FlagVariant
}

// UpsertSegmentParams creates or updates a segment and replaces its rule
// set wholesale.
type UpsertSegmentParams struct {
	ProjectKey string
	Key        string
	Name       string
	MatchType  segment.MatchType
	Rules      []SegmentRuleRow
}

// UpsertEnvironmentParams creates or updates an environment.
type UpsertEnvironmentParams struct {
	ProjectKey string
	Key        string
	Name       string
	Production bool
	Position   int
}

// UpsertFlagRulesParams replaces a FlagEnvironment's rule list wholesale,
// the unit in which the admin surface edits targeting rules.
type UpsertFlagRulesParams struct {
	ProjectKey     string
	FlagKey        string
	EnvironmentKey string
	Rules          []FlagRuleRow
}

// ConfigStore is the authoritative, transactional persistence surface
// named in spec.md §4.7, generalized from the reference Store interface
// (GetAllFlags/GetFlagByKey/UpsertFlag/DeleteFlag) to the full entity
// graph. Flag and segment upserts, toggles and archives enqueue an
// OutboxEvent on an in-process buffered channel once their rows are
// written; environment upserts and schedules enqueue none. Drain
// delivers queued events to the cache layer and change bus.
type ConfigStore interface {
	GetFlag(ctx context.Context, projectKey, flagKey string) (*FlagAggregate, error)
	ListActiveFlags(ctx context.Context, projectKey string) ([]Flag, error)
	GetSnapshot(ctx context.Context, projectKey, flagKey, environmentKey string) (*snapshot.Flag, error)
	ListSnapshots(ctx context.Context, projectKey, environmentKey string) (map[string]snapshot.Flag, error)
	GetSegmentByKey(ctx context.Context, projectKey, segmentKey string) (*Segment, error)

	UpsertEnvironment(ctx context.Context, params UpsertEnvironmentParams) (Environment, error)
	UpsertFlag(ctx context.Context, params UpsertFlagParams) (Flag, error)
	UpsertFlagRules(ctx context.Context, params UpsertFlagRulesParams) error
	UpsertSegment(ctx context.Context, params UpsertSegmentParams) (Segment, error)

	Toggle(ctx context.Context, projectKey, flagKey, environmentKey string, enabled bool) error
	Schedule(ctx context.Context, projectKey, flagKey, environmentKey string, kind ScheduleKind, at time.Time) error
	ClearSchedule(ctx context.Context, projectKey, flagKey, environmentKey string, kind ScheduleKind) error
	Archive(ctx context.Context, projectKey, flagKey string) error
	DeleteSegment(ctx context.Context, projectKey, segmentKey string) error

	// Drain returns the channel of outbox events produced by accepted
	// writes. There is exactly one reader: the process wiring the store
	// to the cache layer and change bus at startup.
	Drain() <-chan OutboxEvent

	Close() error
}

func ruleKindToRowType(k rules.Kind) string { return string(k) }

func newID() uuid.UUID { return uuid.New() }
