package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/devrimkaya/flagship/internal/rules"
	"github.com/devrimkaya/flagship/internal/segment"
	"github.com/devrimkaya/flagship/internal/snapshot"
	"github.com/devrimkaya/flagship/internal/variant"
)

// Sentinel errors surfaced as caller-visible conflicts/not-found.
var (
	ErrNotFound          = errors.New("not found")
	ErrSegmentReferenced = errors.New("segment is referenced by a flag rule")
	ErrInvalidPercentage = errors.New("percentage must be within [0, 100]")
)

// MemoryStore is an in-memory ConfigStore, adapted from the reference
// store's sync.RWMutex-guarded map design, generalized from a single flat
// Flag map to the full entity graph and to transactional multi-row
// invariants: a single mutex-guarded critical section stands in for a
// database transaction, since in-process memory needs no WAL to get
// atomicity across the maps it guards.
type MemoryStore struct {
	mu sync.Mutex

	projects     map[string]Project
	environments map[string]map[string]Environment       // projectKey -> envKey -> Environment
	flags        map[string]map[string]Flag              // projectKey -> flagKey -> Flag
	variants     map[uuid.UUID][]FlagVariant              // flagID -> variants
	overlays     map[uuid.UUID]map[string]FlagEnvironment // flagID -> envKey -> overlay
	flagRules    map[uuid.UUID]map[string][]FlagRuleRow   // flagID -> envKey -> rules
	segments     map[string]map[string]Segment            // projectKey -> segKey -> Segment
	segmentRules map[uuid.UUID][]SegmentRuleRow           // segmentID -> rules

	outbox chan OutboxEvent
}

// NewMemoryStore returns an empty, ready-to-use MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		projects:     map[string]Project{},
		environments: map[string]map[string]Environment{},
		flags:        map[string]map[string]Flag{},
		variants:     map[uuid.UUID][]FlagVariant{},
		overlays:     map[uuid.UUID]map[string]FlagEnvironment{},
		flagRules:    map[uuid.UUID]map[string][]FlagRuleRow{},
		segments:     map[string]map[string]Segment{},
		segmentRules: map[uuid.UUID][]SegmentRuleRow{},
		outbox:       make(chan OutboxEvent, 1024),
	}
}

func (s *MemoryStore) ensureProject(projectKey string) Project {
	p, ok := s.projects[projectKey]
	if !ok {
		p = Project{ID: newID(), Key: projectKey}
		s.projects[projectKey] = p
		s.environments[projectKey] = map[string]Environment{}
		s.flags[projectKey] = map[string]Flag{}
		s.segments[projectKey] = map[string]Segment{}
	}
	return p
}

func (s *MemoryStore) enqueue(ev OutboxEvent) {
	select {
	case s.outbox <- ev:
	default:
		// Outbox full: drop the oldest to make room rather than block a
		// write transaction on a slow drain consumer.
		select {
		case <-s.outbox:
		default:
		}
		s.outbox <- ev
	}
}

// Drain returns the outbox channel; there is exactly one reader, the
// process wiring the store to the cache layer and change bus at startup.
func (s *MemoryStore) Drain() <-chan OutboxEvent { return s.outbox }

// Close is a no-op for MemoryStore; it exists to satisfy ConfigStore.
func (s *MemoryStore) Close() error { return nil }

// UpsertEnvironment creates or updates an environment. Creating a new
// environment materializes a disabled, zero-percentage FlagEnvironment
// for every existing flag in the project, per the data model's lifecycle
// rule.
func (s *MemoryStore) UpsertEnvironment(ctx context.Context, p UpsertEnvironmentParams) (Environment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureProject(p.ProjectKey)
	existing, isUpdate := s.environments[p.ProjectKey][p.Key]

	env := Environment{
		ID:         newID(),
		ProjectID:  s.projects[p.ProjectKey].ID,
		Key:        p.Key,
		Name:       p.Name,
		Production: p.Production,
		Position:   p.Position,
	}
	if isUpdate {
		env.ID = existing.ID
	}
	s.environments[p.ProjectKey][p.Key] = env

	if !isUpdate {
		for _, flag := range s.flags[p.ProjectKey] {
			s.materializeOverlay(flag.ID, p.Key)
		}
	}
	return env, nil
}

func (s *MemoryStore) materializeOverlay(flagID uuid.UUID, envKey string) {
	if _, ok := s.overlays[flagID]; !ok {
		s.overlays[flagID] = map[string]FlagEnvironment{}
	}
	if _, ok := s.overlays[flagID][envKey]; ok {
		return
	}
	s.overlays[flagID][envKey] = FlagEnvironment{
		ID:        newID(),
		FlagID:    flagID,
		Enabled:   false,
		UpdatedAt: time.Now().UTC(),
	}
	if _, ok := s.flagRules[flagID]; !ok {
		s.flagRules[flagID] = map[string][]FlagRuleRow{}
	}
}

// UpsertFlag creates or updates a flag and its variants. On create, one
// disabled FlagEnvironment is materialized per existing environment.
func (s *MemoryStore) UpsertFlag(ctx context.Context, p UpsertFlagParams) (Flag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureProject(p.ProjectKey)
	for _, v := range p.Variants {
		if v.Weight < 0 {
			return Flag{}, fmt.Errorf("variant %q has negative weight: %w", v.Key, ErrInvalidPercentage)
		}
	}

	now := time.Now().UTC()
	existing, isUpdate := s.flags[p.ProjectKey][p.Key]

	flag := Flag{
		ID:          newID(),
		ProjectID:   s.projects[p.ProjectKey].ID,
		Key:         p.Key,
		Name:        p.Name,
		Description: p.Description,
		Type:        p.Type,
		Tags:        p.Tags,
		Permanent:   p.Permanent,
		OwnerEmail:  p.OwnerEmail,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if isUpdate {
		flag.ID = existing.ID
		flag.CreatedAt = existing.CreatedAt
		flag.Archived = existing.Archived
	}
	s.flags[p.ProjectKey][p.Key] = flag

	if len(p.Variants) > 0 || !isUpdate {
		variants := make([]FlagVariant, len(p.Variants))
		for i, v := range p.Variants {
			v.ID = newID()
			v.FlagID = flag.ID
			variants[i] = v
		}
		s.variants[flag.ID] = variants
	}

	if !isUpdate {
		for envKey := range s.environments[p.ProjectKey] {
			s.materializeOverlay(flag.ID, envKey)
		}
	}

	// default_variant is non-nil iff type=variant and variants exist: pick
	// the first-by-position variant as default for every overlay that
	// doesn't already have one.
	if flag.Type == snapshot.TypeVariant && len(s.variants[flag.ID]) > 0 {
		defaultID := firstVariantByPosition(s.variants[flag.ID]).ID
		for envKey, ov := range s.overlays[flag.ID] {
			if ov.DefaultVariantID == nil {
				id := defaultID
				ov.DefaultVariantID = &id
				s.overlays[flag.ID][envKey] = ov
			}
		}
	} else {
		for envKey, ov := range s.overlays[flag.ID] {
			ov.DefaultVariantID = nil
			s.overlays[flag.ID][envKey] = ov
		}
	}

	for envKey := range s.overlays[flag.ID] {
		s.enqueue(OutboxEvent{
			Invalidation: InvalidationEvent{ProjectKey: p.ProjectKey, EnvironmentKey: envKey, FlagKey: flag.Key},
			Change:       ChangeEvent{ProjectKey: p.ProjectKey, EnvironmentKey: envKey, FlagKey: flag.Key, Action: "flag_upserted"},
		})
	}
	return flag, nil
}

func firstVariantByPosition(variants []FlagVariant) FlagVariant {
	best := variants[0]
	for _, v := range variants[1:] {
		if v.Position < best.Position {
			best = v
		}
	}
	return best
}

// UpsertFlagRules replaces a FlagEnvironment's rule list wholesale.
func (s *MemoryStore) UpsertFlagRules(ctx context.Context, p UpsertFlagRulesParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	flag, ok := s.flags[p.ProjectKey][p.FlagKey]
	if !ok {
		return fmt.Errorf("flag %q: %w", p.FlagKey, ErrNotFound)
	}
	if _, ok := s.overlays[flag.ID][p.EnvironmentKey]; !ok {
		return fmt.Errorf("environment %q: %w", p.EnvironmentKey, ErrNotFound)
	}
	for _, r := range p.Rules {
		if r.ServePercentage != nil && (*r.ServePercentage < 0 || *r.ServePercentage > 100) {
			return fmt.Errorf("rule %s: %w", r.ID, ErrInvalidPercentage)
		}
	}
	if _, ok := s.flagRules[flag.ID]; !ok {
		s.flagRules[flag.ID] = map[string][]FlagRuleRow{}
	}
	s.flagRules[flag.ID][p.EnvironmentKey] = p.Rules

	s.enqueue(OutboxEvent{
		Invalidation: InvalidationEvent{ProjectKey: p.ProjectKey, EnvironmentKey: p.EnvironmentKey, FlagKey: p.FlagKey},
		Change:       ChangeEvent{ProjectKey: p.ProjectKey, EnvironmentKey: p.EnvironmentKey, FlagKey: p.FlagKey, Action: "flag_upserted"},
	})
	return nil
}

// UpsertSegment creates or updates a segment and replaces its rules.
func (s *MemoryStore) UpsertSegment(ctx context.Context, p UpsertSegmentParams) (Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureProject(p.ProjectKey)
	existing, isUpdate := s.segments[p.ProjectKey][p.Key]

	seg := Segment{ID: newID(), ProjectID: s.projects[p.ProjectKey].ID, Key: p.Key, Name: p.Name, MatchType: p.MatchType}
	if isUpdate {
		seg.ID = existing.ID
	}
	s.segments[p.ProjectKey][p.Key] = seg
	s.segmentRules[seg.ID] = p.Rules

	// A segment's rule content change affects every flag in every
	// environment that references it by key; the cache layer resolves
	// this as a whole-environment invalidation.
	for envKey := range s.environments[p.ProjectKey] {
		s.enqueue(OutboxEvent{
			Invalidation: InvalidationEvent{ProjectKey: p.ProjectKey, EnvironmentKey: envKey},
			Change:       ChangeEvent{ProjectKey: p.ProjectKey, EnvironmentKey: envKey, Action: "segment_upserted"},
		})
	}
	return seg, nil
}

// DeleteSegment removes a segment, rejecting the delete while any
// FlagRule in the project references it.
func (s *MemoryStore) DeleteSegment(ctx context.Context, projectKey, segmentKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seg, ok := s.segments[projectKey][segmentKey]
	if !ok {
		return fmt.Errorf("segment %q: %w", segmentKey, ErrNotFound)
	}
	for _, byEnv := range s.flagRules {
		for _, rowset := range byEnv {
			for _, row := range rowset {
				if row.RuleType == string(rules.KindSegment) && row.SegmentID != nil && *row.SegmentID == seg.ID {
					return fmt.Errorf("segment %q: %w", segmentKey, ErrSegmentReferenced)
				}
			}
		}
	}
	delete(s.segments[projectKey], segmentKey)
	delete(s.segmentRules, seg.ID)

	for envKey := range s.environments[projectKey] {
		s.enqueue(OutboxEvent{
			Invalidation: InvalidationEvent{ProjectKey: projectKey, EnvironmentKey: envKey},
			Change:       ChangeEvent{ProjectKey: projectKey, EnvironmentKey: envKey, Action: "segment_deleted"},
		})
	}
	return nil
}

// GetSegmentByKey resolves a segment's key to its row, for callers (the
// admin rule surface) that must turn a rule's segment_key reference into
// the SegmentID a FlagRuleRow stores.
func (s *MemoryStore) GetSegmentByKey(ctx context.Context, projectKey, segmentKey string) (*Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seg, ok := s.segments[projectKey][segmentKey]
	if !ok {
		return nil, fmt.Errorf("segment %q: %w", segmentKey, ErrNotFound)
	}
	return &seg, nil
}

// Toggle manually sets a FlagEnvironment's enabled state, clearing any
// scheduled transitions.
func (s *MemoryStore) Toggle(ctx context.Context, projectKey, flagKey, environmentKey string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	flag, ok := s.flags[projectKey][flagKey]
	if !ok {
		return fmt.Errorf("flag %q: %w", flagKey, ErrNotFound)
	}
	ov, ok := s.overlays[flag.ID][environmentKey]
	if !ok {
		return fmt.Errorf("environment %q: %w", environmentKey, ErrNotFound)
	}
	ov.Enabled = enabled
	ov.EnableAt = nil
	ov.DisableAt = nil
	ov.UpdatedAt = time.Now().UTC()
	s.overlays[flag.ID][environmentKey] = ov

	s.enqueue(OutboxEvent{
		Invalidation: InvalidationEvent{ProjectKey: projectKey, EnvironmentKey: environmentKey, FlagKey: flagKey},
		Change:       ChangeEvent{ProjectKey: projectKey, EnvironmentKey: environmentKey, FlagKey: flagKey, Action: "flag_toggled"},
	})
	return nil
}

// Schedule sets a wall-clock enable/disable transition for a
// FlagEnvironment's overlay row. The Scheduler does not read this row;
// it fires only transitions armed through its Register method.
func (s *MemoryStore) Schedule(ctx context.Context, projectKey, flagKey, environmentKey string, kind ScheduleKind, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	flag, ok := s.flags[projectKey][flagKey]
	if !ok {
		return fmt.Errorf("flag %q: %w", flagKey, ErrNotFound)
	}
	ov, ok := s.overlays[flag.ID][environmentKey]
	if !ok {
		return fmt.Errorf("environment %q: %w", environmentKey, ErrNotFound)
	}
	t := at
	switch kind {
	case ScheduleEnable:
		ov.EnableAt = &t
	case ScheduleDisable:
		ov.DisableAt = &t
	}
	s.overlays[flag.ID][environmentKey] = ov
	return nil
}

// ClearSchedule cancels a pending wall-clock transition.
func (s *MemoryStore) ClearSchedule(ctx context.Context, projectKey, flagKey, environmentKey string, kind ScheduleKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	flag, ok := s.flags[projectKey][flagKey]
	if !ok {
		return fmt.Errorf("flag %q: %w", flagKey, ErrNotFound)
	}
	ov, ok := s.overlays[flag.ID][environmentKey]
	if !ok {
		return fmt.Errorf("environment %q: %w", environmentKey, ErrNotFound)
	}
	switch kind {
	case ScheduleEnable:
		ov.EnableAt = nil
	case ScheduleDisable:
		ov.DisableAt = nil
	}
	s.overlays[flag.ID][environmentKey] = ov
	return nil
}

// Archive forces enabled=false across every FlagEnvironment for flagKey
// in a single critical section. A permanent flag may still be archived:
// archival is its only terminal state, since this store offers no
// outright delete.
func (s *MemoryStore) Archive(ctx context.Context, projectKey, flagKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	flag, ok := s.flags[projectKey][flagKey]
	if !ok {
		return fmt.Errorf("flag %q: %w", flagKey, ErrNotFound)
	}
	flag.Archived = true
	flag.UpdatedAt = time.Now().UTC()
	s.flags[projectKey][flagKey] = flag

	for envKey, ov := range s.overlays[flag.ID] {
		ov.Enabled = false
		ov.EnableAt = nil
		ov.DisableAt = nil
		s.overlays[flag.ID][envKey] = ov

		s.enqueue(OutboxEvent{
			Invalidation: InvalidationEvent{ProjectKey: projectKey, EnvironmentKey: envKey, FlagKey: flagKey},
			Change:       ChangeEvent{ProjectKey: projectKey, EnvironmentKey: envKey, FlagKey: flagKey, Action: "flag_archived"},
		})
	}
	return nil
}

func (s *MemoryStore) GetFlag(ctx context.Context, projectKey, flagKey string) (*FlagAggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	flag, ok := s.flags[projectKey][flagKey]
	if !ok {
		return nil, fmt.Errorf("flag %q: %w", flagKey, ErrNotFound)
	}
	agg := &FlagAggregate{
		Flag:         flag,
		Variants:     append([]FlagVariant(nil), s.variants[flag.ID]...),
		Environments: map[string]FlagEnvironment{},
		Rules:        map[string][]FlagRuleRow{},
	}
	for envKey, ov := range s.overlays[flag.ID] {
		agg.Environments[envKey] = ov
		agg.Rules[envKey] = append([]FlagRuleRow(nil), s.flagRules[flag.ID][envKey]...)
	}
	return agg, nil
}

func (s *MemoryStore) ListActiveFlags(ctx context.Context, projectKey string) ([]Flag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Flag, 0, len(s.flags[projectKey]))
	for _, f := range s.flags[projectKey] {
		if !f.Archived {
			out = append(out, f)
		}
	}
	return out, nil
}

// GetSnapshot builds the cache-ready view for one (project, flag, env).
// Returns (nil, nil) when the flag is archived, unknown, or has no
// overlay for environmentKey: "no snapshot" is not an error, it just
// means the caller falls back to whatever the evaluator does for a
// missing flag.
func (s *MemoryStore) GetSnapshot(ctx context.Context, projectKey, flagKey, environmentKey string) (*snapshot.Flag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	flag, ok := s.flags[projectKey][flagKey]
	if !ok || flag.Archived {
		return nil, nil
	}
	ov, ok := s.overlays[flag.ID][environmentKey]
	if !ok {
		return nil, nil
	}
	snap := s.buildSnapshotLocked(projectKey, environmentKey, flag, ov)
	return &snap, nil
}

func (s *MemoryStore) ListSnapshots(ctx context.Context, projectKey, environmentKey string) (map[string]snapshot.Flag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := map[string]snapshot.Flag{}
	for key, flag := range s.flags[projectKey] {
		if flag.Archived {
			continue
		}
		ov, ok := s.overlays[flag.ID][environmentKey]
		if !ok {
			continue
		}
		out[key] = s.buildSnapshotLocked(projectKey, environmentKey, flag, ov)
	}
	return out, nil
}

func (s *MemoryStore) buildSnapshotLocked(projectKey, environmentKey string, flag Flag, ov FlagEnvironment) snapshot.Flag {
	variantsByID := map[uuid.UUID]FlagVariant{}
	snapVariants := make([]variant.Variant, 0, len(s.variants[flag.ID]))
	for _, v := range s.variants[flag.ID] {
		variantsByID[v.ID] = v
		snapVariants = append(snapVariants, variant.Variant{
			Key:      v.Key,
			Name:     v.Name,
			Weight:   v.Weight,
			Position: v.Position,
			Payload:  v.Payload,
		})
	}

	var defaultVariant *string
	if ov.DefaultVariantID != nil {
		if v, ok := variantsByID[*ov.DefaultVariantID]; ok {
			key := v.Key
			defaultVariant = &key
		}
	}

	ruleRows := s.flagRules[flag.ID][environmentKey]
	resolvedRules := make([]rules.Rule, 0, len(ruleRows))
	segments := map[string]segment.Segment{}
	for _, row := range ruleRows {
		r := convertRuleRow(row, variantsByID)
		if row.RuleType == string(rules.KindSegment) && row.SegmentID != nil {
			if seg, ok := s.findSegmentByID(projectKey, *row.SegmentID); ok {
				r.SegmentKey = seg.Key
				segments[seg.Key] = s.buildSegment(seg)
			}
		}
		resolvedRules = append(resolvedRules, r)
	}

	return snapshot.Flag{
		ProjectKey:     projectKey,
		EnvironmentKey: environmentKey,
		FlagKey:        flag.Key,
		Type:           flag.Type,
		Enabled:        ov.Enabled,
		Percentage:     ov.Percentage,
		DefaultVariant: defaultVariant,
		Variants:       snapVariants,
		Rules:          resolvedRules,
		Segments:       segments,
		UpdatedAt:      ov.UpdatedAt,
	}
}

func (s *MemoryStore) findSegmentByID(projectKey string, id uuid.UUID) (Segment, bool) {
	for _, seg := range s.segments[projectKey] {
		if seg.ID == id {
			return seg, true
		}
	}
	return Segment{}, false
}

func (s *MemoryStore) buildSegment(seg Segment) segment.Segment {
	rows := s.segmentRules[seg.ID]
	conditions := make([]segment.Condition, len(rows))
	for i, r := range rows {
		conditions[i] = segment.Condition{Attribute: r.Attribute, Operator: r.Operator, Literal: r.Literal}
	}
	return segment.Segment{Key: seg.Key, Name: seg.Name, MatchType: seg.MatchType, Conditions: conditions}
}

func convertRuleRow(row FlagRuleRow, variantsByID map[uuid.UUID]FlagVariant) rules.Rule {
	r := rules.Rule{
		ID:       row.ID.String(),
		Position: row.Position,
		Kind:     rules.Kind(row.RuleType),
		Serve: rules.Serve{
			Enabled:    row.ServeEnabled,
			Percentage: row.ServePercentage,
		},
	}
	if row.ServeVariantID != nil {
		if v, ok := variantsByID[*row.ServeVariantID]; ok {
			key := v.Key
			r.Serve.Variant = &key
		}
	}
	switch r.Kind {
	case rules.KindAttribute:
		if row.Attribute != nil {
			r.Attribute = *row.Attribute
		}
		if row.Operator != nil {
			r.Operator = *row.Operator
		}
		if row.Literal != nil {
			r.Literal = *row.Literal
		}
	case rules.KindSubjectID:
		r.SubjectIDs = row.UserIDs
	}
	return r
}
