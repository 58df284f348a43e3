package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/devrimkaya/flagship/internal/audit"
	"github.com/devrimkaya/flagship/internal/operator"
	"github.com/devrimkaya/flagship/internal/segment"
	"github.com/devrimkaya/flagship/internal/snapshot"
	"github.com/devrimkaya/flagship/internal/store"
	"github.com/devrimkaya/flagship/internal/validation"
)

// Admin CRUD surface, grounded on the teacher's handleUpsertFlag/
// handleDeleteFlag shape (validate, capture before state, write, capture
// after state, audit log) but re-targeted at the full entity graph
// (environments, flags, per-environment rules, segments) instead of a
// flat Flag row. Authorization itself is out of scope per spec.md §6; by
// the time a handler runs, auth.RequireAdmin has already confirmed the
// caller holds the admin bearer token.

type upsertEnvironmentRequest struct {
	ProjectKey string `json:"project_key"`
	Key        string `json:"key"`
	Name       string `json:"name"`
	Production bool   `json:"production"`
	Position   int    `json:"position"`
}

func (s *Server) handleUpsertEnvironment(w http.ResponseWriter, r *http.Request) {
	var req upsertEnvironmentRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if result := validation.ValidateKey(req.ProjectKey, "project_key"); !result.Valid {
		ValidationError(w, r, "validation failed", result.Errors)
		return
	}
	if result := validation.ValidateKey(req.Key, "key"); !result.Valid {
		BadRequestErrorWithFields(w, r, ErrCodeInvalidEnv, "validation failed", result.Errors)
		return
	}

	env, err := s.store.UpsertEnvironment(r.Context(), store.UpsertEnvironmentParams{
		ProjectKey: req.ProjectKey,
		Key:        req.Key,
		Name:       req.Name,
		Production: req.Production,
		Position:   req.Position,
	})
	if err != nil {
		s.auditLog(r, audit.ActionUpdated, audit.ResourceTypeEnvironment, req.Key, req.Key, nil, nil, nil, audit.StatusFailure, err.Error())
		InternalError(w, r, "failed to save environment")
		return
	}

	afterState := map[string]any{"key": env.Key, "name": env.Name, "production": env.Production, "position": env.Position}
	s.auditLog(r, audit.ActionUpdated, audit.ResourceTypeEnvironment, env.Key, env.Key, nil, afterState, nil, audit.StatusSuccess, "")

	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "key": env.Key})
}

type variantRequest struct {
	Key    string `json:"key"`
	Name   string `json:"name"`
	Weight int    `json:"weight"`
}

type upsertFlagRequest struct {
	ProjectKey  string           `json:"project_key"`
	Key         string           `json:"key"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Type        snapshot.Type    `json:"type"`
	Tags        []string         `json:"tags,omitempty"`
	Permanent   bool             `json:"permanent"`
	OwnerEmail  string           `json:"owner_email"`
	Variants    []variantRequest `json:"variants,omitempty"`
}

func (s *Server) handleUpsertFlag(w http.ResponseWriter, r *http.Request) {
	var req upsertFlagRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	fieldResult := validation.ValidateFlag(validation.FlagValidationParams{
		Key:         req.Key,
		Description: req.Description,
	})
	if !fieldResult.Valid {
		ValidationError(w, r, "validation failed for one or more fields", fieldResult.Errors)
		return
	}

	var variantParams []validation.VariantValidationParams
	for _, v := range req.Variants {
		variantParams = append(variantParams, validation.VariantValidationParams{Key: v.Key, Weight: v.Weight})
	}
	if variantResult := validation.ValidateVariants(variantParams); !variantResult.Valid {
		BadRequestErrorWithFields(w, r, ErrCodeInvalidVariants, "invalid variants", variantResult.Errors)
		return
	}

	var beforeState map[string]any
	isCreate := true
	if old, err := s.store.GetFlag(r.Context(), req.ProjectKey, req.Key); err == nil {
		beforeState = flagAggregateToMap(old)
		isCreate = false
	}

	variants := make([]store.FlagVariant, len(req.Variants))
	for i, v := range req.Variants {
		variants[i] = store.FlagVariant{Key: v.Key, Name: v.Name, Weight: v.Weight, Position: i}
	}

	_, err := s.store.UpsertFlag(r.Context(), store.UpsertFlagParams{
		ProjectKey:  req.ProjectKey,
		Key:         req.Key,
		Name:        req.Name,
		Description: req.Description,
		Type:        req.Type,
		Tags:        req.Tags,
		Permanent:   req.Permanent,
		OwnerEmail:  req.OwnerEmail,
		Variants:    variants,
	})
	if err != nil {
		s.auditLog(r, audit.ActionUpdated, audit.ResourceTypeFlag, req.Key, "", beforeState, nil, nil, audit.StatusFailure, err.Error())
		InternalError(w, r, "failed to save flag")
		return
	}

	var afterState map[string]any
	if agg, err := s.store.GetFlag(r.Context(), req.ProjectKey, req.Key); err == nil {
		afterState = flagAggregateToMap(agg)
	}

	action := audit.ActionUpdated
	if isCreate {
		action = audit.ActionCreated
	}
	changes := audit.ComputeChanges(beforeState, afterState)
	s.auditLog(r, action, audit.ResourceTypeFlag, req.Key, "", beforeState, afterState, changes, audit.StatusSuccess, "")

	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "key": req.Key})
}

func (s *Server) handleListFlags(w http.ResponseWriter, r *http.Request) {
	projectKey := r.URL.Query().Get("project_key")
	flags, err := s.store.ListActiveFlags(r.Context(), projectKey)
	if err != nil {
		InternalError(w, r, "failed to list flags")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"flags": flags})
}

func (s *Server) handleGetFlag(w http.ResponseWriter, r *http.Request) {
	projectKey := r.URL.Query().Get("project_key")
	flagKey := chi.URLParam(r, "key")

	agg, err := s.store.GetFlag(r.Context(), projectKey, flagKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			NotFoundError(w, r, "flag not found")
			return
		}
		InternalError(w, r, "failed to load flag")
		return
	}
	writeJSON(w, http.StatusOK, flagAggregateToMap(agg))
}

type toggleFlagRequest struct {
	ProjectKey     string `json:"project_key"`
	EnvironmentKey string `json:"environment_key"`
	Enabled        bool   `json:"enabled"`
}

func (s *Server) handleToggleFlag(w http.ResponseWriter, r *http.Request) {
	flagKey := chi.URLParam(r, "key")
	var req toggleFlagRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	if err := s.store.Toggle(r.Context(), req.ProjectKey, flagKey, req.EnvironmentKey, req.Enabled); err != nil {
		s.auditLog(r, audit.ActionUpdated, audit.ResourceTypeFlag, flagKey, req.EnvironmentKey, nil, nil, nil, audit.StatusFailure, err.Error())
		InternalError(w, r, "failed to toggle flag")
		return
	}
	s.scheduler.Cancel(req.ProjectKey, flagKey, req.EnvironmentKey, store.ScheduleEnable)
	s.scheduler.Cancel(req.ProjectKey, flagKey, req.EnvironmentKey, store.ScheduleDisable)

	afterState := map[string]any{"enabled": req.Enabled}
	s.auditLog(r, audit.ActionUpdated, audit.ResourceTypeFlag, flagKey, req.EnvironmentKey, nil, afterState, nil, audit.StatusSuccess, "")

	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type scheduleFlagRequest struct {
	ProjectKey     string `json:"project_key"`
	EnvironmentKey string `json:"environment_key"`
	Kind           string `json:"kind"` // "enable" | "disable"
	At             string `json:"at"`   // RFC3339
}

func (s *Server) handleScheduleFlag(w http.ResponseWriter, r *http.Request) {
	flagKey := chi.URLParam(r, "key")
	var req scheduleFlagRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	kind := store.ScheduleKind(strings.ToLower(req.Kind))
	if kind != store.ScheduleEnable && kind != store.ScheduleDisable {
		BadRequestErrorWithFields(w, r, ErrCodeValidation, "invalid kind", map[string]string{
			"kind": `must be "enable" or "disable"`,
		})
		return
	}

	at, err := time.Parse(time.RFC3339, req.At)
	if err != nil {
		BadRequestErrorWithFields(w, r, ErrCodeValidation, "invalid at", map[string]string{
			"at": "must be RFC3339",
		})
		return
	}

	if err := s.store.Schedule(r.Context(), req.ProjectKey, flagKey, req.EnvironmentKey, kind, at); err != nil {
		s.auditLog(r, audit.ActionUpdated, audit.ResourceTypeFlag, flagKey, req.EnvironmentKey, nil, nil, nil, audit.StatusFailure, err.Error())
		InternalError(w, r, "failed to schedule flag")
		return
	}
	s.scheduler.Register(req.ProjectKey, flagKey, req.EnvironmentKey, kind, at)

	afterState := map[string]any{"kind": string(kind), "at": at.Format(time.RFC3339)}
	s.auditLog(r, audit.ActionUpdated, audit.ResourceTypeFlag, flagKey, req.EnvironmentKey, nil, afterState, nil, audit.StatusSuccess, "")

	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleClearScheduleFlag(w http.ResponseWriter, r *http.Request) {
	flagKey := chi.URLParam(r, "key")
	projectKey := r.URL.Query().Get("project_key")
	environmentKey := r.URL.Query().Get("environment_key")
	kind := store.ScheduleKind(strings.ToLower(r.URL.Query().Get("kind")))
	if kind != store.ScheduleEnable && kind != store.ScheduleDisable {
		BadRequestErrorWithFields(w, r, ErrCodeValidation, "invalid kind", map[string]string{
			"kind": `must be "enable" or "disable"`,
		})
		return
	}

	if err := s.store.ClearSchedule(r.Context(), projectKey, flagKey, environmentKey, kind); err != nil {
		s.auditLog(r, audit.ActionUpdated, audit.ResourceTypeFlag, flagKey, environmentKey, nil, nil, nil, audit.StatusFailure, err.Error())
		InternalError(w, r, "failed to clear schedule")
		return
	}
	s.scheduler.Cancel(projectKey, flagKey, environmentKey, kind)

	s.auditLog(r, audit.ActionUpdated, audit.ResourceTypeFlag, flagKey, environmentKey, nil, map[string]any{"kind": string(kind), "cleared": true}, nil, audit.StatusSuccess, "")

	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type archiveFlagRequest struct {
	ProjectKey string `json:"project_key"`
}

func (s *Server) handleArchiveFlag(w http.ResponseWriter, r *http.Request) {
	flagKey := chi.URLParam(r, "key")
	var req archiveFlagRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	if agg, err := s.store.GetFlag(r.Context(), req.ProjectKey, flagKey); err == nil && agg.Flag.Permanent {
		ForbiddenError(w, r, "permanent flags cannot be archived")
		return
	}

	if err := s.store.Archive(r.Context(), req.ProjectKey, flagKey); err != nil {
		s.auditLog(r, audit.ActionDeleted, audit.ResourceTypeFlag, flagKey, "", nil, nil, nil, audit.StatusFailure, err.Error())
		InternalError(w, r, "failed to archive flag")
		return
	}

	s.auditLog(r, audit.ActionDeleted, audit.ResourceTypeFlag, flagKey, "", nil, map[string]any{"archived": true}, nil, audit.StatusSuccess, "")

	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type ruleRequest struct {
	RuleType        string         `json:"rule_type"` // "segment" | "attribute" | "user_id"
	SegmentKey      *string        `json:"segment_key,omitempty"`
	Attribute       *string        `json:"attribute,omitempty"`
	Operator        *operator.Op   `json:"operator,omitempty"`
	Literal         *string        `json:"literal,omitempty"`
	UserIDs         []string       `json:"user_ids,omitempty"`
	ServeEnabled    bool           `json:"serve_enabled"`
	ServeVariantKey *string        `json:"serve_variant_key,omitempty"`
	ServePercentage *int           `json:"serve_percentage,omitempty"`
}

type upsertFlagRulesRequest struct {
	ProjectKey string        `json:"project_key"`
	Rules      []ruleRequest `json:"rules"`
}

func (s *Server) handleUpsertFlagRules(w http.ResponseWriter, r *http.Request) {
	flagKey := chi.URLParam(r, "key")
	environmentKey := chi.URLParam(r, "env")

	var req upsertFlagRulesRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	schemaErrs := map[string]string{}
	for i, rr := range req.Rules {
		switch rr.RuleType {
		case "segment", "attribute", "user_id":
		default:
			schemaErrs[ruleField(i, "rule_type")] = `must be "segment", "attribute", or "user_id"`
		}
		if rr.RuleType == "attribute" && rr.Operator != nil && !operator.Valid(*rr.Operator) {
			BadRequestErrorWithFields(w, r, ErrCodeInvalidExpression, "invalid targeting expression", map[string]string{
				ruleField(i, "operator"): "operator not supported",
			})
			return
		}
	}
	if len(schemaErrs) > 0 {
		BadRequestErrorWithFields(w, r, ErrCodeSchemaViolation, "invalid rule shape", schemaErrs)
		return
	}

	percentErrs := map[string]string{}
	for i, rr := range req.Rules {
		if rr.ServePercentage != nil {
			if result := validation.ValidatePercentage(*rr.ServePercentage); !result.Valid {
				percentErrs[ruleField(i, "serve_percentage")] = result.Errors["percentage"]
			}
		}
	}
	if len(percentErrs) > 0 {
		BadRequestErrorWithFields(w, r, ErrCodeInvalidRollout, "invalid rule percentage", percentErrs)
		return
	}

	var variantIDByKey map[string]uuid.UUID
	needsVariants := false
	for _, rr := range req.Rules {
		if rr.ServeVariantKey != nil {
			needsVariants = true
			break
		}
	}
	if needsVariants {
		agg, err := s.store.GetFlag(r.Context(), req.ProjectKey, flagKey)
		if err != nil {
			NotFoundError(w, r, "flag not found")
			return
		}
		variantIDByKey = make(map[string]uuid.UUID, len(agg.Variants))
		for _, v := range agg.Variants {
			variantIDByKey[v.Key] = v.ID
		}
	}

	rows := make([]store.FlagRuleRow, len(req.Rules))
	for i, rr := range req.Rules {
		row := store.FlagRuleRow{
			RuleType:        rr.RuleType,
			Position:        i,
			Attribute:       rr.Attribute,
			Operator:        rr.Operator,
			Literal:         rr.Literal,
			UserIDs:         rr.UserIDs,
			ServeEnabled:    rr.ServeEnabled,
			ServePercentage: rr.ServePercentage,
		}

		if rr.SegmentKey != nil {
			seg, err := s.store.GetSegmentByKey(r.Context(), req.ProjectKey, *rr.SegmentKey)
			if err != nil {
				BadRequestErrorWithFields(w, r, ErrCodeSchemaViolation, "invalid rule segment", map[string]string{
					ruleField(i, "segment_key"): "segment not found",
				})
				return
			}
			row.SegmentID = &seg.ID
		}
		if rr.ServeVariantKey != nil {
			id, ok := variantIDByKey[*rr.ServeVariantKey]
			if !ok {
				BadRequestErrorWithFields(w, r, ErrCodeSchemaViolation, "invalid rule serve_variant_key", map[string]string{
					ruleField(i, "serve_variant_key"): "variant not found",
				})
				return
			}
			row.ServeVariantID = &id
		}

		rows[i] = row
	}

	if err := s.store.UpsertFlagRules(r.Context(), store.UpsertFlagRulesParams{
		ProjectKey:     req.ProjectKey,
		FlagKey:        flagKey,
		EnvironmentKey: environmentKey,
		Rules:          rows,
	}); err != nil {
		s.auditLog(r, audit.ActionUpdated, audit.ResourceTypeFlag, flagKey, environmentKey, nil, nil, nil, audit.StatusFailure, err.Error())
		InternalError(w, r, "failed to save rules")
		return
	}

	s.auditLog(r, audit.ActionUpdated, audit.ResourceTypeFlag, flagKey, environmentKey, nil, map[string]any{"rule_count": len(rows)}, nil, audit.StatusSuccess, "")

	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func ruleField(i int, field string) string {
	return "rules[" + strconv.Itoa(i) + "]." + field
}

type upsertSegmentRequest struct {
	ProjectKey string                  `json:"project_key"`
	Key        string                  `json:"key"`
	Name       string                  `json:"name"`
	MatchType  segment.MatchType       `json:"match_type"`
	Rules      []segmentRuleRowRequest `json:"rules"`
}

type segmentRuleRowRequest struct {
	Attribute string      `json:"attribute"`
	Operator  operator.Op `json:"operator"`
	Literal   string      `json:"literal"`
}

func (s *Server) handleUpsertSegment(w http.ResponseWriter, r *http.Request) {
	var req upsertSegmentRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if result := validation.ValidateKey(req.Key, "key"); !result.Valid {
		ValidationError(w, r, "validation failed", result.Errors)
		return
	}

	for i, rr := range req.Rules {
		if rr.Attribute == "" || !operator.Valid(rr.Operator) {
			BadRequestErrorWithFields(w, r, ErrCodeInvalidExpression, "invalid targeting expression", map[string]string{
				ruleField(i, "operator"): "attribute must be set and operator must be one of the supported predicates",
			})
			return
		}
	}

	rows := make([]store.SegmentRuleRow, len(req.Rules))
	for i, rr := range req.Rules {
		rows[i] = store.SegmentRuleRow{Attribute: rr.Attribute, Operator: rr.Operator, Literal: rr.Literal, Position: i}
	}

	seg, err := s.store.UpsertSegment(r.Context(), store.UpsertSegmentParams{
		ProjectKey: req.ProjectKey,
		Key:        req.Key,
		Name:       req.Name,
		MatchType:  req.MatchType,
		Rules:      rows,
	})
	if err != nil {
		s.auditLog(r, audit.ActionUpdated, audit.ResourceTypeSegment, req.Key, "", nil, nil, nil, audit.StatusFailure, err.Error())
		InternalError(w, r, "failed to save segment")
		return
	}

	s.auditLog(r, audit.ActionUpdated, audit.ResourceTypeSegment, seg.Key, "", nil, map[string]any{"key": seg.Key, "name": seg.Name}, nil, audit.StatusSuccess, "")

	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "key": seg.Key})
}

func (s *Server) handleDeleteSegment(w http.ResponseWriter, r *http.Request) {
	segmentKey := chi.URLParam(r, "key")
	projectKey := r.URL.Query().Get("project_key")

	if err := s.store.DeleteSegment(r.Context(), projectKey, segmentKey); err != nil {
		if errors.Is(err, store.ErrSegmentReferenced) {
			BadRequestError(w, r, ErrCodeValidation, "segment is referenced by a flag rule")
			return
		}
		s.auditLog(r, audit.ActionDeleted, audit.ResourceTypeSegment, segmentKey, "", nil, nil, nil, audit.StatusFailure, err.Error())
		InternalError(w, r, "failed to delete segment")
		return
	}

	s.auditLog(r, audit.ActionDeleted, audit.ResourceTypeSegment, segmentKey, "", nil, nil, nil, audit.StatusSuccess, "")

	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

