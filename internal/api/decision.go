package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/devrimkaya/flagship/internal/auth"
	"github.com/devrimkaya/flagship/internal/decision"
	"github.com/devrimkaya/flagship/internal/evallog"
	"github.com/devrimkaya/flagship/internal/evaluator"
	"github.com/devrimkaya/flagship/internal/snapshot"
	"github.com/devrimkaya/flagship/internal/telemetry"
)

// decisionResponse is the wire shape of a single Decision RPC / SDK Fast
// Evaluate result: {key, enabled, variant, reason}.
type decisionResponse struct {
	Key     string  `json:"key"`
	Enabled bool    `json:"enabled"`
	Variant *string `json:"variant,omitempty"`
	Reason  string  `json:"reason"`
}

// bulkFlagResult is one entry of the Bulk Decision response. Unlike
// decisionResponse it carries no reason, per spec.md §6.
type bulkFlagResult struct {
	Key     string  `json:"key"`
	Enabled bool    `json:"enabled"`
	Variant *string `json:"variant,omitempty"`
}

type bulkDecisionRequest struct {
	Environment string         `json:"environment"`
	Context     map[string]any `json:"context"`
}

type bulkDecisionResponse struct {
	Flags []bulkFlagResult `json:"flags"`
}

// handleDecision implements the Decision RPC:
// GET /v1/flags/{key}?environment=...&context={json}&log=true|false
func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	projectKey := auth.ProjectKeyFromRequest(r)
	if projectKey == "" {
		UnauthorizedError(w, r, "missing "+auth.ProjectKeyHeader+" header")
		return
	}

	flagKey := chi.URLParam(r, "key")
	environmentKey := r.URL.Query().Get("environment")
	if environmentKey == "" {
		BadRequestErrorWithFields(w, r, ErrCodeMissingField, "environment is required", map[string]string{
			"environment": "is required",
		})
		return
	}

	raw, err := parseContextParam(r.URL.Query().Get("context"))
	if err != nil {
		BadRequestError(w, r, ErrCodeInvalidJSON, "invalid context JSON: "+err.Error())
		return
	}

	shouldLog := true
	if v := r.URL.Query().Get("log"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err == nil {
			shouldLog = parsed
		}
	}

	flag, err := s.resolveFlag(r.Context(), projectKey, flagKey, environmentKey)
	if err != nil {
		InternalError(w, r, "failed to resolve flag")
		return
	}

	attrCtx, subjectID := evaluator.PrepareContext(raw)
	result := evaluator.Evaluate(flag, attrCtx, subjectID)
	telemetry.DecisionsTotal.WithLabelValues(string(result.Reason)).Inc()

	if shouldLog {
		s.logDecision(projectKey, environmentKey, subjectID, raw, result)
	}

	writeJSON(w, http.StatusOK, decisionResponse{
		Key:     result.FlagKey,
		Enabled: result.Enabled,
		Variant: result.VariantKey,
		Reason:  string(result.Reason),
	})
}

// handleBulkDecision implements Bulk Decision:
// POST /v1/evaluations/bulk {environment, context} -> {flags: [...]}
// covering every non-archived flag. Per the spec's logging defaults
// (§9, Open Question 3), bulk evaluation does not log per-flag rows.
func (s *Server) handleBulkDecision(w http.ResponseWriter, r *http.Request) {
	projectKey := auth.ProjectKeyFromRequest(r)
	if projectKey == "" {
		UnauthorizedError(w, r, "missing "+auth.ProjectKeyHeader+" header")
		return
	}

	var req bulkDecisionRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.Environment == "" {
		BadRequestErrorWithFields(w, r, ErrCodeMissingField, "environment is required", map[string]string{
			"environment": "is required",
		})
		return
	}

	results, err := s.evaluateAll(r.Context(), projectKey, req.Environment, req.Context)
	if err != nil {
		InternalError(w, r, "failed to evaluate flags")
		return
	}

	writeJSON(w, http.StatusOK, bulkDecisionResponse{Flags: results})
}

// handleSDKBootstrap implements SDK Bootstrap:
// GET /v1/sdk/bootstrap?environment=... requires X-SDK-Key.
func (s *Server) handleSDKBootstrap(w http.ResponseWriter, r *http.Request) {
	projectKey := auth.SDKKeyFromRequest(r)
	if projectKey == "" {
		UnauthorizedError(w, r, "missing "+auth.SDKKeyHeader+" header")
		return
	}
	environmentKey := r.URL.Query().Get("environment")
	if environmentKey == "" {
		BadRequestErrorWithFields(w, r, ErrCodeMissingField, "environment is required", map[string]string{
			"environment": "is required",
		})
		return
	}

	bootstrap, err := s.resolveBootstrap(r.Context(), projectKey, environmentKey)
	if err != nil {
		InternalError(w, r, "failed to resolve bootstrap")
		return
	}

	w.Header().Set("ETag", bootstrap.ETag)
	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == bootstrap.ETag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	writeJSON(w, http.StatusOK, bootstrap)
}

// handleSDKEvaluate implements SDK Fast Evaluate:
// POST /v1/sdk/evaluate {flag, environment, context}, X-SDK-Key gated,
// same response shape as Decision RPC.
func (s *Server) handleSDKEvaluate(w http.ResponseWriter, r *http.Request) {
	projectKey := auth.SDKKeyFromRequest(r)
	if projectKey == "" {
		UnauthorizedError(w, r, "missing "+auth.SDKKeyHeader+" header")
		return
	}

	var req struct {
		Flag        string         `json:"flag"`
		Environment string         `json:"environment"`
		Context     map[string]any `json:"context"`
	}
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.Flag == "" || req.Environment == "" {
		BadRequestErrorWithFields(w, r, ErrCodeMissingField, "flag and environment are required", map[string]string{
			"flag": "is required", "environment": "is required",
		})
		return
	}

	flag, err := s.resolveFlag(r.Context(), projectKey, req.Flag, req.Environment)
	if err != nil {
		InternalError(w, r, "failed to resolve flag")
		return
	}

	attrCtx, subjectID := evaluator.PrepareContext(req.Context)
	result := evaluator.Evaluate(flag, attrCtx, subjectID)
	telemetry.DecisionsTotal.WithLabelValues(string(result.Reason)).Inc()
	s.logDecision(projectKey, req.Environment, subjectID, req.Context, result)

	writeJSON(w, http.StatusOK, decisionResponse{
		Key:     result.FlagKey,
		Enabled: result.Enabled,
		Variant: result.VariantKey,
		Reason:  string(result.Reason),
	})
}

func (s *Server) evaluateAll(ctx context.Context, projectKey, environmentKey string, rawContext map[string]any) ([]bulkFlagResult, error) {
	bootstrap, err := s.resolveBootstrap(ctx, projectKey, environmentKey)
	if err != nil {
		return nil, err
	}

	attrCtx, subjectID := evaluator.PrepareContext(rawContext)

	results := make([]bulkFlagResult, 0, len(bootstrap.Flags))
	for key, flag := range bootstrap.Flags {
		f := flag
		d := evaluator.Evaluate(&f, attrCtx, subjectID)
		results = append(results, bulkFlagResult{Key: key, Enabled: d.Enabled, Variant: d.VariantKey})
	}
	return results, nil
}

// resolveFlag reads through the shared cache before falling back to the
// Config Store, populating the cache on miss.
func (s *Server) resolveFlag(ctx context.Context, projectKey, flagKey, environmentKey string) (*snapshot.Flag, error) {
	if f, ok := s.cacheShared.GetFlag(ctx, projectKey, flagKey, environmentKey); ok {
		telemetry.CacheHitTotal.Inc()
		return &f, nil
	}
	telemetry.CacheMissTotal.Inc()

	f, err := s.store.GetSnapshot(ctx, projectKey, flagKey, environmentKey)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, nil
	}
	s.cacheShared.SetFlag(ctx, *f)
	return f, nil
}

// resolveBootstrap reads through the local process cache, then the
// shared cache, then the Config Store, populating both cache tiers on
// miss. A stale-but-present local entry is served immediately.
func (s *Server) resolveBootstrap(ctx context.Context, projectKey, environmentKey string) (snapshot.Bootstrap, error) {
	if b, ok, fresh := s.cacheLocal.Get(projectKey, environmentKey); ok {
		telemetry.CacheHitTotal.Inc()
		if fresh {
			return b, nil
		}
		go s.refreshBootstrap(projectKey, environmentKey)
		return b, nil
	}
	telemetry.CacheMissTotal.Inc()

	if b, ok := s.cacheShared.GetBootstrap(ctx, projectKey, environmentKey); ok {
		s.cacheLocal.Set(projectKey, environmentKey, b)
		return b, nil
	}

	return s.loadBootstrap(ctx, projectKey, environmentKey)
}

func (s *Server) refreshBootstrap(projectKey, environmentKey string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.loadBootstrap(ctx, projectKey, environmentKey); err != nil {
		return
	}
}

func (s *Server) loadBootstrap(ctx context.Context, projectKey, environmentKey string) (snapshot.Bootstrap, error) {
	flags, err := s.store.ListSnapshots(ctx, projectKey, environmentKey)
	if err != nil {
		return snapshot.Bootstrap{}, err
	}
	bootstrap := snapshot.NewBootstrap(flags)
	s.cacheLocal.Set(projectKey, environmentKey, bootstrap)
	s.cacheShared.SetBootstrap(ctx, projectKey, environmentKey, bootstrap)
	return bootstrap, nil
}

func (s *Server) logDecision(projectKey, environmentKey, subjectID string, rawContext map[string]any, result decision.Decision) {
	if s.evalLog == nil {
		return
	}
	var variantKey *string
	if result.VariantKey != nil {
		v := *result.VariantKey
		variantKey = &v
	}
	s.evalLog.Log(evallog.Entry{
		ProjectKey:      projectKey,
		FlagKey:         result.FlagKey,
		EnvironmentKey:  environmentKey,
		SubjectID:       subjectID,
		ContextSnapshot: rawContext,
		Outcome:         result.Enabled,
		VariantKey:      variantKey,
		MatchedRule:     result.MatchedRule,
		Reason:          result.Reason,
		EvaluatedAt:     time.Now(),
	})
}

func parseContextParam(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	return m, nil
}
