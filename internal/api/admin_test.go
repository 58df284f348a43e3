package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/devrimkaya/flagship/internal/operator"
	"github.com/devrimkaya/flagship/internal/segment"
	"github.com/devrimkaya/flagship/internal/store"
)

func adminRouter(srv *Server) chi.Router {
	r := chi.NewRouter()
	r.Post("/v1/admin/environments", srv.handleUpsertEnvironment)
	r.Route("/v1/admin/flags", func(r chi.Router) {
		r.Post("/", srv.handleUpsertFlag)
		r.Get("/", srv.handleListFlags)
		r.Get("/{key}", srv.handleGetFlag)
		r.Post("/{key}/toggle", srv.handleToggleFlag)
		r.Post("/{key}/schedule", srv.handleScheduleFlag)
		r.Delete("/{key}/schedule", srv.handleClearScheduleFlag)
		r.Post("/{key}/archive", srv.handleArchiveFlag)
		r.Put("/{key}/rules/{env}", srv.handleUpsertFlagRules)
	})
	r.Route("/v1/admin/segments", func(r chi.Router) {
		r.Post("/", srv.handleUpsertSegment)
		r.Delete("/{key}", srv.handleDeleteSegment)
	})
	return r
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reqBody *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reqBody = bytes.NewReader(b)
	} else {
		reqBody = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reqBody)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandleUpsertEnvironment(t *testing.T) {
	srv, _, _ := newTestServer(t)
	r := adminRouter(srv)

	w := doJSON(t, r, http.MethodPost, "/v1/admin/environments", upsertEnvironmentRequest{
		ProjectKey: "acme", Key: "staging", Name: "Staging",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandleUpsertFlag_CreateThenUpdate(t *testing.T) {
	srv, s, _ := newTestServer(t)
	ctx := context.Background()
	if _, err := s.UpsertEnvironment(ctx, store.UpsertEnvironmentParams{ProjectKey: "acme", Key: "production", Name: "production"}); err != nil {
		t.Fatalf("UpsertEnvironment failed: %v", err)
	}

	r := adminRouter(srv)

	w := doJSON(t, r, http.MethodPost, "/v1/admin/flags/", upsertFlagRequest{
		ProjectKey: "acme", Key: "new-checkout", Name: "New checkout", Type: "boolean",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 on create, got %d: %s", w.Code, w.Body.String())
	}

	w2 := doJSON(t, r, http.MethodPost, "/v1/admin/flags/", upsertFlagRequest{
		ProjectKey: "acme", Key: "new-checkout", Name: "New checkout v2", Type: "boolean",
	})
	if w2.Code != http.StatusOK {
		t.Fatalf("expected 200 on update, got %d: %s", w2.Code, w2.Body.String())
	}

	agg, err := s.GetFlag(ctx, "acme", "new-checkout")
	if err != nil {
		t.Fatalf("GetFlag failed: %v", err)
	}
	if agg.Flag.Name != "New checkout v2" {
		t.Fatalf("expected updated name, got %s", agg.Flag.Name)
	}
}

func TestHandleToggleFlag_CancelsSchedule(t *testing.T) {
	srv, s, _ := newTestServer(t)
	seedBooleanFlag(t, s, "acme", "production", "new-checkout", false)

	r := adminRouter(srv)
	w := doJSON(t, r, http.MethodPost, "/v1/admin/flags/new-checkout/toggle", toggleFlagRequest{
		ProjectKey: "acme", EnvironmentKey: "production", Enabled: true,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	agg, err := s.GetFlag(context.Background(), "acme", "new-checkout")
	if err != nil {
		t.Fatalf("GetFlag failed: %v", err)
	}
	if !agg.Environments["production"].Enabled {
		t.Fatal("expected flag to be enabled after toggle")
	}
}

func TestHandleArchiveFlag(t *testing.T) {
	srv, s, _ := newTestServer(t)
	seedBooleanFlag(t, s, "acme", "production", "new-checkout", true)

	r := adminRouter(srv)
	w := doJSON(t, r, http.MethodPost, "/v1/admin/flags/new-checkout/archive", archiveFlagRequest{ProjectKey: "acme"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	agg, err := s.GetFlag(context.Background(), "acme", "new-checkout")
	if err != nil {
		t.Fatalf("GetFlag failed: %v", err)
	}
	if !agg.Flag.Archived {
		t.Fatal("expected flag to be archived")
	}
}

func TestHandleUpsertSegmentAndDelete(t *testing.T) {
	srv, _, _ := newTestServer(t)
	r := adminRouter(srv)

	w := doJSON(t, r, http.MethodPost, "/v1/admin/segments/", upsertSegmentRequest{
		ProjectKey: "acme", Key: "beta-users", Name: "Beta users", MatchType: segment.MatchAll,
		Rules: []segmentRuleRowRequest{
			{Attribute: "plan", Operator: operator.Eq, Literal: "beta"},
		},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w2 := doJSON(t, r, http.MethodDelete, "/v1/admin/segments/beta-users?project_key=acme", nil)
	if w2.Code != http.StatusOK {
		t.Fatalf("expected 200 on delete, got %d: %s", w2.Code, w2.Body.String())
	}
}

func TestHandleUpsertFlagRules_ResolvesSegmentAndVariantKeys(t *testing.T) {
	srv, s, _ := newTestServer(t)
	ctx := context.Background()
	if _, err := s.UpsertEnvironment(ctx, store.UpsertEnvironmentParams{ProjectKey: "acme", Key: "production", Name: "production"}); err != nil {
		t.Fatalf("UpsertEnvironment failed: %v", err)
	}
	if _, err := s.UpsertSegment(ctx, store.UpsertSegmentParams{
		ProjectKey: "acme", Key: "beta-users", Name: "Beta users", MatchType: segment.MatchAll,
	}); err != nil {
		t.Fatalf("UpsertSegment failed: %v", err)
	}
	if _, err := s.UpsertFlag(ctx, store.UpsertFlagParams{
		ProjectKey: "acme", Key: "button-color", Name: "Button color", Type: "variant",
		Variants: []store.FlagVariant{
			{Key: "blue", Weight: 50, Position: 0},
			{Key: "red", Weight: 50, Position: 1},
		},
	}); err != nil {
		t.Fatalf("UpsertFlag failed: %v", err)
	}

	segKey := "beta-users"
	variantKey := "blue"
	r := adminRouter(srv)
	w := doJSON(t, r, http.MethodPut, "/v1/admin/flags/button-color/rules/production", upsertFlagRulesRequest{
		ProjectKey: "acme",
		Rules: []ruleRequest{
			{
				RuleType:        "segment",
				SegmentKey:      &segKey,
				ServeEnabled:    true,
				ServeVariantKey: &variantKey,
			},
		},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	agg, err := s.GetFlag(ctx, "acme", "button-color")
	if err != nil {
		t.Fatalf("GetFlag failed: %v", err)
	}
	rules := agg.Rules["production"]
	if len(rules) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(rules))
	}
	if rules[0].SegmentID == nil {
		t.Fatal("expected segment_key to resolve to a non-nil SegmentID")
	}
	if rules[0].ServeVariantID == nil {
		t.Fatal("expected serve_variant_key to resolve to a non-nil ServeVariantID")
	}
}

func TestHandleUpsertFlagRules_UnknownSegmentKeyRejected(t *testing.T) {
	srv, s, _ := newTestServer(t)
	seedBooleanFlag(t, s, "acme", "production", "new-checkout", true)

	segKey := "does-not-exist"
	r := adminRouter(srv)
	w := doJSON(t, r, http.MethodPut, "/v1/admin/flags/new-checkout/rules/production", upsertFlagRulesRequest{
		ProjectKey: "acme",
		Rules: []ruleRequest{
			{RuleType: "segment", SegmentKey: &segKey, ServeEnabled: true},
		},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if resp.Code != ErrCodeSchemaViolation {
		t.Fatalf("expected code %s, got %s", ErrCodeSchemaViolation, resp.Code)
	}
}

func TestHandleUpsertFlagRules_OutOfRangePercentageRejected(t *testing.T) {
	srv, s, _ := newTestServer(t)
	seedBooleanFlag(t, s, "acme", "production", "new-checkout", true)

	pct := 150
	r := adminRouter(srv)
	w := doJSON(t, r, http.MethodPut, "/v1/admin/flags/new-checkout/rules/production", upsertFlagRulesRequest{
		ProjectKey: "acme",
		Rules: []ruleRequest{
			{RuleType: "user_id", UserIDs: []string{"u1"}, ServeEnabled: true, ServePercentage: &pct},
		},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if resp.Code != ErrCodeInvalidRollout {
		t.Fatalf("expected code %s, got %s", ErrCodeInvalidRollout, resp.Code)
	}
}

func TestHandleUpsertFlagRules_UnknownOperatorRejected(t *testing.T) {
	srv, s, _ := newTestServer(t)
	seedBooleanFlag(t, s, "acme", "production", "new-checkout", true)

	attr := "plan"
	op := operator.Op("made_up_operator")
	r := adminRouter(srv)
	w := doJSON(t, r, http.MethodPut, "/v1/admin/flags/new-checkout/rules/production", upsertFlagRulesRequest{
		ProjectKey: "acme",
		Rules: []ruleRequest{
			{RuleType: "attribute", Attribute: &attr, Operator: &op, Literal: strPtr("pro"), ServeEnabled: true},
		},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if resp.Code != ErrCodeInvalidExpression {
		t.Fatalf("expected code %s, got %s", ErrCodeInvalidExpression, resp.Code)
	}
}

func strPtr(s string) *string { return &s }

func TestHandleUpsertSegment_UnknownOperatorRejected(t *testing.T) {
	srv, _, _ := newTestServer(t)
	r := adminRouter(srv)

	w := doJSON(t, r, http.MethodPost, "/v1/admin/segments/", upsertSegmentRequest{
		ProjectKey: "acme", Key: "beta-users", Name: "Beta users", MatchType: segment.MatchAll,
		Rules: []segmentRuleRowRequest{
			{Attribute: "plan", Operator: operator.Op("made_up_operator"), Literal: "beta"},
		},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if resp.Code != ErrCodeInvalidExpression {
		t.Fatalf("expected code %s, got %s", ErrCodeInvalidExpression, resp.Code)
	}
}

func TestHandleUpsertFlag_InvalidVariantsRejected(t *testing.T) {
	srv, s, _ := newTestServer(t)
	ctx := context.Background()
	if _, err := s.UpsertEnvironment(ctx, store.UpsertEnvironmentParams{ProjectKey: "acme", Key: "production", Name: "production"}); err != nil {
		t.Fatalf("UpsertEnvironment failed: %v", err)
	}

	r := adminRouter(srv)
	w := doJSON(t, r, http.MethodPost, "/v1/admin/flags/", upsertFlagRequest{
		ProjectKey: "acme", Key: "button-color", Name: "Button color", Type: "variant",
		Variants: []variantRequest{
			{Key: "blue", Weight: 0},
			{Key: "red", Weight: 0},
		},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if resp.Code != ErrCodeInvalidVariants {
		t.Fatalf("expected code %s, got %s", ErrCodeInvalidVariants, resp.Code)
	}
}

func TestHandleArchiveFlag_PermanentFlagForbidden(t *testing.T) {
	srv, s, _ := newTestServer(t)
	ctx := context.Background()
	if _, err := s.UpsertEnvironment(ctx, store.UpsertEnvironmentParams{ProjectKey: "acme", Key: "production", Name: "production"}); err != nil {
		t.Fatalf("UpsertEnvironment failed: %v", err)
	}
	if _, err := s.UpsertFlag(ctx, store.UpsertFlagParams{
		ProjectKey: "acme", Key: "kill-switch", Name: "Kill switch", Type: "boolean", Permanent: true,
	}); err != nil {
		t.Fatalf("UpsertFlag failed: %v", err)
	}

	r := adminRouter(srv)
	w := doJSON(t, r, http.MethodPost, "/v1/admin/flags/kill-switch/archive", archiveFlagRequest{ProjectKey: "acme"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", w.Code, w.Body.String())
	}

	agg, err := s.GetFlag(ctx, "acme", "kill-switch")
	if err != nil {
		t.Fatalf("GetFlag failed: %v", err)
	}
	if agg.Flag.Archived {
		t.Fatal("expected permanent flag to remain un-archived")
	}
}

func TestHandleUpsertFlag_OversizedBodyRejected(t *testing.T) {
	srv, _, _ := newTestServer(t)
	r := adminRouter(srv)

	huge := bytes.Repeat([]byte("a"), maxRequestBodySize+1)
	body := []byte(`{"project_key":"acme","key":"big","description":"`)
	body = append(body, huge...)
	body = append(body, []byte(`"}`)...)

	req := httptest.NewRequest(http.MethodPost, "/v1/admin/flags/", bytes.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d: %s", w.Code, w.Body.String())
	}
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if resp.Code != ErrCodeRequestTooLarge {
		t.Fatalf("expected code %s, got %s", ErrCodeRequestTooLarge, resp.Code)
	}
}
