// Package client is a thin Go HTTP client over the admin and decision
// surfaces of internal/api, the same shape the teacher's internal/client
// takes over its flat flag API: one struct holding a base URL and an
// admin token, one method per admin operation, json.Marshal/Decode over
// net/http with no generated transport.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/devrimkaya/flagship/internal/store"
)

// Client calls the flagship admin API as an authenticated caller.
type Client struct {
	BaseURL    string
	AdminToken string
	HTTPClient *http.Client
}

func NewClient(baseURL, adminToken string) *Client {
	return &Client{
		BaseURL:    baseURL,
		AdminToken: adminToken,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	u := c.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.AdminToken)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// UpsertEnvironment creates or updates a deployment environment.
func (c *Client) UpsertEnvironment(ctx context.Context, params store.UpsertEnvironmentParams) error {
	body := map[string]any{
		"project_key": params.ProjectKey,
		"key":         params.Key,
		"name":        params.Name,
		"production":  params.Production,
		"position":    params.Position,
	}
	return c.do(ctx, http.MethodPost, "/v1/admin/environments", nil, body, nil)
}

// flagVariantRequest mirrors internal/api's variantRequest wire shape.
type flagVariantRequest struct {
	Key    string `json:"key"`
	Name   string `json:"name"`
	Weight int    `json:"weight"`
}

// UpsertFlag creates or updates a flag and its variants.
func (c *Client) UpsertFlag(ctx context.Context, params store.UpsertFlagParams) error {
	variants := make([]flagVariantRequest, len(params.Variants))
	for i, v := range params.Variants {
		variants[i] = flagVariantRequest{Key: v.Key, Name: v.Name, Weight: v.Weight}
	}
	body := map[string]any{
		"project_key": params.ProjectKey,
		"key":         params.Key,
		"name":        params.Name,
		"description": params.Description,
		"type":        params.Type,
		"tags":        params.Tags,
		"permanent":   params.Permanent,
		"owner_email": params.OwnerEmail,
		"variants":    variants,
	}
	return c.do(ctx, http.MethodPost, "/v1/admin/flags/", nil, body, nil)
}

// FlagDetail is the admin-facing view of one flag, matching the flattened
// JSON shape internal/api's handleGetFlag renders (flagAggregateToMap) —
// not a direct store.FlagAggregate marshal, so it gets its own wire type.
type FlagDetail struct {
	Key          string                           `json:"key"`
	Name         string                           `json:"name"`
	Description  string                           `json:"description"`
	Type         string                           `json:"type"`
	Tags         []string                         `json:"tags"`
	Archived     bool                             `json:"archived"`
	Permanent    bool                             `json:"permanent"`
	UpdatedAt    string                           `json:"updated_at"`
	Variants     []FlagVariantDetail              `json:"variants,omitempty"`
	Environments map[string]FlagEnvironmentDetail `json:"environments"`
}

type FlagVariantDetail struct {
	Key    string `json:"key"`
	Name   string `json:"name"`
	Weight int    `json:"weight"`
}

type FlagEnvironmentDetail struct {
	Enabled    bool   `json:"enabled"`
	Percentage int    `json:"percentage"`
	UpdatedAt  string `json:"updated_at"`
}

// GetFlag fetches the full admin-facing view of one flag.
func (c *Client) GetFlag(ctx context.Context, projectKey, flagKey string) (*FlagDetail, error) {
	var detail FlagDetail
	q := url.Values{"project_key": {projectKey}}
	if err := c.do(ctx, http.MethodGet, "/v1/admin/flags/"+flagKey, q, nil, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// ListFlags lists every non-archived flag in a project.
func (c *Client) ListFlags(ctx context.Context, projectKey string) ([]store.Flag, error) {
	var result struct {
		Flags []store.Flag `json:"flags"`
	}
	q := url.Values{"project_key": {projectKey}}
	if err := c.do(ctx, http.MethodGet, "/v1/admin/flags/", q, nil, &result); err != nil {
		return nil, err
	}
	return result.Flags, nil
}

// ToggleFlag enables or disables a flag in one environment.
func (c *Client) ToggleFlag(ctx context.Context, projectKey, flagKey, environmentKey string, enabled bool) error {
	body := map[string]any{
		"project_key":     projectKey,
		"environment_key": environmentKey,
		"enabled":         enabled,
	}
	return c.do(ctx, http.MethodPost, "/v1/admin/flags/"+flagKey+"/toggle", nil, body, nil)
}

// ArchiveFlag soft-deletes a flag.
func (c *Client) ArchiveFlag(ctx context.Context, projectKey, flagKey string) error {
	body := map[string]any{"project_key": projectKey}
	return c.do(ctx, http.MethodPost, "/v1/admin/flags/"+flagKey+"/archive", nil, body, nil)
}

// ScheduleFlag arms a future enable/disable transition.
func (c *Client) ScheduleFlag(ctx context.Context, projectKey, flagKey, environmentKey string, kind store.ScheduleKind, at time.Time) error {
	body := map[string]any{
		"project_key":     projectKey,
		"environment_key": environmentKey,
		"kind":            string(kind),
		"at":              at.Format(time.RFC3339),
	}
	return c.do(ctx, http.MethodPost, "/v1/admin/flags/"+flagKey+"/schedule", nil, body, nil)
}

// DeleteSegment removes an unreferenced segment.
func (c *Client) DeleteSegment(ctx context.Context, projectKey, segmentKey string) error {
	q := url.Values{"project_key": {projectKey}}
	return c.do(ctx, http.MethodDelete, "/v1/admin/segments/"+segmentKey, q, nil, nil)
}

// UpsertSegment creates or updates a reusable subject-matching segment.
func (c *Client) UpsertSegment(ctx context.Context, params store.UpsertSegmentParams) error {
	rules := make([]map[string]any, len(params.Rules))
	for i, r := range params.Rules {
		rules[i] = map[string]any{"attribute": r.Attribute, "operator": r.Operator, "literal": r.Literal}
	}
	body := map[string]any{
		"project_key": params.ProjectKey,
		"key":         params.Key,
		"name":        params.Name,
		"match_type":  params.MatchType,
		"rules":       rules,
	}
	return c.do(ctx, http.MethodPost, "/v1/admin/segments/", nil, body, nil)
}

// Decision evaluates a flag for the caller's project, mirroring what an
// SDK would do against the public decision path.
func (c *Client) Decision(ctx context.Context, projectKey, flagKey, environmentKey string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/v1/flags/"+flagKey+"?environment="+url.QueryEscape(environmentKey), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-Project-Key", projectKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}
