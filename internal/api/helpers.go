package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/devrimkaya/flagship/internal/store"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// maxRequestBodySize caps every decoded admin/evaluation request body,
// mirroring the 1MB ceiling the Decision surface has always needed.
const maxRequestBodySize = 1 << 20

// decodeJSONBody reads r.Body into v, capping it at maxRequestBodySize so
// an oversized payload can't be used to exhaust memory. On failure it has
// already written the error response (413 if the body was too large, 400
// for any other decode error) and returns false.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			RequestTooLargeError(w, r, "request body exceeds 1MB limit")
			return false
		}
		BadRequestError(w, r, ErrCodeInvalidJSON, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

// flagAggregateToMap flattens a FlagAggregate into an audit-log-friendly
// map: the flag row plus a nested per-environment view, since the
// environment a mutation touches is usually just one of several.
func flagAggregateToMap(agg *store.FlagAggregate) map[string]any {
	if agg == nil {
		return nil
	}

	m := map[string]any{
		"key":         agg.Flag.Key,
		"name":        agg.Flag.Name,
		"description": agg.Flag.Description,
		"type":        string(agg.Flag.Type),
		"tags":        agg.Flag.Tags,
		"archived":    agg.Flag.Archived,
		"permanent":   agg.Flag.Permanent,
		"updated_at":  agg.Flag.UpdatedAt.Format(time.RFC3339),
	}

	if len(agg.Variants) > 0 {
		variants := make([]map[string]any, len(agg.Variants))
		for i, v := range agg.Variants {
			variants[i] = map[string]any{
				"key":    v.Key,
				"name":   v.Name,
				"weight": v.Weight,
			}
		}
		m["variants"] = variants
	}

	environments := make(map[string]any, len(agg.Environments))
	for envKey, fe := range agg.Environments {
		environments[envKey] = map[string]any{
			"enabled":    fe.Enabled,
			"percentage": fe.Percentage,
			"updated_at": fe.UpdatedAt.Format(time.RFC3339),
		}
	}
	m["environments"] = environments

	return m
}
