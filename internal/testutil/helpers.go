package testutil

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/devrimkaya/flagship/internal/api"
	"github.com/devrimkaya/flagship/internal/auth"
	"github.com/devrimkaya/flagship/internal/cache"
	"github.com/devrimkaya/flagship/internal/changebus"
	"github.com/devrimkaya/flagship/internal/evallog"
	"github.com/devrimkaya/flagship/internal/scheduler"
	"github.com/devrimkaya/flagship/internal/store"
)

// NewTestServer wires an api.Server over a fresh in-memory store, using
// no-op/in-process stand-ins for cache, bus, scheduler, and eval log
// (mirroring internal/api's own newTestServer helper).
func NewTestServer(t *testing.T, adminKey string) (*api.Server, *store.MemoryStore) {
	t.Helper()
	memStore := store.NewMemoryStore()
	server := api.NewServer(
		memStore,
		cache.NewLocal(),
		cache.NewShared(nil),
		changebus.NewInProcess(),
		scheduler.New(memStore),
		evallog.New(nil, 16),
		auth.New(adminKey),
		nil,
	)
	return server, memStore
}

// HTTPRequest is a helper for making test HTTP requests.
type HTTPRequest struct {
	Method  string
	Path    string
	Body    string
	Headers map[string]string
}

// Do executes the HTTP request and returns the response recorder.
func (r *HTTPRequest) Do(t *testing.T, handler http.Handler) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if r.Body != "" {
		body = bytes.NewBufferString(r.Body)
	}
	req := httptest.NewRequest(r.Method, r.Path, body)
	if r.Body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

// SeedFlags populates the store with test flags.
func SeedFlags(ctx context.Context, st store.ConfigStore, flags []store.UpsertFlagParams) error {
	for _, f := range flags {
		if _, err := st.UpsertFlag(ctx, f); err != nil {
			return err
		}
	}
	return nil
}
