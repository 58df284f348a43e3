package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/devrimkaya/flagship/internal/auth"
	"github.com/devrimkaya/flagship/internal/changebus"
	"github.com/devrimkaya/flagship/internal/store"
)

func TestHandleStream_DeliversMatchingProjectEvent(t *testing.T) {
	srv, _, _ := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/v1/stream", nil).WithContext(ctx)
	req.Header.Set(auth.ProjectKeyHeader, "acme")
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		srv.handleStream(w, req)
		close(done)
	}()

	// Give the handler a moment to subscribe before publishing.
	time.Sleep(20 * time.Millisecond)
	if err := srv.bus.Publish(context.Background(), mustEvent("acme", "new-checkout")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handleStream did not return after context cancellation")
	}

	body := w.Body.String()
	if !strings.Contains(body, "event: init") {
		t.Fatalf("expected an init frame, got body: %s", body)
	}
	if !strings.Contains(body, "new-checkout") {
		t.Fatalf("expected a change frame mentioning the flag key, got body: %s", body)
	}
}

func TestHandleStream_MissingProjectKey(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/stream", nil)
	w := httptest.NewRecorder()
	srv.handleStream(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func mustEvent(projectKey, flagKey string) changebus.Event {
	return changebus.Event{
		Invalidation: store.InvalidationEvent{ProjectKey: projectKey, EnvironmentKey: "production", FlagKey: flagKey},
		Change:       store.ChangeEvent{ProjectKey: projectKey, EnvironmentKey: "production", FlagKey: flagKey, Action: "flag_toggled"},
	}
}
