package webhook

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// TestWebhookIntegration tests webhook delivery with a mock HTTP server.
func TestWebhookIntegration(t *testing.T) {
	received := make(chan Event, 10)

	mockServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Expected Content-Type: application/json, got %s", r.Header.Get("Content-Type"))
		}

		signature := r.Header.Get("X-Flagship-Signature")
		if signature == "" {
			t.Error("Missing X-Flagship-Signature header")
		}
		if r.Header.Get("X-Flagship-Event") == "" {
			t.Error("Missing X-Flagship-Event header")
		}
		if r.Header.Get("X-Flagship-Delivery") == "" {
			t.Error("Missing X-Flagship-Delivery header")
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("Failed to read request body: %v", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		var event Event
		if err := json.Unmarshal(body, &event); err != nil {
			t.Errorf("Failed to unmarshal event: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		secret := "test-secret-123"
		if !VerifySignature(body, signature, secret) {
			t.Error("Signature verification failed")
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		received <- event
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer mockServer.Close()

	dispatcher := NewDispatcher([]Target{
		{
			URL:            mockServer.URL,
			Events:         []string{EventFlagUpdated},
			Secret:         "test-secret-123",
			MaxRetries:     3,
			TimeoutSeconds: 10,
		},
	})
	dispatcher.Start()
	defer dispatcher.Close()

	testEvent := Event{
		Type:        EventFlagUpdated,
		Timestamp:   time.Now(),
		Environment: "prod",
		Resource:    Resource{Type: "flag", Key: "test_flag"},
		Data: EventData{
			Before: map[string]any{"enabled": false},
			After:  map[string]any{"enabled": true},
			Changes: map[string]any{
				"enabled": map[string]any{"before": false, "after": true},
			},
		},
		Metadata: Metadata{RequestID: "test-request-123"},
	}

	dispatcher.Dispatch(testEvent)

	select {
	case receivedEvent := <-received:
		if receivedEvent.Type != testEvent.Type {
			t.Errorf("Event type mismatch: got %s, want %s", receivedEvent.Type, testEvent.Type)
		}
		if receivedEvent.Resource.Key != testEvent.Resource.Key {
			t.Errorf("Resource key mismatch: got %s, want %s", receivedEvent.Resource.Key, testEvent.Resource.Key)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timeout waiting for webhook delivery")
	}
}

// TestWebhookRetry tests retry logic with failures.
func TestWebhookRetry(t *testing.T) {
	attempts := 0
	var mu sync.Mutex

	mockServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		currentAttempt := attempts
		mu.Unlock()

		if currentAttempt < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer mockServer.Close()

	dispatcher := NewDispatcher([]Target{
		{
			URL:            mockServer.URL,
			Events:         []string{EventFlagCreated},
			Secret:         "test-secret",
			MaxRetries:     3,
			TimeoutSeconds: 5,
		},
	})
	dispatcher.Start()
	defer dispatcher.Close()

	testEvent := Event{
		Type:        EventFlagCreated,
		Environment: "prod",
		Resource:    Resource{Type: "flag", Key: "new_flag"},
		Timestamp:   time.Now(),
	}

	dispatcher.Dispatch(testEvent)

	// Wait for retries to complete: initial attempt + 2 retries at 1s/2s backoff.
	time.Sleep(10 * time.Second)

	mu.Lock()
	finalAttempts := attempts
	mu.Unlock()

	if finalAttempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", finalAttempts)
	}
}
