// Package webhook delivers Change Bus events to outbound HTTP targets.
//
// Dispatch flow:
//  1. Dispatcher.Subscribe bridges changebus.Bus events onto Dispatch
//  2. Event is queued in a buffered channel (non-blocking, async)
//  3. Background worker processes events from the queue
//  4. For each event, worker finds matching targets (filters by event type and environment)
//  5. Worker attempts delivery to each matching target with retry logic
//
// Retry logic: exponential backoff (1s, 2s, 4s, ...), max retries configured
// per target. Permanent failures are logged but don't block processing.
//
// Thread safety: Dispatch() is non-blocking and safe to call from any
// goroutine. Queue has fixed size (1000); if full, events are dropped with
// a warning.
package webhook

import (
	"time"
)

// Event types that can trigger webhooks
const (
	EventFlagCreated = "flag.created"
	EventFlagUpdated = "flag.updated"
	EventFlagDeleted = "flag.deleted"
)

// Event represents a webhook event that will be sent to subscribed webhooks
type Event struct {
	Type        string            `json:"event"`
	Timestamp   time.Time         `json:"timestamp"`
	Project     string            `json:"project,omitempty"`
	Environment string            `json:"environment"`
	Resource    Resource          `json:"resource"`
	Data        EventData         `json:"data"`
	Metadata    Metadata          `json:"metadata"`
}

// Resource identifies the resource that triggered the event
type Resource struct {
	Type string `json:"type"` // e.g., "flag"
	Key  string `json:"key"`  // e.g., flag key
}

// EventData contains the before/after state and changes
type EventData struct {
	Before  map[string]any `json:"before,omitempty"`
	After   map[string]any `json:"after,omitempty"`
	Changes map[string]any `json:"changes,omitempty"`
}

// Metadata contains additional context about the event
type Metadata struct {
	Actor     string `json:"actor,omitempty"`
	IPAddress string `json:"ipAddress,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}
