package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"math"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/devrimkaya/flagship/internal/changebus"
)

const (
	// queueSize is the buffer size for the event queue
	queueSize = 1000

	// maxResponseBodySize limits how much of the response body we read (1KB)
	maxResponseBodySize = 1024
)

// Target is one outbound webhook registration: a URL to POST signed
// event payloads to, filtered by event type and (optionally) by
// environment. Registering/managing targets is administrative CRUD out
// of this module's scope, so targets are supplied at construction
// rather than persisted.
type Target struct {
	URL            string
	Secret         string
	Events         []string
	Environments   []string // empty matches every environment
	MaxRetries     int
	TimeoutSeconds int
}

func (t Target) matches(event Event) bool {
	eventMatches := false
	for _, e := range t.Events {
		if e == event.Type {
			eventMatches = true
			break
		}
	}
	if !eventMatches {
		return false
	}

	if len(t.Environments) == 0 {
		return true
	}
	for _, env := range t.Environments {
		if env == event.Environment {
			return true
		}
	}
	return false
}

// Dispatcher delivers Change Bus events to every matching outbound
// webhook target, with per-target retry.
type Dispatcher struct {
	targets []Target
	client  *http.Client
	queue   chan Event
	done    chan struct{}
	closed  int32 // atomic flag to prevent double-close
}

// NewDispatcher creates a new webhook dispatcher over a fixed set of targets.
func NewDispatcher(targets []Target) *Dispatcher {
	return &Dispatcher{
		targets: targets,
		client:  &http.Client{Timeout: 10 * time.Second},
		queue:   make(chan Event, queueSize),
		done:    make(chan struct{}),
	}
}

// Start begins processing events from the queue.
func (d *Dispatcher) Start() {
	go d.worker()
}

// Close gracefully shuts down the webhook dispatcher, waiting for
// pending deliveries to finish.
//
// Close is safe to call multiple times - subsequent calls are no-ops.
func (d *Dispatcher) Close() error {
	if !atomic.CompareAndSwapInt32(&d.closed, 0, 1) {
		return nil
	}
	close(d.queue)
	<-d.done
	return nil
}

// Dispatch queues an event for webhook delivery. Non-blocking; drops the
// event with a log line if the queue is full.
func (d *Dispatcher) Dispatch(event Event) {
	select {
	case d.queue <- event:
	default:
		log.Printf("[webhook] CRITICAL: queue full (size=%d), dropping event: type=%s resource=%s/%s env=%s",
			queueSize, event.Type, event.Resource.Type, event.Resource.Key, event.Environment)
	}
}

// Subscribe bridges Change Bus events onto Dispatch, translating the
// store's {project, environment, flag, action} shape into a webhook
// Event. Runs until ctx is cancelled.
func (d *Dispatcher) Subscribe(ctx context.Context, bus changebus.Bus) {
	events, unsubscribe := bus.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if event, ok := fromChangeEvent(ev); ok {
				d.Dispatch(event)
			}
		}
	}
}

// fromChangeEvent maps a Change Bus event onto a webhook Event. Not
// every change-bus action has a webhook-visible equivalent: segment
// actions are silently skipped, while schedule_fired is reported as
// flag.updated.
func fromChangeEvent(ev changebus.Event) (Event, bool) {
	var eventType string
	switch ev.Change.Action {
	case "flag_upserted":
		eventType = EventFlagCreated
	case "flag_toggled", "schedule_fired":
		eventType = EventFlagUpdated
	case "flag_archived":
		eventType = EventFlagDeleted
	default:
		return Event{}, false
	}

	return Event{
		Type:        eventType,
		Timestamp:   time.Now(),
		Project:     ev.Change.ProjectKey,
		Environment: ev.Change.EnvironmentKey,
		Resource:    Resource{Type: "flag", Key: ev.Change.FlagKey},
	}, true
}

// worker processes events from the queue.
func (d *Dispatcher) worker() {
	defer close(d.done)

	for event := range d.queue {
		for _, target := range d.targets {
			if target.matches(event) {
				d.deliverWithRetry(context.Background(), target, event)
			}
		}
	}
}

// deliverWithRetry attempts to deliver an event to a target with
// exponential backoff between attempts.
func (d *Dispatcher) deliverWithRetry(ctx context.Context, target Target, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("[webhook] failed to marshal event payload: url=%s event_type=%s error=%v", target.URL, event.Type, err)
		return
	}

	signature := ComputeHMAC(payload, target.Secret)
	deliveryID := uuid.New().String()

	timeout := time.Duration(target.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	for attempt := 0; attempt <= target.MaxRetries; attempt++ {
		req, err := http.NewRequest(http.MethodPost, target.URL, bytes.NewReader(payload))
		if err != nil {
			log.Printf("[webhook] failed to create request: url=%s error=%v", target.URL, err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Flagship-Signature", signature)
		req.Header.Set("X-Flagship-Event", event.Type)
		req.Header.Set("X-Flagship-Delivery", deliveryID)

		reqCtx, cancel := context.WithTimeout(ctx, timeout)
		resp, err := d.client.Do(req.WithContext(reqCtx))
		cancel()

		success := err == nil && resp.StatusCode >= 200 && resp.StatusCode < 300
		if resp != nil {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBodySize))
			resp.Body.Close()
		}

		if success {
			log.Printf("[webhook] delivered: url=%s event_type=%s attempt=%d/%d", target.URL, event.Type, attempt+1, target.MaxRetries+1)
			return
		}

		if attempt < target.MaxRetries {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * time.Second
			log.Printf("[webhook] delivery failed: url=%s event_type=%s attempt=%d/%d err=%v retry_in=%s",
				target.URL, event.Type, attempt+1, target.MaxRetries+1, err, backoff)
			time.Sleep(backoff)
		} else {
			log.Printf("[webhook] delivery failed permanently: url=%s event_type=%s attempts=%d", target.URL, event.Type, target.MaxRetries+1)
		}
	}
}
