// Package changebus fans out config-change events (flag/segment
// upserts, toggles, archives) to everything that cares:
// the Cache Layer's invalidation path, outbound webhooks, and the
// Subscribe stream. Adapted from two pack sources: the reference
// snapshot package's in-process Subscribe/publishUpdate
// (non-blocking fan-out over a set of channels) for the in-process
// fallback transport, and the feature-flag-platform pack repo's
// ConfigService (nats.Conn.Subscribe on a fixed subject, one
// subscription per process) for the durable NATS transport. Subjects
// are named "flagship.changes.{project}" so publishes for one project
// are FIFO per NATS's per-subject ordering guarantee, matching the
// per-project ordering the Config Store's outbox requires.
package changebus

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/devrimkaya/flagship/internal/store"
)

// Event is what a Change Bus subscriber receives: the invalidation half
// tells a cache which key stopped being valid, the change half gives a
// webhook subscriber enough to build a payload.
type Event struct {
	Invalidation store.InvalidationEvent `json:"invalidation"`
	Change       store.ChangeEvent       `json:"change"`
}

func subject(projectKey string) string {
	return "flagship.changes." + projectKey
}

// Bus is anything that can publish a change event and let subscribers
// drain them.
type Bus interface {
	Publish(ctx context.Context, ev Event) error
	Subscribe() (<-chan Event, func())
	Close() error
}

// InProcess is the in-process fallback bus used in tests and in the
// memory-store deployment mode where no NATS_URL is configured.
// Grounded directly on snapshot.Subscribe/publishUpdate: a set of
// buffered channels, non-blocking send, drop on a full/slow subscriber.
type InProcess struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

func NewInProcess() *InProcess {
	return &InProcess{subs: make(map[chan Event]struct{})}
}

func (b *InProcess) Publish(_ context.Context, ev Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}

func (b *InProcess) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 16)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	unsub := func() {
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, unsub
}

func (b *InProcess) Close() error { return nil }

// NATS is the durable, cross-process bus backing production deployments.
type NATS struct {
	conn *nats.Conn

	mu   sync.Mutex
	subs map[chan Event]*nats.Subscription
}

func NewNATS(url string) (*NATS, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	return &NATS{conn: conn, subs: make(map[chan Event]*nats.Subscription)}, nil
}

func (b *NATS) Publish(_ context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.conn.Publish(subject(ev.Change.ProjectKey), data)
}

// Subscribe listens across every project subject ("flagship.changes.*")
// since a single process typically serves more than one project.
func (b *NATS) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)
	sub, err := b.conn.Subscribe("flagship.changes.*", func(msg *nats.Msg) {
		var ev Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			log.Printf("[changebus] dropping malformed message: %v", err)
			return
		}
		select {
		case ch <- ev:
		default:
			log.Printf("[changebus] subscriber slow, dropping event for project %s", ev.Change.ProjectKey)
		}
	})
	if err != nil {
		log.Printf("[changebus] subscribe failed: %v", err)
		close(ch)
		return ch, func() {}
	}

	b.mu.Lock()
	b.subs[ch] = sub
	b.mu.Unlock()

	unsub := func() {
		b.mu.Lock()
		if s, ok := b.subs[ch]; ok {
			_ = s.Unsubscribe()
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, unsub
}

func (b *NATS) Close() error {
	b.conn.Close()
	return nil
}

// Pump drains a store's outbox and republishes every event onto bus,
// bridging the Config Store's internal channel to the wider Change Bus.
// Runs until ctx is cancelled or the outbox channel closes.
func Pump(ctx context.Context, outbox <-chan store.OutboxEvent, bus Bus) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-outbox:
			if !ok {
				return
			}
			if err := bus.Publish(ctx, Event{Invalidation: ev.Invalidation, Change: ev.Change}); err != nil {
				log.Printf("[changebus] publish failed: %v", err)
			}
		}
	}
}
