package changebus

import (
	"context"
	"testing"
	"time"

	"github.com/devrimkaya/flagship/internal/store"
)

func TestInProcessPublishSubscribe(t *testing.T) {
	bus := NewInProcess()
	ch, unsub := bus.Subscribe()
	defer unsub()

	ev := Event{Change: store.ChangeEvent{ProjectKey: "acme", FlagKey: "f1", Action: "flag_upserted"}}
	if err := bus.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case got := <-ch:
		if got.Change.FlagKey != "f1" {
			t.Fatalf("expected flag_key f1, got %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestInProcessUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewInProcess()
	ch, unsub := bus.Subscribe()
	unsub()

	_ = bus.Publish(context.Background(), Event{})
	if _, ok := <-ch; ok {
		t.Fatal("expected channel closed after unsubscribe")
	}
}

func TestInProcessSlowSubscriberDropsRatherThanBlocks(t *testing.T) {
	bus := NewInProcess()
	_, unsub := bus.Subscribe() // buffered consumer, never drained
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 32; i++ {
			_ = bus.Publish(context.Background(), Event{})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
}

func TestPumpBridgesOutboxToBus(t *testing.T) {
	bus := NewInProcess()
	ch, unsub := bus.Subscribe()
	defer unsub()

	outbox := make(chan store.OutboxEvent, 1)
	outbox <- store.OutboxEvent{Change: store.ChangeEvent{ProjectKey: "acme", FlagKey: "f1", Action: "flag_upserted"}}
	close(outbox)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	Pump(ctx, outbox, bus)

	select {
	case got := <-ch:
		if got.Change.FlagKey != "f1" {
			t.Fatalf("expected bridged event for f1, got %+v", got)
		}
	default:
		t.Fatal("expected Pump to have published the outbox event")
	}
}
