package hub

import (
	"context"
	"testing"
	"time"

	"prmonitor/internal"
)

func startHub(t *testing.T, bufSize, subscriberBuf int) *Hub {
	t.Helper()
	h := New(bufSize, subscriberBuf, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func recvEvent(t *testing.T, sub *Subscriber) internal.WebhookEvent {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		if !ok {
			t.Fatalf("subscriber channel closed unexpectedly")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return internal.WebhookEvent{}
}

// TestPublishOrder tests that every subscriber sees events in publish order.
func TestPublishOrder(t *testing.T) {
	h := startHub(t, 64, 16)

	a := h.Subscribe()
	b := h.Subscribe()
	defer h.Unsubscribe(a)
	defer h.Unsubscribe(b)

	for i := int64(1); i <= 5; i++ {
		h.Publish(internal.WebhookEvent{ID: i, EventType: "pull_request"})
	}

	for _, sub := range []*Subscriber{a, b} {
		for i := int64(1); i <= 5; i++ {
			ev := recvEvent(t, sub)
			if ev.ID != i {
				t.Fatalf("expected event %d, got %d", i, ev.ID)
			}
		}
	}
}

// TestSlowSubscriberDropped tests that a subscriber that stops draining is
// disconnected while a healthy subscriber keeps receiving every event.
func TestSlowSubscriberDropped(t *testing.T) {
	h := startHub(t, 64, 2)

	slow := h.Subscribe()
	healthy := h.Subscribe()
	defer h.Unsubscribe(healthy)

	// The slow subscriber never reads. Its buffer holds 2 events; the next
	// delivery attempt disconnects it.
	for i := int64(1); i <= 5; i++ {
		h.Publish(internal.WebhookEvent{ID: i})
	}

	for i := int64(1); i <= 5; i++ {
		ev := recvEvent(t, healthy)
		if ev.ID != i {
			t.Fatalf("healthy subscriber expected event %d, got %d", i, ev.ID)
		}
	}

	// A closed channel is how the hub signals the disconnect.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-slow.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("slow subscriber was never disconnected")
		}
	}
}

// TestUnsubscribe tests that an unsubscribed client gets a closed channel and
// no further events, and that the live count reflects the departure.
func TestUnsubscribe(t *testing.T) {
	h := startHub(t, 64, 16)

	a := h.Subscribe()
	b := h.Subscribe()
	if h.Len() != 2 {
		t.Fatalf("expected 2 subscribers, got %d", h.Len())
	}

	h.Unsubscribe(a)

	// Drain until the hub closes a's channel.
	deadline := time.After(2 * time.Second)
	for {
		closed := false
		select {
		case _, ok := <-a.Events():
			closed = !ok
		case <-deadline:
			t.Fatalf("unsubscribed channel was never closed")
		}
		if closed {
			break
		}
	}

	h.Publish(internal.WebhookEvent{ID: 1})
	if ev := recvEvent(t, b); ev.ID != 1 {
		t.Fatalf("expected remaining subscriber to receive event 1, got %d", ev.ID)
	}
	if h.Len() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", h.Len())
	}
	h.Unsubscribe(b)
}

// TestShutdownClosesSubscribers tests that canceling Run closes every
// subscriber channel and later calls do not block.
func TestShutdownClosesSubscribers(t *testing.T) {
	h := New(8, 4, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	sub := h.Subscribe()
	cancel()
	<-done

	select {
	case _, ok := <-sub.Events():
		if ok {
			t.Fatalf("expected closed channel after shutdown")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("subscriber channel not closed after shutdown")
	}

	// None of these may deadlock once the hub is down.
	h.Publish(internal.WebhookEvent{ID: 9})
	h.Unsubscribe(sub)
	late := h.Subscribe()
	if _, ok := <-late.Events(); ok {
		t.Fatalf("expected closed channel for post-shutdown subscribe")
	}
}
