// Package hub fans webhook events out to live subscribers. Each subscriber
// owns a bounded channel; a subscriber that stops draining is disconnected
// rather than allowed to backpressure the publisher.
package hub

import (
	"context"
	"log"
	"sync/atomic"

	"prmonitor/internal"
)

// Subscriber is a live consumer of the hub. Events arrive on the channel
// returned by Events; the hub closes it on unsubscribe, on disconnect for
// falling behind, and on hub shutdown.
type Subscriber struct {
	id uint64
	ch chan internal.WebhookEvent
}

// Events returns the subscriber's ordered event stream.
func (s *Subscriber) Events() <-chan internal.WebhookEvent {
	return s.ch
}

// Hub owns the subscriber set. All mutation happens on the Run goroutine, so
// the set needs no lock.
type Hub struct {
	register   chan *Subscriber
	unregister chan *Subscriber
	broadcast  chan internal.WebhookEvent

	subscribers map[*Subscriber]struct{}
	active      atomic.Int64
	nextID      atomic.Uint64
	bufSize     int
	logger      *log.Logger
	done        chan struct{}
}

// New creates a Hub. bufSize bounds the publish queue, subscriberBuf bounds
// each subscriber's outgoing queue. Run must be started before Publish.
func New(bufSize, subscriberBuf int, logger *log.Logger) *Hub {
	if bufSize <= 0 {
		bufSize = 64
	}
	if subscriberBuf <= 0 {
		subscriberBuf = 16
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		register:    make(chan *Subscriber),
		unregister:  make(chan *Subscriber),
		broadcast:   make(chan internal.WebhookEvent, bufSize),
		subscribers: make(map[*Subscriber]struct{}),
		bufSize:     subscriberBuf,
		logger:      logger,
		done:        make(chan struct{}),
	}
}

// Run processes registration and delivery until ctx is canceled, then closes
// every remaining subscriber channel.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		for sub := range h.subscribers {
			h.drop(sub)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case sub := <-h.register:
			h.subscribers[sub] = struct{}{}
			h.active.Store(int64(len(h.subscribers)))
		case sub := <-h.unregister:
			if _, ok := h.subscribers[sub]; ok {
				h.drop(sub)
			}
		case ev := <-h.broadcast:
			for sub := range h.subscribers {
				select {
				case sub.ch <- ev:
				default:
					// Buffer full: the client is gone or stalled. Cut it
					// loose so delivery to healthy subscribers keeps pace.
					h.logger.Printf("dropping slow subscriber %d", sub.id)
					internal.IncBroadcastDrop()
					h.drop(sub)
				}
			}
		}
	}
}

// drop runs on the Run goroutine only.
func (h *Hub) drop(sub *Subscriber) {
	delete(h.subscribers, sub)
	close(sub.ch)
	h.active.Store(int64(len(h.subscribers)))
}

// Subscribe registers a new live subscriber. Only events published after
// registration are delivered; historical backfill is the event store's job.
func (h *Hub) Subscribe() *Subscriber {
	sub := &Subscriber{
		id: h.nextID.Add(1),
		ch: make(chan internal.WebhookEvent, h.bufSize),
	}
	select {
	case h.register <- sub:
	case <-h.done:
		close(sub.ch)
	}
	return sub
}

// Unsubscribe removes the subscriber and closes its channel. Safe to call
// for a subscriber the hub already dropped.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	select {
	case h.unregister <- sub:
	case <-h.done:
	}
}

// Publish queues the event for delivery to every current subscriber in
// publish order. The send is to a buffered channel drained by a loop that
// never blocks on subscribers, so publish latency does not depend on
// subscriber count or slowness.
func (h *Hub) Publish(ev internal.WebhookEvent) {
	select {
	case h.broadcast <- ev:
	case <-h.done:
	}
}

// Len reports the current number of live subscribers.
func (h *Hub) Len() int {
	return int(h.active.Load())
}
