package queue

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"prmonitor/internal"
)

// TestGoChannelRoundTrip tests that a job published on the default driver
// arrives intact at a subscriber.
func TestGoChannelRoundTrip(t *testing.T) {
	q, err := Open(internal.QueueConfig{Driver: "gochannel"})
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	messages, err := q.Subscribe(ctx, "reviews")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	job := Job{
		Event: internal.WebhookEvent{
			ID:         42,
			EventType:  "pull_request",
			Action:     "opened",
			Repository: "octocat/hello-world",
			PRNumber:   7,
		},
		Annotations: map[string]string{"title": "Add feature"},
	}
	if err := q.Publish(ctx, "reviews", job); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-messages:
		got, err := DecodeJob(msg.Payload)
		if err != nil {
			t.Fatalf("decode job: %v", err)
		}
		if got.Event.ID != 42 || got.Event.Repository != "octocat/hello-world" {
			t.Fatalf("unexpected job event: %+v", got.Event)
		}
		if got.Annotations["title"] != "Add feature" {
			t.Fatalf("unexpected annotations: %v", got.Annotations)
		}
		if msg.Metadata.Get("event") != "pull_request" {
			t.Fatalf("expected event metadata, got %q", msg.Metadata.Get("event"))
		}
		msg.Ack()
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for job")
	}
}

// TestDefaultDriver tests that an empty driver name falls back to gochannel.
func TestDefaultDriver(t *testing.T) {
	q, err := Open(internal.QueueConfig{})
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, err := q.Subscribe(ctx, "reviews"); err != nil {
		t.Fatalf("subscribe on default driver: %v", err)
	}
}

// TestRegisterDriver tests that a registered factory takes precedence over
// the builtin drivers of the same name.
func TestRegisterDriver(t *testing.T) {
	called := false
	RegisterDriver("stub", func(cfg internal.QueueConfig, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber, func() error, error) {
		called = true
		ps := gochannel.NewGoChannel(gochannel.Config{}, logger)
		return ps, ps, nil, nil
	})
	defer delete(driverFactories, "stub")

	q, err := Open(internal.QueueConfig{Driver: "stub"})
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	defer q.Close()

	if !called {
		t.Fatalf("expected registered factory to be used")
	}
}

// TestUnknownDriver tests the error for a driver nothing provides.
func TestUnknownDriver(t *testing.T) {
	if _, err := Open(internal.QueueConfig{Driver: "carrier-pigeon"}); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

// TestJobCodec tests the encode/decode pair, including the error path.
func TestJobCodec(t *testing.T) {
	job := Job{Event: internal.WebhookEvent{ID: 3, EventType: "push"}}
	payload, err := EncodeJob(job)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeJob(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Event.ID != 3 || got.Event.EventType != "push" {
		t.Fatalf("unexpected decoded job: %+v", got)
	}

	if _, err := DecodeJob([]byte("not json")); err == nil {
		t.Fatalf("expected decode error for malformed payload")
	}
}
