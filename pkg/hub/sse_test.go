package hub

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"prmonitor/internal"
)

type recentStub struct {
	events []internal.WebhookEvent
}

func (s *recentStub) Recent(n int) []internal.WebhookEvent {
	if n > len(s.events) {
		n = len(s.events)
	}
	return s.events[len(s.events)-n:]
}

func readSSEEvent(t *testing.T, reader *bufio.Reader) internal.WebhookEvent {
	t.Helper()
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		if line == "" {
			continue
		}
		payload, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			t.Fatalf("unexpected stream line %q", line)
		}
		var ev internal.WebhookEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			t.Fatalf("decode stream event: %v", err)
		}
		return ev
	}
}

// TestStreamLiveEvents tests that a connected client receives published
// events as SSE frames in publish order.
func TestStreamLiveEvents(t *testing.T) {
	h := startHub(t, 64, 16)
	srv := httptest.NewServer(&StreamHandler{Hub: h})
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect stream: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected text/event-stream, got %q", ct)
	}

	// Wait until the handler's subscription is registered.
	waitForSubscribers(t, h, 1)

	h.Publish(internal.WebhookEvent{ID: 1, EventType: "pull_request", Action: "opened"})
	h.Publish(internal.WebhookEvent{ID: 2, EventType: "pull_request", Action: "closed"})

	reader := bufio.NewReader(resp.Body)
	for i := int64(1); i <= 2; i++ {
		ev := readSSEEvent(t, reader)
		if ev.ID != i {
			t.Fatalf("expected event %d, got %d", i, ev.ID)
		}
	}
}

// TestStreamReplay tests that replay=n prepends stored events before the live
// tail.
func TestStreamReplay(t *testing.T) {
	h := startHub(t, 64, 16)
	store := &recentStub{events: []internal.WebhookEvent{
		{ID: 1, EventType: "push"},
		{ID: 2, EventType: "pull_request"},
	}}
	srv := httptest.NewServer(&StreamHandler{Hub: h, Store: store})
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"?replay=2", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect stream: %v", err)
	}
	defer resp.Body.Close()

	waitForSubscribers(t, h, 1)
	h.Publish(internal.WebhookEvent{ID: 3, EventType: "pull_request"})

	reader := bufio.NewReader(resp.Body)
	for i := int64(1); i <= 3; i++ {
		ev := readSSEEvent(t, reader)
		if ev.ID != i {
			t.Fatalf("expected event %d, got %d", i, ev.ID)
		}
	}
}

// TestStreamClientDisconnect tests that a departing client is reaped without
// affecting a second stream.
func TestStreamClientDisconnect(t *testing.T) {
	h := startHub(t, 64, 16)
	srv := httptest.NewServer(&StreamHandler{Hub: h})
	defer srv.Close()

	ctxA, cancelA := context.WithCancel(context.Background())
	reqA, _ := http.NewRequestWithContext(ctxA, http.MethodGet, srv.URL, nil)
	respA, err := http.DefaultClient.Do(reqA)
	if err != nil {
		t.Fatalf("connect stream a: %v", err)
	}
	defer respA.Body.Close()

	ctxB, cancelB := context.WithCancel(context.Background())
	defer cancelB()
	reqB, _ := http.NewRequestWithContext(ctxB, http.MethodGet, srv.URL, nil)
	respB, err := http.DefaultClient.Do(reqB)
	if err != nil {
		t.Fatalf("connect stream b: %v", err)
	}
	defer respB.Body.Close()

	waitForSubscribers(t, h, 2)

	cancelA()
	io.Copy(io.Discard, respA.Body)
	waitForSubscribers(t, h, 1)

	h.Publish(internal.WebhookEvent{ID: 7})
	ev := readSSEEvent(t, bufio.NewReader(respB.Body))
	if ev.ID != 7 {
		t.Fatalf("expected surviving stream to receive event 7, got %d", ev.ID)
	}
}

func waitForSubscribers(t *testing.T, h *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Len() != want {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d subscribers, got %d", want, h.Len())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

var _ RecentSource = (*recentStub)(nil)
