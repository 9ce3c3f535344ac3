package hub

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"prmonitor/internal"
)

// RecentSource serves historical backfill for late subscribers; the hub
// itself only carries the live tail.
type RecentSource interface {
	Recent(n int) []internal.WebhookEvent
}

// StreamHandler serves GET /events as a Server-Sent Events stream of
// JSON-encoded webhook events. The stream is live-tail by default; a
// `replay=n` query parameter prepends the last n stored events.
type StreamHandler struct {
	Hub    *Hub
	Store  RecentSource
	Logger *log.Logger
}

func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Subscribe before replaying so no live event published during the
	// replay is missed. A duplicate across the seam is possible; consumers
	// already tolerate at-least-once delivery.
	sub := h.Hub.Subscribe()
	defer h.Hub.Unsubscribe(sub)

	if n := replayCount(r); n > 0 && h.Store != nil {
		for _, ev := range h.Store.Recent(n) {
			if err := writeEvent(w, ev); err != nil {
				return
			}
		}
		flusher.Flush()
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-sub.Events():
			if !open {
				return
			}
			if err := writeEvent(w, ev); err != nil {
				if h.Logger != nil {
					h.Logger.Printf("stream write failed: %v", err)
				}
				return
			}
			flusher.Flush()
		}
	}
}

func replayCount(r *http.Request) int {
	raw := r.URL.Query().Get("replay")
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func writeEvent(w http.ResponseWriter, ev internal.WebhookEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
