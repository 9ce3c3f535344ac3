// Package webhook implements the GitHub webhook ingestion endpoint: it
// authenticates deliveries, normalizes them, appends them to the durable
// event log, fans them out to live subscribers, and schedules asynchronous
// review, in that order. The HTTP response is held only for the durable
// append and the publish.
package webhook

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"prmonitor/internal"
	"prmonitor/pkg/hub"
	"prmonitor/pkg/review"
	"prmonitor/pkg/storage/eventlog"
)

// GitHubHandler is the POST /webhook handler. It holds the shared event log
// and hub; all other state is request-local.
type GitHubHandler struct {
	secret        string
	allowUnsigned bool
	maxBodyBytes  int64
	store         *eventlog.Store
	hub           *hub.Hub
	trigger       *review.Trigger
	logger        *log.Logger

	// mu serializes the append+publish pair so the log order and every
	// subscriber's delivery order are the same single global order.
	mu sync.Mutex
}

// Config wires the handler's collaborators.
type Config struct {
	Secret string
	// AllowUnsigned accepts deliveries without verification when no secret
	// is configured. Off by default: no secret means every delivery is
	// rejected.
	AllowUnsigned bool
	MaxBodyBytes  int64
	Store         *eventlog.Store
	Hub           *hub.Hub
	Trigger       *review.Trigger
	Logger        *log.Logger
}

// NewGitHubHandler builds the ingestion handler.
func NewGitHubHandler(cfg Config) *GitHubHandler {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	if cfg.Secret == "" {
		if cfg.AllowUnsigned {
			logger.Printf("WARNING: webhook signature verification is DISABLED; every delivery will be accepted unauthenticated")
		} else {
			logger.Printf("no webhook secret configured; rejecting all deliveries (set webhook.allow_unsigned to opt out)")
		}
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 5 << 20
	}
	return &GitHubHandler{
		secret:        cfg.Secret,
		allowUnsigned: cfg.AllowUnsigned,
		maxBodyBytes:  maxBody,
		store:         cfg.Store,
		hub:           cfg.Hub,
		trigger:       cfg.Trigger,
		logger:        logger,
	}
}

func (h *GitHubHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		internal.IncRejected("method")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		internal.IncRejected("payload")
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if !h.authenticated(body, r.Header.Get("X-Hub-Signature-256")) {
		// Log without the signature or computed hash; neither belongs in
		// logs.
		h.logger.Printf("rejected delivery %s: bad signature", r.Header.Get("X-GitHub-Delivery"))
		internal.IncRejected("signature")
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	eventType := r.Header.Get("X-GitHub-Event")
	if eventType == "" {
		internal.IncRejected("payload")
		http.Error(w, "missing X-GitHub-Event header", http.StatusBadRequest)
		return
	}
	internal.IncRequest(eventType)

	if eventType == "ping" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "pong"})
		return
	}

	ev, err := internal.NormalizeEvent(eventType, body)
	if err != nil {
		h.logger.Printf("rejected %s delivery: %v", eventType, err)
		internal.IncRejected("payload")
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}
	ev.ReceivedAt = time.Now().UTC()

	stored, err := h.ingest(ev)
	if err != nil {
		// The event was not durably recorded; acknowledging it would break
		// the durability contract.
		h.logger.Printf("store append failed: %v", err)
		internal.IncRejected("storage")
		http.Error(w, "event storage unavailable", http.StatusInternalServerError)
		return
	}

	h.logger.Printf("accepted event=%s action=%s repo=%s id=%d", stored.EventType, stored.Action, stored.Repository, stored.ID)

	if h.trigger != nil {
		h.trigger.Dispatch(stored)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "id": stored.ID})
}

// ingest appends and publishes under one lock so concurrent requests cannot
// interleave the two: the completion order of appends is the order every
// subscriber observes.
func (h *GitHubHandler) ingest(ev internal.WebhookEvent) (internal.WebhookEvent, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	stored, err := h.store.Append(ev)
	if err != nil {
		return internal.WebhookEvent{}, err
	}
	h.hub.Publish(stored)
	return stored, nil
}

func (h *GitHubHandler) authenticated(body []byte, signature string) bool {
	if h.secret == "" {
		return h.allowUnsigned
	}
	return internal.VerifySignature(body, signature, h.secret)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
