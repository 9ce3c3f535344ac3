package internal

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/webhooks/v6/github"
)

// WebhookEvent is the canonical unit flowing through the pipeline. It is
// created once at ingestion and never mutated afterwards; the raw payload is
// retained so downstream consumers can reach fields that were not
// denormalized.
type WebhookEvent struct {
	ID         int64           `json:"id"`
	ReceivedAt time.Time       `json:"received_at"`
	EventType  string          `json:"event_type"`
	Action     string          `json:"action,omitempty"`
	Repository string          `json:"repository,omitempty"`
	PRNumber   int64           `json:"pr_number,omitempty"`
	Title      string          `json:"title,omitempty"`
	Author     string          `json:"author,omitempty"`
	RawPayload json.RawMessage `json:"payload,omitempty"`
}

// NormalizeEvent builds a WebhookEvent from a raw GitHub payload and the
// value of the X-GitHub-Event header. The payload must already have passed
// signature verification. A non-nil error means the body is structurally
// invalid for the declared event type and must not be stored.
func NormalizeEvent(eventType string, body []byte) (WebhookEvent, error) {
	ev := WebhookEvent{
		EventType:  eventType,
		RawPayload: json.RawMessage(append([]byte(nil), body...)),
	}

	switch eventType {
	case "pull_request":
		var payload github.PullRequestPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			return WebhookEvent{}, fmt.Errorf("decode pull_request payload: %w", err)
		}
		if payload.PullRequest.Number == 0 || payload.Repository.FullName == "" {
			return WebhookEvent{}, fmt.Errorf("pull_request payload is missing pr number or repository")
		}
		ev.Action = payload.Action
		ev.Repository = payload.Repository.FullName
		ev.PRNumber = payload.PullRequest.Number
		ev.Title = payload.PullRequest.Title
		ev.Author = payload.PullRequest.User.Login
	case "push":
		var payload github.PushPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			return WebhookEvent{}, fmt.Errorf("decode push payload: %w", err)
		}
		if payload.Repository.FullName == "" {
			return WebhookEvent{}, fmt.Errorf("push payload is missing repository")
		}
		ev.Repository = payload.Repository.FullName
		ev.Author = payload.Pusher.Name
	default:
		var payload map[string]interface{}
		if err := json.Unmarshal(body, &payload); err != nil {
			return WebhookEvent{}, fmt.Errorf("decode %s payload: %w", eventType, err)
		}
		if action, ok := payload["action"].(string); ok {
			ev.Action = action
		}
		if repo, ok := payload["repository"].(map[string]interface{}); ok {
			if fullName, ok := repo["full_name"].(string); ok {
				ev.Repository = fullName
			}
		}
	}

	return ev, nil
}

// PayloadObject decodes the retained raw payload into a generic map for rule
// evaluation. Returns an empty map when the payload is absent or not an
// object.
func (e WebhookEvent) PayloadObject() map[string]interface{} {
	if len(e.RawPayload) == 0 {
		return map[string]interface{}{}
	}
	var out map[string]interface{}
	if err := json.Unmarshal(e.RawPayload, &out); err != nil {
		return map[string]interface{}{}
	}
	return out
}
