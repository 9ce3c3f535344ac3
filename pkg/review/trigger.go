package review

import (
	"context"
	"log"
	"time"

	"prmonitor/internal"
	"prmonitor/pkg/queue"
)

// Trigger decides whether an ingested event qualifies for review and, if so,
// hands it to the review queue on a detached goroutine. It never blocks the
// caller and never lets a failure escape its own error boundary; by the time
// the trigger runs, the webhook response is no longer in play.
type Trigger struct {
	Rules   *internal.RuleEngine
	Queue   *queue.Queue
	Topic   string
	Timeout time.Duration
	Logger  *log.Logger
}

// Dispatch evaluates the event and enqueues a review job for qualifying
// events. It returns immediately; the publish happens in the background with
// its own deadline, detached from any HTTP request context.
func (t *Trigger) Dispatch(ev internal.WebhookEvent) {
	qualifies, annotations := t.Rules.Qualifies(ev)
	if !qualifies {
		return
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				t.Logger.Printf("review dispatch panic for event %d: %v", ev.ID, r)
			}
		}()

		timeout := t.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		job := queue.Job{Event: ev, Annotations: annotations}
		if err := t.Queue.Publish(ctx, t.Topic, job); err != nil {
			t.Logger.Printf("review dispatch failed for event %d: %v", ev.ID, err)
			internal.IncReviewOutcome("dispatch_error")
			return
		}
		internal.IncReviewDispatched()
	}()
}
