package review

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"prmonitor/internal"
	"prmonitor/pkg/queue"
)

// Worker consumes review jobs from the queue, runs the language-model review
// with a bounded timeout, and records the outcome. Review failures are
// terminal but isolated: they are logged and recorded against the one event,
// never retried inline and never surfaced to the ingestion path.
type Worker struct {
	Queue     *queue.Queue
	Topic     string
	LLM       *LLMClient
	Fetcher   *Fetcher
	Commenter *Commenter
	Results   *Results
	Timeout   time.Duration
	Logger    *log.Logger
}

// Run consumes jobs until ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	msgs, err := w.Queue.Subscribe(ctx, w.Topic)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", w.Topic, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			w.handle(msg.Payload)
			// Jobs are never redelivered: a failed review is recorded and
			// done with, so the ack is unconditional.
			msg.Ack()
		}
	}
}

func (w *Worker) handle(payload []byte) {
	job, err := queue.DecodeJob(payload)
	if err != nil {
		w.Logger.Printf("discarding malformed review job: %v", err)
		internal.IncReviewOutcome("malformed")
		return
	}

	timeout := w.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	analysis := Analysis{
		EventID:    job.Event.ID,
		Repository: job.Event.Repository,
		PRNumber:   job.Event.PRNumber,
		Title:      job.Event.Title,
		Action:     job.Event.Action,
	}

	review, err := w.review(ctx, job)
	analysis.CompletedAt = time.Now().UTC()
	if err != nil {
		analysis.Error = err.Error()
		w.Logger.Printf("review failed for event %d (%s#%d): %v",
			job.Event.ID, job.Event.Repository, job.Event.PRNumber, err)
		internal.IncReviewOutcome("error")
		w.Results.Add(analysis)
		return
	}
	analysis.Review = review
	internal.IncReviewOutcome("ok")
	w.Results.Add(analysis)

	if w.Commenter != nil {
		if err := w.Commenter.PostComment(ctx, job.Event.Repository, int(job.Event.PRNumber), review); err != nil {
			// Comment delivery is best effort on top of an already
			// completed review.
			w.Logger.Printf("comment failed for %s#%d: %v", job.Event.Repository, job.Event.PRNumber, err)
			internal.IncReviewOutcome("comment_error")
		}
	}
}

func (w *Worker) review(ctx context.Context, job queue.Job) (string, error) {
	var files []ChangedFile
	if w.Fetcher != nil && job.Event.PRNumber > 0 {
		fetched, err := w.Fetcher.ChangedFiles(ctx, job.Event.Repository, int(job.Event.PRNumber))
		if err != nil {
			// Metadata-only review still has value; note the gap and go on.
			w.Logger.Printf("fetch files for %s#%d: %v", job.Event.Repository, job.Event.PRNumber, err)
		} else {
			files = fetched
		}
	}
	return w.LLM.Complete(ctx, buildPrompt(job, files))
}

func buildPrompt(job queue.Job, files []ChangedFile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Review pull request #%d in %s.\n", job.Event.PRNumber, job.Event.Repository)
	if job.Event.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", job.Event.Title)
	}
	if job.Event.Author != "" {
		fmt.Fprintf(&b, "Author: %s\n", job.Event.Author)
	}
	if job.Event.Action != "" {
		fmt.Fprintf(&b, "Action: %s\n", job.Event.Action)
	}

	if len(job.Annotations) > 0 {
		names := make([]string, 0, len(job.Annotations))
		for name := range job.Annotations {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&b, "%s: %s\n", name, job.Annotations[name])
		}
	}

	if len(files) > 0 {
		b.WriteString("\nChanged files:\n")
		for _, file := range files {
			fmt.Fprintf(&b, "\n--- %s (%s, +%d -%d)\n", file.Path, file.Status, file.Additions, file.Deletions)
			if file.Patch != "" {
				b.WriteString(file.Patch)
				b.WriteString("\n")
			}
		}
	}

	b.WriteString("\nProvide a concise review: summary, key changes, risks, and concrete suggestions.\n")
	return b.String()
}
