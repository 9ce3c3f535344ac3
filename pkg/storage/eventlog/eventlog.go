// Package eventlog persists webhook events to an append-only, line-delimited
// JSON log. The log file is the sole durable record; the in-memory tail is a
// cache rebuilt from the log on open.
package eventlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"prmonitor/internal"
)

// Store is an append-only event log with a bounded in-memory tail for
// recent-event lookups.
type Store struct {
	mu       sync.Mutex
	file     *os.File
	path     string
	nextID   int64
	count    int64
	tail     []internal.WebhookEvent
	tailCap  int
	writeErr error
	logger   *log.Logger
}

// Stats is a point-in-time snapshot of the store exposed by /stats.
type Stats struct {
	TotalEvents      int64  `json:"total_events"`
	PullRequestCount int64  `json:"pr_events"`
	Path             string `json:"log_path"`
	CachedEvents     int    `json:"cached_events"`
	Healthy          bool   `json:"healthy"`
}

// Open opens (creating if needed) the log at path and rebuilds the ID
// counter and recent-event cache by replaying it. tailCap bounds the
// in-memory cache, not the log.
func Open(path string, tailCap int) (*Store, error) {
	if tailCap <= 0 {
		tailCap = 200
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}

	s := &Store{
		file:    file,
		path:    path,
		nextID:  1,
		tailCap: tailCap,
		logger:  internal.NewLogger("eventlog"),
	}
	if err := s.replay(); err != nil {
		file.Close()
		return nil, err
	}
	if err := s.repairTail(); err != nil {
		file.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) replay() error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("replay event log: %w", err)
	}
	defer f.Close()

	skipped := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev internal.WebhookEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			// Typically the torn tail of an append cut short by a crash.
			// The record was never acknowledged, so skip it and keep the
			// log usable.
			skipped++
			continue
		}
		s.count++
		if ev.ID >= s.nextID {
			s.nextID = ev.ID + 1
		}
		s.cache(ev)
	}
	if skipped > 0 {
		s.logger.Printf("skipped %d unparseable line(s) in %s", skipped, s.path)
	}
	return scanner.Err()
}

// repairTail terminates a torn final line so the next append starts a fresh
// record instead of gluing onto the partial one.
func (s *Store) repairTail() error {
	info, err := s.file.Stat()
	if err != nil {
		return fmt.Errorf("stat event log: %w", err)
	}
	if info.Size() == 0 {
		return nil
	}

	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("read event log tail: %w", err)
	}
	defer f.Close()

	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil {
		return fmt.Errorf("read event log tail: %w", err)
	}
	if last[0] != '\n' {
		if _, err := s.file.Write([]byte("\n")); err != nil {
			return fmt.Errorf("repair event log tail: %w", err)
		}
	}
	return nil
}

// Append assigns the event its identifier and ingestion timestamp prior to
// the durable write, flushes the record to stable storage, and only then
// returns. A returned error means the event was not durably recorded and
// must not be acknowledged.
func (s *Store) Append(ev internal.WebhookEvent) (internal.WebhookEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return internal.WebhookEvent{}, errors.New("event log is closed")
	}

	ev.ID = s.nextID
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now().UTC()
	}

	line, err := json.Marshal(ev)
	if err != nil {
		return internal.WebhookEvent{}, fmt.Errorf("encode event: %w", err)
	}
	line = append(line, '\n')

	if _, err := s.file.Write(line); err != nil {
		s.writeErr = err
		return internal.WebhookEvent{}, fmt.Errorf("append event: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		s.writeErr = err
		return internal.WebhookEvent{}, fmt.Errorf("sync event log: %w", err)
	}

	s.writeErr = nil
	s.nextID++
	s.count++
	s.cache(ev)
	return ev, nil
}

// cache appends to the bounded tail; callers hold s.mu.
func (s *Store) cache(ev internal.WebhookEvent) {
	s.tail = append(s.tail, ev)
	if len(s.tail) > s.tailCap {
		s.tail = s.tail[len(s.tail)-s.tailCap:]
	}
}

// Recent returns up to n most recent events in arrival order. n larger than
// the cache returns the whole cached tail.
func (s *Store) Recent(n int) []internal.WebhookEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n <= 0 || len(s.tail) == 0 {
		return nil
	}
	if n > len(s.tail) {
		n = len(s.tail)
	}
	out := make([]internal.WebhookEvent, n)
	copy(out, s.tail[len(s.tail)-n:])
	return out
}

// All reads every event back from the log in arrival order. It scans the
// file rather than holding the full history in memory, so it does not block
// writers beyond the brief handle checks.
func (s *Store) All() ([]internal.WebhookEvent, error) {
	s.mu.Lock()
	path := s.path
	s.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read event log: %w", err)
	}
	defer f.Close()

	var out []internal.WebhookEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev internal.WebhookEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			// Same tolerance as replay: unparseable lines were never
			// acknowledged events.
			continue
		}
		out = append(out, ev)
	}
	return out, scanner.Err()
}

// Count returns the number of events durably recorded.
func (s *Store) Count() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Stats summarizes the store for the /stats endpoint. The pull request count
// covers the cached tail only.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var prCount int64
	for _, ev := range s.tail {
		if ev.EventType == "pull_request" {
			prCount++
		}
	}
	return Stats{
		TotalEvents:      s.count,
		PullRequestCount: prCount,
		Path:             s.path,
		CachedEvents:     len(s.tail),
		Healthy:          s.writeErr == nil,
	}
}

// Close flushes and closes the log file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
