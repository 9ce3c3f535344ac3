package review

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Analysis is the recorded outcome of one review job.
type Analysis struct {
	EventID     int64     `json:"event_id"`
	Repository  string    `json:"repository"`
	PRNumber    int64     `json:"pr_number"`
	Title       string    `json:"title,omitempty"`
	Action      string    `json:"action,omitempty"`
	Review      string    `json:"review,omitempty"`
	Error       string    `json:"error,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// Results is a capped in-memory buffer of completed analyses, oldest
// evicted first. The buffer is a debug/display surface, not durable state.
type Results struct {
	mu      sync.Mutex
	items   []Analysis
	maxSize int
}

// NewResults creates a buffer holding at most maxSize analyses.
func NewResults(maxSize int) *Results {
	if maxSize <= 0 {
		maxSize = 200
	}
	return &Results{maxSize: maxSize}
}

// Add records one analysis.
func (r *Results) Add(a Analysis) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, a)
	if len(r.items) > r.maxSize {
		r.items = r.items[len(r.items)-r.maxSize:]
	}
}

// List returns all buffered analyses in completion order.
func (r *Results) List() []Analysis {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Analysis, len(r.items))
	copy(out, r.items)
	return out
}

// Last returns the most recent analysis, if any.
func (r *Results) Last() (Analysis, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.items) == 0 {
		return Analysis{}, false
	}
	return r.items[len(r.items)-1], true
}

// AnalysesHandler serves GET /analyses.
type AnalysesHandler struct {
	Results *Results
}

func (h *AnalysesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	items := h.Results.List()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"count":    len(items),
		"analyses": items,
	})
}

// LastAnalysisHandler serves GET /analyses/last.
type LastAnalysisHandler struct {
	Results *Results
}

func (h *LastAnalysisHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	last, ok := h.Results.Last()
	if !ok {
		json.NewEncoder(w).Encode(map[string]interface{}{"analysis": nil})
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"analysis": last})
}
