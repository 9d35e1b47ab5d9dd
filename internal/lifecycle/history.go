package lifecycle

import (
	"sync"
	"time"
)

// Decision is the outcome of one retraining cycle.
type Decision string

const (
	DecisionSkipped  Decision = "skipped"
	DecisionPromoted Decision = "promoted"
	DecisionABTest   Decision = "ab_test_started"
	DecisionRejected Decision = "rejected"
	DecisionFailed   Decision = "failed"
)

// CycleRecord is one audit entry in the retraining history.
type CycleRecord struct {
	Time        time.Time `json:"time"`
	Trigger     string    `json:"trigger"` // "scheduled" or "forced"
	Decision    Decision  `json:"decision"`
	Reason      string    `json:"reason"`
	CandidateID string    `json:"candidateId,omitempty"`
	ChampionID  string    `json:"championId,omitempty"`
	DeltaF1     float64   `json:"deltaF1,omitempty"`
	Issues      []string  `json:"issues,omitempty"`
}

// History is a bounded in-memory audit log of retraining cycles,
// newest first. Oldest entries fall off past the limit.
type History struct {
	mu      sync.RWMutex
	entries []CycleRecord
	limit   int
}

// NewHistory creates a history keeping at most limit entries.
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = 100
	}
	return &History{limit: limit}
}

// Add records one cycle.
func (h *History) Add(rec CycleRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries = append([]CycleRecord{rec}, h.entries...)
	if len(h.entries) > h.limit {
		h.entries = h.entries[:h.limit]
	}
}

// Recent returns up to n entries, newest first. n<=0 returns all.
func (h *History) Recent(n int) []CycleRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if n <= 0 || n > len(h.entries) {
		n = len(h.entries)
	}
	out := make([]CycleRecord, n)
	copy(out, h.entries[:n])
	return out
}

// Len returns the number of retained entries.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}
