package scoring

import (
	"sync"
	"time"
)

// Stats keeps rolling statistics for the scoring path as running
// averages, never recomputed from full history.
type Stats struct {
	mu          sync.Mutex
	requests    int64
	errors      int64
	cacheHits   int64
	cacheMisses int64
	rateLimited int64
	avgLatency  time.Duration
	avgScore    float64
	scored      int64
	startedAt   time.Time
}

// Snapshot is a point-in-time copy of the rolling statistics.
type Snapshot struct {
	Requests     int64         `json:"requests"`
	Errors       int64         `json:"errors"`
	SuccessRate  float64       `json:"successRate"`
	ErrorRate    float64       `json:"errorRate"`
	CacheHits    int64         `json:"cacheHits"`
	CacheMisses  int64         `json:"cacheMisses"`
	CacheHitRate float64       `json:"cacheHitRate"`
	RateLimited  int64         `json:"rateLimited"`
	AvgLatency   time.Duration `json:"avgLatencyNs"`
	AvgScore     float64       `json:"avgScore"`
	Uptime       time.Duration `json:"uptimeNs"`
}

// NewStats creates zeroed statistics.
func NewStats() *Stats {
	return &Stats{startedAt: time.Now()}
}

// RecordRequest folds one completed request into the running averages.
func (st *Stats) RecordRequest(latency time.Duration, failed, cacheHit bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.requests++
	if failed {
		st.errors++
	}
	if cacheHit {
		st.cacheHits++
	} else {
		st.cacheMisses++
	}
	// Incremental mean: avg += (x - avg) / n.
	st.avgLatency += (latency - st.avgLatency) / time.Duration(st.requests)
}

// RecordScore folds a produced score value into the running average.
func (st *Stats) RecordScore(value float64) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.scored++
	st.avgScore += (value - st.avgScore) / float64(st.scored)
}

// RecordRateLimited counts a rejected request. Rate-limited calls do
// not enter the request averages; they never reached the pipeline.
func (st *Stats) RecordRateLimited() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.rateLimited++
}

// Snapshot returns a copy of the current statistics.
func (st *Stats) Snapshot() Snapshot {
	st.mu.Lock()
	defer st.mu.Unlock()

	s := Snapshot{
		Requests:    st.requests,
		Errors:      st.errors,
		CacheHits:   st.cacheHits,
		CacheMisses: st.cacheMisses,
		RateLimited: st.rateLimited,
		AvgLatency:  st.avgLatency,
		AvgScore:    st.avgScore,
		Uptime:      time.Since(st.startedAt),
	}
	if st.requests > 0 {
		s.ErrorRate = float64(st.errors) / float64(st.requests)
		s.SuccessRate = 1 - s.ErrorRate
	}
	if lookups := st.cacheHits + st.cacheMisses; lookups > 0 {
		s.CacheHitRate = float64(st.cacheHits) / float64(lookups)
	}
	return s
}
