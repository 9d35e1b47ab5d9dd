// Package scoring implements the real-time lead-scoring engine:
// per-client rate limiting, TTL score caching, feature extraction,
// model inference and rolling statistics, plus sub-batched bulk
// scoring with per-lead failure isolation.
package scoring

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"leadscore-engine/internal/feature"
	"leadscore-engine/internal/lead"
	"leadscore-engine/internal/metrics"
	"leadscore-engine/internal/model"
)

// Score is the immutable result of one scoring call.
type Score struct {
	LeadID       string    `json:"leadId"`
	Value        float64   `json:"value"`
	Confidence   float64   `json:"confidence"`
	ModelID      string    `json:"modelId"`
	ModelType    string    `json:"modelType"`
	Timestamp    time.Time `json:"timestamp"`
	FeaturesUsed []string  `json:"featuresUsed"`
	Insights     []string  `json:"insights"`
	FromCache    bool      `json:"fromCache"`
}

// LeadSource is the CRM collaborator that resolves lead ids into
// profile snapshots and interaction history.
type LeadSource interface {
	GetLead(ctx context.Context, leadID string) (lead.Profile, []lead.Interaction, error)
}

// ModelProvider resolves a model id to a fitted predictor. An empty id
// resolves the active model.
type ModelProvider interface {
	Resolve(modelID string) (model.Model, model.Version, error)
}

// Assigner routes a lead to a model for the duration of a running A/B
// test. ok=false means no test is running and the active model applies.
type Assigner interface {
	Assign(leadID string) (modelID string, ok bool)
}

// Options adjusts a single scoring call. The zero value means: active
// model, cache enabled, no fallback.
type Options struct {
	ModelID    string
	SkipCache  bool
	FallbackID string
}

// BatchError pairs a failed lead with its reason. Batch failures are
// isolated; they never abort the rest of the batch.
type BatchError struct {
	LeadID string `json:"leadId"`
	Reason string `json:"reason"`
}

// BatchResult reports sub-batched bulk scoring.
type BatchResult struct {
	Scores    []Score       `json:"scores"`
	Errors    []BatchError  `json:"errors"`
	Requested int           `json:"requested"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"durationNs"`
}

// Config holds the engine's tunables.
type Config struct {
	SubBatchSize  int
	SubBatchPause time.Duration
}

// Engine orchestrates the online scoring path. All shared state
// (cache, rate limits, rolling stats) is owned here and synchronized.
type Engine struct {
	leads     LeadSource
	extractor feature.Extractor
	models    ModelProvider
	assigner  Assigner
	cache     *Cache
	limiter   *RateLimiter
	stats     *Stats
	m         *metrics.Metrics
	cfg       Config
}

// NewEngine wires the scoring engine. assigner may be nil when A/B
// testing is disabled.
func NewEngine(leads LeadSource, extractor feature.Extractor, models ModelProvider, assigner Assigner, cache *Cache, limiter *RateLimiter, m *metrics.Metrics, cfg Config) *Engine {
	if cfg.SubBatchSize <= 0 {
		cfg.SubBatchSize = 10
	}
	if cfg.SubBatchPause <= 0 {
		cfg.SubBatchPause = 50 * time.Millisecond
	}
	return &Engine{
		leads:     leads,
		extractor: extractor,
		models:    models,
		assigner:  assigner,
		cache:     cache,
		limiter:   limiter,
		stats:     NewStats(),
		m:         m,
		cfg:       cfg,
	}
}

// ScoreLead scores a lead by id for the given client. Rate limiting
// runs before any other work.
func (e *Engine) ScoreLead(ctx context.Context, clientID, leadID string, opts Options) (Score, error) {
	if leadID == "" {
		return Score{}, fmt.Errorf("%w: empty lead id", ErrValidation)
	}
	if !e.limiter.Allow(clientID) {
		e.stats.RecordRateLimited()
		e.m.RateLimited.Inc()
		return Score{}, fmt.Errorf("%w: client %s", ErrRateLimited, clientID)
	}
	return e.score(ctx, leadID, nil, nil, opts)
}

// ScoreLeadWithData scores an already-loaded profile, skipping the
// CRM lookup. Used when the caller holds fresher data than the CRM.
func (e *Engine) ScoreLeadWithData(ctx context.Context, clientID string, profile lead.Profile, interactions []lead.Interaction, opts Options) (Score, error) {
	if profile.ID == "" {
		return Score{}, fmt.Errorf("%w: profile has no lead id", ErrValidation)
	}
	if !e.limiter.Allow(clientID) {
		e.stats.RecordRateLimited()
		e.m.RateLimited.Inc()
		return Score{}, fmt.Errorf("%w: client %s", ErrRateLimited, clientID)
	}
	return e.score(ctx, profile.ID, &profile, interactions, opts)
}

// score runs cache lookup, feature extraction, inference and stats for
// one lead. profile == nil means load from the lead source.
func (e *Engine) score(ctx context.Context, leadID string, profile *lead.Profile, interactions []lead.Interaction, opts Options) (Score, error) {
	start := time.Now()

	mdl, version, err := e.resolveModel(leadID, opts)
	if err != nil {
		e.fail(start)
		return Score{}, err
	}

	if !opts.SkipCache {
		if cached, ok := e.cache.Get(leadID, version.ID); ok {
			e.m.CacheHits.Inc()
			e.m.ScoresTotal.Inc()
			e.stats.RecordRequest(time.Since(start), false, true)
			cached.FromCache = true
			return cached, nil
		}
	}
	e.m.CacheMisses.Inc()

	if profile == nil {
		p, ints, err := e.leads.GetLead(ctx, leadID)
		if err != nil {
			e.fail(start)
			return Score{}, fmt.Errorf("%w: %s", ErrNotFound, leadID)
		}
		profile, interactions = &p, ints
	}

	vec, err := e.extractor.Extract(*profile, interactions)
	if err != nil {
		e.fail(start)
		return Score{}, fmt.Errorf("feature extraction for %s: %w", leadID, err)
	}

	preds, err := mdl.Predict([][]float64{vec})
	if err != nil || len(preds) != 1 {
		e.fail(start)
		return Score{}, fmt.Errorf("%w: inference failed: %v", ErrModelUnavailable, err)
	}

	value := clamp01(preds[0])
	s := Score{
		LeadID:       leadID,
		Value:        value,
		Confidence:   confidence(value),
		ModelID:      version.ID,
		ModelType:    string(version.Type),
		Timestamp:    time.Now(),
		FeaturesUsed: feature.Names,
		Insights:     insights(vec, value),
	}

	if !opts.SkipCache {
		e.cache.Put(s)
	}

	e.m.ScoresTotal.Inc()
	e.m.ScoreValues.Observe(value)
	e.m.ScoreLatency.Observe(time.Since(start).Seconds())
	e.stats.RecordRequest(time.Since(start), false, false)
	e.stats.RecordScore(value)

	return s, nil
}

// resolveModel picks the model for this call: explicit id first, then
// a running A/B assignment, then the active model. A failed explicit
// resolve falls back only when a fallback id was supplied.
func (e *Engine) resolveModel(leadID string, opts Options) (model.Model, model.Version, error) {
	id := opts.ModelID
	if id == "" && e.assigner != nil {
		if assigned, ok := e.assigner.Assign(leadID); ok {
			id = assigned
			e.m.ABAssignments.Inc()
		}
	}

	mdl, version, err := e.models.Resolve(id)
	if err == nil {
		return mdl, version, nil
	}

	if opts.FallbackID != "" && opts.FallbackID != id {
		log.Warn().Str("model", id).Str("fallback", opts.FallbackID).Msg("falling back to explicit model")
		if mdl, version, fbErr := e.models.Resolve(opts.FallbackID); fbErr == nil {
			return mdl, version, nil
		}
	}

	return nil, model.Version{}, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
}

// ScoreBatch scores leads in fixed sub-batches processed in submission
// order with a short pause between sub-batches. Leads within a
// sub-batch complete in any order; per-lead failures are collected.
func (e *Engine) ScoreBatch(ctx context.Context, clientID string, leadIDs []string, opts Options) (BatchResult, error) {
	if len(leadIDs) == 0 {
		return BatchResult{}, fmt.Errorf("%w: empty lead list", ErrValidation)
	}
	if !e.limiter.Allow(clientID) {
		e.stats.RecordRateLimited()
		e.m.RateLimited.Inc()
		return BatchResult{}, fmt.Errorf("%w: client %s", ErrRateLimited, clientID)
	}

	start := time.Now()
	result := BatchResult{Requested: len(leadIDs)}

	var mu sync.Mutex
	for begin := 0; begin < len(leadIDs); begin += e.cfg.SubBatchSize {
		end := begin + e.cfg.SubBatchSize
		if end > len(leadIDs) {
			end = len(leadIDs)
		}

		var wg sync.WaitGroup
		for _, id := range leadIDs[begin:end] {
			wg.Add(1)
			go func(leadID string) {
				defer wg.Done()
				s, err := e.score(ctx, leadID, nil, nil, opts)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					result.Errors = append(result.Errors, BatchError{LeadID: leadID, Reason: err.Error()})
					return
				}
				result.Scores = append(result.Scores, s)
			}(id)
		}
		wg.Wait()

		e.m.BatchLeads.Add(float64(end - begin))

		if end < len(leadIDs) {
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(e.cfg.SubBatchPause):
			}
		}
	}

	result.Succeeded = len(result.Scores)
	result.Failed = len(result.Errors)
	result.Duration = time.Since(start)

	log.Info().
		Str("client", clientID).
		Int("requested", result.Requested).
		Int("succeeded", result.Succeeded).
		Int("failed", result.Failed).
		Dur("duration", result.Duration).
		Msg("batch scoring completed")

	return result, nil
}

// Statistics returns the rolling statistics snapshot.
func (e *Engine) Statistics() Snapshot {
	return e.stats.Snapshot()
}

// Cache exposes the score cache for invalidation and TTL updates.
func (e *Engine) Cache() *Cache {
	return e.cache
}

// Healthy reports whether the engine can currently resolve a model.
func (e *Engine) Healthy() bool {
	_, _, err := e.models.Resolve("")
	return err == nil
}

func (e *Engine) fail(start time.Time) {
	e.m.ScoreErrors.Inc()
	e.m.ErrorsTotal.Inc()
	e.stats.RecordRequest(time.Since(start), true, false)
}

// confidence maps a score to distance from the decision boundary.
func confidence(value float64) float64 {
	c := (value - 0.5) * 2
	if c < 0 {
		c = -c
	}
	return clamp01(c)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// insights names the score band and the strongest contributing
// features for CRM display.
func insights(vec feature.Vector, value float64) []string {
	out := make([]string, 0, 4)

	switch {
	case value >= 0.7:
		out = append(out, "high conversion likelihood: prioritize direct outreach")
	case value >= 0.4:
		out = append(out, "moderate conversion likelihood: keep in nurture cadence")
	default:
		out = append(out, "low conversion likelihood: automated follow-up only")
	}

	type contrib struct {
		name  string
		value float64
	}
	ranked := make([]contrib, 0, len(vec))
	for i, v := range vec {
		if v > 0 {
			ranked = append(ranked, contrib{feature.Names[i], v})
		}
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].value > ranked[j].value })
	for i := 0; i < len(ranked) && i < 3; i++ {
		out = append(out, fmt.Sprintf("strong signal: %s (%.2f)", ranked[i].name, ranked[i].value))
	}

	return out
}
