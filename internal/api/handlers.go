package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"leadscore-engine/internal/batch"
	"leadscore-engine/internal/lead"
	"leadscore-engine/internal/scoring"
)

type scoreRequest struct {
	LeadID          string `json:"leadId"`
	ModelID         string `json:"modelId,omitempty"`
	SkipCache       bool   `json:"skipCache,omitempty"`
	FallbackModelID string `json:"fallbackModelId,omitempty"`
}

type scoreDataRequest struct {
	Profile      lead.Profile       `json:"profile"`
	Interactions []lead.Interaction `json:"interactions,omitempty"`
	ModelID      string             `json:"modelId,omitempty"`
	SkipCache    bool               `json:"skipCache,omitempty"`
}

type batchRequest struct {
	LeadIDs   []string `json:"leadIds"`
	ModelID   string   `json:"modelId,omitempty"`
	SkipCache bool     `json:"skipCache,omitempty"`
}

type outcomeRequest struct {
	LeadID     string  `json:"leadId"`
	ModelID    string  `json:"modelId"`
	Prediction float64 `json:"prediction"`
	Converted  bool    `json:"converted"`
}

type cacheSettingsRequest struct {
	TTLSeconds int `json:"ttlSeconds"`
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		fail(w, fmt.Errorf("%w: POST required", scoring.ErrValidation))
		return
	}

	var req scoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, fmt.Errorf("%w: %v", scoring.ErrValidation, err))
		return
	}

	score, err := s.engine.ScoreLead(r.Context(), clientID(r), req.LeadID, scoring.Options{
		ModelID:    req.ModelID,
		SkipCache:  req.SkipCache,
		FallbackID: req.FallbackModelID,
	})
	if err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, score)
}

func (s *Server) handleScoreData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		fail(w, fmt.Errorf("%w: POST required", scoring.ErrValidation))
		return
	}

	var req scoreDataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, fmt.Errorf("%w: %v", scoring.ErrValidation, err))
		return
	}

	score, err := s.engine.ScoreLeadWithData(r.Context(), clientID(r), req.Profile, req.Interactions, scoring.Options{
		ModelID:   req.ModelID,
		SkipCache: req.SkipCache,
	})
	if err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, score)
}

func (s *Server) handleScoreBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		fail(w, fmt.Errorf("%w: POST required", scoring.ErrValidation))
		return
	}

	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, fmt.Errorf("%w: %v", scoring.ErrValidation, err))
		return
	}

	result, err := s.engine.ScoreBatch(r.Context(), clientID(r), req.LeadIDs, scoring.Options{
		ModelID:   req.ModelID,
		SkipCache: req.SkipCache,
	})
	if err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, result)
}

// handleScoreBatchAsync queues the batch for the worker pool instead
// of scoring inline. Results land in the score cache, so subsequent
// single-lead calls for the same leads are cache hits.
func (s *Server) handleScoreBatchAsync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		fail(w, fmt.Errorf("%w: POST required", scoring.ErrValidation))
		return
	}
	if s.pool == nil {
		fail(w, fmt.Errorf("worker pool not configured"))
		return
	}

	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, fmt.Errorf("%w: %v", scoring.ErrValidation, err))
		return
	}
	if len(req.LeadIDs) == 0 {
		fail(w, fmt.Errorf("%w: empty lead list", scoring.ErrValidation))
		return
	}

	client := clientID(r)
	opts := scoring.Options{ModelID: req.ModelID, SkipCache: req.SkipCache}
	queued := s.pool.Submit(batch.Task{
		Name: fmt.Sprintf("batch-score %d leads for %s", len(req.LeadIDs), client),
		Run: func() error {
			_, err := s.engine.ScoreBatch(context.Background(), client, req.LeadIDs, opts)
			return err
		},
	})
	if !queued {
		fail(w, fmt.Errorf("%w: queue is full, retry later", scoring.ErrRateLimited))
		return
	}
	respond(w, http.StatusAccepted, map[string]interface{}{
		"queued": true,
		"leads":  len(req.LeadIDs),
	})
}

func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		fail(w, fmt.Errorf("%w: GET required", scoring.ErrValidation))
		return
	}

	leadID := strings.TrimPrefix(r.URL.Path, "/insights/")
	if leadID == "" || strings.Contains(leadID, "/") {
		fail(w, fmt.Errorf("%w: missing lead id", scoring.ErrValidation))
		return
	}

	score, err := s.engine.ScoreLead(r.Context(), clientID(r), leadID, scoring.Options{})
	if err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{
		"leadId":   score.LeadID,
		"score":    score.Value,
		"insights": score.Insights,
		"features": score.FeaturesUsed,
	})
}

// handleStatistics always answers 200; an engine with no traffic yet
// simply reports zeroed counters.
func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, s.engine.Statistics())
}

// handleHealth degrades to a status string rather than erroring.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if !s.engine.Healthy() {
		status = "degraded"
	}
	payload := map[string]interface{}{
		"status":       status,
		"cacheEntries": s.engine.Cache().Len(),
	}
	if s.registry != nil {
		if active, ok := s.registry.Active(); ok {
			payload["activeModel"] = active.ID
			payload["activeModelType"] = string(active.Type)
		}
	}
	if s.scheduler != nil {
		payload["schedulerState"] = string(s.scheduler.State())
	}
	respond(w, http.StatusOK, payload)
}

func (s *Server) handleCache(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		fail(w, fmt.Errorf("%w: DELETE required", scoring.ErrValidation))
		return
	}

	if leadID := r.URL.Query().Get("leadId"); leadID != "" {
		removed := s.engine.Cache().InvalidateLead(leadID)
		respond(w, http.StatusOK, map[string]int{"invalidated": removed})
		return
	}
	removed := s.engine.Cache().Clear()
	respond(w, http.StatusOK, map[string]int{"invalidated": removed})
}

func (s *Server) handleCacheSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		fail(w, fmt.Errorf("%w: PUT required", scoring.ErrValidation))
		return
	}

	var req cacheSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, fmt.Errorf("%w: %v", scoring.ErrValidation, err))
		return
	}
	if req.TTLSeconds <= 0 {
		fail(w, fmt.Errorf("%w: ttlSeconds must be positive", scoring.ErrValidation))
		return
	}

	s.engine.Cache().SetTTL(time.Duration(req.TTLSeconds) * time.Second)
	respond(w, http.StatusOK, map[string]int{"ttlSeconds": req.TTLSeconds})
}

// handleOutcomes records a conversion outcome: it feeds retraining,
// drift detection, and the running A/B test in one call.
func (s *Server) handleOutcomes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		fail(w, fmt.Errorf("%w: POST required", scoring.ErrValidation))
		return
	}

	var req outcomeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, fmt.Errorf("%w: %v", scoring.ErrValidation, err))
		return
	}
	if req.LeadID == "" || req.ModelID == "" {
		fail(w, fmt.Errorf("%w: leadId and modelId are required", scoring.ErrValidation))
		return
	}
	if req.Prediction < 0 || req.Prediction > 1 {
		fail(w, fmt.Errorf("%w: prediction %v outside [0,1]", scoring.ErrValidation, req.Prediction))
		return
	}

	o := lead.Outcome{
		LeadID:     req.LeadID,
		ModelID:    req.ModelID,
		Prediction: req.Prediction,
		Converted:  req.Converted,
		RecordedAt: time.Now(),
	}
	if s.outcomes != nil {
		if err := s.outcomes.StoreOutcome(o); err != nil {
			fail(w, err)
			return
		}
	}
	if s.abtests != nil {
		s.abtests.RecordResult(req.ModelID, req.Prediction, req.Converted)
	}
	// A recorded outcome supersedes whatever score was cached.
	s.engine.Cache().InvalidateLead(req.LeadID)

	respond(w, http.StatusOK, o)
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	if s.registry == nil {
		fail(w, fmt.Errorf("model registry not configured"))
		return
	}
	respond(w, http.StatusOK, s.registry.Versions())
}

func (s *Server) handleRetrain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		fail(w, fmt.Errorf("%w: POST required", scoring.ErrValidation))
		return
	}
	if s.scheduler == nil {
		fail(w, fmt.Errorf("retraining scheduler not configured"))
		return
	}

	force := r.URL.Query().Get("force") == "true"
	rec, err := s.scheduler.Evaluate(r.Context(), force)
	if err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, rec)
}

func (s *Server) handleRetrainHistory(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		fail(w, fmt.Errorf("retraining scheduler not configured"))
		return
	}
	respond(w, http.StatusOK, s.scheduler.History().Recent(0))
}

func (s *Server) handleDrift(w http.ResponseWriter, r *http.Request) {
	if s.detector == nil {
		fail(w, fmt.Errorf("drift detector not configured"))
		return
	}

	modelID := r.URL.Query().Get("modelId")
	if modelID == "" {
		if s.registry == nil {
			fail(w, fmt.Errorf("%w: modelId is required", scoring.ErrValidation))
			return
		}
		active, ok := s.registry.Active()
		if !ok {
			fail(w, fmt.Errorf("%w: no active model to check", scoring.ErrModelUnavailable))
			return
		}
		modelID = active.ID
	}

	analysis, err := s.detector.Detect(modelID)
	if err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, analysis)
}

func (s *Server) handleRunningTest(w http.ResponseWriter, r *http.Request) {
	if s.abtests == nil {
		fail(w, fmt.Errorf("A/B test manager not configured"))
		return
	}

	t, ok := s.abtests.RunningTest()
	if !ok {
		respond(w, http.StatusOK, map[string]interface{}{"running": false})
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{"running": true, "test": t})
}
