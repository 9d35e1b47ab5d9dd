// Package api exposes the scoring and lifecycle subsystems over HTTP
// with a uniform response envelope.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"leadscore-engine/internal/abtest"
	"leadscore-engine/internal/batch"
	"leadscore-engine/internal/drift"
	"leadscore-engine/internal/lead"
	"leadscore-engine/internal/lifecycle"
	"leadscore-engine/internal/scoring"
)

// OutcomeRecorder persists a conversion outcome for the feedback loop.
type OutcomeRecorder interface {
	StoreOutcome(o lead.Outcome) error
}

// Server routes HTTP requests to the scoring engine and the lifecycle
// machinery. Lifecycle collaborators may be nil when the subsystem is
// not wired; their endpoints then report internal errors.
type Server struct {
	engine    *scoring.Engine
	registry  *lifecycle.Registry
	scheduler *lifecycle.Scheduler
	detector  *drift.Detector
	abtests   *abtest.Manager
	outcomes  OutcomeRecorder
	pool      *batch.Pool
	server    *http.Server
}

// New builds the server and its routing table.
func New(port int, engine *scoring.Engine, registry *lifecycle.Registry, scheduler *lifecycle.Scheduler, detector *drift.Detector, abtests *abtest.Manager, outcomes OutcomeRecorder, pool *batch.Pool) *Server {
	s := &Server{
		engine:    engine,
		registry:  registry,
		scheduler: scheduler,
		detector:  detector,
		abtests:   abtests,
		outcomes:  outcomes,
		pool:      pool,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/score", s.handleScore)
	mux.HandleFunc("/score/data", s.handleScoreData)
	mux.HandleFunc("/score/batch", s.handleScoreBatch)
	mux.HandleFunc("/score/batch/async", s.handleScoreBatchAsync)
	mux.HandleFunc("/insights/", s.handleInsights)
	mux.HandleFunc("/statistics", s.handleStatistics)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/cache", s.handleCache)
	mux.HandleFunc("/cache/settings", s.handleCacheSettings)
	mux.HandleFunc("/outcomes", s.handleOutcomes)
	mux.HandleFunc("/models", s.handleModels)
	mux.HandleFunc("/retrain", s.handleRetrain)
	mux.HandleFunc("/retrain/history", s.handleRetrainHistory)
	mux.HandleFunc("/drift", s.handleDrift)
	mux.HandleFunc("/abtests/running", s.handleRunningTest)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// Handler exposes the routing table, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start serves HTTP requests until Shutdown.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("starting API server")
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// clientID identifies the caller for rate limiting: the X-Client-ID
// header when present, the remote address otherwise.
func clientID(r *http.Request) string {
	if id := r.Header.Get("X-Client-ID"); id != "" {
		return id
	}
	return r.RemoteAddr
}
