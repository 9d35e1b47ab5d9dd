package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"leadscore-engine/internal/abtest"
	"leadscore-engine/internal/api"
	"leadscore-engine/internal/batch"
	"leadscore-engine/internal/cfg"
	"leadscore-engine/internal/drift"
	"leadscore-engine/internal/feature"
	"leadscore-engine/internal/lead"
	"leadscore-engine/internal/lifecycle"
	"leadscore-engine/internal/metrics"
	"leadscore-engine/internal/scoring"
	"leadscore-engine/internal/storage"
	"leadscore-engine/internal/training"
)

func main() {
	_ = godotenv.Load()
	setupLogging()

	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()

	store, err := storage.New(c.DataPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", c.DataPath).Msg("storage open failed")
	}
	defer store.Close()

	registry, err := lifecycle.NewRegistry(store, m)
	if err != nil {
		log.Fatal().Err(err).Msg("model registry load failed")
	}

	abtests, err := abtest.NewManager(store, abtest.Config{
		Duration:     c.ABDuration,
		TrafficSplit: c.ABTrafficSplit,
		Confidence:   c.ABConfidence,
		MinSample:    int64(c.ABMinSampleSize),
		CheckEvery:   int64(c.ABCheckEvery),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("A/B test manager load failed")
	}

	crm := lead.NewClient(c.CRMBaseURL, c.CRMTimeout)
	var extractor feature.Extractor = feature.NewLocal()
	if c.FeatureSvcURL != "" {
		extractor = feature.NewRemoteClient(c.FeatureSvcURL, c.FeatureTimeout)
		log.Info().Str("url", c.FeatureSvcURL).Msg("using remote feature extraction")
	}

	cache := scoring.NewCache(c.CacheTTL, c.CacheSweep)
	limiter := scoring.NewRateLimiter(c.RateLimitMax, c.RateLimitWin, c.RateLimitSweep)
	cache.StartSweeper(ctx)
	limiter.StartSweeper(ctx)

	engine := scoring.NewEngine(crm, extractor, registry, abtests, cache, limiter, m, scoring.Config{
		SubBatchSize:  c.SubBatchSize,
		SubBatchPause: c.SubBatchPause,
	})

	queue := batch.NewQueue(c.QueueCapacity)
	pool := batch.NewPool(queue, c.MaxConcurrency, c.QueuePoll, m)
	pool.Start(ctx)

	trainer := training.NewOrchestrator(c.MinTrainingSamples, m)
	builder := &training.DatasetBuilder{Outcomes: store, Leads: crm, Extractor: extractor}
	detector := drift.NewDetector(store, drift.Config{
		WindowDays: c.DriftWindowDays,
		Threshold:  c.DriftThreshold,
		MinSamples: c.DriftMinSamples,
	}, m)

	scheduler := lifecycle.NewScheduler(lifecycle.SchedulerConfig{
		Enabled:         c.RetrainingEnabled,
		Frequency:       c.Frequency,
		MinDataPoints:   c.MinDataPoints,
		AutoDeploy:      c.AutoDeploy,
		MinCompleteness: c.MinCompleteness,
		CheckInterval:   c.CheckInterval,
		HistoryLimit:    c.HistoryLimit,
	}, registry, trainer, builder, detector, abtests, store, m)
	go scheduler.Run(ctx)

	startMetricsServer(ctx, c.MetricsPort)

	server := api.New(c.HTTPPort, engine, registry, scheduler, detector, abtests, store, pool)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("API server failed")
			cancel()
		}
	}()

	log.Info().
		Int("httpPort", c.HTTPPort).
		Int("metricsPort", c.MetricsPort).
		Str("dataPath", c.DataPath).
		Msg("leadscored started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case <-ctx.Done():
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("API server shutdown incomplete")
	}
	if err := pool.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("worker pool shutdown incomplete")
	}

	log.Info().Msg("leadscored stopped")
}

func setupLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level := zerolog.InfoLevel
	if raw := os.Getenv("LOG_LEVEL"); raw != "" {
		if parsed, err := zerolog.ParseLevel(raw); err == nil {
			level = parsed
		}
	}
	zerolog.SetGlobalLevel(level)
}

// startMetricsServer serves Prometheus metrics and a liveness probe on
// its own port.
func startMetricsServer(ctx context.Context, port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("starting metrics server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}
