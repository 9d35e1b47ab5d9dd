// Package cfg loads service configuration from a YAML file with
// environment-variable overrides. A missing CONFIG_FILE falls back to
// pure env configuration with named defaults.
package cfg

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings is the resolved runtime configuration consumed by the
// scoring engine, the lifecycle scheduler and the A/B test manager.
type Settings struct {
	DataPath       string
	HTTPPort       int
	MetricsPort    int
	FeatureSvcURL  string
	FeatureTimeout time.Duration
	CRMBaseURL     string
	CRMTimeout     time.Duration

	// Scoring engine
	CacheTTL       time.Duration
	CacheSweep     time.Duration
	RateLimitMax   int
	RateLimitWin   time.Duration
	RateLimitSweep time.Duration
	SubBatchSize   int
	SubBatchPause  time.Duration
	MaxConcurrency int
	QueuePoll      time.Duration
	QueueCapacity  int

	// Training
	MinTrainingSamples int
	CVFolds            int

	// Retraining scheduler
	RetrainingEnabled bool
	Frequency         Frequency
	MinDataPoints     int
	AutoDeploy        bool
	CheckInterval     time.Duration
	MinCompleteness   float64
	HistoryLimit      int

	// Drift
	DriftWindowDays int
	DriftThreshold  float64
	DriftMinSamples int

	// A/B testing
	ABDuration      time.Duration
	ABTrafficSplit  float64
	ABConfidence    float64
	ABMinSampleSize int
	ABCheckEvery    int
}

// Frequency gates how often retraining may run.
type Frequency string

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
)

// Cooldown returns the minimum gap between successful retrains for the
// frequency, leaving slack under the nominal period so a run that
// drifts slightly early is not skipped.
func (f Frequency) Cooldown() time.Duration {
	switch f {
	case Weekly:
		return 166 * time.Hour
	case Monthly:
		return 696 * time.Hour
	default:
		return 20 * time.Hour
	}
}

// ConfigFile is the YAML shape of the config file.
type ConfigFile struct {
	System struct {
		DataPath    string `yaml:"dataPath"`
		HTTPPort    int    `yaml:"httpPort"`
		MetricsPort int    `yaml:"metricsPort"`
	} `yaml:"system"`

	Features struct {
		ServiceURL string `yaml:"serviceURL"`
		Timeout    string `yaml:"timeout"`
	} `yaml:"features"`

	CRM struct {
		BaseURL string `yaml:"baseURL"`
		Timeout string `yaml:"timeout"`
	} `yaml:"crm"`

	Scoring struct {
		CacheTTL       string `yaml:"cacheTTL"`
		RateLimitMax   int    `yaml:"rateLimitMax"`
		RateLimitWin   string `yaml:"rateLimitWindow"`
		SubBatchSize   int    `yaml:"subBatchSize"`
		MaxConcurrency int    `yaml:"maxConcurrency"`
		QueueCapacity  int    `yaml:"queueCapacity"`
	} `yaml:"scoring"`

	Training struct {
		MinSamples int `yaml:"minSamples"`
		CVFolds    int `yaml:"cvFolds"`
	} `yaml:"training"`

	Retraining struct {
		Enabled         bool    `yaml:"enabled"`
		Frequency       string  `yaml:"frequency"`
		MinDataPoints   int     `yaml:"minDataPoints"`
		AutoDeploy      bool    `yaml:"autoDeploy"`
		CheckInterval   string  `yaml:"checkInterval"`
		MinCompleteness float64 `yaml:"minCompleteness"`
	} `yaml:"retraining"`

	Drift struct {
		WindowDays int     `yaml:"windowDays"`
		Threshold  float64 `yaml:"threshold"`
		MinSamples int     `yaml:"minSamples"`
	} `yaml:"drift"`

	ABTesting struct {
		Duration      string  `yaml:"duration"`
		TrafficSplit  float64 `yaml:"trafficSplit"`
		Confidence    float64 `yaml:"confidence"`
		MinSampleSize int     `yaml:"minSampleSize"`
		CheckEvery    int     `yaml:"checkEvery"`
	} `yaml:"abTesting"`
}

// Load resolves Settings from CONFIG_FILE if set, otherwise from
// environment variables, then validates.
func Load() (Settings, error) {
	if configPath := os.Getenv("CONFIG_FILE"); configPath != "" {
		return loadFromYAML(configPath)
	}
	return loadFromEnv()
}

func loadFromYAML(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	s := defaults()

	s.DataPath = getEnvOrDefault("DATA_PATH", orStr(config.System.DataPath, s.DataPath))
	s.HTTPPort = getIntFromEnvOrConfig("HTTP_PORT", config.System.HTTPPort, s.HTTPPort)
	s.MetricsPort = getIntFromEnvOrConfig("METRICS_PORT", config.System.MetricsPort, s.MetricsPort)
	s.FeatureSvcURL = getEnvOrDefault("FEATURE_SERVICE_URL", config.Features.ServiceURL)
	s.FeatureTimeout = parseDurationOr(config.Features.Timeout, s.FeatureTimeout)
	s.CRMBaseURL = getEnvOrDefault("CRM_BASE_URL", config.CRM.BaseURL)
	s.CRMTimeout = parseDurationOr(config.CRM.Timeout, s.CRMTimeout)

	s.CacheTTL = parseDurationOr(config.Scoring.CacheTTL, s.CacheTTL)
	s.RateLimitMax = getIntFromEnvOrConfig("RATE_LIMIT_MAX", config.Scoring.RateLimitMax, s.RateLimitMax)
	s.RateLimitWin = parseDurationOr(config.Scoring.RateLimitWin, s.RateLimitWin)
	s.SubBatchSize = getIntFromEnvOrConfig("SUB_BATCH_SIZE", config.Scoring.SubBatchSize, s.SubBatchSize)
	s.MaxConcurrency = getIntFromEnvOrConfig("MAX_CONCURRENCY", config.Scoring.MaxConcurrency, s.MaxConcurrency)
	s.QueueCapacity = getIntFromEnvOrConfig("QUEUE_CAPACITY", config.Scoring.QueueCapacity, s.QueueCapacity)

	s.MinTrainingSamples = getIntFromEnvOrConfig("MIN_TRAINING_SAMPLES", config.Training.MinSamples, s.MinTrainingSamples)
	s.CVFolds = getIntFromEnvOrConfig("CV_FOLDS", config.Training.CVFolds, s.CVFolds)

	s.RetrainingEnabled = getBoolFromEnvOrConfig("RETRAINING_ENABLED", config.Retraining.Enabled)
	s.Frequency = parseFrequency(getEnvOrDefault("RETRAINING_FREQUENCY", config.Retraining.Frequency))
	s.MinDataPoints = getIntFromEnvOrConfig("MIN_DATA_POINTS", config.Retraining.MinDataPoints, s.MinDataPoints)
	s.AutoDeploy = getBoolFromEnvOrConfig("AUTO_DEPLOY", config.Retraining.AutoDeploy)
	s.CheckInterval = parseDurationOr(config.Retraining.CheckInterval, s.CheckInterval)
	if config.Retraining.MinCompleteness != 0 {
		s.MinCompleteness = config.Retraining.MinCompleteness
	}

	if config.Drift.WindowDays != 0 {
		s.DriftWindowDays = config.Drift.WindowDays
	}
	if config.Drift.Threshold != 0 {
		s.DriftThreshold = config.Drift.Threshold
	}
	if config.Drift.MinSamples != 0 {
		s.DriftMinSamples = config.Drift.MinSamples
	}

	s.ABDuration = parseDurationOr(config.ABTesting.Duration, s.ABDuration)
	if config.ABTesting.TrafficSplit != 0 {
		s.ABTrafficSplit = config.ABTesting.TrafficSplit
	}
	if config.ABTesting.Confidence != 0 {
		s.ABConfidence = config.ABTesting.Confidence
	}
	if config.ABTesting.MinSampleSize != 0 {
		s.ABMinSampleSize = config.ABTesting.MinSampleSize
	}
	if config.ABTesting.CheckEvery != 0 {
		s.ABCheckEvery = config.ABTesting.CheckEvery
	}

	if err := validateSettings(&s); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return s, nil
}

func loadFromEnv() (Settings, error) {
	s := defaults()

	s.DataPath = getEnvOrDefault("DATA_PATH", s.DataPath)
	s.HTTPPort = getIntOrDefault("HTTP_PORT", s.HTTPPort)
	s.MetricsPort = getIntOrDefault("METRICS_PORT", s.MetricsPort)
	s.FeatureSvcURL = os.Getenv("FEATURE_SERVICE_URL") // optional
	s.FeatureTimeout = getDurationOrDefault("FEATURE_TIMEOUT", s.FeatureTimeout)
	s.CRMBaseURL = os.Getenv("CRM_BASE_URL") // optional for tooling, required to serve
	s.CRMTimeout = getDurationOrDefault("CRM_TIMEOUT", s.CRMTimeout)

	s.CacheTTL = getDurationOrDefault("CACHE_TTL", s.CacheTTL)
	s.RateLimitMax = getIntOrDefault("RATE_LIMIT_MAX", s.RateLimitMax)
	s.RateLimitWin = getDurationOrDefault("RATE_LIMIT_WINDOW", s.RateLimitWin)
	s.SubBatchSize = getIntOrDefault("SUB_BATCH_SIZE", s.SubBatchSize)
	s.MaxConcurrency = getIntOrDefault("MAX_CONCURRENCY", s.MaxConcurrency)
	s.QueueCapacity = getIntOrDefault("QUEUE_CAPACITY", s.QueueCapacity)

	s.MinTrainingSamples = getIntOrDefault("MIN_TRAINING_SAMPLES", s.MinTrainingSamples)
	s.CVFolds = getIntOrDefault("CV_FOLDS", s.CVFolds)

	s.RetrainingEnabled = getBoolOrDefault("RETRAINING_ENABLED", true)
	s.Frequency = parseFrequency(os.Getenv("RETRAINING_FREQUENCY"))
	s.MinDataPoints = getIntOrDefault("MIN_DATA_POINTS", s.MinDataPoints)
	s.AutoDeploy = getBoolOrDefault("AUTO_DEPLOY", false)
	s.CheckInterval = getDurationOrDefault("RETRAINING_CHECK_INTERVAL", s.CheckInterval)

	s.ABDuration = getDurationOrDefault("AB_DURATION", s.ABDuration)
	s.ABConfidence = getFloatOrDefault("AB_CONFIDENCE", s.ABConfidence)
	s.ABMinSampleSize = getIntOrDefault("AB_MIN_SAMPLE_SIZE", s.ABMinSampleSize)

	if err := validateSettings(&s); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return s, nil
}

func defaults() Settings {
	return Settings{
		DataPath:       "data",
		HTTPPort:       8080,
		MetricsPort:    9090,
		FeatureTimeout: 5 * time.Second,
		CRMTimeout:     5 * time.Second,

		CacheTTL:       5 * time.Minute,
		CacheSweep:     5 * time.Minute,
		RateLimitMax:   100,
		RateLimitWin:   time.Minute,
		RateLimitSweep: time.Minute,
		SubBatchSize:   10,
		SubBatchPause:  50 * time.Millisecond,
		MaxConcurrency: 10,
		QueuePoll:      100 * time.Millisecond,
		QueueCapacity:  1000,

		MinTrainingSamples: 100,
		CVFolds:            5,

		RetrainingEnabled: true,
		Frequency:         Daily,
		MinDataPoints:     1000,
		CheckInterval:     time.Hour,
		MinCompleteness:   0.8,
		HistoryLimit:      100,

		DriftWindowDays: 30,
		DriftThreshold:  0.1,
		DriftMinSamples: 100,

		ABDuration:      14 * 24 * time.Hour,
		ABTrafficSplit:  0.5,
		ABConfidence:    0.95,
		ABMinSampleSize: 1000,
		ABCheckEvery:    100,
	}
}

func parseFrequency(v string) Frequency {
	switch strings.ToLower(v) {
	case string(Weekly):
		return Weekly
	case string(Monthly):
		return Monthly
	default:
		return Daily
	}
}

func parseDurationOr(v string, def time.Duration) time.Duration {
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func orStr(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getIntFromEnvOrConfig(key string, configValue, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

func getBoolFromEnvOrConfig(key string, configValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return configValue
}
