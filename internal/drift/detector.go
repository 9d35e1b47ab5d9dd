// Package drift detects model performance drift by comparing the
// older and newer halves of the recent (prediction, outcome) window.
package drift

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"leadscore-engine/internal/lead"
	"leadscore-engine/internal/metrics"
)

// OutcomeSource loads recent (prediction, outcome) pairs for a model.
// Implemented by the storage layer.
type OutcomeSource interface {
	RecentOutcomes(modelID string, since time.Time) ([]lead.Outcome, error)
}

// Analysis is the result of one drift check. Rolling data, not
// persisted long-term.
type Analysis struct {
	ModelID       string             `json:"modelId"`
	DriftDetected bool               `json:"driftDetected"`
	Confidence    float64            `json:"confidence"`
	DriftMetrics  map[string]float64 `json:"driftMetrics"`
	SampleSize    int                `json:"sampleSize"`
	Timestamp     time.Time          `json:"timestamp"`
}

// Config holds the detector's tunables.
type Config struct {
	WindowDays int
	Threshold  float64
	MinSamples int
}

// Detector compares the two time-ordered halves of the recent outcome
// window on accuracy, mean prediction and prediction spread.
type Detector struct {
	source OutcomeSource
	cfg    Config
	m      *metrics.Metrics
	now    func() time.Time
}

// NewDetector creates a detector with defaults filled in.
func NewDetector(source OutcomeSource, cfg Config, m *metrics.Metrics) *Detector {
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = 30
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 0.1
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 100
	}
	return &Detector{source: source, cfg: cfg, m: m, now: time.Now}
}

// Detect runs one drift analysis for the model. Below the minimum
// sample it reports no drift with zero confidence rather than
// guessing.
func (d *Detector) Detect(modelID string) (Analysis, error) {
	d.m.DriftChecks.Inc()

	since := d.now().AddDate(0, 0, -d.cfg.WindowDays)
	pairs, err := d.source.RecentOutcomes(modelID, since)
	if err != nil {
		return Analysis{}, fmt.Errorf("load outcomes for %s: %w", modelID, err)
	}

	analysis := Analysis{
		ModelID:      modelID,
		DriftMetrics: make(map[string]float64, 3),
		SampleSize:   len(pairs),
		Timestamp:    d.now(),
	}

	if len(pairs) < d.cfg.MinSamples {
		log.Debug().Str("model", modelID).Int("pairs", len(pairs)).Msg("drift check skipped, not enough data")
		return analysis, nil
	}

	// Pairs come back time-ordered; split into older and newer halves.
	mid := len(pairs) / 2
	older, newer := pairs[:mid], pairs[mid:]

	analysis.DriftMetrics["accuracy_delta"] = math.Abs(accuracy(older) - accuracy(newer))
	analysis.DriftMetrics["mean_prediction_delta"] = math.Abs(meanPrediction(older) - meanPrediction(newer))
	analysis.DriftMetrics["prediction_stddev_delta"] = math.Abs(stddevPrediction(older) - stddevPrediction(newer))

	maxMetric := 0.0
	for _, v := range analysis.DriftMetrics {
		if v > maxMetric {
			maxMetric = v
		}
	}

	analysis.DriftDetected = maxMetric > d.cfg.Threshold
	analysis.Confidence = math.Min(1, maxMetric/d.cfg.Threshold)

	if analysis.DriftDetected {
		d.m.DriftDetected.Inc()
		log.Warn().
			Str("model", modelID).
			Float64("max_metric", maxMetric).
			Float64("threshold", d.cfg.Threshold).
			Float64("confidence", analysis.Confidence).
			Msg("model drift detected")
	}

	return analysis, nil
}

func accuracy(pairs []lead.Outcome) float64 {
	if len(pairs) == 0 {
		return 0
	}
	correct := 0
	for _, p := range pairs {
		if (p.Prediction >= 0.5) == p.Converted {
			correct++
		}
	}
	return float64(correct) / float64(len(pairs))
}

func meanPrediction(pairs []lead.Outcome) float64 {
	if len(pairs) == 0 {
		return 0
	}
	sum := 0.0
	for _, p := range pairs {
		sum += p.Prediction
	}
	return sum / float64(len(pairs))
}

func stddevPrediction(pairs []lead.Outcome) float64 {
	if len(pairs) < 2 {
		return 0
	}
	mean := meanPrediction(pairs)
	var sumSq float64
	for _, p := range pairs {
		d := p.Prediction - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(pairs)))
}
