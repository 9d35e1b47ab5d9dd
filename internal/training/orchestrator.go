// Package training orchestrates model training: baseline, advanced and
// ensemble fits, k-fold cross-validation and grid-search
// hyperparameter tuning. Everything it produces carries
// status=training until the lifecycle registry promotes it.
package training

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"leadscore-engine/internal/metrics"
	"leadscore-engine/internal/model"
)

// ErrInsufficientData means the dataset is below the configured floor.
// Automated retraining must stop rather than train on thin data.
var ErrInsufficientData = errors.New("insufficient training data")

// Dataset is a labeled training set with provenance.
type Dataset struct {
	X      [][]float64
	Y      []float64
	From   time.Time
	To     time.Time
	Source string
}

// Len returns the sample count.
func (d Dataset) Len() int { return len(d.X) }

// slice returns rows [i, j).
func (d Dataset) slice(i, j int) ([][]float64, []float64) {
	return d.X[i:j], d.Y[i:j]
}

// Trained pairs a fitted model with its persisted version metadata.
type Trained struct {
	Model   model.Model
	Version model.Version
}

// Orchestrator runs training jobs. It owns no model state; fitted
// models are handed to the lifecycle registry.
type Orchestrator struct {
	minSamples int
	m          *metrics.Metrics
}

// NewOrchestrator creates an orchestrator with the configured sample
// floor.
func NewOrchestrator(minSamples int, m *metrics.Metrics) *Orchestrator {
	if minSamples <= 0 {
		minSamples = 100
	}
	return &Orchestrator{minSamples: minSamples, m: m}
}

// TrainBaseline fits the baseline model family.
func (o *Orchestrator) TrainBaseline(ctx context.Context, ds Dataset, cfg model.Config) (*Trained, error) {
	return o.train(ctx, ds, model.TypeBaseline, cfg)
}

// TrainAdvanced fits the advanced model family.
func (o *Orchestrator) TrainAdvanced(ctx context.Context, ds Dataset, cfg model.Config) (*Trained, error) {
	return o.train(ctx, ds, model.TypeAdvanced, cfg)
}

// TrainEnsemble fits an equal-weight averaging ensemble of base models.
func (o *Orchestrator) TrainEnsemble(ctx context.Context, ds Dataset, cfg model.Config) (*Trained, error) {
	return o.train(ctx, ds, model.TypeEnsemble, cfg)
}

func (o *Orchestrator) train(ctx context.Context, ds Dataset, t model.Type, cfg model.Config) (*Trained, error) {
	if err := o.checkFloor(ds); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	o.m.TrainingsTotal.Inc()

	mdl, err := model.New(t)
	if err != nil {
		return nil, err
	}

	cfg = model.Defaults().Merge(cfg)
	if err := mdl.Fit(ds.X, ds.Y, cfg); err != nil {
		o.m.TrainingFailures.Inc()
		return nil, fmt.Errorf("fit %s: %w", t, err)
	}

	preds, err := mdl.Predict(ds.X)
	if err != nil {
		o.m.TrainingFailures.Inc()
		return nil, fmt.Errorf("evaluate %s: %w", t, err)
	}
	mets, err := computeMetrics(preds, ds.Y)
	if err != nil {
		o.m.TrainingFailures.Inc()
		return nil, err
	}

	version := model.Version{
		ID:     uuid.NewString(),
		Type:   t,
		Config: cfg,
		TrainingData: model.Descriptor{
			SampleCount: ds.Len(),
			From:        ds.From,
			To:          ds.To,
			Source:      ds.Source,
		},
		Metrics:   mets,
		Status:    model.StatusTraining,
		CreatedAt: time.Now(),
	}

	o.m.TrainingSeconds.Observe(time.Since(start).Seconds())

	log.Info().
		Str("model", version.ID).
		Str("type", string(t)).
		Int("samples", ds.Len()).
		Float64("f1", mets.F1).
		Float64("auc", mets.AUC).
		Dur("duration", time.Since(start)).
		Msg("training completed")

	return &Trained{Model: mdl, Version: version}, nil
}

func (o *Orchestrator) checkFloor(ds Dataset) error {
	if ds.Len() < o.minSamples {
		return fmt.Errorf("%w: %d samples, need %d", ErrInsufficientData, ds.Len(), o.minSamples)
	}
	if len(ds.X) != len(ds.Y) {
		return fmt.Errorf("dataset has %d rows but %d labels", len(ds.X), len(ds.Y))
	}
	return nil
}
