package model

import (
	"fmt"
	"math"
)

// Ensemble averages the predictions of two or more base models with
// equal weight. Base models alternate between the plain and advanced
// logistic variants so the members differ in capacity.
type Ensemble struct {
	members []Model
	fitted  bool
}

// NewEnsemble creates an untrained ensemble.
func NewEnsemble() *Ensemble {
	return &Ensemble{}
}

// Fit implements Model. At least two base models are always trained.
func (e *Ensemble) Fit(X [][]float64, y []float64, cfg Config) error {
	cfg = Defaults().Merge(cfg)
	count := cfg.EnsembleModels
	if count < 2 {
		count = 2
	}

	e.members = make([]Model, count)
	for i := range e.members {
		member := NewLogistic(i%2 == 1)
		// Vary epochs slightly so members do not collapse to one model.
		memberCfg := cfg
		memberCfg.Epochs = cfg.Epochs + i*25
		if err := member.Fit(X, y, memberCfg); err != nil {
			return fmt.Errorf("ensemble member %d: %w", i, err)
		}
		e.members[i] = member
	}
	e.fitted = true
	return nil
}

// Predict implements Model via equal-weight prediction averaging.
func (e *Ensemble) Predict(X [][]float64) ([]float64, error) {
	if !e.fitted {
		return nil, fmt.Errorf("predict: ensemble not fitted")
	}
	sum := make([]float64, len(X))
	for _, member := range e.members {
		preds, err := member.Predict(X)
		if err != nil {
			return nil, err
		}
		for i, p := range preds {
			sum[i] += p
		}
	}
	n := float64(len(e.members))
	for i := range sum {
		sum[i] /= n
	}
	return sum, nil
}

// Evaluate implements Model.
func (e *Ensemble) Evaluate(X [][]float64, y []float64) (EvalReport, error) {
	preds, err := e.Predict(X)
	if err != nil {
		return EvalReport{}, err
	}
	var loss float64
	var correct int
	for i, p := range preds {
		clamped := math.Min(math.Max(p, 1e-9), 1-1e-9)
		loss += -(y[i]*math.Log(clamped) + (1-y[i])*math.Log(1-clamped))
		if (p >= 0.5) == (y[i] >= 0.5) {
			correct++
		}
	}
	n := float64(len(preds))
	return EvalReport{Loss: loss / n, Accuracy: float64(correct) / n}, nil
}

// Size returns the number of base models, zero before Fit.
func (e *Ensemble) Size() int {
	return len(e.members)
}
