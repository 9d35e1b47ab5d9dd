// Package model defines the trainable-predictor contract the rest of
// the engine depends on, plus the in-tree implementations used for
// baseline, advanced and ensemble training. The engine treats a Model
// strictly as fit/predict/evaluate; swapping in an external
// implementation only requires satisfying the interface.
package model

import (
	"fmt"
)

// Type identifies a trainable model family.
type Type string

const (
	TypeBaseline Type = "baseline"
	TypeAdvanced Type = "advanced"
	TypeEnsemble Type = "ensemble"
)

// Model is an opaque trainable predictor. Predict returns one value in
// [0,1] per input row.
type Model interface {
	Fit(X [][]float64, y []float64, cfg Config) error
	Predict(X [][]float64) ([]float64, error)
	Evaluate(X [][]float64, y []float64) (EvalReport, error)
}

// Config holds the tunable hyperparameters shared by the in-tree
// implementations. Zero values are filled from Defaults at Fit time.
type Config struct {
	LearningRate   float64 `json:"learningRate" yaml:"learningRate"`
	Epochs         int     `json:"epochs" yaml:"epochs"`
	L2             float64 `json:"l2" yaml:"l2"`
	EnsembleModels int     `json:"ensembleModels" yaml:"ensembleModels"`
}

// Defaults returns the named default configuration.
func Defaults() Config {
	return Config{
		LearningRate:   0.1,
		Epochs:         200,
		L2:             0.001,
		EnsembleModels: 3,
	}
}

// Merge overlays non-zero fields of override onto c and returns the
// result. Explicit override function rather than ad hoc mutation.
func (c Config) Merge(override Config) Config {
	if override.LearningRate != 0 {
		c.LearningRate = override.LearningRate
	}
	if override.Epochs != 0 {
		c.Epochs = override.Epochs
	}
	if override.L2 != 0 {
		c.L2 = override.L2
	}
	if override.EnsembleModels != 0 {
		c.EnsembleModels = override.EnsembleModels
	}
	return c
}

// EvalReport is the raw output of Model.Evaluate. Higher-level metric
// structs are derived from it by the training orchestrator.
type EvalReport struct {
	Loss     float64 `json:"loss"`
	Accuracy float64 `json:"accuracy"`
}

// New constructs an untrained model of the given type.
func New(t Type) (Model, error) {
	switch t {
	case TypeBaseline:
		return NewLogistic(false), nil
	case TypeAdvanced:
		return NewLogistic(true), nil
	case TypeEnsemble:
		return NewEnsemble(), nil
	default:
		return nil, fmt.Errorf("unknown model type %q", t)
	}
}
