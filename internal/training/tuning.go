package training

import (
	"context"

	"github.com/rs/zerolog/log"

	"leadscore-engine/internal/model"
)

// DefaultGrid is the hyperparameter grid searched when the caller
// supplies none.
func DefaultGrid() []model.Config {
	var grid []model.Config
	for _, lr := range []float64{0.05, 0.1, 0.3} {
		for _, epochs := range []int{100, 200} {
			for _, l2 := range []float64{0.0001, 0.001} {
				grid = append(grid, model.Config{LearningRate: lr, Epochs: epochs, L2: l2})
			}
		}
	}
	return grid
}

// TuneResult reports a completed grid search.
type TuneResult struct {
	Best      model.Config `json:"best"`
	BestIndex int          `json:"bestIndex"`
	BestF1    float64      `json:"bestF1"`
	Evaluated int          `json:"evaluated"`
	MeanF1s   []float64    `json:"meanF1s"`
}

// tuneFolds is the reduced fold count used per grid candidate.
const tuneFolds = 3

// TuneHyperparameters runs a full grid search, evaluating each
// candidate via reduced cross-validation and selecting the
// configuration with the highest mean F1. Ties go to the earliest
// evaluated candidate.
func (o *Orchestrator) TuneHyperparameters(ctx context.Context, ds Dataset, t model.Type, grid []model.Config) (*TuneResult, error) {
	if len(grid) == 0 {
		grid = DefaultGrid()
	}
	if err := o.checkFloor(ds); err != nil {
		return nil, err
	}

	result := &TuneResult{BestIndex: -1, MeanF1s: make([]float64, 0, len(grid))}

	for i, candidate := range grid {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		cv, err := o.CrossValidate(ctx, ds, t, tuneFolds, candidate)
		if err != nil {
			return nil, err
		}
		result.Evaluated++
		result.MeanF1s = append(result.MeanF1s, cv.Mean.F1)

		// Strict greater-than keeps the earliest candidate on ties.
		if result.BestIndex == -1 || cv.Mean.F1 > result.BestF1 {
			result.BestIndex = i
			result.BestF1 = cv.Mean.F1
			result.Best = candidate
		}
	}

	log.Info().
		Int("candidates", result.Evaluated).
		Int("best", result.BestIndex).
		Float64("bestF1", result.BestF1).
		Msg("hyperparameter search completed")

	return result, nil
}
