package training

import (
	"context"
	"fmt"
	"math"

	"leadscore-engine/internal/model"
)

// CVResult reports k-fold cross-validation: per-fold metrics, their
// mean and standard deviation, and the best/worst folds by F1.
type CVResult struct {
	ModelType   model.Type      `json:"modelType"`
	Folds       int             `json:"folds"`
	FoldMetrics []model.Metrics `json:"foldMetrics"`
	Mean        model.Metrics   `json:"mean"`
	StdDev      model.Metrics   `json:"stdDev"`
	BestFold    int             `json:"bestFold"`
	WorstFold   int             `json:"worstFold"`
}

// CrossValidate partitions the dataset into k contiguous folds, trains
// on the remaining k-1 for each, and evaluates on the held-out fold.
// Deterministic for a fixed dataset and config.
func (o *Orchestrator) CrossValidate(ctx context.Context, ds Dataset, t model.Type, k int, cfg model.Config) (*CVResult, error) {
	if k < 2 {
		k = 5
	}
	if err := o.checkFloor(ds); err != nil {
		return nil, err
	}
	if ds.Len() < k {
		return nil, fmt.Errorf("%w: %d samples for %d folds", ErrInsufficientData, ds.Len(), k)
	}

	cfg = model.Defaults().Merge(cfg)
	result := &CVResult{ModelType: t, Folds: k, FoldMetrics: make([]model.Metrics, 0, k)}

	foldSize := ds.Len() / k
	for fold := 0; fold < k; fold++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		lo := fold * foldSize
		hi := lo + foldSize
		if fold == k-1 {
			hi = ds.Len() // last fold takes the remainder
		}

		trainX := make([][]float64, 0, ds.Len()-(hi-lo))
		trainY := make([]float64, 0, ds.Len()-(hi-lo))
		trainX = append(trainX, ds.X[:lo]...)
		trainX = append(trainX, ds.X[hi:]...)
		trainY = append(trainY, ds.Y[:lo]...)
		trainY = append(trainY, ds.Y[hi:]...)

		mdl, err := model.New(t)
		if err != nil {
			return nil, err
		}
		if err := mdl.Fit(trainX, trainY, cfg); err != nil {
			return nil, fmt.Errorf("fold %d fit: %w", fold, err)
		}

		holdX, holdY := ds.slice(lo, hi)
		preds, err := mdl.Predict(holdX)
		if err != nil {
			return nil, fmt.Errorf("fold %d predict: %w", fold, err)
		}
		mets, err := computeMetrics(preds, holdY)
		if err != nil {
			return nil, fmt.Errorf("fold %d metrics: %w", fold, err)
		}
		result.FoldMetrics = append(result.FoldMetrics, mets)
	}

	result.Mean, result.StdDev = summarize(result.FoldMetrics)
	result.BestFold, result.WorstFold = extremesByF1(result.FoldMetrics)
	return result, nil
}

func summarize(folds []model.Metrics) (model.Metrics, model.Metrics) {
	n := float64(len(folds))
	var mean model.Metrics
	for _, f := range folds {
		mean.Accuracy += f.Accuracy / n
		mean.Precision += f.Precision / n
		mean.Recall += f.Recall / n
		mean.F1 += f.F1 / n
		mean.AUC += f.AUC / n
		mean.SampleSize += f.SampleSize
	}

	var std model.Metrics
	for _, f := range folds {
		std.Accuracy += sq(f.Accuracy-mean.Accuracy) / n
		std.Precision += sq(f.Precision-mean.Precision) / n
		std.Recall += sq(f.Recall-mean.Recall) / n
		std.F1 += sq(f.F1-mean.F1) / n
		std.AUC += sq(f.AUC-mean.AUC) / n
	}
	std.Accuracy = math.Sqrt(std.Accuracy)
	std.Precision = math.Sqrt(std.Precision)
	std.Recall = math.Sqrt(std.Recall)
	std.F1 = math.Sqrt(std.F1)
	std.AUC = math.Sqrt(std.AUC)

	return mean, std
}

func extremesByF1(folds []model.Metrics) (best, worst int) {
	for i, f := range folds {
		if f.F1 > folds[best].F1 {
			best = i
		}
		if f.F1 < folds[worst].F1 {
			worst = i
		}
	}
	return best, worst
}

func sq(v float64) float64 { return v * v }
