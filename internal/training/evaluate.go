package training

import (
	"fmt"
	"sort"
	"time"

	"leadscore-engine/internal/model"
)

// computeMetrics derives the full evaluation summary from predictions
// against binary labels, thresholding at 0.5 for the confusion counts.
func computeMetrics(preds, y []float64) (model.Metrics, error) {
	if len(preds) != len(y) || len(preds) == 0 {
		return model.Metrics{}, fmt.Errorf("metrics: %d predictions, %d labels", len(preds), len(y))
	}

	var tp, fp, tn, fn int
	for i, p := range preds {
		positive := p >= 0.5
		actual := y[i] >= 0.5
		switch {
		case positive && actual:
			tp++
		case positive && !actual:
			fp++
		case !positive && !actual:
			tn++
		default:
			fn++
		}
	}

	n := float64(len(preds))
	m := model.Metrics{
		TruePositives:  tp,
		FalsePositives: fp,
		TrueNegatives:  tn,
		FalseNegatives: fn,
		Accuracy:       float64(tp+tn) / n,
		SampleSize:     len(preds),
		EvaluatedAt:    time.Now(),
	}
	if tp+fp > 0 {
		m.Precision = float64(tp) / float64(tp+fp)
	}
	if tp+fn > 0 {
		m.Recall = float64(tp) / float64(tp+fn)
	}
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
	m.AUC = rocAUC(preds, y)

	return m, nil
}

// rocAUC computes the exact area under the ROC curve via the
// rank-statistic formulation, with average ranks for tied scores.
// Returns 0.5 when either class is absent (the curve is undefined).
func rocAUC(preds, y []float64) float64 {
	type pair struct {
		score float64
		pos   bool
	}
	pairs := make([]pair, len(preds))
	var nPos, nNeg int
	for i, p := range preds {
		pos := y[i] >= 0.5
		pairs[i] = pair{score: p, pos: pos}
		if pos {
			nPos++
		} else {
			nNeg++
		}
	}
	if nPos == 0 || nNeg == 0 {
		return 0.5
	}

	sort.Slice(pairs, func(i, j int) bool { return pairs[i].score < pairs[j].score })

	// Sum the (tie-averaged) ranks of the positive class.
	var posRankSum float64
	i := 0
	for i < len(pairs) {
		j := i
		for j < len(pairs) && pairs[j].score == pairs[i].score {
			j++
		}
		// Ranks are 1-based; ties share the average rank of their run.
		avgRank := float64(i+j+1) / 2
		for k := i; k < j; k++ {
			if pairs[k].pos {
				posRankSum += avgRank
			}
		}
		i = j
	}

	return (posRankSum - float64(nPos)*float64(nPos+1)/2) / (float64(nPos) * float64(nNeg))
}
