package model

import (
	"fmt"
	"math"
)

// Logistic is a logistic-regression predictor trained with batch
// gradient descent. The advanced variant adds squared interaction terms
// before fitting, everything else is shared. Training is deterministic:
// weights start at zero and the data order is taken as given.
type Logistic struct {
	advanced bool
	weights  []float64
	bias     float64
	fitted   bool
}

// NewLogistic creates an untrained logistic model.
func NewLogistic(advanced bool) *Logistic {
	return &Logistic{advanced: advanced}
}

// Fit implements Model.
func (m *Logistic) Fit(X [][]float64, y []float64, cfg Config) error {
	if len(X) == 0 || len(X) != len(y) {
		return fmt.Errorf("fit: %d rows, %d labels", len(X), len(y))
	}
	cfg = Defaults().Merge(cfg)

	rows := m.expand(X)
	dim := len(rows[0])
	m.weights = make([]float64, dim)
	m.bias = 0

	n := float64(len(rows))
	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		gradW := make([]float64, dim)
		var gradB float64
		for i, row := range rows {
			p := m.forward(row)
			err := p - y[i]
			for j, v := range row {
				gradW[j] += err * v
			}
			gradB += err
		}
		for j := range m.weights {
			m.weights[j] -= cfg.LearningRate * (gradW[j]/n + cfg.L2*m.weights[j])
		}
		m.bias -= cfg.LearningRate * gradB / n
	}

	m.fitted = true
	return nil
}

// Predict implements Model.
func (m *Logistic) Predict(X [][]float64) ([]float64, error) {
	if !m.fitted {
		return nil, fmt.Errorf("predict: model not fitted")
	}
	rows := m.expand(X)
	out := make([]float64, len(rows))
	for i, row := range rows {
		if len(row) != len(m.weights) {
			return nil, fmt.Errorf("predict: row %d has %d features, model expects %d", i, len(row), len(m.weights))
		}
		out[i] = m.forward(row)
	}
	return out, nil
}

// Evaluate implements Model using log loss and 0.5-threshold accuracy.
func (m *Logistic) Evaluate(X [][]float64, y []float64) (EvalReport, error) {
	preds, err := m.Predict(X)
	if err != nil {
		return EvalReport{}, err
	}
	if len(preds) != len(y) {
		return EvalReport{}, fmt.Errorf("evaluate: %d predictions, %d labels", len(preds), len(y))
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

func (m *Logistic) forward(row []float64) float64 {
	z := m.bias
	for j, v := range row {
		z += m.weights[j] * v
	}
	return sigmoid(z)
}

// expand adds squared terms for the advanced variant.
func (m *Logistic) expand(X [][]float64) [][]float64 {
	if !m.advanced {
		return X
	}
	out := make([][]float64, len(X))
	for i, row := range X {
		expanded := make([]float64, 0, 2*len(row))
		expanded = append(expanded, row...)
		for _, v := range row {
			expanded = append(expanded, v*v)
		}
		out[i] = expanded
	}
	return out
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}
