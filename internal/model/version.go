package model

import "time"

// Status is the lifecycle state of a trained model version. Exactly
// one version is active at any time; transitions happen only through
// deployment decisions in the lifecycle registry.
type Status string

const (
	StatusTraining   Status = "training"
	StatusActive     Status = "active"
	StatusRetired    Status = "retired"
	StatusChallenger Status = "challenger"
)

// Version is the persisted metadata for a trained model. The trained
// weights live in memory behind the Model interface; Version carries
// everything the lifecycle machinery needs to reason about it.
type Version struct {
	ID           string     `json:"id"`
	Type         Type       `json:"type"`
	Config       Config     `json:"config"`
	TrainingData Descriptor `json:"trainingData"`
	Metrics      Metrics    `json:"metrics"`
	Status       Status     `json:"status"`
	CreatedAt    time.Time  `json:"createdAt"`
	PromotedAt   time.Time  `json:"promotedAt,omitempty"`
}

// Descriptor identifies the dataset a version was trained on.
type Descriptor struct {
	SampleCount int       `json:"sampleCount"`
	From        time.Time `json:"from"`
	To          time.Time `json:"to"`
	Source      string    `json:"source"`
}

// Metrics is the evaluation summary attached to a trained version.
// Immutable once attached.
type Metrics struct {
	Accuracy       float64   `json:"accuracy"`
	Precision      float64   `json:"precision"`
	Recall         float64   `json:"recall"`
	F1             float64   `json:"f1"`
	TruePositives  int       `json:"truePositives"`
	FalsePositives int       `json:"falsePositives"`
	TrueNegatives  int       `json:"trueNegatives"`
	FalseNegatives int       `json:"falseNegatives"`
	AUC            float64   `json:"auc"`
	SampleSize     int       `json:"sampleSize"`
	EvaluatedAt    time.Time `json:"evaluatedAt"`
}
