// Package lead defines the CRM-facing domain types consumed by the
// scoring pipeline. A Profile is an immutable snapshot of a prospect
// taken at scoring time; the engine never mutates it.
package lead

import (
	"errors"
	"time"
)

// ErrUnknownLead means the CRM has no record of the requested lead.
var ErrUnknownLead = errors.New("unknown lead")

// Profile is a point-in-time snapshot of a prospect's identity and
// attributes. Fields mirror what the CRM hands over per scoring call.
type Profile struct {
	ID             string    `json:"id"`
	Source         string    `json:"source"`
	PropertyType   string    `json:"propertyType"`
	BudgetMin      float64   `json:"budgetMin"`
	BudgetMax      float64   `json:"budgetMax"`
	PreApproved    bool      `json:"preApproved"`
	EmailVerified  bool      `json:"emailVerified"`
	PhoneVerified  bool      `json:"phoneVerified"`
	Timeline       string    `json:"timeline"`
	Region         string    `json:"region"`
	CreatedAt      time.Time `json:"createdAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
}

// Interaction is a single recorded touchpoint between the prospect and
// the CRM (viewing, call, email open, site visit).
type Interaction struct {
	LeadID     string    `json:"leadId"`
	Kind       string    `json:"kind"`
	OccurredAt time.Time `json:"occurredAt"`
	Duration   float64   `json:"durationMinutes"`
	Responded  bool      `json:"responded"`
}

// Outcome records whether a previously scored lead converted. Pairs of
// (prediction, outcome) feed drift detection and retraining.
type Outcome struct {
	LeadID     string    `json:"leadId"`
	ModelID    string    `json:"modelId"`
	Prediction float64   `json:"prediction"`
	Converted  bool      `json:"converted"`
	RecordedAt time.Time `json:"recordedAt"`
}
