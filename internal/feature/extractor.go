// Package feature turns lead profiles into fixed-length numeric
// vectors for model input. The vector layout is fixed and ordered;
// models are trained and served against the same layout.
package feature

import (
	"fmt"
	"math"
	"time"

	"leadscore-engine/internal/lead"
)

// Names lists the vector fields in serving order. Index i of a Vector
// always corresponds to Names[i].
var Names = []string{
	"budget_mid",
	"budget_span",
	"pre_approved",
	"contact_verified",
	"timeline_urgency",
	"source_quality",
	"days_since_created",
	"days_since_activity",
	"interaction_count",
	"interaction_minutes",
	"response_rate",
	"recent_interaction_rate",
}

// Size is the fixed vector length.
var Size = len(Names)

// Vector is an ordered feature vector of length Size.
type Vector []float64

// Extractor derives a feature vector from a lead snapshot and its
// interaction history.
type Extractor interface {
	Extract(profile lead.Profile, interactions []lead.Interaction) (Vector, error)
}

// Local is the in-process extractor used when no remote feature service
// is configured. Deterministic for a fixed profile and clock.
type Local struct {
	now func() time.Time
}

// NewLocal creates a local extractor.
func NewLocal() *Local {
	return &Local{now: time.Now}
}

// NewLocalAt creates a local extractor with a fixed clock, for tests.
func NewLocalAt(now func() time.Time) *Local {
	return &Local{now: now}
}

var timelineUrgency = map[string]float64{
	"immediate": 1.0,
	"3_months":  0.75,
	"6_months":  0.5,
	"12_months": 0.25,
}

var sourceQuality = map[string]float64{
	"referral":   1.0,
	"open_house": 0.8,
	"website":    0.6,
	"portal":     0.5,
	"cold_list":  0.2,
	"purchased":  0.1,
}

// Extract implements Extractor.
func (l *Local) Extract(p lead.Profile, interactions []lead.Interaction) (Vector, error) {
	if p.ID == "" {
		return nil, fmt.Errorf("profile has no lead id")
	}

	now := l.now()
	v := make(Vector, Size)

	v[0] = normBudget((p.BudgetMin + p.BudgetMax) / 2)
	v[1] = normBudget(p.BudgetMax - p.BudgetMin)
	v[2] = boolFeature(p.PreApproved)
	v[3] = (boolFeature(p.EmailVerified) + boolFeature(p.PhoneVerified)) / 2
	v[4] = timelineUrgency[p.Timeline]
	v[5] = sourceQuality[p.Source]
	v[6] = normDays(now.Sub(p.CreatedAt))
	v[7] = normDays(now.Sub(p.LastActivityAt))

	var minutes float64
	var responded, recent int
	for _, it := range interactions {
		minutes += it.Duration
		if it.Responded {
			responded++
		}
		if now.Sub(it.OccurredAt) <= 7*24*time.Hour {
			recent++
		}
	}
	n := float64(len(interactions))
	v[8] = math.Min(n/20, 1)
	v[9] = math.Min(minutes/300, 1)
	if n > 0 {
		v[10] = float64(responded) / n
		v[11] = float64(recent) / n
	}

	return v, nil
}

// normBudget squashes a dollar amount into [0,1] with 2M as saturation.
func normBudget(amount float64) float64 {
	if amount <= 0 {
		return 0
	}
	return math.Min(amount/2_000_000, 1)
}

// normDays squashes an age into [0,1); older means closer to 1.
func normDays(age time.Duration) float64 {
	days := age.Hours() / 24
	if days < 0 {
		days = 0
	}
	return days / (days + 30)
}

func boolFeature(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
