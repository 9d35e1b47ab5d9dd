package abtest

import (
	"fmt"
	"time"
)

// Decision is the outcome of a winner analysis.
type Decision string

const (
	DecisionImplementWinner Decision = "implement_winner"
	DecisionContinueTesting Decision = "continue_testing"
	DecisionNoClearWinner   Decision = "no_clear_winner"
	DecisionStopTest        Decision = "stop_test"
)

// Criteria gates the implement-winner decision.
type Criteria struct {
	Name                string        `json:"name"`
	MinimumConfidence   float64       `json:"minimumConfidence"`
	MinimumSampleSize   int64         `json:"minimumSampleSize"`
	MinimumEffectSize   float64       `json:"minimumEffectSize"`
	MaximumTestDuration time.Duration `json:"maximumTestDurationNs"`
}

// Risk presets. Selected automatically by target metric or overridden
// explicitly.
func ConservativeCriteria() Criteria {
	return Criteria{
		Name:                "conservative",
		MinimumConfidence:   0.99,
		MinimumSampleSize:   10000,
		MinimumEffectSize:   0.10,
		MaximumTestDuration: 30 * 24 * time.Hour,
	}
}

func ModerateCriteria() Criteria {
	return Criteria{
		Name:                "moderate",
		MinimumConfidence:   0.95,
		MinimumSampleSize:   5000,
		MinimumEffectSize:   0.05,
		MaximumTestDuration: 14 * 24 * time.Hour,
	}
}

func AggressiveCriteria() Criteria {
	return Criteria{
		Name:                "aggressive",
		MinimumConfidence:   0.90,
		MinimumSampleSize:   2000,
		MinimumEffectSize:   0.02,
		MaximumTestDuration: 7 * 24 * time.Hour,
	}
}

// CriteriaForMetric picks the risk preset for a target metric:
// conversion changes are expensive to get wrong, engagement metrics
// tolerate faster calls.
func CriteriaForMetric(metric string) Criteria {
	switch metric {
	case "conversion_rate":
		return ConservativeCriteria()
	case "response_rate":
		return ModerateCriteria()
	case "click_rate", "open_rate":
		return AggressiveCriteria()
	default:
		return ModerateCriteria()
	}
}

// Recommendation is one immutable winner analysis.
type Recommendation struct {
	TestID         string   `json:"testId"`
	Winner         string   `json:"winner,omitempty"`
	Decision       Decision `json:"decision"`
	Reasoning      string   `json:"reasoning"`
	RiskAssessment string   `json:"riskAssessment"`
	NextSteps      []string `json:"nextSteps"`
}

// SelectWinner applies the decision policy in strict order:
// implement-winner, continue-testing, stop-test, no-clear-winner.
func SelectWinner(testID string, result SignificanceResult, criteria Criteria, elapsed time.Duration) Recommendation {
	rec := Recommendation{TestID: testID}

	relEffect := abs(result.RelativeImprovement)

	// 1. All implement gates must hold at once.
	if result.Significant &&
		result.Confidence >= criteria.MinimumConfidence &&
		result.TotalSample >= criteria.MinimumSampleSize &&
		relEffect >= criteria.MinimumEffectSize &&
		elapsed <= criteria.MaximumTestDuration {
		rec.Decision = DecisionImplementWinner
		rec.Winner = winnerSide(result)
		rec.Reasoning = fmt.Sprintf(
			"%s leads with %.1f%% relative improvement at %.2f%% confidence over %d samples",
			rec.Winner, result.RelativeImprovement*100, result.Confidence*100, result.TotalSample)
		rec.RiskAssessment = riskForCriteria(criteria)
		rec.NextSteps = []string{
			fmt.Sprintf("deploy the %s model to all traffic", rec.Winner),
			"keep monitoring conversion for one cooldown period after rollout",
		}
		return rec
	}

	// 2. Keep testing while the evidence is underpowered or thin.
	if result.TotalSample < criteria.MinimumSampleSize || result.Power < targetPower {
		rec.Decision = DecisionContinueTesting
		rec.Reasoning = fmt.Sprintf(
			"evidence is not yet conclusive: %d of %d required samples, power %.2f",
			result.TotalSample, criteria.MinimumSampleSize, result.Power)
		rec.RiskAssessment = "low risk: no action taken while data accrues"
		rec.NextSteps = []string{
			fmt.Sprintf("collect roughly %d samples per side", result.RequiredSampleSize),
			"re-run the analysis at the next check interval",
		}
		return rec
	}

	// 3. Adequately powered with nothing to show, or out of time.
	if elapsed >= criteria.MaximumTestDuration ||
		(!result.Significant && result.Power >= targetPower && result.TotalSample >= criteria.MinimumSampleSize) {
		rec.Decision = DecisionStopTest
		rec.Reasoning = fmt.Sprintf(
			"test is adequately powered (%.2f) over %d samples with no decisive difference, or exceeded its %s budget",
			result.Power, result.TotalSample, criteria.MaximumTestDuration)
		rec.RiskAssessment = "low risk: keeping the champion is the safe default"
		rec.NextSteps = []string{
			"stop the test and keep the champion",
			"revisit the challenger after its next training cycle",
		}
		return rec
	}

	// 4. Significant but failing an implement gate.
	rec.Decision = DecisionNoClearWinner
	rec.Reasoning = fmt.Sprintf(
		"significance without a deployable edge: confidence %.2f vs required %.2f, effect %.3f vs required %.3f",
		result.Confidence, criteria.MinimumConfidence, relEffect, criteria.MinimumEffectSize)
	rec.RiskAssessment = "medium risk: acting on a marginal effect invites regret"
	rec.NextSteps = []string{
		"hold deployment",
		"consider a longer test or a larger minimum effect target",
	}
	return rec
}

func winnerSide(result SignificanceResult) string {
	if result.RateB > result.RateA {
		return "challenger"
	}
	return "champion"
}

func riskForCriteria(c Criteria) string {
	switch c.Name {
	case "conservative":
		return "low risk: conservative thresholds leave little room for a false positive"
	case "aggressive":
		return "elevated risk: aggressive thresholds trade certainty for speed"
	default:
		return "moderate risk: standard thresholds balance speed and certainty"
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
