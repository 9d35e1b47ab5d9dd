package abtest

// severeNegativeEffect is the relative loss at which a significant,
// adequately sampled challenger is cut early.
const severeNegativeEffect = -0.05

// StopCheck reports a sequential stopping evaluation.
type StopCheck struct {
	CanStop bool   `json:"canStop"`
	Reason  string `json:"reason,omitempty"`
}

// EvaluateStopping applies the sequential stopping rule. It is called
// every checkInterval new visitors while a test runs. A test below the
// minimum sample never stops early regardless of observed rates.
func EvaluateStopping(result SignificanceResult, criteria Criteria) StopCheck {
	if result.TotalSample < criteria.MinimumSampleSize {
		return StopCheck{}
	}

	// Cut a clearly losing challenger: significant, severely negative.
	if result.Significant &&
		result.Confidence >= criteria.MinimumConfidence &&
		result.RelativeImprovement <= severeNegativeEffect {
		return StopCheck{
			CanStop: true,
			Reason:  "challenger shows a statistically significant negative effect",
		}
	}

	// Adequate significance and sample: the call can already be made.
	if result.Significant &&
		result.Confidence >= criteria.MinimumConfidence &&
		abs(result.RelativeImprovement) >= criteria.MinimumEffectSize &&
		result.Power >= targetPower {
		return StopCheck{
			CanStop: true,
			Reason:  "significance and sample size are already adequate",
		}
	}

	return StopCheck{}
}
