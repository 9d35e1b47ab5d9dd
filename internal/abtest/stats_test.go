package abtest

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTwoProportionTestClearWin(t *testing.T) {
	// 10% vs 13% over 5000 per side is a textbook decisive result.
	r := TwoProportionTest(500, 5000, 650, 5000)

	assert.InDelta(t, 0.10, r.RateA, 1e-9)
	assert.InDelta(t, 0.13, r.RateB, 1e-9)
	assert.InDelta(t, 0.03, r.AbsoluteDifference, 1e-9)
	assert.InDelta(t, 0.30, r.RelativeImprovement, 1e-9)
	assert.InDelta(t, 4.70, r.ZScore, 0.01)
	assert.True(t, r.Significant)
	assert.Greater(t, r.Confidence, 0.99)
	assert.Greater(t, r.Power, 0.95)
	assert.Equal(t, int64(10000), r.TotalSample)
}

func TestTwoProportionTestNoDifference(t *testing.T) {
	r := TwoProportionTest(100, 1000, 100, 1000)

	assert.False(t, r.Significant)
	assert.InDelta(t, 0, r.AbsoluteDifference, 1e-9)
	assert.InDelta(t, 1, r.PValue, 1e-9)
	assert.Zero(t, r.Power)
}

func TestTwoProportionTestEmptySides(t *testing.T) {
	for _, r := range []SignificanceResult{
		TwoProportionTest(0, 0, 50, 1000),
		TwoProportionTest(50, 1000, 0, 0),
	} {
		assert.False(t, r.Significant)
		assert.InDelta(t, 1, r.PValue, 1e-9)
	}
}

func TestNormalCDFReferenceValues(t *testing.T) {
	cases := []struct {
		x, want float64
	}{
		{0, 0.5},
		{1.0, 0.841345},
		{1.959964, 0.975},
		{-1.959964, 0.025},
		{2.575829, 0.995},
	}
	for _, c := range cases {
		assert.InDelta(t, c.want, normalCDF(c.x), 1e-5, "x=%v", c.x)
	}
}

func TestRequiredSampleSize(t *testing.T) {
	// Detecting 10% vs 13% at 80% power needs roughly 1800 per side.
	n := requiredSampleSize(0.10, 0.13)
	assert.InDelta(t, 1800, float64(n), 100)

	assert.Equal(t, math.MaxInt32, requiredSampleSize(0.1, 0.1))
}

func TestSelectWinnerImplementsChallenger(t *testing.T) {
	r := TwoProportionTest(500, 5000, 650, 5000)
	rec := SelectWinner("t1", r, ModerateCriteria(), 3*24*time.Hour)

	require.Equal(t, DecisionImplementWinner, rec.Decision)
	assert.Equal(t, "challenger", rec.Winner)
	assert.NotEmpty(t, rec.Reasoning)
	assert.NotEmpty(t, rec.NextSteps)
}

func TestSelectWinnerContinuesOnThinData(t *testing.T) {
	r := TwoProportionTest(12, 120, 18, 130)
	rec := SelectWinner("t1", r, ModerateCriteria(), time.Hour)

	assert.Equal(t, DecisionContinueTesting, rec.Decision)
	assert.Empty(t, rec.Winner)
}

func TestSelectWinnerStopsWhenPoweredWithoutSignificance(t *testing.T) {
	r := SignificanceResult{
		Significant: false,
		Confidence:  0.60,
		Power:       0.85,
		TotalSample: 12000,
	}
	rec := SelectWinner("t1", r, ModerateCriteria(), 2*24*time.Hour)

	assert.Equal(t, DecisionStopTest, rec.Decision)
}

func TestSelectWinnerNoClearWinnerOnMarginalEffect(t *testing.T) {
	r := SignificanceResult{
		Significant:         true,
		Confidence:          0.96,
		RelativeImprovement: 0.03, // below the moderate 5% effect floor
		Power:               0.90,
		TotalSample:         20000,
	}
	rec := SelectWinner("t1", r, ModerateCriteria(), 2*24*time.Hour)

	assert.Equal(t, DecisionNoClearWinner, rec.Decision)
}

func TestCriteriaPresets(t *testing.T) {
	cases := []struct {
		name       string
		criteria   Criteria
		confidence float64
		sample     int64
		effect     float64
		duration   time.Duration
	}{
		{"conservative", ConservativeCriteria(), 0.99, 10000, 0.10, 30 * 24 * time.Hour},
		{"moderate", ModerateCriteria(), 0.95, 5000, 0.05, 14 * 24 * time.Hour},
		{"aggressive", AggressiveCriteria(), 0.90, 2000, 0.02, 7 * 24 * time.Hour},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.name, c.criteria.Name)
			assert.Equal(t, c.confidence, c.criteria.MinimumConfidence)
			assert.Equal(t, c.sample, c.criteria.MinimumSampleSize)
			assert.Equal(t, c.effect, c.criteria.MinimumEffectSize)
			assert.Equal(t, c.duration, c.criteria.MaximumTestDuration)
		})
	}
}

func TestCriteriaForMetric(t *testing.T) {
	assert.Equal(t, "conservative", CriteriaForMetric("conversion_rate").Name)
	assert.Equal(t, "moderate", CriteriaForMetric("response_rate").Name)
	assert.Equal(t, "aggressive", CriteriaForMetric("click_rate").Name)
	assert.Equal(t, "moderate", CriteriaForMetric("anything_else").Name)
}

func TestEvaluateStoppingNeverBelowMinimumSample(t *testing.T) {
	// Arbitrarily strong evidence must not stop a test that has not
	// reached its minimum sample.
	r := SignificanceResult{
		Significant:         true,
		Confidence:          0.9999,
		RelativeImprovement: 0.50,
		Power:               0.99,
		TotalSample:         4999,
	}
	check := EvaluateStopping(r, ModerateCriteria())
	assert.False(t, check.CanStop)
}

func TestEvaluateStoppingCutsSevereLoss(t *testing.T) {
	r := SignificanceResult{
		Significant:         true,
		Confidence:          0.97,
		RelativeImprovement: -0.12,
		Power:               0.70,
		TotalSample:         6000,
	}
	check := EvaluateStopping(r, ModerateCriteria())
	require.True(t, check.CanStop)
	assert.Contains(t, check.Reason, "negative")
}

func TestEvaluateStoppingOnAdequateEvidence(t *testing.T) {
	r := TwoProportionTest(500, 5000, 650, 5000)
	check := EvaluateStopping(r, ModerateCriteria())
	require.True(t, check.CanStop)
	assert.Contains(t, check.Reason, "adequate")
}

func TestEvaluateStoppingHoldsWithoutSignificance(t *testing.T) {
	r := TwoProportionTest(510, 5000, 520, 5000)
	check := EvaluateStopping(r, ModerateCriteria())
	assert.False(t, check.CanStop)
}
