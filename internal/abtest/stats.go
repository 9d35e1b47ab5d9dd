// Package abtest runs champion/challenger experiments: deterministic
// traffic routing, result accrual, a two-proportion significance
// engine, sequential stopping, and automatic winner selection.
package abtest

import (
	"math"
)

// SignificanceResult is the output of the two-proportion z-test plus
// the power analysis around it. Underpowered results are a valid
// outcome, never an error.
type SignificanceResult struct {
	RateA               float64 `json:"rateA"`
	RateB               float64 `json:"rateB"`
	AbsoluteDifference  float64 `json:"absoluteDifference"`
	RelativeImprovement float64 `json:"relativeImprovement"`
	StandardError       float64 `json:"standardError"`
	ZScore              float64 `json:"zScore"`
	PValue              float64 `json:"pValue"`
	Confidence          float64 `json:"confidence"`
	Significant         bool    `json:"significant"`
	Power               float64 `json:"power"`
	RequiredSampleSize  int     `json:"requiredSampleSize"`
	TotalSample         int64   `json:"totalSample"`
}

const (
	zAlpha95    = 1.959963985 // two-sided 95% critical value
	zPower80    = 0.841621234 // one-sided 80% power quantile
	targetPower = 0.80
)

// TwoProportionTest compares conversion counts (a out of nA) against
// (b out of nB) with a pooled-variance z-test and a proper normal CDF.
func TwoProportionTest(conversionsA, sentA, conversionsB, sentB int64) SignificanceResult {
	r := SignificanceResult{TotalSample: sentA + sentB}
	if sentA == 0 || sentB == 0 {
		r.PValue = 1
		return r
	}

	p1 := float64(conversionsA) / float64(sentA)
	p2 := float64(conversionsB) / float64(sentB)
	n1 := float64(sentA)
	n2 := float64(sentB)

	r.RateA = p1
	r.RateB = p2
	r.AbsoluteDifference = p2 - p1
	if p1 > 0 {
		r.RelativeImprovement = (p2 - p1) / p1
	}

	pooled := (float64(conversionsA) + float64(conversionsB)) / (n1 + n2)
	se := math.Sqrt(pooled * (1 - pooled) * (1/n1 + 1/n2))
	r.StandardError = se
	if se == 0 {
		r.PValue = 1
		return r
	}

	r.ZScore = math.Abs(p2-p1) / se
	r.PValue = 2 * (1 - normalCDF(r.ZScore))
	r.Confidence = 1 - r.PValue
	r.Significant = r.PValue < 0.05

	r.Power = observedPower(p1, p2, n1, n2)
	r.RequiredSampleSize = requiredSampleSize(p1, p2)

	return r
}

// observedPower is the probability of detecting the observed effect at
// the current per-group sizes with a two-sided 5% test.
func observedPower(p1, p2, n1, n2 float64) float64 {
	effect := math.Abs(p2 - p1)
	if effect == 0 {
		return 0
	}
	se := math.Sqrt(p1*(1-p1)/n1 + p2*(1-p2)/n2)
	if se == 0 {
		return 0
	}
	return normalCDF(effect/se - zAlpha95)
}

// requiredSampleSize is the per-group size needed to detect the
// observed effect with 80% power at the 5% level.
func requiredSampleSize(p1, p2 float64) int {
	effect := math.Abs(p2 - p1)
	if effect == 0 {
		return math.MaxInt32
	}
	variance := p1*(1-p1) + p2*(1-p2)
	n := (zAlpha95 + zPower80) * (zAlpha95 + zPower80) * variance / (effect * effect)
	return int(math.Ceil(n))
}

// normalCDF is the standard normal CDF via the error function.
func normalCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}
