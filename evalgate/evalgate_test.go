package evalgate

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func defaultThresholds() Thresholds {
	return Thresholds{
		MinSuccessRate:      0.9,
		MaxKLDivergence:     0.5,
		MaxDeltaNorm:        10.0,
		RequireMonotoneLoss: true,
	}
}

func TestEvaluatePassesWhenEverythingWithinBounds(t *testing.T) {
	res := Evaluate(defaultThresholds(), Metrics{
		SuccessRate:  0.95,
		KLDivergence: 0.1,
		DeltaNorm:    2.0,
		LossImproved: true,
		LossMeasured: true,
	})
	require.True(t, res.Passed)
	require.Empty(t, res.Failures)
}

func TestEvaluateReportsAllFailuresAtOnce(t *testing.T) {
	res := Evaluate(defaultThresholds(), Metrics{
		SuccessRate:  0.5,
		KLDivergence: 1.0,
		DeltaNorm:    20.0,
		LossImproved: false,
		LossMeasured: true,
	})
	require.False(t, res.Passed)
	require.Len(t, res.Failures, 4)
}

func TestEvaluateSkipsMonotoneLossCheckWithoutBaseline(t *testing.T) {
	res := Evaluate(defaultThresholds(), Metrics{
		SuccessRate:  0.95,
		KLDivergence: 0.1,
		DeltaNorm:    2.0,
		LossImproved: false,
		LossMeasured: false,
	})
	require.True(t, res.Passed)
}

func TestEvaluateMonotoneLossDisabled(t *testing.T) {
	th := defaultThresholds()
	th.RequireMonotoneLoss = false
	res := Evaluate(th, Metrics{
		SuccessRate:  0.95,
		KLDivergence: 0.1,
		DeltaNorm:    2.0,
		LossImproved: false,
		LossMeasured: true,
	})
	require.True(t, res.Passed)
}
