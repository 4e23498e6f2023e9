package gradient

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGateAndCombineDropsBelowThreshold(t *testing.T) {
	experts := ExpertGatedGradients{
		"a": TensorSet{"w": {1, 1, 1}},
		"b": TensorSet{"w": {10, 10, 10}},
	}
	weights := GateWeights{"a": 0.5, "b": 0.1}

	combined, err := GateAndCombine(experts, weights, DefaultGateThreshold)
	require.NoError(t, err)
	require.Equal(t, []float32{0.5, 0.5, 0.5}, combined["w"])
}

func TestGateAndCombineMissingWeight(t *testing.T) {
	experts := ExpertGatedGradients{"a": TensorSet{"w": {1}}}
	_, err := GateAndCombine(experts, GateWeights{}, DefaultGateThreshold)
	require.Error(t, err)
}

func TestClipNoOpWhenUnderNorm(t *testing.T) {
	g := TensorSet{"w": {1, 0, 0}}
	res := Clip(g, 100)
	require.InDelta(t, 1.0, res.ScaleFactor, 1e-9)
	require.Equal(t, []float32{1, 0, 0}, res.Clipped["w"])
}

func TestClipScalesDownWhenOverNorm(t *testing.T) {
	g := TensorSet{"w": {3, 4}} // norm = 5
	res := Clip(g, 1.0)
	require.InDelta(t, 0.2, res.ScaleFactor, 1e-6)
	require.InDelta(t, 5.0, res.NormPreClip, 1e-6)
	require.InDelta(t, 1.0, res.Clipped.L2Norm(), 1e-6)
}

func TestClipZeroGradientDoesNotDivideByZero(t *testing.T) {
	g := TensorSet{"w": {0, 0}}
	res := Clip(g, 1.0)
	require.Equal(t, []float32{0, 0}, res.Clipped["w"])
}
