package pipeline

import (
	"testing"

	"github.com/sfup/sfup/csprng"
	"github.com/sfup/sfup/dpaccount"
	"github.com/sfup/sfup/envelope"
	"github.com/sfup/sfup/gradient"
	"github.com/sfup/sfup/n2he"
	"github.com/stretchr/testify/require"
)

func testEnvelope(t *testing.T) *envelope.Handle {
	t.Helper()
	env, err := envelope.New(envelope.OperatingEnvelope{
		ClipNorm:            10.0,
		SparsityRatio:       0.5,
		Bits:                8,
		Mu:                  3.19,
		EpsilonCap:          10.0,
		Delta:               1e-6,
		HardStopEnabled:     true,
		QuorumThreshold:     3,
		MADk:                3.0,
		MaxUpdateSizeKB:     1024,
		MinRoundIntervalSec: 1,
		MaxRoundIntervalSec: 60,
		MaxDeltaNorm:        100.0,
		MaxKL:               1.0,
		GateThreshold:       0.15,
		MaxQualityMSE:       10.0,
		WeightDenominator:   1,
	})
	require.NoError(t, err)
	return envelope.NewHandle(env, nil)
}

func testWorker(t *testing.T) *Worker {
	t.Helper()
	seed := make([]byte, csprng.SeedSize)
	for i := range seed {
		seed[i] = byte(i + 1)
	}
	gen, err := csprng.NewGeneratorFromSeed(seed)
	require.NoError(t, err)

	params, err := n2he.DefaultParams(n2he.Security128)
	require.NoError(t, err)
	sk, err := n2he.GenerateSecretKey(gen, "key-1", params)
	require.NoError(t, err)
	cipher, err := n2he.New(params, sk, gen)
	require.NoError(t, err)

	account := dpaccount.New(10.0, 1e-6, true)
	return NewWorker("worker-1", testEnvelope(t), account, gen, cipher, nil)
}

func sampleInput(round uint64) RoundInput {
	return RoundInput{
		Round: round,
		Experts: gradient.ExpertGatedGradients{
			"expert-a": gradient.TensorSet{"w": {1, 2, 3, 4, 5, 6, 7, 8}},
		},
		Weights:       gradient.GateWeights{"expert-a": 1.0},
		GateThreshold: 0.15,
	}
}

func TestRunProducesCiphertextPerTouchedGroup(t *testing.T) {
	w := testWorker(t)
	out, err := w.Run(sampleInput(1))
	require.NoError(t, err)
	// 4 of 8 dense indices selected, 2 codes per packed group: between 2
	// and 4 ciphertexts depending on how the selection falls into groups.
	require.LessOrEqual(t, len(out.Ciphertexts["w"]), 4)
	require.Greater(t, len(out.Ciphertexts["w"]), 0)
	require.Contains(t, out.CompressionMeta, "w")
	require.Greater(t, out.SafetyStats.SparsityRatio, 0.0)
}

func TestRunDeterministicAcrossIdenticalWorkers(t *testing.T) {
	w1 := testWorker(t)
	w2 := testWorker(t)
	out1, err := w1.Run(sampleInput(5))
	require.NoError(t, err)
	out2, err := w2.Run(sampleInput(5))
	require.NoError(t, err)
	require.Equal(t, out1.Ciphertexts["w"], out2.Ciphertexts["w"])
}

func TestRunRefusesWhenPrivacyBudgetExhausted(t *testing.T) {
	w := testWorker(t)
	w.account = dpaccount.New(1e-9, 1e-6, true) // cap far below any real round's cost
	_, err := w.Run(sampleInput(1))
	require.Error(t, err)
}

func TestRunRejectsUnknownExpertWeight(t *testing.T) {
	w := testWorker(t)
	in := sampleInput(1)
	in.Weights = gradient.GateWeights{}
	_, err := w.Run(in)
	require.Error(t, err)
}

func TestRunAcrossRoundsAccumulatesEpsilon(t *testing.T) {
	w := testWorker(t)
	out1, err := w.Run(sampleInput(1))
	require.NoError(t, err)
	out2, err := w.Run(sampleInput(2))
	require.NoError(t, err)

	want := dpaccount.RoundEpsilon(3.19, 10.0, out1.SafetyStats.SparsityRatio, 1e-6) +
		dpaccount.RoundEpsilon(3.19, 10.0, out2.SafetyStats.SparsityRatio, 1e-6)
	require.InDelta(t, want, w.account.Consumed(), 1e-9)
}
