package dpaccount

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestHardStopAfterThreeRounds: a worker with epsilon_cap=1.0 and
// per-round epsilon=0.3 succeeds for rounds 1-3 and is rejected on
// round 4, before any network I/O would occur.
func TestHardStopAfterThreeRounds(t *testing.T) {
	a := New(1.0, 1e-5, true)

	for i := 0; i < 3; i++ {
		require.True(t, a.CanSubmit(0.3))
		require.NoError(t, a.Record(0.3))
	}

	require.False(t, a.CanSubmit(0.3))
	err := a.Record(0.3)
	require.Error(t, err)
	require.True(t, a.Halted())
}

func TestHardStopDisabledNeverRefuses(t *testing.T) {
	a := New(0.1, 1e-5, false)
	for i := 0; i < 100; i++ {
		require.True(t, a.CanSubmit(1.0))
		require.NoError(t, a.Record(1.0))
	}
}

func TestSkellamEpsilonDecreasesWithMu(t *testing.T) {
	low := SkellamEpsilon(1.0, 1.0, 1e-5)
	high := SkellamEpsilon(9.0, 1.0, 1e-5)
	require.Greater(t, low, high)
}

func TestSkellamEpsilonIncreasesWithSensitivity(t *testing.T) {
	small := SkellamEpsilon(3.19, 1.0, 1e-5)
	large := SkellamEpsilon(3.19, 2.0, 1e-5)
	require.Greater(t, large, small)
}

func TestRoundEpsilonScalesWithSparsityRatio(t *testing.T) {
	sparse := RoundEpsilon(3.19, 10.0, 0.1, 1e-5)
	dense := RoundEpsilon(3.19, 10.0, 1.0, 1e-5)
	require.Less(t, sparse, dense, "a sparser round must cost less epsilon than a fully dense one")
}

func TestRoundEpsilonMatchesSkellamAtFullDensity(t *testing.T) {
	got := RoundEpsilon(3.19, 10.0, 1.0, 1e-5)
	want := SkellamEpsilon(3.19, 10.0, 1e-5)
	require.InDelta(t, want, got, 1e-9)
}
