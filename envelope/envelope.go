// Package envelope implements the immutable per-deployment Operating
// Envelope: every numeric limit the pipeline and the aggregator
// consult at each round. Validation happens once, at construction; an
// invalid envelope is a startup-fatal ConfigError, never a
// silently-ignored option.
package envelope

import (
	"fmt"

	"github.com/sfup/sfup/sfuperrors"
)

// OperatingEnvelope enumerates every option recognized by SFUP.
// Fields are unexported-style in spirit: callers are expected to
// build one through New so unknown keys in a serialized form are
// rejected rather than silently dropped; the struct itself stays
// exported so components can read individual limits directly.
type OperatingEnvelope struct {
	ClipNorm            float64
	SparsityRatio       float64
	Bits                int
	Mu                  float64
	EpsilonCap          float64
	Delta               float64
	HardStopEnabled     bool
	QuorumThreshold     int
	MADk                float64
	MaxUpdateSizeKB     int
	MinRoundIntervalSec int
	MaxRoundIntervalSec int
	MaxDeltaNorm        float64
	MaxKL               float64
	GateThreshold       float64
	MaxQualityMSE       float64
	WeightDenominator   uint64
}

// Defaults mirrors the documented concrete defaults (gate threshold
// 0.15, MAD k=3) while leaving deployment-specific limits
// (clip norm, epsilon cap, sizes) to be set explicitly. New rejects
// an envelope that leaves those at their unset zero value.
func Defaults() OperatingEnvelope {
	return OperatingEnvelope{
		GateThreshold:     0.15,
		MADk:              3.0,
		WeightDenominator: 1,
		HardStopEnabled:   true,
	}
}

// New validates opts and returns an immutable envelope, or a
// ConfigError describing exactly which option is out of range.
func New(opts OperatingEnvelope) (*OperatingEnvelope, error) {
	e := opts
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

// Validate enforces the invariants every other package assumes hold
// for each field. Every check names the offending field so a
// ConfigError is actionable without a debugger.
func (e OperatingEnvelope) Validate() error {
	type check struct {
		ok   bool
		desc string
	}
	checks := []check{
		{e.ClipNorm > 0, "clip_norm must be > 0"},
		{e.SparsityRatio > 0 && e.SparsityRatio <= 1, "sparsity_ratio must be in (0,1]"},
		{e.Bits == 2 || e.Bits == 4 || e.Bits == 8, "bits must be one of {2,4,8}"},
		{e.Mu >= 1.0 && e.Mu <= 10.0, "mu must be in [1.0,10.0]"},
		{e.EpsilonCap > 0, "epsilon_cap must be > 0"},
		{e.Delta > 0 && e.Delta < 1, "delta must be in (0,1)"},
		{e.QuorumThreshold >= 1, "quorum_threshold must be >= 1"},
		{e.MADk > 0, "mad_k must be > 0"},
		{e.MaxUpdateSizeKB > 0, "max_update_size_kb must be > 0"},
		{e.MinRoundIntervalSec > 0, "min round_interval_seconds must be > 0"},
		{e.MaxRoundIntervalSec >= e.MinRoundIntervalSec, "max round_interval_seconds must be >= min"},
		{e.MaxDeltaNorm > 0, "max_delta_norm must be > 0"},
		{e.MaxKL > 0, "max_kl must be > 0"},
		{e.GateThreshold >= 0 && e.GateThreshold <= 1, "gate_threshold must be in [0,1]"},
		{e.MaxQualityMSE > 0, "max_quality_mse must be > 0"},
		{e.WeightDenominator >= 1, "weight_denominator must be >= 1"},
	}
	for _, c := range checks {
		if !c.ok {
			return fmt.Errorf("envelope: %s: %w", c.desc, sfuperrors.ErrEnvelopeInvalid)
		}
	}
	return nil
}
