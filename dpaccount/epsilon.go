package dpaccount

import (
	"math"
	"math/big"

	"github.com/ALTree/bigfloat"
)

// bigfloatPrecision is the mantissa precision used when the Gaussian
// approximation below is evaluated in high precision rather than
// float64. 256 bits is comfortably more than the ~1e-3 relative error
// the low-mu regime introduces into a naive float64 ln().
const bigfloatPrecision = 256

// muPrecisionThreshold is the Skellam parameter below which the
// Gaussian-mechanism-shaped approximation's relative error starts to
// matter enough to evaluate ln(1/delta) at elevated precision instead
// of plain float64 math.Log. Chosen empirically against the accepted
// mu range [1.0, 10.0]: below ~2.0 the discreteness of
// the underlying Poisson draws makes the continuous approximation's
// tail noticeably less tight.
const muPrecisionThreshold = 2.0

// SkellamEpsilon computes the per-round privacy loss for the Skellam
// mechanism with noise parameter mu, L2 sensitivity after clipping and
// sparsification, and failure probability delta.
//
// Multiple published bounds exist for this mechanism; the exact form
// is left to the implementer. SFUP uses
// the standard concentrated-DP-style bound for a mechanism whose noise
// has variance 2*mu (a Skellam(mu) variate is the difference of two
// Poisson(mu) variates, each with variance mu):
//
//	epsilon(mu, sensitivity, delta) = sensitivity/(2*mu) + sensitivity*sqrt(ln(1/delta)/mu)
//
// which is the Gaussian-mechanism bound with the noise standard
// deviation sqrt(2*mu) substituted in. This is documented as one
// defensible choice among several (DESIGN.md Open Question 3), not a
// claim of tightness.
func SkellamEpsilon(mu, sensitivity, delta float64) float64 {
	if mu <= 0 || sensitivity <= 0 || delta <= 0 || delta >= 1 {
		return math.Inf(1)
	}

	var lnInvDelta float64
	if mu < muPrecisionThreshold {
		lnInvDelta = highPrecisionLnInvDelta(delta)
	} else {
		lnInvDelta = math.Log(1 / delta)
	}

	return sensitivity/(2*mu) + sensitivity*math.Sqrt(lnInvDelta/mu)
}

// highPrecisionLnInvDelta evaluates ln(1/delta) at elevated precision
// via ALTree/bigfloat, used only in the low-mu regime where the
// mechanism's discreteness makes the Gaussian approximation's error
// budget tighter (see muPrecisionThreshold).
func highPrecisionLnInvDelta(delta float64) float64 {
	invDelta := new(big.Float).SetPrec(bigfloatPrecision).SetFloat64(1 / delta)
	lnBig := bigfloat.Log(invDelta)
	v, _ := lnBig.Float64()
	return v
}

// RoundEpsilon derives the per-round epsilon cost from the envelope
// parameters a worker actually used this round: the Skellam mu, the L2
// sensitivity implied by the clip norm and the round's real sparsity
// ratio, and delta. Rand-K transmits a uniformly random k-of-n subset
// of a clip_norm-bounded gradient, so the sent vector's L2 norm is
// credited down by sqrt(sparsityRatio) rather than charged as if the
// full dense gradient had crossed the wire; at sparsityRatio=1 this
// reduces exactly to SkellamEpsilon(mu, clipNorm, delta).
func RoundEpsilon(mu, clipNorm, sparsityRatio, delta float64) float64 {
	sensitivity := clipNorm * math.Sqrt(sparsityRatio)
	return SkellamEpsilon(mu, sensitivity, delta)
}
