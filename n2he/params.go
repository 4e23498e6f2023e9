// Package n2he implements the additively homomorphic LWE symmetric
// cipher used to encrypt quantized gradient slots. It evaluates the
// same "b = <A,s> + e + floor(q/t)*m (mod q)" equation as a ring-LWE
// scheme, but over a flat integer vector A rather than a polynomial
// ring, giving ciphertexts a bare (A,b)-pair shape.
package n2he

import (
	"fmt"
	"math/bits"

	"github.com/google/go-cmp/cmp"

	"github.com/sfup/sfup/sfuperrors"
)

// SecurityLevel selects the LWE dimension.
type SecurityLevel int

const (
	Security128 SecurityLevel = 128
	Security192 SecurityLevel = 192
)

// Params are the fixed cipher parameters for one security level. Q is
// always 2^32 so that "mod q" arithmetic on a uint32 is simply integer
// wraparound; no explicit reduction step is needed anywhere in this
// package.
type Params struct {
	NLWE          int
	Q             uint64
	T             uint32
	Mu            float64
	SecurityLevel SecurityLevel
}

// noiseConstant is a "small constant C" left to the implementer when
// bounding the number of tolerable additions for a
// 2^-40 decryption-failure probability. C=8 is a conservative choice
// consistent with a Skellam-noise Hoeffding-style tail bound at that
// confidence level; see DESIGN.md Open Question 3 for the analogous
// DP epsilon-bound choice.
const noiseConstant = 8.0

// DefaultParams returns the standard parameter set for a security
// level: n_lwe=1024 for 128-bit, n_lwe=2048 for 192-bit, both with
// q=2^32, t=2^16, mu=3.19.
func DefaultParams(level SecurityLevel) (Params, error) {
	p := Params{Q: 1 << 32, T: 1 << 16, Mu: 3.19, SecurityLevel: level}
	switch level {
	case Security128:
		p.NLWE = 1024
	case Security192:
		p.NLWE = 2048
	default:
		return Params{}, fmt.Errorf("n2he: unsupported security level %d", level)
	}
	return p, p.Validate()
}

// WithMu returns a copy of p with a different Skellam parameter,
// validating it against the accepted range.
func (p Params) WithMu(mu float64) (Params, error) {
	p.Mu = mu
	return p, p.Validate()
}

// Validate rejects parameter combinations the cipher refuses to run
// with.
func (p Params) Validate() error {
	if p.Mu < 1.0 || p.Mu > 10.0 {
		return fmt.Errorf("n2he: skellam mu %.4f outside accepted range [1.0,10.0]: %w", p.Mu, sfuperrors.ErrEnvelopeInvalid)
	}
	if p.NLWE <= 0 {
		return fmt.Errorf("n2he: n_lwe must be positive, got %d", p.NLWE)
	}
	if p.Q == 0 || p.Q&(p.Q-1) != 0 {
		return fmt.Errorf("n2he: q must be a power of two, got %d", p.Q)
	}
	if p.T == 0 || uint64(p.T) >= p.Q {
		return fmt.Errorf("n2he: t must be positive and smaller than q, got t=%d q=%d", p.T, p.Q)
	}
	return nil
}

// Equal reports whether p and other are the same parameter set. Used
// by key rotation to refuse a new key whose dimensions silently differ
// from the key it is replacing.
func (p Params) Equal(other Params) bool {
	return cmp.Equal(p, other)
}

// SlotBits returns log2(T), the width of one plaintext slot. quantize's
// PackBits/UnpackBits use this to size the groups of sub-width codes
// they fit into a single ciphertext message.
func (p Params) SlotBits() int {
	return bits.TrailingZeros32(p.T)
}

// MaxAdditions is the largest number of ciphertexts that may be
// homomorphically summed before decryption failure probability rises
// above ~2^-40.
func (p Params) MaxAdditions() uint64 {
	halfGap := float64(p.Q / (2 * uint64(p.T)))
	max := (halfGap * halfGap) / (noiseConstant * p.Mu)
	if max < 1 {
		return 1
	}
	return uint64(max)
}
