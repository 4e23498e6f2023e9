package n2he

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/sfup/sfup/csprng"
	"github.com/sfup/sfup/sfuperrors"
)

// Cipher binds a parameter set, a secret key, and the process CSPRNG
// generator used to derive the per-slot public matrix A and Skellam
// noise. A is CSPRNG-derived from key_id ∥ round ∥ slot_index, so two
// workers encrypting the same round under the same key independently
// produce an identical A for a given slot without exchanging it.
type Cipher struct {
	params Params
	sk     *SecretKey
	gen    *csprng.Generator
}

// New constructs a Cipher, refusing an invalid parameter set (including
// an out-of-range Skellam parameter) and a secret key whose dimension
// does not match params.NLWE.
func New(params Params, sk *SecretKey, gen *csprng.Generator) (*Cipher, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if len(sk.S) != params.NLWE {
		return nil, fmt.Errorf("n2he: secret key dimension %d does not match params.NLWE %d", len(sk.S), params.NLWE)
	}
	return &Cipher{params: params, sk: sk, gen: gen}, nil
}

// Params returns the parameter set c was constructed with.
func (c *Cipher) Params() Params { return c.params }

func slotTag(round uint64, slot int) []byte {
	var b [16]byte
	binary.BigEndian.PutUint64(b[0:8], round)
	binary.BigEndian.PutUint64(b[8:16], uint64(slot))
	return b[:]
}

func (c *Cipher) matrixSource(round uint64, slot int) (*csprng.Source, error) {
	return c.gen.Substream("n2he-A", []byte(c.sk.KeyID), slotTag(round, slot))
}

func (c *Cipher) noiseSource(round uint64, slot int) (*csprng.Source, error) {
	return c.gen.Substream("n2he-noise", []byte(c.sk.KeyID), slotTag(round, slot))
}

// EncryptVector encrypts one slot per message, starting at startSlot,
// using c's key_id and the given round.
func (c *Cipher) EncryptVector(round uint64, startSlot int, messages []uint16) ([]Ciphertext, error) {
	out := make([]Ciphertext, len(messages))
	delta := uint32(c.params.Q / uint64(c.params.T))
	for i, m := range messages {
		if uint32(m) >= c.params.T {
			return nil, fmt.Errorf("n2he: message %d at slot %d exceeds plaintext modulus t=%d", m, startSlot+i, c.params.T)
		}
		slot := startSlot + i
		aSrc, err := c.matrixSource(round, slot)
		if err != nil {
			return nil, err
		}
		eSrc, err := c.noiseSource(round, slot)
		if err != nil {
			return nil, err
		}
		A := make([]uint32, c.params.NLWE)
		var dot uint32
		for j := range A {
			A[j] = aSrc.Uint32()
			dot += A[j] * uint32(c.sk.S[j])
		}
		e := eSrc.Skellam(c.params.Mu)
		b := dot + uint32(int64(e)) + delta*uint32(m)
		out[i] = Ciphertext{A: A, B: b, NumAdds: 1}
	}
	return out, nil
}

// DecryptVector is the inverse of EncryptVector, refusing with
// ErrNoiseBudgetExhausted when any ciphertext has absorbed more
// additions than the noise budget tolerates.
func (c *Cipher) DecryptVector(cts []Ciphertext) ([]uint16, error) {
	out := make([]uint16, len(cts))
	max := c.params.MaxAdditions()
	for i, ct := range cts {
		if ct.NumAdds > max {
			return nil, fmt.Errorf("n2he: slot %d absorbed %d additions, budget is %d: %w", i, ct.NumAdds, max, sfuperrors.ErrNoiseBudgetExhausted)
		}
		if len(ct.A) != len(c.sk.S) {
			return nil, fmt.Errorf("n2he: slot %d ciphertext dimension %d does not match key dimension %d", i, len(ct.A), len(c.sk.S))
		}
		var dot uint32
		for j, a := range ct.A {
			dot += a * uint32(c.sk.S[j])
		}
		diff := ct.B - dot // mod q via uint32 wraparound
		scaled := float64(diff) * float64(c.params.T) / float64(c.params.Q)
		m := uint32(math.Round(scaled)) % c.params.T
		out[i] = uint16(m)
	}
	return out, nil
}
