package n2he

import "fmt"

// Ciphertext is a single LWE sample (A, b) encoding one integer
// message in [0, t). NumAdds tracks how many original fresh
// encryptions have been homomorphically summed into this value, which
// is what NoiseBudget below is measured against. A fresh ciphertext
// straight out of Encrypt always has NumAdds == 1.
type Ciphertext struct {
	A       []uint32
	B       uint32
	NumAdds uint64
}

// NoiseBudget returns the number of further additions this ciphertext
// can absorb before the scheme's 2^-40 decryption-failure bound no
// longer holds.
func (c Ciphertext) NoiseBudget(p Params) uint64 {
	max := p.MaxAdditions()
	if c.NumAdds >= max {
		return 0
	}
	return max - c.NumAdds
}

// Add combines two ciphertexts into their homomorphic sum. Addition is
// exactly associative and commutative mod q (plain uint32 wraparound
// since q=2^32), so the aggregator's parallel, order-independent
// reduction over ciphertext slots  is always correct.
func Add(p Params, a, b Ciphertext) (Ciphertext, error) {
	if len(a.A) != len(b.A) {
		return Ciphertext{}, fmt.Errorf("n2he: cannot add ciphertexts of differing LWE dimension (%d vs %d)", len(a.A), len(b.A))
	}
	sum := Ciphertext{A: make([]uint32, len(a.A)), NumAdds: a.NumAdds + b.NumAdds}
	for i := range a.A {
		sum.A[i] = a.A[i] + b.A[i] // mod 2^32 via wraparound
	}
	sum.B = a.B + b.B
	return sum, nil
}

// ScalarMul scales a ciphertext by a small non-negative integer: both
// A and b are scaled mod q, which decrypts to k*m since the decryption
// linear form diff = b - <A,s> scales by k along with its operands.
// The aggregator uses this to realize non-uniform worker weighting
// directly on ciphertexts (weight worker i by w_i before summing)
// rather than by averaging decode-time metadata after the fact.
func ScalarMul(p Params, ct Ciphertext, k uint64) Ciphertext {
	out := Ciphertext{A: make([]uint32, len(ct.A)), NumAdds: ct.NumAdds * k}
	for i, a := range ct.A {
		out.A[i] = a * uint32(k)
	}
	out.B = ct.B * uint32(k)
	return out
}

// SumSlots reduces a slice of ciphertexts for the same slot into one,
// reporting the noise budget consumed so the aggregator can refuse a
// round whose reconstruction would fall outside the 2^-40 bound.
func SumSlots(p Params, cts []Ciphertext) (Ciphertext, error) {
	if len(cts) == 0 {
		return Ciphertext{}, fmt.Errorf("n2he: SumSlots called with no ciphertexts")
	}
	acc := cts[0]
	for _, c := range cts[1:] {
		var err error
		acc, err = Add(p, acc, c)
		if err != nil {
			return Ciphertext{}, err
		}
	}
	return acc, nil
}
