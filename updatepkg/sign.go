package updatepkg

import (
	"crypto/ed25519"
	"fmt"
)

// Signer produces a signature over a content hash. The interface
// deliberately says nothing about the algorithm: production deployments
// treat the signature as a hybrid classical ∥ post-quantum construction
// supplied by an external capability, so callers outside this package
// may wrap a PQC signer and simply append its output to whatever
// Ed25519Signer below produces.
type Signer interface {
	Sign(contentHash [32]byte) ([]byte, error)
	SigAlg() string
}

// Verifier checks a signature produced by a Signer.
type Verifier interface {
	Verify(contentHash [32]byte, sig []byte) bool
}

// Ed25519Signer is the classical half of the hybrid signature scheme
// required in production; it is not itself post-quantum-secure and is
// meant to be composed with (not replace) a PQC signer supplied by the
// deployment.
type Ed25519Signer struct {
	priv ed25519.PrivateKey
}

// NewEd25519Signer wraps an existing private key.
func NewEd25519Signer(priv ed25519.PrivateKey) *Ed25519Signer {
	return &Ed25519Signer{priv: priv}
}

// GenerateEd25519Signer creates a fresh keypair, returning the signer
// and its public key for distribution to verifiers.
func GenerateEd25519Signer() (*Ed25519Signer, ed25519.PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, nil, fmt.Errorf("updatepkg: ed25519 key generation: %w", err)
	}
	return &Ed25519Signer{priv: priv}, pub, nil
}

func (s *Ed25519Signer) Sign(contentHash [32]byte) ([]byte, error) {
	return ed25519.Sign(s.priv, contentHash[:]), nil
}

func (s *Ed25519Signer) SigAlg() string { return "ed25519" }

// Ed25519Verifier checks signatures produced by an Ed25519Signer.
type Ed25519Verifier struct {
	pub ed25519.PublicKey
}

func NewEd25519Verifier(pub ed25519.PublicKey) *Ed25519Verifier {
	return &Ed25519Verifier{pub: pub}
}

func (v *Ed25519Verifier) Verify(contentHash [32]byte, sig []byte) bool {
	return ed25519.Verify(v.pub, contentHash[:], sig)
}
