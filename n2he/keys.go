package n2he

import (
	"fmt"

	"github.com/sfup/sfup/csprng"
)

// SecretKey is the shared LWE secret vector s, small-norm integers in
// {-1,0,1} drawn uniformly.
type SecretKey struct {
	KeyID string
	S     []int32
}

// GenerateSecretKey derives a secret key deterministically from the
// generator's "n2he-secret-key" substream keyed by keyID, so that key
// material never depends on any mutable global random state.
func GenerateSecretKey(gen *csprng.Generator, keyID string, params Params) (*SecretKey, error) {
	src, err := gen.Substream("n2he-secret-key", []byte(keyID))
	if err != nil {
		return nil, fmt.Errorf("n2he: deriving secret-key substream for %q: %w", keyID, err)
	}
	s := make([]int32, params.NLWE)
	for i := range s {
		s[i] = int32(src.UniformMod(3)) - 1
	}
	return &SecretKey{KeyID: keyID, S: s}, nil
}
