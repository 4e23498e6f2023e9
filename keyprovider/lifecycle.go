// Package keyprovider manages LWE key material lifecycle: registration,
// activation, rotation, and revocation, each transition recorded to an
// evidence log. Two back-ends are provided:
// a local file store with AEAD-encrypted key blobs, and a thin
// external-KMS adapter that treats the key material as an opaque
// handle it never sees in cleartext.
package keyprovider

import (
	"fmt"

	"github.com/sfup/sfup/n2he"
	"github.com/sfup/sfup/sfuperrors"
)

// State is a key's position in its lifecycle.
type State string

const (
	StateRegistered State = "REGISTERED"
	StateActive     State = "ACTIVE"
	StateExpired    State = "EXPIRED"
	StateRevoked    State = "REVOKED"
)

// validTransitions enumerates every lifecycle edge this package
// permits. REGISTERED and ACTIVE can both end in REVOKED (an operator
// can revoke a key before it is ever activated); only ACTIVE can reach
// EXPIRED, and both EXPIRED and REVOKED are terminal.
var validTransitions = map[State][]State{
	StateRegistered: {StateActive, StateRevoked},
	StateActive:     {StateExpired, StateRevoked},
	StateExpired:    {},
	StateRevoked:    {},
}

// checkTransition refuses any edge not named in validTransitions.
func checkTransition(from, to State) error {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("keyprovider: %s -> %s is not a valid lifecycle transition: %w", from, to, sfuperrors.ErrKeyNotActive)
}

// KeyRecord is the metadata kept for one managed key; it carries no
// key material. LocalFileProvider returns the cleartext secret key
// separately through SecretKeyFor; KMSProvider has no such method and
// holds no key material locally.
type KeyRecord struct {
	KeyID         string
	State         State
	CreatedAtMs   int64
	ActivatedAtMs int64
	ExpiresAtMs   int64
	Params        n2he.Params
}
