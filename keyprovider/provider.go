package keyprovider

import "github.com/sfup/sfup/n2he"

// KeyProvider is the capability interface the aggregator and pipeline
// depend on; both back-ends in this package implement it, and a
// deployment may supply a third implementation of its own without
// either caller needing to change.
type KeyProvider interface {
	// Generate creates and registers a new key under keyID in state
	// REGISTERED.
	Generate(keyID string, params n2he.Params, timestampMs int64) (*KeyRecord, error)
	// Activate transitions a REGISTERED key to ACTIVE.
	Activate(keyID string, timestampMs int64) error
	// Rotate activates newKeyID (which must already be REGISTERED via
	// Generate) and expires oldKeyID in one recorded operation.
	Rotate(oldKeyID, newKeyID string, timestampMs int64) error
	// Revoke transitions a key to REVOKED from any non-terminal state.
	Revoke(keyID string, timestampMs int64) error
	// Lookup returns the current metadata for keyID.
	Lookup(keyID string) (*KeyRecord, error)
}
