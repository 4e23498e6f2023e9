package keyprovider

import (
	"fmt"

	"github.com/sfup/sfup/evidence"
	"github.com/sfup/sfup/n2he"
)

// KMSClient is the minimal surface an external key-management system
// must expose; handles are opaque strings the KMS assigns, never key
// material this process can read. A deployment wires in its provider's
// SDK behind this interface; this package ships no concrete KMS client.
type KMSClient interface {
	CreateKey(keyID string, nLWE int) (handle string, err error)
	ActivateKey(handle string) error
	DisableKey(handle string) error
}

// KMSProvider adapts a KMSClient to the KeyProvider interface. It
// keeps no cleartext key material locally at all. SecretKeyFor is
// intentionally absent, since decryption under a KMS-backed key must
// happen inside the KMS's own API, not in this process.
type KMSProvider struct {
	client  KMSClient
	log     *evidence.Log
	records map[string]*KeyRecord
	handles map[string]string // keyID -> opaque KMS handle
}

// NewKMSProvider wraps client. log may be nil to run without evidence
// emission.
func NewKMSProvider(client KMSClient, log *evidence.Log) *KMSProvider {
	return &KMSProvider{client: client, log: log, records: make(map[string]*KeyRecord), handles: make(map[string]string)}
}

func (p *KMSProvider) emit(eventType, keyID string, timestampMs int64) {
	if p.log == nil {
		return
	}
	_, _ = p.log.Append(eventType, 0, "", timestampMs, map[string]string{"key_id": keyID})
}

func (p *KMSProvider) Generate(keyID string, params n2he.Params, timestampMs int64) (*KeyRecord, error) {
	if _, exists := p.records[keyID]; exists {
		return nil, fmt.Errorf("keyprovider: key %q already registered", keyID)
	}
	handle, err := p.client.CreateKey(keyID, params.NLWE)
	if err != nil {
		return nil, fmt.Errorf("keyprovider: kms create key: %w", err)
	}
	rec := &KeyRecord{KeyID: keyID, State: StateRegistered, CreatedAtMs: timestampMs, Params: params}
	p.records[keyID] = rec
	p.handles[keyID] = handle
	p.emit("key_registered", keyID, timestampMs)
	return rec, nil
}

func (p *KMSProvider) Activate(keyID string, timestampMs int64) error {
	rec, ok := p.records[keyID]
	if !ok {
		return fmt.Errorf("keyprovider: key %q not found", keyID)
	}
	if err := checkTransition(rec.State, StateActive); err != nil {
		return err
	}
	if err := p.client.ActivateKey(p.handles[keyID]); err != nil {
		return fmt.Errorf("keyprovider: kms activate key: %w", err)
	}
	rec.State = StateActive
	rec.ActivatedAtMs = timestampMs
	p.emit("key_activated", keyID, timestampMs)
	return nil
}

func (p *KMSProvider) Rotate(oldKeyID, newKeyID string, timestampMs int64) error {
	if err := p.Activate(newKeyID, timestampMs); err != nil {
		return fmt.Errorf("keyprovider: activating new key during rotation: %w", err)
	}
	oldRec, ok := p.records[oldKeyID]
	if !ok {
		return fmt.Errorf("keyprovider: old key %q not found", oldKeyID)
	}
	if err := checkTransition(oldRec.State, StateExpired); err != nil {
		return fmt.Errorf("keyprovider: expiring old key during rotation: %w", err)
	}
	newRec, ok := p.records[newKeyID]
	if !ok {
		return fmt.Errorf("keyprovider: new key %q not found", newKeyID)
	}
	if !newRec.Params.Equal(oldRec.Params) {
		return fmt.Errorf("keyprovider: rotation %s -> %s changes cipher parameters, want same params across a rotation", oldKeyID, newKeyID)
	}
	if err := p.client.DisableKey(p.handles[oldKeyID]); err != nil {
		return fmt.Errorf("keyprovider: kms disable key: %w", err)
	}
	oldRec.State = StateExpired
	oldRec.ExpiresAtMs = timestampMs
	p.emit("key_rotated", newKeyID, timestampMs)
	return nil
}

func (p *KMSProvider) Revoke(keyID string, timestampMs int64) error {
	rec, ok := p.records[keyID]
	if !ok {
		return fmt.Errorf("keyprovider: key %q not found", keyID)
	}
	if err := checkTransition(rec.State, StateRevoked); err != nil {
		return err
	}
	if err := p.client.DisableKey(p.handles[keyID]); err != nil {
		return fmt.Errorf("keyprovider: kms disable key: %w", err)
	}
	rec.State = StateRevoked
	p.emit("key_revoked", keyID, timestampMs)
	return nil
}

func (p *KMSProvider) Lookup(keyID string) (*KeyRecord, error) {
	rec, ok := p.records[keyID]
	if !ok {
		return nil, fmt.Errorf("keyprovider: key %q not found", keyID)
	}
	cp := *rec
	return &cp, nil
}
