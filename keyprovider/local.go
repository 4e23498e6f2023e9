package keyprovider

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/sfup/sfup/csprng"
	"github.com/sfup/sfup/evidence"
	"github.com/sfup/sfup/n2he"
	"github.com/sfup/sfup/sfuperrors"
	"golang.org/x/crypto/chacha20poly1305"
)

// cborSecretKey is the CBOR-serializable shadow of n2he.SecretKey; kept
// separate from that type so n2he never needs to carry CBOR struct
// tags for a concern that belongs entirely to storage.
type cborSecretKey struct {
	KeyID string  `cbor:"key_id"`
	S     []int32 `cbor:"s"`
}

// LocalFileProvider stores key material on disk as an AEAD-encrypted,
// CBOR-framed blob, with a plaintext JSON metadata sidecar so lifecycle
// state can be inspected (and the evidence log cross-referenced)
// without the master key.
type LocalFileProvider struct {
	mu      sync.Mutex
	dir     string
	aead    cipher.AEAD
	gen     *csprng.Generator
	log     *evidence.Log
	records map[string]*KeyRecord
}

// NewLocalFileProvider opens dir (creating it if necessary), wraps
// masterKey in a ChaCha20-Poly1305 AEAD, and loads any metadata
// sidecars already present so a restarted process recovers its key
// inventory. log may be nil to run without evidence emission (tests).
func NewLocalFileProvider(dir string, masterKey [32]byte, gen *csprng.Generator, log *evidence.Log) (*LocalFileProvider, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("keyprovider: create key directory: %w", err)
	}
	aead, err := chacha20poly1305.New(masterKey[:])
	if err != nil {
		return nil, fmt.Errorf("keyprovider: init aead: %w", err)
	}
	p := &LocalFileProvider{dir: dir, aead: aead, gen: gen, log: log, records: make(map[string]*KeyRecord)}
	if err := p.loadSidecars(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *LocalFileProvider) loadSidecars() error {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return fmt.Errorf("keyprovider: list key directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".meta.json") {
			continue
		}
		path := filepath.Join(p.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("keyprovider: read sidecar %s: %w", path, err)
		}
		var rec KeyRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			continue // not a sidecar we recognize
		}
		if rec.KeyID != "" {
			p.records[rec.KeyID] = &rec
		}
	}
	return nil
}

func (p *LocalFileProvider) sidecarPath(keyID string) string { return filepath.Join(p.dir, keyID+".meta.json") }
func (p *LocalFileProvider) blobPath(keyID string) string    { return filepath.Join(p.dir, keyID+".key") }

func (p *LocalFileProvider) writeSidecar(rec *KeyRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("keyprovider: marshal sidecar: %w", err)
	}
	return os.WriteFile(p.sidecarPath(rec.KeyID), data, 0o600)
}

func (p *LocalFileProvider) emit(eventType, keyID string, round uint64, timestampMs int64) {
	if p.log == nil {
		return
	}
	_, _ = p.log.Append(eventType, round, "", timestampMs, map[string]string{"key_id": keyID})
}

// Generate derives a fresh secret key deterministically from the
// provider's CSPRNG generator, seals it with the AEAD, and writes both
// the encrypted blob and the plaintext metadata sidecar.
func (p *LocalFileProvider) Generate(keyID string, params n2he.Params, timestampMs int64) (*KeyRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.records[keyID]; exists {
		return nil, fmt.Errorf("keyprovider: key %q already registered", keyID)
	}

	sk, err := n2he.GenerateSecretKey(p.gen, keyID, params)
	if err != nil {
		return nil, fmt.Errorf("keyprovider: generate secret key: %w", err)
	}

	plaintext, err := cbor.Marshal(cborSecretKey{KeyID: sk.KeyID, S: sk.S})
	if err != nil {
		return nil, fmt.Errorf("keyprovider: cbor-marshal secret key: %w", err)
	}

	nonce := make([]byte, p.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("keyprovider: generate nonce: %w", err)
	}
	sealed := p.aead.Seal(nonce, nonce, plaintext, []byte(keyID))

	if err := os.WriteFile(p.blobPath(keyID), sealed, 0o600); err != nil {
		return nil, fmt.Errorf("keyprovider: write key blob: %w", err)
	}

	rec := &KeyRecord{KeyID: keyID, State: StateRegistered, CreatedAtMs: timestampMs, Params: params}
	if err := p.writeSidecar(rec); err != nil {
		return nil, err
	}
	p.records[keyID] = rec
	p.emit("key_registered", keyID, 0, timestampMs)
	return rec, nil
}

// Activate transitions a REGISTERED key to ACTIVE.
func (p *LocalFileProvider) Activate(keyID string, timestampMs int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.records[keyID]
	if !ok {
		return fmt.Errorf("keyprovider: key %q not found", keyID)
	}
	if err := checkTransition(rec.State, StateActive); err != nil {
		return err
	}
	rec.State = StateActive
	rec.ActivatedAtMs = timestampMs
	if err := p.writeSidecar(rec); err != nil {
		return err
	}
	p.emit("key_activated", keyID, 0, timestampMs)
	return nil
}

// Rotate activates newKeyID and expires oldKeyID as one logical
// operation, so a reader of the evidence log sees both transitions
// attributed to the same rotation rather than two unrelated events.
func (p *LocalFileProvider) Rotate(oldKeyID, newKeyID string, timestampMs int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	newRec, ok := p.records[newKeyID]
	if !ok {
		return fmt.Errorf("keyprovider: new key %q not found", newKeyID)
	}
	if err := checkTransition(newRec.State, StateActive); err != nil {
		return fmt.Errorf("keyprovider: activating new key during rotation: %w", err)
	}
	oldRec, ok := p.records[oldKeyID]
	if !ok {
		return fmt.Errorf("keyprovider: old key %q not found", oldKeyID)
	}
	if err := checkTransition(oldRec.State, StateExpired); err != nil {
		return fmt.Errorf("keyprovider: expiring old key during rotation: %w", err)
	}
	if !newRec.Params.Equal(oldRec.Params) {
		return fmt.Errorf("keyprovider: rotation %s -> %s changes cipher parameters, want same params across a rotation", oldKeyID, newKeyID)
	}

	newRec.State = StateActive
	newRec.ActivatedAtMs = timestampMs
	oldRec.State = StateExpired
	oldRec.ExpiresAtMs = timestampMs

	if err := p.writeSidecar(newRec); err != nil {
		return err
	}
	if err := p.writeSidecar(oldRec); err != nil {
		return err
	}
	p.emit("key_rotated", newKeyID, 0, timestampMs)
	return nil
}

// Revoke transitions a key to REVOKED from any non-terminal state.
func (p *LocalFileProvider) Revoke(keyID string, timestampMs int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.records[keyID]
	if !ok {
		return fmt.Errorf("keyprovider: key %q not found", keyID)
	}
	if err := checkTransition(rec.State, StateRevoked); err != nil {
		return err
	}
	rec.State = StateRevoked
	if err := p.writeSidecar(rec); err != nil {
		return err
	}
	p.emit("key_revoked", keyID, 0, timestampMs)
	return nil
}

// Lookup returns the current metadata for keyID.
func (p *LocalFileProvider) Lookup(keyID string) (*KeyRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.records[keyID]
	if !ok {
		return nil, fmt.Errorf("keyprovider: key %q not found", keyID)
	}
	cp := *rec
	return &cp, nil
}

// SecretKeyFor decrypts and returns the secret key for keyID, refusing
// with ErrKeyNotActive unless the key is currently ACTIVE.
func (p *LocalFileProvider) SecretKeyFor(keyID string) (*n2he.SecretKey, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.records[keyID]
	if !ok {
		return nil, fmt.Errorf("keyprovider: key %q not found", keyID)
	}
	if rec.State != StateActive {
		return nil, fmt.Errorf("keyprovider: key %q is %s, not ACTIVE: %w", keyID, rec.State, sfuperrors.ErrKeyNotActive)
	}

	sealed, err := os.ReadFile(p.blobPath(keyID))
	if err != nil {
		return nil, fmt.Errorf("keyprovider: read key blob: %w", err)
	}
	nonceSize := p.aead.NonceSize()
	if len(sealed) < nonceSize {
		return nil, fmt.Errorf("keyprovider: key blob for %q is truncated", keyID)
	}
	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := p.aead.Open(nil, nonce, ciphertext, []byte(keyID))
	if err != nil {
		return nil, fmt.Errorf("keyprovider: decrypt key blob for %q: %w", keyID, err)
	}

	var csk cborSecretKey
	if err := cbor.Unmarshal(plaintext, &csk); err != nil {
		return nil, fmt.Errorf("keyprovider: cbor-unmarshal secret key: %w", err)
	}
	return &n2he.SecretKey{KeyID: csk.KeyID, S: csk.S}, nil
}
