package updatepkg

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/sfup/sfup/n2he"
	"github.com/sfup/sfup/sfuperrors"
)

// Seal serializes pkg into the wire format: magic, format_version,
// length-prefixed header JSON, length-prefixed
// manifest JSON, the ciphertext payload, a SHA-256 content hash over
// everything preceding it, and finally a signature over that hash. The
// Package's ContentHash and Signature fields are overwritten with the
// values actually written, so the caller can discard them beforehand.
func Seal(pkg *Package, signer Signer) ([]byte, error) {
	pkg.Header.SigAlg = signer.SigAlg()

	headerJSON, err := json.Marshal(pkg.Header)
	if err != nil {
		return nil, fmt.Errorf("updatepkg: marshal header: %w", err)
	}
	manifestJSON, err := json.Marshal(pkg.Manifest)
	if err != nil {
		return nil, fmt.Errorf("updatepkg: marshal manifest: %w", err)
	}

	var buf bytes.Buffer
	buf.Write(Magic[:])
	buf.WriteByte(FormatVersion)

	writeUint32 := func(v uint32) { var b [4]byte; binary.BigEndian.PutUint32(b[:], v); buf.Write(b[:]) }
	writeUint64 := func(v uint64) { var b [8]byte; binary.BigEndian.PutUint64(b[:], v); buf.Write(b[:]) }

	writeUint32(uint32(len(headerJSON)))
	buf.Write(headerJSON)
	writeUint32(uint32(len(manifestJSON)))
	buf.Write(manifestJSON)

	nLWE := 0
	if len(pkg.Payload) > 0 {
		nLWE = len(pkg.Payload[0].A)
	}
	// payload_len is a byte count, not a ciphertext count: the wire
	// format carries only raw (A: [u32; n_lwe], b: u32) pairs, so a
	// reader recovers the ciphertext count as payload_len/(4*(n_lwe+1))
	// given n_lwe out of band (the deployment's fixed LWE dimension).
	// NumAdds never crosses the wire: every sealed payload is a fresh
	// per-worker encryption with NumAdds == 1, never an already-summed
	// aggregator-side ciphertext, so Parse can hardcode it back.
	writeUint64(uint64(len(pkg.Payload)) * uint64(4*(nLWE+1)))
	for i, ct := range pkg.Payload {
		if len(ct.A) != nLWE {
			return nil, fmt.Errorf("updatepkg: ciphertext %d has LWE dimension %d, want %d", i, len(ct.A), nLWE)
		}
		for _, a := range ct.A {
			writeUint32(a)
		}
		writeUint32(ct.B)
	}

	hash := sha256.Sum256(buf.Bytes())
	pkg.ContentHash = hash
	buf.Write(hash[:])

	sig, err := signer.Sign(hash)
	if err != nil {
		return nil, fmt.Errorf("updatepkg: sign: %w", err)
	}
	pkg.Signature = sig

	if len(sig) > 0xFFFF {
		return nil, fmt.Errorf("updatepkg: signature of %d bytes exceeds 16-bit length field", len(sig))
	}
	var sigLen [2]byte
	binary.BigEndian.PutUint16(sigLen[:], uint16(len(sig)))
	buf.Write(sigLen[:])
	buf.Write(sig)

	return buf.Bytes(), nil
}

// Parse reverses Seal, checking the magic, format version, and content
// hash before returning a Package. nLWE is the deployment's fixed LWE
// dimension; it is not carried on the wire (the payload only holds raw
// (A,b) pairs), so the caller supplies the value it already knows from
// its own n2he.Params.
func Parse(data []byte, nLWE int) (*Package, error) {
	r := &reader{buf: data}

	magic, err := r.take(6)
	if err != nil {
		return nil, fmt.Errorf("updatepkg: %w: %v", sfuperrors.ErrMalformedPackage, err)
	}
	if !bytes.Equal(magic, Magic[:]) {
		return nil, fmt.Errorf("updatepkg: bad magic: %w", sfuperrors.ErrMalformedPackage)
	}
	version, err := r.byte()
	if err != nil {
		return nil, fmt.Errorf("updatepkg: %w: %v", sfuperrors.ErrMalformedPackage, err)
	}
	if version != FormatVersion {
		return nil, fmt.Errorf("updatepkg: unsupported format version %d: %w", version, sfuperrors.ErrMalformedPackage)
	}

	headerJSON, err := r.takeLenPrefixed32()
	if err != nil {
		return nil, fmt.Errorf("updatepkg: header: %w", err)
	}
	manifestJSON, err := r.takeLenPrefixed32()
	if err != nil {
		return nil, fmt.Errorf("updatepkg: manifest: %w", err)
	}

	payloadLen, err := r.uint64()
	if err != nil {
		return nil, fmt.Errorf("updatepkg: payload_len: %w", err)
	}

	ctSize := uint64(4 * (nLWE + 1))
	var numCts uint64
	if payloadLen > 0 {
		if ctSize == 0 || payloadLen%ctSize != 0 {
			return nil, fmt.Errorf("updatepkg: payload_len %d not a multiple of ciphertext size %d: %w", payloadLen, ctSize, sfuperrors.ErrMalformedPackage)
		}
		numCts = payloadLen / ctSize
	}

	payload := make([]n2he.Ciphertext, numCts)
	for i := range payload {
		a := make([]uint32, nLWE)
		for j := range a {
			v, err := r.uint32()
			if err != nil {
				return nil, fmt.Errorf("updatepkg: ciphertext %d slot %d: %w", i, j, err)
			}
			a[j] = v
		}
		b, err := r.uint32()
		if err != nil {
			return nil, fmt.Errorf("updatepkg: ciphertext %d b: %w", i, err)
		}
		payload[i] = n2he.Ciphertext{A: a, B: b, NumAdds: 1}
	}

	preHash := data[:len(data)-len(r.buf)]
	expectedHash := sha256.Sum256(preHash)

	hashBytes, err := r.take(32)
	if err != nil {
		return nil, fmt.Errorf("updatepkg: content hash: %w", err)
	}
	var contentHash [32]byte
	copy(contentHash[:], hashBytes)
	if contentHash != expectedHash {
		return nil, fmt.Errorf("updatepkg: %w", sfuperrors.ErrHashMismatch)
	}

	sigLen, err := r.uint16()
	if err != nil {
		return nil, fmt.Errorf("updatepkg: signature length: %w", err)
	}
	sig, err := r.take(int(sigLen))
	if err != nil {
		return nil, fmt.Errorf("updatepkg: signature: %w", err)
	}

	var header Header
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, fmt.Errorf("updatepkg: unmarshal header: %w", err)
	}
	var manifest Manifest
	if err := json.Unmarshal(manifestJSON, &manifest); err != nil {
		return nil, fmt.Errorf("updatepkg: unmarshal manifest: %w", err)
	}

	return &Package{
		Header:      header,
		Manifest:    manifest,
		Payload:     payload,
		ContentHash: contentHash,
		Signature:   append([]byte(nil), sig...),
	}, nil
}

// VerifySignature checks pkg's stored signature against v, intended
// to be called by the aggregator right after Parse and before any
// key-lifecycle or quorum check runs.
func VerifySignature(pkg *Package, v Verifier) bool {
	return v.Verify(pkg.ContentHash, pkg.Signature)
}

// reader is a small cursor over a byte slice shared by Parse's fields;
// it exists only to keep Parse's body free of repeated bounds checks.
type reader struct {
	buf []byte
}

func (r *reader) take(n int) ([]byte, error) {
	if len(r.buf) < n {
		return nil, fmt.Errorf("unexpected end of data, want %d bytes, have %d", n, len(r.buf))
	}
	out := r.buf[:n]
	r.buf = r.buf[n:]
	return out, nil
}

func (r *reader) byte() (byte, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) uint16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *reader) uint32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *reader) uint64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (r *reader) takeLenPrefixed32() ([]byte, error) {
	n, err := r.uint32()
	if err != nil {
		return nil, err
	}
	return r.take(int(n))
}
