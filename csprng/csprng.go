// Package csprng provides the single seeded cryptographic randomness
// source used throughout the pipeline: LWE secret keys and public
// matrices, Skellam noise, and Rand-K index sampling all derive from
// named substreams of one process seed, so that identical seed + tag
// always reproduces identical randomness.
//
// A small output buffer is refilled by clocking an underlying keyed
// hash forward, and callers read out of that buffer rather than
// hashing per byte.
package csprng

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/hkdf"
)

// SeedSize is the byte length of a process seed.
const SeedSize = 32

// Generator owns the process-wide seed and mints independent,
// deterministic substreams by tag. A Generator has no mutable state
// beyond its seed, so it is safe to share across goroutines: each
// Substream call derives a fresh, independently-keyed Source.
type Generator struct {
	seed [SeedSize]byte
}

// NewGenerator seeds a Generator from the operating system's CSPRNG.
func NewGenerator() (*Generator, error) {
	var seed [SeedSize]byte
	if _, err := io.ReadFull(rand.Reader, seed[:]); err != nil {
		return nil, fmt.Errorf("csprng: failed to read process seed: %w", err)
	}
	return &Generator{seed: seed}, nil
}

// NewGeneratorFromSeed builds a Generator from an explicit seed. Used
// by tests and by deployments that need a recorded, auditable seed
// (e.g. reproducing a round's exact index selection during an
// evidence investigation).
func NewGeneratorFromSeed(seed []byte) (*Generator, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("csprng: seed must be %d bytes, got %d", SeedSize, len(seed))
	}
	g := &Generator{}
	copy(g.seed[:], seed)
	return g, nil
}

// Substream derives a named, deterministic substream keyed by tag and
// an arbitrary number of binary components (e.g. worker_id, round,
// parameter_name). The same (seed, tag, keyParts...) always yields a
// byte-identical Source.
func (g *Generator) Substream(tag string, keyParts ...[]byte) (*Source, error) {
	info := serializeTag(tag, keyParts...)
	r := hkdf.New(sha256.New, g.seed[:], nil, info)
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("csprng: hkdf expansion for tag %q failed: %w", tag, err)
	}
	return newSource(key), nil
}

// serializeTag produces an unambiguous length-prefixed encoding of the
// tag and key parts so that e.g. tag="a",parts=["bc"] never collides
// with tag="ab",parts=["c"].
func serializeTag(tag string, keyParts ...[]byte) []byte {
	buf := make([]byte, 0, len(tag)+8+32*len(keyParts))
	buf = appendLenPrefixed(buf, []byte(tag))
	for _, p := range keyParts {
		buf = appendLenPrefixed(buf, p)
	}
	return buf
}

func appendLenPrefixed(buf, p []byte) []byte {
	var lenBytes [8]byte
	binary.BigEndian.PutUint64(lenBytes[:], uint64(len(p)))
	buf = append(buf, lenBytes[:]...)
	buf = append(buf, p...)
	return buf
}

// Source is a single deterministic substream of random bytes. It is
// NOT safe for concurrent use. Each consumer derives its own Source
// (one per worker, round and parameter for Rand-K, one per slot for
// encryption), since substreams are independent by construction.
type Source struct {
	key     []byte
	counter uint64
	buf     []byte
	pos     int
}

func newSource(key []byte) *Source {
	return &Source{key: key, buf: make([]byte, 0, blake2b.Size)}
}

// refill clocks the underlying keyed hash forward by one block.
func (s *Source) refill() {
	h, err := blake2b.New512(s.key)
	if err != nil {
		// A 32-byte key is always valid for blake2b's keyed mode;
		// this can only fail on programmer error.
		panic(fmt.Errorf("csprng: blake2b keyed init: %w", err))
	}
	var ctr [8]byte
	binary.BigEndian.PutUint64(ctr[:], s.counter)
	h.Write(ctr[:])
	s.buf = h.Sum(s.buf[:0])
	s.pos = 0
	s.counter++
}

// Read implements io.Reader by draining the refill buffer, matching
// ring.CRPGenerator.Clock's "refill when exhausted" loop.
func (s *Source) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		if s.pos == len(s.buf) {
			s.refill()
		}
		c := copy(p[n:], s.buf[s.pos:])
		n += c
		s.pos += c
	}
	return n, nil
}

// Uint32 returns a uniformly distributed uint32 from the stream.
func (s *Source) Uint32() uint32 {
	var b [4]byte
	_, _ = s.Read(b[:])
	return binary.BigEndian.Uint32(b[:])
}

// Uint64 returns a uniformly distributed uint64 from the stream.
func (s *Source) Uint64() uint64 {
	var b [8]byte
	_, _ = s.Read(b[:])
	return binary.BigEndian.Uint64(b[:])
}

// UniformMod returns a value uniformly distributed in [0, n) using
// rejection sampling against the smallest power-of-two mask covering
// n, avoiding the modulo bias of a plain "% n".
func (s *Source) UniformMod(n uint64) uint64 {
	if n == 0 {
		panic("csprng: UniformMod(0)")
	}
	if n&(n-1) == 0 {
		// Fast path for power-of-two moduli (e.g. q = 2^32).
		return s.Uint64() & (n - 1)
	}
	mask := uint64(1)<<uint(bitLen(n)) - 1
	for {
		v := s.Uint64() & mask
		if v < n {
			return v
		}
	}
}

// Float64 returns a value uniformly distributed in [0, 1).
func (s *Source) Float64() float64 {
	// 53 bits of mantissa precision, matching math/rand's convention.
	return float64(s.Uint64()>>11) / (1 << 53)
}

func bitLen(n uint64) int {
	b := 0
	for n > 0 {
		b++
		n >>= 1
	}
	return b
}
