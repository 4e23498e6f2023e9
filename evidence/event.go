// Package evidence implements the append-only, hash-chained audit log
// required for every state transition the aggregator and key provider
// make. Each event's hash commits to its own contents and to the
// previous event's chain hash, so any tamper or reordering of the
// on-disk log is detectable by VerifyChain without needing a separate
// signature per event.
package evidence

import (
	"encoding/json"

	"github.com/zeebo/blake3"
)

// Event is one immutable entry in the chain. EventHash commits to
// every field except itself and ChainHash; ChainHash folds EventHash
// together with the previous event's ChainHash, making the log a
// Merkle-style hash chain.
type Event struct {
	Sequence    uint64          `json:"sequence"`
	EventType   string          `json:"event_type"`
	TimestampMs int64           `json:"timestamp_ms"`
	Round       uint64          `json:"round"`
	WorkerID    string          `json:"worker_id,omitempty"`
	Payload     json.RawMessage `json:"payload"`
	PrevHash    [32]byte        `json:"prev_hash"`
	EventHash   [32]byte        `json:"event_hash"`
	ChainHash   [32]byte        `json:"chain_hash"`
}

// genesisHash is the fixed prev_hash for the first event in a chain.
var genesisHash [32]byte

// computeEventHash hashes every field that precedes EventHash in the
// wire order, using a length-framed encoding so two events with
// concatenation-ambiguous fields (e.g. an empty worker_id vs. a
// worker_id that is a prefix of the payload) never collide.
func computeEventHash(seq uint64, eventType string, timestampMs int64, round uint64, workerID string, payload json.RawMessage, prevHash [32]byte) [32]byte {
	h := blake3.New()
	writeFramed := func(b []byte) {
		var lenBuf [8]byte
		for i := 0; i < 8; i++ {
			lenBuf[i] = byte(len(b) >> uint(56-8*i))
		}
		h.Write(lenBuf[:])
		h.Write(b)
	}

	var seqBuf, roundBuf, tsBuf [8]byte
	for i := 0; i < 8; i++ {
		seqBuf[i] = byte(seq >> uint(56-8*i))
		roundBuf[i] = byte(round >> uint(56-8*i))
		tsBuf[i] = byte(uint64(timestampMs) >> uint(56-8*i))
	}
	h.Write(seqBuf[:])
	writeFramed([]byte(eventType))
	h.Write(tsBuf[:])
	h.Write(roundBuf[:])
	writeFramed([]byte(workerID))
	writeFramed(payload)
	h.Write(prevHash[:])

	var out [32]byte
	sum := h.Sum(nil)
	copy(out[:], sum)
	return out
}

// computeChainHash folds an event's own hash into the running chain.
func computeChainHash(prevChainHash, eventHash [32]byte) [32]byte {
	h := blake3.New()
	h.Write(prevChainHash[:])
	h.Write(eventHash[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
