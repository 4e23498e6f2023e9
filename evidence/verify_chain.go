package evidence

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
)

// Mismatch describes one point where a stored hash-chained log
// diverges from what its own contents recompute to.
type Mismatch struct {
	Sequence     uint64
	Field        string // "event_hash", "prev_hash" or "chain_hash"
	ExpectedHash [32]byte
	ActualHash   [32]byte
}

// VerifyChain re-derives every event_hash and chain_hash in r in order
// and reports every sequence where the stored value does not match
// what its contents and the running chain predict. An empty result
// means the chain is intact end to end.
func VerifyChain(r io.Reader) ([]Mismatch, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var mismatches []Mismatch
	prevChainHash := genesisHash
	var wantSeq uint64

	for scanner.Scan() {
		var ev Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			return nil, fmt.Errorf("evidence: decode event at expected sequence %d: %w", wantSeq, err)
		}

		expectedEventHash := computeEventHash(ev.Sequence, ev.EventType, ev.TimestampMs, ev.Round, ev.WorkerID, ev.Payload, ev.PrevHash)
		if expectedEventHash != ev.EventHash {
			mismatches = append(mismatches, Mismatch{Sequence: ev.Sequence, Field: "event_hash", ExpectedHash: expectedEventHash, ActualHash: ev.EventHash})
		}
		if ev.PrevHash != prevChainHash {
			mismatches = append(mismatches, Mismatch{Sequence: ev.Sequence, Field: "prev_hash", ExpectedHash: prevChainHash, ActualHash: ev.PrevHash})
		}
		expectedChainHash := computeChainHash(prevChainHash, ev.EventHash)
		if expectedChainHash != ev.ChainHash {
			mismatches = append(mismatches, Mismatch{Sequence: ev.Sequence, Field: "chain_hash", ExpectedHash: expectedChainHash, ActualHash: ev.ChainHash})
		}

		prevChainHash = ev.ChainHash
		wantSeq++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("evidence: scan: %w", err)
	}
	return mismatches, nil
}
