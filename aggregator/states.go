// Package aggregator implements the server-side round state machine:
// collect packages from workers under backpressure, reject statistical
// outliers, homomorphically sum surviving ciphertexts, decrypt once per
// round, reconstruct the dense gradient with per-element contributor
// weighting, and run the evaluation gate.
package aggregator

import "fmt"

// State is a round's position in the COLLECTING -> ... -> PUBLISHED
// pipeline. FAILED is reachable from every non-terminal state.
type State string

const (
	StateCollecting    State = "COLLECTING"
	StateQuorumReached State = "QUORUM_REACHED"
	StateFiltered      State = "FILTERED"
	StateSummed        State = "SUMMED"
	StateDecrypted     State = "DECRYPTED"
	StateGated         State = "GATED"
	StatePublished     State = "PUBLISHED"
	StateFailed        State = "FAILED"
)

// order gives each non-terminal state its expected successor. It is a
// reference table only: requireState and setState do not consult it.
var order = map[State]State{
	StateCollecting:    StateQuorumReached,
	StateQuorumReached: StateFiltered,
	StateFiltered:      StateSummed,
	StateSummed:        StateDecrypted,
	StateDecrypted:     StateGated,
	StateGated:         StatePublished,
}

func requireState(current, want State) error {
	if current != want {
		return fmt.Errorf("aggregator: expected state %s, round is in %s", want, current)
	}
	return nil
}
