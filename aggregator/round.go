package aggregator

import (
	"fmt"
	"sync"

	"github.com/sfup/sfup/sfuperrors"
	"github.com/sfup/sfup/updatepkg"
)

// WorkerSubmission pairs a parsed package with the worker that sent
// it, kept separately from updatepkg.Header.WorkerID so the aggregator
// never trusts a value from inside the package body as the identity
// it was received under (the transport layer is expected to bind
// workerID from its own authenticated channel).
type WorkerSubmission struct {
	WorkerID string
	Package  *updatepkg.Package
}

// Round holds one round's received packages and its position in the
// state machine. A Round is created COLLECTING and is only ever
// advanced forward; once it reaches PUBLISHED or FAILED it is
// immutable.
type Round struct {
	mu sync.Mutex

	number          uint64
	state           State
	quorumThreshold int
	backlogCap      int

	packages map[string]*updatepkg.Package
	rejected map[string]string // workerID -> rejection reason, for evidence
}

// NewRound starts a fresh COLLECTING round.
func NewRound(number uint64, quorumThreshold, backlogCap int) *Round {
	return &Round{
		number:          number,
		state:           StateCollecting,
		quorumThreshold: quorumThreshold,
		backlogCap:      backlogCap,
		packages:        make(map[string]*updatepkg.Package),
		rejected:        make(map[string]string),
	}
}

// State reports the round's current state.
func (r *Round) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// HasActiveRound implements envelope.ActiveRoundChecker: true whenever
// the round has not reached a terminal state.
func (r *Round) HasActiveRound() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state != StatePublished && r.state != StateFailed
}

// Submit enqueues one worker's package, refusing a duplicate submitter
// in the same round and enforcing the bounded backlog. It transitions
// COLLECTING -> QUORUM_REACHED the moment enough distinct workers have
// submitted.
func (r *Round) Submit(sub WorkerSubmission) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateCollecting {
		return fmt.Errorf("aggregator: round %d is %s, no longer accepting submissions", r.number, r.state)
	}
	if _, ok := r.packages[sub.WorkerID]; ok {
		return fmt.Errorf("aggregator: round %d: worker %s: %w", r.number, sub.WorkerID, sfuperrors.ErrDuplicateWorker)
	}
	if len(r.packages) >= r.backlogCap {
		return fmt.Errorf("aggregator: round %d: %w", r.number, sfuperrors.ErrBackpressure)
	}

	r.packages[sub.WorkerID] = sub.Package
	if len(r.packages) >= r.quorumThreshold {
		r.state = StateQuorumReached
	}
	return nil
}

// Reject records a worker's submission as excluded from aggregation
// (duplicate, malformed, or outlier) without removing its package from
// the round's record, so the evidence log can cite exactly what was
// dropped and why.
func (r *Round) Reject(workerID, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejected[workerID] = reason
}

// Submissions returns a snapshot of every accepted worker package,
// keyed by worker ID.
func (r *Round) Submissions() map[string]*updatepkg.Package {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]*updatepkg.Package, len(r.packages))
	for k, v := range r.packages {
		out[k] = v
	}
	return out
}

// setState advances the round's state, refusing to go anywhere but
// FAILED once a round has left its expected predecessor state.
func (r *Round) setState(want, next State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := requireState(r.state, want); err != nil {
		return err
	}
	r.state = next
	return nil
}

// Fail unconditionally marks the round FAILED, the only transition
// permitted from any non-terminal state.
func (r *Round) Fail() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StatePublished {
		r.state = StateFailed
	}
}
