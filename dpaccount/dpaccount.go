// Package dpaccount tracks cumulative differential-privacy loss per
// worker and enforces the configured hard stop. It owns no references
// back into the pipeline; the pipeline calls CanSubmit before running
// a round and Record after sealing it.
package dpaccount

import (
	"fmt"
	"sync"

	"github.com/sfup/sfup/sfuperrors"
)

// Accountant is a single worker's epsilon ledger.
type Accountant struct {
	mu              sync.Mutex
	epsilonConsumed float64
	epsilonCap      float64
	delta           float64
	hardStopEnabled bool
	halted          bool
}

// New constructs an Accountant for one worker under the envelope's
// epsilon_cap / delta / hard_stop_enabled settings.
func New(epsilonCap, delta float64, hardStopEnabled bool) *Accountant {
	return &Accountant{epsilonCap: epsilonCap, delta: delta, hardStopEnabled: hardStopEnabled}
}

// CanSubmit reports whether a round costing epsilonRound more budget
// may proceed without exceeding epsilon_cap.
func (a *Accountant) CanSubmit(epsilonRound float64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.halted {
		return false
	}
	if !a.hardStopEnabled {
		return true
	}
	return a.epsilonConsumed+epsilonRound <= a.epsilonCap
}

// Record commits epsilonRound to the ledger. It must only be called
// after CanSubmit returned true for the same round's cost; Record
// itself still refuses (and halts the worker for the remainder of the
// session) if the caller raced past CanSubmit.
func (a *Accountant) Record(epsilonRound float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.halted {
		return fmt.Errorf("dpaccount: worker halted, epsilon_consumed=%.6f cap=%.6f: %w", a.epsilonConsumed, a.epsilonCap, sfuperrors.ErrPrivacyBudgetExhausted)
	}
	next := a.epsilonConsumed + epsilonRound
	if a.hardStopEnabled && next > a.epsilonCap {
		a.halted = true
		return fmt.Errorf("dpaccount: round would push epsilon_consumed to %.6f, exceeding cap %.6f: %w", next, a.epsilonCap, sfuperrors.ErrPrivacyBudgetExhausted)
	}
	a.epsilonConsumed = next
	return nil
}

// Consumed returns the current epsilon_consumed value.
func (a *Accountant) Consumed() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.epsilonConsumed
}

// Halted reports whether the worker has been transitioned to HALTED.
func (a *Accountant) Halted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.halted
}
