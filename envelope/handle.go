package envelope

import (
	"fmt"
	"sync"

	"github.com/sfup/sfup/sfuperrors"
)

// ActiveRoundChecker reports whether any round is currently outside a
// terminal state. The aggregator implements this so Handle can refuse
// a swap mid-round.
type ActiveRoundChecker interface {
	HasActiveRound() bool
}

// Handle hands out immutable envelope snapshots and only swaps the
// active snapshot between rounds. It never mutates an OperatingEnvelope
// value in place: Swap always installs a brand new pointer, so any
// goroutine holding a previously-read snapshot keeps a consistent view
// for the lifetime of its round.
type Handle struct {
	mu      sync.RWMutex
	current *OperatingEnvelope
	checker ActiveRoundChecker
}

// NewHandle wraps an initial envelope. checker may be nil during
// startup before an aggregator exists; Swap then always succeeds.
func NewHandle(initial *OperatingEnvelope, checker ActiveRoundChecker) *Handle {
	return &Handle{current: initial, checker: checker}
}

// Current returns the active snapshot.
func (h *Handle) Current() *OperatingEnvelope {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Bind attaches the checker after construction, for the common wiring
// order where the aggregator is built from the envelope it then needs
// to gate reloads against.
func (h *Handle) Bind(checker ActiveRoundChecker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checker = checker
}

// Swap installs next as the active envelope, refusing with
// ErrEnvelopeBusy if a round is currently active.
func (h *Handle) Swap(next *OperatingEnvelope) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.checker != nil && h.checker.HasActiveRound() {
		return fmt.Errorf("envelope: reload rejected: %w", sfuperrors.ErrEnvelopeBusy)
	}
	h.current = next
	return nil
}
