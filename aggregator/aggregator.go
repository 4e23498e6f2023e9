package aggregator

import (
	"fmt"
	"sync"

	"github.com/sfup/sfup/envelope"
	"github.com/sfup/sfup/internal/obs"
	"go.uber.org/zap"
)

// Aggregator owns the currently active round and binds itself as the
// envelope's ActiveRoundChecker so a hot-reload of the operating
// envelope is refused while a round is in flight.
type Aggregator struct {
	mu      sync.Mutex
	env     *envelope.Handle
	current *Round
	log     *zap.Logger
}

// New constructs an Aggregator bound to env, registering itself as
// env's ActiveRoundChecker.
func New(env *envelope.Handle, log *zap.Logger) *Aggregator {
	if log == nil {
		log = obs.NewNop()
	}
	a := &Aggregator{env: env, log: log}
	env.Bind(a)
	return a
}

// HasActiveRound implements envelope.ActiveRoundChecker.
func (a *Aggregator) HasActiveRound() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current != nil && a.current.HasActiveRound()
}

// StartRound opens a new COLLECTING round, refusing to start one while
// another is still active.
func (a *Aggregator) StartRound(number uint64, backlogCap int) (*Round, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current != nil && a.current.HasActiveRound() {
		return nil, fmt.Errorf("aggregator: round %d is still active", a.current.number)
	}
	env := a.env.Current()
	r := NewRound(number, env.QuorumThreshold, backlogCap)
	a.current = r
	return r, nil
}

// Current returns the round currently tracked, or nil before the
// first StartRound call.
func (a *Aggregator) Current() *Round {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}
