package sparsify

import (
	"math"
	"sync"

	"github.com/sfup/sfup/gradient"
)

// DefaultMaxAbsentRounds is the eviction threshold: a parameter's
// error-feedback memory is pruned once it has gone untouched for more
// than this many rounds.
const DefaultMaxAbsentRounds = 10

type memEntry struct {
	vec           []float32
	lastSeenRound uint64
}

// Memory is one worker's error-feedback residual store. It is
// exclusive to its worker and only mutated at the end of a round. Its
// mutex is held for the duration of each single method call only; it
// is not held across a round, so it does not by itself serialize two
// rounds of the same worker.
type Memory struct {
	mu              sync.Mutex
	entries         map[string]*memEntry
	maxAbsentRounds uint64
}

// NewMemory constructs an empty error-feedback store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]*memEntry), maxAbsentRounds: DefaultMaxAbsentRounds}
}

// AddFeedback adds mem[p] into g[p] for every parameter present in
// both the memory and g, returning a new TensorSet. Parameters with no
// memory entry pass through unchanged.
func (m *Memory) AddFeedback(g gradient.TensorSet) gradient.TensorSet {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := g.Clone()
	for param, vec := range out {
		e, ok := m.entries[param]
		if !ok {
			continue
		}
		for i := range vec {
			if i < len(e.vec) {
				vec[i] += e.vec[i]
			}
		}
	}
	return out
}

// Update recomputes each touched parameter's residual as
// clipped[p] - scatter(sparse[p])  and evicts any
// parameter that has gone more than maxAbsentRounds rounds without
// being touched.
func (m *Memory) Update(round uint64, clipped gradient.TensorSet, sparse map[string]SparseTensor) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, param := range clipped.ParameterNames() {
		vec := clipped[param]
		st := sparse[param]
		residual := make([]float32, len(vec))
		copy(residual, vec)
		for i, idx := range st.Indices {
			if idx < len(residual) {
				residual[idx] -= st.Values[i]
			}
		}
		m.entries[param] = &memEntry{vec: residual, lastSeenRound: round}
	}

	for name, e := range m.entries {
		if round > e.lastSeenRound && round-e.lastSeenRound > m.maxAbsentRounds {
			delete(m.entries, name)
		}
	}
}

// Norm returns the L2 norm of the stored residual for a parameter, or
// 0 if there is no entry. Used by tests verifying the
// ‖mem[p]‖₂ ≤ ‖g[p]‖₂ invariant.
func (m *Memory) Norm(param string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[param]
	if !ok {
		return 0
	}
	var sumSquares float64
	for _, v := range e.vec {
		f := float64(v)
		sumSquares += f * f
	}
	return math.Sqrt(sumSquares)
}
