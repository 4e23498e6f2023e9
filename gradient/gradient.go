// Package gradient holds the worker-side gradient data model: tensor
// sets keyed by parameter name, expert gating and combination, and L2
// clipping. No shape schema is held here: GateAndCombine takes each
// parameter's length from the first expert tensor that carries it and
// rejects a later expert whose tensor for that parameter has a
// different length.
package gradient

import (
	"fmt"
	"math"
	"sort"
)

// TensorSet maps a parameter name to its dense float32 vector.
type TensorSet map[string][]float32

// ExpertGatedGradients maps an expert name to that expert's full
// tensor set for the round.
type ExpertGatedGradients map[string]TensorSet

// GateWeights maps an expert name to its gate weight in [0,1].
type GateWeights map[string]float64

// DefaultGateThreshold is the default below which an expert is dropped
// entirely before combination.
const DefaultGateThreshold = 0.15

// Clone returns a deep copy of a TensorSet, used wherever a stage must
// not mutate its caller's tensors (the clip/error-feedback pipeline
// stages operate on their own copy).
func (t TensorSet) Clone() TensorSet {
	out := make(TensorSet, len(t))
	for k, v := range t {
		cp := make([]float32, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

// ParameterNames returns the sorted parameter names in t, used
// wherever iteration order must be deterministic (quantization
// metadata, wire serialization).
func (t TensorSet) ParameterNames() []string {
	names := make([]string, 0, len(t))
	for k := range t {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// L2Norm returns the L2 norm over all parameters concatenated.
func (t TensorSet) L2Norm() float64 {
	var sumSquares float64
	for _, name := range t.ParameterNames() {
		for _, v := range t[name] {
			f := float64(v)
			sumSquares += f * f
		}
	}
	return math.Sqrt(sumSquares)
}

// GateAndCombine drops experts whose gate weight is below threshold,
// scales each remaining expert's tensors by its weight, and sums the
// result into a single TensorSet.
func GateAndCombine(experts ExpertGatedGradients, weights GateWeights, threshold float64) (TensorSet, error) {
	combined := TensorSet{}
	for expertName, tensors := range experts {
		w, ok := weights[expertName]
		if !ok {
			return nil, fmt.Errorf("gradient: expert %q has no gate weight", expertName)
		}
		if w < 0 || w > 1 {
			return nil, fmt.Errorf("gradient: expert %q gate weight %v outside [0,1]", expertName, w)
		}
		if w < threshold {
			continue
		}
		for param, vec := range tensors {
			dst, ok := combined[param]
			if !ok {
				dst = make([]float32, len(vec))
				combined[param] = dst
			}
			if len(dst) != len(vec) {
				return nil, fmt.Errorf("gradient: parameter %q shape mismatch across experts (%d vs %d)", param, len(dst), len(vec))
			}
			wf := float32(w)
			for i, v := range vec {
				dst[i] += v * wf
			}
		}
	}
	return combined, nil
}
