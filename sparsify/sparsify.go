// Package sparsify implements the Rand-K sparsifier and the per-worker
// error-feedback memory. Index selection is intentionally
// data-independent: it never looks at gradient magnitude, unlike top-K
// selection (see DESIGN.md for the tradeoff).
package sparsify

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/sfup/sfup/csprng"
	"github.com/sfup/sfup/gradient"
)

// SparseTensor is one parameter's Rand-K selection: ascending unique
// indices and their values.
type SparseTensor struct {
	Indices []int
	Values  []float32
	Length  int // original dense vector length, needed to Scatter back
}

// Scatter reconstructs the dense vector implied by a SparseTensor,
// with all non-selected entries implicitly zero.
func (s SparseTensor) Scatter() []float32 {
	out := make([]float32, s.Length)
	for i, idx := range s.Indices {
		out[idx] = s.Values[i]
	}
	return out
}

func roundTag(round uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], round)
	return b[:]
}

// Sparsify draws, independently per parameter, k = ceil(rho*n) unique
// indices from a CSPRNG substream keyed by (worker_id, round,
// parameter_name).
func Sparsify(gen *csprng.Generator, workerID string, round uint64, tensors gradient.TensorSet, rho float64) (map[string]SparseTensor, error) {
	if rho <= 0 || rho > 1 {
		return nil, fmt.Errorf("sparsify: sparsity ratio %v outside (0,1]", rho)
	}
	out := make(map[string]SparseTensor, len(tensors))
	for _, param := range tensors.ParameterNames() {
		vec := tensors[param]
		n := len(vec)
		k := KCount(rho, n)
		idx, err := Indices(gen, workerID, round, param, n, k)
		if err != nil {
			return nil, fmt.Errorf("sparsify: parameter %q: %w", param, err)
		}
		vals := make([]float32, len(idx))
		for i, ix := range idx {
			vals[i] = vec[ix]
		}
		out[param] = SparseTensor{Indices: idx, Values: vals, Length: n}
	}
	return out, nil
}

// KCount returns ceil(rho*n) clamped to n, the same selection count
// Sparsify uses for a parameter of length n. Exported so the
// aggregator can recompute it without re-deriving the dense tensor.
func KCount(rho float64, n int) int {
	k := int(math.Ceil(rho * float64(n)))
	if k > n {
		k = n
	}
	return k
}

// Indices re-derives the Rand-K index selection for one
// (worker_id, round, parameter_name) without requiring the dense
// tensor itself. Used both by Sparsify and by the aggregator, which
// must recompute the same selection from the shared CSPRNG generator
// to know where each worker's quantized values belong in the dense
// vector.
func Indices(gen *csprng.Generator, workerID string, round uint64, param string, n, k int) ([]int, error) {
	src, err := gen.Substream("rand-k", []byte(workerID), roundTag(round), []byte(param))
	if err != nil {
		return nil, fmt.Errorf("sparsify: substream: %w", err)
	}
	return src.UniqueIndices(n, k), nil
}
