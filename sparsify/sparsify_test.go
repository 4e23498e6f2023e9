package sparsify

import (
	"testing"

	"github.com/sfup/sfup/csprng"
	"github.com/sfup/sfup/gradient"
	"github.com/stretchr/testify/require"
)

func testGen(t *testing.T) *csprng.Generator {
	t.Helper()
	seed := make([]byte, csprng.SeedSize)
	for i := range seed {
		seed[i] = byte(i * 3)
	}
	g, err := csprng.NewGeneratorFromSeed(seed)
	require.NoError(t, err)
	return g
}

func TestSparsifyDeterministic(t *testing.T) {
	gen := testGen(t)
	tensors := gradient.TensorSet{"w": make([]float32, 100)}
	for i := range tensors["w"] {
		tensors["w"][i] = float32(i)
	}

	s1, err := Sparsify(gen, "worker-1", 7, tensors, 0.1)
	require.NoError(t, err)
	s2, err := Sparsify(gen, "worker-1", 7, tensors, 0.1)
	require.NoError(t, err)

	require.Equal(t, s1["w"].Indices, s2["w"].Indices)
	require.Equal(t, s1["w"].Values, s2["w"].Values)
	require.Len(t, s1["w"].Indices, 10)
}

func TestSparsifyFullDensityWhenRhoIsOne(t *testing.T) {
	gen := testGen(t)
	tensors := gradient.TensorSet{"w": {1, 2, 3, 4}}
	st, err := Sparsify(gen, "w1", 1, tensors, 1.0)
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 2, 3}, st["w"].Indices)
	require.Equal(t, []float32{1, 2, 3, 4}, st["w"].Values)
}

func TestMemoryUpdateAndFeedback(t *testing.T) {
	gen := testGen(t)
	mem := NewMemory()

	clipped := gradient.TensorSet{"w": {1, 2, 3, 4}}
	sparse, err := Sparsify(gen, "w1", 1, clipped, 0.5) // k=2
	require.NoError(t, err)
	mem.Update(1, clipped, sparse)

	// ‖mem[p]‖2 <= ‖g[p]‖2.
	require.LessOrEqual(t, mem.Norm("w"), clipped.L2Norm()+1e-9)

	augmented := mem.AddFeedback(gradient.TensorSet{"w": {0, 0, 0, 0}})
	require.Equal(t, mem.Norm("w"), gradient.TensorSet{"w": augmented["w"]}.L2Norm())
}

func TestMemoryPrunesAfterTenAbsentRounds(t *testing.T) {
	mem := NewMemory()
	clipped := gradient.TensorSet{"w": {1, 2}}
	sparse := map[string]SparseTensor{"w": {Indices: []int{0}, Values: []float32{1}, Length: 2}}
	mem.Update(1, clipped, sparse)
	require.Greater(t, mem.Norm("w"), 0.0)

	// Touching a different parameter at round 12 (11 rounds later)
	// should evict "w" since it was last seen at round 1.
	mem.Update(12, gradient.TensorSet{"other": {5}}, map[string]SparseTensor{})
	require.Equal(t, 0.0, mem.Norm("w"))
}

func TestScatterRoundTrip(t *testing.T) {
	st := SparseTensor{Indices: []int{1, 3}, Values: []float32{9, 7}, Length: 4}
	require.Equal(t, []float32{0, 9, 0, 7}, st.Scatter())
}
