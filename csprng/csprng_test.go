package csprng

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testSeed() []byte {
	seed := make([]byte, SeedSize)
	for i := range seed {
		seed[i] = byte(i)
	}
	return seed
}

func TestSubstreamDeterministic(t *testing.T) {
	g, err := NewGeneratorFromSeed(testSeed())
	require.NoError(t, err)

	s1, err := g.Substream("round-index", []byte("worker-1"), []byte("round-7"))
	require.NoError(t, err)
	s2, err := g.Substream("round-index", []byte("worker-1"), []byte("round-7"))
	require.NoError(t, err)

	var a, b [64]byte
	_, _ = s1.Read(a[:])
	_, _ = s2.Read(b[:])
	require.Equal(t, a, b)
}

func TestSubstreamTagSeparation(t *testing.T) {
	g, err := NewGeneratorFromSeed(testSeed())
	require.NoError(t, err)

	s1, err := g.Substream("tag", []byte("ab"), []byte("c"))
	require.NoError(t, err)
	s2, err := g.Substream("tag", []byte("a"), []byte("bc"))
	require.NoError(t, err)

	require.NotEqual(t, s1.Uint64(), s2.Uint64())
}

func TestUniqueIndicesAreUniqueAndSorted(t *testing.T) {
	g, err := NewGeneratorFromSeed(testSeed())
	require.NoError(t, err)
	s, err := g.Substream("rand-k", []byte("w"), []byte("1"), []byte("p"))
	require.NoError(t, err)

	idx := s.UniqueIndices(100, 17)
	require.Len(t, idx, 17)

	seen := make(map[int]bool, len(idx))
	for i, v := range idx {
		require.False(t, seen[v], "duplicate index %d", v)
		seen[v] = true
		if i > 0 {
			require.Greater(t, v, idx[i-1])
		}
	}
}

func TestUniqueIndicesDenseWhenKEqualsN(t *testing.T) {
	g, _ := NewGeneratorFromSeed(testSeed())
	s, _ := g.Substream("rand-k", []byte("w"), []byte("1"), []byte("p"))
	idx := s.UniqueIndices(8, 8)
	require.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, idx)
}

func TestSkellamMeanZero(t *testing.T) {
	g, _ := NewGeneratorFromSeed(testSeed())
	s, _ := g.Substream("noise", []byte("slot-0"))

	var sum int64
	const n = 20000
	for i := 0; i < n; i++ {
		sum += s.Skellam(3.19)
	}
	mean := float64(sum) / n
	require.InDelta(t, 0.0, mean, 0.2)
}

func TestUniformModUnbiasedPowerOfTwo(t *testing.T) {
	g, _ := NewGeneratorFromSeed(testSeed())
	s, _ := g.Substream("uniform", []byte("x"))
	counts := make([]int, 4)
	for i := 0; i < 10000; i++ {
		counts[s.UniformMod(4)]++
	}
	for _, c := range counts {
		require.InDelta(t, 2500, c, 400)
	}
}
