package csprng

import "sort"

// UniqueIndices draws k unique indices from [0, n) using partial
// Fisher-Yates shuffle over an explicit index array, then returns them
// sorted ascending. This is the substream consumer behind the Rand-K
// sparsifier: given the same Source, the same index set is always
// produced, and the aggregator recomputes it independently from the
// same substream key, so the indices do not travel with the payload.
func (s *Source) UniqueIndices(n, k int) []int {
	if k >= n {
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out
	}
	pool := make([]int, n)
	for i := range pool {
		pool[i] = i
	}
	for i := 0; i < k; i++ {
		j := i + int(s.UniformMod(uint64(n-i)))
		pool[i], pool[j] = pool[j], pool[i]
	}
	selected := append([]int(nil), pool[:k]...)
	sort.Ints(selected)
	return selected
}
