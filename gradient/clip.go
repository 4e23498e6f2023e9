package gradient

// epsDiv is a small constant added to the L2 norm denominator so an
// all-zero gradient never divides by zero.
const epsDiv = 1e-12

// ClipResult carries both the clipped tensors and the bookkeeping the
// pipeline must record into the update package's safety statistics.
type ClipResult struct {
	Clipped     TensorSet
	ScaleFactor float64
	NormPreClip float64
}

// Clip scales every element of g uniformly so the concatenated L2 norm
// does not exceed clipNorm.
func Clip(g TensorSet, clipNorm float64) ClipResult {
	norm := g.L2Norm()
	scale := clipNorm / (norm + epsDiv)
	if scale > 1 {
		scale = 1
	}
	out := make(TensorSet, len(g))
	sf := float32(scale)
	for param, vec := range g {
		cp := make([]float32, len(vec))
		for i, v := range vec {
			cp[i] = v * sf
		}
		out[param] = cp
	}
	return ClipResult{Clipped: out, ScaleFactor: scale, NormPreClip: norm}
}
