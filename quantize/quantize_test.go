package quantize

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQuantizeDequantizeRoundTripBoundedMSE(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	values := make([]float32, 2000)
	for i := range values {
		values[i] = float32(rnd.NormFloat64())
	}

	res, err := Quantize(values, 8)
	require.NoError(t, err)
	recon := Dequantize(res.Codes, res.Meta)

	mse, err := MSE(values, recon)
	require.NoError(t, err)
	require.Less(t, mse, 0.05)
}

func TestQuantizeIdempotentOnAlreadyQuantized(t *testing.T) {
	values := []float32{0, 1, 2, 3, 4, 5, 6, 7}
	res, err := Quantize(values, 8)
	require.NoError(t, err)
	recon := Dequantize(res.Codes, res.Meta)

	res2, err := Quantize(recon, 8)
	require.NoError(t, err)
	require.Equal(t, res.Meta, res2.Meta)
	require.Equal(t, res.Codes, res2.Codes)
}

func TestQuantizeConstantTensor(t *testing.T) {
	values := []float32{5, 5, 5, 5}
	res, err := Quantize(values, 4)
	require.NoError(t, err)
	recon := Dequantize(res.Codes, res.Meta)
	for _, v := range recon {
		require.InDelta(t, 5.0, v, 1e-6)
	}
}

func TestQuantizeRejectsInvalidBits(t *testing.T) {
	_, err := Quantize([]float32{1, 2}, 3)
	require.Error(t, err)
}

func TestPackUnpackBitsRoundTrip(t *testing.T) {
	codes := []uint32{0, 1, 2, 3, 15, 7, 9, 255}
	for _, bits := range []int{2, 4, 8} {
		maxVal := uint32(1)<<uint(bits) - 1
		clipped := make([]uint32, len(codes))
		for i, c := range codes {
			if c > maxVal {
				c = maxVal
			}
			clipped[i] = c
		}
		packed := PackBits(clipped, bits, 16)
		back := UnpackBits(packed, bits, 16, len(clipped))
		require.Equal(t, clipped, back, "bits=%d", bits)
	}
}

func TestWideDynamicRangeTwoBitQualityLoss(t *testing.T) {
	values := []float32{-1000, -1, 0, 1, 1000}
	res, err := Quantize(values, 2)
	require.NoError(t, err)
	recon := Dequantize(res.Codes, res.Meta)
	mse, err := MSE(values, recon)
	require.NoError(t, err)
	// A 4-level code covering a range of 2000 cannot meet a tight MSE
	// budget; the pipeline layer is responsible for turning this into
	// QuantizationQualityLoss.
	require.Greater(t, mse, 0.05)
}
