// Package quantize implements the per-tensor scalar quantization codec:
// float32 values are mapped to unsigned integers of a configured bit
// width via an affine scale/zero-point transform, with the
// reconstruction error bounded by a configured maximum MSE.
package quantize

import (
	"fmt"
	"math"
)

// Metadata is the per-parameter quantization record carried in the
// update package's compression_meta. NSlots is the number of Rand-K
// selected codes (k); PackedSlots is the number of bit-packed
// ciphertext slots those codes were folded into by PackBits, which is
// set by the caller once packing has happened (Quantize itself has no
// notion of the cipher's slot width).
type Metadata struct {
	Scale        float64
	ZeroPoint    int64
	Bits         int
	NSlots       int
	PackedSlots  int
	SubstreamTag string
}

// Result is one parameter's quantized codes plus their metadata.
type Result struct {
	Codes []uint32
	Meta  Metadata
}

// validBits reports whether bits is one of the supported widths.
func validBits(bits int) bool { return bits == 2 || bits == 4 || bits == 8 }

// Quantize maps values to unsigned integers of the given bit width
// using a per-tensor affine scale/zero-point.
func Quantize(values []float32, bits int) (Result, error) {
	if !validBits(bits) {
		return Result{}, fmt.Errorf("quantize: bits must be one of {2,4,8}, got %d", bits)
	}
	if len(values) == 0 {
		return Result{Codes: nil, Meta: Metadata{Bits: bits}}, nil
	}

	min32, max32 := values[0], values[0]
	for _, v := range values {
		if v < min32 {
			min32 = v
		}
		if v > max32 {
			max32 = v
		}
	}
	min, max := float64(min32), float64(max32)

	levels := float64((uint32(1) << uint(bits)) - 1)
	scale := (max - min) / levels
	if scale == 0 {
		// A constant tensor needs no dynamic range; pin scale to 1 so
		// zero_point math below stays well-defined and every code maps
		// back to exactly `min`.
		scale = 1
	}
	zeroPoint := int64(math.Round(-min / scale))

	codes := make([]uint32, len(values))
	maxCode := uint32(1)<<uint(bits) - 1
	for i, v := range values {
		c := int64(math.Round(float64(v)/scale)) + zeroPoint
		if c < 0 {
			c = 0
		}
		if c > int64(maxCode) {
			c = int64(maxCode)
		}
		codes[i] = uint32(c)
	}

	return Result{Codes: codes, Meta: Metadata{Scale: scale, ZeroPoint: zeroPoint, Bits: bits, NSlots: len(codes)}}, nil
}

// Dequantize reconstructs float32 values from codes and metadata:
// value ≈ (q - zero_point) * scale.
func Dequantize(codes []uint32, meta Metadata) []float32 {
	out := make([]float32, len(codes))
	for i, c := range codes {
		out[i] = float32((float64(int64(c)-meta.ZeroPoint) * meta.Scale))
	}
	return out
}

// MSE computes the mean squared error between the original values and
// their quantize-then-dequantize reconstruction.
func MSE(original, reconstructed []float32) (float64, error) {
	if len(original) != len(reconstructed) {
		return 0, fmt.Errorf("quantize: MSE length mismatch (%d vs %d)", len(original), len(reconstructed))
	}
	if len(original) == 0 {
		return 0, nil
	}
	var sum float64
	for i := range original {
		d := float64(original[i]) - float64(reconstructed[i])
		sum += d * d
	}
	return sum / float64(len(original)), nil
}
