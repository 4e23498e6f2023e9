// Package updatepkg implements the versioned binary update-package
// envelope: a JSON header and manifest, a ciphertext payload, a
// SHA-256 content hash, and an opaque signature. Serialization is
// deterministic so seal-then-parse-then-reseal reproduces identical
// bytes: map keys are emitted in sorted order, while the fields of the
// struct-typed blocks (header, manifest, safety_stats, training_meta,
// compression_meta entries) are emitted in declaration order, not
// sorted by key.
package updatepkg

import (
	"github.com/sfup/sfup/n2he"
)

// Magic and FormatVersion identify the wire format at offsets 0 and 6.
var Magic = [6]byte{'T', 'G', 'U', 'E', 0x02, 0x00}

const FormatVersion uint8 = 2

// Header is the small, fixed-shape JSON block at the front of the
// package.
type Header struct {
	WorkerID    string `json:"worker_id"`
	Round       uint64 `json:"round"`
	KeyID       string `json:"key_id"`
	TimestampMs int64  `json:"timestamp_ms"`
	SigAlg      string `json:"sig_alg"`
}

// SafetyStats is the manifest's safety_stats block.
type SafetyStats struct {
	DPEpsilonConsumed          float64 `json:"dp_epsilon_consumed"`
	ClipNormApplied            float64 `json:"clip_norm_applied"`
	GradientL2PreClip          float64 `json:"gradient_l2_pre_clip"`
	SparsityRatio              float64 `json:"sparsity_ratio"`
	PayloadBytesPrecompression int64   `json:"payload_bytes_precompression"`
}

// CompressionMetaEntry is one parameter's entry in compression_meta.
// NSlots is the Rand-K selection count (k); PackedSlots is the number
// of bit-packed ciphertexts the payload actually carries for this
// parameter, which is what the aggregator uses to slice the flat
// payload (extractParamCiphertexts).
type CompressionMetaEntry struct {
	Scale        float64 `json:"scale"`
	ZeroPoint    int64   `json:"zero_point"`
	Bits         int     `json:"bits"`
	NSlots       int     `json:"n_slots"`
	PackedSlots  int     `json:"packed_slots"`
	SubstreamTag string  `json:"substream_tag"`
}

// TrainingMeta is the manifest's training_meta block.
type TrainingMeta struct {
	Optimizer    string  `json:"optimizer"`
	Steps        int64   `json:"steps"`
	LearningRate float64 `json:"learning_rate"`
	Objective    string  `json:"objective"`
}

// Manifest is the full JSON manifest block. CompressionMeta and
// ExpertWeights are maps; encoding/json already marshals map keys in
// sorted order, so two manifests with identical content always
// serialize to identical bytes without any extra canonicalization step.
type Manifest struct {
	SafetyStats     SafetyStats                      `json:"safety_stats"`
	CompressionMeta map[string]CompressionMetaEntry   `json:"compression_meta"`
	TrainingMeta    TrainingMeta                      `json:"training_meta"`
	ExpertWeights   map[string]float64                `json:"expert_weights"`
}

// Package is the fully parsed, in-memory representation of a sealed
// update package.
type Package struct {
	Header       Header
	Manifest     Manifest
	Payload      []n2he.Ciphertext
	ContentHash  [32]byte
	Signature    []byte
}
