// Package pipeline orchestrates one worker's per-round transformation
// from raw expert gradients to a sealed update package: gate & combine,
// clip, error-feedback, sparsify, quantize, pack, and encrypt. It is
// the single place that sequences the other packages in order and
// turns their boundary conditions into the documented failure modes.
package pipeline

import (
	"fmt"

	"github.com/sfup/sfup/csprng"
	"github.com/sfup/sfup/dpaccount"
	"github.com/sfup/sfup/envelope"
	"github.com/sfup/sfup/gradient"
	"github.com/sfup/sfup/internal/obs"
	"github.com/sfup/sfup/n2he"
	"github.com/sfup/sfup/quantize"
	"github.com/sfup/sfup/sfuperrors"
	"github.com/sfup/sfup/sparsify"
	"go.uber.org/zap"
)

// Worker runs successive rounds for one participant. It owns the
// participant's error-feedback memory and epsilon ledger across
// rounds, and is not safe for concurrent calls to Run.
type Worker struct {
	id       string
	env      *envelope.Handle
	account  *dpaccount.Accountant
	memory   *sparsify.Memory
	gen      *csprng.Generator
	cipher   *n2he.Cipher
	log      *zap.Logger
}

// NewWorker constructs a Worker bound to one operating envelope handle,
// DP accountant, CSPRNG generator, and cipher. log may be nil, in which
// case a no-op logger is used.
func NewWorker(id string, env *envelope.Handle, account *dpaccount.Accountant, gen *csprng.Generator, cipher *n2he.Cipher, log *zap.Logger) *Worker {
	if log == nil {
		log = obs.NewNop()
	}
	return &Worker{
		id:      id,
		env:     env,
		account: account,
		memory:  sparsify.NewMemory(),
		gen:     gen,
		cipher:  cipher,
		log:     log,
	}
}

// RoundInput is everything a round needs beyond the worker's own
// persistent state.
type RoundInput struct {
	Round         uint64
	Experts       gradient.ExpertGatedGradients
	Weights       gradient.GateWeights
	GateThreshold float64
	TrainingSteps int64
	LearningRate  float64
	Optimizer     string
	Objective     string
}

// RoundOutput is the sealed material a round produces, ready to be
// wrapped into an update package by the caller (pipeline does not
// import updatepkg itself, keeping the dependency direction one-way:
// updatepkg depends on n2he's Ciphertext type only, not on pipeline).
type RoundOutput struct {
	Ciphertexts     map[string][]n2he.Ciphertext
	CompressionMeta map[string]quantize.Metadata
	SafetyStats     SafetyStats
}

// SafetyStats mirrors updatepkg.SafetyStats's fields without importing
// that package, so pipeline has no dependency on the wire format.
type SafetyStats struct {
	ClipNormApplied   float64
	GradientL2PreClip float64
	SparsityRatio     float64
}

// Run executes one full round for the worker: gate & combine, clip,
// error-feedback, sparsify, quantize, pack into slots, and encrypt. It
// derives the round's real epsilon cost from the envelope and the
// round's actual sparsity ratio once sparsify has run, and refuses
// before doing any cryptographic work if the DP ledger cannot absorb
// that cost.
func (w *Worker) Run(in RoundInput) (*RoundOutput, error) {
	env := w.env.Current()

	combined, err := gradient.GateAndCombine(in.Experts, in.Weights, in.GateThreshold)
	if err != nil {
		return nil, fmt.Errorf("pipeline: round %d worker %s: gate and combine: %w", in.Round, w.id, err)
	}

	clip := gradient.Clip(combined, env.ClipNorm)
	// Error feedback is added to the clipped gradient, and the sum is
	// clipped again so the augmented gradient stays within clip_norm.
	ef := gradient.Clip(w.memory.AddFeedback(clip.Clipped), env.ClipNorm)
	if ef.ScaleFactor >= 1.0 && ef.NormPreClip > env.ClipNorm {
		// ScaleFactor is clamped to 1 even when norm exceeds clip_norm
		// only in the epsDiv-degenerate case; this branch should be
		// unreachable given Clip's definition, kept only as the
		// documented ClipNormExceeded trigger point.
		return nil, sfuperrors.New(sfuperrors.KindValidation, in.Round, w.id,
			"investigate why clipping failed to bound the norm", sfuperrors.ErrClipNormExceeded)
	}

	sparse, err := sparsify.Sparsify(w.gen, w.id, in.Round, ef.Clipped, env.SparsityRatio)
	if err != nil {
		return nil, fmt.Errorf("pipeline: round %d worker %s: sparsify: %w", in.Round, w.id, err)
	}
	w.memory.Update(in.Round, ef.Clipped, sparse)

	var totalSelected, totalDense int
	for _, param := range ef.Clipped.ParameterNames() {
		totalSelected += len(sparse[param].Values)
		totalDense += sparse[param].Length
	}
	sparsityRatio := 0.0
	if totalDense > 0 {
		sparsityRatio = float64(totalSelected) / float64(totalDense)
	}

	epsilonRound := dpaccount.RoundEpsilon(env.Mu, env.ClipNorm, sparsityRatio, env.Delta)
	if !w.account.CanSubmit(epsilonRound) {
		return nil, sfuperrors.New(sfuperrors.KindBudget, in.Round, w.id,
			"wait for the next accounting window or reduce sparsity_ratio", sfuperrors.ErrPrivacyBudgetExhausted)
	}

	slotBits := w.cipher.Params().SlotBits()
	ciphertexts := make(map[string][]n2he.Ciphertext, len(sparse))
	compressionMeta := make(map[string]quantize.Metadata, len(sparse))
	slot := 0

	for _, param := range ef.Clipped.ParameterNames() {
		st := sparse[param]

		qres, err := quantize.Quantize(st.Values, env.Bits)
		if err != nil {
			return nil, fmt.Errorf("pipeline: round %d worker %s: quantize %q: %w", in.Round, w.id, param, err)
		}
		recon := quantize.Dequantize(qres.Codes, qres.Meta)
		mse, err := quantize.MSE(st.Values, recon)
		if err != nil {
			return nil, fmt.Errorf("pipeline: round %d worker %s: mse %q: %w", in.Round, w.id, param, err)
		}
		if mse > env.MaxQualityMSE {
			return nil, sfuperrors.New(sfuperrors.KindValidation, in.Round, w.id,
				fmt.Sprintf("parameter %q mse %.6f exceeds max_quality_mse %.6f; raise bits or max_quality_mse", param, mse, env.MaxQualityMSE),
				sfuperrors.ErrQuantizationQuality)
		}

		packed := packGroups(st.Indices, qres.Codes, env.Bits, slotBits)
		cts, err := w.cipher.EncryptVector(in.Round, slot, packed)
		if err != nil {
			return nil, fmt.Errorf("pipeline: round %d worker %s: encrypt %q: %w", in.Round, w.id, param, err)
		}
		slot += len(packed)

		qres.Meta.SubstreamTag = param
		qres.Meta.PackedSlots = len(packed)
		ciphertexts[param] = cts
		compressionMeta[param] = qres.Meta
	}

	estimatedBytes := estimatePayloadBytes(ciphertexts)
	if estimatedBytes > env.MaxUpdateSizeKB*1024 {
		return nil, sfuperrors.New(sfuperrors.KindResource, in.Round, w.id,
			"reduce sparsity_ratio, bits, or max_update_size_kb", sfuperrors.ErrPayloadTooLarge)
	}

	if err := w.account.Record(epsilonRound); err != nil {
		return nil, fmt.Errorf("pipeline: round %d worker %s: %w", in.Round, w.id, err)
	}

	w.log.Info("round sealed",
		zap.String("worker_id", w.id),
		zap.Uint64("round", in.Round),
		zap.Float64("clip_scale", clip.ScaleFactor),
		zap.Float64("sparsity_ratio", sparsityRatio),
		zap.Float64("epsilon_consumed", w.account.Consumed()),
	)

	return &RoundOutput{
		Ciphertexts:     ciphertexts,
		CompressionMeta: compressionMeta,
		SafetyStats: SafetyStats{
			ClipNormApplied:   clip.ScaleFactor,
			GradientL2PreClip: clip.NormPreClip,
			SparsityRatio:     sparsityRatio,
		},
	}, nil
}

// packGroups folds a parameter's selected codes into one packed slot
// per dense-index group the selection touches, so the ciphertext count
// tracks the number of groups rather than the number of codes. Group
// membership is a pure function of the dense index (shared groupSize
// across every worker and the aggregator), so two workers that touch
// the same group emit ciphertexts that sum correctly even though their
// Rand-K selections land at different offsets within it.
func packGroups(indices []int, codes []uint32, bits, slotBits int) []uint16 {
	groupSize := slotBits / bits
	groups := quantize.Groups(indices, groupSize)
	packed := make([]uint16, 0, len(groups))

	i := 0
	for _, g := range groups {
		lo, hi := g*groupSize, g*groupSize+groupSize
		groupCodes := make([]uint32, groupSize)
		for i < len(indices) && indices[i] < hi {
			groupCodes[indices[i]-lo] = codes[i]
			i++
		}
		slots := quantize.PackBits(groupCodes, bits, slotBits)
		packed = append(packed, slots[0])
	}
	return packed
}

// estimatePayloadBytes sums each ciphertext's (A,b) encoding size, the
// same accounting the wire codec uses (4 bytes per A entry, 4 for b).
func estimatePayloadBytes(ciphertexts map[string][]n2he.Ciphertext) int {
	total := 0
	for _, cts := range ciphertexts {
		for _, ct := range cts {
			total += len(ct.A)*4 + 4
		}
	}
	return total
}
