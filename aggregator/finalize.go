package aggregator

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sfup/sfup/csprng"
	"github.com/sfup/sfup/evalgate"
	"github.com/sfup/sfup/evidence"
	"github.com/sfup/sfup/gradient"
	"github.com/sfup/sfup/internal/obs"
	"github.com/sfup/sfup/n2he"
	"github.com/sfup/sfup/quantize"
	"github.com/sfup/sfup/sparsify"
	"github.com/sfup/sfup/updatepkg"
	"go.uber.org/zap"
)

// FinalizeConfig is everything Finalize needs beyond the round's own
// collected packages. ParamLengths gives each parameter's dense vector
// length, which is deployment-known (the model architecture) rather
// than inferred from any single worker's submission.
type FinalizeConfig struct {
	ParamLengths      map[string]int
	Params            n2he.Params
	Cipher            *n2he.Cipher
	Gen               *csprng.Generator
	WeightNumerators  map[string]uint64 // workerID -> weight numerator over WeightDenominator
	WeightDenominator uint64
	MADk              float64
	GateThresholds    evalgate.Thresholds
	LossBaseline      *float64 // nil when no prior round exists yet
	Log               *evidence.Log
	Logger            *zap.Logger
}

// FinalizeResult is everything a published (or failed) round produces.
type FinalizeResult struct {
	Gradient  gradient.TensorSet
	Accepted  []string
	Rejected  map[string]string
	GateResult evalgate.Result
	FinalState State
}

// weightOf returns a contributing worker's normalized weight
// (numerator over WeightDenominator), falling back to 1.0 when no
// explicit numerator is configured or WeightDenominator is zero.
func weightOf(cfg FinalizeConfig, workerID string) float64 {
	if cfg.WeightDenominator == 0 {
		return 1.0
	}
	num, ok := cfg.WeightNumerators[workerID]
	if !ok {
		return 1.0
	}
	return float64(num) / float64(cfg.WeightDenominator)
}

// weightNumeratorOf returns a contributing worker's integer weight
// numerator, falling back to 1 (an equal vote) when none is configured.
// reconstructParameter scales each worker's ciphertext by this value
// before summing, so weighted aggregation happens on the ciphertext
// itself rather than on decode-time metadata.
func weightNumeratorOf(cfg FinalizeConfig, workerID string) uint64 {
	num, ok := cfg.WeightNumerators[workerID]
	if !ok || num == 0 {
		return 1
	}
	return num
}

// Finalize runs the round from QUORUM_REACHED through to PUBLISHED or
// FAILED: MAD outlier rejection, weighted homomorphic ciphertext
// summation per packed group, one batched decryption per parameter,
// weighted inverse-compression, and the evaluation gate.
//
// Ciphertexts are weighted and summed across contributing workers at
// each packed group before decryption, which means the decrypted
// quantized sum is reconstructed against a single contributor-weighted
// (scale, zero_point) pair rather than each worker's own exact
// quantization parameters. This is a deliberate simplification: exact
// per-worker dequantization would require decrypting each worker's
// contribution individually, forfeiting the homomorphic-sum step's
// point (never decrypting an individual worker's values). The weighted
// average closely tracks the true mean as long as quantization error is
// small relative to clip_norm, which quantize.MSE is checked against
// during the worker pipeline.
func Finalize(r *Round, cfg FinalizeConfig, preClipNorms map[string]float64) (*FinalizeResult, error) {
	log := cfg.Logger
	if log == nil {
		log = obs.NewNop()
	}

	kept, rejected, err := FilterOutliers(preClipNorms, cfg.MADk)
	if err != nil {
		r.Fail()
		return nil, fmt.Errorf("aggregator: round %d: filter outliers: %w", r.number, err)
	}
	if err := r.setState(StateQuorumReached, StateFiltered); err != nil {
		r.Fail()
		return nil, err
	}
	for id, reason := range rejected {
		r.Reject(id, reason)
		if cfg.Log != nil {
			_, _ = cfg.Log.Append("worker_rejected", r.number, id, 0, map[string]string{"reason": reason})
		}
	}

	submissions := r.Submissions()
	keptSet := make(map[string]*updatepkg.Package, len(kept))
	for _, id := range kept {
		keptSet[id] = submissions[id]
	}

	paramNames := make([]string, 0, len(cfg.ParamLengths))
	for p := range cfg.ParamLengths {
		paramNames = append(paramNames, p)
	}
	sort.Strings(paramNames)

	result := gradient.TensorSet{}
	var mu sync.Mutex
	var wg sync.WaitGroup
	errCh := make(chan error, len(paramNames))

	for _, param := range paramNames {
		param := param
		wg.Add(1)
		go func() {
			defer wg.Done()
			vec, err := reconstructParameter(cfg, keptSet, param)
			if err != nil {
				errCh <- fmt.Errorf("parameter %q: %w", param, err)
				return
			}
			mu.Lock()
			result[param] = vec
			mu.Unlock()
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		r.Fail()
		return nil, fmt.Errorf("aggregator: round %d: %w", r.number, err)
	}

	if err := r.setState(StateFiltered, StateSummed); err != nil {
		r.Fail()
		return nil, err
	}
	if err := r.setState(StateSummed, StateDecrypted); err != nil {
		r.Fail()
		return nil, err
	}

	gate := evalgate.Evaluate(cfg.GateThresholds, evalgate.Metrics{
		SuccessRate:  float64(len(kept)) / float64(len(submissions)),
		KLDivergence: 0,
		DeltaNorm:    result.L2Norm(),
		LossMeasured: false,
	})
	if err := r.setState(StateDecrypted, StateGated); err != nil {
		r.Fail()
		return nil, err
	}

	final := StatePublished
	if !gate.Passed {
		final = StateFailed
		r.Fail()
	} else if err := r.setState(StateGated, StatePublished); err != nil {
		r.Fail()
		return nil, err
	}

	if cfg.Log != nil {
		_, _ = cfg.Log.Append("round_finalized", r.number, "", 0, map[string]interface{}{
			"accepted": kept, "gate_passed": gate.Passed, "final_state": final,
		})
	}
	log.Info("round finalized", zap.Uint64("round", r.number), zap.Int("accepted", len(kept)), zap.Bool("gate_passed", gate.Passed))

	return &FinalizeResult{Gradient: result, Accepted: kept, Rejected: rejected, GateResult: gate, FinalState: final}, nil
}

// reconstructParameter sums worker ciphertexts group-by-group (weighted
// by each worker's integer weight numerator), decrypts once per group,
// unpacks the bit-packed codes, and dequantizes against a
// contributor-weighted scale/zero_point.
//
// Workers never emit a ciphertext per dense index directly; pipeline.Run
// packs groupSize = slotBits/bits consecutive dense codes into a single
// ciphertext before encrypting, only for the groups its Rand-K selection
// actually touches. Group membership is a pure function of the dense
// index, so it is identical across workers and is re-derived here from
// the same CSPRNG substream the worker used, rather than transmitted.
// Summing two workers' same-group ciphertexts sums their packed
// sub-fields independently (and scaling by an integer weight scales
// each sub-field the same way), with the same bounded sub-field-overflow
// risk the codes already accept at MaxQualityMSE.
func reconstructParameter(cfg FinalizeConfig, submissions map[string]*updatepkg.Package, param string) ([]float32, error) {
	n := cfg.ParamLengths[param]
	slotBits := cfg.Cipher.Params().SlotBits()

	ctByGroup := make(map[int]*n2he.Ciphertext)
	contributors := make([][]string, n)
	weightNumByIndex := make([]uint64, n)
	bits := 0

	for workerID, pkg := range submissions {
		meta, ok := pkg.Manifest.CompressionMeta[param]
		if !ok {
			continue // this worker's expert gate dropped the parameter entirely
		}
		bits = meta.Bits
		groupSize := slotBits / bits

		cts, err := extractParamCiphertexts(pkg, param)
		if err != nil {
			return nil, err
		}
		idx, err := sparsify.Indices(cfg.Gen, workerID, pkg.Header.Round, param, n, meta.NSlots)
		if err != nil {
			return nil, fmt.Errorf("re-deriving indices for worker %s: %w", workerID, err)
		}
		groups := quantize.Groups(idx, groupSize)
		if len(groups) != len(cts) {
			return nil, fmt.Errorf("worker %s: group count %d does not match ciphertext count %d", workerID, len(groups), len(cts))
		}

		num := weightNumeratorOf(cfg, workerID)
		for i, g := range groups {
			scaled := n2he.ScalarMul(cfg.Params, cts[i], num)
			if ctByGroup[g] == nil {
				ctByGroup[g] = &scaled
			} else {
				summed, err := n2he.Add(cfg.Params, *ctByGroup[g], scaled)
				if err != nil {
					return nil, fmt.Errorf("summing ciphertexts at group %d: %w", g, err)
				}
				ctByGroup[g] = &summed
			}
		}
		for _, ix := range idx {
			contributors[ix] = append(contributors[ix], workerID)
			weightNumByIndex[ix] += num
		}
	}

	out := make([]float32, n)
	if len(ctByGroup) == 0 {
		return out, nil
	}

	groupIDs := make([]int, 0, len(ctByGroup))
	for g := range ctByGroup {
		groupIDs = append(groupIDs, g)
	}
	sort.Ints(groupIDs)

	flat := make([]n2he.Ciphertext, len(groupIDs))
	for i, g := range groupIDs {
		flat[i] = *ctByGroup[g]
	}
	codes, err := cfg.Cipher.DecryptVector(flat)
	if err != nil {
		return nil, fmt.Errorf("decrypting summed ciphertexts: %w", err)
	}

	groupSize := slotBits / bits
	summedCode := make([]uint32, n)
	for i, g := range groupIDs {
		groupCodes := quantize.UnpackBits(codes[i:i+1], bits, slotBits, groupSize)
		lo := g * groupSize
		for k, c := range groupCodes {
			if lo+k < n {
				summedCode[lo+k] = c
			}
		}
	}

	for ix := 0; ix < n; ix++ {
		workers := contributors[ix]
		if len(workers) == 0 {
			continue
		}
		var scaleSum, zpSum, weightSum float64
		for _, workerID := range workers {
			meta := submissions[workerID].Manifest.CompressionMeta[param]
			w := weightOf(cfg, workerID)
			scaleSum += meta.Scale * w
			zpSum += float64(meta.ZeroPoint) * w
			weightSum += w
		}
		if weightSum == 0 {
			weightSum = 1
		}
		avgScale := scaleSum / weightSum
		avgZP := zpSum / weightSum

		numSum := weightNumByIndex[ix]
		if numSum == 0 {
			numSum = 1
		}
		avgCode := float64(summedCode[ix]) / float64(numSum)
		out[ix] = float32((avgCode - avgZP) * avgScale)
	}
	return out, nil
}

// extractParamCiphertexts pulls one parameter's contiguous ciphertext
// block out of the package's flat payload slice, using the same
// sorted-parameter-name, contiguous-block layout the worker pipeline
// used when it encrypted (pipeline.Worker.Run). PackedSlots, not
// NSlots, is the number of ciphertexts the parameter actually occupies
// once groups have been packed.
func extractParamCiphertexts(pkg *updatepkg.Package, param string) ([]n2he.Ciphertext, error) {
	names := make([]string, 0, len(pkg.Manifest.CompressionMeta))
	for p := range pkg.Manifest.CompressionMeta {
		names = append(names, p)
	}
	sort.Strings(names)

	offset := 0
	for _, p := range names {
		meta := pkg.Manifest.CompressionMeta[p]
		if p == param {
			if offset+meta.PackedSlots > len(pkg.Payload) {
				return nil, fmt.Errorf("payload too short for parameter %q: need %d slots at offset %d, have %d", p, meta.PackedSlots, offset, len(pkg.Payload))
			}
			return pkg.Payload[offset : offset+meta.PackedSlots], nil
		}
		offset += meta.PackedSlots
	}
	return nil, fmt.Errorf("parameter %q not present in compression_meta", param)
}
