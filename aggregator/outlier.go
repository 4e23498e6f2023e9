package aggregator

import (
	"fmt"

	"github.com/montanaflynn/stats"
)

// FilterOutliers rejects any worker whose pre-clip gradient norm is
// more than madK median-absolute-deviations from the quorum's median,
// returning the IDs kept and the IDs rejected with a human-readable
// reason.
func FilterOutliers(norms map[string]float64, madK float64) (kept []string, rejectedReasons map[string]string, err error) {
	if len(norms) == 0 {
		return nil, nil, nil
	}

	values := make([]float64, 0, len(norms))
	ids := make([]string, 0, len(norms))
	for id, n := range norms {
		values = append(values, n)
		ids = append(ids, id)
	}

	median, err := stats.Median(values)
	if err != nil {
		return nil, nil, fmt.Errorf("aggregator: median: %w", err)
	}
	mad, err := stats.MedianAbsoluteDeviation(values)
	if err != nil {
		return nil, nil, fmt.Errorf("aggregator: mad: %w", err)
	}

	rejectedReasons = make(map[string]string)
	// Compared as |x - median| > madK*MAD rather than dividing by MAD,
	// so a zero MAD (a majority agreeing exactly) still rejects any
	// reporter that differs from the median.
	for _, id := range ids {
		dev := norms[id] - median
		if dev < 0 {
			dev = -dev
		}
		if dev > madK*mad {
			rejectedReasons[id] = fmt.Sprintf("gradient_l2_pre_clip %.6f is %.6f from median %.6f (limit %.2f x MAD %.6f)", norms[id], dev, median, madK, mad)
			continue
		}
		kept = append(kept, id)
	}
	return kept, rejectedReasons, nil
}
