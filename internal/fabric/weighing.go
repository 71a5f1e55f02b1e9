package fabric

import (
	"github.com/tricot-erp/tricot-erp/internal/shared"
)

// ResolveRollWeights turns an ascending vector of cumulative scale
// readings into per-roll weights. Reading i is the scale display after
// roll i is added on top of rolls 1..i-1, so w[i] = r[i] − r[i−1] with
// r[0] = 0. The final reading is the lot total.
//
// Equal consecutive readings yield a zero-weight roll, which is legal.
// A reading count that differs from the declared roll count, a negative
// reading, or a strictly decreasing step all reject the vector.
func ResolveRollWeights(readings []float64, rolls int) (weights []float64, total float64, err error) {
	if len(readings) != rolls {
		return nil, 0, shared.InvalidReading("got %d readings for %d rolls", len(readings), rolls)
	}
	weights = make([]float64, 0, len(readings))
	prev := 0.0
	for i, r := range readings {
		if r < 0 {
			return nil, 0, shared.InvalidReading("reading %d is negative: %.2f", i+1, r)
		}
		if r < prev {
			return nil, 0, shared.InvalidReading("reading %d (%.2f) is below reading %d (%.2f)", i+1, r, i, prev)
		}
		weights = append(weights, r-prev)
		prev = r
	}
	return weights, prev, nil
}
