package engine

import "math"

// Confidence folds per-token log-probabilities into a single score in
// [0,1] via the geometric mean token probability. An empty sequence (no
// tokens recognized) yields 0.0 rather than an error.
func Confidence(tokenLogprobs []float64) float64 {
	if len(tokenLogprobs) == 0 {
		return 0.0
	}
	var sum float64
	for _, lp := range tokenLogprobs {
		sum += lp
	}
	conf := math.Exp(sum / float64(len(tokenLogprobs)))
	if conf < 0 {
		return 0
	}
	if conf > 1 {
		return 1
	}
	return conf
}
