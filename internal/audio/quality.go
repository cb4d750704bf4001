package audio

import "math"

// Metrics holds the derived signal quality of one segment.
type Metrics struct {
	RMS              float64
	ZeroCrossingRate float64
	NoiseScore       float64
}

// Estimator computes signal quality from raw samples. Stateless: the same
// input always yields the same metrics.
type Estimator struct {
	// ZCRWeight sets how much the zero-crossing rate contributes to the
	// noise score versus the inverted RMS term. Tunable, not a contract.
	ZCRWeight float64
	// RMSRef is the RMS level treated as a fully clean signal.
	RMSRef float64
}

// Measure computes RMS, zero-crossing rate and the combined noise score
// in [0,1] for a segment's samples.
func (e Estimator) Measure(samples []int16) Metrics {
	if len(samples) < 2 {
		return Metrics{}
	}

	var sumSquares float64
	for _, s := range samples {
		v := float64(s) / 32768.0
		sumSquares += v * v
	}
	rms := math.Sqrt(sumSquares / float64(len(samples)))

	var crossings int
	for i := 1; i < len(samples); i++ {
		if (samples[i-1] >= 0) != (samples[i] >= 0) {
			crossings++
		}
	}
	zcr := float64(crossings) / float64(len(samples)-1)

	// Noise rises with the zero-crossing rate and falls as the signal
	// level approaches RMSRef. Monotonic in both inputs.
	signal := rms / e.RMSRef
	if signal > 1 {
		signal = 1
	}
	score := e.ZCRWeight*zcr + (1-e.ZCRWeight)*(1-signal)

	return Metrics{
		RMS:              rms,
		ZeroCrossingRate: zcr,
		NoiseScore:       clamp01(score),
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
