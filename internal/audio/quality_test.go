package audio

import (
	"math"
	"testing"
)

func defaultEstimator() Estimator {
	return Estimator{ZCRWeight: 0.65, RMSRef: 0.15}
}

func TestMeasureSilence(t *testing.T) {
	e := defaultEstimator()
	m := e.Measure(make([]int16, 3200))
	if m.RMS != 0 {
		t.Fatalf("expected zero RMS for silence, got %f", m.RMS)
	}
	if m.ZeroCrossingRate != 0 {
		t.Fatalf("expected zero ZCR for silence, got %f", m.ZeroCrossingRate)
	}
	// Silence has no signal energy, so the RMS term reports full noise.
	want := 1 - 0.65
	if math.Abs(m.NoiseScore-want) > 1e-9 {
		t.Fatalf("expected noise score %f, got %f", want, m.NoiseScore)
	}
}

func TestMeasureAlternatingSignal(t *testing.T) {
	e := defaultEstimator()
	samples := make([]int16, 100)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = 16000
		} else {
			samples[i] = -16000
		}
	}
	m := e.Measure(samples)
	if m.ZeroCrossingRate != 1 {
		t.Fatalf("expected ZCR 1 for alternating signal, got %f", m.ZeroCrossingRate)
	}
	if math.Abs(m.RMS-16000.0/32768.0) > 1e-9 {
		t.Fatalf("unexpected RMS: %f", m.RMS)
	}
	// Loud signal saturates the RMS term, so only the ZCR term remains.
	if math.Abs(m.NoiseScore-0.65) > 1e-9 {
		t.Fatalf("expected noise score 0.65, got %f", m.NoiseScore)
	}
}

func TestMeasureDeterministic(t *testing.T) {
	e := defaultEstimator()
	samples := []int16{120, -340, 560, -780, 900, -1100, 1300, -1500, 1700, -1900}
	a := e.Measure(samples)
	b := e.Measure(samples)
	if a != b {
		t.Fatalf("expected identical metrics for identical input: %+v vs %+v", a, b)
	}
}

func TestMeasureMonotonicInZCR(t *testing.T) {
	e := defaultEstimator()
	steady := make([]int16, 200)
	alternating := make([]int16, 200)
	for i := range steady {
		steady[i] = 500
		if i%2 == 0 {
			alternating[i] = 500
		} else {
			alternating[i] = -500
		}
	}
	if e.Measure(alternating).NoiseScore <= e.Measure(steady).NoiseScore {
		t.Fatalf("expected higher noise for higher zero-crossing rate")
	}
}

func TestMeasureClampedToUnitInterval(t *testing.T) {
	e := Estimator{ZCRWeight: 1.0, RMSRef: 0.0001}
	samples := []int16{32767, -32768, 32767, -32768}
	m := e.Measure(samples)
	if m.NoiseScore < 0 || m.NoiseScore > 1 {
		t.Fatalf("noise score out of range: %f", m.NoiseScore)
	}
}
