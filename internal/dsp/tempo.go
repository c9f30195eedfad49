package dsp

import "math"

const (
	// DefaultTempo is returned when there is not enough onset evidence
	DefaultTempo = 120.0
	// DefaultMinBPM and DefaultMaxBPM bound every estimate
	DefaultMinBPM = 60.0
	DefaultMaxBPM = 200.0

	// onsetContext is the half-width (in frames) of the local mean removed from flux
	onsetContext = 3
)

// TempoEstimator turns a spectral flux series into a BPM estimate.
type TempoEstimator struct {
	MinBPM float64
	MaxBPM float64
}

// NewTempoEstimator creates an estimator bounded to [minBPM, maxBPM].
// Zero values fall back to the defaults.
func NewTempoEstimator(minBPM, maxBPM float64) TempoEstimator {
	if minBPM <= 0 {
		minBPM = DefaultMinBPM
	}
	if maxBPM <= minBPM {
		maxBPM = DefaultMaxBPM
	}
	return TempoEstimator{MinBPM: minBPM, MaxBPM: maxBPM}
}

// OnsetStrength rectifies flux against its local mean so sustained energy
// does not look like a beat.
func OnsetStrength(flux []float64) []float64 {
	onsets := make([]float64, len(flux))
	for i := range flux {
		lo := max(0, i-onsetContext)
		hi := min(len(flux), i+onsetContext+1)
		var sum float64
		for _, f := range flux[lo:hi] {
			sum += f
		}
		if d := flux[i] - sum/float64(hi-lo); d > 0 {
			onsets[i] = d
		}
	}
	return onsets
}

// Estimate returns the tempo in BPM for a flux series sampled every
// hopDuration seconds. It never fails: degenerate input yields the default
// tempo clamped into bounds.
func (e TempoEstimator) Estimate(flux []float64, hopDuration float64) float64 {
	fallback := e.clamp(DefaultTempo)
	if len(flux) < 2 || hopDuration <= 0 {
		return fallback
	}

	onsets := OnsetStrength(flux)

	minLag := int(math.Floor(60 / (e.MaxBPM * hopDuration)))
	maxLag := int(math.Floor(60 / (e.MinBPM * hopDuration)))
	if minLag < 1 {
		minLag = 1
	}
	if maxLag > len(onsets)/2 {
		maxLag = len(onsets) / 2
	}
	if maxLag < minLag {
		return fallback
	}

	bestLag := 0
	bestCorr := 0.0
	for lag := minLag; lag <= maxLag; lag++ {
		var corr float64
		for i := 0; i+lag < len(onsets); i++ {
			corr += onsets[i] * onsets[i+lag]
		}
		// strict comparison keeps the first maximum
		if corr > bestCorr {
			bestCorr = corr
			bestLag = lag
		}
	}
	if bestLag == 0 {
		return fallback
	}

	return e.clamp(60 / (float64(bestLag) * hopDuration))
}

func (e TempoEstimator) clamp(bpm float64) float64 {
	return math.Max(e.MinBPM, math.Min(e.MaxBPM, bpm))
}

// EstimateTempo estimates tempo with the default 60-200 BPM bounds.
func EstimateTempo(flux []float64, hopDuration float64) float64 {
	return NewTempoEstimator(DefaultMinBPM, DefaultMaxBPM).Estimate(flux, hopDuration)
}
