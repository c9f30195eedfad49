package analysis

import (
	"math"

	"github.com/austinkregel/local-media/moodd/internal/dsp"
)

// Reference ranges (Hz) used to map centroid and spread into perceptual scales
const (
	centroidLowHz  = 500.0
	centroidHighHz = 5000.0
	spreadLowHz    = 500.0
	spreadHighHz   = 2000.0
	danceTempo     = 120.0
	danceTempoSpan = 60.0
)

// normalize maps x linearly so lo->0 and hi->1. The result is not clamped.
func normalize(x, lo, hi float64) float64 {
	return (x - lo) / (hi - lo)
}

// Valence estimates musical positivity from brightness and band balance.
func Valence(centroidHz, bass, treble float64) float64 {
	return dsp.Clamp01(0.4*normalize(centroidHz, centroidLowHz, centroidHighHz) + 0.2*bass + 0.4*treble)
}

// Danceability favours tempos near 120 BPM with strong onsets and energy.
func Danceability(tempo, flux, energy float64) float64 {
	tempoScore := 1 - math.Abs(tempo-danceTempo)/danceTempoSpan
	return dsp.Clamp01(0.4*tempoScore + 0.3*math.Min(flux*5, 1) + 0.3*math.Min(energy*2, 1))
}

// Acousticness treats dark, widely spread spectra as acoustic.
func Acousticness(centroidHz, spreadHz float64) float64 {
	return dsp.Clamp01(0.6*(1-normalize(centroidHz, centroidLowHz, centroidHighHz)) +
		0.4*normalize(spreadHz, spreadLowHz, spreadHighHz))
}
