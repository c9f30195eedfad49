package dsp

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/austinkregel/local-media/moodd/internal/types"
)

// Band boundaries (Hz)
const (
	bassMax        = 250.0
	midMax         = 4000.0
	brightnessFrom = 1500.0
	rolloffPercent = 0.85

	// MinFrameSize is the smallest FFT the analyzer accepts
	MinFrameSize = 64
)

// FrameAnalysis is the per-frame output of the spectral analyzer.
type FrameAnalysis struct {
	Spectral types.SpectralFeatures
	// Energy is RMS of the raw frame scaled into [0,1]
	Energy float64
	// CentroidHz and SpreadHz keep the unnormalized values for perceptual estimators
	CentroidHz float64
	SpreadHz   float64
	// RawFlux is the unnormalized positive spectral difference, used for onsets
	RawFlux float64
}

// SpectralAnalyzer computes spectral shape features frame by frame. It keeps
// the previous magnitude spectrum for flux, so it is not safe for concurrent use.
type SpectralAnalyzer struct {
	fft        *fourier.FFT
	frameSize  int
	sampleRate int
	binHz      float64

	coeffs    []complex128
	magnitude []float64
	power     []float64
	prev      []float64
	hasPrev   bool
}

// NewSpectralAnalyzer creates an analyzer for frames of frameSize samples.
func NewSpectralAnalyzer(frameSize, sampleRate int) (*SpectralAnalyzer, error) {
	if frameSize < MinFrameSize {
		return nil, types.Errorf(types.KindInsufficientData, "spectral",
			"frame size %d below minimum %d", frameSize, MinFrameSize)
	}
	if !isPowerOfTwo(frameSize) {
		return nil, types.Errorf(types.KindProcessingFailed, "spectral",
			"frame size %d is not a power of two", frameSize)
	}
	if sampleRate <= 0 {
		return nil, types.Errorf(types.KindInvalidAudioFormat, "spectral", "sample rate %d", sampleRate)
	}

	bins := frameSize / 2
	return &SpectralAnalyzer{
		fft:        fourier.NewFFT(frameSize),
		frameSize:  frameSize,
		sampleRate: sampleRate,
		binHz:      float64(sampleRate) / float64(frameSize),
		coeffs:     make([]complex128, frameSize/2+1),
		magnitude:  make([]float64, bins),
		power:      make([]float64, bins),
		prev:       make([]float64, bins),
	}, nil
}

// Reset forgets the previous spectrum so the next frame has zero flux.
func (a *SpectralAnalyzer) Reset() {
	a.hasPrev = false
	for i := range a.prev {
		a.prev[i] = 0
	}
}

// Analyze computes features for one frame. raw is the unwindowed frame used
// for energy; windowed feeds the FFT.
func (a *SpectralAnalyzer) Analyze(raw, windowed []float64) (FrameAnalysis, error) {
	if len(raw) != a.frameSize || len(windowed) != a.frameSize {
		return FrameAnalysis{}, types.Errorf(types.KindProcessingFailed, "spectral",
			"frame length %d/%d, expected %d", len(raw), len(windowed), a.frameSize)
	}
	for _, s := range windowed {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			return FrameAnalysis{}, types.Errorf(types.KindProcessingFailed, "spectral", "non-finite sample")
		}
	}

	a.coeffs = a.fft.Coefficients(a.coeffs, windowed)
	for i := range a.magnitude {
		re, im := real(a.coeffs[i]), imag(a.coeffs[i])
		a.power[i] = re*re + im*im
		a.magnitude[i] = math.Sqrt(a.power[i])
	}

	out := FrameAnalysis{Energy: clamp01(computeRMS(raw) * 10)}
	a.shape(&out)

	if a.hasPrev {
		out.RawFlux = positiveFlux(a.magnitude, a.prev)
		if sum := sumOf(a.magnitude); sum > 0 {
			out.Spectral.Flux = clamp01(out.RawFlux / sum)
		}
	}
	copy(a.prev, a.magnitude)
	a.hasPrev = true

	return out, nil
}

// shape fills every spectral field except flux and tempo.
func (a *SpectralAnalyzer) shape(out *FrameAnalysis) {
	var magSum, weighted, totalPower float64
	var bass, mid, treble, bright float64
	peak := 0.0

	for i, m := range a.magnitude {
		f := float64(i) * a.binHz
		p := a.power[i]
		magSum += m
		weighted += f * m
		totalPower += p
		if m > peak {
			peak = m
		}
		switch {
		case f < bassMax:
			bass += p
		case f < midMax:
			mid += p
		default:
			treble += p
		}
		if f >= brightnessFrom {
			bright += p
		}
	}

	if magSum == 0 || totalPower == 0 {
		return
	}

	quarter := float64(a.sampleRate) / 4
	nyquist := float64(a.sampleRate) / 2
	centroid := weighted / magSum

	var m2, m3, m4 float64
	for i, m := range a.magnitude {
		d := float64(i)*a.binHz - centroid
		d2 := d * d
		m2 += d2 * m
		m3 += d2 * d * m
		m4 += d2 * d2 * m
	}
	m2 /= magSum
	m3 /= magSum
	m4 /= magSum
	spread := math.Sqrt(m2)

	var skew, kurt float64
	if spread > 0 {
		skew = m3 / (spread * spread * spread)
		kurt = m4 / (m2 * m2)
	}

	s := &out.Spectral
	out.CentroidHz = centroid
	out.SpreadHz = spread
	s.Centroid = clamp01(centroid / quarter)
	s.Spread = clamp01(spread / quarter)
	s.Rolloff = clamp01(a.rolloffHz(totalPower) / nyquist)
	s.BassEnergy = bass / totalPower
	s.MidEnergy = mid / totalPower
	s.TrebleEnergy = treble / totalPower
	s.Brightness = bright / totalPower
	s.Flatness = clamp01(flatness(a.magnitude, magSum))
	s.Crest = clamp01(peak / (magSum / float64(len(a.magnitude))) / 100)
	s.Irregularity = clamp01(irregularity(a.magnitude, totalPower) / 2)
	s.Skewness = (math.Tanh(skew) + 1) / 2
	if kurt > 0 {
		s.Kurtosis = kurt / (kurt + 3)
	}
}

// rolloffHz is the frequency below which rolloffPercent of the power lies.
func (a *SpectralAnalyzer) rolloffHz(totalPower float64) float64 {
	threshold := totalPower * rolloffPercent
	var cum float64
	for i, p := range a.power {
		cum += p
		if cum >= threshold {
			return float64(i) * a.binHz
		}
	}
	return float64(len(a.power)) * a.binHz
}

func positiveFlux(cur, prev []float64) float64 {
	var flux float64
	for i := range cur {
		if d := cur[i] - prev[i]; d > 0 {
			flux += d
		}
	}
	return flux
}

func flatness(mag []float64, sum float64) float64 {
	const eps = 1e-12
	var logSum float64
	for _, m := range mag {
		logSum += math.Log(m + eps)
	}
	n := float64(len(mag))
	geo := math.Exp(logSum / n)
	arith := sum / n
	if arith <= eps {
		return 0
	}
	return geo / arith
}

func irregularity(mag []float64, power float64) float64 {
	var diff float64
	for i := 0; i+1 < len(mag); i++ {
		d := mag[i] - mag[i+1]
		diff += d * d
	}
	return diff / power
}

func computeRMS(frame []float64) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(frame)))
}

func sumOf(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Clamp01 limits v to [0,1], mapping NaN to 0.
func Clamp01(v float64) float64 { return clamp01(v) }
