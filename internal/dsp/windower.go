// Package dsp implements the frame-level signal processing: Hann windowing,
// FFT-based spectral shape features and autocorrelation tempo estimation.
package dsp

import (
	"iter"
	"math"

	"github.com/austinkregel/local-media/moodd/internal/types"
)

const (
	// DefaultFrameSize gives ~93ms frames at 44.1kHz
	DefaultFrameSize = 4096
	// DefaultHopSize is 50% overlap
	DefaultHopSize = 2048
)

// Frame is one window of the input signal.
type Frame struct {
	Index int
	Start int
	// Raw aliases the input samples.
	Raw []float64
	// Windowed is scratch reused for every frame; copy it to retain.
	Windowed []float64
}

// Windower slices a signal into overlapping Hann-windowed frames.
type Windower struct {
	frameSize int
	hopSize   int
	window    []float64
}

// NewWindower creates a windower. Both sizes must be powers of two and hop
// may not exceed the frame.
func NewWindower(frameSize, hopSize int) (*Windower, error) {
	if !isPowerOfTwo(frameSize) || !isPowerOfTwo(hopSize) || hopSize > frameSize {
		return nil, types.Errorf(types.KindConfigurationInvalid, "windower",
			"frame %d / hop %d must be powers of two with hop <= frame", frameSize, hopSize)
	}
	return &Windower{
		frameSize: frameSize,
		hopSize:   hopSize,
		window:    Hann(frameSize),
	}, nil
}

// FrameSize returns the window length.
func (w *Windower) FrameSize() int { return w.frameSize }

// HopSize returns the hop between frames.
func (w *Windower) HopSize() int { return w.hopSize }

// FrameCount is the number of whole frames that fit in n samples.
func (w *Windower) FrameCount(n int) int {
	if n < w.frameSize {
		return 0
	}
	return 1 + (n-w.frameSize)/w.hopSize
}

// Frames returns a lazy sequence over the frames of samples. The sequence
// can be ranged over any number of times.
func (w *Windower) Frames(samples []float64) (iter.Seq2[int, Frame], error) {
	if len(samples) < w.frameSize {
		return nil, types.Errorf(types.KindInsufficientData, "windower",
			"%d samples, need at least %d", len(samples), w.frameSize)
	}
	count := w.FrameCount(len(samples))

	return func(yield func(int, Frame) bool) {
		scratch := make([]float64, w.frameSize)
		for i := 0; i < count; i++ {
			start := i * w.hopSize
			raw := samples[start : start+w.frameSize]
			w.Apply(scratch, raw)
			if !yield(i, Frame{Index: i, Start: start, Raw: raw, Windowed: scratch}) {
				return
			}
		}
	}, nil
}

// Apply writes raw multiplied by the window into dst.
func (w *Windower) Apply(dst, raw []float64) {
	for i := range w.window {
		dst[i] = raw[i] * w.window[i]
	}
}

// Hann returns the symmetric Hann window of length n.
func Hann(n int) []float64 {
	window := make([]float64, n)
	if n == 1 {
		window[0] = 1
		return window
	}
	for i := range window {
		window[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return window
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}
