package types

import "fmt"

// PCMBuffer is a block of interleaved float samples.
type PCMBuffer struct {
	Samples    []float64
	SampleRate int
	Channels   int
}

// Downmix averages interleaved channels into a mono slice.
func (b PCMBuffer) Downmix() ([]float64, error) {
	if b.Channels <= 0 {
		return nil, Errorf(KindInvalidAudioFormat, "downmix", "channel count %d", b.Channels)
	}
	if b.SampleRate <= 0 {
		return nil, Errorf(KindInvalidAudioFormat, "downmix", "sample rate %d", b.SampleRate)
	}
	if b.Channels == 1 {
		return b.Samples, nil
	}
	if len(b.Samples)%b.Channels != 0 {
		return nil, E(KindInvalidAudioFormat, "downmix",
			fmt.Errorf("%d samples is not a multiple of %d channels", len(b.Samples), b.Channels))
	}
	n := len(b.Samples) / b.Channels
	mono := make([]float64, n)
	for i := 0; i < n; i++ {
		var sum float64
		for ch := 0; ch < b.Channels; ch++ {
			sum += b.Samples[i*b.Channels+ch]
		}
		mono[i] = sum / float64(b.Channels)
	}
	return mono, nil
}

// PCM16ToMono converts interleaved 16-bit little-endian PCM to mono floats in [-1,1).
func PCM16ToMono(data []byte, channels int) []float64 {
	if channels <= 0 {
		return nil
	}
	bytesPerSample := 2
	numSamples := len(data) / (bytesPerSample * channels)

	samples := make([]float64, numSamples)
	for i := 0; i < numSamples; i++ {
		offset := i * bytesPerSample * channels
		var sum float64
		for ch := 0; ch < channels; ch++ {
			chOffset := offset + ch*bytesPerSample
			sample := int16(data[chOffset]) | int16(data[chOffset+1])<<8
			sum += float64(sample) / 32768.0
		}
		samples[i] = sum / float64(channels)
	}
	return samples
}
