package analysis

import (
	"github.com/austinkregel/local-media/moodd/internal/dsp"
	"github.com/austinkregel/local-media/moodd/internal/types"
)

// Aggregator averages frame analyses into track-level features.
type Aggregator struct {
	frames     int
	sum        types.SpectralFeatures
	energy     float64
	centroidHz float64
	spreadHz   float64
	rawFlux    []float64
}

// Add accumulates one frame.
func (g *Aggregator) Add(f dsp.FrameAnalysis) {
	s := f.Spectral
	g.sum.Centroid += s.Centroid
	g.sum.Spread += s.Spread
	g.sum.Rolloff += s.Rolloff
	g.sum.Flux += s.Flux
	g.sum.BassEnergy += s.BassEnergy
	g.sum.MidEnergy += s.MidEnergy
	g.sum.TrebleEnergy += s.TrebleEnergy
	g.sum.Brightness += s.Brightness
	g.sum.Flatness += s.Flatness
	g.sum.Crest += s.Crest
	g.sum.Irregularity += s.Irregularity
	g.sum.Skewness += s.Skewness
	g.sum.Kurtosis += s.Kurtosis

	g.energy += f.Energy
	g.centroidHz += f.CentroidHz
	g.spreadHz += f.SpreadHz
	g.rawFlux = append(g.rawFlux, f.RawFlux)
	g.frames++
}

// Frames returns the number of accumulated frames.
func (g *Aggregator) Frames() int { return g.frames }

// Flux returns the raw flux series in frame order.
func (g *Aggregator) Flux() []float64 { return g.rawFlux }

// Reset clears the aggregator for reuse.
func (g *Aggregator) Reset() {
	*g = Aggregator{rawFlux: g.rawFlux[:0]}
}

// Features computes the summary. tempo is supplied by the caller so the
// real-time tap can use a longer flux history than the aggregation window.
func (g *Aggregator) Features(tempo float64) types.AudioFeatures {
	if g.frames == 0 {
		return types.AudioFeatures{
			Tempo:            tempo,
			Instrumentalness: types.DefaultInstrumentalness,
			Speechiness:      types.DefaultSpeechiness,
			Liveness:         types.DefaultLiveness,
			Spectral:         types.SpectralFeatures{EstimatedTempo: tempo},
		}
	}

	n := float64(g.frames)
	mean := types.SpectralFeatures{
		Centroid:       g.sum.Centroid / n,
		Spread:         g.sum.Spread / n,
		Rolloff:        g.sum.Rolloff / n,
		Flux:           g.sum.Flux / n,
		BassEnergy:     g.sum.BassEnergy / n,
		MidEnergy:      g.sum.MidEnergy / n,
		TrebleEnergy:   g.sum.TrebleEnergy / n,
		Brightness:     g.sum.Brightness / n,
		Flatness:       g.sum.Flatness / n,
		Crest:          g.sum.Crest / n,
		Irregularity:   g.sum.Irregularity / n,
		Skewness:       g.sum.Skewness / n,
		Kurtosis:       g.sum.Kurtosis / n,
		EstimatedTempo: tempo,
	}
	energy := dsp.Clamp01(g.energy / n)
	centroidHz := g.centroidHz / n
	spreadHz := g.spreadHz / n

	return types.AudioFeatures{
		Tempo:            tempo,
		Energy:           energy,
		Valence:          Valence(centroidHz, mean.BassEnergy, mean.TrebleEnergy),
		Danceability:     Danceability(tempo, mean.Flux, energy),
		Acousticness:     Acousticness(centroidHz, spreadHz),
		Instrumentalness: types.DefaultInstrumentalness,
		Speechiness:      types.DefaultSpeechiness,
		Liveness:         types.DefaultLiveness,
		Spectral:         mean,
		Source:           types.SourceHeuristic,
	}
}
