package analysis

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/austinkregel/local-media/moodd/internal/dsp"
	"github.com/austinkregel/local-media/moodd/internal/logging"
	"github.com/austinkregel/local-media/moodd/internal/metrics"
	"github.com/austinkregel/local-media/moodd/internal/types"
)

// ExtractorConfig holds framing and tempo bounds for whole-signal analysis
type ExtractorConfig struct {
	FrameSize int
	HopSize   int
	MinBPM    float64
	MaxBPM    float64
}

// DefaultExtractorConfig returns 4096/2048 framing and 60-200 BPM bounds
func DefaultExtractorConfig() ExtractorConfig {
	return ExtractorConfig{
		FrameSize: dsp.DefaultFrameSize,
		HopSize:   dsp.DefaultHopSize,
		MinBPM:    dsp.DefaultMinBPM,
		MaxBPM:    dsp.DefaultMaxBPM,
	}
}

// Extractor turns complete mono signals into AudioFeatures. It holds no
// per-track state, so one Extractor can serve many goroutines.
type Extractor struct {
	cfg      ExtractorConfig
	windower *dsp.Windower
	tempo    dsp.TempoEstimator
	log      zerolog.Logger
}

// NewExtractor validates cfg and creates an extractor
func NewExtractor(cfg ExtractorConfig) (*Extractor, error) {
	w, err := dsp.NewWindower(cfg.FrameSize, cfg.HopSize)
	if err != nil {
		return nil, err
	}
	if _, err := dsp.NewSpectralAnalyzer(cfg.FrameSize, 44100); err != nil {
		return nil, err
	}
	return &Extractor{
		cfg:      cfg,
		windower: w,
		tempo:    dsp.NewTempoEstimator(cfg.MinBPM, cfg.MaxBPM),
		log:      logging.With("analysis"),
	}, nil
}

// ProcessPCM downmixes buf and extracts features from it
func (e *Extractor) ProcessPCM(ctx context.Context, buf types.PCMBuffer) (types.AudioFeatures, error) {
	mono, err := buf.Downmix()
	if err != nil {
		return types.AudioFeatures{}, err
	}
	return e.ProcessSamples(ctx, mono, buf.SampleRate)
}

// ProcessSamples extracts features from complete mono audio. Frames that fail
// analysis are skipped; if none succeed the whole call fails. Cancellation is
// checked between frames and no partial result is returned.
func (e *Extractor) ProcessSamples(ctx context.Context, samples []float64, sampleRate int) (types.AudioFeatures, error) {
	start := time.Now()

	analyzer, err := dsp.NewSpectralAnalyzer(e.cfg.FrameSize, sampleRate)
	if err != nil {
		return types.AudioFeatures{}, err
	}
	frames, err := e.windower.Frames(samples)
	if err != nil {
		return types.AudioFeatures{}, err
	}

	var agg Aggregator
	skipped := 0
	for _, f := range frames {
		if err := ctx.Err(); err != nil {
			return types.AudioFeatures{}, err
		}
		fa, err := analyzer.Analyze(f.Raw, f.Windowed)
		if err != nil {
			skipped++
			e.log.Debug().Err(err).Int("frame", f.Index).Msg("skipping frame")
			continue
		}
		agg.Add(fa)
	}

	metrics.FramesAnalyzed.WithLabelValues("batch").Add(float64(agg.Frames()))
	if skipped > 0 {
		metrics.FramesSkipped.WithLabelValues("batch").Add(float64(skipped))
	}
	if agg.Frames() == 0 {
		return types.AudioFeatures{}, types.Errorf(types.KindProcessingFailed, "extract",
			"all %d frames failed", skipped)
	}

	hopDuration := float64(e.cfg.HopSize) / float64(sampleRate)
	features := agg.Features(e.tempo.Estimate(agg.Flux(), hopDuration))

	metrics.AnalysisDuration.Observe(time.Since(start).Seconds())
	e.log.Debug().
		Int("frames", agg.Frames()).
		Int("skipped", skipped).
		Float64("tempo", features.Tempo).
		Dur("took", time.Since(start)).
		Msg("extracted features")

	return features, nil
}
