package main

import (
	"github.com/austinkregel/local-media/moodd/internal/analysis"
	"github.com/austinkregel/local-media/moodd/internal/config"
	"github.com/austinkregel/local-media/moodd/internal/engine"
	"github.com/austinkregel/local-media/moodd/internal/logging"
	"github.com/austinkregel/local-media/moodd/internal/model"
	"github.com/austinkregel/local-media/moodd/internal/store"
)

func newExtractor(cfg *config.Config) (*analysis.Extractor, error) {
	return analysis.NewExtractor(analysis.ExtractorConfig{
		FrameSize: cfg.Audio.FrameSize,
		HopSize:   cfg.Audio.HopSize,
		MinBPM:    cfg.Tempo.MinBPM,
		MaxBPM:    cfg.Tempo.MaxBPM,
	})
}

func newTap(cfg *config.Config) (*analysis.Tap, error) {
	return analysis.NewTap(analysis.TapConfig{
		SampleRate:   cfg.Audio.SampleRate,
		FrameSize:    cfg.Audio.FrameSize,
		HopSize:      cfg.Audio.HopSize,
		MinBPM:       cfg.Tempo.MinBPM,
		MaxBPM:       cfg.Tempo.MaxBPM,
		PublishEvery: cfg.RealTime.PublishEvery,
		TempoFrames:  cfg.RealTime.TempoFrames,
		Deadline:     cfg.RealTime.Deadline,
		PoolSize:     cfg.RealTime.PoolSize,
	}, nil)
}

// newEnricher returns nil when no external classifier is configured or it
// cannot be found; analysis then keeps the heuristic defaults.
func newEnricher(cfg *config.Config) analysis.FeatureEnricher {
	if cfg.Model.Command == "" {
		return nil
	}
	c, err := model.NewCommandClassifier(cfg.Model.Command, cfg.Model.Timeout)
	if err != nil {
		logging.Warn().Err(err).Msg("external classifier unavailable, using heuristics")
		return nil
	}
	return model.NewGuarded(c, model.BreakerConfig{
		Name:             "classifier",
		FailureThreshold: cfg.Model.FailureThreshold,
		OpenTimeout:      cfg.Model.OpenTimeout,
	})
}

func newWorker(cfg *config.Config, cache *analysis.FeatureCache, isPlaying func() bool) (*analysis.Worker, error) {
	ext, err := newExtractor(cfg)
	if err != nil {
		return nil, err
	}
	dec := analysis.NewDecoder()
	if !dec.HasFFmpeg() {
		logging.Info().Msg("ffmpeg not found, only WAV and MP3 files can be analysed")
	}
	return analysis.NewWorker(analysis.WorkerConfig{
		MaxWorkers:      cfg.Worker.MaxWorkers,
		QueueSize:       cfg.Worker.QueueSize,
		Throttle:        cfg.Worker.Throttle,
		PlayingThrottle: cfg.Worker.PlayingThrottle,
		IsPlayingFunc:   isPlaying,
		Extractor:       ext,
		Decoder:         dec,
		Cache:           cache,
		Enricher:        newEnricher(cfg),
	})
}

// openStore returns nil when persistence is disabled
func openStore(cfg *config.Config) (*store.Store, error) {
	if !cfg.Store.Enabled {
		return nil, nil
	}
	return store.Open(cfg.Store.Path)
}

func newCore(cfg *config.Config, st *store.Store, cache *analysis.FeatureCache) (*engine.Core, error) {
	opts := engine.OptionsFrom(cfg)
	if st != nil {
		opts.Store = st
	}
	opts.Cache = cache
	return engine.New(opts)
}

// warmCache loads stored features into the cache so unchanged files are
// not decoded again
func warmCache(st *store.Store, cache *analysis.FeatureCache) {
	if st == nil {
		return
	}
	all, err := st.AllFeatures()
	if err != nil {
		logging.Warn().Err(err).Msg("failed to read stored features")
		return
	}
	for _, sf := range all {
		if sf.Version >= store.FeatureVersion {
			cache.Put(sf.Signature, sf.Features)
		}
	}
}
