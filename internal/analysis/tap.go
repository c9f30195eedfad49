package analysis

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/austinkregel/local-media/moodd/internal/clock"
	"github.com/austinkregel/local-media/moodd/internal/dsp"
	"github.com/austinkregel/local-media/moodd/internal/logging"
	"github.com/austinkregel/local-media/moodd/internal/metrics"
	"github.com/austinkregel/local-media/moodd/internal/types"
)

// FeatureCallback is called when the tap publishes new features
type FeatureCallback func(types.AudioFeatures)

// TapConfig configures the real-time tap
type TapConfig struct {
	SampleRate int
	FrameSize  int
	HopSize    int
	MinBPM     float64
	MaxBPM     float64
	// PublishEvery is the number of analysed frames per published summary
	PublishEvery int
	// TempoFrames is the length of the rolling flux history used for tempo
	TempoFrames int
	// Deadline bounds the time spent on one buffer
	Deadline time.Duration
	PoolSize int
}

// Tap analyses live audio buffer by buffer. Samples go into a ring of one
// frame; every hop a frame is analysed, and every PublishEvery frames the
// running summary is published to the callback.
type Tap struct {
	mu sync.RWMutex

	cfg      TapConfig
	windower *dsp.Windower
	analyzer *dsp.SpectralAnalyzer
	tempo    dsp.TempoEstimator
	pool     *BufferPool
	clock    clock.Clock
	log      zerolog.Logger

	ring       []float64
	ringIndex  int
	untilFrame int
	frameRaw   []float64
	frameWin   []float64

	agg         Aggregator
	fluxHistory []float64

	latest   types.AudioFeatures
	ready    bool
	misses   int64
	callback FeatureCallback
}

// NewTap creates a tap. A nil clock uses the wall clock.
func NewTap(cfg TapConfig, clk clock.Clock) (*Tap, error) {
	w, err := dsp.NewWindower(cfg.FrameSize, cfg.HopSize)
	if err != nil {
		return nil, err
	}
	a, err := dsp.NewSpectralAnalyzer(cfg.FrameSize, cfg.SampleRate)
	if err != nil {
		return nil, err
	}
	if cfg.PublishEvery < 1 {
		cfg.PublishEvery = 1
	}
	if cfg.TempoFrames < 2 {
		cfg.TempoFrames = 256
	}
	if clk == nil {
		clk = clock.Real{}
	}

	return &Tap{
		cfg:         cfg,
		windower:    w,
		analyzer:    a,
		tempo:       dsp.NewTempoEstimator(cfg.MinBPM, cfg.MaxBPM),
		pool:        NewBufferPool(cfg.PoolSize, cfg.HopSize),
		clock:       clk,
		log:         logging.With("tap"),
		ring:        make([]float64, cfg.FrameSize),
		untilFrame:  cfg.FrameSize,
		frameRaw:    make([]float64, cfg.FrameSize),
		frameWin:    make([]float64, cfg.FrameSize),
		fluxHistory: make([]float64, 0, cfg.TempoFrames),
	}, nil
}

// Pool returns the buffer pool callers should draw buffers from
func (t *Tap) Pool() *BufferPool { return t.pool }

// ProcessBuffer consumes buf and returns it to the pool. Frames that would
// start after the deadline are dropped and the call reports ErrTimeout;
// the last published features are kept.
func (t *Tap) ProcessBuffer(buf *Buffer) error {
	defer t.pool.Put(buf)

	var publish bool
	var features types.AudioFeatures
	var timedOut bool

	t.mu.Lock()
	start := t.clock.Now()
	for _, s := range buf.Samples {
		t.ring[t.ringIndex] = s
		t.ringIndex = (t.ringIndex + 1) % len(t.ring)
		t.untilFrame--
		if t.untilFrame > 0 {
			continue
		}
		t.untilFrame = t.cfg.HopSize

		if t.clock.Now().Sub(start) > t.cfg.Deadline {
			timedOut = true
			continue
		}
		if t.analyzeFrame() {
			publish = true
			features = t.latest
		}
	}
	if timedOut {
		t.misses++
	}
	callback := t.callback
	t.mu.Unlock()

	if timedOut {
		metrics.TapDeadlineMisses.Inc()
	}
	// Call callback outside of lock
	if publish && callback != nil {
		callback(features)
	}
	if timedOut {
		return types.Errorf(types.KindTimeout, "tap", "buffer exceeded %v deadline", t.cfg.Deadline)
	}
	return nil
}

// ProcessPCM16 converts interleaved 16-bit PCM to mono and processes it
func (t *Tap) ProcessPCM16(data []byte, channels int) error {
	buf := t.pool.Get()
	buf.Samples = append(buf.Samples, types.PCM16ToMono(data, channels)...)
	return t.ProcessBuffer(buf)
}

// analyzeFrame must be called with mu held. It reports whether new
// features were published.
func (t *Tap) analyzeFrame() bool {
	// Read from circular buffer in correct order
	n := len(t.ring)
	for i := 0; i < n; i++ {
		t.frameRaw[i] = t.ring[(t.ringIndex+i)%n]
	}
	t.windower.Apply(t.frameWin, t.frameRaw)

	fa, err := t.analyzer.Analyze(t.frameRaw, t.frameWin)
	if err != nil {
		metrics.FramesSkipped.WithLabelValues("realtime").Inc()
		t.log.Debug().Err(err).Msg("dropping frame")
		return false
	}
	metrics.FramesAnalyzed.WithLabelValues("realtime").Inc()

	t.agg.Add(fa)
	if len(t.fluxHistory) == t.cfg.TempoFrames {
		copy(t.fluxHistory, t.fluxHistory[1:])
		t.fluxHistory = t.fluxHistory[:len(t.fluxHistory)-1]
	}
	t.fluxHistory = append(t.fluxHistory, fa.RawFlux)

	if t.agg.Frames() < t.cfg.PublishEvery {
		return false
	}

	hopDuration := float64(t.cfg.HopSize) / float64(t.cfg.SampleRate)
	t.latest = t.agg.Features(t.tempo.Estimate(t.fluxHistory, hopDuration))
	t.ready = true
	t.agg.Reset()
	return true
}

// Latest returns the most recently published features
func (t *Tap) Latest() (types.AudioFeatures, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.latest, t.ready
}

// Misses returns how many buffers overran the deadline
func (t *Tap) Misses() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.misses
}

// SetCallback registers a callback that is called when new features are ready
func (t *Tap) SetCallback(cb FeatureCallback) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callback = cb
}

// Reset clears the tap state, e.g. on track change
func (t *Tap) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.ring {
		t.ring[i] = 0
	}
	t.ringIndex = 0
	t.untilFrame = t.cfg.FrameSize
	t.agg.Reset()
	t.fluxHistory = t.fluxHistory[:0]
	t.analyzer.Reset()
	t.latest = types.AudioFeatures{}
	t.ready = false
}
