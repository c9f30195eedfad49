package analysis

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/austinkregel/local-media/moodd/internal/logging"
	"github.com/austinkregel/local-media/moodd/internal/metrics"
	"github.com/austinkregel/local-media/moodd/internal/types"
)

// ErrQueueFull is returned by Submit when the job queue is at capacity
var ErrQueueFull = errors.New("analysis queue full")

// ErrNotRunning is returned by Submit before Start or after Stop
var ErrNotRunning = errors.New("analysis worker not running")

// AnalysisStatus represents the current state of background analysis
type AnalysisStatus struct {
	Status     string `json:"status"` // "idle", "running", "paused"
	Queued     int    `json:"queued"`
	Analyzed   int    `json:"analyzed"`
	InProgress int    `json:"inProgress"`
	Failed     int    `json:"failed"`
	Cached     int    `json:"cached"`
	StartedAt  int64  `json:"startedAt,omitempty"`
}

// Job is one unit of analysis: a file on disk or an in-memory buffer
type Job struct {
	ID   string
	Path string
	// PCM, when set, is analysed directly and Path is informational
	PCM *types.PCMBuffer
}

// Result is delivered on the worker's results channel for every job
type Result struct {
	JobID     string
	Path      string
	Signature string
	Features  types.AudioFeatures
	Cached    bool
	Duration  time.Duration
	Err       error
}

// FileDecoder decodes audio files; *Decoder satisfies it
type FileDecoder interface {
	DecodeFile(ctx context.Context, path string) (types.PCMBuffer, error)
}

// FeatureEnricher fills perceptual fields the heuristics cannot estimate.
// Failures leave the heuristic defaults in place.
type FeatureEnricher interface {
	Enrich(ctx context.Context, f types.AudioFeatures) (types.AudioFeatures, error)
}

// WorkerConfig contains configuration for the analysis worker
type WorkerConfig struct {
	MaxWorkers      int           // Maximum concurrent analysis workers (0 = NumCPU - 1)
	QueueSize       int           // Pending job capacity
	Throttle        time.Duration // Spacing between job starts when idle
	PlayingThrottle time.Duration // Spacing between job starts during playback
	IsPlayingFunc   func() bool   // Function to check playback state
	Extractor       *Extractor
	Decoder         FileDecoder
	Cache           *FeatureCache   // optional
	Enricher        FeatureEnricher // optional
}

// Worker performs background audio analysis
type Worker struct {
	mu sync.Mutex

	cfg       WorkerConfig
	limiter   *rate.Limiter
	isPlaying func() bool
	log       zerolog.Logger

	jobs    chan Job
	results chan Result

	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	isRunning  bool
	isPaused   bool
	resumeChan chan struct{}
	startedAt  time.Time

	// per-job cancellation
	pending   map[string]bool
	active    map[string]context.CancelFunc
	cancelled map[string]bool

	analyzedCount   int64
	failedCount     int64
	cachedCount     int64
	inProgressCount int64
}

// NewWorker creates a new background analysis worker
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.Extractor == nil {
		return nil, fmt.Errorf("worker requires an extractor")
	}
	if cfg.Decoder == nil {
		cfg.Decoder = NewDecoder()
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = runtime.NumCPU() - 1
		if cfg.MaxWorkers < 1 {
			cfg.MaxWorkers = 1
		}
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}

	w := &Worker{
		cfg:        cfg,
		limiter:    rate.NewLimiter(limitFor(cfg.Throttle), 1),
		isPlaying:  cfg.IsPlayingFunc,
		log:        logging.With("worker"),
		resumeChan: make(chan struct{}),
		pending:    make(map[string]bool),
		active:     make(map[string]context.CancelFunc),
		cancelled:  make(map[string]bool),
	}
	return w, nil
}

func limitFor(d time.Duration) rate.Limit {
	if d <= 0 {
		return rate.Inf
	}
	return rate.Every(d)
}

// Start launches the worker goroutines. Results are delivered until Stop.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.isRunning {
		return fmt.Errorf("analysis already running")
	}

	w.ctx, w.cancel = context.WithCancel(ctx)
	w.jobs = make(chan Job, w.cfg.QueueSize)
	w.results = make(chan Result, w.cfg.QueueSize)
	w.isRunning = true
	w.isPaused = false
	w.startedAt = time.Now()
	atomic.StoreInt64(&w.analyzedCount, 0)
	atomic.StoreInt64(&w.failedCount, 0)
	atomic.StoreInt64(&w.cachedCount, 0)

	w.log.Info().Int("workers", w.cfg.MaxWorkers).Int("queue", w.cfg.QueueSize).Msg("starting analysis workers")

	for i := 0; i < w.cfg.MaxWorkers; i++ {
		w.wg.Add(1)
		go func(id int) {
			defer w.wg.Done()
			w.worker(id)
		}(i)
	}
	return nil
}

// Results returns the channel on which every job's result is delivered.
// It is closed by Stop.
func (w *Worker) Results() <-chan Result {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.results
}

// Submit queues a job without blocking and returns its ID
func (w *Worker) Submit(job Job) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.isRunning {
		return "", ErrNotRunning
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}

	select {
	case w.jobs <- job:
		w.pending[job.ID] = true
		metrics.QueueDepth.Set(float64(len(w.jobs)))
		return job.ID, nil
	default:
		return "", ErrQueueFull
	}
}

// Cancel aborts a queued or running job. It reports whether the job was
// still pending or running.
func (w *Worker) Cancel(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if cancel, ok := w.active[id]; ok {
		cancel()
		return true
	}
	if w.pending[id] {
		w.cancelled[id] = true
		return true
	}
	return false
}

// Stop cancels all work, waits for workers to exit and closes Results
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return
	}
	w.isRunning = false
	w.cancel()
	if w.isPaused {
		w.isPaused = false
		close(w.resumeChan)
		w.resumeChan = make(chan struct{})
	}
	w.mu.Unlock()

	w.wg.Wait()

	w.mu.Lock()
	close(w.results)
	w.pending = make(map[string]bool)
	w.cancelled = make(map[string]bool)
	w.mu.Unlock()

	w.log.Info().
		Int64("analyzed", atomic.LoadInt64(&w.analyzedCount)).
		Int64("failed", atomic.LoadInt64(&w.failedCount)).
		Msg("analysis workers stopped")
}

// Pause stops workers from taking new jobs
func (w *Worker) Pause() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.isRunning || w.isPaused {
		return
	}
	w.isPaused = true
}

// Resume resumes paused analysis
func (w *Worker) Resume() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.isRunning || !w.isPaused {
		return
	}
	w.isPaused = false
	close(w.resumeChan)
	w.resumeChan = make(chan struct{})
}

// GetStatus returns the current analysis status
func (w *Worker) GetStatus() AnalysisStatus {
	w.mu.Lock()
	defer w.mu.Unlock()

	status := AnalysisStatus{Status: "idle"}
	if w.isRunning {
		status.Status = "running"
		status.Queued = len(w.jobs)
		status.StartedAt = w.startedAt.Unix()
		if w.isPaused {
			status.Status = "paused"
		}
	}
	status.Analyzed = int(atomic.LoadInt64(&w.analyzedCount))
	status.Failed = int(atomic.LoadInt64(&w.failedCount))
	status.Cached = int(atomic.LoadInt64(&w.cachedCount))
	status.InProgress = int(atomic.LoadInt64(&w.inProgressCount))
	return status
}

// IsRunning returns whether the worker is accepting jobs
func (w *Worker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.isRunning
}

// adjustThrottle tightens spacing while playback is active
func (w *Worker) adjustThrottle() {
	d := w.cfg.Throttle
	if w.isPlaying != nil && w.isPlaying() {
		d = w.cfg.PlayingThrottle
	}
	if l := limitFor(d); w.limiter.Limit() != l {
		w.limiter.SetLimit(l)
	}
}

// worker processes jobs from the queue until the worker context ends
func (w *Worker) worker(id int) {
	for {
		// Check for pause
		w.mu.Lock()
		isPaused := w.isPaused
		resumeChan := w.resumeChan
		w.mu.Unlock()

		if isPaused {
			select {
			case <-w.ctx.Done():
				return
			case <-resumeChan:
			}
		}

		var job Job
		select {
		case <-w.ctx.Done():
			return
		case job = <-w.jobs:
		}
		metrics.QueueDepth.Set(float64(len(w.jobs)))

		w.adjustThrottle()
		if err := w.limiter.Wait(w.ctx); err != nil {
			return
		}

		jobCtx, cancel := context.WithCancel(w.ctx)
		w.mu.Lock()
		delete(w.pending, job.ID)
		if w.cancelled[job.ID] {
			delete(w.cancelled, job.ID)
			cancel()
		} else {
			w.active[job.ID] = cancel
		}
		w.mu.Unlock()

		atomic.AddInt64(&w.inProgressCount, 1)
		result := w.analyze(jobCtx, job)
		atomic.AddInt64(&w.inProgressCount, -1)

		w.mu.Lock()
		delete(w.active, job.ID)
		w.mu.Unlock()
		cancel()

		switch {
		case result.Err != nil:
			atomic.AddInt64(&w.failedCount, 1)
			metrics.AnalysisJobs.WithLabelValues("failed").Inc()
			w.log.Warn().Int("worker", id).Str("path", job.Path).Err(result.Err).Msg("analysis failed")
		case result.Cached:
			atomic.AddInt64(&w.cachedCount, 1)
			metrics.AnalysisJobs.WithLabelValues("cached").Inc()
		default:
			atomic.AddInt64(&w.analyzedCount, 1)
			metrics.AnalysisJobs.WithLabelValues("analyzed").Inc()
		}

		w.deliver(result)
	}
}

func (w *Worker) deliver(r Result) {
	select {
	case w.results <- r:
	case <-w.ctx.Done():
	}
}

// analyze runs one job. Cancellation yields an error result, never partial features.
func (w *Worker) analyze(ctx context.Context, job Job) (result Result) {
	start := time.Now()
	result = Result{JobID: job.ID, Path: job.Path}
	defer func() { result.Duration = time.Since(start) }()

	if err := ctx.Err(); err != nil {
		result.Err = err
		return result
	}

	var pcm types.PCMBuffer
	if job.PCM != nil {
		pcm = *job.PCM
	} else {
		sig, err := FileSignature(job.Path)
		if err != nil {
			result.Err = fmt.Errorf("signature: %w", err)
			return result
		}
		result.Signature = sig

		if w.cfg.Cache != nil {
			if f, ok := w.cfg.Cache.Get(sig); ok {
				result.Features = f
				result.Cached = true
				return result
			}
		}

		pcm, err = w.cfg.Decoder.DecodeFile(ctx, job.Path)
		if err != nil {
			result.Err = fmt.Errorf("decode failed: %w", err)
			return result
		}
	}

	features, err := w.cfg.Extractor.ProcessPCM(ctx, pcm)
	if err != nil {
		result.Err = err
		return result
	}

	if w.cfg.Enricher != nil {
		enriched, err := w.cfg.Enricher.Enrich(ctx, features)
		if err != nil {
			w.log.Debug().Err(err).Str("path", job.Path).Msg("keeping heuristic perceptual features")
		} else {
			features = enriched
		}
	}

	if w.cfg.Cache != nil && result.Signature != "" {
		w.cfg.Cache.Put(result.Signature, features)
	}

	result.Features = features
	return result
}
