// Package metrics exposes Prometheus instrumentation for the analysis
// pipeline, the real-time tap and the mood/personality state.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// FramesAnalyzed counts frames that produced features, by path (batch or realtime).
	FramesAnalyzed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moodd_frames_analyzed_total",
			Help: "Total number of audio frames analyzed",
		},
		[]string{"path"},
	)

	// FramesSkipped counts malformed frames dropped from aggregation.
	FramesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moodd_frames_skipped_total",
			Help: "Total number of audio frames skipped due to processing errors",
		},
		[]string{"path"},
	)

	// AnalysisDuration tracks whole-track extraction time.
	AnalysisDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "moodd_analysis_duration_seconds",
			Help:    "Duration of whole-track feature extraction in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	// AnalysisJobs counts finished background jobs by outcome.
	AnalysisJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moodd_analysis_jobs_total",
			Help: "Total number of background analysis jobs by outcome",
		},
		[]string{"outcome"},
	)

	// QueueDepth is the number of jobs waiting for a worker.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "moodd_analysis_queue_depth",
			Help: "Number of analysis jobs waiting in the queue",
		},
	)

	// TapDeadlineMisses counts real-time buffers that overran their deadline.
	TapDeadlineMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "moodd_tap_deadline_misses_total",
			Help: "Total number of real-time buffers processed past their deadline",
		},
	)

	// CacheLookups counts feature cache lookups by result (hit, miss, expired).
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moodd_feature_cache_lookups_total",
			Help: "Total number of feature cache lookups by result",
		},
		[]string{"result"},
	)

	// MoodTransitions counts state changes by destination category.
	MoodTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moodd_mood_transitions_total",
			Help: "Total number of mood state transitions by new category",
		},
		[]string{"mood"},
	)

	// MoodConfidence is the current mood confidence.
	MoodConfidence = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "moodd_mood_confidence",
			Help: "Confidence of the current mood state",
		},
	)

	// TraitWeight is the current weight of each personality trait.
	TraitWeight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "moodd_personality_trait_weight",
			Help: "Current personality trait weights",
		},
		[]string{"trait"},
	)

	// BreakerState is the external classifier circuit state (0 closed, 1 half-open, 2 open).
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "moodd_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)

	// IPCRequests counts control socket requests by command and outcome.
	IPCRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moodd_ipc_requests_total",
			Help: "Control socket requests by command and outcome",
		},
		[]string{"cmd", "outcome"},
	)

	// IPCPushesDropped counts feature pushes a slow subscriber missed.
	IPCPushesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "moodd_ipc_pushes_dropped_total",
			Help: "Feature pushes dropped because a subscriber fell behind",
		},
	)
)

// Server serves /metrics until its context is cancelled.
type Server struct {
	Addr string
}

// Serve implements suture.Service.
func (s *Server) Serve(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) String() string { return "metrics-server" }
