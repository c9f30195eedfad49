package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/austinkregel/local-media/moodd/internal/analysis"
	"github.com/austinkregel/local-media/moodd/internal/clock"
	"github.com/austinkregel/local-media/moodd/internal/engine"
)

// AnalysisWorker is the lifecycle of *analysis.Worker
type AnalysisWorker interface {
	Start(ctx context.Context) error
	Stop()
	Results() <-chan analysis.Result
}

// WorkerService runs the analysis worker and pumps its results into a
// channel that outlives worker restarts.
type WorkerService struct {
	worker AnalysisWorker
	out    chan<- analysis.Result
}

// NewWorkerService creates the worker service. Results are forwarded to out.
func NewWorkerService(w AnalysisWorker, out chan<- analysis.Result) *WorkerService {
	return &WorkerService{worker: w, out: out}
}

// Serve implements suture.Service
func (s *WorkerService) Serve(ctx context.Context) error {
	if err := s.worker.Start(ctx); err != nil {
		return fmt.Errorf("analysis worker start failed: %w", err)
	}
	defer s.worker.Stop()

	results := s.worker.Results()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r, ok := <-results:
			if !ok {
				return fmt.Errorf("analysis results closed")
			}
			select {
			case s.out <- r:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (s *WorkerService) String() string { return "analysis-worker" }

// EngineService runs the core event loop
type EngineService struct {
	core *engine.Core
	in   engine.Inputs
}

// NewEngineService creates the engine service
func NewEngineService(core *engine.Core, in engine.Inputs) *EngineService {
	return &EngineService{core: core, in: in}
}

// Serve implements suture.Service
func (s *EngineService) Serve(ctx context.Context) error {
	return s.core.Run(ctx, s.in)
}

func (s *EngineService) String() string { return "engine" }

// SchedulerService emits ticks for the engine's periodic work. Ticks are
// delivered on a channel so they are applied by the engine loop.
type SchedulerService struct {
	interval time.Duration
	clock    clock.Clock
	ticks    chan<- time.Time
}

// NewSchedulerService creates a scheduler ticking every interval
func NewSchedulerService(interval time.Duration, clk clock.Clock, ticks chan<- time.Time) *SchedulerService {
	if clk == nil {
		clk = clock.Real{}
	}
	return &SchedulerService{interval: interval, clock: clk, ticks: ticks}
}

// Serve implements suture.Service. The first tick is sent immediately.
func (s *SchedulerService) Serve(ctx context.Context) error {
	if s.interval <= 0 {
		return fmt.Errorf("scheduler interval must be positive, got %s", s.interval)
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case s.ticks <- s.clock.Now():
		case <-ctx.Done():
			return ctx.Err()
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *SchedulerService) String() string { return "scheduler" }
