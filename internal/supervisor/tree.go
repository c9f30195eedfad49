// Package supervisor runs the daemon's long-lived services under a suture
// supervisor tree so a crashing service is restarted with backoff instead of
// taking the process down.
package supervisor

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"

	"github.com/austinkregel/local-media/moodd/internal/logging"
)

// TreeConfig holds supervisor tree configuration
type TreeConfig struct {
	// FailureThreshold is the number of failures before entering backoff
	FailureThreshold float64
	// FailureDecay is the rate at which failures decay, in seconds
	FailureDecay float64
	// FailureBackoff is how long to wait once the threshold is exceeded
	FailureBackoff time.Duration
	// ShutdownTimeout bounds how long each service gets to stop
	ShutdownTimeout time.Duration
}

// DefaultTreeConfig returns suture's own defaults
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Tree has two layers: analysis (worker and results pump) and core (engine
// loop, scheduler, metrics endpoint). A failing analysis layer does not
// stop the engine from serving recommendations.
type Tree struct {
	root     *suture.Supervisor
	analysis *suture.Supervisor
	core     *suture.Supervisor
	log      zerolog.Logger
}

// NewTree creates a supervisor tree. Zero config fields take defaults.
func NewTree(cfg TreeConfig) *Tree {
	def := DefaultTreeConfig()
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.FailureDecay == 0 {
		cfg.FailureDecay = def.FailureDecay
	}
	if cfg.FailureBackoff == 0 {
		cfg.FailureBackoff = def.FailureBackoff
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}

	log := logging.With("supervisor")
	childSpec := suture.Spec{
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}
	rootSpec := childSpec
	rootSpec.EventHook = func(e suture.Event) {
		switch e.Type() {
		case suture.EventTypeServicePanic, suture.EventTypeServiceTerminate:
			log.Warn().Fields(e.Map()).Msg(e.String())
		case suture.EventTypeBackoff, suture.EventTypeStopTimeout:
			log.Error().Fields(e.Map()).Msg(e.String())
		default:
			log.Info().Fields(e.Map()).Msg(e.String())
		}
	}

	root := suture.New("moodd", rootSpec)
	analysis := suture.New("analysis-layer", childSpec)
	core := suture.New("core-layer", childSpec)
	root.Add(analysis)
	root.Add(core)

	return &Tree{root: root, analysis: analysis, core: core, log: log}
}

// AddAnalysisService adds a service to the analysis layer
func (t *Tree) AddAnalysisService(svc suture.Service) suture.ServiceToken {
	return t.analysis.Add(svc)
}

// AddCoreService adds a service to the core layer
func (t *Tree) AddCoreService(svc suture.Service) suture.ServiceToken {
	return t.core.Add(svc)
}

// Serve runs the tree until ctx is cancelled
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// ServeBackground runs the tree in a goroutine. The channel receives the
// result once the tree stops.
func (t *Tree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}
