package model

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/austinkregel/local-media/moodd/internal/logging"
	"github.com/austinkregel/local-media/moodd/internal/metrics"
	"github.com/austinkregel/local-media/moodd/internal/types"
)

// BreakerConfig controls when the classifier is taken out of service
type BreakerConfig struct {
	Name string
	// FailureThreshold is the number of consecutive failures that opens the breaker
	FailureThreshold uint32
	// OpenTimeout is how long the breaker stays open before a trial request
	OpenTimeout time.Duration
}

// Guarded wraps a Classifier with a circuit breaker. Every failure,
// including a rejected call while open, is reported as ModelUnavailable.
type Guarded struct {
	inner Classifier
	cb    *gobreaker.CircuitBreaker[Prediction]
	name  string
	log   zerolog.Logger
}

// NewGuarded creates a guarded classifier
func NewGuarded(inner Classifier, cfg BreakerConfig) *Guarded {
	if cfg.Name == "" {
		cfg.Name = "classifier"
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 3
	}
	g := &Guarded{inner: inner, name: cfg.Name, log: logging.With("model")}

	metrics.BreakerState.WithLabelValues(cfg.Name).Set(0)
	g.cb = gobreaker.NewCircuitBreaker[Prediction](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			g.log.Info().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("breaker state changed")
			metrics.BreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})
	return g
}

// Predict calls the inner classifier through the breaker
func (g *Guarded) Predict(ctx context.Context, f types.AudioFeatures) (Prediction, error) {
	p, err := g.cb.Execute(func() (Prediction, error) {
		return g.inner.Predict(ctx, f)
	})
	if err != nil {
		return Prediction{}, types.E(types.KindModelUnavailable, "model", err)
	}
	return p, nil
}

// Enrich replaces the heuristic defaults with a prediction. On failure f is
// returned unchanged along with the error.
func (g *Guarded) Enrich(ctx context.Context, f types.AudioFeatures) (types.AudioFeatures, error) {
	p, err := g.Predict(ctx, f)
	if err != nil {
		return f, err
	}
	f.Instrumentalness = p.Instrumentalness
	f.Speechiness = p.Speechiness
	f.Liveness = p.Liveness
	f.Source = types.SourceModel
	return f, nil
}

// State returns the breaker state name
func (g *Guarded) State() string {
	return g.cb.State().String()
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
