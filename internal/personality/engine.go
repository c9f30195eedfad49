// Package personality accumulates listener trait weights from interaction
// events and listening sessions and picks a dominant trait.
package personality

import (
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/austinkregel/local-media/moodd/internal/logging"
	"github.com/austinkregel/local-media/moodd/internal/metrics"
	"github.com/austinkregel/local-media/moodd/internal/types"
)

// Weights holds one weight per trait, indexed by types.Trait
type Weights [types.NumTraits]float64

// Sum returns the total weight
func (w Weights) Sum() float64 {
	s := 0.0
	for _, v := range w {
		s += v
	}
	return s
}

// Snapshot is a point-in-time copy of the engine state
type Snapshot struct {
	Weights  Weights     `json:"weights"`
	Dominant types.Trait `json:"dominant"`
	// Established is false until some trait has stood out enough to commit
	Established bool `json:"established"`
}

// Config tunes step sizes, normalization and dominance. SwitchMargin is the
// lead a candidate needs over an established dominant to replace it.
type Config struct {
	SmallStep             float64
	MediumStep            float64
	LargeStep             float64
	NormalizationTarget   float64
	SignificanceThreshold float64
	SwitchMargin          float64
}

// DefaultConfig returns the stock tuning
func DefaultConfig() Config {
	return Config{
		SmallStep:             0.02,
		MediumStep:            0.05,
		LargeStep:             0.10,
		NormalizationTarget:   3.0,
		SignificanceThreshold: 0.3,
		SwitchMargin:          0.1,
	}
}

func (c Config) validate() error {
	for _, s := range []float64{c.SmallStep, c.MediumStep, c.LargeStep} {
		if s <= 0 || s > 1 {
			return types.Errorf(types.KindConfigurationInvalid, "personality", "step %v outside (0,1]", s)
		}
	}
	if c.NormalizationTarget <= 0 || c.NormalizationTarget > float64(types.NumTraits) {
		return types.Errorf(types.KindConfigurationInvalid, "personality",
			"normalization target %v outside (0,%d]", c.NormalizationTarget, types.NumTraits)
	}
	if c.SignificanceThreshold < 0 || c.SignificanceThreshold >= 1 {
		return types.Errorf(types.KindConfigurationInvalid, "personality",
			"significance threshold %v outside [0,1)", c.SignificanceThreshold)
	}
	if c.SwitchMargin < 0 || c.SwitchMargin >= 1 {
		return types.Errorf(types.KindConfigurationInvalid, "personality",
			"switch margin %v outside [0,1)", c.SwitchMargin)
	}
	return nil
}

// Engine owns the trait weights. All updates normalize before releasing the lock.
type Engine struct {
	mu          sync.RWMutex
	cfg         Config
	weights     Weights
	dominant    types.Trait
	established bool
	log         zerolog.Logger
}

// NewEngine creates an engine with uniform weights
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	e := &Engine{cfg: cfg, log: logging.With("personality")}
	e.weights = uniform(cfg.NormalizationTarget)
	return e, nil
}

// Snapshot returns the current weights and dominant trait
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshot()
}

// Observe applies one interaction event. Known event types use a fixed
// table; unknown types are matched against trait names and keywords.
func (e *Engine) Observe(ev types.InteractionEvent) Snapshot {
	deltas, ok := eventTable[ev.Type]
	if !ok {
		deltas = keywordDeltas(string(ev.Type))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if len(deltas) == 0 {
		e.log.Debug().Str("event", string(ev.Type)).Msg("event matched no trait")
		return e.snapshot()
	}
	for _, d := range deltas {
		e.weights[d.trait] += d.sign * e.step(d.size)
	}
	e.settle()
	return e.snapshot()
}

// ObserveSession applies the rules for a finished listening session
func (e *Engine) ObserveSession(s Session) Snapshot {
	deltas := sessionDeltas(s)

	e.mu.Lock()
	defer e.mu.Unlock()

	if len(deltas) == 0 {
		return e.snapshot()
	}
	for _, d := range deltas {
		e.weights[d.trait] += d.sign * e.step(d.size)
	}
	e.settle()
	return e.snapshot()
}

// Restore loads a previously saved snapshot. Weights are renormalized.
func (e *Engine) Restore(s Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.weights = s.Weights
	e.weights = normalize(e.weights, e.cfg.NormalizationTarget)
	e.dominant = s.Dominant
	e.established = s.Established && s.Dominant >= 0 && int(s.Dominant) < types.NumTraits
	if !e.established {
		e.dominant = types.TraitExplorer
	}
	e.publish()
}

func (e *Engine) step(size stepSize) float64 {
	switch size {
	case large:
		return e.cfg.LargeStep
	case medium:
		return e.cfg.MediumStep
	default:
		return e.cfg.SmallStep
	}
}

// settle must be called with mu held
func (e *Engine) settle() {
	e.weights = normalize(e.weights, e.cfg.NormalizationTarget)

	candidate := types.TraitExplorer
	for i, w := range e.weights {
		if w > e.weights[candidate] {
			candidate = types.Trait(i)
		}
	}

	mean := e.cfg.NormalizationTarget / float64(types.NumTraits)
	significant := e.weights[candidate]-mean > e.cfg.SignificanceThreshold
	switch {
	case !significant:
	case !e.established:
		e.commitDominant(candidate)
	case candidate != e.dominant && e.weights[candidate]-e.weights[e.dominant] > e.cfg.SwitchMargin:
		// an established dominant only yields to a clear lead
		e.commitDominant(candidate)
	}
	e.publish()
}

func (e *Engine) commitDominant(candidate types.Trait) {
	e.log.Info().
		Str("from", e.dominant.String()).
		Str("to", candidate.String()).
		Float64("weight", e.weights[candidate]).
		Msg("dominant trait changed")
	e.dominant = candidate
	e.established = true
}

func (e *Engine) publish() {
	for i, w := range e.weights {
		metrics.TraitWeight.WithLabelValues(types.Trait(i).String()).Set(w)
	}
}

func (e *Engine) snapshot() Snapshot {
	return Snapshot{Weights: e.weights, Dominant: e.dominant, Established: e.established}
}

func uniform(target float64) Weights {
	var w Weights
	for i := range w {
		w[i] = target / float64(types.NumTraits)
	}
	return w
}

// normalize clamps every weight to [0,1] and rescales so the weights sum to
// target. Weights pushed past 1 by the rescale are pinned at 1 and the
// remainder is spread over the others. All-zero weights become uniform.
func normalize(w Weights, target float64) Weights {
	for i, v := range w {
		w[i] = min(1, max(0, v))
	}
	if w.Sum() == 0 {
		return uniform(target)
	}

	var pinned [types.NumTraits]bool
	for range types.NumTraits {
		fixed, free, n := 0.0, 0.0, 0
		for i, v := range w {
			if pinned[i] {
				fixed += v
			} else {
				free += v
				n++
			}
		}
		if n == 0 {
			break
		}
		remaining := target - fixed
		if free == 0 {
			for i := range w {
				if !pinned[i] {
					w[i] = remaining / float64(n)
				}
			}
			break
		}

		f := remaining / free
		over := false
		for i := range w {
			if pinned[i] {
				continue
			}
			w[i] *= f
			if w[i] > 1 {
				w[i] = 1
				pinned[i] = true
				over = true
			}
		}
		if !over {
			break
		}
	}
	return w
}

// keywords extend trait names for matching unknown event types
var keywords = [types.NumTraits][]string{
	types.TraitExplorer:   {"explore", "discover", "new", "random", "shuffle"},
	types.TraitCurator:    {"playlist", "organize", "sort", "collect", "tag"},
	types.TraitEnthusiast: {"favorite", "repeat", "loop", "fan"},
	types.TraitSocial:     {"share", "friend", "party", "follow"},
	types.TraitAmbient:    {"background", "sleep", "work", "idle"},
	types.TraitAnalyzer:   {"inspect", "detail", "stats", "lyrics", "info"},
}

func keywordDeltas(eventType string) []delta {
	s := strings.ToLower(eventType)
	if s == "" {
		return nil
	}
	var out []delta
	for i := range types.NumTraits {
		t := types.Trait(i)
		terms := append([]string{t.String()}, keywords[t]...)
		for _, term := range terms {
			if strings.Contains(s, term) {
				out = append(out, delta{t, small, 1})
			}
		}
	}
	return out
}
