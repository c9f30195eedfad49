package mood

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/austinkregel/local-media/moodd/internal/clock"
	"github.com/austinkregel/local-media/moodd/internal/logging"
	"github.com/austinkregel/local-media/moodd/internal/metrics"
	"github.com/austinkregel/local-media/moodd/internal/types"
)

// Detection is one mood observation kept in the tracker history
type Detection struct {
	Category   types.MoodCategory    `json:"category"`
	Timestamp  time.Time             `json:"timestamp"`
	Confidence float64               `json:"confidence"`
	Source     types.DetectionSource `json:"source"`
}

// State is the listener's current mood
type State struct {
	Category   types.MoodCategory `json:"category"`
	Confidence float64            `json:"confidence"`
	UpdatedAt  time.Time          `json:"updatedAt"`
}

// NeutralConfidence is the confidence of the fallback state
const NeutralConfidence = 0.5

// TrackerConfig tunes decay, feedback and time-of-day behaviour
type TrackerConfig struct {
	HistorySize         int
	DecayWindow         time.Duration
	UserConfidence      float64
	FeedbackBoost       float64
	FeedbackPenalty     float64
	LowFloor            float64
	TimeOfDayConfidence float64
}

// DefaultTrackerConfig returns the stock tuning
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		HistorySize:         100,
		DecayWindow:         time.Hour,
		UserConfidence:      0.9,
		FeedbackBoost:       0.05,
		FeedbackPenalty:     0.1,
		LowFloor:            0.2,
		TimeOfDayConfidence: 0.4,
	}
}

// Tracker resolves the current mood from a bounded, decaying history of
// detections. Every mutation recomputes state under one lock.
type Tracker struct {
	mu      sync.RWMutex
	cfg     TrackerConfig
	clock   clock.Clock
	history []Detection
	state   State
	log     zerolog.Logger
}

// NewTracker creates a tracker in the neutral state. A nil clock uses the wall clock.
func NewTracker(cfg TrackerConfig, clk clock.Clock) *Tracker {
	if clk == nil {
		clk = clock.Real{}
	}
	if cfg.HistorySize < 1 {
		cfg.HistorySize = 100
	}
	if cfg.DecayWindow <= 0 {
		cfg.DecayWindow = time.Hour
	}
	return &Tracker{
		cfg:     cfg,
		clock:   clk,
		history: make([]Detection, 0, cfg.HistorySize),
		state:   State{Category: types.MoodNeutral, Confidence: NeutralConfidence, UpdatedAt: clk.Now()},
		log:     logging.With("mood"),
	}
}

// State returns the current mood
func (t *Tracker) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// History returns a copy of the detection history, oldest first
func (t *Tracker) History() []Detection {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Detection, len(t.history))
	copy(out, t.history)
	return out
}

// ObserveAudio records a classifier result and recomputes the state from
// the decayed history.
func (t *Tracker) ObserveAudio(c Classification) State {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	t.append(Detection{Category: c.Category, Timestamp: now, Confidence: c.Confidence, Source: types.SourceAudio})
	t.recompute(now)
	return t.state
}

// Override sets the mood the listener chose explicitly, bypassing decay
func (t *Tracker) Override(category types.MoodCategory) State {
	if !category.Valid() {
		category = types.MoodNeutral
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	t.append(Detection{Category: category, Timestamp: now, Confidence: t.cfg.UserConfidence, Source: types.SourceUser})
	t.set(State{Category: category, Confidence: t.cfg.UserConfidence, UpdatedAt: now})
	return t.state
}

// Feedback nudges confidence in the current mood. Positive events raise it,
// negative events lower it, and falling under the floor resets to neutral.
// Negative feedback never moves the neutral state.
func (t *Tracker) Feedback(event types.EventType) State {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	next := t.state
	switch {
	case event.Positive():
		next.Confidence = min(1, next.Confidence+t.cfg.FeedbackBoost)
	case event.Negative():
		if next.Category == types.MoodNeutral {
			return t.state
		}
		next.Confidence = max(0, next.Confidence-t.cfg.FeedbackPenalty)
		if next.Confidence < t.cfg.LowFloor {
			next = State{Category: types.MoodNeutral, Confidence: NeutralConfidence}
		}
	default:
		return t.state
	}
	next.UpdatedAt = now
	t.set(next)
	return t.state
}

// ObserveInteraction applies an interaction event: an explicit mood
// selection overrides, everything else is feedback.
func (t *Tracker) ObserveInteraction(ev types.InteractionEvent) State {
	if ev.Type == types.EventMoodSelect && ev.HasMood {
		return t.Override(ev.Mood)
	}
	return t.Feedback(ev.Type)
}

// EvaluateTimeOfDay records the mood suggested by the hour of now. It only
// replaces the current state when it is more confident, or when the current
// state is below the low-confidence floor.
func (t *Tracker) EvaluateTimeOfDay(now time.Time) State {
	category := TimeOfDayMood(now)

	t.mu.Lock()
	defer t.mu.Unlock()

	conf := t.cfg.TimeOfDayConfidence
	t.append(Detection{Category: category, Timestamp: now, Confidence: conf, Source: types.SourceTimeOfDay})
	if conf > t.state.Confidence || t.state.Confidence < t.cfg.LowFloor {
		t.set(State{Category: category, Confidence: conf, UpdatedAt: now})
	}
	return t.state
}

// Restore replaces state and history, e.g. when resuming from a snapshot
func (t *Tracker) Restore(state State, history []Detection) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(history) > t.cfg.HistorySize {
		history = history[len(history)-t.cfg.HistorySize:]
	}
	t.history = append(t.history[:0], history...)
	if !state.Category.Valid() || state.Confidence < 0 || state.Confidence > 1 {
		state = State{Category: types.MoodNeutral, Confidence: NeutralConfidence, UpdatedAt: t.clock.Now()}
	}
	t.state = state
}

// TimeOfDayMood maps the local hour to a mood:
// 05-09 energetic, 09-12 focused, 12-17 happy, 17-21 relaxed, otherwise melancholic.
func TimeOfDayMood(now time.Time) types.MoodCategory {
	switch h := now.Hour(); {
	case h >= 5 && h < 9:
		return types.MoodEnergetic
	case h >= 9 && h < 12:
		return types.MoodFocused
	case h >= 12 && h < 17:
		return types.MoodHappy
	case h >= 17 && h < 21:
		return types.MoodRelaxed
	default:
		return types.MoodMelancholic
	}
}

// append must be called with mu held
func (t *Tracker) append(d Detection) {
	if len(t.history) == t.cfg.HistorySize {
		copy(t.history, t.history[1:])
		t.history = t.history[:len(t.history)-1]
	}
	t.history = append(t.history, d)
}

// recompute must be called with mu held
func (t *Tracker) recompute(now time.Time) {
	var intensity [types.NumMoods]float64
	window := t.cfg.DecayWindow.Seconds()
	for _, d := range t.history {
		if !d.Category.Valid() {
			continue
		}
		elapsed := now.Sub(d.Timestamp).Seconds()
		if elapsed < 0 {
			elapsed = 0
		}
		decayed := d.Confidence * max(0, 1-elapsed/window)
		if decayed > intensity[d.Category] {
			intensity[d.Category] = decayed
		}
	}

	best := types.MoodNeutral
	bestValue := 0.0
	for i, v := range intensity {
		if v > bestValue {
			best, bestValue = types.MoodCategory(i), v
		}
	}
	if bestValue == 0 {
		t.set(State{Category: types.MoodNeutral, Confidence: NeutralConfidence, UpdatedAt: now})
		return
	}
	t.set(State{Category: best, Confidence: min(1, bestValue), UpdatedAt: now})
}

// set must be called with mu held
func (t *Tracker) set(next State) {
	if next.Category != t.state.Category {
		metrics.MoodTransitions.WithLabelValues(next.Category.String()).Inc()
		t.log.Debug().
			Str("from", t.state.Category.String()).
			Str("to", next.Category.String()).
			Float64("confidence", next.Confidence).
			Msg("mood changed")
	}
	metrics.MoodConfidence.Set(next.Confidence)
	t.state = next
}
