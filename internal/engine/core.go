// Package engine wires mood tracking, personality inference and
// recommendation scoring behind a single event loop.
//
// Everything that mutates state arrives on a typed channel and is applied by
// the one goroutine running Core.Run, so updates are serialized in arrival
// order. Reads (State, Snapshot, Recommend) are safe from any goroutine.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/austinkregel/local-media/moodd/internal/analysis"
	"github.com/austinkregel/local-media/moodd/internal/clock"
	"github.com/austinkregel/local-media/moodd/internal/config"
	"github.com/austinkregel/local-media/moodd/internal/logging"
	"github.com/austinkregel/local-media/moodd/internal/mood"
	"github.com/austinkregel/local-media/moodd/internal/personality"
	"github.com/austinkregel/local-media/moodd/internal/recommend"
	"github.com/austinkregel/local-media/moodd/internal/store"
	"github.com/austinkregel/local-media/moodd/internal/types"
)

// DefaultSessionGap is the idle time after which a listening session is closed
const DefaultSessionGap = 30 * time.Minute

// Store is the persistence the core needs. *store.Store satisfies it.
type Store interface {
	StoreFeatures(signature, path string, f types.AudioFeatures) error
	SaveMood(state mood.State, history []mood.Detection) error
	LoadMood() (store.MoodSnapshot, error)
	SavePersonality(snap personality.Snapshot) error
	LoadPersonality() (personality.Snapshot, error)
}

// Options configures a Core
type Options struct {
	Tracker       mood.TrackerConfig
	Personality   personality.Config
	Weights       recommend.Weights
	RecencyWindow time.Duration
	SessionGap    time.Duration

	// Store and Cache are optional
	Store Store
	Cache *analysis.FeatureCache
	Clock clock.Clock
}

// OptionsFrom maps the loaded configuration onto core options
func OptionsFrom(cfg *config.Config) Options {
	return Options{
		Tracker: mood.TrackerConfig{
			HistorySize:         cfg.Mood.HistorySize,
			DecayWindow:         cfg.Mood.DecayWindow,
			UserConfidence:      cfg.Mood.UserConfidence,
			FeedbackBoost:       cfg.Mood.FeedbackBoost,
			FeedbackPenalty:     cfg.Mood.FeedbackPenalty,
			LowFloor:            cfg.Mood.LowFloor,
			TimeOfDayConfidence: cfg.Mood.TimeOfDayConfidence,
		},
		Personality: personality.Config{
			SmallStep:             cfg.Personality.SmallStep,
			MediumStep:            cfg.Personality.MediumStep,
			LargeStep:             cfg.Personality.LargeStep,
			NormalizationTarget:   cfg.Personality.NormalizationTarget,
			SignificanceThreshold: cfg.Personality.SignificanceThreshold,
			SwitchMargin:          cfg.Personality.SwitchMargin,
		},
		Weights: recommend.Weights{
			Preference:  cfg.Recommend.PreferenceWeight,
			Mood:        cfg.Recommend.MoodWeight,
			Personality: cfg.Recommend.PersonalityWeight,
			Recency:     cfg.Recommend.RecencyWeight,
		},
		RecencyWindow: cfg.Recommend.RecencyWindow,
		SessionGap:    DefaultSessionGap,
	}
}

// Inputs are the channels Run consumes. Nil channels are ignored.
type Inputs struct {
	Results  <-chan analysis.Result
	Features <-chan types.AudioFeatures
	Events   <-chan types.InteractionEvent
	Ticks    <-chan time.Time
}

// Core owns the mood tracker, the trait engine and the scorer
type Core struct {
	tracker *mood.Tracker
	traits  *personality.Engine
	scorer  *recommend.Scorer
	store   Store
	cache   *analysis.FeatureCache
	clock   clock.Clock
	gap     time.Duration
	log     zerolog.Logger

	// session is only touched by the Run goroutine
	session      personality.Session
	sessionStart time.Time
	lastEvent    time.Time
}

// New creates a core and restores any persisted state
func New(opts Options) (*Core, error) {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.SessionGap <= 0 {
		opts.SessionGap = DefaultSessionGap
	}

	traits, err := personality.NewEngine(opts.Personality)
	if err != nil {
		return nil, err
	}
	scorer, err := recommend.NewScorer(opts.Weights, opts.RecencyWindow)
	if err != nil {
		return nil, err
	}

	c := &Core{
		tracker: mood.NewTracker(opts.Tracker, opts.Clock),
		traits:  traits,
		scorer:  scorer,
		store:   opts.Store,
		cache:   opts.Cache,
		clock:   opts.Clock,
		gap:     opts.SessionGap,
		log:     logging.With("engine"),
	}
	if err := c.restore(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Core) restore() error {
	if c.store == nil {
		return nil
	}

	snap, err := c.store.LoadMood()
	switch {
	case err == nil:
		c.tracker.Restore(snap.State, snap.History)
		c.log.Info().Str("mood", snap.State.Category.String()).Int("history", len(snap.History)).Msg("mood restored")
	case !errors.Is(err, store.ErrNotFound):
		return err
	}

	p, err := c.store.LoadPersonality()
	switch {
	case err == nil:
		c.traits.Restore(p)
		c.log.Info().Str("dominant", p.Dominant.String()).Bool("established", p.Established).Msg("personality restored")
	case !errors.Is(err, store.ErrNotFound):
		return err
	}
	return nil
}

// Mood returns the current mood state
func (c *Core) Mood() mood.State { return c.tracker.State() }

// History returns the mood detection history
func (c *Core) History() []mood.Detection { return c.tracker.History() }

// Personality returns the current trait snapshot
func (c *Core) Personality() personality.Snapshot { return c.traits.Snapshot() }

// Recommend ranks candidates against the current mood and personality
func (c *Core) Recommend(candidates []recommend.Candidate, now time.Time) []recommend.Score {
	return c.scorer.Rank(candidates, c.tracker.State(), c.traits.Snapshot(), now)
}

// Run applies inputs until ctx is cancelled, then persists state
func (c *Core) Run(ctx context.Context, in Inputs) error {
	c.log.Info().Msg("engine loop started")
	defer func() {
		if err := c.Save(); err != nil {
			c.log.Error().Err(err).Msg("failed to save state on shutdown")
		}
		c.log.Info().Msg("engine loop stopped")
	}()

	results, features, events, ticks := in.Results, in.Features, in.Events, in.Ticks
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r, ok := <-results:
			if !ok {
				results = nil
				continue
			}
			c.HandleResult(r)
		case f, ok := <-features:
			if !ok {
				features = nil
				continue
			}
			c.HandleFeatures(f)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			c.HandleEvent(ev)
		case now, ok := <-ticks:
			if !ok {
				ticks = nil
				continue
			}
			c.Tick(now)
		}
	}
}

// HandleResult applies a finished analysis job. Failed jobs leave state untouched.
func (c *Core) HandleResult(r analysis.Result) {
	if r.Err != nil {
		c.log.Warn().Err(r.Err).Str("path", r.Path).Msg("analysis failed")
		return
	}

	cls := mood.Classify(r.Features)
	c.tracker.ObserveAudio(cls)
	c.log.Debug().Str("path", r.Path).Str("mood", cls.Category.String()).Float64("confidence", cls.Confidence).Msg("track classified")

	if c.store != nil && r.Signature != "" && !r.Cached {
		if err := c.store.StoreFeatures(r.Signature, r.Path, r.Features); err != nil {
			c.log.Warn().Err(err).Str("path", r.Path).Msg("failed to store features")
		}
	}
}

// HandleFeatures applies a real-time feature update
func (c *Core) HandleFeatures(f types.AudioFeatures) {
	c.tracker.ObserveAudio(mood.Classify(f))
}

// HandleEvent applies an interaction to the mood tracker and the trait
// engine, and accumulates it into the current listening session.
func (c *Core) HandleEvent(ev types.InteractionEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = c.clock.Now()
	}
	if !ev.HasPersonality {
		if snap := c.traits.Snapshot(); snap.Established {
			ev.Personality = snap.Dominant
			ev.HasPersonality = true
		}
	}

	if !c.lastEvent.IsZero() && ev.Timestamp.Sub(c.lastEvent) > c.gap {
		c.closeSession()
	}
	c.track(ev)

	st := c.tracker.ObserveInteraction(ev)
	snap := c.traits.Observe(ev)
	c.log.Debug().
		Str("event", string(ev.Type)).
		Str("mood", st.Category.String()).
		Str("dominant", snap.Dominant.String()).
		Msg("interaction applied")
}

func (c *Core) track(ev types.InteractionEvent) {
	if c.sessionStart.IsZero() {
		c.sessionStart = ev.Timestamp
	}
	c.lastEvent = ev.Timestamp

	switch ev.Type {
	case types.EventPlay:
		c.session.Tracks++
		c.session.Genres = append(c.session.Genres, ev.Genres...)
	case types.EventSkip:
		c.session.Skips++
	}
	c.session.Duration = c.lastEvent.Sub(c.sessionStart)
}

func (c *Core) closeSession() {
	if c.session.Tracks > 0 {
		if st := c.tracker.State(); st.Category != types.MoodNeutral {
			c.session.DominantMood = st.Category
			c.session.HasMood = true
		}
		snap := c.traits.ObserveSession(c.session)
		c.log.Info().
			Int("tracks", c.session.Tracks).
			Int("skips", c.session.Skips).
			Dur("duration", c.session.Duration).
			Str("dominant", snap.Dominant.String()).
			Msg("session closed")
	}
	c.session = personality.Session{}
	c.sessionStart = time.Time{}
	c.lastEvent = time.Time{}
}

// Tick runs periodic work: the time-of-day mood check, cache expiry and
// closing an idle session.
func (c *Core) Tick(now time.Time) {
	st := c.tracker.EvaluateTimeOfDay(now)

	purged := 0
	if c.cache != nil {
		purged = c.cache.Purge()
	}
	if !c.lastEvent.IsZero() && now.Sub(c.lastEvent) > c.gap {
		c.closeSession()
	}

	c.log.Debug().Str("mood", st.Category.String()).Int("purged", purged).Msg("tick")
}

// Save persists mood and personality. A core without a store does nothing.
func (c *Core) Save() error {
	if c.store == nil {
		return nil
	}
	if err := c.store.SaveMood(c.tracker.State(), c.tracker.History()); err != nil {
		return err
	}
	return c.store.SavePersonality(c.traits.Snapshot())
}
