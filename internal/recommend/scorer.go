// Package recommend ranks candidate items by preference, mood fit,
// personality fit and how long ago they were last recommended.
package recommend

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/austinkregel/local-media/moodd/internal/mood"
	"github.com/austinkregel/local-media/moodd/internal/personality"
	"github.com/austinkregel/local-media/moodd/internal/types"
)

// Neutral score used when no personality has been established
const neutralCompat = 0.5

// Weights defines the importance of each score component
type Weights struct {
	Preference  float64
	Mood        float64
	Personality float64
	Recency     float64
}

// DefaultWeights returns 0.4/0.3/0.2/0.1
func DefaultWeights() Weights {
	return Weights{Preference: 0.4, Mood: 0.3, Personality: 0.2, Recency: 0.1}
}

func (w Weights) sum() float64 { return w.Preference + w.Mood + w.Personality + w.Recency }

// Score is the breakdown for one candidate
type Score struct {
	ItemID      string  `json:"itemId"`
	Preference  float64 `json:"preference"`
	Mood        float64 `json:"mood"`
	Personality float64 `json:"personality"`
	Recency     float64 `json:"recency"`
	Total       float64 `json:"total"`
}

// Scorer combines the four components. It holds no mutable state.
type Scorer struct {
	weights       Weights
	recencyWindow time.Duration
}

// NewScorer validates weights, which must be non-negative and sum to 1.
// recencyWindow is the age at which an item counts as fully fresh again.
func NewScorer(w Weights, recencyWindow time.Duration) (*Scorer, error) {
	for _, v := range []float64{w.Preference, w.Mood, w.Personality, w.Recency} {
		if v < 0 || v > 1 {
			return nil, types.Errorf(types.KindConfigurationInvalid, "recommend", "weight %v outside [0,1]", v)
		}
	}
	if math.Abs(w.sum()-1) > 1e-6 {
		return nil, types.Errorf(types.KindConfigurationInvalid, "recommend", "weights sum to %v, expected 1", w.sum())
	}
	if recencyWindow <= 0 {
		recencyWindow = 7 * 24 * time.Hour
	}
	return &Scorer{weights: w, recencyWindow: recencyWindow}, nil
}

// Score computes the breakdown for one candidate
func (s *Scorer) Score(c Candidate, state mood.State, p personality.Snapshot, now time.Time) Score {
	out := Score{
		ItemID:      c.ItemID,
		Preference:  PreferenceUnit(c.Preference),
		Mood:        MoodCompatibility(c, state.Category),
		Personality: PersonalityCompatibility(c, p),
		Recency:     s.recency(c.LastRecommended, now),
	}
	out.Total = s.weights.Preference*out.Preference +
		s.weights.Mood*out.Mood +
		s.weights.Personality*out.Personality +
		s.weights.Recency*out.Recency
	return out
}

// Rank scores every candidate and orders them by total, highest first.
// Equal totals keep their input order.
func (s *Scorer) Rank(candidates []Candidate, state mood.State, p personality.Snapshot, now time.Time) []Score {
	scores := make([]Score, len(candidates))
	for i, c := range candidates {
		scores[i] = s.Score(c, state, p, now)
	}
	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].Total > scores[j].Total
	})
	return scores
}

func (s *Scorer) recency(last, now time.Time) float64 {
	if last.IsZero() {
		return 1
	}
	elapsed := now.Sub(last)
	if elapsed <= 0 {
		return 0
	}
	return math.Min(1, elapsed.Seconds()/s.recencyWindow.Seconds())
}

// PreferenceUnit maps a stored affinity in [-1,1] onto [0,1]
func PreferenceUnit(p float64) float64 {
	return clamp01((p + 1) / 2)
}

// MoodCompatibility is 1 when the item is tagged with the current mood,
// otherwise a third per tag found in the mood's keyword set, capped at 1.
func MoodCompatibility(c Candidate, current types.MoodCategory) float64 {
	if c.HasMood && c.Mood == current {
		return 1
	}
	keywords := current.Keywords()
	if len(keywords) == 0 {
		return 0
	}
	matches := 0
	for _, tag := range c.Tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		for _, k := range keywords {
			if tag == k {
				matches++
				break
			}
		}
	}
	return math.Min(1, float64(matches)/3)
}

// PersonalityCompatibility scores how well an item suits the dominant trait
func PersonalityCompatibility(c Candidate, p personality.Snapshot) float64 {
	if !p.Established {
		return neutralCompat
	}

	switch p.Dominant {
	case types.TraitExplorer:
		return clamp01(0.5*c.Novelty + 0.5*(1-c.Popularity))
	case types.TraitCurator:
		if c.Playlists <= 0 {
			return 0.2
		}
		return math.Min(1, 0.6+0.1*float64(c.Playlists))
	case types.TraitEnthusiast:
		return clamp01(0.5*c.Familiarity + 0.5*c.Popularity)
	case types.TraitSocial:
		return clamp01(c.Popularity)
	case types.TraitAmbient:
		length := 0.3
		if c.Duration >= 3*time.Minute && c.Duration <= 8*time.Minute {
			length = 1
		}
		return clamp01(0.5*length + 0.5*(1-c.Energy))
	case types.TraitAnalyzer:
		return clamp01(c.Richness)
	}
	return neutralCompat
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
