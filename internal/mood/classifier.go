// Package mood classifies audio features into mood categories and tracks
// the listener's current mood over time.
package mood

import (
	"math"

	"github.com/austinkregel/local-media/moodd/internal/types"
)

// Slack scales: how far past a threshold counts as a full margin
const (
	tempoScale = 50.0
	unitScale  = 0.25

	baseConfidence   = 0.5
	marginConfidence = 0.45
)

// Classification is the result of running the rule table over one set of features
type Classification struct {
	Category   types.MoodCategory `json:"category"`
	Confidence float64            `json:"confidence"`
	// Rule is the 1-based rule that decided the category
	Rule int `json:"rule"`
}

// cond is a conjunction of threshold tests, each stored as a signed margin:
// positive when the test passes, scaled by the feature's slack scale.
type cond []float64

func gt(x, t, scale float64) float64 { return (x - t) / scale }
func lt(x, t, scale float64) float64 { return (t - x) / scale }

func (c cond) holds() bool {
	for _, m := range c {
		if m <= 0 {
			return false
		}
	}
	return true
}

// distance is the smallest passing margin when c holds, otherwise the
// distance to make every failing test pass.
func (c cond) distance() float64 {
	if c.holds() {
		d := math.Inf(1)
		for _, m := range c {
			d = math.Min(d, m)
		}
		return d
	}
	d := 0.0
	for _, m := range c {
		if m <= 0 {
			d = math.Max(d, -m)
		}
	}
	return d
}

// margin tracks the minimum slack over every test that decided a branch
type margin float64

func (m *margin) add(conds ...cond) {
	for _, c := range conds {
		if d := margin(c.distance()); d < *m {
			*m = d
		}
	}
}

func (m margin) result(category types.MoodCategory, rule int) Classification {
	return Classification{
		Category:   category,
		Confidence: baseConfidence + marginConfidence*math.Min(1, float64(m)),
		Rule:       rule,
	}
}

// Classify maps features to a mood with the fixed rule table. The first
// matching rule wins. Confidence grows with the distance of the deciding
// features from their thresholds and lies in [0.5, 0.95].
func Classify(f types.AudioFeatures) Classification {
	m := margin(math.Inf(1))

	// 1. fast and loud
	fastLoud := cond{gt(f.Tempo, 130, tempoScale), gt(f.Energy, 0.75, unitScale)}
	m.add(fastLoud)
	if fastLoud.holds() {
		energetic := cond{gt(f.Valence, 0.6, unitScale), gt(f.Danceability, 0.7, unitScale)}
		angry := cond{lt(f.Valence, 0.4, unitScale)}
		switch {
		case energetic.holds():
			m.add(energetic)
			return m.result(types.MoodEnergetic, 1)
		case angry.holds():
			m.add(energetic, angry)
			return m.result(types.MoodAngry, 1)
		default:
			m.add(energetic, angry)
			return m.result(types.MoodFocused, 1)
		}
	}

	// 2. slow and quiet
	slowQuiet := cond{lt(f.Tempo, 90, tempoScale), lt(f.Energy, 0.4, unitScale)}
	m.add(slowQuiet)
	if slowQuiet.holds() {
		relaxed := cond{gt(f.Valence, 0.6, unitScale), gt(f.Acousticness, 0.5, unitScale)}
		melancholic := cond{lt(f.Valence, 0.4, unitScale)}
		switch {
		case relaxed.holds():
			m.add(relaxed)
			return m.result(types.MoodRelaxed, 2)
		case melancholic.holds():
			m.add(relaxed, melancholic)
			return m.result(types.MoodMelancholic, 2)
		default:
			m.add(relaxed, melancholic)
			return m.result(types.MoodNeutral, 2)
		}
	}

	// 3. very positive
	positive := cond{gt(f.Valence, 0.75, unitScale)}
	m.add(positive)
	if positive.holds() {
		return m.result(types.MoodHappy, 3)
	}

	// 4. middle of the road
	moderate := cond{
		gt(f.Energy, 0.4, unitScale), lt(f.Energy, 0.7, unitScale),
		gt(f.Valence, 0.4, unitScale), lt(f.Valence, 0.7, unitScale),
	}
	if moderate.holds() {
		m.add(moderate)
		instrumental := cond{gt(f.Instrumentalness, 0.5, unitScale)}
		romantic := cond{gt(f.Acousticness, 0.6, unitScale)}
		switch {
		case instrumental.holds():
			m.add(instrumental)
			return m.result(types.MoodFocused, 4)
		case romantic.holds():
			m.add(instrumental, romantic)
			return m.result(types.MoodRomantic, 4)
		default:
			m.add(instrumental, romantic)
			return m.result(types.MoodNeutral, 4)
		}
	}

	return Classification{Category: types.MoodNeutral, Confidence: baseConfidence, Rule: 5}
}
