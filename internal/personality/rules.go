package personality

import (
	"strings"
	"time"

	"github.com/austinkregel/local-media/moodd/internal/types"
)

type stepSize int

const (
	small stepSize = iota
	medium
	large
)

type delta struct {
	trait types.Trait
	size  stepSize
	sign  float64
}

var eventTable = map[types.EventType][]delta{
	types.EventPlay:           {{types.TraitEnthusiast, small, 1}},
	types.EventComplete:       {{types.TraitEnthusiast, small, 1}},
	types.EventRepeat:         {{types.TraitEnthusiast, medium, 1}, {types.TraitExplorer, small, -1}},
	types.EventLike:           {{types.TraitEnthusiast, small, 1}, {types.TraitCurator, small, 1}},
	types.EventDislike:        {{types.TraitCurator, small, 1}},
	types.EventSkip:           {{types.TraitExplorer, small, 1}, {types.TraitCurator, small, -1}},
	types.EventPlaylistCreate: {{types.TraitCurator, large, 1}},
	types.EventPlaylistEdit:   {{types.TraitCurator, medium, 1}},
	types.EventSearch:         {{types.TraitExplorer, small, 1}, {types.TraitAnalyzer, small, 1}},
	types.EventDiscover:       {{types.TraitExplorer, large, 1}},
	types.EventShare:          {{types.TraitSocial, large, 1}},
	types.EventShuffle:        {{types.TraitExplorer, small, 1}, {types.TraitAmbient, small, 1}},
	types.EventInspect:        {{types.TraitAnalyzer, medium, 1}},
	types.EventBackground:     {{types.TraitAmbient, large, 1}},
	types.EventMoodSelect:     {{types.TraitAnalyzer, small, 1}},
}

// Session summarizes one listening session
type Session struct {
	Tracks   int           `json:"tracks"`
	Skips    int           `json:"skips"`
	Genres   []string      `json:"genres,omitempty"`
	Duration time.Duration `json:"duration"`
	// DominantMood is only considered when HasMood is set
	DominantMood types.MoodCategory `json:"dominantMood"`
	HasMood      bool               `json:"hasMood"`
}

// SkipRate is skips per track, 0 for an empty session
func (s Session) SkipRate() float64 {
	if s.Tracks <= 0 {
		return 0
	}
	return float64(s.Skips) / float64(s.Tracks)
}

// Diversity is distinct genres per track, 0 for an empty session
func (s Session) Diversity() float64 {
	if s.Tracks <= 0 {
		return 0
	}
	distinct := make(map[string]struct{}, len(s.Genres))
	for _, g := range s.Genres {
		if g = strings.ToLower(strings.TrimSpace(g)); g != "" {
			distinct[g] = struct{}{}
		}
	}
	return float64(len(distinct)) / float64(s.Tracks)
}

func sessionDeltas(s Session) []delta {
	var out []delta
	skipRate := s.SkipRate()

	if skipRate > 0.3 {
		out = append(out, delta{types.TraitExplorer, medium, 1}, delta{types.TraitCurator, small, -1})
	}
	if s.Diversity() > 0.5 {
		out = append(out, delta{types.TraitExplorer, medium, 1})
	}
	if s.Duration > time.Hour && skipRate < 0.1 {
		out = append(out, delta{types.TraitAmbient, medium, 1})
	}
	if s.HasMood {
		switch s.DominantMood {
		case types.MoodFocused:
			out = append(out, delta{types.TraitAnalyzer, small, 1})
		case types.MoodEnergetic, types.MoodHappy:
			out = append(out, delta{types.TraitEnthusiast, small, 1})
		}
	}
	if s.Tracks >= 20 {
		out = append(out, delta{types.TraitEnthusiast, small, 1})
	}
	return out
}
