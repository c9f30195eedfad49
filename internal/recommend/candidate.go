package recommend

import (
	"time"

	"github.com/austinkregel/local-media/moodd/internal/mood"
	"github.com/austinkregel/local-media/moodd/internal/scanner"
	"github.com/austinkregel/local-media/moodd/internal/types"
)

// Candidate is an item offered for ranking. Unit-range fields outside [0,1]
// are clamped when scored.
type Candidate struct {
	ItemID string `json:"itemId"`
	// Preference is the stored affinity in [-1,1]
	Preference float64 `json:"preference"`

	Mood    types.MoodCategory `json:"mood"`
	HasMood bool               `json:"hasMood"`
	Tags    []string           `json:"tags,omitempty"`

	Novelty     float64       `json:"novelty"`
	Popularity  float64       `json:"popularity"`
	Familiarity float64       `json:"familiarity"`
	Playlists   int           `json:"playlists"`
	Duration    time.Duration `json:"duration"`
	Energy      float64       `json:"energy"`
	Richness    float64       `json:"richness"`

	// LastRecommended is zero when the item was never recommended
	LastRecommended time.Time `json:"lastRecommended"`
}

// FromFile builds a candidate from a scanned file and, when available, its
// analysed features. The mood tag comes from classifying the features.
func FromFile(fi scanner.FileInfo, features *types.AudioFeatures) Candidate {
	c := Candidate{
		ItemID:   fi.Path,
		Tags:     append(fi.Genres(), fi.Tags.Moods...),
		Novelty:  1,
		Richness: Richness(fi),
	}
	if fi.Metadata != nil {
		c.Duration = time.Duration(fi.Metadata.Duration) * time.Millisecond
	}
	if features != nil {
		c.Energy = features.Energy
		c.Mood = mood.Classify(*features).Category
		c.HasMood = true
	}
	return c
}

// Richness is the fraction of descriptive fields present for a file
func Richness(fi scanner.FileInfo) float64 {
	present := 0
	fields := 6
	if m := fi.Metadata; m != nil {
		for _, ok := range []bool{m.Title != "", m.Artist != "" || fi.Tags.Artist != "", m.Album != "" || fi.Tags.Album != "", m.Duration > 0} {
			if ok {
				present++
			}
		}
	} else {
		if fi.Tags.Artist != "" {
			present++
		}
		if fi.Tags.Album != "" {
			present++
		}
	}
	if len(fi.Tags.Genres) > 0 {
		present++
	}
	if len(fi.Tags.Moods) > 0 {
		present++
	}
	return float64(present) / float64(fields)
}
