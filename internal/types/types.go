// Package types provides shared type definitions used across the moodd engine.
package types

import (
	"strings"
	"time"
)

// MoodCategory is one of the closed set of moods the engine can infer.
type MoodCategory int

const (
	MoodEnergetic MoodCategory = iota
	MoodRelaxed
	MoodHappy
	MoodMelancholic
	MoodFocused
	MoodRomantic
	MoodAngry
	MoodNeutral

	// NumMoods is the number of mood categories, used to size per-mood tables.
	NumMoods = int(MoodNeutral) + 1
)

var moodNames = [NumMoods]string{
	MoodEnergetic:   "energetic",
	MoodRelaxed:     "relaxed",
	MoodHappy:       "happy",
	MoodMelancholic: "melancholic",
	MoodFocused:     "focused",
	MoodRomantic:    "romantic",
	MoodAngry:       "angry",
	MoodNeutral:     "neutral",
}

// String returns the string representation of the mood
func (m MoodCategory) String() string {
	if !m.Valid() {
		return "neutral"
	}
	return moodNames[m]
}

// Valid reports whether m is one of the defined categories.
func (m MoodCategory) Valid() bool {
	return m >= MoodEnergetic && m <= MoodNeutral
}

// ParseMoodCategory parses a string into a MoodCategory.
// Unknown names report ok=false and return MoodNeutral.
func ParseMoodCategory(s string) (MoodCategory, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range moodNames {
		if name == s {
			return MoodCategory(i), true
		}
	}
	return MoodNeutral, false
}

// AllMoods returns every category in enum order.
func AllMoods() []MoodCategory {
	out := make([]MoodCategory, NumMoods)
	for i := range out {
		out[i] = MoodCategory(i)
	}
	return out
}

// MoodDescriptor is a display-only hint of what a mood typically sounds like.
type MoodDescriptor struct {
	Tempo   string `json:"tempo"`
	Energy  string `json:"energy"`
	Valence string `json:"valence"`
}

var moodDescriptors = [NumMoods]MoodDescriptor{
	MoodEnergetic:   {Tempo: "fast", Energy: "high", Valence: "positive"},
	MoodRelaxed:     {Tempo: "slow", Energy: "low", Valence: "positive"},
	MoodHappy:       {Tempo: "medium", Energy: "medium", Valence: "very positive"},
	MoodMelancholic: {Tempo: "slow", Energy: "low", Valence: "negative"},
	MoodFocused:     {Tempo: "medium", Energy: "medium", Valence: "neutral"},
	MoodRomantic:    {Tempo: "slow", Energy: "medium", Valence: "warm"},
	MoodAngry:       {Tempo: "fast", Energy: "high", Valence: "negative"},
	MoodNeutral:     {Tempo: "any", Energy: "any", Valence: "neutral"},
}

var moodKeywords = [NumMoods][]string{
	MoodEnergetic:   {"dance", "edm", "electronic", "workout", "party", "upbeat", "house", "techno", "pop"},
	MoodRelaxed:     {"chill", "ambient", "acoustic", "lounge", "calm", "downtempo", "lofi", "spa"},
	MoodHappy:       {"happy", "sunny", "feel good", "summer", "pop", "funk", "reggae", "cheerful"},
	MoodMelancholic: {"sad", "blues", "melancholy", "rain", "ballad", "emo", "slowcore"},
	MoodFocused:     {"focus", "study", "instrumental", "classical", "piano", "minimal", "post-rock"},
	MoodRomantic:    {"love", "romantic", "soul", "r&b", "jazz", "bossa nova", "slow jam"},
	MoodAngry:       {"metal", "punk", "hardcore", "rage", "aggressive", "industrial", "rock"},
	MoodNeutral:     {},
}

// Descriptor returns the display descriptor for the mood.
func (m MoodCategory) Descriptor() MoodDescriptor {
	if !m.Valid() {
		return moodDescriptors[MoodNeutral]
	}
	return moodDescriptors[m]
}

// Keywords returns the static keyword set associated with the mood.
// The returned slice must not be modified.
func (m MoodCategory) Keywords() []string {
	if !m.Valid() {
		return nil
	}
	return moodKeywords[m]
}

// DetectionSource identifies what produced a mood detection
type DetectionSource int

const (
	SourceAudio DetectionSource = iota
	SourceTimeOfDay
	SourceUser
	SourceInteraction
)

// String returns the string representation of the source
func (s DetectionSource) String() string {
	switch s {
	case SourceTimeOfDay:
		return "time_of_day"
	case SourceUser:
		return "user"
	case SourceInteraction:
		return "interaction"
	default:
		return "audio"
	}
}

// Trait is one axis of the listener personality profile.
type Trait int

const (
	TraitExplorer Trait = iota
	TraitCurator
	TraitEnthusiast
	TraitSocial
	TraitAmbient
	TraitAnalyzer

	// NumTraits sizes the fixed trait weight array.
	NumTraits = int(TraitAnalyzer) + 1
)

var traitNames = [NumTraits]string{
	TraitExplorer:   "explorer",
	TraitCurator:    "curator",
	TraitEnthusiast: "enthusiast",
	TraitSocial:     "social",
	TraitAmbient:    "ambient",
	TraitAnalyzer:   "analyzer",
}

// String returns the string representation of the trait
func (t Trait) String() string {
	if t < 0 || int(t) >= NumTraits {
		return "unknown"
	}
	return traitNames[t]
}

// EventType names a user interaction. The vocabulary below is closed for
// scoring purposes, but other strings are accepted and matched by keyword.
type EventType string

const (
	EventPlay           EventType = "play"
	EventComplete       EventType = "complete"
	EventRepeat         EventType = "repeat"
	EventLike           EventType = "like"
	EventDislike        EventType = "dislike"
	EventSkip           EventType = "skip"
	EventPlaylistCreate EventType = "playlist_create"
	EventPlaylistEdit   EventType = "playlist_edit"
	EventSearch         EventType = "search"
	EventDiscover       EventType = "discover"
	EventShare          EventType = "share"
	EventShuffle        EventType = "shuffle"
	EventInspect        EventType = "inspect"
	EventBackground     EventType = "background"
	EventMoodSelect     EventType = "mood_select"
)

// Positive reports whether the event signals the listener is enjoying what plays.
func (e EventType) Positive() bool {
	switch e {
	case EventPlay, EventComplete, EventRepeat, EventLike:
		return true
	}
	return false
}

// Negative reports whether the event signals rejection of what plays.
func (e EventType) Negative() bool {
	return e == EventSkip || e == EventDislike
}

// InteractionEvent is a single listener action.
type InteractionEvent struct {
	Type      EventType    `json:"type"`
	Timestamp time.Time    `json:"timestamp"`
	ItemID    string       `json:"itemId,omitempty"`
	Mood      MoodCategory `json:"mood"`
	// HasMood is false when the event carries no mood hint.
	HasMood bool `json:"hasMood"`
	// Personality is the dominant trait when the event happened, if one was established.
	Personality    Trait `json:"personality"`
	HasPersonality bool  `json:"hasPersonality"`
	// Genres of the item, when known
	Genres []string `json:"genres,omitempty"`
}
