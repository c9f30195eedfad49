package mood

import (
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/austinkregel/local-media/moodd/internal/clock"
	"github.com/austinkregel/local-media/moodd/internal/types"
)

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func features(tempo, energy, valence, dance, acoustic, instrumental float64) types.AudioFeatures {
	return types.AudioFeatures{
		Tempo:            tempo,
		Energy:           energy,
		Valence:          valence,
		Danceability:     dance,
		Acousticness:     acoustic,
		Instrumentalness: instrumental,
	}
}

func TestClassifyRules(t *testing.T) {
	tests := []struct {
		name     string
		f        types.AudioFeatures
		category types.MoodCategory
		rule     int
	}{
		{"energetic", features(140, 0.9, 0.8, 0.8, 0, 0.5), types.MoodEnergetic, 1},
		{"angry", features(150, 0.9, 0.2, 0.5, 0, 0.5), types.MoodAngry, 1},
		{"fast and loud otherwise focused", features(150, 0.9, 0.5, 0.5, 0, 0.5), types.MoodFocused, 1},
		{"relaxed", features(70, 0.2, 0.7, 0.3, 0.6, 0.5), types.MoodRelaxed, 2},
		{"melancholic", features(70, 0.2, 0.2, 0.3, 0.6, 0.5), types.MoodMelancholic, 2},
		{"slow and quiet otherwise neutral", features(70, 0.2, 0.5, 0.3, 0.6, 0.5), types.MoodNeutral, 2},
		{"happy", features(110, 0.6, 0.8, 0.5, 0.2, 0.5), types.MoodHappy, 3},
		{"moderate instrumental", features(110, 0.5, 0.5, 0.5, 0.2, 0.7), types.MoodFocused, 4},
		{"moderate acoustic", features(110, 0.5, 0.5, 0.5, 0.8, 0.3), types.MoodRomantic, 4},
		{"moderate otherwise neutral", features(110, 0.5, 0.5, 0.5, 0.3, 0.3), types.MoodNeutral, 4},
		{"default", features(110, 0.9, 0.5, 0.5, 0.3, 0.3), types.MoodNeutral, 5},
		{"default tempo 120", features(120, 0, 0, 0, 0, 0.5), types.MoodNeutral, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.f)
			if got.Category != tt.category {
				t.Errorf("Expected %s, got %s", tt.category, got.Category)
			}
			if got.Rule != tt.rule {
				t.Errorf("Expected rule %d, got %d", tt.rule, got.Rule)
			}
		})
	}
}

func TestClassifyConfidence(t *testing.T) {
	// tempo is the closest boundary: (140-130)/50 = 0.2
	energetic := Classify(features(140, 0.9, 0.8, 0.8, 0, 0.5))
	if !near(energetic.Confidence, 0.5+0.45*0.2) {
		t.Errorf("Expected confidence 0.59, got %f", energetic.Confidence)
	}

	// tempo, valence and acousticness are all 0.4 from their thresholds
	relaxed := Classify(features(70, 0.2, 0.7, 0.3, 0.6, 0.5))
	if math.Abs(relaxed.Confidence-0.68) > 1e-6 {
		t.Errorf("Expected confidence 0.68, got %f", relaxed.Confidence)
	}

	if c := Classify(types.AudioFeatures{Tempo: 110, Energy: 0.9, Valence: 0.5}); c.Confidence != 0.5 {
		t.Errorf("Expected default rule confidence 0.5, got %f", c.Confidence)
	}

	// far from every boundary saturates
	far := Classify(features(200, 1, 1, 1, 0, 0.5))
	if far.Confidence > 0.95+1e-9 {
		t.Errorf("Expected confidence capped at 0.95, got %f", far.Confidence)
	}
}

func TestClassifyDeterministicAndBounded(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 11))
	for i := 0; i < 2000; i++ {
		f := features(60+r.Float64()*140, r.Float64(), r.Float64(), r.Float64(), r.Float64(), r.Float64())
		a, b := Classify(f), Classify(f)
		if a != b {
			t.Fatalf("Expected identical results for %+v, got %+v and %+v", f, a, b)
		}
		if a.Confidence < 0.5 || a.Confidence > 0.95+1e-9 {
			t.Fatalf("Confidence %f out of range for %+v", a.Confidence, f)
		}
		if !a.Category.Valid() {
			t.Fatalf("Invalid category for %+v", f)
		}
	}
}

func newTestTracker(start time.Time) (*Tracker, *clock.Manual) {
	clk := clock.NewManual(start)
	return NewTracker(DefaultTrackerConfig(), clk), clk
}

var noon = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestTrackerStartsNeutral(t *testing.T) {
	tr, _ := newTestTracker(noon)
	st := tr.State()
	if st.Category != types.MoodNeutral || st.Confidence != 0.5 {
		t.Errorf("Expected neutral/0.5, got %s/%f", st.Category, st.Confidence)
	}
	if len(tr.History()) != 0 {
		t.Error("Expected empty history")
	}
}

func TestTrackerDecay(t *testing.T) {
	tr, clk := newTestTracker(noon)

	tr.ObserveAudio(Classification{Category: types.MoodEnergetic, Confidence: 0.9})
	clk.Advance(30 * time.Minute)
	st := tr.ObserveAudio(Classification{Category: types.MoodRelaxed, Confidence: 0.6})

	// energetic decayed to 0.45, relaxed fresh at 0.6
	if st.Category != types.MoodRelaxed || !near(st.Confidence, 0.6) {
		t.Errorf("Expected relaxed/0.6, got %s/%f", st.Category, st.Confidence)
	}

	clk.Advance(45 * time.Minute)
	st = tr.ObserveAudio(Classification{Category: types.MoodFocused, Confidence: 0.1})
	// energetic fully decayed, relaxed at 0.6*0.25 = 0.15
	if st.Category != types.MoodRelaxed || !near(st.Confidence, 0.15) {
		t.Errorf("Expected relaxed/0.15, got %s/%f", st.Category, st.Confidence)
	}

	clk.Advance(2 * time.Hour)
	st = tr.ObserveAudio(Classification{Category: types.MoodHappy, Confidence: 0})
	if st.Category != types.MoodNeutral || st.Confidence != 0.5 {
		t.Errorf("Expected neutral/0.5 when everything decayed, got %s/%f", st.Category, st.Confidence)
	}
}

func TestTrackerTiesPickLowestCategory(t *testing.T) {
	tr, _ := newTestTracker(noon)
	tr.ObserveAudio(Classification{Category: types.MoodAngry, Confidence: 0.7})
	st := tr.ObserveAudio(Classification{Category: types.MoodRelaxed, Confidence: 0.7})
	if st.Category != types.MoodRelaxed {
		t.Errorf("Expected relaxed to win the tie, got %s", st.Category)
	}
}

func TestTrackerOverride(t *testing.T) {
	tr, _ := newTestTracker(noon)
	st := tr.Override(types.MoodRomantic)
	if st.Category != types.MoodRomantic || st.Confidence != 0.9 {
		t.Errorf("Expected romantic/0.9, got %s/%f", st.Category, st.Confidence)
	}

	h := tr.History()
	if len(h) != 1 || h[0].Source != types.SourceUser {
		t.Errorf("Expected one user detection in history, got %+v", h)
	}

	st = tr.ObserveInteraction(types.InteractionEvent{Type: types.EventMoodSelect, Mood: types.MoodFocused, HasMood: true})
	if st.Category != types.MoodFocused {
		t.Errorf("Expected mood selection to override, got %s", st.Category)
	}
}

func TestTrackerFeedback(t *testing.T) {
	tr, _ := newTestTracker(noon)
	tr.Override(types.MoodHappy)

	st := tr.Feedback(types.EventLike)
	if !near(st.Confidence, 0.95) {
		t.Errorf("Expected 0.95 after like, got %f", st.Confidence)
	}
	tr.Feedback(types.EventRepeat)
	st = tr.Feedback(types.EventComplete)
	if st.Confidence != 1 {
		t.Errorf("Expected confidence clamped to 1, got %f", st.Confidence)
	}

	st = tr.Feedback(types.EventSkip)
	if !near(st.Confidence, 0.9) {
		t.Errorf("Expected 0.9 after skip, got %f", st.Confidence)
	}

	before := tr.State()
	if st = tr.Feedback(types.EventSearch); st != before {
		t.Errorf("Expected neutral event to leave state alone, got %+v", st)
	}
}

func TestTrackerFiveSkipsResetToNeutral(t *testing.T) {
	tr, _ := newTestTracker(noon)
	tr.Restore(State{Category: types.MoodHappy, Confidence: 0.3, UpdatedAt: noon}, nil)

	var st State
	for i := 0; i < 5; i++ {
		st = tr.ObserveInteraction(types.InteractionEvent{Type: types.EventSkip})
		if st.Confidence < 0 || st.Confidence > 1 {
			t.Fatalf("Confidence %f out of range", st.Confidence)
		}
	}
	if st.Category != types.MoodNeutral || st.Confidence != 0.5 {
		t.Errorf("Expected neutral/0.5 after five skips, got %s/%f", st.Category, st.Confidence)
	}
}

func TestTimeOfDayMood(t *testing.T) {
	tests := []struct {
		hour int
		want types.MoodCategory
	}{
		{0, types.MoodMelancholic},
		{4, types.MoodMelancholic},
		{5, types.MoodEnergetic},
		{8, types.MoodEnergetic},
		{9, types.MoodFocused},
		{11, types.MoodFocused},
		{12, types.MoodHappy},
		{16, types.MoodHappy},
		{17, types.MoodRelaxed},
		{20, types.MoodRelaxed},
		{21, types.MoodMelancholic},
		{23, types.MoodMelancholic},
	}
	for _, tt := range tests {
		got := TimeOfDayMood(time.Date(2024, 3, 1, tt.hour, 30, 0, 0, time.UTC))
		if got != tt.want {
			t.Errorf("Hour %d: expected %s, got %s", tt.hour, tt.want, got)
		}
	}
}

func TestEvaluateTimeOfDay(t *testing.T) {
	tr, _ := newTestTracker(noon)

	// neutral 0.5 beats the 0.4 suggestion
	st := tr.EvaluateTimeOfDay(noon)
	if st.Category != types.MoodNeutral {
		t.Errorf("Expected neutral to hold, got %s", st.Category)
	}
	h := tr.History()
	if len(h) != 1 || h[0].Source != types.SourceTimeOfDay || h[0].Category != types.MoodHappy {
		t.Errorf("Expected time-of-day detection in history, got %+v", h)
	}

	// a weak state gives way
	tr.Restore(State{Category: types.MoodAngry, Confidence: 0.3, UpdatedAt: noon}, nil)
	st = tr.EvaluateTimeOfDay(noon.Add(6 * time.Hour))
	if st.Category != types.MoodRelaxed || st.Confidence != 0.4 {
		t.Errorf("Expected relaxed/0.4, got %s/%f", st.Category, st.Confidence)
	}

	// a confident state holds
	tr.Override(types.MoodAngry)
	st = tr.EvaluateTimeOfDay(noon.Add(-5 * time.Hour))
	if st.Category != types.MoodAngry {
		t.Errorf("Expected user choice to hold, got %s", st.Category)
	}
}

func TestTrackerHistoryBounded(t *testing.T) {
	cfg := DefaultTrackerConfig()
	cfg.HistorySize = 3
	tr := NewTracker(cfg, clock.NewManual(noon))

	for _, m := range []types.MoodCategory{types.MoodAngry, types.MoodHappy, types.MoodFocused, types.MoodRelaxed} {
		tr.ObserveAudio(Classification{Category: m, Confidence: 0.6})
	}
	h := tr.History()
	if len(h) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(h))
	}
	if h[0].Category != types.MoodHappy || h[2].Category != types.MoodRelaxed {
		t.Errorf("Expected oldest entry dropped, got %+v", h)
	}

	h[0].Category = types.MoodNeutral
	if tr.History()[0].Category != types.MoodHappy {
		t.Error("Expected History to return a copy")
	}
}
