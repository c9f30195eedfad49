package store

import (
	"errors"
	"testing"
	"time"

	"github.com/austinkregel/local-media/moodd/internal/mood"
	"github.com/austinkregel/local-media/moodd/internal/personality"
	"github.com/austinkregel/local-media/moodd/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("")
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestFeaturesRoundTrip(t *testing.T) {
	s := openTestStore(t)

	f := types.AudioFeatures{Tempo: 128, Energy: 0.7, Source: types.SourceHeuristic}
	f.Spectral.Centroid = 0.3
	if err := s.StoreFeatures("abc", "/music/a.flac", f); err != nil {
		t.Fatalf("StoreFeatures failed: %v", err)
	}

	got, err := s.GetFeatures("abc")
	if err != nil {
		t.Fatalf("GetFeatures failed: %v", err)
	}
	if got.Features != f {
		t.Errorf("Expected %+v, got %+v", f, got.Features)
	}
	if got.Path != "/music/a.flac" || got.Version != FeatureVersion {
		t.Errorf("Unexpected metadata: %+v", got)
	}

	if !s.HasFeatures("abc", FeatureVersion) {
		t.Error("Expected HasFeatures at current version")
	}
	if s.HasFeatures("abc", FeatureVersion+1) {
		t.Error("Expected newer version to be missing")
	}
	if _, err := s.GetFeatures("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestAllFeatures(t *testing.T) {
	s := openTestStore(t)
	for _, sig := range []string{"a", "b", "c"} {
		if err := s.StoreFeatures(sig, "/"+sig, types.AudioFeatures{Tempo: 100}); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.SavePersonality(personality.Snapshot{}); err != nil {
		t.Fatal(err)
	}

	all, err := s.AllFeatures()
	if err != nil {
		t.Fatalf("AllFeatures failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("Expected 3 records, got %d", len(all))
	}
	if n, _ := s.AnalyzedCount(); n != 3 {
		t.Errorf("Expected count 3, got %d", n)
	}

	if err := s.ClearFeatures(); err != nil {
		t.Fatalf("ClearFeatures failed: %v", err)
	}
	if n, _ := s.AnalyzedCount(); n != 0 {
		t.Errorf("Expected no features, got %d", n)
	}
	if _, err := s.LoadPersonality(); err != nil {
		t.Errorf("Expected personality snapshot to survive, got %v", err)
	}
}

func TestMoodAndPersonalitySnapshots(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.LoadMood(); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound before save, got %v", err)
	}

	at := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	state := mood.State{Category: types.MoodFocused, Confidence: 0.7, UpdatedAt: at}
	history := []mood.Detection{{Category: types.MoodFocused, Timestamp: at, Confidence: 0.7, Source: types.SourceAudio}}
	if err := s.SaveMood(state, history); err != nil {
		t.Fatalf("SaveMood failed: %v", err)
	}

	snap, err := s.LoadMood()
	if err != nil {
		t.Fatalf("LoadMood failed: %v", err)
	}
	if snap.State.Category != types.MoodFocused || !snap.State.UpdatedAt.Equal(at) {
		t.Errorf("Unexpected state: %+v", snap.State)
	}
	if len(snap.History) != 1 || snap.History[0].Source != types.SourceAudio {
		t.Errorf("Unexpected history: %+v", snap.History)
	}

	p := personality.Snapshot{
		Weights:     personality.Weights{1, 0.4, 0.4, 0.4, 0.4, 0.4},
		Dominant:    types.TraitExplorer,
		Established: true,
	}
	if err := s.SavePersonality(p); err != nil {
		t.Fatalf("SavePersonality failed: %v", err)
	}
	got, err := s.LoadPersonality()
	if err != nil {
		t.Fatalf("LoadPersonality failed: %v", err)
	}
	if got != p {
		t.Errorf("Expected %+v, got %+v", p, got)
	}
}
