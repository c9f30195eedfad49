package scanner

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}

func collect(t *testing.T, s *Scanner, paths []string) []FileInfo {
	t.Helper()
	results := make(chan FileInfo)
	errCh := make(chan error, 1)
	go func() { errCh <- s.Walk(context.Background(), paths, results) }()

	var files []FileInfo
	for fi := range results {
		files = append(files, fi)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("Walk failed: %v", err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files
}

func TestWalkFindsAudioAndSkipsHidden(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.mp3"), "x")
	writeFile(t, filepath.Join(root, "b.FLAC"), "x")
	writeFile(t, filepath.Join(root, "notes.txt"), "x")
	writeFile(t, filepath.Join(root, ".cache", "c.mp3"), "x")
	writeFile(t, filepath.Join(root, "sub", "d.wav"), "x")

	s := NewScanner()
	s.ffprobePath = "" // keep the test independent of installed tools
	files := collect(t, s, []string{root})

	if len(files) != 3 {
		t.Fatalf("Expected 3 files, got %d: %+v", len(files), files)
	}
	if filepath.Base(files[0].Path) != "a.mp3" || filepath.Base(files[2].Path) != "d.wav" {
		t.Errorf("Unexpected files: %+v", files)
	}
	if s.IsRunning() {
		t.Error("Expected scanner to be idle after Walk")
	}
}

func TestWalkAttachesNFOTags(t *testing.T) {
	root := t.TempDir()
	artistDir := filepath.Join(root, "Artist")
	albumDir := filepath.Join(artistDir, "Album")

	writeFile(t, filepath.Join(artistDir, ArtistNFO),
		`<artist><name>The Band</name><genre>Rock</genre><mood>Aggressive</mood></artist>`)
	writeFile(t, filepath.Join(albumDir, AlbumNFO),
		`<album><title>Loud</title><genre>Metal</genre><style>Rock</style><mood>Rage</mood></album>`)
	writeFile(t, filepath.Join(albumDir, "01.mp3"), "x")

	s := NewScanner()
	s.ffprobePath = ""
	files := collect(t, s, []string{root})
	if len(files) != 1 {
		t.Fatalf("Expected 1 file, got %d", len(files))
	}

	tags := files[0].Tags
	if tags.Album != "Loud" || tags.Artist != "The Band" {
		t.Errorf("Expected album/artist from NFO, got %+v", tags)
	}
	wantGenres := []string{"metal", "rock"}
	if len(tags.Genres) != len(wantGenres) {
		t.Fatalf("Expected genres %v, got %v", wantGenres, tags.Genres)
	}
	for i := range wantGenres {
		if tags.Genres[i] != wantGenres[i] {
			t.Errorf("Genre %d: expected %q, got %q", i, wantGenres[i], tags.Genres[i])
		}
	}
	if len(tags.Moods) != 2 {
		t.Errorf("Expected two moods, got %v", tags.Moods)
	}
}

func TestWalkCancelled(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 10; i++ {
		writeFile(t, filepath.Join(root, string(rune('a'+i))+".mp3"), "x")
	}

	s := NewScanner()
	s.ffprobePath = ""
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := make(chan FileInfo, 20)
	if err := s.Walk(ctx, []string{root}, results); err != context.Canceled {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestParseProbeFallsBackToFilename(t *testing.T) {
	meta := parseProbe([]byte(`{"format":{"duration":"215.5","tags":{"artist":"X"}}}`), "/music/Song Name.flac")
	if meta == nil {
		t.Fatal("Expected metadata")
	}
	if meta.Title != "Song Name" {
		t.Errorf("Expected title from filename, got %q", meta.Title)
	}
	if meta.Duration != 215500 {
		t.Errorf("Expected 215500ms, got %d", meta.Duration)
	}
	if meta.Artist != "X" {
		t.Errorf("Expected artist X, got %q", meta.Artist)
	}
	if parseProbe([]byte("not json"), "x.mp3") != nil {
		t.Error("Expected nil for malformed output")
	}
}

func TestParseProbeGenreCaseInsensitive(t *testing.T) {
	meta := parseProbe([]byte(`{"format":{"tags":{"TITLE":"Song","GENRE":"Jazz"}}}`), "/m/x.ogg")
	if meta == nil || meta.Title != "Song" || meta.Genre != "Jazz" {
		t.Errorf("Unexpected metadata: %+v", meta)
	}
}

func TestFileInfoGenres(t *testing.T) {
	tests := []struct {
		name string
		fi   FileInfo
		want []string
	}{
		{"none", FileInfo{}, nil},
		{"embedded split", FileInfo{Metadata: &TrackMetadata{Genre: "Jazz; Soul/jazz"}}, []string{"jazz", "soul"}},
		{"merged with dir", FileInfo{
			Metadata: &TrackMetadata{Genre: "Rock"},
			Tags:     DirTags{Genres: []string{"rock", "metal"}},
		}, []string{"rock", "metal"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.fi.Genres()
			if len(got) != len(tt.want) {
				t.Fatalf("Expected %v, got %v", tt.want, got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Expected %v, got %v", tt.want, got)
				}
			}
		})
	}
}

func TestIsAudioFile(t *testing.T) {
	for path, want := range map[string]bool{"a.MP3": true, "b.opus": true, "c.txt": false, "noext": false} {
		if got := IsAudioFile(path); got != want {
			t.Errorf("IsAudioFile(%q): expected %v, got %v", path, want, got)
		}
	}
}
