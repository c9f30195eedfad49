// Package scanner walks music libraries for batch analysis. Each audio
// file found is reported with its embedded tags (via ffprobe, when
// installed) and the genre and mood tags of the surrounding NFO files.
package scanner

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/austinkregel/local-media/moodd/internal/logging"
)

// probeTimeout bounds a single ffprobe call
const probeTimeout = 5 * time.Second

var audioExtensions = map[string]bool{
	".mp3": true, ".flac": true, ".m4a": true, ".aac": true, ".ogg": true,
	".wav": true, ".wma": true, ".alac": true, ".opus": true,
}

// IsAudioFile reports whether path has an extension the analyzer accepts
func IsAudioFile(path string) bool {
	return audioExtensions[strings.ToLower(filepath.Ext(path))]
}

// TrackMetadata holds the embedded tags of one file
type TrackMetadata struct {
	Title    string `json:"title,omitempty"`
	Artist   string `json:"artist,omitempty"`
	Album    string `json:"album,omitempty"`
	Genre    string `json:"genre,omitempty"`
	Duration int64  `json:"duration,omitempty"` // milliseconds
}

// FileInfo is one audio file found in the library
type FileInfo struct {
	Path       string         `json:"path"`
	Size       int64          `json:"size"`
	ModifiedAt int64          `json:"modifiedAt"` // Unix timestamp
	Metadata   *TrackMetadata `json:"metadata,omitempty"`
	Tags       DirTags        `json:"tags"`
}

// Genres merges the embedded genre with the directory genres, lowercased
// and without duplicates.
func (f FileInfo) Genres() []string {
	var embedded []string
	if f.Metadata != nil && f.Metadata.Genre != "" {
		// ffprobe reports multi-valued genres joined with ';' or '/'
		embedded = strings.FieldsFunc(f.Metadata.Genre, func(r rune) bool { return r == ';' || r == '/' })
	}
	return appendUnique(nil, embedded, f.Tags.Genres)
}

// ErrScanRunning is returned when a scan is already in progress
var ErrScanRunning = errors.New("scan already in progress")

// Scanner walks library paths. One walk runs at a time.
type Scanner struct {
	mu        sync.Mutex
	isRunning bool
	cancel    context.CancelFunc

	ffprobePath string
	nicePath    string // runs ffprobe at low priority when present
	log         zerolog.Logger
}

// NewScanner creates a new scanner. ffprobe is optional; without it files
// carry no embedded metadata.
func NewScanner() *Scanner {
	ffprobePath, _ := exec.LookPath("ffprobe")
	nicePath, _ := exec.LookPath("nice")
	return &Scanner{
		ffprobePath: ffprobePath,
		nicePath:    nicePath,
		log:         logging.With("scanner"),
	}
}

// IsRunning returns whether a scan is in progress
func (s *Scanner) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// Stop cancels the running walk, if any
func (s *Scanner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *Scanner) begin(ctx context.Context) (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return nil, ErrScanRunning
	}
	s.isRunning = true
	ctx, s.cancel = context.WithCancel(ctx)
	return ctx, nil
}

func (s *Scanner) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.isRunning = false
	s.cancel = nil
}

// Walk streams every supported audio file under paths to results and
// closes results when done. Hidden directories are skipped and paths that
// are not directories are logged and ignored.
func (s *Scanner) Walk(ctx context.Context, paths []string, results chan<- FileInfo) error {
	defer close(results)

	ctx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer s.end()

	start := time.Now()
	tags := newTagCache()
	found := 0
	for _, root := range paths {
		if info, err := os.Stat(root); err != nil || !info.IsDir() {
			s.log.Warn().Str("path", root).Msg("skipping library path: not a directory")
			continue
		}

		n, err := s.walkRoot(ctx, root, tags, results)
		found += n
		if err != nil {
			s.log.Info().Int("files", found).Msg("scan cancelled")
			return err
		}
	}

	s.log.Info().Int("files", found).Dur("took", time.Since(start)).Msg("scan complete")
	return nil
}

func (s *Scanner) walkRoot(ctx context.Context, root string, tags *tagCache, results chan<- FileInfo) (int, error) {
	found := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		switch {
		case err != nil:
			return nil // unreadable entries are skipped
		case d.IsDir():
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		case !IsAudioFile(path):
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		fi := FileInfo{
			Path:       path,
			Size:       info.Size(),
			ModifiedAt: info.ModTime().Unix(),
			Metadata:   s.probe(ctx, path),
			Tags:       tags.forDir(filepath.Dir(path), root),
		}
		select {
		case results <- fi:
			found++
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	return found, err
}

// probe reads embedded tags with ffprobe. Failures yield nil metadata.
func (s *Scanner) probe(ctx context.Context, path string) *TrackMetadata {
	if s.ffprobePath == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	args := []string{
		"-v", "error",
		"-show_entries", "format=duration:format_tags=title,artist,album,genre",
		"-of", "json",
		path,
	}
	name := s.ffprobePath
	if s.nicePath != "" {
		args = append([]string{"-n", "19", s.ffprobePath}, args...)
		name = s.nicePath
	}

	output, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		s.log.Debug().Err(err).Str("path", path).Msg("ffprobe failed")
		return nil
	}
	return parseProbe(output, path)
}

// parseProbe decodes ffprobe JSON output. The title falls back to the file name.
func parseProbe(output []byte, path string) *TrackMetadata {
	var result struct {
		Format struct {
			Duration string            `json:"duration"`
			Tags     map[string]string `json:"tags"`
		} `json:"format"`
	}
	if err := json.Unmarshal(output, &result); err != nil {
		return nil
	}

	// tag key case varies by container
	tag := func(key string) string {
		for k, v := range result.Format.Tags {
			if strings.EqualFold(k, key) {
				return strings.TrimSpace(v)
			}
		}
		return ""
	}
	meta := &TrackMetadata{
		Title:  tag("title"),
		Artist: tag("artist"),
		Album:  tag("album"),
		Genre:  tag("genre"),
	}
	if secs, err := strconv.ParseFloat(result.Format.Duration, 64); err == nil {
		meta.Duration = int64(secs * 1000)
	}
	if meta.Title == "" {
		base := filepath.Base(path)
		meta.Title = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return meta
}
