package supervisor

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/austinkregel/local-media/moodd/internal/analysis"
	"github.com/austinkregel/local-media/moodd/internal/scanner"
	"github.com/austinkregel/local-media/moodd/internal/types"
)

type fakeSubmitter struct {
	mu      sync.Mutex
	full    int
	paths   []string
	attempt int
}

func (f *fakeSubmitter) Submit(job analysis.Job) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempt++
	if f.full > 0 {
		f.full--
		return "", analysis.ErrQueueFull
	}
	f.paths = append(f.paths, job.Path)
	return "id", nil
}

func TestSubmitWaitRetriesWhenFull(t *testing.T) {
	f := &fakeSubmitter{full: 2}
	if err := SubmitWait(context.Background(), f, analysis.Job{Path: "/a"}); err != nil {
		t.Fatalf("SubmitWait failed: %v", err)
	}
	if f.attempt != 3 || len(f.paths) != 1 {
		t.Errorf("Expected 3 attempts and 1 job, got %d and %d", f.attempt, len(f.paths))
	}
}

func TestSubmitWaitCancelled(t *testing.T) {
	f := &fakeSubmitter{full: 1000}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := SubmitWait(ctx, f, analysis.Job{Path: "/a"}); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestLibraryScanServiceQueuesFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.wav", "b.mp3", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	f := &fakeSubmitter{}
	svc := NewLibraryScanService(scanner.NewScanner(), []string{dir}, f)
	if err := svc.Serve(context.Background()); !errors.Is(err, suture.ErrDoNotRestart) {
		t.Fatalf("Expected ErrDoNotRestart, got %v", err)
	}

	sort.Strings(f.paths)
	want := []string{filepath.Join(dir, "a.wav"), filepath.Join(dir, "b.mp3")}
	if len(f.paths) != 2 || f.paths[0] != want[0] || f.paths[1] != want[1] {
		t.Errorf("Expected %v, got %v", want, f.paths)
	}
}

func TestLibraryScanServiceNoPaths(t *testing.T) {
	svc := NewLibraryScanService(scanner.NewScanner(), nil, &fakeSubmitter{})
	if err := svc.Serve(context.Background()); !errors.Is(err, suture.ErrDoNotRestart) {
		t.Errorf("Expected ErrDoNotRestart, got %v", err)
	}
}

func TestEventReaderService(t *testing.T) {
	input := strings.Join([]string{
		`{"type":"skip"}`,
		`not json`,
		``,
		`{"type":"mood_select","mood":4,"hasMood":true}`,
	}, "\n")
	out := make(chan types.InteractionEvent, 4)
	svc := NewEventReaderService(strings.NewReader(input), out)

	if err := svc.Serve(context.Background()); !errors.Is(err, suture.ErrDoNotRestart) {
		t.Fatalf("Expected ErrDoNotRestart at end of input, got %v", err)
	}
	close(out)

	var got []types.InteractionEvent
	for ev := range out {
		got = append(got, ev)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(got))
	}
	if got[0].Type != types.EventSkip {
		t.Errorf("Expected skip, got %s", got[0].Type)
	}
	if got[1].Type != types.EventMoodSelect || got[1].Mood != types.MoodFocused || !got[1].HasMood {
		t.Errorf("Unexpected second event: %+v", got[1])
	}
}

func pcm16Sine(freq float64, sampleRate, samples int) []byte {
	var buf bytes.Buffer
	for i := 0; i < samples; i++ {
		v := int16(math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)) * 16000)
		binary.Write(&buf, binary.LittleEndian, v)
	}
	return buf.Bytes()
}

func TestTapService(t *testing.T) {
	tap, err := analysis.NewTap(analysis.TapConfig{
		SampleRate:   8000,
		FrameSize:    256,
		HopSize:      128,
		MinBPM:       60,
		MaxBPM:       200,
		PublishEvery: 2,
		TempoFrames:  64,
		Deadline:     time.Second,
		PoolSize:     4,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	published := 0
	tap.SetCallback(func(types.AudioFeatures) {
		mu.Lock()
		published++
		mu.Unlock()
	})

	data := pcm16Sine(440, 8000, 8000)
	svc := NewTapService(tap, func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}, 1)

	if svc.Active() {
		t.Error("Expected inactive before any audio")
	}
	if err := svc.Serve(context.Background()); !errors.Is(err, suture.ErrDoNotRestart) {
		t.Fatalf("Expected ErrDoNotRestart at end of audio, got %v", err)
	}
	if !svc.Active() {
		t.Error("Expected active right after audio")
	}

	mu.Lock()
	defer mu.Unlock()
	if published == 0 {
		t.Error("Expected the tap to publish features")
	}
	if _, ok := tap.Latest(); !ok {
		t.Error("Expected latest features to be available")
	}
}

func TestTapServiceOpenFailure(t *testing.T) {
	tap, err := analysis.NewTap(analysis.TapConfig{SampleRate: 8000, FrameSize: 256, HopSize: 128, MinBPM: 60, MaxBPM: 200, Deadline: time.Second, PoolSize: 1}, nil)
	if err != nil {
		t.Fatal(err)
	}
	svc := NewTapService(tap, func() (io.ReadCloser, error) {
		return nil, errors.New("no device")
	}, 2)
	if err := svc.Serve(context.Background()); err == nil || errors.Is(err, suture.ErrDoNotRestart) {
		t.Errorf("Expected a restartable error, got %v", err)
	}
}
