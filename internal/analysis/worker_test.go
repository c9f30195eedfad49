package analysis

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/austinkregel/local-media/moodd/internal/clock"
	"github.com/austinkregel/local-media/moodd/internal/types"
)

// fakeDecoder returns a fixed tone, optionally blocking until released
type fakeDecoder struct {
	calls   int32
	started chan struct{}
	release chan struct{}
}

func (d *fakeDecoder) DecodeFile(ctx context.Context, path string) (types.PCMBuffer, error) {
	atomic.AddInt32(&d.calls, 1)
	if d.started != nil {
		d.started <- struct{}{}
	}
	if d.release != nil {
		select {
		case <-d.release:
		case <-ctx.Done():
			return types.PCMBuffer{}, ctx.Err()
		}
	}
	return types.PCMBuffer{Samples: sine(440, 0.5, 8000, 8192), SampleRate: 8000, Channels: 1}, nil
}

type fakeEnricher struct{ fail bool }

func (e fakeEnricher) Enrich(ctx context.Context, f types.AudioFeatures) (types.AudioFeatures, error) {
	if e.fail {
		return f, types.ErrModelUnavailable
	}
	f.Speechiness = 0.9
	f.Source = types.SourceModel
	return f, nil
}

func newTestWorker(t *testing.T, cfg WorkerConfig) *Worker {
	t.Helper()
	ex, err := NewExtractor(ExtractorConfig{FrameSize: 1024, HopSize: 512, MinBPM: 60, MaxBPM: 200})
	if err != nil {
		t.Fatalf("NewExtractor failed: %v", err)
	}
	cfg.Extractor = ex
	w, err := NewWorker(cfg)
	if err != nil {
		t.Fatalf("NewWorker failed: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(w.Stop)
	return w
}

func tempTrack(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(name), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func receive(t *testing.T, w *Worker) Result {
	t.Helper()
	select {
	case r := <-w.Results():
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for result")
	}
	return Result{}
}

func TestWorkerAnalyzesPCM(t *testing.T) {
	w := newTestWorker(t, WorkerConfig{MaxWorkers: 2, QueueSize: 4, Decoder: &fakeDecoder{}})

	pcm := &types.PCMBuffer{Samples: sine(440, 0.5, 8000, 8192), SampleRate: 8000, Channels: 1}
	ids := map[string]bool{}
	for i := 0; i < 3; i++ {
		id, err := w.Submit(Job{PCM: pcm})
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
		if id == "" {
			t.Fatal("Expected generated job ID")
		}
		ids[id] = true
	}
	if len(ids) != 3 {
		t.Errorf("Expected unique IDs, got %v", ids)
	}

	for i := 0; i < 3; i++ {
		r := receive(t, w)
		if r.Err != nil {
			t.Errorf("Unexpected error: %v", r.Err)
		}
		if !ids[r.JobID] {
			t.Errorf("Unexpected job ID %s", r.JobID)
		}
		if r.Features.Energy <= 0 {
			t.Errorf("Expected energy, got %f", r.Features.Energy)
		}
	}

	if st := w.GetStatus(); st.Analyzed != 3 || st.Status != "running" {
		t.Errorf("Expected 3 analyzed while running, got %+v", st)
	}
}

func TestWorkerUsesCache(t *testing.T) {
	dec := &fakeDecoder{}
	cache := NewFeatureCache(8, time.Hour, clock.NewManual(time.Unix(0, 0)))
	w := newTestWorker(t, WorkerConfig{MaxWorkers: 1, QueueSize: 4, Decoder: dec, Cache: cache})

	path := tempTrack(t, "song.flac")
	if _, err := w.Submit(Job{Path: path}); err != nil {
		t.Fatal(err)
	}
	first := receive(t, w)
	if first.Err != nil || first.Cached {
		t.Fatalf("Expected fresh analysis, got cached=%v err=%v", first.Cached, first.Err)
	}
	if first.Signature == "" {
		t.Error("Expected signature on file results")
	}

	if _, err := w.Submit(Job{Path: path}); err != nil {
		t.Fatal(err)
	}
	second := receive(t, w)
	if !second.Cached {
		t.Error("Expected second analysis to hit the cache")
	}
	if second.Features != first.Features {
		t.Error("Expected cached features to match")
	}
	if n := atomic.LoadInt32(&dec.calls); n != 1 {
		t.Errorf("Expected 1 decode, got %d", n)
	}
}

func TestWorkerMissingFile(t *testing.T) {
	w := newTestWorker(t, WorkerConfig{MaxWorkers: 1, QueueSize: 4, Decoder: &fakeDecoder{}})

	if _, err := w.Submit(Job{Path: filepath.Join(t.TempDir(), "gone.mp3")}); err != nil {
		t.Fatal(err)
	}
	r := receive(t, w)
	if !errors.Is(r.Err, types.ErrInvalidAudioFormat) {
		t.Errorf("Expected invalid format error, got %v", r.Err)
	}
	if r.Duration <= 0 {
		t.Errorf("Expected failed job to report its duration, got %v", r.Duration)
	}
}

func TestWorkerEnricher(t *testing.T) {
	pcm := &types.PCMBuffer{Samples: sine(440, 0.5, 8000, 8192), SampleRate: 8000, Channels: 1}

	w := newTestWorker(t, WorkerConfig{MaxWorkers: 1, QueueSize: 2, Decoder: &fakeDecoder{}, Enricher: fakeEnricher{}})
	w.Submit(Job{PCM: pcm})
	r := receive(t, w)
	if r.Features.Source != types.SourceModel || r.Features.Speechiness != 0.9 {
		t.Errorf("Expected enriched features, got %+v", r.Features)
	}

	w2 := newTestWorker(t, WorkerConfig{MaxWorkers: 1, QueueSize: 2, Decoder: &fakeDecoder{}, Enricher: fakeEnricher{fail: true}})
	w2.Submit(Job{PCM: pcm})
	r = receive(t, w2)
	if r.Err != nil {
		t.Fatalf("Expected enricher failure to be tolerated, got %v", r.Err)
	}
	if r.Features.Source != types.SourceHeuristic || r.Features.Speechiness != types.DefaultSpeechiness {
		t.Errorf("Expected heuristic defaults, got %+v", r.Features)
	}
}

func TestWorkerQueueFull(t *testing.T) {
	dec := &fakeDecoder{started: make(chan struct{}, 4), release: make(chan struct{})}
	w := newTestWorker(t, WorkerConfig{MaxWorkers: 1, QueueSize: 1, Decoder: dec})

	if _, err := w.Submit(Job{Path: tempTrack(t, "a.mp3")}); err != nil {
		t.Fatal(err)
	}
	<-dec.started // the only worker is now busy

	if _, err := w.Submit(Job{Path: tempTrack(t, "b.mp3")}); err != nil {
		t.Fatalf("Expected queued job, got %v", err)
	}
	if _, err := w.Submit(Job{Path: tempTrack(t, "c.mp3")}); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Expected ErrQueueFull, got %v", err)
	}

	close(dec.release)
	for i := 0; i < 2; i++ {
		if r := receive(t, w); r.Err != nil {
			t.Errorf("Unexpected error: %v", r.Err)
		}
	}
}

func TestWorkerCancel(t *testing.T) {
	dec := &fakeDecoder{started: make(chan struct{}, 4), release: make(chan struct{})}
	w := newTestWorker(t, WorkerConfig{MaxWorkers: 1, QueueSize: 4, Decoder: dec})

	running, _ := w.Submit(Job{Path: tempTrack(t, "a.mp3")})
	<-dec.started
	queued, _ := w.Submit(Job{Path: tempTrack(t, "b.mp3")})

	if !w.Cancel(queued) {
		t.Error("Expected queued job to be cancellable")
	}
	if !w.Cancel(running) {
		t.Error("Expected running job to be cancellable")
	}

	got := map[string]error{}
	for i := 0; i < 2; i++ {
		r := receive(t, w)
		got[r.JobID] = r.Err
	}
	for _, id := range []string{running, queued} {
		if !errors.Is(got[id], context.Canceled) {
			t.Errorf("Job %s: expected context.Canceled, got %v", id, got[id])
		}
	}
	if st := w.GetStatus(); st.Failed != 2 {
		t.Errorf("Expected 2 failed jobs, got %d", st.Failed)
	}
}

func TestWorkerLifecycle(t *testing.T) {
	ex, _ := NewExtractor(DefaultExtractorConfig())
	w, err := NewWorker(WorkerConfig{Extractor: ex, Decoder: &fakeDecoder{}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Submit(Job{Path: "x.mp3"}); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Expected ErrNotRunning, got %v", err)
	}

	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := w.Start(context.Background()); err == nil {
		t.Error("Expected error starting twice")
	}

	w.Pause()
	if st := w.GetStatus(); st.Status != "paused" {
		t.Errorf("Expected paused, got %s", st.Status)
	}
	w.Resume()

	results := w.Results()
	w.Stop()
	if _, ok := <-results; ok {
		t.Error("Expected results channel to be closed")
	}
	if w.IsRunning() {
		t.Error("Expected worker to be stopped")
	}
	w.Stop()

	if _, err := NewWorker(WorkerConfig{}); err == nil {
		t.Error("Expected error without extractor")
	}
}
