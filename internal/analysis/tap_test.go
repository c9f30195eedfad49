package analysis

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/austinkregel/local-media/moodd/internal/clock"
	"github.com/austinkregel/local-media/moodd/internal/types"
)

// stepClock advances by step every time it is read
type stepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

func testTapConfig() TapConfig {
	return TapConfig{
		SampleRate:   8000,
		FrameSize:    256,
		HopSize:      128,
		MinBPM:       60,
		MaxBPM:       200,
		PublishEvery: 2,
		TempoFrames:  64,
		Deadline:     time.Second,
		PoolSize:     4,
	}
}

func feed(t *testing.T, tap *Tap, samples []float64) error {
	t.Helper()
	buf := tap.Pool().Get()
	buf.Samples = append(buf.Samples, samples...)
	return tap.ProcessBuffer(buf)
}

func TestTapPublishes(t *testing.T) {
	tap, err := NewTap(testTapConfig(), clock.NewManual(time.Unix(0, 0)))
	if err != nil {
		t.Fatalf("NewTap failed: %v", err)
	}

	var published []types.AudioFeatures
	tap.SetCallback(func(f types.AudioFeatures) {
		published = append(published, f)
	})

	signal := sine(1000, 0.5, 8000, 256+128*5)

	// one full frame only: nothing published yet
	if err := feed(t, tap, signal[:256]); err != nil {
		t.Fatalf("ProcessBuffer failed: %v", err)
	}
	if _, ok := tap.Latest(); ok {
		t.Error("Expected no features before PublishEvery frames")
	}

	// 5 more hops: frames 2..6, publishes after frames 2, 4 and 6
	if err := feed(t, tap, signal[256:]); err != nil {
		t.Fatalf("ProcessBuffer failed: %v", err)
	}
	if len(published) != 1 {
		t.Fatalf("Expected one callback per buffer with new features, got %d", len(published))
	}

	latest, ok := tap.Latest()
	if !ok {
		t.Fatal("Expected features to be ready")
	}
	if latest.Tempo < 60 || latest.Tempo > 200 {
		t.Errorf("Expected tempo within bounds, got %f", latest.Tempo)
	}
	if latest.Energy <= 0 {
		t.Errorf("Expected positive energy, got %f", latest.Energy)
	}

	tap.Reset()
	if _, ok := tap.Latest(); ok {
		t.Error("Expected reset tap to have no features")
	}
}

func TestTapDeadline(t *testing.T) {
	cfg := testTapConfig()
	cfg.Deadline = 2 * time.Millisecond
	clk := &stepClock{now: time.Unix(0, 0), step: time.Millisecond}

	tap, err := NewTap(cfg, clk)
	if err != nil {
		t.Fatalf("NewTap failed: %v", err)
	}

	// 256 + 128*9 samples give 10 frame boundaries; only the first two fit
	err = feed(t, tap, sine(1000, 0.5, 8000, 256+128*9))
	if !errors.Is(err, types.ErrTimeout) {
		t.Fatalf("Expected timeout, got %v", err)
	}
	if tap.Misses() != 1 {
		t.Errorf("Expected 1 miss, got %d", tap.Misses())
	}
	if _, ok := tap.Latest(); !ok {
		t.Error("Expected frames analysed before the deadline to publish")
	}
	if tap.Pool().Idle() != cfg.PoolSize {
		t.Errorf("Expected buffer returned to the pool, got %d idle", tap.Pool().Idle())
	}
}

func TestTapProcessPCM16(t *testing.T) {
	tap, err := NewTap(testTapConfig(), clock.NewManual(time.Unix(0, 0)))
	if err != nil {
		t.Fatalf("NewTap failed: %v", err)
	}

	// stereo 16-bit, 512 frames of a square-ish wave
	data := make([]byte, 512*2*2)
	for i := 0; i < 512; i++ {
		v := int16(8000)
		if (i/8)%2 == 0 {
			v = -8000
		}
		for ch := 0; ch < 2; ch++ {
			off := (i*2 + ch) * 2
			data[off] = byte(v)
			data[off+1] = byte(v >> 8)
		}
	}

	if err := tap.ProcessPCM16(data, 2); err != nil {
		t.Fatalf("ProcessPCM16 failed: %v", err)
	}
	if _, ok := tap.Latest(); !ok {
		t.Error("Expected features after 512 mono samples")
	}
}

func TestNewTapValidation(t *testing.T) {
	cfg := testTapConfig()
	cfg.FrameSize = 300
	if _, err := NewTap(cfg, nil); err == nil {
		t.Error("Expected error for invalid frame size")
	}
}
