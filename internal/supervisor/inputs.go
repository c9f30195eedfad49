package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"

	"github.com/austinkregel/local-media/moodd/internal/analysis"
	"github.com/austinkregel/local-media/moodd/internal/logging"
	"github.com/austinkregel/local-media/moodd/internal/scanner"
	"github.com/austinkregel/local-media/moodd/internal/types"
)

// submitRetry is the wait between attempts while the analysis queue is full
const submitRetry = 100 * time.Millisecond

// Submitter accepts analysis jobs. *analysis.Worker satisfies it.
type Submitter interface {
	Submit(job analysis.Job) (string, error)
}

// LibraryScanService walks the library once and queues every file for
// analysis. It is not restarted after a complete scan.
type LibraryScanService struct {
	scanner *scanner.Scanner
	paths   []string
	jobs    Submitter
	log     zerolog.Logger
}

// NewLibraryScanService creates the scan service
func NewLibraryScanService(s *scanner.Scanner, paths []string, jobs Submitter) *LibraryScanService {
	return &LibraryScanService{scanner: s, paths: paths, jobs: jobs, log: logging.With("scan")}
}

// Serve implements suture.Service
func (s *LibraryScanService) Serve(ctx context.Context) error {
	if len(s.paths) == 0 {
		return suture.ErrDoNotRestart
	}

	files := make(chan scanner.FileInfo, 64)
	walkErr := make(chan error, 1)
	go func() { walkErr <- s.scanner.Walk(ctx, s.paths, files) }()

	queued := 0
	for fi := range files {
		if err := SubmitWait(ctx, s.jobs, analysis.Job{Path: fi.Path}); err != nil {
			s.scanner.Stop()
			for range files {
			}
			<-walkErr
			return err
		}
		queued++
	}
	if err := <-walkErr; err != nil {
		return err
	}

	s.log.Info().Int("queued", queued).Msg("library queued for analysis")
	return suture.ErrDoNotRestart
}

func (s *LibraryScanService) String() string { return "library-scan" }

// SubmitWait submits job, waiting while the queue is full or the worker
// is (re)starting.
func SubmitWait(ctx context.Context, jobs Submitter, job analysis.Job) error {
	for {
		_, err := jobs.Submit(job)
		if !errors.Is(err, analysis.ErrQueueFull) && !errors.Is(err, analysis.ErrNotRunning) {
			return err
		}
		select {
		case <-time.After(submitRetry):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// EventReaderService decodes newline-delimited JSON interaction events
type EventReaderService struct {
	r   io.Reader
	out chan<- types.InteractionEvent
	log zerolog.Logger
}

// NewEventReaderService creates an event reader forwarding to out
func NewEventReaderService(r io.Reader, out chan<- types.InteractionEvent) *EventReaderService {
	return &EventReaderService{r: r, out: out, log: logging.With("events")}
}

// Serve implements suture.Service. Malformed lines are logged and skipped.
// End of input stops the service for good.
func (s *EventReaderService) Serve(ctx context.Context) error {
	lines := make(chan []byte)
	scanErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(s.r)
		for sc.Scan() {
			line := append([]byte(nil), sc.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				scanErr <- ctx.Err()
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-scanErr:
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("read events: %w", err)
			}
			return suture.ErrDoNotRestart
		case line := <-lines:
			if len(line) == 0 {
				continue
			}
			var ev types.InteractionEvent
			if err := json.Unmarshal(line, &ev); err != nil {
				s.log.Warn().Err(err).Msg("skipping malformed event")
				continue
			}
			select {
			case s.out <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (s *EventReaderService) String() string { return "event-reader" }

// TapService feeds raw interleaved 16-bit PCM into the real-time tap
type TapService struct {
	tap      *analysis.Tap
	open     func() (io.ReadCloser, error)
	channels int
	chunk    int
	lastData atomic.Int64
	log      zerolog.Logger
}

// NewTapService creates a tap feeder. open is called on every (re)start.
func NewTapService(tap *analysis.Tap, open func() (io.ReadCloser, error), channels int) *TapService {
	if channels < 1 {
		channels = 2
	}
	return &TapService{tap: tap, open: open, channels: channels, chunk: 4096, log: logging.With("tap")}
}

// Active reports whether audio arrived within the last second. It doubles
// as the analysis worker's playback probe.
func (s *TapService) Active() bool {
	last := s.lastData.Load()
	return last != 0 && time.Since(time.Unix(0, last)) < time.Second
}

// Serve implements suture.Service
func (s *TapService) Serve(ctx context.Context) error {
	src, err := s.open()
	if err != nil {
		return fmt.Errorf("open audio source: %w", err)
	}
	defer src.Close()

	// unblock a pending read on shutdown
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			src.Close()
		case <-done:
		}
	}()

	// whole sample frames only
	frame := 2 * s.channels
	buf := make([]byte, s.chunk-s.chunk%frame)
	for {
		n, err := io.ReadFull(src, buf)
		if n > 0 {
			s.lastData.Store(time.Now().UnixNano())
			if perr := s.tap.ProcessPCM16(buf[:n-n%frame], s.channels); perr != nil {
				s.log.Debug().Err(perr).Msg("tap buffer dropped")
			}
		}
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			s.log.Info().Msg("audio source ended")
			return suture.ErrDoNotRestart
		case err != nil:
			return fmt.Errorf("read audio: %w", err)
		}
	}
}

func (s *TapService) String() string { return "tap" }
