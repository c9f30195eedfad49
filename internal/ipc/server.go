package ipc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/austinkregel/local-media/moodd/internal/analysis"
	"github.com/austinkregel/local-media/moodd/internal/clock"
	"github.com/austinkregel/local-media/moodd/internal/logging"
	"github.com/austinkregel/local-media/moodd/internal/metrics"
	"github.com/austinkregel/local-media/moodd/internal/mood"
	"github.com/austinkregel/local-media/moodd/internal/personality"
	"github.com/austinkregel/local-media/moodd/internal/recommend"
	"github.com/austinkregel/local-media/moodd/internal/types"
)

// eventTimeout bounds how long a request waits for the engine to accept an event
const eventTimeout = 2 * time.Second

// writeTimeout bounds a single write to a client
const writeTimeout = 5 * time.Second

// pushQueueSize is how many feature pushes a client may lag behind before
// new ones are dropped
const pushQueueSize = 16

// Engine is the read side of the core. *engine.Core satisfies it.
type Engine interface {
	Mood() mood.State
	Personality() personality.Snapshot
	Recommend(candidates []recommend.Candidate, now time.Time) []recommend.Score
}

// Analyzer controls background analysis. *analysis.Worker satisfies it.
type Analyzer interface {
	Submit(job analysis.Job) (string, error)
	Cancel(id string) bool
	Pause()
	Resume()
	GetStatus() analysis.AnalysisStatus
}

// FeatureSource exposes the latest real-time features. *analysis.Tap satisfies it.
type FeatureSource interface {
	Latest() (types.AudioFeatures, bool)
}

// ServerConfig wires the server to the rest of the daemon. Analyzer and
// Features are optional; their commands fail when absent.
type ServerConfig struct {
	SocketPath string
	Engine     Engine
	Analyzer   Analyzer
	Features   FeatureSource
	// Events receives interaction events and mood overrides for the engine loop
	Events chan<- types.InteractionEvent
	Clock  clock.Clock
}

// DefaultSocketPath returns the per-user socket location
func DefaultSocketPath() string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("moodd-%d.sock", os.Getuid()))
}

// client serializes writes so pushes never interleave with responses.
// Pushes are queued and written by pushLoop, never by the publisher.
type client struct {
	conn   net.Conn
	wmu    sync.Mutex
	pushes chan []byte
	done   chan struct{}
	once   sync.Once
}

func newClient(conn net.Conn) *client {
	return &client{
		conn:   conn,
		pushes: make(chan []byte, pushQueueSize),
		done:   make(chan struct{}),
	}
}

func (c *client) writeLine(data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	_, err := c.conn.Write(append(data, '\n'))
	return err
}

// push queues msg without blocking and reports whether it was accepted
func (c *client) push(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.pushes <- msg:
		return true
	default:
		return false
	}
}

// pushLoop writes queued pushes until the client is closed. A failed write
// closes the connection.
func (c *client) pushLoop() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.pushes:
			if err := c.writeLine(msg); err != nil {
				c.close()
				return
			}
		}
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// Server handles IPC communication with clients
type Server struct {
	cfg ServerConfig
	log zerolog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}

	// Feature streaming (callback-based, no polling)
	subsMu sync.RWMutex
	subs   map[*client]bool
}

// NewServer creates a new IPC server
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Engine == nil {
		return nil, types.Errorf(types.KindConfigurationInvalid, "ipc.NewServer", "engine is required")
	}
	if cfg.SocketPath == "" {
		cfg.SocketPath = DefaultSocketPath()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	return &Server{
		cfg:     cfg,
		log:     logging.With("ipc"),
		clients: make(map[*client]struct{}),
		subs:    make(map[*client]bool),
	}, nil
}

// SocketPath returns the path the server listens on
func (s *Server) SocketPath() string { return s.cfg.SocketPath }

// Serve listens until ctx is cancelled. It implements suture.Service.
func (s *Server) Serve(ctx context.Context) error {
	// Remove a stale socket left by a previous run
	if err := os.RemoveAll(s.cfg.SocketPath); err != nil {
		return fmt.Errorf("failed to remove existing socket: %w", err)
	}

	listener, err := listenUnix(s.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on socket: %w", err)
	}

	// user-only
	if err := os.Chmod(s.cfg.SocketPath, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	s.log.Info().Str("socket", s.cfg.SocketPath).Msg("control socket listening")

	go s.acceptLoop(ctx, listener)

	<-ctx.Done()

	listener.Close()
	s.mu.Lock()
	clientCount := len(s.clients)
	for c := range s.clients {
		c.close()
	}
	s.mu.Unlock()
	os.RemoveAll(s.cfg.SocketPath)

	s.log.Info().Int("clients", clientCount).Msg("control socket stopped")
	return ctx.Err()
}

func (s *Server) String() string { return "ipc-server" }

func (s *Server) acceptLoop(ctx context.Context, listener net.Listener) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn().Err(err).Msg("accept failed")
			continue
		}

		c := newClient(conn)
		s.mu.Lock()
		s.clients[c] = struct{}{}
		clientCount := len(s.clients)
		s.mu.Unlock()
		s.log.Debug().Int("clients", clientCount).Msg("client connected")

		go c.pushLoop()
		go s.handleConnection(ctx, c)
	}
}

func (s *Server) handleConnection(ctx context.Context, c *client) {
	defer func() {
		c.close()
		s.mu.Lock()
		delete(s.clients, c)
		clientCount := len(s.clients)
		s.mu.Unlock()
		s.subsMu.Lock()
		delete(s.subs, c)
		s.subsMu.Unlock()
		s.log.Debug().Int("clients", clientCount).Msg("client disconnected")
	}()

	reader := bufio.NewReader(c.conn)
	for {
		if ctx.Err() != nil {
			return
		}

		// newline-delimited JSON
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.log.Warn().Err(err).Msg("read failed")
			}
			return
		}

		var resp *Response
		req, err := DecodeRequest(line)
		if err != nil {
			s.log.Warn().Err(err).Msg("invalid request")
			resp = NewErrorResponse("invalid request format")
		} else {
			start := time.Now()
			resp = s.handleRequest(ctx, c, req)
			logExchange(s.log, req, resp, time.Since(start))
		}

		data, err := EncodeResponse(resp)
		if err != nil {
			s.log.Error().Err(err).Msg("encode response failed")
			return
		}
		if err := c.writeLine(data); err != nil {
			s.log.Warn().Err(err).Msg("send failed")
			return
		}
	}
}

func (s *Server) handleRequest(ctx context.Context, c *client, req *Request) *Response {
	switch req.Cmd {
	case CmdStatus:
		return s.handleStatus()
	case CmdGetMood:
		return success(newMoodResponse(s.cfg.Engine.Mood()))
	case CmdSetMood:
		return s.handleSetMood(ctx, req)
	case CmdGetPersonality:
		return success(newPersonalityResponse(s.cfg.Engine.Personality()))
	case CmdEvent:
		return s.handleEvent(ctx, req)
	case CmdRecommend:
		return s.handleRecommend(req)
	case CmdAnalyze:
		return s.handleAnalyze(req)
	case CmdCancelAnalysis:
		return s.handleCancel(req)
	case CmdGetAnalysisStatus:
		if s.cfg.Analyzer == nil {
			return NewErrorResponse("analysis is not enabled")
		}
		return success(s.cfg.Analyzer.GetStatus())
	case CmdPauseAnalysis, CmdResumeAnalysis:
		if s.cfg.Analyzer == nil {
			return NewErrorResponse("analysis is not enabled")
		}
		if req.Cmd == CmdPauseAnalysis {
			s.cfg.Analyzer.Pause()
		} else {
			s.cfg.Analyzer.Resume()
		}
		return success(s.cfg.Analyzer.GetStatus())
	case CmdGetFeatures:
		return s.handleGetFeatures()
	case CmdSubscribeFeatures:
		return s.setSubscribed(c, true)
	case CmdUnsubscribeFeatures:
		return s.setSubscribed(c, false)
	default:
		return NewErrorResponse(fmt.Sprintf("unknown command: %s", req.Cmd))
	}
}

func success(data any) *Response {
	resp, err := NewSuccessResponse(data)
	if err != nil {
		return NewErrorResponse(err.Error())
	}
	return resp
}

func (s *Server) handleStatus() *Response {
	st := StatusResponse{
		Mood:        s.cfg.Engine.Mood(),
		Personality: newPersonalityResponse(s.cfg.Engine.Personality()),
		Subscribers: s.subscriberCount(),
	}
	if s.cfg.Analyzer != nil {
		as := s.cfg.Analyzer.GetStatus()
		st.Analysis = &as
	}
	return success(st)
}

func (s *Server) handleSetMood(ctx context.Context, req *Request) *Response {
	var data SetMoodRequest
	if err := json.Unmarshal(req.Data, &data); err != nil {
		return NewErrorResponse("invalid setMood data")
	}
	m, ok := types.ParseMoodCategory(data.Mood)
	if !ok {
		return NewErrorResponse(fmt.Sprintf("unknown mood: %q", data.Mood))
	}
	ev := types.InteractionEvent{Type: types.EventMoodSelect, Mood: m, HasMood: true}
	if err := s.forward(ctx, ev); err != nil {
		return NewErrorResponse(err.Error())
	}
	return success(SetMoodRequest{Mood: m.String()})
}

func (s *Server) handleEvent(ctx context.Context, req *Request) *Response {
	var ev types.InteractionEvent
	if err := json.Unmarshal(req.Data, &ev); err != nil {
		return NewErrorResponse("invalid event data")
	}
	if ev.Type == "" {
		return NewErrorResponse("event type is required")
	}
	if ev.HasMood && !ev.Mood.Valid() {
		return NewErrorResponse(fmt.Sprintf("invalid mood: %d", ev.Mood))
	}
	if err := s.forward(ctx, ev); err != nil {
		return NewErrorResponse(err.Error())
	}
	return success(map[string]bool{"accepted": true})
}

// forward hands an event to the engine loop, stamping it on arrival
func (s *Server) forward(ctx context.Context, ev types.InteractionEvent) error {
	if s.cfg.Events == nil {
		return errors.New("events are not accepted")
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.cfg.Clock.Now()
	}
	timer := time.NewTimer(eventTimeout)
	defer timer.Stop()
	select {
	case s.cfg.Events <- ev:
		return nil
	case <-timer.C:
		return errors.New("engine busy")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) handleRecommend(req *Request) *Response {
	var data RecommendRequest
	if err := json.Unmarshal(req.Data, &data); err != nil {
		return NewErrorResponse("invalid recommend data")
	}
	scores := s.cfg.Engine.Recommend(data.Candidates, s.cfg.Clock.Now())
	if data.Limit > 0 && len(scores) > data.Limit {
		scores = scores[:data.Limit]
	}
	return success(RecommendResponse{Scores: scores})
}

func (s *Server) handleAnalyze(req *Request) *Response {
	if s.cfg.Analyzer == nil {
		return NewErrorResponse("analysis is not enabled")
	}
	var data AnalyzeRequest
	if err := json.Unmarshal(req.Data, &data); err != nil {
		return NewErrorResponse("invalid analyze data")
	}
	if len(data.Paths) == 0 {
		return NewErrorResponse("no paths given")
	}

	resp := AnalyzeResponse{Jobs: make([]string, 0, len(data.Paths))}
	for _, p := range data.Paths {
		id, err := s.cfg.Analyzer.Submit(analysis.Job{Path: p})
		if err != nil {
			if resp.Rejected == nil {
				resp.Rejected = make(map[string]string)
			}
			resp.Rejected[p] = err.Error()
			continue
		}
		resp.Jobs = append(resp.Jobs, id)
	}
	return success(resp)
}

func (s *Server) handleCancel(req *Request) *Response {
	if s.cfg.Analyzer == nil {
		return NewErrorResponse("analysis is not enabled")
	}
	var data CancelRequest
	if err := json.Unmarshal(req.Data, &data); err != nil || data.JobID == "" {
		return NewErrorResponse("invalid cancelAnalysis data")
	}
	if !s.cfg.Analyzer.Cancel(data.JobID) {
		return NewErrorResponse(fmt.Sprintf("unknown job: %s", data.JobID))
	}
	return success(map[string]bool{"cancelled": true})
}

func (s *Server) handleGetFeatures() *Response {
	if s.cfg.Features == nil {
		return NewErrorResponse("real-time analysis is not enabled")
	}
	f, ok := s.cfg.Features.Latest()
	return success(FeaturesResponse{Ready: ok, Features: f, Timestamp: s.cfg.Clock.Now().UnixMilli()})
}

func (s *Server) setSubscribed(c *client, on bool) *Response {
	s.subsMu.Lock()
	if on {
		s.subs[c] = true
	} else {
		delete(s.subs, c)
	}
	count := len(s.subs)
	s.subsMu.Unlock()

	s.log.Debug().Bool("subscribed", on).Int("subscribers", count).Msg("feature subscription changed")
	return success(map[string]bool{"subscribed": on})
}

func (s *Server) subscriberCount() int {
	s.subsMu.RLock()
	defer s.subsMu.RUnlock()
	return len(s.subs)
}

// PublishFeatures queues features for every subscribed client and never
// blocks, so it is safe to call from the real-time tap callback. Clients
// whose queue is full miss the update.
func (s *Server) PublishFeatures(f types.AudioFeatures) {
	s.subsMu.RLock()
	if len(s.subs) == 0 {
		s.subsMu.RUnlock()
		return
	}
	subs := make([]*client, 0, len(s.subs))
	for c := range s.subs {
		subs = append(subs, c)
	}
	s.subsMu.RUnlock()

	msg, err := NewPushMessage(PushFeatures, FeaturesResponse{
		Ready:     true,
		Features:  f,
		Timestamp: s.cfg.Clock.Now().UnixMilli(),
	})
	if err != nil {
		return
	}

	for _, c := range subs {
		if !c.push(msg) {
			metrics.IPCPushesDropped.Inc()
		}
	}
}
