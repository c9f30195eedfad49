package ipc

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/austinkregel/local-media/moodd/internal/analysis"
	"github.com/austinkregel/local-media/moodd/internal/clock"
	"github.com/austinkregel/local-media/moodd/internal/mood"
	"github.com/austinkregel/local-media/moodd/internal/personality"
	"github.com/austinkregel/local-media/moodd/internal/recommend"
	"github.com/austinkregel/local-media/moodd/internal/types"
)

var testNow = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

type fakeEngine struct{}

func (fakeEngine) Mood() mood.State {
	return mood.State{Category: types.MoodFocused, Confidence: 0.9, UpdatedAt: testNow}
}

func (fakeEngine) Personality() personality.Snapshot { return personality.Snapshot{} }

func (fakeEngine) Recommend(c []recommend.Candidate, now time.Time) []recommend.Score {
	scores := make([]recommend.Score, len(c))
	for i := range c {
		scores[i] = recommend.Score{ItemID: c[i].ItemID}
	}
	return scores
}

type fakeAnalyzer struct {
	mu     sync.Mutex
	paths  []string
	paused bool
}

func (f *fakeAnalyzer) Submit(job analysis.Job) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if filepath.Ext(job.Path) == ".bad" {
		return "", analysis.ErrQueueFull
	}
	f.paths = append(f.paths, job.Path)
	return "job-" + filepath.Base(job.Path), nil
}

func (f *fakeAnalyzer) Cancel(id string) bool { return id == "job-a.wav" }

func (f *fakeAnalyzer) Pause() {
	f.mu.Lock()
	f.paused = true
	f.mu.Unlock()
}

func (f *fakeAnalyzer) Resume() {
	f.mu.Lock()
	f.paused = false
	f.mu.Unlock()
}

func (f *fakeAnalyzer) GetStatus() analysis.AnalysisStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.paused {
		return analysis.AnalysisStatus{Status: "paused"}
	}
	return analysis.AnalysisStatus{Status: "running", Analyzed: 3}
}

type fakeFeatures struct{}

func (fakeFeatures) Latest() (types.AudioFeatures, bool) {
	return types.AudioFeatures{Energy: 0.6, Tempo: 120}, true
}

type harness struct {
	server *Server
	client *Client
	events chan types.InteractionEvent
}

func startServer(t *testing.T, analyzer Analyzer, features FeatureSource) *harness {
	t.Helper()

	// unix socket paths are length limited, keep it short
	dir, err := os.MkdirTemp("", "moodd")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	events := make(chan types.InteractionEvent, 4)
	srv, err := NewServer(ServerConfig{
		SocketPath: filepath.Join(dir, "s.sock"),
		Engine:     fakeEngine{},
		Analyzer:   analyzer,
		Features:   features,
		Events:     events,
		Clock:      clock.NewManual(testNow),
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	var c *Client
	deadline := time.Now().Add(2 * time.Second)
	for {
		c, err = Dial(context.Background(), srv.SocketPath())
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server did not start: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Cleanup(func() { c.Close() })

	return &harness{server: srv, client: c, events: events}
}

func call(t *testing.T, c *Client, cmd CommandType, data, out any) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return c.Call(ctx, cmd, data, out)
}

func TestNewServerRequiresEngine(t *testing.T) {
	if _, err := NewServer(ServerConfig{}); !errors.Is(err, types.ErrConfigurationInvalid) {
		t.Errorf("Expected configuration error, got %v", err)
	}
}

func TestGetMood(t *testing.T) {
	h := startServer(t, nil, nil)

	var r MoodResponse
	if err := call(t, h.client, CmdGetMood, nil, &r); err != nil {
		t.Fatalf("getMood failed: %v", err)
	}
	if r.Mood != "focused" || r.Confidence != 0.9 {
		t.Errorf("Unexpected mood: %+v", r)
	}
}

func TestSetMoodForwardsOverride(t *testing.T) {
	h := startServer(t, nil, nil)

	if err := call(t, h.client, CmdSetMood, SetMoodRequest{Mood: "happy"}, nil); err != nil {
		t.Fatalf("setMood failed: %v", err)
	}
	select {
	case ev := <-h.events:
		if ev.Type != types.EventMoodSelect || ev.Mood != types.MoodHappy || !ev.HasMood {
			t.Errorf("Unexpected event: %+v", ev)
		}
		if !ev.Timestamp.Equal(testNow) {
			t.Errorf("Expected timestamp %v, got %v", testNow, ev.Timestamp)
		}
	default:
		t.Fatal("Expected an override event")
	}

	err := call(t, h.client, CmdSetMood, SetMoodRequest{Mood: "sleepy"}, nil)
	if !errors.Is(err, ErrRemote) {
		t.Errorf("Expected remote error for unknown mood, got %v", err)
	}
}

func TestEventValidation(t *testing.T) {
	h := startServer(t, nil, nil)

	tests := []struct {
		name    string
		event   types.InteractionEvent
		wantErr bool
	}{
		{"play", types.InteractionEvent{Type: types.EventPlay, ItemID: "a"}, false},
		{"missing type", types.InteractionEvent{ItemID: "a"}, true},
		{"bad mood", types.InteractionEvent{Type: types.EventLike, Mood: 42, HasMood: true}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := call(t, h.client, CmdEvent, tt.event, nil)
			if (err != nil) != tt.wantErr {
				t.Errorf("Expected error %v, got %v", tt.wantErr, err)
			}
		})
	}

	if len(h.events) != 1 {
		t.Errorf("Expected 1 forwarded event, got %d", len(h.events))
	}
}

func TestRecommendLimit(t *testing.T) {
	h := startServer(t, nil, nil)

	var r RecommendResponse
	req := RecommendRequest{
		Candidates: []recommend.Candidate{{ItemID: "a"}, {ItemID: "b"}, {ItemID: "c"}},
		Limit:      2,
	}
	if err := call(t, h.client, CmdRecommend, req, &r); err != nil {
		t.Fatalf("recommend failed: %v", err)
	}
	if len(r.Scores) != 2 || r.Scores[0].ItemID != "a" {
		t.Errorf("Unexpected scores: %+v", r.Scores)
	}
}

func TestAnalysisCommands(t *testing.T) {
	a := &fakeAnalyzer{}
	h := startServer(t, a, nil)

	var r AnalyzeResponse
	if err := call(t, h.client, CmdAnalyze, AnalyzeRequest{Paths: []string{"/m/a.wav", "/m/b.bad"}}, &r); err != nil {
		t.Fatalf("analyze failed: %v", err)
	}
	if len(r.Jobs) != 1 || r.Jobs[0] != "job-a.wav" {
		t.Errorf("Unexpected jobs: %v", r.Jobs)
	}
	if _, ok := r.Rejected["/m/b.bad"]; !ok {
		t.Errorf("Expected /m/b.bad to be rejected, got %v", r.Rejected)
	}

	if err := call(t, h.client, CmdCancelAnalysis, CancelRequest{JobID: "job-a.wav"}, nil); err != nil {
		t.Errorf("cancel failed: %v", err)
	}
	if err := call(t, h.client, CmdCancelAnalysis, CancelRequest{JobID: "nope"}, nil); err == nil {
		t.Error("Expected error cancelling an unknown job")
	}

	var st analysis.AnalysisStatus
	if err := call(t, h.client, CmdPauseAnalysis, nil, &st); err != nil {
		t.Fatalf("pause failed: %v", err)
	}
	if st.Status != "paused" {
		t.Errorf("Expected paused, got %s", st.Status)
	}
	if err := call(t, h.client, CmdResumeAnalysis, nil, &st); err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if st.Status != "running" {
		t.Errorf("Expected running, got %s", st.Status)
	}
}

func TestOptionalComponentsDisabled(t *testing.T) {
	h := startServer(t, nil, nil)

	for _, cmd := range []CommandType{CmdGetAnalysisStatus, CmdGetFeatures, CmdPauseAnalysis} {
		if err := call(t, h.client, cmd, nil, nil); !errors.Is(err, ErrRemote) {
			t.Errorf("%s: expected remote error, got %v", cmd, err)
		}
	}
	if err := call(t, h.client, CommandType("play"), nil, nil); !errors.Is(err, ErrRemote) {
		t.Errorf("Expected unknown command error, got %v", err)
	}
}

func TestStatus(t *testing.T) {
	h := startServer(t, &fakeAnalyzer{}, nil)

	var st StatusResponse
	if err := call(t, h.client, CmdStatus, nil, &st); err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if st.Mood.Category != types.MoodFocused {
		t.Errorf("Expected focused, got %s", st.Mood.Category)
	}
	if st.Analysis == nil || st.Analysis.Analyzed != 3 {
		t.Errorf("Unexpected analysis status: %+v", st.Analysis)
	}
	if st.Personality.Established {
		t.Error("Expected no established personality")
	}
}

func TestFeatureSubscription(t *testing.T) {
	h := startServer(t, nil, fakeFeatures{})

	var fr FeaturesResponse
	if err := call(t, h.client, CmdGetFeatures, nil, &fr); err != nil {
		t.Fatalf("getFeatures failed: %v", err)
	}
	if !fr.Ready || fr.Features.Tempo != 120 {
		t.Errorf("Unexpected features: %+v", fr)
	}

	if err := call(t, h.client, CmdSubscribeFeatures, nil, nil); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	h.server.PublishFeatures(types.AudioFeatures{Energy: 0.25})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	push, err := h.client.Next(ctx)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if push.Type != PushFeatures {
		t.Errorf("Expected %q push, got %q", PushFeatures, push.Type)
	}

	if err := call(t, h.client, CmdUnsubscribeFeatures, nil, nil); err != nil {
		t.Fatalf("unsubscribe failed: %v", err)
	}
	if n := h.server.subscriberCount(); n != 0 {
		t.Errorf("Expected 0 subscribers, got %d", n)
	}
}

func TestPublishFeaturesStalledSubscriber(t *testing.T) {
	srv, err := NewServer(ServerConfig{Engine: fakeEngine{}, Clock: clock.NewManual(testNow)})
	if err != nil {
		t.Fatal(err)
	}

	// the peer never reads, so every write to conn blocks
	conn, peer := net.Pipe()
	defer peer.Close()
	c := newClient(conn)
	go c.pushLoop()
	defer c.close()
	srv.setSubscribed(c, true)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 4*pushQueueSize; i++ {
			srv.PublishFeatures(types.AudioFeatures{Energy: 0.5})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("PublishFeatures blocked on a subscriber that stopped reading")
	}
	if n := srv.subscriberCount(); n != 1 {
		t.Errorf("Expected the slow subscriber to stay subscribed, got %d", n)
	}
}

func TestInvalidRequestKeepsConnection(t *testing.T) {
	h := startServer(t, nil, nil)

	if _, err := h.client.conn.Write([]byte("garbage\n")); err != nil {
		t.Fatal(err)
	}
	line, err := h.client.reader.ReadBytes('\n')
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	resp, err := DecodeResponse(line)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Success || resp.Error != "invalid request format" {
		t.Errorf("Unexpected response: %+v", resp)
	}

	if err := call(t, h.client, CmdGetMood, nil, nil); err != nil {
		t.Errorf("Expected connection to stay usable, got %v", err)
	}
}
