// Package ipc exposes the running daemon over a Unix socket. Requests and
// responses are newline-delimited JSON; subscribed clients also receive
// push messages between responses.
package ipc

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/austinkregel/local-media/moodd/internal/analysis"
	"github.com/austinkregel/local-media/moodd/internal/mood"
	"github.com/austinkregel/local-media/moodd/internal/personality"
	"github.com/austinkregel/local-media/moodd/internal/recommend"
	"github.com/austinkregel/local-media/moodd/internal/types"
)

// CommandType represents the type of command
type CommandType string

const (
	CmdStatus         CommandType = "status"
	CmdGetMood        CommandType = "getMood"
	CmdSetMood        CommandType = "setMood"
	CmdGetPersonality CommandType = "getPersonality"
	CmdEvent          CommandType = "event"
	CmdRecommend      CommandType = "recommend"

	// Background analysis
	CmdAnalyze           CommandType = "analyze"
	CmdCancelAnalysis    CommandType = "cancelAnalysis"
	CmdGetAnalysisStatus CommandType = "getAnalysisStatus"
	CmdPauseAnalysis     CommandType = "pauseAnalysis"
	CmdResumeAnalysis    CommandType = "resumeAnalysis"

	// Real-time features
	CmdGetFeatures         CommandType = "getFeatures"
	CmdSubscribeFeatures   CommandType = "subscribeFeatures"
	CmdUnsubscribeFeatures CommandType = "unsubscribeFeatures"
)

// PushFeatures is the push message type carrying real-time features
const PushFeatures = "features"

// PushMessage represents a server-initiated message (no request needed)
type PushMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Request represents a client request
type Request struct {
	Cmd  CommandType     `json:"cmd"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Response represents a server response
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// StatusResponse is the response to a status command
type StatusResponse struct {
	Mood        mood.State               `json:"mood"`
	Personality PersonalityResponse      `json:"personality"`
	Analysis    *analysis.AnalysisStatus `json:"analysis,omitempty"`
	Subscribers int                      `json:"subscribers"`
}

// MoodResponse is the response to getMood and setMood
type MoodResponse struct {
	Mood       string     `json:"mood"`
	Confidence float64    `json:"confidence"`
	UpdatedAt  int64      `json:"updatedAt"` // Unix ms
	State      mood.State `json:"state"`
}

// SetMoodRequest is the data for a setMood command
type SetMoodRequest struct {
	Mood string `json:"mood"`
}

// PersonalityResponse is the response to getPersonality
type PersonalityResponse struct {
	Dominant    string             `json:"dominant,omitempty"`
	Established bool               `json:"established"`
	Weights     map[string]float64 `json:"weights"`
}

// RecommendRequest is the data for a recommend command
type RecommendRequest struct {
	Candidates []recommend.Candidate `json:"candidates"`
	Limit      int                   `json:"limit,omitempty"`
}

// RecommendResponse is the response to a recommend command
type RecommendResponse struct {
	Scores []recommend.Score `json:"scores"`
}

// AnalyzeRequest is the data for an analyze command
type AnalyzeRequest struct {
	Paths []string `json:"paths"`
}

// AnalyzeResponse lists the queued job ids, in request order. Paths that
// could not be queued are reported in Rejected.
type AnalyzeResponse struct {
	Jobs     []string          `json:"jobs"`
	Rejected map[string]string `json:"rejected,omitempty"`
}

// CancelRequest is the data for a cancelAnalysis command
type CancelRequest struct {
	JobID string `json:"jobId"`
}

// FeaturesResponse carries the latest real-time features
type FeaturesResponse struct {
	Ready     bool                `json:"ready"`
	Features  types.AudioFeatures `json:"features"`
	Timestamp int64               `json:"timestamp"` // Unix ms
}

func newMoodResponse(st mood.State) MoodResponse {
	return MoodResponse{
		Mood:       st.Category.String(),
		Confidence: st.Confidence,
		UpdatedAt:  st.UpdatedAt.UnixMilli(),
		State:      st,
	}
}

func newPersonalityResponse(s personality.Snapshot) PersonalityResponse {
	r := PersonalityResponse{Established: s.Established, Weights: make(map[string]float64, types.NumTraits)}
	if s.Established {
		r.Dominant = s.Dominant.String()
	}
	for i, w := range s.Weights {
		r.Weights[types.Trait(i).String()] = w
	}
	return r
}

// EncodeRequest encodes a request to JSON
func EncodeRequest(req *Request) ([]byte, error) {
	return json.Marshal(req)
}

// DecodeRequest decodes a request from JSON
func DecodeRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to decode request: %w", err)
	}
	return &req, nil
}

// EncodeResponse encodes a response to JSON
func EncodeResponse(resp *Response) ([]byte, error) {
	return json.Marshal(resp)
}

// DecodeResponse decodes a response from JSON
func DecodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &resp, nil
}

// NewSuccessResponse creates a successful response
func NewSuccessResponse(data any) (*Response, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, err
		}
	}
	return &Response{
		Success: true,
		Data:    rawData,
	}, nil
}

// NewErrorResponse creates an error response
func NewErrorResponse(err string) *Response {
	return &Response{
		Success: false,
		Error:   err,
	}
}

// NewPushMessage creates a push message for streaming data
func NewPushMessage(msgType string, data any) ([]byte, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, err
		}
	}
	return json.Marshal(PushMessage{Type: msgType, Data: rawData})
}
