package ipc

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/austinkregel/local-media/moodd/internal/metrics"
)

// polling commands are logged at debug so clients can poll without noise
var pollingCommands = map[CommandType]bool{
	CmdStatus:            true,
	CmdGetMood:           true,
	CmdGetAnalysisStatus: true,
	CmdGetFeatures:       true,
}

var knownCommands = map[CommandType]bool{
	CmdStatus: true, CmdGetMood: true, CmdSetMood: true, CmdGetPersonality: true,
	CmdEvent: true, CmdRecommend: true, CmdAnalyze: true, CmdCancelAnalysis: true,
	CmdGetAnalysisStatus: true, CmdPauseAnalysis: true, CmdResumeAnalysis: true,
	CmdGetFeatures: true, CmdSubscribeFeatures: true, CmdUnsubscribeFeatures: true,
}

// logExchange records one request/response pair
func logExchange(log zerolog.Logger, req *Request, resp *Response, duration time.Duration) {
	outcome := "ok"
	if !resp.Success {
		outcome = "error"
	}
	label := string(req.Cmd)
	if !knownCommands[req.Cmd] {
		label = "unknown"
	}
	metrics.IPCRequests.WithLabelValues(label, outcome).Inc()

	ev := log.Info()
	switch {
	case !resp.Success:
		ev = log.Warn().Str("error", resp.Error)
	case pollingCommands[req.Cmd]:
		ev = log.Debug()
	}
	ev.Str("cmd", string(req.Cmd)).Dur("duration", duration).Msg("request handled")
}
