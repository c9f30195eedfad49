// Package model wraps an optional external classifier that estimates the
// perceptual features the DSP heuristics cannot: instrumentalness,
// speechiness and liveness.
package model

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/austinkregel/local-media/moodd/internal/types"
)

// Prediction holds the fields an external model can supply
type Prediction struct {
	Instrumentalness float64 `json:"instrumentalness"`
	Speechiness      float64 `json:"speechiness"`
	Liveness         float64 `json:"liveness"`
}

func (p Prediction) validate() error {
	for name, v := range map[string]float64{
		"instrumentalness": p.Instrumentalness,
		"speechiness":      p.Speechiness,
		"liveness":         p.Liveness,
	} {
		if !(v >= 0 && v <= 1) {
			return fmt.Errorf("%s %v outside [0,1]", name, v)
		}
	}
	return nil
}

// Classifier predicts perceptual fields from extracted features
type Classifier interface {
	Predict(ctx context.Context, f types.AudioFeatures) (Prediction, error)
}

// CommandClassifier runs an external program per request. The features are
// written to stdin as JSON and a Prediction is read back from stdout.
type CommandClassifier struct {
	path    string
	args    []string
	timeout time.Duration
}

// NewCommandClassifier parses command as a program followed by
// whitespace-separated arguments.
func NewCommandClassifier(command string, timeout time.Duration) (*CommandClassifier, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, types.Errorf(types.KindConfigurationInvalid, "model", "empty classifier command")
	}
	path, err := exec.LookPath(fields[0])
	if err != nil {
		return nil, types.E(types.KindModelUnavailable, "model", err)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &CommandClassifier{path: path, args: fields[1:], timeout: timeout}, nil
}

// Predict runs the command once
func (c *CommandClassifier) Predict(ctx context.Context, f types.AudioFeatures) (Prediction, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	input, err := json.Marshal(f)
	if err != nil {
		return Prediction{}, fmt.Errorf("marshal features: %w", err)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.path, c.args...)
	cmd.Stdin = bytes.NewReader(input)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return Prediction{}, types.E(types.KindTimeout, "model", ctx.Err())
		}
		return Prediction{}, fmt.Errorf("classifier failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	var p Prediction
	if err := json.Unmarshal(stdout.Bytes(), &p); err != nil {
		return Prediction{}, fmt.Errorf("parse classifier output: %w", err)
	}
	if err := p.validate(); err != nil {
		return Prediction{}, err
	}
	return p, nil
}
