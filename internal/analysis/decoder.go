package analysis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"

	"github.com/austinkregel/local-media/moodd/internal/types"
)

const (
	// ffmpegSampleRate is the output rate requested from ffmpeg
	ffmpegSampleRate = 44100
	// maxDecodeSeconds caps how much audio is decoded for analysis
	maxDecodeSeconds = 600
	decodeTimeout    = 5 * time.Minute
)

// Decoder turns audio files into PCM buffers. WAV and MP3 decode in-process;
// other formats go through ffmpeg when it is installed.
type Decoder struct {
	ffmpegPath string
	nicePath   string
}

// NewDecoder locates ffmpeg and nice. Both are optional.
func NewDecoder() *Decoder {
	d := &Decoder{}
	if p, err := exec.LookPath("ffmpeg"); err == nil {
		d.ffmpegPath = p
	}
	if p, err := exec.LookPath("nice"); err == nil {
		d.nicePath = p
	}
	return d
}

// HasFFmpeg reports whether formats beyond WAV and MP3 can be decoded
func (d *Decoder) HasFFmpeg() bool { return d.ffmpegPath != "" }

// DecodeFile decodes path into interleaved float samples
func (d *Decoder) DecodeFile(ctx context.Context, path string) (types.PCMBuffer, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return decodeWAV(path)
	case ".mp3":
		return decodeMP3(path)
	}
	if d.ffmpegPath == "" {
		return types.PCMBuffer{}, types.Errorf(types.KindInvalidAudioFormat, "decode",
			"%s: unsupported format and ffmpeg not available", filepath.Base(path))
	}
	return d.decodeFFmpeg(ctx, path)
}

func decodeWAV(path string) (types.PCMBuffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return types.PCMBuffer{}, types.E(types.KindInvalidAudioFormat, "decode", err)
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		return types.PCMBuffer{}, types.Errorf(types.KindInvalidAudioFormat, "decode", "%s: invalid WAV file", filepath.Base(path))
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return types.PCMBuffer{}, types.E(types.KindInvalidAudioFormat, "decode", err)
	}
	if buf.Format == nil || buf.Format.NumChannels <= 0 || decoder.BitDepth == 0 {
		return types.PCMBuffer{}, types.Errorf(types.KindInvalidAudioFormat, "decode", "%s: missing format", filepath.Base(path))
	}

	limit := maxDecodeSeconds * buf.Format.SampleRate * buf.Format.NumChannels
	data := buf.Data
	if len(data) > limit {
		data = data[:limit]
	}

	scale := float64(int64(1) << (decoder.BitDepth - 1))
	samples := make([]float64, len(data))
	for i, s := range data {
		samples[i] = float64(s) / scale
	}

	return types.PCMBuffer{
		Samples:    samples,
		SampleRate: buf.Format.SampleRate,
		Channels:   buf.Format.NumChannels,
	}, nil
}

func decodeMP3(path string) (types.PCMBuffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return types.PCMBuffer{}, types.E(types.KindInvalidAudioFormat, "decode", err)
	}
	defer f.Close()

	decoder, err := mp3.NewDecoder(f)
	if err != nil {
		return types.PCMBuffer{}, types.E(types.KindInvalidAudioFormat, "decode", err)
	}

	// go-mp3 always yields 16-bit little-endian stereo
	maxBytes := int64(maxDecodeSeconds * decoder.SampleRate() * 2 * 2)
	data, err := io.ReadAll(io.LimitReader(decoder, maxBytes))
	if err != nil {
		return types.PCMBuffer{}, types.E(types.KindInvalidAudioFormat, "decode", err)
	}

	return types.PCMBuffer{
		Samples:    pcm16Interleaved(data),
		SampleRate: decoder.SampleRate(),
		Channels:   2,
	}, nil
}

func (d *Decoder) decodeFFmpeg(ctx context.Context, path string) (types.PCMBuffer, error) {
	ctx, cancel := context.WithTimeout(ctx, decodeTimeout)
	defer cancel()

	// Output: signed 16-bit little-endian, stereo, 44100Hz
	ffmpegArgs := []string{
		"-i", path,
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ac", "2",
		"-ar", fmt.Sprint(ffmpegSampleRate),
		"-loglevel", "error",
		"-",
	}

	var cmd *exec.Cmd
	if d.nicePath != "" {
		// Run at low priority (nice level 19)
		args := append([]string{"-n", "19", d.ffmpegPath}, ffmpegArgs...)
		cmd = exec.CommandContext(ctx, d.nicePath, args...)
	} else {
		cmd = exec.CommandContext(ctx, d.ffmpegPath, ffmpegArgs...)
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return types.PCMBuffer{}, types.E(types.KindProcessingFailed, "decode", err)
	}
	if err := cmd.Start(); err != nil {
		return types.PCMBuffer{}, types.Errorf(types.KindProcessingFailed, "decode", "start ffmpeg: %w", err)
	}

	maxBytes := int64(ffmpegSampleRate * 2 * 2 * maxDecodeSeconds)
	var buf bytes.Buffer
	buf.Grow(1024 * 1024)
	_, copyErr := io.Copy(&buf, io.LimitReader(stdout, maxBytes))

	// Stop ffmpeg if the limit cut it off early
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	waitErr := cmd.Wait()

	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return types.PCMBuffer{}, types.E(types.KindTimeout, "decode", err)
		}
		return types.PCMBuffer{}, err
	}
	if copyErr != nil {
		return types.PCMBuffer{}, types.Errorf(types.KindInvalidAudioFormat, "decode", "read ffmpeg output: %w", copyErr)
	}
	if buf.Len() == 0 {
		return types.PCMBuffer{}, types.Errorf(types.KindInvalidAudioFormat, "decode",
			"ffmpeg produced no audio: %v %s", waitErr, strings.TrimSpace(stderr.String()))
	}

	return types.PCMBuffer{
		Samples:    pcm16Interleaved(buf.Bytes()),
		SampleRate: ffmpegSampleRate,
		Channels:   2,
	}, nil
}

// pcm16Interleaved converts 16-bit little-endian PCM to floats, keeping channel interleaving.
func pcm16Interleaved(data []byte) []float64 {
	out := make([]float64, len(data)/2)
	for i := range out {
		sample := int16(data[2*i]) | int16(data[2*i+1])<<8
		out[i] = float64(sample) / 32768.0
	}
	return out
}
