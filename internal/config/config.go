// Package config handles engine configuration: defaults, an optional YAML
// file and MOODD_* environment overrides, validated before use.
package config

import (
	"time"
)

// Config represents the engine configuration
type Config struct {
	// Library holds directories scanned for batch analysis
	Library LibraryConfig `koanf:"library"`

	// DataDir is where to store data files (snapshots, feature cache)
	DataDir string `koanf:"data_dir"`

	Audio       AudioConfig       `koanf:"audio"`
	Tempo       TempoConfig       `koanf:"tempo"`
	Mood        MoodConfig        `koanf:"mood"`
	Personality PersonalityConfig `koanf:"personality"`
	Recommend   RecommendConfig   `koanf:"recommend"`
	Worker      WorkerConfig      `koanf:"worker"`
	RealTime    RealTimeConfig    `koanf:"realtime"`
	Cache       CacheConfig       `koanf:"cache"`
	Store       StoreConfig       `koanf:"store"`
	Model       ModelConfig       `koanf:"model"`
	Logging     LoggingConfig     `koanf:"logging"`
	Metrics     MetricsConfig     `koanf:"metrics"`
	IPC         IPCConfig         `koanf:"ipc"`
}

// LibraryConfig lists music directories
type LibraryConfig struct {
	Paths []string `koanf:"paths"`
}

// AudioConfig contains analysis framing settings
type AudioConfig struct {
	// SampleRate expected for real-time buffers (default: 44100)
	SampleRate int `koanf:"sample_rate" validate:"gte=22050,lte=96000"`

	// FrameSize is the FFT window length in samples (default: 4096)
	FrameSize int `koanf:"frame_size" validate:"gte=256,lte=8192,pow2"`

	// HopSize is the distance between frame starts (default: 2048)
	HopSize int `koanf:"hop_size" validate:"gte=1,pow2,ltefield=FrameSize"`
}

// TempoConfig bounds tempo estimates
type TempoConfig struct {
	MinBPM float64 `koanf:"min_bpm" validate:"gte=20,ltfield=MaxBPM"`
	MaxBPM float64 `koanf:"max_bpm" validate:"lte=300"`
}

// MoodConfig tunes the mood state tracker
type MoodConfig struct {
	HistorySize         int           `koanf:"history_size" validate:"gte=1,lte=10000"`
	DecayWindow         time.Duration `koanf:"decay_window" validate:"gt=0"`
	UserConfidence      float64       `koanf:"user_confidence" validate:"gt=0,lte=1"`
	FeedbackBoost       float64       `koanf:"feedback_boost" validate:"gt=0,lte=1"`
	FeedbackPenalty     float64       `koanf:"feedback_penalty" validate:"gt=0,lte=1"`
	LowFloor            float64       `koanf:"low_floor" validate:"gte=0,lt=1"`
	TimeOfDayConfidence float64       `koanf:"time_of_day_confidence" validate:"gt=0,lte=1"`
	TimeOfDayInterval   time.Duration `koanf:"time_of_day_interval" validate:"gt=0"`
}

// PersonalityConfig tunes the trait engine
type PersonalityConfig struct {
	SmallStep             float64 `koanf:"small_step" validate:"gt=0,lte=1"`
	MediumStep            float64 `koanf:"medium_step" validate:"gt=0,lte=1"`
	LargeStep             float64 `koanf:"large_step" validate:"gt=0,lte=1"`
	NormalizationTarget   float64 `koanf:"normalization_target" validate:"gt=0"`
	SignificanceThreshold float64 `koanf:"significance_threshold" validate:"gte=0,lt=1"`
	SwitchMargin          float64 `koanf:"switch_margin" validate:"gte=0,lt=1"`
}

// RecommendConfig holds scorer weights
type RecommendConfig struct {
	PreferenceWeight  float64       `koanf:"preference_weight" validate:"gte=0,lte=1"`
	MoodWeight        float64       `koanf:"mood_weight" validate:"gte=0,lte=1"`
	PersonalityWeight float64       `koanf:"personality_weight" validate:"gte=0,lte=1"`
	RecencyWeight     float64       `koanf:"recency_weight" validate:"gte=0,lte=1"`
	RecencyWindow     time.Duration `koanf:"recency_window" validate:"gt=0"`
}

// WorkerConfig controls the background analysis queue
type WorkerConfig struct {
	// MaxWorkers is the number of concurrent analyses (0 = NumCPU-1)
	MaxWorkers int `koanf:"max_workers" validate:"gte=0,lte=64"`

	// QueueSize bounds pending jobs
	QueueSize int `koanf:"queue_size" validate:"gte=1"`

	// Throttle is the minimum spacing between job starts when idle
	Throttle time.Duration `koanf:"throttle" validate:"gte=0"`

	// PlayingThrottle is the spacing used while playback is active
	PlayingThrottle time.Duration `koanf:"playing_throttle" validate:"gte=0"`
}

// RealTimeConfig controls the live audio tap
type RealTimeConfig struct {
	Deadline     time.Duration `koanf:"deadline" validate:"gt=0"`
	PoolSize     int           `koanf:"pool_size" validate:"gte=1"`
	PublishEvery int           `koanf:"publish_every" validate:"gte=1"`
	TempoFrames  int           `koanf:"tempo_frames" validate:"gte=8"`
}

// CacheConfig bounds the feature cache
type CacheConfig struct {
	Size int           `koanf:"size" validate:"gte=1"`
	TTL  time.Duration `koanf:"ttl" validate:"gt=0"`
}

// StoreConfig controls snapshot persistence
type StoreConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

// ModelConfig configures the optional external classifier
type ModelConfig struct {
	Command          string        `koanf:"command"`
	Timeout          time.Duration `koanf:"timeout" validate:"gt=0"`
	FailureThreshold uint32        `koanf:"failure_threshold" validate:"gte=1"`
	OpenTimeout      time.Duration `koanf:"open_timeout" validate:"gt=0"`
}

// LoggingConfig mirrors logging.Config
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error disabled"`
	Format string `koanf:"format" validate:"oneof=auto json console"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr" validate:"required_if=Enabled true"`
}

// IPCConfig controls the control socket served by the daemon
type IPCConfig struct {
	Enabled bool `koanf:"enabled"`
	// Socket is the Unix socket path (default: moodd-<uid>.sock in the temp dir)
	Socket string `koanf:"socket"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Library: LibraryConfig{Paths: []string{}},
		Audio: AudioConfig{
			SampleRate: 44100,
			FrameSize:  4096,
			HopSize:    2048,
		},
		Tempo: TempoConfig{
			MinBPM: 60,
			MaxBPM: 200,
		},
		Mood: MoodConfig{
			HistorySize:         100,
			DecayWindow:         time.Hour,
			UserConfidence:      0.9,
			FeedbackBoost:       0.05,
			FeedbackPenalty:     0.1,
			LowFloor:            0.2,
			TimeOfDayConfidence: 0.4,
			TimeOfDayInterval:   15 * time.Minute,
		},
		Personality: PersonalityConfig{
			SmallStep:             0.02,
			MediumStep:            0.05,
			LargeStep:             0.10,
			NormalizationTarget:   3.0,
			SignificanceThreshold: 0.3,
			SwitchMargin:          0.1,
		},
		Recommend: RecommendConfig{
			PreferenceWeight:  0.4,
			MoodWeight:        0.3,
			PersonalityWeight: 0.2,
			RecencyWeight:     0.1,
			RecencyWindow:     7 * 24 * time.Hour,
		},
		Worker: WorkerConfig{
			MaxWorkers:      0,
			QueueSize:       256,
			Throttle:        100 * time.Millisecond,
			PlayingThrottle: 500 * time.Millisecond,
		},
		RealTime: RealTimeConfig{
			Deadline:     20 * time.Millisecond,
			PoolSize:     8,
			PublishEvery: 8,
			TempoFrames:  256,
		},
		Cache: CacheConfig{
			Size: 512,
			TTL:  24 * time.Hour,
		},
		Store: StoreConfig{
			Enabled: true,
		},
		Model: ModelConfig{
			Timeout:          5 * time.Second,
			FailureThreshold: 3,
			OpenTimeout:      time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9464",
		},
		IPC: IPCConfig{
			Enabled: true,
		},
	}
}
