package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix marks environment variables that override file values.
// MOODD_AUDIO_FRAME_SIZE maps to audio.frame_size.
const EnvPrefix = "MOODD_"

// sliceConfigPaths are parsed from comma-separated env values.
var sliceConfigPaths = []string{
	"library.paths",
}

// Manager handles loading and saving configuration
type Manager struct {
	configDir  string
	configPath string
	config     *Config
}

// NewManager creates a new configuration manager
func NewManager(configDir string) *Manager {
	return &Manager{
		configDir:  configDir,
		configPath: filepath.Join(configDir, "config.yaml"),
		config:     DefaultConfig(),
	}
}

// Load layers defaults, the config file (if present) and environment
// variables, then validates the result. On error the previous config is kept.
func (m *Manager) Load() error {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(DefaultConfig(), "koanf"), nil); err != nil {
		return fmt.Errorf("failed to load defaults: %w", err)
	}

	if _, err := os.Stat(m.configPath); err == nil {
		if err := k.Load(file.Provider(m.configPath), yaml.Parser()); err != nil {
			return fmt.Errorf("failed to load config file %s: %w", m.configPath, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return fmt.Errorf("failed to load environment variables: %w", err)
	}

	for _, path := range sliceConfigPaths {
		if s, ok := k.Get(path).(string); ok {
			if err := k.Set(path, splitList(s)); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if cfg.DataDir == "" {
		cfg.DataDir = m.configDir
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = filepath.Join(cfg.DataDir, "snapshots")
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	m.config = cfg
	return nil
}

// Save writes the current configuration as YAML
func (m *Manager) Save() error {
	if err := os.MkdirAll(m.configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := m.Marshal()
	if err != nil {
		return err
	}

	if err := os.WriteFile(m.configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Marshal renders the current configuration as YAML
func (m *Manager) Marshal() ([]byte, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(m.config, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	data, err := k.Marshal(yaml.Parser())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}

// Get returns the current configuration
func (m *Manager) Get() *Config {
	return m.config
}

// GetPath returns the config file path
func (m *Manager) GetPath() string {
	return m.configPath
}

// Update validates and saves a new configuration
func (m *Manager) Update(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.config = cfg
	return m.Save()
}

// envTransformFunc maps MOODD_SECTION_FIELD_NAME to section.field_name.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	if key == "data_dir" {
		return key
	}
	return strings.Replace(key, "_", ".", 1)
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
