package main

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/austinkregel/local-media/moodd/internal/config"
	"github.com/austinkregel/local-media/moodd/internal/logging"
)

type commandContext struct {
	configDir *string
	logLevel  *string

	once    sync.Once
	manager *config.Manager
	err     error
}

func (c *commandContext) dir() string {
	if c.configDir != nil {
		if d := strings.TrimSpace(*c.configDir); d != "" {
			return d
		}
	}
	if d, err := os.UserConfigDir(); err == nil {
		return filepath.Join(d, "moodd")
	}
	return ".moodd"
}

// ensureConfig loads the configuration once and configures logging from it
func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.once.Do(func() {
		c.manager = config.NewManager(c.dir())
		if err := c.manager.Load(); err != nil {
			c.err = err
			return
		}
		cfg := c.manager.Get()
		level := cfg.Logging.Level
		if c.logLevel != nil && *c.logLevel != "" {
			level = *c.logLevel
		}
		logging.Init(logging.Config{Level: level, Format: cfg.Logging.Format, Output: os.Stderr})
	})
	if c.err != nil {
		return nil, c.err
	}
	return c.manager.Get(), nil
}

func newRootCommand() *cobra.Command {
	var configDir string
	var logLevel string
	ctx := &commandContext{configDir: &configDir, logLevel: &logLevel}

	rootCmd := &cobra.Command{
		Use:           "moodd",
		Short:         "Audio mood and listener personality engine",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations["skipConfigLoad"] == "true" {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "Configuration directory (default: user config dir/moodd)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level")

	rootCmd.AddCommand(newAnalyzeCommand(ctx))
	rootCmd.AddCommand(newScanCommand(ctx))
	rootCmd.AddCommand(newRecommendCommand(ctx))
	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newMoodCommand(ctx))
	rootCmd.AddCommand(newConfigCommand(ctx))

	return rootCmd
}
