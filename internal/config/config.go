// Package config loads the voicepipe daemon configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/deskvox/voicepipe/pkg/audioio"
)

// Config is the daemon configuration, normally read from a YAML file.
// Fields left blank in the file keep their defaults.
type Config struct {
	// Listen is the dashboard bind address.
	Listen string `yaml:"listen"`

	// StaticDir is served at the dashboard root when set.
	StaticDir string `yaml:"static_dir"`

	// Settings is the provider settings file. Blank means environment
	// variables only.
	Settings string `yaml:"settings"`

	// TempDir holds in-flight recording files. Blank means the system
	// temp directory.
	TempDir string `yaml:"temp_dir"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// Capture configures the microphone source.
	Capture audioio.Config `yaml:"capture"`

	// Playback configures the speaker sink.
	Playback audioio.Config `yaml:"playback"`
}

// Default returns the configuration used when no file is given:
// dashboard on :8080, platform-default audio backends, info logging.
func Default() Config {
	return Config{
		Listen:   ":8080",
		LogLevel: "info",
		Capture:  audioio.DefaultCaptureConfig(),
		Playback: audioio.DefaultConfig(),
	}
}

// Load reads a YAML config file over the defaults. A blank path returns
// Default() untouched.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the loaded configuration.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	if err := c.Playback.Validate(); err != nil {
		return fmt.Errorf("playback: %w", err)
	}
	return nil
}
