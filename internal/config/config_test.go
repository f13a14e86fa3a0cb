package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/deskvox/voicepipe/pkg/audioio"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "voicepipe.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config invalid: %v", err)
	}
	if cfg.Listen != ":8080" {
		t.Errorf("Listen = %q, want :8080", cfg.Listen)
	}
	if cfg.Capture.SampleRate != 16000 || cfg.Playback.SampleRate != 24000 {
		t.Errorf("Unexpected audio defaults: capture %d, playback %d",
			cfg.Capture.SampleRate, cfg.Playback.SampleRate)
	}
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
listen: ":9000"
settings: /etc/voicepipe/settings.yaml
log_level: debug
capture:
  backend: mock
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Listen != ":9000" {
		t.Errorf("Listen = %q, want :9000", cfg.Listen)
	}
	if cfg.Settings != "/etc/voicepipe/settings.yaml" {
		t.Errorf("Settings = %q", cfg.Settings)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.Capture.Backend != audioio.BackendMock {
		t.Errorf("Capture.Backend = %q, want mock", cfg.Capture.Backend)
	}

	// Fields absent from the file keep their defaults, even inside a
	// partially specified block.
	if cfg.Capture.SampleRate != 16000 {
		t.Errorf("Capture.SampleRate = %d, want 16000", cfg.Capture.SampleRate)
	}
	if cfg.Playback.Backend != audioio.BackendAuto {
		t.Errorf("Playback.Backend = %q, want auto", cfg.Playback.Backend)
	}
}

func TestLoadBlankPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Listen != Default().Listen {
		t.Errorf("Expected defaults, got %+v", cfg)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("Expected an error for a missing file")
	}
}

func TestLoadValidates(t *testing.T) {
	path := writeConfig(t, "log_level: loud\n")
	if _, err := Load(path); err == nil {
		t.Fatal("Expected an error for an unknown log level")
	}
}
