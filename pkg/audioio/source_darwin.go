//go:build darwin

package audioio

import (
	"log/slog"
	"strconv"
)

// macOS capture and playback go through the sox binaries (rec, play),
// speaking raw PCM16 little-endian over a pipe. Device selection uses
// the AUDIODEV environment variable sox honors.

// newDarwinSource creates a source backed by sox rec.
func newDarwinSource(cfg Config, logger *slog.Logger) (Source, error) {
	return newExecSource(cfg, logger, "coreaudio", recArgs(cfg), soxEnv(cfg)), nil
}

// newDarwinSink creates a sink backed by sox play.
func newDarwinSink(cfg Config, logger *slog.Logger) (Sink, error) {
	return newExecSink(cfg, logger, "coreaudio", playArgs(cfg), soxEnv(cfg)), nil
}

func recArgs(cfg Config) []string {
	return []string{
		"rec", "-q",
		"-t", "raw",
		"-e", "signed-integer",
		"-b", "16",
		"-r", strconv.Itoa(cfg.SampleRate),
		"-c", strconv.Itoa(cfg.Channels),
		"-",
	}
}

func playArgs(cfg Config) []string {
	return []string{
		"play", "-q",
		"-t", "raw",
		"-e", "signed-integer",
		"-b", "16",
		"-r", strconv.Itoa(cfg.SampleRate),
		"-c", strconv.Itoa(cfg.Channels),
		"-",
	}
}

func soxEnv(cfg Config) []string {
	if cfg.Device == "" {
		return nil
	}
	return []string{"AUDIODEV=" + cfg.Device}
}
