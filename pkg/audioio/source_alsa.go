//go:build linux

package audioio

import (
	"log/slog"
	"strconv"
)

// ALSA capture and playback shell out to the alsa-utils binaries and
// speak raw PCM16 little-endian over a pipe.

// newALSASource creates a source backed by arecord.
func newALSASource(cfg Config, logger *slog.Logger) (Source, error) {
	return newExecSource(cfg, logger, "alsa", arecordArgs(cfg), nil), nil
}

// newALSASink creates a sink backed by aplay.
func newALSASink(cfg Config, logger *slog.Logger) (Sink, error) {
	return newExecSink(cfg, logger, "alsa", aplayArgs(cfg), nil), nil
}

func arecordArgs(cfg Config) []string {
	args := []string{
		"arecord", "-q",
		"-t", "raw",
		"-f", "S16_LE",
		"-r", strconv.Itoa(cfg.SampleRate),
		"-c", strconv.Itoa(cfg.Channels),
	}
	if cfg.Device != "" {
		args = append(args, "-D", cfg.Device)
	}
	return args
}

func aplayArgs(cfg Config) []string {
	args := []string{
		"aplay", "-q",
		"-t", "raw",
		"-f", "S16_LE",
		"-r", strconv.Itoa(cfg.SampleRate),
		"-c", strconv.Itoa(cfg.Channels),
	}
	if cfg.Device != "" {
		args = append(args, "-D", cfg.Device)
	}
	return args
}
