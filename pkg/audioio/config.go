// Package audioio provides audio capture and playback for the voice
// pipeline.
//
// This package supports multiple backends:
//   - ALSA (Linux) - arecord/aplay from alsa-utils over a raw PCM pipe
//   - CoreAudio (macOS) - sox rec/play over a raw PCM pipe
//   - WebRTC - remote microphone on a companion device, Opus over RTP
//   - Mock - CI/testing without hardware
//
// The backend is selected automatically based on platform, or can be
// explicitly specified via configuration.
package audioio

import (
	"fmt"
	"time"
)

// Backend represents the audio backend type.
type Backend string

const (
	// BackendAuto automatically selects the best available backend.
	BackendAuto Backend = "auto"
	// BackendALSA uses the alsa-utils binaries for audio I/O on Linux.
	BackendALSA Backend = "alsa"
	// BackendCoreAudio uses the sox binaries for audio I/O on macOS.
	BackendCoreAudio Backend = "coreaudio"
	// BackendWebRTC captures audio from a remote device over WebRTC.
	// Capture only; there is no WebRTC sink.
	BackendWebRTC Backend = "webrtc"
	// BackendMock uses a mock implementation for testing.
	BackendMock Backend = "mock"
)

// Config holds audio configuration.
type Config struct {
	// Backend specifies which audio backend to use.
	// Default: "auto" (selects best available for platform)
	Backend Backend `yaml:"backend" json:"backend"`

	// SampleRate is the audio sample rate in Hz.
	SampleRate int `yaml:"sample_rate" json:"sample_rate"`

	// Channels is the number of audio channels.
	Channels int `yaml:"channels" json:"channels"`

	// BufferDuration is the size of audio buffers.
	BufferDuration time.Duration `yaml:"buffer_duration" json:"buffer_duration"`

	// Device is the platform-specific device identifier.
	// Examples:
	//   - ALSA: "hw:0,0", "default", "plughw:1,0"
	//   - CoreAudio: device name, passed via AUDIODEV
	//   - WebRTC: producer name advertised on the signalling server
	//   - Mock: ignored
	Device string `yaml:"device" json:"device"`

	// SignalURL is the WebSocket URL of the signalling server.
	// Only used by the webrtc backend.
	SignalURL string `yaml:"signal_url,omitempty" json:"signal_url,omitempty"`
}

// DefaultConfig returns the configuration used for playback:
// 24 kHz mono PCM16 in 20 ms buffers, matching the raw PCM the
// synthesis providers return by default.
func DefaultConfig() Config {
	return Config{
		Backend:        BackendAuto,
		SampleRate:     24000,
		Channels:       1,
		BufferDuration: 20 * time.Millisecond,
		Device:         "", // Use system default
	}
}

// DefaultCaptureConfig returns the configuration used for dictation
// capture: 16 kHz mono PCM16 in 100 ms buffers, so chunks arrive at
// roughly 10 Hz while a recording session is draining them.
func DefaultCaptureConfig() Config {
	return Config{
		Backend:        BackendAuto,
		SampleRate:     16000,
		Channels:       1,
		BufferDuration: 100 * time.Millisecond,
		Device:         "",
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", c.Channels)
	}
	if c.BufferDuration <= 0 {
		return fmt.Errorf("buffer_duration must be positive, got %v", c.BufferDuration)
	}
	if c.Backend == BackendWebRTC && c.SignalURL == "" {
		return fmt.Errorf("webrtc backend requires signal_url")
	}
	return nil
}

// BufferSize returns the number of samples per buffer.
func (c *Config) BufferSize() int {
	return int(float64(c.SampleRate) * c.BufferDuration.Seconds())
}

// BufferBytes returns the size of a buffer in bytes (assuming int16 samples).
func (c *Config) BufferBytes() int {
	return c.BufferSize() * c.Channels * 2 // 2 bytes per int16 sample
}
