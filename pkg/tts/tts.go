// Package tts provides text-to-speech via remote providers.
//
// Supported backends:
//   - OpenAI (JSON POST /audio/speech, built-in voices)
//   - ElevenLabs (per-voice REST endpoint, plus a WebSocket variant)
//
// All providers implement the Provider interface, so callers can switch
// backends without changing synthesis code. Providers also report their
// per-request text limit; long messages are split to that limit before
// synthesis.
//
// Usage:
//
//	p, err := tts.NewElevenLabs(
//	    tts.WithAPIKey(key),
//	    tts.WithVoice("your-voice-id"),
//	)
//	if err != nil {
//	    return err
//	}
//	defer p.Close()
//
//	result, err := p.Synthesize(ctx, "Hello world")
//	// result.Audio holds the audio bytes in result.Format.
package tts

import (
	"context"
	"fmt"
	"time"
)

// Backend identifies a synthesis provider.
type Backend string

// Supported backends.
const (
	BackendOpenAI     Backend = "openai"
	BackendElevenLabs Backend = "elevenlabs"
)

// DefaultBackend is used when the configured backend is blank or unknown.
const DefaultBackend = BackendOpenAI

// Per-request text limits. Long text is packed into chunks no larger than
// the active backend's limit before synthesis.
const (
	// MaxChunkCharsOpenAI is the documented input cap of /audio/speech.
	MaxChunkCharsOpenAI = 4096

	// MaxChunkCharsElevenLabs keeps requests small enough to stay friendly
	// to ElevenLabs rate limits on free and starter tiers.
	MaxChunkCharsElevenLabs = 500
)

// Provider defines the TTS provider interface.
type Provider interface {
	// Synthesize converts text to audio, returning the complete audio buffer.
	Synthesize(ctx context.Context, text string) (*AudioResult, error)

	// Stream converts text to audio with streaming output.
	// Audio chunks are returned as they become available.
	Stream(ctx context.Context, text string) (AudioStream, error)

	// MaxChunkChars returns the largest text chunk this backend accepts in
	// a single synthesis request.
	MaxChunkChars() int

	// Health checks provider connectivity and API key validity.
	Health(ctx context.Context) error

	// Close releases any resources held by the provider.
	Close() error
}

// AudioStream represents a streaming audio response.
// Callers should read until Read returns nil, then call Close.
type AudioStream interface {
	// Read returns the next audio chunk.
	// Returns nil when the stream is complete (not an error).
	Read() ([]byte, error)

	// Close stops the stream and releases resources.
	Close() error

	// Format returns the audio format metadata.
	Format() AudioFormat
}

// AudioResult represents a complete audio synthesis result.
type AudioResult struct {
	// Audio contains the raw audio data in the specified format.
	Audio []byte

	// Format describes the audio encoding and sample rate.
	Format AudioFormat

	// Duration is the estimated audio playback duration.
	Duration time.Duration

	// CharCount is the number of characters synthesized.
	CharCount int

	// LatencyMs is the request round-trip time in milliseconds.
	LatencyMs int64
}

// AudioFormat describes the audio encoding parameters.
type AudioFormat struct {
	// Encoding specifies the audio codec (e.g., pcm_24000, mp3_44100_128).
	Encoding Encoding

	// SampleRate in Hz (e.g., 24000, 44100, 22050).
	SampleRate int

	// Channels is 1 for mono, 2 for stereo.
	Channels int

	// BitDepth for PCM formats (e.g., 16 for PCM16).
	BitDepth int
}

// IsRawPCM reports whether the encoding is headerless PCM. Raw PCM needs a
// container header before it can be handed to a file-based player.
func (f AudioFormat) IsRawPCM() bool {
	return f.Encoding.IsRawPCM()
}

// Encoding represents audio encoding types.
// The values match ElevenLabs output format options.
type Encoding string

// IsRawPCM reports whether the encoding is headerless PCM.
func (e Encoding) IsRawPCM() bool {
	switch e {
	case EncodingPCM16, EncodingPCM22, EncodingPCM24, EncodingPCM44:
		return true
	}
	return false
}

const (
	// PCM formats (raw audio, lowest latency)
	EncodingPCM16 Encoding = "pcm_16000" // 16kHz mono PCM16
	EncodingPCM22 Encoding = "pcm_22050" // 22.05kHz mono PCM16
	EncodingPCM24 Encoding = "pcm_24000" // 24kHz mono PCM16 (matches OpenAI raw output)
	EncodingPCM44 Encoding = "pcm_44100" // 44.1kHz mono PCM16

	// Compressed formats
	EncodingMP3  Encoding = "mp3_44100_128" // MP3 128kbps
	EncodingOpus Encoding = "opus"          // Opus codec
	EncodingULaw Encoding = "ulaw_8000"     // μ-law 8kHz (telephony)
)

// VoiceSettings controls voice characteristics for providers that support it.
type VoiceSettings struct {
	// Stability controls voice consistency (0.0-1.0).
	// Lower values = more expressive/variable, higher = more consistent.
	Stability float64

	// SimilarityBoost controls how closely the voice matches the original (0.0-1.0).
	SimilarityBoost float64

	// Style controls style exaggeration (0.0-1.0).
	// Only supported by ElevenLabs v2 models.
	Style float64

	// SpeakerBoost enhances speaker clarity.
	SpeakerBoost bool
}

// DefaultVoiceSettings returns sensible defaults for voice synthesis.
func DefaultVoiceSettings() VoiceSettings {
	return VoiceSettings{
		Stability:       0.5,
		SimilarityBoost: 0.75,
		Style:           0.0,
		SpeakerBoost:    true,
	}
}

// SampleRateFromEncoding extracts the sample rate from an encoding type.
func SampleRateFromEncoding(enc Encoding) int {
	switch enc {
	case EncodingPCM16:
		return 16000
	case EncodingPCM22:
		return 22050
	case EncodingPCM24:
		return 24000
	case EncodingPCM44, EncodingMP3:
		return 44100
	case EncodingULaw:
		return 8000
	default:
		return 24000
	}
}

// New builds the provider selected by cfg.Backend.
func New(cfg *Config) (Provider, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	switch cfg.Backend {
	case BackendOpenAI, "":
		return NewOpenAI(withConfig(cfg))
	case BackendElevenLabs:
		return NewElevenLabs(withConfig(cfg))
	default:
		return nil, fmt.Errorf("tts: unknown backend %q", cfg.Backend)
	}
}
