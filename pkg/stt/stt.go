// Package stt provides speech-to-text via remote providers.
//
// Supported backends:
//   - OpenAI Whisper (multipart upload, transcription and translation)
//   - Deepgram (raw body upload, transcription only)
//
// Usage:
//
//	p, err := stt.NewOpenAI(stt.WithAPIKey(key))
//	if err != nil {
//	    return err
//	}
//	defer p.Close()
//
//	text, err := p.Transcribe(ctx, stt.Request{Audio: wavBytes, MIMEType: "audio/wav"})
package stt

import (
	"context"
	"errors"
	"fmt"
)

// Backend identifies a transcription provider.
type Backend string

// Supported backends.
const (
	BackendOpenAI   Backend = "openai"
	BackendDeepgram Backend = "deepgram"
)

// DefaultBackend is used when the configured backend is blank or unknown.
const DefaultBackend = BackendOpenAI

// Sentinel errors for common error conditions.
var (
	// ErrNoAPIKey is returned when the API key is missing.
	ErrNoAPIKey = errors.New("stt: API key required")

	// ErrNoAudio is returned when a request carries no audio payload.
	ErrNoAudio = errors.New("stt: empty audio payload")

	// ErrTranslationUnsupported is returned by backends without a
	// translation endpoint.
	ErrTranslationUnsupported = errors.New("stt: backend does not support translation")
)

// Request carries one audio payload to transcribe.
//
// Optional fields are verbatim strings from the settings store; blank means
// unset and the backend default applies. Backends ignore options they do not
// support.
type Request struct {
	// Audio is the complete audio payload, container included.
	Audio []byte

	// MIMEType describes Audio, e.g. "audio/wav". Defaults to "audio/wav".
	MIMEType string

	// Language hints the spoken language (ISO-639-1).
	Language string

	// Prompt biases recognition toward expected vocabulary.
	Prompt string

	// ResponseFormat selects the transport shape ("json", "text",
	// "verbose_json"). The provider always returns plain transcript text.
	ResponseFormat string

	// Temperature is the sampling temperature ("0".."1").
	Temperature string

	// TimestampGranularities is a comma-separated list ("word,segment").
	TimestampGranularities string
}

// Provider converts recorded audio to text.
type Provider interface {
	// Transcribe returns the transcript in the spoken language.
	Transcribe(ctx context.Context, req Request) (string, error)

	// Translate returns an English transcript regardless of the spoken
	// language. Backends without a translation endpoint return
	// ErrTranslationUnsupported.
	Translate(ctx context.Context, req Request) (string, error)

	// Health checks provider connectivity and credentials.
	Health(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// New builds the provider selected by cfg.Backend.
func New(cfg *Config) (Provider, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	switch cfg.Backend {
	case BackendOpenAI, "":
		return NewOpenAI(withConfig(cfg))
	case BackendDeepgram:
		return NewDeepgram(withConfig(cfg))
	default:
		return nil, fmt.Errorf("stt: unknown backend %q", cfg.Backend)
	}
}
