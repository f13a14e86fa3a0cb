package tts

import "errors"

// Sentinel errors for common error conditions. Remote API failures are
// reported as provider.APIError from the shared provider package.
var (
	// ErrNoAPIKey is returned when the API key is missing.
	ErrNoAPIKey = errors.New("tts: API key required")

	// ErrNoVoiceID is returned when a backend that requires a voice
	// identifier is configured without one.
	ErrNoVoiceID = errors.New("tts: voice ID required")

	// ErrNoText is returned when there is nothing to synthesize.
	ErrNoText = errors.New("tts: empty text")

	// ErrStreamClosed is returned when reading from a closed stream.
	ErrStreamClosed = errors.New("tts: stream closed")

	// ErrProviderUnavailable is returned when no providers are available.
	ErrProviderUnavailable = errors.New("tts: no providers available")
)
