package voice

import (
	"errors"
	"fmt"
)

// Sentinel errors for resolution and session lifecycle.
var (
	// ErrNotConfigured is returned by the resolvers when the selected
	// backend has no credential in the settings store.
	ErrNotConfigured = errors.New("voice: provider not configured")

	// ErrMissingVoice is returned by ResolveTextToSpeech when the selected
	// backend requires a voice identifier and none is set.
	ErrMissingVoice = errors.New("voice: no voice selected")

	// ErrPermissionDenied reports that microphone access was refused.
	ErrPermissionDenied = errors.New("voice: microphone permission denied")

	// ErrRecorderBusy is returned by StartRecording when a recording
	// session already exists.
	ErrRecorderBusy = errors.New("voice: recording already in progress")

	// ErrNotRecording is returned by StopAndTranscribe when no recording
	// is in progress.
	ErrNotRecording = errors.New("voice: no recording in progress")

	// ErrClosed is returned by operations on a closed coordinator.
	ErrClosed = errors.New("voice: coordinator closed")
)

// EndpointError reports a provider endpoint override that does not parse as
// an absolute http(s) URL. The offending value is carried so settings UIs
// can show it back to the user.
type EndpointError struct {
	Value string
}

func (e *EndpointError) Error() string {
	return fmt.Sprintf("voice: invalid provider endpoint %q", e.Value)
}

// RecordingError wraps the capture failure that ended a recording attempt.
type RecordingError struct {
	Err error
}

func (e *RecordingError) Error() string {
	return "voice: recording failed: " + e.Err.Error()
}

func (e *RecordingError) Unwrap() error {
	return e.Err
}
