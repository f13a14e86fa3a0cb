package voice

import (
	"context"
	"errors"
	"log/slog"

	"github.com/deskvox/voicepipe/pkg/audio"
	"github.com/deskvox/voicepipe/pkg/audioio"
	"github.com/deskvox/voicepipe/pkg/stt"
	"github.com/deskvox/voicepipe/pkg/tts"
)

// RecorderConfig configures a Recorder.
type RecorderConfig struct {
	// Source captures microphone audio. Required. The recorder starts and
	// stops it per session; the caller keeps ownership and closes it.
	Source audioio.Source

	// NewProvider builds the transcription provider for one
	// StopAndTranscribe call. Defaults to stt.New.
	NewProvider func(cfg *stt.Config) (stt.Provider, error)

	// CheckPermission is consulted before capture starts. Return
	// ErrPermissionDenied for a user refusal. Nil grants permission.
	CheckPermission func(ctx context.Context) error

	// TempDir is where recording takes are written. Defaults to the
	// system temp directory.
	TempDir string

	// OnState receives every status change, including the ~10Hz
	// elapsed/level updates while recording. Called from the recorder's
	// event loop; it must not block.
	OnState func(RecordingStatus)

	// Logger receives debug output. Defaults to slog.Default().
	Logger *slog.Logger
}

// Validate checks that required fields are set.
func (c *RecorderConfig) Validate() error {
	if c.Source == nil {
		return errors.New("voice: recorder config needs a capture source")
	}
	return nil
}

// SpeakerConfig configures a Speaker.
type SpeakerConfig struct {
	// Player plays synthesized clips. Required. The speaker is its sole
	// user; the caller keeps ownership and closes it.
	Player audio.Player

	// NewProvider builds the synthesis provider for one speak session.
	// Defaults to tts.New.
	NewProvider func(cfg *tts.Config) (tts.Provider, error)

	// OnState receives every status change. Called from the speaker's
	// event loop; it must not block.
	OnState func(PlaybackStatus)

	// Logger receives debug output. Defaults to slog.Default().
	Logger *slog.Logger
}

// Validate checks that required fields are set.
func (c *SpeakerConfig) Validate() error {
	if c.Player == nil {
		return errors.New("voice: speaker config needs a player")
	}
	return nil
}
