package voice

// PlaybackState names the speaker session states. At most one non-idle
// session exists per Speaker.
type PlaybackState string

const (
	// PlaybackIdle means no speak session is active.
	PlaybackIdle PlaybackState = "idle"

	// PlaybackGenerating means synthesis has started but no clip has begun
	// playing yet.
	PlaybackGenerating PlaybackState = "generating"

	// PlaybackPlaying means a clip is playing or the session is waiting
	// for the next clip to arrive.
	PlaybackPlaying PlaybackState = "playing"

	// PlaybackPaused means playback is paused mid-session. A paused
	// session stays paused until toggled, stopped or replaced; there is
	// no idle timeout.
	PlaybackPaused PlaybackState = "paused"
)

// RecordingState names the recorder session states.
type RecordingState string

const (
	// RecordingIdle means no recording session is active.
	RecordingIdle RecordingState = "idle"

	// RecordingActive means microphone capture is running.
	RecordingActive RecordingState = "recording"

	// RecordingTranscribing means capture has stopped and the take is at
	// the transcription provider.
	RecordingTranscribing RecordingState = "transcribing"
)

// PlaybackStatus is a point-in-time snapshot of the speaker.
type PlaybackStatus struct {
	State       PlaybackState `json:"state"`
	MessageID   string        `json:"message_id,omitempty"`
	QueuedClips int           `json:"queued_clips"`
}

// RecordingStatus is a point-in-time snapshot of the recorder. Elapsed and
// Level are republished at roughly 10Hz while recording.
type RecordingStatus struct {
	State RecordingState `json:"state"`

	// Elapsed is seconds since capture started.
	Elapsed float64 `json:"elapsed_seconds"`

	// Level is the input level as RMS of the most recent capture chunk,
	// 0 for silence up to 1 for full scale.
	Level float64 `json:"level"`
}
