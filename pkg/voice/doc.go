// Package voice coordinates the two halves of the voice pipeline: turning
// microphone audio into a transcript, and turning text into played-back
// speech.
//
// # Coordinators
//
// Recorder owns one recording session at a time. It moves through
// idle -> recording -> transcribing -> idle, captures 16kHz mono PCM16 into
// a temp WAV file, republishes elapsed time and input level at roughly 10Hz
// while recording, and deletes the temp file on every exit path, success or
// not.
//
// Speaker owns one speak session at a time. It packs the message text to the
// active backend's chunk limit, synthesizes the chunks sequentially, queues
// the resulting clips in order, and plays them back one at a time through an
// audio.Player. Requesting the same message again toggles it: playing pauses,
// paused resumes, generating cancels. Requesting a different message tears
// the current session down first.
//
// Each coordinator runs a single event loop goroutine that owns all session
// state. Public methods are commands delivered to that loop; background work
// (provider calls, capture, file I/O) reports back into the same loop tagged
// with the session it belongs to, and results from superseded sessions are
// dropped at that one point.
//
// # Usage
//
//	src, _ := audioio.NewSource(audioio.DefaultCaptureConfig(), logger)
//	rec, err := voice.NewRecorder(voice.RecorderConfig{Source: src})
//	if err != nil {
//	    return err
//	}
//	defer rec.Close()
//
//	sttCfg, err := voice.ResolveSpeechToText(store)
//	if err != nil {
//	    return err // e.g. voice.ErrNotConfigured
//	}
//
//	if err := rec.StartRecording(ctx); err != nil {
//	    return err
//	}
//	// ... user speaks ...
//	text, err := rec.StopAndTranscribe(ctx, sttCfg)
//
// Speaking works the same way:
//
//	spk, err := voice.NewSpeaker(voice.SpeakerConfig{Player: player})
//	if err != nil {
//	    return err
//	}
//	defer spk.Close()
//
//	ttsCfg, err := voice.ResolveTextToSpeech(store)
//	if err != nil {
//	    return err
//	}
//	spk.Request(ctx, msgID, text, ttsCfg, func(err error) {
//	    log.Error("speak failed", "error", err)
//	})
//
// # Provider resolution
//
// ResolveSpeechToText and ResolveTextToSpeech build provider configs from a
// settings.Store, validating in a fixed order: backend selection (unknown
// values fall back to the default backend), credential (blank yields
// ErrNotConfigured), endpoint override (unparseable yields an EndpointError),
// voice for backends that need one (blank yields ErrMissingVoice), then the
// optional tunables verbatim.
package voice
