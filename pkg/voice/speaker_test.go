package voice_test

import (
	"context"
	"encoding/binary"
	"errors"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/deskvox/voicepipe/pkg/audio"
	"github.com/deskvox/voicepipe/pkg/audioio"
	"github.com/deskvox/voicepipe/pkg/tts"
	"github.com/deskvox/voicepipe/pkg/voice"
)

// textMock synthesizes each chunk into a clip holding the chunk text
// verbatim, so tests can read the played chunks back out of the player.
// The MP3 encoding keeps the bytes out of the raw-PCM wrapping path.
func textMock(limit int) *tts.Mock {
	return &tts.Mock{
		ChunkLimit:     limit,
		SynthesizeFunc: textResult,
	}
}

func textResult(ctx context.Context, text string) (*tts.AudioResult, error) {
	return &tts.AudioResult{
		Audio:     []byte(text),
		Format:    tts.AudioFormat{Encoding: tts.EncodingMP3, SampleRate: 44100, Channels: 1},
		CharCount: len(text),
		LatencyMs: 1,
	}, nil
}

func newTestSpeaker(t *testing.T, p tts.Provider) (*voice.Speaker, *audio.MockPlayer) {
	t.Helper()
	player := audio.NewMockPlayer()
	spk, err := voice.NewSpeaker(voice.SpeakerConfig{
		Player:      player,
		NewProvider: func(cfg *tts.Config) (tts.Provider, error) { return p, nil },
		Logger:      discardLogger(),
	})
	if err != nil {
		t.Fatalf("NewSpeaker failed: %v", err)
	}
	t.Cleanup(func() { spk.Close() })
	return spk, player
}

func clipTexts(player *audio.MockPlayer) []string {
	var out []string
	for _, c := range player.Clips() {
		out = append(out, string(c))
	}
	return out
}

func TestSpeakerConfigValidation(t *testing.T) {
	if _, err := voice.NewSpeaker(voice.SpeakerConfig{}); err == nil {
		t.Fatal("Expected NewSpeaker to reject a missing player")
	}
}

func TestSpeakerPlaysChunksInOrder(t *testing.T) {
	// Uneven synthesis latency must not reorder playback.
	delays := []time.Duration{30 * time.Millisecond, 5 * time.Millisecond, 20 * time.Millisecond}
	var call int32
	mock := &tts.Mock{
		ChunkLimit: 24,
		SynthesizeFunc: func(ctx context.Context, text string) (*tts.AudioResult, error) {
			if n := int(atomic.AddInt32(&call, 1)) - 1; n < len(delays) {
				time.Sleep(delays[n])
			}
			return textResult(ctx, text)
		},
	}
	spk, player := newTestSpeaker(t, mock)

	text := "first chunk here\nsecond chunk here\nthird chunk here"
	if err := spk.Request(context.Background(), "msg-1", text, tts.DefaultConfig(), nil); err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	waitFor(t, time.Second, "first clip did not start", func() bool {
		return player.CallCount("play") == 1
	})
	if got := clipTexts(player); len(got) != 1 || got[0] != "first chunk here" {
		t.Fatalf("Expected the first chunk to play first, got %v", got)
	}
	if st := spk.Status(); st.State != voice.PlaybackPlaying || st.MessageID != "msg-1" {
		t.Errorf("Expected msg-1 playing, got %+v", st)
	}

	player.FinishClip()
	waitFor(t, time.Second, "second clip did not start", func() bool {
		return player.CallCount("play") == 2
	})
	player.FinishClip()
	waitFor(t, time.Second, "third clip did not start", func() bool {
		return player.CallCount("play") == 3
	})
	player.FinishClip()
	waitFor(t, time.Second, "speaker did not return to idle", func() bool {
		return spk.Status().State == voice.PlaybackIdle
	})

	want := []string{"first chunk here", "second chunk here", "third chunk here"}
	if got := clipTexts(player); !reflect.DeepEqual(got, want) {
		t.Errorf("Expected clips in synthesis order, got %v", got)
	}

	m := spk.Metrics().Current()
	if m.ChunksSynthesized != 3 || m.ClipsPlayed != 3 {
		t.Errorf("Expected 3 chunks synthesized and played, got %+v", m)
	}
}

func TestSpeakerIgnoresEmptyText(t *testing.T) {
	mock := textMock(100)
	spk, player := newTestSpeaker(t, mock)

	if err := spk.Request(context.Background(), "msg-1", "   \n\t ", tts.DefaultConfig(), nil); err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if got := spk.Status().State; got != voice.PlaybackIdle {
		t.Errorf("Expected idle after empty request, got %q", got)
	}
	if n := mock.CallCount("Synthesize"); n != 0 {
		t.Errorf("Expected no synthesis for empty text, got %d calls", n)
	}
	if n := player.CallCount("load"); n != 0 {
		t.Errorf("Expected nothing loaded, got %d loads", n)
	}
}

func TestSpeakerToggle(t *testing.T) {
	mock := textMock(24)
	spk, player := newTestSpeaker(t, mock)

	text := "first chunk here\nsecond chunk here\nthird chunk here"
	if err := spk.Request(context.Background(), "msg-1", text, tts.DefaultConfig(), nil); err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	waitFor(t, time.Second, "first clip did not start", func() bool {
		return player.CallCount("play") == 1
	})
	waitFor(t, time.Second, "remaining chunks not queued", func() bool {
		return spk.Status().QueuedClips == 2
	})

	// Same message again: pause. The new text is irrelevant.
	if err := spk.Request(context.Background(), "msg-1", "ignored", tts.DefaultConfig(), nil); err != nil {
		t.Fatalf("Toggle request failed: %v", err)
	}
	if got := spk.Status().State; got != voice.PlaybackPaused {
		t.Fatalf("Expected paused after toggle, got %q", got)
	}
	if got := player.State(); got != audio.StatePaused {
		t.Errorf("Expected the player paused, got %q", got)
	}
	if got := spk.Status().QueuedClips; got != 2 {
		t.Errorf("Expected the queue to survive the pause, got %d clips", got)
	}
	if n := mock.CallCount("Synthesize"); n != 3 {
		t.Errorf("Expected no new synthesis on toggle, got %d calls", n)
	}

	// And again: resume where we left off.
	if err := spk.Request(context.Background(), "msg-1", "ignored", tts.DefaultConfig(), nil); err != nil {
		t.Fatalf("Toggle request failed: %v", err)
	}
	if got := spk.Status().State; got != voice.PlaybackPlaying {
		t.Fatalf("Expected playing after second toggle, got %q", got)
	}
	if n := player.CallCount("resume"); n != 1 {
		t.Errorf("Expected one resume call, got %d", n)
	}
	if n := player.CallCount("load"); n != 1 {
		t.Errorf("Expected the paused clip to stay loaded, got %d loads", n)
	}

	for i := 0; i < 3; i++ {
		player.FinishClip()
		time.Sleep(10 * time.Millisecond)
	}
	waitFor(t, time.Second, "speaker did not finish the session", func() bool {
		return spk.Status().State == voice.PlaybackIdle
	})
	want := []string{"first chunk here", "second chunk here", "third chunk here"}
	if got := clipTexts(player); !reflect.DeepEqual(got, want) {
		t.Errorf("Expected all clips in order, got %v", got)
	}
}

func TestSpeakerPreemption(t *testing.T) {
	release := make(chan struct{})
	synthDone := make(chan struct{})
	mock := &tts.Mock{
		ChunkLimit: 100,
		SynthesizeFunc: func(ctx context.Context, text string) (*tts.AudioResult, error) {
			if strings.HasPrefix(text, "slow") {
				<-release
				defer close(synthDone)
			}
			return textResult(ctx, text)
		},
	}
	spk, player := newTestSpeaker(t, mock)
	errs := make(chan error, 4)
	onError := func(err error) { errs <- err }

	if err := spk.Request(context.Background(), "msg-a", "slow message", tts.DefaultConfig(), onError); err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if st := spk.Status(); st.State != voice.PlaybackGenerating || st.MessageID != "msg-a" {
		t.Fatalf("Expected msg-a generating, got %+v", st)
	}
	waitFor(t, time.Second, "slow synthesis never started", func() bool {
		return mock.CallCount("Synthesize") == 1
	})

	// A different message takes over while the first is still in flight.
	if err := spk.Request(context.Background(), "msg-b", "fast message", tts.DefaultConfig(), onError); err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	waitFor(t, time.Second, "replacement clip did not start", func() bool {
		return player.CallCount("play") == 1
	})
	if st := spk.Status(); st.State != voice.PlaybackPlaying || st.MessageID != "msg-b" {
		t.Errorf("Expected msg-b playing, got %+v", st)
	}

	// Let the stale synthesis finish; its clip must go nowhere.
	close(release)
	<-synthDone
	time.Sleep(50 * time.Millisecond)

	if got := clipTexts(player); !reflect.DeepEqual(got, []string{"fast message"}) {
		t.Errorf("Expected only the replacement clip, got %v", got)
	}
	if got := spk.Metrics().Current().ChunksSynthesized; got != 1 {
		t.Errorf("Expected the stale chunk to be discarded, got %d counted", got)
	}

	player.FinishClip()
	waitFor(t, time.Second, "speaker did not return to idle", func() bool {
		return spk.Status().State == voice.PlaybackIdle
	})
	select {
	case err := <-errs:
		t.Errorf("Expected no error callbacks, got %v", err)
	default:
	}
}

func TestSpeakerReplacesActivePlayback(t *testing.T) {
	mock := textMock(100)
	spk, player := newTestSpeaker(t, mock)

	if err := spk.Request(context.Background(), "msg-1", "hello world", tts.DefaultConfig(), nil); err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	waitFor(t, time.Second, "first clip did not start", func() bool {
		return player.CallCount("play") == 1
	})

	if err := spk.Request(context.Background(), "msg-2", "goodbye now", tts.DefaultConfig(), nil); err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	waitFor(t, time.Second, "replacement clip did not start", func() bool {
		return player.CallCount("play") == 2
	})

	if n := player.CallCount("stop"); n == 0 {
		t.Error("Expected the player to be stopped between messages")
	}
	if st := spk.Status(); st.MessageID != "msg-2" {
		t.Errorf("Expected msg-2 active, got %+v", st)
	}
	if got := clipTexts(player); !reflect.DeepEqual(got, []string{"hello world", "goodbye now"}) {
		t.Errorf("Expected both clips in order, got %v", got)
	}
}

func TestSpeakerStop(t *testing.T) {
	mock := textMock(100)
	spk, player := newTestSpeaker(t, mock)
	errs := make(chan error, 4)

	if err := spk.Request(context.Background(), "msg-1", "hello there", tts.DefaultConfig(), func(err error) { errs <- err }); err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	waitFor(t, time.Second, "clip did not start", func() bool {
		return player.CallCount("play") == 1
	})

	// A stop for some other message changes nothing.
	spk.Stop("other-message")
	if got := spk.Status().State; got != voice.PlaybackPlaying {
		t.Fatalf("Expected mismatched stop to be ignored, got %q", got)
	}

	spk.Stop("msg-1")
	if got := spk.Status().State; got != voice.PlaybackIdle {
		t.Fatalf("Expected idle after stop, got %q", got)
	}
	spk.Stop("msg-1") // repeat is harmless
	spk.Stop("")

	// A blank ID stops whatever is active.
	if err := spk.Request(context.Background(), "msg-2", "more text", tts.DefaultConfig(), func(err error) { errs <- err }); err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	waitFor(t, time.Second, "second clip did not start", func() bool {
		return player.CallCount("play") == 2
	})
	spk.Stop("")
	if got := spk.Status().State; got != voice.PlaybackIdle {
		t.Fatalf("Expected idle after blank stop, got %q", got)
	}

	select {
	case err := <-errs:
		t.Errorf("Expected stop to skip the error callback, got %v", err)
	default:
	}
}

func TestSpeakerProviderError(t *testing.T) {
	boom := errors.New("synthesis exploded")
	var call int32
	mock := &tts.Mock{
		ChunkLimit: 24,
		SynthesizeFunc: func(ctx context.Context, text string) (*tts.AudioResult, error) {
			if atomic.AddInt32(&call, 1) == 2 {
				return nil, boom
			}
			return textResult(ctx, text)
		},
	}
	spk, player := newTestSpeaker(t, mock)
	errs := make(chan error, 4)

	text := "first chunk here\nsecond chunk here"
	if err := spk.Request(context.Background(), "msg-1", text, tts.DefaultConfig(), func(err error) { errs <- err }); err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	select {
	case err := <-errs:
		if !errors.Is(err, boom) {
			t.Errorf("Expected the synthesis error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Error callback never fired")
	}
	waitFor(t, time.Second, "speaker did not return to idle", func() bool {
		return spk.Status().State == voice.PlaybackIdle
	})
	if n := player.CallCount("stop"); n == 0 {
		t.Error("Expected playback to be torn down on failure")
	}
	if n := mock.CallCount("Synthesize"); n != 2 {
		t.Errorf("Expected the failed chunk not to be retried, got %d calls", n)
	}

	time.Sleep(50 * time.Millisecond)
	select {
	case err := <-errs:
		t.Errorf("Expected exactly one error callback, got a second: %v", err)
	default:
	}
}

func TestSpeakerLoadErrorFailsSession(t *testing.T) {
	player := audio.NewMockPlayer()
	player.LoadErr = audio.ErrDecode
	spk, err := voice.NewSpeaker(voice.SpeakerConfig{
		Player:      player,
		NewProvider: func(cfg *tts.Config) (tts.Provider, error) { return textMock(100), nil },
		Logger:      discardLogger(),
	})
	if err != nil {
		t.Fatalf("NewSpeaker failed: %v", err)
	}
	t.Cleanup(func() { spk.Close() })
	errs := make(chan error, 4)

	if err := spk.Request(context.Background(), "msg-1", "hello", tts.DefaultConfig(), func(err error) { errs <- err }); err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	select {
	case err := <-errs:
		if !errors.Is(err, audio.ErrDecode) {
			t.Errorf("Expected the decode error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Error callback never fired")
	}
	waitFor(t, time.Second, "speaker did not return to idle", func() bool {
		return spk.Status().State == voice.PlaybackIdle
	})
}

func TestSpeakerPlaybackErrorFailsSession(t *testing.T) {
	deviceErr := errors.New("sink write failed")
	mock := textMock(100)
	spk, player := newTestSpeaker(t, mock)
	errs := make(chan error, 4)

	if err := spk.Request(context.Background(), "msg-1", "hello there", tts.DefaultConfig(), func(err error) { errs <- err }); err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	waitFor(t, time.Second, "clip did not start", func() bool {
		return player.CallCount("play") == 1
	})

	player.FailClip(deviceErr)

	select {
	case err := <-errs:
		if !errors.Is(err, deviceErr) {
			t.Errorf("Expected the playback error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Error callback never fired")
	}
	waitFor(t, time.Second, "speaker did not return to idle", func() bool {
		return spk.Status().State == voice.PlaybackIdle
	})

	time.Sleep(50 * time.Millisecond)
	select {
	case err := <-errs:
		t.Errorf("Expected exactly one error callback, got a second: %v", err)
	default:
	}
}

func TestSpeakerToggleDuringGeneration(t *testing.T) {
	block := make(chan struct{})
	mock := &tts.Mock{
		ChunkLimit: 24,
		SynthesizeFunc: func(ctx context.Context, text string) (*tts.AudioResult, error) {
			<-block
			return textResult(ctx, text)
		},
	}
	spk, player := newTestSpeaker(t, mock)
	errs := make(chan error, 4)

	text := "first chunk here\nsecond chunk here"
	if err := spk.Request(context.Background(), "msg-1", text, tts.DefaultConfig(), func(err error) { errs <- err }); err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if got := spk.Status().State; got != voice.PlaybackGenerating {
		t.Fatalf("Expected generating, got %q", got)
	}

	// Toggling during generation cancels the whole request.
	if err := spk.Request(context.Background(), "msg-1", text, tts.DefaultConfig(), func(err error) { errs <- err }); err != nil {
		t.Fatalf("Toggle request failed: %v", err)
	}
	if got := spk.Status().State; got != voice.PlaybackIdle {
		t.Fatalf("Expected idle after canceling generation, got %q", got)
	}

	close(block)
	time.Sleep(50 * time.Millisecond)

	if n := player.CallCount("load"); n != 0 {
		t.Errorf("Expected no clip from the canceled job, got %d loads", n)
	}
	if n := mock.CallCount("Synthesize"); n != 1 {
		t.Errorf("Expected synthesis to stop after the first chunk, got %d calls", n)
	}
	select {
	case err := <-errs:
		t.Errorf("Expected no error callbacks, got %v", err)
	default:
	}
}

func TestSpeakerWrapsRawAudio(t *testing.T) {
	spk, player := newTestSpeaker(t, tts.NewMock())

	text := strings.Repeat("a", 50)
	if err := spk.Request(context.Background(), "msg-1", text, tts.DefaultConfig(), nil); err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	waitFor(t, time.Second, "clip did not start", func() bool {
		return player.CallCount("play") == 1
	})

	// 50 chars of default mock output is 48000 bytes of raw 24kHz PCM,
	// which must arrive at the player as a WAV container.
	clip := player.Clips()[0]
	if len(clip) != 44+48000 {
		t.Fatalf("Expected a 44-byte header plus payload, got %d bytes", len(clip))
	}
	if string(clip[:4]) != "RIFF" {
		t.Errorf("Expected a RIFF header, got %q", clip[:4])
	}
	if got := binary.LittleEndian.Uint32(clip[40:44]); got != 48000 {
		t.Errorf("Expected data chunk size 48000, got %d", got)
	}

	player.FinishClip()
	waitFor(t, time.Second, "speaker did not return to idle", func() bool {
		return spk.Status().State == voice.PlaybackIdle
	})
}

func TestSpeakerPlaysThroughSinkPlayer(t *testing.T) {
	cfg := audioio.DefaultConfig()
	cfg.Backend = audioio.BackendMock
	cfg.BufferDuration = 10 * time.Millisecond

	sink, err := audioio.NewSink(cfg, discardLogger())
	if err != nil {
		t.Fatalf("NewSink failed: %v", err)
	}
	t.Cleanup(func() { sink.Close() })
	if err := sink.Start(context.Background()); err != nil {
		t.Fatalf("start sink: %v", err)
	}

	player := audio.NewSinkPlayer(sink, discardLogger())
	t.Cleanup(func() { player.Close() })

	spk, err := voice.NewSpeaker(voice.SpeakerConfig{
		Player:      player,
		NewProvider: func(cfg *tts.Config) (tts.Provider, error) { return tts.NewMock(), nil },
		Logger:      discardLogger(),
	})
	if err != nil {
		t.Fatalf("NewSpeaker failed: %v", err)
	}
	t.Cleanup(func() { spk.Close() })
	errs := make(chan error, 4)

	// Five chars of default mock output is 100ms of 24kHz PCM.
	if err := spk.Request(context.Background(), "msg-1", "hello", tts.DefaultConfig(), func(err error) { errs <- err }); err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	waitFor(t, 2*time.Second, "session did not finish", func() bool {
		return spk.Status().State == voice.PlaybackIdle
	})
	select {
	case err := <-errs:
		t.Fatalf("Expected a clean session, got %v", err)
	default:
	}

	stats, ok := sink.(audioio.SinkWithStats)
	if !ok {
		t.Fatal("Expected the mock sink to report stats")
	}
	if got := stats.Stats().SamplesWritten; got != 2400 {
		t.Errorf("Expected 2400 samples at the device, got %d", got)
	}
}

func TestSpeakerPauseAtClipBoundary(t *testing.T) {
	mock := textMock(24)
	spk, player := newTestSpeaker(t, mock)

	text := "first chunk here\nsecond chunk here"
	if err := spk.Request(context.Background(), "msg-1", text, tts.DefaultConfig(), nil); err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	waitFor(t, time.Second, "first clip did not start", func() bool {
		return player.CallCount("play") == 1
	})
	waitFor(t, time.Second, "second chunk not queued", func() bool {
		return spk.Status().QueuedClips == 1
	})

	if err := spk.Request(context.Background(), "msg-1", "", tts.DefaultConfig(), nil); err != nil {
		t.Fatalf("Toggle request failed: %v", err)
	}
	if got := spk.Status().State; got != voice.PlaybackPaused {
		t.Fatalf("Expected paused, got %q", got)
	}

	// The clip drains while paused; the session must hold its position.
	player.FinishClip()
	time.Sleep(50 * time.Millisecond)
	if got := spk.Status().State; got != voice.PlaybackPaused {
		t.Fatalf("Expected to stay paused across the clip boundary, got %q", got)
	}

	// Resuming picks up the queued clip rather than the finished one.
	if err := spk.Request(context.Background(), "msg-1", "", tts.DefaultConfig(), nil); err != nil {
		t.Fatalf("Toggle request failed: %v", err)
	}
	waitFor(t, time.Second, "queued clip did not start", func() bool {
		return player.CallCount("load") == 2 && spk.Status().State == voice.PlaybackPlaying
	})
	if n := player.CallCount("resume"); n != 0 {
		t.Errorf("Expected a fresh clip start instead of resume, got %d resume calls", n)
	}

	player.FinishClip()
	waitFor(t, time.Second, "speaker did not finish", func() bool {
		return spk.Status().State == voice.PlaybackIdle
	})
}

func TestSpeakerClosed(t *testing.T) {
	mock := textMock(100)
	spk, player := newTestSpeaker(t, mock)

	if err := spk.Request(context.Background(), "msg-1", "hello", tts.DefaultConfig(), nil); err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	waitFor(t, time.Second, "clip did not start", func() bool {
		return player.CallCount("play") == 1
	})

	if err := spk.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if n := player.CallCount("stop"); n == 0 {
		t.Error("Expected close to stop playback")
	}
	if err := spk.Request(context.Background(), "msg-2", "more", tts.DefaultConfig(), nil); !errors.Is(err, voice.ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	spk.Stop("msg-1") // no-op on a closed speaker
}
