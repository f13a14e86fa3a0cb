package audio_test

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/deskvox/voicepipe/pkg/audio"
	"github.com/deskvox/voicepipe/pkg/audioio"
	"github.com/deskvox/voicepipe/pkg/wav"
)

func newTestPlayer(t *testing.T) (*audioio.MockSink, *audio.SinkPlayer) {
	t.Helper()

	cfg := audioio.DefaultConfig()
	cfg.BufferDuration = 10 * time.Millisecond

	sink := audioio.NewMockSink(cfg, nil)
	if err := sink.Start(context.Background()); err != nil {
		t.Fatalf("start sink: %v", err)
	}
	t.Cleanup(func() { sink.Close() })

	player := audio.NewSinkPlayer(sink, nil)
	t.Cleanup(func() { player.Close() })

	return sink, player
}

// makeClip builds a WAV clip with the given number of PCM16 samples.
func makeClip(t *testing.T, samples, rate int) []byte {
	t.Helper()

	pcm := make([]int16, samples)
	for i := range pcm {
		pcm[i] = int16(i % 2000)
	}
	return wav.WrapPCM16Mono(audioio.SamplesToBytes(pcm), rate)
}

func waitEvent(t *testing.T, player audio.Player, kind audio.EventKind, timeout time.Duration) audio.Event {
	t.Helper()

	select {
	case ev := <-player.Events():
		if ev.Kind != kind {
			t.Fatalf("Expected %s event, got %s (err: %v)", kind, ev.Kind, ev.Err)
		}
		return ev
	case <-time.After(timeout):
		t.Fatalf("Timed out waiting for %s event", kind)
		return audio.Event{}
	}
}

func TestSinkPlayer_PlayToCompletion(t *testing.T) {
	sink, player := newTestPlayer(t)

	clip := makeClip(t, 4800, 24000) // 200ms at 24kHz
	if err := player.Load(clip); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := player.Play(); err != nil {
		t.Fatalf("Play failed: %v", err)
	}

	waitEvent(t, player, audio.EventDone, 2*time.Second)

	stats := sink.Stats()
	if stats.SamplesWritten != 4800 {
		t.Errorf("Expected 4800 samples written, got %d", stats.SamplesWritten)
	}
	if got := player.State(); got != audio.StateIdle {
		t.Errorf("Expected idle after completion, got %s", got)
	}
}

func TestSinkPlayer_PauseResume(t *testing.T) {
	sink, player := newTestPlayer(t)

	clip := makeClip(t, 7200, 24000) // 300ms, 30 chunks at 10ms buffers
	if err := player.Load(clip); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := player.Play(); err != nil {
		t.Fatalf("Play failed: %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	if err := player.Pause(); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	if got := player.State(); got != audio.StatePaused {
		t.Fatalf("Expected paused, got %s", got)
	}

	written := sink.Stats().ChunksWritten
	time.Sleep(50 * time.Millisecond)

	// At most one in-flight chunk may land after the pause
	if got := sink.Stats().ChunksWritten; got > written+1 {
		t.Errorf("Chunks kept flowing while paused: %d -> %d", written, got)
	}

	if err := player.Resume(); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}

	waitEvent(t, player, audio.EventDone, 2*time.Second)

	// Nothing is replayed or skipped across the pause
	if got := sink.Stats().ChunksWritten; got != 30 {
		t.Errorf("Expected 30 chunks written in total, got %d", got)
	}
}

func TestSinkPlayer_StopDiscardsClip(t *testing.T) {
	_, player := newTestPlayer(t)

	clip := makeClip(t, 24000, 24000) // 1s
	if err := player.Load(clip); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := player.Play(); err != nil {
		t.Fatalf("Play failed: %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	if err := player.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if got := player.State(); got != audio.StateIdle {
		t.Fatalf("Expected idle after Stop, got %s", got)
	}

	// A stopped clip produces no completion event
	select {
	case ev := <-player.Events():
		t.Fatalf("Unexpected event after Stop: %s", ev.Kind)
	case <-time.After(100 * time.Millisecond):
	}

	// The clip is discarded
	if err := player.Play(); !errors.Is(err, audio.ErrNoClip) {
		t.Errorf("Expected ErrNoClip after Stop, got: %v", err)
	}

	// Stopping again is a no-op
	if err := player.Stop(); err != nil {
		t.Errorf("Second Stop failed: %v", err)
	}
}

func TestSinkPlayer_LoadRejectsGarbage(t *testing.T) {
	_, player := newTestPlayer(t)

	if err := player.Load([]byte("definitely not audio")); !errors.Is(err, audio.ErrDecode) {
		t.Errorf("Expected ErrDecode for garbage, got: %v", err)
	}
	if err := player.Load(nil); !errors.Is(err, audio.ErrDecode) {
		t.Errorf("Expected ErrDecode for empty buffer, got: %v", err)
	}

	// A buffer that ends before the data chunk is malformed, not playable.
	truncated := makeClip(t, 2400, 24000)[:40]
	if err := player.Load(truncated); !errors.Is(err, audio.ErrDecode) {
		t.Errorf("Expected ErrDecode for truncated header, got: %v", err)
	}

	// Format code 3 is IEEE float; only linear PCM clips are playable.
	float32Clip := makeClip(t, 2400, 24000)
	float32Clip[20] = 3
	if err := player.Load(float32Clip); !errors.Is(err, audio.ErrDecode) {
		t.Errorf("Expected ErrDecode for non-PCM format, got: %v", err)
	}
}

func TestSinkPlayer_LoadSkipsInfoChunk(t *testing.T) {
	sink, player := newTestPlayer(t)

	// Encoders commonly put a LIST chunk between fmt and data.
	base := makeClip(t, 2400, 24000)
	clip := append([]byte{}, base[:36]...)
	clip = append(clip, 'L', 'I', 'S', 'T', 4, 0, 0, 0, 'I', 'N', 'F', 'O')
	clip = append(clip, base[36:]...)
	binary.LittleEndian.PutUint32(clip[4:8], uint32(len(clip)-8))

	if err := player.Load(clip); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := player.Play(); err != nil {
		t.Fatalf("Play failed: %v", err)
	}

	waitEvent(t, player, audio.EventDone, 2*time.Second)

	if got := sink.Stats().SamplesWritten; got != 2400 {
		t.Errorf("Expected 2400 samples written, got %d", got)
	}
}

func TestSinkPlayer_UnstartedSinkFailsClip(t *testing.T) {
	cfg := audioio.DefaultConfig()
	cfg.BufferDuration = 10 * time.Millisecond

	// The sink is wired but never started, so the first write must fail
	// and surface as a playback error rather than silence.
	sink := audioio.NewMockSink(cfg, nil)
	t.Cleanup(func() { sink.Close() })

	player := audio.NewSinkPlayer(sink, nil)
	t.Cleanup(func() { player.Close() })

	clip := makeClip(t, 2400, 24000)
	if err := player.Load(clip); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := player.Play(); err != nil {
		t.Fatalf("Play failed: %v", err)
	}

	ev := waitEvent(t, player, audio.EventError, 2*time.Second)
	if ev.Err == nil {
		t.Error("Expected the write failure on the event")
	}
	if got := player.State(); got != audio.StateIdle {
		t.Errorf("Expected idle after failure, got %s", got)
	}
}

func TestSinkPlayer_WriteError(t *testing.T) {
	sink, player := newTestPlayer(t)

	clip := makeClip(t, 4800, 24000)
	if err := player.Load(clip); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	broken := errors.New("device gone")
	sink.SetWriteError(broken)

	if err := player.Play(); err != nil {
		t.Fatalf("Play failed: %v", err)
	}

	ev := waitEvent(t, player, audio.EventError, 2*time.Second)
	if !errors.Is(ev.Err, broken) {
		t.Errorf("Expected wrapped sink error, got: %v", ev.Err)
	}
	if got := player.State(); got != audio.StateIdle {
		t.Errorf("Expected idle after failure, got %s", got)
	}
}

func TestSinkPlayer_ResamplesClip(t *testing.T) {
	sink, player := newTestPlayer(t)

	// 100ms at 16kHz becomes 150ms of 24kHz samples
	clip := makeClip(t, 1600, 16000)
	if err := player.Load(clip); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := player.Play(); err != nil {
		t.Fatalf("Play failed: %v", err)
	}

	waitEvent(t, player, audio.EventDone, 2*time.Second)

	if got := sink.Stats().SamplesWritten; got != 2400 {
		t.Errorf("Expected 2400 samples after resampling, got %d", got)
	}
}

func TestMockPlayer(t *testing.T) {
	m := audio.NewMockPlayer()

	if err := m.Play(); !errors.Is(err, audio.ErrNoClip) {
		t.Errorf("Expected ErrNoClip before Load, got: %v", err)
	}

	if err := m.Load([]byte("clip-1")); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := m.Play(); err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	if got := m.State(); got != audio.StatePlaying {
		t.Errorf("Expected playing, got %s", got)
	}

	if err := m.Pause(); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	if got := m.State(); got != audio.StatePaused {
		t.Errorf("Expected paused, got %s", got)
	}

	if err := m.Resume(); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}

	m.FinishClip()

	select {
	case ev := <-m.Events():
		if ev.Kind != audio.EventDone {
			t.Errorf("Expected done event, got %s", ev.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for done event")
	}

	if got := m.State(); got != audio.StateIdle {
		t.Errorf("Expected idle after finish, got %s", got)
	}
	if got := m.CallCount("load"); got != 1 {
		t.Errorf("Expected 1 load call, got %d", got)
	}
	if clips := m.Clips(); len(clips) != 1 || string(clips[0]) != "clip-1" {
		t.Errorf("Unexpected clips: %v", clips)
	}
}
