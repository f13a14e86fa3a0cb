// Package audio plays synthesized clips through an audioio.Sink.
//
// The player owns at most one decoded clip at a time. Clips arrive as
// WAV buffers (the synthesis pipeline wraps raw PCM in a container
// before clips reach the player) and are paced into the sink one
// buffer interval at a time, so a pause takes effect within a buffer's
// duration. Completion and failure are reported on an event channel.
package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	gowav "github.com/go-audio/wav"

	"github.com/deskvox/voicepipe/pkg/audioio"
	"github.com/deskvox/voicepipe/pkg/wav"
)

// State describes what the player is doing.
type State string

const (
	// StateIdle means no clip is playing.
	StateIdle State = "idle"
	// StatePlaying means a clip is being fed to the sink.
	StatePlaying State = "playing"
	// StatePaused means playback is suspended and can be resumed.
	StatePaused State = "paused"
)

// EventKind labels playback events.
type EventKind string

const (
	// EventDone fires when the loaded clip has played to completion.
	EventDone EventKind = "done"
	// EventError fires when playback fails mid-clip.
	EventError EventKind = "error"
)

// Event is delivered on the Events channel. Clips superseded by Stop
// or a new Load produce no event.
type Event struct {
	Kind EventKind
	Err  error
}

var (
	// ErrNoClip is returned by Play when nothing is loaded.
	ErrNoClip = errors.New("audio: no clip loaded")

	// ErrDecode is wrapped by Load when a clip cannot be decoded.
	ErrDecode = errors.New("audio: clip decode failed")

	// ErrClosed is returned once the player has been closed.
	ErrClosed = errors.New("audio: player closed")
)

// Player plays one clip at a time.
type Player interface {
	// Load decodes a WAV clip and prepares it for playback, replacing
	// any clip already loaded.
	Load(data []byte) error

	// Play starts the loaded clip from the beginning.
	Play() error

	// Pause suspends playback, keeping the position for Resume.
	Pause() error

	// Resume continues playback from where Pause left it.
	Resume() error

	// Stop halts playback and discards the loaded clip.
	// Safe to call in any state.
	Stop() error

	// State reports the current playback state.
	State() State

	// Events returns the playback event channel.
	Events() <-chan Event

	// Close releases the player. The underlying sink is not closed.
	Close() error
}

// SinkPlayer decodes WAV clips and feeds them to an audioio.Sink.
// The sink must already be started; the player never starts, stops or
// closes it.
type SinkPlayer struct {
	sink   audioio.Sink
	logger *slog.Logger

	mu     sync.Mutex
	state  State
	clip   []audioio.AudioChunk
	pos    int // next chunk to write
	stopCh chan struct{}
	closed bool

	events chan Event
}

// NewSinkPlayer creates a player on top of a started sink.
func NewSinkPlayer(sink audioio.Sink, logger *slog.Logger) *SinkPlayer {
	if logger == nil {
		logger = slog.Default()
	}

	return &SinkPlayer{
		sink:   sink,
		logger: logger.With("component", "player"),
		state:  StateIdle,
		events: make(chan Event, 16),
	}
}

// Load decodes a WAV clip, converts it to the sink's format and
// prepares it for playback. A clip already playing is stopped first.
func (p *SinkPlayer) Load(data []byte) error {
	hdr, err := wav.ParseHeader(data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if !hdr.PCM() {
		return fmt.Errorf("%w: non-pcm wav (format %d)", ErrDecode, hdr.Format)
	}

	samples, rate, channels, err := decodeClip(data)
	if err != nil {
		return err
	}

	cfg := p.sink.Config()
	switch {
	case channels == cfg.Channels:
	case channels == 2 && cfg.Channels == 1:
		samples = audioio.StereoToMono(samples)
	case channels == 1 && cfg.Channels == 2:
		samples = audioio.MonoToStereo(samples)
	default:
		return fmt.Errorf("%w: cannot map %d-channel clip to %d-channel sink", ErrDecode, channels, cfg.Channels)
	}
	if rate != cfg.SampleRate {
		samples = audioio.Resample(samples, rate, cfg.SampleRate)
	}

	p.Stop()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	p.clip = chunkSamples(samples, cfg)
	p.pos = 0
	p.state = StateIdle

	p.logger.Debug("clip loaded",
		"chunks", len(p.clip),
		"samples", len(samples),
		"duration", hdr.Duration(),
		"clip_rate", rate,
		"sink_rate", cfg.SampleRate,
	)

	return nil
}

// Play starts the loaded clip from the beginning.
func (p *SinkPlayer) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	if len(p.clip) == 0 {
		return ErrNoClip
	}
	if p.state == StatePlaying {
		return nil
	}

	p.pos = 0
	p.startLocked()

	return nil
}

// Pause suspends playback, keeping the position for Resume.
func (p *SinkPlayer) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StatePlaying {
		return nil
	}

	close(p.stopCh)
	p.stopCh = nil
	p.state = StatePaused

	p.logger.Debug("playback paused", "chunk", p.pos, "chunks", len(p.clip))

	return nil
}

// Resume continues playback from where Pause left it.
func (p *SinkPlayer) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	if p.state != StatePaused {
		return nil
	}

	p.startLocked()

	p.logger.Debug("playback resumed", "chunk", p.pos, "chunks", len(p.clip))

	return nil
}

// Stop halts playback and discards the loaded clip. Safe to call in
// any state, any number of times.
func (p *SinkPlayer) Stop() error {
	p.mu.Lock()

	if p.state == StateIdle && p.clip == nil {
		p.mu.Unlock()
		return nil
	}
	if p.stopCh != nil {
		close(p.stopCh)
		p.stopCh = nil
	}
	p.clip = nil
	p.pos = 0
	p.state = StateIdle
	p.mu.Unlock()

	p.sink.Clear()

	p.logger.Debug("playback stopped")

	return nil
}

// State reports the current playback state.
func (p *SinkPlayer) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Events returns the playback event channel. One EventDone or
// EventError is delivered per clip that runs to completion or fails.
func (p *SinkPlayer) Events() <-chan Event {
	return p.events
}

// Close releases the player.
func (p *SinkPlayer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.Stop()
	return nil
}

// startLocked launches a feed goroutine from the current position.
// Caller holds p.mu.
func (p *SinkPlayer) startLocked() {
	stop := make(chan struct{})
	p.stopCh = stop
	p.state = StatePlaying

	go p.feed(p.pos, p.clip, stop)
}

// feed writes chunks to the sink one buffer interval apart. It runs
// until the clip ends, the stop channel closes, or a write fails.
func (p *SinkPlayer) feed(start int, clip []audioio.AudioChunk, stop chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(p.sink.Config().BufferDuration)
	defer ticker.Stop()

	for i := start; i < len(clip); i++ {
		select {
		case <-stop:
			return
		default:
		}

		if err := p.sink.Write(ctx, clip[i]); err != nil {
			select {
			case <-stop:
				// Raced with Pause or Stop; not a failure.
			default:
				p.failed(stop, fmt.Errorf("write clip chunk %d: %w", i, err))
			}
			return
		}

		p.mu.Lock()
		p.pos = i + 1
		p.mu.Unlock()

		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}

	if err := p.sink.Flush(ctx); err != nil {
		select {
		case <-stop:
		default:
			p.failed(stop, fmt.Errorf("drain sink: %w", err))
		}
		return
	}

	p.finished(stop)
}

// finished transitions to idle and emits EventDone, unless the clip
// was superseded while the last buffer drained.
func (p *SinkPlayer) finished(stop chan struct{}) {
	p.mu.Lock()
	select {
	case <-stop:
		p.mu.Unlock()
		return
	default:
	}
	p.clip = nil
	p.pos = 0
	p.state = StateIdle
	p.stopCh = nil

	// Emitting under the lock means that once Stop returns, any event from
	// the finished clip is already buffered; a caller that stops and then
	// drains Events cannot see it arrive later.
	p.emit(Event{Kind: EventDone})
	p.mu.Unlock()
}

// failed transitions to idle and emits EventError, unless the clip
// was superseded.
func (p *SinkPlayer) failed(stop chan struct{}, err error) {
	p.mu.Lock()
	select {
	case <-stop:
		p.mu.Unlock()
		return
	default:
	}
	p.clip = nil
	p.pos = 0
	p.state = StateIdle
	p.stopCh = nil

	p.logger.Error("playback failed", "error", err)
	p.emit(Event{Kind: EventError, Err: err})
	p.mu.Unlock()
}

func (p *SinkPlayer) emit(ev Event) {
	select {
	case p.events <- ev:
	default:
		p.logger.Warn("player event channel full, dropping event", "kind", ev.Kind)
	}
}

var _ Player = (*SinkPlayer)(nil)

// decodeClip converts a WAV buffer to PCM16 samples, returning the
// samples, sample rate and channel count.
func decodeClip(data []byte) ([]int16, int, int, error) {
	dec := gowav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, 0, 0, fmt.Errorf("%w: not a RIFF/WAVE container", ErrDecode)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, 0, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if buf.Format == nil || buf.Format.NumChannels <= 0 || buf.Format.SampleRate <= 0 {
		return nil, 0, 0, fmt.Errorf("%w: missing format chunk", ErrDecode)
	}

	samples := make([]int16, len(buf.Data))
	switch {
	case buf.SourceBitDepth == 16 || buf.SourceBitDepth == 0:
		for i, v := range buf.Data {
			samples[i] = int16(v)
		}
	case buf.SourceBitDepth > 16:
		shift := uint(buf.SourceBitDepth - 16)
		for i, v := range buf.Data {
			samples[i] = int16(v >> shift)
		}
	default:
		return nil, 0, 0, fmt.Errorf("%w: unsupported bit depth %d", ErrDecode, buf.SourceBitDepth)
	}

	return samples, buf.Format.SampleRate, buf.Format.NumChannels, nil
}

// chunkSamples splits samples into sink-buffer sized chunks.
func chunkSamples(samples []int16, cfg audioio.Config) []audioio.AudioChunk {
	size := cfg.BufferSize() * cfg.Channels
	if size <= 0 {
		size = len(samples)
	}

	var chunks []audioio.AudioChunk
	for start := 0; start < len(samples); start += size {
		end := start + size
		if end > len(samples) {
			end = len(samples)
		}
		chunks = append(chunks, audioio.AudioChunk{
			Samples:    samples[start:end],
			SampleRate: cfg.SampleRate,
			Channels:   cfg.Channels,
		})
	}
	return chunks
}
