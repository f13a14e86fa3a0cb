package audioio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

// execSource captures audio by spawning a command line recorder
// (arecord on Linux, sox's rec on macOS) and reading raw PCM16
// little-endian frames from its stdout.
type execSource struct {
	cfg     Config
	logger  *slog.Logger
	backend string
	argv    []string
	env     []string

	mu       sync.Mutex
	running  bool
	closed   bool
	cmd      *exec.Cmd
	streamCh chan AudioChunk
	errCh    chan error
	stopCh   chan struct{}

	// Stats
	chunksRead  atomic.Int64
	samplesRead atomic.Int64
	overruns    atomic.Int64
}

func newExecSource(cfg Config, logger *slog.Logger, backend string, argv, env []string) *execSource {
	if logger == nil {
		logger = slog.Default()
	}

	return &execSource{
		cfg:      cfg,
		logger:   logger,
		backend:  backend,
		argv:     argv,
		env:      env,
		streamCh: make(chan AudioChunk, 10),
		errCh:    make(chan error, 1),
		stopCh:   make(chan struct{}),
	}
}

// Start spawns the recorder process and begins reading chunks.
func (s *execSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}

	cmd := exec.Command(s.argv[0], s.argv[1:]...)
	if len(s.env) > 0 {
		cmd.Env = append(os.Environ(), s.env...)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", s.argv[0], err)
	}

	s.cmd = cmd
	s.running = true
	s.stopCh = make(chan struct{})
	s.streamCh = make(chan AudioChunk, 10)
	s.errCh = make(chan error, 1)

	go s.readLoop(ctx, stdout, s.streamCh, s.stopCh)

	s.logger.Info("audio capture started",
		"backend", s.backend,
		"command", s.argv[0],
		"sample_rate", s.cfg.SampleRate,
		"channels", s.cfg.Channels,
	)

	return nil
}

// readLoop owns the chunks channel and closes it when capture ends.
func (s *execSource) readLoop(ctx context.Context, r io.Reader, chunks chan AudioChunk, stop chan struct{}) {
	defer close(chunks)

	buf := make([]byte, s.cfg.BufferBytes())

	for {
		select {
		case <-ctx.Done():
			s.Stop()
			return
		case <-stop:
			return
		default:
		}

		if _, err := io.ReadFull(r, buf); err != nil {
			select {
			case <-stop:
				// The process was killed by Stop; not a failure.
			default:
				s.fail(fmt.Errorf("%s capture stream ended: %w", s.argv[0], err))
			}
			return
		}

		var chunk AudioChunk
		chunk.FromBytes(buf, s.cfg.SampleRate, s.cfg.Channels)

		select {
		case chunks <- chunk:
			s.chunksRead.Add(1)
			s.samplesRead.Add(int64(len(chunk.Samples)))
		case <-stop:
			return
		default:
			s.overruns.Add(1)
			s.logger.Debug("capture buffer full, dropping chunk", "backend", s.backend)
		}
	}
}

// fail delivers a fatal capture error and tears the source down.
func (s *execSource) fail(err error) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cmd := s.cmd
	errCh := s.errCh
	stop := s.stopCh
	s.mu.Unlock()

	select {
	case errCh <- err:
	default:
	}
	s.logger.Error("audio capture failed", "backend", s.backend, "error", err)

	close(stop)
	if cmd != nil && cmd.Process != nil {
		cmd.Process.Kill()
		cmd.Wait()
	}
}

// Stop halts audio capture and kills the recorder process.
func (s *execSource) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cmd := s.cmd
	stop := s.stopCh
	s.mu.Unlock()

	close(stop)
	if cmd != nil && cmd.Process != nil {
		cmd.Process.Kill()
		cmd.Wait()
	}

	s.logger.Info("audio capture stopped", "backend", s.backend)

	return nil
}

// Read reads the next audio chunk.
func (s *execSource) Read(ctx context.Context) (AudioChunk, error) {
	select {
	case <-ctx.Done():
		return AudioChunk{}, ctx.Err()
	case chunk, ok := <-s.streamCh:
		if !ok {
			return AudioChunk{}, io.EOF
		}
		return chunk, nil
	}
}

// Stream returns the audio chunk channel.
func (s *execSource) Stream() <-chan AudioChunk {
	return s.streamCh
}

// Errors returns the fatal capture error channel.
func (s *execSource) Errors() <-chan error {
	return s.errCh
}

// Config returns the audio configuration.
func (s *execSource) Config() Config {
	return s.cfg
}

// Name returns the backend name.
func (s *execSource) Name() string {
	return s.backend
}

// Close releases resources.
func (s *execSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.Stop()
	return nil
}

// Stats returns source statistics.
func (s *execSource) Stats() SourceStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	return SourceStats{
		ChunksRead:  s.chunksRead.Load(),
		SamplesRead: s.samplesRead.Load(),
		Overruns:    s.overruns.Load(),
		Running:     running,
		Backend:     s.backend,
	}
}

var _ SourceWithStats = (*execSource)(nil)

// execSink plays audio by spawning a command line player (aplay on
// Linux, sox's play on macOS) and writing raw PCM16 little-endian
// frames to its stdin.
type execSink struct {
	cfg     Config
	logger  *slog.Logger
	backend string
	argv    []string
	env     []string

	mu       sync.Mutex
	running  bool
	closed   bool
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	deadline time.Time // when already-written audio finishes playing

	// Stats
	chunksWritten  atomic.Int64
	samplesWritten atomic.Int64
	underruns      atomic.Int64
}

func newExecSink(cfg Config, logger *slog.Logger, backend string, argv, env []string) *execSink {
	if logger == nil {
		logger = slog.Default()
	}

	return &execSink{
		cfg:     cfg,
		logger:  logger,
		backend: backend,
		argv:    argv,
		env:     env,
	}
}

// Start spawns the player process.
func (s *execSink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}

	if err := s.spawnLocked(); err != nil {
		return err
	}
	s.running = true
	s.deadline = time.Time{}

	s.logger.Info("audio playback started",
		"backend", s.backend,
		"command", s.argv[0],
		"sample_rate", s.cfg.SampleRate,
		"channels", s.cfg.Channels,
	)

	return nil
}

func (s *execSink) spawnLocked() error {
	cmd := exec.Command(s.argv[0], s.argv[1:]...)
	if len(s.env) > 0 {
		cmd.Env = append(os.Environ(), s.env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", s.argv[0], err)
	}

	s.cmd = cmd
	s.stdin = stdin
	return nil
}

func (s *execSink) killLocked() {
	if s.stdin != nil {
		s.stdin.Close()
		s.stdin = nil
	}
	if s.cmd != nil && s.cmd.Process != nil {
		s.cmd.Process.Kill()
		s.cmd.Wait()
	}
	s.cmd = nil
}

// Stop halts audio playback and kills the player process.
func (s *execSink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false
	s.killLocked()

	s.logger.Info("audio playback stopped", "backend", s.backend)

	return nil
}

// Write sends audio to the player process.
func (s *execSink) Write(ctx context.Context, chunk AudioChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if !s.running || s.stdin == nil {
		return fmt.Errorf("sink not running")
	}

	if _, err := s.stdin.Write(chunk.Bytes()); err != nil {
		return fmt.Errorf("write to %s: %w", s.argv[0], err)
	}

	now := time.Now()
	if s.deadline.Before(now) {
		s.deadline = now
	}
	s.deadline = s.deadline.Add(time.Duration(chunk.Duration() * float64(time.Second)))

	s.chunksWritten.Add(1)
	s.samplesWritten.Add(int64(len(chunk.Samples)))

	return nil
}

// Flush waits until already-written audio has finished playing.
// The player process gives no drain feedback over the pipe, so this
// tracks written durations and sleeps off the remainder.
func (s *execSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	deadline := s.deadline
	s.mu.Unlock()

	remaining := time.Until(deadline)
	if remaining <= 0 {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(remaining):
		return nil
	}
}

// Clear discards buffered audio. The player process owns the device
// buffer, so the only way to drop what it already holds is to restart
// it.
func (s *execSink) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	s.killLocked()
	if err := s.spawnLocked(); err != nil {
		s.running = false
		return fmt.Errorf("restart player: %w", err)
	}
	s.deadline = time.Time{}

	s.logger.Debug("playback buffer cleared", "backend", s.backend)

	return nil
}

// Config returns the audio configuration.
func (s *execSink) Config() Config {
	return s.cfg
}

// Name returns the backend name.
func (s *execSink) Name() string {
	return s.backend
}

// Close releases resources.
func (s *execSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.Stop()
	return nil
}

// Stats returns sink statistics.
func (s *execSink) Stats() SinkStats {
	s.mu.Lock()
	running := s.running
	deadline := s.deadline
	s.mu.Unlock()

	buffered := int64(0)
	if rem := time.Until(deadline); rem > 0 {
		buffered = int64(rem.Seconds() * float64(s.cfg.SampleRate*s.cfg.Channels))
	}

	return SinkStats{
		ChunksWritten:   s.chunksWritten.Load(),
		SamplesWritten:  s.samplesWritten.Load(),
		Underruns:       s.underruns.Load(),
		Running:         running,
		Backend:         s.backend,
		BufferedSamples: buffered,
	}
}

var _ SinkWithStats = (*execSink)(nil)
