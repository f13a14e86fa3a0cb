package voice

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	gaudio "github.com/go-audio/audio"
	gowav "github.com/go-audio/wav"
	"github.com/google/uuid"

	"github.com/deskvox/voicepipe/pkg/audioio"
	"github.com/deskvox/voicepipe/pkg/stt"
)

// recorderTickInterval is the cadence of elapsed/level status updates while
// recording. With 100ms capture buffers, level events arrive at the same
// rate.
const recorderTickInterval = 100 * time.Millisecond

// recorderCloseGrace bounds how long Close waits for in-flight sessions to
// finish their cleanup.
const recorderCloseGrace = 2 * time.Second

// Recorder captures one microphone take at a time and turns it into a
// transcript. See the package documentation for the session lifecycle.
type Recorder struct {
	cfg         RecorderConfig
	logger      *slog.Logger
	newProvider func(cfg *stt.Config) (stt.Provider, error)
	tempDir     string

	events chan any
	done   chan struct{}

	mu     sync.RWMutex
	status RecordingStatus
}

// NewRecorder creates a Recorder and starts its event loop.
func NewRecorder(cfg RecorderConfig) (*Recorder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	newProvider := cfg.NewProvider
	if newProvider == nil {
		newProvider = stt.New
	}
	tempDir := cfg.TempDir
	if tempDir == "" {
		tempDir = os.TempDir()
	}

	r := &Recorder{
		cfg:         cfg,
		logger:      logger.With("component", "recorder"),
		newProvider: newProvider,
		tempDir:     tempDir,
		events:      make(chan any, 16),
		done:        make(chan struct{}),
		status:      RecordingStatus{State: RecordingIdle},
	}
	go r.loop()
	return r, nil
}

// StartRecording begins a new recording session. Only one session can exist
// at a time; a second call while one is active returns ErrRecorderBusy.
// The context covers the permission check and capture startup only.
func (r *Recorder) StartRecording(ctx context.Context) error {
	reply := make(chan error, 1)
	if !r.send(recStartCmd{ctx: ctx, reply: reply}) {
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-r.done:
		return ErrClosed
	}
}

// StopAndTranscribe stops capture and sends the take to the transcription
// provider selected by cfg, returning the trimmed transcript. The temp file
// is deleted whatever the outcome. Valid only while recording.
func (r *Recorder) StopAndTranscribe(ctx context.Context, cfg *stt.Config) (string, error) {
	reply := make(chan recResult, 1)
	if !r.send(recStopCmd{ctx: ctx, cfg: cfg, reply: reply}) {
		return "", ErrClosed
	}
	select {
	case res := <-reply:
		return res.text, res.err
	case <-r.done:
		return "", ErrClosed
	}
}

// CancelAndCleanup discards any session in progress: capture stops, the
// temp file is deleted, pending callers are released with context.Canceled
// and the recorder returns to idle. Safe to call in any state, any number
// of times.
func (r *Recorder) CancelAndCleanup() {
	reply := make(chan struct{}, 1)
	if !r.send(recCancelCmd{reply: reply}) {
		return
	}
	select {
	case <-reply:
	case <-r.done:
	}
}

// Status returns the current status snapshot.
func (r *Recorder) Status() RecordingStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// Close cancels any active session and stops the event loop. The capture
// source itself stays open; its owner closes it.
func (r *Recorder) Close() error {
	if r.send(recCloseCmd{}) {
		<-r.done
	}
	return nil
}

// send delivers a command unless the loop has exited.
func (r *Recorder) send(ev any) bool {
	select {
	case r.events <- ev:
		return true
	case <-r.done:
		return false
	}
}

// post delivers a session event, dropping it if the loop has exited.
func (r *Recorder) post(ev any) {
	select {
	case r.events <- ev:
	case <-r.done:
	}
}

func (r *Recorder) publish(st RecordingStatus) {
	r.mu.Lock()
	r.status = st
	r.mu.Unlock()
	if r.cfg.OnState != nil {
		r.cfg.OnState(st)
	}
}

func (r *Recorder) removeTemp(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		r.logger.Warn("failed to delete recording temp file", "path", path, "error", err)
	}
}

// Commands from public methods.
type recStartCmd struct {
	ctx   context.Context
	reply chan error
}

type recStopCmd struct {
	ctx   context.Context
	cfg   *stt.Config
	reply chan recResult
}

type recResult struct {
	text string
	err  error
}

type recCancelCmd struct {
	reply chan struct{}
}

type recCloseCmd struct{}

// Events from session goroutines. Every event names its session so the
// loop can drop reports from sessions it has already abandoned.
type recStartedEv struct {
	session string
}

type recStartFailedEv struct {
	session string
	err     error
}

type recLevelEv struct {
	session string
	level   float64
}

type recCaptureEndEv struct {
	session string
	err     error
}

type recTranscriptEv struct {
	session string
	text    string
	err     error
}

// recSession is the loop's view of one recording session.
type recSession struct {
	id        string
	path      string
	startedAt time.Time
	level     float64
	started   bool
	canceled  bool

	startReply       chan error
	stopReply        chan recResult
	stopCtx          context.Context
	sttCfg           *stt.Config
	cancelTranscribe context.CancelFunc
}

// recorderLoop holds the state owned by the event loop goroutine.
type recorderLoop struct {
	r *Recorder

	cur   *recSession
	stale map[string]*recSession

	tick  *time.Ticker
	tickC <-chan time.Time

	closing bool
	closeC  <-chan time.Time
}

func (r *Recorder) loop() {
	defer close(r.done)

	l := &recorderLoop{r: r, stale: make(map[string]*recSession)}
	defer l.stopTicker()

	for {
		select {
		case ev := <-r.events:
			switch ev := ev.(type) {
			case recStartCmd:
				l.handleStart(ev)
			case recStopCmd:
				l.handleStop(ev)
			case recCancelCmd:
				l.handleCancel(ev)
			case recCloseCmd:
				l.handleClose()
			case recStartedEv:
				l.handleStarted(ev)
			case recStartFailedEv:
				l.handleStartFailed(ev)
			case recLevelEv:
				if s := l.session(ev.session); s != nil {
					s.level = ev.level
				}
			case recCaptureEndEv:
				l.handleCaptureEnd(ev)
			case recTranscriptEv:
				l.handleTranscript(ev)
			}
			if l.closing && l.cur == nil && len(l.stale) == 0 {
				return
			}
		case <-l.tickC:
			if s := l.cur; s != nil && s.started && s.stopReply == nil && !s.canceled {
				r.publish(RecordingStatus{
					State:   RecordingActive,
					Elapsed: time.Since(s.startedAt).Seconds(),
					Level:   s.level,
				})
			}
		case <-l.closeC:
			r.logger.Warn("closing with sessions still in flight")
			return
		}
	}
}

// session routes an event to the session it belongs to, current or
// abandoned. Unknown sessions read as nil and their events are dropped.
func (l *recorderLoop) session(id string) *recSession {
	if l.cur != nil && l.cur.id == id {
		return l.cur
	}
	return l.stale[id]
}

func (l *recorderLoop) drop(s *recSession) {
	if l.cur == s {
		l.cur = nil
	}
	delete(l.stale, s.id)
}

// abandon moves the current session out of the way so its remaining events
// still find it for cleanup, while the recorder reads as idle.
func (l *recorderLoop) abandon(s *recSession) {
	s.canceled = true
	l.stale[s.id] = s
	l.cur = nil
}

func (l *recorderLoop) startTicker() {
	l.tick = time.NewTicker(recorderTickInterval)
	l.tickC = l.tick.C
}

func (l *recorderLoop) stopTicker() {
	if l.tick != nil {
		l.tick.Stop()
		l.tick = nil
		l.tickC = nil
	}
}

func (l *recorderLoop) handleStart(cmd recStartCmd) {
	if l.closing {
		cmd.reply <- ErrClosed
		return
	}
	if l.cur != nil {
		cmd.reply <- ErrRecorderBusy
		return
	}

	id := uuid.NewString()
	l.cur = &recSession{
		id:         id,
		path:       filepath.Join(l.r.tempDir, "voicepipe-rec-"+id+".wav"),
		startReply: cmd.reply,
	}
	l.r.logger.Debug("recording session starting", "session", id)
	go l.r.runSession(cmd.ctx, id, l.cur.path)
}

func (l *recorderLoop) handleStarted(ev recStartedEv) {
	s := l.session(ev.session)
	if s == nil {
		return
	}
	s.started = true
	if s.canceled {
		// Canceled while starting; capture just came up, take it down.
		l.r.cfg.Source.Stop()
		return
	}
	s.startedAt = time.Now()
	s.startReply <- nil
	s.startReply = nil
	l.startTicker()
	l.r.publish(RecordingStatus{State: RecordingActive})
	l.r.logger.Info("recording started", "session", s.id, "path", s.path)
}

func (l *recorderLoop) handleStartFailed(ev recStartFailedEv) {
	s := l.session(ev.session)
	if s == nil {
		return
	}
	if s.startReply != nil {
		s.startReply <- ev.err
		s.startReply = nil
	}
	l.drop(s)
	if !s.canceled {
		l.r.publish(RecordingStatus{State: RecordingIdle})
		l.r.logger.Error("recording start failed", "session", s.id, "error", ev.err)
	}
}

func (l *recorderLoop) handleStop(cmd recStopCmd) {
	if l.closing {
		cmd.reply <- recResult{err: ErrClosed}
		return
	}
	s := l.cur
	if s == nil || !s.started || s.stopReply != nil {
		cmd.reply <- recResult{err: ErrNotRecording}
		return
	}

	s.stopReply = cmd.reply
	s.stopCtx = cmd.ctx
	s.sttCfg = cmd.cfg
	l.stopTicker()
	l.r.cfg.Source.Stop()
	l.r.publish(RecordingStatus{
		State:   RecordingTranscribing,
		Elapsed: time.Since(s.startedAt).Seconds(),
	})
	l.r.logger.Info("recording stopped",
		"session", s.id,
		"elapsed_seconds", time.Since(s.startedAt).Seconds())
}

func (l *recorderLoop) handleCaptureEnd(ev recCaptureEndEv) {
	s := l.session(ev.session)
	if s == nil {
		return
	}

	if s != l.cur || s.canceled {
		// Abandoned session: the capture goroutine is finished with the
		// file, delete it and forget the session.
		l.r.removeTemp(s.path)
		l.drop(s)
		return
	}

	if ev.err != nil {
		// Capture died mid-recording. Same cleanup as an explicit
		// cancel; any waiting stop caller gets the failure.
		l.stopTicker()
		l.r.removeTemp(s.path)
		l.drop(s)
		l.r.publish(RecordingStatus{State: RecordingIdle})
		if s.stopReply != nil {
			s.stopReply <- recResult{err: ev.err}
		} else {
			l.r.logger.Error("capture failed, recording discarded",
				"session", s.id, "error", ev.err)
		}
		return
	}

	if s.stopReply == nil {
		// The stream ended without a stop request or an error.
		l.stopTicker()
		l.r.removeTemp(s.path)
		l.drop(s)
		l.r.publish(RecordingStatus{State: RecordingIdle})
		l.r.logger.Warn("capture stream ended unexpectedly", "session", s.id)
		return
	}

	// Hand the take to transcription. The transcriber owns the temp file
	// from here and deletes it right after reading it.
	ctx := s.stopCtx
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancelTranscribe = cancel
	go l.r.transcribe(ctx, s.id, s.path, s.sttCfg)
}

func (l *recorderLoop) handleTranscript(ev recTranscriptEv) {
	s := l.session(ev.session)
	if s == nil {
		return
	}
	if s.cancelTranscribe != nil {
		s.cancelTranscribe()
		s.cancelTranscribe = nil
	}

	if s != l.cur || s.canceled {
		l.r.logger.Debug("discarding transcript for canceled session", "session", s.id)
		l.drop(s)
		return
	}

	reply := s.stopReply
	l.drop(s)
	l.r.publish(RecordingStatus{State: RecordingIdle})
	if ev.err != nil {
		l.r.logger.Error("transcription failed", "session", s.id, "error", ev.err)
	} else {
		l.r.logger.Info("transcription complete", "session", s.id, "chars", len(ev.text))
	}
	reply <- recResult{text: ev.text, err: ev.err}
}

func (l *recorderLoop) handleCancel(cmd recCancelCmd) {
	defer func() { cmd.reply <- struct{}{} }()

	s := l.cur
	if s == nil {
		return
	}

	l.stopTicker()
	if s.startReply != nil {
		s.startReply <- context.Canceled
		s.startReply = nil
	}
	if s.stopReply != nil {
		s.stopReply <- recResult{err: context.Canceled}
		s.stopReply = nil
	}
	if s.cancelTranscribe != nil {
		s.cancelTranscribe()
		s.cancelTranscribe = nil
	}
	if s.started {
		l.r.cfg.Source.Stop()
	}

	// The temp file is cleaned up by whichever goroutine holds it: the
	// capture end event deletes it for abandoned sessions, and the
	// transcriber deletes it right after reading.
	l.abandon(s)
	l.r.publish(RecordingStatus{State: RecordingIdle})
	l.r.logger.Info("recording canceled", "session", s.id)
}

func (l *recorderLoop) handleClose() {
	if l.closing {
		return
	}
	l.closing = true
	l.closeC = time.After(recorderCloseGrace)

	s := l.cur
	if s == nil {
		return
	}

	l.stopTicker()
	if s.startReply != nil {
		s.startReply <- ErrClosed
		s.startReply = nil
	}
	if s.stopReply != nil {
		s.stopReply <- recResult{err: ErrClosed}
		s.stopReply = nil
	}
	if s.cancelTranscribe != nil {
		s.cancelTranscribe()
		s.cancelTranscribe = nil
	}
	if s.started {
		l.r.cfg.Source.Stop()
	}
	l.abandon(s)
	l.r.publish(RecordingStatus{State: RecordingIdle})
}

// runSession is the capture goroutine for one session: permission check,
// capture startup, then encoding chunks to the temp WAV file until the
// stream closes. It reports progress into the loop and never touches
// coordinator state directly.
func (r *Recorder) runSession(ctx context.Context, id, path string) {
	if r.cfg.CheckPermission != nil {
		if err := r.cfg.CheckPermission(ctx); err != nil {
			r.post(recStartFailedEv{session: id, err: err})
			return
		}
	}

	// ctx covers the permission check only. Capture runs until Stop, so
	// the source gets a context that outlives the start call.
	src := r.cfg.Source
	if err := src.Start(context.Background()); err != nil {
		r.post(recStartFailedEv{session: id, err: &RecordingError{Err: err}})
		return
	}

	f, err := os.Create(path)
	if err != nil {
		src.Stop()
		r.post(recStartFailedEv{session: id, err: &RecordingError{Err: err}})
		return
	}

	// Grab the stream before announcing the session. The source is only
	// stopped, and possibly restarted for a new session, after the loop
	// has seen the start event, so the channel taken here is ours.
	stream := src.Stream()
	r.post(recStartedEv{session: id})

	scfg := src.Config()
	enc := gowav.NewEncoder(f, scfg.SampleRate, 16, scfg.Channels, 1)

	var failure error
	for chunk := range stream {
		if failure != nil {
			continue // drain until the producer closes the stream
		}
		if err := enc.Write(intBuffer(chunk)); err != nil {
			failure = err
			src.Stop()
			continue
		}
		r.post(recLevelEv{session: id, level: chunk.RMS()})
	}
	if failure == nil {
		select {
		case err := <-src.Errors():
			failure = err
		default:
		}
	}
	if err := enc.Close(); err != nil && failure == nil {
		failure = err
	}
	if err := f.Close(); err != nil && failure == nil {
		failure = err
	}

	if failure != nil {
		r.post(recCaptureEndEv{session: id, err: &RecordingError{Err: failure}})
		return
	}
	r.post(recCaptureEndEv{session: id})
}

// transcribe reads and deletes the temp file, then runs the provider call.
// Deleting right after the read keeps the unconditional-cleanup guarantee
// in one place no matter how the provider call ends.
func (r *Recorder) transcribe(ctx context.Context, id, path string, cfg *stt.Config) {
	if cfg == nil {
		cfg = stt.DefaultConfig()
	}

	data, readErr := os.ReadFile(path)
	r.removeTemp(path)
	if readErr != nil {
		r.post(recTranscriptEv{session: id, err: &RecordingError{Err: readErr}})
		return
	}

	p, err := r.newProvider(cfg)
	if err != nil {
		r.post(recTranscriptEv{session: id, err: err})
		return
	}
	defer p.Close()

	req := stt.Request{Audio: data, MIMEType: "audio/wav"}
	var text string
	if cfg.Translate {
		text, err = p.Translate(ctx, req)
	} else {
		text, err = p.Transcribe(ctx, req)
	}
	if err != nil {
		r.post(recTranscriptEv{session: id, err: err})
		return
	}
	r.post(recTranscriptEv{session: id, text: strings.TrimSpace(text)})
}

func intBuffer(chunk audioio.AudioChunk) *gaudio.IntBuffer {
	data := make([]int, len(chunk.Samples))
	for i, s := range chunk.Samples {
		data[i] = int(s)
	}
	return &gaudio.IntBuffer{
		Format: &gaudio.Format{
			NumChannels: chunk.Channels,
			SampleRate:  chunk.SampleRate,
		},
		Data:           data,
		SourceBitDepth: 16,
	}
}
