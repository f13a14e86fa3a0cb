package voice

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/deskvox/voicepipe/pkg/audio"
	"github.com/deskvox/voicepipe/pkg/textchunk"
	"github.com/deskvox/voicepipe/pkg/tts"
	"github.com/deskvox/voicepipe/pkg/wav"
)

// Speaker turns message text into played-back speech, one session at a
// time. See the package documentation for the session lifecycle and toggle
// semantics.
type Speaker struct {
	cfg         SpeakerConfig
	logger      *slog.Logger
	player      audio.Player
	newProvider func(cfg *tts.Config) (tts.Provider, error)
	metrics     *MetricsCollector

	events chan any
	done   chan struct{}

	mu     sync.RWMutex
	status PlaybackStatus
}

// NewSpeaker creates a Speaker and starts its event loop.
func NewSpeaker(cfg SpeakerConfig) (*Speaker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	newProvider := cfg.NewProvider
	if newProvider == nil {
		newProvider = tts.New
	}

	s := &Speaker{
		cfg:         cfg,
		logger:      logger.With("component", "speaker"),
		player:      cfg.Player,
		newProvider: newProvider,
		metrics:     NewMetricsCollector(),
		events:      make(chan any, 16),
		done:        make(chan struct{}),
		status:      PlaybackStatus{State: PlaybackIdle},
	}
	go s.loop()
	return s, nil
}

// Request starts, toggles or replaces a speak session for messageID.
//
// If messageID matches the active session, the request is a toggle: playing
// pauses, paused resumes, generating cancels. Text and cfg are ignored on a
// toggle.
//
// Otherwise any current session is torn down and a new one starts for the
// trimmed text. Whitespace-only text is silently ignored. onError is called
// at most once if the new session later fails, before the speaker returns
// to idle; it runs on the event loop and must not block. The context covers
// the session's provider calls.
func (s *Speaker) Request(ctx context.Context, messageID, text string, cfg *tts.Config, onError func(error)) error {
	reply := make(chan error, 1)
	cmd := spkRequestCmd{
		ctx:       ctx,
		messageID: messageID,
		text:      text,
		cfg:       cfg,
		onError:   onError,
		reply:     reply,
	}
	select {
	case s.events <- cmd:
	case <-s.done:
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-s.done:
		return ErrClosed
	}
}

// Stop ends the active session: the synthesis job is canceled, playback
// stops and the clip queue is discarded without invoking the session's
// error handler. A non-blank messageID stops only a matching session;
// blank stops whatever is active. Safe to call in any state, any number
// of times.
func (s *Speaker) Stop(messageID string) {
	reply := make(chan struct{}, 1)
	select {
	case s.events <- spkStopCmd{messageID: messageID, reply: reply}:
	case <-s.done:
		return
	}
	select {
	case <-reply:
	case <-s.done:
	}
}

// Status returns the current status snapshot.
func (s *Speaker) Status() PlaybackStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Metrics returns the speaker's session metrics collector.
func (s *Speaker) Metrics() *MetricsCollector {
	return s.metrics
}

// Close stops any active session and shuts the event loop down. The player
// itself stays open; its owner closes it.
func (s *Speaker) Close() error {
	select {
	case s.events <- spkCloseCmd{}:
		<-s.done
	case <-s.done:
	}
	return nil
}

// post delivers a job event, dropping it if the loop has exited.
func (s *Speaker) post(ev any) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// Commands from public methods.
type spkRequestCmd struct {
	ctx       context.Context
	messageID string
	text      string
	cfg       *tts.Config
	onError   func(error)
	reply     chan error
}

type spkStopCmd struct {
	messageID string
	reply     chan struct{}
}

type spkCloseCmd struct{}

// Events from synthesis jobs. Every event names its job so the loop can
// drop late results from jobs it has already replaced; that check is the
// only place stale work is filtered.
type spkClipEv struct {
	job     string
	seq     int
	clip    []byte
	latency time.Duration
}

type spkJobDoneEv struct {
	job    string
	chunks int
}

type spkJobErrEv struct {
	job string
	err error
}

// speakSession is the loop's view of one speak session.
type speakSession struct {
	messageID string
	jobID     string
	cancel    context.CancelFunc
	onError   func(error)

	queue      [][]byte
	clipActive bool
	jobDone    bool
}

// speakerLoop holds the state owned by the event loop goroutine.
type speakerLoop struct {
	s     *Speaker
	cur   *speakSession
	state PlaybackState
}

func (s *Speaker) loop() {
	defer close(s.done)

	l := &speakerLoop{s: s, state: PlaybackIdle}
	for {
		select {
		case ev := <-s.events:
			switch ev := ev.(type) {
			case spkRequestCmd:
				l.handleRequest(ev)
			case spkStopCmd:
				l.handleStop(ev)
			case spkClipEv:
				l.handleClip(ev)
			case spkJobDoneEv:
				l.handleJobDone(ev)
			case spkJobErrEv:
				l.handleJobErr(ev)
			case spkCloseCmd:
				l.teardown()
				return
			}
		case ev := <-s.player.Events():
			l.handlePlayerEvent(ev)
		}
	}
}

func (l *speakerLoop) publish() {
	st := PlaybackStatus{State: l.state}
	if l.cur != nil {
		st.MessageID = l.cur.messageID
		st.QueuedClips = len(l.cur.queue)
	}
	l.s.mu.Lock()
	l.s.status = st
	l.s.mu.Unlock()
	if l.s.cfg.OnState != nil {
		l.s.cfg.OnState(st)
	}
}

func (l *speakerLoop) handleRequest(cmd spkRequestCmd) {
	if l.cur != nil && l.cur.messageID == cmd.messageID {
		l.toggle()
		cmd.reply <- nil
		return
	}

	l.teardown()

	text := strings.TrimSpace(cmd.text)
	if text == "" {
		l.s.logger.Debug("ignoring empty speak request", "message_id", cmd.messageID)
		cmd.reply <- nil
		return
	}

	jobCtx, cancel := context.WithCancel(context.Background())
	l.cur = &speakSession{
		messageID: cmd.messageID,
		jobID:     uuid.NewString(),
		cancel:    cancel,
		onError:   cmd.onError,
	}
	l.state = PlaybackGenerating
	l.s.metrics.MarkRequest(len(text))
	l.publish()
	l.s.logger.Info("speak requested",
		"message_id", cmd.messageID,
		"job", l.cur.jobID,
		"chars", len(text))

	go l.s.synthesize(jobCtx, cmd.ctx, l.cur.jobID, text, cmd.cfg)
	cmd.reply <- nil
}

// toggle handles a repeated request for the active message.
func (l *speakerLoop) toggle() {
	switch l.state {
	case PlaybackGenerating:
		l.s.logger.Info("speak toggled off during generation", "message_id", l.cur.messageID)
		l.teardown()
	case PlaybackPlaying:
		if err := l.s.player.Pause(); err != nil {
			l.s.logger.Warn("pause failed", "error", err)
			return
		}
		l.state = PlaybackPaused
		l.publish()
		l.s.logger.Info("playback paused", "message_id", l.cur.messageID)
	case PlaybackPaused:
		l.resume()
	}
}

// resume continues a paused session. If the active clip finished while
// paused, the next queued clip starts instead.
func (l *speakerLoop) resume() {
	s := l.cur
	if s.clipActive {
		if err := l.s.player.Resume(); err != nil {
			l.fail(err)
			return
		}
		l.state = PlaybackPlaying
		l.publish()
		l.s.logger.Info("playback resumed", "message_id", s.messageID)
		return
	}
	if next := l.popClip(); next != nil {
		l.startClip(next)
		return
	}
	if s.jobDone {
		l.complete()
		return
	}
	// Nothing queued yet; wait for synthesis in the playing state.
	l.state = PlaybackPlaying
	l.publish()
}

func (l *speakerLoop) popClip() []byte {
	s := l.cur
	if len(s.queue) == 0 {
		return nil
	}
	clip := s.queue[0]
	s.queue = s.queue[1:]
	return clip
}

// startClip loads and plays one clip. A decode failure funnels into the
// session error handler like any other session failure.
func (l *speakerLoop) startClip(clip []byte) {
	if err := l.s.player.Load(clip); err != nil {
		l.fail(err)
		return
	}
	if err := l.s.player.Play(); err != nil {
		l.fail(err)
		return
	}
	l.cur.clipActive = true
	l.state = PlaybackPlaying
	l.publish()
	l.s.logger.Debug("clip started",
		"message_id", l.cur.messageID,
		"queued", len(l.cur.queue))
}

func (l *speakerLoop) handleClip(ev spkClipEv) {
	if l.cur == nil || l.cur.jobID != ev.job {
		l.s.logger.Debug("discarding clip from replaced job", "job", ev.job, "seq", ev.seq)
		return
	}

	l.s.metrics.MarkClipSynthesized(ev.latency)
	l.cur.queue = append(l.cur.queue, ev.clip)

	switch l.state {
	case PlaybackGenerating:
		l.startClip(l.popClip())
	case PlaybackPlaying:
		if !l.cur.clipActive {
			l.startClip(l.popClip())
		} else {
			l.publish()
		}
	case PlaybackPaused:
		l.publish()
	}
}

func (l *speakerLoop) handleJobDone(ev spkJobDoneEv) {
	if l.cur == nil || l.cur.jobID != ev.job {
		return
	}
	l.cur.jobDone = true
	l.s.logger.Debug("synthesis job finished", "job", ev.job, "chunks", ev.chunks)
	if !l.cur.clipActive && len(l.cur.queue) == 0 && l.state != PlaybackPaused {
		l.complete()
	}
}

func (l *speakerLoop) handleJobErr(ev spkJobErrEv) {
	if l.cur == nil || l.cur.jobID != ev.job {
		l.s.logger.Debug("discarding error from replaced job", "job", ev.job)
		return
	}
	l.fail(ev.err)
}

func (l *speakerLoop) handlePlayerEvent(ev audio.Event) {
	if l.cur == nil {
		l.s.logger.Debug("player event with no session", "kind", ev.Kind)
		return
	}
	switch ev.Kind {
	case audio.EventDone:
		l.cur.clipActive = false
		l.s.metrics.MarkClipPlayed()
		if l.state == PlaybackPaused {
			// Finished just as the pause landed; resume picks up from
			// the queue.
			return
		}
		if next := l.popClip(); next != nil {
			l.startClip(next)
			return
		}
		if l.cur.jobDone {
			l.complete()
			return
		}
		// Queue is empty but synthesis is still running.
		l.publish()
		l.s.logger.Debug("waiting for next clip", "message_id", l.cur.messageID)
	case audio.EventError:
		l.cur.clipActive = false
		l.fail(ev.Err)
	}
}

func (l *speakerLoop) handleStop(cmd spkStopCmd) {
	defer func() { cmd.reply <- struct{}{} }()

	if cmd.messageID != "" && (l.cur == nil || l.cur.messageID != cmd.messageID) {
		l.s.logger.Debug("stop ignored, message not active", "message_id", cmd.messageID)
		return
	}
	if l.cur == nil {
		return
	}
	l.s.logger.Info("speak session stopped", "message_id", l.cur.messageID)
	l.teardown()
}

// complete ends a session that played everything it synthesized.
func (l *speakerLoop) complete() {
	s := l.cur
	l.s.metrics.MarkDone()
	l.s.logger.Info("speak session complete", "message_id", s.messageID)
	s.cancel()
	s.onError = nil
	l.cur = nil
	l.state = PlaybackIdle
	l.publish()
}

// fail invokes the session error handler exactly once, then tears the
// session down. Stopped and replaced sessions never reach here because
// their job events are dropped at the chokepoint.
func (l *speakerLoop) fail(err error) {
	s := l.cur
	l.s.logger.Error("speak session failed", "message_id", s.messageID, "error", err)
	if h := s.onError; h != nil {
		s.onError = nil
		h(err)
	}
	l.teardown()
}

// teardown cancels the synthesis job, stops playback and discards the
// queue. The error handler is cleared without being invoked.
func (l *speakerLoop) teardown() {
	if l.cur != nil {
		l.cur.cancel()
		l.cur.onError = nil
		l.cur = nil
	}
	l.s.player.Stop()

	// Once Stop returns, anything the old clip emitted is already in the
	// events buffer; drain it so it cannot be taken for a later clip.
	for {
		select {
		case <-l.s.player.Events():
		default:
			if l.state != PlaybackIdle {
				l.state = PlaybackIdle
				l.publish()
			}
			return
		}
	}
}

// synthesize is the job goroutine for one session. It packs the text to
// the backend's chunk limit and synthesizes the chunks strictly in order,
// posting each finished clip into the loop. jobCtx is the cancellation
// flag, checked between chunks; callCtx rides along on the provider calls
// themselves.
func (s *Speaker) synthesize(jobCtx, callCtx context.Context, jobID, text string, cfg *tts.Config) {
	p, err := s.newProvider(cfg)
	if err != nil {
		s.post(spkJobErrEv{job: jobID, err: err})
		return
	}
	defer p.Close()

	chunks := textchunk.Pack(text, p.MaxChunkChars())
	s.logger.Debug("synthesis job starting", "job", jobID, "chunks", len(chunks))

	for i, chunk := range chunks {
		if jobCtx.Err() != nil {
			s.logger.Debug("synthesis job canceled", "job", jobID, "synthesized", i)
			return
		}
		result, err := p.Synthesize(callCtx, chunk)
		if err != nil {
			s.post(spkJobErrEv{job: jobID, err: err})
			return
		}
		clip := result.Audio
		if result.Format.IsRawPCM() {
			clip = wav.WrapPCM16Mono(clip, result.Format.SampleRate)
		}
		s.post(spkClipEv{
			job:     jobID,
			seq:     i,
			clip:    clip,
			latency: time.Duration(result.LatencyMs) * time.Millisecond,
		})
	}
	s.post(spkJobDoneEv{job: jobID, chunks: len(chunks)})
}
