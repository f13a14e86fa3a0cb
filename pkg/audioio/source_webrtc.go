package audioio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	opus "gopkg.in/hraban/opus.v2"
)

const (
	// Opus always decodes at 48 kHz; chunks are resampled down to the
	// configured rate afterwards.
	webrtcDecodeRate = 48000

	// Largest Opus frame: 120 ms at 48 kHz.
	webrtcFrameMax = 5760

	webrtcHandshakeTimeout = 10 * time.Second
)

// WebRTCSource captures audio from a microphone on a remote device.
// The remote end advertises itself as a producer on a gst-webrtc style
// signalling server; the source negotiates a receive-only audio
// session and decodes the incoming Opus RTP stream to PCM16 at the
// configured sample rate. Config.Device selects the producer by its
// advertised name, Config.SignalURL points at the signalling server.
type WebRTCSource struct {
	cfg    Config
	logger *slog.Logger

	mu           sync.Mutex
	running      bool
	closed       bool
	trackStarted bool
	ws           *websocket.Conn
	pc           *webrtc.PeerConnection
	sessionID    string
	streamCh     chan AudioChunk
	errCh        chan error
	stopCh       chan struct{}

	wsMu sync.Mutex // serializes writes on the signalling socket

	// Stats
	chunksRead   atomic.Int64
	samplesRead  atomic.Int64
	overruns     atomic.Int64
	decodeErrors atomic.Int64
}

// signalMessage is the wire format of the signalling server.
type signalMessage struct {
	Type      string           `json:"type"`
	PeerID    string           `json:"peerId,omitempty"`
	SessionID string           `json:"sessionId,omitempty"`
	Producers []signalProducer `json:"producers,omitempty"`
	SDP       *signalSDP       `json:"sdp,omitempty"`
	ICE       *signalICE       `json:"ice,omitempty"`
}

type signalProducer struct {
	ID   string            `json:"id"`
	Meta map[string]string `json:"meta"`
}

type signalSDP struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type signalICE struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex"`
}

// NewWebRTCSource creates a new WebRTC audio source.
func NewWebRTCSource(cfg Config, logger *slog.Logger) (*WebRTCSource, error) {
	if cfg.SignalURL == "" {
		return nil, fmt.Errorf("webrtc source requires signal_url")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &WebRTCSource{
		cfg:      cfg,
		logger:   logger,
		streamCh: make(chan AudioChunk, 10),
		errCh:    make(chan error, 1),
		stopCh:   make(chan struct{}),
	}, nil
}

// Start connects to the signalling server, picks a producer and
// negotiates the audio session.
func (s *WebRTCSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: webrtcHandshakeTimeout}
	ws, _, err := dialer.DialContext(ctx, s.cfg.SignalURL, nil)
	if err != nil {
		return fmt.Errorf("dial signalling server: %w", err)
	}

	producerID, err := s.findProducer(ws)
	if err != nil {
		ws.Close()
		return err
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		ws.Close()
		return fmt.Errorf("create peer connection: %w", err)
	}

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		pc.Close()
		ws.Close()
		return fmt.Errorf("add audio transceiver: %w", err)
	}

	s.ws = ws
	s.pc = pc
	s.running = true
	s.trackStarted = false
	s.sessionID = ""
	s.stopCh = make(chan struct{})
	s.streamCh = make(chan AudioChunk, 10)
	s.errCh = make(chan error, 1)

	chunks := s.streamCh
	stop := s.stopCh

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if track.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}

		s.mu.Lock()
		if s.trackStarted || !s.running {
			s.mu.Unlock()
			return
		}
		s.trackStarted = true
		s.mu.Unlock()

		s.logger.Info("webrtc audio track connected", "codec", track.Codec().MimeType)
		go s.trackLoop(track, chunks, stop)
	})

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate != nil {
			s.sendICE(candidate)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.logger.Debug("webrtc connection state", "state", state.String())
	})

	if err := s.writeSignal(ws, signalMessage{Type: "startSession", PeerID: producerID}); err != nil {
		s.running = false
		pc.Close()
		ws.Close()
		return fmt.Errorf("start session: %w", err)
	}

	go s.signalLoop(ws, pc, stop)

	// If the session ends before a track ever shows up, nobody owns
	// the chunks channel yet; close it here so readers unblock.
	go func() {
		<-stop
		s.mu.Lock()
		started := s.trackStarted
		s.mu.Unlock()
		if !started {
			close(chunks)
		}
	}()

	s.logger.Info("webrtc source started",
		"signal_url", s.cfg.SignalURL,
		"producer", producerID,
		"sample_rate", s.cfg.SampleRate,
	)

	return nil
}

// findProducer performs the welcome/list handshake and resolves the
// producer to consume.
func (s *WebRTCSource) findProducer(ws *websocket.Conn) (string, error) {
	ws.SetReadDeadline(time.Now().Add(webrtcHandshakeTimeout))
	defer ws.SetReadDeadline(time.Time{})

	var welcome signalMessage
	if err := ws.ReadJSON(&welcome); err != nil {
		return "", fmt.Errorf("read welcome: %w", err)
	}

	if err := s.writeSignal(ws, signalMessage{Type: "list"}); err != nil {
		return "", fmt.Errorf("request producer list: %w", err)
	}

	var list signalMessage
	if err := ws.ReadJSON(&list); err != nil {
		return "", fmt.Errorf("read producer list: %w", err)
	}

	if len(list.Producers) == 0 {
		return "", fmt.Errorf("no producers advertised on %s", s.cfg.SignalURL)
	}

	if s.cfg.Device == "" {
		return list.Producers[0].ID, nil
	}
	for _, p := range list.Producers {
		if p.Meta["name"] == s.cfg.Device {
			return p.ID, nil
		}
	}
	return "", fmt.Errorf("producer %q not found", s.cfg.Device)
}

// signalLoop handles SDP and ICE exchange for the lifetime of the
// session.
func (s *WebRTCSource) signalLoop(ws *websocket.Conn, pc *webrtc.PeerConnection, stop chan struct{}) {
	for {
		var msg signalMessage
		if err := ws.ReadJSON(&msg); err != nil {
			select {
			case <-stop:
			default:
				s.fail(fmt.Errorf("signalling connection lost: %w", err))
			}
			return
		}

		switch msg.Type {
		case "sessionStarted":
			s.mu.Lock()
			s.sessionID = msg.SessionID
			s.mu.Unlock()
			s.logger.Debug("webrtc session started", "session_id", msg.SessionID)

		case "peer":
			if msg.SDP != nil && msg.SDP.Type == "offer" {
				s.answer(ws, pc, msg.SDP.SDP)
			}
			if msg.ICE != nil {
				if err := pc.AddICECandidate(webrtc.ICECandidateInit{
					Candidate:     msg.ICE.Candidate,
					SDPMid:        msg.ICE.SDPMid,
					SDPMLineIndex: msg.ICE.SDPMLineIndex,
				}); err != nil {
					s.logger.Warn("add ICE candidate", "error", err)
				}
			}

		case "endSession":
			s.fail(fmt.Errorf("producer ended the session"))
			return
		}
	}
}

// answer responds to the producer's SDP offer.
func (s *WebRTCSource) answer(ws *websocket.Conn, pc *webrtc.PeerConnection, sdp string) {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := pc.SetRemoteDescription(offer); err != nil {
		s.logger.Error("set remote description", "error", err)
		return
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		s.logger.Error("create answer", "error", err)
		return
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		s.logger.Error("set local description", "error", err)
		return
	}

	s.mu.Lock()
	sessionID := s.sessionID
	s.mu.Unlock()

	if err := s.writeSignal(ws, signalMessage{
		Type:      "peer",
		SessionID: sessionID,
		SDP:       &signalSDP{Type: answer.Type.String(), SDP: answer.SDP},
	}); err != nil {
		s.logger.Error("send answer", "error", err)
	}
}

func (s *WebRTCSource) sendICE(candidate *webrtc.ICECandidate) {
	init := candidate.ToJSON()

	s.mu.Lock()
	ws := s.ws
	sessionID := s.sessionID
	s.mu.Unlock()

	// Candidates gathered before the session is acknowledged are
	// dropped; the producer re-offers on its own trickle schedule.
	if ws == nil || sessionID == "" {
		return
	}

	if err := s.writeSignal(ws, signalMessage{
		Type:      "peer",
		SessionID: sessionID,
		ICE: &signalICE{
			Candidate:     init.Candidate,
			SDPMid:        init.SDPMid,
			SDPMLineIndex: init.SDPMLineIndex,
		},
	}); err != nil {
		s.logger.Warn("send ICE candidate", "error", err)
	}
}

func (s *WebRTCSource) writeSignal(ws *websocket.Conn, msg signalMessage) error {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	return ws.WriteJSON(msg)
}

// trackLoop owns the chunks channel once a track arrives and closes it
// when the track ends.
func (s *WebRTCSource) trackLoop(track *webrtc.TrackRemote, chunks chan AudioChunk, stop chan struct{}) {
	defer close(chunks)

	decoder, err := opus.NewDecoder(webrtcDecodeRate, 1)
	if err != nil {
		s.fail(fmt.Errorf("create opus decoder: %w", err))
		return
	}
	frameBuf := make([]int16, webrtcFrameMax)

	// pending holds decoded samples that do not yet fill a chunk.
	// It never outlives this track.
	var pending []int16

	for {
		select {
		case <-stop:
			return
		default:
		}

		pkt, _, err := track.ReadRTP()
		if err != nil {
			select {
			case <-stop:
			default:
				s.fail(fmt.Errorf("read audio track: %w", err))
			}
			return
		}

		pending = s.handlePacket(pkt, decoder, frameBuf, pending, chunks, stop)
	}
}

// handlePacket decodes one RTP packet and returns the updated carry.
func (s *WebRTCSource) handlePacket(pkt *rtp.Packet, decoder *opus.Decoder, frameBuf, pending []int16, chunks chan AudioChunk, stop chan struct{}) []int16 {
	n, err := decoder.Decode(pkt.Payload, frameBuf)
	if err != nil {
		count := s.decodeErrors.Add(1)
		if count <= 5 {
			s.logger.Warn("opus decode failed",
				"error", err,
				"payload_bytes", len(pkt.Payload),
				"seq", pkt.SequenceNumber,
			)
		}
		return pending
	}

	samples := frameBuf[:n]
	if s.cfg.SampleRate != webrtcDecodeRate {
		samples = Resample(samples, webrtcDecodeRate, s.cfg.SampleRate)
	}
	return s.emitChunks(samples, pending, chunks, stop)
}

// emitChunks folds samples into the carry buffer, sends every full
// chunk and returns the remainder. Chunks are dropped when the channel
// is full.
func (s *WebRTCSource) emitChunks(samples, pending []int16, chunks chan AudioChunk, stop chan struct{}) []int16 {
	pending = append(pending, samples...)

	chunkSamples := s.cfg.BufferSize() * s.cfg.Channels
	for len(pending) >= chunkSamples {
		out := make([]int16, chunkSamples)
		copy(out, pending[:chunkSamples])
		pending = pending[chunkSamples:]

		chunk := AudioChunk{
			Samples:    out,
			SampleRate: s.cfg.SampleRate,
			Channels:   s.cfg.Channels,
		}

		select {
		case chunks <- chunk:
			s.chunksRead.Add(1)
			s.samplesRead.Add(int64(chunkSamples))
		case <-stop:
			return pending
		default:
			s.overruns.Add(1)
			s.logger.Debug("webrtc source: buffer full, dropping chunk")
		}
	}
	return pending
}

// fail delivers a fatal capture error and tears the session down.
func (s *WebRTCSource) fail(err error) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	pc, ws := s.pc, s.ws
	errCh := s.errCh
	stop := s.stopCh
	s.mu.Unlock()

	select {
	case errCh <- err:
	default:
	}
	s.logger.Error("webrtc capture failed", "error", err)

	close(stop)
	if pc != nil {
		pc.Close()
	}
	if ws != nil {
		ws.Close()
	}
}

// Stop ends the session and disconnects from the signalling server.
func (s *WebRTCSource) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	pc, ws := s.pc, s.ws
	stop := s.stopCh
	s.mu.Unlock()

	close(stop)
	if pc != nil {
		pc.Close()
	}
	if ws != nil {
		ws.Close()
	}

	s.logger.Info("webrtc source stopped")

	return nil
}

// Read reads the next audio chunk.
func (s *WebRTCSource) Read(ctx context.Context) (AudioChunk, error) {
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
func (s *WebRTCSource) Stream() <-chan AudioChunk {
	return s.streamCh
}

// Errors returns the fatal capture error channel.
func (s *WebRTCSource) Errors() <-chan error {
	return s.errCh
}

// Config returns the audio configuration.
func (s *WebRTCSource) Config() Config {
	return s.cfg
}

// Name returns "webrtc".
func (s *WebRTCSource) Name() string {
	return "webrtc"
}

// Close releases resources.
func (s *WebRTCSource) Close() error {
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
func (s *WebRTCSource) Stats() SourceStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	return SourceStats{
		ChunksRead:  s.chunksRead.Load(),
		SamplesRead: s.samplesRead.Load(),
		Overruns:    s.overruns.Load(),
		Running:     running,
		Backend:     "webrtc",
	}
}

var _ SourceWithStats = (*WebRTCSource)(nil)
