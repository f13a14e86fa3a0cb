// Package web serves the voicepipe dashboard: a small REST surface for
// driving the recorder and speaker, plus a websocket feed of state changes.
package web

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/deskvox/voicepipe/pkg/hub"
	"github.com/deskvox/voicepipe/pkg/settings"
	"github.com/deskvox/voicepipe/pkg/stt"
	"github.com/deskvox/voicepipe/pkg/tts"
	"github.com/deskvox/voicepipe/pkg/voice"
)

// Recorder is the slice of the recording coordinator the dashboard drives.
type Recorder interface {
	StartRecording(ctx context.Context) error
	StopAndTranscribe(ctx context.Context, cfg *stt.Config) (string, error)
	CancelAndCleanup()
	Status() voice.RecordingStatus
}

// Speaker is the slice of the playback coordinator the dashboard drives.
type Speaker interface {
	Request(ctx context.Context, messageID, text string, cfg *tts.Config, onError func(error)) error
	Stop(messageID string)
	Status() voice.PlaybackStatus
}

// State is the dashboard's composite view, served by /api/state and pushed
// over /ws/state whenever something changes.
type State struct {
	Recording      voice.RecordingStatus `json:"recording"`
	Playback       voice.PlaybackStatus  `json:"playback"`
	STTReady       bool                  `json:"stt_ready"`
	TTSReady       bool                  `json:"tts_ready"`
	LastTranscript string                `json:"last_transcript,omitempty"`
	LastError      string                `json:"last_error,omitempty"`
	SpeakStats     *SpeakStats           `json:"speak_stats,omitempty"`
}

// SpeakStats is the dashboard view of the most recent speak session's
// metrics.
type SpeakStats struct {
	FirstClipMs int64  `json:"first_clip_ms"`
	SynthMs     int64  `json:"synth_ms"`
	TotalMs     int64  `json:"total_ms"`
	Chunks      int    `json:"chunks"`
	Clips       int    `json:"clips"`
	Summary     string `json:"summary"`
}

// Config configures the dashboard server.
type Config struct {
	Recorder Recorder
	Speaker  Speaker
	Settings settings.Store

	// StaticDir, when set, is served at the site root.
	StaticDir string

	Logger *slog.Logger
}

// Server is the dashboard server.
type Server struct {
	cfg      Config
	logger   *slog.Logger
	app      *fiber.App
	stateHub *hub.Hub

	mu             sync.RWMutex
	lastTranscript string
	lastError      string
	speakStats     *SpeakStats
}

// NewServer builds the fiber app and its routes.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Recorder == nil || cfg.Speaker == nil || cfg.Settings == nil {
		return nil, errors.New("web: recorder, speaker and settings are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "web")

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		stateHub: hub.New("state", logger),
	}

	app := fiber.New(fiber.Config{
		AppName:               "voicepipe dashboard",
		DisableStartupMessage: true,
	})
	app.Use(cors.New())

	if cfg.StaticDir != "" {
		app.Static("/", cfg.StaticDir)
	}

	api := app.Group("/api")
	api.Get("/health", s.handleHealth)
	api.Get("/state", s.handleState)
	api.Post("/speak", s.handleSpeak)
	api.Post("/speak/toggle", s.handleSpeakToggle)
	api.Post("/speak/stop", s.handleSpeakStop)
	api.Post("/record/start", s.handleRecordStart)
	api.Post("/record/stop", s.handleRecordStop)
	api.Post("/record/cancel", s.handleRecordCancel)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/state", websocket.New(s.handleStateWS))

	s.app = app
	return s, nil
}

// Start runs the broadcast hub and serves on addr. It blocks until the
// server stops.
func (s *Server) Start(addr string) error {
	go s.stateHub.Run()
	s.logger.Info("dashboard listening", "addr", addr)
	return s.app.Listen(addr)
}

// Shutdown stops the server and disconnects websocket subscribers.
func (s *Server) Shutdown() error {
	err := s.app.Shutdown()
	s.stateHub.Stop()
	return err
}

// Publish pushes the current state snapshot to websocket subscribers.
// Wire it to the coordinators' OnState callbacks so every transition
// lands on the dashboard.
func (s *Server) Publish() {
	s.stateHub.BroadcastJSON(s.snapshot())
}

func (s *Server) snapshot() State {
	st := State{
		Recording: s.cfg.Recorder.Status(),
		Playback:  s.cfg.Speaker.Status(),
	}
	if _, err := voice.ResolveSpeechToText(s.cfg.Settings); err == nil {
		st.STTReady = true
	}
	if _, err := voice.ResolveTextToSpeech(s.cfg.Settings); err == nil {
		st.TTSReady = true
	}
	s.mu.RLock()
	st.LastTranscript = s.lastTranscript
	st.LastError = s.lastError
	st.SpeakStats = s.speakStats
	s.mu.RUnlock()
	return st
}

// NoteSpeakMetrics records speak session metrics for the state view. Wire
// it to the speaker's metrics OnUpdate callback.
func (s *Server) NoteSpeakMetrics(m voice.SessionMetrics) {
	stats := &SpeakStats{
		FirstClipMs: m.TimeToFirstClip.Milliseconds(),
		SynthMs:     m.SynthLatency.Milliseconds(),
		TotalMs:     m.TotalDuration.Milliseconds(),
		Chunks:      m.ChunksSynthesized,
		Clips:       m.ClipsPlayed,
		Summary:     m.Summary(),
	}
	s.mu.Lock()
	s.speakStats = stats
	s.mu.Unlock()
	s.Publish()
}

func (s *Server) setTranscript(text string) {
	s.mu.Lock()
	s.lastTranscript = text
	s.mu.Unlock()
	s.Publish()
}

// noteSpeakError is handed to the speaker as the per-session error
// handler. It must not block; the broadcast path drops rather than waits.
func (s *Server) noteSpeakError(err error) {
	s.mu.Lock()
	s.lastError = err.Error()
	s.mu.Unlock()
	s.logger.Error("speak session failed", "error", err)
	s.Publish()
}

func (s *Server) clearError() {
	s.mu.Lock()
	s.lastError = ""
	s.mu.Unlock()
}
