package web

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"github.com/deskvox/voicepipe/pkg/hub"
	"github.com/deskvox/voicepipe/pkg/stt"
	"github.com/deskvox/voicepipe/pkg/tts"
	"github.com/deskvox/voicepipe/pkg/voice"
)

type speakRequest struct {
	MessageID string `json:"message_id"`
	Text      string `json:"text"`
}

type messageRef struct {
	MessageID string `json:"message_id"`
}

func errorJSON(c *fiber.Ctx, status int, err error) error {
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

// coordinatorError maps coordinator failures onto HTTP statuses.
func coordinatorError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, voice.ErrPermissionDenied):
		return errorJSON(c, 403, err)
	case errors.Is(err, voice.ErrRecorderBusy),
		errors.Is(err, voice.ErrNotRecording),
		errors.Is(err, context.Canceled):
		return errorJSON(c, 409, err)
	case errors.Is(err, voice.ErrClosed):
		return errorJSON(c, 503, err)
	default:
		return errorJSON(c, 500, err)
	}
}

const healthCheckTimeout = 5 * time.Second

// healthChecker is the slice of a provider the live health check uses.
type healthChecker interface {
	Health(ctx context.Context) error
	Close() error
}

// handleHealth reports liveness and provider readiness. Readiness means
// the provider's configuration resolves from settings, nothing more.
// ?live=1 also round-trips each provider's health endpoint, which
// spends a real API call per provider.
func (s *Server) handleHealth(c *fiber.Ctx) error {
	st := s.snapshot()
	out := fiber.Map{
		"status":     "ok",
		"stt_ready":  st.STTReady,
		"tts_ready":  st.TTSReady,
		"ws_clients": s.stateHub.ClientCount(),
	}

	if c.QueryBool("live") {
		ctx, cancel := context.WithTimeout(c.UserContext(), healthCheckTimeout)
		defer cancel()
		out["stt_live"] = liveCheck(ctx, func() (healthChecker, error) {
			cfg, err := voice.ResolveSpeechToText(s.cfg.Settings)
			if err != nil {
				return nil, err
			}
			return stt.New(cfg)
		})
		out["tts_live"] = liveCheck(ctx, func() (healthChecker, error) {
			cfg, err := voice.ResolveTextToSpeech(s.cfg.Settings)
			if err != nil {
				return nil, err
			}
			return tts.New(cfg)
		})
	}

	return c.JSON(out)
}

// liveCheck reports "ok" when the provider builds and answers its
// health endpoint, otherwise the failure.
func liveCheck(ctx context.Context, build func() (healthChecker, error)) string {
	p, err := build()
	if err != nil {
		return err.Error()
	}
	defer p.Close()

	if err := p.Health(ctx); err != nil {
		return err.Error()
	}
	return "ok"
}

func (s *Server) handleState(c *fiber.Ctx) error {
	return c.JSON(s.snapshot())
}

// handleSpeak starts reading a message aloud. Provider configuration is
// resolved fresh for every request, so settings changes apply without a
// restart.
func (s *Server) handleSpeak(c *fiber.Ctx) error {
	var req speakRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, 400, err)
	}
	if strings.TrimSpace(req.Text) == "" {
		return errorJSON(c, 400, errors.New("text is required"))
	}
	id := req.MessageID
	if id == "" {
		id = uuid.NewString()
	}

	cfg, err := voice.ResolveTextToSpeech(s.cfg.Settings)
	if err != nil {
		return errorJSON(c, 503, err)
	}

	s.clearError()
	// The speak session outlives this HTTP request.
	if err := s.cfg.Speaker.Request(context.Background(), id, req.Text, cfg, s.noteSpeakError); err != nil {
		return coordinatorError(c, err)
	}
	return c.JSON(fiber.Map{
		"message_id": id,
		"playback":   s.cfg.Speaker.Status(),
	})
}

// handleSpeakToggle pauses or resumes the named message.
func (s *Server) handleSpeakToggle(c *fiber.Ctx) error {
	var req messageRef
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, 400, err)
	}
	if req.MessageID == "" {
		return errorJSON(c, 400, errors.New("message_id is required"))
	}
	if st := s.cfg.Speaker.Status(); st.State == voice.PlaybackIdle || st.MessageID != req.MessageID {
		return errorJSON(c, 409, errors.New("message is not active"))
	}

	// A repeat request with no text toggles the active message.
	if err := s.cfg.Speaker.Request(context.Background(), req.MessageID, "", nil, nil); err != nil {
		return coordinatorError(c, err)
	}
	return c.JSON(fiber.Map{"playback": s.cfg.Speaker.Status()})
}

// handleSpeakStop stops playback. A blank message_id stops whatever is
// active; a non-blank one only stops that message.
func (s *Server) handleSpeakStop(c *fiber.Ctx) error {
	var req messageRef
	c.BodyParser(&req) // empty body means stop unconditionally

	s.cfg.Speaker.Stop(req.MessageID)
	return c.JSON(fiber.Map{"playback": s.cfg.Speaker.Status()})
}

func (s *Server) handleRecordStart(c *fiber.Ctx) error {
	if err := s.cfg.Recorder.StartRecording(c.UserContext()); err != nil {
		return coordinatorError(c, err)
	}
	return c.JSON(fiber.Map{"recording": s.cfg.Recorder.Status()})
}

// handleRecordStop finishes the take and returns the transcript. The
// request blocks through transcription.
func (s *Server) handleRecordStop(c *fiber.Ctx) error {
	cfg, err := voice.ResolveSpeechToText(s.cfg.Settings)
	if err != nil {
		return errorJSON(c, 503, err)
	}

	text, err := s.cfg.Recorder.StopAndTranscribe(c.UserContext(), cfg)
	if err != nil {
		return coordinatorError(c, err)
	}
	s.setTranscript(text)
	return c.JSON(fiber.Map{"transcript": text})
}

func (s *Server) handleRecordCancel(c *fiber.Ctx) error {
	s.cfg.Recorder.CancelAndCleanup()
	return c.JSON(fiber.Map{"recording": s.cfg.Recorder.Status()})
}

// handleStateWS streams state snapshots. The current state goes out
// first, then every change broadcast through the hub.
func (s *Server) handleStateWS(c *websocket.Conn) {
	if data, err := json.Marshal(s.snapshot()); err == nil {
		c.WriteMessage(websocket.TextMessage, data)
	}
	client := hub.NewClient(s.stateHub, c)
	client.Run()
}
