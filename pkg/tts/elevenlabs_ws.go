package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/deskvox/voicepipe/pkg/provider"
)

const (
	elevenLabsWSBaseURL  = "wss://api.elevenlabs.io/v1"
	providerElevenLabsWS = "tts.elevenlabs_ws"
	wsHandshakeTimeout   = 10 * time.Second
)

// ElevenLabsWS implements Provider over the ElevenLabs streaming WebSocket.
//
// Each Synthesize call opens one socket, sends the whole text, and collects
// every audio frame before returning, so the result is a discrete buffer just
// like the REST provider's. The socket endpoint starts generating before the
// full request is processed, which lowers time-to-first-byte on long chunks.
type ElevenLabsWS struct {
	config  *Config
	rest    *ElevenLabs // REST sibling for health checks
	logger  *slog.Logger
	baseURL string
	dialer  websocket.Dialer
}

// NewElevenLabsWS creates a WebSocket-based ElevenLabs TTS provider.
func NewElevenLabsWS(opts ...Option) (*ElevenLabsWS, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	rest, err := NewElevenLabs(withConfig(cfg))
	if err != nil {
		return nil, err
	}

	return &ElevenLabsWS{
		config:  rest.config,
		rest:    rest,
		logger:  rest.config.Logger.With("component", "tts.elevenlabs_ws"),
		baseURL: wsBaseURL(cfg.BaseURL),
		dialer:  websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout},
	}, nil
}

// wsBaseURL derives the WebSocket endpoint from an HTTP base URL override.
func wsBaseURL(httpBase string) string {
	base := strings.TrimSuffix(httpBase, "/")
	switch {
	case base == "":
		return elevenLabsWSBaseURL
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}

// Synthesize converts text to audio over a dedicated socket.
func (e *ElevenLabsWS) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	if text == "" {
		return nil, provider.Wrap(providerElevenLabsWS, ErrNoText)
	}

	start := time.Now()

	conn, err := e.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	// Close the socket when the context ends so blocked reads unwind.
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	defer close(done)

	if err := e.sendText(conn, text); err != nil {
		return nil, err
	}

	audio, err := e.collectAudio(ctx, conn)
	if err != nil {
		return nil, err
	}

	latency := time.Since(start).Milliseconds()

	e.logger.Debug("synthesized audio",
		"chars", len(text),
		"bytes", len(audio),
		"latency_ms", latency,
		"model", e.config.ModelID,
	)

	format := e.outputFormat()
	return &AudioResult{
		Audio:     audio,
		Format:    format,
		CharCount: len(text),
		LatencyMs: latency,
		Duration:  estimatePCMDuration(len(audio), format),
	}, nil
}

// Stream synthesizes the full text and replays it as a single-chunk stream.
// The socket delivers frames faster than playback consumes them, so buffering
// keeps clips discrete without hurting perceived latency.
func (e *ElevenLabsWS) Stream(ctx context.Context, text string) (AudioStream, error) {
	result, err := e.Synthesize(ctx, text)
	if err != nil {
		return nil, err
	}
	return &bufferStream{data: result.Audio, format: result.Format}, nil
}

// MaxChunkChars returns the per-request input cap.
func (e *ElevenLabsWS) MaxChunkChars() int {
	return MaxChunkCharsElevenLabs
}

// Health checks API connectivity via the REST endpoint.
func (e *ElevenLabsWS) Health(ctx context.Context) error {
	return e.rest.Health(ctx)
}

// Close releases resources held by the provider.
func (e *ElevenLabsWS) Close() error {
	return e.rest.Close()
}

// VoiceID returns the configured voice ID.
func (e *ElevenLabsWS) VoiceID() string {
	return e.config.VoiceID
}

// dial opens the stream-input socket for the configured voice.
func (e *ElevenLabsWS) dial(ctx context.Context) (*websocket.Conn, error) {
	url := fmt.Sprintf("%s/text-to-speech/%s/stream-input?model_id=%s&output_format=%s",
		e.baseURL, e.config.VoiceID, e.config.ModelID, e.config.OutputFormat)
	if e.config.StreamingLatency != "" {
		url += "&optimize_streaming_latency=" + e.config.StreamingLatency
	}

	headers := http.Header{}
	headers.Set("xi-api-key", e.config.APIKey)

	conn, resp, err := e.dialer.DialContext(ctx, url, headers)
	if err != nil {
		if resp != nil {
			return nil, provider.Wrap(providerElevenLabsWS,
				fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err))
		}
		return nil, provider.Wrap(providerElevenLabsWS, fmt.Errorf("websocket dial failed: %w", err))
	}

	return conn, nil
}

// sendText writes the BOS message, the text, and the EOS marker.
func (e *ElevenLabsWS) sendText(conn *websocket.Conn, text string) error {
	// BOS primes the voice before any real text
	bos := map[string]interface{}{
		"text": " ",
		"voice_settings": map[string]interface{}{
			"stability":        e.config.VoiceSettings.Stability,
			"similarity_boost": e.config.VoiceSettings.SimilarityBoost,
		},
		"generation_config": map[string]interface{}{
			"chunk_length_schedule": []int{120, 160, 250, 290},
		},
	}
	if err := conn.WriteJSON(bos); err != nil {
		return provider.Wrap(providerElevenLabsWS, fmt.Errorf("send BOS: %w", err))
	}

	msg := map[string]interface{}{
		"text":                   text + " ",
		"try_trigger_generation": true,
	}
	if err := conn.WriteJSON(msg); err != nil {
		return provider.Wrap(providerElevenLabsWS, fmt.Errorf("send text: %w", err))
	}

	// Empty text is the EOS marker
	eos := map[string]interface{}{"text": ""}
	if err := conn.WriteJSON(eos); err != nil {
		return provider.Wrap(providerElevenLabsWS, fmt.Errorf("send EOS: %w", err))
	}

	return nil
}

// collectAudio reads frames until the server marks the stream final.
func (e *ElevenLabsWS) collectAudio(ctx context.Context, conn *websocket.Conn) ([]byte, error) {
	var audio []byte

	for {
		conn.SetReadDeadline(time.Now().Add(e.config.StreamTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return audio, nil
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, provider.Wrap(providerElevenLabsWS, fmt.Errorf("read frame: %w", err))
		}

		var frame struct {
			Audio   string `json:"audio"`
			IsFinal bool   `json:"isFinal"`
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(message, &frame); err != nil {
			e.logger.Warn("unparseable frame", "error", err)
			continue
		}

		if frame.Error != "" {
			return nil, provider.Wrap(providerElevenLabsWS,
				fmt.Errorf("server error %s: %s", frame.Error, frame.Message))
		}

		if frame.Audio != "" {
			data, err := base64.StdEncoding.DecodeString(frame.Audio)
			if err != nil {
				return nil, provider.Wrap(providerElevenLabsWS, fmt.Errorf("decode audio frame: %w", err))
			}
			audio = append(audio, data...)
		}

		if frame.IsFinal {
			return audio, nil
		}
	}
}

// outputFormat returns the audio format configuration.
func (e *ElevenLabsWS) outputFormat() AudioFormat {
	return AudioFormat{
		Encoding:   e.config.OutputFormat,
		SampleRate: SampleRateFromEncoding(e.config.OutputFormat),
		Channels:   1,
		BitDepth:   16,
	}
}

// Verify ElevenLabsWS implements Provider at compile time.
var _ Provider = (*ElevenLabsWS)(nil)
