package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/deskvox/voicepipe/internal/httpc"
	"github.com/deskvox/voicepipe/pkg/provider"
)

const (
	openAIBaseURL  = "https://api.openai.com/v1"
	openAIModel    = "whisper-1"
	providerOpenAI = "stt.openai"
)

// OpenAI implements Provider using the Whisper API.
type OpenAI struct {
	config  *Config
	client  *http.Client
	logger  *slog.Logger
	baseURL string
}

// NewOpenAI creates a new Whisper transcription provider.
func NewOpenAI(opts ...Option) (*OpenAI, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Model == "" {
		cfg.Model = openAIModel
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = openAIBaseURL
	}

	return &OpenAI{
		config:  cfg,
		client:  httpc.NewClient(cfg.Timeout),
		logger:  cfg.Logger.With("component", "stt.openai"),
		baseURL: baseURL,
	}, nil
}

// Transcribe uploads audio and returns the transcript.
func (o *OpenAI) Transcribe(ctx context.Context, req Request) (string, error) {
	return o.recognize(ctx, req, "/audio/transcriptions", true)
}

// Translate uploads audio and returns an English transcript.
func (o *OpenAI) Translate(ctx context.Context, req Request) (string, error) {
	// The translations endpoint rejects a language field: output is
	// always English.
	return o.recognize(ctx, req, "/audio/translations", false)
}

func (o *OpenAI) recognize(ctx context.Context, req Request, path string, withLanguage bool) (string, error) {
	if len(req.Audio) == 0 {
		return "", provider.Wrap(providerOpenAI, ErrNoAudio)
	}
	req = o.config.request(req)

	start := time.Now()

	body, contentType, err := o.buildForm(req, withLanguage)
	if err != nil {
		return "", provider.Wrap(providerOpenAI, fmt.Errorf("build form: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", o.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return "", provider.Wrap(providerOpenAI, fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Authorization", "Bearer "+o.config.APIKey)
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := o.doWithRetry(ctx, httpReq, body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", o.parseError(resp)
	}

	text, err := parseTranscript(resp.Body, req.ResponseFormat)
	if err != nil {
		return "", provider.Wrap(providerOpenAI, err)
	}

	o.logger.Debug("transcribed audio",
		"bytes", len(req.Audio),
		"chars", len(text),
		"latency_ms", time.Since(start).Milliseconds(),
		"model", o.config.Model,
	)

	return text, nil
}

// buildForm assembles the multipart request body.
func (o *OpenAI) buildForm(req Request, withLanguage bool) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", fileNameFor(req.MIMEType))
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(req.Audio); err != nil {
		return nil, "", err
	}

	fields := map[string]string{
		"model":           o.config.Model,
		"response_format": req.ResponseFormat,
		"prompt":          req.Prompt,
		"temperature":     req.Temperature,
	}
	if fields["response_format"] == "" {
		fields["response_format"] = "json"
	}
	if withLanguage {
		fields["language"] = req.Language
	}
	for name, value := range fields {
		if value == "" {
			continue
		}
		if err := w.WriteField(name, value); err != nil {
			return nil, "", err
		}
	}
	for _, g := range strings.Split(req.TimestampGranularities, ",") {
		if g = strings.TrimSpace(g); g != "" {
			if err := w.WriteField("timestamp_granularities[]", g); err != nil {
				return nil, "", err
			}
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

// Health checks API connectivity.
func (o *OpenAI) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", o.baseURL+"/models", nil)
	if err != nil {
		return provider.Wrap(providerOpenAI, err)
	}
	req.Header.Set("Authorization", "Bearer "+o.config.APIKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return provider.Wrap(providerOpenAI, fmt.Errorf("health check: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return o.parseError(resp)
	}
	return nil
}

// Close releases resources.
func (o *OpenAI) Close() error {
	o.client.CloseIdleConnections()
	return nil
}

// doWithRetry performs the request with retry logic.
func (o *OpenAI) doWithRetry(ctx context.Context, req *http.Request, body []byte) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= o.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(o.config.RetryDelay * time.Duration(attempt)):
			}
			req.Body = io.NopCloser(bytes.NewReader(body))
		}

		resp, err := o.client.Do(req)
		if err != nil {
			lastErr = provider.Wrap(providerOpenAI, err)
			continue
		}

		if resp.StatusCode == 429 || resp.StatusCode >= 500 {
			lastErr = o.parseError(resp)
			o.logger.Warn("retrying request",
				"attempt", attempt+1,
				"status", resp.StatusCode,
			)
			continue
		}

		return resp, nil
	}

	return nil, lastErr
}

// parseError reads and parses an error response.
func (o *OpenAI) parseError(resp *http.Response) error {
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    string `json:"code"`
		} `json:"error"`
	}

	message := string(body)
	code := ""
	if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
		code = errResp.Error.Code
	}

	return &provider.APIError{
		StatusCode: resp.StatusCode,
		Message:    message,
		Code:       code,
		Provider:   providerOpenAI,
	}
}

// parseTranscript extracts the transcript for the given response format.
func parseTranscript(r io.Reader, format string) (string, error) {
	switch format {
	case "", "json", "verbose_json":
		var out struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(r).Decode(&out); err != nil {
			return "", fmt.Errorf("decode response: %w", err)
		}
		return strings.TrimSpace(out.Text), nil
	default:
		raw, err := io.ReadAll(r)
		if err != nil {
			return "", fmt.Errorf("read response: %w", err)
		}
		return strings.TrimSpace(string(raw)), nil
	}
}

// fileNameFor maps a MIME type to the upload file name Whisper expects.
func fileNameFor(mimeType string) string {
	switch mimeType {
	case "audio/mpeg", "audio/mp3":
		return "audio.mp3"
	case "audio/mp4", "audio/m4a":
		return "audio.m4a"
	case "audio/webm":
		return "audio.webm"
	case "audio/ogg":
		return "audio.ogg"
	default:
		return "audio.wav"
	}
}

// Verify OpenAI implements Provider at compile time.
var _ Provider = (*OpenAI)(nil)
