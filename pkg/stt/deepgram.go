package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/deskvox/voicepipe/internal/httpc"
	"github.com/deskvox/voicepipe/pkg/provider"
)

const (
	deepgramBaseURL  = "https://api.deepgram.com"
	deepgramModel    = "nova-2"
	providerDeepgram = "stt.deepgram"
)

// Deepgram implements Provider using the Deepgram listen API.
type Deepgram struct {
	config  *Config
	client  *http.Client
	logger  *slog.Logger
	baseURL string
}

// NewDeepgram creates a new Deepgram transcription provider.
func NewDeepgram(opts ...Option) (*Deepgram, error) {
	cfg := DefaultConfig()
	cfg.Backend = BackendDeepgram
	cfg.Apply(opts...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Model == "" {
		cfg.Model = deepgramModel
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = deepgramBaseURL
	}

	return &Deepgram{
		config:  cfg,
		client:  httpc.NewClient(cfg.Timeout),
		logger:  cfg.Logger.With("component", "stt.deepgram"),
		baseURL: baseURL,
	}, nil
}

// Transcribe uploads audio and returns the transcript.
func (d *Deepgram) Transcribe(ctx context.Context, req Request) (string, error) {
	if len(req.Audio) == 0 {
		return "", provider.Wrap(providerDeepgram, ErrNoAudio)
	}
	req = d.config.request(req)

	start := time.Now()

	params := url.Values{}
	params.Set("model", d.config.Model)
	if req.Language != "" {
		params.Set("language", req.Language)
	}
	if req.Prompt != "" {
		// Deepgram spells vocabulary hints as keywords.
		params.Set("keywords", req.Prompt)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST",
		d.baseURL+"/v1/listen?"+params.Encode(), bytes.NewReader(req.Audio))
	if err != nil {
		return "", provider.Wrap(providerDeepgram, fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Authorization", "Token "+d.config.APIKey)
	httpReq.Header.Set("Content-Type", req.MIMEType)

	resp, err := d.doWithRetry(ctx, httpReq, req.Audio)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", d.parseError(resp)
	}

	var out struct {
		Results struct {
			Channels []struct {
				Alternatives []struct {
					Transcript string `json:"transcript"`
				} `json:"alternatives"`
			} `json:"channels"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", provider.Wrap(providerDeepgram, fmt.Errorf("decode response: %w", err))
	}

	text := ""
	if len(out.Results.Channels) > 0 && len(out.Results.Channels[0].Alternatives) > 0 {
		text = strings.TrimSpace(out.Results.Channels[0].Alternatives[0].Transcript)
	}

	d.logger.Debug("transcribed audio",
		"bytes", len(req.Audio),
		"chars", len(text),
		"latency_ms", time.Since(start).Milliseconds(),
		"model", d.config.Model,
	)

	return text, nil
}

// Translate is not offered by Deepgram.
func (d *Deepgram) Translate(ctx context.Context, req Request) (string, error) {
	return "", provider.Wrap(providerDeepgram, ErrTranslationUnsupported)
}

// Health checks API connectivity.
func (d *Deepgram) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", d.baseURL+"/v1/auth/token", nil)
	if err != nil {
		return provider.Wrap(providerDeepgram, err)
	}
	req.Header.Set("Authorization", "Token "+d.config.APIKey)

	resp, err := d.client.Do(req)
	if err != nil {
		return provider.Wrap(providerDeepgram, fmt.Errorf("health check: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return d.parseError(resp)
	}
	return nil
}

// Close releases resources.
func (d *Deepgram) Close() error {
	d.client.CloseIdleConnections()
	return nil
}

// doWithRetry performs the request with retry logic.
func (d *Deepgram) doWithRetry(ctx context.Context, req *http.Request, body []byte) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= d.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(d.config.RetryDelay * time.Duration(attempt)):
			}
			req.Body = io.NopCloser(bytes.NewReader(body))
		}

		resp, err := d.client.Do(req)
		if err != nil {
			lastErr = provider.Wrap(providerDeepgram, err)
			continue
		}

		if resp.StatusCode == 429 || resp.StatusCode >= 500 {
			lastErr = d.parseError(resp)
			d.logger.Warn("retrying request",
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
func (d *Deepgram) parseError(resp *http.Response) error {
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	var errResp struct {
		ErrCode string `json:"err_code"`
		ErrMsg  string `json:"err_msg"`
	}

	message := string(body)
	code := ""
	if json.Unmarshal(body, &errResp) == nil && errResp.ErrMsg != "" {
		message = errResp.ErrMsg
		code = errResp.ErrCode
	}

	return &provider.APIError{
		StatusCode: resp.StatusCode,
		Message:    message,
		Code:       code,
		Provider:   providerDeepgram,
	}
}

// Verify Deepgram implements Provider at compile time.
var _ Provider = (*Deepgram)(nil)
