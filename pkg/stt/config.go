package stt

import (
	"log/slog"
	"time"
)

// Config holds transcription provider configuration.
type Config struct {
	// Backend selects the provider implementation.
	Backend Backend

	// APIKey is the provider credential. Required.
	APIKey string

	// BaseURL overrides the provider API endpoint. Blank uses the
	// per-backend default.
	BaseURL string

	// Model is the recognition model. Blank uses the backend default
	// (whisper-1, nova-2).
	Model string

	// Language, Prompt, ResponseFormat, Temperature and
	// TimestampGranularities are optional request tunables, carried
	// verbatim; blank means unset.
	Language               string
	Prompt                 string
	ResponseFormat         string
	Temperature            string
	TimestampGranularities string

	// Translate requests English output instead of native-language
	// transcription.
	Translate bool

	// Timeout bounds one provider call, upload included.
	Timeout time.Duration

	// MaxRetries is the retry count for transient failures.
	MaxRetries int

	// RetryDelay is the base delay between retries.
	RetryDelay time.Duration

	// Logger receives debug output. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Backend:    DefaultBackend,
		Timeout:    60 * time.Second,
		MaxRetries: 2,
		RetryDelay: 100 * time.Millisecond,
		Logger:     slog.Default(),
	}
}

// Option configures a Config.
type Option func(*Config)

// Apply applies options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks that required fields are set.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return ErrNoAPIKey
	}
	return nil
}

// request fills request fields left blank by the caller from the config.
func (c *Config) request(req Request) Request {
	if req.MIMEType == "" {
		req.MIMEType = "audio/wav"
	}
	if req.Language == "" {
		req.Language = c.Language
	}
	if req.Prompt == "" {
		req.Prompt = c.Prompt
	}
	if req.ResponseFormat == "" {
		req.ResponseFormat = c.ResponseFormat
	}
	if req.Temperature == "" {
		req.Temperature = c.Temperature
	}
	if req.TimestampGranularities == "" {
		req.TimestampGranularities = c.TimestampGranularities
	}
	return req
}

// WithBackend sets the provider backend.
func WithBackend(b Backend) Option {
	return func(c *Config) { c.Backend = b }
}

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(c *Config) { c.APIKey = key }
}

// WithBaseURL overrides the API endpoint.
func WithBaseURL(url string) Option {
	return func(c *Config) { c.BaseURL = url }
}

// WithModel sets the recognition model.
func WithModel(model string) Option {
	return func(c *Config) { c.Model = model }
}

// WithLanguage sets the expected spoken language.
func WithLanguage(lang string) Option {
	return func(c *Config) { c.Language = lang }
}

// WithPrompt sets the recognition prompt.
func WithPrompt(prompt string) Option {
	return func(c *Config) { c.Prompt = prompt }
}

// WithResponseFormat sets the response transport shape.
func WithResponseFormat(format string) Option {
	return func(c *Config) { c.ResponseFormat = format }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(temp string) Option {
	return func(c *Config) { c.Temperature = temp }
}

// WithTimestampGranularities sets the timestamp granularity list.
func WithTimestampGranularities(granularities string) Option {
	return func(c *Config) { c.TimestampGranularities = granularities }
}

// WithTranslation requests English output.
func WithTranslation(translate bool) Option {
	return func(c *Config) { c.Translate = translate }
}

// WithTimeout sets the per-call timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) { c.Timeout = timeout }
}

// WithRetry sets the retry policy.
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(c *Config) {
		c.MaxRetries = maxRetries
		c.RetryDelay = delay
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

// withConfig replaces the whole config. Used by the New factory.
func withConfig(cfg *Config) Option {
	return func(c *Config) { *c = *cfg }
}
