package stt

import (
	"context"
	"sync"
	"time"

	"github.com/deskvox/voicepipe/pkg/provider"
)

// Mock implements Provider for testing.
// All methods can be customized via function fields.
type Mock struct {
	// TranscribeFunc is called when Transcribe is invoked.
	// If nil, returns a canned transcript.
	TranscribeFunc func(ctx context.Context, req Request) (string, error)

	// TranslateFunc is called when Translate is invoked.
	// If nil, returns a canned English transcript.
	TranslateFunc func(ctx context.Context, req Request) (string, error)

	// HealthFunc is called when Health is invoked.
	// If nil, returns nil (healthy).
	HealthFunc func(ctx context.Context) error

	// CloseFunc is called when Close is invoked.
	// If nil, returns nil.
	CloseFunc func() error

	// Tracking
	mu    sync.Mutex
	calls []MockCall
}

// MockCall records a method invocation for verification.
type MockCall struct {
	Method     string
	AudioBytes int
	MIMEType   string
	Language   string
	Time       time.Time
}

// NewMock creates a new mock provider with sensible defaults.
func NewMock() *Mock {
	return &Mock{
		TranscribeFunc: func(ctx context.Context, req Request) (string, error) {
			return "mock transcript", nil
		},
		TranslateFunc: func(ctx context.Context, req Request) (string, error) {
			return "mock translation", nil
		},
		HealthFunc: func(ctx context.Context) error {
			return nil
		},
	}
}

// Transcribe calls TranscribeFunc and records the call.
func (m *Mock) Transcribe(ctx context.Context, req Request) (string, error) {
	m.recordCall("Transcribe", req)
	if m.TranscribeFunc != nil {
		return m.TranscribeFunc(ctx, req)
	}
	return "", provider.Wrap("stt.mock", ErrNoAudio)
}

// Translate calls TranslateFunc and records the call.
func (m *Mock) Translate(ctx context.Context, req Request) (string, error) {
	m.recordCall("Translate", req)
	if m.TranslateFunc != nil {
		return m.TranslateFunc(ctx, req)
	}
	return "", provider.Wrap("stt.mock", ErrTranslationUnsupported)
}

// Health calls HealthFunc and records the call.
func (m *Mock) Health(ctx context.Context) error {
	m.recordCall("Health", Request{})
	if m.HealthFunc != nil {
		return m.HealthFunc(ctx)
	}
	return nil
}

// Close calls CloseFunc and records the call.
func (m *Mock) Close() error {
	m.recordCall("Close", Request{})
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// recordCall adds a call to the tracking list.
func (m *Mock) recordCall(method string, req Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{
		Method:     method,
		AudioBytes: len(req.Audio),
		MIMEType:   req.MIMEType,
		Language:   req.Language,
		Time:       time.Now(),
	})
}

// Calls returns all recorded method calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]MockCall, len(m.calls))
	copy(result, m.calls)
	return result
}

// CallCount returns the number of times a method was called.
func (m *Mock) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, c := range m.calls {
		if c.Method == method {
			count++
		}
	}
	return count
}

// LastCall returns the most recent call, or nil if none.
func (m *Mock) LastCall() *MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	call := m.calls[len(m.calls)-1]
	return &call
}

// Reset clears all recorded calls.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// WithError returns a mock whose methods all fail with err.
func WithError(err error) *Mock {
	return &Mock{
		TranscribeFunc: func(ctx context.Context, req Request) (string, error) {
			return "", err
		},
		TranslateFunc: func(ctx context.Context, req Request) (string, error) {
			return "", err
		},
		HealthFunc: func(ctx context.Context) error {
			return err
		},
	}
}

// WithLatency wraps a mock to add artificial latency.
func WithLatency(m *Mock, delay time.Duration) *Mock {
	originalTranscribe := m.TranscribeFunc
	m.TranscribeFunc = func(ctx context.Context, req Request) (string, error) {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
		if originalTranscribe != nil {
			return originalTranscribe(ctx, req)
		}
		return "", provider.Wrap("stt.mock", ErrNoAudio)
	}
	return m
}

// Verify Mock implements Provider at compile time.
var _ Provider = (*Mock)(nil)
