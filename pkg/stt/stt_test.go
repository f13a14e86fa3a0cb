package stt

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/deskvox/voicepipe/pkg/provider"
)

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("Validate() = %v, want ErrNoAPIKey", err)
	}

	cfg.APIKey = "key"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		backend Backend
		want    string
		wantErr bool
	}{
		{"default backend", "", "*stt.OpenAI", false},
		{"openai", BackendOpenAI, "*stt.OpenAI", false},
		{"deepgram", BackendDeepgram, "*stt.Deepgram", false},
		{"unknown", Backend("hal9000"), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Backend = tt.backend
			cfg.APIKey = "key"

			p, err := New(cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("New() succeeded, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New() error: %v", err)
			}
			defer p.Close()

			switch p.(type) {
			case *OpenAI:
				if tt.want != "*stt.OpenAI" {
					t.Errorf("got OpenAI, want %s", tt.want)
				}
			case *Deepgram:
				if tt.want != "*stt.Deepgram" {
					t.Errorf("got Deepgram, want %s", tt.want)
				}
			}
		})
	}
}

func TestOpenAITranscribe(t *testing.T) {
	t.Run("sends multipart form and parses json", func(t *testing.T) {
		var gotPath, gotAuth string
		var gotForm map[string]string

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotAuth = r.Header.Get("Authorization")

			if err := r.ParseMultipartForm(1 << 20); err != nil {
				t.Errorf("parse multipart: %v", err)
			}
			gotForm = map[string]string{}
			for k, v := range r.MultipartForm.Value {
				gotForm[k] = v[0]
			}
			if _, ok := r.MultipartForm.File["file"]; !ok {
				t.Error("file part missing")
			}

			w.Write([]byte(`{"text":"  hello there  "}`))
		}))
		defer srv.Close()

		p, err := NewOpenAI(
			WithAPIKey("sk-test"),
			WithBaseURL(srv.URL),
			WithLanguage("de"),
			WithPrompt("jargon"),
			WithTemperature("0.3"),
		)
		if err != nil {
			t.Fatalf("NewOpenAI: %v", err)
		}
		defer p.Close()

		text, err := p.Transcribe(context.Background(), Request{Audio: []byte("fake-wav")})
		if err != nil {
			t.Fatalf("Transcribe: %v", err)
		}

		if text != "hello there" {
			t.Errorf("text = %q, want trimmed transcript", text)
		}
		if gotPath != "/audio/transcriptions" {
			t.Errorf("path = %q", gotPath)
		}
		if gotAuth != "Bearer sk-test" {
			t.Errorf("auth = %q", gotAuth)
		}
		if gotForm["model"] != "whisper-1" {
			t.Errorf("model = %q", gotForm["model"])
		}
		if gotForm["response_format"] != "json" {
			t.Errorf("response_format = %q", gotForm["response_format"])
		}
		if gotForm["language"] != "de" {
			t.Errorf("language = %q", gotForm["language"])
		}
		if gotForm["prompt"] != "jargon" {
			t.Errorf("prompt = %q", gotForm["prompt"])
		}
		if gotForm["temperature"] != "0.3" {
			t.Errorf("temperature = %q", gotForm["temperature"])
		}
	})

	t.Run("translate drops the language field", func(t *testing.T) {
		var gotPath string
		var hadLanguage bool

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			r.ParseMultipartForm(1 << 20)
			_, hadLanguage = r.MultipartForm.Value["language"]
			w.Write([]byte(`{"text":"hello"}`))
		}))
		defer srv.Close()

		p, err := NewOpenAI(WithAPIKey("sk-test"), WithBaseURL(srv.URL), WithLanguage("de"))
		if err != nil {
			t.Fatalf("NewOpenAI: %v", err)
		}
		defer p.Close()

		if _, err := p.Translate(context.Background(), Request{Audio: []byte("fake")}); err != nil {
			t.Fatalf("Translate: %v", err)
		}
		if gotPath != "/audio/translations" {
			t.Errorf("path = %q", gotPath)
		}
		if hadLanguage {
			t.Error("language field sent to translations endpoint")
		}
	})

	t.Run("empty audio fails without a request", func(t *testing.T) {
		p, err := NewOpenAI(WithAPIKey("sk-test"), WithBaseURL("http://127.0.0.1:0"))
		if err != nil {
			t.Fatalf("NewOpenAI: %v", err)
		}
		if _, err := p.Transcribe(context.Background(), Request{}); !errors.Is(err, ErrNoAudio) {
			t.Errorf("Transcribe(empty) = %v, want ErrNoAudio", err)
		}
	})

	t.Run("auth failure is distinguishable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":{"message":"Incorrect API key","code":"invalid_api_key"}}`))
		}))
		defer srv.Close()

		p, err := NewOpenAI(WithAPIKey("sk-bad"), WithBaseURL(srv.URL))
		if err != nil {
			t.Fatalf("NewOpenAI: %v", err)
		}

		_, err = p.Transcribe(context.Background(), Request{Audio: []byte("fake")})
		if !provider.IsAuth(err) {
			t.Fatalf("IsAuth(%v) = false, want true", err)
		}

		var apiErr *provider.APIError
		if !errors.As(err, &apiErr) {
			t.Fatal("APIError not in chain")
		}
		if apiErr.Code != "invalid_api_key" {
			t.Errorf("code = %q", apiErr.Code)
		}
	})

	t.Run("retries transient failures", func(t *testing.T) {
		var attempts atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if attempts.Add(1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			io.Copy(io.Discard, r.Body)
			w.Write([]byte(`{"text":"third time lucky"}`))
		}))
		defer srv.Close()

		p, err := NewOpenAI(
			WithAPIKey("sk-test"),
			WithBaseURL(srv.URL),
			WithRetry(2, time.Millisecond),
		)
		if err != nil {
			t.Fatalf("NewOpenAI: %v", err)
		}

		text, err := p.Transcribe(context.Background(), Request{Audio: []byte("fake")})
		if err != nil {
			t.Fatalf("Transcribe: %v", err)
		}
		if text != "third time lucky" {
			t.Errorf("text = %q", text)
		}
		if got := attempts.Load(); got != 3 {
			t.Errorf("attempts = %d, want 3", got)
		}
	})
}

func TestDeepgramTranscribe(t *testing.T) {
	t.Run("sends raw audio and parses the first alternative", func(t *testing.T) {
		var gotQuery, gotAuth, gotContentType string
		var gotBody []byte

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotQuery = r.URL.RawQuery
			gotAuth = r.Header.Get("Authorization")
			gotContentType = r.Header.Get("Content-Type")
			gotBody, _ = io.ReadAll(r.Body)
			w.Write([]byte(`{"results":{"channels":[{"alternatives":[{"transcript":" hi from deepgram ","confidence":0.98}]}]}}`))
		}))
		defer srv.Close()

		p, err := NewDeepgram(WithAPIKey("dg-key"), WithBaseURL(srv.URL), WithLanguage("en"))
		if err != nil {
			t.Fatalf("NewDeepgram: %v", err)
		}
		defer p.Close()

		text, err := p.Transcribe(context.Background(), Request{Audio: []byte("pcm-bytes")})
		if err != nil {
			t.Fatalf("Transcribe: %v", err)
		}

		if text != "hi from deepgram" {
			t.Errorf("text = %q", text)
		}
		if gotAuth != "Token dg-key" {
			t.Errorf("auth = %q", gotAuth)
		}
		if gotContentType != "audio/wav" {
			t.Errorf("content type = %q", gotContentType)
		}
		if string(gotBody) != "pcm-bytes" {
			t.Errorf("body = %q", gotBody)
		}
		if !strings.Contains(gotQuery, "model=nova-2") || !strings.Contains(gotQuery, "language=en") {
			t.Errorf("query = %q", gotQuery)
		}
	})

	t.Run("empty result set is an empty transcript", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"results":{"channels":[]}}`))
		}))
		defer srv.Close()

		p, err := NewDeepgram(WithAPIKey("dg-key"), WithBaseURL(srv.URL))
		if err != nil {
			t.Fatalf("NewDeepgram: %v", err)
		}

		text, err := p.Transcribe(context.Background(), Request{Audio: []byte("pcm")})
		if err != nil {
			t.Fatalf("Transcribe: %v", err)
		}
		if text != "" {
			t.Errorf("text = %q, want empty", text)
		}
	})

	t.Run("translation is unsupported", func(t *testing.T) {
		p, err := NewDeepgram(WithAPIKey("dg-key"))
		if err != nil {
			t.Fatalf("NewDeepgram: %v", err)
		}
		if _, err := p.Translate(context.Background(), Request{Audio: []byte("pcm")}); !errors.Is(err, ErrTranslationUnsupported) {
			t.Errorf("Translate() = %v, want ErrTranslationUnsupported", err)
		}
	})
}

func TestMock(t *testing.T) {
	t.Run("records calls", func(t *testing.T) {
		m := NewMock()

		text, err := m.Transcribe(context.Background(), Request{Audio: make([]byte, 64), MIMEType: "audio/wav"})
		if err != nil {
			t.Fatalf("Transcribe: %v", err)
		}
		if text != "mock transcript" {
			t.Errorf("text = %q", text)
		}

		if m.CallCount("Transcribe") != 1 {
			t.Errorf("CallCount = %d, want 1", m.CallCount("Transcribe"))
		}
		last := m.LastCall()
		if last == nil || last.AudioBytes != 64 {
			t.Errorf("LastCall = %+v", last)
		}

		m.Reset()
		if len(m.Calls()) != 0 {
			t.Error("Reset did not clear calls")
		}
	})

	t.Run("WithError fails everything", func(t *testing.T) {
		want := errors.New("boom")
		m := WithError(want)
		if _, err := m.Transcribe(context.Background(), Request{Audio: []byte("x")}); !errors.Is(err, want) {
			t.Errorf("Transcribe() = %v", err)
		}
		if err := m.Health(context.Background()); !errors.Is(err, want) {
			t.Errorf("Health() = %v", err)
		}
	})
}
