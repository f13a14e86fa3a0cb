package settings

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestMap(t *testing.T) {
	m := Map{"stt_backend": "openai"}
	if got := m.Get("stt_backend"); got != "openai" {
		t.Errorf("Get() = %q, want openai", got)
	}
	if got := m.Get("missing"); got != "" {
		t.Errorf("Get(missing) = %q, want blank", got)
	}
}

func TestEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	if got := (Env{}).Get("openai_api_key"); got != "sk-test" {
		t.Errorf("Get() = %q, want sk-test", got)
	}
}

func TestOverlay(t *testing.T) {
	s := Overlay(
		Map{"a": "", "b": "first"},
		Map{"a": "fallback", "b": "second"},
	)
	if got := s.Get("a"); got != "fallback" {
		t.Errorf("blank value should fall through, got %q", got)
	}
	if got := s.Get("b"); got != "first" {
		t.Errorf("first store should win, got %q", got)
	}
	if got := s.Get("c"); got != "" {
		t.Errorf("Get(missing) = %q, want blank", got)
	}
}

func TestFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")

	write := func(content string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	t.Run("loads and coerces scalars", func(t *testing.T) {
		write("openai_api_key: sk-abc\ntts_speed: 1.2\nstt_timestamps: true\nempty_key:\n")

		f, err := Open(path, nil)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		if got := f.Get("openai_api_key"); got != "sk-abc" {
			t.Errorf("openai_api_key = %q", got)
		}
		if got := f.Get("tts_speed"); got != "1.2" {
			t.Errorf("tts_speed = %q, want 1.2", got)
		}
		if got := f.Get("stt_timestamps"); got != "true" {
			t.Errorf("stt_timestamps = %q, want true", got)
		}
		if got := f.Get("empty_key"); got != "" {
			t.Errorf("empty_key = %q, want blank", got)
		}
	})

	t.Run("reload picks up edits", func(t *testing.T) {
		write("tts_backend: openai\n")
		f, err := Open(path, nil)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}

		write("tts_backend: elevenlabs\n")
		if err := f.Reload(); err != nil {
			t.Fatalf("Reload: %v", err)
		}
		if got := f.Get("tts_backend"); got != "elevenlabs" {
			t.Errorf("tts_backend = %q, want elevenlabs", got)
		}
	})

	t.Run("missing file errors", func(t *testing.T) {
		if _, err := Open(filepath.Join(dir, "nope.yaml"), nil); err == nil {
			t.Fatal("Open(missing) should fail")
		}
	})

	t.Run("watch reloads on write", func(t *testing.T) {
		write("voice_id: alpha\n")
		f, err := Open(path, nil)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go f.Watch(ctx)

		// Give the watcher a moment to register before writing.
		time.Sleep(100 * time.Millisecond)
		write("voice_id: beta\n")

		deadline := time.Now().Add(3 * time.Second)
		for time.Now().Before(deadline) {
			if f.Get("voice_id") == "beta" {
				return
			}
			time.Sleep(20 * time.Millisecond)
		}
		t.Fatalf("voice_id = %q, want beta after watch reload", f.Get("voice_id"))
	})
}
