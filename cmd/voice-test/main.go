// Command voice-test exercises both voice pipelines end to end without
// the dashboard: a speak round (chunk, synthesize, play) and a record
// round (capture, encode, transcribe).
//
// Usage:
//
//	go run ./cmd/voice-test -mock
//	go run ./cmd/voice-test -text "Read this back to me" -record 5s
//
// With -mock every device and provider is an in-process fake, so a run
// needs no hardware and no credentials. Otherwise providers resolve from
// environment variables (OPENAI_API_KEY and friends) and audio uses the
// platform backend.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/deskvox/voicepipe/internal/log"
	"github.com/deskvox/voicepipe/pkg/audio"
	"github.com/deskvox/voicepipe/pkg/audioio"
	"github.com/deskvox/voicepipe/pkg/settings"
	"github.com/deskvox/voicepipe/pkg/stt"
	"github.com/deskvox/voicepipe/pkg/tts"
	"github.com/deskvox/voicepipe/pkg/voice"
)

func main() {
	mock := flag.Bool("mock", false, "Use in-process fakes for devices and providers")
	text := flag.String("text", "Voicepipe is up. This is the readback path speaking.", "Text for the speak round")
	record := flag.Duration("record", 3*time.Second, "Recording duration; 0 skips the record round")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	level := "info"
	if *debug {
		level = "debug"
	}
	log.Init(level)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	fmt.Println("🎤 Voicepipe round trip")
	fmt.Println("=======================")

	if err := runSpeak(ctx, *mock, *text); err != nil {
		fmt.Printf("❌ Speak round: %v\n", err)
		os.Exit(1)
	}

	if *record > 0 {
		if err := runRecord(ctx, *mock, *record); err != nil {
			fmt.Printf("❌ Record round: %v\n", err)
			os.Exit(1)
		}
	}

	fmt.Println("✅ Done")
}

func runSpeak(ctx context.Context, mock bool, text string) error {
	logger := log.L()

	audioCfg := audioio.DefaultConfig()
	if mock {
		audioCfg.Backend = audioio.BackendMock
	}
	sink, err := audioio.NewSink(audioCfg, logger)
	if err != nil {
		return err
	}
	defer sink.Close()

	if err := sink.Start(ctx); err != nil {
		return err
	}

	player := audio.NewSinkPlayer(sink, logger)
	defer player.Close()

	idle := make(chan struct{}, 1)
	cfg := voice.SpeakerConfig{
		Player: player,
		Logger: logger,
		OnState: func(st voice.PlaybackStatus) {
			if st.State == voice.PlaybackIdle {
				select {
				case idle <- struct{}{}:
				default:
				}
			}
		},
	}

	var ttsCfg *tts.Config
	if mock {
		cfg.NewProvider = func(*tts.Config) (tts.Provider, error) { return tts.NewMock(), nil }
		ttsCfg = tts.DefaultConfig()
	} else {
		ttsCfg, err = voice.ResolveTextToSpeech(settings.Env{})
		if err != nil {
			return err
		}
	}

	speaker, err := voice.NewSpeaker(cfg)
	if err != nil {
		return err
	}
	defer speaker.Close()

	fmt.Printf("🔊 Speaking %d chars...\n", len(text))
	errCh := make(chan error, 1)
	if err := speaker.Request(ctx, "voice-test", text, ttsCfg, func(err error) { errCh <- err }); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		speaker.Stop("voice-test")
		return ctx.Err()
	case <-idle:
	}

	// The error handler runs before the session goes idle, so a failure
	// is already buffered here.
	select {
	case err := <-errCh:
		return err
	default:
	}

	m := speaker.Metrics().Current()
	fmt.Printf("   📊 %s\n", m.Summary())
	return nil
}

func runRecord(ctx context.Context, mock bool, d time.Duration) error {
	logger := log.L()

	captureCfg := audioio.DefaultCaptureConfig()
	if mock {
		captureCfg.Backend = audioio.BackendMock
	}
	source, err := audioio.NewSource(captureCfg, logger)
	if err != nil {
		return err
	}
	defer source.Close()

	cfg := voice.RecorderConfig{
		Source: source,
		Logger: logger,
		OnState: func(st voice.RecordingStatus) {
			if st.State == voice.RecordingActive {
				fmt.Printf("\r   ⏱  %4.1fs  level %.2f", st.Elapsed, st.Level)
			}
		},
	}

	var sttCfg *stt.Config
	if mock {
		cfg.NewProvider = func(*stt.Config) (stt.Provider, error) { return stt.NewMock(), nil }
		sttCfg = stt.DefaultConfig()
	} else {
		sttCfg, err = voice.ResolveSpeechToText(settings.Env{})
		if err != nil {
			return err
		}
	}

	recorder, err := voice.NewRecorder(cfg)
	if err != nil {
		return err
	}
	defer recorder.Close()

	fmt.Printf("🎙  Recording for %s... speak now\n", d)
	if err := recorder.StartRecording(ctx); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		recorder.CancelAndCleanup()
		return ctx.Err()
	case <-time.After(d):
	}

	fmt.Println()
	fmt.Println("   ⏳ Transcribing...")
	transcript, err := recorder.StopAndTranscribe(ctx, sttCfg)
	if err != nil {
		return err
	}
	fmt.Printf("   📝 %q\n", transcript)
	return nil
}
