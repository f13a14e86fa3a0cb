// Voicepipe daemon: push-to-talk dictation and message readback behind a
// local web dashboard.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/deskvox/voicepipe/internal/config"
	"github.com/deskvox/voicepipe/internal/log"
	"github.com/deskvox/voicepipe/pkg/audio"
	"github.com/deskvox/voicepipe/pkg/audioio"
	"github.com/deskvox/voicepipe/pkg/settings"
	"github.com/deskvox/voicepipe/pkg/voice"
	"github.com/deskvox/voicepipe/pkg/web"
)

var version = "1.0.0"

func main() {
	cfgPath := flag.String("config", "", "Path to the daemon config file")
	addr := flag.String("addr", "", "Dashboard address (overrides config)")
	settingsPath := flag.String("settings", "", "Provider settings file (overrides config)")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error")
	capture := flag.String("capture", "", "Capture backend: auto, alsa, coreaudio, webrtc, mock")
	playback := flag.String("playback", "", "Playback backend: auto, alsa, coreaudio, mock")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Listen = *addr
	}
	if *settingsPath != "" {
		cfg.Settings = *settingsPath
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *capture != "" {
		cfg.Capture.Backend = audioio.Backend(*capture)
	}
	if *playback != "" {
		cfg.Playback.Backend = audioio.Backend(*playback)
	}

	// Environment variables; flags win.
	if env := os.Getenv("VOICEPIPE_ADDR"); env != "" && *addr == "" {
		cfg.Listen = env
	}
	if env := os.Getenv("VOICEPIPE_SETTINGS"); env != "" && *settingsPath == "" {
		cfg.Settings = env
	}

	log.Init(cfg.LogLevel)

	fmt.Println()
	fmt.Println("🎙  voicepipe v" + version)
	fmt.Println("   dictation and readback daemon")
	fmt.Println()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		log.Error("daemon failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	logger := log.L()

	// Provider settings: the environment wins over the file, so a
	// credential can be injected without editing it.
	var store settings.Store = settings.Env{}
	if cfg.Settings != "" {
		file, err := settings.Open(cfg.Settings, logger)
		if err != nil {
			return err
		}
		go func() {
			if err := file.Watch(ctx); err != nil && ctx.Err() == nil {
				log.Warn("settings watcher stopped", "error", err)
			}
		}()
		store = settings.Overlay(settings.Env{}, file)
	}

	source, err := audioio.NewSource(cfg.Capture, logger)
	if err != nil {
		return err
	}
	defer source.Close()

	sink, err := audioio.NewSink(cfg.Playback, logger)
	if err != nil {
		return err
	}
	defer sink.Close()

	// The player writes to the sink but never starts it; the device runs
	// for the daemon's lifetime.
	if err := sink.Start(ctx); err != nil {
		return err
	}

	player := audio.NewSinkPlayer(sink, logger)
	defer player.Close()

	// The dashboard is built after the coordinators; their state
	// callbacks reach it through this pointer.
	var dashboard atomic.Pointer[web.Server]
	publish := func() {
		if s := dashboard.Load(); s != nil {
			s.Publish()
		}
	}

	recorder, err := voice.NewRecorder(voice.RecorderConfig{
		Source:  source,
		TempDir: cfg.TempDir,
		OnState: func(voice.RecordingStatus) { publish() },
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	defer recorder.Close()

	speaker, err := voice.NewSpeaker(voice.SpeakerConfig{
		Player:  player,
		OnState: func(voice.PlaybackStatus) { publish() },
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	defer speaker.Close()

	server, err := web.NewServer(web.Config{
		Recorder:  recorder,
		Speaker:   speaker,
		Settings:  store,
		StaticDir: cfg.StaticDir,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	dashboard.Store(server)
	speaker.Metrics().OnUpdate(server.NoteSpeakMetrics)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start(cfg.Listen) }()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		return server.Shutdown()
	case err := <-errCh:
		return err
	}
}
