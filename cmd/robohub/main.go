package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/robohub/internal/api"
	"github.com/snarg/robohub/internal/command"
	"github.com/snarg/robohub/internal/config"
	"github.com/snarg/robohub/internal/database"
	"github.com/snarg/robohub/internal/events"
	"github.com/snarg/robohub/internal/heartbeat"
	"github.com/snarg/robohub/internal/ingest"
	"github.com/snarg/robohub/internal/logstore"
	"github.com/snarg/robohub/internal/mqttbridge"
	"github.com/snarg/robohub/internal/registry"
	"github.com/snarg/robohub/internal/session"
	"github.com/snarg/robohub/internal/voice"
)

var version = "dev"

func main() {
	envFile := flag.String("env", "", "path to .env file")
	flag.Parse()

	// Config
	cfg, err := config.Load(*envFile)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Msg("robohub starting")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database
	dbLog := log.With().Str("component", "database").Logger()
	db, err := database.Connect(ctx, cfg.DatabaseURL, dbLog)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()
	if err := db.InitSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize schema")
	}

	// Tee the log stream into the database for /system-logs.
	logWriter := logstore.NewWriter(db)
	defer logWriter.Close()
	log = zerolog.New(zerolog.MultiLevelWriter(os.Stdout, logWriter)).
		With().Timestamp().Logger().Level(level)

	// Live event bus for SSE subscribers and the MQTT mirror.
	bus := events.NewBus(256)

	// Device registry and session hub. The frame handler chain is installed
	// after construction: hub -> ingest -> command router -> hub.
	reg := registry.New(db, bus, log)
	hub := session.NewHub(nil, cfg.OutboundQueueCapacity, log)
	commands := command.NewRouter(hub, db, bus, cfg.AckTimeout, log)
	hub.SetHandler(ingest.NewRouter(reg, db, commands, log))
	hub.SetOnEnded(func(deviceID, reason string) {
		offCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		reg.MarkOffline(offCtx, deviceID, reason)
	})

	// Voice pipeline. STT and TTS are optional backends; without them
	// uploads fail soft and replies are skipped.
	var stt voice.Transcriber
	if cfg.STTURL != "" {
		stt = voice.NewWhisperClient(cfg.STTURL, cfg.STTModel, cfg.STTTimeout)
	}
	var tts voice.Synthesizer
	if cfg.TTSURL != "" {
		tts = voice.NewTTSClient(cfg.TTSURL, cfg.STTTimeout)
	}
	pipeline := voice.NewPipeline(stt, tts,
		voice.NewPrefixGate(cfg.WakePhrases()),
		voice.NewMatcher(cfg.ConfidenceThreshold),
		commands, hub, db, bus,
		cfg.AudioSampleRate, cfg.AudioArchiveDir, log)

	// Heartbeat reaper
	reaper := heartbeat.NewReaper(reg, hub, commands, cfg.ReaperInterval, cfg.HeartbeatTimeout, log)
	go reaper.Run(ctx)

	// Optional MQTT mirror
	var bridge *mqttbridge.Bridge
	if cfg.MQTTBrokerURL != "" {
		bridge = mqttbridge.New(mqttbridge.Options{
			BrokerURL: cfg.MQTTBrokerURL,
			ClientID:  cfg.MQTTClientID,
			Username:  cfg.MQTTUsername,
			Password:  cfg.MQTTPassword,
		}, bus, commands, log)
		if err := bridge.Start(); err != nil {
			log.Warn().Err(err).Msg("mqtt bridge unavailable, continuing without it")
			bridge = nil
		}
	}

	// HTTP server
	httpLog := log.With().Str("component", "http").Logger()
	srv := api.NewServer(db, reg, commands, pipeline, hub, bus, cfg.AuthToken, httpLog)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(cfg.ListenAddr, api.ServerTimeouts{
			Read:  cfg.ReadTimeout,
			Write: cfg.WriteTimeout,
			Idle:  cfg.IdleTimeout,
		})
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}
	if bridge != nil {
		bridge.Stop()
	}

	log.Info().Msg("robohub stopped")
}
