package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"tick-replay/internal/api"
	"tick-replay/internal/checkpoint"
	"tick-replay/internal/config"
	"tick-replay/internal/recording"
	"tick-replay/internal/sim"
	"tick-replay/internal/storage/sqlite"
	"tick-replay/internal/viewer"
)

func main() {
	envLoaded := godotenv.Load(".env") == nil

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("❌ Invalid configuration")
	}
	log, err := cfg.Observability.NewLogger()
	if err != nil {
		logrus.WithError(err).Fatal("❌ Invalid logger configuration")
	}
	if envLoaded {
		log.Info("✅ Loaded environment from .env")
	} else {
		log.Info("💡 No .env file found, using environment variables only")
	}

	log.Info("🎬 ================================")
	log.Info("🎬  TICK REPLAY VIEWER")
	log.Info("🎬 ================================")

	if cfg.Observability.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.Observability.SentryDSN,
			Environment: cfg.Observability.Environment,
		}); err != nil {
			log.WithError(err).Warn("⚠️ Sentry disabled")
		} else {
			defer sentry.Flush(2 * time.Second)
			log.Info("🛰️ Sentry error reporting enabled")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cache checkpoint.Cache
	if cfg.Storage.CachePath != "" {
		store, err := sqlite.Open(ctx, cfg.Storage.CachePath)
		if err != nil {
			log.WithError(err).Warn("⚠️ Checkpoint cache disabled")
		} else {
			defer store.Close()
			cache = store
			log.WithField("path", cfg.Storage.CachePath).Info("💾 Checkpoint cache ready")
		}
	}

	gen := checkpoint.NewGenerator(cfg.Replay.CheckpointSettings(), log)
	loader := recording.NewLoader(gen, cache, log)
	host := viewer.New(viewer.Config{
		World:     sim.New(log),
		Settings:  cfg.Replay.SeekSettings(),
		Loader:    loader,
		Telemetry: api.PrometheusTelemetry{},
		Logger:    log,
	})

	if cfg.Recording.Path != "" {
		if _, err := host.Load(ctx, cfg.Recording.Path); err != nil {
			log.WithError(err).Error("❌ Failed to load startup recording")
		}
	}
	host.Start()

	debugSrv := api.StartDebugServer(api.ObservabilityConfig{
		Enabled:       cfg.Observability.DebugEnabled,
		ListenAddr:    cfg.Observability.DebugAddr,
		AllowExternal: cfg.Observability.AllowExternal,
		BasicAuthUser: cfg.Observability.BasicAuthUser,
		BasicAuthPass: cfg.Observability.BasicAuthPass,
	}, log)

	server := api.NewServer(api.ServerConfig{
		Router: api.RouterConfig{
			Viewer:       host,
			CORSOrigins:  cfg.Server.CORSOrigins,
			RecordingDir: cfg.Recording.Dir,
			ControlToken: cfg.Server.ControlToken,
			RateLimitConfig: &api.RateLimitConfig{
				RequestsPerSecond: cfg.Server.RateLimitRPS,
				Burst:             cfg.Server.RateLimitBurst,
			},
			Logger: log,
		},
		Notifier:       host,
		StatusInterval: cfg.Server.StatusInterval,
	})
	host.SetEventHandler(server.Hub().EventHandler())
	if cfg.Server.ControlToken == "" {
		log.Warn("⚠️ Control token not set, playback control is open to any client")
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(cfg.Server.Addr())
	}()

	select {
	case <-ctx.Done():
		log.Info("🛑 Shutting down...")
	case err := <-serverErr:
		if err != nil {
			log.WithError(err).Error("❌ API server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Warn("⚠️ API server shutdown")
	}
	if debugSrv != nil {
		_ = debugSrv.Shutdown(shutdownCtx)
	}
	host.Stop()
	log.Info("👋 Goodbye")
}
