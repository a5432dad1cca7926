package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mathieu-neron/owo-counter/internal/config"
	"github.com/mathieu-neron/owo-counter/internal/counting"
	"github.com/mathieu-neron/owo-counter/internal/discord"
	"github.com/mathieu-neron/owo-counter/internal/handler"
	"github.com/mathieu-neron/owo-counter/internal/metrics"
	"github.com/mathieu-neron/owo-counter/internal/middleware"
	"github.com/mathieu-neron/owo-counter/internal/model"
	"github.com/mathieu-neron/owo-counter/internal/repository"
	"github.com/mathieu-neron/owo-counter/internal/router"
	"github.com/mathieu-neron/owo-counter/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		middleware.InitLogger("info", "owo-counter", "unknown")
		middleware.Logger.Fatal().Err(err).Msg("configuration error")
	}
	log := middleware.InitLogger(cfg.LogLevel, "owo-counter", cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := repository.Open(ctx, cfg.StorageBackend, cfg.DatabaseURL, cfg.RedisURL, log)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.StorageBackend).Msg("failed to open storage backend")
	}
	defer conn.Close()

	metrics.Register(prometheus.DefaultRegisterer, conn.Pool)

	client, err := discord.New(cfg.DiscordToken, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create discord client")
	}

	st := store.New(conn.Repo, log)
	ctrl := counting.New(ctx, client, st, cfg.Channels, log, counting.Options{
		HistoryLimit: cfg.HistoryFetchLimit,
	})
	removeHandler := client.OnMessage(func(msg model.Message) {
		ctrl.HandleMessage(msg)
	})

	var app *fiber.App
	if cfg.Health.Enabled {
		app = fiber.New(fiber.Config{
			AppName:      "owo-counter",
			ServerHeader: "owo-counter",
		})
		router.Setup(app, handler.NewHealthHandler(conn.Pool, conn.Redis, ctrl, len(cfg.Channels)), prometheus.DefaultGatherer, log)
		go func() {
			log.Info().Str("addr", cfg.Health.Addr()).Msg("health server listening")
			if err := app.Listen(cfg.Health.Addr(), fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
				log.Error().Err(err).Msg("health server stopped")
			}
		}()
	}

	if err := client.Open(); err != nil {
		log.Fatal().Err(err).Msg("failed to connect to discord")
	}

	log.Info().
		Int("channels", len(cfg.Channels)).
		Str("backend", cfg.StorageBackend).
		Msg("owo-counter starting")

	if err := ctrl.Start(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info().Msg("startup interrupted")
		} else if len(ctrl.ReadyChannels()) == 0 {
			log.Fatal().Err(err).Msg("counting failed to initialize")
		} else {
			log.Error().Err(err).Msg("some counting channels failed to initialize")
		}
	}

	<-ctx.Done()
	log.Info().Msg("shutting down")

	removeHandler()
	ctrl.Close()
	if err := client.Close(); err != nil {
		log.Warn().Err(err).Msg("discord close failed")
	}
	if app != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("health server shutdown failed")
		}
	}
	log.Info().Msg("stopped")
}
