package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/volchan/vol-bingo-sub000/internal/auth"
	"github.com/volchan/vol-bingo-sub000/internal/events"
	"github.com/volchan/vol-bingo-sub000/internal/gateway"
	"github.com/volchan/vol-bingo-sub000/internal/store"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	cfg, err := loadConfig(getEnv("CONFIG_PATH", "config.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal().Msg("JWT_SECRET environment variable is required")
	}

	database, err := setupDatabase()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to setup database")
	}
	defer database.Close()

	repos := store.New(database)
	verifier := auth.NewVerifier([]byte(jwtSecret), repos)

	gwConfig := gateway.DefaultConfig()
	gwConfig.SweepInterval = cfg.sweepInterval(gwConfig.SweepInterval)
	gwConfig.IdleTimeout = cfg.idleTimeout(gwConfig.IdleTimeout)
	if cfg.Realtime.SendBufferSize > 0 {
		gwConfig.SendBufferSize = cfg.Realtime.SendBufferSize
	}

	hub := gateway.NewHub(gwConfig, verifier, repos, repos, repos, repos)
	handler := gateway.NewHandler(hub, gwConfig)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go hub.Start(ctx)

	if cfg.Events.Enabled {
		consumerCfg := events.DefaultConsumerConfig()
		consumerCfg.URL = getEnv("NATS_URL", cfg.Events.URL)
		if cfg.Events.StreamName != "" {
			consumerCfg.StreamName = cfg.Events.StreamName
		}
		if cfg.Events.ConsumerName != "" {
			consumerCfg.ConsumerName = cfg.Events.ConsumerName
		}
		if cfg.Events.SubjectFilter != "" {
			consumerCfg.SubjectFilter = cfg.Events.SubjectFilter
		}

		consumer, err := events.NewConsumer(hub.Router(), consumerCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create game event consumer")
		}
		defer consumer.Stop()
		go func() {
			if err := consumer.Start(ctx); err != nil {
				log.Error().Err(err).Msg("game event consumer failed")
			}
		}()
	}

	srv := setupServer(handler)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("realtime server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	if err := srv.Shutdown(context.Background()); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
}
