package main

import (
	"anonchat/backend/internal/api/handler"
	"anonchat/backend/internal/chat"
	"anonchat/backend/internal/chathub"
	"anonchat/backend/internal/clock"
	"anonchat/backend/internal/config"
	"anonchat/backend/internal/invite"
	"anonchat/backend/internal/storage"
	"anonchat/backend/internal/storage/memstore"
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupLogging(cfg config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

func setupStorage(ctx context.Context, cfg config.Config) storage.Storage {
	if cfg.StorageDriver == config.DriverMemory {
		log.Warn().Msg("using in-memory storage, nothing will survive a restart")
		return memstore.New()
	}

	// 1. PostgreSQL
	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect PostgreSQL")
	}

	// 2. Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		log.Fatal().Err(err).Msg("failed to connect Redis")
	}

	// 3. Migrations
	s := storage.NewStorageService(db, rdb)
	if err := s.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	log.Info().Msg("database and Redis connections established, migrations complete")
	return s
}

const purgeInterval = time.Hour

// purgeInvites deletes expired invite tokens until ctx is cancelled.
func purgeInvites(ctx context.Context, clk clock.Clock, invites *invite.Provisioner) {
	ticker := clk.NewTicker(purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := invites.PurgeExpired(ctx); err != nil {
				log.Warn().Err(err).Msg("invite purge failed")
			}
		}
	}
}

func main() {
	cfg := config.Load()
	setupLogging(cfg)
	log.Info().Str("storage", cfg.StorageDriver).Msg("starting anonchat backend")

	if cfg.JWTSecret == "" {
		log.Fatal().Msg("JWT_SECRET is not set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := setupStorage(ctx, cfg)
	clk := clock.Monotonic(clock.Real())
	svc := chat.Build(store, clk)
	invites := invite.NewProvisioner(store, svc.Identities, svc.Rooms, clk, cfg.InviteSingleUse)

	hub := chathub.NewManagerService(svc)
	go hub.Run(ctx)
	go purgeInvites(ctx, clk, invites)

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	handler.NewHandler(hub, svc, invites, cfg.JWTSecret).Register(r)

	server := &http.Server{
		Addr:           cfg.HTTPAddr,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	<-hub.Done()
}
