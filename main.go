package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/schoolpaper/newsroom/internal/blob"
	"github.com/schoolpaper/newsroom/internal/cache"
	"github.com/schoolpaper/newsroom/internal/config"
	"github.com/schoolpaper/newsroom/internal/database"
	"github.com/schoolpaper/newsroom/internal/httpserver"
	"github.com/schoolpaper/newsroom/internal/logging"
	"github.com/schoolpaper/newsroom/internal/ratelimit"
	"github.com/schoolpaper/newsroom/internal/session"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	logging.Init(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessions, err := session.NewManager(cfg.Security.JWTSecret, cfg.Security.SessionDuration, cfg.IsProduction())
	if err != nil {
		log.Fatal().Err(err).Msg("session manager")
	}

	db, err := database.Open(ctx, cfg.Database.PostgresURL, cfg.Database.SQLitePath)
	switch {
	case errors.Is(err, database.ErrUnavailable):
		log.Warn().Msg("no database configured; running in legacy admin mode")
	case err != nil:
		log.Fatal().Err(err).Msg("open database")
	default:
		defer db.Close()
		if _, err := db.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("migrate database")
		}
	}

	limiter := ratelimit.New(nil)
	go sweepLimiter(ctx, limiter)

	srv := httpserver.New(httpserver.Deps{
		Config:   cfg,
		DB:       db,
		Sessions: sessions,
		Limiter:  limiter,
		Cache:    cache.NewMemoryStore(5 * time.Minute),
		Blobs:    blob.NewStore(cfg.Upload.BlobAPIURL, cfg.Upload.BlobToken),
	})

	port := strconv.Itoa(cfg.Server.Port)
	log.Info().Str("port", port).Str("env", cfg.Server.Environment).Str("database", db.Mode()).Msg("starting newsroom")
	if err := srv.Start(ctx, ":"+port); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

// sweepLimiter drops expired rate-limit windows until ctx ends.
func sweepLimiter(ctx context.Context, l *ratelimit.Limiter) {
	t := time.NewTicker(10 * time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := l.Sweep(); n > 0 {
				log.Debug().Int("removed", n).Msg("rate limit windows swept")
			}
		}
	}
}
