package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/wa-gateway/internal/config"
	"github.com/openclaw/wa-gateway/internal/credstore"
	"github.com/openclaw/wa-gateway/internal/database"
	"github.com/openclaw/wa-gateway/internal/eventbus"
	"github.com/openclaw/wa-gateway/internal/handler"
	"github.com/openclaw/wa-gateway/internal/jobs"
	"github.com/openclaw/wa-gateway/internal/lock"
	"github.com/openclaw/wa-gateway/internal/middleware"
	"github.com/openclaw/wa-gateway/internal/redis"
	"github.com/openclaw/wa-gateway/internal/registry"
	"github.com/openclaw/wa-gateway/internal/repository"
	"github.com/openclaw/wa-gateway/internal/supervisor"
	"github.com/openclaw/wa-gateway/internal/upstream"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(pingCtx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Msg("database connected")

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	apiKeyRepo := repository.NewApiKeyRepository(db.DB)
	sessionRepo := repository.NewSessionRepository(db.DB)
	signalKeyRepo := repository.NewSignalKeyRepository(db.DB)
	sessionLockRepo := repository.NewSessionLockRepository(db.DB)

	reg := registry.New(apiKeyRepo)
	credStore := credstore.New(db, sessionRepo, signalKeyRepo)
	sessionLock := lock.New(sessionLockRepo)

	bus := eventbus.New(redisClient)
	defer bus.Close()

	// No WhatsApp Web protocol library ships in this module's dependency
	// set; the Fake adapter stands in behind the same upstream.Adapter
	// seam a real client library implementation would satisfy.
	adapter := upstream.NewFake()

	sup := supervisor.New(reg, sessionRepo, credStore, sessionLock, bus, adapter)

	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)
	adminAuth := middleware.AdminAuth(cfg.SecretKey)

	apiKeyHandler := handler.NewApiKeyHandler(reg)
	sessionHandler := handler.NewSessionHandler(reg, sessionRepo, sup, bus)
	messageHandler := handler.NewMessageHandler(sup)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
	r.Use(bodyLimitMiddleware.Handler)
	r.Use(middleware.CORS)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Route(cfg.RoutePrefix, func(r chi.Router) {
		r.Route("/api-keys", func(r chi.Router) {
			r.Use(adminAuth)
			r.Mount("/", apiKeyHandler.Routes())
		})

		r.Route("/whatsapp/sessions", func(r chi.Router) {
			r.Mount("/", sessionHandler.Routes())
		})

		r.Route("/whatsapp/message", func(r chi.Router) {
			r.Mount("/", messageHandler.Routes())
		})
	})

	lockRefreshJob := jobs.NewLockRefreshJob(sup.ActiveKeys, sup.TouchLock, config.LockRefreshInterval)
	lockRefreshJob.Start()
	defer lockRefreshJob.Stop()

	warmCtx, warmCancel := context.WithTimeout(context.Background(), config.WarmupWaitTimeout*10)
	warmResult, err := sup.WarmSessions(warmCtx)
	warmCancel()
	if err != nil {
		log.Error().Err(err).Msg("session warmup failed")
	} else {
		log.Info().
			Int("total", warmResult.Total).
			Int("attempted", warmResult.Attempted).
			Int("connected", warmResult.Connected).
			Int("failed", warmResult.Failed).
			Msg("session warmup complete")
	}

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	sup.Shutdown(shutdownCtx)

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
