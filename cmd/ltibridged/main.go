package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/courseloop/ltibridge/internal/config"
	"github.com/courseloop/ltibridge/internal/db"
	"github.com/courseloop/ltibridge/internal/logging"
	"github.com/courseloop/ltibridge/internal/lti"
	"github.com/courseloop/ltibridge/internal/platform"
	"github.com/courseloop/ltibridge/internal/toolkeys"
	"github.com/courseloop/ltibridge/internal/user"
)

func main() {
	cfg := config.FromEnv()
	logger := logging.New(cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbh, err := db.Open(ctx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("db open failed")
	}
	defer dbh.Close()

	registry := platform.NewSQLRegistry(dbh, logger)
	registry.AllowSingleTenantFallback = cfg.AllowPlatformFallback
	users := user.NewSQLStore(dbh)

	signingKey, err := toolkeys.LoadOrGenerate(cfg.SigningKeyPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("signing key unavailable")
	}
	jwksHandler, err := toolkeys.NewHandler(&signingKey.PublicKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("jwks handler")
	}

	tokens := lti.NewMemoryTokenStore()
	sweepStop := make(chan struct{})
	defer close(sweepStop)
	tokens.StartSweep(time.Minute, sweepStop)

	svc := &lti.Service{
		Registry:  registry,
		Users:     users,
		Tokens:    tokens,
		Verifier:  lti.NewVerifier(lti.NewKeyFetcher(cfg.KeyCacheTTL)),
		LaunchURL: cfg.LaunchURL(),
		LoginTTL:  cfg.LoginTTL,
		Logger:    logger,
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID, chimw.RealIP, chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	r.Get("/.well-known/jwks.json", jwksHandler.ServeHTTP)
	r.Mount("/lti", lti.Routes(svc))
	r.With(platform.BasicAuth(cfg.AdminUser, cfg.AdminPassHash)).
		Mount("/platforms", platform.Routes(registry))

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Str("db", cfg.DBDriver).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}
