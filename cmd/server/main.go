// Command server runs the collaboration backend: REST API, WebSocket
// real-time surface, and operational endpoints, backed by two SQLite
// databases (the shared document store and the node-local one).
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/collabpad/collab-backend/internal/config"
	httpapi "github.com/collabpad/collab-backend/internal/http"
	"github.com/collabpad/collab-backend/internal/observability"
	"github.com/collabpad/collab-backend/internal/repo"
	"github.com/collabpad/collab-backend/internal/store"
	"github.com/collabpad/collab-backend/internal/sysutil"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

// @title       Collab Backend API
// @version     1.0
// @description Real-time collaboration backend: projects, files, chat, presence, and execution.
// @BasePath    /api/v1
func main() {
	// A missing .env is the normal production case.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	logger := log.With().Str("service", cfg.OTEL.ServiceName).Logger()
	logger.Info().Str("version", version).Str("port", cfg.Port).Msg("starting")

	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		logger.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			logger.Warn().Err(err).Msg("otel shutdown failed")
		}
	}()

	// Shared document store: files, projects, chat, presence, typing.
	storeDB, err := repo.OpenSQLite(cfg.DBPath, cfg.OTEL.Enabled)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open store db failed")
	}
	if err := repo.AutoMigrate(storeDB); err != nil {
		logger.Fatal().Err(err).Msg("store migration failed")
	}

	// Node-local state: unread bookmarks and the session marker.
	localDB, err := repo.OpenSQLite(cfg.LocalDBPath, false)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.LocalDBPath).Msg("open local db failed")
	}
	if err := repo.AutoMigrateLocal(localDB); err != nil {
		logger.Fatal().Err(err).Msg("local migration failed")
	}

	docs := store.NewDocuments(storeDB, store.NewHub())
	docs.TeardownEphemeral = cfg.TeardownEphemeral

	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{
		Docs:    docs,
		LocalDB: localDB,
		Log:     logger,
	}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		logger.Fatal().Err(err).Msg("server failed")
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	}

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	for _, db := range []*gorm.DB{storeDB, localDB} {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}

	logger.Info().Msg("stopped")
}
