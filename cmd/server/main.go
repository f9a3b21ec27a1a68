package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/KRISHNAKUMARPS2002/DataBase-Change-Detector/internal/config"
	"github.com/KRISHNAKUMARPS2002/DataBase-Change-Detector/internal/database"
	"github.com/KRISHNAKUMARPS2002/DataBase-Change-Detector/internal/diff"
	"github.com/KRISHNAKUMARPS2002/DataBase-Change-Detector/internal/engine"
	"github.com/KRISHNAKUMARPS2002/DataBase-Change-Detector/internal/logger"
	"github.com/KRISHNAKUMARPS2002/DataBase-Change-Detector/internal/server"
	"github.com/KRISHNAKUMARPS2002/DataBase-Change-Detector/internal/snapshot"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zlog := logger.New(cfg.LogLevel, cfg.LogPretty)

	// Connect every configured database. Startup is the only place a
	// connection failure is fatal; at runtime failures only fail a cycle.
	conns := database.NewManager(zlog)
	for name, db := range cfg.Databases {
		switch db.Driver {
		case config.DriverPostgres:
			backend, err := database.NewPooledBackend(ctx, db.DSN, zlog)
			if err != nil {
				zlog.Fatal().Err(err).Str("database", name).Msg("failed to connect")
			}
			conns.Register(name, backend)
		case config.DriverLegacy:
			conns.Register(name, database.NewRetryingBackend(
				"postgres", db.DSN, db.RetryAttempts, time.Duration(db.RetryBackoff), zlog))
		}
	}
	defer conns.CloseAll()

	store, err := snapshot.NewStore(cfg.SnapshotDir, zlog)
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to initialize snapshot store")
	}

	sources := make([]string, 0, len(cfg.Jobs))
	for _, job := range cfg.Jobs {
		sources = append(sources, job.SourceKey)
	}
	orch := engine.NewOrchestrator(conns, diff.NewEngine(zlog), store, engine.NewStats(sources...), zlog)

	var lock *engine.CycleLock
	if cfg.RedisURL != "" {
		redisClient, err := database.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			zlog.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		lock = engine.NewCycleLock(redisClient, 2*cfg.SyncInterval, zlog)
	}

	scheduler := engine.NewScheduler(orch, store, cfg.Jobs, cfg.SyncInterval, cfg.Retention(), lock, zlog)
	go scheduler.Run(ctx)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: server.New(orch, conns, cfg.Jobs, zlog).Router(cfg.JWTSecret),
	}

	// graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		zlog.Info().Msg("shutting down")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
	}()

	zlog.Info().Str("port", cfg.ServerPort).Msg("starting server")
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		zlog.Fatal().Err(err).Msg("server error")
	}

	zlog.Info().Msg("server stopped gracefully")
}
