package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/call-signaling/config"
	"github.com/mossy-p/call-signaling/internal/handlers"
	"github.com/mossy-p/call-signaling/internal/logging"
	"github.com/mossy-p/call-signaling/internal/redis"
	"github.com/mossy-p/call-signaling/internal/signaling"
	"github.com/mossy-p/call-signaling/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Environment)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb, err := redis.Connect(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()
	logger.Info("redis connection established", "addr", cfg.Redis.Host+":"+cfg.Redis.Port)

	hubOpts := signaling.Options{
		RingTimeout:           cfg.Signaling.RingTimeout,
		HoldRingingCandidates: cfg.Signaling.HoldRingingCandidates,
		HistoryLimit:          cfg.Signaling.RoomHistoryLimit,
		Logger:                logger,
	}
	routerOpts := handlers.RouterOptions{
		AllowedOrigins: cfg.AllowedOrigins,
		JWTSecret:      cfg.JWTSecret,
		TokenTTL:       cfg.TokenTTL,
		ICEServers:     cfg.ICEServers,
		HistoryLimit:   cfg.Signaling.RoomHistoryLimit,
		Rooms:          redis.NewRoomDirectory(rdb),
		Logger:         logger,
	}

	if cfg.DatabaseURL != "" {
		if err := store.Migrate(cfg.DatabaseURL); err != nil {
			return err
		}
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		logger.Info("database connection established")

		hubOpts.Archive = db
		routerOpts.Store = db
	} else {
		logger.Warn("DATABASE_URL not set: accounts and chat history disabled, demo login enabled")
	}

	hub := signaling.NewHub(hubOpts)
	routerOpts.Hub = hub
	go hub.Run(ctx)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handlers.NewRouter(routerOpts),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting signaling server", "port", cfg.Port, "environment", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	<-hub.Done()
	return nil
}
