package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"classroom/internal/api"
	"classroom/internal/app"
	"classroom/internal/auth"
	"classroom/internal/cloudinary"
	"classroom/internal/config"
	"classroom/internal/logging"
)

func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, logger); err != nil {
		logger.Fatal("http server failed", zap.Error(err))
	}
}

func runHTTP(cfg config.App, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	deps := api.Deps{
		Directory:       b.Directory,
		Attendance:      b.Attendance,
		Signer:          auth.NewSigner(cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL),
		Queue:           b.Queue,
		Vision:          b.Vision,
		Logger:          logger,
		AIAPIKey:        cfg.AIAPIKey,
		RateLimitPerMin: cfg.RateLimitPerMin,
		WebDir:          cfg.WebDir,
		Health:          map[string]api.HealthCheck{},
	}
	if b.DB != nil {
		deps.Health["db"] = b.DB.Healthy
	}
	if b.Redis != nil {
		deps.Health["redis"] = b.Redis.Healthy
	}
	if cfg.CloudinaryCloudName != "" && cfg.CloudinaryAPIKey != "" && cfg.CloudinaryAPISecret != "" {
		deps.Images = cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		logger.Info("cloudinary configured", zap.String("cloud", cfg.CloudinaryCloudName))
	} else {
		logger.Warn("cloudinary not configured; student photo uploads are disabled")
	}
	if cfg.AIAPIKey == "" {
		logger.Warn("AI_API_KEY not set; /api/ai endpoints are unauthenticated")
	}
	if !cfg.VisionSkip {
		if err := b.Vision.Health(ctx); err != nil {
			logger.Warn("vision service not available", zap.Error(err))
		}
	}

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", srv.Addr), zap.String("store", cfg.StoreBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced shutdown", zap.Error(err))
	}
	logger.Info("server exited")
	return nil
}
