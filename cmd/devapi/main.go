package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"contenthub.org/internal/config"
	"contenthub.org/internal/devapi"
	"contenthub.org/internal/obs"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONTENTHUB_CONFIG"), "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := obs.NewLogger(cfg.Log.Level)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	obs.SetLogger(logger)
	obs.InitBuildInfo(version, commit)

	api, err := devapi.New(devapi.Config{
		JWTSecret:  cfg.DevAPI.JWTSecret,
		AccessTTL:  cfg.DevAPI.AccessTTL,
		RefreshTTL: cfg.DevAPI.RefreshTTL,
		RatePerSec: cfg.DevAPI.RatePerSec,
		RateBurst:  cfg.DevAPI.RateBurst,
		Version:    version,
	})
	if err != nil {
		logger.Fatal("init devapi", zap.Error(err))
	}

	srv := &http.Server{
		Addr:              cfg.DevAPI.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("starting contenthub devapi",
		zap.String("version", version),
		zap.String("addr", srv.Addr),
		zap.Duration("access_ttl", cfg.DevAPI.AccessTTL),
	)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
	logger.Info("stopped")
}
