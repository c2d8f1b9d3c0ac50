package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"content-analysis-pipeline/internal/api"
	"content-analysis-pipeline/internal/blob"
	"content-analysis-pipeline/internal/config"
	"content-analysis-pipeline/internal/logging"
	"content-analysis-pipeline/internal/queue"
	"content-analysis-pipeline/internal/ratelimit"
	"content-analysis-pipeline/internal/store"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Error("connect postgres", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		logger.Error("migrations", slog.String("error", err.Error()))
		os.Exit(1)
	}

	blobs, err := blob.New(ctx, cfg)
	if err != nil {
		logger.Error("init object store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	q := queue.NewRedisQueue(cfg)
	limiterClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	limiter := ratelimit.NewUploadLimiter(limiterClient, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)

	server := api.New(cfg, st, q, blobs, limiter, logger)
	httpServer := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: server.Router(),
	}

	logger.Info("intake api listening", slog.String("port", cfg.APIPort))
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen", slog.String("error", err.Error()))
			cancel()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
