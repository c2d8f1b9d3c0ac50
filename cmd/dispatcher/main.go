package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"content-analysis-pipeline/internal/config"
	"content-analysis-pipeline/internal/dispatch"
	"content-analysis-pipeline/internal/logging"
	"content-analysis-pipeline/internal/queue"
	"content-analysis-pipeline/internal/store"
	"content-analysis-pipeline/internal/telemetry"
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

	q := queue.NewRedisQueue(cfg)
	analyzer := dispatch.NewHTTPAnalyzerClient(cfg)

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			logger.Warn("metrics server stopped", slog.String("error", err.Error()))
		}
	}()

	d := dispatch.New(cfg, st, q, analyzer, logger)
	logger.Info("dispatcher started",
		slog.Duration("dequeue_wait", cfg.DequeueWait),
		slog.Duration("visibility", cfg.VisibilityTimeout),
	)
	if err := d.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("dispatcher stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("dispatcher stopped")
}
