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

	"content-analysis-pipeline/internal/analyzer"
	"content-analysis-pipeline/internal/blob"
	"content-analysis-pipeline/internal/config"
	"content-analysis-pipeline/internal/llm"
	"content-analysis-pipeline/internal/logging"
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

	blobs, err := blob.New(ctx, cfg)
	if err != nil {
		logger.Error("init object store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	model := llm.NewClient(llm.Config{
		APIKey:       cfg.OpenAIAPIKey,
		BaseURL:      cfg.OpenAIBaseURL,
		TextModel:    cfg.TextModel,
		VisionModel:  cfg.VisionModel,
		Timeout:      cfg.LLMTimeout,
		MaxImageEdge: cfg.VisionMaxEdge,
	}, logger)

	server := analyzer.New(st, blobs, model, logger)
	httpServer := &http.Server{
		Addr:    ":" + cfg.AnalyzerPort,
		Handler: server.Router(),
	}

	logger.Info("analyzer listening",
		slog.String("port", cfg.AnalyzerPort),
		slog.String("text_model", cfg.TextModel),
		slog.String("vision_model", cfg.VisionModel),
	)
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
