package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/sergiopesch/virtualpodcaststudio/internal/archive"
	"github.com/sergiopesch/virtualpodcaststudio/internal/bridge"
	"github.com/sergiopesch/virtualpodcaststudio/internal/config"
	"github.com/sergiopesch/virtualpodcaststudio/internal/httpapi"
	"github.com/sergiopesch/virtualpodcaststudio/internal/observability"
	"github.com/sergiopesch/virtualpodcaststudio/internal/openairt"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logger.Sync()

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	store, err := archive.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("archive store init failed", zap.Error(err))
	}
	defer store.Close()

	var dialer bridge.Dialer
	if strings.TrimSpace(cfg.OpenAIAPIKey) != "" {
		dialer = openairt.NewClient(openairt.Config{
			APIKey:               cfg.OpenAIAPIKey,
			BaseURL:              cfg.RealtimeURL,
			Model:                cfg.RealtimeModel,
			Voice:                cfg.Voice,
			TranscriptionModel:   cfg.TranscriptionModel,
			Temperature:          cfg.Temperature,
			VADThreshold:         cfg.VADThreshold,
			VADPrefixPaddingMS:   cfg.VADPrefixPaddingMS,
			VADSilenceDurationMS: cfg.VADSilenceDurationMS,
		}, metrics, logger)
		logger.Info("realtime provider: openai", zap.String("model", cfg.RealtimeModel))
	} else {
		dialer = openairt.NewMockDialer()
		logger.Info("realtime provider: mock (OPENAI_API_KEY not set)")
	}

	registry := bridge.NewRegistry(bridge.Config{
		Instructions:      cfg.Instructions,
		ReadyTimeout:      cfg.ReadyTimeout,
		CommitSettleDelay: cfg.CommitSettleDelay,
	}, dialer, store, metrics, logger, cfg.SessionInactivityTimeout)

	api := httpapi.New(cfg, registry, metrics, logger)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	registry.StartJanitor(runCtx, cfg.JanitorInterval)

	go func() {
		logger.Info("server listening", zap.String("addr", cfg.BindAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
		_ = httpServer.Close()
	}

	logger.Info("shutdown complete")
}
