// Package main запускает HTTP-сервер сервиса выдачи цифровых товаров.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/digital-fulfillment/internal/cache"
	"github.com/mmeshcher/digital-fulfillment/internal/config"
	"github.com/mmeshcher/digital-fulfillment/internal/events"
	"github.com/mmeshcher/digital-fulfillment/internal/handler"
	"github.com/mmeshcher/digital-fulfillment/internal/middleware"
	"github.com/mmeshcher/digital-fulfillment/internal/provider"
	"github.com/mmeshcher/digital-fulfillment/internal/repository"
	"github.com/mmeshcher/digital-fulfillment/internal/service"
	"github.com/mmeshcher/digital-fulfillment/internal/storage"
	"github.com/mmeshcher/digital-fulfillment/internal/webhook"
)

const productCacheTTL = 10 * time.Minute

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}

	files, err := storage.NewLocalStore(cfg.FilesDir)
	if err != nil {
		sugar.Fatalw("file store initialization error", "error", err.Error(), "dir", cfg.FilesDir)
	}
	defer files.Close()

	deps := service.Deps{
		Repo:   repo,
		Files:  files,
		Logger: logger,
	}

	if cfg.RedisURL != "" {
		client, err := cache.Connect(ctx, cfg.RedisURL)
		if err != nil {
			sugar.Warnw("redis unavailable, product cache disabled", "error", err.Error())
		} else {
			defer client.Close()
			deps.Products = cache.NewProductCache(client, repo, productCacheTTL, logger)
		}
	}

	if len(cfg.KafkaBrokers) > 0 {
		publisher, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			sugar.Fatalw("kafka publisher initialization error", "error", err.Error())
		}
		defer publisher.Close()
		deps.Publisher = publisher
	}

	if cfg.DodoAPIKey != "" {
		deps.Provider = provider.NewDodoClient(cfg.DodoAPIBase, cfg.DodoAPIKey, cfg.DodoBusinessID, cfg.CheckoutReturnURL)
	} else {
		sugar.Warn("DODO_API_KEY not set, checkout initiation disabled")
	}

	units, err := cfg.AmountUnits()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}
	deps.Normalizer = webhook.NewNormalizer(units)

	svc := service.NewService(deps, service.Options{
		TokenTTL:          cfg.TokenTTL,
		SweepInterval:     cfg.SweepInterval,
		PlaceholderMaxAge: cfg.PlaceholderMaxAge,
		ThankYouURL:       cfg.ThankYouURL,
	})
	defer svc.Close()

	verifier := middleware.NewSignatureVerifier(cfg.WebhookSecrets())
	h := handler.NewHandler(svc, logger, verifier)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	// Запуск фоновой очистки истёкших токенов
	g.Go(func() error {
		svc.StartTokenSweeper(ctx)
		return nil
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting fulfillment server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
