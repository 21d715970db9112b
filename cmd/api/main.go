package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"imi-storefront/internal/backend"
	"imi-storefront/internal/clock"
	"imi-storefront/internal/config"
	"imi-storefront/internal/domain"
	"imi-storefront/internal/httpserver"
	"imi-storefront/internal/repository/token"
	"imi-storefront/internal/storefront"
	"imi-storefront/internal/tasks"
)

func main() {
	logger := log.New(os.Stdout, "[api] ", log.LstdFlags|log.LUTC|log.Lshortfile)
	cfg, err := config.FromEnv()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	repo, closeRepo, err := token.Open(ctx, cfg.StoreDSN, logger)
	if err != nil {
		logger.Fatalf("open session store: %v", err)
	}
	defer closeRepo()

	client := backend.New(cfg.BackendURL, cfg.BackendTimeout, logger)
	queue := tasks.NewQueue(logger, cfg.TaskLimit, cfg.BackendTimeout)

	registry := storefront.New(repo, client, storefront.Options{
		Providers:    cfg.IdentityProviders,
		SyncAttempts: cfg.IdentitySyncAttempts,
		SyncBackoff:  cfg.IdentitySyncBackoff,
		CallTimeout:  cfg.BackendTimeout,
		PollInterval: cfg.TokenPollInterval,
		FlushDelay:   cfg.AnalyticsFlushDelay,
		BatchSize:    cfg.AnalyticsBatchSize,
		IdleTTL:      cfg.TabIdleTTL,
		Locale:       cfg.Locale,
		Clock:        clock.Real(),
		Tasks:        queue,
		Logger:       logger,
	})
	if err := registry.Start(ctx); err != nil {
		logger.Fatalf("start registry: %v", err)
	}
	go registry.RunSweeper(ctx)

	srv, err := httpserver.New(cfg.HTTPAddr, logger, httpserver.Deps{
		Registry:       registry,
		Catalog:        client,
		Account:        client,
		Ready:          storeReady(repo),
		AllowedOrigins: cfg.AllowedOrigins,
		SecureCookies:  cfg.SecureCookies,
	})
	if err != nil {
		logger.Fatalf("init server: %v", err)
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Printf("starting http server on %s backend=%s", cfg.HTTPAddr, cfg.BackendURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stopCh:
		logger.Printf("received signal %s, shutting down", sig)
	case err := <-serverErr:
		logger.Printf("server error: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
	// Tabs flush their analytics through the queue, so it closes last.
	registry.Close()
	stop()
	if err := queue.Close(shutdownCtx); err != nil {
		logger.Printf("detached tasks cut short: %v", err)
	}
	logger.Printf("server stopped")
}

// storeReady checks the session store with a lookup that is expected to miss.
func storeReady(repo token.Repository) func(context.Context) error {
	return func(ctx context.Context) error {
		_, err := repo.Get(ctx, "readiness-check")
		if err == nil || errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}
}
