// cmd/service/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github-geo-collector/internal/api"
	"github-geo-collector/internal/collector"
	"github-geo-collector/internal/config"
	"github-geo-collector/internal/github"
	"github-geo-collector/internal/logging"
	"github-geo-collector/internal/store"
	"github-geo-collector/internal/tokenpool"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		logrus.WithError(err).Error("Application startup error")
		os.Exit(1)
	}
}

func run(args []string) error {
	// 1. Load configuration
	fs := pflag.NewFlagSet("service", pflag.ExitOnError)
	config.RegisterFlags(fs)
	fs.String("addr", ":8080", "listen address of the read API")
	fs.String("repos", "", "repositories kept in sync when SYNC_INTERVAL is set")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := config.Load(fs)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// 2. Initialize structured logger
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	logger.Info("Configuration loaded successfully")

	// 3. Setup context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 4. Open the store; migrations are applied on open
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()
	logger.WithField("driver", cfg.Store.Driver).Info("Store ready")

	// 5. Keep the configured repositories in sync in the background
	var wg sync.WaitGroup
	if cfg.Collector.SyncInterval > 0 && len(cfg.Collector.Repos) > 0 {
		var source github.HistorySource
		if cfg.Collector.Demo {
			source = github.NewDemoSource(5, 100)
		} else if source, err = github.NewClient(cfg.GitHub, tokenpool.New(cfg.GitHub.Tokens), logger); err != nil {
			return fmt.Errorf("failed to create GitHub client: %w", err)
		}
		engine := collector.New(cfg.Collector, source, st, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			engine.Start(ctx, cfg.Collector.Repos, cfg.Collector.SyncInterval)
		}()
	}

	// 6. Serve the read API until a shutdown signal arrives
	srv := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           api.NewRouter(st, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", srv.Addr).Info("API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errCh:
		cancel()
		wg.Wait()
		return fmt.Errorf("api server: %w", err)
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.Collector.ShutdownGrace)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("API did not shut down cleanly")
	}
	wg.Wait()
	logger.Info("Exiting")
	return nil
}
