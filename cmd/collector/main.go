// cmd/collector/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github-geo-collector/internal/collector"
	"github-geo-collector/internal/config"
	"github-geo-collector/internal/export"
	"github-geo-collector/internal/github"
	"github-geo-collector/internal/logging"
	"github-geo-collector/internal/store"
	"github-geo-collector/internal/tokenpool"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		logrus.WithError(err).Error("Collector failed")
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := pflag.NewFlagSet("collector", pflag.ExitOnError)
	config.RegisterFlags(fs)
	config.RegisterCollectorFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(fs)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.RequireRepos(); err != nil {
		return err
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()
	logger.WithField("driver", cfg.Store.Driver).Info("Store ready")

	source, err := newSource(cfg, logger)
	if err != nil {
		return err
	}

	engine := collector.New(cfg.Collector, source, st, logger)
	if cfg.Collector.SyncInterval > 0 {
		engine.Start(ctx, cfg.Collector.Repos, cfg.Collector.SyncInterval)
	} else if _, err := engine.Run(ctx, cfg.Collector.Repos); err != nil {
		// per-repository failures never fail the process
		logger.WithError(err).Warn("Some repositories could not be collected")
	}

	if cfg.Collector.Output == "" {
		return nil
	}
	// the export still runs after a stop signal so collected data is not lost
	ds, err := export.Load(context.WithoutCancel(ctx), st, cfg.Collector.Repos)
	if err != nil {
		return fmt.Errorf("failed to load commits for export: %w", err)
	}
	if err := export.ToFile(cfg.Collector.Output, ds); err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{"path": cfg.Collector.Output, "commits": len(ds.Commits)}).Info("Export written")
	return nil
}

func newSource(cfg *config.Config, logger logrus.FieldLogger) (github.HistorySource, error) {
	if cfg.Collector.Demo {
		logger.Info("Demo mode: generating synthetic commits")
		return github.NewDemoSource(5, 100), nil
	}

	pool := tokenpool.New(cfg.GitHub.Tokens)
	if pool.Len() == 0 {
		logger.Warn("No GitHub tokens configured, using unauthenticated requests")
	} else {
		logger.WithField("tokens", pool.Len()).Info("Token pool ready")
	}
	client, err := github.NewClient(cfg.GitHub, pool, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create GitHub client: %w", err)
	}
	return client, nil
}
