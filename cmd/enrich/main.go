// cmd/enrich/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github-geo-collector/internal/config"
	"github-geo-collector/internal/enrich"
	"github-geo-collector/internal/logging"
	"github-geo-collector/internal/warehouse"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		logrus.WithError(err).Error("Enrichment failed")
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := pflag.NewFlagSet("enrich", pflag.ExitOnError)
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	config.RegisterWarehouseFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(fs)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	wh, err := warehouse.Open(ctx, cfg.Warehouse)
	if err != nil {
		return err
	}
	defer wh.Close()
	logger.WithField("addr", cfg.Warehouse.Addr).Info("Connected to warehouse")

	stats, err := enrich.New(wh, cfg.Workbook, logger).Run(ctx, cfg.Workbook.Path)
	if err != nil {
		return err
	}
	if stats.Failed > 0 {
		logger.WithField("failed", stats.Failed).Warnf("Some rows were marked %s", enrich.FailureMarker)
	}
	return nil
}
