// cmd/openrank/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github-geo-collector/internal/config"
	"github-geo-collector/internal/logging"
	"github-geo-collector/internal/openrank"
	"github-geo-collector/internal/warehouse"
	"github-geo-collector/internal/workbook"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		logrus.WithError(err).Error("OpenRank report failed")
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := pflag.NewFlagSet("openrank", pflag.ExitOnError)
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.String("clickhouse", "localhost:9000", "ClickHouse native protocol address")
	fs.String("openrank-table", "global_openrank", "ClickHouse table holding repo_name, created_at and openrank")
	fs.String("repos", "", "comma-separated repositories (owner/name)")
	from := fs.String("from", "", "first month, YYYY-MM")
	to := fs.String("to", "", "last month, YYYY-MM (default: current month)")
	output := fs.String("output", "multi_repo_openrank_summary.xlsx", "report file (.xlsx or .json)")
	growth := fs.Bool("growth", false, "report month-over-month growth rates instead of values")
	recent := fs.Int("recent", 0, "keep only repositories with a value in the last N months")
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

	start, end, err := monthRange(*from, *to, time.Now())
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	wh, err := warehouse.Open(ctx, cfg.Warehouse)
	if err != nil {
		return err
	}
	defer wh.Close()

	started := time.Now()
	rows, err := wh.MonthlyOpenRank(ctx, cfg.Collector.Repos, start, end)
	if err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{"rows": len(rows), "duration": time.Since(started).String()}).Info("OpenRank queried")
	if len(rows) == 0 {
		logger.Warn("No OpenRank data for the requested repositories")
	}

	table := openrank.Pivot(rows)
	if *recent > 0 {
		table = table.Recent(*recent)
	}
	if *growth {
		table = table.Growth()
	}

	if err := writeReport(*output, table); err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{"path": *output, "repos": len(table.Repos), "months": len(table.Months)}).Info("Report written")
	return nil
}

// monthRange turns inclusive YYYY-MM bounds into the half-open time range [start, end).
func monthRange(from, to string, now time.Time) (time.Time, time.Time, error) {
	if from == "" {
		return time.Time{}, time.Time{}, errors.New("--from is required")
	}
	start, err := time.Parse(openrank.MonthLayout, from)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid --from %q: %w", from, err)
	}
	last := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	if to != "" {
		if last, err = time.Parse(openrank.MonthLayout, to); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --to %q: %w", to, err)
		}
	}
	end := last.AddDate(0, 1, 0)
	if !start.Before(end) {
		return time.Time{}, time.Time{}, errors.New("--from must not be after --to")
	}
	return start, end, nil
}

func writeReport(path string, table openrank.Table) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		if err := table.WriteJSON(f); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	case ".xlsx":
		header, rows := table.Grid()
		return workbook.SavePivot(path, "openrank", header, rows)
	default:
		return fmt.Errorf("unsupported report format %q (use .xlsx or .json)", filepath.Ext(path))
	}
}
