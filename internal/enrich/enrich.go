// internal/enrich/enrich.go
package enrich

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github-geo-collector/internal/config"
	"github-geo-collector/internal/model"
	"github-geo-collector/internal/workbook"
)

// FailureMarker is written into every output cell of a row whose lookup failed.
const FailureMarker = "ERROR"

// fields is the number of output columns written per row.
const fields = 4

// InfoSource looks up repository metadata.
type InfoSource interface {
	RepoInfo(ctx context.Context, name string) (*model.RepoInfo, error)
}

// Stats summarizes one enrichment run.
type Stats struct {
	Rows    int `json:"rows"`
	Found   int `json:"found"`
	Missing int `json:"missing"`
	Failed  int `json:"failed"`
}

// Enricher fills a workbook's output columns from the warehouse.
type Enricher struct {
	source InfoSource
	cfg    config.Workbook
	logger logrus.FieldLogger
}

func New(source InfoSource, cfg config.Workbook, logger logrus.FieldLogger) *Enricher {
	return &Enricher{source: source, cfg: cfg, logger: logger}
}

// Run reads repository names from the name column starting at row 2, writes the four metadata
// fields starting at the output column of the same row and saves the workbook in place.
// A failed lookup marks the row and never stops the run.
func (e *Enricher) Run(ctx context.Context, path string) (Stats, error) {
	var stats Stats
	nameCol, err := workbook.ColumnIndex(e.cfg.NameColumn)
	if err != nil {
		return stats, err
	}
	outCol, err := workbook.ColumnIndex(e.cfg.OutputColumn)
	if err != nil {
		return stats, err
	}

	book, err := workbook.Open(path, e.cfg.Sheet)
	if err != nil {
		return stats, err
	}
	defer book.Close()

	cells, err := book.ReadColumn(nameCol, true)
	if err != nil {
		return stats, err
	}

	for _, cell := range cells {
		name := strings.TrimSpace(cell.Value)
		if name == "" || strings.EqualFold(name, "nan") {
			continue
		}
		if err := ctx.Err(); err != nil {
			e.logger.WithField("row", cell.Row).Warn("Enrichment interrupted, saving partial results")
			break
		}
		stats.Rows++

		logger := e.logger.WithFields(logrus.Fields{"row": cell.Row, "repo": name})
		started := time.Now()
		info, err := e.source.RepoInfo(ctx, name)

		var values []string
		switch {
		case err != nil:
			stats.Failed++
			logger.WithError(err).Error("Repository lookup failed")
			values = repeat(FailureMarker)
		case info == nil:
			stats.Missing++
			logger.Warn("Repository not found in warehouse")
			values = repeat("")
		default:
			stats.Found++
			logger.WithField("duration", time.Since(started).String()).Debug("Repository enriched")
			values = info.Values()
		}

		if err := book.WriteRow(cell.Row, outCol, values); err != nil {
			return stats, fmt.Errorf("write row %d: %w", cell.Row, err)
		}
	}

	if err := book.Save(); err != nil {
		return stats, fmt.Errorf("save workbook %s: %w", path, err)
	}
	e.logger.WithFields(logrus.Fields{
		"rows":    stats.Rows,
		"found":   stats.Found,
		"missing": stats.Missing,
		"failed":  stats.Failed,
	}).Info("Workbook enriched")
	return stats, nil
}

func repeat(v string) []string {
	out := make([]string, fields)
	for i := range out {
		out[i] = v
	}
	return out
}
